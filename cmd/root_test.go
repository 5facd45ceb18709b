package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"extract", "batch", "watch", "serve", "providers", "export"} {
		assert.True(t, names[want], "command %s not registered", want)
	}
}

func TestProvidersSubcommands(t *testing.T) {
	subs := map[string]bool{}
	for _, c := range providersCmd.Commands() {
		subs[c.Name()] = true
	}

	assert.True(t, subs["list"])
	assert.True(t, subs["seed"])
	assert.True(t, subs["import"])
}
