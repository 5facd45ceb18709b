// Package registry compiles provider pattern profiles for the matching and
// extraction passes. Profiles come from the store (or a seed file); pattern
// compilation is lenient: a malformed expression is logged and skipped, never
// aborting the profile it belongs to.
package registry

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/model"
)

// twoCharCode matches pattern strings that are literally a two-character
// vendor code (e.g. "O2"). Such codes are anchored on word boundaries before
// compilation so they cannot fire inside unrelated tokens like "%O2" or
// percentage sequences.
var twoCharCode = regexp.MustCompile(`^[A-Za-z0-9]{2}$`)

// CompiledPattern pairs a stored pattern string with its compiled form.
type CompiledPattern struct {
	Source string
	RE     *regexp.Regexp
}

// CompiledProfile is a ProviderProfile with every usable pattern compiled,
// preserving per-field order.
type CompiledProfile struct {
	Profile model.ProviderProfile
	Fields  map[string][]CompiledPattern
}

// FieldPatterns returns the compiled patterns for a field in stored order.
func (c CompiledProfile) FieldPatterns(field string) []CompiledPattern {
	if c.Fields == nil {
		return nil
	}
	return c.Fields[field]
}

// Compile compiles all patterns of a profile. All matching in the pipeline is
// case-insensitive, so every pattern is compiled with the (?i) flag. Vendor
// patterns that are bare two-character codes get word-boundary anchors.
// Malformed patterns are skipped with a warning.
func Compile(p model.ProviderProfile) CompiledProfile {
	out := CompiledProfile{
		Profile: p,
		Fields:  make(map[string][]CompiledPattern, len(p.Patterns)),
	}
	for field, patterns := range p.Patterns {
		for _, src := range patterns {
			expr := src
			if field == model.FieldVendor && twoCharCode.MatchString(expr) {
				expr = `\b` + expr + `\b`
			}
			re, err := regexp.Compile(`(?i)` + expr)
			if err != nil {
				zap.L().Warn("registry: skipping malformed pattern",
					zap.String("provider", p.Name),
					zap.String("field", field),
					zap.String("pattern", src),
					zap.Error(err),
				)
				continue
			}
			out.Fields[field] = append(out.Fields[field], CompiledPattern{Source: src, RE: re})
		}
	}
	return out
}

// CompileAll compiles a profile slice, preserving order. Selection ties in
// the matcher break toward the earlier profile, so callers must pass profiles
// in their stable registration order.
func CompileAll(profiles []model.ProviderProfile) []CompiledProfile {
	out := make([]CompiledProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, Compile(p))
	}
	return out
}
