package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5:3b", req.Model)
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(GenerateResponse{
			Model:    req.Model,
			Response: `{"vendor_name":"Iberdrola"}`,
			Done:     true,
		})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))

	resp, err := c.Generate(context.Background(), GenerateRequest{
		Prompt: "extrae los campos",
		Format: "json",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"vendor_name":"Iberdrola"}`, resp.Response)
	assert.True(t, resp.Done)
}

func TestGenerateModelOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2:1b", req.Model)
		json.NewEncoder(w).Encode(GenerateResponse{Response: "ok", Done: true})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithModel("llama3.2:1b"))

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hola"})
	require.NoError(t, err)
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hola"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestGenerateContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Generate(ctx, GenerateRequest{Prompt: "hola"})
	assert.Error(t, err)
}
