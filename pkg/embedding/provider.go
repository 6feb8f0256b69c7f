// Package embedding provides the embedding providers the Node Store's
// semantic search and Connection Discoverer depend on (spec.md §4.7,
// §4.10). Grounded on the OpenAI/Ollama embedder pair in the retrieved
// agent memory package: same request/response shapes, generalized to a
// single shared Provider interface and wired to this daemon's
// pkg/config.EmbeddingConfig instead of being constructed ad hoc.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brain-daemon/brain/pkg/config"
)

// Provider turns text into a vector in a fixed-dimension space. Texts sent
// to a Provider have already passed through pkg/masking when masking is
// enabled (spec.md §4.13: "scrubbed before...the embedding provider").
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// New constructs the configured provider. An unknown or empty Provider
// value selects the no-op "none" provider rather than erroring, so the
// daemon can run with semantic search simply disabled.
func New(cfg config.EmbeddingConfig) Provider {
	switch cfg.Provider {
	case "openai":
		return newOpenAI(cfg)
	case "ollama":
		return newOllama(cfg)
	default:
		return noopProvider{}
	}
}

// noopProvider satisfies Provider for daemons run without an embedding
// backend configured; Embed always returns an error so callers degrade to
// full-text-only search rather than silently skipping it.
type noopProvider struct{}

func (noopProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("no embedding provider configured")
}
func (noopProvider) Dimension() int { return 0 }
func (noopProvider) Model() string  { return "" }

// SingleAdapter exposes a Provider as the single-text embedding interface
// the Query Engine depends on (pkg/query.Embedder), since query context
// assembly embeds one question at a time.
type SingleAdapter struct {
	Provider Provider
}

// Embed satisfies pkg/query.Embedder.
func (a SingleAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := a.Provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || out[0] == nil {
		return nil, fmt.Errorf("embedding provider returned no vector")
	}
	return out[0], nil
}

// openAIEmbedder talks to the OpenAI-compatible /embeddings endpoint.
type openAIEmbedder struct {
	apiKey  string
	model   string
	baseURL string
	dim     int
	client  *http.Client
}

func newOpenAI(cfg config.EmbeddingConfig) *openAIEmbedder {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = openAIDimension(model)
	}
	return &openAIEmbedder{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func openAIDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openAIEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, respBody)
	}

	var parsed openAIEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

func (e *openAIEmbedder) Dimension() int { return e.dim }
func (e *openAIEmbedder) Model() string  { return e.model }

// ollamaEmbedder talks to a local Ollama /api/embed endpoint, one text at
// a time — Ollama's embed API does not batch.
type ollamaEmbedder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

func newOllama(cfg config.EmbeddingConfig) *ollamaEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = ollamaDimension(model)
	}
	return &ollamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func ollamaDimension(model string) int {
	switch model {
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	default:
		return 768
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *ollamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed error (status %d): %s", resp.StatusCode, respBody)
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(parsed.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}
	return parsed.Embeddings[0], nil
}

func (e *ollamaEmbedder) Dimension() int { return e.dim }
func (e *ollamaEmbedder) Model() string  { return e.model }
