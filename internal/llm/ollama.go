package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaHost is used when OllamaConfig.Host is empty.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaConfig configures OllamaClient, the native chat-completion-style
// transport: {model, prompt, system, stream, options:{temperature, num_predict}}.
type OllamaConfig struct {
	Host          string
	EmbedModel    string
	GenerateModel string
	// GenTimeout bounds a single generate/generate_stream call.
	GenTimeout time.Duration
	// ProbeTimeout bounds CheckConnection.
	ProbeTimeout time.Duration
}

// OllamaClient implements Client against a local Ollama server.
type OllamaClient struct {
	httpClient *http.Client
	cfg        OllamaConfig
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient returns a client with connection pooling suited to a
// long-running process talking to one local host.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.GenTimeout <= 0 {
		cfg.GenTimeout = DefaultGenTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OllamaClient{
		httpClient: &http.Client{Transport: transport},
		cfg:        cfg,
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Client.Embed against /api/embeddings. Every error path
// logs and returns nil; the caller never sees a transport error directly.
func (c *OllamaClient) Embed(ctx context.Context, text string) []float32 {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.cfg.EmbedModel, Prompt: text})
	if err != nil {
		slog.Warn("llm_embed_marshal_failed", slog.String("error", err.Error()))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		slog.Warn("llm_embed_request_build_failed", slog.String("error", err.Error()))
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("llm_embed_transport_failed", slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("llm_embed_non_200", slog.Int("status", resp.StatusCode))
		return nil
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		slog.Warn("llm_embed_decode_failed", slog.String("error", err.Error()))
		return nil
	}
	if len(out.Embedding) == 0 || !isFiniteVector(out.Embedding) {
		slog.Warn("llm_embed_invalid_vector", slog.Int("len", len(out.Embedding)))
		return nil
	}
	return out.Embedding
}

type ollamaGenerateRequest struct {
	Model   string             `json:"model"`
	Prompt  string             `json:"prompt"`
	System  string             `json:"system,omitempty"`
	Stream  bool               `json:"stream"`
	Options ollamaGenOptions   `json:"options"`
}

type ollamaGenOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *OllamaClient) buildGenerateRequest(ctx context.Context, prompt, system string, stream bool) (*http.Request, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.cfg.GenerateModel,
		Prompt: prompt,
		System: system,
		Stream: stream,
		Options: ollamaGenOptions{
			Temperature: DefaultTemperature,
			NumPredict:  DefaultMaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Generate implements Client.Generate: a single non-streaming call that
// never surfaces an error, logging and returning "" instead.
func (c *OllamaClient) Generate(ctx context.Context, prompt, system string) string {
	text, err := c.Complete(ctx, prompt, system)
	if err != nil {
		slog.Warn("llm_generate_failed", slog.String("error", err.Error()))
		return ""
	}
	return text
}

// Complete is Generate's error-surfacing counterpart.
func (c *OllamaClient) Complete(ctx context.Context, prompt, system string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenTimeout)
	defer cancel()

	req, err := c.buildGenerateRequest(ctx, prompt, system, false)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama generate: status %d", resp.StatusCode)
	}

	var out ollamaGenerateChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama generate: decode: %w", err)
	}
	return out.Response, nil
}

// GenerateStream implements Client.GenerateStream by reading Ollama's
// newline-delimited JSON stream. A failure reaching the server at all is
// returned as an error; a failure partway through the stream is delivered
// as a Delta with Err set.
func (c *OllamaClient) GenerateStream(ctx context.Context, prompt, system string) (<-chan Delta, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenTimeout)

	req, err := c.buildGenerateRequest(ctx, prompt, system, true)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generate_stream: transport: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("generate_stream: ollama status %d", resp.StatusCode)
	}

	out := make(chan Delta)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk ollamaGenerateChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				send(ctx, out, Delta{Err: fmt.Errorf("generate_stream: decode: %w", err)})
				return
			}
			if chunk.Error != "" {
				send(ctx, out, Delta{Err: fmt.Errorf("generate_stream: %s", chunk.Error)})
				return
			}
			if chunk.Response != "" {
				if !send(ctx, out, Delta{Text: chunk.Response}) {
					return
				}
			}
			if chunk.Done {
				send(ctx, out, Delta{Done: true})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(ctx, out, Delta{Err: fmt.Errorf("generate_stream: read: %w", err)})
		}
	}()

	return out, nil
}

// send delivers d unless ctx is already done, returning false in that case
// so the caller can stop producing further deltas.
func send(ctx context.Context, out chan<- Delta, d Delta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// CheckConnection probes Ollama's liveness endpoint with a short timeout.
func (c *OllamaClient) CheckConnection(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false, fmt.Sprintf("could not build request: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("ollama unreachable at %s: %v", c.cfg.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("ollama returned status %d", resp.StatusCode)
	}
	return true, fmt.Sprintf("ollama reachable at %s", c.cfg.Host)
}
