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

// OpenAICompatConfig configures OpenAICompatClient: a chat-completions
// endpoint speaking the {model, messages, stream, temperature, max_tokens}
// request body and SSE "data: ..." framing terminated by "[DONE]".
type OpenAICompatConfig struct {
	BaseURL       string
	APIKey        string
	EmbedModel    string
	GenerateModel string
	GenTimeout    time.Duration
	ProbeTimeout  time.Duration
}

// OpenAICompatClient implements Client against any OpenAI-compatible
// chat-completions API (local proxies, hosted providers, etc).
type OpenAICompatClient struct {
	httpClient *http.Client
	cfg        OpenAICompatConfig
}

var _ Client = (*OpenAICompatClient)(nil)

func NewOpenAICompatClient(cfg OpenAICompatConfig) *OpenAICompatClient {
	if cfg.GenTimeout <= 0 {
		cfg.GenTimeout = DefaultGenTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &OpenAICompatClient{
		httpClient: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        8,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     30 * time.Second,
		}},
		cfg: cfg,
	}
}

func (c *OpenAICompatClient) authHeader(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openaiChatMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

type openaiChatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type openaiChatResponse struct {
	Choices []openaiChatChoice `json:"choices"`
}

func chatMessages(prompt, system string) []openaiChatMessage {
	msgs := make([]openaiChatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, openaiChatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, openaiChatMessage{Role: "user", Content: prompt})
	return msgs
}

type openaiEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Client.Embed against POST /embeddings.
func (c *OpenAICompatClient) Embed(ctx context.Context, text string) []float32 {
	body, err := json.Marshal(openaiEmbedRequest{Model: c.cfg.EmbedModel, Input: text})
	if err != nil {
		slog.Warn("llm_embed_marshal_failed", slog.String("error", err.Error()))
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		slog.Warn("llm_embed_request_build_failed", slog.String("error", err.Error()))
		return nil
	}
	c.authHeader(req)

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

	var out openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		slog.Warn("llm_embed_decode_failed", slog.String("error", err.Error()))
		return nil
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 || !isFiniteVector(out.Data[0].Embedding) {
		slog.Warn("llm_embed_invalid_vector")
		return nil
	}
	return out.Data[0].Embedding
}

// Generate implements Client.Generate: never surfaces an error, logging and
// returning "" instead.
func (c *OpenAICompatClient) Generate(ctx context.Context, prompt, system string) string {
	text, err := c.Complete(ctx, prompt, system)
	if err != nil {
		slog.Warn("llm_generate_failed", slog.String("error", err.Error()))
		return ""
	}
	return text
}

// Complete implements Client.Complete against POST /chat/completions
// (stream: false), surfacing the error instead of swallowing it.
func (c *OpenAICompatClient) Complete(ctx context.Context, prompt, system string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenTimeout)
	defer cancel()

	body, err := json.Marshal(openaiChatRequest{
		Model:       c.cfg.GenerateModel,
		Messages:    chatMessages(prompt, system),
		Stream:      false,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai generate: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai generate: build request: %w", err)
	}
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai generate: transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai generate: status %d", resp.StatusCode)
	}

	var out openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai generate: decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai generate: no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateStream implements Client.GenerateStream over SSE framing: lines
// prefixed "data: " carrying JSON chunks, terminated by a literal
// "data: [DONE]" line.
func (c *OpenAICompatClient) GenerateStream(ctx context.Context, prompt, system string) (<-chan Delta, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenTimeout)

	body, err := json.Marshal(openaiChatRequest{
		Model:       c.cfg.GenerateModel,
		Messages:    chatMessages(prompt, system),
		Stream:      true,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generate_stream: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generate_stream: build request: %w", err)
	}
	c.authHeader(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generate_stream: transport: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("generate_stream: status %d", resp.StatusCode)
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
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				send(ctx, out, Delta{Done: true})
				return
			}
			var chunk openaiChatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				send(ctx, out, Delta{Err: fmt.Errorf("generate_stream: decode: %w", err)})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !send(ctx, out, Delta{Text: text}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			send(ctx, out, Delta{Err: fmt.Errorf("generate_stream: read: %w", err)})
		}
	}()

	return out, nil
}

// CheckConnection probes the models listing endpoint.
func (c *OpenAICompatClient) CheckConnection(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false, fmt.Sprintf("could not build request: %v", err)
	}
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("unreachable at %s: %v", c.cfg.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("returned status %d", resp.StatusCode)
	}
	return true, fmt.Sprintf("reachable at %s", c.cfg.BaseURL)
}
