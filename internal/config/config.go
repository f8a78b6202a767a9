// Package config holds the RAG core's query-time knobs: model names, LLM
// transport settings, and retrieval tuning. Persisting or loading a config
// file is out of scope here — values come from an in-process default
// overridden by RAG_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aman-cerp/notes-rag/internal/chunk"
	"github.com/aman-cerp/notes-rag/internal/llm"
)

// Config is the complete set of knobs the RAG core reads at query entry.
// It is captured once per request and never observed mutating mid-query.
// FusionOversample is loaded and validated but retrieval does not read it:
// internal/rag always oversamples by its own constant FusionOversample (4).
type Config struct {
	// LLM transport.
	LLMBaseURL string `yaml:"llm_base_url"`
	LLMAPIKey  string `yaml:"llm_api_key"`

	// Model names.
	EmbedModel    string `yaml:"embed_model"`
	GenerateModel string `yaml:"generate_model"`

	// Retrieval tuning.
	TopK                  int  `yaml:"top_k"`
	Hybrid                bool `yaml:"hybrid"`
	ChunkSelectionOn      bool `yaml:"chunk_selection_on"`
	TransformedQueryCount int  `yaml:"transformed_query_count"`
	ChunkMaxChars         int  `yaml:"chunk_max_chars"`
	FusionOversample      int  `yaml:"fusion_oversample"`

	GenTimeout   time.Duration `yaml:"gen_timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Defaults returns the baseline configuration before environment overrides.
func Defaults() Config {
	return Config{
		LLMBaseURL:            "http://localhost:11434",
		EmbedModel:            "nomic-embed-text",
		GenerateModel:         "qwen3:0.6b",
		TopK:                  5,
		Hybrid:                true,
		ChunkSelectionOn:      false,
		TransformedQueryCount: 1,
		ChunkMaxChars:         chunk.DefaultMaxChars,
		FusionOversample:      4,
		GenTimeout:            llm.DefaultGenTimeout,
		ProbeTimeout:          llm.DefaultProbeTimeout,
	}
}

// Load returns Defaults() with RAG_* environment variable overrides applied.
func Load() (Config, error) {
	c := Defaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyEnvOverrides applies RAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAG_LLM_BASE_URL"); v != "" {
		c.LLMBaseURL = v
	}
	if v := os.Getenv("RAG_LLM_API_KEY"); v != "" {
		c.LLMAPIKey = v
	}
	if v := os.Getenv("RAG_EMBED_MODEL"); v != "" {
		c.EmbedModel = v
	}
	if v := os.Getenv("RAG_GENERATE_MODEL"); v != "" {
		c.GenerateModel = v
	}
	if v := os.Getenv("RAG_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TopK = n
		}
	}
	if v := os.Getenv("RAG_HYBRID"); v != "" {
		c.Hybrid = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("RAG_CHUNK_SELECTION_ON"); v != "" {
		c.ChunkSelectionOn = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("RAG_TRANSFORMED_QUERY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TransformedQueryCount = n
		}
	}
	if v := os.Getenv("RAG_CHUNK_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ChunkMaxChars = n
		}
	}
	if v := os.Getenv("RAG_FUSION_OVERSAMPLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.FusionOversample = n
		}
	}
}

// Validate rejects a configuration the core cannot run with.
func (c *Config) Validate() error {
	if c.LLMBaseURL == "" {
		return fmt.Errorf("config: llm_base_url must not be empty")
	}
	if c.EmbedModel == "" {
		return fmt.Errorf("config: embed_model must not be empty")
	}
	if c.GenerateModel == "" {
		return fmt.Errorf("config: generate_model must not be empty")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("config: top_k must be positive, got %d", c.TopK)
	}
	if c.TransformedQueryCount <= 0 {
		return fmt.Errorf("config: transformed_query_count must be positive, got %d", c.TransformedQueryCount)
	}
	if c.ChunkMaxChars <= 0 {
		return fmt.Errorf("config: chunk_max_chars must be positive, got %d", c.ChunkMaxChars)
	}
	if c.FusionOversample <= 0 {
		return fmt.Errorf("config: fusion_oversample must be positive, got %d", c.FusionOversample)
	}
	return nil
}
