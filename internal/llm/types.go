// Package llm defines the abstract LLM capability bundle the RAG core is
// parameterized on — embed, generate, stream, and probe — and concrete
// clients for the two interchangeable wire styles described in the core's
// external interfaces: a native Ollama-style transport and an
// OpenAI-compatible one. The rest of the core never depends on a concrete
// client, only on Client.
package llm

import (
	"context"
	"math"
	"time"
)

// Default tuning values shared by every Client implementation.
const (
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 2048
	DefaultGenTimeout    = 120 * time.Second
	DefaultProbeTimeout  = 8 * time.Second
	DefaultEmbedDimHint  = 768
	DefaultCacheCapacity = 1000
)

// Delta is one event from a streaming generation. Exactly one of Text or
// Err is meaningful for a given send; Done marks a clean end of stream.
type Delta struct {
	Text string
	Err  error
	Done bool
}

// Client is the capability bundle the rest of the core depends on.
// Implementations are selected by configuration at construction and are
// otherwise interchangeable.
type Client interface {
	// Embed returns text's embedding vector. On any transport, protocol, or
	// validation failure it returns a nil slice; it has no error return.
	// Callers test for emptiness.
	Embed(ctx context.Context, text string) []float32

	// Generate returns a complete, non-streaming response. On failure it
	// returns an empty string; it never returns an error to the caller.
	Generate(ctx context.Context, prompt, system string) string

	// Complete is Generate's raw counterpart: it surfaces the transport or
	// protocol error instead of swallowing it. Generate is built on top of
	// Complete for callers that only ever want a best-effort string; the
	// chunk selector's asymmetric fail-open/fail-closed policy needs to tell
	// "the model raised" apart from "the model replied with nothing", which
	// Generate's no-throw contract cannot express.
	Complete(ctx context.Context, prompt, system string) (string, error)

	// GenerateStream starts a streaming generation. A setup failure (the
	// transport could not even be reached) is returned as an error. Once
	// streaming begins, transport failures are delivered as a Delta with
	// Err set, after which the channel is closed without a Done delta.
	GenerateStream(ctx context.Context, prompt, system string) (<-chan Delta, error)

	// CheckConnection never returns an error; it reports a human-readable
	// liveness status.
	CheckConnection(ctx context.Context) (ok bool, message string)
}

// isFiniteVector reports whether every component of v is a finite float,
// per the embed validation contract: any non-finite element invalidates
// the whole vector.
func isFiniteVector(v []float32) bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}
