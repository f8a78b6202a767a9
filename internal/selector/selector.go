// Package selector asks an LLM a yes/no relevance question for each
// candidate chunk independently and filters out the chunks it rejects.
package selector

import (
	"context"
	"fmt"
	"strings"

	"github.com/aman-cerp/notes-rag/internal/llm"
)

// SelectionMax is the character budget a chunk's content is truncated to
// before being sent for a relevance judgment — shorter than retrieval
// chunks, since selection only needs enough context to say yes or no.
const SelectionMax = 1500

const selectionPromptTemplate = `Question:
%s

Candidate passage:
%s

Does this passage help answer the question? Reply with YES or NO as the first word.`

// Chunk is the minimal shape the selector needs from a retrieval candidate.
type Chunk struct {
	ID      int64
	Content string
}

// Result is the diagnostic, per-chunk outcome of a selection pass.
type Result struct {
	Chunk    Chunk
	Relevant bool
	Reason   string // raw LLM text, or an error marker
}

// Selector filters candidate chunks by per-chunk LLM relevance judgment.
type Selector struct {
	client llm.Client
}

func New(client llm.Client) *Selector {
	return &Selector{client: client}
}

// Select returns the chunks judged relevant, preserving input order. Empty
// input short-circuits with no LLM call.
func (s *Selector) Select(ctx context.Context, chunks []Chunk, question string) []Chunk {
	if len(chunks) == 0 {
		return []Chunk{}
	}
	results := s.SelectWithResults(ctx, chunks, question)
	out := make([]Chunk, 0, len(chunks))
	for _, r := range results {
		if r.Relevant {
			out = append(out, r.Chunk)
		}
	}
	return out
}

// SelectWithResults is the diagnostic variant: every input chunk is judged
// and returned with its verdict and raw reason, in input order.
func (s *Selector) SelectWithResults(ctx context.Context, chunks []Chunk, question string) []Result {
	if len(chunks) == 0 {
		return []Result{}
	}

	results := make([]Result, len(chunks))
	for i, c := range chunks {
		prompt := fmt.Sprintf(selectionPromptTemplate, question, truncate(c.Content, SelectionMax))
		text, err := s.client.Complete(ctx, prompt, "")
		if err != nil {
			// Fail-open: connectivity blips must not silently drop content.
			results[i] = Result{Chunk: c, Relevant: true, Reason: "error: " + err.Error()}
			continue
		}
		relevant := isYes(text)
		reason := text
		if strings.TrimSpace(reason) == "" {
			reason = "empty response"
		}
		// Fail-closed: the model replied but signaled nothing usable.
		results[i] = Result{Chunk: c, Relevant: relevant, Reason: reason}
	}
	return results
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func isYes(response string) bool {
	fields := strings.Fields(response)
	if len(fields) == 0 {
		return false
	}
	first := strings.Trim(fields[0], ".,!?;:")
	return strings.ToUpper(first) == "YES"
}
