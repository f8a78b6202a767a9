// Package expand generates intent-preserving rewrites of a question to
// improve retrieval recall across multiple phrasings.
package expand

import (
	"context"
	"fmt"
	"strings"

	"github.com/aman-cerp/notes-rag/internal/llm"
)

// MinCount and MaxCount bound the requested number of expanded queries.
const (
	MinCount = 1
	MaxCount = 8
)

const expandPromptTemplate = `Given the question below, write up to %d alternative phrasings that preserve its exact meaning and scope. Do not broaden the question, narrow it, or change its topic. Each alternative on its own line, no numbering, no commentary.

Question:
%s

Alternatives:`

var bulletPrefixes = []string{"-", "*", "•"}

// Expander produces up to n phrasings of a question via an LLM, always
// including the (normalized) original.
type Expander struct {
	client llm.Client
}

func New(client llm.Client) *Expander {
	return &Expander{client: client}
}

// Expand returns [question, ...alternatives], deduplicated case-insensitively
// while preserving first-seen order, truncated to clamp(n, MinCount, MaxCount).
// n=1 short-circuits with no LLM call. Any LLM failure or empty response
// falls back to [question] alone.
func (e *Expander) Expand(ctx context.Context, question string, n int) []string {
	original := strings.TrimSpace(question)
	n = clamp(n, MinCount, MaxCount)

	if n == 1 {
		return []string{original}
	}

	response := e.client.Generate(ctx, fmt.Sprintf(expandPromptTemplate, n-1, original), "")
	if strings.TrimSpace(response) == "" {
		return []string{original}
	}

	alternatives := parseAlternatives(response)
	return dedupeTruncate(append([]string{original}, alternatives...), n)
}

func parseAlternatives(response string) []string {
	lines := strings.Split(response, "\n")
	var out []string
	for _, line := range lines {
		if cleaned := cleanLine(line); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	if len(out) > 0 {
		return out
	}

	// No lines yielded content: fall back to splitting on ';'.
	for _, part := range strings.Split(response, ";") {
		if cleaned := cleanLine(part); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

func cleanLine(line string) string {
	s := strings.TrimSpace(line)
	s = stripLeadingBullet(s)
	s = strings.Trim(s, `"'`)
	s = collapseWhitespace(s)
	return strings.TrimSpace(s)
}

func stripLeadingBullet(s string) string {
	s = strings.TrimSpace(s)
	// Numbered markers: "1.", "2)", etc.
	if i := strings.IndexAny(s, "."); i > 0 && i <= 3 {
		if isAllDigits(s[:i]) {
			s = strings.TrimSpace(s[i+1:])
		}
	} else if i := strings.IndexAny(s, ")"); i > 0 && i <= 3 {
		if isAllDigits(s[:i]) {
			s = strings.TrimSpace(s[i+1:])
		}
	}
	for _, b := range bulletPrefixes {
		if strings.HasPrefix(s, b) {
			s = strings.TrimSpace(strings.TrimPrefix(s, b))
			break
		}
	}
	return s
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dedupeTruncate(items []string, n int) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, n)
	for _, item := range items {
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if len(out) == n {
			break
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
