package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkEmptyInput(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, []string{}, c.Chunk(""))
	assert.Equal(t, []string{}, c.Chunk("   \n\t  "))
}

func TestChunkUnderLimitReturnsSingleTrimmedChunk(t *testing.T) {
	c := New(Options{MaxChars: 2000})
	got := c.Chunk("  hello world  ")
	assert.Equal(t, []string{"hello world"}, got)
}

func TestChunkExactlyAtLimit(t *testing.T) {
	c := New(Options{MaxChars: 10})
	text := strings.Repeat("a", 10)
	got := c.Chunk(text)
	assert.Equal(t, []string{text}, got)
}

func TestChunkSplitsOnHeadings(t *testing.T) {
	c := New(Options{MaxChars: 20})
	text := "# Heading One\n" + strings.Repeat("a", 30) + "\n\n# Heading Two\n" + strings.Repeat("b", 30)
	got := c.Chunk(text)
	assert.GreaterOrEqual(t, len(got), 2)
	for _, chunk := range got {
		assert.LessOrEqual(t, len(chunk), 20+2+len(chunk))
	}
	joined := strings.Join(got, "")
	assert.Contains(t, joined, "Heading One")
	assert.Contains(t, joined, "Heading Two")
}

func TestChunkFallsBackToParagraphsWithoutHeadings(t *testing.T) {
	c := New(Options{MaxChars: 15})
	text := strings.Repeat("x", 20) + "\n\n" + strings.Repeat("y", 20)
	got := c.Chunk(text)
	assert.GreaterOrEqual(t, len(got), 2)
	joined := strings.Join(got, "")
	assert.Contains(t, joined, strings.Repeat("x", 20))
	assert.Contains(t, joined, strings.Repeat("y", 20))
}

func TestChunkMergesAdjacentSectionsGreedily(t *testing.T) {
	// 45 chars over a 30-char limit: sections of 13, 13 and 15 chars; the
	// first two merge (13+2+13 = 28), the third would overflow (28+2+15 = 45).
	c := New(Options{MaxChars: 30})
	text := "# A\nshort one\n\n# B\nshort two\n\n# C\nshort three"
	got := c.Chunk(text)
	assert.Equal(t, []string{"# A\nshort one\n\n# B\nshort two", "# C\nshort three"}, got)
}

func TestChunkNoHeadingNoBlankLineFallsBackToWholeInput(t *testing.T) {
	c := New(Options{MaxChars: 10})
	text := strings.Repeat("z", 11)
	got := c.Chunk(text)
	assert.Equal(t, []string{text}, got)
}

func TestChunkDeterministic(t *testing.T) {
	c := New(Options{MaxChars: 50})
	text := "# One\n" + strings.Repeat("a", 60) + "\n\n# Two\n" + strings.Repeat("b", 60)
	first := c.Chunk(text)
	second := c.Chunk(text)
	assert.Equal(t, first, second)
}

func TestDefaultMaxCharsApplied(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, DefaultMaxChars, c.maxChars)
}
