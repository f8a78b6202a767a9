package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/notes-rag/internal/vcodec"
)

func mustEncode(t *testing.T, v []float32) []byte {
	t.Helper()
	b, err := vcodec.Encode(v)
	require.NoError(t, err)
	return b
}

func TestOpenInMemoryCreatesSchema(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.CheckFTSConsistency(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplaceChunksAssignsContiguousIndices(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	rows := []Row{
		{ChunkText: "first", Vector: mustEncode(t, []float32{1, 0, 0})},
		{ChunkText: "second", Vector: mustEncode(t, []float32{0, 1, 0})},
	}
	require.NoError(t, s.ReplaceChunks(ctx, 1, rows))

	hits, err := s.VectorSearch(ctx, mustEncode(t, []float32{1, 0, 0}), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].NoteID)
}

func TestReplaceChunksIsFullReplace(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.ReplaceChunks(ctx, 1, []Row{
		{ChunkText: "old", Vector: mustEncode(t, []float32{1, 0})},
	}))
	require.NoError(t, s.ReplaceChunks(ctx, 1, []Row{
		{ChunkText: "new one", Vector: mustEncode(t, []float32{0, 1})},
		{ChunkText: "new two", Vector: mustEncode(t, []float32{0, 1})},
	}))

	text, err := s.BestChunkText(ctx, 1, mustEncode(t, []float32{0, 1}))
	require.NoError(t, err)
	assert.Contains(t, []string{"new one", "new two"}, text)
}

func TestVectorSearchOrdersByAscendingDistance(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.ReplaceChunks(ctx, 1, []Row{{ChunkText: "python", Vector: mustEncode(t, []float32{1, 0, 0})}}))
	require.NoError(t, s.ReplaceChunks(ctx, 2, []Row{{ChunkText: "sql", Vector: mustEncode(t, []float32{0, 1, 0})}}))
	require.NoError(t, s.ReplaceChunks(ctx, 3, []Row{{ChunkText: "other", Vector: mustEncode(t, []float32{0, 0, 1})}}))

	hits, err := s.VectorSearch(ctx, mustEncode(t, []float32{1, 0, 0}), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(1), hits[0].NoteID)
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
}

func TestVectorSearchNoChunksReturnsEmpty(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	hits, err := s.VectorSearch(context.Background(), mustEncode(t, []float32{1, 0}), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NotNil(t, hits)
}

func TestSanitizeFTSQuery(t *testing.T) {
	assert.Equal(t, `"foo" "bar"`, SanitizeFTSQuery("foo* bar("))
	assert.Equal(t, "", SanitizeFTSQuery(`" ^ * ( ) [ ]`))
	assert.Equal(t, "", SanitizeFTSQuery("   "))
}

func TestBM25SearchEmptyQueryShortCircuits(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	hits, err := s.BM25Search(context.Background(), `" ^ * ( ) [ ]`, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// insertNote writes directly into the notes table this package's own
// migration owns, exercising the FTS triggers the same way a write through
// the surrounding system's connection would.
func insertNote(t *testing.T, s *Store, id int64, title, content string) {
	t.Helper()
	_, err := s.db.Exec(`INSERT INTO notes (id, title, content) VALUES (?, ?, ?)`, id, title, content)
	require.NoError(t, err)
}

func TestNotesFTSInsertTriggerPopulatesShadow(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	insertNote(t, s, 1, "Python tips", "notes about python and sqlite")
	insertNote(t, s, 2, "SQL basics", "notes about sql joins")

	hits, err := s.BM25Search(ctx, "python", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].NoteID)
}

func TestNotesFTSUpdateTriggerReplacesShadow(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	insertNote(t, s, 1, "Title", "original body")
	_, err = s.db.Exec(`UPDATE notes SET content = ? WHERE id = ?`, "rewritten body", int64(1))
	require.NoError(t, err)

	hits, err := s.BM25Search(ctx, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.BM25Search(ctx, "rewritten", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].NoteID)
}

func TestNotesFTSDeleteTriggerClearsShadow(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	insertNote(t, s, 1, "Title", "body text")
	_, err = s.db.Exec(`DELETE FROM notes WHERE id = ?`, int64(1))
	require.NoError(t, err)

	hits, err := s.BM25Search(ctx, "body", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRebuildFTSRepopulatesFromNotes(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.RebuildFTS(ctx, []NoteSource{
		{ID: 1, Title: "Alpha", Content: "alpha content"},
		{ID: 2, Title: "Beta", Content: "beta content"},
	}))

	ok, err := s.CheckFTSConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	hits, err := s.BM25Search(ctx, "beta", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].NoteID)
}

func TestClearAllChunks(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.ReplaceChunks(ctx, 1, []Row{{ChunkText: "x", Vector: mustEncode(t, []float32{1, 0})}}))
	require.NoError(t, s.ClearAllChunks(ctx))

	hits, err := s.VectorSearch(ctx, mustEncode(t, []float32{1, 0}), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCloneForThreadOpensIndependentHandle(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	clone, err := s.CloneForThread()
	require.NoError(t, err)
	defer clone.Close()

	assert.NotSame(t, s, clone)
}
