package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/notes-rag/internal/chunk"
	"github.com/aman-cerp/notes-rag/internal/expand"
	"github.com/aman-cerp/notes-rag/internal/llm"
	"github.com/aman-cerp/notes-rag/internal/rag"
	"github.com/aman-cerp/notes-rag/internal/selector"
	"github.com/aman-cerp/notes-rag/internal/store"
)

type fakeNotes struct {
	notes map[int64]rag.Note
	order []int64
}

func newFakeNotes() *fakeNotes { return &fakeNotes{notes: map[int64]rag.Note{}} }

func (f *fakeNotes) add(n rag.Note) {
	f.notes[n.ID] = n
	f.order = append(f.order, n.ID)
}

func (f *fakeNotes) GetNote(_ context.Context, id int64) (rag.Note, bool, error) {
	n, ok := f.notes[id]
	return n, ok, nil
}

func (f *fakeNotes) ListNotes(_ context.Context) ([]rag.Note, error) {
	out := make([]rag.Note, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.notes[id])
	}
	return out, nil
}

func newTestService(t *testing.T, stub *llm.StubClient, sel *selector.Selector, cfg Config) (*Service, *fakeNotes) {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	notes := newFakeNotes()
	chunker := chunk.New(chunk.Options{MaxChars: chunk.DefaultMaxChars})
	expander := expand.New(stub)
	idx := rag.New(s, chunker, stub, expander, notes)

	return New(idx, sel, stub, cfg), notes
}

func defaultCfg() Config {
	return Config{TopK: 5, TransformedQueryCount: 1, Hybrid: false, ChunkSelectionOn: false}
}

func TestAskReturnsAnswerAndSources(t *testing.T) {
	stub := llm.NewStubClient([]llm.StubRule{
		{Contains: "python", Vector: []float32{1, 0}},
	}, []float32{0, 1})
	stub.SetGenerateFunc(func(prompt, system string) string { return "the answer" })

	svc, notes := newTestService(t, stub, nil, defaultCfg())
	notes.add(rag.Note{ID: 1, Title: "Python note", Content: "Python tips"})
	_, err := svc.BuildIndex(context.Background(), nil)
	require.NoError(t, err)

	result, err := svc.Ask(context.Background(), "python question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Answer)
	assert.Empty(t, result.Thinking)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, int64(1), result.Sources[0].NoteID)
	assert.Equal(t, "Python note", result.Sources[0].Title)
}

func TestAskWithSelectionDropsRejectedSources(t *testing.T) {
	stub := llm.NewStubClient([]llm.StubRule{
		{Contains: "python", Vector: []float32{1, 0}},
		{Contains: "sql", Vector: []float32{0, 1}},
	}, []float32{0, 0})
	stub.SetGenerateFunc(func(prompt, system string) string {
		if len(prompt) > 0 && containsFold(prompt, "sql") {
			return "NO"
		}
		return "YES"
	})

	sel := selector.New(stub)
	cfg := defaultCfg()
	cfg.ChunkSelectionOn = true
	cfg.TopK = 5

	svc, notes := newTestService(t, stub, sel, cfg)
	notes.add(rag.Note{ID: 1, Title: "Python note", Content: "Python tips"})
	notes.add(rag.Note{ID: 2, Title: "SQL note", Content: "SQLite basics"})
	_, err := svc.BuildIndex(context.Background(), nil)
	require.NoError(t, err)

	result, err := svc.Ask(context.Background(), "tell me about python and sql")
	require.NoError(t, err)
	for _, src := range result.Sources {
		assert.NotEqual(t, "SQL note", src.Title, "selector rejected this source")
	}
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func TestAskStreamEmitsExpectedStatusSequence(t *testing.T) {
	stub := llm.NewStubClient(nil, []float32{1, 0})
	stub.SetGenerateFunc(func(prompt, system string) string { return "hello world" })

	svc, notes := newTestService(t, stub, nil, defaultCfg())
	notes.add(rag.Note{ID: 1, Title: "Note", Content: "content"})
	_, err := svc.BuildIndex(context.Background(), nil)
	require.NoError(t, err)

	var statuses []string
	var deltas []string
	var terminal Event

	events := svc.AskStream(context.Background(), "question", nil)
	for ev := range events {
		if ev.Status != "" {
			statuses = append(statuses, ev.Status)
		}
		if ev.AnswerDelta != "" {
			deltas = append(deltas, ev.AnswerDelta)
		}
		if ev.Done {
			terminal = ev
		}
	}

	assert.Equal(t, []string{"expanding", "searching", "generating"}, statuses)
	assert.Equal(t, "hello world", joinStrings(deltas))
	assert.True(t, terminal.Done)
	assert.False(t, terminal.Cancelled)
	require.Len(t, terminal.Sources, 1)
}

func TestAskStreamIncludesSelectingStageWhenEnabled(t *testing.T) {
	stub := llm.NewStubClient(nil, []float32{1, 0})
	stub.SetGenerateFunc(func(prompt, system string) string { return "answer" })
	sel := selector.New(stub)

	cfg := defaultCfg()
	cfg.ChunkSelectionOn = true
	svc, notes := newTestService(t, stub, sel, cfg)
	notes.add(rag.Note{ID: 1, Title: "Note", Content: "content"})
	_, err := svc.BuildIndex(context.Background(), nil)
	require.NoError(t, err)

	var statuses []string
	for ev := range svc.AskStream(context.Background(), "question", nil) {
		if ev.Status != "" {
			statuses = append(statuses, ev.Status)
		}
	}

	assert.Equal(t, []string{"expanding", "searching", "selecting", "generating"}, statuses)
}

func TestAskStreamStopsOnCancellationPredicate(t *testing.T) {
	stub := llm.NewStubClient(nil, []float32{1, 0})
	stub.SetGenerateFunc(func(prompt, system string) string { return "a long streamed answer body" })

	svc, notes := newTestService(t, stub, nil, defaultCfg())
	notes.add(rag.Note{ID: 1, Title: "Note", Content: "content"})
	_, err := svc.BuildIndex(context.Background(), nil)
	require.NoError(t, err)

	// The predicate runs on the streaming goroutine, once before each delta:
	// it lets the answer delta through and cancels at the next one.
	var polls, deltaCount int
	cancelAfterFirst := func() bool {
		polls++
		return polls > 1
	}

	var terminal Event
	for ev := range svc.AskStream(context.Background(), "question", cancelAfterFirst) {
		if ev.AnswerDelta != "" {
			deltaCount++
		}
		if ev.Done {
			terminal = ev
		}
	}

	assert.True(t, terminal.Done)
	assert.True(t, terminal.Cancelled)
	assert.Equal(t, 1, deltaCount)
}

func TestAskStreamSurfacesGenerationError(t *testing.T) {
	stub := llm.NewStubClient(nil, []float32{1, 0})
	stub.FailGenerateOnCall(1)

	svc, notes := newFakeNotesService(t, stub)
	notes.add(rag.Note{ID: 1, Title: "Note", Content: "content"})
	_, err := svc.BuildIndex(context.Background(), nil)
	require.NoError(t, err)

	var gotErr error
	for ev := range svc.AskStream(context.Background(), "question", nil) {
		if ev.Err != nil {
			gotErr = ev.Err
		}
	}
	assert.Error(t, gotErr)
}

func newFakeNotesService(t *testing.T, stub *llm.StubClient) (*Service, *fakeNotes) {
	return newTestService(t, stub, nil, defaultCfg())
}

// TestCloneForThreadSharesDataAcrossIndependentStores backs the store with a
// temp file rather than store.Open("")'s private in-memory database, since
// an in-memory clone opens its own empty database and would pass even if
// CloneForThread shared nothing at all. The generated prompt is captured so
// the assertion can confirm the clone actually retrieved the indexed note,
// not merely that Ask returned without error.
func TestCloneForThreadSharesDataAcrossIndependentStores(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "clone.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	stub := llm.NewStubClient([]llm.StubRule{
		{Contains: "python", Vector: []float32{1, 0}},
	}, []float32{0, 1})
	var capturedPrompt string
	stub.SetGenerateFunc(func(prompt, system string) string {
		capturedPrompt = prompt
		return "ok"
	})

	notes := newFakeNotes()
	chunker := chunk.New(chunk.Options{MaxChars: chunk.DefaultMaxChars})
	expander := expand.New(stub)
	idx := rag.New(s, chunker, stub, expander, notes)
	svc := New(idx, nil, stub, defaultCfg())

	notes.add(rag.Note{ID: 1, Title: "Python note", Content: "Python tips"})
	// A file-backed store enforces the note_embeddings foreign key, so the
	// note must also exist in the database's notes table.
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO notes (id, title, content) VALUES (1, 'Python note', 'Python tips')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	_, err = svc.BuildIndex(context.Background(), nil)
	require.NoError(t, err)

	clone, err := svc.CloneForThread()
	require.NoError(t, err)

	result, err := clone.Ask(context.Background(), "python question")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, int64(1), result.Sources[0].NoteID)
	assert.Contains(t, capturedPrompt, "Python tips", "clone must have read the chunk indexed through the original store's handle")
}

func joinStrings(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

func TestAskStreamRespectsContextCancellation(t *testing.T) {
	stub := llm.NewStubClient(nil, []float32{1, 0})
	stub.SetGenerateFunc(func(prompt, system string) string { return "answer" })

	svc, notes := newTestService(t, stub, nil, defaultCfg())
	notes.add(rag.Note{ID: 1, Title: "Note", Content: "content"})
	_, err := svc.BuildIndex(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for range svc.AskStream(ctx, "question", nil) {
	}
}
