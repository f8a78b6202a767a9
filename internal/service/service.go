// Package service exposes the RAG core's public contract: build the index,
// index a single note, and answer a question either as one complete
// response or as a lazy stream of status/delta/terminal events. It wires
// together retrieval (internal/rag), optional chunk selection
// (internal/selector), and generation (internal/llm) into the two-node
// pipeline the rest of the system calls through.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/aman-cerp/notes-rag/internal/llm"
	"github.com/aman-cerp/notes-rag/internal/rag"
	"github.com/aman-cerp/notes-rag/internal/selector"
)

const systemPrompt = "You are a helpful assistant answering questions using only the provided notes. If the notes do not contain the answer, say so."

const answerPromptTemplate = `Question:
%s

Relevant notes:
%s

Answer the question using only the notes above.`

// Config captures the query-time knobs the service reads once per request.
// Configuration is read-only for the duration of a query — the service
// never observes a concurrent mutation mid-query.
type Config struct {
	TopK                  int
	TransformedQueryCount int
	Hybrid                bool
	ChunkSelectionOn      bool
}

// Source is one selected note surfaced in an answer's provenance list.
type Source struct {
	NoteID int64
	Title  string
}

// AskResult is the non-streaming answer shape.
type AskResult struct {
	Answer   string
	Thinking string // reserved, always empty
	Sources  []Source
}

// Event is one item of ask_stream's lazy sequence. Only the fields
// documented for a given event kind are populated; the rest are zero.
type Event struct {
	Status      string // "expanding", "searching", "selecting", "generating"
	AnswerDelta string
	Done        bool
	Cancelled   bool
	Sources     []Source
	Err         error
}

// CancelFunc is polled between generation deltas; once it returns true the
// stream stops consuming the LLM and emits a terminal cancelled event.
type CancelFunc func() bool

// Service is the public RAG entry point.
type Service struct {
	index     *rag.Index
	selector  *selector.Selector
	generator llm.Client
	cfg       Config
}

// New builds a Service. sel may be nil; Config.ChunkSelectionOn is then
// treated as false regardless of its value.
func New(index *rag.Index, sel *selector.Selector, generator llm.Client, cfg Config) *Service {
	return &Service{index: index, selector: sel, generator: generator, cfg: cfg}
}

// selectionEnabled reports whether chunk selection actually runs.
func (s *Service) selectionEnabled() bool {
	return s.cfg.ChunkSelectionOn && s.selector != nil
}

// BuildIndex delegates to the full rebuild.
func (s *Service) BuildIndex(ctx context.Context, progress rag.ProgressFunc) (int, error) {
	return s.index.BuildIndex(ctx, progress)
}

// IndexNote delegates to single-note indexing.
func (s *Service) IndexNote(ctx context.Context, noteID int64) (bool, error) {
	return s.index.IndexNote(ctx, noteID)
}

// CloneForThread returns an independent Service bound to a fresh store
// handle on the same database file.
func (s *Service) CloneForThread() (*Service, error) {
	idx, err := s.index.CloneForThread()
	if err != nil {
		return nil, err
	}
	return &Service{index: idx, selector: s.selector, generator: s.generator, cfg: s.cfg}, nil
}

// retrieveAndSelect runs the shared retrieve -> optional select half of the
// pipeline, returning the documents that survive (all of them, if selection
// is off or nothing was retrieved).
func (s *Service) retrieveAndSelect(ctx context.Context, question string) ([]rag.Document, error) {
	docs, err := s.index.Retrieve(ctx, question, s.cfg.TopK, s.cfg.TransformedQueryCount, s.cfg.Hybrid)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 || !s.selectionEnabled() {
		return docs, nil
	}

	chunks := make([]selector.Chunk, len(docs))
	for i, d := range docs {
		chunks[i] = selector.Chunk{ID: d.NoteID, Content: d.Content}
	}
	kept := make(map[int64]bool, len(chunks))
	for _, c := range s.selector.Select(ctx, chunks, question) {
		kept[c.ID] = true
	}

	out := make([]rag.Document, 0, len(docs))
	for _, d := range docs {
		if kept[d.NoteID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func sourcesFrom(docs []rag.Document, topK int) []Source {
	if len(docs) > topK {
		docs = docs[:topK]
	}
	out := make([]Source, len(docs))
	for i, d := range docs {
		out[i] = Source{NoteID: d.NoteID, Title: d.Title}
	}
	return out
}

func buildAnswerPrompt(question string, docs []rag.Document) string {
	var notes strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&notes, "[%d] %s\n%s\n\n", i+1, d.Title, d.Content)
	}
	return fmt.Sprintf(answerPromptTemplate, question, notes.String())
}

// Ask answers question with the non-streaming two-node pipeline:
// retrieve -> (optional select) -> generate.
func (s *Service) Ask(ctx context.Context, question string) (AskResult, error) {
	docs, err := s.retrieveAndSelect(ctx, question)
	if err != nil {
		return AskResult{}, err
	}

	prompt := buildAnswerPrompt(question, docs)
	answer := s.generator.Generate(ctx, prompt, systemPrompt)

	return AskResult{
		Answer:  answer,
		Sources: sourcesFrom(docs, s.cfg.TopK),
	}, nil
}

// AskStream answers question as a lazy sequence of events delivered on the
// returned channel, which is closed once the terminal event is sent or ctx
// is cancelled. cancel, if non-nil, is polled between answer deltas.
func (s *Service) AskStream(ctx context.Context, question string, cancel CancelFunc) <-chan Event {
	out := make(chan Event)
	go s.runStream(ctx, question, cancel, out)
	return out
}

func (s *Service) runStream(ctx context.Context, question string, cancel CancelFunc, out chan<- Event) {
	defer close(out)

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	status := func(stage string) bool { return send(Event{Status: stage}) }

	if !status("expanding") {
		return
	}
	if !status("searching") {
		return
	}
	docs, err := s.index.Retrieve(ctx, question, s.cfg.TopK, s.cfg.TransformedQueryCount, s.cfg.Hybrid)
	if err != nil {
		send(Event{Err: err})
		return
	}

	if s.selectionEnabled() && len(docs) > 0 {
		if !status("selecting") {
			return
		}
		chunks := make([]selector.Chunk, len(docs))
		for i, d := range docs {
			chunks[i] = selector.Chunk{ID: d.NoteID, Content: d.Content}
		}
		kept := make(map[int64]bool, len(chunks))
		for _, c := range s.selector.Select(ctx, chunks, question) {
			kept[c.ID] = true
		}
		filtered := make([]rag.Document, 0, len(docs))
		for _, d := range docs {
			if kept[d.NoteID] {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}

	if !status("generating") {
		return
	}
	prompt := buildAnswerPrompt(question, docs)
	deltas, err := s.generator.GenerateStream(ctx, prompt, systemPrompt)
	if err != nil {
		send(Event{Err: err})
		return
	}

	var cancelled bool
	for d := range deltas {
		if cancel != nil && cancel() {
			cancelled = true
			break
		}
		if d.Err != nil {
			send(Event{Err: d.Err})
			return
		}
		if d.Done {
			break
		}
		if d.Text == "" {
			continue
		}
		if !send(Event{AnswerDelta: d.Text}) {
			return
		}
	}

	send(Event{Done: true, Cancelled: cancelled, Sources: sourcesFrom(docs, s.cfg.TopK)})
}
