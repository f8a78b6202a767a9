// Package rag implements indexing and multi-leg retrieval over the notes
// store: turning a note into chunk embeddings, rebuilding the whole index,
// and answering a question with a fused, hydrated ranked list of chunks.
package rag

import (
	"context"
	"log/slog"

	"github.com/aman-cerp/notes-rag/internal/chunk"
	"github.com/aman-cerp/notes-rag/internal/expand"
	"github.com/aman-cerp/notes-rag/internal/fusion"
	"github.com/aman-cerp/notes-rag/internal/llm"
	"github.com/aman-cerp/notes-rag/internal/store"
	"github.com/aman-cerp/notes-rag/internal/vcodec"
)

// FusionOversample is the multiple of top_K each leg fetches, so cross-leg
// candidates are not cut before fusion trims the final result.
const FusionOversample = 4

// Note is the minimal shape read from the surrounding system's notes table,
// which this package only ever consumes, never owns.
type Note struct {
	ID      int64
	Title   string
	Content string
}

// NoteReader is how rag reaches the notes table it does not own.
type NoteReader interface {
	GetNote(ctx context.Context, id int64) (Note, bool, error)
	ListNotes(ctx context.Context) ([]Note, error)
}

// ProgressFunc is called after each note during a full rebuild.
type ProgressFunc func(current, total int, note Note)

// Document is one retrieval result: a note identified by id, carrying its
// fused relevance score and, after hydration, its best matching chunk text.
type Document struct {
	NoteID  int64
	Title   string
	Content string
	Score   float64
}

// Index ties the store, chunker, embedder, and query expander together into
// the indexing and retrieval operations of the core.
type Index struct {
	store    *store.Store
	chunker  *chunk.Chunker
	embedder llm.Client
	expander *expand.Expander
	notes    NoteReader
}

func New(s *store.Store, chunker *chunk.Chunker, embedder llm.Client, expander *expand.Expander, notes NoteReader) *Index {
	return &Index{store: s, chunker: chunker, embedder: embedder, expander: expander, notes: notes}
}

// CloneForThread returns an independent Index bound to a fresh store handle
// on the same database file, sharing every stateless collaborator. A store
// handle is single-owner and must not cross threads; this gives each worker
// its own handle without re-wiring the rest of the dependency graph.
func (idx *Index) CloneForThread() (*Index, error) {
	s, err := idx.store.CloneForThread()
	if err != nil {
		return nil, err
	}
	return &Index{store: s, chunker: idx.chunker, embedder: idx.embedder, expander: idx.expander, notes: idx.notes}, nil
}

// IndexNote reads note noteID, chunks title+content, embeds each chunk, and
// atomically replaces its stored chunks. Chunks whose embedding comes back
// empty are skipped; if every chunk failed to embed, the prior state is left
// untouched and the failure is logged. Returns whether indexing succeeded.
func (idx *Index) IndexNote(ctx context.Context, noteID int64) (bool, error) {
	note, ok, err := idx.notes.GetNote(ctx, noteID)
	if err != nil {
		return false, err
	}
	if !ok {
		slog.Warn("rag_index_note_not_found", slog.Int64("note_id", noteID))
		return false, nil
	}

	text := note.Title + "\n\n" + note.Content
	chunks := idx.chunker.Chunk(text)

	rows := make([]store.Row, 0, len(chunks))
	for _, c := range chunks {
		vec := idx.embedder.Embed(ctx, c)
		if len(vec) == 0 {
			continue
		}
		blob, err := vcodec.Encode(vec)
		if err != nil {
			continue
		}
		rows = append(rows, store.Row{ChunkText: c, Vector: blob})
	}

	if len(rows) == 0 {
		slog.Warn("rag_index_note_no_chunks_embedded", slog.Int64("note_id", noteID))
		return false, nil
	}

	if err := idx.store.ReplaceChunks(ctx, noteID, rows); err != nil {
		return false, err
	}
	// notes_fts is kept in sync by triggers on the notes table itself, not
	// by this package, so BM25 recall never depends on embeddings having
	// succeeded at all.
	return true, nil
}

// BuildIndex clears every stored chunk and reindexes every note from
// scratch, reporting progress after each note. Returns the number of notes
// processed.
func (idx *Index) BuildIndex(ctx context.Context, progress ProgressFunc) (int, error) {
	if err := idx.store.ClearAllChunks(ctx); err != nil {
		return 0, err
	}

	notes, err := idx.notes.ListNotes(ctx)
	if err != nil {
		return 0, err
	}

	for i, note := range notes {
		if _, err := idx.IndexNote(ctx, note.ID); err != nil {
			return i, err
		}
		if progress != nil {
			progress(i+1, len(notes), note)
		}
	}
	return len(notes), nil
}

type leg struct {
	vectorHits []store.VectorHit
	bm25Hits   []store.BM25Hit
	hydration  []byte
}

// Retrieve answers question with up to topK documents. transformedQueryCount
// controls how many expanded phrasings of question are searched (clamped by
// internal/expand); hybrid enables an additional BM25 leg per expanded
// query. On total failure (every leg failed) it returns an empty slice.
func (idx *Index) Retrieve(ctx context.Context, question string, topK, transformedQueryCount int, hybrid bool) ([]Document, error) {
	expanded := idx.expander.Expand(ctx, question, transformedQueryCount)
	fetchK := topK * FusionOversample

	legs, hydrationKey := idx.collectLegs(ctx, expanded, fetchK, hybrid)
	if len(legs) == 0 {
		return []Document{}, nil
	}

	lists := make([][]fusion.Document, 0, len(legs))
	for _, l := range legs {
		if len(l.vectorHits) > 0 {
			list := make([]fusion.Document, len(l.vectorHits))
			for i, h := range l.vectorHits {
				list[i] = fusion.Document{ID: h.NoteID, Score: -h.Distance}
			}
			lists = append(lists, list)
		}
		if len(l.bm25Hits) > 0 {
			list := make([]fusion.Document, len(l.bm25Hits))
			for i, h := range l.bm25Hits {
				list[i] = fusion.Document{ID: h.NoteID, Score: h.Score}
			}
			lists = append(lists, list)
		}
	}

	fused := fusion.Fuse(lists, fusion.DefaultK)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	return idx.hydrate(ctx, fused, hydrationKey)
}

// collectLegs runs one retrieval leg per expanded query, in the expander's
// own order, and returns the legs that produced at least one ranked list
// along with the first successful embedding blob seen, used later as the
// hydration key. Legs run sequentially and deterministically (not fanned
// out) so the lists handed to fusion are reproducible run to run.
func (idx *Index) collectLegs(ctx context.Context, expanded []string, fetchK int, hybrid bool) ([]leg, []byte) {
	out := make([]leg, 0, len(expanded))
	var hydrationKey []byte

	for _, q := range expanded {
		vec := idx.embedder.Embed(ctx, q)
		if len(vec) == 0 {
			slog.Warn("rag_retrieve_leg_skipped_empty_embedding", slog.String("query", q))
			continue
		}
		blob, err := vcodec.Encode(vec)
		if err != nil {
			slog.Warn("rag_retrieve_leg_skipped_bad_vector", slog.String("query", q))
			continue
		}

		l := leg{hydration: blob}

		vectorHits, err := idx.store.VectorSearch(ctx, blob, fetchK)
		if err != nil {
			slog.Warn("rag_retrieve_vector_search_failed", slog.String("error", err.Error()))
		} else {
			l.vectorHits = vectorHits
		}

		if hybrid {
			bm25Hits, err := idx.store.BM25Search(ctx, q, fetchK)
			if err != nil {
				slog.Warn("rag_retrieve_bm25_search_failed", slog.String("error", err.Error()))
			} else {
				l.bm25Hits = bm25Hits
			}
		}

		if hydrationKey == nil {
			hydrationKey = blob
		}
		if len(l.vectorHits) > 0 || len(l.bm25Hits) > 0 {
			out = append(out, l)
		}
	}
	return out, hydrationKey
}

// hydrate replaces each fused result's content with its best matching chunk
// text and, where available, the note's title (for building ask()'s source
// list). BM25-only hits carry the same hydration key as everything else so
// every result ends up with chunk text rather than full-note content.
func (idx *Index) hydrate(ctx context.Context, fused []fusion.Result, hydrationKey []byte) ([]Document, error) {
	docs := make([]Document, 0, len(fused))
	for _, f := range fused {
		text, err := idx.store.BestChunkText(ctx, f.ID, hydrationKey)
		if err != nil {
			return nil, err
		}
		title := ""
		if note, ok, err := idx.notes.GetNote(ctx, f.ID); err == nil && ok {
			title = note.Title
		}
		docs = append(docs, Document{
			NoteID:  f.ID,
			Title:   title,
			Content: text,
			Score:   f.FusionScore,
		})
	}
	return docs, nil
}
