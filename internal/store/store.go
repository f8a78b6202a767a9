// Package store persists chunk embeddings and their full-text shadow in a
// single SQLite database: a note_embeddings table for vectors and a
// notes_fts virtual table kept in sync by triggers. A custom SQL scalar
// function, cosine_distance, is registered on every connection so vector
// search runs as ordinary SQL rather than an in-process scan.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/aman-cerp/notes-rag/internal/ragerr"
	"github.com/aman-cerp/notes-rag/internal/vcodec"
)

const driverName = "notesrag-sqlite3"

var registerOnce sync.Once

// registerDriver installs the cosine_distance scalar function on every
// connection opened through driverName. database/sql has no per-connection
// hook of its own; sqlite3.SQLiteDriver.ConnectHook is the mechanism the
// driver exposes for this, and it only needs to run once per process.
func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("cosine_distance", cosineDistanceSQL, true)
			},
		})
	})
}

// cosineDistanceSQL is exposed to SQL as cosine_distance(blob_a, blob_b).
// Malformed blobs return 2, the largest cosine distance, rather than
// erroring the query; well-formed but mismatched-length or zero vectors get
// vcodec.CosineDistance's own value of 1.
func cosineDistanceSQL(a, b []byte) float64 {
	va, errA := vcodec.Decode(a)
	vb, errB := vcodec.Decode(b)
	if errA != nil || errB != nil {
		return 2
	}
	return vcodec.CosineDistance(va, vb)
}

// Row is one stored chunk embedding.
type Row struct {
	NoteID     int64
	ChunkIndex int
	ChunkText  string
	Vector     []byte
}

// VectorHit is one result of a vector_search, one row per matching note.
type VectorHit struct {
	NoteID   int64
	Distance float64
}

// BM25Hit is one result of a bm25_search, one row per matching note.
type BM25Hit struct {
	NoteID int64
	Score  float64
}

// Store is a thread-confined handle onto the notes-rag database. It wraps a
// single connection and must not be shared across goroutines; call
// CloneForThread to hand a worker its own handle on the same file.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and ensures its schema exists.
// An empty path opens a private in-memory database, useful for tests.
func Open(path string) (*Store, error) {
	registerDriver()

	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, ragerr.Wrap(ragerr.CategoryIO, "store: create directory", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, ragerr.NewFatal(ragerr.CategoryIO, "store: open database", err)
	}
	// A single physical connection keeps this handle's semantics pinned to
	// one SQLite connection, which is what makes it thread-confined.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, ragerr.NewFatal(ragerr.CategoryIO, "store: migrate schema", err)
	}
	return s, nil
}

// CloneForThread opens an independent Store on the same database file,
// giving a background worker its own connection instead of sharing this
// one. Calling it on an in-memory store returns a fresh, empty database,
// since there is no file to reopen.
func (s *Store) CloneForThread() (*Store, error) {
	return Open(s.path)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the whole database's schema: the notes table itself (the
// surrounding system only ever writes rows through it, but the table and
// its FTS shadow must live in one file for the triggers below to fire), the
// embedding table that foreign-keys into it, and the FTS5 shadow kept in
// sync by three triggers mirroring notes' insert/update/delete.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS note_embeddings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			note_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			chunk_text TEXT NOT NULL DEFAULT '',
			vector BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(note_id, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_note_embeddings_note_id ON note_embeddings(note_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			title, content, content='notes', content_rowid='id', tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS notes_fts_insert AFTER INSERT ON notes BEGIN
			INSERT INTO notes_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS notes_fts_update AFTER UPDATE OF title, content ON notes BEGIN
			INSERT INTO notes_fts(notes_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
			INSERT INTO notes_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS notes_fts_delete AFTER DELETE ON notes BEGIN
			INSERT INTO notes_fts(notes_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return ragerr.Wrap(ragerr.CategoryIO, "store: migrate schema", err)
		}
	}
	if err := s.migrateLegacyTextVectors(); err != nil {
		return err
	}
	return nil
}

// migrateLegacyTextVectors drops a pre-existing chunk table that stored
// vectors as text rather than as binary blobs. Those embeddings cannot be
// reinterpreted; the caller sees an empty index and must reindex.
func (s *Store) migrateLegacyTextVectors() error {
	var typ string
	err := s.db.QueryRow(
		`SELECT type FROM pragma_table_info('note_embeddings') WHERE name = 'vector'`,
	).Scan(&typ)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return ragerr.Wrap(ragerr.CategoryIO, "store: inspect schema", err)
	}
	if strings.EqualFold(typ, "TEXT") {
		slog.Warn("store_legacy_text_vectors_dropped",
			slog.String("reason", "pre-existing chunk table stored vectors as text"))
		if _, err := s.db.Exec(`DROP TABLE note_embeddings`); err != nil {
			return ragerr.Wrap(ragerr.CategoryIO, "store: drop legacy table", err)
		}
		if _, err := s.db.Exec(`CREATE TABLE note_embeddings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			note_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			chunk_text TEXT NOT NULL DEFAULT '',
			vector BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(note_id, chunk_index)
		)`); err != nil {
			return ragerr.Wrap(ragerr.CategoryIO, "store: recreate table", err)
		}
	}
	return nil
}

// ReplaceChunks atomically replaces every chunk belonging to noteID with
// rows, assigning contiguous zero-based chunk indices in slice order.
func (s *Store) ReplaceChunks(ctx context.Context, noteID int64, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.Wrap(ragerr.CategoryIO, "store: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_embeddings WHERE note_id = ?`, noteID); err != nil {
		return ragerr.Wrap(ragerr.CategoryIO, "store: clear note chunks", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO note_embeddings
		(note_id, chunk_index, chunk_text, vector, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))`)
	if err != nil {
		return ragerr.Wrap(ragerr.CategoryIO, "store: prepare insert", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, noteID, i, row.ChunkText, row.Vector); err != nil {
			return ragerr.Wrap(ragerr.CategoryIO, "store: insert chunk", err)
		}
	}

	return tx.Commit()
}

// ClearAllChunks erases every chunk, used before a full index rebuild.
func (s *Store) ClearAllChunks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM note_embeddings`); err != nil {
		return ragerr.Wrap(ragerr.CategoryIO, "store: clear all chunks", err)
	}
	return nil
}

// VectorSearch returns up to k notes ordered by ascending minimum cosine
// distance between queryBlob and any of the note's chunks, one row per
// note. When no chunks exist it returns an empty slice and logs a warning.
func (s *Store) VectorSearch(ctx context.Context, queryBlob []byte, k int) ([]VectorHit, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM note_embeddings`).Scan(&total); err != nil {
		return nil, ragerr.Wrap(ragerr.CategoryIO, "store: count chunks", err)
	}
	if total == 0 {
		slog.Warn("store_vector_search_no_chunks")
		return []VectorHit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT note_id, MIN(cosine_distance(vector, ?)) AS dist
		FROM note_embeddings
		GROUP BY note_id
		ORDER BY dist ASC
		LIMIT ?`, queryBlob, k)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.CategoryIO, "store: vector search", err)
	}
	defer rows.Close()

	hits := []VectorHit{}
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.NoteID, &h.Distance); err != nil {
			return nil, ragerr.Wrap(ragerr.CategoryIO, "store: scan vector hit", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsMetaChars are stripped from a raw BM25 query before tokenization, per
// the sanitization contract: they could otherwise be interpreted as FTS5
// query operators.
var ftsMetaChars = regexp.MustCompile(`["^*()\[\]]`)

// SanitizeFTSQuery strips FTS5 meta-characters, splits on whitespace, and
// wraps each surviving token in double quotes so the engine treats every
// token as a literal phrase rather than an operator. The result is the
// empty string iff no tokens survive.
func SanitizeFTSQuery(raw string) string {
	stripped := ftsMetaChars.ReplaceAllString(raw, "")
	fields := strings.Fields(stripped)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, " ")
}

// BM25Search sanitizes rawQuery and returns up to k notes ordered by BM25
// relevance, best first. An empty or fully-sanitized-away query returns an
// empty slice without touching the FTS engine. FTS engine errors are
// swallowed into an empty result, not propagated.
func (s *Store) BM25Search(ctx context.Context, rawQuery string, k int) ([]BM25Hit, error) {
	sanitized := SanitizeFTSQuery(rawQuery)
	if sanitized == "" {
		return []BM25Hit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, bm25(notes_fts) AS score
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY score
		LIMIT ?`, sanitized, k)
	if err != nil {
		slog.Warn("store_bm25_search_failed", slog.String("error", err.Error()))
		return []BM25Hit{}, nil
	}
	defer rows.Close()

	hits := []BM25Hit{}
	for rows.Next() {
		var h BM25Hit
		if err := rows.Scan(&h.NoteID, &h.Score); err != nil {
			return nil, ragerr.Wrap(ragerr.CategoryIO, "store: scan bm25 hit", err)
		}
		// FTS5's bm25() returns more-negative for a better match; flip the
		// sign so a higher score means more relevant everywhere in the core.
		h.Score = -h.Score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// BestChunkText returns the text of the chunk of noteID that minimizes
// cosine distance to queryBlob.
func (s *Store) BestChunkText(ctx context.Context, noteID int64, queryBlob []byte) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT chunk_text FROM note_embeddings
		WHERE note_id = ?
		ORDER BY cosine_distance(vector, ?) ASC
		LIMIT 1`, noteID, queryBlob).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", ragerr.Wrap(ragerr.CategoryIO, "store: best chunk text", err)
	}
	return text, nil
}

// CheckFTSConsistency reports whether notes_fts is populated. On first
// startup with an empty FTS table the caller is expected to call
// RebuildFTS from the notes table.
func (s *Store) CheckFTSConsistency(ctx context.Context) (populated bool, err error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes_fts`).Scan(&count); err != nil {
		return false, ragerr.Wrap(ragerr.CategoryIO, "store: check fts consistency", err)
	}
	return count > 0, nil
}

// NoteSource is one row the caller supplies to RebuildFTS.
type NoteSource struct {
	ID      int64
	Title   string
	Content string
}

// RebuildFTS repopulates notes_fts from scratch given the notes table's
// current contents, supplied by the caller since the notes table is
// external to this package.
func (s *Store) RebuildFTS(ctx context.Context, notes []NoteSource) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.Wrap(ragerr.CategoryIO, "store: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes_fts`); err != nil {
		return ragerr.Wrap(ragerr.CategoryIO, "store: clear fts", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO notes_fts(rowid, title, content) VALUES (?, ?, ?)`)
	if err != nil {
		return ragerr.Wrap(ragerr.CategoryIO, "store: prepare fts insert", err)
	}
	defer stmt.Close()
	for _, n := range notes {
		if _, err := stmt.ExecContext(ctx, n.ID, n.Title, n.Content); err != nil {
			return ragerr.Wrap(ragerr.CategoryIO, "store: rebuild fts row", err)
		}
	}
	return tx.Commit()
}
