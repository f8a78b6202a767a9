package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aman-cerp/notes-rag/internal/rag"
)

// sqlNotes is a minimal notes table the RAG core treats as the surrounding
// system's source of truth: the core never owns note content, only its
// derived chunks and embeddings. It lives in its own connection against the
// same database file so cmd/ragctl has something real to index and query
// without requiring an external note-taking app. The notes table itself,
// its FTS shadow, and the triggers that keep them in sync are created by
// store.Open; openNotes is only ever called after that migration has run
// (see newService), so it does not repeat the table's schema here.
type sqlNotes struct {
	db *sql.DB
}

func openNotes(path string) (*sqlNotes, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open notes db: %w", err)
	}
	return &sqlNotes{db: db}, nil
}

func (n *sqlNotes) Close() error { return n.db.Close() }

func (n *sqlNotes) Add(ctx context.Context, title, content string) (int64, error) {
	res, err := n.db.ExecContext(ctx, `INSERT INTO notes (title, content) VALUES (?, ?)`, title, content)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (n *sqlNotes) GetNote(ctx context.Context, id int64) (rag.Note, bool, error) {
	row := n.db.QueryRowContext(ctx, `SELECT id, title, content FROM notes WHERE id = ?`, id)
	var note rag.Note
	if err := row.Scan(&note.ID, &note.Title, &note.Content); err != nil {
		if err == sql.ErrNoRows {
			return rag.Note{}, false, nil
		}
		return rag.Note{}, false, err
	}
	return note, true, nil
}

func (n *sqlNotes) ListNotes(ctx context.Context) ([]rag.Note, error) {
	rows, err := n.db.QueryContext(ctx, `SELECT id, title, content FROM notes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []rag.Note
	for rows.Next() {
		var note rag.Note
		if err := rows.Scan(&note.ID, &note.Title, &note.Content); err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}
