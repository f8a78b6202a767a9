// Command ragctl builds a notes index and answers questions against it
// using the RAG core.
//
// Usage:
//
//	ragctl build-index --db notes.db
//	ragctl add-note --db notes.db --title "..." --content "..."
//	ragctl ask --db notes.db "how do I configure hybrid search?"
//	ragctl ask-stream --db notes.db "how do I configure hybrid search?"
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/notes-rag/internal/async"
	"github.com/aman-cerp/notes-rag/internal/chunk"
	"github.com/aman-cerp/notes-rag/internal/config"
	"github.com/aman-cerp/notes-rag/internal/expand"
	"github.com/aman-cerp/notes-rag/internal/llm"
	"github.com/aman-cerp/notes-rag/internal/logging"
	"github.com/aman-cerp/notes-rag/internal/rag"
	"github.com/aman-cerp/notes-rag/internal/selector"
	"github.com/aman-cerp/notes-rag/internal/service"
	"github.com/aman-cerp/notes-rag/internal/store"
	"github.com/aman-cerp/notes-rag/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loggingCleanup holds the file handle closer installed by PersistentPreRunE,
// run by PersistentPostRunE once the command has finished.
var loggingCleanup func()

func newRootCmd() *cobra.Command {
	var dbPath string
	var debug bool

	root := &cobra.Command{
		Use:     "ragctl",
		Short:   "Index notes and answer questions over them",
		Version: version.Version,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logCfg := logging.DefaultConfig()
			if debug {
				logCfg = logging.DebugConfig()
			}
			logCfg.WriteToStderr = false
			logger, cleanup, err := logging.Setup(logCfg)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			loggingCleanup = cleanup
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if loggingCleanup != nil {
				loggingCleanup()
				loggingCleanup = nil
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "ragctl.db", "path to the SQLite database")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level file logging")

	root.AddCommand(newAddNoteCmd(&dbPath))
	root.AddCommand(newBuildIndexCmd(&dbPath))
	root.AddCommand(newAskCmd(&dbPath))
	root.AddCommand(newAskStreamCmd(&dbPath))
	root.AddCommand(newReindexStatusCmd(&dbPath))
	return root
}

// newService wires a Service from a database path and the current environment's
// configuration. Every subcommand constructs its own; none is long-lived.
// store.Open runs schema migration (the notes table, its FTS shadow, and
// the triggers that keep them in sync) before openNotes ever writes to it,
// so a bare add-note run always has the full schema in place.
func newService(ctx context.Context, dbPath string) (*service.Service, *sqlNotes, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	slog.Info("service_open", slog.String("db_path", dbPath))

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	notes, err := openNotes(dbPath)
	if err != nil {
		_ = s.Close()
		return nil, nil, nil, err
	}

	if err := ensureFTSConsistency(ctx, s, notes); err != nil {
		_ = notes.Close()
		_ = s.Close()
		return nil, nil, nil, err
	}

	client := buildClient(cfg)
	chunker := chunk.New(chunk.Options{MaxChars: cfg.ChunkMaxChars})
	expander := expand.New(client)
	idx := rag.New(s, chunker, client, expander, notes)

	var sel *selector.Selector
	if cfg.ChunkSelectionOn {
		sel = selector.New(client)
	}

	svcCfg := service.Config{
		TopK:                  cfg.TopK,
		TransformedQueryCount: cfg.TransformedQueryCount,
		Hybrid:                cfg.Hybrid,
		ChunkSelectionOn:      cfg.ChunkSelectionOn,
	}
	svc := service.New(idx, sel, client, svcCfg)

	cleanup := func() {
		_ = notes.Close()
		_ = s.Close()
	}
	return svc, notes, cleanup, nil
}

// ensureFTSConsistency rebuilds notes_fts from the notes table on first
// startup with an empty FTS shadow: a fresh database before any note has
// ever been written, or one populated by some path other than the
// triggered notes table (a restored backup, a bulk import). Once populated,
// the triggers installed by store.migrate keep it in sync on their own and
// this is a no-op.
func ensureFTSConsistency(ctx context.Context, s *store.Store, notes *sqlNotes) error {
	populated, err := s.CheckFTSConsistency(ctx)
	if err != nil {
		return fmt.Errorf("check fts consistency: %w", err)
	}
	if populated {
		return nil
	}

	all, err := notes.ListNotes(ctx)
	if err != nil {
		return fmt.Errorf("list notes for fts rebuild: %w", err)
	}
	if len(all) == 0 {
		return nil
	}

	slog.Warn("fts_rebuild_started", slog.Int("note_count", len(all)))
	sources := make([]store.NoteSource, len(all))
	for i, n := range all {
		sources[i] = store.NoteSource{ID: n.ID, Title: n.Title, Content: n.Content}
	}
	if err := s.RebuildFTS(ctx, sources); err != nil {
		return fmt.Errorf("rebuild fts: %w", err)
	}
	return nil
}

// buildClient builds the native Ollama client and wraps it in an embedding
// cache. ragctl always uses the Ollama transport: no configuration value
// selects OpenAICompatClient, and cfg.LLMAPIKey is not read here.
func buildClient(cfg config.Config) llm.Client {
	base := llm.NewOllamaClient(llm.OllamaConfig{
		Host:          cfg.LLMBaseURL,
		EmbedModel:    cfg.EmbedModel,
		GenerateModel: cfg.GenerateModel,
		GenTimeout:    cfg.GenTimeout,
		ProbeTimeout:  cfg.ProbeTimeout,
	})
	return llm.NewCachedClient(base, cfg.EmbedModel, llm.DefaultCacheCapacity)
}

func newAddNoteCmd(dbPath *string) *cobra.Command {
	var title, content string
	cmd := &cobra.Command{
		Use:   "add-note",
		Short: "Add a note to the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Goes through the full service wiring, not a bare openNotes,
			// so store.Open's migration (the notes table, its FTS shadow,
			// and the sync triggers) has run even if add-note is the very
			// first command issued against this database file.
			_, notes, cleanup, err := newService(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := notes.Add(cmd.Context(), title, content)
			if err != nil {
				return err
			}
			slog.Info("note_added", slog.Int64("note_id", id), slog.String("title", title))
			fmt.Fprintf(cmd.OutOrStdout(), "added note %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "note title")
	cmd.Flags().StringVar(&content, "content", "", "note content")
	return cmd
}

func newBuildIndexCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "build-index",
		Short: "Rebuild the retrieval index from every stored note",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := newService(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			total, err := svc.BuildIndex(cmd.Context(), func(current, total int, note rag.Note) {
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d/%d: %s\n", current, total, note.Title)
			})
			if err != nil {
				slog.Error("build_index_failed", slog.String("error", err.Error()))
				return err
			}
			slog.Info("build_index_done", slog.Int("note_count", total))
			fmt.Fprintf(cmd.OutOrStdout(), "done: %d notes indexed\n", total)
			return nil
		},
	}
}

func newAskCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and print the full answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := newService(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			slog.Info("ask_started", slog.String("question", args[0]))
			result, err := svc.Ask(cmd.Context(), args[0])
			if err != nil {
				slog.Error("ask_failed", slog.String("error", err.Error()))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
			fmt.Fprintln(cmd.OutOrStdout(), "\nsources:")
			for _, src := range result.Sources {
				fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s\n", src.NoteID, src.Title)
			}
			return nil
		},
	}
}

func newAskStreamCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ask-stream [question]",
		Short: "Ask a question and print the answer as it streams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := newService(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			for ev := range svc.AskStream(cmd.Context(), args[0], nil) {
				switch {
				case ev.Err != nil:
					return ev.Err
				case ev.Status != "":
					fmt.Fprintf(os.Stderr, "[%s]\n", ev.Status)
				case ev.AnswerDelta != "":
					fmt.Fprint(out, ev.AnswerDelta)
				case ev.Done:
					fmt.Fprintln(out)
					fmt.Fprintln(out, "sources:")
					for _, src := range ev.Sources {
						fmt.Fprintf(out, "  [%d] %s\n", src.NoteID, src.Title)
					}
				}
			}
			return nil
		},
	}
}

func newReindexStatusCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex-status",
		Short: "Trigger a background reindex and print its final status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := newService(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer cleanup()

			r := async.NewReindexer(filepath.Dir(*dbPath), func(ctx context.Context, onProgress func(current, total int)) error {
				_, err := svc.BuildIndex(ctx, func(current, total int, _ rag.Note) { onProgress(current, total) })
				return err
			})
			r.Start(cmd.Context())
			for r.Status().IsRunning() {
				time.Sleep(50 * time.Millisecond)
			}
			snap := r.Status().Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "running=%v current=%d total=%d error=%q\n",
				snap.Running, snap.Current, snap.Total, snap.Error)
			return nil
		},
	}
}

