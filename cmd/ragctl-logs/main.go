// Command ragctl-logs views and tails ragctl's structured log file.
//
// Usage:
//
//	ragctl-logs [flags]
//
// Flags:
//
//	-f, --follow         Follow log output (like tail -f)
//	-n, --lines int      Number of lines to show (default 50)
//	    --level string   Filter by level (debug|info|warn|error)
//	    --filter string  Filter by pattern (regex)
//	    --no-color       Disable colored output
//	    --file string    Custom log file path
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/notes-rag/internal/logging"
	"github.com/aman-cerp/notes-rag/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		noColor bool
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "ragctl-logs",
		Short: "View ragctl's server logs",
		Long: `View and tail ragctl's structured log file.

By default, shows the last 50 lines. Use -f to follow new entries in
real time (like 'tail -f').`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), logsOptions{
				follow:  follow,
				lines:   lines,
				level:   level,
				filter:  filter,
				noColor: noColor,
				logFile: logFile,
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Filter by log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&filter, "filter", "", "Filter by keyword/pattern (regex)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&logFile, "file", "", "Path to log file (overrides the default)")

	return cmd
}

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	logFile string
}

func runLogs(ctx context.Context, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: opts.noColor,
	}, os.Stdout)

	fmt.Fprintf(os.Stderr, "Log file: %s\n", path)
	if opts.follow {
		fmt.Fprintf(os.Stderr, "Following... (Ctrl+C to stop)\n")
	}
	fmt.Fprintln(os.Stderr, "---")

	if opts.follow {
		return runFollow(ctx, viewer, path)
	}

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)
	return nil
}

func runFollow(ctx context.Context, viewer *logging.Viewer, path string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)

	go func() {
		errCh <- viewer.Follow(ctx, path, entries)
	}()

	for {
		select {
		case entry := <-entries:
			fmt.Println(viewer.FormatEntry(entry))
		case err := <-errCh:
			return err
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\n---")
			fmt.Fprintln(os.Stderr, "Stopped.")
			return nil
		}
	}
}
