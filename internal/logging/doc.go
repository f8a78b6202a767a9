// Package logging provides file-based logging with rotation for notes-rag.
// ragctl installs it for every command, writing JSON logs to
// ~/.notes-rag/logs/ at info level, or at debug level when the --debug flag
// is set. ragctl does not copy its log output to stderr.
package logging
