package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// newLogger builds the process logger. Logs always go to w (stderr in
// practice) so stdout stays reserved for protocol traffic.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// logLevelFor applies the root --verbose and --quiet flags on top of the
// configured level.
func logLevelFor(cmd *cobra.Command, configured string) string {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return "debug"
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return "error"
	}
	return configured
}
