package logging

import (
	"log/slog"
	"os"
)

// Setup initializes the global slog logger with JSON output to stdout.
// Extra handlers (Sentry, local store) are fanned out when provided.
func Setup(extra ...slog.Handler) {
	handlers := append([]slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}, extra...)
	slog.SetDefault(slog.New(NewMultiHandler(handlers...)))
}
