// Package obs holds the process-wide structured logger.
package obs

import (
	"io"
	"log/slog"
	"os"
)

var Logger = slog.Default()

// InitLogger installs a JSON logger on stdout and makes it the slog default
// so packages that log through slog directly share the same handler.
func InitLogger(level string) {
	Logger = New(os.Stdout, level)
	slog.SetDefault(Logger)
}

func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
