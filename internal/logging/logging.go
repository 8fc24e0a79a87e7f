// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/amosWeiskopf/metalcrawl/internal/config"
)

// New returns a logger writing to cfg.OutputPath. The returned closer
// releases the output file, if one was opened.
func New(cfg config.LoggingConfig, verbose bool) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	out, closer, err := output(cfg.OutputPath)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var w io.Writer = out
	if cfg.Format == "text" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stdout && out != os.Stderr}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), closer, nil
}

func output(path string) (*os.File, io.Closer, error) {
	switch path {
	case "", "stdout":
		return os.Stdout, io.NopCloser(nil), nil
	case "stderr":
		return os.Stderr, io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f, nil
}
