package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/davsync/internal/utils"
)

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// setupLogger installs the default logger. Records go to out and, when
// logFile is set, to that file as well. The returned closer is nil when no
// file was opened.
func setupLogger(out io.Writer, levelName, logFile string) (io.Closer, error) {
	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}

	noColor := true
	if f, ok := out.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	termHandler := tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})

	if logFile == "" {
		slog.SetDefault(slog.New(termHandler))
		return nil, nil
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(termHandler, fileHandler)))
	return file, nil
}
