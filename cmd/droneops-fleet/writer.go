package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/logging"
	"droneops-fleet/internal/sink"
)

// Output modes of the serve and replay commands.
const (
	outputAuto  = "auto"
	outputJSON  = "json"
	outputColor = "color"
	outputTUI   = "tui"
	outputNone  = "none"
)

// newWriters builds the status sink from the output mode and the
// configured backends. It returns the writer, the logger to use from now on
// and a cleanup function closing everything. With the TUI the logger and
// slog's default write into its viewport, before any backend is built.
func newWriters(cfg *config.FleetConfig, output, logFile string, log *slog.Logger) (sink.StatusWriter, *slog.Logger, func(), error) {
	var writers []sink.StatusWriter
	console, err := consoleWriter(cfg, output)
	if err != nil {
		return nil, nil, nil, err
	}
	if tw, ok := console.(*sink.TUIWriter); ok {
		log = redirectLogs(tw.LogWriter(), cfg.LogLevel)
	}
	if console != nil {
		writers = append(writers, console)
	}

	if cfg.Greptime.Endpoint != "" {
		gw, err := sink.NewGreptimeDBWriter(cfg.Greptime.Endpoint, cfg.Greptime.Database, cfg.Greptime.Table, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("greptime writer: %w", err)
		}
		writers = append(writers, gw)
	}
	if cfg.Redis.Addr != "" {
		rw, err := sink.NewRedisWriter(cfg.Redis.Addr, cfg.Redis.Prefix, cfg.TTL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis writer: %w", err)
		}
		writers = append(writers, rw)
	}
	if logFile != "" {
		fw, err := sink.NewFileWriter(logFile)
		if err != nil {
			return nil, nil, nil, err
		}
		writers = append(writers, fw)
	}

	switch len(writers) {
	case 0:
		return sink.Nop{}, log, func() {}, nil
	case 1:
		w := writers[0]
		return w, log, func() { closeWriter(w, log) }, nil
	default:
		mw := sink.NewMultiWriter(writers...)
		return mw, log, func() { closeWriter(mw, log) }, nil
	}
}

// redirectLogs sends all logging, slog's default included, to w.
func redirectLogs(w io.Writer, level string) *slog.Logger {
	log := logging.NewWithWriter(w, level, "text")
	slog.SetDefault(log)
	return log
}

func consoleWriter(cfg *config.FleetConfig, output string) (sink.StatusWriter, error) {
	isTerm := term.IsTerminal(int(os.Stdout.Fd()))
	switch output {
	case outputAuto, "":
		return sink.NewStdoutWriter(cfg, isTerm), nil
	case outputJSON:
		return sink.NewJSONStdoutWriter(), nil
	case outputColor:
		return sink.NewColorStdoutWriter(cfg), nil
	case outputTUI:
		if !isTerm {
			return nil, fmt.Errorf("tui output needs a terminal")
		}
		return sink.NewTUIWriter(cfg), nil
	case outputNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown output %q", output)
	}
}

func closeWriter(w sink.StatusWriter, log *slog.Logger) {
	c, ok := w.(interface{ Close() error })
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("closing status writer", "err", err)
	}
}
