// Package logging points the standard logger at stderr and, when configured, a
// rotating file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"crashgame/internal/config"
)

// Setup installs the log output described by cfg. The returned closer flushes
// the rotating file and is a no-op when no file is configured.
func Setup(cfg config.Log) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	rotate := NewRotator(cfg)
	log.SetOutput(io.MultiWriter(os.Stderr, rotate))
	log.Printf("[SERVER] Logging to %s", cfg.File)
	return rotate
}

func NewRotator(cfg config.Log) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		LocalTime:  cfg.LocalTime,
		Compress:   cfg.Compress,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
