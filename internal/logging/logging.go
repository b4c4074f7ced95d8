package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"bingo-coordinator/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	writerMu sync.RWMutex
	writer   io.Writer = os.Stdout
	closer   io.Closer
)

// Init configures the global zerolog logger. When cfg.File is set, records go
// to stdout and to a size-capped file.
func Init(cfg config.LogConfig) error {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var stdout io.Writer = os.Stdout
	if cfg.Pretty {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	out := stdout
	raw := io.Writer(os.Stdout)
	var c io.Closer
	if cfg.File != "" {
		fw, err := newSizeLimitedWriter(cfg.File, cfg.MaxMB)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(stdout, fw)
		raw = io.MultiWriter(os.Stdout, fw)
		c = fw
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger

	writerMu.Lock()
	prev := closer
	writer, closer = raw, c
	writerMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Writer is the raw sink shared with non-zerolog loggers such as the
// HTTP request logger.
func Writer() io.Writer {
	writerMu.RLock()
	defer writerMu.RUnlock()
	return writer
}

func Close() error {
	writerMu.Lock()
	defer writerMu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	writer = os.Stdout
	return err
}
