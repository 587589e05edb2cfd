// Package logging provides the zerolog-backed implementation of
// solrupdater.Logger used throughout the pipeline.
package logging

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/indexcore/solrupdater/internal/config"
)

// ZeroLogger is the default Logger implementation.
type ZeroLogger struct {
	logger  zerolog.Logger
	sampler zerolog.Sampler
	sampled zerolog.Logger
}

// New builds a ZeroLogger from the logging config section.
func New(cfg config.LoggingConfig) *ZeroLogger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if lvl, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = lvl
		}
	}

	var w zerolog.Logger
	if cfg.Format == "console" {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	} else {
		w = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}

	var samp zerolog.Sampler
	if v := os.Getenv("SOLRUPDATER_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			samp = zerolog.RandomSampler(n)
		}
	}
	var sampled zerolog.Logger
	if samp != nil {
		sampled = w.Sample(samp)
	}
	return &ZeroLogger{logger: w, sampler: samp, sampled: sampled}
}

func (l *ZeroLogger) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

// Debug logs at debug level.
func (l *ZeroLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

// Info logs at info level.
func (l *ZeroLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs at warn level, sampled if SOLRUPDATER_LOG_SAMPLE_N is set.
func (l *ZeroLogger) Warn(msg string, keysAndValues ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Warn(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs at error level, sampled if SOLRUPDATER_LOG_SAMPLE_N is set.
func (l *ZeroLogger) Error(msg string, keysAndValues ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Error(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Error(), msg, keysAndValues...)
}
