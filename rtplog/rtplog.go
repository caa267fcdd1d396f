// Package rtplog wires the engine's event log around zerolog: a
// package-level logger with contextual fields rather than a bespoke
// logging abstraction.
package rtplog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide event log. Console output and an
// optional event-log file (set via Init) are both fed from here.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// Init configures the global Logger to also append to an event log
// file: timestamped, leveled messages alongside the console output.
func Init(eventLogPath string, debug bool) (io.Closer, error) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	if eventLogPath == "" {
		Logger = zerolog.New(console).With().Timestamp().Logger()
		return nopCloser{}, nil
	}

	f, err := os.OpenFile(eventLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	multi := zerolog.MultiLevelWriter(console, f)
	Logger = zerolog.New(multi).With().Timestamp().Logger()
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Burst is a token-bucket style de-duplicator for "at most once per
// interval" warnings, e.g. queue-full and codec-create failure
// messages.
type Burst struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	interval time.Duration
}

func NewBurst(interval time.Duration) *Burst {
	return &Burst{seen: make(map[string]time.Time), interval: interval}
}

// Allow reports whether a message keyed by key should be emitted now,
// recording the time if so and suppressing repeats within interval.
func (b *Burst) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	last, ok := b.seen[key]
	if ok && now.Sub(last) < b.interval {
		return false
	}
	b.seen[key] = now
	return true
}
