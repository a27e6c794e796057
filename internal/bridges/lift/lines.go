package lift

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// Line assembly defaults.
const (
	// DefaultPollInterval is the pause after an empty read.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultMaxLineLength caps one line in bytes.
	DefaultMaxLineLength = 4096
)

// ByteSource yields single bytes with a bounded wait. *Channel implements it.
type ByteSource interface {
	NextByte() (b byte, ok bool, err error)
}

// LineConfig configures a LineAssembler.
type LineConfig struct {
	// PollInterval is the sleep after an empty read. Default: 10ms.
	PollInterval time.Duration

	// MaxLineLength caps one line in bytes. An overlong line is dropped
	// through its terminating newline. 0 disables the cap.
	MaxLineLength int
}

// LineAssembler turns the device byte stream into trimmed text lines.
//
// It keeps one accumulation buffer which is reset after every newline.
// Read errors are handed back to the caller without touching the buffer, so
// a line interrupted by a transient error continues where it left off.
//
// Not safe for concurrent use.
type LineAssembler struct {
	src          ByteSource
	pollInterval time.Duration
	maxLen       int

	buf        []byte
	discarding bool

	overlong atomic.Uint64
}

// NewLineAssembler creates a LineAssembler reading from src.
func NewLineAssembler(src ByteSource, cfg LineConfig) *LineAssembler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &LineAssembler{
		src:          src,
		pollInterval: cfg.PollInterval,
		maxLen:       cfg.MaxLineLength,
		buf:          make([]byte, 0, 256),
	}
}

// Next blocks until a complete line is available and returns it with
// surrounding whitespace removed and invalid UTF-8 dropped. Blank lines are
// returned as "".
//
// It returns ctx.Err() on cancellation and a wrapped ErrReadFailed when the
// source fails; in both cases the partial line is kept.
func (a *LineAssembler) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		b, ok, err := a.src.NextByte()
		if err != nil {
			return "", err
		}
		if !ok {
			if err := sleepCtx(ctx, a.pollInterval); err != nil {
				return "", err
			}
			continue
		}

		if b == '\n' {
			if a.discarding {
				a.discarding = false
				a.buf = a.buf[:0]
				continue
			}
			line := strings.TrimSpace(strings.ToValidUTF8(string(a.buf), ""))
			a.buf = a.buf[:0]
			return line, nil
		}

		if a.discarding {
			continue
		}

		a.buf = append(a.buf, b)
		if a.maxLen > 0 && len(a.buf) > a.maxLen {
			a.overlong.Add(1)
			a.discarding = true
			a.buf = a.buf[:0]
		}
	}
}

// Pending returns the number of bytes buffered for the current line.
func (a *LineAssembler) Pending() int {
	return len(a.buf)
}

// Overlong returns how many lines were dropped for exceeding the cap.
func (a *LineAssembler) Overlong() uint64 {
	return a.overlong.Load()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
