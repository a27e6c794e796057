package lift

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/metrics"
)

// Default timings for the device channel.
const (
	// DefaultReadTimeout bounds a single byte read.
	DefaultReadTimeout = time.Second

	// DefaultRetryDelay is the pause between attempts to open the port.
	DefaultRetryDelay = 2 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Port is an open serial connection.
//
// Read must return (0, nil) when no byte arrived within the read timeout
// configured by the OpenFunc, which is how go.bug.st/serial behaves.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenFunc opens a Port for the given configuration. Failures should wrap
// ErrConnectFailed.
type OpenFunc func(cfg ChannelConfig) (Port, error)

// ChannelConfig holds the serial link configuration.
type ChannelConfig struct {
	// Port is the device path or identifier, e.g. "/dev/ttyACM0" or "COM3".
	Port string

	// BaudRate is the line rate. Default: 9600.
	BaudRate int

	// ReadTimeout bounds a single byte read. Default: 1 second.
	ReadTimeout time.Duration

	// RetryDelay is the pause between open attempts. Default: 2 seconds.
	RetryDelay time.Duration

	// LiftID labels log entries and metrics.
	LiftID string
}

// ChannelStats holds operational statistics for the device channel.
type ChannelStats struct {
	BytesRx         uint64
	BytesTx         uint64
	Writes          uint64
	WriteErrors     uint64
	ReadErrors      uint64
	ConnectAttempts uint64
	ConnectedAt     time.Time
	LastActivity    time.Time
	Connected       bool
}

// Channel is the process's single connection to the lift controller.
//
// Thread Safety:
//   - NextByte must only be called from one goroutine (the update loop).
//   - Write is safe for concurrent use; whole writes are serialised so two
//     command lines never interleave on the wire.
//
// There is no reconnection. A read failure is reported to the caller and
// the same handle is used again afterwards.
type Channel struct {
	cfg  ChannelConfig
	port Port

	readBuf [1]byte
	writeMu sync.Mutex

	closed      atomic.Bool
	connectedAt time.Time

	bytesRx         atomic.Uint64
	bytesTx         atomic.Uint64
	writes          atomic.Uint64
	writeErrors     atomic.Uint64
	readErrors      atomic.Uint64
	connectAttempts atomic.Uint64
	lastActivity    atomic.Int64 // Unix nanoseconds

	logger Logger
}

// Open blocks until the port opens, retrying every cfg.RetryDelay.
//
// Connection failures are logged and retried indefinitely. The only error
// Open returns is ctx.Err() when the context is cancelled between attempts.
//
// Parameters:
//   - ctx: Cancels the retry loop during shutdown
//   - cfg: Serial link configuration
//   - open: Opens the underlying port (OpenSerial in production)
//   - logger: Optional logger (may be nil)
//
// Returns:
//   - *Channel: Connected channel ready for use
//   - error: Only the context error
func Open(ctx context.Context, cfg ChannelConfig, open OpenFunc, logger Logger) (*Channel, error) {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	c := &Channel{
		cfg:    cfg,
		logger: logger,
	}

	for {
		c.connectAttempts.Add(1)
		c.log(func(l Logger) {
			l.Info("connecting to lift controller", "port", cfg.Port, "baud", cfg.BaudRate,
				"attempt", c.connectAttempts.Load())
		})

		port, err := open(cfg)
		metrics.RecordConnectAttempt(cfg.LiftID, err == nil)
		if err == nil {
			c.port = port
			c.connectedAt = time.Now()
			c.lastActivity.Store(c.connectedAt.UnixNano())
			c.log(func(l Logger) { l.Info("connected to lift controller", "port", cfg.Port) })
			return c, nil
		}

		c.log(func(l Logger) {
			l.Warn("serial connect failed, retrying", "port", cfg.Port, "error", err,
				"retry_in", cfg.RetryDelay)
		})

		timer := time.NewTimer(cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// NextByte reads one byte.
//
// Returns ok=false with a nil error when the read timeout elapsed without
// data. Any failure is wrapped in ErrReadFailed.
func (c *Channel) NextByte() (b byte, ok bool, err error) {
	if c.closed.Load() {
		return 0, false, ErrChannelClosed
	}

	n, err := c.port.Read(c.readBuf[:])
	if err != nil {
		c.readErrors.Add(1)
		return 0, false, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	if n == 0 {
		return 0, false, nil
	}

	c.bytesRx.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
	return c.readBuf[0], true, nil
}

// Write sends p to the device in one serialised write. It is best effort:
// failures are returned to the caller and never retried.
func (c *Channel) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.port.Write(p)
	c.bytesTx.Add(uint64(n)) //nolint:gosec // n is never negative
	if err != nil {
		c.writeErrors.Add(1)
		return n, err
	}

	c.writes.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
	return n, nil
}

// Close releases the port. Safe to call multiple times.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	metrics.SetSerialConnected(c.cfg.LiftID, false)
	return c.port.Close()
}

// IsConnected reports whether the port is open.
func (c *Channel) IsConnected() bool {
	return !c.closed.Load()
}

// PortName returns the configured device path.
func (c *Channel) PortName() string {
	return c.cfg.Port
}

// Stats returns current channel statistics.
func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		BytesRx:         c.bytesRx.Load(),
		BytesTx:         c.bytesTx.Load(),
		Writes:          c.writes.Load(),
		WriteErrors:     c.writeErrors.Load(),
		ReadErrors:      c.readErrors.Load(),
		ConnectAttempts: c.connectAttempts.Load(),
		ConnectedAt:     c.connectedAt,
		LastActivity:    time.Unix(0, c.lastActivity.Load()),
		Connected:       c.IsConnected(),
	}
}

func (c *Channel) log(fn func(Logger)) {
	if c.logger != nil {
		fn(c.logger)
	}
}
