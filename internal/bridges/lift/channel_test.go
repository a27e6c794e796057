package lift

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOpen_RetriesUntilConnected(t *testing.T) {
	port := &fakePort{}
	open, calls := openFake(port, 2)
	logger := &recordingLogger{}

	ch, err := Open(context.Background(), ChannelConfig{
		Port:       "/dev/ttyACM0",
		BaudRate:   9600,
		RetryDelay: time.Millisecond,
	}, open, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ch.Close()

	if calls.Load() != 3 {
		t.Errorf("open called %d times, want 3", calls.Load())
	}
	stats := ch.Stats()
	if stats.ConnectAttempts != 3 {
		t.Errorf("ConnectAttempts = %d, want 3", stats.ConnectAttempts)
	}
	if !stats.Connected || stats.ConnectedAt.IsZero() {
		t.Errorf("stats after open = %+v, want connected", stats)
	}
	if logger.count("warn") != 2 {
		t.Errorf("warn entries = %d, want 2 (one per failed attempt)", logger.count("warn"))
	}
	if ch.PortName() != "/dev/ttyACM0" {
		t.Errorf("PortName() = %q", ch.PortName())
	}
}

func TestOpen_CancelledWhileRetrying(t *testing.T) {
	open, _ := openFake(&fakePort{}, 1<<30)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	ch, err := Open(ctx, ChannelConfig{Port: "COM3", RetryDelay: 5 * time.Millisecond}, open, nil)
	if ch != nil {
		t.Error("Open() returned a channel after cancellation")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Open() error = %v, want DeadlineExceeded", err)
	}
}

func TestChannel_NextByte(t *testing.T) {
	ch, port := openTestChannel(t)
	port.feed("ok")

	b, ok, err := ch.NextByte()
	if err != nil || !ok || b != 'o' {
		t.Fatalf("NextByte() = %q, %v, %v; want 'o', true, nil", b, ok, err)
	}
	b, ok, err = ch.NextByte()
	if err != nil || !ok || b != 'k' {
		t.Fatalf("NextByte() = %q, %v, %v; want 'k', true, nil", b, ok, err)
	}

	// Idle line
	_, ok, err = ch.NextByte()
	if err != nil || ok {
		t.Fatalf("NextByte() on idle port = ok %v, err %v; want false, nil", ok, err)
	}

	if got := ch.Stats().BytesRx; got != 2 {
		t.Errorf("BytesRx = %d, want 2", got)
	}
}

func TestChannel_NextByteError(t *testing.T) {
	ch, port := openTestChannel(t)
	port.failNextRead(errDeviceGone)

	_, _, err := ch.NextByte()
	if !errors.Is(err, ErrReadFailed) {
		t.Errorf("error = %v, want ErrReadFailed", err)
	}
	if !errors.Is(err, errDeviceGone) {
		t.Errorf("error = %v, want wrapped device error", err)
	}
	if ch.Stats().ReadErrors != 1 {
		t.Errorf("ReadErrors = %d, want 1", ch.Stats().ReadErrors)
	}

	// Same handle keeps working
	port.feed("x")
	b, ok, err := ch.NextByte()
	if err != nil || !ok || b != 'x' {
		t.Errorf("NextByte() after error = %q, %v, %v", b, ok, err)
	}
}

func TestChannel_Write(t *testing.T) {
	ch, port := openTestChannel(t)

	n, err := ch.Write([]byte("GOTO:2\n"))
	if err != nil || n != 7 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if port.writtenString() != "GOTO:2\n" {
		t.Errorf("written = %q", port.writtenString())
	}

	stats := ch.Stats()
	if stats.Writes != 1 || stats.BytesTx != 7 {
		t.Errorf("stats = %+v, want 1 write, 7 bytes", stats)
	}
}

func TestChannel_WriteError(t *testing.T) {
	ch, port := openTestChannel(t)
	port.writeErr = errDeviceGone

	_, err := ch.Write([]byte("GOTO:1\n"))
	if !errors.Is(err, errDeviceGone) {
		t.Errorf("Write() error = %v, want device error", err)
	}
	if ch.Stats().WriteErrors != 1 {
		t.Errorf("WriteErrors = %d, want 1", ch.Stats().WriteErrors)
	}
}

func TestChannel_ConcurrentWritesDoNotInterleave(t *testing.T) {
	ch, port := openTestChannel(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ch.Write([]byte("GOTO:12\n")); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if port.overlap.Load() {
		t.Error("port saw overlapping writes")
	}
	want := ""
	for i := 0; i < 8; i++ {
		want += "GOTO:12\n"
	}
	if port.writtenString() != want {
		t.Errorf("written = %q, want 8 whole commands", port.writtenString())
	}
}

func TestChannel_Close(t *testing.T) {
	ch, port := openTestChannel(t)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !port.closed {
		t.Error("port not closed")
	}
	if ch.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	if _, _, err := ch.NextByte(); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("NextByte() after Close error = %v", err)
	}
	if _, err := ch.Write([]byte("x")); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Write() after Close error = %v", err)
	}
}
