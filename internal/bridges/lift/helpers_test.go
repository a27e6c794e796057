package lift

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// sourceEvent is one scripted NextByte result.
type sourceEvent struct {
	b   byte
	ok  bool
	err error
}

// scriptedSource replays events, then reports timeouts forever.
type scriptedSource struct {
	mu     sync.Mutex
	events []sourceEvent
}

func newScriptedSource(s string) *scriptedSource {
	src := &scriptedSource{}
	src.pushString(s)
	return src
}

func (s *scriptedSource) pushString(str string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(str); i++ {
		s.events = append(s.events, sourceEvent{b: str[i], ok: true})
	}
}

func (s *scriptedSource) push(ev ...sourceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev...)
}

func (s *scriptedSource) NextByte() (byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, false, nil
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev.b, ev.ok, ev.err
}

// fakePort is an in-memory Port.
type fakePort struct {
	mu       sync.Mutex
	rx       []byte
	readErrs []error
	written  bytes.Buffer
	writeErr error
	closed   bool

	// Overlap detection for concurrent writes
	active  atomic.Int32
	overlap atomic.Bool
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	p.rx = append(p.rx, s...)
	p.mu.Unlock()
}

func (p *fakePort) failNextRead(err error) {
	p.mu.Lock()
	p.readErrs = append(p.readErrs, err)
	p.mu.Unlock()
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.readErrs) > 0 {
		err := p.readErrs[0]
		p.readErrs = p.readErrs[1:]
		p.mu.Unlock()
		return 0, err
	}
	if len(p.rx) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond) // stand-in for the read timeout
		return 0, nil
	}
	n := copy(buf, p.rx)
	p.rx = p.rx[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.active.Add(-1)

	p.mu.Lock()
	err := p.writeErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}

	for _, c := range b {
		p.mu.Lock()
		p.written.WriteByte(c)
		p.mu.Unlock()
		time.Sleep(10 * time.Microsecond)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// openFake returns an OpenFunc that fails `failures` times before handing out port.
func openFake(port *fakePort, failures int) (OpenFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(cfg ChannelConfig) (Port, error) {
		n := calls.Add(1)
		if int(n) <= failures {
			return nil, fmt.Errorf("%w: %s: device busy", ErrConnectFailed, cfg.Port)
		}
		return port, nil
	}, &calls
}

// openTestChannel opens a Channel on a fresh fakePort.
func openTestChannel(t *testing.T) (*Channel, *fakePort) {
	t.Helper()
	port := &fakePort{}
	open, _ := openFake(port, 0)
	ch, err := Open(context.Background(), ChannelConfig{Port: "/dev/fake", BaudRate: 9600, LiftID: "test"}, open, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch, port
}

// failingWriter always fails.
type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

var errDeviceGone = errors.New("device reports I/O error")

// logEntry is one captured log call.
type logEntry struct {
	level string
	msg   string
	kv    []any
}

// recordingLogger implements Logger and keeps every entry.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *recordingLogger) Warn(msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.add("error", msg, kv) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func (l *recordingLogger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]func(topic string, payload []byte)
	connected bool
	subErr    error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

func (m *MockMQTTClient) publishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func intPtr(v int) *int           { return &v }
func strPtr(v string) *string     { return &v }
func floatPtr(v float64) *float64 { return &v }
