package lift

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestAssembler(src ByteSource, maxLen int) *LineAssembler {
	return NewLineAssembler(src, LineConfig{PollInterval: time.Millisecond, MaxLineLength: maxLen})
}

func collectLines(t *testing.T, a *LineAssembler, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := a.Next(ctx)
		if err != nil {
			t.Fatalf("Next() #%d error = %v (lines so far %q)", i, err, lines)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestLineAssembler_Lines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single line",
			input: "{\"floor\":1}\n",
			want:  []string{`{"floor":1}`},
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "  {\"door\":1}\t \n",
			want:  []string{`{"door":1}`},
		},
		{
			name:  "CRLF endings",
			input: "READY\r\n{\"dir\":-1}\r\n",
			want:  []string{"READY", `{"dir":-1}`},
		},
		{
			name:  "no cross-line contamination",
			input: "AAAA\nB\n\nC\n",
			want:  []string{"AAAA", "B", "", "C"},
		},
		{
			name:  "invalid UTF-8 dropped",
			input: "ab\xffc\xfe\n",
			want:  []string{"abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssembler(newScriptedSource(tt.input), DefaultMaxLineLength)
			got := collectLines(t, a, len(tt.want))
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
			if a.Pending() != 0 {
				t.Errorf("Pending() = %d after last newline, want 0", a.Pending())
			}
		})
	}
}

func TestLineAssembler_TimeoutsDoNotSplitLines(t *testing.T) {
	src := newScriptedSource("{\"fl")
	src.push(sourceEvent{}, sourceEvent{}, sourceEvent{})
	src.pushString("oor\":3}\n")

	a := newTestAssembler(src, 0)
	got := collectLines(t, a, 1)

	if got[0] != `{"floor":3}` {
		t.Errorf("line = %q, want %q", got[0], `{"floor":3}`)
	}
}

func TestLineAssembler_ReadErrorKeepsBuffer(t *testing.T) {
	src := newScriptedSource("{\"door\"")
	src.push(sourceEvent{err: errDeviceGone})
	src.pushString(":1}\n")

	a := newTestAssembler(src, 0)
	ctx := context.Background()

	_, err := a.Next(ctx)
	if !errors.Is(err, errDeviceGone) {
		t.Fatalf("Next() error = %v, want device error", err)
	}
	if a.Pending() != len(`{"door"`) {
		t.Errorf("Pending() = %d after error, want %d", a.Pending(), len(`{"door"`))
	}

	line, err := a.Next(ctx)
	if err != nil {
		t.Fatalf("Next() after error = %v", err)
	}
	if line != `{"door":1}` {
		t.Errorf("line = %q, want %q", line, `{"door":1}`)
	}
}

func TestLineAssembler_OverlongLineDropped(t *testing.T) {
	a := newTestAssembler(newScriptedSource("0123456789\nok\n"), 4)

	got := collectLines(t, a, 1)

	if got[0] != "ok" {
		t.Errorf("line = %q, want ok", got[0])
	}
	if a.Overlong() != 1 {
		t.Errorf("Overlong() = %d, want 1", a.Overlong())
	}
}

func TestLineAssembler_ExactlyMaxLength(t *testing.T) {
	a := newTestAssembler(newScriptedSource("abcd\n"), 4)

	got := collectLines(t, a, 1)

	if got[0] != "abcd" {
		t.Errorf("line = %q, want abcd", got[0])
	}
	if a.Overlong() != 0 {
		t.Errorf("Overlong() = %d, want 0", a.Overlong())
	}
}

func TestLineAssembler_ContextCancel(t *testing.T) {
	a := newTestAssembler(newScriptedSource("partial"), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want DeadlineExceeded", err)
	}
	if a.Pending() != len("partial") {
		t.Errorf("Pending() = %d, want %d", a.Pending(), len("partial"))
	}
}
