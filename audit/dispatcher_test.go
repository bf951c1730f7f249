package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: ActionLogin, Success: true})
	}
	d.Close()

	if got := len(sink.snapshot()); got != 10 {
		t.Fatalf("delivered %d events, want 10", got)
	}
}

func TestDispatcherDisabled(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &collectSink{})
	if d != nil {
		t.Fatal("disabled config must return a nil dispatcher")
	}
	// Nil dispatcher is a no-op, not a panic.
	d.Emit(context.Background(), Event{Action: ActionLogin})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports zero drops")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer d.Close()

	// First event occupies the worker, second fills the buffer, the
	// rest must be shed without blocking.
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Action: ActionRefresh})
	}
	close(block)

	deadline := time.After(time.Second)
	for d.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected dropped events")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

type blockingSink struct {
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Emit(context.Context, Event) {
	s.once.Do(func() { <-s.release })
}

func TestWriterSinkEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		Timestamp:  time.Unix(1700000000, 0).UTC(),
		Action:     ActionRefreshReuse,
		IdentityID: "id-1",
		Success:    false,
		Error:      "refresh token reuse detected",
	})

	line := strings.TrimSpace(buf.String())
	var decoded Event
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded.Action != ActionRefreshReuse || decoded.IdentityID != "id-1" {
		t.Fatalf("decoded = %+v", decoded)
	}
}
