// Package telemetry provides a JSONL event stream for build sessions. Every
// build, step and compiler fetch is recorded as a structured JSON event so
// runs can be audited and timed after the fact.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds identify the type of telemetry event.
const (
	KindBuildStart = "build_start"
	KindStepStart  = "step_start"
	KindStepDone   = "step_done"
	KindBuildDone  = "build_done"
	KindFetch      = "fetch"
	KindCacheHit   = "cache_hit"
)

// Event represents a single telemetry record. Each event carries a timestamp,
// a kind tag, and optional context identifiers (build, package, step) along
// with arbitrary structured data.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	BuildID   string    `json:"build,omitempty"`
	Package   string    `json:"package,omitempty"`
	Step      string    `json:"step,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// NewBuildID returns a fresh identifier correlating the events of one build.
func NewBuildID() string {
	return uuid.NewString()
}

// Emitter writes telemetry events to a JSONL sink. It is safe for concurrent
// use by multiple goroutines. A nil *Emitter is a valid no-op emitter.
type Emitter struct {
	w   io.Writer
	c   io.Closer
	enc *json.Encoder
	mu  sync.Mutex
	now func() time.Time
}

// NewEmitter creates a new Emitter that writes JSONL events to the file at
// path. The file is created if it does not exist, or appended to if it does.
func NewEmitter(path string) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	em := NewWriterEmitter(f)
	em.c = f
	return em, nil
}

// NewWriterEmitter creates an Emitter over an arbitrary writer. Close does
// not close w.
func NewWriterEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w, enc: json.NewEncoder(w), now: time.Now}
}

// Emit writes a single event. A zero Timestamp is filled in with the
// current time. Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now().UTC()
	}
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Record is a convenience wrapper around Emit that drops the error;
// telemetry never fails a build.
func (e *Emitter) Record(kind, buildID, pkg, step string, data any) {
	_ = e.Emit(Event{Kind: kind, BuildID: buildID, Package: pkg, Step: step, Data: data})
}

// Close flushes and closes the underlying file. Calling Close on a nil
// Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil || e.c == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.c.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}

// Decode reads every event from a JSONL stream. Blank lines are skipped;
// a malformed line aborts with its line number.
func Decode(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(text, &evt); err != nil {
			return events, fmt.Errorf("telemetry: line %d: %w", line, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("telemetry: read: %w", err)
	}
	return events, nil
}
