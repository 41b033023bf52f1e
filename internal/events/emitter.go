package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrTerminated is returned by emitters once a terminal event was written
var ErrTerminated = errors.New("event stream already terminated")

// Emitter is the single sink the phase controller writes events to. The
// controller does not know whether the events stream out or accumulate.
type Emitter interface {
	Emit(Event) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Event) error

func (f EmitterFunc) Emit(e Event) error {
	return f(e)
}

// StreamEmitter writes each event as one JSON line and flushes it immediately
type StreamEmitter struct {
	mu         sync.Mutex
	w          io.Writer
	flusher    http.Flusher
	terminated bool
}

// NewStreamEmitter wraps w. When w is an http.ResponseWriter that supports
// flushing, every event is pushed to the client as soon as it is written.
func NewStreamEmitter(w io.Writer) *StreamEmitter {
	s := &StreamEmitter{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// WriteStreamHeaders sets the headers of a streamed event response
func WriteStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

func (s *StreamEmitter) Emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return ErrTerminated
	}

	buf := getBuffer()
	defer putBuffer(buf)

	// Encode appends the newline delimiter
	if err := json.NewEncoder(buf).Encode(e); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}

	if e.IsTerminal() {
		s.terminated = true
	}
	return nil
}

// Terminated reports whether a terminal event has been written
func (s *StreamEmitter) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Accumulator keeps events in memory for callers that cannot stream.
// Its terminal event is the single-object fallback response.
type Accumulator struct {
	mu       sync.Mutex
	events   []Event
	terminal *Event
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) Emit(e Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.terminal != nil {
		return ErrTerminated
	}
	a.events = append(a.events, e)
	if e.IsTerminal() {
		t := e
		a.terminal = &t
	}
	return nil
}

// Events returns a copy of every event received so far
func (a *Accumulator) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

// Terminal returns the terminal event, if one was emitted
func (a *Accumulator) Terminal() (Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminal == nil {
		return Event{}, false
	}
	return *a.terminal, true
}

// WriteJSON writes the terminal event as a single JSON object
func (a *Accumulator) WriteJSON(w http.ResponseWriter, status int) error {
	t, ok := a.Terminal()
	if !ok {
		return fmt.Errorf("no terminal event to write")
	}
	return WriteSingle(w, status, t)
}

// WriteSingle writes e as a complete, non-streamed JSON response
func WriteSingle(w http.ResponseWriter, status int, e Event) error {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(e); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// Observe returns an emitter that calls fn for every event before
// forwarding it to next
func Observe(next Emitter, fn func(Event)) Emitter {
	return EmitterFunc(func(e Event) error {
		fn(e)
		return next.Emit(e)
	})
}
