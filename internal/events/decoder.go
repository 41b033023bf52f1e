package events

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrIncomplete is returned when a stream ends without a terminal event.
// Callers treat it as an unknown outcome, never as success.
var ErrIncomplete = errors.New("event stream ended without a terminal event")

// Decoder turns arbitrary byte chunks into events. A chunk boundary may fall
// anywhere: the incomplete tail is kept until its newline arrives.
type Decoder struct {
	buf     []byte
	pending [][]byte // lines of a multi-line object, held until the body ends
	seen    int
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one chunk and returns the events completed by it
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	d.buf = append(d.buf, chunk...)

	var out []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		ev, ok, err := d.parseLine(line)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Finish flushes the trailing line. A body that was a single JSON object,
// even one spread over several lines, decodes as one event here.
func (d *Decoder) Finish() ([]Event, error) {
	tail := bytes.TrimSpace(d.buf)
	d.buf = nil

	if len(d.pending) > 0 {
		whole := bytes.Join(append(d.pending, tail), []byte("\n"))
		d.pending = nil
		ev, err := Parse(whole)
		if err != nil {
			return nil, fmt.Errorf("failed to parse response body: %w", err)
		}
		d.seen++
		return []Event{ev}, nil
	}

	if len(tail) == 0 {
		return nil, nil
	}
	ev, err := Parse(tail)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trailing event: %w", err)
	}
	d.seen++
	return []Event{ev}, nil
}

func (d *Decoder) parseLine(line []byte) (Event, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false, nil
	}

	if len(d.pending) > 0 {
		d.pending = append(d.pending, append([]byte(nil), line...))
		return Event{}, false, nil
	}

	ev, err := Parse(line)
	if err != nil {
		if d.seen > 0 {
			return Event{}, false, fmt.Errorf("failed to parse event line: %w", err)
		}
		if line[0] == '{' {
			// First line of a pretty-printed single object
			d.pending = append(d.pending, append([]byte(nil), line...))
		}
		// Anything else before the first event (keep-alive banners) is skipped
		return Event{}, false, nil
	}
	d.seen++
	return ev, true, nil
}

// Decode reads r to the end, calling handle for each event in order. It
// returns ErrIncomplete if no terminal event arrived.
func Decode(r io.Reader, handle func(Event) error) error {
	d := NewDecoder()
	chunk := make([]byte, 32*1024)
	terminal := false

	deliver := func(evs []Event) error {
		for _, ev := range evs {
			if terminal {
				return fmt.Errorf("event %q after terminal event", ev.Type)
			}
			if err := handle(ev); err != nil {
				return err
			}
			terminal = ev.IsTerminal()
		}
		return nil
	}

	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			evs, err := d.Feed(chunk[:n])
			if err := deliver(evs); err != nil {
				return err
			}
			if err != nil {
				return err
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return fmt.Errorf("failed to read event stream: %w", readErr)
			}
			break
		}
	}

	evs, err := d.Finish()
	if err != nil {
		return err
	}
	if err := deliver(evs); err != nil {
		return err
	}
	if !terminal {
		return ErrIncomplete
	}
	return nil
}
