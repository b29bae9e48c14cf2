package sse

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"strings"
)

// Event is one decoded SSE record.
type Event struct {
	ID   string
	Data string
}

// Decoder reads events from a long-lived stream. It keeps its accumulators
// between calls, so Next and All may be called repeatedly on the same
// connection for as long as it stays open.
type Decoder struct {
	r *bufio.Reader

	id      string
	data    []string
	pending bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until a complete event has been read. It returns io.EOF when
// the stream ends; a trailing event without its terminating blank line is
// discarded.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return Event{}, err
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if err != nil {
				return Event{}, err
			}
			if ev, ok := d.dispatch(); ok {
				return ev, nil
			}
			continue
		}

		d.field(line)

		if err != nil {
			return Event{}, err
		}
	}
}

// All returns a lazy sequence of events. The sequence ends at io.EOF without
// yielding an error; any other read error is yielded once.
func (d *Decoder) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Event{}, err)
				}
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (d *Decoder) field(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}

	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "id":
		d.id = value
		d.pending = true
	case "data":
		d.data = append(d.data, value)
		d.pending = true
	}
}

func (d *Decoder) dispatch() (Event, bool) {
	if !d.pending {
		return Event{}, false
	}
	ev := Event{
		ID:   d.id,
		Data: strings.Join(d.data, "\n"),
	}
	d.id = ""
	d.data = d.data[:0]
	d.pending = false
	return ev, true
}
