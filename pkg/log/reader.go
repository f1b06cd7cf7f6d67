package log

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrTruncated is returned when a capture ends in the middle of an event,
// as happens when the writing process was killed before its last flush.
var ErrTruncated = errors.New("log: capture ends with a partial event")

// Filter selects events. Zero fields match everything; set fields must all
// match. The time range is half-open: [TimeStart, TimeEnd).
type Filter struct {
	ConnectionID string
	Endpoint     string
	EntityID     string

	Direction *Direction
	Layer     *Layer
	Category  *Category

	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Match reports whether event passes the filter.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && f.ConnectionID != event.ConnectionID,
		f.Endpoint != "" && f.Endpoint != event.Endpoint,
		f.EntityID != "" && f.EntityID != event.EntityID:
		return false
	case f.Direction != nil && *f.Direction != event.Direction,
		f.Layer != nil && *f.Layer != event.Layer,
		f.Category != nil && *f.Category != event.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart),
		f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader streams events out of a capture file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
	read   int
}

// NewReader opens a capture for reading every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture and yields only events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.dec.Decode(&event)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Event{}, fmt.Errorf("after %d events: %w", r.read, ErrTruncated)
		default:
			return Event{}, fmt.Errorf("event %d: %w", r.read+1, err)
		}
		r.read++
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Events iterates the remaining matching events. Iteration stops after the
// first error, which is yielded with a zero Event.
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			event, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// Read returns how many events were decoded so far, matching or not.
func (r *Reader) Read() int { return r.read }

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Scan opens path and calls fn for every event that matches filter. It
// returns the number of events passed to fn. An error from fn stops the
// scan and is returned as is.
func Scan(path string, filter Filter, fn func(Event) error) (int, error) {
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for event, err := range r.Events() {
		if err != nil {
			return n, err
		}
		if err := fn(event); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
