package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opsboard/livehub-go/pkg/log"
)

// eventSink receives exported events; flush is called once at the end.
type eventSink interface {
	write(log.Event) error
	flush() error
}

// RunExport exports the events of path that match filter as jsonl or csv.
// An empty output writes to stdout.
func RunExport(path string, filter log.Filter, format, output string) error {
	newSink, ok := exportFormats[format]
	if !ok {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	sink, err := newSink(w)
	if err != nil {
		return err
	}
	if _, err := log.Scan(path, filter, sink.write); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return sink.flush()
}

var exportFormats = map[string]func(io.Writer) (eventSink, error){
	"jsonl": func(w io.Writer) (eventSink, error) { return jsonlSink{json.NewEncoder(w)}, nil },
	"csv":   newCSVSink,
}

type jsonlSink struct{ enc *json.Encoder }

func (s jsonlSink) write(e log.Event) error { return s.enc.Encode(e) }
func (jsonlSink) flush() error              { return nil }

// csvColumns are the flattened event fields, in output order.
var csvColumns = []struct {
	name  string
	value func(log.Event) string
}{
	{"timestamp", func(e log.Event) string { return e.Timestamp.UTC().Format(time.RFC3339Nano) }},
	{"connection_id", func(e log.Event) string { return e.ConnectionID }},
	{"endpoint", func(e log.Event) string { return e.Endpoint }},
	{"entity_id", func(e log.Event) string { return e.EntityID }},
	{"direction", func(e log.Event) string { return e.Direction.String() }},
	{"layer", func(e log.Event) string { return e.Layer.String() }},
	{"category", func(e log.Event) string { return e.Category.String() }},
	{"type", eventKind},
	{"target", func(e log.Event) string {
		if e.Message == nil {
			return ""
		}
		return e.Message.Target
	}},
	{"invocation_id", func(e log.Event) string {
		if e.Message == nil {
			return ""
		}
		return e.Message.InvocationID
	}},
	{"status", func(e log.Event) string {
		if e.Message == nil || e.Message.Status == nil {
			return ""
		}
		return e.Message.Status.String()
	}},
	{"error", func(e log.Event) string {
		switch {
		case e.Error != nil:
			return e.Error.Message
		case e.Message != nil:
			return e.Message.Error
		}
		return ""
	}},
}

// eventKind names the payload an event carries.
func eventKind(e log.Event) string {
	switch {
	case e.Frame != nil:
		return "frame"
	case e.Message != nil:
		return e.Message.Type.String()
	case e.StateChange != nil:
		return "state"
	case e.ControlMsg != nil:
		return e.ControlMsg.Type.String()
	case e.Error != nil:
		return "error"
	}
	return "unknown"
}

type csvSink struct {
	w   *csv.Writer
	row []string
}

func newCSVSink(w io.Writer) (eventSink, error) {
	s := &csvSink{w: csv.NewWriter(w), row: make([]string, len(csvColumns))}
	for i, c := range csvColumns {
		s.row[i] = c.name
	}
	if err := s.w.Write(s.row); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return s, nil
}

func (s *csvSink) write(e log.Event) error {
	for i, c := range csvColumns {
		s.row[i] = c.value(e)
	}
	return s.w.Write(s.row)
}

func (s *csvSink) flush() error {
	s.w.Flush()
	return s.w.Error()
}
