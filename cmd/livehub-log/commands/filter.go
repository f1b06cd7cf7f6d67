package commands

import (
	"fmt"
	"time"

	"github.com/opsboard/livehub-go/pkg/log"
)

// FilterOptions holds the filter flags shared by every command. Empty
// fields match everything.
type FilterOptions struct {
	ConnID    string
	Endpoint  string
	EntityID  string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// Filter converts the flag values to a log.Filter.
func (o FilterOptions) Filter() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.ConnID,
		Endpoint:     o.Endpoint,
		EntityID:     o.EntityID,
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := log.ParseLayer(o.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := log.ParseDirection(o.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := log.ParseCategory(o.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// RunFilter copies the events of path that match filter to output and
// returns how many were written.
func RunFilter(path string, filter log.Filter, output string) (int, error) {
	out, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("open output: %w", err)
	}
	n, err := log.Scan(path, filter, func(event log.Event) error {
		out.Log(event)
		return nil
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = out.Err()
	}
	if err != nil {
		return n, fmt.Errorf("filter %s: %w", path, err)
	}
	return n, nil
}
