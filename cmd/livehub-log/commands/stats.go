package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// Stats aggregates a capture. The by-* maps are keyed by enum value.
type Stats struct {
	TotalEvents       int                         `json:"total_events"`
	EventsByLayer     map[log.Layer]int           `json:"by_layer"`
	EventsByCategory  map[log.Category]int        `json:"by_category"`
	EventsByDirection map[log.Direction]int       `json:"by_direction"`
	Connections       map[string]*ConnectionStats `json:"connections"`
	Entities          map[string]*EntityStats     `json:"entities"`
	Errors            int                         `json:"errors"`
	TimeRange         struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"time_range"`
}

// ConnectionStats covers one connection ID.
type ConnectionStats struct {
	Endpoint  string    `json:"endpoint"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Events    int       `json:"events"`
	Pushes    int       `json:"pushes"`
	Calls     int       `json:"calls"`
}

// EntityStats is the subscription history of one entity.
type EntityStats struct {
	Subscribes   int  `json:"subscribes"`
	Unsubscribes int  `json:"unsubscribes"`
	Rejected     bool `json:"rejected"`
}

// Reconnects counts the connections after the first one per endpoint.
func (s *Stats) Reconnects() int {
	endpoints := make(map[string]int)
	for _, c := range s.Connections {
		endpoints[c.Endpoint]++
	}
	n := 0
	for _, count := range endpoints {
		n += count - 1
	}
	return n
}

// ComputeStats reads path and aggregates the events that match filter.
func ComputeStats(path string, filter log.Filter) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Entities:          make(map[string]*EntityStats),
	}
	if _, err := log.Scan(path, filter, func(event log.Event) error {
		stats.add(event)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("stats %s: %w", path, err)
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.ConnectionID != "" {
		conn, ok := s.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if conn.Endpoint == "" {
			conn.Endpoint = event.Endpoint
		}
		if m := event.Message; m != nil && m.Type == wire.MessageTypeInvocation {
			if m.InvocationID == "" {
				conn.Pushes++
			} else if event.Direction == log.DirectionOut {
				conn.Calls++
			}
		}
	}

	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntitySubscription && event.EntityID != "" {
		e, ok := s.Entities[event.EntityID]
		if !ok {
			e = &EntityStats{}
			s.Entities[event.EntityID] = e
		}
		switch sc.NewState {
		case "SUBSCRIBED":
			e.Subscribes++
		case "UNSUBSCRIBED":
			e.Unsubscribes++
		case "REJECTED":
			e.Rejected = true
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

// RunStats prints a report of the events of path that match filter.
func RunStats(path string, filter log.Filter, w io.Writer) error {
	stats, err := ComputeStats(path, filter)
	if err != nil {
		return err
	}
	return stats.WriteReport(w)
}

// WriteJSON writes the statistics as one indented JSON document.
func (s *Stats) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteReport writes the statistics as aligned plain-text tables.
func (s *Stats) WriteReport(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "events:\t%d\n", s.TotalEvents)
	if s.TotalEvents > 0 {
		span := s.TimeRange.End.Sub(s.TimeRange.Start).Round(time.Second)
		fmt.Fprintf(tw, "span:\t%s .. %s (%s)\n",
			s.TimeRange.Start.Format(time.RFC3339), s.TimeRange.End.Format(time.RFC3339), span)
	}
	fmt.Fprintf(tw, "by layer:\t%s\n", counts(s.EventsByLayer, log.LayerTransport, log.LayerWire, log.LayerClient))
	fmt.Fprintf(tw, "by category:\t%s\n", counts(s.EventsByCategory, log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError))
	fmt.Fprintf(tw, "by direction:\t%s\n", counts(s.EventsByDirection, log.DirectionIn, log.DirectionOut))
	fmt.Fprintf(tw, "errors:\t%d\n", s.Errors)
	fmt.Fprintf(tw, "connections:\t%d (reconnects %d)\n", len(s.Connections), s.Reconnects())
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Connections) > 0 {
		ids := slices.SortedFunc(maps.Keys(s.Connections), func(a, b string) int {
			return s.Connections[a].FirstSeen.Compare(s.Connections[b].FirstSeen)
		})
		fmt.Fprintln(w)
		fmt.Fprintln(tw, "CONNECTION\tENDPOINT\tEVENTS\tCALLS\tPUSHES\tDURATION")
		for _, id := range ids {
			c := s.Connections[id]
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", shortID(id), orDash(c.Endpoint),
				c.Events, c.Calls, c.Pushes, c.LastSeen.Sub(c.FirstSeen).Round(time.Millisecond))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(s.Entities) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(tw, "ENTITY\tSUBSCRIBES\tUNSUBSCRIBES\tREJECTED")
		for _, id := range slices.Sorted(maps.Keys(s.Entities)) {
			e := s.Entities[id]
			rejected := "no"
			if e.Rejected {
				rejected = "yes"
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", id, e.Subscribes, e.Unsubscribes, rejected)
		}
	}
	return tw.Flush()
}

// counts renders "NAME=n" pairs in the given order, skipping zeros.
func counts[K interface {
	comparable
	String() string
}](m map[K]int, order ...K) string {
	var parts []string
	for _, k := range order {
		if n := m[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
