package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mash-protocol/opcsim-go/pkg/log"
	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Requests          map[wire.Operation]int
	Statuses          map[wire.Status]int
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}

	// Slowest is the longest request processing time seen.
	Slowest time.Duration
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	RemoteAddr string
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
}

// Collect reads every event of the capture file into Stats.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Requests:          make(map[wire.Operation]int),
		Statuses:          make(map[wire.Status]int),
		Connections:       make(map[string]*ConnectionStats),
	}

	err = forEach(reader, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	return stats, err
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

	if msg := event.Message; msg != nil {
		switch msg.Type {
		case log.MessageTypeRequest:
			if msg.Operation != nil {
				s.Requests[*msg.Operation]++
			}
		case log.MessageTypeResponse:
			if msg.Status != nil {
				s.Statuses[*msg.Status]++
			}
			if msg.ProcessingTime != nil && *msg.ProcessingTime > s.Slowest {
				s.Slowest = *msg.ProcessingTime
			}
		}
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
		if conn.RemoteAddr == "" {
			conn.RemoteAddr = event.RemoteAddr
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerService} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Requests) > 0 {
		fmt.Fprintln(w, "Requests:")
		for _, op := range []wire.Operation{wire.OpRead, wire.OpWrite, wire.OpBrowse} {
			if count := stats.Requests[op]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", op.String()+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	if len(stats.Statuses) > 0 {
		statuses := make([]wire.Status, 0, len(stats.Statuses))
		for st := range stats.Statuses {
			statuses = append(statuses, st)
		}
		sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

		fmt.Fprintln(w, "Responses:")
		for _, st := range statuses {
			fmt.Fprintf(w, "  %-24s %d\n", st.String()+":", stats.Statuses[st])
		}
		fmt.Fprintf(w, "  Slowest: %s\n", formatDuration(stats.Slowest))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
			if c.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Remote: %s\n", c.stats.RemoteAddr)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
