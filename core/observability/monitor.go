package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is how a connection's request cycle ended.
type Outcome uint8

const (
	OutcomeSent       Outcome = iota // a handler sent a response
	OutcomeMalformed                 // unparseable request, answered 400
	OutcomeUnhandled                 // scan exhausted without a send, answered 404
	OutcomeTimedOut                  // no send before the deadline, answered 404
	OutcomeFailed                    // handler panicked, answered 500
	OutcomePeerClosed                // peer went away before a response
	numOutcomes
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnhandled:
		return "unhandled"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeFailed:
		return "failed"
	case OutcomePeerClosed:
		return "peer_closed"
	default:
		return "unknown"
	}
}

// Monitor collects per-route dispatch metrics and request outcomes. It is
// safe for concurrent use.
type Monitor struct {
	routes   sync.Map // name -> *RouteMetrics
	outcomes [numOutcomes]atomic.Uint64

	connections atomic.Int64
}

// RouteMetrics stores per-route metrics
type RouteMetrics struct {
	Name           string
	Count          atomic.Uint64
	Errors         atomic.Uint64
	TotalDuration  atomic.Uint64
	MinDuration    atomic.Uint64
	MaxDuration    atomic.Uint64
	latencyBuckets [10]atomic.Uint64
}

// NewMonitor creates a monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// RecordRequest records one completed request attributed to a route
func (m *Monitor) RecordRequest(route string, duration time.Duration, isError bool) {
	val, _ := m.routes.LoadOrStore(route, &RouteMetrics{Name: route})
	metrics := val.(*RouteMetrics)

	metrics.Count.Add(1)
	if isError {
		metrics.Errors.Add(1)
	}

	d := uint64(duration.Nanoseconds())
	metrics.TotalDuration.Add(d)
	updateMinMax(metrics, d)
	metrics.latencyBuckets[bucket(d)].Add(1)
}

// RecordOutcome counts how a request ended
func (m *Monitor) RecordOutcome(o Outcome) {
	if o < numOutcomes {
		m.outcomes[o].Add(1)
	}
}

// ConnectionOpened and ConnectionClosed track live connections
func (m *Monitor) ConnectionOpened() { m.connections.Add(1) }
func (m *Monitor) ConnectionClosed() { m.connections.Add(-1) }

func updateMinMax(m *RouteMetrics, d uint64) {
	for {
		min := m.MinDuration.Load()
		if min != 0 && d >= min {
			break
		}
		if m.MinDuration.CompareAndSwap(min, d) {
			break
		}
	}
	for {
		max := m.MaxDuration.Load()
		if d <= max {
			break
		}
		if m.MaxDuration.CompareAndSwap(max, d) {
			break
		}
	}
}

func bucket(durationNs uint64) int {
	ms := durationNs / 1_000_000
	switch {
	case ms < 1:
		return 0
	case ms < 5:
		return 1
	case ms < 10:
		return 2
	case ms < 50:
		return 3
	case ms < 100:
		return 4
	case ms < 500:
		return 5
	case ms < 1000:
		return 6
	case ms < 5000:
		return 7
	case ms < 10000:
		return 8
	default:
		return 9
	}
}

// RouteSnapshot is a point-in-time copy of RouteMetrics
type RouteSnapshot struct {
	Name    string        `json:"name"`
	Count   uint64        `json:"count"`
	Errors  uint64        `json:"errors"`
	Average time.Duration `json:"average"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Buckets [10]uint64    `json:"buckets"`
}

// Snapshot is a point-in-time view of the monitor
type Snapshot struct {
	Connections int64             `json:"connections"`
	Outcomes    map[string]uint64 `json:"outcomes"`
	Routes      []RouteSnapshot   `json:"routes"`
}

// Snapshot returns the current metrics, routes sorted by name
func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		Connections: m.connections.Load(),
		Outcomes:    make(map[string]uint64, numOutcomes),
	}
	for o := Outcome(0); o < numOutcomes; o++ {
		s.Outcomes[o.String()] = m.outcomes[o].Load()
	}

	m.routes.Range(func(_, value any) bool {
		rm := value.(*RouteMetrics)
		rs := RouteSnapshot{
			Name:   rm.Name,
			Count:  rm.Count.Load(),
			Errors: rm.Errors.Load(),
			Min:    time.Duration(rm.MinDuration.Load()),
			Max:    time.Duration(rm.MaxDuration.Load()),
		}
		if rs.Count > 0 {
			rs.Average = time.Duration(rm.TotalDuration.Load() / rs.Count)
		}
		for i := range rm.latencyBuckets {
			rs.Buckets[i] = rm.latencyBuckets[i].Load()
		}
		s.Routes = append(s.Routes, rs)
		return true
	})
	sort.Slice(s.Routes, func(i, j int) bool { return s.Routes[i].Name < s.Routes[j].Name })

	return s
}
