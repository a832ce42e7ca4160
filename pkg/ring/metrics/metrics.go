// Package metrics exposes counters and gauges for the monitor and station
// processes using VictoriaMetrics's lightweight metrics library, the same
// one used for the transport's own instrumentation in the teacher
// codebase this project is adapted from.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Monitor groups every counter/gauge the monitor process exposes.
type Monitor struct {
	set *metrics.Set

	stationsConnected atomic.Int64
	StationsConnected *metrics.Gauge
	RoundsCompleted   *metrics.Counter
	TokenTimeouts     *metrics.Counter
}

// NewMonitor constructs a fresh metric set, registering every series.
func NewMonitor() *Monitor {
	s := metrics.NewSet()
	m := &Monitor{set: s}
	m.StationsConnected = s.NewGauge("ringd_stations_connected", func() float64 {
		return float64(m.stationsConnected.Load())
	})
	m.RoundsCompleted = s.NewCounter("ringd_rounds_completed_total")
	m.TokenTimeouts = s.NewCounter("ringd_token_timeouts_total")
	return m
}

// SetStationsConnected updates the stations-connected gauge to n. The
// underlying metrics.Gauge is callback-based, so the live value is kept in
// an atomic int that the callback reads.
func (m *Monitor) SetStationsConnected(n int) {
	m.stationsConnected.Store(int64(n))
}

// PacketsReceived returns (creating if needed) the received-packet
// counter for the given packet type label.
func (m *Monitor) PacketsReceived(kind string) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`ringd_packets_received_total{type=%q}`, kind))
}

// PacketsSent returns the sent-packet counter for the given packet type.
func (m *Monitor) PacketsSent(kind string) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`ringd_packets_sent_total{type=%q}`, kind))
}

// PacketsDropped returns the dropped-packet counter for the given drop
// reason.
func (m *Monitor) PacketsDropped(reason string) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`ringd_packets_dropped_total{reason=%q}`, reason))
}

// JoinDenied returns the join-denied counter for the given reason.
func (m *Monitor) JoinDenied(reason string) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`ringd_join_denied_total{reason=%q}`, reason))
}

// WritePrometheus writes every registered series in Prometheus text
// exposition format.
func (m *Monitor) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Handler returns an http.Handler serving this set at GET /metrics.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.WritePrometheus(w)
	})
}

// Station groups the counters a passive station process exposes.
type Station struct {
	set *metrics.Set

	FramesStaged *metrics.Counter
	TokensHeld   *metrics.Counter
}

// NewStation constructs a fresh metric set for a station process.
func NewStation() *Station {
	s := metrics.NewSet()
	return &Station{
		set:          s,
		FramesStaged: s.NewCounter("ringjoin_frames_staged_total"),
		TokensHeld:   s.NewCounter("ringjoin_tokens_held_total"),
	}
}

func (m *Station) PacketsReceived(kind string) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`ringjoin_packets_received_total{type=%q}`, kind))
}

func (m *Station) PacketsSent(kind string) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`ringjoin_packets_sent_total{type=%q}`, kind))
}

func (m *Station) WritePrometheus(w io.Writer) { m.set.WritePrometheus(w) }

func (m *Station) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.WritePrometheus(w)
	})
}
