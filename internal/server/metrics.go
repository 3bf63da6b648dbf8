package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics tracks relay runtime statistics with lock-free counters.
type Metrics struct {
	startTime time.Time

	TotalConnections  atomic.Int64 // websocket sessions accepted
	ActiveConnections atomic.Int64 // sessions currently registered
	TotalDisconnects  atomic.Int64 // sessions removed for any reason
	Evictions         atomic.Int64 // sessions removed because their queue was full

	MessagesRouted atomic.Int64 // send_message requests delivered
	FilesRouted    atomic.Int64 // send_file requests delivered
	FileBytes      atomic.Int64 // decoded bytes written to the upload dir
	RoutingErrors  atomic.Int64 // unknown recipient or unbound sender

	Registrations   atomic.Int64
	SuccessfulAuths atomic.Int64
	FailedAuths     atomic.Int64

	RateLimited atomic.Int64 // frames discarded by the rate limiter
	BadRequests atomic.Int64 // undecodable frames or unknown events
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a point-in-time view of all counters.
type MetricsSnapshot struct {
	Uptime            string `json:"uptime"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	ActiveConnections int64  `json:"active_connections"`
	TotalConnections  int64  `json:"total_connections"`
	TotalDisconnects  int64  `json:"total_disconnects"`
	Evictions         int64  `json:"evictions"`
	MessagesRouted    int64  `json:"messages_routed"`
	FilesRouted       int64  `json:"files_routed"`
	FileBytes         int64  `json:"file_bytes"`
	RoutingErrors     int64  `json:"routing_errors"`
	Registrations     int64  `json:"registrations"`
	SuccessfulAuths   int64  `json:"successful_auths"`
	FailedAuths       int64  `json:"failed_auths"`
	RateLimited       int64  `json:"rate_limited"`
	BadRequests       int64  `json:"bad_requests"`
}

// Snapshot returns the current value of every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		Evictions:         m.Evictions.Load(),
		MessagesRouted:    m.MessagesRouted.Load(),
		FilesRouted:       m.FilesRouted.Load(),
		FileBytes:         m.FileBytes.Load(),
		RoutingErrors:     m.RoutingErrors.Load(),
		Registrations:     m.Registrations.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		RateLimited:       m.RateLimited.Load(),
		BadRequests:       m.BadRequests.Load(),
	}
}

// LogSummary writes one metrics line to the default logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"messages", s.MessagesRouted,
		"files", s.FilesRouted,
		"evictions", s.Evictions,
	)
}

// StartPeriodicLog logs a summary every interval until done is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}

// ServeHTTP writes all counters in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP relaychat_uptime_seconds Server uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE relaychat_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "relaychat_uptime_seconds %f\n", time.Since(m.startTime).Seconds())

	write("relaychat_connections_active", "Currently registered sessions.", "gauge",
		m.ActiveConnections.Load())
	write("relaychat_connections_total", "Websocket sessions accepted.", "counter",
		m.TotalConnections.Load())
	write("relaychat_disconnects_total", "Sessions removed.", "counter",
		m.TotalDisconnects.Load())
	write("relaychat_evictions_total", "Sessions evicted for a full outbound queue.", "counter",
		m.Evictions.Load())

	write("relaychat_messages_total", "Chat messages routed.", "counter",
		m.MessagesRouted.Load())
	write("relaychat_files_total", "Files routed.", "counter",
		m.FilesRouted.Load())
	write("relaychat_file_bytes_total", "Decoded file bytes stored.", "counter",
		m.FileBytes.Load())
	write("relaychat_routing_errors_total", "Messages that could not be routed.", "counter",
		m.RoutingErrors.Load())

	write("relaychat_registrations_total", "Accounts registered.", "counter",
		m.Registrations.Load())
	write("relaychat_auth_success_total", "Successful logins.", "counter",
		m.SuccessfulAuths.Load())
	write("relaychat_auth_failed_total", "Failed logins.", "counter",
		m.FailedAuths.Load())

	write("relaychat_rate_limited_total", "Frames discarded by the rate limiter.", "counter",
		m.RateLimited.Load())
	write("relaychat_bad_requests_total", "Undecodable frames or unknown events.", "counter",
		m.BadRequests.Load())
}
