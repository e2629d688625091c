// Package metrics provides lightweight counters for the Symphony adapter in
// Prometheus exposition format, without pulling in prometheus/client_golang.
// Host applications may mount Handler() wherever they expose metrics.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

var (
	mu        sync.Mutex
	counters  []*Counter
	startTime = time.Now()
)

// NewCounter registers a counter under the given exposition name.
func NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	mu.Lock()
	counters = append(counters, c)
	mu.Unlock()
	return c
}

// Adapter-wide counters.
var (
	MessagesReceived = NewCounter("symphony_messages_received_total", "Inbound messages delivered to the application")
	MessagesSent     = NewCounter("symphony_messages_sent_total", "Outbound messages delivered to Symphony")
	SendRetries      = NewCounter("symphony_send_retries_total", "Outbound send attempts beyond the first")
	SendFailures     = NewCounter("symphony_send_failures_total", "Outbound messages that failed terminally")
	PresenceUpdates  = NewCounter("symphony_presence_updates_total", "Presence status changes published")
	DatafeedConnects = NewCounter("symphony_datafeed_connects_total", "Datafeed create or reconnect operations")
)

// Handler returns an http.Handler rendering all counters in Prometheus text
// format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		mu.Lock()
		snapshot := make([]*Counter, len(counters))
		copy(snapshot, counters)
		mu.Unlock()

		sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].name < snapshot[j].name })
		for _, c := range snapshot {
			fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
			fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
		}
		fmt.Fprintf(w, "# HELP symphony_adapter_uptime_seconds Seconds since the adapter package was loaded\n")
		fmt.Fprintf(w, "# TYPE symphony_adapter_uptime_seconds gauge\n")
		fmt.Fprintf(w, "symphony_adapter_uptime_seconds %.0f\n", time.Since(startTime).Seconds())
	})
}
