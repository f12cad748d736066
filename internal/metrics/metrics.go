package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
type Collector struct {
	startedAt time.Time

	eventsTotal atomic.Uint64
	byType      sync.Map // string -> *atomic.Uint64

	aiQuotaDenied   atomic.Uint64
	aiServiceErrors atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func (c *Collector) IncEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsTotal.Add(1)
	if eventType == "" {
		eventType = "unknown"
	}
	ptr, _ := c.byType.LoadOrStore(eventType, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

// IncAIQuotaDenied counts AI calls refused locally by the rate limiter.
func (c *Collector) IncAIQuotaDenied() {
	if c == nil {
		return
	}
	c.aiQuotaDenied.Add(1)
}

// IncAIServiceError counts AI calls that reached the service and failed.
func (c *Collector) IncAIServiceError() {
	if c == nil {
		return
	}
	c.aiServiceErrors.Add(1)
}

type HandlerOptions struct {
	SessionCount  func() int
	BinEntryCount func() int
	BrokerDropped func() int64
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP safesh_up Whether the safesh server is running.\n")
		fmt.Fprint(w, "# TYPE safesh_up gauge\n")
		fmt.Fprint(w, "safesh_up 1\n")

		fmt.Fprint(w, "# HELP safesh_uptime_seconds Seconds since the server started.\n")
		fmt.Fprint(w, "# TYPE safesh_uptime_seconds gauge\n")
		fmt.Fprintf(w, "safesh_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		fmt.Fprint(w, "# HELP safesh_events_total Total number of audit events appended.\n")
		fmt.Fprint(w, "# TYPE safesh_events_total counter\n")
		fmt.Fprintf(w, "safesh_events_total %d\n", c.eventsTotal.Load())

		fmt.Fprint(w, "# HELP safesh_ai_quota_denied_total AI calls refused by the local rate limiter.\n")
		fmt.Fprint(w, "# TYPE safesh_ai_quota_denied_total counter\n")
		fmt.Fprintf(w, "safesh_ai_quota_denied_total %d\n", c.aiQuotaDenied.Load())

		fmt.Fprint(w, "# HELP safesh_ai_service_errors_total AI calls that reached the service and failed.\n")
		fmt.Fprint(w, "# TYPE safesh_ai_service_errors_total counter\n")
		fmt.Fprintf(w, "safesh_ai_service_errors_total %d\n", c.aiServiceErrors.Load())

		types := snapshotKeys(&c.byType)
		if len(types) > 0 {
			fmt.Fprint(w, "# HELP safesh_events_by_type_total Total audit events appended by type.\n")
			fmt.Fprint(w, "# TYPE safesh_events_by_type_total counter\n")
			for _, t := range types {
				ptr, _ := c.byType.Load(t)
				n := uint64(0)
				if ptr != nil {
					n = ptr.(*atomic.Uint64).Load()
				}
				fmt.Fprintf(w, "safesh_events_by_type_total{type=%q} %d\n", escapeLabelValue(t), n)
			}
		}

		if opts.SessionCount != nil {
			fmt.Fprint(w, "# HELP safesh_sessions_active Active sessions.\n")
			fmt.Fprint(w, "# TYPE safesh_sessions_active gauge\n")
			fmt.Fprintf(w, "safesh_sessions_active %d\n", opts.SessionCount())
		}

		if opts.BinEntryCount != nil {
			fmt.Fprint(w, "# HELP safesh_bin_entries Entries currently in the recycle bin.\n")
			fmt.Fprint(w, "# TYPE safesh_bin_entries gauge\n")
			fmt.Fprintf(w, "safesh_bin_entries %d\n", opts.BinEntryCount())
		}

		if opts.BrokerDropped != nil {
			fmt.Fprint(w, "# HELP safesh_broker_dropped_events_total Live events dropped on slow subscribers.\n")
			fmt.Fprint(w, "# TYPE safesh_broker_dropped_events_total counter\n")
			fmt.Fprintf(w, "safesh_broker_dropped_events_total %d\n", opts.BrokerDropped())
		}
	})
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
