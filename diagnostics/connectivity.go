package diagnostics

import (
	"sort"
	"sync"
	"time"
)

// Window is how long call history is kept.
const Window = time.Hour

// Call is one dial or request against a remote endpoint.
type Call struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

type endpoint struct {
	service string
	url     string
	calls   []Call
}

// Summary is the health view of one endpoint over Window.
type Summary struct {
	Service      string    `json:"service"`
	URL          string    `json:"url"`
	Status       string    `json:"status"` // healthy, degraded or unhealthy
	LastCall     time.Time `json:"last_call"`
	TotalCalls   int       `json:"total_calls_1h"`
	SuccessRate  float64   `json:"success_rate_1h"`
	LatencyP50   int64     `json:"latency_p50_ms"`
	LatencyP95   int64     `json:"latency_p95_ms"`
	LatencyP99   int64     `json:"latency_p99_ms"`
	RecentErrors []string  `json:"recent_errors"`
}

// ConnectivityTracker records dial and request outcomes per service.
type ConnectivityTracker struct {
	mu        sync.Mutex
	now       func() time.Time
	endpoints map[string]*endpoint
}

func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		now:       time.Now,
		endpoints: make(map[string]*endpoint),
	}
}

// TrackSuccess records a successful call.
func (t *ConnectivityTracker) TrackSuccess(service, url string, latency time.Duration) {
	t.track(service, url, Call{Success: true, Latency: latency})
}

// TrackFailure records a failed call.
func (t *ConnectivityTracker) TrackFailure(service, url string, latency time.Duration, errorMsg string) {
	t.track(service, url, Call{Success: false, Latency: latency, Error: errorMsg})
}

func (t *ConnectivityTracker) track(service, url string, call Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	call.Timestamp = now

	ep, ok := t.endpoints[service]
	if !ok {
		ep = &endpoint{service: service}
		t.endpoints[service] = ep
	}
	ep.url = url
	ep.calls = append(ep.calls, call)
	prune(ep, now.Add(-Window))
}

func prune(ep *endpoint, cutoff time.Time) {
	for i, call := range ep.calls {
		if call.Timestamp.After(cutoff) {
			ep.calls = ep.calls[i:]
			return
		}
	}
	ep.calls = ep.calls[:0]
}

// Summaries returns one Summary per service with calls in the window,
// sorted by service name.
func (t *ConnectivityTracker) Summaries() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().UTC().Add(-Window)
	out := make([]Summary, 0, len(t.endpoints))

	for _, ep := range t.endpoints {
		prune(ep, cutoff)
		if len(ep.calls) == 0 {
			continue
		}

		var successCount int
		var lastCall time.Time
		latencies := make([]float64, 0, len(ep.calls))
		recentErrors := make([]string, 0)

		for _, call := range ep.calls {
			if call.Success {
				successCount++
			} else if len(recentErrors) < 5 {
				recentErrors = append(recentErrors, call.Error)
			}
			latencies = append(latencies, float64(call.Latency.Milliseconds()))
			if call.Timestamp.After(lastCall) {
				lastCall = call.Timestamp
			}
		}

		successRate := float64(successCount) / float64(len(ep.calls))
		sort.Float64s(latencies)

		status := "healthy"
		if successRate < 0.9 {
			status = "unhealthy"
		} else if successRate < 0.95 {
			status = "degraded"
		}

		out = append(out, Summary{
			Service:      ep.service,
			URL:          ep.url,
			Status:       status,
			LastCall:     lastCall,
			TotalCalls:   len(ep.calls),
			SuccessRate:  successRate,
			LatencyP50:   int64(percentile(latencies, 0.50)),
			LatencyP95:   int64(percentile(latencies, 0.95)),
			LatencyP99:   int64(percentile(latencies, 0.99)),
			RecentErrors: recentErrors,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
