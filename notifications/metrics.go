package notifications

import (
	"expvar"
	"net/http"
	"strconv"
	"sync"

	events "github.com/docker/go-events"
	"github.com/docker/go-metrics"

	prometheus "github.com/rockslide/rockslide/metrics"
)

var (
	eventsCounter = prometheus.NotificationsNamespace.NewLabeledCounter("events", "The number of total events", "type", "endpoint")
	pendingGauge  = prometheus.NotificationsNamespace.NewLabeledGauge("pending", "The gauge of pending events in queue", metrics.Total, "endpoint")
	statusCounter = prometheus.NotificationsNamespace.NewLabeledCounter("status", "The number of status code", "code", "endpoint")
)

// EndpointMetrics is a snapshot of what an endpoint has done with the events
// written to it.
type EndpointMetrics struct {
	Pending   int            // events waiting in the queue
	Events    int            // events accepted by the queue
	Successes int            // posts answered with 2xx or 3xx
	Failures  int            // posts answered with any other status
	Errors    int            // posts that never got an answer
	Statuses  map[string]int // answers seen, keyed by "<code> <text>"
}

// endpointStats collects EndpointMetrics for one endpoint and mirrors them
// to prometheus. It observes both the queue and the http sink.
type endpointStats struct {
	name string

	mu sync.Mutex
	m  EndpointMetrics
}

func newEndpointStats(name string) *endpointStats {
	return &endpointStats{
		name: name,
		m:    EndpointMetrics{Statuses: make(map[string]int)},
	}
}

func statusKey(status int) string {
	return strconv.Itoa(status) + " " + http.StatusText(status)
}

func (s *endpointStats) answered(status int) {
	key := statusKey(status)
	s.m.Statuses[key]++
	statusCounter.WithValues(key, s.name).Inc(1)
}

func (s *endpointStats) accepted(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered(status)
	s.m.Successes++
	eventsCounter.WithValues("Successes", s.name).Inc(1)
}

func (s *endpointStats) refused(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered(status)
	s.m.Failures++
	eventsCounter.WithValues("Failures", s.name).Inc(1)
}

func (s *endpointStats) unreachable(error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.Errors++
	eventsCounter.WithValues("Errors", s.name).Inc(1)
}

func (s *endpointStats) queued(events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.Events++
	s.m.Pending++
	eventsCounter.WithValues("Events", s.name).Inc(1)
	pendingGauge.WithValues(s.name).Inc(1)
}

func (s *endpointStats) dequeued(events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.Pending--
	pendingGauge.WithValues(s.name).Dec(1)
}

// snapshot returns a copy safe to hand out.
func (s *endpointStats) snapshot() EndpointMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.m
	m.Statuses = make(map[string]int, len(s.m.Statuses))
	for k, v := range s.m.Statuses {
		m.Statuses[k] = v
	}
	return m
}

// endpoints lists the running endpoints published under expvar's
// registry.notifications.endpoints.
var endpoints struct {
	mu         sync.Mutex
	registered []*Endpoint
}

func register(e *Endpoint) {
	endpoints.mu.Lock()
	defer endpoints.mu.Unlock()
	endpoints.registered = append(endpoints.registered, e)
}

type endpointVar struct {
	Name    string          `json:"name"`
	URL     string          `json:"url"`
	Metrics EndpointMetrics `json:"metrics"`
}

func publishedEndpoints() interface{} {
	endpoints.mu.Lock()
	defer endpoints.mu.Unlock()

	vars := make([]endpointVar, 0, len(endpoints.registered))
	for _, e := range endpoints.registered {
		vars = append(vars, endpointVar{Name: e.Name(), URL: e.URL(), Metrics: e.stats.snapshot()})
	}
	return vars
}

func init() {
	registry, ok := expvar.Get("registry").(*expvar.Map)
	if !ok {
		registry = expvar.NewMap("registry")
	}

	notifications := new(expvar.Map).Init()
	notifications.Set("endpoints", expvar.Func(publishedEndpoints))
	registry.Set("notifications", notifications)
}
