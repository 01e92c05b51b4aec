package notifications

import (
	"net/http"
	"time"

	events "github.com/docker/go-events"
)

// EndpointConfig tunes delivery to a single webhook. Zero values take the
// defaults noted on each field.
type EndpointConfig struct {
	Headers http.Header
	// Timeout bounds each post, default 1s.
	Timeout time.Duration
	// Threshold is the number of consecutive failures that trips the
	// breaker, default 10.
	Threshold int
	// Backoff is how long a tripped breaker waits, default 1s.
	Backoff time.Duration
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper `json:"-"`

	IgnoredMediaTypes []string
	// Ignore lists actions that are never delivered.
	Ignore []string

	// Sync delivers events on the writer's goroutine instead of through a
	// queue.
	Sync bool

	unregistered bool
}

func (ec *EndpointConfig) defaults() {
	if ec.Timeout <= 0 {
		ec.Timeout = time.Second
	}
	if ec.Threshold <= 0 {
		ec.Threshold = 10
	}
	if ec.Backoff <= 0 {
		ec.Backoff = time.Second
	}
	if ec.Transport == nil {
		ec.Transport = http.DefaultTransport
	}
}

// Endpoint delivers events to one webhook. Unless configured Sync, writes
// only enqueue and never block on the remote side.
//
// The pipeline, outermost first: ignore filter, queue, retry with breaker,
// http post.
type Endpoint struct {
	events.Sink
	name string
	url  string
	EndpointConfig

	stats *endpointStats
}

// NewEndpoint returns a running endpoint, ready to receive events.
func NewEndpoint(name, url string, config EndpointConfig) *Endpoint {
	config.defaults()
	e := &Endpoint{
		name:           name,
		url:            url,
		EndpointConfig: config,
		stats:          newEndpointStats(name),
	}

	var sink events.Sink = newHTTPSink(url, config.Timeout, config.Headers, config.Transport, e.stats)
	sink = events.NewRetryingSink(sink, events.NewBreaker(config.Threshold, config.Backoff))
	if !config.Sync {
		sink = newMeteredQueue(sink, e.stats)
	}
	e.Sink = newIgnoreFilter(sink, config.IgnoredMediaTypes, config.Ignore)

	if !config.unregistered {
		register(e)
	}
	return e
}

// Name returns the name of the endpoint, generally used for debugging.
func (e *Endpoint) Name() string {
	return e.name
}

// URL returns the url of the endpoint.
func (e *Endpoint) URL() string {
	return e.url
}

// ReadMetrics populates em with metrics from the endpoint.
func (e *Endpoint) ReadMetrics(em *EndpointMetrics) {
	*em = e.stats.snapshot()
}
