package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	events "github.com/docker/go-events"
)

// deliveryObserver hears the outcome of every post an httpSink makes.
type deliveryObserver interface {
	accepted(status int)
	refused(status int)
	unreachable(err error)
}

// httpSink posts one event per request to a webhook. It makes a single
// attempt; retries and buffering are layered on top by the endpoint.
type httpSink struct {
	url      string
	headers  http.Header
	client   *http.Client
	observer deliveryObserver

	mu     sync.Mutex
	closed bool
}

func newHTTPSink(url string, timeout time.Duration, headers http.Header, transport http.RoundTripper, observer deliveryObserver) *httpSink {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &httpSink{
		url:      url,
		headers:  headers,
		client:   &http.Client{Transport: transport, Timeout: timeout},
		observer: observer,
	}
}

// Write wraps event in an envelope and posts it. Any 2xx or 3xx answer
// counts as delivered.
func (hs *httpSink) Write(event events.Event) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.closed {
		return ErrSinkClosed
	}

	e, ok := event.(Event)
	if !ok {
		return fmt.Errorf("%v: unexpected event type %T", hs, event)
	}

	body, err := json.Marshal(Envelope{Events: []Event{e}})
	if err != nil {
		hs.observer.unreachable(err)
		return fmt.Errorf("%v: encoding envelope: %w", hs, err)
	}

	req, err := http.NewRequest(http.MethodPost, hs.url, bytes.NewReader(body))
	if err != nil {
		hs.observer.unreachable(err)
		return fmt.Errorf("%v: building request: %w", hs, err)
	}
	for k, v := range hs.headers {
		req.Header[k] = append(req.Header[k], v...)
	}
	req.Header.Set("Content-Type", EventsMediaType)

	resp, err := hs.client.Do(req)
	if err != nil {
		hs.observer.unreachable(err)
		return fmt.Errorf("%v: posting: %w", hs, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		hs.observer.refused(resp.StatusCode)
		return fmt.Errorf("%v: endpoint answered %s", hs, resp.Status)
	}
	hs.observer.accepted(resp.StatusCode)
	return nil
}

func (hs *httpSink) Close() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.closed {
		return fmt.Errorf("%v: already closed", hs)
	}
	hs.closed = true
	return nil
}

func (hs *httpSink) String() string {
	return "httpSink{" + hs.url + "}"
}
