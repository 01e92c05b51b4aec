package notifications

import (
	"errors"
	"sync"
	"testing"
	"time"

	events "github.com/docker/go-events"
)

func TestMeteredQueue(t *testing.T) {
	const nevents = 500
	var ts testSink
	stats := newEndpointStats("queue-test")
	q := newMeteredQueue(&delayedSink{Sink: &ts, delay: time.Millisecond}, stats)

	var wg sync.WaitGroup
	for i := 0; i < nevents; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Write(createTestEvent("push", "library/test", layerMediaType)); err != nil {
				t.Errorf("error writing event: %v", err)
			}
		}()
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	// close flushes whatever is still queued
	if err := q.Close(); err != nil {
		t.Fatalf("unexpected error closing queue: %v", err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.count != nevents {
		t.Fatalf("events did not make it to the sink: %d != %d", ts.count, nevents)
	}
	if !ts.closed {
		t.Fatal("destination should have been closed with the queue")
	}

	m := stats.snapshot()
	if m.Events != nevents {
		t.Fatalf("unexpected queued count: %d != %d", m.Events, nevents)
	}
	if m.Pending != 0 {
		t.Fatalf("unexpected pending count after flush: %d", m.Pending)
	}

	if err := q.Write(Event{}); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("write after close: %v != %v", err, ErrSinkClosed)
	}
	if m := stats.snapshot(); m.Pending != 0 {
		t.Fatalf("rejected write left pending at %d", m.Pending)
	}
}

func TestMeteredQueueCountsFailedDeliveries(t *testing.T) {
	stats := newEndpointStats("queue-failures")
	q := newMeteredQueue(failingSink{}, stats)

	for i := 0; i < 3; i++ {
		if err := q.Write(createTestEvent("pull", "library/test", layerMediaType)); err != nil {
			t.Fatalf("queue refused event: %v", err)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("unexpected error closing queue: %v", err)
	}

	if m := stats.snapshot(); m.Events != 3 || m.Pending != 0 {
		t.Fatalf("unexpected queue metrics: %+v", m)
	}
}

func TestIgnoreFilter(t *testing.T) {
	blob := createTestEvent("push", "library/test", layerMediaType)
	manifest := createTestEvent("pull", "library/test", "application/vnd.oci.image.manifest.v1+json")

	for _, tc := range []struct {
		name       string
		mediaTypes []string
		actions    []string
		delivered  []Event
	}{
		{name: "nothing ignored", delivered: []Event{blob, manifest}},
		{name: "unrelated entries", mediaTypes: []string{"other"}, actions: []string{"other"}, delivered: []Event{blob, manifest}},
		{name: "layers ignored", mediaTypes: []string{layerMediaType}, delivered: []Event{manifest}},
		{name: "pulls ignored", actions: []string{"pull"}, delivered: []Event{blob}},
		{name: "either match drops", mediaTypes: []string{layerMediaType}, actions: []string{"pull"}},
		{name: "all actions ignored", actions: []string{"pull", "push"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ts := &testSink{}
			s := newIgnoreFilter(ts, tc.mediaTypes, tc.actions)

			for _, e := range []Event{blob, manifest} {
				if err := s.Write(e); err != nil {
					t.Fatalf("error writing event: %v", err)
				}
			}

			ts.mu.Lock()
			defer ts.mu.Unlock()
			if len(ts.events) != len(tc.delivered) {
				t.Fatalf("delivered %d events, want %d", len(ts.events), len(tc.delivered))
			}
			for i, e := range tc.delivered {
				if ts.events[i].(Event).ID != e.ID {
					t.Fatalf("event %d: got %s, want %s", i, ts.events[i].(Event).Action, e.Action)
				}
			}
		})
	}
}

func TestIgnoreFilterPassthrough(t *testing.T) {
	ts := &testSink{}
	if s := newIgnoreFilter(ts, nil, nil); s != events.Sink(ts) {
		t.Fatalf("expected the destination back when nothing is ignored, got %T", s)
	}
}

type testSink struct {
	mu     sync.Mutex
	events []events.Event
	count  int
	closed bool
}

func (ts *testSink) Write(event events.Event) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.events = append(ts.events, event)
	ts.count++
	return nil
}

func (ts *testSink) Close() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.closed = true
	return nil
}

type delayedSink struct {
	events.Sink
	delay time.Duration
}

func (ds *delayedSink) Write(event events.Event) error {
	time.Sleep(ds.delay)
	return ds.Sink.Write(event)
}

type failingSink struct{}

func (failingSink) Write(events.Event) error { return errors.New("unreachable") }
func (failingSink) Close() error             { return nil }
