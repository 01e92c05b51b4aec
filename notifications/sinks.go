package notifications

import (
	events "github.com/docker/go-events"
)

// queueObserver is told when an event enters and leaves a delivery queue.
type queueObserver interface {
	queued(event events.Event)
	dequeued(event events.Event)
}

// meteredQueue is an unbounded go-events queue that reports its depth.
// A Close flushes everything still pending to the destination first.
type meteredQueue struct {
	queue    *events.Queue
	observer queueObserver
}

func newMeteredQueue(dst events.Sink, observer queueObserver) *meteredQueue {
	return &meteredQueue{
		queue:    events.NewQueue(&dequeueSink{Sink: dst, observer: observer}),
		observer: observer,
	}
}

func (mq *meteredQueue) Write(event events.Event) error {
	mq.observer.queued(event)
	if err := mq.queue.Write(event); err != nil {
		mq.observer.dequeued(event)
		return err
	}
	return nil
}

func (mq *meteredQueue) Close() error {
	return mq.queue.Close()
}

// dequeueSink sits behind the queue and records each event as it is handed
// on, whether or not the destination accepts it.
type dequeueSink struct {
	events.Sink
	observer queueObserver
}

func (ds *dequeueSink) Write(event events.Event) error {
	defer ds.observer.dequeued(event)
	return ds.Sink.Write(event)
}

// newIgnoreFilter drops events whose target media type or action is listed
// and passes everything else to dst. With nothing to ignore dst is returned
// as is.
func newIgnoreFilter(dst events.Sink, mediaTypes, actions []string) events.Sink {
	if len(mediaTypes) == 0 && len(actions) == 0 {
		return dst
	}

	ignored := make(map[string]struct{}, len(mediaTypes)+len(actions))
	for _, mt := range mediaTypes {
		ignored["mediatype:"+mt] = struct{}{}
	}
	for _, action := range actions {
		ignored["action:"+action] = struct{}{}
	}

	return events.NewFilter(dst, events.MatcherFunc(func(event events.Event) bool {
		e, ok := event.(Event)
		if !ok {
			return true
		}
		_, skipType := ignored["mediatype:"+e.Target.MediaType]
		_, skipAction := ignored["action:"+e.Action]
		return !skipType && !skipAction
	}))
}
