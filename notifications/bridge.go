package notifications

import (
	"context"
	"net/http"
	"time"

	events "github.com/docker/go-events"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/requestutil"
	"github.com/rockslide/rockslide/internal/uuid"
)

type bridge struct {
	ub      URLBuilder
	actor   ActorRecord
	source  SourceRecord
	request RequestRecord
	sink    events.Sink
}

var _ Listener = &bridge{}

// URLBuilder defines a subset of url builder to be used by the event listener.
type URLBuilder interface {
	BuildManifestURL(loc rockslide.ImageLocation, reference string) (string, error)
	BuildBlobURL(loc rockslide.ImageLocation, dgst digest.Digest) (string, error)
}

// NewBridge returns a notification listener that writes records to sink,
// using the actor and source. Any urls populated in the events created by
// this bridge will be created using the URLBuilder.
func NewBridge(ub URLBuilder, source SourceRecord, actor ActorRecord, request RequestRecord, sink events.Sink) Listener {
	return &bridge{
		ub:      ub,
		actor:   actor,
		source:  source,
		request: request,
		sink:    sink,
	}
}

// NewRequestRecord builds a RequestRecord for use in NewBridge from an
// http.Request, associating it with a request id.
func NewRequestRecord(id string, r *http.Request) RequestRecord {
	return RequestRecord{
		ID:        id,
		Addr:      requestutil.RemoteAddr(r),
		Host:      r.Host,
		Method:    r.Method,
		UserAgent: r.UserAgent(),
	}
}

func (b *bridge) ManifestPushed(ctx context.Context, loc rockslide.ImageLocation, m rockslide.Manifest, tag string) error {
	return b.manifestEvent(EventActionPush, loc, m, tag)
}

func (b *bridge) ManifestPulled(ctx context.Context, loc rockslide.ImageLocation, m rockslide.Manifest, tag string) error {
	return b.manifestEvent(EventActionPull, loc, m, tag)
}

func (b *bridge) BlobPushed(ctx context.Context, loc rockslide.ImageLocation, desc rockslide.BlobMetadata) error {
	return b.blobEvent(EventActionPush, loc, desc)
}

func (b *bridge) BlobPulled(ctx context.Context, loc rockslide.ImageLocation, desc rockslide.BlobMetadata) error {
	return b.blobEvent(EventActionPull, loc, desc)
}

func (b *bridge) manifestEvent(action string, loc rockslide.ImageLocation, m rockslide.Manifest, tag string) error {
	u, err := b.ub.BuildManifestURL(loc, m.Digest.String())
	if err != nil {
		return err
	}

	size := int64(len(m.Payload))
	return b.write(action, Target{
		MediaType:  m.MediaType,
		Size:       size,
		Length:     size,
		Digest:     m.Digest,
		Repository: loc.Name(),
		URL:        u,
		Tag:        tag,
	})
}

func (b *bridge) blobEvent(action string, loc rockslide.ImageLocation, desc rockslide.BlobMetadata) error {
	u, err := b.ub.BuildBlobURL(loc, desc.Digest)
	if err != nil {
		return err
	}

	mediaType := desc.MediaType
	if mediaType == "" {
		mediaType = layerMediaType
	}
	return b.write(action, Target{
		MediaType:  mediaType,
		Size:       desc.Size,
		Length:     desc.Size,
		Digest:     desc.Digest,
		Repository: loc.Name(),
		URL:        u,
	})
}

// write stamps an event for target with the bridge's actor, source and
// request and hands it to the sink.
func (b *bridge) write(action string, target Target) error {
	event := createEvent(action)
	event.Target = target
	event.Source = b.source
	event.Actor = b.actor
	event.Request = b.request

	return b.sink.Write(*event)
}

func createEvent(action string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
	}
}
