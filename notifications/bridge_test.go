package notifications

import (
	"context"
	"testing"

	events "github.com/docker/go-events"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/uuid"
	v2 "github.com/rockslide/rockslide/registry/api/v2"
)

var (
	// common environment for expected events.

	loc    = rockslide.ImageLocation{Repository: "test", Image: "repo"}
	source = SourceRecord{
		Addr:       "remote.test",
		InstanceID: uuid.NewString(),
	}
	ub = mustUB(v2.NewURLBuilderFromString("http://test.example.com/"))

	actor = ActorRecord{
		Name: "test",
	}
	request = RequestRecord{}

	payload  = []byte(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json"}`)
	manifest = rockslide.Manifest{
		Digest:    digest.FromBytes(payload),
		MediaType: "application/vnd.oci.image.manifest.v1+json",
		Payload:   payload,
	}
	blob = rockslide.BlobMetadata{
		Digest:    digest.FromBytes([]byte("layer")),
		Size:      5,
		MediaType: rockslide.BlobMediaType,
	}
)

func TestEventBridgeManifestPushed(t *testing.T) {
	l := createTestEnv(testSinkFn(func(event events.Event) error {
		checkCommonManifest(t, EventActionPush, event)
		if event.(Event).Target.Tag != "" {
			t.Fatalf("unexpected tag: %#v", event.(Event).Target)
		}
		return nil
	}))

	if err := l.ManifestPushed(context.Background(), loc, manifest, ""); err != nil {
		t.Fatalf("unexpected error notifying manifest push: %v", err)
	}
}

func TestEventBridgeManifestPushedWithTag(t *testing.T) {
	l := createTestEnv(testSinkFn(func(event events.Event) error {
		checkCommonManifest(t, EventActionPush, event)
		if event.(Event).Target.Tag != "latest" {
			t.Fatalf("missing or unexpected tag: %#v", event.(Event).Target)
		}
		return nil
	}))

	if err := l.ManifestPushed(context.Background(), loc, manifest, "latest"); err != nil {
		t.Fatalf("unexpected error notifying manifest push: %v", err)
	}
}

func TestEventBridgeManifestPulled(t *testing.T) {
	l := createTestEnv(testSinkFn(func(event events.Event) error {
		checkCommonManifest(t, EventActionPull, event)
		return nil
	}))

	if err := l.ManifestPulled(context.Background(), loc, manifest, "latest"); err != nil {
		t.Fatalf("unexpected error notifying manifest pull: %v", err)
	}
}

func TestEventBridgeBlobPushed(t *testing.T) {
	l := createTestEnv(testSinkFn(func(event events.Event) error {
		checkCommon(t, event)
		e := event.(Event)
		if e.Action != EventActionPush {
			t.Fatalf("unexpected event action: %q", e.Action)
		}
		if e.Target.Digest != blob.Digest || e.Target.Size != blob.Size || e.Target.Length != blob.Size {
			t.Fatalf("unexpected target: %#v", e.Target)
		}
		if e.Target.MediaType != layerMediaType {
			t.Fatalf("unexpected media type: %q", e.Target.MediaType)
		}

		u, err := ub.BuildBlobURL(loc, blob.Digest)
		if err != nil {
			t.Fatalf("error building expected url: %v", err)
		}
		if e.Target.URL != u {
			t.Fatalf("incorrect url passed: %q != %q", e.Target.URL, u)
		}
		return nil
	}))

	if err := l.BlobPushed(context.Background(), loc, blob); err != nil {
		t.Fatalf("unexpected error notifying blob push: %v", err)
	}
}

func createTestEnv(fn testSinkFn) Listener {
	return NewBridge(ub, source, actor, request, fn)
}

func checkCommonManifest(t *testing.T, action string, event events.Event) {
	checkCommon(t, event)

	if event.(Event).Action != action {
		t.Fatalf("unexpected event action: %q != %q", event.(Event).Action, action)
	}

	if event.(Event).Target.Digest != manifest.Digest {
		t.Fatalf("unexpected digest on event target: %q != %q", event.(Event).Target.Digest, manifest.Digest)
	}

	if event.(Event).Target.Length != int64(len(payload)) {
		t.Fatalf("unexpected target length: %v != %v", event.(Event).Target.Length, len(payload))
	}

	u, err := ub.BuildManifestURL(loc, manifest.Digest.String())
	if err != nil {
		t.Fatalf("error building expected url: %v", err)
	}

	if event.(Event).Target.URL != u {
		t.Fatalf("incorrect url passed: \n%q != \n%q", event.(Event).Target.URL, u)
	}
}

func checkCommon(t *testing.T, event events.Event) {
	t.Helper()
	if event.(Event).Source != source {
		t.Fatalf("source not equal: %#v != %#v", event.(Event).Source, source)
	}

	if event.(Event).Request != request {
		t.Fatalf("request not equal: %#v != %#v", event.(Event).Request, request)
	}

	if event.(Event).Actor != actor {
		t.Fatalf("request not equal: %#v != %#v", event.(Event).Actor, actor)
	}

	if event.(Event).Target.Repository != loc.Name() {
		t.Fatalf("unexpected repository: %q != %q", event.(Event).Target.Repository, loc.Name())
	}
}

type testSinkFn func(event events.Event) error

func (tsf testSinkFn) Write(event events.Event) error {
	return tsf(event)
}

func (tsf testSinkFn) Close() error { return nil }

func mustUB(ub *v2.URLBuilder, err error) *v2.URLBuilder {
	if err != nil {
		panic(err)
	}

	return ub
}
