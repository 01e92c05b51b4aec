package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rockslide/rockslide/internal/uuid"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
	"github.com/rockslide/rockslide/registry/storage/driver/inmemory"
)

// addUploads writes staging areas that no live session owns, as a previous
// process would have left them.
func addUploads(t *testing.T, d storagedriver.StorageDriver, numUploads int, startedAt time.Time) []string {
	t.Helper()
	ctx := context.Background()

	var ids []string
	for i := 0; i < numUploads; i++ {
		id := uuid.NewString()
		dataPath, err := pathFor(uploadDataPathSpec{id: id})
		if err != nil {
			t.Fatalf("Unable to resolve path")
		}
		if err := d.PutContent(ctx, dataPath, []byte("")); err != nil {
			t.Fatalf("Unable to write data file")
		}

		startedAtPath, err := pathFor(uploadStartedAtPathSpec{id: id})
		if err != nil {
			t.Fatalf("Unable to resolve path")
		}
		if err := d.PutContent(ctx, startedAtPath, []byte(startedAt.Format(time.RFC3339))); err != nil {
			t.Fatalf("Unable to write startedAt file")
		}
		ids = append(ids, id)
	}
	return ids
}

func TestPurgeNone(t *testing.T) {
	d := inmemory.New()
	reg := newTestRegistry(t, d)
	addUploads(t, d, 10, time.Now())

	oneHourAgo := time.Now().Add(-1 * time.Hour)
	deleted, errs := reg.PurgeUploads(context.Background(), oneHourAgo, true)
	if len(errs) != 0 {
		t.Error("Unexpected errors", errs)
	}
	if len(deleted) != 0 {
		t.Errorf("Unexpectedly deleted files for time: %s", oneHourAgo)
	}
}

func TestPurgeAll(t *testing.T) {
	d := inmemory.New()
	reg := newTestRegistry(t, d)
	oneHourAgo := time.Now().Add(-1 * time.Hour)
	addUploads(t, d, 10, oneHourAgo)

	deleted, errs := reg.PurgeUploads(context.Background(), time.Now(), true)
	if len(errs) != 0 {
		t.Error("Unexpected errors:", errs)
	}
	if len(deleted) != 10 {
		t.Errorf("Unexpectedly deleted file count %d != %d", len(deleted), 10)
	}
	assertNoStaging(t, d)
}

func TestPurgeSome(t *testing.T) {
	d := inmemory.New()
	reg := newTestRegistry(t, d)
	oneHourAgo := time.Now().Add(-1 * time.Hour)
	old := addUploads(t, d, 4, oneHourAgo.Add(-1*time.Hour))
	addUploads(t, d, 6, time.Now())

	deleted, errs := reg.PurgeUploads(context.Background(), oneHourAgo, true)
	if len(errs) != 0 {
		t.Error("Unexpected errors:", errs)
	}
	if len(deleted) != len(old) {
		t.Fatalf("Unexpected number of deleted uploads: %d != %d", len(deleted), len(old))
	}

	p, _ := pathFor(uploadsPathSpec{})
	remaining, err := d.List(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error listing uploads: %v", err)
	}
	if len(remaining) != 6 {
		t.Fatalf("Unexpected number of remaining uploads: %d", len(remaining))
	}
}

func TestPurgeDryRun(t *testing.T) {
	d := inmemory.New()
	reg := newTestRegistry(t, d)
	addUploads(t, d, 3, time.Now().Add(-2*time.Hour))

	deleted, errs := reg.PurgeUploads(context.Background(), time.Now(), false)
	if len(errs) != 0 {
		t.Error("Unexpected errors:", errs)
	}
	if len(deleted) != 3 {
		t.Fatalf("dry run should report 3 candidates, got %d", len(deleted))
	}

	p, _ := pathFor(uploadsPathSpec{})
	remaining, err := d.List(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error listing uploads: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("dry run removed uploads: %d remain", len(remaining))
	}
}

func TestPurgeMissingStartedAt(t *testing.T) {
	d := inmemory.New()
	reg := newTestRegistry(t, d)
	ctx := context.Background()

	dataPath, _ := pathFor(uploadDataPathSpec{id: uuid.NewString()})
	if err := d.PutContent(ctx, dataPath, []byte("x")); err != nil {
		t.Fatalf("Unable to write data file")
	}

	deleted, errs := reg.PurgeUploads(ctx, time.Now().Add(-time.Hour), true)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "startedat") {
		t.Fatalf("expected one startedat error, got %v", errs)
	}
	if len(deleted) != 1 {
		t.Fatalf("upload without a marker should be purged, deleted %v", deleted)
	}
	assertNoStaging(t, d)
}

func TestPurgeIdleLiveSession(t *testing.T) {
	d := inmemory.New()
	reg := newTestRegistry(t, d)
	ctx := context.Background()

	idle, err := reg.Uploads().Begin(ctx)
	if err != nil {
		t.Fatalf("unexpected error beginning upload: %v", err)
	}

	// Nothing is idle an hour ago.
	deleted, errs := reg.PurgeUploads(ctx, time.Now().Add(-time.Hour), true)
	if len(errs) != 0 || len(deleted) != 0 {
		t.Fatalf("unexpected purge of fresh session: %v %v", deleted, errs)
	}

	deleted, errs = reg.PurgeUploads(ctx, time.Now().Add(time.Hour), true)
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(deleted) != 1 || deleted[0] != idle.ID {
		t.Fatalf("expected %s to be purged, got %v", idle.ID, deleted)
	}

	if _, err := reg.Uploads().Status(ctx, idle.ID); err == nil {
		t.Fatalf("purged session is still live")
	}
	assertNoStaging(t, d)
}

func TestPurgeEmptyStore(t *testing.T) {
	reg := newTestRegistry(t, inmemory.New())
	deleted, errs := reg.PurgeUploads(context.Background(), time.Now(), true)
	if len(errs) != 0 || len(deleted) != 0 {
		t.Fatalf("unexpected purge result on empty store: %v %v", deleted, errs)
	}
}
