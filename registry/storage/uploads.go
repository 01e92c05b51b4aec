package storage

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/docker/go-metrics"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/dcontext"
	"github.com/rockslide/rockslide/internal/uuid"
	prometheus "github.com/rockslide/rockslide/metrics"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

var (
	uploadActions = prometheus.UploadNamespace.NewLabeledCounter("actions", "The number of upload session operations", "action", "outcome")
	uploadBytes   = prometheus.UploadNamespace.NewCounter("bytes_received", "The number of bytes appended to upload sessions")
	uploadsActive = prometheus.UploadNamespace.NewGauge("sessions", "The number of live upload sessions", metrics.Total)
)

// uploadSession is the live state of one upload. mu serializes every
// operation on the session; done is set, under mu, once the session is
// finalized or abandoned and never cleared.
type uploadSession struct {
	mu         sync.Mutex
	bw         *blobWriter
	done       bool
	lastActive time.Time
}

// uploadManager tracks live upload sessions by id. Sessions are independent
// of each other; the map lock is only held to look up, add or remove an
// entry.
type uploadManager struct {
	driver storagedriver.StorageDriver
	blobs  *blobStore

	mu       sync.RWMutex
	sessions map[string]*uploadSession
}

var _ rockslide.UploadManager = &uploadManager{}

func newUploadManager(driver storagedriver.StorageDriver, blobs *blobStore) *uploadManager {
	return &uploadManager{
		driver:   driver,
		blobs:    blobs,
		sessions: make(map[string]*uploadSession),
	}
}

// Begin allocates a session with a random id and an empty staging area.
func (um *uploadManager) Begin(ctx context.Context) (rockslide.UploadStatus, error) {
	id := uuid.NewString()
	startedAt := time.Now().UTC()

	bw, err := newBlobWriter(ctx, um.driver, id, startedAt)
	if err != nil {
		uploadActions.WithValues("begin", "error").Inc(1)
		removeUpload(ctx, um.driver, id)
		return rockslide.UploadStatus{}, err
	}

	um.mu.Lock()
	um.sessions[id] = &uploadSession{bw: bw, lastActive: startedAt}
	um.mu.Unlock()

	uploadActions.WithValues("begin", "ok").Inc(1)
	uploadsActive.Inc(1)
	dcontext.GetLoggerWithField(ctx, "upload.id", id).Debug("upload session started")

	return rockslide.UploadStatus{ID: id, StartedAt: startedAt}, nil
}

// Append streams r onto the end of the session. A failure while staging
// abandons the session since the staged bytes can no longer be trusted to
// match what the client sent.
func (um *uploadManager) Append(ctx context.Context, id string, r io.Reader) (int64, error) {
	s, err := um.acquire(id)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	return um.append(ctx, id, s, r)
}

// AppendAt appends only when offset is the current size of the session.
func (um *uploadManager) AppendAt(ctx context.Context, id string, offset int64, r io.Reader) (int64, error) {
	s, err := um.acquire(id)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if size := s.bw.Size(); offset != size {
		uploadActions.WithValues("append", "invalid_offset").Inc(1)
		return size, rockslide.ErrBlobUploadInvalidOffset{Expected: size, Offset: offset}
	}
	return um.append(ctx, id, s, r)
}

// append must be called with s.mu held.
func (um *uploadManager) append(ctx context.Context, id string, s *uploadSession, r io.Reader) (int64, error) {
	n, err := s.bw.ReadFrom(r)
	uploadBytes.Inc(float64(n))
	if err != nil {
		dcontext.GetLoggerWithField(ctx, "upload.id", id).WithError(err).Warn("append failed, abandoning upload")
		uploadActions.WithValues("append", "error").Inc(1)
		um.abandon(ctx, id, s)
		return 0, err
	}

	s.lastActive = time.Now()
	uploadActions.WithValues("append", "ok").Inc(1)
	return s.bw.Size(), nil
}

// Status reports the session's size and start time.
func (um *uploadManager) Status(ctx context.Context, id string) (rockslide.UploadStatus, error) {
	s, err := um.acquire(id)
	if err != nil {
		return rockslide.UploadStatus{}, err
	}
	defer s.mu.Unlock()

	return rockslide.UploadStatus{
		ID:        id,
		Size:      s.bw.Size(),
		StartedAt: s.bw.startedAt,
	}, nil
}

// Finalize publishes the session's content under claimed. The session is
// terminal from the moment Finalize takes it, so a failed finalize cannot be
// retried with the same id.
func (um *uploadManager) Finalize(ctx context.Context, id string, claimed digest.Digest) (rockslide.BlobMetadata, error) {
	s, err := um.acquire(id)
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}
	defer s.mu.Unlock()

	s.done = true
	// The entry stays in the map until publish returns so the purger treats
	// the staging area as live.
	defer um.forget(id)

	desc, err := um.blobs.publish(ctx, s.bw, claimed)
	if err != nil {
		uploadActions.WithValues("finalize", "error").Inc(1)
		return rockslide.BlobMetadata{}, err
	}

	uploadActions.WithValues("finalize", "ok").Inc(1)
	return desc, nil
}

// Cancel abandons the session.
func (um *uploadManager) Cancel(ctx context.Context, id string) error {
	s, err := um.acquire(id)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	uploadActions.WithValues("cancel", "ok").Inc(1)
	return um.abandon(ctx, id, s)
}

// acquire returns the session for id with its lock held, or
// ErrBlobUploadUnknown when no live session has that id.
func (um *uploadManager) acquire(id string) (*uploadSession, error) {
	um.mu.RLock()
	s, ok := um.sessions[id]
	um.mu.RUnlock()
	if !ok {
		return nil, rockslide.ErrBlobUploadUnknown
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil, rockslide.ErrBlobUploadUnknown
	}
	return s, nil
}

// abandon must be called with s.mu held.
func (um *uploadManager) abandon(ctx context.Context, id string, s *uploadSession) error {
	s.done = true
	err := s.bw.cancel(dcontext.Detach(ctx))
	um.forget(id)
	return err
}

func (um *uploadManager) forget(id string) {
	um.mu.Lock()
	if _, ok := um.sessions[id]; ok {
		delete(um.sessions, id)
		uploadsActive.Dec(1)
	}
	um.mu.Unlock()
}

func (um *uploadManager) live(id string) bool {
	um.mu.RLock()
	defer um.mu.RUnlock()
	_, ok := um.sessions[id]
	return ok
}
