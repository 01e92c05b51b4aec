package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rockslide/rockslide/internal/dcontext"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

// Purge removes upload sessions that have not been touched since
// olderThan. Live sessions are judged by their last append; staging
// directories no live session owns, such as those left by an earlier
// process, are judged by their startedat marker. A missing or unreadable
// marker counts as infinitely old.
//
// With actuallyDelete unset nothing is removed, but the ids that would be
// are still returned.
func (um *uploadManager) Purge(ctx context.Context, olderThan time.Time, actuallyDelete bool) ([]string, []error) {
	logger := dcontext.GetLogger(ctx)

	var (
		purged []string
		errs   []error
	)

	um.mu.RLock()
	candidates := make(map[string]*uploadSession, len(um.sessions))
	for id, s := range um.sessions {
		candidates[id] = s
	}
	um.mu.RUnlock()

	for id, s := range candidates {
		// A session that is busy right now is by definition not idle.
		if !s.mu.TryLock() {
			continue
		}
		if !s.done && s.lastActive.Before(olderThan) {
			purged = append(purged, id)
			if actuallyDelete {
				if err := um.abandon(ctx, id, s); err != nil {
					errs = append(errs, err)
				}
			}
		}
		s.mu.Unlock()
	}

	uploadsPath, err := pathFor(uploadsPathSpec{})
	if err != nil {
		return purged, append(errs, err)
	}

	entries, err := um.driver.List(ctx, uploadsPath)
	if err != nil {
		if storagedriver.IsNotFound(err) {
			return purged, errs
		}
		return purged, append(errs, err)
	}

	for _, entry := range entries {
		id := path.Base(entry)
		if um.live(id) {
			continue
		}

		startedAt, err := um.readStartedAt(ctx, id)
		if err != nil {
			errs = append(errs, err)
		}
		if !startedAt.Before(olderThan) {
			continue
		}

		purged = append(purged, id)
		if actuallyDelete {
			if err := removeUpload(ctx, um.driver, id); err != nil {
				errs = append(errs, err)
			}
		}
	}

	logger.Infof("purge uploads: %d candidates older than %s, delete=%t", len(purged), olderThan.UTC().Format(time.RFC3339), actuallyDelete)
	return purged, errs
}

func (um *uploadManager) readStartedAt(ctx context.Context, id string) (time.Time, error) {
	p, err := pathFor(uploadStartedAtPathSpec{id: id})
	if err != nil {
		return time.Time{}, err
	}

	content, err := um.driver.GetContent(ctx, p)
	if err != nil {
		return time.Time{}, fmt.Errorf("upload %s: reading startedat: %w", id, err)
	}

	startedAt, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return time.Time{}, fmt.Errorf("upload %s: parsing startedat: %w", id, err)
	}
	return startedAt, nil
}

// PurgeOption configures the background upload purger.
type PurgeOption struct {
	Enabled  bool
	Age      time.Duration
	Interval time.Duration
	DryRun   bool
}

func (po PurgeOption) String() string {
	return fmt.Sprintf("enabled=%t age=%s interval=%s dryrun=%t", po.Enabled, po.Age, po.Interval, po.DryRun)
}

// DefaultPurgeOption is used when maintenance is not configured.
func DefaultPurgeOption() PurgeOption {
	return PurgeOption{
		Enabled:  true,
		Age:      168 * time.Hour,
		Interval: 24 * time.Hour,
	}
}
