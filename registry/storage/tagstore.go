package storage

import (
	"context"
	"path"
	"sort"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/uuid"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

// Tags lists the tags of loc. A repository holding only untagged manifests
// has an empty list; one holding nothing at all is unknown.
func (ms *manifestStore) Tags(ctx context.Context, loc rockslide.ImageLocation) ([]string, error) {
	p, err := pathFor(manifestTagsPathSpec{name: loc.Name()})
	if err != nil {
		return nil, err
	}

	entries, err := ms.driver.List(ctx, p)
	if err != nil {
		if !storagedriver.IsNotFound(err) {
			return nil, err
		}
		repoPath, err := pathFor(repositoryPathSpec{name: loc.Name()})
		if err != nil {
			return nil, err
		}
		if _, err := ms.driver.Stat(ctx, repoPath); err != nil {
			if storagedriver.IsNotFound(err) {
				return nil, rockslide.ErrRepositoryUnknown{Name: loc.Name()}
			}
			return nil, err
		}
		return []string{}, nil
	}

	tags := make([]string, 0, len(entries))
	for _, entry := range entries {
		tags = append(tags, path.Base(entry))
	}
	sort.Strings(tags)
	return tags, nil
}

// readLink returns the digest stored in the link file at p.
func readLink(ctx context.Context, driver storagedriver.StorageDriver, p string) (digest.Digest, error) {
	content, err := driver.GetContent(ctx, p)
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.Parse(string(content))
}

// writeLink replaces the link at p with dgst. The content is written to a
// sibling first and moved into place so readers see the old link or the new
// one, never a torn write.
func writeLink(ctx context.Context, driver storagedriver.StorageDriver, p string, dgst digest.Digest) error {
	tmp := path.Join(path.Dir(p), "."+uuid.NewString()+".tmp")
	if err := driver.PutContent(ctx, tmp, []byte(dgst.String())); err != nil {
		return err
	}
	if err := driver.Move(ctx, tmp, p); err != nil {
		driver.Delete(ctx, tmp)
		return err
	}
	return nil
}
