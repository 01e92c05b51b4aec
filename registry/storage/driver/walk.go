package driver

import (
	"context"
	"errors"
	"sort"

	"github.com/rockslide/rockslide/internal/dcontext"
)

// ErrSkipDir may be returned by a WalkFn to skip the directory it was
// called with. Returned for a file, it stops the walk without error.
var ErrSkipDir = errors.New("skip this directory")

// WalkFn is called once per entry by Walk.
type WalkFn func(fileInfo FileInfo) error

// Walk visits every entry below from in lexical order using List and Stat.
// Entries that disappear between List and Stat are skipped.
func Walk(ctx context.Context, driver StorageDriver, from string, f WalkFn) error {
	_, err := walk(ctx, driver, from, f)
	return err
}

func walk(ctx context.Context, driver StorageDriver, from string, f WalkFn) (bool, error) {
	children, err := driver.List(ctx, from)
	if err != nil {
		return false, err
	}
	sort.Strings(children)

	for _, child := range children {
		fi, err := driver.Stat(ctx, child)
		if err != nil {
			if IsNotFound(err) {
				dcontext.GetLogger(ctx).WithField("path", child).Debug("ignoring deleted path")
				continue
			}
			return false, err
		}

		err = f(fi)
		switch {
		case err == nil:
			if fi.IsDir() {
				if more, err := walk(ctx, driver, child, f); err != nil || !more {
					return more, err
				}
			}
		case errors.Is(err, ErrSkipDir):
			if !fi.IsDir() {
				return false, nil
			}
		default:
			return false, err
		}
	}
	return true, nil
}
