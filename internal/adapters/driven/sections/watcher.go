package sections

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/logger"
)

// ChangeType classifies a section file change.
type ChangeType int

// Change types.
const (
	// ChangeUpdated means the file was created or written and reloaded.
	ChangeUpdated ChangeType = iota + 1

	// ChangeDeleted means the file was removed or renamed away.
	ChangeDeleted
)

func (t ChangeType) String() string {
	switch t {
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one observed section file change.
type Change struct {
	Type ChangeType
	Path string

	// Unit is the reloaded section for ChangeUpdated.
	Unit *domain.ContentUnit

	// ID is the unit last loaded from Path, set for ChangeDeleted when known.
	ID string

	// Err is set when an updated file could not be loaded.
	Err error
}

// Watch reports changes to section files under dir until ctx is cancelled,
// then closes the channel. New subdirectories are watched as they appear.
func (l *Loader) Watch(ctx context.Context, dir string) (<-chan Change, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path error: %s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := addTree(watcher, dir); err != nil {
		watcher.Close()
		return nil, err
	}

	changes := make(chan Change)
	go func() {
		defer close(changes)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) {
					if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && !isHidden(fi.Name()) {
						if err := addTree(watcher, event.Name); err != nil {
							logger.Warn("Watching %s: %v", event.Name, err)
						}
						continue
					}
				}
				change := l.handleFsEvent(event)
				if change == nil {
					continue
				}
				select {
				case changes <- *change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Watch error: %v", err)
			}
		}
	}()
	return changes, nil
}

// handleFsEvent turns a file system event into a change, or nil when the
// event does not concern a section file.
func (l *Loader) handleFsEvent(event fsnotify.Event) *Change {
	if !l.Matches(event.Name) {
		return nil
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		id, _ := l.LoadedID(event.Name)
		return &Change{Type: ChangeDeleted, Path: event.Name, ID: id}
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		fi, err := os.Stat(event.Name)
		if err != nil || fi.IsDir() {
			return nil
		}
		unit, err := l.LoadFile(event.Name)
		if errors.Is(err, ErrEmpty) {
			return nil
		}
		return &Change{Type: ChangeUpdated, Path: event.Name, Unit: unit, Err: err}
	default:
		return nil
	}
}

// addTree watches dir and every non-hidden directory below it.
func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
