package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spyglass-dev/spyglass/internal/logger"
	"github.com/spyglass-dev/spyglass/internal/models"
	"github.com/spyglass-dev/spyglass/internal/recovery"
	"github.com/spyglass-dev/spyglass/internal/syncer"
)

// IndexWatcher follows the external indexer's output directory (one JSON
// file per project) and feeds whole snapshots to the broadcaster. It is the
// only writer of snapshots: the sync layer never sees partial edits.
type IndexWatcher struct {
	dir         string
	broadcaster *syncer.Broadcaster
	watcher     *fsnotify.Watcher
	ctx         context.Context
	cancel      context.CancelFunc

	mu      sync.RWMutex
	current models.Snapshot
}

// NewIndexWatcher creates a watcher over dir publishing into broadcaster.
func NewIndexWatcher(dir string, broadcaster *syncer.Broadcaster) (*IndexWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IndexWatcher{
		dir:         dir,
		broadcaster: broadcaster,
		watcher:     fsWatcher,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start loads the current index, publishes it, and begins watching for
// changes. Burst smoothing is the broadcaster's job; the watcher publishes
// a fresh snapshot for every relevant event.
func (w *IndexWatcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	w.reload()

	recovery.SafeGo("index-watcher", func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if w.isRelevantEvent(event) {
					logger.Debugf("Index change detected: %s", event.Name)
					w.reload()
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("Index watcher error: %v", err)
			case <-w.ctx.Done():
				return
			}
		}
	})
	return nil
}

// Current returns the latest loaded snapshot.
func (w *IndexWatcher) Current() models.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop ends watching. The broadcaster is shut down by its owner.
func (w *IndexWatcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

func (w *IndexWatcher) isRelevantEvent(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

// reload reads every project file, builds an ordered snapshot and publishes
// it. Malformed files are skipped with a warning so one bad write by the
// indexer cannot blank the whole collection.
func (w *IndexWatcher) reload() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warnf("Failed to read index directory %s: %v", w.dir, err)
		return
	}

	snapshot := models.Snapshot{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warnf("Failed to read project file %s: %v", path, err)
			continue
		}
		var group models.ProjectGroup
		if err := json.Unmarshal(data, &group); err != nil {
			logger.Warnf("Skipping malformed project file %s: %v", path, err)
			continue
		}
		if group.ProjectPath == "" {
			logger.Warnf("Skipping project file %s: missing projectPath", path)
			continue
		}
		snapshot = append(snapshot, group)
	}

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ProjectPath < snapshot[j].ProjectPath
	})

	w.mu.Lock()
	w.current = snapshot
	w.mu.Unlock()

	w.broadcaster.Publish(snapshot)
}
