// Package server implements the accept loop, per-connection state
// machine, and output multiplexer (C7/C8, §4.6-4.7).
package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/hashicorp/go-hclog"

	"github.com/dummi26/d26run/internal/config"
)

// SnapshotHolder owns the shared, atomically-swapped configuration
// snapshot and the reload rate limit (§4.6, §5). Workers read the
// snapshot once at accept time and keep using it for the whole
// connection regardless of later reloads.
type SnapshotHolder struct {
	dir    string
	logger log.Logger

	cur atomic.Pointer[config.Snapshot]

	mu          sync.Mutex
	reloadFlag  bool
	lastReload  time.Time
	minInterval time.Duration

	watcher *fsnotify.Watcher
}

// NewSnapshotHolder performs the initial load and, if a watcher can be
// established, wires fsnotify to set the same reload flag a manual
// reload-configs command sets (§4.6 design note: auto-reload never
// bypasses minInterval, it only requests one).
func NewSnapshotHolder(dir string, minInterval time.Duration, logger log.Logger) *SnapshotHolder {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	h := &SnapshotHolder{dir: dir, minInterval: minInterval, logger: logger.Named("config-reload")}
	h.cur.Store(config.NewLoader(dir, logger).LoadAll())
	h.lastReload = time.Time{}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		h.logger.Warn("could not start config directory watcher, auto-reload disabled", "error", err)
		return h
	}
	if err := w.Add(dir); err != nil {
		h.logger.Warn("could not watch config directory, auto-reload disabled", "dir", dir, "error", err)
		w.Close()
		return h
	}
	h.watcher = w
	go h.watchLoop()
	return h
}

func (h *SnapshotHolder) watchLoop() {
	for {
		select {
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				h.RequestReload()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("config directory watcher error", "error", err)
		}
	}
}

// Current returns the snapshot a newly accepted connection should use.
// This also applies a pending, rate-limited reload (§4.6: "before
// accepting a new connection, if the reload flag is set...").
func (h *SnapshotHolder) Current() *config.Snapshot {
	h.maybeReload()
	return h.cur.Load()
}

// RequestReload sets the reload flag; the actual reparse happens lazily
// on the next Current call, subject to minInterval.
func (h *SnapshotHolder) RequestReload() {
	h.mu.Lock()
	h.reloadFlag = true
	h.mu.Unlock()
}

func (h *SnapshotHolder) maybeReload() {
	h.mu.Lock()
	due := h.reloadFlag && time.Since(h.lastReload) >= h.minInterval
	if due {
		h.reloadFlag = false
		h.lastReload = time.Now()
	}
	h.mu.Unlock()

	if !due {
		return
	}
	h.logger.Info("reloading config directory", "dir", h.dir)
	h.cur.Store(config.NewLoader(h.dir, h.logger).LoadAll())
}

// Close releases the directory watcher, if any.
func (h *SnapshotHolder) Close() {
	if h.watcher != nil {
		h.watcher.Close()
	}
}
