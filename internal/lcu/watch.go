package lcu

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of filesystem events a client restart
// produces into one rotation signal.
const DefaultDebounce = 250 * time.Millisecond

// LockfileWatcher nudges the connection manager when the lockfile is
// rewritten. Discovery still polls, so this is a latency optimization:
// rotation is observed at the next write instead of the next failed request.
type LockfileWatcher struct {
	fs       *fsnotify.Watcher
	name     string
	debounce time.Duration
	onRotate func()
	log      *zap.Logger

	last time.Time
}

// NewLockfileWatcher watches the directory holding lockPath. The directory
// rather than the file is watched because the client deletes and recreates
// the file on restart, which kills a watch on the file itself.
func NewLockfileWatcher(lockPath string, debounce time.Duration, onRotate func(), log *zap.Logger) (*LockfileWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(lockPath)); err != nil {
		fs.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &LockfileWatcher{
		fs:       fs,
		name:     filepath.Base(lockPath),
		debounce: debounce,
		onRotate: onRotate,
		log:      log,
	}, nil
}

// Run delivers rotation callbacks until the context ends. Events for other
// files in the directory are ignored.
func (w *LockfileWatcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if now := time.Now(); now.Sub(w.last) >= w.debounce {
				w.last = now
				w.log.Debug("lockfile changed", zap.String("op", ev.Op.String()))
				w.onRotate()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Debug("lockfile watch error", zap.Error(err))
		case <-ctx.Done():
			return nil
		}
	}
}
