package policy

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Store holds the active policy engine. Requests read the engine through
// the store so a reload takes effect atomically between requests.
type Store struct {
	current atomic.Pointer[Engine]
}

// NewStore wraps the initial engine.
func NewStore(engine *Engine) *Store {
	s := &Store{}
	s.current.Store(engine)
	return s
}

// Engine returns the active engine.
func (s *Store) Engine() *Engine {
	return s.current.Load()
}

// Replace swaps in a freshly built engine.
func (s *Store) Replace(engine *Engine) {
	s.current.Store(engine)
}

// Watch rebuilds the engine whenever the policy file named in in changes
// and swaps it into store. A rebuild failure keeps the last good engine.
// Watch returns when ctx is done; it is a no-op without a policy file.
func Watch(ctx context.Context, store *Store, in Inputs, logger *slog.Logger) {
	if in.File == "" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("policy watcher failed", "error", err)
		return
	}
	defer watcher.Close()

	// Watch the parent directory so atomic rename-into-place updates are
	// seen even when the file itself is replaced.
	if err := watcher.Add(filepath.Dir(in.File)); err != nil {
		logger.Warn("policy watcher add failed", "path", in.File, "error", err)
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				logger.Warn("policy watcher error", "error", err)
			}
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(in.File) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case <-timerChan(timer):
			timer = nil
			engine, err := Build(in)
			if err != nil {
				logger.Warn("policy reload failed, keeping last good configuration", "path", in.File, "error", err)
				continue
			}
			store.Replace(engine)
			logger.Info("policy configuration reloaded", "path", in.File)
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
