package rules

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// Loader builds a fresh Store, typically by calling Build with the configured
// source.
type Loader func(ctx context.Context) (*Store, error)

// ReloadMetrics receives store size and reload outcomes.
type ReloadMetrics interface {
	SetRulesLoaded(n int)
	ObserveReload(err error)
}

// Holder publishes the current Store. Readers take a snapshot with Current and
// keep using it for the whole call, so a concurrent reload never changes the
// rules mid-document.
type Holder struct {
	current atomic.Pointer[Store]
	load    Loader

	mu          sync.Mutex
	subscribers []func(*Store)

	logger  logging.Logger
	metrics ReloadMetrics
}

// HolderOption configures a Holder.
type HolderOption func(*Holder)

// WithHolderLogger sets the logger used for reload events.
func WithHolderLogger(l logging.Logger) HolderOption {
	return func(h *Holder) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithReloadMetrics records the outcome of every reload.
func WithReloadMetrics(m ReloadMetrics) HolderOption {
	return func(h *Holder) { h.metrics = m }
}

// NewHolder publishes initial (an empty store when nil). load may be nil, in
// which case Reload fails.
func NewHolder(initial *Store, load Loader, opts ...HolderOption) *Holder {
	h := &Holder{load: load, logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(h)
	}
	if initial == nil {
		initial = Empty()
	}
	h.current.Store(initial)
	if h.metrics != nil {
		h.metrics.SetRulesLoaded(initial.Len())
	}
	return h
}

// Current returns the active Store.
func (h *Holder) Current() *Store {
	return h.current.Load()
}

// Subscribe registers fn to be called with every newly published Store.
func (h *Holder) Subscribe(fn func(*Store)) {
	h.mu.Lock()
	h.subscribers = append(h.subscribers, fn)
	h.mu.Unlock()
}

// Swap publishes s and returns the previous store.
func (h *Holder) Swap(s *Store) *Store {
	if s == nil {
		s = Empty()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.swapLocked(s)
}

func (h *Holder) swapLocked(s *Store) *Store {
	prev := h.current.Swap(s)
	if h.metrics != nil {
		h.metrics.SetRulesLoaded(s.Len())
	}
	for _, fn := range h.subscribers {
		fn(s)
	}
	return prev
}

// Reload builds a new Store with the loader and publishes it. On failure the
// current store stays active and the error is returned.
func (h *Holder) Reload(ctx context.Context) (*Store, error) {
	if h.load == nil {
		return nil, apperrors.New(apperrors.ErrCodeRulesReloadFailed, "no rule loader configured")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.load(ctx)
	if h.metrics != nil {
		h.metrics.ObserveReload(err)
	}
	if err != nil {
		h.logger.WithError(err).Error("rule reload failed; keeping current store")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeRulesReloadFailed, "reload rules")
	}
	h.swapLocked(s)
	h.logger.Info("rules reloaded", logging.Int("concepts", s.Len()), logging.Int("combined_hints", s.Hints().Len()))
	return s, nil
}

// WatchDir reloads whenever a file in dir is written, created, renamed or
// removed. Bursts of events inside debounce trigger one reload. The watch
// stops when ctx is done.
func (h *Holder) WatchDir(ctx context.Context, dir string, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeRulesSourceUnavailable, "create rule watcher")
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return apperrors.Wrapf(err, apperrors.ErrCodeRulesSourceUnavailable, "watch %s", dir)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op == fsnotify.Chmod {
					continue
				}
				h.logger.Debug("rule file changed", logging.String("file", filepath.Base(ev.Name)), logging.String("op", ev.Op.String()))
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				h.logger.WithError(err).Warn("rule watcher error")
			case <-fire:
				fire = nil
				_, _ = h.Reload(ctx)
			}
		}
	}()
	return nil
}
