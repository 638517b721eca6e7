package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/trailog/recorder/internal/api"
	"github.com/trailog/recorder/internal/auth"
	"github.com/trailog/recorder/internal/connectivity"
)

// WatcherConfig holds the callbacks fired after a pass.
type WatcherConfig struct {
	// OnSynced runs when a pass confirmed at least one hike.
	OnSynced func(ctx context.Context, n int)
	// OnUnauthorized runs when the remote store rejected the credential.
	OnUnauthorized func(ctx context.Context)
	Logger         *slog.Logger
}

// Watcher runs a reconcile pass when a credential becomes available and when
// connectivity goes from offline to online.
type Watcher struct {
	rec    *Reconciler
	creds  auth.Provider
	oracle connectivity.Oracle
	cfg    WatcherConfig
	logger *slog.Logger

	trigger chan struct{}

	mu        sync.Mutex
	running   bool
	known     bool
	wasOnline bool
	unsub     func()
	stopChan  chan struct{}
	done      chan struct{}
}

// NewWatcher creates a stopped watcher.
func NewWatcher(rec *Reconciler, creds auth.Provider, oracle connectivity.Oracle, cfg WatcherConfig) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		rec:     rec,
		creds:   creds,
		oracle:  oracle,
		cfg:     cfg,
		logger:  logger.With("component", "reconcile-watcher"),
		trigger: make(chan struct{}, 1),
	}
}

// Start subscribes to connectivity changes and schedules an initial pass.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.known = false
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	w.unsub = w.oracle.Subscribe(w.onStatus)

	go w.loop(w.stopChan, w.done)
	w.Trigger()
}

// Stop unsubscribes and waits for an in-flight pass to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.unsub()
	close(w.stopChan)
	done := w.done
	w.mu.Unlock()
	<-done
}

// Trigger schedules a pass. Triggers arriving while one is queued coalesce.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// TokenChanged is registered with auth.Store.OnChange.
func (w *Watcher) TokenChanged(token string) {
	if token != "" {
		w.Trigger()
	}
}

func (w *Watcher) onStatus(st connectivity.Status) {
	online := st.Online()

	w.mu.Lock()
	transition := online && (!w.known || !w.wasOnline)
	w.known = true
	w.wasOnline = online
	w.mu.Unlock()

	if transition {
		w.logger.Info("Back online, syncing pending hikes")
		w.Trigger()
	}
}

func (w *Watcher) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case <-w.trigger:
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("Sync pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs one pass with the current credential and fires the
// configured callbacks.
func (w *Watcher) RunOnce(ctx context.Context) (int, error) {
	token, err := w.creds.Token(ctx)
	if err != nil {
		return 0, err
	}

	n, err := w.rec.SyncPendingHikes(ctx, token)
	if errors.Is(err, api.ErrUnauthorized) && w.cfg.OnUnauthorized != nil {
		w.cfg.OnUnauthorized(ctx)
	}
	if n > 0 && w.cfg.OnSynced != nil {
		w.cfg.OnSynced(ctx, n)
	}
	return n, err
}
