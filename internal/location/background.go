package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/trailog/recorder/internal/buffer"
	"github.com/trailog/recorder/pkg/core"
)

// BackgroundTask stores every sample from a background source into the point
// buffer so the recorder can ingest them on its next stop.
type BackgroundTask struct {
	source Source
	buffer *buffer.Buffer
	logger *slog.Logger

	mu      sync.Mutex
	sub     Subscription
	running bool
	cancel  context.CancelFunc
}

// NewBackgroundTask creates a task; call Start to begin receiving.
func NewBackgroundTask(source Source, buf *buffer.Buffer, logger *slog.Logger) *BackgroundTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundTask{source: source, buffer: buf, logger: logger}
}

// Start subscribes to the source. Starting a running task is a no-op.
func (t *BackgroundTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}

	ok, err := t.source.RequestPermission(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("background location permission denied")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := t.source.Subscribe(t.deliver(runCtx))
	if err != nil {
		cancel()
		return err
	}
	t.sub = sub
	t.cancel = cancel
	t.running = true
	t.logger.Info("background location task started")
	return nil
}

func (t *BackgroundTask) deliver(ctx context.Context) func(core.TrackPoint) {
	return func(p core.TrackPoint) {
		if ctx.Err() != nil {
			return
		}
		if err := t.buffer.Append(ctx, []core.TrackPoint{p}); err != nil {
			t.logger.Error("failed to buffer background point", "error", err)
		}
	}
}

// Stop unsubscribes. Stopping a stopped task is a no-op.
func (t *BackgroundTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.cancel()
	if err := t.source.Unsubscribe(t.sub); err != nil {
		t.logger.Debug("background unsubscribe failed", "error", err)
	}
	t.logger.Info("background location task stopped")
}

// Running reports whether the task is subscribed.
func (t *BackgroundTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
