// Package buffer accumulates points delivered while the recorder is not
// listening (background delivery) until the recorder drains them.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/trailog/recorder/internal/kv"
	"github.com/trailog/recorder/pkg/core"
)

// DefaultKey is the storage key of the buffered point array.
const DefaultKey = "trailRecorder.backgroundPoints.v1"

// Buffer is a durable append-only list of points under one key. Append and
// Drain are serialized in-process so a drain never loses a concurrent append.
type Buffer struct {
	mu    sync.Mutex
	store kv.Store
	key   string
}

// New creates a buffer over store. An empty key uses DefaultKey.
func New(store kv.Store, key string) *Buffer {
	if key == "" {
		key = DefaultKey
	}
	return &Buffer{store: store, key: key}
}

func (b *Buffer) load(ctx context.Context) ([]core.TrackPoint, error) {
	data, err := b.store.Get(ctx, b.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read point buffer: %w", err)
	}
	var points []core.TrackPoint
	if err := json.Unmarshal(data, &points); err != nil {
		// a corrupt buffer must not block new appends
		return nil, nil
	}
	return points, nil
}

// Append merges points onto the stored array.
func (b *Buffer) Append(ctx context.Context, points []core.TrackPoint) error {
	if len(points) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.load(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(existing, points...))
	if err != nil {
		return fmt.Errorf("failed to encode point buffer: %w", err)
	}
	if err := b.store.Set(ctx, b.key, data); err != nil {
		return fmt.Errorf("failed to write point buffer: %w", err)
	}
	return nil
}

// Drain returns every buffered point in append order and clears the buffer.
// Points are only returned once the clear succeeded.
func (b *Buffer) Drain(ctx context.Context) ([]core.TrackPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	points, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.store.Delete(ctx, b.key); err != nil {
		return nil, fmt.Errorf("failed to clear point buffer: %w", err)
	}
	return points, nil
}

// Len returns the number of buffered points.
func (b *Buffer) Len(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	points, err := b.load(ctx)
	return len(points), err
}
