// Package snapshot persists the in-progress recording session so it can be
// recovered after the process dies.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trailog/recorder/internal/kv"
	"github.com/trailog/recorder/pkg/core"
)

const (
	// DefaultKey is the well-known storage key.
	DefaultKey = "trailRecorder.snapshot.v1"
	// DefaultDebounce is the quiet period before a snapshot is written.
	DefaultDebounce = 1500 * time.Millisecond
	// DefaultMaxWait bounds how long updates can keep postponing a write.
	DefaultMaxWait = 3 * time.Second

	writeTimeout = 5 * time.Second
)

// StatusFunc reports the live session status at write time. It must not block
// on locks held by callers of Persister methods.
type StatusFunc func() core.Status

// Persister writes debounced snapshots to a kv.Store under a single key.
type Persister struct {
	store  kv.Store
	key    string
	status StatusFunc
	logger *slog.Logger
	deb    *Debouncer

	// mu guards the fields below and is never held across store I/O.
	mu      sync.Mutex
	epoch   uint64
	seq     uint64
	pending *core.Snapshot

	// io serializes store writes against Clear so a write already in flight
	// cannot land after the key was cleared.
	io      sync.Mutex
	written uint64
}

// Config configures a Persister.
type Config struct {
	Key      string
	Debounce time.Duration
	// MaxWait bounds how long a steady stream of updates can postpone a write.
	MaxWait time.Duration
}

// New creates a persister. Zero config values take the defaults.
func New(store kv.Store, cfg Config, status StatusFunc, logger *slog.Logger) *Persister {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	return &Persister{
		store:  store,
		key:    cfg.Key,
		status: status,
		logger: logger,
		deb:    NewDebouncer(cfg.Debounce, cfg.MaxWait),
	}
}

// Set schedules s to be written after the debounce period. Later calls
// replace the pending value and restart the timer, up to the max wait.
// Set never waits on the store.
func (p *Persister) Set(s core.Snapshot) {
	s.Points = append([]core.TrackPoint(nil), s.Points...)

	p.mu.Lock()
	p.seq++
	p.pending = &s
	epoch := p.epoch
	p.mu.Unlock()

	p.deb.Trigger(func() { p.write(epoch) })
}

// write persists the pending snapshot if the session is still active.
func (p *Persister) write(epoch uint64) {
	p.mu.Lock()
	if epoch != p.epoch || p.pending == nil {
		p.mu.Unlock()
		return
	}
	s, seq := p.pending, p.seq
	p.pending = nil
	p.mu.Unlock()

	p.io.Lock()
	defer p.io.Unlock()

	p.mu.Lock()
	stale := epoch != p.epoch
	p.mu.Unlock()
	if stale || seq <= p.written {
		return
	}

	if st := p.status(); !st.Active() {
		p.logger.Debug("Discarding snapshot, session not active", "status", st)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		p.logger.Warn("Failed to encode snapshot", "error", err)
		return
	}
	if err := p.store.Set(ctx, p.key, data); err != nil {
		p.logger.Warn("Failed to write snapshot", "error", err)
		return
	}
	p.written = seq
	p.logger.Debug("Snapshot written", "points", len(s.Points), "status", s.Status)
}

// Flush writes the pending snapshot now, subject to the same status check.
func (p *Persister) Flush() {
	p.deb.Flush()
}

// Get returns the stored snapshot. It returns nil without error when the key
// is absent or holds something that does not decode.
func (p *Persister) Get(ctx context.Context) (*core.Snapshot, error) {
	data, err := p.store.Get(ctx, p.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var s core.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		p.logger.Warn("Ignoring undecodable snapshot", "error", err)
		return nil, nil
	}
	return &s, nil
}

// Clear cancels any pending write and removes the stored snapshot.
func (p *Persister) Clear(ctx context.Context) error {
	p.deb.Cancel()

	p.mu.Lock()
	p.epoch++
	p.pending = nil
	p.mu.Unlock()

	p.io.Lock()
	defer p.io.Unlock()
	if err := p.store.Delete(ctx, p.key); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}
