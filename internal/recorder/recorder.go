// Package recorder owns the lifecycle of a recording session: it feeds
// location samples through the geo filter, keeps the elapsed timer, mirrors
// the session into a snapshot and persists the finished hike.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trailog/recorder/internal/auth"
	"github.com/trailog/recorder/internal/buffer"
	"github.com/trailog/recorder/internal/connectivity"
	"github.com/trailog/recorder/internal/geo"
	"github.com/trailog/recorder/internal/kv"
	"github.com/trailog/recorder/internal/location"
	"github.com/trailog/recorder/internal/notify"
	"github.com/trailog/recorder/internal/queue"
	"github.com/trailog/recorder/internal/snapshot"
	"github.com/trailog/recorder/pkg/core"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrPermissionDenied is returned by Start when location access is refused.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrAlreadyActive is returned by Start while a session is recording or paused.
	ErrAlreadyActive = errors.New("a session is already active")
	// ErrOffline is the StopResult reason when the remote store was not tried.
	ErrOffline = errors.New("offline, saved locally")
)

// RemoteStore saves a finished hike upstream. Satisfied by api.Client.
type RemoteStore interface {
	SaveTrail(ctx context.Context, token string, s core.StopSummary) error
}

// Config holds recorder tuning.
type Config struct {
	Filter          geo.FilterConfig
	TickInterval    time.Duration
	FirstFixTimeout time.Duration
	Snapshot        snapshot.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Filter:          geo.DefaultFilterConfig(),
		TickInterval:    time.Second,
		FirstFixTimeout: 15 * time.Second,
		Snapshot: snapshot.Config{
			Key:      snapshot.DefaultKey,
			Debounce: snapshot.DefaultDebounce,
			MaxWait:  snapshot.DefaultMaxWait,
		},
	}
}

// Dependencies are the collaborators of a Recorder. Source and Queue are
// required; a nil Remote or Connectivity means every stop is queued locally.
type Dependencies struct {
	Source        location.Source
	Buffer        *buffer.Buffer
	SnapshotStore kv.Store
	Queue         queue.Store
	Remote        RemoteStore
	Connectivity  connectivity.Oracle
	Credentials   auth.Provider
	Notifier      notify.Notifier
	Logger        *slog.Logger

	// OnUnauthorized is called when the remote store rejects the credential.
	OnUnauthorized func(ctx context.Context)
	// Now overrides the wall clock.
	Now func() time.Time
}

// State is a point-in-time copy of the session.
type State struct {
	Status    core.Status
	StartedAt time.Time
	Elapsed   int64
	Distance  float64
	Points    []core.TrackPoint
}

// Recorder is the session state machine: idle, recording, paused.
type Recorder struct {
	cfg       Config
	deps      Dependencies
	logger    *slog.Logger
	now       func() time.Time
	snapshots *snapshot.Persister

	// transition serializes Start, Resume, Stop, ForceIdle and Restore for
	// their whole duration, so Stop is not reentrant.
	transition sync.Mutex

	// status mirrors the session status outside mu for the snapshot persister.
	status atomic.Value

	mu         sync.Mutex
	epoch      uint64
	filter     *geo.Filter
	startedAt  time.Time
	refStart   time.Time
	elapsed    int64
	sub        location.Subscription
	subscribed bool
	tickStop   chan struct{}

	accepted metric.Int64Counter
	rejected metric.Int64Counter
	stops    metric.Int64Counter
}

// New creates an idle recorder.
func New(cfg Config, deps Dependencies) (*Recorder, error) {
	if deps.Source == nil {
		return nil, errors.New("recorder: location source is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("recorder: queue is required")
	}
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.FirstFixTimeout <= 0 {
		cfg.FirstFixTimeout = def.FirstFixTimeout
	}
	if cfg.Filter == (geo.FilterConfig{}) {
		cfg.Filter = def.Filter
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewSlog(deps.Logger)
	}
	if deps.SnapshotStore == nil {
		deps.SnapshotStore = kv.NewMemory()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := &Recorder{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "recorder"),
		now:    deps.Now,
		filter: geo.NewFilter(cfg.Filter),
	}
	r.status.Store(core.StatusIdle)
	r.snapshots = snapshot.New(deps.SnapshotStore, cfg.Snapshot, r.Status, r.logger)

	m := meter()
	var err error
	r.accepted, err = m.Int64Counter(
		"recorder.points.accepted",
		metric.WithDescription("Location samples accepted into a track"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating accepted counter: %w", err)
	}
	r.rejected, err = m.Int64Counter(
		"recorder.points.rejected",
		metric.WithDescription("Location samples dropped by the geo filter"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	r.stops, err = m.Int64Counter(
		"recorder.stops",
		metric.WithDescription("Finished sessions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stops counter: %w", err)
	}
	return r, nil
}

// Status returns the current status without taking the state lock.
func (r *Recorder) Status() core.Status {
	return r.status.Load().(core.Status)
}

func (r *Recorder) setStatus(s core.Status) {
	r.status.Store(s)
}

// Snapshots exposes the snapshot persister.
func (r *Recorder) Snapshots() *snapshot.Persister {
	return r.snapshots
}

// State returns a copy of the session.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Status:    r.Status(),
		StartedAt: r.startedAt,
		Elapsed:   r.elapsed,
		Distance:  r.filter.Total(),
		Points:    r.filter.Points(),
	}
}

// Start begins a new session. It fails with ErrPermissionDenied, leaving the
// recorder idle, when location access is refused.
func (r *Recorder) Start(ctx context.Context) error {
	r.transition.Lock()
	defer r.transition.Unlock()

	if r.Status() != core.StatusIdle {
		return ErrAlreadyActive
	}

	granted, err := r.deps.Source.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	now := r.now()
	r.mu.Lock()
	r.epoch++
	epoch := r.epoch
	r.filter.Reset()
	r.elapsed = 0
	r.startedAt = now
	r.refStart = now
	r.setStatus(core.StatusRecording)
	r.startTickerLocked(epoch)
	r.snapshots.Set(r.snapshotLocked())
	r.mu.Unlock()

	r.firstFix(ctx, epoch)

	if err := r.subscribe(epoch); err != nil {
		r.abort(ctx, epoch)
		return err
	}
	r.logger.Info("Recording started", "startedAt", now.UTC())
	return nil
}

// firstFix waits a bounded time for an initial sample. A missing fix only
// means the track starts with the first subscription delivery.
func (r *Recorder) firstFix(ctx context.Context, epoch uint64) {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FirstFixTimeout)
	defer cancel()

	p, err := r.deps.Source.CurrentFix(fctx)
	if err != nil {
		r.logger.Debug("No initial fix", "error", err)
		return
	}
	r.onPoint(epoch, p)
}

func (r *Recorder) abort(ctx context.Context, epoch uint64) {
	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return
	}
	sub, ok := r.detachLocked()
	r.filter.Reset()
	r.elapsed = 0
	r.setStatus(core.StatusIdle)
	r.mu.Unlock()

	r.unsubscribe(sub, ok)
	r.clearSnapshot(ctx)
}

// Pause stops the subscription and the timer, keeping the session.
func (r *Recorder) Pause() {
	r.mu.Lock()
	if r.Status() != core.StatusRecording {
		r.mu.Unlock()
		return
	}
	r.elapsed = r.elapsedLocked()
	elapsed := r.elapsed
	sub, ok := r.detachLocked()
	r.setStatus(core.StatusPaused)
	r.snapshots.Set(r.snapshotLocked())
	r.mu.Unlock()

	r.unsubscribe(sub, ok)
	r.logger.Info("Recording paused", "elapsed", elapsed)
}

// Resume continues a paused session; the timer reference is moved so elapsed
// time excludes the pause. It does nothing unless paused.
func (r *Recorder) Resume(ctx context.Context) error {
	r.transition.Lock()
	defer r.transition.Unlock()

	if r.Status() != core.StatusPaused {
		return nil
	}

	r.mu.Lock()
	r.epoch++
	epoch := r.epoch
	r.refStart = r.now().Add(-time.Duration(r.elapsed) * time.Second)
	r.setStatus(core.StatusRecording)
	r.startTickerLocked(epoch)
	r.snapshots.Set(r.snapshotLocked())
	r.mu.Unlock()

	if err := r.subscribe(epoch); err != nil {
		r.mu.Lock()
		if r.epoch == epoch {
			r.epoch++
			r.stopTickerLocked()
			r.setStatus(core.StatusPaused)
		}
		r.mu.Unlock()
		return err
	}
	r.logger.Info("Recording resumed")
	return nil
}

// Ingest replays buffered samples through the filter in order while a session
// is active. It returns how many were accepted.
func (r *Recorder) Ingest(points []core.TrackPoint) int {
	if len(points) == 0 {
		return 0
	}

	r.mu.Lock()
	if !r.Status().Active() {
		r.mu.Unlock()
		return 0
	}
	n := 0
	for _, p := range points {
		if r.acceptLocked(p) {
			n++
		}
	}
	if n > 0 {
		r.snapshots.Set(r.snapshotLocked())
	}
	r.mu.Unlock()

	r.countPoints(n, len(points)-n)
	r.logger.Debug("Ingested buffered points", "received", len(points), "accepted", n)
	return n
}

// Stop finishes the session, persists it and returns to idle. It never fails;
// the result describes where the hike ended up.
func (r *Recorder) Stop(ctx context.Context) core.StopResult {
	r.transition.Lock()
	defer r.transition.Unlock()

	if !r.Status().Active() {
		return core.StopResult{Outcome: core.OutcomeNotRecording}
	}

	if r.deps.Buffer != nil {
		buffered, err := r.deps.Buffer.Drain(ctx)
		if err != nil {
			r.logger.Warn("Failed to drain background points", "error", err)
		}
		r.Ingest(buffered)
	}

	r.mu.Lock()
	if r.Status() == core.StatusRecording {
		r.elapsed = r.elapsedLocked()
	}
	sub, ok := r.detachLocked()
	summary := core.StopSummary{
		TrailID:   newTrailID(),
		StartedAt: r.startedAt.UnixMilli(),
		EndedAt:   r.now().UnixMilli(),
		DistanceM: roundMeters(r.filter.Total()),
		DurationS: r.elapsed,
		Points:    r.filter.Points(),
	}
	r.filter.Reset()
	r.elapsed = 0
	r.setStatus(core.StatusIdle)
	r.mu.Unlock()

	r.unsubscribe(sub, ok)
	r.clearSnapshot(ctx)

	res := r.persist(ctx, summary)
	r.stops.Add(ctx, 1, metric.WithAttributes(outcomeAttr(res.Outcome)))
	r.logger.Info("Recording stopped",
		"trailId", summary.TrailID,
		"outcome", res.Outcome.String(),
		"distanceM", summary.DistanceM,
		"durationS", summary.DurationS,
		"points", len(summary.Points))
	return res
}

// ForceIdle drops the session unconditionally, clearing timer, subscription
// and snapshot.
func (r *Recorder) ForceIdle(ctx context.Context) {
	r.transition.Lock()
	defer r.transition.Unlock()

	r.mu.Lock()
	sub, ok := r.detachLocked()
	r.filter.Reset()
	r.elapsed = 0
	r.setStatus(core.StatusIdle)
	r.mu.Unlock()

	r.unsubscribe(sub, ok)
	r.clearSnapshot(ctx)
}

// Restore recovers an unfinished session from the snapshot into paused. It
// reports whether a session was recovered.
func (r *Recorder) Restore(ctx context.Context) (bool, error) {
	r.transition.Lock()
	defer r.transition.Unlock()

	if r.Status() != core.StatusIdle {
		return false, nil
	}

	snap, err := r.snapshots.Get(ctx)
	if err != nil {
		return false, err
	}
	if snap == nil || !snap.Status.Active() || len(snap.Points) == 0 {
		return false, nil
	}

	r.mu.Lock()
	r.epoch++
	r.filter.Restore(snap.Points, snap.Distance)
	r.elapsed = snap.Elapsed
	r.startedAt = r.now()
	if snap.StartTs > 0 {
		r.startedAt = time.UnixMilli(snap.StartTs)
	}
	r.setStatus(core.StatusPaused)
	r.snapshots.Set(r.snapshotLocked())
	r.mu.Unlock()

	r.deps.Notifier.Success(notify.MsgRecovered)
	r.logger.Info("Recovered in-progress hike", "points", len(snap.Points), "elapsed", snap.Elapsed)
	return true, nil
}

// Shutdown writes any pending snapshot and releases the subscription and
// timer without ending the session, so it can be restored later.
func (r *Recorder) Shutdown() {
	r.snapshots.Flush()

	r.mu.Lock()
	sub, ok := r.detachLocked()
	r.mu.Unlock()
	r.unsubscribe(sub, ok)
}

func (r *Recorder) onPoint(epoch uint64, p core.TrackPoint) {
	r.mu.Lock()
	if epoch != r.epoch || r.Status() != core.StatusRecording {
		r.mu.Unlock()
		return
	}
	ok := r.acceptLocked(p)
	if ok {
		r.snapshots.Set(r.snapshotLocked())
	}
	r.mu.Unlock()

	if ok {
		r.countPoints(1, 0)
	} else {
		r.countPoints(0, 1)
	}
}

func (r *Recorder) acceptLocked(p core.TrackPoint) bool {
	if _, ok := r.filter.Accept(p); ok {
		return true
	}
	_, reason := r.filter.Check(p)
	r.logger.Debug("Sample rejected", "reason", reason, "ts", p.Timestamp)
	return false
}

func (r *Recorder) countPoints(accepted, rejected int) {
	ctx := context.Background()
	if accepted > 0 {
		r.accepted.Add(ctx, int64(accepted))
	}
	if rejected > 0 {
		r.rejected.Add(ctx, int64(rejected))
	}
}

func (r *Recorder) tick(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch || r.Status() != core.StatusRecording {
		return
	}
	elapsed := r.elapsedLocked()
	if elapsed == r.elapsed {
		return
	}
	r.elapsed = elapsed
	r.snapshots.Set(r.snapshotLocked())
}

func (r *Recorder) elapsedLocked() int64 {
	d := r.now().Sub(r.refStart)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func (r *Recorder) startTickerLocked(epoch uint64) {
	r.stopTickerLocked()
	stop := make(chan struct{})
	r.tickStop = stop

	go func() {
		t := time.NewTicker(r.cfg.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				r.tick(epoch)
			}
		}
	}()
}

func (r *Recorder) stopTickerLocked() {
	if r.tickStop != nil {
		close(r.tickStop)
		r.tickStop = nil
	}
}

// detachLocked invalidates outstanding callbacks and stops the timer. The
// returned subscription must be released with unsubscribe after unlocking.
func (r *Recorder) detachLocked() (location.Subscription, bool) {
	r.epoch++
	r.stopTickerLocked()
	sub, ok := r.sub, r.subscribed
	r.subscribed = false
	return sub, ok
}

func (r *Recorder) subscribe(epoch uint64) error {
	sub, err := r.deps.Source.Subscribe(func(p core.TrackPoint) {
		r.onPoint(epoch, p)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to location updates: %w", err)
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		r.unsubscribe(sub, true)
		return nil
	}
	r.sub = sub
	r.subscribed = true
	r.mu.Unlock()
	return nil
}

func (r *Recorder) unsubscribe(sub location.Subscription, ok bool) {
	if !ok {
		return
	}
	if err := r.deps.Source.Unsubscribe(sub); err != nil {
		r.logger.Debug("Unsubscribe failed", "error", err)
	}
}

func (r *Recorder) snapshotLocked() core.Snapshot {
	return core.Snapshot{
		StartTs:  r.startedAt.UnixMilli(),
		Elapsed:  r.elapsed,
		Distance: r.filter.Total(),
		Points:   r.filter.Points(),
		Status:   r.Status(),
	}
}

func (r *Recorder) clearSnapshot(ctx context.Context) {
	if err := r.snapshots.Clear(ctx); err != nil {
		r.logger.Warn("Failed to clear snapshot", "error", err)
	}
}
