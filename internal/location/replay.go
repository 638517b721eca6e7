package location

import (
	"context"
	"sync"
	"time"

	"github.com/trailog/recorder/pkg/core"
)

// Replay plays back a recorded track as if it came from a receiver. Points are
// handed out once each, in order, across CurrentFix and all subscriptions.
type Replay struct {
	points  []core.TrackPoint
	pace    time.Duration
	granted bool

	mu        sync.Mutex
	cursor    int
	delivered int
	nextID    Subscription
	subs      map[Subscription]chan struct{}
	done      chan struct{}
	doneOnce  sync.Once
}

// ReplayOption configures a Replay.
type ReplayOption func(*Replay)

// WithPace waits d between deliveries. Zero delivers as fast as the
// subscriber accepts them.
func WithPace(d time.Duration) ReplayOption {
	return func(r *Replay) {
		r.pace = d
	}
}

// WithPermission sets the answer to RequestPermission.
func WithPermission(granted bool) ReplayOption {
	return func(r *Replay) {
		r.granted = granted
	}
}

// NewReplay creates a replay over a copy of points.
func NewReplay(points []core.TrackPoint, opts ...ReplayOption) *Replay {
	r := &Replay{
		points:  append([]core.TrackPoint(nil), points...),
		granted: true,
		subs:    make(map[Subscription]chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.points) == 0 {
		r.finish()
	}
	return r
}

// Done is closed once every point has been delivered.
func (r *Replay) Done() <-chan struct{} {
	return r.done
}

// Remaining returns the number of points not yet handed out.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points) - r.cursor
}

func (r *Replay) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.granted, nil
}

// CurrentFix consumes and returns the next point.
func (r *Replay) CurrentFix(ctx context.Context) (core.TrackPoint, error) {
	if err := ctx.Err(); err != nil {
		return core.TrackPoint{}, err
	}
	p, ok := r.take()
	if !ok {
		return core.TrackPoint{}, ErrNoFix
	}
	r.markDelivered()
	return p, nil
}

func (r *Replay) Subscribe(fn func(core.TrackPoint)) (Subscription, error) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	stop := make(chan struct{})
	r.subs[id] = stop
	r.mu.Unlock()

	go r.run(stop, fn)
	return id, nil
}

func (r *Replay) Unsubscribe(sub Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stop, ok := r.subs[sub]
	if !ok {
		return ErrUnknownSubscription
	}
	delete(r.subs, sub)
	close(stop)
	return nil
}

func (r *Replay) run(stop <-chan struct{}, fn func(core.TrackPoint)) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		p, ok := r.take()
		if !ok {
			return
		}
		fn(p)
		r.markDelivered()

		if r.pace > 0 {
			select {
			case <-stop:
				return
			case <-time.After(r.pace):
			}
		}
	}
}

func (r *Replay) take() (core.TrackPoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor >= len(r.points) {
		return core.TrackPoint{}, false
	}
	p := r.points[r.cursor]
	r.cursor++
	return p, true
}

func (r *Replay) markDelivered() {
	r.mu.Lock()
	r.delivered++
	all := r.delivered >= len(r.points)
	r.mu.Unlock()
	if all {
		r.finish()
	}
}

func (r *Replay) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}
