// Package connectivity reports whether the device can reach the hike store.
package connectivity

import (
	"context"
	"sync"
)

// Status is a connectivity observation. InternetReachable is nil when
// reachability has not been determined.
type Status struct {
	Connected         bool
	InternetReachable *bool
}

// Reachable returns a pointer to b for building a Status.
func Reachable(b bool) *bool {
	return &b
}

// Online treats unknown reachability as reachable. The reconciler uses it.
func (s Status) Online() bool {
	return s.Connected && (s.InternetReachable == nil || *s.InternetReachable)
}

// Confirmed requires reachability to be positively known. A stopping
// recorder uses it before attempting a direct upload.
func (s Status) Confirmed() bool {
	return s.Connected && s.InternetReachable != nil && *s.InternetReachable
}

// Equal compares two observations.
func (s Status) Equal(o Status) bool {
	if s.Connected != o.Connected {
		return false
	}
	if s.InternetReachable == nil || o.InternetReachable == nil {
		return s.InternetReachable == nil && o.InternetReachable == nil
	}
	return *s.InternetReachable == *o.InternetReachable
}

// Oracle reports connectivity on demand and on change.
type Oracle interface {
	FetchStatus(ctx context.Context) (Status, error)
	// Subscribe registers fn for every change and returns an unsubscribe func.
	Subscribe(fn func(Status)) (unsubscribe func())
}

// listeners is a set of change callbacks shared by the Oracle implementations.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Status)
}

func (l *listeners) add(fn func(Status)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(Status))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) emit(s Status) {
	l.mu.Lock()
	fns := make([]func(Status), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Static is an Oracle whose status is set explicitly.
type Static struct {
	mu     sync.Mutex
	status Status
	subs   listeners
}

// NewStatic creates a Static oracle with an initial status.
func NewStatic(s Status) *Static {
	return &Static{status: s}
}

func (s *Static) FetchStatus(context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *Static) Subscribe(fn func(Status)) func() {
	return s.subs.add(fn)
}

// Set replaces the status and notifies subscribers if it changed.
func (s *Static) Set(st Status) {
	s.mu.Lock()
	changed := !s.status.Equal(st)
	s.status = st
	s.mu.Unlock()
	if changed {
		s.subs.emit(st)
	}
}
