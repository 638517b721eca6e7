package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trailog/recorder/pkg/core"
)

// Memory is a thread-safe in-process Store for tests and ephemeral runs.
type Memory struct {
	mu    sync.Mutex
	items map[string]core.PendingHike
	seq   int64
	order map[string]int64
	now   func() time.Time
}

// NewMemory creates a new empty queue.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]core.PendingHike),
		order: make(map[string]int64),
		now:   time.Now,
	}
}

func (q *Memory) Upsert(_ context.Context, s core.StopSummary) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s.Points = append([]core.TrackPoint(nil), s.Points...)
	q.items[s.TrailID] = core.PendingHike{
		StopSummary: s,
		CreatedAt:   q.now().UnixMilli(),
		SyncStatus:  core.SyncPending,
	}
	q.seq++
	q.order[s.TrailID] = q.seq
	return nil
}

func (q *Memory) List(_ context.Context, limit int) ([]core.PendingHike, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]core.PendingHike, 0, len(q.items))
	for _, h := range q.items {
		if h.SyncStatus == core.SyncPending {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return q.order[result[i].TrailID] < q.order[result[j].TrailID]
	})

	if n := normalizeLimit(limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

func (q *Memory) Delete(_ context.Context, trailID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, trailID)
	delete(q.order, trailID)
	return nil
}

func (q *Memory) MarkError(_ context.Context, trailID, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.items[trailID]
	if !ok {
		return nil
	}
	h.LastError = &msg
	q.items[trailID] = h
	return nil
}

func (q *Memory) Count(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, h := range q.items {
		if h.SyncStatus == core.SyncPending {
			n++
		}
	}
	return n, nil
}

// Get returns the row for trailID.
func (q *Memory) Get(trailID string) (core.PendingHike, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.items[trailID]
	return h, ok
}
