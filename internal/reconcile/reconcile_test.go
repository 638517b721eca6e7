package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailog/recorder/internal/api"
	"github.com/trailog/recorder/internal/auth"
	"github.com/trailog/recorder/internal/connectivity"
	"github.com/trailog/recorder/internal/queue"
	"github.com/trailog/recorder/pkg/core"
)

type fakeRemote struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (f *fakeRemote) SaveTrail(_ context.Context, _ string, s core.StopSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s.TrailID)
	return f.fail[s.TrailID]
}

func (f *fakeRemote) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func online() connectivity.Status {
	return connectivity.Status{Connected: true, InternetReachable: connectivity.Reachable(true)}
}

func seed(t *testing.T, q queue.Store, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("trail-%02d", i)
		require.NoError(t, q.Upsert(context.Background(), core.StopSummary{
			TrailID:   ids[i],
			StartedAt: int64(i) * 1000,
			EndedAt:   int64(i)*1000 + 500,
			DistanceM: int64(i),
			Points:    []core.TrackPoint{{Timestamp: int64(i), Lat: 1, Lon: 2}},
		}))
	}
	return ids
}

func newReconciler(t *testing.T, q queue.Store, remote RemoteStore, oracle connectivity.Oracle) *Reconciler {
	t.Helper()
	r, err := New(q, remote, oracle, 0, nil)
	require.NoError(t, err)
	return r
}

func count(t *testing.T, q queue.Store) int64 {
	t.Helper()
	n, err := q.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestSync_AllAccepted(t *testing.T) {
	q := queue.NewMemory()
	ids := seed(t, q, 3)
	remote := &fakeRemote{}
	r := newReconciler(t, q, remote, connectivity.NewStatic(online()))

	n, err := r.SyncPendingHikes(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, count(t, q))
	assert.Equal(t, ids, remote.called())
}

func TestSync_UnauthorizedHalts(t *testing.T) {
	q := queue.NewMemory()
	ids := seed(t, q, 2)
	remote := &fakeRemote{fail: map[string]error{ids[0]: api.ErrUnauthorized}}
	r := newReconciler(t, q, remote, connectivity.NewStatic(online()))

	n, err := r.SyncPendingHikes(context.Background(), "tok")
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Zero(t, n)
	assert.Equal(t, []string{ids[0]}, remote.called())

	first, ok := q.Get(ids[0])
	require.True(t, ok)
	require.NotNil(t, first.LastError)
	assert.Equal(t, core.SyncPending, first.SyncStatus)

	second, ok := q.Get(ids[1])
	require.True(t, ok)
	assert.Nil(t, second.LastError)
	assert.Equal(t, core.SyncPending, second.SyncStatus)
}

func TestSync_TransientFailureContinues(t *testing.T) {
	q := queue.NewMemory()
	ids := seed(t, q, 3)
	remote := &fakeRemote{fail: map[string]error{ids[1]: &api.StatusError{Code: 503, Body: "maintenance"}}}
	r := newReconciler(t, q, remote, connectivity.NewStatic(online()))

	n, err := r.SyncPendingHikes(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ids, remote.called())

	left, ok := q.Get(ids[1])
	require.True(t, ok)
	require.NotNil(t, left.LastError)
	assert.Equal(t, "HTTP 503: maintenance", *left.LastError)
	assert.Equal(t, int64(1), count(t, q))
}

func TestSync_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		status connectivity.Status
		token  string
		want   int
	}{
		{"no token", online(), "", 0},
		{"no link", connectivity.Status{}, "tok", 0},
		{"internet unreachable", connectivity.Status{Connected: true, InternetReachable: connectivity.Reachable(false)}, "tok", 0},
		{"reachability unknown", connectivity.Status{Connected: true}, "tok", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.NewMemory()
			seed(t, q, 2)
			remote := &fakeRemote{}
			r := newReconciler(t, q, remote, connectivity.NewStatic(tt.status))

			n, err := r.SyncPendingHikes(context.Background(), tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Len(t, remote.called(), tt.want)
		})
	}
}

func TestSync_BatchLimit(t *testing.T) {
	q := queue.NewMemory()
	ids := seed(t, q, 30)
	remote := &fakeRemote{}
	r := newReconciler(t, q, remote, connectivity.NewStatic(online()))

	n, err := r.SyncPendingHikes(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, queue.DefaultBatchSize, n)
	assert.Equal(t, ids[:queue.DefaultBatchSize], remote.called())
	assert.Equal(t, int64(5), count(t, q))
}

func TestSync_ConcurrentPassesDoNotDuplicate(t *testing.T) {
	q := queue.NewMemory()
	seed(t, q, 3)
	remote := &fakeRemote{}
	r := newReconciler(t, q, remote, connectivity.NewStatic(online()))

	var wg sync.WaitGroup
	totals := make([]int, 4)
	for i := range totals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := r.SyncPendingHikes(context.Background(), "tok")
			assert.NoError(t, err)
			totals[i] = n
		}()
	}
	wg.Wait()

	sum := 0
	for _, n := range totals {
		sum += n
	}
	assert.Equal(t, 3, sum)
	assert.Len(t, remote.called(), 3)
}

type syncLog struct {
	mu           sync.Mutex
	synced       []int
	unauthorized int
}

func (l *syncLog) onSynced(_ context.Context, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.synced = append(l.synced, n)
}

func (l *syncLog) onUnauthorized(context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unauthorized++
}

func (l *syncLog) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := 0
	for _, n := range l.synced {
		sum += n
	}
	return sum
}

func (l *syncLog) rejected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unauthorized
}

func TestWatcher_SyncsWhenBackOnline(t *testing.T) {
	q := queue.NewMemory()
	seed(t, q, 2)
	net := connectivity.NewStatic(connectivity.Status{})
	r := newReconciler(t, q, &fakeRemote{}, net)
	var log syncLog
	w := NewWatcher(r, auth.Static("tok"), net, WatcherConfig{OnSynced: log.onSynced})

	w.Start()
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, log.total())
	assert.Equal(t, int64(2), count(t, q))

	net.Set(online())
	require.Eventually(t, func() bool { return log.total() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, count(t, q))
}

func TestWatcher_SyncsWhenTokenArrives(t *testing.T) {
	q := queue.NewMemory()
	seed(t, q, 1)
	net := connectivity.NewStatic(online())
	r := newReconciler(t, q, &fakeRemote{}, net)

	var mu sync.Mutex
	token := ""
	creds := providerFunc(func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		return token, nil
	})
	var log syncLog
	w := NewWatcher(r, creds, net, WatcherConfig{OnSynced: log.onSynced})
	w.Start()
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), count(t, q))

	mu.Lock()
	token = "tok"
	mu.Unlock()
	w.TokenChanged("tok")
	require.Eventually(t, func() bool { return log.total() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcher_Unauthorized(t *testing.T) {
	q := queue.NewMemory()
	ids := seed(t, q, 1)
	net := connectivity.NewStatic(online())
	remote := &fakeRemote{fail: map[string]error{ids[0]: api.ErrUnauthorized}}
	r := newReconciler(t, q, remote, net)
	var log syncLog
	w := NewWatcher(r, auth.Static("tok"), net, WatcherConfig{
		OnSynced:       log.onSynced,
		OnUnauthorized: log.onUnauthorized,
	})

	n, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Zero(t, n)
	assert.Equal(t, 1, log.rejected())
	assert.Zero(t, log.total())
}

func TestWatcher_StopIdempotent(t *testing.T) {
	net := connectivity.NewStatic(online())
	r := newReconciler(t, queue.NewMemory(), &fakeRemote{}, net)
	w := NewWatcher(r, auth.Static(""), net, WatcherConfig{})
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

type providerFunc func(context.Context) (string, error)

func (f providerFunc) Token(ctx context.Context) (string, error) { return f(ctx) }
