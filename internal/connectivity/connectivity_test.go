package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_OnlineAndConfirmed(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		online    bool
		confirmed bool
	}{
		{"disconnected", Status{Connected: false}, false, false},
		{"connected unknown", Status{Connected: true}, true, false},
		{"connected reachable", Status{Connected: true, InternetReachable: Reachable(true)}, true, true},
		{"connected unreachable", Status{Connected: true, InternetReachable: Reachable(false)}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.online, tt.status.Online())
			assert.Equal(t, tt.confirmed, tt.status.Confirmed())
		})
	}
}

func TestStatus_Equal(t *testing.T) {
	assert.True(t, Status{Connected: true}.Equal(Status{Connected: true}))
	assert.False(t, Status{Connected: true}.Equal(Status{Connected: true, InternetReachable: Reachable(true)}))
	assert.True(t, Status{InternetReachable: Reachable(false)}.Equal(Status{InternetReachable: Reachable(false)}))
	assert.False(t, Status{Connected: true}.Equal(Status{}))
}

func TestStatic_SetNotifiesOnChange(t *testing.T) {
	s := NewStatic(Status{})
	var got []Status
	unsub := s.Subscribe(func(st Status) { got = append(got, st) })

	s.Set(Status{})
	s.Set(Status{Connected: true})
	s.Set(Status{Connected: true})
	unsub()
	s.Set(Status{})

	require.Len(t, got, 1)
	assert.True(t, got[0].Connected)

	st, err := s.FetchStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Connected)
}

type fakeHealth struct {
	healthy atomic.Bool
}

func (f *fakeHealth) Healthcheck(context.Context) error {
	if f.healthy.Load() {
		return nil
	}
	return errors.New("unhealthy")
}

func TestProber_FetchStatus(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	h := &fakeHealth{}
	p, err := NewProber(server.URL, h, time.Second, time.Second, slog.Default())
	require.NoError(t, err)

	st, err := p.FetchStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.False(t, st.Online())

	h.healthy.Store(true)
	st, _ = p.FetchStatus(context.Background())
	assert.True(t, st.Confirmed())
}

func TestProber_LinkDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	h := &fakeHealth{}
	h.healthy.Store(true)
	p, err := NewProber(url, h, time.Second, time.Second, slog.Default())
	require.NoError(t, err)

	st, _ := p.FetchStatus(context.Background())
	assert.False(t, st.Connected)
}

func TestProber_LoopNotifiesTransitions(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	h := &fakeHealth{}
	p, err := NewProber(server.URL, h, 20*time.Millisecond, time.Second, slog.Default())
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []bool
	p.Subscribe(func(st Status) {
		mu.Lock()
		seen = append(seen, st.Online())
		mu.Unlock()
	})

	p.Start()
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	h.healthy.Store(true)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{false, true}, seen)
	mu.Unlock()
}

func TestProber_StopIdempotent(t *testing.T) {
	p, err := NewProber("http://127.0.0.1:1", &fakeHealth{}, time.Second, 100*time.Millisecond, slog.Default())
	require.NoError(t, err)
	p.Stop()
	p.Start()
	p.Stop()
	p.Stop()
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://example.com/api", "example.com:80"},
		{"https://example.com", "example.com:443"},
		{"http://localhost:3000/api", "localhost:3000"},
	}
	for _, tt := range tests {
		got, err := hostPort(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := hostPort("not a url")
	assert.Error(t, err)
}
