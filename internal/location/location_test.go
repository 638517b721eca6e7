package location

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailog/recorder/internal/buffer"
	"github.com/trailog/recorder/internal/kv"
	"github.com/trailog/recorder/pkg/core"
)

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk>
    <name>Morning</name>
    <trkseg>
      <trkpt lat="46.0000" lon="7.0000"><ele>1200.5</ele><time>2024-06-01T08:00:00Z</time></trkpt>
      <trkpt lat="46.0005" lon="7.0000"><time>2024-06-01T08:00:05Z</time></trkpt>
    </trkseg>
    <trkseg>
      <trkpt lat="46.0010" lon="7.0000"><ele>1210</ele><time>2024-06-01T08:00:10Z</time></trkpt>
    </trkseg>
  </trk>
</gpx>`

func track(n int) []core.TrackPoint {
	out := make([]core.TrackPoint, n)
	for i := range out {
		out[i] = core.TrackPoint{Timestamp: int64(i) * 1000, Lat: 46 + float64(i)*0.0001, Lon: 7}
	}
	return out
}

type collector struct {
	mu  sync.Mutex
	got []core.TrackPoint
}

func (c *collector) add(p core.TrackPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, p)
}

func (c *collector) points() []core.TrackPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.TrackPoint(nil), c.got...)
}

func TestParseGPX(t *testing.T) {
	points, err := ParseGPX(strings.NewReader(sampleGPX))
	require.NoError(t, err)
	require.Len(t, points, 3)

	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, start, points[0].Timestamp)
	assert.Equal(t, start+10_000, points[2].Timestamp)
	require.NotNil(t, points[0].Alt)
	assert.InDelta(t, 1200.5, *points[0].Alt, 1e-9)
	assert.Nil(t, points[1].Alt)
	assert.Nil(t, points[0].Accuracy)
	assert.InDelta(t, 46.001, points[2].Lat, 1e-9)
}

func TestParseGPX_MissingTime(t *testing.T) {
	doc := `<gpx><trk><trkseg><trkpt lat="1" lon="2"></trkpt></trkseg></trk></gpx>`
	_, err := ParseGPX(strings.NewReader(doc))
	assert.ErrorContains(t, err, "no time")
}

func TestParseGPX_Malformed(t *testing.T) {
	_, err := ParseGPX(strings.NewReader("<gpx><trk>"))
	assert.ErrorContains(t, err, "failed to parse GPX")
}

func TestLoadTrack(t *testing.T) {
	dir := t.TempDir()

	gpxPath := filepath.Join(dir, "hike.GPX")
	require.NoError(t, os.WriteFile(gpxPath, []byte(sampleGPX), 0o644))
	points, err := LoadTrack(gpxPath)
	require.NoError(t, err)
	assert.Len(t, points, 3)

	want := track(3)
	encoded, err := core.EncodePoints(want)
	require.NoError(t, err)
	jsonPath := filepath.Join(dir, "hike.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(encoded), 0o644))
	points, err = LoadTrack(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, want, points)

	csvPath := filepath.Join(dir, "hike.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("x"), 0o644))
	_, err = LoadTrack(csvPath)
	assert.ErrorContains(t, err, "unsupported track format")

	_, err = LoadTrack(filepath.Join(dir, "missing.gpx"))
	assert.ErrorContains(t, err, "failed to open track")
}

func TestReplay_DeliversInOrder(t *testing.T) {
	r := NewReplay(track(5))
	ctx := context.Background()

	ok, err := r.RequestPermission(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	first, err := r.CurrentFix(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Timestamp)

	var c collector
	_, err = r.Subscribe(c.add)
	require.NoError(t, err)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not finish")
	}
	assert.Equal(t, track(5)[1:], c.points())
	assert.Equal(t, 0, r.Remaining())

	_, err = r.CurrentFix(ctx)
	assert.ErrorIs(t, err, ErrNoFix)
}

func TestReplay_UnsubscribeStopsDelivery(t *testing.T) {
	r := NewReplay(track(100), WithPace(50*time.Millisecond))
	var c collector
	sub, err := r.Subscribe(c.add)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(c.points()) >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Unsubscribe(sub))
	n := len(c.points())
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, len(c.points()), n+1)
	assert.Greater(t, r.Remaining(), 0)

	assert.ErrorIs(t, r.Unsubscribe(sub), ErrUnknownSubscription)
}

func TestReplay_PermissionDenied(t *testing.T) {
	r := NewReplay(track(1), WithPermission(false))
	ok, err := r.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplay_EmptyIsDone(t *testing.T) {
	r := NewReplay(nil)
	select {
	case <-r.Done():
	default:
		t.Fatal("empty replay should be done")
	}
}

func TestBackgroundTask_BuffersPoints(t *testing.T) {
	ctx := context.Background()
	buf := buffer.New(kv.NewMemory(), "")
	src := NewReplay(track(4))
	task := NewBackgroundTask(src, buf, nil)

	require.NoError(t, task.Start(ctx))
	require.NoError(t, task.Start(ctx))
	assert.True(t, task.Running())

	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not finish")
	}
	task.Stop()
	task.Stop()
	assert.False(t, task.Running())

	got, err := buf.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, track(4), got)
}

func TestBackgroundTask_PermissionDenied(t *testing.T) {
	buf := buffer.New(kv.NewMemory(), "")
	task := NewBackgroundTask(NewReplay(track(1), WithPermission(false)), buf, nil)
	assert.Error(t, task.Start(context.Background()))
	assert.False(t, task.Running())
}
