package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		appName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "traillogs",
			appName: "trail_recorder",
			want:    filepath.Join("traillogs", "trail_recorder.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./traillogs",
			appName: "trail_recorder",
			want:    filepath.Join(".", "traillogs", "trail_recorder.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "trail"),
			appName: "trail_recorder",
			want:    filepath.Join("/var", "log", "trail", "trail_recorder.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.appName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.log")
	w := NewRotatingFile(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 3, Compress: true})
	t.Cleanup(func() { _ = w.Close() })

	assert.Equal(t, path, w.Filename)
	assert.Equal(t, 1, w.MaxSize)
	assert.Equal(t, 2, w.MaxBackups)
	assert.Equal(t, 3, w.MaxAge)
	assert.True(t, w.Compress)

	_, err := w.Write([]byte("line\n"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}
