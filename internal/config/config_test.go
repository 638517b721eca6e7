package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"api": { "serverUrl": "https://trails.example.com/api" },
		"filter": { "maxAccuracyM": 20 }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "https://trails.example.com/api", GetAPIConfig().ServerURL)
	assert.Equal(t, 20.0, GetFilterConfig().MaxAccuracyM)
	assert.Equal(t, 120.0, GetFilterConfig().MaxHopM)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./traillogs", viper.GetString("logsDir"))

	f := GetFilterConfig()
	assert.Equal(t, 30.0, f.MaxAccuracyM)
	assert.Equal(t, 120.0, f.MaxHopM)
	assert.Equal(t, 12.0, f.MaxSpeedMps)

	rc := GetRecorderConfig()
	assert.Equal(t, time.Second, rc.TickInterval)
	assert.Equal(t, 15*time.Second, rc.FirstFixTimeout)
	assert.Equal(t, 1500*time.Millisecond, rc.SnapshotDebounce)
	assert.Equal(t, 3*time.Second, rc.SnapshotMaxWait)
	assert.Equal(t, "trailRecorder.snapshot.v1", rc.SnapshotKey)
	assert.Equal(t, "trailRecorder.backgroundPoints.v1", rc.BufferKey)

	ac := GetAPIConfig()
	assert.Equal(t, "http://localhost:3000/api", ac.ServerURL)
	assert.Equal(t, 30*time.Second, ac.Timeout)

	sc := GetSyncConfig()
	assert.Equal(t, 25, sc.BatchSize)
	assert.Equal(t, 15*time.Second, sc.ProbeInterval)

	gc := GetGraylogConfig()
	assert.False(t, gc.Enabled)
	assert.Equal(t, "localhost:12201", gc.Address)

	lc := GetLogConfig()
	assert.Equal(t, 10, lc.MaxSizeMB)
	assert.True(t, lc.Compress)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	// defaults are still in place
	assert.Equal(t, 25, GetSyncConfig().BatchSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("TRAIL_SYNC_BATCHSIZE", "5")

	require.NoError(t, Load(writeConfig(t, `{"sync": {"batchSize": 10}}`)))
	assert.Equal(t, 5, GetSyncConfig().BatchSize)
}

func TestLoad_DotEnv(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Cleanup(func() { _ = os.Unsetenv("TRAIL_SERVER_LISTEN") })

	dir := writeConfig(t, `{}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRAIL_SERVER_LISTEN=:9090\n"), 0644))

	require.NoError(t, Load(dir))
	assert.Equal(t, ":9090", GetServerConfig().Listen)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "./traildata", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.KVType)
	assert.Equal(t, filepath.Join("./traildata", "trail_recorder.db"), cfg.SQLitePath)
	assert.Equal(t, filepath.Join("./traildata", "secure.bin"), cfg.SecurePath)
	assert.True(t, cfg.SecureEnabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "trail:", cfg.Redis.Prefix)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"dataDir": "/var/lib/trails",
			"kv": { "type": "redis" },
			"sqlite": { "path": "/tmp/q.db" },
			"secure": { "enabled": false },
			"redis": { "addr": "cache:6379", "db": 2 }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "redis", sc.KVType)
	assert.Equal(t, "/tmp/q.db", sc.SQLitePath)
	assert.Equal(t, filepath.Join("/var/lib/trails", "secure.bin"), sc.SecurePath)
	assert.False(t, sc.SecureEnabled)
	assert.Equal(t, "cache:6379", sc.Redis.Addr)
	assert.Equal(t, 2, sc.Redis.DB)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "trail-recorder", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetServerConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetServerConfig()
	assert.Equal(t, ":3000", cfg.Listen)
	assert.Equal(t, "trails", cfg.DB.Database)
	assert.Equal(t, "5432", cfg.DB.Port)
}
