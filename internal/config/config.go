package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the JSON config file looked up in the config directory.
const FileName = "trail_recorder.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. TRAIL_API_SERVERURL.
const EnvPrefix = "TRAIL"

// Load reads configuration from the JSON file and sets default values.
// configDir is the directory containing the config file and an optional .env.
// Defaults and environment overrides remain usable when the file is missing.
func Load(configDir string) error {
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./traillogs")
	viper.SetDefault("log.maxSizeMB", 10)
	viper.SetDefault("log.maxBackups", 5)
	viper.SetDefault("log.maxAgeDays", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("filter.maxAccuracyM", 30.0)
	viper.SetDefault("filter.maxHopM", 120.0)
	viper.SetDefault("filter.maxSpeedMps", 12.0)

	viper.SetDefault("recorder.tickInterval", "1s")
	viper.SetDefault("recorder.firstFixTimeout", "15s")
	viper.SetDefault("recorder.snapshotDebounce", "1500ms")
	viper.SetDefault("recorder.snapshotMaxWait", "3s")
	viper.SetDefault("recorder.snapshotKey", "trailRecorder.snapshot.v1")
	viper.SetDefault("recorder.bufferKey", "trailRecorder.backgroundPoints.v1")

	viper.SetDefault("api.serverUrl", "http://localhost:3000/api")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("storage.dataDir", "./traildata")
	viper.SetDefault("storage.kv.type", "sqlite")
	viper.SetDefault("storage.secure.enabled", true)
	viper.SetDefault("storage.secure.passphrase", "")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.password", "")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.prefix", "trail:")

	viper.SetDefault("sync.batchSize", 25)
	viper.SetDefault("sync.probeInterval", "15s")
	viper.SetDefault("sync.probeTimeout", "5s")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "trail-recorder")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "trailog")
	viper.SetDefault("influx.bucket", "hikes")
	viper.SetDefault("influx.backupPath", "./traildata/hike_stats.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("server.listen", ":3000")
	viper.SetDefault("server.jwtSecret", "dev-secret-change-me")
	viper.SetDefault("server.sqlitePath", "./traildata/trail_server.db")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "trails")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
