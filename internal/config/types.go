package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"github.com/trailog/recorder/internal/geo"
)

// LogConfig controls the rotating log file.
type LogConfig struct {
	Level      string
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// RecorderConfig holds session timing and persistence keys.
type RecorderConfig struct {
	TickInterval     time.Duration
	FirstFixTimeout  time.Duration
	SnapshotDebounce time.Duration
	SnapshotMaxWait  time.Duration
	SnapshotKey      string
	BufferKey        string
}

// APIConfig points at the remote hike store.
type APIConfig struct {
	ServerURL string
	Timeout   time.Duration
}

// RedisConfig holds settings for the redis small-blob store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// StorageConfig selects local persistence.
type StorageConfig struct {
	DataDir          string
	KVType           string // memory, sqlite or redis
	SQLitePath       string
	SecureEnabled    bool
	SecurePath       string
	SecurePassphrase string
	Redis            RedisConfig
}

// SyncConfig controls the reconciler and connectivity probing.
type SyncConfig struct {
	BatchSize     int
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// GraylogConfig holds the optional GELF sink.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// InfluxConfig holds the optional hike statistics export of the trail server.
type InfluxConfig struct {
	Enabled    bool
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

// DBConfig holds Postgres connection settings for the trail server.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// ServerConfig holds the reference trail server settings.
type ServerConfig struct {
	Listen     string
	JWTSecret  string
	SQLitePath string
	DB         DBConfig
}

// GetLogConfig returns log settings.
func GetLogConfig() LogConfig {
	return LogConfig{
		Level:      viper.GetString("logLevel"),
		Dir:        viper.GetString("logsDir"),
		MaxSizeMB:  viper.GetInt("log.maxSizeMB"),
		MaxBackups: viper.GetInt("log.maxBackups"),
		MaxAgeDays: viper.GetInt("log.maxAgeDays"),
		Compress:   viper.GetBool("log.compress"),
	}
}

// GetFilterConfig returns the sample filter thresholds.
func GetFilterConfig() geo.FilterConfig {
	return geo.FilterConfig{
		MaxAccuracyM: viper.GetFloat64("filter.maxAccuracyM"),
		MaxHopM:      viper.GetFloat64("filter.maxHopM"),
		MaxSpeedMps:  viper.GetFloat64("filter.maxSpeedMps"),
	}
}

// GetRecorderConfig returns recorder timing settings.
func GetRecorderConfig() RecorderConfig {
	return RecorderConfig{
		TickInterval:     viper.GetDuration("recorder.tickInterval"),
		FirstFixTimeout:  viper.GetDuration("recorder.firstFixTimeout"),
		SnapshotDebounce: viper.GetDuration("recorder.snapshotDebounce"),
		SnapshotMaxWait:  viper.GetDuration("recorder.snapshotMaxWait"),
		SnapshotKey:      viper.GetString("recorder.snapshotKey"),
		BufferKey:        viper.GetString("recorder.bufferKey"),
	}
}

// GetAPIConfig returns remote API settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		Timeout:   viper.GetDuration("api.timeout"),
	}
}

// GetStorageConfig returns local storage settings. File paths default to
// locations inside the data directory.
func GetStorageConfig() StorageConfig {
	dataDir := viper.GetString("storage.dataDir")
	sqlitePath := viper.GetString("storage.sqlite.path")
	if sqlitePath == "" {
		sqlitePath = filepath.Join(dataDir, "trail_recorder.db")
	}
	securePath := viper.GetString("storage.secure.path")
	if securePath == "" {
		securePath = filepath.Join(dataDir, "secure.bin")
	}

	return StorageConfig{
		DataDir:          dataDir,
		KVType:           viper.GetString("storage.kv.type"),
		SQLitePath:       sqlitePath,
		SecureEnabled:    viper.GetBool("storage.secure.enabled"),
		SecurePath:       securePath,
		SecurePassphrase: viper.GetString("storage.secure.passphrase"),
		Redis: RedisConfig{
			Addr:     viper.GetString("storage.redis.addr"),
			Password: viper.GetString("storage.redis.password"),
			DB:       viper.GetInt("storage.redis.db"),
			Prefix:   viper.GetString("storage.redis.prefix"),
		},
	}
}

// GetSyncConfig returns reconciler settings.
func GetSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:     viper.GetInt("sync.batchSize"),
		ProbeInterval: viper.GetDuration("sync.probeInterval"),
		ProbeTimeout:  viper.GetDuration("sync.probeTimeout"),
	}
}

// GetOTelConfig returns OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetGraylogConfig returns GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetInfluxConfig returns InfluxDB export settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		URL:        viper.GetString("influx.url"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetServerConfig returns the trail server settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Listen:     viper.GetString("server.listen"),
		JWTSecret:  viper.GetString("server.jwtSecret"),
		SQLitePath: viper.GetString("server.sqlitePath"),
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}
