package config

import "time"

// Server defaults
const (
	DefaultAppName     = "trafficwatch"
	DefaultPort        = "8080"
	DefaultTimezone    = "UTC"
	DefaultMaxMemoryMB = 48
	ShutdownTimeout    = 10 * time.Second
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = TickTimeout + 30*time.Second // a full tick plus time to write its response
	Version            = "1.0.0"
)

// Storage defaults
const (
	DefaultStorageBackend = "memory"
	DefaultBadgerPath     = "./data/trafficwatch"
	DefaultSQLitePath     = "./data/trafficwatch.db"
	DefaultMaxDiskMB      = 1024 // health turns degraded above this
	BadgerGCInterval      = 10 * time.Minute
	BadgerGCDiscardRatio  = 0.5
	StorageOpTimeout      = 30 * time.Second
)

// Upstream camera API
const (
	DefaultUpstreamTimeout = 15 * time.Second
	UpstreamLivePath       = "/snapshots/live"
	UpstreamHourlyPath     = "/stats/hourly"
	APIKeyHeader           = "X-API-Key"
)

// Scheduler gate windows
const (
	TickInterval      = 5 * time.Minute
	HourlyWindow      = 5 // hourly branch runs while minute < HourlyWindow
	DailyRunHour      = 1 // daily branch runs at this local hour
	JobTimeout        = 2 * time.Minute
	TickTimeout       = 3 * JobTimeout // one budget per branch
	MaxConsecutiveErr = 3              // job monitor turns unhealthy after this many failures
)

// Anomaly notifier defaults
const (
	DefaultNotifierKind  = "none"
	DefaultRedisChannel  = "trafficwatch:anomalies"
	DefaultMQTTTopic     = "trafficwatch/anomalies"
	DefaultMQTTClientID  = "trafficwatch"
	NotifyPublishTimeout = 5 * time.Second
)

// Read API and export limits
const (
	DefaultReadLimit    = 500
	MaxReadLimit        = 10000
	DefaultReadWindow   = 24 * time.Hour
	DefaultExportWindow = 7 * 24 * time.Hour
	MaxExportWindow     = 366 * 24 * time.Hour
	ReadQueryTimeout    = 10 * time.Second
	HealthStatsTimeout  = 5 * time.Second
)

// Retention
const (
	DefaultRetentionDays  = 90
	MinRetentionDays      = 1
	RetentionSweepTimeout = 5 * time.Minute
	RetentionInterval     = 24 * time.Hour
	RetentionMaxRetries   = 3
	RetentionRetryDelay   = 30 * time.Second
)
