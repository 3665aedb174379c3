// Package config loads and validates supervisor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-supervisor/internal/broadcast"
	"github.com/JakeFAU/crawl-supervisor/internal/changes"
	"github.com/JakeFAU/crawl-supervisor/internal/scheduler"
	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CRAWLSUP"

// Backends accepted by the fingerprints, runs and archive sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Supervisor   SupervisorConfig   `mapstructure:"supervisor"`
	Detector     changes.Thresholds `mapstructure:"detector"`
	Crawl        CrawlConfig        `mapstructure:"crawl"`
	Fingerprints BackendConfig      `mapstructure:"fingerprints"`
	Runs         BackendConfig      `mapstructure:"runs"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Broadcast    BroadcastConfig    `mapstructure:"broadcast"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SupervisorConfig describes how the worker is launched and stopped.
type SupervisorConfig struct {
	Python         string        `mapstructure:"python"`
	Script         string        `mapstructure:"script"`
	WorkDir        string        `mapstructure:"work_dir"`
	LogDir         string        `mapstructure:"log_dir"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	OutputDrain    time.Duration `mapstructure:"output_drain"`
	RawBufferLines int           `mapstructure:"raw_buffer_lines"`
	StatusLines    int           `mapstructure:"status_lines"`
	StallWarning   time.Duration `mapstructure:"stall_warning"`
	Env            []string      `mapstructure:"env"`
	OrphanPatterns []string      `mapstructure:"orphan_patterns"`
	CleanupOnStart bool          `mapstructure:"cleanup_on_start"`
}

// CrawlConfig points at the worker's markdown output.
type CrawlConfig struct {
	MarkdownRoot string `mapstructure:"markdown_root"`
}

// BackendConfig selects a store implementation.
type BackendConfig struct {
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig controls access to Redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProgressConfig tunes the event hub and picks its sinks.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LogEnabled     bool          `mapstructure:"log_enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	BatchEvents    int           `mapstructure:"batch_events"`
	BatchWait      time.Duration `mapstructure:"batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	DetectChanges  bool          `mapstructure:"detect_changes"`
	PublishAllKind bool          `mapstructure:"publish_all_kinds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether both project and topic are set.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// ArchiveConfig selects where finished run logs are copied.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	BaseDir string `mapstructure:"base_dir"`
}

// BroadcastConfig tunes the status stream.
type BroadcastConfig struct {
	broadcast.Config `mapstructure:",squash"`
	Interval         time.Duration `mapstructure:"interval"`
}

// ScheduleConfig starts runs on a cron expression. An empty Cron disables it.
type ScheduleConfig struct {
	Cron           string `mapstructure:"cron"`
	Brand          string `mapstructure:"brand"`
	MaxPages       int    `mapstructure:"max_pages"`
	DownloadAssets bool   `mapstructure:"download_assets"`
}

// StartOptions converts the schedule into worker options.
func (s ScheduleConfig) StartOptions() supervisor.StartOptions {
	return supervisor.StartOptions{
		TargetFilter:   s.Brand,
		MaxPages:       s.MaxPages,
		DownloadAssets: s.DownloadAssets,
	}
}

// SupervisorConfig maps the supervisor section onto supervisor.Config.
func (c Config) SupervisorConfig() supervisor.Config {
	s := c.Supervisor
	return supervisor.Config{
		Python:         s.Python,
		Script:         s.Script,
		WorkDir:        s.WorkDir,
		LogDir:         s.LogDir,
		Env:            s.Env,
		GracePeriod:    s.GracePeriod,
		OutputDrain:    s.OutputDrain,
		RawBufferLines: s.RawBufferLines,
		StatusLines:    s.StatusLines,
		StallWarning:   s.StallWarning,
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv keeps the worker's historical variable names working.
// The prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"supervisor.python":   "PYTHON",
		"supervisor.work_dir": "CRAWL_PY_ROOT",
		"crawl.markdown_root": "CRAWL_MD_ROOT",
	}
	for key, name := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("bind env %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 0.1)

	v.SetDefault("supervisor.python", "python")
	v.SetDefault("supervisor.script", "crawl4ai_runner.py")
	v.SetDefault("supervisor.work_dir", ".")
	v.SetDefault("supervisor.log_dir", "logs")
	v.SetDefault("supervisor.grace_period", "2s")
	v.SetDefault("supervisor.output_drain", "2s")
	v.SetDefault("supervisor.raw_buffer_lines", 1000)
	v.SetDefault("supervisor.status_lines", 100)
	v.SetDefault("supervisor.stall_warning", "10s")
	v.SetDefault("supervisor.cleanup_on_start", true)

	th := changes.DefaultThresholds()
	v.SetDefault("detector.structure_link_delta", th.StructureLinkDelta)
	v.SetDefault("detector.content_percent", th.ContentPercent)
	v.SetDefault("detector.metadata_percent", th.MetadataPercent)

	v.SetDefault("crawl.markdown_root", "crawl_output")
	v.SetDefault("fingerprints.backend", BackendMemory)
	v.SetDefault("fingerprints.table", "page_fingerprints")
	v.SetDefault("runs.backend", BackendMemory)
	v.SetDefault("runs.table", "crawl_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "crawlsup:fp:")

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_events", 256)
	v.SetDefault("progress.batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("progress.detect_changes", true)
	v.SetDefault("progress.publish_all_kinds", false)

	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "crawl-logs")
	v.SetDefault("archive.base_dir", "archive")

	bc := broadcast.DefaultConfig()
	v.SetDefault("broadcast.interval", "2s")
	v.SetDefault("broadcast.event_buffer", bc.EventBufferSize)
	v.SetDefault("broadcast.client_buffer", bc.ClientBufferSize)
	v.SetDefault("broadcast.heartbeat", bc.HeartbeatInterval.String())
	v.SetDefault("broadcast.shutdown_timeout", bc.ShutdownTimeout.String())
	v.SetDefault("broadcast.max_clients", bc.MaxClients)

	v.SetDefault("schedule.max_pages", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Supervisor.Script == "" {
		errs = append(errs, errors.New("supervisor.script must be set"))
	}
	if c.Supervisor.GracePeriod <= 0 {
		errs = append(errs, errors.New("supervisor.grace_period must be > 0"))
	}
	if c.Supervisor.StatusLines > c.Supervisor.RawBufferLines {
		errs = append(errs, errors.New("supervisor.status_lines must not exceed supervisor.raw_buffer_lines"))
	}
	if c.Detector.StructureLinkDelta < 0 || c.Detector.ContentPercent < 0 || c.Detector.MetadataPercent < 0 {
		errs = append(errs, errors.New("detector thresholds must be >= 0"))
	}
	if c.Detector.MetadataPercent > c.Detector.ContentPercent {
		errs = append(errs, errors.New("detector.metadata_percent must not exceed detector.content_percent"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0,1]"))
	}

	switch c.Fingerprints.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres fingerprint backend"))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis fingerprint backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("fingerprints.backend %q is not one of memory, postgres, redis", c.Fingerprints.Backend))
	}

	switch c.Runs.Backend {
	case BackendNone, BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres runs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("runs.backend %q is not one of none, memory, postgres", c.Runs.Backend))
	}

	switch c.Archive.Backend {
	case BackendNone:
	case BackendLocal:
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir is required for the local archive"))
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q is not one of none, local, gcs", c.Archive.Backend))
	}

	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}

	if c.Schedule.Cron != "" {
		if err := scheduler.ValidateSpec(c.Schedule.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedule.cron: %w", err))
		}
		if err := c.Schedule.StartOptions().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}
