package telemetra

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RetentionPolicy defines how long data is kept per series-class.
// Zero durations mean "keep forever" for aggregate resolutions.
type RetentionPolicy struct {
	// RawRetention is how long raw chunks are kept before eviction.
	// Default: 7 days.
	RawRetention time.Duration

	// CompressAfter is the chunk age at which closed chunks are compressed.
	// Default: 2 days.
	CompressAfter time.Duration

	// Keep5Min is the retention of 5-minute buckets. Default: 30 days.
	Keep5Min time.Duration

	// KeepHourly is the retention of hourly buckets. Default: 365 days.
	KeepHourly time.Duration

	// KeepDaily is the retention of daily buckets. Default: 0 (forever).
	KeepDaily time.Duration
}

// KeepFor returns the aggregate retention for a resolution.
func (p RetentionPolicy) KeepFor(res Resolution) time.Duration {
	switch res {
	case Resolution5Min:
		return p.Keep5Min
	case ResolutionHour:
		return p.KeepHourly
	case ResolutionDay:
		return p.KeepDaily
	}
	return 0
}

// SeriesClassConfig groups metrics that share chunk width and retention.
type SeriesClassConfig struct {
	// Name identifies the class (e.g., "telemetry", "events").
	Name string

	// ChunkWidth is the time span covered by each chunk. Narrow chunks keep
	// recent-data queries touching few chunks at the cost of more chunk
	// management. Default: 1 hour.
	ChunkWidth time.Duration

	// MetricPrefixes routes metrics to this class by prefix match. The
	// first class with no prefixes is the default class.
	MetricPrefixes []string

	// Retention is the class retention policy.
	Retention RetentionPolicy
}

// ResolutionSchedule sets the refresh cadence and settle lag for one
// aggregate resolution.
type ResolutionSchedule struct {
	// Refresh is how often the scheduled refresh pass runs.
	Refresh time.Duration

	// SettleLag is the grace period before a bucket window is finalized,
	// absorbing out-of-order arrivals.
	SettleLag time.Duration
}

// RollupConfig configures the rollup engine's refresh passes.
type RollupConfig struct {
	// FiveMin is the 5-minute resolution schedule. Default: refresh every
	// 5 minutes, settle lag 10 minutes.
	FiveMin ResolutionSchedule

	// Hourly is the hourly resolution schedule. Default: refresh every
	// hour, settle lag 1 hour.
	Hourly ResolutionSchedule

	// Daily is the daily resolution schedule. Default: refresh every day,
	// settle lag 1 day.
	Daily ResolutionSchedule
}

// Schedule returns the schedule for a resolution.
func (c RollupConfig) Schedule(res Resolution) ResolutionSchedule {
	switch res {
	case Resolution5Min:
		return c.FiveMin
	case ResolutionHour:
		return c.Hourly
	case ResolutionDay:
		return c.Daily
	}
	return ResolutionSchedule{}
}

// QueryConfig groups query execution settings.
type QueryConfig struct {
	// CrossoverWindow is the widest time window served from raw readings
	// when no explicit resolution is requested. Default: 6 hours.
	CrossoverWindow time.Duration

	// Timeout is the maximum duration for query execution. Default: 30s.
	Timeout time.Duration

	// PageSize is the maximum readings returned per range page.
	// Default: 10,000.
	PageSize int
}

// LifecycleConfig configures the background lifecycle scheduler.
type LifecycleConfig struct {
	// TickInterval is how often the scheduler scans for work.
	// Default: 5 minutes.
	TickInterval time.Duration

	// CheckpointPath is the SQLite file persisting scheduler progress.
	// Empty means progress is kept in memory only.
	CheckpointPath string

	// Retry configures backoff for failed compress/evict units.
	Retry RetryConfig
}

// ArchiveConfig selects where compressed chunk blobs are stored.
// If S3 is set it wins; otherwise Dir selects a file backend; otherwise
// blobs are held in memory.
type ArchiveConfig struct {
	// Dir is the base directory for the file archive backend.
	Dir string

	// S3 configures an S3 or S3-compatible archive backend.
	S3 *S3ArchiveConfig
}

// Config defines store configuration.
type Config struct {
	// Classes are the series classes. At least one is required; the first
	// class without metric prefixes is the default.
	Classes []SeriesClassConfig

	// Rollup configures the rollup engine.
	Rollup RollupConfig

	// Query configures query execution.
	Query QueryConfig

	// Lifecycle configures the retention/compression scheduler.
	Lifecycle LifecycleConfig

	// Archive configures compressed chunk storage.
	Archive ArchiveConfig

	// Encryption configures encryption of archived chunk blobs.
	// If nil or Enabled is false, blobs are stored unencrypted.
	Encryption *EncryptionConfig

	// Registry resolves devices to sites and organizations. Optional.
	Registry DeviceRegistry `yaml:"-"`

	// SiteRawRetention overrides raw retention per site ID. A chunk is only
	// evicted once it is older than the largest retention that applies to
	// any device it holds.
	SiteRawRetention map[string]time.Duration

	// Logger receives structured log output. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultRetentionPolicy returns the stock telemetry retention policy.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RawRetention:  7 * 24 * time.Hour,
		CompressAfter: 2 * 24 * time.Hour,
		Keep5Min:      30 * 24 * time.Hour,
		KeepHourly:    365 * 24 * time.Hour,
		KeepDaily:     0,
	}
}

// DefaultConfig returns a configuration with sensible defaults: an hourly
// telemetry class and a daily events class.
func DefaultConfig() Config {
	return Config{
		Classes: []SeriesClassConfig{
			{
				Name:       "telemetry",
				ChunkWidth: time.Hour,
				Retention:  DefaultRetentionPolicy(),
			},
			{
				Name:           "events",
				ChunkWidth:     24 * time.Hour,
				MetricPrefixes: []string{"event."},
				Retention: RetentionPolicy{
					RawRetention:  90 * 24 * time.Hour,
					CompressAfter: 7 * 24 * time.Hour,
					Keep5Min:      0,
					KeepHourly:    365 * 24 * time.Hour,
					KeepDaily:     0,
				},
			},
		},
		Rollup: RollupConfig{
			FiveMin: ResolutionSchedule{Refresh: 5 * time.Minute, SettleLag: 10 * time.Minute},
			Hourly:  ResolutionSchedule{Refresh: time.Hour, SettleLag: time.Hour},
			Daily:   ResolutionSchedule{Refresh: 24 * time.Hour, SettleLag: 24 * time.Hour},
		},
		Query: QueryConfig{
			CrossoverWindow: 6 * time.Hour,
			Timeout:         30 * time.Second,
			PageSize:        10_000,
		},
		Lifecycle: LifecycleConfig{
			TickInterval: 5 * time.Minute,
			Retry:        DefaultRetryConfig(),
		},
	}
}

// normalize fills zero fields with defaults and validates class layout.
func (c *Config) normalize() error {
	if len(c.Classes) == 0 {
		c.Classes = DefaultConfig().Classes
	}
	seen := make(map[string]bool, len(c.Classes))
	for i := range c.Classes {
		cl := &c.Classes[i]
		if cl.Name == "" {
			return fmt.Errorf("series class %d has no name", i)
		}
		if seen[cl.Name] {
			return fmt.Errorf("duplicate series class %q", cl.Name)
		}
		seen[cl.Name] = true
		if cl.ChunkWidth <= 0 {
			cl.ChunkWidth = time.Hour
		}
		if cl.Retention.RawRetention <= 0 {
			cl.Retention.RawRetention = 7 * 24 * time.Hour
		}
		if cl.Retention.CompressAfter <= 0 {
			cl.Retention.CompressAfter = 2 * 24 * time.Hour
		}
		if cl.Retention.CompressAfter >= cl.Retention.RawRetention {
			return fmt.Errorf("class %q: compress_after must be shorter than raw_retention", cl.Name)
		}
	}
	def := DefaultConfig()
	if c.Rollup.FiveMin.Refresh <= 0 {
		c.Rollup.FiveMin = def.Rollup.FiveMin
	}
	if c.Rollup.Hourly.Refresh <= 0 {
		c.Rollup.Hourly = def.Rollup.Hourly
	}
	if c.Rollup.Daily.Refresh <= 0 {
		c.Rollup.Daily = def.Rollup.Daily
	}
	if c.Query.CrossoverWindow <= 0 {
		c.Query.CrossoverWindow = def.Query.CrossoverWindow
	}
	if c.Query.Timeout <= 0 {
		c.Query.Timeout = def.Query.Timeout
	}
	if c.Query.PageSize <= 0 {
		c.Query.PageSize = def.Query.PageSize
	}
	if c.Lifecycle.TickInterval <= 0 {
		c.Lifecycle.TickInterval = def.Lifecycle.TickInterval
	}
	if c.Lifecycle.Retry.MaxAttempts <= 0 {
		c.Lifecycle.Retry = DefaultRetryConfig()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// classFor routes a metric to its series class by prefix; the first class
// without prefixes is the fallback.
func (c *Config) classFor(metric string) *SeriesClassConfig {
	var def *SeriesClassConfig
	for i := range c.Classes {
		cl := &c.Classes[i]
		if len(cl.MetricPrefixes) == 0 {
			if def == nil {
				def = cl
			}
			continue
		}
		for _, prefix := range cl.MetricPrefixes {
			if strings.HasPrefix(metric, prefix) {
				return cl
			}
		}
	}
	if def == nil {
		def = &c.Classes[0]
	}
	return def
}

// File-format mirror of Config with human-readable durations.
type configFile struct {
	Classes []struct {
		Name           string   `yaml:"name"`
		ChunkWidth     string   `yaml:"chunk_width"`
		MetricPrefixes []string `yaml:"metric_prefixes"`
		Retention      struct {
			Raw           string `yaml:"raw"`
			CompressAfter string `yaml:"compress_after"`
			Keep5Min      string `yaml:"keep_5min"`
			KeepHourly    string `yaml:"keep_hourly"`
			KeepDaily     string `yaml:"keep_daily"`
		} `yaml:"retention"`
	} `yaml:"classes"`
	Rollup struct {
		FiveMin struct {
			Refresh   string `yaml:"refresh"`
			SettleLag string `yaml:"settle_lag"`
		} `yaml:"5min"`
		Hourly struct {
			Refresh   string `yaml:"refresh"`
			SettleLag string `yaml:"settle_lag"`
		} `yaml:"hourly"`
		Daily struct {
			Refresh   string `yaml:"refresh"`
			SettleLag string `yaml:"settle_lag"`
		} `yaml:"daily"`
	} `yaml:"rollup"`
	Query struct {
		CrossoverWindow string `yaml:"crossover_window"`
		Timeout         string `yaml:"timeout"`
		PageSize        int    `yaml:"page_size"`
	} `yaml:"query"`
	Lifecycle struct {
		TickInterval   string `yaml:"tick_interval"`
		CheckpointPath string `yaml:"checkpoint_path"`
	} `yaml:"lifecycle"`
	Archive struct {
		Dir string `yaml:"dir"`
		S3  *struct {
			Bucket       string `yaml:"bucket"`
			Region       string `yaml:"region"`
			Endpoint     string `yaml:"endpoint"`
			Prefix       string `yaml:"prefix"`
			UsePathStyle bool   `yaml:"use_path_style"`
		} `yaml:"s3"`
	} `yaml:"archive"`
	SiteRawRetention map[string]string `yaml:"site_raw_retention"`
}

// LoadConfig reads a YAML configuration file. Durations use Go syntax
// ("5m", "48h"). Missing fields fall back to defaults on Open.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	for _, fc := range file.Classes {
		cl := SeriesClassConfig{Name: fc.Name, MetricPrefixes: fc.MetricPrefixes}
		if cl.ChunkWidth, err = parseDuration(fc.ChunkWidth); err != nil {
			return Config{}, fmt.Errorf("class %q chunk_width: %w", fc.Name, err)
		}
		if cl.Retention.RawRetention, err = parseDuration(fc.Retention.Raw); err != nil {
			return Config{}, fmt.Errorf("class %q retention.raw: %w", fc.Name, err)
		}
		if cl.Retention.CompressAfter, err = parseDuration(fc.Retention.CompressAfter); err != nil {
			return Config{}, fmt.Errorf("class %q retention.compress_after: %w", fc.Name, err)
		}
		if cl.Retention.Keep5Min, err = parseDuration(fc.Retention.Keep5Min); err != nil {
			return Config{}, fmt.Errorf("class %q retention.keep_5min: %w", fc.Name, err)
		}
		if cl.Retention.KeepHourly, err = parseDuration(fc.Retention.KeepHourly); err != nil {
			return Config{}, fmt.Errorf("class %q retention.keep_hourly: %w", fc.Name, err)
		}
		if cl.Retention.KeepDaily, err = parseDuration(fc.Retention.KeepDaily); err != nil {
			return Config{}, fmt.Errorf("class %q retention.keep_daily: %w", fc.Name, err)
		}
		cfg.Classes = append(cfg.Classes, cl)
	}

	if cfg.Rollup.FiveMin, err = parseSchedule(file.Rollup.FiveMin.Refresh, file.Rollup.FiveMin.SettleLag); err != nil {
		return Config{}, fmt.Errorf("rollup.5min: %w", err)
	}
	if cfg.Rollup.Hourly, err = parseSchedule(file.Rollup.Hourly.Refresh, file.Rollup.Hourly.SettleLag); err != nil {
		return Config{}, fmt.Errorf("rollup.hourly: %w", err)
	}
	if cfg.Rollup.Daily, err = parseSchedule(file.Rollup.Daily.Refresh, file.Rollup.Daily.SettleLag); err != nil {
		return Config{}, fmt.Errorf("rollup.daily: %w", err)
	}

	if cfg.Query.CrossoverWindow, err = parseDuration(file.Query.CrossoverWindow); err != nil {
		return Config{}, fmt.Errorf("query.crossover_window: %w", err)
	}
	if cfg.Query.Timeout, err = parseDuration(file.Query.Timeout); err != nil {
		return Config{}, fmt.Errorf("query.timeout: %w", err)
	}
	cfg.Query.PageSize = file.Query.PageSize

	if cfg.Lifecycle.TickInterval, err = parseDuration(file.Lifecycle.TickInterval); err != nil {
		return Config{}, fmt.Errorf("lifecycle.tick_interval: %w", err)
	}
	cfg.Lifecycle.CheckpointPath = file.Lifecycle.CheckpointPath

	cfg.Archive.Dir = file.Archive.Dir
	if s3 := file.Archive.S3; s3 != nil {
		cfg.Archive.S3 = &S3ArchiveConfig{
			Bucket:       s3.Bucket,
			Region:       s3.Region,
			Endpoint:     s3.Endpoint,
			Prefix:       s3.Prefix,
			UsePathStyle: s3.UsePathStyle,
		}
	}

	if len(file.SiteRawRetention) > 0 {
		cfg.SiteRawRetention = make(map[string]time.Duration, len(file.SiteRawRetention))
		for site, s := range file.SiteRawRetention {
			d, err := parseDuration(s)
			if err != nil {
				return Config{}, fmt.Errorf("site_raw_retention[%s]: %w", site, err)
			}
			cfg.SiteRawRetention[site] = d
		}
	}

	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func parseSchedule(refresh, settle string) (ResolutionSchedule, error) {
	var sched ResolutionSchedule
	var err error
	if sched.Refresh, err = parseDuration(refresh); err != nil {
		return sched, err
	}
	if sched.SettleLag, err = parseDuration(settle); err != nil {
		return sched, err
	}
	return sched, nil
}
