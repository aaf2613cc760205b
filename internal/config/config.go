// Package config loads runtime configuration from SCRIBE_* environment
// variables, with an optional TOML file for scope filtering rules.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string // SCRIBE_DATABASE_URL (required)
	HTTPAddr    string // SCRIBE_HTTP_ADDR (default ":8080")
	NATSURL     string // SCRIBE_NATS_URL (optional, empty = no live source)

	// Pipeline tuning
	MessageQueueCapacity int           // SCRIBE_MESSAGE_QUEUE_CAPACITY (default 10000)
	ActionQueueCapacity  int           // SCRIBE_ACTION_QUEUE_CAPACITY (default 10000)
	DedupCapacity        int           // SCRIBE_DEDUP_CAPACITY (default 10000)
	BatchSize            int           // SCRIBE_BATCH_SIZE (default 50)
	FlushInterval        time.Duration // SCRIBE_FLUSH_INTERVAL (default 30s)
	ShutdownTimeout      time.Duration // SCRIBE_SHUTDOWN_TIMEOUT (default 30s)

	// Retry tuning
	RetryMaxAttempts int           // SCRIBE_RETRY_MAX_ATTEMPTS (default 3)
	RetryMaxElapsed  time.Duration // SCRIBE_RETRY_MAX_ELAPSED (default 2m)
	RequeueCeiling   time.Duration // SCRIBE_REQUEUE_CEILING (default 10m)

	// Backfill
	BackfillPageSize  int           // SCRIBE_BACKFILL_PAGE_SIZE (default 100)
	BackfillPageDelay time.Duration // SCRIBE_BACKFILL_PAGE_DELAY (default 1s)
	BackfillMaxAge    time.Duration // SCRIBE_BACKFILL_MAX_AGE (0 = unlimited)
	BackfillOnStart   bool          // SCRIBE_BACKFILL_ON_START (default false)

	// Archive settings
	ArchiveInterval   time.Duration // SCRIBE_ARCHIVE_INTERVAL (default 1h; 0 = disabled)
	ArchiveS3Bucket   string        // SCRIBE_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // SCRIBE_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // SCRIBE_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        // SCRIBE_ARCHIVE_S3_KEY (default "scribe/archive.jsonl")

	// Retention
	RetentionDays int // SCRIBE_RETENTION_DAYS (0 = keep forever)

	// Filters come from the TOML file named by SCRIBE_FILTER_FILE.
	Filters FilterConfig
}

// FilterConfig restricts ingestion to certain scopes. Allow lists, when
// non-empty, admit only their members; block lists always exclude.
type FilterConfig struct {
	AllowedGuilds   []string `toml:"allowed_guilds"`
	BlockedGuilds   []string `toml:"blocked_guilds"`
	AllowedChannels []string `toml:"allowed_channels"`
	BlockedChannels []string `toml:"blocked_channels"`

	allowedGuilds   map[string]bool
	blockedGuilds   map[string]bool
	allowedChannels map[string]bool
	blockedChannels map[string]bool
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("SCRIBE_DATABASE_URL"),
		HTTPAddr:          envOrDefault("SCRIBE_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("SCRIBE_NATS_URL"),
		ArchiveS3Bucket:   os.Getenv("SCRIBE_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("SCRIBE_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("SCRIBE_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Key:      envOrDefault("SCRIBE_ARCHIVE_S3_KEY", "scribe/archive.jsonl"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("SCRIBE_DATABASE_URL is required")
	}

	var err error
	if c.MessageQueueCapacity, err = envInt("SCRIBE_MESSAGE_QUEUE_CAPACITY", 10000); err != nil {
		return nil, err
	}
	if c.ActionQueueCapacity, err = envInt("SCRIBE_ACTION_QUEUE_CAPACITY", 10000); err != nil {
		return nil, err
	}
	if c.DedupCapacity, err = envInt("SCRIBE_DEDUP_CAPACITY", 10000); err != nil {
		return nil, err
	}
	if c.BatchSize, err = envInt("SCRIBE_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if c.FlushInterval, err = envDuration("SCRIBE_FLUSH_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if c.ShutdownTimeout, err = envDuration("SCRIBE_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if c.RetryMaxAttempts, err = envInt("SCRIBE_RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if c.RetryMaxElapsed, err = envDuration("SCRIBE_RETRY_MAX_ELAPSED", 2*time.Minute); err != nil {
		return nil, err
	}
	if c.RequeueCeiling, err = envDuration("SCRIBE_REQUEUE_CEILING", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.BackfillPageSize, err = envInt("SCRIBE_BACKFILL_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if c.BackfillPageDelay, err = envDuration("SCRIBE_BACKFILL_PAGE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if c.BackfillMaxAge, err = envDuration("SCRIBE_BACKFILL_MAX_AGE", 0); err != nil {
		return nil, err
	}
	c.BackfillOnStart = envBool("SCRIBE_BACKFILL_ON_START")
	if c.ArchiveInterval, err = envDuration("SCRIBE_ARCHIVE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.RetentionDays, err = envInt("SCRIBE_RETENTION_DAYS", 0); err != nil {
		return nil, err
	}

	if path := os.Getenv("SCRIBE_FILTER_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &c.Filters); err != nil {
			return nil, fmt.Errorf("SCRIBE_FILTER_FILE: %w", err)
		}
	}
	c.Filters.index()

	return c, nil
}

func (f *FilterConfig) index() {
	f.allowedGuilds = toSet(f.AllowedGuilds)
	f.blockedGuilds = toSet(f.BlockedGuilds)
	f.allowedChannels = toSet(f.AllowedChannels)
	f.blockedChannels = toSet(f.BlockedChannels)
}

// AllowGuild reports whether events from the guild should be ingested.
func (c *Config) AllowGuild(id string) bool {
	if c.Filters.blockedGuilds[id] {
		return false
	}
	if len(c.Filters.allowedGuilds) > 0 && !c.Filters.allowedGuilds[id] {
		return false
	}
	return true
}

// AllowChannel reports whether events from the channel should be ingested.
func (c *Config) AllowChannel(id string) bool {
	if c.Filters.blockedChannels[id] {
		return false
	}
	if len(c.Filters.allowedChannels) > 0 && !c.Filters.allowedChannels[id] {
		return false
	}
	return true
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "yes":
		return true
	}
	return false
}
