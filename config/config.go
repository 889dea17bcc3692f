// Package config resolves the engine's process configuration from the
// environment. All settings are optional with defaults except the Catalog DB
// and Delivery Provider credentials, which Validate enforces.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config captures every tunable of the worker process.
type Config struct {
	// ScheduleStoreAddress is the Temporal frontend address.
	ScheduleStoreAddress string
	// ScheduleStoreNamespace is the logical namespace; auto-created with a
	// seven day retention when absent.
	ScheduleStoreNamespace string
	// TaskQueue is the queue shared by the engine's workflows and activities.
	TaskQueue string

	// MaxConcurrentActivities caps worker activity concurrency.
	MaxConcurrentActivities int
	// MaxConcurrentWorkflows caps worker workflow task concurrency.
	MaxConcurrentWorkflows int

	// PollInterval is the new-work loop interval.
	PollInterval time.Duration
	// FailedPollInterval is the failed-retry loop interval.
	FailedPollInterval time.Duration
	// ScheduledPollInterval is the due-scheduled loop interval.
	ScheduledPollInterval time.Duration
	// PollBatchSize caps rows fetched per tick (1..1000).
	PollBatchSize int
	// RulePollInterval is the incremental reconciliation interval.
	RulePollInterval time.Duration

	// DefaultTimezone applies when a CRON trigger omits its timezone.
	DefaultTimezone string

	// JobRetryAttempts is the ceiling for failed-notification retries.
	JobRetryAttempts int
	// JobRetryDelay is the initial retry delay.
	JobRetryDelay time.Duration

	// CatalogURL and CatalogKey locate the Catalog DB (service role).
	CatalogURL string
	CatalogKey string

	// ProviderURL and ProviderKey locate the Delivery Provider.
	ProviderURL string
	ProviderKey string
}

// Load resolves the configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		ScheduleStoreAddress:    envOr("SCHEDULE_STORE_ADDRESS", "localhost:7233"),
		ScheduleStoreNamespace:  envOr("SCHEDULE_STORE_NAMESPACE", "default"),
		TaskQueue:               envOr("SCHEDULE_STORE_TASK_QUEUE", "xnovu-notification-processing"),
		MaxConcurrentActivities: envIntOr("MAX_CONCURRENT_ACTIVITIES", 100),
		MaxConcurrentWorkflows:  envIntOr("MAX_CONCURRENT_WORKFLOWS", 50),
		PollInterval:            envMillisOr("POLL_INTERVAL_MS", 10*time.Second),
		FailedPollInterval:      envMillisOr("FAILED_POLL_INTERVAL_MS", 60*time.Second),
		ScheduledPollInterval:   envMillisOr("SCHEDULED_POLL_INTERVAL_MS", 30*time.Second),
		PollBatchSize:           envIntOr("POLL_BATCH_SIZE", 100),
		RulePollInterval:        envMillisOr("RULE_POLL_INTERVAL_MS", 30*time.Second),
		DefaultTimezone:         envOr("DEFAULT_TIMEZONE", "UTC"),
		JobRetryAttempts:        envIntOr("JOB_RETRY_ATTEMPTS", 3),
		JobRetryDelay:           envMillisOr("JOB_RETRY_DELAY_MS", 5*time.Second),
		CatalogURL:              os.Getenv("CATALOG_URL"),
		CatalogKey:              os.Getenv("CATALOG_KEY"),
		ProviderURL:             envOr("DELIVERY_PROVIDER_URL", "https://api.novu.co"),
		ProviderKey:             os.Getenv("DELIVERY_PROVIDER_KEY"),
	}
}

// Validate checks cross-field constraints and required credentials. A
// non-nil error maps to process exit code 3.
func (c Config) Validate() error {
	if c.ScheduleStoreAddress == "" {
		return fmt.Errorf("config: schedule store address is required")
	}
	if c.TaskQueue == "" {
		return fmt.Errorf("config: task queue is required")
	}
	if c.PollBatchSize < 1 || c.PollBatchSize > 1000 {
		return fmt.Errorf("config: poll batch size %d outside 1..1000", c.PollBatchSize)
	}
	for name, d := range map[string]time.Duration{
		"POLL_INTERVAL_MS":           c.PollInterval,
		"FAILED_POLL_INTERVAL_MS":    c.FailedPollInterval,
		"SCHEDULED_POLL_INTERVAL_MS": c.ScheduledPollInterval,
		"RULE_POLL_INTERVAL_MS":      c.RulePollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.JobRetryAttempts < 0 {
		return fmt.Errorf("config: JOB_RETRY_ATTEMPTS must not be negative")
	}
	if c.CatalogURL == "" {
		return fmt.Errorf("config: CATALOG_URL is required")
	}
	if c.ProviderKey == "" {
		return fmt.Errorf("config: DELIVERY_PROVIDER_KEY is required")
	}
	return nil
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envMillisOr returns the environment variable as a millisecond count or a
// default.
func envMillisOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
