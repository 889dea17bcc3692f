package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	c := Load()
	c.CatalogURL = "postgres://catalog:5432/xnovu"
	c.CatalogKey = "service-role"
	c.ProviderKey = "nv-key"
	return c
}

func TestLoadDefaults(t *testing.T) {
	c := Load()
	assert.Equal(t, "localhost:7233", c.ScheduleStoreAddress)
	assert.Equal(t, "default", c.ScheduleStoreNamespace)
	assert.Equal(t, "xnovu-notification-processing", c.TaskQueue)
	assert.Equal(t, 100, c.MaxConcurrentActivities)
	assert.Equal(t, 50, c.MaxConcurrentWorkflows)
	assert.Equal(t, 10*time.Second, c.PollInterval)
	assert.Equal(t, 60*time.Second, c.FailedPollInterval)
	assert.Equal(t, 30*time.Second, c.ScheduledPollInterval)
	assert.Equal(t, 100, c.PollBatchSize)
	assert.Equal(t, 30*time.Second, c.RulePollInterval)
	assert.Equal(t, "UTC", c.DefaultTimezone)
	assert.Equal(t, 3, c.JobRetryAttempts)
	assert.Equal(t, 5*time.Second, c.JobRetryDelay)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "2500")
	t.Setenv("POLL_BATCH_SIZE", "250")
	t.Setenv("SCHEDULE_STORE_NAMESPACE", "staging")
	c := Load()
	assert.Equal(t, 2500*time.Millisecond, c.PollInterval)
	assert.Equal(t, 250, c.PollBatchSize)
	assert.Equal(t, "staging", c.ScheduleStoreNamespace)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing catalog url", func(c *Config) { c.CatalogURL = "" }},
		{"missing provider key", func(c *Config) { c.ProviderKey = "" }},
		{"batch size zero", func(c *Config) { c.PollBatchSize = 0 }},
		{"batch size too large", func(c *Config) { c.PollBatchSize = 1001 }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"negative retry attempts", func(c *Config) { c.JobRetryAttempts = -1 }},
		{"empty task queue", func(c *Config) { c.TaskQueue = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
