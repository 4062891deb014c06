package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 4, cfg.MaxSimultaneous)
	assert.Equal(t, 300*time.Second, cfg.MaxBucketWait)
	assert.Equal(t, 60*time.Second, cfg.MinRecheckInterval)
	assert.Equal(t, 180*time.Second, cfg.LowSpeedTime)
	assert.Equal(t, ".archive.org", cfg.RedirectHostSuffix)
	assert.False(t, cfg.IndexByDefault)
}

func TestAccountConfigured(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	assert.False(t, cfg.AccountConfigured())

	cfg.AccessKey = "AK"
	assert.False(t, cfg.AccountConfigured())

	cfg.SecretKey = "SK"
	assert.True(t, cfg.AccountConfigured())
}
