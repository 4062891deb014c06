// Package config handles configuration for the beamup job runner,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the beamup engine.
//
// Fields:
//   - DatabaseDriver / DatabaseDSN: beam table storage ("sqlite" or "pgx").
//   - AccessKey / SecretKey: static LOW credential pair for the remote service.
//   - CollectionName / MediaType / BucketPrefix / Creator: remote metadata.
//   - IndexByDefault: whether new beams are public (indexed) unless told otherwise.
//   - MaxSimultaneous: cap on concurrent in-flight transfers within one run.
//   - MaxBucketWait: budget for the bucket-creation metadata poll.
//   - MinRecheckInterval: floor between remote re-checks of the same beam.
//   - ConnectTimeout / LowSpeedTime: transport timeouts; a transfer moving
//     less than one byte per second for LowSpeedTime is aborted.
//   - StorageBaseURL / MetadataBaseURL / DownloadBaseURL / TasksBaseURL /
//     ProbeURL: remote endpoints.
//   - RedirectHostSuffix: host suffix that marks an identifier redirect as
//     pointing at the real storage host.
type Config struct {
	DatabaseDriver string
	DatabaseDSN    string

	AccessKey string
	SecretKey string

	CollectionName string
	MediaType      string
	BucketPrefix   string
	Creator        string
	IndexByDefault bool

	MaxSimultaneous    int
	MaxBucketWait      time.Duration
	MinRecheckInterval time.Duration
	ConnectTimeout     time.Duration
	LowSpeedTime       time.Duration

	StorageBaseURL     string
	MetadataBaseURL    string
	DownloadBaseURL    string
	TasksBaseURL       string
	ProbeURL           string
	RedirectHostSuffix string
}

// LoadDefaults populates c with sensible defaults. Keys are intentionally
// empty: without an account the state machine refuses every transition.
func (c *Config) LoadDefaults() {
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "beamup.db"

	c.CollectionName = "opensource"
	c.MediaType = "texts"
	c.BucketPrefix = "beamup"
	c.Creator = "beamup"
	c.IndexByDefault = false

	c.MaxSimultaneous = 4
	c.MaxBucketWait = 300 * time.Second
	c.MinRecheckInterval = 60 * time.Second
	c.ConnectTimeout = 10 * time.Second
	c.LowSpeedTime = 180 * time.Second

	c.StorageBaseURL = "http://s3.us.archive.org/"
	c.MetadataBaseURL = "http://archive.org/metadata/"
	c.DownloadBaseURL = "https://archive.org/download/"
	c.TasksBaseURL = "https://archive.org/catalog.php?history=1&identifier="
	c.ProbeURL = "http://archive.org"
	c.RedirectHostSuffix = ".archive.org"
}

// AccountConfigured reports whether a credential pair is present. Nothing can
// be beamed up without one.
func (c *Config) AccountConfigured() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
