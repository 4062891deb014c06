package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/beamup/internal/flagx"
	"github.com/dmitrijs2005/beamup/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "3s"
// or as integer nanoseconds. After parsing, non-zero values are copied into
// the runtime Config.
type JsonConfig struct {
	DatabaseDriver string `json:"database_driver"`
	DatabaseDSN    string `json:"database_dsn"`

	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`

	CollectionName string `json:"collection_name"`
	MediaType      string `json:"media_type"`
	BucketPrefix   string `json:"bucket_prefix"`
	Creator        string `json:"creator"`
	IndexByDefault *bool  `json:"index_by_default"`

	MaxSimultaneous    int            `json:"max_simultaneous"`
	MaxBucketWait      timex.Duration `json:"max_bucket_wait"`
	MinRecheckInterval timex.Duration `json:"min_recheck_interval"`
	ConnectTimeout     timex.Duration `json:"connect_timeout"`
	LowSpeedTime       timex.Duration `json:"low_speed_time"`

	StorageBaseURL     string `json:"storage_base_url"`
	MetadataBaseURL    string `json:"metadata_base_url"`
	DownloadBaseURL    string `json:"download_base_url"`
	TasksBaseURL       string `json:"tasks_base_url"`
	ProbeURL           string `json:"probe_url"`
	RedirectHostSuffix string `json:"redirect_host_suffix"`
}

// parseJson overlays cfg with values loaded from the JSON file given via the
// -c/-config flags. Missing file path means no overlay; read or unmarshal
// errors panic (the caller owns recovery).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	setString(&cfg.DatabaseDriver, jc.DatabaseDriver)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.AccessKey, jc.AccessKey)
	setString(&cfg.SecretKey, jc.SecretKey)
	setString(&cfg.CollectionName, jc.CollectionName)
	setString(&cfg.MediaType, jc.MediaType)
	setString(&cfg.BucketPrefix, jc.BucketPrefix)
	setString(&cfg.Creator, jc.Creator)
	if jc.IndexByDefault != nil {
		cfg.IndexByDefault = *jc.IndexByDefault
	}

	if jc.MaxSimultaneous > 0 {
		cfg.MaxSimultaneous = jc.MaxSimultaneous
	}
	if jc.MaxBucketWait.Duration > 0 {
		cfg.MaxBucketWait = jc.MaxBucketWait.Duration
	}
	if jc.MinRecheckInterval.Duration > 0 {
		cfg.MinRecheckInterval = jc.MinRecheckInterval.Duration
	}
	if jc.ConnectTimeout.Duration > 0 {
		cfg.ConnectTimeout = jc.ConnectTimeout.Duration
	}
	if jc.LowSpeedTime.Duration > 0 {
		cfg.LowSpeedTime = jc.LowSpeedTime.Duration
	}

	setString(&cfg.StorageBaseURL, jc.StorageBaseURL)
	setString(&cfg.MetadataBaseURL, jc.MetadataBaseURL)
	setString(&cfg.DownloadBaseURL, jc.DownloadBaseURL)
	setString(&cfg.TasksBaseURL, jc.TasksBaseURL)
	setString(&cfg.ProbeURL, jc.ProbeURL)
	setString(&cfg.RedirectHostSuffix, jc.RedirectHostSuffix)
}
