package config

import (
	"encoding/json"
	"os"

	"github.com/avelt/photovault/internal/flagx"
	"github.com/avelt/photovault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be written either as strings like "5m" or
// as integer nanoseconds.
type JsonConfig struct {
	APIBaseURL    string         `json:"api_base_url"`
	DataDir       string         `json:"data_dir"`
	BlobCacheSize int64          `json:"blob_cache_size"`
	SyncInterval  timex.Duration `json:"sync_interval"`
	ExportDir     string         `json:"export_dir"`

	DirectS3 struct {
		Enabled   bool   `json:"enabled"`
		Bucket    string `json:"bucket"`
		Region    string `json:"region"`
		Endpoint  string `json:"endpoint"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
	} `json:"direct_s3"`
}

// parseJson overlays cfg with values from the JSON file named by the -c or
// -config flag. Absent file means no overlay. Read or unmarshal errors panic
// (config is loaded once at process start).
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

	if jc.APIBaseURL != "" {
		cfg.APIBaseURL = jc.APIBaseURL
	}
	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.BlobCacheSize > 0 {
		cfg.BlobCacheSize = jc.BlobCacheSize
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.ExportDir != "" {
		cfg.ExportDir = jc.ExportDir
	}

	cfg.DirectS3 = DirectS3{
		Enabled:   jc.DirectS3.Enabled,
		Bucket:    jc.DirectS3.Bucket,
		Region:    jc.DirectS3.Region,
		Endpoint:  jc.DirectS3.Endpoint,
		AccessKey: jc.DirectS3.AccessKey,
		SecretKey: jc.DirectS3.SecretKey,
	}
}
