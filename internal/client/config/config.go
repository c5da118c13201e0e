// Package config holds runtime settings for the photovault client, loaded
// as defaults → JSON file → command-line flags, with later sources taking
// precedence.
package config

import "time"

// DirectS3 configures optional direct object-storage reads. When enabled the
// download manager fetches blobs straight from the bucket instead of going
// through the API server.
type DirectS3 struct {
	Enabled   bool
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for self-hosted MinIO-style stores
	AccessKey string
	SecretKey string
}

// Config holds runtime settings for the photovault client.
type Config struct {
	// APIBaseURL is the base URL of the backend HTTP API.
	APIBaseURL string

	// DataDir is where the local database, blob cache and staging areas live.
	DataDir string

	// BlobCacheSize caps the disk blob cache in bytes.
	BlobCacheSize int64

	// SyncInterval is how often the background sync loop wakes up.
	SyncInterval time.Duration

	// ExportDir, when set, enables mirroring the library into this folder.
	ExportDir string

	DirectS3 DirectS3
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8080"
	c.DataDir = "photovault-data"
	c.BlobCacheSize = 5 << 30
	c.SyncInterval = 5 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
