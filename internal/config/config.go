package config

import "time"

// Config holds the runtime settings of the sync client.
//
// DatabasePath and FilesDir are local paths; everything else points at
// the remote side: the document API, the token endpoint and the object
// storage bucket holding file payloads.
type Config struct {
	DatabasePath string
	FilesDir     string

	APIEndpoint   string
	TokenEndpoint string

	// WatchReconnectDelay is the pause before redialing a dropped
	// change-feed subscription.
	WatchReconnectDelay time.Duration

	RecycleBinLimit int

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "clipsync.db"
	c.FilesDir = "files"
	c.APIEndpoint = "https://api.clipsync.local"
	c.TokenEndpoint = "https://api.clipsync.local/v1/token"
	c.WatchReconnectDelay = 3 * time.Second
	c.RecycleBinLimit = 100
	c.S3Region = "us-east-1"
	c.S3Bucket = "clipsync-files"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
