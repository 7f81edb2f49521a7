package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/clipsync/clipsync/internal/flagx"
	"github.com/clipsync/clipsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// rely on timex.Duration so JSON can specify them either as strings like
// "3s" or as integer nanoseconds.
type JsonConfig struct {
	DatabasePath        string         `json:"database_path"`
	FilesDir            string         `json:"files_dir"`
	APIEndpoint         string         `json:"api_endpoint"`
	TokenEndpoint       string         `json:"token_endpoint"`
	WatchReconnectDelay timex.Duration `json:"watch_reconnect_delay"`
	RecycleBinLimit     int            `json:"recycle_bin_limit"`

	S3Region    string `json:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
	S3Bucket    string `json:"s3_bucket"`
}

// parseJson overlays Config with values from the JSON file named by the
// -c or -config flags. Absent file path means no JSON is loaded. Only
// fields present in the file override cfg; read or unmarshal errors
// panic (the caller recovers if desired).
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

	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.FilesDir != "" {
		cfg.FilesDir = jc.FilesDir
	}
	if jc.APIEndpoint != "" {
		cfg.APIEndpoint = jc.APIEndpoint
	}
	if jc.TokenEndpoint != "" {
		cfg.TokenEndpoint = jc.TokenEndpoint
	}
	if jc.WatchReconnectDelay.Duration != 0 {
		cfg.WatchReconnectDelay = time.Duration(jc.WatchReconnectDelay.Duration)
	}
	if jc.RecycleBinLimit != 0 {
		cfg.RecycleBinLimit = jc.RecycleBinLimit
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3Endpoint != "" {
		cfg.S3Endpoint = jc.S3Endpoint
	}
	if jc.S3AccessKey != "" {
		cfg.S3AccessKey = jc.S3AccessKey
	}
	if jc.S3SecretKey != "" {
		cfg.S3SecretKey = jc.S3SecretKey
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
}
