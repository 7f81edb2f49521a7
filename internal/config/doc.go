// Package config loads runtime configuration for the sync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via the -c or -config flags.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-d string   path to the local database file
//	-a string   base URL of the document API
//	-f string   directory for downloaded file payloads
//	-i int      change-feed reconnect delay (seconds)
//
// Object storage settings (region, endpoint, credentials, bucket) are
// JSON-only; see JsonConfig for the schema. Durations in JSON use
// timex.Duration, so values can be strings like "3s" or integer
// nanoseconds.
package config
