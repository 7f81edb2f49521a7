package config

import (
	"flag"
	"os"
	"time"

	"github.com/clipsync/clipsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
// Args are pre-filtered through flagx.FilterArgs so flags owned by other
// components do not trip the parser.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-a", "-f", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to the local database file")
	fs.StringVar(&cfg.APIEndpoint, "a", cfg.APIEndpoint, "base URL of the document API")
	fs.StringVar(&cfg.FilesDir, "f", cfg.FilesDir, "directory for downloaded file payloads")
	reconnect := fs.Int("i", int(cfg.WatchReconnectDelay.Seconds()), "change-feed reconnect delay (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.WatchReconnectDelay = time.Duration(*reconnect) * time.Second
}
