package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/clipsync/clipsync/internal/cli"
	"github.com/clipsync/clipsync/internal/config"
)

func main() {

	cfg := config.LoadConfig()

	// the subcommand, if any, comes before the flags
	var cmd []string
	if args := os.Args[1:]; len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[:1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}
	defer app.Close()

	if err := app.Run(ctx, cmd); err != nil {
		log.Fatalf("%v", err)
	}
}
