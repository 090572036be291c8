// Command gateway runs the Nexus payment gateway: ISO 20022 ingestion,
// FX quoting, the participant registry, and signed status report
// callbacks, served over HTTP until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/NexusGateway/server/pkg/nexus"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml (NEXUS_* env vars override)")
	flag.Parse()

	// A local .env file is a sandbox convenience; absence is fine.
	_ = godotenv.Load()

	path := *configPath
	if path == "" {
		path = os.Getenv("NEXUS_CONFIG")
	}

	cfg, err := nexus.LoadConfig(path)
	if err != nil {
		log.Fatal().Err(err).Str("config", path).Msg("load config")
	}

	app, err := nexus.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("assemble gateway")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}
