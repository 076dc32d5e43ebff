package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleet-steward/backend/global"
	"fleet-steward/backend/initialize"
	"fleet-steward/backend/server"

	flag "github.com/spf13/pflag"
)

func main() {
	cfgPath := flag.StringP("config", "c", "config/backend.yaml", "Path to configuration file")
	flag.Parse()

	app, err := initialize.Build(*cfgPath)
	if err != nil {
		global.Logger.Fatal().Err(err).Msg("backend init failed")
	}
	defer app.Hint.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.Commands.StartSweeper(ctx, app.Cfg.Ledger.SweepInterval, app.Cfg.Ledger.StaleAfter)

	srv, err := server.StartHTTPServer(app.Cfg.HTTP.Host, app.Cfg.HTTP.Port, app.Router)
	if err != nil {
		global.Logger.Fatal().Err(err).Msg("http server failed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	global.Logger.Info().Msg("shutdown signal received, exiting...")
	if err := srv.Shutdown(10 * time.Second); err != nil {
		global.Logger.Error().Err(err).Msg("http shutdown")
	}
}
