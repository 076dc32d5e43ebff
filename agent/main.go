package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleet-steward/agent/internal/auth"
	"fleet-steward/agent/internal/config"
	"fleet-steward/agent/internal/db"
	"fleet-steward/agent/internal/dispatcher"
	"fleet-steward/agent/internal/gate"
	"fleet-steward/agent/internal/installer"
	"fleet-steward/agent/internal/ipc"
	"fleet-steward/agent/internal/ledgerclient"
	"fleet-steward/agent/internal/logger"
	"fleet-steward/agent/internal/pipeline"
	"fleet-steward/agent/internal/system"
	"fleet-steward/agent/internal/taskstore"

	flag "github.com/spf13/pflag"
)

func main() {
	var (
		cfgPath    = flag.StringP("config", "c", "config/agent.yaml", "Path to configuration file")
		retryAfter = flag.Duration("retry-after", 15*time.Minute, "Delay before retrying a failed dispatch cycle")
		probeEvery = flag.Duration("probe-interval", time.Minute, "Ledger connectivity probe interval")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Errorf("Cannot load config: %v", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogPath, cfg.LogLevel); err != nil {
		logger.Errorf("Cannot open log file: %v", err)
		os.Exit(1)
	}

	adb, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Errorf("Cannot open SQLite: %v", err)
		os.Exit(1)
	}
	store := taskstore.New(adb, cfg.TaskHistory)
	managed := taskstore.NewManagedSet(adb)
	inst := installer.NewFS(cfg.InstallRoot, cfg.RequireRoot)
	pipe := pipeline.New(store, managed, inst, pipeline.Config{
		WorkDir:        cfg.WorkDir,
		HomePackage:    cfg.HomePackage,
		RetryBaseDelay: cfg.RetryBaseDelay,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := pipe.Start(ctx); err != nil {
		logger.Errorf("Cannot start pipeline: %v", err)
		os.Exit(1)
	}

	// trust is loaded once; a restart is needed to change it
	var own string
	if cfg.SigningCert != "" {
		if own, err = gate.CertFingerprint(cfg.SigningCert); err != nil {
			logger.Errorf("Cannot read agent signing certificate: %v", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("agent.signing_cert is not set; every local privileged call will be rejected")
	}
	specs := make(map[string]gate.PrincipalSpec, len(cfg.IPC.Principals))
	for _, p := range cfg.IPC.Principals {
		specs[p.Name] = gate.PrincipalSpec{UID: p.UID, CertPath: p.Cert, Exe: p.Exe}
	}
	registry, err := gate.NewPrincipalRegistry(specs)
	if err != nil {
		logger.Errorf("Cannot load IPC principals: %v", err)
		os.Exit(1)
	}
	for _, name := range registry.Unpinned() {
		logger.Warnf("IPC principal %s has no exe pinned; any process of its uid can act as it", name)
	}
	g := gate.New(gate.Config{Privileged: cfg.IPC.Privileged, Liveness: cfg.IPC.Liveness, OwnIdentity: own}, registry)

	actions := system.New(cfg.RebootCommand, cfg.LogPath, cfg.InstallRoot, cfg.WorkDir)
	srv := ipc.NewServer(pipe, actions, taskstore.NewHeartbeats(adb), g)
	go func() {
		if err := srv.Serve(ctx, cfg.IPC.Socket); err != nil {
			logger.Errorf("IPC server stopped: %v", err)
		}
	}()

	rt := config.NewRuntime(cfg)
	if _, err := os.Stat(*cfgPath); err == nil {
		if err := config.Watch(ctx, *cfgPath, cfg, rt); err != nil {
			logger.Warnf("Config watcher disabled: %v", err)
		}
	}

	token, err := auth.ResolveToken(cfg.BackendToken, cfg.TokenPath)
	if errors.Is(err, auth.ErrNoToken) {
		logger.Warn("No device token; ledger calls will be rejected until one is configured")
	} else if err != nil {
		logger.Errorf("Cannot read device token: %v", err)
		os.Exit(1)
	}
	if cfg.BackendToken != "" && cfg.TokenPath != "" {
		// later starts keep working once the token is removed from the config file
		if err := auth.SaveToken(cfg.TokenPath, cfg.BackendToken); err != nil {
			logger.Warnf("Cannot persist device token: %v", err)
		}
	}
	client := ledgerclient.New(cfg.BackendURL, token)
	rt.OnTokenChange(func(tok string) {
		client.SetToken(tok)
		if err := auth.SaveToken(cfg.TokenPath, tok); err != nil {
			logger.Warnf("Cannot persist rotated device token: %v", err)
		}
	})
	d := dispatcher.New(client, pipe, actions, rt, cfg.MaxPull)
	host, err := dispatcher.NewHost(d, cfg.Schedule, *retryAfter)
	if err != nil {
		logger.Errorf("Invalid agent.schedule: %v", err)
		os.Exit(1)
	}
	host.Start(ctx)
	host.Trigger()
	go dispatcher.WatchConnectivity(ctx, client.Ping, *probeEvery, host.Trigger)

	logger.Infof("Agent %s running (ledger %s)", cfg.DeviceID, cfg.BackendURL)
	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
	host.Stop()
	pipe.Wait()
}
