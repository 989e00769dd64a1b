package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/zentab/internal/archive"
	"github.com/p-blackswan/zentab/internal/config"
	"github.com/p-blackswan/zentab/internal/coordinator"
	"github.com/p-blackswan/zentab/internal/health"
	"github.com/p-blackswan/zentab/internal/hostbridge"
	"github.com/p-blackswan/zentab/internal/kv"
	"github.com/p-blackswan/zentab/internal/ledger"
	"github.com/p-blackswan/zentab/internal/metrics"
	"github.com/p-blackswan/zentab/internal/mgmt"
	"github.com/p-blackswan/zentab/internal/routing"
	"github.com/p-blackswan/zentab/internal/settings"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("host_addr", cfg.HostListenAddr).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Bool("sync_remote", cfg.SyncRemote()).
		Dur("archive_interval", cfg.ArchiveCheckInterval).
		Msg("starting zentabd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()
	checker := health.NewChecker(logger)

	// Local tier
	local, err := kv.OpenSQLite(cfg.LocalDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.LocalDBPath).Msg("failed to open local store")
	}
	defer local.Close()
	checker.Register("local_store", health.PingCheck(local.Ping, health.StatusDown))

	// Synced tier
	var synced kv.Store
	if cfg.SyncRemote() {
		pg, err := kv.NewPostgresStore(cfg.SyncDSN, cfg.SyncAccount)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure sync store")
		}
		defer pg.Close()
		checker.Register("sync_store", health.PingCheck(pg.Ping, health.StatusDegraded))
		synced = pg
	} else {
		logger.Info().Msg("SYNC_DSN not set; synced settings are kept in memory")
		synced = kv.NewMemoryStore()
	}
	retryCfg := cfg.SyncRetry()
	retryCfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("sync store write failed, retrying")
	}
	synced = kv.NewRetryStore(kv.NewQuotaStore(synced, cfg.SyncQuotaBytesPerItem), retryCfg)

	settingsStore := settings.NewStore(local, synced, logger)
	if cfg.SettingsSeedFile != "" {
		seeded, err := settingsStore.Seed(ctx, cfg.SettingsSeedFile)
		if err != nil {
			logger.Error().Err(err).Str("file", cfg.SettingsSeedFile).Msg("failed to seed settings")
		} else if seeded {
			logger.Info().Str("file", cfg.SettingsSeedFile).Msg("settings seeded")
		}
	}

	accessLedger := ledger.New(local, logger)

	// Host bridge
	bridgeCfg := hostbridge.DefaultConfig()
	bridgeCfg.Token = cfg.HostToken
	bridgeCfg.CallTimeout = cfg.HostCallTimeout
	bridgeCfg.PingInterval = cfg.HostPingInterval
	bridge := hostbridge.NewServer(bridgeCfg, m, logger)
	checker.Register("host", health.FlagCheck(bridge.Connected, health.StatusDegraded))
	if cfg.HostToken == "" {
		logger.Warn().Msg("HOST_TOKEN not set; any local process may connect as the extension")
	}

	hostServer := &http.Server{
		Addr:              cfg.HostListenAddr,
		Handler:           bridge,
		ReadHeaderTimeout: 10 * time.Second,
	}

	archiver := archive.NewArchiver(settingsStore, accessLedger, bridge, bridge, m, logger)
	relocator := routing.NewRelocator(bridge, m, logger)

	coordCfg := coordinator.DefaultConfig()
	coordCfg.EventBufferSize = cfg.EventBufferSize
	coord := coordinator.New(coordCfg, coordinator.Deps{
		Settings:   settingsStore,
		Ledger:     accessLedger,
		Archiver:   archiver,
		Relocator:  relocator,
		Tabs:       bridge,
		Containers: bridge,
		Metrics:    m,
	}, logger)
	coord.AddSource(bridge)

	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: cfg.MgmtJWTSecret,
		},
		RateLimit: mgmt.RateLimitConfig{
			RPS:   cfg.MgmtRateLimitRPS,
			Burst: cfg.MgmtRateLimitBurst,
		},
		CORSOrigins: cfg.MgmtCORSOrigins,
	}, mgmt.Deps{
		Commands:   coord,
		Settings:   settingsStore,
		Containers: bridge,
		Checker:    checker,
		Metrics:    m,
	}, logger)

	var wg sync.WaitGroup

	// The bridge holds events until the coordinator subscribes, so an
	// extension connecting first still gets its startup pass.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("coordinator stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", cfg.HostListenAddr).Msg("host bridge listening")
		if err := hostServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("host bridge server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgmtServer.Start(); err != nil {
			logger.Error().Err(err).Msg("management API server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		archiver.Run(ctx, cfg.ArchiveCheckInterval)
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	bridge.Close()
	if err := hostServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("host bridge shutdown error")
	}
	if err := mgmtServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("management API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("zentabd stopped")
}
