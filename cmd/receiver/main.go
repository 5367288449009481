package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/eventsub-receiver/internal/api"
	"github.com/rickgao/eventsub-receiver/internal/auth"
	"github.com/rickgao/eventsub-receiver/internal/config"
	"github.com/rickgao/eventsub-receiver/internal/connection"
	"github.com/rickgao/eventsub-receiver/internal/database"
	"github.com/rickgao/eventsub-receiver/internal/handler"
	"github.com/rickgao/eventsub-receiver/internal/metrics"
	"github.com/rickgao/eventsub-receiver/internal/poller"
	"github.com/rickgao/eventsub-receiver/internal/relay"
	"github.com/rickgao/eventsub-receiver/internal/store"
	"github.com/rickgao/eventsub-receiver/internal/version"
	"github.com/rickgao/eventsub-receiver/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/receiver.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting receiver",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"conduit_id", cfg.Conduit.ID,
		"shard_id", cfg.Conduit.ShardID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("receiver failed", "error", err)
		os.Exit(1)
	}

	logger.Info("receiver stopped")
}

func run(cfg *config.ReceiverConfig, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	metrics.Register()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database, cfg.Instance.ID)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database connected")

	// Credentials and Helix client
	credentials := store.New(pool)
	oauth := auth.NewOAuthClient(cfg.Twitch.AuthURL, cfg.Twitch.ClientID, cfg.Twitch.ClientSecret,
		auth.WithLogger(logger),
		auth.WithHTTPClient(&http.Client{Timeout: cfg.Twitch.Timeout}),
	)
	appTokens := auth.NewAppTokenSource(oauth, credentials, logger)

	apiClient := api.NewClient(
		cfg.Twitch.APIURL,
		cfg.Twitch.ClientID,
		appTokens,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Twitch.Timeout),
		api.WithRetries(cfg.Twitch.MaxRetries, time.Second),
	)

	conduit, err := apiClient.GetConduitWithShards(ctx, cfg.Conduit.ID)
	if err != nil {
		return fmt.Errorf("check conduit: %w", err)
	}
	logger.Info("conduit found",
		"conduit_id", conduit.ID,
		"shard_count", conduit.ShardCount,
	)

	// Handlers and taps
	registry := handler.NewRegistry(logger)
	handler.RegisterChatLogger(registry, logger)

	notificationWriter := writer.NewNotificationWriter(writer.WriterConfig{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		BufferSize:    cfg.Writer.BufferSize,
	}, pool, logger)
	if err := notificationWriter.Start(ctx); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}
	registry.Tap(notificationWriter)

	var relayServer *relay.Server
	if cfg.Relay.Enabled {
		relayServer = relay.New(relay.Config{
			MaxMessageSize: cfg.Relay.MaxMessageSize,
			SendBuffer:     cfg.Relay.SendBuffer,
		}, logger)
		registry.Tap(relayServer)
	}

	// Session manager
	managerCfg := managerConfig(cfg)
	updater := connection.NewTransportUpdater(apiClient, managerCfg, logger)
	manager := connection.NewManager(managerCfg, registry, logger, connection.WithBinder(updater))
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}

	var monitor *poller.Poller
	if cfg.Conduit.MonitorInterval > 0 {
		monitor = poller.New(poller.Config{
			ConduitID: cfg.Conduit.ID,
			ShardID:   cfg.Conduit.ShardID,
			Interval:  cfg.Conduit.MonitorInterval,
			Timeout:   cfg.Twitch.Timeout,
		}, apiClient, manager, updater, logger)
	}

	// HTTP surfaces
	status := &statusHandler{
		db:      pool,
		session: manager,
		binding: updater,
		writer:  notificationWriter,
	}
	if monitor != nil {
		status.monitor = monitor
	}
	if relayServer != nil {
		status.relay = relayServer
	}
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: status.routes(cfg.Metrics.Path),
	}
	var relayHTTP *http.Server
	if relayServer != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Relay.Path, relayServer)
		relayHTTP = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Relay.Port),
			Handler: mux,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		return serve(healthServer)
	})
	if relayHTTP != nil {
		g.Go(func() error {
			logger.Info("starting relay server", "port", cfg.Relay.Port, "path", cfg.Relay.Path)
			return serve(relayHTTP)
		})
	}

	// Open the session. A failed first dial is fatal; later drops are
	// handled by the manager's reconnect policy.
	if err := manager.Connect(ctx); err != nil {
		cancel()
		shutdown(logger, manager, monitor, notificationWriter, relayServer, healthServer, relayHTTP)
		g.Wait()
		return fmt.Errorf("open eventsub session: %w", err)
	}

	if monitor != nil {
		if err := monitor.Start(ctx); err != nil {
			logger.Warn("shard monitor not started", "error", err)
			monitor = nil
		}
	}

	logger.Info("receiver running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown or a server failure
	<-gctx.Done()

	logger.Info("shutting down...")
	cancel()
	shutdown(logger, manager, monitor, notificationWriter, relayServer, healthServer, relayHTTP)

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// shutdown stops components in dependency order: the session first so the
// notification queue drains into the writer and relay before they stop.
func shutdown(
	logger *slog.Logger,
	manager connection.Manager,
	monitor *poller.Poller,
	w *writer.NotificationWriter,
	relayServer *relay.Server,
	servers ...*http.Server,
) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if monitor != nil {
		monitor.Stop(shutdownCtx)
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Warn("session manager stop", "error", err)
	}
	w.Stop(shutdownCtx)
	if relayServer != nil {
		relayServer.Close()
	}
	for _, srv := range servers {
		if srv != nil {
			srv.Shutdown(shutdownCtx)
		}
	}
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	return nil
}

// managerConfig maps file configuration onto the session manager's.
func managerConfig(cfg *config.ReceiverConfig) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.WSURL = cfg.Twitch.WSURL
	mc.ConduitID = cfg.Conduit.ID
	mc.ShardID = cfg.Conduit.ShardID
	mc.KeepaliveBuffer = cfg.Session.KeepaliveBuffer
	mc.MaxMissedKeepalives = cfg.Session.MaxMissedKeepalives
	mc.ReconnectBaseWait = cfg.Session.ReconnectBaseDelay
	mc.ReconnectMaxWait = cfg.Session.ReconnectMaxDelay
	mc.ReconnectJitter = cfg.Session.ReconnectJitter
	mc.MaxReconnectAttempts = cfg.Session.MaxReconnectAttempts
	mc.ReconnectGrace = cfg.Session.ReconnectGrace
	mc.TerminalCloseCodes = cfg.Session.TerminalCloseCodes
	mc.UpdateTimeout = cfg.Session.UpdateTimeout
	mc.NotificationBuffer = cfg.Session.NotificationBuffer
	return mc
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
