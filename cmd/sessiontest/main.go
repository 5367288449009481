// sessiontest opens an EventSub WebSocket session and prints notifications
// and lifecycle changes to the console.
// Usage: go run ./cmd/sessiontest --url ws://127.0.0.1:8080/ws
//
// Pair it with the Twitch CLI mock server:
//
//	twitch event websocket start-server
//	twitch event trigger channel.follow --transport=websocket
//	twitch event websocket reconnect
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/eventsub-receiver/internal/config"
	"github.com/rickgao/eventsub-receiver/internal/connection"
	"github.com/rickgao/eventsub-receiver/internal/handler"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "EventSub WebSocket URL")
	configPath := flag.String("config", "", "optional config file for session settings")
	verbose := flag.Bool("verbose", false, "print full notification JSON")
	statsEvery := flag.Duration("stats", 10*time.Second, "stats print interval")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	mgrCfg := connection.DefaultManagerConfig()
	if *configPath != "" {
		cfg, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		mgrCfg.KeepaliveBuffer = cfg.Session.KeepaliveBuffer
		mgrCfg.MaxMissedKeepalives = cfg.Session.MaxMissedKeepalives
		mgrCfg.ReconnectBaseWait = cfg.Session.ReconnectBaseDelay
		mgrCfg.ReconnectMaxWait = cfg.Session.ReconnectMaxDelay
		mgrCfg.ReconnectJitter = cfg.Session.ReconnectJitter
		mgrCfg.MaxReconnectAttempts = cfg.Session.MaxReconnectAttempts
		mgrCfg.ReconnectGrace = cfg.Session.ReconnectGrace
		mgrCfg.TerminalCloseCodes = cfg.Session.TerminalCloseCodes
	}
	// No conduit: the mock server binds subscriptions to the session itself.
	mgrCfg.WSURL = *url
	mgrCfg.ConduitID = ""

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	registry := handler.NewRegistry(logger)
	registry.Tap(printer{verbose: *verbose})
	handler.RegisterChatLogger(registry, logger)

	mgr := connection.NewManager(mgrCfg, registry, logger)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start session manager", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting", "url", mgrCfg.WSURL)
	if err := mgr.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	go watchState(ctx, mgr)

	// Stats printer
	go func() {
		ticker := time.NewTicker(*statsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := mgr.Stats()
				logger.Info("stats",
					"state", s.State,
					"session_id", s.SessionID,
					"frames", s.FramesReceived,
					"notifications", s.Notifications,
					"parse_errors", s.ParseErrors,
					"missed_keepalives", s.MissedKeepalives,
					"reconnect_attempts", s.ReconnectAttempts,
				)
			}
		}
	}()

	logger.Info("session test running - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	mgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

// printer writes every notification to stdout.
type printer struct {
	verbose bool
}

func (p printer) Deliver(e handler.Event) {
	n := e.Notification
	if p.verbose {
		data, _ := json.MarshalIndent(n, "", "  ")
		fmt.Printf("[NOTIFICATION] %s\n", data)
		return
	}
	fmt.Printf("[NOTIFICATION] type=%s broadcaster=%s message_id=%s event=%s\n",
		n.SubscriptionType, e.BroadcasterID, n.Metadata.MessageID, n.Payload.Event)
}

// watchState prints lifecycle transitions as they are observed.
func watchState(ctx context.Context, mgr connection.Manager) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	last := mgr.State()
	sessionID := mgr.SessionID()
	fmt.Printf("[STATE] %s session=%s\n", last, sessionID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, id := mgr.State(), mgr.SessionID()
			if state != last || id != sessionID {
				fmt.Printf("[STATE] %s -> %s session=%s\n", last, state, id)
				last, sessionID = state, id
			}
		}
	}
}
