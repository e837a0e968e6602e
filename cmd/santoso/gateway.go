package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/santosobot/santoso/internal/api"
	"github.com/santosobot/santoso/internal/buildinfo"
	"github.com/santosobot/santoso/internal/channels"
	"github.com/santosobot/santoso/internal/config"
	"github.com/santosobot/santoso/internal/connwatch"
)

// runGateway runs every enabled channel, the agent loop and the HTTP
// API until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. the signal cancels ctx
//  2. the API server drains, channels stop and the loop finishes the
//     turns in progress
//  3. pending consolidation completes and the stores close via defers
func runGateway(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Santoso", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !providerConfigured(cfg) {
		return errNoAPIKey
	}

	// Everything after this point uses the configured level and format.
	logger = cfg.Logger(stdout)
	logger.Info("config loaded",
		"path", cfgPath,
		"model", cfg.Agent.Model,
		"workspace", cfg.Agent.Workspace,
		"port", cfg.Gateway.Port,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Connection watching ---
	// The provider is probed with backoff at startup and polled after.
	// Turns still run while it is down; they fail with the provider's
	// error and the watcher logs the recovery.
	connMgr := connwatch.NewManager(logger, a.events)
	defer connMgr.Stop()
	connMgr.Watch(ctx, connwatch.Config{
		Name:    "provider",
		Probe:   a.client.Ping,
		Backoff: connwatch.DefaultBackoffConfig(),
		OnReady: func() {
			logger.Info("provider reachable", "model", cfg.Agent.Model)
		},
	})

	// --- Channels ---
	mgr := channels.NewManager(a.bus, a.events, logger)
	var chat http.Handler

	if cfg.Channels.Telegram.Configured() {
		mgr.Register(channels.NewTelegram(channels.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			State:     a.state,
			Bus:       a.bus,
			Logger:    logger,
		}))
	} else if cfg.Channels.Telegram.Enabled {
		logger.Warn("telegram enabled without a token, skipping")
	}

	if cfg.Channels.WebSocket.Enabled {
		ws := channels.NewWebSocket(a.bus, logger)
		mgr.Register(ws)
		chat = ws
	}

	if cfg.Channels.MQTT.Configured() {
		m := channels.NewMQTT(channels.MQTTConfig{
			Broker:      cfg.Channels.MQTT.Broker,
			Username:    cfg.Channels.MQTT.Username,
			Password:    cfg.Channels.MQTT.Password,
			ClientID:    cfg.Channels.MQTT.ClientID,
			TopicPrefix: cfg.Channels.MQTT.TopicPrefix,
			Bus:         a.bus,
			Logger:      logger,
		})
		mgr.Register(m)
		connMgr.Watch(ctx, connwatch.Config{
			Name:    "mqtt",
			Probe:   m.AwaitConnection,
			Backoff: connwatch.DefaultBackoffConfig(),
		})
	}

	if cfg.Channels.CLI.Enabled {
		logger.Debug("cli channel is served by 'santoso agent', not the gateway")
	}
	logger.Info("channels configured", "channels", mgr.Names())

	server := api.NewServer(cfg.Gateway.Address, cfg.Gateway.Port, api.Deps{
		Agent:    a.loop,
		Sessions: a.sessions,
		Tools:    a.tools,
		Channels: mgr,
		Watch:    connMgr,
		Events:   a.events,
		Chat:     chat,
		Model:    cfg.Agent.Model,
		Logger:   logger,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.loop.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		mgr.Run(ctx)
	}()

	// Start blocks until ctx is cancelled or the listener fails.
	serveErr := server.Start(ctx)
	if serveErr != nil {
		logger.Error("API server failed", "error", serveErr)
		cancel()
	}

	logger.Info("shutting down")
	wg.Wait()
	logger.Info("Santoso stopped")

	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	return nil
}
