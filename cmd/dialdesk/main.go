package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/dialdesk/internal/api"
	"github.com/sebas/dialdesk/internal/banner"
	"github.com/sebas/dialdesk/internal/config"
	"github.com/sebas/dialdesk/internal/dialer"
	"github.com/sebas/dialdesk/internal/engine"
	"github.com/sebas/dialdesk/internal/gateway"
	"github.com/sebas/dialdesk/internal/logger"
	"github.com/sebas/dialdesk/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session store
	sessions := store.NewSessionStore(store.SessionStoreConfig{
		Retention:       cfg.Retention,
		CleanupInterval: 30 * time.Second,
	})
	defer sessions.Close()

	// Call records
	var records store.RecordRepository
	if cfg.DBPath != "" {
		sqliteRecords, err := store.NewSQLiteRecords(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open call records: %w", err)
		}
		records = sqliteRecords
	} else {
		records = store.NewMemoryRecords()
	}
	defer records.Close()

	// Conversation engine
	var eng engine.Engine = engine.NoopEngine{}
	if cfg.EngineURL != "" {
		eng = engine.NewClient(cfg.EngineURL)
	}

	// Provider gateway
	gw, sinkable, closeGateway, err := buildGateway(ctx, cfg)
	if err != nil {
		return err
	}
	if closeGateway != nil {
		defer closeGateway()
	}

	// Orchestrator
	orchestrator := dialer.NewOrchestrator(dialer.Config{
		Gateway:       gw,
		Store:         sessions,
		Records:       records,
		Engine:        eng,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
	})
	if sinkable != nil {
		sinkable.SetEventSink(orchestrator)
	}

	// HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	server, err := api.NewServer(addr, orchestrator, sessions, records)
	if err != nil {
		return fmt.Errorf("create HTTP server: %w", err)
	}
	if err := server.Start(); err != nil {
		return err
	}

	printBanner(cfg, addr)

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	if err := server.Stop(); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	cancel()
	orchestrator.Wait()
	return nil
}

// sinkSetter is implemented by gateways that push status events
// directly instead of relying on the webhook.
type sinkSetter interface {
	SetEventSink(gateway.EventSink)
}

func buildGateway(ctx context.Context, cfg *config.Config) (gateway.Gateway, sinkSetter, func(), error) {
	switch cfg.Provider {
	case "rest":
		g := gateway.NewRESTGateway(gateway.RESTConfig{
			BaseURL:         cfg.ProviderBaseURL,
			AccountSID:      cfg.AccountSID,
			AuthToken:       cfg.AuthToken,
			FromNumber:      cfg.FromNumber,
			CallbackBaseURL: cfg.CallbackBaseURL,
		})
		return g, nil, nil, nil

	case "sip":
		g, err := gateway.NewSIPGateway(gateway.SIPConfig{
			ListenAddr:    cfg.BindAddr,
			Port:          cfg.SIPPort,
			AdvertiseAddr: cfg.AdvertiseAddr,
			TrunkAddr:     cfg.TrunkAddr,
			FromUser:      cfg.FromNumber,
			MediaAddr:     cfg.MediaAddr,
			MediaPort:     cfg.MediaPort,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create SIP gateway: %w", err)
		}
		return g, &sipStarter{g: g, ctx: ctx}, func() { _ = g.Close() }, nil

	case "mock":
		g := gateway.NewMockGateway()
		return g, g, nil, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// sipStarter defers Start until the event sink is wired, so no event
// can arrive before the orchestrator is listening.
type sipStarter struct {
	g   *gateway.SIPGateway
	ctx context.Context
}

func (s *sipStarter) SetEventSink(sink gateway.EventSink) {
	s.g.SetEventSink(sink)
	if err := s.g.Start(s.ctx); err != nil {
		slog.Error("Failed to start SIP gateway", "error", err)
	}
}

func printBanner(cfg *config.Config, addr string) {
	lines := []banner.ConfigLine{
		{Label: "HTTP", Value: addr},
		{Label: "Provider", Value: cfg.Provider},
		{Label: "Log Level", Value: cfg.LogLevel},
	}
	switch cfg.Provider {
	case "rest":
		lines = append(lines,
			banner.ConfigLine{Label: "Provider URL", Value: cfg.ProviderBaseURL},
			banner.ConfigLine{Label: "Callback URL", Value: cfg.CallbackBaseURL},
		)
	case "sip":
		lines = append(lines,
			banner.ConfigLine{Label: "SIP Port", Value: fmt.Sprintf("%d", cfg.SIPPort)},
			banner.ConfigLine{Label: "Trunk", Value: cfg.TrunkAddr},
		)
	}
	if cfg.DBPath != "" {
		lines = append(lines, banner.ConfigLine{Label: "Records DB", Value: cfg.DBPath})
	}
	if cfg.EngineURL != "" {
		lines = append(lines, banner.ConfigLine{Label: "Engine", Value: cfg.EngineURL})
	}
	banner.Print("DialDesk Call Service", lines)
}
