package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tinyland-inc/govorun/cmd/govorun/internal"
	"github.com/tinyland-inc/govorun/pkg/bot"
	"github.com/tinyland-inc/govorun/pkg/logger"
	"github.com/tinyland-inc/govorun/pkg/store"
	"github.com/tinyland-inc/govorun/pkg/vk"
	"github.com/tinyland-inc/govorun/pkg/voice"
)

func gatewayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	users, err := store.Open(cfg.Store.Path, cfg.Store.FirstAdminID)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	fmt.Printf("✓ Store opened at %s\n", cfg.Store.Path)

	client := vk.NewClient(vk.ClientConfig{
		Token:      cfg.Platform.Token,
		APIBase:    cfg.Platform.APIBase,
		APIVersion: cfg.Platform.APIVersion,
		Timeout:    time.Duration(cfg.Platform.HTTPTimeout) * time.Second,
	})

	synth := voice.NewHTTPSynthesizer(cfg.Voice.SynthURL)
	voiceService := voice.NewService(synth, cfg.Voice.MaxTextLength)
	fmt.Printf("✓ Voice engine at %s\n", cfg.Voice.SynthURL)

	dispatcher := bot.NewDispatcher(client, users, voiceService)
	session := vk.NewPollSession(client, cfg.Platform.GroupID, cfg.Platform.Wait, cfg.Platform.HTTPTimeout)
	loop := bot.NewLoop(session, dispatcher)

	logger.InfoCF("gateway", "Gateway starting", map[string]any{
		"group_id": cfg.Platform.GroupID,
		"wait":     cfg.Platform.Wait,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loop.Run(ctx)

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	if err := users.Close(); err != nil {
		logger.ErrorCF("gateway", "Store close failed", map[string]any{"error": err.Error()})
	}
	fmt.Println("✓ Gateway stopped")

	return nil
}
