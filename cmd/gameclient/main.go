// Package main provides the game client binary: it connects both
// channels to the server, logs in, and runs the client loop with the
// chat handle registered.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/config"
	"github.com/cory-johannsen/aether/internal/gameclient"
	"github.com/cory-johannsen/aether/internal/observability"
	"github.com/cory-johannsen/aether/internal/protocol"
	"github.com/cory-johannsen/aether/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
	name := flag.String("name", "anonymous", "display name sent at login")
	greeting := flag.String("say", "hello from aether", "chat message sent after the handle starts")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer observability.Flush(logger)

	conn, err := transport.Dial(cfg.Network.TCPAddr(), cfg.Network.UDPAddr(),
		cfg.Network.OutboundQueueSize, logger)
	if err != nil {
		logger.Fatal("connecting", zap.Error(err))
	}
	defer conn.Close()

	registry := gameclient.NewRegistry()
	registry.RegisterHandle("chat", func() gameclient.ClientHandle {
		return &chatHandle{logger: logger, greeting: *greeting}
	})

	client := gameclient.New(*name, conn, registry, nil, cfg.Runtime.TickInterval, logger)
	if err := client.Login(); err != nil {
		logger.Fatal("logging in", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = client.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		if logoutErr := client.Logout(); logoutErr != nil {
			logger.Warn("logging out", zap.Error(logoutErr))
		}
	default:
		logger.Error("session ended", zap.Error(err))
	}
}

// chatHandle mirrors the server's chat entity: it prints broadcast
// messages and sends one greeting when instantiated.
type chatHandle struct {
	logger   *zap.Logger
	greeting string
}

func (h *chatHandle) Start(ctx *gameclient.Context) {
	gameclient.RegisterReceiver(ctx.Messenger, "chat.message",
		func(ctx *gameclient.Context, text string) {
			h.logger.Info("chat", zap.String("message", text))
		})
	if err := ctx.Messenger.CallServerFn("chat.send", h.greeting, protocol.Safe); err != nil {
		h.logger.Warn("sending greeting", zap.Error(err))
	}
}

func (h *chatHandle) Update(ctx *gameclient.Context) {}

func (h *chatHandle) Remove(ctx *gameclient.Context) {
	h.logger.Info("chat handle removed",
		zap.String("entity_id", ctx.EntityID.String()),
	)
}
