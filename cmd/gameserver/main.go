// Package main provides the game server binary: it binds the dual-channel
// transport, runs the game loop, and hosts a built-in chat entity that
// demonstrates the Messenger RPC layer end to end.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/app"
	"github.com/cory-johannsen/aether/internal/config"
	"github.com/cory-johannsen/aether/internal/engine"
	"github.com/cory-johannsen/aether/internal/gameserver"
	"github.com/cory-johannsen/aether/internal/observability"
	"github.com/cory-johannsen/aether/internal/protocol"
	"github.com/cory-johannsen/aether/internal/transport"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
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

	ts, err := transport.Listen(cfg.Network, logger)
	if err != nil {
		logger.Fatal("starting transport", zap.Error(err))
	}

	srv := gameserver.New(cfg.Runtime, ts, logger)
	registerChat(srv.World(), logger)

	logger.Info("game server initialized",
		zap.String("udp_addr", ts.UDPAddr()),
		zap.String("tcp_addr", ts.TCPAddr()),
		zap.Duration("startup", time.Since(start)),
	)

	transportDone := make(chan struct{})
	sup := app.NewSupervisor(logger)
	sup.Add("transport", &app.ServiceFunc{
		ServeFn: func() error { <-transportDone; return nil },
		ShutdownFn: func() {
			ts.Close()
			close(transportDone)
		},
	})
	sup.Add("game-loop", &app.ServiceFunc{
		ServeFn:    func() error { return ignoreCancel(srv.Run(context.Background())) },
		ShutdownFn: srv.Stop,
	})

	if err := sup.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func ignoreCancel(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}

// registerChat creates the built-in chat entity: every registered client
// is subscribed to it on join, and any "chat.send" call is broadcast back
// to all subscribers as "chat.message".
func registerChat(w *engine.World, logger *zap.Logger) {
	id := w.NewEntity()
	if e, ok := w.Entity(id); ok {
		e.SetName("chat")
	}

	messenger := engine.NewMessenger("chat")
	w.AddModule(id, messenger)
	engine.RegisterReceiver(messenger, "chat.send",
		func(eid uuid.UUID, w *engine.World, sender uuid.UUID, text string) {
			logger.Info("chat message",
				zap.String("sender", sender.String()),
				zap.String("text", text),
			)
			if m, ok := engine.ModuleOf[*engine.Messenger](w, eid); ok {
				m.CallClientFn("chat.message", text, protocol.Safe)
			}
		})

	w.AddModule(id, engine.NewConnectionListener(
		func(eid uuid.UUID, w *engine.World, client uuid.UUID) {
			if m, ok := engine.ModuleOf[*engine.Messenger](w, eid); ok {
				m.AddClient(client)
				m.CallClientFn("chat.message", "a user joined", protocol.Safe)
			}
		},
		func(eid uuid.UUID, w *engine.World, client uuid.UUID) {
			if m, ok := engine.ModuleOf[*engine.Messenger](w, eid); ok {
				m.CallClientFn("chat.message", "a user left", protocol.Safe)
			}
		},
	))
}
