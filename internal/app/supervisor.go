// Package app coordinates the long-running components of a game process.
// A server binary registers its transport and game loop, a client binary
// its connection and client loop; the supervisor serves them together and
// tears them down in reverse order on signal, failure, or cancellation.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// stopGrace bounds how long shutdown waits for blocked Serve calls
// before giving up with a warning.
const stopGrace = 5 * time.Second

// Service is one long-running component of the process.
type Service interface {
	// Serve blocks until the service stops or fails.
	Serve() error
	// Shutdown stops the service. Serve returns afterwards.
	Shutdown()
}

// ServiceFunc adapts a serve/shutdown function pair into a Service.
type ServiceFunc struct {
	ServeFn    func() error
	ShutdownFn func()
}

func (s *ServiceFunc) Serve() error { return s.ServeFn() }
func (s *ServiceFunc) Shutdown()    { s.ShutdownFn() }

type namedService struct {
	name string
	svc  Service
}

// Supervisor serves registered services until one fails, the context is
// cancelled, or the process receives SIGINT or SIGTERM, then shuts them
// down last-registered first.
type Supervisor struct {
	logger   *zap.Logger
	services []namedService
}

// NewSupervisor creates an empty supervisor.
//
// Precondition: logger must be non-nil.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Add registers a named service. Registration order is serve order;
// shutdown runs in reverse.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (s *Supervisor) Add(name string, svc Service) {
	s.services = append(s.services, namedService{name: name, svc: svc})
}

// Run serves every registered service and blocks. The first service
// failure is returned after all services have been shut down; a signal
// or context cancellation shuts down cleanly and returns nil.
//
// Postcondition: every Shutdown has been called when this returns.
func (s *Supervisor) Run(ctx context.Context) error {
	start := time.Now()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	failures := make(chan error, len(s.services))
	for _, ns := range s.services {
		wg.Add(1)
		go func(ns namedService) {
			defer wg.Done()
			s.logger.Info("service running", zap.String("service", ns.name))
			if err := ns.svc.Serve(); err != nil {
				failures <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}(ns)
	}
	s.logger.Info("process up",
		zap.Int("services", len(s.services)),
		zap.Duration("startup", time.Since(start)),
	)

	var failure error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", zap.String("cause", context.Cause(ctx).Error()))
	case failure = <-failures:
		s.logger.Error("service failed, shutting down", zap.Error(failure))
	}

	for i := len(s.services) - 1; i >= 0; i-- {
		ns := s.services[i]
		stopStart := time.Now()
		ns.svc.Shutdown()
		s.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(stopStart)),
		)
	}

	served := make(chan struct{})
	go func() {
		wg.Wait()
		close(served)
	}()
	select {
	case <-served:
	case <-time.After(stopGrace):
		s.logger.Warn("serve goroutines still blocked after shutdown",
			zap.Duration("grace", stopGrace),
		)
	}

	s.logger.Info("process down", zap.Duration("uptime", time.Since(start)))
	return failure
}
