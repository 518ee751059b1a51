// Package background implements the background service manager used to
// run the daemon's services.
package background

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/entropylabs/entropyd/common/logging"
	"github.com/entropylabs/entropyd/common/service"
)

// ServiceManager manages a group of background services: it runs them,
// waits for termination (external signal or any service quitting), and
// tears everything down in order.
type ServiceManager struct {
	// Ctx is canceled when the manager begins stopping its services.
	Ctx context.Context

	cancelFn context.CancelFunc
	logger   *logging.Logger

	services []service.BackgroundService

	termCh chan os.Signal
	quitCh chan service.BackgroundService
}

// NewServiceManager creates a ServiceManager.
func NewServiceManager(logger *logging.Logger) *ServiceManager {
	ctx, cancelFn := context.WithCancel(context.Background())

	m := &ServiceManager{
		Ctx:      ctx,
		cancelFn: cancelFn,
		logger:   logger,
		termCh:   make(chan os.Signal, 1),
		quitCh:   make(chan service.BackgroundService),
	}
	signal.Notify(m.termCh, os.Interrupt, unix.SIGTERM)

	return m
}

// Register registers a background service with the manager.
func (m *ServiceManager) Register(srv service.BackgroundService) {
	m.services = append(m.services, srv)
	go func() {
		<-srv.Quit()
		select {
		case m.quitCh <- srv:
		case <-m.Ctx.Done():
		}
	}()
}

// Wait blocks until the daemon is told to terminate, either by an
// external signal or by one of the registered services quitting, then
// stops all services.
func (m *ServiceManager) Wait() {
	select {
	case sig := <-m.termCh:
		m.logger.Info("user requested termination",
			"signal", sig.String(),
		)
	case srv := <-m.quitCh:
		m.logger.Info("service terminated, shutting down",
			"service", srv.Name(),
		)
	}

	m.Stop()
}

// Stop stops all registered services.
func (m *ServiceManager) Stop() {
	m.cancelFn()
	for _, srv := range m.services {
		srv.Stop()
	}
}

// Cleanup performs the post-termination cleanup of all registered
// services, in registration order.
func (m *ServiceManager) Cleanup() {
	m.logger.Debug("cleaning up all services")
	for _, srv := range m.services {
		srv.Cleanup()
	}
}
