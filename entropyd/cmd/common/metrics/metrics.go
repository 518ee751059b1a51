// Package metrics implements the Prometheus metrics service.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/entropylabs/entropyd/common/service"
)

const cfgMetricsAddr = "metrics.address"

// Flags has the flags used by the metrics service.
var Flags = flag.NewFlagSet("", flag.ContinueOnError)

type metricsService struct {
	service.BaseBackgroundService

	address string

	listener net.Listener
	server   *http.Server

	ctx   context.Context
	errCh chan error
}

func (s *metricsService) Start() error {
	if s.address == "" {
		return nil
	}

	s.Logger.Info("metrics endpoint is enabled",
		"address", s.address,
	)

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.listener = listener
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(s.listener); err != nil {
			s.BaseBackgroundService.Stop()
			s.errCh <- err
		}
	}()

	return nil
}

func (s *metricsService) Stop() {
	if s.server != nil {
		select {
		case err := <-s.errCh:
			if err != nil {
				s.Logger.Error("metrics server terminated uncleanly",
					"err", err,
				)
			}
		default:
			_ = s.server.Shutdown(s.ctx)
		}
		s.server = nil
	}
	s.BaseBackgroundService.Stop()
}

func (s *metricsService) Cleanup() {
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// New constructs a new metrics service.  Serving is disabled unless an
// address was configured.
func New(ctx context.Context) (service.BackgroundService, error) {
	return &metricsService{
		BaseBackgroundService: *service.NewBaseBackgroundService("metrics"),
		address:               viper.GetString(cfgMetricsAddr),
		ctx:                   ctx,
		errCh:                 make(chan error, 1),
	}, nil
}

func init() {
	Flags.String(cfgMetricsAddr, "", "metrics server address (empty to disable)")

	_ = viper.BindPFlags(Flags)
}
