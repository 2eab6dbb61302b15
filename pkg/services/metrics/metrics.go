package metrics

import (
	"context"
	"net/http"

	"github.com/emberchain/ember/pkg/config"
	"go.uber.org/zap"
)

// Service serves metrics over an HTTP endpoint.
type Service struct {
	*http.Server
	config      config.BasicService
	log         *zap.Logger
	serviceType string
}

// NewService configures a monitoring service of the given type.
func NewService(name string, srv *http.Server, cfg config.BasicService, log *zap.Logger) *Service {
	return &Service{
		Server:      srv,
		config:      cfg,
		serviceType: name,
		log:         log.With(zap.String("service", name)),
	}
}

// Start runs the http service with the exposed endpoint on the configured port.
func (ms *Service) Start() {
	if !ms.config.Enabled {
		ms.log.Info("service hasn't started since it's disabled")
		return
	}
	ms.log.Info("service is running", zap.String("endpoint", ms.Addr))
	err := ms.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		ms.log.Warn("service couldn't start on configured port", zap.Error(err))
	}
}

// ShutDown stops the service.
func (ms *Service) ShutDown() {
	if !ms.config.Enabled {
		return
	}
	ms.log.Info("shutting down service", zap.String("endpoint", ms.Addr))
	if err := ms.Shutdown(context.Background()); err != nil {
		ms.log.Error("can't shut service down", zap.Error(err))
	}
}
