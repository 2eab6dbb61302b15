package metrics

import (
	"net/http"

	"github.com/emberchain/ember/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewPrometheusService creates a new service for gathering prometheus metrics.
func NewPrometheusService(cfg config.BasicService, log *zap.Logger) *Service {
	if log == nil {
		return nil
	}
	return NewService("Prometheus", &http.Server{
		Addr:    cfg.FormatAddress(),
		Handler: promhttp.Handler(),
	}, cfg, log)
}
