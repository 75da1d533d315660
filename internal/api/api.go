// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/JaimeStill/docflow/internal/config"
	"github.com/JaimeStill/docflow/internal/infrastructure"
	"github.com/JaimeStill/docflow/pkg/metrics"
	"github.com/JaimeStill/docflow/pkg/middleware"
	"github.com/JaimeStill/docflow/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, error) {
	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(runtime)

	mux := http.NewServeMux()
	n := registerRoutes(mux, domain, cfg)
	runtime.Logger.Debug("api routes registered", "count", n, "base_path", cfg.API.BasePath)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(
		middleware.CORS(&cfg.API.CORS),
		middleware.Logger(runtime.Logger),
		middleware.Metrics(runtime.Metrics, metrics.Namespace),
		runtime.Auth.Middleware(),
	)

	return m, nil
}
