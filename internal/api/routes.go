package api

import (
	"net/http"

	"github.com/JaimeStill/docflow/internal/config"
	"github.com/JaimeStill/docflow/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
) int {
	maxBody := cfg.API.MaxBodySizeBytes()

	return routes.Register(
		mux,
		domain.Circuits.Handler(maxBody).Routes(),
		domain.Documents.Handler(maxBody).Routes(),
		domain.Approvals.Handler().Routes(),
		domain.History.Handler().Routes(),
		domain.Workflow.Handler(maxBody).Routes(),
	)
}
