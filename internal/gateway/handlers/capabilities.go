package handlers

import (
	"context"
	"net/http"

	"sleuth/internal/session"
	"sleuth/internal/toolservice"
	"sleuth/pkg/logger"
)

// ToolLister lists the tool catalog.
type ToolLister interface {
	ListTools(ctx context.Context) ([]toolservice.Tool, error)
}

// CapabilitiesResponse is the body of GET /api/capabilities.
type CapabilitiesResponse struct {
	SupportedQueries []string `json:"supported_queries"`
	Features         []string `json:"features"`
	Tools            []string `json:"tools"`
	// CatalogSource is "tool_service" or "fallback".
	CatalogSource string `json:"catalog_source"`
}

var supportedQueries = []string{
	session.QueryIncidentAnalysis,
	session.QueryExploration,
	session.QueryRootCause,
	session.QueryInfrastructure,
	session.QueryGraph,
	session.QueryConversational,
	session.QueryGeneral,
}

var features = []string{
	"query_classification",
	"tool_planning",
	"parallel_tool_execution",
	"followup_expansion",
	"cross_entity_linking",
	"streaming_responses",
	"forward_links",
	"session_history",
}

// CapabilitiesHandler describes what the assistant can answer. When the
// catalog cannot be listed the built-in fallback catalog is reported.
func CapabilitiesHandler(tools ToolLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := "tool_service"
		catalog, err := tools.ListTools(r.Context())
		if err != nil || len(catalog) == 0 {
			if err != nil {
				log := logger.Component("capabilities")
				log.Warn().Err(err).Msg("tool catalog unavailable, reporting fallback catalog")
			}
			catalog = toolservice.FallbackCatalog()
			source = "fallback"
		}

		names := make([]string, len(catalog))
		for i, t := range catalog {
			names[i] = t.Name
		}
		SendJSON(w, http.StatusOK, CapabilitiesResponse{
			SupportedQueries: supportedQueries,
			Features:         features,
			Tools:            names,
			CatalogSource:    source,
		})
	}
}
