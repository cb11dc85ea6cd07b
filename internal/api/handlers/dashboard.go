package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/dvloznov/finance-advisor/internal/api/middleware"
	"github.com/dvloznov/finance-advisor/internal/dashboard"
	"github.com/dvloznov/finance-advisor/internal/tenant"
)

type StatsProvider interface {
	Stats(ctx context.Context, owner tenant.ID, r dashboard.Range, categories []string) (dashboard.Stats, error)
}

type DashboardHandler struct {
	stats StatsProvider
}

func NewDashboardHandler(stats StatsProvider) *DashboardHandler {
	return &DashboardHandler{stats: stats}
}

// Stats handles GET /api/dashboard/stats?range=30d&category=Dining.
// category may repeat or hold a comma-separated list.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	query := r.URL.Query()
	rng, err := dashboard.ParseRange(query.Get("range"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "range must be one of 1d, 7d, 30d, 3m, 6m, 1y, all")
		return
	}

	var categories []string
	for _, raw := range query["category"] {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, c)
			}
		}
	}

	stats, err := h.stats.Stats(r.Context(), owner, rng, categories)
	if err != nil {
		middleware.WriteErr(w, r, err, "Failed to load dashboard")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stats)
}
