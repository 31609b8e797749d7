package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/conrisk/internal/cache"
	"github.com/opensource-finance/conrisk/internal/domain"
)

// DashboardTTL bounds how stale the dashboard counters may be.
const DashboardTTL = 60 * time.Second

// Dashboard returns the organization's contract counters.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.Cache != nil {
		var cached domain.DashboardStats
		hit, err := cache.GetJSON(ctx, h.Cache, tenantID, domain.DashboardCacheKey, &cached)
		if err != nil {
			slog.Warn("failed to read dashboard cache", "tenant_id", tenantID, "error", err)
		}
		if hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	stats, err := h.Repo.ContractStats(ctx, tenantID, time.Now())
	if err != nil {
		serverError(w, r, "failed to compute dashboard", err)
		return
	}

	if h.Cache != nil {
		if err := cache.SetJSON(ctx, h.Cache, tenantID, domain.DashboardCacheKey, stats, DashboardTTL); err != nil {
			slog.Warn("failed to cache dashboard", "tenant_id", tenantID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// UpcomingKeyDates handles GET /api/key-dates/upcoming?days=30.
func (h *Handler) UpcomingKeyDates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 365 {
			writeError(w, http.StatusBadRequest, "days 参数应在 0 到 365 之间")
			return
		}
		days = n
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	dates, err := h.Repo.ListUpcomingKeyDates(ctx, GetTenantID(ctx), today, today.AddDate(0, 0, days))
	if err != nil {
		serverError(w, r, "failed to list upcoming key dates", err)
		return
	}

	out := make([]domain.KeyDateReminderEvent, 0, len(dates))
	for _, d := range dates {
		left := 0
		if t, err := time.Parse(dateLayout, d.Date); err == nil {
			left = int(t.Sub(today).Hours() / 24)
		}
		out = append(out, domain.KeyDateReminderEvent{UpcomingKeyDate: *d, DaysLeft: left})
	}

	writeJSON(w, http.StatusOK, out)
}
