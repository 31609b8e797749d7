package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/repository"
)

// CreatePolicyRequest is the request body for POST /api/policies.
type CreatePolicyRequest struct {
	ID          string           `json:"id,omitempty"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Expression  string           `json:"expression"`
	Severity    domain.RiskLevel `json:"severity"`
	Enabled     *bool            `json:"enabled,omitempty"`
}

// ListPolicies returns the enabled alert policies of the organization.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Repo.ListPolicies(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		serverError(w, r, "failed to list policies", err)
		return
	}
	if policies == nil {
		policies = []*domain.AlertPolicy{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"count":    len(policies),
	})
}

// CreatePolicy validates and stores an alert policy. Posting an existing id
// replaces that policy.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.requireAdmin(w, r) == nil {
		return
	}

	var req CreatePolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	p := &domain.AlertPolicy{
		ID:          strings.TrimSpace(req.ID),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Expression:  strings.TrimSpace(req.Expression),
		Severity:    req.Severity,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Severity == "" {
		p.Severity = domain.RiskMedium
	}

	switch {
	case p.Name == "":
		writeError(w, http.StatusBadRequest, "规则名称不能为空")
		return
	case p.Expression == "":
		writeError(w, http.StatusBadRequest, "规则表达式不能为空")
		return
	case p.Severity.Rank() == 0:
		writeError(w, http.StatusBadRequest, "无效的风险等级")
		return
	}

	if h.Policies != nil {
		if err := h.Policies.Validate(p); err != nil {
			writeError(w, http.StatusBadRequest, "规则表达式无效: "+err.Error())
			return
		}
	}

	if err := h.Repo.SavePolicy(ctx, tenantID, p); err != nil {
		serverError(w, r, "failed to save policy", err)
		return
	}

	if h.Policies != nil {
		if err := h.Policies.Load(tenantID, p); err != nil {
			slog.Warn("failed to load saved policy", "policy_id", p.ID, "error", err)
		}
	}

	slog.Info("policy saved",
		"tenant_id", tenantID,
		"policy_id", p.ID,
		"enabled", p.Enabled,
	)

	writeJSON(w, http.StatusCreated, p)
}

// DeletePolicy disables an alert policy.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyID := chi.URLParam(r, "id")

	if h.requireAdmin(w, r) == nil {
		return
	}

	if err := h.Repo.DeletePolicy(ctx, tenantID, policyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgPolicyNotFound)
			return
		}
		serverError(w, r, "failed to delete policy", err)
		return
	}
	if h.Policies != nil {
		h.Policies.Remove(tenantID, policyID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": msgPolicyDeleted})
}
