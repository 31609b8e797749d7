package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/conrisk/internal/auth"
	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/repository"
)

// MemberView is a member as listed on the organization page.
type MemberView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// OrganizationResponse is the response for GET /api/organizations.
type OrganizationResponse struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"createdAt"`
	Members   []MemberView `json:"members"`
}

// InviteRequest is the request body for POST /api/organizations/members.
type InviteRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// GetOrganization returns the caller's organization with its members.
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	org, err := h.Repo.GetOrganization(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgOrgNotFound)
			return
		}
		serverError(w, r, "failed to get organization", err)
		return
	}

	users, err := h.Repo.ListMembers(ctx, tenantID)
	if err != nil {
		serverError(w, r, "failed to list members", err)
		return
	}

	members := make([]MemberView, 0, len(users))
	for _, u := range users {
		members = append(members, MemberView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role})
	}

	writeJSON(w, http.StatusOK, OrganizationResponse{
		ID:        org.ID,
		Name:      org.Name,
		CreatedAt: org.CreatedAt,
		Members:   members,
	})
}

// RenameOrganization handles PATCH /api/organizations.
func (h *Handler) RenameOrganization(w http.ResponseWriter, r *http.Request) {
	if h.requireAdmin(w, r) == nil {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "组织名称不能为空")
		return
	}

	if err := h.Repo.RenameOrganization(r.Context(), GetTenantID(r.Context()), req.Name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgOrgNotFound)
			return
		}
		serverError(w, r, "failed to rename organization", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": msgOrgRenamed})
}

// InviteMember creates a member with a temporary password. The password is
// returned once in the response.
func (h *Handler) InviteMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.requireAdmin(w, r) == nil {
		return
	}

	var req InviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if !validEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "邮箱格式不正确")
		return
	}
	if !domain.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "无效的角色")
		return
	}

	if _, err := h.Repo.GetUserByEmail(ctx, req.Email); err == nil {
		writeError(w, http.StatusBadRequest, msgEmailTaken)
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		serverError(w, r, "failed to look up email", err)
		return
	}

	tempPassword := auth.TempPassword()
	hash, err := h.Auth.HashPassword(tempPassword)
	if err != nil {
		serverError(w, r, "failed to hash password", err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name, _, _ = strings.Cut(req.Email, "@")
	}

	user := &domain.User{
		Name:           name,
		Email:          req.Email,
		PasswordHash:   hash,
		OrganizationID: tenantID,
		Role:           req.Role,
	}
	if err := h.Repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, http.StatusBadRequest, msgEmailTaken)
			return
		}
		serverError(w, r, "failed to create member", err)
		return
	}

	slog.Info("member invited",
		"tenant_id", tenantID,
		"user_id", user.ID,
		"role", user.Role,
	)

	writeJSON(w, http.StatusCreated, map[string]string{
		"message":      msgInviteSent,
		"id":           user.ID,
		"tempPassword": tempPassword,
	})
}

// RemoveMember handles DELETE /api/organizations/members/{id}.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	memberID := chi.URLParam(r, "id")

	admin := h.requireAdmin(w, r)
	if admin == nil {
		return
	}
	if memberID == admin.ID {
		writeError(w, http.StatusBadRequest, msgCannotRemoveSelf)
		return
	}

	if err := h.Repo.DeleteUser(ctx, tenantID, memberID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		serverError(w, r, "failed to remove member", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": msgMemberRemoved})
}
