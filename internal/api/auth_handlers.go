package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/conrisk/internal/auth"
	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/repository"
	"github.com/opensource-finance/conrisk/internal/throttle"
)

// RegisterRequest is the request body for POST /api/auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Company  string `json:"company"`
}

// LoginRequest is the request body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserView is the public shape of a user with its organization.
type UserView struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Organization OrgView `json:"organization"`
	Role         string  `json:"role"`
}

// OrgView is the organization reference embedded in UserView.
type OrgView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LoginResponse is the response for POST /api/auth/login.
type LoginResponse struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register creates an organization with the caller as its first admin.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Company = strings.TrimSpace(req.Company)
	req.Email = normalizeEmail(req.Email)

	switch {
	case req.Name == "":
		writeError(w, http.StatusBadRequest, "姓名不能为空")
		return
	case !validEmail(req.Email):
		writeError(w, http.StatusBadRequest, "邮箱格式不正确")
		return
	case len(req.Password) < 6:
		writeError(w, http.StatusBadRequest, "密码长度至少为 6 位")
		return
	case req.Company == "":
		writeError(w, http.StatusBadRequest, "公司名称不能为空")
		return
	}

	if _, err := h.Repo.GetUserByEmail(ctx, req.Email); err == nil {
		writeError(w, http.StatusBadRequest, msgEmailTaken)
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		serverError(w, r, "failed to look up email", err)
		return
	}

	hash, err := h.Auth.HashPassword(req.Password)
	if err != nil {
		serverError(w, r, "failed to hash password", err)
		return
	}

	org := &domain.Organization{Name: req.Company}
	if err := h.Repo.CreateOrganization(ctx, org); err != nil {
		serverError(w, r, "failed to create organization", err)
		return
	}

	user := &domain.User{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Email:          req.Email,
		PasswordHash:   hash,
		OrganizationID: org.ID,
		Role:           domain.RoleAdmin,
	}
	if err := h.Repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, http.StatusBadRequest, msgEmailTaken)
			return
		}
		serverError(w, r, "failed to create user", err)
		return
	}

	slog.Info("organization registered",
		"tenant_id", org.ID,
		"user_id", user.ID,
	)

	writeJSON(w, http.StatusCreated, map[string]string{"message": msgRegistered})
}

// Login checks credentials, issues a token and sets the session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, msgBadCredentials)
		return
	}

	if err := h.Throttle.Check(ctx, req.Email); errors.Is(err, throttle.ErrLocked) {
		w.Header().Set("Retry-After", retryAfter(h.Throttle.Window()))
		writeError(w, http.StatusTooManyRequests, msgTooManyAttempts)
		return
	}

	user, err := h.Repo.GetUserByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		serverError(w, r, "failed to look up user", err)
		return
	}
	if user == nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		if _, err := h.Throttle.Failure(ctx, req.Email); err != nil {
			slog.Warn("failed to record login failure", "error", err)
		}
		writeError(w, http.StatusBadRequest, msgBadCredentials)
		return
	}

	if err := h.Throttle.Success(ctx, req.Email); err != nil {
		slog.Warn("failed to reset login failures", "error", err)
	}

	view, err := h.userView(r, user)
	if err != nil {
		serverError(w, r, "failed to load organization", err)
		return
	}

	token, err := h.Auth.Issue(user)
	if err != nil {
		serverError(w, r, "failed to issue token", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.Auth.TTL().Seconds()),
		HttpOnly: true,
		Secure:   secureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: *view})
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": msgLoggedOut})
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	view, err := h.userView(r, user)
	if err != nil {
		serverError(w, r, "failed to load organization", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) userView(r *http.Request, user *domain.User) (*UserView, error) {
	org, err := h.Repo.GetOrganization(r.Context(), user.OrganizationID)
	if err != nil {
		return nil, err
	}
	return &UserView{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		Organization: OrgView{ID: org.ID, Name: org.Name},
		Role:         user.Role,
	}, nil
}

func secureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func retryAfter(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
