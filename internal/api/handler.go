package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/conrisk/internal/auth"
	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/pipeline"
	"github.com/opensource-finance/conrisk/internal/policy"
	"github.com/opensource-finance/conrisk/internal/repository"
	"github.com/opensource-finance/conrisk/internal/throttle"
)

// User-facing messages.
const (
	msgServerError       = "服务器错误"
	msgInvalidBody       = "请求格式错误"
	msgUnauthorized      = "未授权访问"
	msgTokenExpired      = "登录已过期，请重新登录"
	msgTokenInvalid      = "无效的令牌"
	msgForbidden         = "需要管理员权限"
	msgRegistered        = "注册成功"
	msgEmailTaken        = "该邮箱已被注册"
	msgBadCredentials    = "用户名或密码错误"
	msgTooManyAttempts   = "登录失败次数过多，请稍后再试"
	msgLoggedOut         = "已退出登录"
	msgUserNotFound      = "用户不存在"
	msgOrgNotFound       = "组织不存在"
	msgOrgRenamed        = "组织名称更新成功"
	msgInviteSent        = "邀请发送成功"
	msgMemberRemoved     = "成员删除成功"
	msgCannotRemoveSelf  = "不能删除自己的账户"
	msgNoFile            = "请选择要上传的文件"
	msgOneFile           = "一次只能上传一个文件"
	msgUnsupportedFormat = "不支持的文件格式。仅支持 PDF 和 Word 文档。"
	msgAnalysisFailed    = "合同分析失败，请重试"
	msgContractNotFound  = "合同不存在"
	msgContractExists    = "合同编号已存在"
	msgContractDeleted   = "合同删除成功"
	msgFileNotFound      = "文件不存在，请重新上传"
	msgPolicyNotFound    = "规则不存在"
	msgPolicyDeleted     = "规则删除成功"
	msgRateLimited       = "请求过于频繁，请稍后再试"
)

// Deps are the collaborators of the API. Cache, Bus, Policies and Throttle are optional.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Store    domain.FileStore
	Pipeline *pipeline.Pipeline
	Policies *policy.Engine
	Auth     *auth.Manager
	Throttle *throttle.Service
	Upload   domain.UploadConfig

	// Async hands persisted analyses to the worker.
	Async   bool
	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.Upload.MaxFileSize <= 0 {
		d.Upload.MaxFileSize = 10 * 1024 * 1024
	}
	return &Handler{Deps: d}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.Cache != nil {
		if err := h.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.Bus != nil {
		if err := h.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.Version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// currentUser loads the authenticated user. It writes the error response
// and returns nil when the user is gone.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) *domain.User {
	user, err := h.Repo.GetUser(r.Context(), GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgUserNotFound)
			return nil
		}
		serverError(w, r, "failed to load user", err)
		return nil
	}
	return user
}

// requireAdmin loads the caller and checks the admin role.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) *domain.User {
	user := h.currentUser(w, r)
	if user == nil {
		return nil
	}
	if user.Role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, msgForbidden)
		return nil
	}
	return user
}

// invalidateDashboard drops the cached dashboard counters of a tenant.
func (h *Handler) invalidateDashboard(ctx context.Context, tenantID string) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Delete(ctx, tenantID, domain.DashboardCacheKey); err != nil {
		slog.Warn("failed to invalidate dashboard cache", "tenant_id", tenantID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes {"error": msg, "message": msg}. Older clients read message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error":   msg,
		"message": msg,
	})
}

func serverError(w http.ResponseWriter, r *http.Request, logMsg string, err error) {
	slog.Error(logMsg,
		"path", r.URL.Path,
		"tenant_id", GetTenantID(r.Context()),
		"trace_id", GetTraceID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, msgServerError)
}

// decodeJSON reads a request body of at most 1MB into v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}
