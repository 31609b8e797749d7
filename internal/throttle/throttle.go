// Package throttle limits repeated failed logins per account.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// ErrLocked is returned while an account is locked out.
var ErrLocked = errors.New("too many failed login attempts")

// counterTenant namespaces throttle keys in the shared cache.
const counterTenant = "_auth"

// Service counts failed logins in a sliding window and locks the account
// once the limit is reached. State lives in the cache so every API node
// sees the same counters on the pro tier.
type Service struct {
	cache  domain.Cache
	limit  int64
	window time.Duration
}

// NewService creates a login throttle. A non-positive limit disables it.
func NewService(cache domain.Cache, cfg domain.AuthConfig) *Service {
	window := cfg.LockoutWindow
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Service{
		cache:  cache,
		limit:  int64(cfg.MaxLoginFails),
		window: window,
	}
}

// Check returns ErrLocked if the account may not attempt a login right now.
func (s *Service) Check(ctx context.Context, email string) error {
	if s.disabled() {
		return nil
	}

	locked, err := s.cache.Get(ctx, counterTenant, lockKey(email))
	if err != nil {
		// Fail open: a cache outage must not block every login.
		slog.Warn("login throttle unavailable", "error", err)
		return nil
	}
	if locked != nil {
		return ErrLocked
	}
	return nil
}

// Failure records a failed attempt and locks the account when the limit is hit.
// It returns the attempts counted in the current window.
func (s *Service) Failure(ctx context.Context, email string) (int64, error) {
	if s.disabled() {
		return 0, nil
	}

	count, err := s.cache.IncrementCounter(ctx, counterTenant, failKey(email), s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to count login failure: %w", err)
	}

	if count >= s.limit {
		if err := s.cache.Set(ctx, counterTenant, lockKey(email), []byte("1"), s.window); err != nil {
			return count, fmt.Errorf("failed to lock account: %w", err)
		}
		slog.Warn("account locked after failed logins", "email", email, "attempts", count)
	}
	return count, nil
}

// Success clears the failure history of an account.
func (s *Service) Success(ctx context.Context, email string) error {
	if s.disabled() {
		return nil
	}
	if err := s.cache.ResetCounter(ctx, counterTenant, failKey(email)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, counterTenant, lockKey(email))
}

// Window returns how long a lockout lasts.
func (s *Service) Window() time.Duration {
	return s.window
}

func (s *Service) disabled() bool {
	return s == nil || s.cache == nil || s.limit <= 0
}

func failKey(email string) string {
	return "login-fail:" + strings.ToLower(strings.TrimSpace(email))
}

func lockKey(email string) string {
	return "login-lock:" + strings.ToLower(strings.TrimSpace(email))
}
