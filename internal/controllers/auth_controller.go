package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fieldgrid/servicedesk/internal/core"
	"github.com/fieldgrid/servicedesk/internal/domain"
)

// StaffRepo is the staff lookup slice the auth middleware needs.
type StaffRepo interface {
	FindByKeyID(ctx context.Context, keyID string) (*domain.StaffUser, error)
	TouchLastSeen(ctx context.Context, id int64, ts time.Time) error
}

type AuthController struct {
	StaffRepo StaffRepo
}

// RequireAuth authenticates requests via the X-API-Key header. Keys are
// issued as "<keyId>.<secret>"; only the bcrypt hash of the secret is stored.
func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		keyID, secret, found := strings.Cut(apiKey, ".")
		if !found || keyID == "" || secret == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		u, err := ac.StaffRepo.FindByKeyID(r.Context(), keyID)
		if err != nil || u == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(u.SecretHash), []byte(secret)) != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		_ = ac.StaffRepo.TouchLastSeen(r.Context(), u.ID, time.Now().UTC())

		ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
		ctx = context.WithValue(ctx, core.CtxKeyStaffID, u.ID)
		ctx = context.WithValue(ctx, core.CtxKeyStaffRole, u.Role)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole narrows an authenticated handler to a single staff role.
func (ac *AuthController) RequireRole(role domain.Role, next http.HandlerFunc) http.HandlerFunc {
	return ac.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if staffRole(r.Context()) != role {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func staffRole(ctx context.Context) domain.Role {
	if v := ctx.Value(core.CtxKeyStaffRole); v != nil {
		if r, ok := v.(domain.Role); ok {
			return r
		}
	}
	return ""
}

func staffID(ctx context.Context) int64 {
	if v := ctx.Value(core.CtxKeyStaffID); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

func username(ctx context.Context) string {
	if v := ctx.Value(core.CtxKeyUsername); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
