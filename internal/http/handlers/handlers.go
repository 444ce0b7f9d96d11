// Package handlers exposes the storage engine over HTTP.
//
// Handlers are transport-thin: they resolve the phone a request is about,
// call the storage service, and translate its sentinel errors into the
// envelopes defined in response.go. HTTP responses never depend on whether
// the cache tier accepted a write.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AppIeBanana/ZhaoSheng/internal/domain"
	"github.com/AppIeBanana/ZhaoSheng/internal/http/middleware"
	"github.com/AppIeBanana/ZhaoSheng/internal/services"
)

// StorageService is the reconciled storage API consumed by the handlers.
type StorageService interface {
	SaveProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error)
	GetProfile(ctx context.Context, phone string) (*domain.Profile, error)
	ProfileExists(ctx context.Context, phone string) (bool, error)
	ClearCache(ctx context.Context, phone string) (bool, error)
	SaveTranscript(ctx context.Context, phone string, msgs []domain.Message) error
	GetTranscript(ctx context.Context, phone string) ([]domain.Message, error)
	Health(ctx context.Context) services.HealthStatus
}

// SessionBinder tracks which phone a browser session is working with.
type SessionBinder interface {
	Bind(ctx context.Context, sessionID, phone string) (string, error)
	Current(ctx context.Context, sessionID string) (string, bool)
	Unbind(ctx context.Context, sessionID string) error
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	store    StorageService
	sessions SessionBinder
}

// New binds handlers to their dependencies. sessions may be nil, in which
// case every request must name its phone explicitly.
func New(store StorageService, sessions SessionBinder) *Handlers {
	return &Handlers{store: store, sessions: sessions}
}

// phoneFor returns explicit when set, else the phone bound to the caller's
// session, else "".
func (h *Handlers) phoneFor(c *gin.Context, explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if h.sessions == nil {
		return ""
	}
	if p, ok := h.sessions.Current(c.Request.Context(), middleware.SessionID(c)); ok {
		return p
	}
	return ""
}

// remember binds the session to phone after a successful write. Failures are
// logged only; the write already succeeded.
func (h *Handlers) remember(c *gin.Context, phone string) {
	sid := middleware.SessionID(c)
	if h.sessions == nil || sid == "" {
		return
	}
	if _, err := h.sessions.Bind(c.Request.Context(), sid, phone); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("session bind failed")
	}
}
