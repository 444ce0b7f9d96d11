// Session binding HTTP handlers.
//
//   - PUT    /session/phone   (bind the caller's session to a phone)
//   - GET    /session/phone   (read the binding)
//   - DELETE /session/phone   (forget it)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AppIeBanana/ZhaoSheng/internal/http/middleware"
	"github.com/AppIeBanana/ZhaoSheng/internal/session"
)

// BindPhoneRequest names the phone to bind.
type BindPhoneRequest struct {
	Phone string `json:"phone" binding:"required" example:"13800001111"`
}

// SessionPhoneResponse describes a binding.
type SessionPhoneResponse struct {
	SessionID string `json:"sessionId" example:"9f1c2d3e-aaaa-4bbb-8ccc-123456789abc"`
	Phone     string `json:"phone" example:"13800001111"`
}

// BindPhone godoc
// @ID          bindSessionPhone
// @Summary     Bind the session to a phone
// @Tags        Session
// @Accept      json
// @Produce     json
// @Param       X-Session-ID  header  string                     false  "Session id; issued when absent"
// @Param       body          body    handlers.BindPhoneRequest  true   "Phone"
// @Success     200  {object}  handlers.SessionPhoneResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid phone"
// @Failure     503  {object}  handlers.ErrorResponse  "Cache unavailable"
// @Router      /session/phone [put]
func (h *Handlers) BindPhone(c *gin.Context) {
	var req BindPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if h.sessions == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "sessions disabled")
		return
	}
	sid := middleware.SessionID(c)
	phone, err := h.sessions.Bind(c.Request.Context(), sid, req.Phone)
	switch {
	case errors.Is(err, session.ErrInvalidPhone):
		fail(c, http.StatusBadRequest, ErrCodeInvalidIdentity, "phone must be a mainland mobile number")
		return
	case errors.Is(err, session.ErrNoSession):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing session")
		return
	case err != nil:
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "session store unavailable")
		return
	}
	ok(c, http.StatusOK, SessionPhoneResponse{SessionID: sid, Phone: phone})
}

// CurrentPhone godoc
// @ID          getSessionPhone
// @Summary     Read the session's phone
// @Tags        Session
// @Produce     json
// @Param       X-Session-ID  header  string  false  "Session id"
// @Success     200  {object}  handlers.SessionPhoneResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No phone bound"
// @Router      /session/phone [get]
func (h *Handlers) CurrentPhone(c *gin.Context) {
	sid := middleware.SessionID(c)
	phone := ""
	if h.sessions != nil {
		phone, _ = h.sessions.Current(c.Request.Context(), sid)
	}
	if phone == "" {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no phone bound to session")
		return
	}
	ok(c, http.StatusOK, SessionPhoneResponse{SessionID: sid, Phone: phone})
}

// UnbindPhone godoc
// @ID          unbindSessionPhone
// @Summary     Forget the session's phone
// @Tags        Session
// @Param       X-Session-ID  header  string  false  "Session id"
// @Success     204  "No Content"
// @Failure     503  {object}  handlers.ErrorResponse  "Cache unavailable"
// @Router      /session/phone [delete]
func (h *Handlers) UnbindPhone(c *gin.Context) {
	if h.sessions != nil {
		if err := h.sessions.Unbind(c.Request.Context(), middleware.SessionID(c)); err != nil && !errors.Is(err, session.ErrNoSession) {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "session store unavailable")
			return
		}
	}
	noContent(c)
}
