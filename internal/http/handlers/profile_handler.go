// Profile HTTP handlers.
//
//   - POST   /users/profile   (save; PUT is an alias)
//   - GET    /users/profile   (load, cache first)
//   - GET    /users/exists    (existence probe)
//   - DELETE /users/cache     (drop the cached profile)
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AppIeBanana/ZhaoSheng/internal/domain"
	"github.com/AppIeBanana/ZhaoSheng/internal/repo"
	"github.com/AppIeBanana/ZhaoSheng/internal/services"
)

// SaveProfileRequest documents the wrapped form of the save payload. A flat
// profile object is accepted as well.
type SaveProfileRequest struct {
	UserData domain.Profile `json:"userData"`
}

// SaveProfileResponse reports a durable write.
type SaveProfileResponse struct {
	Success bool   `json:"success" example:"true"`
	ID      string `json:"id,omitempty" example:"0b6a3f5e-8f0e-4c55-9d51-4f3c1c2b7a10"`
}

// ExistsResponse answers an existence probe.
type ExistsResponse struct {
	Phone  string `json:"phone" example:"13800001111"`
	Exists bool   `json:"exists"`
}

// SuccessResponse is the bare acknowledgement used by cache and transcript
// endpoints.
type SuccessResponse struct {
	Success bool `json:"success" example:"true"`
}

// decodeProfile reads either {"userData":{...}} or a flat profile object.
func decodeProfile(body []byte) (*domain.Profile, error) {
	var wrapped struct {
		UserData json.RawMessage `json:"userData"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	raw := body
	if len(wrapped.UserData) > 0 && !bytes.Equal(wrapped.UserData, []byte("null")) {
		raw = wrapped.UserData
	}
	var p domain.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProfile godoc
// @ID          saveProfile
// @Summary     Save a profile
// @Description Upserts the profile keyed by phone. Success means the durable store holds the write; the cache outcome never changes the response. Unknown fields are kept and returned verbatim.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       X-Session-ID  header  string                       false  "Session id; used when phone is omitted"
// @Param       body          body    handlers.SaveProfileRequest  true   "Profile, wrapped in userData or flat"
// @Success     200  {object}  handlers.SaveProfileResponse
// @Failure     400  {object}  handlers.WriteFailure  "Invalid phone or rejected record"
// @Failure     500  {object}  handlers.WriteFailure  "Durable write failed"
// @Router      /users/profile [post]
// @Router      /users/profile [put]
func (h *Handlers) SaveProfile(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		failWrite(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	p, err := decodeProfile(body)
	if err != nil {
		failWrite(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p.Phone = h.phoneFor(c, p.Phone)

	rec, err := h.store.SaveProfile(c.Request.Context(), p)
	if err != nil {
		writeError(c, err, "profile could not be saved")
		return
	}
	h.remember(c, rec.Phone)
	ok(c, http.StatusOK, SaveProfileResponse{Success: true, ID: rec.ID})
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Load a profile
// @Description Returns the profile for phone from the cache, falling back to the durable store. Responds with null when nothing is stored or neither tier is reachable.
// @Tags        Users
// @Produce     json
// @Param       phone         query   string  false  "Mainland mobile number; defaults to the session's phone"  example(13800001111)
// @Param       X-Session-ID  header  string  false  "Session id"
// @Success     200  {object}  domain.Profile
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid phone"
// @Router      /users/profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	p, err := h.store.GetProfile(c.Request.Context(), h.phoneFor(c, c.Query("phone")))
	if err != nil {
		readError(c, err)
		return
	}
	if p == nil {
		ok(c, http.StatusOK, nil)
		return
	}
	ok(c, http.StatusOK, p)
}

// ProfileExists godoc
// @ID          profileExists
// @Summary     Check whether a profile exists
// @Tags        Users
// @Produce     json
// @Param       phone  query  string  false  "Mainland mobile number; defaults to the session's phone"
// @Success     200  {object}  handlers.ExistsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid phone"
// @Failure     503  {object}  handlers.ErrorResponse  "Durable store unreachable"
// @Router      /users/exists [get]
func (h *Handlers) ProfileExists(c *gin.Context) {
	phone := h.phoneFor(c, c.Query("phone"))
	exists, err := h.store.ProfileExists(c.Request.Context(), phone)
	if err != nil {
		readError(c, err)
		return
	}
	ok(c, http.StatusOK, ExistsResponse{Phone: phone, Exists: exists})
}

// ClearCache godoc
// @ID          clearCache
// @Summary     Drop the cached profile
// @Description Deletes the cached profile entry for phone. Durable data is untouched. success is false when the cache could not be reached.
// @Tags        Users
// @Produce     json
// @Param       phone  query  string  false  "Mainland mobile number; defaults to the session's phone"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid phone"
// @Router      /users/cache [delete]
func (h *Handlers) ClearCache(c *gin.Context) {
	done, err := h.store.ClearCache(c.Request.Context(), h.phoneFor(c, c.Query("phone")))
	if err != nil {
		readError(c, err)
		return
	}
	ok(c, http.StatusOK, SuccessResponse{Success: done})
}

// writeError maps a failed write onto a WriteFailure envelope.
func writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, services.ErrInvalidIdentity):
		failWrite(c, http.StatusBadRequest, ErrCodeInvalidIdentity, err.Error())
	case errors.Is(err, repo.ErrValidationFailed):
		failWrite(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	default:
		failWrite(c, http.StatusInternalServerError, ErrCodeWriteFailed, msg)
	}
}

// readError maps a failed read or probe. Reads only fail on bad identity or,
// for probes, an unreachable durable store.
func readError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrInvalidIdentity) {
		fail(c, http.StatusBadRequest, ErrCodeInvalidIdentity, err.Error())
		return
	}
	fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "storage unavailable")
}
