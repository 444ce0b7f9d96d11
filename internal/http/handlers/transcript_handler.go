// Transcript HTTP handlers.
//
//   - POST /chats/history   (replace the transcript)
//   - GET  /chats/history   (load, cache first)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AppIeBanana/ZhaoSheng/internal/domain"
)

// SaveTranscriptRequest replaces the stored conversation for phone.
type SaveTranscriptRequest struct {
	Phone    string           `json:"phone" example:"13800001111"`
	Messages []domain.Message `json:"messages"`
}

// SaveTranscript godoc
// @ID          saveTranscript
// @Summary     Save chat history
// @Description Replaces the whole message sequence stored for phone. Messages without a timestamp receive the save time.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       X-Session-ID  header  string                          false  "Session id; used when phone is omitted"
// @Param       body          body    handlers.SaveTranscriptRequest  true   "Transcript"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.WriteFailure  "Invalid phone or messages"
// @Failure     500  {object}  handlers.WriteFailure  "Durable write failed"
// @Router      /chats/history [post]
func (h *Handlers) SaveTranscript(c *gin.Context) {
	var req SaveTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWrite(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	phone := h.phoneFor(c, req.Phone)
	if err := h.store.SaveTranscript(c.Request.Context(), phone, req.Messages); err != nil {
		writeError(c, err, "chat history could not be saved")
		return
	}
	h.remember(c, phone)
	ok(c, http.StatusOK, SuccessResponse{Success: true})
}

// GetTranscript godoc
// @ID          getTranscript
// @Summary     Load chat history
// @Description Returns the messages stored for phone in conversation order; an empty array when there are none.
// @Tags        Chats
// @Produce     json
// @Param       phone         query   string  false  "Mainland mobile number; defaults to the session's phone"
// @Param       X-Session-ID  header  string  false  "Session id"
// @Success     200  {array}   domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid phone"
// @Router      /chats/history [get]
func (h *Handlers) GetTranscript(c *gin.Context) {
	msgs, err := h.store.GetTranscript(c.Request.Context(), h.phoneFor(c, c.Query("phone")))
	if err != nil {
		readError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	ok(c, http.StatusOK, msgs)
}
