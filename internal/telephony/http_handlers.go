package telephony

import (
	"context"
	"net/http"

	"dialer-platform/internal/calls"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallSignals is the tracker surface the webhook handlers feed.
type CallSignals interface {
	OnCallEnded(ctx context.Context, callID string, durationSeconds int, disposition calls.Status, digitsPressed string)
	OnKeypress(ctx context.Context, callID, digit string)
}

// WebhookHandler converts transport callbacks into tracker signals.
// No business logic here; unknown call ids are the tracker's problem
// (and are no-ops there).
//
// These endpoints should be protected by gateway signature validation or
// network policy in production.
type WebhookHandler struct {
	Signals CallSignals
}

type callEndedRequest struct {
	CallID          string `json:"call_id" binding:"required"`
	DurationSeconds int    `json:"duration_seconds"`
	Disposition     string `json:"disposition"`
	DigitsPressed   string `json:"digits_pressed"`
}

// HandleCallEnded receives the transport's call-end signal.
func (h WebhookHandler) HandleCallEnded(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Signals == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tracker not configured"})
		return
	}
	var req callEndedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("call-end webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	h.Signals.OnCallEnded(c.Request.Context(), req.CallID, req.DurationSeconds, mapDisposition(req.Disposition), req.DigitsPressed)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type keypressRequest struct {
	CallID string `json:"call_id" binding:"required"`
	Digit  string `json:"digit" binding:"required"`
}

// HandleKeypress receives one DTMF digit for a live call.
func (h WebhookHandler) HandleKeypress(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Signals == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tracker not configured"})
		return
	}
	var req keypressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("keypress webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Digit) != 1 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "digit must be a single character"})
		return
	}

	h.Signals.OnKeypress(c.Request.Context(), req.CallID, req.Digit)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func mapDisposition(raw string) calls.Status {
	switch calls.Status(raw) {
	case calls.StatusCompleted, calls.StatusBusy, calls.StatusNoAnswer, calls.StatusFailed:
		return calls.Status(raw)
	default:
		// Transports disagree on vocabulary; anything unrecognized counts
		// as completed so the contact is not re-dialed.
		return calls.StatusCompleted
	}
}
