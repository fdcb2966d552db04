package httpapi

import (
	"errors"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/events"
	"dialer-platform/internal/transfer"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Supervisor *dialer.Supervisor
	Cache      *campaigns.Cache
	Tracker    *calls.Tracker
	Pool       *transfer.Pool
	Stats      *dialer.Stats
	Engine     *dialer.Engine
	Bus        *events.Bus
	Hub        *events.Hub
	Audit      *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This endpoint does not validate credentials; it exists so the
// admin surface can be exercised before an identity provider is wired in.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if req.Role != auth.RoleOperator && req.Role != auth.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Status ---

type statusResponse struct {
	SystemState      string                               `json:"system_state"`
	RetryAttempts    int                                  `json:"retry_attempts"`
	LastDispatchAt   time.Time                            `json:"last_dispatch_at"`
	Campaigns        []campaigns.Summary                  `json:"campaigns"`
	ActiveCalls      []calls.ActiveCall                   `json:"active_calls"`
	Dialing          dialer.Snapshot                      `json:"dialing"`
	TransferPool     map[string][]transfer.ResourceStatus `json:"transfer_pool"`
	EventSubscribers int                                  `json:"event_subscribers"`
	DashboardClients int                                  `json:"dashboard_clients"`
}

// Status reports the full operational snapshot of the scheduler.
func (h Handlers) Status(c *gin.Context) {
	resp := statusResponse{
		SystemState:   h.Supervisor.State().String(),
		RetryAttempts: h.Supervisor.RetryAttempts(),
		Campaigns:     h.Cache.Snapshot(),
		ActiveCalls:   h.Tracker.Snapshot(),
		Dialing:       h.Stats.Snapshot(),
		TransferPool:  h.Pool.DiagnoseAll(),
	}
	if h.Engine != nil {
		resp.LastDispatchAt = h.Engine.LastTickAt()
	}
	if h.Bus != nil {
		resp.EventSubscribers = h.Bus.SubscriberCount()
	}
	if h.Hub != nil {
		resp.DashboardClients = h.Hub.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

// --- Admin controls ---

// ForceTick runs one dispatch tick outside the timer. Works in emergency
// mode, which is the point of the escape hatch.
func (h Handlers) ForceTick(c *gin.Context) {
	h.logAdmin(c, "forced dispatch tick", "")

	if err := h.Supervisor.ForceTick(c.Request.Context()); err != nil {
		if errors.Is(err, dialer.ErrStopped) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "scheduler stopped"})
			return
		}
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "system_state": h.Supervisor.State().String()})
}

// EmergencyStop halts all dispatch and clears in-memory scheduling state.
// Durable rows are untouched; a process restart resumes from persistence.
func (h Handlers) EmergencyStop(c *gin.Context) {
	h.logAdmin(c, "emergency stop", "")

	h.Supervisor.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// --- Transfer pool ---

// DiagnosePool reports per-resource usage for one routing key.
func (h Handlers) DiagnosePool(c *gin.Context) {
	key := c.Param("key")
	statuses, err := h.Pool.Diagnose(key)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown routing key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routing_key": key, "resources": statuses})
}

// ResetPool zeroes usage counters for one routing key. Manual escape hatch
// for counter drift after provider failures.
func (h Handlers) ResetPool(c *gin.Context) {
	key := c.Param("key")
	h.logAdmin(c, "transfer pool reset", key)

	n, err := h.Pool.Reset(key)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown routing key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routing_key": key, "slots_cleared": n})
}

// logAdmin records the admin action best-effort; control flow never
// depends on audit success.
func (h Handlers) logAdmin(c *gin.Context, message, resourceKey string) {
	if h.Audit == nil {
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	_ = h.Audit.LogAdminAction(c.Request.Context(), uid, role, c.ClientIP(), message, resourceKey, "")
}
