package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"killswitch/internal/account"
	"killswitch/internal/logger"
	"killswitch/internal/store/eventlog"
	"killswitch/internal/store/mtmlog"
)

// SessionController is the supervisor surface the API exposes.
type SessionController interface {
	AccountIDs() []string
	StartSession(ctx context.Context, id string) error
	StopSession(id string) error
	RefreshSession(ctx context.Context, id string) error
	TriggerKillManually(id string) error
	SetKillSwitchEnabled(id string, enabled bool) error
	ResetDailyLock(id string) error
	Snapshot(id string) (account.Summary, error)
}

// EventReader exposes the audit trail.
type EventReader interface {
	Recent(accountID string, limit int) ([]eventlog.Event, error)
}

// SampleReader exposes recorded MTM curves.
type SampleReader interface {
	Range(accountID string, from, to time.Time, limit int) ([]mtmlog.Sample, error)
}

type Router struct {
	sup     SessionController
	events  EventReader
	samples SampleReader
}

func NewRouter(sup SessionController, events EventReader, samples SampleReader) *Router {
	return &Router{sup: sup, events: events, samples: samples}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/accounts", r.handleAccounts)
	group.GET("/accounts/:id/snapshot", r.handleSnapshot)
	group.POST("/accounts/:id/start", r.handleStart)
	group.POST("/accounts/:id/stop", r.handleStop)
	group.POST("/accounts/:id/refresh", r.handleRefresh)
	group.POST("/accounts/:id/kill", r.handleManualKill)
	group.PUT("/accounts/:id/kill-switch", r.handleKillSwitch)
	group.POST("/accounts/:id/reset-lock", r.handleResetLock)
	if r.events != nil {
		group.GET("/accounts/:id/events", r.handleEvents)
	}
	if r.samples != nil {
		group.GET("/accounts/:id/mtm", r.handleMTM)
	}
}

func (r *Router) handleAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": r.sup.AccountIDs()})
}

func (r *Router) handleSnapshot(c *gin.Context) {
	summary, err := r.sup.Snapshot(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (r *Router) handleStart(c *gin.Context) {
	id := c.Param("id")
	if err := r.sup.StartSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "account": id})
}

func (r *Router) handleStop(c *gin.Context) {
	id := c.Param("id")
	if err := r.sup.StopSession(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "account": id})
}

func (r *Router) handleRefresh(c *gin.Context) {
	id := c.Param("id")
	if err := r.sup.RefreshSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed", "account": id})
}

func (r *Router) handleManualKill(c *gin.Context) {
	id := c.Param("id")
	logger.Warnf("[api] manual kill requested for %s by %s", id, c.ClientIP())
	if err := r.sup.TriggerKillManually(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "kill triggered", "account": id})
}

func (r *Router) handleKillSwitch(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"enabled\": true|false}"})
		return
	}
	if err := r.sup.SetKillSwitchEnabled(id, *body.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": id, "enabled": *body.Enabled})
}

func (r *Router) handleResetLock(c *gin.Context) {
	id := c.Param("id")
	logger.Warnf("[api] daily lock reset requested for %s by %s", id, c.ClientIP())
	if err := r.sup.ResetDailyLock(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "lock cleared", "account": id})
}

func (r *Router) handleEvents(c *gin.Context) {
	id := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := r.events.Recent(id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": id, "events": events})
}

func (r *Router) handleMTM(c *gin.Context) {
	id := c.Param("id")
	now := time.Now()
	from := now.Add(-24 * time.Hour)
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	to := now
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "2000"))
	samples, err := r.samples.Range(id, from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": id, "samples": samples})
}
