package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"main/internal/agent"
	"main/internal/bus"
	"main/internal/obs"
	"main/internal/store"
	"main/internal/strategy"
)

// New builds the control-plane engine. Every lifecycle mutation goes through
// the manager; handlers never touch execution contexts directly. origins
// restricts CORS; empty means allow all.
func New(mgr *agent.Manager, st store.Store, b *bus.Bus, metrics *obs.Metrics, origins ...string) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, mgr, st, b, metrics, origins)
	return g
}

func attachRoutes(r *gin.Engine, mgr *agent.Manager, st store.Store, b *bus.Bus, metrics *obs.Metrics, origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	agentH := NewAgents(mgr, st)
	groupH := NewGroups(mgr, st, b)
	sysH := NewSystem(b, metrics)

	r.GET("/health", sysH.Health)
	r.GET("/metrics", sysH.Metrics)

	r.POST("/agents", agentH.Create)
	r.GET("/agents", agentH.List)
	r.GET("/agents/:id", agentH.Get)
	r.PUT("/agents/:id", agentH.Update)
	r.DELETE("/agents/:id", agentH.Delete)
	r.GET("/agents/:id/status", agentH.Status)
	r.POST("/agents/:id/start", agentH.Start)
	r.POST("/agents/:id/stop", agentH.Stop)
	r.GET("/agents/:id/trades", agentH.Trades)
	r.GET("/agents/:id/performance", agentH.Performance)
	r.GET("/agents/:id/pnl", agentH.PnL)

	r.POST("/groups", groupH.Create)
	r.GET("/groups", groupH.List)
	r.GET("/groups/:id", groupH.Get)
	r.PUT("/groups/:id", groupH.Update)
	r.DELETE("/groups/:id", groupH.Delete)
	r.POST("/groups/:id/stop", groupH.Stop)
}

// respondErr maps domain errors onto HTTP statuses. Recoverable input
// problems are 4xx; anything unexpected is a 500.
func respondErr(c *gin.Context, err error) {
	switch {
	case strategy.IsConfigError(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": err.Error()})
	case errors.Is(err, agent.ErrNotFound),
		errors.Is(err, store.ErrAgentNotFound),
		errors.Is(err, store.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
	case errors.Is(err, agent.ErrAlreadyRunning),
		errors.Is(err, agent.ErrNotRunning),
		errors.Is(err, agent.ErrStillRunning):
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
	}
}
