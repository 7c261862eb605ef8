package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"main/internal/agent"
	"main/internal/model/enum"
	"main/internal/store"
)

const defaultTradeLimit = 100

type Agents struct {
	mgr   *agent.Manager
	store store.Store
}

func NewAgents(mgr *agent.Manager, st store.Store) Agents {
	return Agents{mgr: mgr, store: st}
}

func (h Agents) Create(c *gin.Context) {
	var req struct {
		Name         string         `json:"name" binding:"required"`
		StrategyType string         `json:"strategy_type" binding:"required"`
		Config       map[string]any `json:"config" binding:"required"`
		GroupID      *uuid.UUID     `json:"group_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	kind, ok := enum.ParseStrategyKind(req.StrategyType)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": "unknown strategy type: " + req.StrategyType})
		return
	}

	rec, err := h.mgr.Create(c.Request.Context(), req.Name, kind, req.Config, req.GroupID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Agents) List(c *gin.Context) {
	snaps, err := h.mgr.List(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": snaps})
}

func (h Agents) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.store.LoadAgent(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if rec.Status == enum.AgentStatusDeleted {
		respondErr(c, agent.ErrNotFound)
		return
	}

	snap, err := h.mgr.Status(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	trades, err := h.store.ListTrades(c.Request.Context(), id, 0)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             rec.ID,
		"name":           rec.Name,
		"strategy_type":  rec.Kind,
		"config":         rec.Config,
		"group_id":       rec.GroupID,
		"status":         snap.Status,
		"status_message": snap.StatusMessage,
		"uptime_seconds": snap.UptimeSeconds,
		"trades_count":   len(trades),
		"created_at":     rec.CreatedAt,
		"updated_at":     rec.UpdatedAt,
	})
}

func (h Agents) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Name    string         `json:"name"`
		Config  map[string]any `json:"config"`
		GroupID *uuid.UUID     `json:"group_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	rec, err := h.mgr.Update(c.Request.Context(), id, req.Name, req.Config, req.GroupID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Agents) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.mgr.Delete(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Agents) Status(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	snap, err := h.mgr.Status(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Start is accepted, not completed: configuration happens inside the
// execution context and failures surface through the status endpoint.
func (h Agents) Start(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.mgr.Start(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": enum.AgentStatusStarting})
}

func (h Agents) Stop(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.mgr.Stop(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": enum.AgentStatusStopping})
}

// Performance aggregates the trade history into headline figures. Only
// round-trip trades carry realized PnL; one-sided fills count toward volume
// but not toward the win rate.
func (h Agents) Performance(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.mgr.Status(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	trades, err := h.store.ListTrades(c.Request.Context(), id, 0)
	if err != nil {
		respondErr(c, err)
		return
	}

	var wins, losses int
	var totalPnL, volume float64
	for _, trade := range trades {
		volume += trade.QuoteQuantity
		if trade.PnLUSD == nil {
			continue
		}
		totalPnL += *trade.PnLUSD
		if *trade.PnLUSD >= 0 {
			wins++
		} else {
			losses++
		}
	}
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":         id,
		"total_trades":     len(trades),
		"round_trips":      wins + losses,
		"wins":             wins,
		"losses":           losses,
		"win_rate_pct":     winRate,
		"total_pnl_usd":    totalPnL,
		"total_volume_usd": volume,
	})
}

// PnL breaks realized profit down per symbol.
func (h Agents) PnL(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.mgr.Status(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	trades, err := h.store.ListTrades(c.Request.Context(), id, 0)
	if err != nil {
		respondErr(c, err)
		return
	}

	total := 0.0
	realized := 0
	bySymbol := make(map[string]float64)
	for _, trade := range trades {
		if trade.PnLUSD == nil {
			continue
		}
		total += *trade.PnLUSD
		bySymbol[trade.Symbol] += *trade.PnLUSD
		realized++
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":        id,
		"total_pnl_usd":   total,
		"realized_trades": realized,
		"pnl_by_symbol":   bySymbol,
	})
}

func (h Agents) Trades(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"err": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	trades, err := h.store.ListTrades(c.Request.Context(), id, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid agent id"})
		return uuid.Nil, false
	}
	return id, true
}
