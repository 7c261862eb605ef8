package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/agent"
	"main/internal/bus"
	"main/internal/model"
	"main/internal/store"
)

type Groups struct {
	mgr   *agent.Manager
	store store.Store
	bus   *bus.Bus
}

func NewGroups(mgr *agent.Manager, st store.Store, b *bus.Bus) Groups {
	return Groups{mgr: mgr, store: st, bus: b}
}

func (h Groups) publishUpdate(groupID uuid.UUID, event string, extra map[string]any) {
	payload := map[string]any{
		"group_id": groupID.String(),
		"event":    event,
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := h.bus.PublishJSON(bus.ChannelGroupUpdates, payload); err != nil {
		logs.Warnf("publish group update for %s: %v", groupID, err)
	}
}

func (h Groups) Create(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	group := &model.AgentGroup{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.store.SaveGroup(c.Request.Context(), group); err != nil {
		respondErr(c, err)
		return
	}
	h.publishUpdate(group.ID, "created", map[string]any{"name": group.Name})
	c.JSON(http.StatusCreated, group)
}

func (h Groups) List(c *gin.Context) {
	groups, err := h.store.ListGroups(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h Groups) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	group, err := h.store.LoadGroup(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	agents, err := h.store.ListAgentsByGroup(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group, "agents": agents})
}

func (h Groups) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	group, err := h.store.LoadGroup(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if req.Name != "" {
		group.Name = req.Name
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if err := h.store.SaveGroup(c.Request.Context(), group); err != nil {
		respondErr(c, err)
		return
	}
	h.publishUpdate(id, "updated", map[string]any{"name": group.Name})
	c.JSON(http.StatusOK, group)
}

// Delete removes the grouping only. Member agents are detached, not touched;
// a running member keeps running.
func (h Groups) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteGroup(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	h.publishUpdate(id, "deleted", nil)
	c.Status(http.StatusNoContent)
}

// Stop fans a stop request out to every member. Agents that are not running
// are skipped; the group carries no lifecycle state of its own.
func (h Groups) Stop(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.store.LoadGroup(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	agents, err := h.store.ListAgentsByGroup(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}

	stopped := make([]uuid.UUID, 0, len(agents))
	skipped := make([]uuid.UUID, 0, len(agents))
	for _, rec := range agents {
		err := h.mgr.Stop(c.Request.Context(), rec.ID)
		switch {
		case err == nil:
			stopped = append(stopped, rec.ID)
		case errors.Is(err, agent.ErrNotRunning):
			skipped = append(skipped, rec.ID)
		default:
			respondErr(c, err)
			return
		}
	}
	h.publishUpdate(id, "stop_requested", map[string]any{
		"stopped": len(stopped),
		"skipped": len(skipped),
	})
	c.JSON(http.StatusAccepted, gin.H{"stopped": stopped, "skipped": skipped})
}
