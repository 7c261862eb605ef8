package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"main/internal/bus"
	"main/internal/obs"
)

type System struct {
	bus     *bus.Bus
	metrics *obs.Metrics
}

func NewSystem(b *bus.Bus, metrics *obs.Metrics) System {
	return System{bus: b, metrics: metrics}
}

func (h System) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h System) Metrics(c *gin.Context) {
	var dropped uint64
	if h.bus != nil {
		dropped = h.bus.Dropped()
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot(dropped))
}
