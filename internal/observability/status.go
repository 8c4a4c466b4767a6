// Package observability exposes link metrics and a read-only HTTP status
// surface for a connected vehicle.
package observability

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type HealthView struct {
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
	Received  uint64 `json:"rx_packets"`
	Sent      uint64 `json:"tx_packets"`
	Dropped   uint64 `json:"dropped_packets"`
}

type VariableView struct {
	ID       uint16 `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ReadOnly bool   `json:"read_only"`
	Value    any    `json:"value,omitempty"`
}

type BlockView struct {
	ID            uint8    `json:"id"`
	State         string   `json:"state"`
	PeriodMS      int64    `json:"period_ms"`
	Members       []string `json:"members"`
	LastTimestamp *uint32  `json:"last_timestamp,omitempty"`
}

// StatusSource is the read side of a client.
type StatusSource interface {
	Health() HealthView
	ParamViews() []VariableView
	LogVarViews() []VariableView
	BlockViews() []BlockView
}

// NewRouter serves /health, /metrics, /params, /logvars and /blocks.
func NewRouter(src StatusSource, logger zerolog.Logger) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), StatusRequests(logger, src.Health))

	r.GET("/health", func(c *gin.Context) {
		h := src.Health()
		status := http.StatusOK
		if !h.Connected {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/params", func(c *gin.Context) {
		c.JSON(http.StatusOK, filterVariables(src.ParamViews(), c.Query("group")))
	})
	r.GET("/logvars", func(c *gin.Context) {
		c.JSON(http.StatusOK, filterVariables(src.LogVarViews(), c.Query("group")))
	})
	r.GET("/blocks", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.BlockViews())
	})
	r.GET("/blocks/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 8)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block id"})
			return
		}
		for _, b := range src.BlockViews() {
			if uint64(b.ID) == id {
				c.JSON(http.StatusOK, b)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
	})
	return r
}

// filterVariables keeps names under "group/" when group is set.
func filterVariables(vars []VariableView, group string) []VariableView {
	if group == "" {
		return vars
	}
	prefix := group + "/"
	out := make([]VariableView, 0, len(vars))
	for _, v := range vars {
		if strings.HasPrefix(v.Name, prefix) {
			out = append(out, v)
		}
	}
	return out
}
