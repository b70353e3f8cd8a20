package http

import (
	"context"
	"net/http"

	"github.com/dkeye/VoiceMesh/internal/adapters/signal"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// newEngine applies the mode-dependent middleware shared by both routers.
func newEngine(mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

// SetupRouter builds the relay: signaling endpoint, room listing and metrics.
// gatherer may be nil, in which case /metrics is not mounted.
func SetupRouter(ctx context.Context, mode string, ctrl *signal.SignalWSController, gatherer prometheus.Gatherer) *gin.Engine {
	r := newEngine(mode)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Orch.Rooms.List())
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("relay router setup")
	return r
}
