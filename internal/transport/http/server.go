package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/broker"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/config"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/registry"
)

// NewServer builds the HTTP server: health probe, websocket endpoint, and
// the operator-only admin surface.
func NewServer(hub *broker.Hub, reg *registry.Registry, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	engine.GET("/health", healthHandler)
	engine.GET("/ws", gin.WrapH(NewWSHandler(hub, logger)))

	admin := engine.Group("/admin", AdminAuthMiddleware(cfg.AdminToken, logger))
	admin.POST("/reset", resetHandler(reg, logger))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// resetHandler wipes all in-memory and persisted room state. Reachable only
// through the token-guarded admin group, never the client event protocol.
func resetHandler(reg *registry.Registry, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := reg.ClearAllRooms(c.Request.Context()); err != nil {
			logger.Error().Err(err).Msg("admin reset failed")
			c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "reset failed"})
			return
		}
		logger.Info().Msg("admin reset completed")
		c.Status(stdhttp.StatusNoContent)
	}
}
