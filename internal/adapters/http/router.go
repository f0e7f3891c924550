// Package http wires the gin router: cookie-session authentication, the
// signaling websocket endpoint, call introspection REST and metrics.
package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/config"
	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/hub"
	"github.com/majid78715/Jira-V1-sub001/internal/signal"
)

// RequireUser validates the session cookie issued by the host product's auth
// layer. This is the single authentication point: a request without a valid
// cookie is refused here, before any signaling handler runs.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		uid, _ := sess.Get("user_id").(string)
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set("user_id", uid)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *hub.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions(cfg.SessionName, store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctl := signal.NewController(h, cfg)

	api := r.Group("/api")
	api.Use(RequireUser())

	api.GET("/ws/signal", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	api.GET("/ice", func(c *gin.Context) {
		servers, err := cfg.ICEServers()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ice config unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	})

	// Introspection over the active call registry; read-only snapshots.
	api.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": h.Sessions.List()})
	})

	api.GET("/calls/:session", func(c *gin.Context) {
		snap, ok := h.Sessions.Get(domain.SessionID(c.Param("session")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active call"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	api.GET("/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"onlineUserIds": h.Directory.OnlineUsers()})
	})

	return r
}
