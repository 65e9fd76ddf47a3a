package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	clientTokenCookie = "ct"
	clientTokenKey    = "client_token"
	clientTokenTTL    = 7 * 24 * time.Hour
	sessionCookie     = "huddle"
)

// ClientTokenMiddleware tags every browser with a long-lived opaque token.
// It only correlates log lines; session identity is assigned per socket.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = uuid.NewString()
			c.SetCookie(clientTokenCookie, token, int(clientTokenTTL/time.Second), "/", "", false, true)
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(clientTokenTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionCookie, store), ClientTokenMiddleware())

	mountStatic(r, cfg.StaticPath)
	mountAPI(ctx, r.Group("/api"), cfg, o)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

func mountStatic(r *gin.Engine, dir string) {
	if dir == "" {
		return
	}
	r.Static("/static", dir)
	r.GET("/", func(c *gin.Context) {
		c.File(dir + "/index.html")
	})
}

func mountAPI(ctx context.Context, api *gin.RouterGroup, cfg *config.Config, o *orch.Orchestrator) {
	ctrl := signal.NewSignalWSController(o, cfg)

	api.GET("/rooms", listRooms(o))
	api.GET("/profile", getProfile)
	api.POST("/profile", postProfile)
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c, usernameFor(c))
	})
}
