package routes

import (
	"net/http"
	"time"

	"github.com/VdotR/polling-system/config"
	"github.com/VdotR/polling-system/handlers"
	"github.com/VdotR/polling-system/metrics"
	"github.com/VdotR/polling-system/session"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handlers groups everything SetupRouter mounts.
type Handlers struct {
	Polls    *handlers.PollHandler
	Users    *handlers.UserHandler
	Health   *handlers.HealthHandler
	Sessions session.Store
}

// SetupRouter builds the gin engine with middleware and every /api route.
func SetupRouter(cfg *config.Config, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), metrics.Middleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	requireSession := session.RequireSession(h.Sessions, cfg.Session.CookieName)

	api := router.Group("/api")
	{
		api.GET("/health", h.Health.HealthCheck)
		api.GET("/status", h.Health.SystemStatus)
		api.GET("/metrics", metrics.Handler())

		users := api.Group("/user")
		{
			users.POST("/signup", h.Users.Signup)
			users.POST("/login", h.Users.Login)
			users.GET("/logout", h.Users.Logout)
			users.GET("/lookup/:identifier", h.Users.Lookup)
			users.GET("/:id", h.Users.GetUser)
			users.DELETE("/:id", requireSession, h.Users.DeleteUser)
		}

		vote := []gin.HandlerFunc{h.Polls.CastVote}
		if cfg.RateLimit.Enabled {
			limiter := handlers.NewRateLimiter(cfg.RateLimit.VoteRate, cfg.RateLimit.VoteBurst)
			vote = append([]gin.HandlerFunc{limiter.Middleware()}, vote...)
		}

		polls := api.Group("/poll", requireSession)
		{
			polls.POST("", h.Polls.CreatePoll)
			polls.GET("/:id", h.Polls.GetPoll)
			polls.GET("/:id/live", h.Polls.LiveFeed)
			polls.PATCH("/:id/available", h.Polls.SetAvailability)
			polls.PATCH("/:id/vote", vote...)
			polls.PATCH("/:id/clear", h.Polls.ClearResponses)
			polls.DELETE("/:id", h.Polls.DeletePoll)
		}
	}

	return router
}

// StartServer serves router on the configured port in the background.
func StartServer(cfg config.ServerConfig, router *gin.Engine) *http.Server {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	return srv
}
