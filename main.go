package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/VdotR/polling-system/cache"
	"github.com/VdotR/polling-system/config"
	"github.com/VdotR/polling-system/database"
	"github.com/VdotR/polling-system/handlers"
	"github.com/VdotR/polling-system/logging"
	"github.com/VdotR/polling-system/mq"
	"github.com/VdotR/polling-system/repository"
	"github.com/VdotR/polling-system/routes"
	"github.com/VdotR/polling-system/service"
	"github.com/VdotR/polling-system/session"
	"github.com/VdotR/polling-system/websocket"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(cfg.DB, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize database")
	}

	redisClient, err := cache.InitRedis(ctx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, continuing without it")
		redisClient = nil
	}

	var polls repository.PollRepository = repository.NewGormPollRepository(db)
	users := repository.NewGormUserRepository(db)

	var locks service.Locker
	var sessions session.Store
	if redisClient != nil {
		polls = repository.NewCachedPollRepository(polls, cache.NewPollCache(redisClient, 10*time.Minute))
		locks = cache.NewDistributedLockService(redisClient, 10*time.Second)
		sessions = session.NewRedisStore(redisClient, cfg.Session.TTL)
	} else {
		sessions = session.NewMemoryStore(cfg.Session.TTL)
	}

	mqCfg := cfg.MQ
	if mqCfg.Driver == "redis" && redisClient == nil {
		log.Warn().Msg("mq driver redis needs Redis, using in-process queue")
		mqCfg.Driver = "memory"
	}
	queue, err := mq.NewMQAdapter(mqCfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize message queue")
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	pollService := service.NewPollService(polls, users, locks, queue, hub)
	if err := queue.RegisterHandler(pollService.HandleCascade); err != nil {
		log.Fatal().Err(err).Msg("could not register cascade handler")
	}

	router := routes.SetupRouter(cfg, routes.Handlers{
		Polls:    handlers.NewPollHandler(pollService, websocket.NewHandler(hub, cfg.CORS.AllowOrigins)),
		Users:    handlers.NewUserHandler(users, sessions, cfg.Session),
		Health:   handlers.NewHealthHandler(db, redisClient, queue),
		Sessions: sessions,
	})
	srv := routes.StartServer(cfg.Server, router)
	log.Info().
		Str("env", cfg.Environment).
		Str("db", cfg.DB.Driver).
		Str("mq", queue.Driver()).
		Bool("redis", redisClient != nil).
		Msg("polling service started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	queue.Close()
	cache.CloseRedis(redisClient)
	database.CloseDB(db)

	log.Info().Msg("server stopped")
}
