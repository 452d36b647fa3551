package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"linguaconnect-signaling/internal/config"
	"linguaconnect-signaling/internal/database"
	wsHandler "linguaconnect-signaling/internal/handler/ws"
	"linguaconnect-signaling/internal/middleware"
	"linguaconnect-signaling/internal/presence"
	"linguaconnect-signaling/internal/registry"
	redisRepo "linguaconnect-signaling/internal/repository/redis"
	"linguaconnect-signaling/internal/session"
	"linguaconnect-signaling/pkg/constants"
	"linguaconnect-signaling/pkg/jwt"
	"linguaconnect-signaling/pkg/logger"
	"linguaconnect-signaling/pkg/metrics"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	cfg := config.Load()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWTSecret == "" {
			logger.Fatal("JWT_SECRET is required in production")
		}
		if len(cfg.JWTSecret) < 32 {
			logger.Fatal("JWT_SECRET must be at least 32 characters")
		}
	}

	// Identity boundary: tokens are minted by the platform's auth service,
	// this service only verifies them. No secret means no auth (dev only).
	var jwtManager *jwt.JWTManager
	if cfg.JWTSecret != "" {
		jwtManager = jwt.NewJWTManager(cfg.JWTSecret, constants.AccessTokenExpiry)
	} else {
		logger.Warn("JWT_SECRET not set, running without token verification")
	}

	m := metrics.NewMetrics(cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis backs the presence mirror and the friend graph; the signaling
	// core stays functional when it is down.
	redisClient := database.NewRedisClient(&database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	redisClient.StartHealthCheck(ctx, cfg.RedisHealthEvery)

	presenceRepo := redisRepo.NewPresenceRepository(redisClient, cfg.PresenceTTL)
	friendRepo := redisRepo.NewFriendGraphRepository(redisClient)

	reg := registry.New(m)
	sessions := session.NewManager(nil, reg, cfg.RingTimeout, m) // sink wired below
	broadcaster := presence.NewBroadcaster(friendRepo, presenceRepo, nil, reg)

	hub := wsHandler.NewHub(reg, sessions, broadcaster, jwtManager, m, wsHandler.Options{
		MaxConnections: cfg.MaxConnections,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	sessions.SetSink(hub)
	broadcaster.SetSink(hub)
	reg.SetPresenceListener(broadcaster)
	reg.SetCallListener(sessions)

	hub.StartPresenceHeartbeat(ctx, presenceRepo, constants.PresenceRefreshInterval)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(m).Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"service":      cfg.ServiceName,
			"online_users": reg.OnlineCount(),
			"live_calls":   sessions.LiveSessions(),
			"redis":        !redisClient.IsDegraded(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())
	router.GET("/ws", hub.ServeWS)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info("signaling service listening",
			zap.Int("port", cfg.Port),
			zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
