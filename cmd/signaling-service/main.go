package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"voxlink-backend/internal/database"
	callHandler "voxlink-backend/internal/handler/http/call"
	pushHandler "voxlink-backend/internal/handler/http/push"
	wsHandler "voxlink-backend/internal/handler/ws"
	"voxlink-backend/internal/middleware"
	redisrepo "voxlink-backend/internal/repository/redis"
	notificationService "voxlink-backend/internal/service/notification"
	"voxlink-backend/internal/signaling"
	"voxlink-backend/pkg/config"
	"voxlink-backend/pkg/constants"
	"voxlink-backend/pkg/jwt"
	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/metrics"
	"voxlink-backend/pkg/push"
)

func main() {
	// 1. Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Initialize logger
	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 3. Metrics registry (private, not the default one)
	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(cfg.Server.ServiceName, registry)

	// 4. Connect to Redis with degraded mode support. Signaling keeps
	// working without Redis; only presence and push tokens go dark.
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	}, registry)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	redisDB.StartHealthCheck(healthCtx, 10*time.Second)
	if err := redisDB.HealthCheck(context.Background()); err != nil {
		logger.Warn("Redis unreachable at startup, entering degraded mode", zap.Error(err))
	}

	// 5. Repositories
	presenceRepo := redisrepo.NewPresenceRepository(redisDB)
	pushTokenRepo := redisrepo.NewPushTokenRepository(redisDB.Client)

	// 6. Push pipeline: provider per PUSH_PROVIDER, token store in Redis
	pushProvider, err := push.NewProvider()
	if err != nil {
		logger.Fatal("Failed to initialize push provider", zap.Error(err))
	}
	pushService := push.NewService(pushProvider, pushTokenRepo)
	callNotifier := notificationService.NewService(pushService, appMetrics)

	// 7. The coordinator: single event loop owning all call state
	coordinator := signaling.NewCoordinator(signaling.Config{
		MaxParticipants: cfg.Call.MaxParticipants,
		RingTimeout:     cfg.Call.RingTimeout,
		ICEServers:      cfg.ICE.Servers,
	}, appMetrics, callNotifier)

	// 8. JWT manager for connection auth
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 9. Handlers
	callWS := wsHandler.NewCallHandler(coordinator, presenceRepo, appMetrics)
	callHdlr := callHandler.NewHandler(coordinator)
	pushHdlr := pushHandler.NewHandler(pushService)

	// 10. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.PrometheusMiddleware(appMetrics))

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName))
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	rateLimiter := middleware.NewRateLimiter(redisDB.Client, 100, time.Minute)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		// WebSocket signaling; no request timeout on this route, the
		// connection is long-lived
		v1.GET("/ws/calls", callWS.ServeWS)

		rest := v1.Group("")
		rest.Use(middleware.Timeout(constants.DefaultTimeout))
		rest.Use(rateLimiter.Middleware())
		{
			rest.GET("/calls/ice-servers", callHdlr.GetICEServers)
			rest.GET("/calls/:id", callHdlr.GetCall)

			rest.POST("/push/tokens", pushHdlr.RegisterToken)
			rest.GET("/push/tokens", pushHdlr.GetTokens)
			rest.DELETE("/push/tokens", pushHdlr.UnregisterToken)
			rest.DELETE("/push/tokens/all", pushHdlr.UnregisterAllTokens)
		}
	}

	// 11. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("Signaling service starting",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
			zap.Int("max_participants", cfg.Call.MaxParticipants),
			zap.Duration("ring_timeout", cfg.Call.RingTimeout))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 12. Graceful shutdown: stop accepting, then drain the coordinator so
	// every in-flight call ends through the normal cleanup path
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	coordinator.Close()
	logger.Info("Server exited")
}
