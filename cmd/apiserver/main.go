package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	redisDriver "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carelink/internal/config"
	"carelink/internal/handlers/apiserver"
	appKafka "carelink/internal/kafka"
	"carelink/internal/logging"
	"carelink/internal/middleware"
	appRedis "carelink/internal/redis"
	"carelink/internal/services"
	"carelink/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.String("app", cfg.AppName), zap.String("version", cfg.AppVersion))

	// Database
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		logger.Warn("database migration failed", zap.Error(err))
	}

	// Redis edge cache. The cache only backs degraded-mode reads, so a Redis
	// outage at startup degrades to no fallback rather than refusing to boot.
	var edgeCache services.EdgeCache
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn("redis unavailable, degraded-mode edge cache disabled", zap.Error(err))
	} else {
		edgeCache = appRedis.NewRedisEdgeCache(redisClient, cfg.Redis.EdgeCacheTTL)
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Kafka notification sink. Notifications are fire-and-forget; without a
	// broker the engine runs with the noop sink.
	var sink services.NotificationSink = services.NoopNotificationSink{}
	producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger)
	if err != nil {
		logger.Warn("kafka unavailable, notifications disabled", zap.Error(err))
	} else {
		defer producer.Close()
		sink = services.NewKafkaNotificationSink(producer, cfg.Kafka.RelationshipEventsTopic, logger)
	}

	// Storage and services
	txManager := storage.NewGormTxManager(db)
	codeService := services.NewCodeService(cfg.Verification)
	authService := services.NewAuthService(txManager.Repos().Users, cfg)
	graphService := services.NewGraphService(txManager, edgeCache, sink, cfg.Retry, logger)
	requestService := services.NewRequestService(txManager, codeService, sink, cfg, logger)
	reconcilerService := services.NewReconcilerService(txManager, cfg.Retry, logger)

	// Handlers
	authHandler := apiserver.NewAuthHandler(authService, logger)
	requestHandler := apiserver.NewRelationshipRequestHandler(requestService, logger)
	graphHandler := apiserver.NewRelationshipGraphHandler(graphService, logger)
	reconcilerHandler := apiserver.NewReconcilerHandler(reconcilerService, logger)

	// Routes
	r := mux.NewRouter()

	authRouter := r.PathPrefix("/api/v1/auth").Subrouter()
	authRouter.HandleFunc("/register", authHandler.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(func(next http.Handler) http.Handler {
		return middleware.AuthMiddleware(next, cfg.Auth)
	})

	requestRouter := apiRouter.PathPrefix("/relationship-requests").Subrouter()
	requestRouter.HandleFunc("", requestHandler.Create).Methods(http.MethodPost)
	requestRouter.HandleFunc("/pending", requestHandler.ListPending).Methods(http.MethodGet)
	requestRouter.HandleFunc("/{requestID:[0-9]+}/accept", requestHandler.Accept).Methods(http.MethodPost)
	requestRouter.HandleFunc("/{requestID:[0-9]+}/reject", requestHandler.Reject).Methods(http.MethodPost)
	requestRouter.HandleFunc("/{requestID:[0-9]+}/resend", requestHandler.Resend).Methods(http.MethodPost)

	apiRouter.HandleFunc("/relationships", graphHandler.List).Methods(http.MethodGet)
	apiRouter.HandleFunc("/relationships/{peerID:[0-9]+}/access", graphHandler.UpdateAccess).Methods(http.MethodPut)
	apiRouter.HandleFunc("/relationships/{peerID:[0-9]+}", graphHandler.Disable).Methods(http.MethodDelete)

	apiRouter.HandleFunc("/admin/reconcile", reconcilerHandler.Reconcile).Methods(http.MethodPost)

	// CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsHandler := handlers.CORS(corsOptions...)(r)

	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        corsHandler,
		ReadTimeout:    cfg.APIServer.ReadTimeout,
		WriteTimeout:   cfg.APIServer.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: cfg.APIServer.MaxHeaderBytes,
	}

	go func() {
		logger.Info("api server listening", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Fatal("api server forced to shut down", zap.Error(err))
	}
	logger.Info("api server stopped")
}
