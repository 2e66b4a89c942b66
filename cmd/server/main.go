package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rescuelink/service-dispatch/internal/application"
	"github.com/rescuelink/service-dispatch/internal/common/auth"
	"github.com/rescuelink/service-dispatch/internal/common/database"
	"github.com/rescuelink/service-dispatch/internal/common/health"
	"github.com/rescuelink/service-dispatch/internal/common/kafka"
	"github.com/rescuelink/service-dispatch/internal/common/logger"
	"github.com/rescuelink/service-dispatch/internal/common/middleware"
	"github.com/rescuelink/service-dispatch/internal/common/rabbitmq"
	"github.com/rescuelink/service-dispatch/internal/config"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	dispatchEvents "github.com/rescuelink/service-dispatch/internal/events"
	"github.com/rescuelink/service-dispatch/internal/fleet"
	"github.com/rescuelink/service-dispatch/internal/handler"
	"github.com/rescuelink/service-dispatch/internal/repository"
	"github.com/rescuelink/service-dispatch/internal/routing"
	"github.com/rescuelink/service-dispatch/internal/telemetry"
	"github.com/rescuelink/service-dispatch/internal/worker"
	"go.uber.org/zap"
)

const serviceName = "service-dispatch"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("routing_provider", cfg.Dispatch.RoutingProvider),
	)

	// Connect to database
	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.AmbulanceModel{}, &repository.PositionModel{}, &repository.BookingModel{}); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(dbConfig.DatabaseURL(), "migrations", log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	jwtManager := auth.NewJWTManager(cfg.JWTConfig.Secret, 15*time.Minute, 7*24*time.Hour)

	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()

	var alerts application.EventPublisher
	if cfg.RabbitMQConfig.URL != "" {
		alertPublisher, err := rabbitmq.Dial(cfg.RabbitMQConfig.URL, cfg.RabbitMQConfig.Exchange)
		if err != nil {
			log.Fatal("failed to connect to rabbitmq", zap.Error(err))
		}
		defer func() { _ = alertPublisher.Close() }()
		alerts = alertPublisher
		log.Info("assignment alerts enabled", zap.String("exchange", cfg.RabbitMQConfig.Exchange))
	}

	router, err := buildRouter(cfg.Dispatch, cfg.RedisConfig.Addr, cfg.RedisConfig.Password, cfg.RedisConfig.DB, log)
	if err != nil {
		log.Fatal("failed to build routing client", zap.Error(err))
	}

	// Initialize repositories
	bookingRepo := repository.NewGormBookingRepository(db)
	ambulanceRepo := repository.NewGormAmbulanceRepository(db)
	positionRepo := repository.NewGormPositionRepository(db)
	assignmentStore := repository.NewGormAssignmentStore(db)

	// Dispatch core
	locator := fleet.NewLocator(positionRepo, cfg.Dispatch.PositionMaxAge)
	selector := dispatch.NewSelector(locator, router, cfg.Dispatch.Concurrency, log)
	committer := dispatch.NewCommitter(assignmentStore, log)
	routeService := application.NewRouteService(router, log)

	dispatchService := application.NewDispatchService(
		bookingRepo,
		ambulanceRepo,
		selector,
		committer,
		kafkaProducer,
		alerts,
		application.DispatchOptions{
			AttemptTimeout:     cfg.Dispatch.AttemptTimeout,
			MaxConflictRetries: cfg.Dispatch.MaxConflictRetries,
			MaxAttempts:        cfg.Dispatch.MaxAttempts,
		},
		log,
	)

	queue := worker.NewDispatchQueue(cfg.Dispatch.QueueSize, cfg.Dispatch.Workers,
		func(ctx context.Context, bookingID uuid.UUID) error {
			_, err := dispatchService.DispatchBooking(ctx, bookingID)
			return err
		}, log)
	dispatchService.ObserveQueue(queue.Len)

	bookingService := application.NewBookingService(bookingRepo, ambulanceRepo, committer, queue, kafkaProducer, log)
	fleetService := application.NewFleetService(ambulanceRepo, positionRepo, locator, committer, kafkaProducer, log)

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx)
	}()

	sweeper := worker.NewRetrySweeper(dispatchService, queue,
		cfg.Dispatch.SweepInterval, cfg.Dispatch.RetryBackoff, cfg.Dispatch.QueueSize, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	groupID := cfg.KafkaConfig.GroupPrefix + "dispatch-service"
	commandConsumer := dispatchEvents.NewDispatchCommandConsumer(cfg.KafkaConfig.Brokers, groupID, queue, log)
	defer func() { _ = commandConsumer.Close() }()

	go func() {
		log.Info("starting dispatch command consumer")
		if err := commandConsumer.Start(ctx); err != nil && err != context.Canceled {
			log.Error("dispatch command consumer error", zap.Error(err))
		}
	}()

	if cfg.MQTTConfig.Broker != "" {
		client, err := telemetry.Connect(cfg.MQTTConfig.Broker, cfg.MQTTConfig.ClientID)
		if err != nil {
			log.Fatal("failed to connect to mqtt broker", zap.Error(err))
		}
		subscriber := telemetry.NewPositionSubscriber(client, cfg.MQTTConfig.Topic, fleetService, log)
		if err := subscriber.Start(); err != nil {
			log.Fatal("failed to subscribe to telemetry", zap.Error(err))
		}
		defer subscriber.Stop()
		log.Info("telemetry subscriber started", zap.String("topic", cfg.MQTTConfig.Topic))
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RecoveryMiddleware(log))
	engine.Use(middleware.LoggerMiddleware(log))
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(middleware.CORSMiddleware())
	engine.Use(middleware.SecurityHeadersMiddleware())
	engine.Use(middleware.MetricsMiddleware())

	health.NewHandler(db, serviceName).RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.NewBookingHandler(bookingService).RegisterRoutes(&engine.RouterGroup, jwtManager)
	handler.NewAmbulanceHandler(fleetService, bookingService).RegisterRoutes(&engine.RouterGroup, jwtManager)
	handler.NewDispatchHandler(dispatchService).RegisterRoutes(&engine.RouterGroup, jwtManager)
	handler.NewAdminHandler(bookingService, dispatchService).RegisterRoutes(&engine.RouterGroup, jwtManager)
	handler.NewRouteHandler(routeService).RegisterRoutes(&engine.RouterGroup, jwtManager)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + cfg.Dispatch.AttemptTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down " + serviceName + "...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	// Stop intake first, then let in-flight attempts finish.
	cancel()
	wg.Wait()

	log.Info(serviceName + " stopped")
}

// buildRouter returns the configured routing provider, wrapped in a Redis
// cache when redisAddr is set.
func buildRouter(cfg config.DispatchConfig, redisAddr, redisPassword string, redisDB int, log *zap.Logger) (routing.Router, error) {
	var base routing.Router
	switch cfg.RoutingProvider {
	case config.ProviderGoogle:
		google, err := routing.NewGoogleRouter(cfg.GoogleAPIKey, cfg.RouteTimeout)
		if err != nil {
			return nil, err
		}
		base = google
	default:
		base = routing.NewOSRMClient(cfg.OSRMURL, cfg.RouteTimeout, nil)
	}

	if redisAddr == "" {
		return base, nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr, Password: redisPassword, DB: redisDB})
	log.Info("route cache enabled", zap.String("addr", redisAddr), zap.Duration("ttl", cfg.RouteCacheTTL))
	return routing.NewCachedRouter(base, routing.NewRedisRouteCache(client), cfg.RouteCacheTTL, log), nil
}
