// Package main provides the main entry point for the Kakehashi affiliate marketplace
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/amirphl/Kakehashi/app/handlers"
	"github.com/amirphl/Kakehashi/app/middleware"
	"github.com/amirphl/Kakehashi/app/realtime"
	"github.com/amirphl/Kakehashi/app/router"
	"github.com/amirphl/Kakehashi/app/scheduler"
	"github.com/amirphl/Kakehashi/app/services"
	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/amirphl/Kakehashi/config"
	_ "github.com/amirphl/Kakehashi/docs"
	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/repository"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	realtime  *realtime.Server
	wsServer  *http.Server
	runner    *services.BackgroundTaskRunner
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	closeLog, err := utils.InitLogger(utils.LogOptions{
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = closeLog() }()

	log.Printf("Starting Kakehashi %s (%s, commit %s, built %s)...",
		cfg.Deployment.Version, cfg.Deployment.Environment, cfg.Deployment.CommitHash, cfg.Deployment.BuildTime)

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.router.Start(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	if app.wsServer != nil {
		go func() {
			log.Printf("Realtime server starting on %s%s", app.wsServer.Addr, cfg.Realtime.Path)
			if err := serveRealtime(app.wsServer, cfg.Security); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Failed to start realtime server: %v", err)
			}
		}()
	}

	<-sigChan
	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if app.wsServer != nil {
		// hijacked sockets are not tracked by http.Server
		app.realtime.Shutdown()
		if err := app.wsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during realtime shutdown: %v", err)
		}
	}

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// in-flight click writes get the rest of the shutdown budget
	if err := app.runner.Shutdown(shutdownCtx); err != nil {
		log.Printf("Click recording did not drain: %v", err)
	}

	log.Println("Server stopped")
}

// gormLogLevel maps LOG_LEVEL onto gorm. Slow queries are only reported at warn or below.
func gormLogLevel(level string, slowQueryLog bool) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return gormlogger.Info
	case "error":
		return gormlogger.Error
	case "silent":
		return gormlogger.Silent
	}
	if !slowQueryLog {
		return gormlogger.Error
	}
	return gormlogger.Warn
}

// serveRealtime serves the websocket listener, over TLS when the API does
func serveRealtime(srv *http.Server, sec config.SecurityConfig) error {
	if sec.TLSEnabled {
		return srv.ListenAndServeTLS(sec.TLSCertFile, sec.TLSKeyFile)
	}
	return srv.ListenAndServe()
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	dbLogger := gormlogger.New(utils.NewComponentLogger("gorm"), gormlogger.Config{
		SlowThreshold:             cfg.SlowQueryTime,
		LogLevel:                  gormLogLevel(logLevel, cfg.SlowQueryLog),
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         dbLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.AllModels()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Println("Database schema migrated")
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to surface connectivity issues.
// The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeGeoLocator opens the GeoIP database when configured and puts the Redis cache in front
func initializeGeoLocator(cfg config.TrackingConfig, rc *redis.Client, prefix string) (services.GeoLocator, func(), error) {
	var geo services.GeoLocator = services.NoopGeoLocator{}
	closeFn := func() {}
	if cfg.GeoIPDatabasePath != "" {
		mm, err := services.NewMaxMindGeoLocator(cfg.GeoIPDatabasePath)
		if err != nil {
			return nil, closeFn, fmt.Errorf("failed to open geoip database: %w", err)
		}
		geo = mm
		closeFn = func() { _ = mm.Close() }
		log.Printf("GeoIP database loaded from %s", cfg.GeoIPDatabasePath)
	}
	return services.NewCachedGeoLocator(geo, rc, prefix, cfg.GeoCacheTTL), closeFn, nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	loc, err := cfg.Tracking.ReferenceLocation()
	if err != nil {
		return nil, err
	}

	db, err := initializeDatabase(cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, 0))
	}

	// Initialize repositories
	offerRepo := repository.NewOfferRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	clickRepo := repository.NewClickEventRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// Initialize services
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	var trackingCache services.TrackingCache
	if rc != nil {
		trackingCache = services.NewRedisTrackingCache(rc, cfg.Cache.RedisPrefix, cfg.Tracking.CodeCacheTTL)
	}

	geo, closeGeo, err := initializeGeoLocator(cfg.Tracking, rc, cfg.Cache.RedisPrefix)
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, closeGeo)

	runner := services.NewBackgroundTaskRunner(cfg.Tracking.MaxInFlight, cfg.Tracking.RecordTimeout, utils.NewComponentLogger("clicks"))

	// Initialize flows
	trackingFlow := businessflow.NewTrackingFlow(applicationRepo, offerRepo, trackingCache)
	aggregates := businessflow.NewAggregateUpdater(clickRepo, analyticsRepo, loc)
	clickRecorder := businessflow.NewClickRecorder(applicationRepo, clickRepo, geo, aggregates)
	approvalFlow := businessflow.NewApplicationApprovalFlow(applicationRepo, offerRepo, rc, cfg.Cache.RedisPrefix, cfg.Server.PublicBaseURL)
	conversationFlow := businessflow.NewConversationFlow(conversationRepo, messageRepo, applicationRepo, offerRepo, db)
	analyticsFlow := businessflow.NewAnalyticsFlow(analyticsRepo, clickRepo, applicationRepo, offerRepo, loc)

	// Initialize handlers
	trackingHandler := handlers.NewTrackingHandler(trackingFlow, clickRecorder, runner)
	applicationHandler := handlers.NewApplicationHandler(approvalFlow)
	conversationHandler := handlers.NewConversationHandler(conversationFlow)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsFlow)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	appRouter := router.NewFiberRouter(
		cfg,
		trackingHandler,
		applicationHandler,
		conversationHandler,
		analyticsHandler,
		authMiddleware,
	)

	application := &Application{
		router: appRouter,
		config: cfg,
		server: appRouter.GetApp(),
		runner: runner,
	}

	if cfg.Realtime.Enabled {
		registry := realtime.NewRegistry()
		rtLogger := utils.NewComponentLogger("realtime")
		msgRouter := realtime.NewMessageRouter(conversationFlow, registry, cfg.Realtime.TypingExpiry, rtLogger)
		application.realtime = realtime.NewServer(tokenService, msgRouter, registry, realtime.Options{
			AllowedOrigins:     cfg.Realtime.AllowedOrigins,
			InsecureSkipVerify: cfg.Realtime.InsecureSkipVerify,
			SendBuffer:         cfg.Realtime.SendBuffer,
			PingInterval:       cfg.Realtime.PingInterval,
			WriteTimeout:       cfg.Realtime.WriteTimeout,
			ReadLimit:          cfg.Realtime.ReadLimit,
		}, rtLogger)

		mux := http.NewServeMux()
		mux.Handle(cfg.Realtime.Path, application.realtime)
		application.wsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Realtime.Host, cfg.Realtime.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	sched := scheduler.NewMaintenanceScheduler(approvalFlow, analyticsFlow, cfg.Scheduler, loc, utils.NewComponentLogger("scheduler"))
	stopScheduler, err := sched.Start(context.Background())
	if err != nil {
		return nil, err
	}
	// the scheduler stops before the geo database closes
	stopFuncs = append([]func(){stopScheduler}, stopFuncs...)

	application.stopFuncs = stopFuncs
	return application, nil
}
