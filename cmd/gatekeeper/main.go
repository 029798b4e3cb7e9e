package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"gatekeeper/internal/api"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/clock"
	"gatekeeper/internal/config"
	"gatekeeper/internal/db"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/proxy"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/scheduler"
	"gatekeeper/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// app is the assembled gatekeeper: the router plus everything that needs
// closing on shutdown.
type app struct {
	router    *gin.Engine
	scheduler *scheduler.Scheduler
	closers   []func() error
}

func (a *app) Close() {
	a.scheduler.Stop()
	for _, closeFn := range a.closers {
		_ = closeFn()
	}
}

func setup(cfg *config.Config, log *slog.Logger, clk clock.Clock) (*app, error) {
	a := &app{}
	var jobs []scheduler.Job

	var redisClient *redis.Client
	if cfg.RateLimit.Store == "redis" || cfg.Auth.RevocationStore == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, redisClient.Close)
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	var store ratelimit.Store
	switch cfg.RateLimit.Store {
	case "redis":
		store = ratelimit.NewRedisStore(redisClient, cfg.Redis.Prefix)
	default:
		memStore := ratelimit.NewMemoryStore()
		jobs = append(jobs, scheduler.Job{Name: "ratelimit", Sweeper: memStore})
		store = memStore
	}

	var index token.RevocationIndex
	switch cfg.Auth.RevocationStore {
	case "redis":
		index = token.NewRedisIndex(redisClient, cfg.Redis.Prefix, clk)
	case "database":
		database, err := db.NewService(cfg.Database)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := database.GetDB().DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		jobs = append(jobs, scheduler.Job{Name: "tokens", Sweeper: database})
		index = database
		log.Info("Database initialized", "type", cfg.Database.Type)
	default:
		memIndex := token.NewMemoryIndex()
		jobs = append(jobs, scheduler.Job{Name: "tokens", Sweeper: memIndex})
		index = memIndex
	}

	tokens, err := token.NewService(token.Config{
		Secret:             []byte(cfg.Auth.JWTSecret),
		Issuer:             cfg.Auth.Issuer,
		Audience:           cfg.Auth.Audience,
		DefaultTTL:         time.Duration(cfg.Auth.DefaultTTL) * time.Second,
		MaxTTL:             time.Duration(cfg.Auth.MaxTTL) * time.Second,
		DefaultPermissions: cfg.Auth.DefaultPermissions,
	}, index, clk, log)
	if err != nil {
		return nil, err
	}

	var upstream gin.HandlerFunc
	if cfg.Upstream.URL != "" {
		u, err := proxy.New(cfg.Upstream.URL, log)
		if err != nil {
			return nil, err
		}
		upstream = u.Handler()
	} else {
		log.Warn("upstream.url not set, business routes will answer 503")
	}

	recorder := metrics.New()
	a.scheduler = scheduler.NewScheduler(cfg.RateLimit.SweepSchedule, jobs, clk, log, recorder)

	router := gin.New()
	router.Use(customRecovery(log))
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	api.SetupRoutes(router, api.Dependencies{
		Config: cfg,
		Limiter: ratelimit.NewLimiter(store, ratelimit.Limits{
			Window: cfg.RateLimit.Window,
			IPMax:  cfg.RateLimit.IPMax,
			OrgMax: cfg.RateLimit.OrgMax,
		}, clk),
		Tokens:   tokens,
		Gate:     auth.NewGate(tokens, log, recorder),
		Upstream: upstream,
		Metrics:  recorder,
		Logger:   log,
	})
	a.router = router
	return a, nil
}

func main() {
	// Load configuration
	cfg, warnings, err := config.LoadConfig("config.yaml")
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	for _, warning := range warnings {
		log.Warn(warning)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := setup(cfg, log, clock.Real{})
	if err != nil {
		log.Error("Error initializing gatekeeper", "error", err)
		os.Exit(1)
	}

	if err := a.scheduler.Start(); err != nil {
		log.Error("Error starting scheduler", "error", err)
		os.Exit(1)
	}
	log.Info("Scheduler started", "schedule", cfg.RateLimit.SweepSchedule)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	a.Close()

	log.Info("Server exiting")
}
