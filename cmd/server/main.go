package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gdscore/scoreboard-server/internal/auth"
	"github.com/gdscore/scoreboard-server/internal/config"
	"github.com/gdscore/scoreboard-server/internal/handler"
	"github.com/gdscore/scoreboard-server/internal/hub"
	"github.com/gdscore/scoreboard-server/internal/jobs"
	"github.com/gdscore/scoreboard-server/internal/middleware"
	"github.com/gdscore/scoreboard-server/internal/model"
	"github.com/gdscore/scoreboard-server/internal/power"
	"github.com/gdscore/scoreboard-server/internal/ratelimit"
	"github.com/gdscore/scoreboard-server/internal/redis"
	"github.com/gdscore/scoreboard-server/internal/service"
	"github.com/gdscore/scoreboard-server/internal/socket"
	"github.com/gdscore/scoreboard-server/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := cfg.IsProduction()
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	clock := clockwork.NewRealClock()

	var upgradeLimiter ratelimit.Limiter = ratelimit.NewMemory(clock)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), config.RedisPingTimeout)
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		upgradeLimiter = ratelimit.NewRedis(redisClient.Client, clock)
		log.Info().Msg("redis connected")
	}

	validator := auth.NewSharedSecret(cfg.Secret, cfg.SecretHash)

	sessionStore := store.New(
		store.WithClock(clock),
		store.WithDefaults(model.SessionDefaults{
			HomeTeamName: cfg.DefaultHomeTeam,
			AwayTeamName: cfg.DefaultAwayTeam,
			Period:       cfg.DefaultPeriod,
		}),
	)
	registry := hub.NewRegistry(validator, sessionStore,
		hub.WithClock(clock),
		hub.WithAckTimeout(cfg.AckTimeout()),
	)
	dispatcher := power.NewDispatcher(power.EnvSource{},
		power.WithTimeout(cfg.WebhookTimeout()),
		power.WithRetryMax(cfg.WebhookRetryMax),
	)

	syncService := service.NewSyncService(sessionStore, registry, validator)
	powerService := service.NewPowerService(sessionStore, dispatcher, validator)

	socketHandler := handler.NewSocketHandler(handler.SocketHandlerParams{
		Upgrader:     socket.NewUpgrader(cfg.CORSOrigins()),
		SocketConfig: socket.DefaultConfig(),
		Registry:     registry,
		SyncService:  syncService,
		PowerService: powerService,
		Limiter:      ratelimit.NewMemory(clock),
		MessageLimit: cfg.MessageRateLimitPerMin,
	})
	debugHandler := handler.NewDebugHandler(registry)

	upgradeLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		upgradeLimiter, cfg.UpgradeRateLimitPerMin, config.UpgradeRateWindow, "upgrade",
	)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware.Handler)

	r.With(upgradeLimitMiddleware.Handler).Get("/socket", socketHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(securityHeadersMiddleware.Handler)

		r.Get("/health", handler.Health)
		r.Handle("/metrics", promhttp.Handler())
		r.Mount("/debug", debugHandler.Routes())
	})

	statsJob := jobs.NewStatsJob(sessionStore, registry, cfg.StatsInterval(), clock)
	statsJob.Start()
	defer statsJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}
	server.RegisterOnShutdown(socketHandler.CloseAll)

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Bool("production", isProduction).
			Bool("redis", cfg.RedisURL != "").
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
