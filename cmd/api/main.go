package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/kustom-promo/internal/auth"
	"github.com/noah-isme/kustom-promo/internal/catalog"
	"github.com/noah-isme/kustom-promo/internal/checkout"
	"github.com/noah-isme/kustom-promo/internal/common"
	"github.com/noah-isme/kustom-promo/internal/config"
	"github.com/noah-isme/kustom-promo/internal/health"
	"github.com/noah-isme/kustom-promo/internal/lock"
	"github.com/noah-isme/kustom-promo/internal/obs"
	"github.com/noah-isme/kustom-promo/internal/orderhistory"
	"github.com/noah-isme/kustom-promo/internal/pricing"
	"github.com/noah-isme/kustom-promo/internal/ratelimit"
	"github.com/noah-isme/kustom-promo/internal/redemption"
	"github.com/noah-isme/kustom-promo/internal/resilience"
	"github.com/noah-isme/kustom-promo/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "promo")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "kustom-promo",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL, obs.PGXTracer{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	promoStore := store.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	loader, err := catalog.NewLoader(catalog.LoaderConfig{
		Repository: promoStore,
		Cache:      catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog loader")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Loader: loader})

	history, err := orderHistory(cfg, promoStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise order history")
	}

	var sessions checkout.SessionStore
	var locker lock.Interface
	switch cfg.SessionStore {
	case config.SessionStoreMemory:
		sessions = checkout.NewMemoryStore()
		locker = lock.NewLocal()
	default:
		sessions = checkout.NewRedisStore(redisClient, cfg.SessionTTL)
		locker = lock.Locker{R: redisClient, RetryBackoff: 25 * time.Millisecond}
	}

	taskRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis url")
	}
	taskClient := asynq.NewClient(taskRedis)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	checkoutSvc, err := checkout.NewService(checkout.Config{
		Sessions:    sessions,
		Locker:      locker,
		Promotions:  loader,
		Validator:   promoStore,
		History:     history,
		Redemptions: redemption.Enqueuer{Client: taskClient},
		Policy: pricing.Policy{
			ShippingFlat:     cfg.ShippingFlat,
			FreeShippingFrom: cfg.FreeShippingFrom,
			TaxBps:           cfg.TaxRateBps,
		},
		Currency: cfg.CurrencyCode,
		LockTTL:  cfg.LockTTL,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise checkout service")
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Tokens: verifier, AccessCookie: envOrDefault("AUTH_ACCESS_COOKIE", "")}

	applyRate, err := limiter.NewRateFromFormatted(cfg.PromoApplyRate)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.PromoApplyRate).Msg("parse promotion apply rate")
	}
	applyLimiter, err := ratelimit.NewRedisFixedWindow(redisClient, "rl:promo-apply")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise apply limiter")
	}
	onLimiterError := func(err error) {
		logger.Warn().Err(err).Msg("rate limiter unavailable")
	}
	applyLimit := ratelimit.Handler{
		Limiter: applyLimiter,
		Config:  ratelimit.Config{Key: ratelimit.KeyByIP("apply:"), Window: applyRate.Period, Max: int(applyRate.Limit)},
		OnError: onLimiterError,
	}
	startLimit := ratelimit.Handler{
		Limiter: ratelimit.SlidingWindow{Client: redisClient, Prefix: "rl:session-start"},
		Config: ratelimit.Config{
			Key:    ratelimit.KeyByIP("start:"),
			Window: time.Minute,
			Max:    envInt("SESSION_START_LIMIT_PER_MIN", 30),
		},
		OnError: onLimiterError,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	checkoutHandler := &checkout.Handler{
		Svc:         checkoutSvc,
		Validate:    validator.New(validator.WithRequiredStructEnabled()),
		StartLimit:  startLimit.Middleware,
		ApplyLimit:  applyLimit.Middleware,
		RequireAuth: authMiddleware.RequireAuth,
		Idempotency: idem.Middleware,
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{DB: pool, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.Authenticate)
		v.Get("/promotions", catalogHandler.Promotions)
		v.Route("/checkout/sessions", checkoutHandler.Routes)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

// orderHistory prefers the remote order service when configured and falls
// back to the local orders table.
func orderHistory(cfg *config.Config, local checkout.OrderHistory, logger zerolog.Logger) (checkout.OrderHistory, error) {
	if cfg.OrderHistoryURL == "" {
		return local, nil
	}
	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).
		WithTarget("order_history").
		WithLogger(logger)
	return orderhistory.NewClient(orderhistory.Config{
		BaseURL:     cfg.OrderHistoryURL,
		Timeout:     cfg.OutboundTimeout,
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitter(),
		Breaker:     breaker,
		Logger:      &logger,
	})
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
