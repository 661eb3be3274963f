package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vadim/neo-publisher/internal/config"
	httpcontroller "github.com/vadim/neo-publisher/internal/controller/http"
	"github.com/vadim/neo-publisher/internal/database"
	creditdao "github.com/vadim/neo-publisher/internal/domain/credit/dao"
	creditservice "github.com/vadim/neo-publisher/internal/domain/credit/service"
	dlqpolicy "github.com/vadim/neo-publisher/internal/domain/dlq/policy"
	"github.com/vadim/neo-publisher/internal/domain/platform"
	postdao "github.com/vadim/neo-publisher/internal/domain/post/dao"
	postentity "github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
	"github.com/vadim/neo-publisher/internal/domain/post/retry"
	"github.com/vadim/neo-publisher/internal/domain/post/scheduler"
	postservice "github.com/vadim/neo-publisher/internal/domain/post/service"
	sessiondao "github.com/vadim/neo-publisher/internal/domain/session/dao"
	sessionservice "github.com/vadim/neo-publisher/internal/domain/session/service"
	"github.com/vadim/neo-publisher/internal/httpx/response"
	"github.com/vadim/neo-publisher/internal/httpx/upstream/instagram"
	"github.com/vadim/neo-publisher/internal/httpx/upstream/payment"
	"github.com/vadim/neo-publisher/internal/httpx/upstream/relay"
	"github.com/vadim/neo-publisher/internal/httpx/upstream/youtube"
	"github.com/vadim/neo-publisher/internal/secret"
	"github.com/vadim/neo-publisher/internal/storage"
)

// requestTimeout bounds every request. It stays above the longest outcome wait.
const requestTimeout = httpcontroller.MaxOutcomeWait + 30*time.Second

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure, nil when not configured
	pg      *pgxpool.Pool
	rdb     *redis.Client
	storage *storage.S3Storage

	// Domain layers (interfaces for HTTP handlers)
	sessions     *sessionservice.Service
	postPolicy   *policy.Policy
	deadLetters  *dlqpolicy.Policy
	credits      *creditservice.Service
	creditMeter  *creditservice.Meter
	youtubeOAuth bool

	// Scheduler for delivering due posts
	scheduler *scheduler.Scheduler
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := NewLogger(cfg.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(requestTimeout))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	if err := app.initDomains(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	if err := app.registerRoutes(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("registering routes: %w", err)
	}

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Scheduler.Enabled {
		app.scheduler = scheduler.New(app.postPolicy, cfg.Scheduler.Interval, logger)
	}

	return app, nil
}

// NewLogger builds the process logger. Format "text" gives colored output for local runs.
func NewLogger(cfg config.Log) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// initInfrastructure connects to Postgres, Redis and object storage
func (a *App) initInfrastructure(ctx context.Context) error {
	if dsn := a.cfg.Database.PostgresDSN; dsn != "" {
		pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{
			MaxConns:     a.cfg.Database.MaxConns,
			MinConns:     a.cfg.Database.MinConns,
			ConnLifetime: a.cfg.Database.ConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pg = pool

		if a.cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, pool); err != nil {
				a.closeInfrastructure()
				return fmt.Errorf("migrating database: %w", err)
			}
		}
	} else {
		a.logger.Warn("DATABASE_URL is empty, using in-memory repositories")
	}

	if url := a.cfg.Redis.URL; url != "" {
		rdb, err := database.NewRedisClient(ctx, url)
		if err != nil {
			a.closeInfrastructure()
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.rdb = rdb
	}

	s3, err := storage.NewS3Storage(storage.S3Config{
		Endpoint:        a.cfg.S3.Endpoint,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		Bucket:          a.cfg.S3.Bucket,
		Region:          a.cfg.S3.Region,
		PublicURL:       a.cfg.S3.PublicURL,
	})
	if err != nil {
		a.closeInfrastructure()
		return fmt.Errorf("creating storage: %w", err)
	}
	a.storage = s3

	return nil
}

// initDomains initializes domain layers (DAO, Service, Policy)
func (a *App) initDomains(ctx context.Context) error {
	if err := a.initSessions(); err != nil {
		return err
	}
	a.initPosts()
	return a.initCredits(ctx)
}

func (a *App) initSessions() error {
	var (
		sessions   sessiondao.SessionRepository
		challenges sessiondao.ChallengeRepository
		guard      sessiondao.AccountGuard
	)
	if a.pg != nil {
		sessions = sessiondao.NewSessionPostgres(a.pg)
		challenges = sessiondao.NewChallengePostgres(a.pg)
	} else {
		sessions = sessiondao.NewSessionMemory()
		challenges = sessiondao.NewChallengeMemory()
	}
	if a.rdb != nil {
		guard = sessiondao.NewRedisGuard(a.rdb, a.logger)
	} else {
		guard = sessiondao.NewLocalGuard()
	}

	var sealer sessionservice.Sealer = secret.Plain{}
	if key := a.cfg.Session.SecretKey; key != "" {
		box, err := secret.NewBox(key)
		if err != nil {
			return fmt.Errorf("creating token sealer: %w", err)
		}
		sealer = box
	} else {
		a.logger.Warn("SESSION_SECRET_KEY is empty, platform tokens are stored unsealed")
	}

	bridge := relay.New(relay.WithBaseURL(a.cfg.Instagram.BridgeURL), relay.WithToken(a.cfg.Relay.Token))
	relayClient := a.relayClient()

	opts := []sessionservice.Option{
		sessionservice.WithAuthenticator(platform.Instagram, relay.NewAuthenticator(bridge, platform.Instagram)),
		sessionservice.WithAuthenticator(platform.TikTok, relay.NewAuthenticator(relayClient, platform.TikTok)),
		sessionservice.WithAuthenticator(platform.WhatsApp, relay.NewAuthenticator(relayClient, platform.WhatsApp)),
	}

	authorizer := a.youtubeAuthorizer()
	if authorizer.Configured() {
		opts = append(opts, sessionservice.WithOAuthProvider(platform.YouTube, authorizer))
		a.youtubeOAuth = true
	} else {
		a.logger.Warn("google oauth client is not configured, youtube authorization is disabled")
	}

	a.sessions = sessionservice.New(sessions, challenges, guard, sealer, sessionservice.Config{
		ChallengeAttempts: a.cfg.Session.ChallengeAttempts,
		ChallengeTTL:      a.cfg.Session.ChallengeTTL,
		ResendCooldown:    a.cfg.Session.ResendCooldown,
		GuardTTL:          a.cfg.Session.GuardTTL,
	}, a.logger, opts...)

	return nil
}

func (a *App) initPosts() {
	var posts postdao.PostRepository
	if a.pg != nil {
		posts = postdao.NewPostPostgres(a.pg)
	} else {
		posts = postdao.NewPostMemory()
	}
	svc := postservice.New(posts)

	igClient := instagram.New(
		instagram.WithBaseURL(a.cfg.Instagram.BaseURL),
		instagram.WithAPIVersion(a.cfg.Instagram.APIVersion),
	)
	relayClient := a.relayClient()

	publishers := map[platform.Platform]policy.Publisher{
		platform.Instagram: instagram.NewPublisher(igClient),
		platform.YouTube:   youtube.NewPublisher(a.youtubeAuthorizer(), a.storage),
		platform.TikTok:    relay.NewPublisher(relayClient, platform.TikTok),
		platform.WhatsApp:  relay.NewPublisher(relayClient, platform.WhatsApp),
	}

	a.postPolicy = policy.New(
		svc,
		retry.NewPolicy(retryRules(a.cfg.Retry)),
		&sessionGateAdapter{sessions: a.sessions},
		publishers,
		&mediaStorageAdapter{storage: a.storage},
		policy.Config{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			BatchSize:   a.cfg.Scheduler.BatchSize,
			Concurrency: a.cfg.Scheduler.Concurrency,
			StaleAfter:  a.cfg.Scheduler.StaleAfter,
		},
		a.logger,
	)

	a.deadLetters = dlqpolicy.New(svc, a.storage, a.cfg.Scheduler.RequeueDelay, a.logger)
}

func (a *App) initCredits(ctx context.Context) error {
	var store creditdao.Store
	if a.pg != nil {
		store = creditdao.NewCreditPostgres(a.pg)
	} else {
		store = creditdao.NewCreditMemory()
	}

	gateway := payment.New(
		payment.WithBaseURL(a.cfg.Payment.BaseURL),
		payment.WithAPIKey(a.cfg.Payment.APIKey),
		payment.WithHTTPClient(&http.Client{Timeout: a.cfg.Payment.Timeout}),
	)

	a.credits = creditservice.New(store, gateway, creditservice.Config{
		PollInterval: a.cfg.Credits.PollInterval,
		PollTimeout:  a.cfg.Credits.PollTimeout,
		PurchaseTTL:  a.cfg.Credits.PurchaseTTL,
	}, a.logger)
	a.creditMeter = creditservice.NewMeter(store, a.cfg.Credits.OperationCosts, a.logger,
		creditservice.WithReservationTTL(a.cfg.Credits.ReservationTTL))

	if err := a.credits.ResumePending(ctx); err != nil {
		return fmt.Errorf("resuming pending purchases: %w", err)
	}
	return nil
}

func (a *App) relayClient() *relay.Client {
	return relay.New(
		relay.WithBaseURL(a.cfg.Relay.BaseURL),
		relay.WithToken(a.cfg.Relay.Token),
		relay.WithHTTPClient(&http.Client{Timeout: a.cfg.Relay.Timeout}),
	)
}

func (a *App) youtubeAuthorizer() *youtube.Authorizer {
	return youtube.NewAuthorizer(youtube.Config{
		ClientID:     a.cfg.YouTube.ClientID,
		ClientSecret: a.cfg.YouTube.ClientSecret,
		RedirectURL:  a.cfg.YouTube.RedirectURL,
	})
}

// retryRules maps the retry configuration onto per-kind rules
func retryRules(cfg config.Retry) retry.Rules {
	return retry.Rules{
		postentity.ErrorKindRateLimit: {
			InitialDelay: cfg.RateLimitDelay,
			Multiplier:   cfg.Multiplier,
			MaxDelay:     cfg.RateLimitMaxDelay,
		},
		postentity.ErrorKindNetwork: {
			InitialDelay: cfg.NetworkDelay,
			Multiplier:   cfg.Multiplier,
			MaxDelay:     cfg.NetworkMaxDelay,
		},
		postentity.ErrorKindQuotaExceeded: {
			InitialDelay: cfg.QuotaWindow,
			Multiplier:   1,
			MaxDelay:     cfg.QuotaWindow,
		},
		postentity.ErrorKindAuth: {
			Budget:       cfg.AuthBudget,
			InitialDelay: cfg.AuthDelay,
			Multiplier:   1,
			MaxDelay:     cfg.AuthDelay,
		},
		postentity.ErrorKindContent: {
			Budget:       cfg.ContentBudget,
			InitialDelay: cfg.ContentDelay,
			Multiplier:   1,
			MaxDelay:     cfg.ContentDelay,
		},
		postentity.ErrorKindUnknown: {
			Budget:       cfg.UnknownBudget,
			InitialDelay: cfg.UnknownDelay,
			Multiplier:   cfg.Multiplier,
			MaxDelay:     10 * cfg.UnknownDelay,
		},
	}
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() error {
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)
	a.router.Handle("/metrics", promhttp.Handler())

	swaggerHandler, err := httpcontroller.NewSwaggerHandler("Neo-Publisher API", OpenAPISpec)
	if err != nil {
		return err
	}
	swaggerHandler.RegisterRoutes(a.router)

	validate := httpcontroller.NewValidator()

	a.router.Route("/api/v1", func(r chi.Router) {
		httpcontroller.NewSchedulerHandler(a.postPolicy, validate).RegisterRoutes(r)
		httpcontroller.NewMediaHandler(&mediaStorageAdapter{storage: a.storage}, a.logger).RegisterRoutes(r)
		httpcontroller.NewDLQHandler(a.deadLetters, validate).RegisterRoutes(r)
		httpcontroller.NewSessionHandler(a.sessions, validate).RegisterRoutes(r)
		httpcontroller.NewYouTubeHandler(a.sessions, validate, a.cfg.YouTube.ReturnURL).RegisterRoutes(r)
		httpcontroller.NewCreditHandler(a.credits, a.creditMeter, validate, a.cfg.Credits.DefaultOwner).RegisterRoutes(r)
	})

	return nil
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// readyHandler reports whether every configured dependency answers
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	var failed bool
	check := func(name string, err error) {
		if err != nil {
			failed = true
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if a.pg != nil {
		check("postgres", a.pg.Ping(ctx))
	}
	if a.rdb != nil {
		check("redis", a.rdb.Ping(ctx).Err())
	}
	check("storage", a.storage.Ping(ctx))

	if failed {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": checks})
		return
	}
	response.OK(w, map[string]any{"status": "ready", "checks": checks})
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	if err := a.postPolicy.RecoverStale(ctx); err != nil {
		a.logger.Error("failed to recover stale posts", "error", err)
	}
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			"addr", a.cfg.Server.Address(),
			"postgres", a.pg != nil,
			"redis", a.rdb != nil,
			"youtube_oauth", a.youtubeOAuth,
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	a.credits.Shutdown()
	a.closeInfrastructure()

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("closing redis", "error", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
