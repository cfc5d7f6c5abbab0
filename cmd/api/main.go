package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crm-auth/internal/config"
	"crm-auth/internal/db"
	"crm-auth/internal/email"
	apihttp "crm-auth/internal/http"
	"crm-auth/internal/metrics"
	"crm-auth/internal/repository"
	"crm-auth/internal/repository/memory"
	"crm-auth/internal/service"
)

type repositories struct {
	users       repository.UserRepository
	workspaces  repository.WorkspaceRepository
	tokens      repository.TokenRepository
	sessions    repository.SessionRepository
	backupCodes repository.BackupCodeRepository
	close       func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	repos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage init", zap.Error(err))
	}
	defer repos.close()

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	var (
		limiter      = service.NewMemoryRateLimiter(cfg.RateLimitWindow(), cfg.RateLimitMax)
		emailLimiter = service.NewMemoryRateLimiter(15*time.Minute, 3)
		totpLimiter  = service.NewMemoryRateLimiter(5*time.Minute, 5)
		denyList     = service.NewMemoryDenyList()
		oauthStates  = service.NewMemoryStateStore()
		redisClient  *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory state", zap.Error(err))
		} else {
			limiter = service.NewRedisRateLimiter(redisClient, cfg.RateLimitWindow(), cfg.RateLimitMax)
			emailLimiter = service.NewRedisRateLimiter(redisClient, 15*time.Minute, 3)
			totpLimiter = service.NewRedisRateLimiter(redisClient, 5*time.Minute, 5)
			denyList = service.NewRedisDenyList(redisClient)
			oauthStates = service.NewRedisStateStore(redisClient)
		}
		cancel()
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	authMetrics := metrics.New(registry)

	var oauthProvider service.OAuthProvider
	if cfg.GoogleEnabled() {
		oauthProvider = service.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, cfg.OAuthTimeout())
	} else {
		logger.Info("google oauth not configured")
	}

	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL(), cfg.RefreshTTL(), cfg.TwoFactorTTL())
	sessionSvc := service.NewSessionService(logger, repos.sessions, jwtSvc)
	authSvc := service.NewAuthService(logger, service.AuthConfig{
		AppBaseURL:        cfg.AppBaseURL,
		PasswordMinLength: cfg.PasswordMinLength,
		VerificationTTL:   cfg.VerificationTTL(),
		ResetTTL:          cfg.ResetTTL(),
	}, service.AuthServiceDeps{
		Users:        repos.users,
		Workspaces:   repos.workspaces,
		Tokens:       repos.tokens,
		Sessions:     sessionSvc,
		JWT:          jwtSvc,
		Email:        emailSender,
		DenyList:     denyList,
		EmailLimiter: emailLimiter,
		OAuth:        oauthProvider,
		OAuthStates:  oauthStates,
		Metrics:      authMetrics,
	})
	twoFactorSvc := service.NewTwoFactorService(logger, cfg.TOTPIssuer, repos.users, repos.backupCodes, sessionSvc, jwtSvc, totpLimiter, authMetrics)

	router := apihttp.NewRouter(apihttp.RouterDeps{
		Logger:          logger,
		Auth:            apihttp.NewAuthHandler(logger, authSvc),
		TwoFactor:       apihttp.NewTwoFactorHandler(logger, twoFactorSvc),
		JWT:             jwtSvc,
		DenyList:        denyList,
		Limiter:         limiter,
		RateLimitWindow: cfg.RateLimitWindow(),
		Metrics:         authMetrics,
		Gatherer:        registry,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// openRepositories usa Postgres si hay DATABASE_URL; si no, un store en memoria.
func openRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		store := memory.New()
		return repositories{
			users:       store.Users(),
			workspaces:  store.Workspaces(),
			tokens:      store.Tokens(),
			sessions:    store.Sessions(),
			backupCodes: store.BackupCodes(),
			close:       func() {},
		}, nil
	}

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return repositories{}, err
		}
	}
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return repositories{}, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx, pool); err != nil {
		pool.Close()
		return repositories{}, err
	}
	return repositories{
		users:       repository.NewPgUserRepository(pool),
		workspaces:  repository.NewPgWorkspaceRepository(pool),
		tokens:      repository.NewPgTokenRepository(pool),
		sessions:    repository.NewPgSessionRepository(pool),
		backupCodes: repository.NewPgBackupCodeRepository(pool),
		close:       pool.Close,
	}, nil
}
