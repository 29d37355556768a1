package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/mail"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/metrics"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/service"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	redisstore "github.com/KasunCSB/University-Information-System-sub001/internal/auth/store/drivers/redis"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store/drivers/sqlite"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/httpx"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application holds the auth core and its dependencies. The HTTP layer of
// the portal embeds it and calls the services; Run only drives the
// background work and the metrics listener.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db          store.Store
	redis       redis.UniversalClient // nil unless REVOCATION_BACKEND=redis
	revocations store.Revocations
	mailer      mail.Mailer

	// Services
	tokenService        *service.TokenService
	revocationService   *service.RevocationService
	verificationService *service.VerificationService
	registrationService *service.RegistrationService
	resetService        *service.PasswordResetService
	sessionService      *service.SessionService
	housekeepingService *service.HousekeepingService

	metricsServer *http.Server // nil when METRICS_ADDR is empty
}

// New creates a new Application with all dependencies initialized. Any
// configuration problem is returned wrapped in service.ErrConfiguration.
func New(cfg Config) (*Application, error) {
	return NewWithLogger(cfg, slogx.New(slogx.Config{
		Service: "uis-auth",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	}))
}

func NewWithLogger(cfg Config, logger *slog.Logger) (*Application, error) {
	app := &Application{cfg: cfg, logger: logger}

	if err := cryptox.LoadPepper(cfg.PepperFile); err != nil {
		return nil, fmt.Errorf("%w: pepper: %w", service.ErrConfiguration, err)
	}

	secrets, err := LoadSecrets(cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := service.NewTokenService(service.TokenConfig{
		AccessSecret:  secrets.Access,
		RefreshSecret: secrets.Refresh,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}
	app.tokenService = tokens

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initRevocations(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initMailer()
	app.initServices()

	if cfg.MetricsAddr != "" {
		app.metricsServer = metrics.NewServer(cfg.MetricsAddr, app.health)
	}

	return app, nil
}

// Run starts the background work and blocks until a shutdown signal.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.RunContext(ctx)
}

// RunContext is Run with the caller deciding when to stop.
func (app *Application) RunContext(ctx context.Context) error {
	app.housekeepingService.Start()
	if app.metricsServer != nil {
		metrics.Serve(app.metricsServer, app.logger)
	}

	app.logger.Info("auth core running",
		"version", BuildVersion,
		"revocation_backend", app.cfg.RevocationBackend,
		"mailer", app.cfg.Mailer,
	)

	<-ctx.Done()
	app.logger.Info("shutdown requested")
	return app.Shutdown()
}

// Shutdown stops background work and releases connections.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth core...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			app.logger.Error("graceful metrics shutdown failed", "error", err)
			_ = app.metricsServer.Close()
		}
	}

	app.housekeepingService.Stop()

	var errs []error
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
			errs = append(errs, err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		errs = append(errs, err)
	}

	app.logger.Info("auth core stopped")
	return errors.Join(errs...)
}

// initDatabase opens the sqlite store and applies migrations.
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

// initRevocations picks where the deny list is persisted.
func (app *Application) initRevocations() error {
	switch app.cfg.RevocationBackend {
	case RevocationBackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{app.cfg.RedisAddr},
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to reach redis at %s: %w", app.cfg.RedisAddr, err)
		}

		app.redis = client
		app.revocations = redisstore.NewRevocations(client, redisstore.WithPrefix(app.cfg.RedisPrefix))
		app.logger.Info("revocations stored in redis", "addr", app.cfg.RedisAddr)
	default:
		app.revocations = app.db.Revocations()
	}
	return nil
}

func (app *Application) initMailer() {
	switch app.cfg.Mailer {
	case MailerSMTP:
		app.mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Addr:          app.cfg.SMTPAddr,
			User:          app.cfg.SMTPUser,
			Password:      app.cfg.SMTPPassword,
			From:          app.cfg.SMTPFrom,
			UseTLS:        app.cfg.SMTPUseTLS,
			Timeout:       app.cfg.SMTPTimeout,
			SubjectPrefix: app.cfg.SMTPSubjectPrefix,
		}, app.cfg.PublicBaseURL, map[mail.Template]time.Duration{
			mail.TemplateVerifyEmail:   app.cfg.VerificationTTL,
			mail.TemplateResetPassword: app.cfg.ResetTTL,
		})
	default:
		app.logger.Warn("log mailer in use, emails are not delivered")
		app.mailer = mail.LogMailer{BaseURL: app.cfg.PublicBaseURL}
	}
}

// initServices wires the services together.
func (app *Application) initServices() {
	app.revocationService = service.NewRevocationService(app.revocations, app.tokenService)

	app.verificationService = service.NewVerificationService(app.db, service.VerificationConfig{
		EmailVerificationTTL: app.cfg.VerificationTTL,
		PasswordResetTTL:     app.cfg.ResetTTL,
		IssueInterval:        app.cfg.IssueInterval,
		IssueBurst:           app.cfg.IssueBurst,
	})

	app.registrationService = &service.RegistrationService{
		Store:        app.db,
		Verification: app.verificationService,
		Mailer:       app.mailer,
	}
	app.resetService = &service.PasswordResetService{
		Store:        app.db,
		Verification: app.verificationService,
		Mailer:       app.mailer,
	}
	app.sessionService = &service.SessionService{
		Store:       app.db,
		Tokens:      app.tokenService,
		Revocations: app.revocationService,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.revocationService,
		app.verificationService,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) health(ctx context.Context) error {
	if err := app.db.Ping(ctx); err != nil {
		return err
	}
	if app.redis != nil {
		return app.redis.Ping(ctx).Err()
	}
	return nil
}

func (app *Application) Logger() *slog.Logger                         { return app.logger }
func (app *Application) Tokens() *service.TokenService                { return app.tokenService }
func (app *Application) Revocations() *service.RevocationService      { return app.revocationService }
func (app *Application) Verification() *service.VerificationService   { return app.verificationService }
func (app *Application) Registration() *service.RegistrationService   { return app.registrationService }
func (app *Application) PasswordReset() *service.PasswordResetService { return app.resetService }
func (app *Application) Sessions() *service.SessionService            { return app.sessionService }

// Authn is the middleware the HTTP layer puts in front of protected
// routes: it verifies the bearer access token and consults the deny list.
func (app *Application) Authn() httpx.Middleware {
	return httpx.AuthnMiddleware(app.tokenService.AccessVerifier(), app.revocationService)
}
