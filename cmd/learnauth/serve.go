package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	auth "github.com/goliatone/go-learner-auth"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const appname = "learnauth"

func newServeCmd(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			displayAppname(appname)
			return a.serve(cmd.Context(), migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations on start")
	return cmd
}

func (a *app) serve(parent context.Context, migrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	logger := a.logger

	db, err := auth.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		applied, err := auth.Migrate(ctx, db)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", len(applied))
	}

	repo := auth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	if cfg.MagicLink.LogLinks {
		logger.Warn("magic link tokens are written to the log")
	}

	notifier := auth.NewWelcomeNotifier(
		auth.NewLogMailer(logger.Named("mailer")).RevealLinks(cfg.MagicLink.LogLinks),
		cfg.MagicLink.BaseURL,
		logger.Named("notifier"),
	)

	activityLogger := logger.Named("activity")
	activity := auth.CombineActivitySinks(notifier, auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		activityLogger.Info(string(event.EventType), "email", event.Email, "tier", event.Tier, "source", event.Source)
		return nil
	}))

	provisioner := auth.NewProvisioner(repo.Profiles(),
		auth.WithTierRules(cfg.Tiers),
		auth.WithMagicLinkTTL(cfg.MagicLink.TTL),
		auth.WithSingleUseMagicLinks(cfg.MagicLink.SingleUse),
		auth.WithActivitySink(activity),
		auth.WithProvisionerLogger(logger.Named("provisioner")),
	)

	audit, closeAudit, err := a.auditLog(ctx)
	if err != nil {
		return err
	}
	defer closeAudit()

	ingestor := auth.NewWebhookIngestor(provisioner, audit,
		auth.WithWebhookSource(cfg.Webhook.Source),
		auth.WithWebhookSecret(cfg.Webhook.Secret),
		auth.WithWebhookLogger(logger.Named("webhook")),
	)

	tokens, err := auth.NewTokenService(cfg, auth.WithTokenLogger(logger.Named("tokens")))
	if err != nil {
		return err
	}

	sessions := auth.NewSessionStore(tokens, cfg,
		auth.WithExtraCookieNames(cfg.Session.ExtraCookies...),
		auth.WithLegacyUpgrade(cfg.Session.LegacyUpgrade),
		auth.WithSessionLogger(logger.Named("sessions")),
	)

	limiter := auth.NewRateLimiter("webhook", cfg.Server.WebhookRate, cfg.Server.WebhookBurst)

	controller := auth.NewController(
		auth.WithControllerLogger(logger.Named("http")),
		auth.WithSessions(sessions),
		auth.WithIngestor(ingestor),
		auth.WithProvisioner(provisioner),
		auth.WithProfiles(repo.Profiles()),
		auth.WithAdminEmails(cfg.Admin.Emails...),
		auth.WithMagicRedirects(cfg.MagicLink.Redirect, cfg.MagicLink.FailRedirect),
		auth.WithWebhookMiddleware(limiter.Middleware()),
		auth.WithDebug(cfg.Server.Debug),
	)

	srv := router.NewFiberAdapter(func(fa *fiber.App) *fiber.App {
		app := router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               appname,
			UnescapePath:          true,
			DisableStartupMessage: true,
			StrictRouting:         false,
		}))
		app.Use(auth.FiberClientIP())
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
		return app
	})

	controller.RegisterRoutes(srv.Router())

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.Serve(cfg.Server.Addr); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server exited properly")
	return nil
}

func (a *app) auditLog(ctx context.Context) (auth.AuditLog, func(), error) {
	cfg := a.cfg.Audit

	if cfg.Backend != auth.AuditBackendRedis {
		return auth.NewRingAuditLog(cfg.Capacity), func() {}, nil
	}

	audit, err := auth.NewRedisAuditLogWithURL(a.cfg.Redis.URL, cfg.Key, cfg.Capacity)
	if err != nil {
		return nil, nil, err
	}

	if err := audit.Ping(ctx); err != nil {
		audit.Close()
		return nil, nil, fmt.Errorf("redis audit log: %w", err)
	}

	return audit, func() {
		if err := audit.Close(); err != nil {
			a.logger.Warn("closing redis audit log", "error", err)
		}
	}, nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
