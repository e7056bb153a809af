package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"autoblog/internal/api"
	"autoblog/internal/auth"
	"autoblog/internal/config"
	"autoblog/internal/db"
	"autoblog/internal/email"
	"autoblog/internal/identity"
	"autoblog/internal/ratelimit"
	"autoblog/internal/tracing"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting server", "name", cfg.Server.Name)

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Server.Name,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	if cfg.Tracing.Endpoint != "" {
		slog.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	database, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "driver", cfg.Database.Driver)

	users := db.NewUserRepository(database)
	sessions := db.NewSessionRepository(database)
	codeAttempts := db.NewCodeAttemptRepository(database)

	cleanupService := db.NewCleanupService(sessions, codeAttempts, db.DefaultCleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go cleanupService.Start(cleanupCtx)

	secret := []byte(cfg.Auth.Secret)
	tokens := auth.NewRegistry(auth.RegistryConfig{
		Secret:            secret,
		PasswordlessTTL:   cfg.Auth.PasswordlessTTL,
		DataProtectionTTL: cfg.Auth.TokenTTL,
	})

	var transport email.Transport
	switch cfg.Email.Transport {
	case "log":
		transport = email.NewLogTransport(slog.Default())
		slog.Warn("email transport is log; messages are written to the log and not delivered")
	default:
		transport = email.NewSMTPTransport(
			cfg.Email.SMTP.Host,
			cfg.Email.SMTP.Port,
			cfg.Email.SMTP.Username,
			cfg.Email.SMTP.Password,
			cfg.Email.SMTP.From,
		)
		slog.Info("email configured", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)
	}
	mailer := email.NewService(transport, cfg.Email.AppName, cfg.Email.Timeout)

	manager := identity.NewManager(users, tokens, auth.NewPasswordHasher(), mailer, identity.ManagerOptions{
		ConfirmEmailURL: strings.TrimRight(cfg.Server.BaseURL, "/") + "/api/identity/confirm-email",
	}, slog.Default())

	passwordless := identity.NewPasswordless(
		users,
		codeAttempts,
		tokens,
		mailer,
		ratelimit.New(cfg.RateLimit.EmailRequests, cfg.RateLimit.EmailWindow),
		identity.PasswordlessOptions{
			Provider:    cfg.Auth.PasswordlessProvider,
			CodeTTL:     cfg.Auth.PasswordlessTTL,
			MaxAttempts: cfg.Auth.MaxCodeAttempts,
		},
		slog.Default(),
	)

	signIn := identity.NewSignInManager(
		users,
		sessions,
		auth.NewSessionTokenService(secret, cfg.Server.Name, nil),
		identity.CookieOptions{
			Name:               cfg.Cookie.Name,
			Domain:             cfg.Cookie.Domain,
			Secure:             cfg.Cookie.Secure,
			PersistentLifetime: cfg.Cookie.PersistentLifetime,
			SessionLifetime:    cfg.Cookie.SessionLifetime,
			SlidingExpiration:  !cfg.Cookie.DisableSliding,
		},
		slog.Default(),
	)

	if cfg.Admin.Email != "" {
		err := manager.EnsureAdmin(context.Background(), identity.AdminSeed{
			UserName: cfg.Admin.UserName,
			Email:    cfg.Admin.Email,
			Password: cfg.Admin.Password,
		})
		if err != nil {
			slog.Error("failed to seed admin account", "error", err)
			os.Exit(1)
		}
	}

	server, err := api.NewServer(database, manager, passwordless, signIn, api.ServerOptions{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		TrustedProxyCIDRs: cfg.Server.TrustedProxies,
		RateLimits: api.RateLimits{
			CodeRequests: cfg.RateLimit.CodeRequests,
			Credentials:  cfg.RateLimit.Credentials,
			Window:       time.Minute,
		},
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	cleanupCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		slog.Error("tracing shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
