package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"account_service/internal/auth"
	"account_service/internal/config"
	forgotPassword "account_service/internal/http_server/handlers/forgot_password"
	"account_service/internal/http_server/handlers/login"
	"account_service/internal/http_server/handlers/register"
	resendVerification "account_service/internal/http_server/handlers/resend_verification"
	resetPassword "account_service/internal/http_server/handlers/reset_password"
	"account_service/internal/http_server/handlers/verify"
	"account_service/internal/notifier"
	"account_service/internal/rabbitmq"
	"account_service/internal/storage/postgres"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting account service", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer msgBroker.Close()

	emailNotifier := notifier.New(msgBroker, cfg.App.BaseURL)

	authService := auth.New(
		log,
		storage,
		storage,
		emailNotifier,
		cfg.Tokens.AccessTokenSecret,
		cfg.Tokens.AccessTokenTTL,
		cfg.Tokens.ResetTokenTTL,
		cfg.App.RejectUnchangedPassword,
	)

	router := setupRouter(log, authService)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", slog.String("err", err.Error()))
	} else {
		log.Info("server stopped gracefully")
	}

	log.Info("account service stopped")
}

func setupRouter(log *slog.Logger, authService *auth.Auth) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	validate := validator.New()

	r.Post("/register", register.New(log, validate, authService))
	r.Get("/verify-email", verify.New(log, authService))
	r.Post("/login", login.New(log, validate, authService))
	r.Post("/forgot-password", forgotPassword.New(log, validate, authService))
	r.Post("/reset-password", resetPassword.New(log, validate, authService))
	r.Post("/resend-verification", resendVerification.New(log, validate, authService))

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
