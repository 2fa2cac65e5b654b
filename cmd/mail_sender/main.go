package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"account_service/internal/config"
	sl "account_service/internal/lib/logger"
	"account_service/internal/mailer"
	"account_service/internal/models"
	"account_service/internal/rabbitmq"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad("./config/config.yaml")
	log := setupLogger(cfg.Env)

	log.Info("starting mail sender", slog.String("env", cfg.Env))

	startConsumer(ctx, cfg, log)
}

func startConsumer(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	r, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to init rabbitmq", sl.Err(err))
		return
	}
	defer r.Close()

	m := &mailer.Mailer{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		err := r.StartReading(ctx, func(body []byte) error {
			var msg models.Message
			if err := json.Unmarshal(body, &msg); err != nil {
				log.Error("failed to unmarshal message", sl.Err(err))
				return err
			}

			if err := m.Send(msg.Email, msg.Subject, renderBody(msg)); err != nil {
				log.Error("failed to send message", sl.Err(err))
				return err
			}

			log.Info("message sent successfully", slog.String("purpose", msg.Purpose))

			return nil
		})
		if err != nil {
			log.Error("failed to start reading", sl.Err(err))
			return
		}
	}()

	log.Info("consumer successfully started")

	select {
	case <-ctx.Done():
		log.Info("shutting down consumer...")
	case <-done:
		log.Info("consumer finished the work")
	}

	log.Info("service gracefully stopped")
}

func renderBody(msg models.Message) string {
	switch msg.Purpose {
	case models.PurposePasswordReset:
		return fmt.Sprintf(
			"<html><body>"+
				"<h3>Password Reset Request</h3>"+
				"<p>Click the link below to reset your password. The link is valid for a limited time:</p>"+
				`<a href=%q>Reset My Password</a>`+
				"<p>If you did not request a reset, please ignore this email.</p>"+
				"</body></html>",
			msg.Link,
		)
	default:
		return fmt.Sprintf(
			"<html><body>"+
				"<h3>Welcome, %s!</h3>"+
				"<p>Thank you for registering. Please click the link below to activate your account:</p>"+
				`<a href=%q>Activate My Account</a>`+
				"<p>If you did not register, please ignore this email.</p>"+
				"</body></html>",
			msg.Name,
			msg.Link,
		)
	}
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
