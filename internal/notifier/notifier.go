// Package notifier builds verification and password reset links and hands
// them to the email queue. Publish failures surface to the caller.
package notifier

import (
	"context"
	"fmt"

	"account_service/internal/models"
)

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

type EmailNotifier struct {
	pub     Publisher
	baseURL string
}

func New(pub Publisher, baseURL string) *EmailNotifier {
	return &EmailNotifier{
		pub:     pub,
		baseURL: baseURL,
	}
}

func (n *EmailNotifier) SendVerificationEmail(ctx context.Context, email, name, token string) error {
	const op = "notifier.SendVerificationEmail"

	msg := models.Message{
		Email:   email,
		Name:    name,
		Link:    fmt.Sprintf("%s/verify-email?token=%s", n.baseURL, token),
		Subject: "Activate Your Account",
		Purpose: models.PurposeVerification,
	}

	if err := n.pub.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (n *EmailNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	const op = "notifier.SendPasswordResetEmail"

	msg := models.Message{
		Email:   email,
		Link:    fmt.Sprintf("%s/reset-password?token=%s", n.baseURL, token),
		Subject: "Password Reset Request",
		Purpose: models.PurposePasswordReset,
	}

	if err := n.pub.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
