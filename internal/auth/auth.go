// Package auth implements the account lifecycle: registration with email
// verification, credential login, and the forgot/reset password flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"account_service/internal/lib/jwt"
	sl "account_service/internal/lib/logger"
	"account_service/internal/lib/token"
	"account_service/internal/models"
	"account_service/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken               = errors.New("email already in use")
	ErrPasswordsDoNotMatch      = errors.New("passwords do not match")
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	ErrAccountAlreadyActive     = errors.New("account already activated")
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrAccountNotActivated      = errors.New("account is not activated")
	ErrAccountNotFound          = errors.New("account not found")
	ErrInvalidResetToken        = errors.New("invalid reset token")
	ErrResetTokenExpired        = errors.New("reset token has expired")
	ErrPasswordUnchanged        = errors.New("new password must differ from the old one")
)

type AccountSaver interface {
	SaveAccount(ctx context.Context, email, name string, passHash []byte, verificationToken string) (int64, error)
	ActivateAccount(ctx context.Context, accountID int64, verificationToken string) error
	SetVerificationToken(ctx context.Context, accountID int64, verificationToken string) error
	SetResetToken(ctx context.Context, accountID int64, resetToken string, expiry time.Time) error
	UpdatePassword(ctx context.Context, accountID int64, resetToken string, passHash []byte) error
}

type AccountProvider interface {
	AccountByEmail(ctx context.Context, email string) (models.Account, error)
	AccountByVerificationToken(ctx context.Context, verificationToken string) (models.Account, error)
	AccountByResetToken(ctx context.Context, resetToken string) (models.Account, error)
}

type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, name, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

type Auth struct {
	log         *slog.Logger
	accSaver    AccountSaver
	accProvider AccountProvider
	notifier    Notifier

	accessTokenSecret string
	accessTokenTTL    time.Duration
	resetTokenTTL     time.Duration

	// rejectUnchangedPassword makes ResetPassword refuse a new password
	// equal to the stored one.
	rejectUnchangedPassword bool

	now func() time.Time
}

func New(
	log *slog.Logger,
	accountSaver AccountSaver,
	accountProvider AccountProvider,
	notifier Notifier,
	accessTokenSecret string,
	accessTokenTTL time.Duration,
	resetTokenTTL time.Duration,
	rejectUnchangedPassword bool,
) *Auth {
	return &Auth{
		log:                     log,
		accSaver:                accountSaver,
		accProvider:             accountProvider,
		notifier:                notifier,
		accessTokenSecret:       accessTokenSecret,
		accessTokenTTL:          accessTokenTTL,
		resetTokenTTL:           resetTokenTTL,
		rejectUnchangedPassword: rejectUnchangedPassword,
		now:                     time.Now,
	}
}

// Register creates a disabled account with a fresh verification token and
// sends the verification email. A notification failure is reported to the
// caller but does not roll back the created account; the caller can use
// ResendVerification to recover.
func (a *Auth) Register(ctx context.Context, email, name, password, confirmPassword string) error {
	const op = "auth.Register"

	log := a.log.With(slog.String("op", op))

	if password != confirmPassword {
		return ErrPasswordsDoNotMatch
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	verificationToken, err := token.New()
	if err != nil {
		log.Error("failed to mint verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	id, err := a.accSaver.SaveAccount(ctx, email, name, passHash, verificationToken)
	if err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			log.Warn("email already in use")
			return ErrEmailTaken
		}

		log.Error("failed to save account", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account registered", slog.Int64("id", id))

	if err := a.notifier.SendVerificationEmail(ctx, email, name, verificationToken); err != nil {
		log.Error("failed to send verification email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// VerifyAccount consumes a verification token and enables the account.
// A token that was never issued or already consumed yields
// ErrInvalidVerificationToken; verifying an already enabled account is
// rejected, not silently accepted.
func (a *Auth) VerifyAccount(ctx context.Context, verificationToken string) error {
	const op = "auth.VerifyAccount"

	log := a.log.With(slog.String("op", op))

	acc, err := a.accProvider.AccountByVerificationToken(ctx, verificationToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("verification token not found")
			return ErrInvalidVerificationToken
		}

		log.Error("failed to look up verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if acc.Enabled {
		return ErrAccountAlreadyActive
	}

	// Conditional update keyed on the token value, so a concurrent
	// redemption of the same token can succeed at most once.
	if err := a.accSaver.ActivateAccount(ctx, acc.ID, verificationToken); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return ErrInvalidVerificationToken
		}

		log.Error("failed to activate account", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account activated", slog.Int64("id", acc.ID))

	return nil
}

// Login checks the credentials and returns a signed access token. Unknown
// email and wrong password are indistinguishable to the caller; a disabled
// account gets a distinct error.
func (a *Auth) Login(ctx context.Context, email, password string) (string, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	acc, err := a.accProvider.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			log.Warn("account not found")
			return "", ErrInvalidCredentials
		}

		log.Error("failed to get account", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !acc.Enabled {
		return "", ErrAccountNotActivated
	}

	if err := bcrypt.CompareHashAndPassword(acc.PassHash, []byte(password)); err != nil {
		log.Info("invalid credentials")
		return "", ErrInvalidCredentials
	}

	accessToken, err := jwt.NewToken(acc, a.accessTokenSecret, a.accessTokenTTL)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("login successful", slog.Int64("id", acc.ID))

	return accessToken, nil
}

// ForgotPassword mints a reset token valid for the configured window and
// sends the reset email. A repeated request overwrites the previous token,
// invalidating it.
func (a *Auth) ForgotPassword(ctx context.Context, email string) error {
	const op = "auth.ForgotPassword"

	log := a.log.With(slog.String("op", op))

	acc, err := a.accProvider.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			log.Warn("account not found")
			return ErrAccountNotFound
		}

		log.Error("failed to get account", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	resetToken, err := token.New()
	if err != nil {
		log.Error("failed to mint reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	expiry := a.now().Add(a.resetTokenTTL)

	if err := a.accSaver.SetResetToken(ctx, acc.ID, resetToken, expiry); err != nil {
		log.Error("failed to store reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.notifier.SendPasswordResetEmail(ctx, email, resetToken); err != nil {
		log.Error("failed to send reset email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("reset token issued", slog.Int64("id", acc.ID))

	return nil
}

// ResetPassword consumes a reset token and stores the new password hash.
// The token and its expiry are cleared together; a replayed token yields
// ErrInvalidResetToken.
func (a *Auth) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	acc, err := a.accProvider.AccountByResetToken(ctx, resetToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("reset token not found")
			return ErrInvalidResetToken
		}

		log.Error("failed to look up reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if acc.ResetTokenExpiry == nil || a.now().After(*acc.ResetTokenExpiry) {
		return ErrResetTokenExpired
	}

	if a.rejectUnchangedPassword {
		if bcrypt.CompareHashAndPassword(acc.PassHash, []byte(newPassword)) == nil {
			return ErrPasswordUnchanged
		}
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.accSaver.UpdatePassword(ctx, acc.ID, resetToken, passHash); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return ErrInvalidResetToken
		}

		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset", slog.Int64("id", acc.ID))

	return nil
}

// ResendVerification issues a fresh verification token for a not yet
// activated account and sends it. The previous token is overwritten. An
// already activated account is a no-op.
func (a *Auth) ResendVerification(ctx context.Context, email string) error {
	const op = "auth.ResendVerification"

	log := a.log.With(slog.String("op", op))

	acc, err := a.accProvider.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			log.Warn("account not found")
			return ErrAccountNotFound
		}

		log.Error("failed to get account", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if acc.Enabled {
		log.Info("account already activated, nothing to resend")
		return nil
	}

	verificationToken, err := token.New()
	if err != nil {
		log.Error("failed to mint verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.accSaver.SetVerificationToken(ctx, acc.ID, verificationToken); err != nil {
		log.Error("failed to store verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.notifier.SendVerificationEmail(ctx, acc.Email, acc.Name, verificationToken); err != nil {
		log.Error("failed to send verification email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("verification email resent", slog.Int64("id", acc.ID))

	return nil
}
