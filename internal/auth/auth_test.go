package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"account_service/internal/lib/jwt"
	"account_service/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type sentEmail struct {
	Email   string
	Name    string
	Token   string
	Purpose string
}

// fakeNotifier records every notification and can be told to fail.
type fakeNotifier struct {
	sent    []sentEmail
	failErr error
}

func (f *fakeNotifier) SendVerificationEmail(ctx context.Context, email, name, token string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, sentEmail{Email: email, Name: name, Token: token, Purpose: "verification"})
	return nil
}

func (f *fakeNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, sentEmail{Email: email, Token: token, Purpose: "password_reset"})
	return nil
}

func (f *fakeNotifier) lastToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.sent, "expected at least one notification")
	return f.sent[len(f.sent)-1].Token
}

func newTestAuth(t *testing.T, rejectUnchanged bool) (*Auth, *memory.Storage, *fakeNotifier) {
	t.Helper()

	store := memory.New()
	n := &fakeNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a := New(log, store, store, n, testSecret, 24*time.Hour, 15*time.Minute, rejectUnchanged)

	return a, store, n
}

func register(t *testing.T, a *Auth, email, name, password string) {
	t.Helper()
	require.NoError(t, a.Register(context.Background(), email, name, password, password))
}

func registerAndVerify(t *testing.T, a *Auth, n *fakeNotifier, email, name, password string) {
	t.Helper()
	register(t, a, email, name, password)
	require.NoError(t, a.VerifyAccount(context.Background(), n.lastToken(t)))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	a, _, _ := newTestAuth(t, false)
	ctx := context.Background()

	register(t, a, "a@x.com", "A", "p1")

	err := a.Register(ctx, "a@x.com", "Other", "p2", "p2")
	assert.ErrorIs(t, err, ErrEmailTaken)

	// unrelated accounts do not interfere
	register(t, a, "b@x.com", "B", "p1")
	err = a.Register(ctx, "a@x.com", "A", "p1", "p1")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_PasswordMismatch(t *testing.T) {
	a, store, _ := newTestAuth(t, false)

	err := a.Register(context.Background(), "a@x.com", "A", "p1", "p2")
	assert.ErrorIs(t, err, ErrPasswordsDoNotMatch)

	_, err = store.AccountByEmail(context.Background(), "a@x.com")
	assert.Error(t, err, "no account should be created on mismatch")
}

func TestRegister_NotifierFailureKeepsAccount(t *testing.T) {
	a, store, n := newTestAuth(t, false)
	n.failErr = errors.New("smtp relay down")

	err := a.Register(context.Background(), "a@x.com", "A", "p1", "p1")
	require.Error(t, err)

	// the record persists even though the operation failed
	acc, err := store.AccountByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.False(t, acc.Enabled)
	assert.NotNil(t, acc.VerificationToken)
}

func TestVerifyAccount_Lifecycle(t *testing.T) {
	a, store, n := newTestAuth(t, false)
	ctx := context.Background()

	register(t, a, "a@x.com", "A", "p1")

	acc, err := store.AccountByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, acc.Enabled, "new account must be disabled")

	// login refused before verification
	_, err = a.Login(ctx, "a@x.com", "p1")
	assert.ErrorIs(t, err, ErrAccountNotActivated)

	token := n.lastToken(t)
	require.NoError(t, a.VerifyAccount(ctx, token))

	acc, err = store.AccountByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, acc.Enabled)
	assert.Nil(t, acc.VerificationToken, "token consumed on success")

	// login succeeds and the token asserts the account identity
	accessToken, err := a.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)

	claims, err := jwt.ParseToken(accessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "A", claims.Name)
}

func TestVerifyAccount_UnknownOrConsumedToken(t *testing.T) {
	a, _, n := newTestAuth(t, false)
	ctx := context.Background()

	err := a.VerifyAccount(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)

	register(t, a, "a@x.com", "A", "p1")
	token := n.lastToken(t)

	require.NoError(t, a.VerifyAccount(ctx, token))

	// replaying the consumed token fails
	err = a.VerifyAccount(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)
}

func TestVerifyAccount_AlreadyActive(t *testing.T) {
	a, store, n := newTestAuth(t, false)
	ctx := context.Background()

	register(t, a, "a@x.com", "A", "p1")
	token := n.lastToken(t)
	require.NoError(t, a.VerifyAccount(ctx, token))

	// a stale token still stored against an enabled account is rejected,
	// not silently accepted
	acc, err := store.AccountByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NoError(t, store.SetVerificationToken(ctx, acc.ID, token))

	err = a.VerifyAccount(ctx, token)
	assert.ErrorIs(t, err, ErrAccountAlreadyActive)
}

func TestLogin_IdenticalErrorForUnknownEmailAndWrongPassword(t *testing.T) {
	a, _, n := newTestAuth(t, false)
	ctx := context.Background()

	registerAndVerify(t, a, n, "a@x.com", "A", "p1")

	_, errUnknown := a.Login(ctx, "nobody@x.com", "p1")
	_, errWrongPass := a.Login(ctx, "a@x.com", "wrong")

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrongPass, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrongPass.Error())
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	a, _, _ := newTestAuth(t, false)

	err := a.ForgotPassword(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestForgotPassword_SecondRequestInvalidatesFirstToken(t *testing.T) {
	a, _, n := newTestAuth(t, false)
	ctx := context.Background()

	registerAndVerify(t, a, n, "a@x.com", "A", "p1")

	require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))
	first := n.lastToken(t)

	require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))
	second := n.lastToken(t)
	require.NotEqual(t, first, second)

	err := a.ResetPassword(ctx, first, "p2")
	assert.ErrorIs(t, err, ErrInvalidResetToken)

	require.NoError(t, a.ResetPassword(ctx, second, "p2"))
}

func TestResetPassword_ExpiryBoundaries(t *testing.T) {
	ctx := context.Background()

	t.Run("expired", func(t *testing.T) {
		a, _, n := newTestAuth(t, false)
		registerAndVerify(t, a, n, "a@x.com", "A", "p1")

		issuedAt := time.Now()
		a.now = func() time.Time { return issuedAt }
		require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))
		token := n.lastToken(t)

		a.now = func() time.Time { return issuedAt.Add(15*time.Minute + time.Second) }
		err := a.ResetPassword(ctx, token, "p2")
		assert.ErrorIs(t, err, ErrResetTokenExpired)
	})

	t.Run("just before expiry", func(t *testing.T) {
		a, _, n := newTestAuth(t, false)
		registerAndVerify(t, a, n, "a@x.com", "A", "p1")

		issuedAt := time.Now()
		a.now = func() time.Time { return issuedAt }
		require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))
		token := n.lastToken(t)

		a.now = func() time.Time { return issuedAt.Add(15*time.Minute - time.Second) }
		require.NoError(t, a.ResetPassword(ctx, token, "p2"))
	})
}

func TestResetPassword_SuccessInvalidatesOldPasswordAndToken(t *testing.T) {
	a, store, n := newTestAuth(t, false)
	ctx := context.Background()

	registerAndVerify(t, a, n, "a@x.com", "A", "p1")
	require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))
	token := n.lastToken(t)

	require.NoError(t, a.ResetPassword(ctx, token, "p2"))

	_, err := a.Login(ctx, "a@x.com", "p1")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "old password must no longer authenticate")

	_, err = a.Login(ctx, "a@x.com", "p2")
	assert.NoError(t, err)

	// consumed token cannot be replayed
	err = a.ResetPassword(ctx, token, "p3")
	assert.ErrorIs(t, err, ErrInvalidResetToken)

	acc, err := store.AccountByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, acc.ResetToken)
	assert.Nil(t, acc.ResetTokenExpiry)
}

func TestResetPassword_RejectUnchangedPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled", func(t *testing.T) {
		a, _, n := newTestAuth(t, true)
		registerAndVerify(t, a, n, "a@x.com", "A", "p1")
		require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))

		err := a.ResetPassword(ctx, n.lastToken(t), "p1")
		assert.ErrorIs(t, err, ErrPasswordUnchanged)
	})

	t.Run("disabled", func(t *testing.T) {
		a, _, n := newTestAuth(t, false)
		registerAndVerify(t, a, n, "a@x.com", "A", "p1")
		require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))

		require.NoError(t, a.ResetPassword(ctx, n.lastToken(t), "p1"))
	})
}

func TestResendVerification(t *testing.T) {
	a, _, n := newTestAuth(t, false)
	ctx := context.Background()

	err := a.ResendVerification(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	register(t, a, "a@x.com", "A", "p1")
	first := n.lastToken(t)

	require.NoError(t, a.ResendVerification(ctx, "a@x.com"))
	second := n.lastToken(t)
	require.NotEqual(t, first, second)

	// the overwritten token no longer verifies
	err = a.VerifyAccount(ctx, first)
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)

	require.NoError(t, a.VerifyAccount(ctx, second))

	// already activated: succeed without sending
	sentBefore := len(n.sent)
	require.NoError(t, a.ResendVerification(ctx, "a@x.com"))
	assert.Equal(t, sentBefore, len(n.sent))
}

func TestFullLifecycleScenario(t *testing.T) {
	a, _, n := newTestAuth(t, false)
	ctx := context.Background()

	register(t, a, "a@x.com", "A", "p1")

	_, err := a.Login(ctx, "a@x.com", "p1")
	require.ErrorIs(t, err, ErrAccountNotActivated)

	require.NoError(t, a.VerifyAccount(ctx, n.lastToken(t)))

	accessToken, err := a.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)

	claims, err := jwt.ParseToken(accessToken, testSecret)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", claims.Email)
}

func TestExpiredThenReissuedResetScenario(t *testing.T) {
	a, _, n := newTestAuth(t, false)
	ctx := context.Background()

	registerAndVerify(t, a, n, "a@x.com", "A", "p1")

	t0 := time.Now()
	a.now = func() time.Time { return t0 }
	require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))
	r1 := n.lastToken(t)

	// R1 has expired
	a.now = func() time.Time { return t0.Add(20 * time.Minute) }
	err := a.ResetPassword(ctx, r1, "p2")
	require.ErrorIs(t, err, ErrResetTokenExpired)

	// a second request supersedes R1 entirely
	require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))
	r2 := n.lastToken(t)
	require.NotEqual(t, r1, r2)

	err = a.ResetPassword(ctx, r1, "p2")
	require.ErrorIs(t, err, ErrInvalidResetToken)

	require.NoError(t, a.ResetPassword(ctx, r2, "p2"))
}
