package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"account_service/internal/config"
	"account_service/internal/models"
	"account_service/internal/storage"
	"account_service/internal/storage/postgres/migrations"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const accountColumns = "id, email, name, password_hash, enabled, verification_token, reset_token, reset_token_expiry"

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	if err := runMigrations(ctx, dsn); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) SaveAccount(ctx context.Context, email, name string, passHash []byte, verificationToken string) (int64, error) {
	const op = "storage.postgres.SaveAccount"

	query := `
		INSERT INTO accounts (email, name, password_hash, verification_token)
		VALUES ($1, $2, $3, $4)
		RETURNING id;
	`

	var id int64

	err := r.pool.QueryRow(ctx, query, email, name, string(passHash), verificationToken).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, storage.ErrAccountExists
		}

		return 0, fmt.Errorf("%s: failed to save account: %w", op, err)
	}

	return id, nil
}

func (r *PostgresRepo) AccountByEmail(ctx context.Context, email string) (models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE email = $1;
	`

	return r.scanAccount(r.pool.QueryRow(ctx, query, email), storage.ErrAccountNotFound)
}

func (r *PostgresRepo) AccountByVerificationToken(ctx context.Context, verificationToken string) (models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE verification_token = $1;
	`

	return r.scanAccount(r.pool.QueryRow(ctx, query, verificationToken), storage.ErrTokenNotFound)
}

func (r *PostgresRepo) AccountByResetToken(ctx context.Context, resetToken string) (models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE reset_token = $1;
	`

	return r.scanAccount(r.pool.QueryRow(ctx, query, resetToken), storage.ErrTokenNotFound)
}

// ActivateAccount consumes the verification token. The update is keyed on
// the current token value so concurrent redemptions succeed at most once.
func (r *PostgresRepo) ActivateAccount(ctx context.Context, accountID int64, verificationToken string) error {
	const op = "storage.postgres.ActivateAccount"

	query := `
		UPDATE accounts
		SET enabled = TRUE, verification_token = NULL
		WHERE id = $1 AND verification_token = $2 AND enabled = FALSE;
	`

	tag, err := r.pool.Exec(ctx, query, accountID, verificationToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrTokenNotFound
	}

	return nil
}

func (r *PostgresRepo) SetVerificationToken(ctx context.Context, accountID int64, verificationToken string) error {
	const op = "storage.postgres.SetVerificationToken"

	query := `UPDATE accounts SET verification_token = $2 WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, query, accountID, verificationToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrAccountNotFound
	}

	return nil
}

// SetResetToken overwrites any previously issued reset token and its expiry.
func (r *PostgresRepo) SetResetToken(ctx context.Context, accountID int64, resetToken string, expiry time.Time) error {
	const op = "storage.postgres.SetResetToken"

	query := `
		UPDATE accounts
		SET reset_token = $2, reset_token_expiry = $3
		WHERE id = $1;
	`

	tag, err := r.pool.Exec(ctx, query, accountID, resetToken, expiry)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrAccountNotFound
	}

	return nil
}

// UpdatePassword consumes the reset token, clearing it together with its
// expiry. Keyed on the current token value like ActivateAccount.
func (r *PostgresRepo) UpdatePassword(ctx context.Context, accountID int64, resetToken string, passHash []byte) error {
	const op = "storage.postgres.UpdatePassword"

	query := `
		UPDATE accounts
		SET password_hash = $3, reset_token = NULL, reset_token_expiry = NULL
		WHERE id = $1 AND reset_token = $2;
	`

	tag, err := r.pool.Exec(ctx, query, accountID, resetToken, string(passHash))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrTokenNotFound
	}

	return nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) scanAccount(row pgx.Row, notFound error) (models.Account, error) {
	var (
		a        models.Account
		passHash string
	)

	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&passHash,
		&a.Enabled,
		&a.VerificationToken,
		&a.ResetToken,
		&a.ResetTokenExpiry,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, notFound
		}

		return models.Account{}, err
	}

	a.PassHash = []byte(passHash)

	return a, nil
}

// runMigrations applies the embedded goose migrations through the pgx
// stdlib adapter before the pool is opened.
func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
