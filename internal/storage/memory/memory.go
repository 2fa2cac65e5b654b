// Package memory is the in-memory reference implementation of the credential
// store contract. It honors the same atomicity rules as the postgres backend:
// unique insert by email and conditional token consumption.
package memory

import (
	"context"
	"sync"
	"time"

	"account_service/internal/models"
	"account_service/internal/storage"
)

type Storage struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account // keyed by email
	nextID   int64
}

func New() *Storage {
	return &Storage{
		accounts: make(map[string]*models.Account),
		nextID:   1,
	}
}

func (s *Storage) SaveAccount(ctx context.Context, email, name string, passHash []byte, verificationToken string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[email]; ok {
		return 0, storage.ErrAccountExists
	}

	id := s.nextID
	s.nextID++

	tok := verificationToken
	s.accounts[email] = &models.Account{
		ID:                id,
		Email:             email,
		Name:              name,
		PassHash:          passHash,
		Enabled:           false,
		VerificationToken: &tok,
	}

	return id, nil
}

func (s *Storage) AccountByEmail(ctx context.Context, email string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[email]
	if !ok {
		return models.Account{}, storage.ErrAccountNotFound
	}

	return *acc, nil
}

func (s *Storage) AccountByVerificationToken(ctx context.Context, verificationToken string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if acc.VerificationToken != nil && *acc.VerificationToken == verificationToken {
			return *acc, nil
		}
	}

	return models.Account{}, storage.ErrTokenNotFound
}

func (s *Storage) AccountByResetToken(ctx context.Context, resetToken string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if acc.ResetToken != nil && *acc.ResetToken == resetToken {
			return *acc, nil
		}
	}

	return models.Account{}, storage.ErrTokenNotFound
}

// ActivateAccount enables the account and clears its verification token,
// conditional on the token still holding the given value.
func (s *Storage) ActivateAccount(ctx context.Context, accountID int64, verificationToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.byID(accountID)
	if acc == nil || acc.Enabled ||
		acc.VerificationToken == nil || *acc.VerificationToken != verificationToken {
		return storage.ErrTokenNotFound
	}

	acc.Enabled = true
	acc.VerificationToken = nil

	return nil
}

func (s *Storage) SetVerificationToken(ctx context.Context, accountID int64, verificationToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.byID(accountID)
	if acc == nil {
		return storage.ErrAccountNotFound
	}

	tok := verificationToken
	acc.VerificationToken = &tok

	return nil
}

func (s *Storage) SetResetToken(ctx context.Context, accountID int64, resetToken string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.byID(accountID)
	if acc == nil {
		return storage.ErrAccountNotFound
	}

	tok := resetToken
	exp := expiry
	acc.ResetToken = &tok
	acc.ResetTokenExpiry = &exp

	return nil
}

// UpdatePassword stores the new hash and clears the reset token together
// with its expiry, conditional on the token still holding the given value.
func (s *Storage) UpdatePassword(ctx context.Context, accountID int64, resetToken string, passHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.byID(accountID)
	if acc == nil || acc.ResetToken == nil || *acc.ResetToken != resetToken {
		return storage.ErrTokenNotFound
	}

	acc.PassHash = passHash
	acc.ResetToken = nil
	acc.ResetTokenExpiry = nil

	return nil
}

func (s *Storage) byID(accountID int64) *models.Account {
	for _, acc := range s.accounts {
		if acc.ID == accountID {
			return acc
		}
	}
	return nil
}
