package models

import "time"

type Account struct {
	ID                int64
	Email             string
	Name              string
	PassHash          []byte
	Enabled           bool
	VerificationToken *string
	ResetToken        *string
	ResetTokenExpiry  *time.Time
}

// Message is the payload published to the email queue and consumed by the
// mail sender.
type Message struct {
	Email   string `json:"to"`
	Name    string `json:"name,omitempty"`
	Link    string `json:"link"`
	Subject string `json:"subject"`
	Purpose string `json:"purpose"`
}

const (
	PurposeVerification  = "verification"
	PurposePasswordReset = "password_reset"
)
