package domain

import "time"

// EmailVerification is a pending email confirmation issued to a user.
type EmailVerification struct {
	Token      string
	UserID     string
	Email      string
	ExpiresAt  time.Time
	VerifiedAt *time.Time
}
