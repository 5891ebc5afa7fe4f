package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"carelink/internal/config"
)

// Code is a short-lived numeric confirmation value paired with its expiry.
// It is a display code, not a cryptographic secret, and must never be treated
// as an authorization token on its own.
type Code struct {
	Value  string    `json:"code"`
	Expiry time.Time `json:"expiry"`
}

// CodeService generates and validates fixed-length numeric verification
// codes. Validation is stateless and side-effect-free.
type CodeService struct {
	length int
	ttl    time.Duration
	now    func() time.Time
}

// NewCodeService creates a CodeService from configuration.
func NewCodeService(cfg config.VerificationConfig) *CodeService {
	length := cfg.CodeLength
	if length <= 0 {
		length = 6
	}
	ttl := cfg.CodeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CodeService{length: length, ttl: ttl, now: time.Now}
}

// Generate returns a fresh code and its expiry (now + TTL).
func (s *CodeService) Generate() (Code, error) {
	digits := make([]byte, s.length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return Code{}, fmt.Errorf("generating verification code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return Code{Value: string(digits), Expiry: s.now().Add(s.ttl)}, nil
}

// Validate checks a supplied code against the expected value and expiry.
// Expiry is checked first so an expired-but-correct code still fails with
// ErrExpired.
func (s *CodeService) Validate(supplied, expected string, expiry time.Time) error {
	if s.now().After(expiry) {
		return ErrExpired
	}
	if supplied != expected {
		return ErrInvalidCode
	}
	return nil
}
