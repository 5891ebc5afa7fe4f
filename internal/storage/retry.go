package storage

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"carelink/internal/config"
)

// ErrTransient marks a store failure that may succeed on retry: the database
// is unreachable, shedding load, or aborted the transaction for contention.
// Callers that exhaust retries should treat it as a degraded-mode signal and
// fall back to a cached view instead of failing silently.
var ErrTransient = errors.New("store temporarily unavailable")

// IsTransient classifies a store error. Logical outcomes (record not found,
// constraint violations) are never transient; retrying cannot change them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" || pgErr.Code[:2] == "57"):
			// connection exceptions, insufficient resources, operator intervention
			return true
		}
	}
	return false
}

// WithRetry runs fn, retrying transient failures with exponential backoff up
// to cfg.MaxAttempts. Deterministic validation errors are returned on the
// first attempt. When retries exhaust, the last error is wrapped so callers
// can match ErrTransient with errors.Is.
func WithRetry(ctx context.Context, cfg config.RetryConfig, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return errors.Join(ErrTransient, err)
}
