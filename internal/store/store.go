// Package store implements the record store over PostgreSQL: vendor company
// records and the notification log. List-valued columns are JSONB and are
// marshalled through the typed models, raw JSON never leaves this package.
package store

import (
	"context"
	"database/sql"
	"time"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
)

// Store bundles the company and notification stores over one connection.
type Store struct {
	Companies     *CompanyStore
	Notifications *NotificationStore
}

func New(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		Companies:     NewCompanyStore(db, log),
		Notifications: NewNotificationStore(db, log),
	}
}

// WriteWithRetry runs fn up to attempts times with a fixed delay between
// attempts. Used by the sender (3 attempts, 500ms) and the submission
// handler (3 attempts, 1s). The mail may already be out when this gives up,
// so exhaustion surfaces as a transient store error rather than a rollback.
func WriteWithRetry(ctx context.Context, attempts int, delay time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return apperrors.NewStoreWriteError(lastErr)
}
