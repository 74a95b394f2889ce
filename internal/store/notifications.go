// internal/store/notifications.go
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/models"
)

const notificationColumns = `id, type, company_id, company_name, message, documents, created_at, is_read`

type NotificationStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewNotificationStore(db *sql.DB, log logger.Logger) *NotificationStore {
	return &NotificationStore{db: db, logger: log}
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var companyName, message sql.NullString

	err := row.Scan(&n.ID, &n.Type, &n.CompanyID, &companyName, &message,
		&n.Documents, &n.Timestamp, &n.IsRead)
	if err != nil {
		return nil, err
	}

	n.CompanyName = companyName.String
	n.Message = message.String
	return &n, nil
}

// Insert creates one notification, assigning id and timestamp when unset.
func (s *NotificationStore) Insert(ctx context.Context, n *models.Notification) error {
	if !n.Type.Valid() {
		return apperrors.NewValidationError("unknown notification type: " + string(n.Type))
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if n.Documents == nil {
		n.Documents = models.StringList{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.Type, n.CompanyID, nullStr(n.CompanyName), nullStr(n.Message),
		n.Documents, n.Timestamp, n.IsRead)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	return nil
}

// List returns all notifications, newest first.
func (s *NotificationStore) List(ctx context.Context) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperrors.NewStoreQueryError(err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead flags one notification as read and returns the updated record.
func (s *NotificationStore) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE
		WHERE id = $1
		RETURNING `+notificationColumns, id)

	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("Notification")
	}
	if err != nil {
		return nil, apperrors.NewStoreWriteError(err)
	}
	return n, nil
}
