package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestLogger(t *testing.T) logger.Logger {
	return logger.NewZapAdapter(zaptest.NewLogger(t))
}

func newTestCompanyStore(t *testing.T) (*CompanyStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCompanyStore(db, createTestLogger(t)), mock
}

var companyColumnNames = []string{
	"id", "sr_no", "company_name", "username", "group_name", "division", "status",
	"email", "phone_number", "owner_email", "documents", "document_submitted", "document_path",
	"email_count", "email_status", "email_error", "email_sent_date", "last_email_sent",
	"form_sent_timestamp", "last_updated", "reminder_sent", "link_created_at", "link_used",
	"sent_emails", "received_emails", "invoice_no", "invoice_date", "bill_amount", "payment_confirmed",
}

func companyRow(id, name, email, status, emailStatus string, emailCount int, documents string) *sqlmock.Rows {
	return sqlmock.NewRows(companyColumnNames).AddRow(
		id, 1, name, "user1", "Group A", "North", status,
		email, "555-0100", nil, []byte(documents), false, nil,
		emailCount, emailStatus, nil, nil, nil,
		nil, nil, nil, nil, false,
		[]byte(`[]`), []byte(`[]`), nil, nil, nil, false,
	)
}

// ==========================
// Core Functionality Tests
// ==========================

func TestCompanyStore_Get(t *testing.T) {
	s, mock := newTestCompanyStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM companies\s+WHERE id = \$1`).
		WithArgs("comp-1").
		WillReturnRows(companyRow("comp-1", "Acme Ltd", "acme@example.com", models.StatusPending, models.EmailStatusPending, 0, `["a.pdf","b.pdf"]`))

	c, err := s.Get(context.Background(), "comp-1")
	require.NoError(t, err)
	assert.Equal(t, "comp-1", c.ID)
	assert.Equal(t, "Acme Ltd", c.CompanyName)
	assert.Equal(t, "acme@example.com", c.Email)
	// list columns come back as the same ordered sequence that was written
	assert.Equal(t, models.StringList{"a.pdf", "b.pdf"}, c.Documents)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanyStore_Get_NotFound(t *testing.T) {
	s, mock := newTestCompanyStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM companies\s+WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(companyColumnNames))

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestCompanyStore_FindByEmail_NoMatchIsNotAnError(t *testing.T) {
	s, mock := newTestCompanyStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM companies\s+WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("unknown@example.com").
		WillReturnRows(sqlmock.NewRows(companyColumnNames))

	c, err := s.FindByEmail(context.Background(), "unknown@example.com")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCompanyStore_ApplySendSuccess(t *testing.T) {
	s, mock := newTestCompanyStore(t)
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	entry := models.EmailEntry{Subject: "Balance Confirmation", Body: "Dear vendor", Timestamp: now}

	mock.ExpectQuery(`UPDATE companies\s+SET email_status = \$1`).
		WithArgs(models.EmailStatusSent, now, models.EmailList{entry}, models.StatusShowMail, "comp-1").
		WillReturnRows(companyRow("comp-1", "Acme Ltd", "acme@example.com", models.StatusShowMail, models.EmailStatusSent, 3, `[]`))

	c, err := s.ApplySendSuccess(context.Background(), "comp-1", entry, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShowMail, c.Status)
	assert.Equal(t, models.EmailStatusSent, c.EmailStatus)
	assert.Equal(t, 3, c.EmailCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanyStore_MarkSendFailed_LeavesStatusAlone(t *testing.T) {
	s, mock := newTestCompanyStore(t)
	now := time.Now()

	// the failure write moves email_status, email_error and last_updated
	// only; status and email_sent_date must not appear in the statement
	mock.ExpectExec(`UPDATE companies\s+SET email_status = \$1, email_error = \$2, last_updated = \$3\s+WHERE id = \$4`).
		WithArgs(models.EmailStatusFailed, "SES throttled", now, "comp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkSendFailed(context.Background(), "comp-1", "SES throttled", now)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanyStore_MarkNoEmail(t *testing.T) {
	s, mock := newTestCompanyStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE companies\s+SET status = \$1, email_status = \$2, email_error = \$3, last_updated = \$4\s+WHERE id = \$5`).
		WithArgs(models.StatusFailed, models.EmailStatusFailed, "No email provided", now, "comp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkNoEmail(context.Background(), "comp-1", now)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanyStore_AppendDocument(t *testing.T) {
	s, mock := newTestCompanyStore(t)

	mock.ExpectExec(`UPDATE companies\s+SET documents = COALESCE\(documents, '\[\]'::jsonb\) \|\| to_jsonb\(\$1::text\)`).
		WithArgs("comp-1_1700000000000_invoice.pdf", "comp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AppendDocument(context.Background(), "comp-1", "comp-1_1700000000000_invoice.pdf")
	assert.NoError(t, err)
}

func TestCompanyStore_MarkEmailFailedByEmail(t *testing.T) {
	s, mock := newTestCompanyStore(t)
	now := time.Now()

	t.Run("bounce matches a vendor", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE companies\s+SET status = \$1, email_status = \$2`).
			WithArgs(models.StatusFailed, models.EmailStatusFailed, now, "vendor@example.com").
			WillReturnRows(companyRow("comp-9", "Bounced Co", "vendor@example.com", models.StatusFailed, models.EmailStatusFailed, 1, `[]`))

		c, err := s.MarkEmailFailedByEmail(context.Background(), "vendor@example.com", now)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, models.StatusFailed, c.Status)
		assert.Equal(t, models.EmailStatusFailed, c.EmailStatus)
	})

	t.Run("no vendor matches the extracted address", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE companies\s+SET status = \$1, email_status = \$2`).
			WithArgs(models.StatusFailed, models.EmailStatusFailed, now, "stranger@example.com").
			WillReturnRows(sqlmock.NewRows(companyColumnNames))

		c, err := s.MarkEmailFailedByEmail(context.Background(), "stranger@example.com", now)
		require.NoError(t, err)
		assert.Nil(t, c)
	})
}

func TestCompanyStore_Update_PartialPatch(t *testing.T) {
	s, mock := newTestCompanyStore(t)

	name := "Renamed Ltd"
	phone := "555-0199"
	patch := models.CompanyPatch{CompanyName: &name, PhoneNumber: &phone}

	mock.ExpectQuery(`UPDATE companies\s+SET company_name = \$1, phone_number = \$2, last_updated = \$3\s+WHERE id = \$4`).
		WithArgs(name, phone, sqlmock.AnyArg(), "comp-1").
		WillReturnRows(companyRow("comp-1", name, "acme@example.com", models.StatusPending, models.EmailStatusPending, 0, `[]`))

	c, err := s.Update(context.Background(), "comp-1", patch)
	require.NoError(t, err)
	assert.Equal(t, name, c.CompanyName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanyStore_ListReminderEligible(t *testing.T) {
	s, mock := newTestCompanyStore(t)
	cutoff := time.Now().AddDate(0, 0, -15)

	mock.ExpectQuery(`SELECT (.+) FROM companies\s+WHERE form_sent_timestamp IS NOT NULL`).
		WithArgs(cutoff, models.ReminderSentFalse).
		WillReturnRows(companyRow("comp-1", "Due Co", "due@example.com", models.StatusShowMail, models.EmailStatusSent, 1, `[]`))

	companies, err := s.ListReminderEligible(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "comp-1", companies[0].ID)
}

func TestCompanyStore_DashboardMetrics(t *testing.T) {
	s, mock := newTestCompanyStore(t)

	// mailViewed counts Show Mail only, responded counts submitted documents
	mock.ExpectQuery(`SELECT COUNT\(\*\),\s+COUNT\(\*\) FILTER \(WHERE email_status = \$1\),\s+COUNT\(\*\) FILTER \(WHERE email_status = \$2\),\s+COUNT\(\*\) FILTER \(WHERE email_status = \$3\),\s+COUNT\(\*\) FILTER \(WHERE status = \$4\),\s+COUNT\(\*\) FILTER \(WHERE document_submitted = TRUE\)`).
		WithArgs(models.EmailStatusPending, models.EmailStatusSent, models.EmailStatusFailed, models.StatusShowMail).
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "sent", "failed", "viewed", "responded"}).
			AddRow(10, 4, 5, 1, 3, 2))

	m, err := s.DashboardMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, m.TotalCompanies)
	assert.Equal(t, 4, m.Pending)
	assert.Equal(t, 5, m.Sent)
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 3, m.MailViewed)
	assert.Equal(t, 2, m.Responded)
}

func TestCompanyStore_ApplyAgreement_ConsumesLink(t *testing.T) {
	s, mock := newTestCompanyStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(companyColumnNames).AddRow(
		"comp-1", 1, "Acme Ltd", nil, nil, nil, models.StatusResponseReceived,
		"acme@example.com", nil, nil, []byte(`["comp-1_1_proof.pdf"]`), true, "comp-1_1_proof.pdf",
		1, models.EmailStatusSent, nil, nil, nil,
		nil, now, nil, nil, true,
		[]byte(`[]`), []byte(`[]`), nil, nil, nil, false,
	)
	mock.ExpectQuery(`UPDATE companies\s+SET documents = \$1`).
		WithArgs(models.StringList{"comp-1_1_proof.pdf"}, "comp-1_1_proof.pdf", models.StatusResponseReceived, now, "comp-1").
		WillReturnRows(rows)

	c, err := s.ApplyAgreement(context.Background(), "comp-1", "comp-1_1_proof.pdf", now)
	require.NoError(t, err)
	assert.True(t, c.DocumentSubmitted)
	assert.True(t, c.LinkUsed)
	assert.Equal(t, models.StringList{"comp-1_1_proof.pdf"}, c.Documents)
}

func TestWriteWithRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := WriteWithRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("deadlock detected")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("exhaustion surfaces a transient store error", func(t *testing.T) {
		attempts := 0
		err := WriteWithRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
			attempts++
			return errors.New("connection reset")
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStoreWriteFailed))
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WriteWithRetry(ctx, 3, time.Second, func(ctx context.Context) error {
			return errors.New("still failing")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
