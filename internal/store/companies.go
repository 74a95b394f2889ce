// internal/store/companies.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/models"
)

// companyColumns is the canonical select list; every scan goes through
// scanCompany so the column order is defined in exactly one place.
const companyColumns = `id, sr_no, company_name, username, group_name, division, status,
	email, phone_number, owner_email, documents, document_submitted, document_path,
	email_count, email_status, email_error, email_sent_date, last_email_sent,
	form_sent_timestamp, last_updated, reminder_sent, link_created_at, link_used,
	sent_emails, received_emails, invoice_no, invoice_date, bill_amount, payment_confirmed`

type CompanyStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewCompanyStore(db *sql.DB, log logger.Logger) *CompanyStore {
	return &CompanyStore{db: db, logger: log}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCompany(row rowScanner) (*models.Company, error) {
	var c models.Company
	var username, groupName, division, email, phoneNumber, ownerEmail sql.NullString
	var documentPath, emailError, reminderSent, invoiceNo sql.NullString
	var emailSentDate, lastEmailSent, formSent, lastUpdated, linkCreatedAt, invoiceDate sql.NullTime
	var billAmount sql.NullFloat64

	err := row.Scan(
		&c.ID, &c.SrNo, &c.CompanyName, &username, &groupName, &division, &c.Status,
		&email, &phoneNumber, &ownerEmail, &c.Documents, &c.DocumentSubmitted, &documentPath,
		&c.EmailCount, &c.EmailStatus, &emailError, &emailSentDate, &lastEmailSent,
		&formSent, &lastUpdated, &reminderSent, &linkCreatedAt, &c.LinkUsed,
		&c.SentEmails, &c.ReceivedEmails, &invoiceNo, &invoiceDate, &billAmount, &c.PaymentConfirmed,
	)
	if err != nil {
		return nil, err
	}

	c.Username = username.String
	c.GroupName = groupName.String
	c.Division = division.String
	c.Email = email.String
	c.PhoneNumber = phoneNumber.String
	c.OwnerEmail = ownerEmail.String
	c.DocumentPath = documentPath.String
	c.EmailError = emailError.String
	c.ReminderSent = reminderSent.String
	c.InvoiceNo = invoiceNo.String

	if emailSentDate.Valid {
		t := emailSentDate.Time
		c.EmailSentDate = &t
	}
	if lastEmailSent.Valid {
		t := lastEmailSent.Time
		c.LastEmailSent = &t
	}
	if formSent.Valid {
		d := models.DisplayTime(formSent.Time)
		c.FormSentTimestamp = &d
	}
	if lastUpdated.Valid {
		d := models.DisplayTime(lastUpdated.Time)
		c.LastUpdated = &d
	}
	if linkCreatedAt.Valid {
		t := linkCreatedAt.Time
		c.LinkCreatedAt = &t
	}
	if invoiceDate.Valid {
		t := invoiceDate.Time
		c.InvoiceDate = &t
	}
	if billAmount.Valid {
		v := billAmount.Float64
		c.BillAmount = &v
	}

	return &c, nil
}

func collectCompanies(rows *sql.Rows) ([]models.Company, error) {
	defer rows.Close()

	companies := []models.Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return companies, nil
}

// List returns all vendors ordered by sequence number.
func (s *CompanyStore) List(ctx context.Context) ([]models.Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		ORDER BY sr_no, id`)
	if err != nil {
		return nil, apperrors.NewStoreQueryError(err)
	}
	return collectCompanies(rows)
}

// Get returns one vendor by id.
func (s *CompanyStore) Get(ctx context.Context, id string) (*models.Company, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		WHERE id = $1`, id)

	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("Company")
	}
	if err != nil {
		return nil, apperrors.NewStoreQueryError(err)
	}
	return c, nil
}

// FindByEmail returns the vendor matching the lowercased address, or nil
// when no record matches. No match is not an error on the reply path.
func (s *CompanyStore) FindByEmail(ctx context.Context, email string) (*models.Company, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		WHERE LOWER(email) = LOWER($1)
		LIMIT 1`, strings.TrimSpace(email))

	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreQueryError(err)
	}
	return c, nil
}

const insertCompanySQL = `
		INSERT INTO companies (` + companyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`

func insertArgs(c *models.Company) []interface{} {
	return []interface{}{
		c.ID, c.SrNo, c.CompanyName, nullStr(c.Username), nullStr(c.GroupName),
		nullStr(c.Division), c.Status, nullStr(c.Email), nullStr(c.PhoneNumber),
		nullStr(c.OwnerEmail), c.Documents, c.DocumentSubmitted, nullStr(c.DocumentPath),
		c.EmailCount, c.EmailStatus, nullStr(c.EmailError), c.EmailSentDate, c.LastEmailSent,
		displayTimePtr(c.FormSentTimestamp), displayTimePtr(c.LastUpdated),
		nullStr(c.ReminderSent), c.LinkCreatedAt, c.LinkUsed,
		c.SentEmails, c.ReceivedEmails, nullStr(c.InvoiceNo), c.InvoiceDate,
		c.BillAmount, c.PaymentConfirmed,
	}
}

// Insert creates one vendor, assigning an id and defaults when unset.
func (s *CompanyStore) Insert(ctx context.Context, c *models.Company) error {
	applyCreateDefaults(c)

	if _, err := s.db.ExecContext(ctx, insertCompanySQL, insertArgs(c)...); err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	return nil
}

// InsertBatch creates many vendors in one transaction. All or nothing so a
// half-imported spreadsheet never lands.
func (s *CompanyStore) InsertBatch(ctx context.Context, companies []models.Company) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}

	for i := range companies {
		applyCreateDefaults(&companies[i])
		if _, err := tx.ExecContext(ctx, insertCompanySQL, insertArgs(&companies[i])...); err != nil {
			_ = tx.Rollback()
			s.logger.WithError(err).Error("batch insert aborted", map[string]interface{}{
				"companyId": companies[i].ID,
				"row":       i,
			})
			return apperrors.NewStoreWriteError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	return nil
}

func applyCreateDefaults(c *models.Company) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.EmailStatus == "" {
		c.EmailStatus = models.EmailStatusPending
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Documents == nil {
		c.Documents = models.StringList{}
	}
	if c.SentEmails == nil {
		c.SentEmails = models.EmailList{}
	}
	if c.ReceivedEmails == nil {
		c.ReceivedEmails = models.EmailList{}
	}
}

// Update merge-updates one vendor: only fields set on the patch are written,
// everything else keeps its stored value. Returns the updated row.
func (s *CompanyStore) Update(ctx context.Context, id string, patch models.CompanyPatch) (*models.Company, error) {
	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.SrNo != nil {
		add("sr_no", *patch.SrNo)
	}
	if patch.CompanyName != nil {
		add("company_name", *patch.CompanyName)
	}
	if patch.Username != nil {
		add("username", *patch.Username)
	}
	if patch.GroupName != nil {
		add("group_name", *patch.GroupName)
	}
	if patch.Division != nil {
		add("division", *patch.Division)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Email != nil {
		add("email", strings.ToLower(strings.TrimSpace(*patch.Email)))
	}
	if patch.PhoneNumber != nil {
		add("phone_number", *patch.PhoneNumber)
	}
	if patch.OwnerEmail != nil {
		add("owner_email", *patch.OwnerEmail)
	}
	if patch.Documents != nil {
		add("documents", *patch.Documents)
	}
	if patch.DocumentSubmitted != nil {
		add("document_submitted", *patch.DocumentSubmitted)
	}
	if patch.DocumentPath != nil {
		add("document_path", *patch.DocumentPath)
	}
	if patch.EmailStatus != nil {
		add("email_status", *patch.EmailStatus)
	}
	if patch.EmailError != nil {
		add("email_error", *patch.EmailError)
	}
	if patch.ReminderSent != nil {
		add("reminder_sent", *patch.ReminderSent)
	}
	if patch.InvoiceNo != nil {
		add("invoice_no", *patch.InvoiceNo)
	}
	if patch.InvoiceDate != nil {
		add("invoice_date", *patch.InvoiceDate)
	}
	if patch.BillAmount != nil {
		add("bill_amount", *patch.BillAmount)
	}
	if patch.PaymentConfirmed != nil {
		add("payment_confirmed", *patch.PaymentConfirmed)
	}

	add("last_updated", time.Now())

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE companies
		SET %s
		WHERE id = $%d
		RETURNING %s`, strings.Join(sets, ", "), len(args), companyColumns)

	row := s.db.QueryRowContext(ctx, query, args...)
	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("Company")
	}
	if err != nil {
		return nil, apperrors.NewStoreWriteError(err)
	}
	return c, nil
}

// Delete removes one vendor.
func (s *CompanyStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("Company")
	}
	return nil
}

// MarkEmailFailedByEmail applies a bounce: failed status on both fields plus
// the bounce observation time. Returns the affected vendor, or nil when the
// extracted address matches no record.
func (s *CompanyStore) MarkEmailFailedByEmail(ctx context.Context, email string, now time.Time) (*models.Company, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE companies
		SET status = $1, email_status = $2, email_sent_date = $3, last_updated = $3
		WHERE LOWER(email) = LOWER($4)
		RETURNING `+companyColumns,
		models.StatusFailed, models.EmailStatusFailed, now, strings.TrimSpace(email))

	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreWriteError(err)
	}
	return c, nil
}

// AppendDocument atomically appends one received attachment filename. The
// server-side JSONB append keeps concurrent watcher and handler writes from
// clobbering each other's documents.
func (s *CompanyStore) AppendDocument(ctx context.Context, id, filename string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET documents = COALESCE(documents, '[]'::jsonb) || to_jsonb($1::text),
		    document_submitted = TRUE,
		    document_path = $1,
		    last_updated = NOW()
		WHERE id = $2`, filename, id)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("Company")
	}
	return nil
}

// ApplyReply records one inbound reply: appends to receivedEmails and moves
// the vendor to Response Received.
func (s *CompanyStore) ApplyReply(ctx context.Context, id string, entry models.EmailEntry) (*models.Company, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE companies
		SET received_emails = COALESCE(received_emails, '[]'::jsonb) || $1::jsonb,
		    status = $2,
		    last_updated = $3
		WHERE id = $4
		RETURNING `+companyColumns,
		models.EmailList{entry}, models.StatusResponseReceived, entry.Timestamp, id)

	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("Company")
	}
	if err != nil {
		return nil, apperrors.NewStoreWriteError(err)
	}
	return c, nil
}

// ApplySendSuccess records one successful outbound send: the sent entry,
// a fresh link, the counter bump and the Show Mail status.
func (s *CompanyStore) ApplySendSuccess(ctx context.Context, id string, entry models.EmailEntry, now time.Time) (*models.Company, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE companies
		SET email_status = $1,
		    last_email_sent = $2,
		    email_error = NULL,
		    link_created_at = $2,
		    sent_emails = COALESCE(sent_emails, '[]'::jsonb) || $3::jsonb,
		    status = $4,
		    email_count = email_count + 1,
		    form_sent_timestamp = $2,
		    last_updated = $2
		WHERE id = $5
		RETURNING `+companyColumns,
		models.EmailStatusSent, now, models.EmailList{entry}, models.StatusShowMail, id)

	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("Company")
	}
	if err != nil {
		return nil, apperrors.NewStoreWriteError(err)
	}
	return c, nil
}

// MarkSendFailed records one failed outbound send. Only the send-tracking
// fields move; the lifecycle status stays where it is so a transient failure
// never regresses a vendor that already responded. emailCount is untouched.
func (s *CompanyStore) MarkSendFailed(ctx context.Context, id, sendErr string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET email_status = $1, email_error = $2, last_updated = $3
		WHERE id = $4`,
		models.EmailStatusFailed, sendErr, now, id)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("Company")
	}
	return nil
}

// MarkNoEmail fails a vendor that has no address on file, on both status
// fields.
func (s *CompanyStore) MarkNoEmail(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET status = $1, email_status = $2, email_error = $3, last_updated = $4
		WHERE id = $5`,
		models.StatusFailed, models.EmailStatusFailed, "No email provided", now, id)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("Company")
	}
	return nil
}

// SetStatus overwrites the lifecycle status only.
func (s *CompanyStore) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies SET status = $1, last_updated = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("Company")
	}
	return nil
}

// ApplyAgreement consumes the submission link: the uploaded proof replaces
// the documents list and the link can never be used again.
func (s *CompanyStore) ApplyAgreement(ctx context.Context, id, filename string, now time.Time) (*models.Company, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE companies
		SET documents = $1,
		    document_path = $2,
		    status = $3,
		    document_submitted = TRUE,
		    link_used = TRUE,
		    last_updated = $4
		WHERE id = $5
		RETURNING `+companyColumns,
		models.StringList{filename}, filename, models.StatusResponseReceived, now, id)

	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("Company")
	}
	if err != nil {
		return nil, apperrors.NewStoreWriteError(err)
	}
	return c, nil
}

// ApplyDisagreement records the refusal reason without consuming the link,
// so the vendor can still come back and agree.
func (s *CompanyStore) ApplyDisagreement(ctx context.Context, id, reason string, now time.Time) (*models.Company, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE companies
		SET documents = $1,
		    status = $2,
		    document_submitted = FALSE,
		    link_used = FALSE,
		    last_updated = $3
		WHERE id = $4
		RETURNING `+companyColumns,
		models.StringList{reason}, models.StatusPaymentNotAgreed, now, id)

	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("Company")
	}
	if err != nil {
		return nil, apperrors.NewStoreWriteError(err)
	}
	return c, nil
}

// ListSendable returns vendors whose last send is Pending or Failed,
// optionally narrowed to specific ids.
func (s *CompanyStore) ListSendable(ctx context.Context, ids []string) ([]models.Company, error) {
	query := `
		SELECT ` + companyColumns + `
		FROM companies
		WHERE email_status IN ($1, $2)`
	args := []interface{}{models.EmailStatusPending, models.EmailStatusFailed}

	if len(ids) > 0 {
		query += ` AND id = ANY($3)`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY sr_no, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreQueryError(err)
	}
	return collectCompanies(rows)
}

// ListFailed returns vendors in failed lifecycle status, for resend.
func (s *CompanyStore) ListFailed(ctx context.Context) ([]models.Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		WHERE status = $1
		ORDER BY sr_no, id`, models.StatusFailed)
	if err != nil {
		return nil, apperrors.NewStoreQueryError(err)
	}
	return collectCompanies(rows)
}

// ListReminderEligible returns vendors due a quarterly reminder: form sent
// before the cutoff, outcome still open, reminder not yet sent.
func (s *CompanyStore) ListReminderEligible(ctx context.Context, cutoff time.Time) ([]models.Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		WHERE form_sent_timestamp IS NOT NULL
		  AND form_sent_timestamp <= $1
		  AND (document_submitted = FALSE OR payment_confirmed = FALSE)
		  AND (reminder_sent IS NULL OR reminder_sent = $2)
		ORDER BY sr_no, id`, cutoff, models.ReminderSentFalse)
	if err != nil {
		return nil, apperrors.NewStoreQueryError(err)
	}
	return collectCompanies(rows)
}

// RefreshLink extends a stale submission link.
func (s *CompanyStore) RefreshLink(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE companies SET link_created_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	return nil
}

// MarkReminderSent flags a vendor as reminded, only after a successful send.
func (s *CompanyStore) MarkReminderSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE companies SET reminder_sent = $1 WHERE id = $2`, models.ReminderSentTrue, id)
	if err != nil {
		return apperrors.NewStoreWriteError(err)
	}
	return nil
}

// MaxSequence returns the highest assigned sequence number, 0 when empty.
func (s *CompanyStore) MaxSequence(ctx context.Context) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sr_no), 0) FROM companies`).Scan(&max)
	if err != nil {
		return 0, apperrors.NewStoreQueryError(err)
	}
	return max, nil
}

// DashboardMetrics aggregates the status counts shown on the dashboard.
func (s *CompanyStore) DashboardMetrics(ctx context.Context) (*models.DashboardMetrics, error) {
	var m models.DashboardMetrics
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE email_status = $1),
		       COUNT(*) FILTER (WHERE email_status = $2),
		       COUNT(*) FILTER (WHERE email_status = $3),
		       COUNT(*) FILTER (WHERE status = $4),
		       COUNT(*) FILTER (WHERE document_submitted = TRUE)
		FROM companies`,
		models.EmailStatusPending, models.EmailStatusSent, models.EmailStatusFailed,
		models.StatusShowMail,
	).Scan(&m.TotalCompanies, &m.Pending, &m.Sent, &m.Failed, &m.MailViewed, &m.Responded)
	if err != nil {
		return nil, apperrors.NewStoreQueryError(err)
	}
	return &m, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func displayTimePtr(d *models.DisplayTime) interface{} {
	if d == nil {
		return nil
	}
	return d.Time()
}
