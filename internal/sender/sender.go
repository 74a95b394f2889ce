// Package sender orchestrates outbound balance-confirmation mail: single
// sends with operator overrides, bulk sends, failed-vendor resends and
// quarterly reminders. Failures are always per vendor, a batch never
// aborts because one vendor could not be mailed.
package sender

import (
	"context"
	"time"

	"vendor-onboarding/internal/broadcast"
	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/common/metrics"
	"vendor-onboarding/internal/mailer"
	"vendor-onboarding/internal/models"
	"vendor-onboarding/internal/store"
)

// Records is the slice of the company store the sender needs.
type Records interface {
	Get(ctx context.Context, id string) (*models.Company, error)
	ListSendable(ctx context.Context, ids []string) ([]models.Company, error)
	ListFailed(ctx context.Context) ([]models.Company, error)
	ListReminderEligible(ctx context.Context, cutoff time.Time) ([]models.Company, error)
	ApplySendSuccess(ctx context.Context, id string, entry models.EmailEntry, now time.Time) (*models.Company, error)
	MarkSendFailed(ctx context.Context, id, sendErr string, now time.Time) error
	MarkNoEmail(ctx context.Context, id string, now time.Time) error
	SetStatus(ctx context.Context, id, status string) error
	RefreshLink(ctx context.Context, id string, now time.Time) error
	MarkReminderSent(ctx context.Context, id string) error
}

// Notifier records dashboard notifications.
type Notifier interface {
	Insert(ctx context.Context, n *models.Notification) error
}

// Broadcaster pushes live events to dashboard clients.
type Broadcaster interface {
	Publish(event string, payload interface{})
}

// Config carries pacing and addressing for the sender.
type Config struct {
	From           string
	BaseURL        string
	InterSendDelay time.Duration
	StoreRetries   int
	StoreDelay     time.Duration
	LinkTTL        time.Duration
}

// Report is the outcome of one batch operation.
type Report struct {
	Total           int             `json:"total"`
	Sent            int             `json:"sent"`
	Failed          int             `json:"failed"`
	FailedCompanies []FailedCompany `json:"failedCompanies"`
}

type FailedCompany struct {
	CompanyID string `json:"companyId"`
	Error     string `json:"error"`
}

// SingleRequest is one operator-triggered send with optional overrides.
type SingleRequest struct {
	CompanyID  string
	CC         []string
	Subject    string
	Body       string
	Attachment *mailer.Attachment
}

type Sender struct {
	records       Records
	notifications Notifier
	mail          mailer.Mailer
	hub           Broadcaster
	cfg           Config
	logger        logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(records Records, notifications Notifier, mail mailer.Mailer, hub Broadcaster, cfg Config, log logger.Logger) *Sender {
	if cfg.InterSendDelay <= 0 {
		cfg.InterSendDelay = 60 * time.Second
	}
	if cfg.StoreRetries <= 0 {
		cfg.StoreRetries = 3
	}
	if cfg.StoreDelay <= 0 {
		cfg.StoreDelay = 500 * time.Millisecond
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * 24 * time.Hour
	}
	return &Sender{
		records:       records,
		notifications: notifications,
		mail:          mail,
		hub:           hub,
		cfg:           cfg,
		logger:        log.WithFields(map[string]interface{}{"component": "sender"}),
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSingle mails one vendor. Operator overrides replace the template;
// the single path creates no email_sent notification.
func (s *Sender) SendSingle(ctx context.Context, req SingleRequest) (*models.Company, error) {
	company, err := s.records.Get(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	if company.Email == "" {
		if ferr := s.records.MarkNoEmail(ctx, company.ID, s.now()); ferr != nil {
			s.logger.WithError(ferr).Error("failed to record missing-email failure", map[string]interface{}{
				"companyId": company.ID,
			})
		}
		metrics.EmailsFailed.WithLabelValues("single", string(apperrors.ErrCodeNoEmailOnFile)).Inc()
		return nil, apperrors.NewNoEmailError(company.ID)
	}

	link := mailer.SubmissionLink(s.cfg.BaseURL, company.ID)
	subject := req.Subject
	if subject == "" {
		subject = mailer.InitialSubject()
	}
	body := req.Body
	html := ""
	if body == "" {
		body = mailer.InitialBody(company.DisplayName(), link)
		html = mailer.InitialHTML(company.DisplayName(), link)
	}

	msg := mailer.Message{
		From:     s.cfg.From,
		To:       []string{company.Email},
		CC:       req.CC,
		Subject:  subject,
		TextBody: body,
		HTMLBody: html,
	}
	if req.Attachment != nil {
		msg.Attachments = []mailer.Attachment{*req.Attachment}
	}

	updated, sendErr := s.dispatch(ctx, "single", company, msg)
	if sendErr != nil {
		// the single path also fails the lifecycle status, but only when
		// the send itself failed, not when the post-send write did
		if !apperrors.IsCode(sendErr, apperrors.ErrCodeStoreWriteFailed) {
			if serr := s.records.SetStatus(ctx, company.ID, models.StatusFailed); serr != nil {
				s.logger.WithError(serr).Error("failed to record single-send failure status", map[string]interface{}{
					"companyId": company.ID,
				})
			}
		}
		return nil, sendErr
	}

	if err := s.records.SetStatus(ctx, company.ID, models.StatusEmailSent); err != nil {
		s.logger.WithError(err).Error("failed to finalize single-send status", map[string]interface{}{
			"companyId": company.ID,
		})
	} else {
		updated.Status = models.StatusEmailSent
	}

	s.hub.Publish(broadcast.EventCompanyUpdated, updated)
	return updated, nil
}

// SendBulk mails all Pending/Failed vendors, optionally narrowed to ids.
func (s *Sender) SendBulk(ctx context.Context, ids []string) (*Report, error) {
	companies, err := s.records.ListSendable(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.runBatch(ctx, "bulk", companies, s.bulkMessage, s.finishBulk)
}

// ResendFailed retries every vendor whose lifecycle status is Failed.
func (s *Sender) ResendFailed(ctx context.Context) (*Report, error) {
	companies, err := s.records.ListFailed(ctx)
	if err != nil {
		return nil, err
	}
	return s.runBatch(ctx, "resend", companies, s.resendMessage, s.finishResend)
}

// SendQuarterly mails reminder-eligible vendors. Safe to trigger daily:
// eligibility filtering makes repeat calls a no-op for reminded vendors.
func (s *Sender) SendQuarterly(ctx context.Context) (*Report, error) {
	now := s.now()
	companies, err := s.records.ListReminderEligible(ctx, now.Add(-s.cfg.LinkTTL))
	if err != nil {
		return nil, err
	}

	// stale links are refreshed so the reminder carries a live link
	for i := range companies {
		c := &companies[i]
		if c.LinkCreatedAt == nil || now.Sub(*c.LinkCreatedAt) > s.cfg.LinkTTL {
			if err := s.records.RefreshLink(ctx, c.ID, now); err != nil {
				s.logger.WithError(err).Warn("failed to refresh submission link", map[string]interface{}{
					"companyId": c.ID,
				})
			}
		}
	}

	return s.runBatch(ctx, "quarterly", companies, s.quarterlyMessage, s.finishQuarterly)
}

func (s *Sender) bulkMessage(c *models.Company) mailer.Message {
	link := mailer.SubmissionLink(s.cfg.BaseURL, c.ID)
	return mailer.Message{
		From:     s.cfg.From,
		To:       []string{c.Email},
		Subject:  mailer.InitialSubject(),
		TextBody: mailer.InitialBody(c.DisplayName(), link),
	}
}

func (s *Sender) resendMessage(c *models.Company) mailer.Message {
	link := mailer.SubmissionLink(s.cfg.BaseURL, c.ID)
	return mailer.Message{
		From:     s.cfg.From,
		To:       []string{c.Email},
		Subject:  mailer.ResendSubject(),
		TextBody: mailer.ResendBody(c.DisplayName(), link),
	}
}

func (s *Sender) quarterlyMessage(c *models.Company) mailer.Message {
	link := mailer.SubmissionLink(s.cfg.BaseURL, c.ID)
	start, end := mailer.QuarterRange(s.now())
	return mailer.Message{
		From:     s.cfg.From,
		To:       []string{c.Email},
		Subject:  mailer.QuarterlySubject(start, end),
		TextBody: mailer.QuarterlyBody(c.DisplayName(), link, start, end),
	}
}

// finishBulk completes one successful bulk send: email_sent notification and
// broadcast. The status stays Show Mail from the success write.
func (s *Sender) finishBulk(ctx context.Context, updated *models.Company) {
	s.notify(ctx, models.NotifEmailSent, updated, "Email sent to "+updated.Email)
	s.hub.Publish(broadcast.EventCompanyUpdated, updated)
}

// finishResend additionally moves a recovered vendor to Email Sent.
func (s *Sender) finishResend(ctx context.Context, updated *models.Company) {
	if err := s.records.SetStatus(ctx, updated.ID, models.StatusEmailSent); err != nil {
		s.logger.WithError(err).Error("failed to finalize resend status", map[string]interface{}{
			"companyId": updated.ID,
		})
	} else {
		updated.Status = models.StatusEmailSent
	}
	s.notify(ctx, models.NotifEmailSent, updated, "Reminder email sent to "+updated.Email)
	s.hub.Publish(broadcast.EventCompanyUpdated, updated)
}

// finishQuarterly marks the reminder flag only after the send succeeded.
func (s *Sender) finishQuarterly(ctx context.Context, updated *models.Company) {
	if err := s.records.MarkReminderSent(ctx, updated.ID); err != nil {
		s.logger.WithError(err).Error("failed to mark reminder sent", map[string]interface{}{
			"companyId": updated.ID,
		})
	} else {
		updated.ReminderSent = models.ReminderSentTrue
	}
	s.notify(ctx, models.NotifReminderSent, updated, "Quarterly reminder sent to "+updated.Email)
	s.hub.Publish(broadcast.EventCompanyUpdated, updated)
}

func (s *Sender) notify(ctx context.Context, kind models.NotificationType, c *models.Company, message string) {
	n := &models.Notification{
		Type:        kind,
		CompanyID:   c.ID,
		CompanyName: c.DisplayName(),
		Message:     message,
		Timestamp:   s.now(),
	}
	if err := s.notifications.Insert(ctx, n); err != nil {
		s.logger.WithError(err).Warn("failed to record notification", map[string]interface{}{
			"companyId": c.ID,
			"type":      string(kind),
		})
		return
	}
	s.hub.Publish(broadcast.EventNewNotification, n)
}

// runBatch walks vendors in query order with the inter-send delay between
// them, isolating per-vendor failures into the report.
func (s *Sender) runBatch(
	ctx context.Context,
	kind string,
	companies []models.Company,
	compose func(*models.Company) mailer.Message,
	finish func(context.Context, *models.Company),
) (*Report, error) {
	report := &Report{Total: len(companies), FailedCompanies: []FailedCompany{}}

	for i := range companies {
		company := &companies[i]

		if i > 0 {
			if err := s.sleep(ctx, s.cfg.InterSendDelay); err != nil {
				return report, err
			}
		}

		if company.Email == "" {
			if ferr := s.records.MarkNoEmail(ctx, company.ID, s.now()); ferr != nil {
				s.logger.WithError(ferr).Error("failed to record missing-email failure", map[string]interface{}{
					"companyId": company.ID,
				})
			}
			report.Failed++
			report.FailedCompanies = append(report.FailedCompanies, FailedCompany{
				CompanyID: company.ID,
				Error:     "No email provided",
			})
			metrics.EmailsFailed.WithLabelValues(kind, string(apperrors.ErrCodeNoEmailOnFile)).Inc()
			continue
		}

		updated, err := s.dispatch(ctx, kind, company, compose(company))
		if err != nil {
			report.Failed++
			report.FailedCompanies = append(report.FailedCompanies, FailedCompany{
				CompanyID: company.ID,
				Error:     err.Error(),
			})
			continue
		}

		report.Sent++
		finish(ctx, updated)
	}

	return report, nil
}

// dispatch sends one composed message and durably records the outcome. A
// store-write failure after a successful send counts as a failure for the
// caller even though the mail went out; the gap is logged, not rolled back.
func (s *Sender) dispatch(ctx context.Context, kind string, company *models.Company, msg mailer.Message) (*models.Company, error) {
	if _, err := s.mail.Send(ctx, msg); err != nil {
		metrics.EmailsFailed.WithLabelValues(kind, string(apperrors.ErrCodeMailSendFailed)).Inc()
		if ferr := s.records.MarkSendFailed(ctx, company.ID, err.Error(), s.now()); ferr != nil {
			s.logger.WithError(ferr).Error("failed to record send failure", map[string]interface{}{
				"companyId": company.ID,
			})
		}
		s.logger.WithError(err).Warn("email send failed", map[string]interface{}{
			"companyId": company.ID,
			"kind":      kind,
		})
		return nil, err
	}

	metrics.EmailsSent.WithLabelValues(kind).Inc()

	entry := models.EmailEntry{Subject: msg.Subject, Body: msg.TextBody, Timestamp: s.now()}
	var updated *models.Company
	err := store.WriteWithRetry(ctx, s.cfg.StoreRetries, s.cfg.StoreDelay, func(ctx context.Context) error {
		var werr error
		updated, werr = s.records.ApplySendSuccess(ctx, company.ID, entry, s.now())
		return werr
	})
	if err != nil {
		s.logger.WithError(err).Error("mail sent but record update failed", map[string]interface{}{
			"companyId": company.ID,
			"kind":      kind,
		})
		return nil, err
	}

	return updated, nil
}
