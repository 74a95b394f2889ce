// Package submission implements the one-time balance-confirmation link: a
// vendor either agrees and uploads a single PDF payment proof, or disagrees
// with a reason. Agreement consumes the link; disagreement leaves it open so
// the vendor can still submit proof later.
package submission

import (
	"context"
	"strings"
	"time"

	"vendor-onboarding/internal/blob"
	"vendor-onboarding/internal/broadcast"
	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/common/metrics"
	"vendor-onboarding/internal/models"
	"vendor-onboarding/internal/store"
)

const (
	AgreementAgree    = "agree"
	AgreementDisagree = "disagree"
)

// Records is the slice of the company store the service needs.
type Records interface {
	Get(ctx context.Context, id string) (*models.Company, error)
	ApplyAgreement(ctx context.Context, id, filename string, now time.Time) (*models.Company, error)
	ApplyDisagreement(ctx context.Context, id, reason string, now time.Time) (*models.Company, error)
}

type Notifier interface {
	Insert(ctx context.Context, n *models.Notification) error
}

type Broadcaster interface {
	Publish(event string, payload interface{})
}

type Blobs interface {
	Save(filename string, data []byte) (string, error)
}

// Upload is the payment proof file as received from the form.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request is one form submission against a link.
type Request struct {
	CompanyID string
	Agreement string
	Reason    string
	Proof     *Upload
}

// Config controls link expiry and store retry behavior.
type Config struct {
	LinkTTL      time.Duration
	StoreRetries int
	StoreDelay   time.Duration
}

type Service struct {
	records Records
	notes   Notifier
	hub     Broadcaster
	blobs   Blobs
	cfg     Config
	logger  logger.Logger

	now func() time.Time
}

func New(records Records, notes Notifier, hub Broadcaster, blobs Blobs, cfg Config, log logger.Logger) *Service {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * 24 * time.Hour
	}
	if cfg.StoreRetries <= 0 {
		cfg.StoreRetries = 3
	}
	if cfg.StoreDelay <= 0 {
		cfg.StoreDelay = time.Second
	}
	return &Service{
		records: records,
		notes:   notes,
		hub:     hub,
		blobs:   blobs,
		cfg:     cfg,
		logger:  log.WithFields(map[string]interface{}{"component": "submission"}),
		now:     time.Now,
	}
}

// Check validates that a link is still open without consuming it. The form
// handler calls this on GET before rendering.
func (s *Service) Check(ctx context.Context, companyID string) (*models.Company, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, apperrors.NewValidationError("Company ID is required")
	}
	company, err := s.records.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company.DocumentSubmitted || company.LinkUsed {
		return nil, apperrors.NewLinkUsedError()
	}
	if s.linkExpired(company) {
		return nil, apperrors.NewLinkExpiredError()
	}
	return company, nil
}

// Submit processes one form submission. Preconditions are checked in a fixed
// order so the vendor always sees the most specific error: link already
// consumed, then expired, then invalid input.
func (s *Service) Submit(ctx context.Context, req Request) (*models.Company, error) {
	company, err := s.Check(ctx, req.CompanyID)
	if err != nil {
		metrics.SubmissionsReceived.WithLabelValues("rejected").Inc()
		return nil, err
	}

	switch req.Agreement {
	case AgreementAgree:
		return s.agree(ctx, company, req.Proof)
	case AgreementDisagree:
		return s.disagree(ctx, company, req.Reason)
	default:
		metrics.SubmissionsReceived.WithLabelValues("rejected").Inc()
		return nil, apperrors.NewValidationError("Agreement must be either \"agree\" or \"disagree\"")
	}
}

func (s *Service) agree(ctx context.Context, company *models.Company, proof *Upload) (*models.Company, error) {
	if proof == nil || len(proof.Data) == 0 {
		metrics.SubmissionsReceived.WithLabelValues("rejected").Inc()
		return nil, apperrors.NewValidationError("A payment proof PDF is required when agreeing")
	}
	if !isPDF(proof) {
		metrics.SubmissionsReceived.WithLabelValues("rejected").Inc()
		return nil, apperrors.NewValidationError("Payment proof must be a PDF file")
	}

	now := s.now()
	filename, err := s.blobs.Save(blob.AttachmentName(company.ID, now, proof.Filename), proof.Data)
	if err != nil {
		s.logger.WithError(err).Error("failed to store payment proof", map[string]interface{}{
			"companyId": company.ID,
		})
		return nil, apperrors.NewStoreWriteError(err)
	}

	var updated *models.Company
	err = store.WriteWithRetry(ctx, s.cfg.StoreRetries, s.cfg.StoreDelay, func(ctx context.Context) error {
		var werr error
		updated, werr = s.records.ApplyAgreement(ctx, company.ID, filename, now)
		return werr
	})
	if err != nil {
		metrics.SubmissionsReceived.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.SubmissionsReceived.WithLabelValues("agreed").Inc()
	s.logger.Info("payment proof submitted", map[string]interface{}{
		"companyId": company.ID,
		"document":  filename,
	})
	s.notify(ctx, &models.Notification{
		Type:        models.NotifPaymentProofSubmitted,
		CompanyID:   company.ID,
		CompanyName: company.DisplayName(),
		Message:     company.DisplayName() + " submitted payment proof",
		Documents:   models.StringList{filename},
		Timestamp:   now,
	})
	s.hub.Publish(broadcast.EventCompanyUpdated, updated)
	return updated, nil
}

func (s *Service) disagree(ctx context.Context, company *models.Company, reason string) (*models.Company, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		metrics.SubmissionsReceived.WithLabelValues("rejected").Inc()
		return nil, apperrors.NewValidationError("A reason is required when disagreeing")
	}

	now := s.now()
	var updated *models.Company
	err := store.WriteWithRetry(ctx, s.cfg.StoreRetries, s.cfg.StoreDelay, func(ctx context.Context) error {
		var werr error
		updated, werr = s.records.ApplyDisagreement(ctx, company.ID, reason, now)
		return werr
	})
	if err != nil {
		metrics.SubmissionsReceived.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.SubmissionsReceived.WithLabelValues("disagreed").Inc()
	s.logger.Info("payment disagreement recorded", map[string]interface{}{
		"companyId": company.ID,
	})
	s.notify(ctx, &models.Notification{
		Type:        models.NotifPaymentDisagreement,
		CompanyID:   company.ID,
		CompanyName: company.DisplayName(),
		Message:     company.DisplayName() + " disagreed with the payment terms: " + reason,
		Timestamp:   now,
	})
	s.hub.Publish(broadcast.EventCompanyUpdated, updated)
	return updated, nil
}

func (s *Service) linkExpired(company *models.Company) bool {
	if company.LinkCreatedAt == nil {
		return false
	}
	return s.now().Sub(*company.LinkCreatedAt) > s.cfg.LinkTTL
}

// notify records a notification and broadcasts it. Failures here never fail
// the submission itself.
func (s *Service) notify(ctx context.Context, n *models.Notification) {
	if err := s.notes.Insert(ctx, n); err != nil {
		s.logger.WithError(err).Warn("failed to record submission notification", map[string]interface{}{
			"companyId": n.CompanyID,
		})
		return
	}
	s.hub.Publish(broadcast.EventNewNotification, n)
}

func isPDF(proof *Upload) bool {
	if strings.Contains(strings.ToLower(proof.ContentType), "pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(proof.Filename), ".pdf")
}
