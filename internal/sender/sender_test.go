package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vendor-onboarding/internal/broadcast"
	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/mailer"
	"vendor-onboarding/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeRecords struct {
	mu        sync.Mutex
	companies map[string]*models.Company

	successWriteFailures int
	statusByID           map[string]string
	reminded             []string
	refreshed            []string
	failures             map[string]string
}

func newFakeRecords(companies ...*models.Company) *fakeRecords {
	f := &fakeRecords{
		companies:  map[string]*models.Company{},
		statusByID: map[string]string{},
		failures:   map[string]string{},
	}
	for _, c := range companies {
		f.companies[c.ID] = c
	}
	return f
}

func (f *fakeRecords) Get(ctx context.Context, id string) (*models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Company")
	}
	copied := *c
	return &copied, nil
}

func (f *fakeRecords) ListSendable(ctx context.Context, ids []string) ([]models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Company{}
	for _, c := range f.companies {
		if c.EmailStatus == models.EmailStatusPending || c.EmailStatus == models.EmailStatusFailed {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeRecords) ListFailed(ctx context.Context) ([]models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Company{}
	for _, c := range f.companies {
		if c.Status == models.StatusFailed {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeRecords) ListReminderEligible(ctx context.Context, cutoff time.Time) ([]models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Company{}
	for _, c := range f.companies {
		if c.FormSentTimestamp == nil || c.FormSentTimestamp.Time().After(cutoff) {
			continue
		}
		if c.ReminderSent == models.ReminderSentTrue {
			continue
		}
		if c.DocumentSubmitted && c.PaymentConfirmed {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeRecords) ApplySendSuccess(ctx context.Context, id string, entry models.EmailEntry, now time.Time) (*models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.successWriteFailures > 0 {
		f.successWriteFailures--
		return nil, errors.New("write conflict")
	}
	c := f.companies[id]
	c.EmailStatus = models.EmailStatusSent
	c.EmailError = ""
	c.EmailCount++
	c.Status = models.StatusShowMail
	c.SentEmails = append(c.SentEmails, entry)
	c.LinkCreatedAt = &now
	copied := *c
	return &copied, nil
}

func (f *fakeRecords) MarkSendFailed(ctx context.Context, id, sendErr string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.companies[id]
	c.EmailStatus = models.EmailStatusFailed
	c.EmailError = sendErr
	f.failures[id] = sendErr
	return nil
}

func (f *fakeRecords) MarkNoEmail(ctx context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.companies[id]
	c.Status = models.StatusFailed
	c.EmailStatus = models.EmailStatusFailed
	c.EmailError = "No email provided"
	f.failures[id] = "No email provided"
	return nil
}

func (f *fakeRecords) SetStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companies[id].Status = status
	f.statusByID[id] = status
	return nil
}

func (f *fakeRecords) RefreshLink(ctx context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companies[id].LinkCreatedAt = &now
	f.refreshed = append(f.refreshed, id)
	return nil
}

func (f *fakeRecords) MarkReminderSent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companies[id].ReminderSent = models.ReminderSentTrue
	f.reminded = append(f.reminded, id)
	return nil
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []mailer.Message
	failFor map[string]error
}

func (m *fakeMailer) Send(ctx context.Context, msg mailer.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[msg.To[0]]; ok {
		return "", err
	}
	m.sent = append(m.sent, msg)
	return "msg-id", nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	notifications []models.Notification
}

func (n *fakeNotifier) Insert(ctx context.Context, notif *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	notif.ID = "notif-" + notif.CompanyID
	n.notifications = append(n.notifications, *notif)
	return nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) Publish(event string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *fakeHub) count(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == event {
			n++
		}
	}
	return n
}

type senderFixture struct {
	sender  *Sender
	records *fakeRecords
	mail    *fakeMailer
	notes   *fakeNotifier
	hub     *fakeHub
	slept   []time.Duration
}

func newFixture(t *testing.T, companies ...*models.Company) *senderFixture {
	f := &senderFixture{
		records: newFakeRecords(companies...),
		mail:    &fakeMailer{failFor: map[string]error{}},
		notes:   &fakeNotifier{},
		hub:     &fakeHub{},
	}
	cfg := Config{
		From:           "accounts@example.com",
		BaseURL:        "https://portal.example.com",
		InterSendDelay: 60 * time.Second,
		StoreRetries:   3,
		StoreDelay:     time.Millisecond,
		LinkTTL:        15 * 24 * time.Hour,
	}
	f.sender = New(f.records, f.notes, f.mail, f.hub, cfg, logger.NewZapAdapter(zaptest.NewLogger(t)))
	f.sender.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func vendor(id, name, email string) *models.Company {
	return &models.Company{
		ID:          id,
		CompanyName: name,
		Email:       email,
		Status:      models.StatusPending,
		EmailStatus: models.EmailStatusPending,
	}
}

// ==========================
// Single Send Tests
// ==========================

func TestSendSingle_Success(t *testing.T) {
	f := newFixture(t, vendor("V1", "Acme Ltd", "v1@x.com"))

	updated, err := f.sender.SendSingle(context.Background(), SingleRequest{CompanyID: "V1"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusEmailSent, updated.Status)
	assert.Equal(t, models.EmailStatusSent, updated.EmailStatus)
	assert.Equal(t, 1, updated.EmailCount)
	assert.Len(t, updated.SentEmails, 1)

	require.Len(t, f.mail.sent, 1)
	assert.Contains(t, f.mail.sent[0].TextBody, "https://portal.example.com/submit-documents/V1")

	// single path broadcasts the update but creates no email_sent notification
	assert.Equal(t, 1, f.hub.count(broadcast.EventCompanyUpdated))
	assert.Empty(t, f.notes.notifications)
}

func TestSendSingle_EmailCountMonotonic(t *testing.T) {
	f := newFixture(t, vendor("V1", "Acme Ltd", "v1@x.com"))

	for i := 0; i < 3; i++ {
		_, err := f.sender.SendSingle(context.Background(), SingleRequest{CompanyID: "V1"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.records.companies["V1"].EmailCount)

	// a failed send must not move the counter
	f.mail.failFor["v1@x.com"] = errors.New("ses unavailable")
	_, err := f.sender.SendSingle(context.Background(), SingleRequest{CompanyID: "V1"})
	require.Error(t, err)
	assert.Equal(t, 3, f.records.companies["V1"].EmailCount)
	assert.Equal(t, models.EmailStatusFailed, f.records.companies["V1"].EmailStatus)
}

func TestSendSingle_NoEmailOnFile(t *testing.T) {
	f := newFixture(t, vendor("V1", "Acme Ltd", ""))

	_, err := f.sender.SendSingle(context.Background(), SingleRequest{CompanyID: "V1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoEmailOnFile))
	assert.Equal(t, "No email provided", f.records.failures["V1"])
	assert.Empty(t, f.mail.sent)
}

func TestSendSingle_OverridesReplaceTemplate(t *testing.T) {
	f := newFixture(t, vendor("V1", "Acme Ltd", "v1@x.com"))

	_, err := f.sender.SendSingle(context.Background(), SingleRequest{
		CompanyID: "V1",
		Subject:   "Custom subject",
		Body:      "Custom body",
		CC:        []string{"owner@x.com"},
	})
	require.NoError(t, err)

	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "Custom subject", f.mail.sent[0].Subject)
	assert.Equal(t, "Custom body", f.mail.sent[0].TextBody)
	assert.Equal(t, []string{"owner@x.com"}, f.mail.sent[0].CC)
}

func TestSendSingle_StoreRetryThenSuccess(t *testing.T) {
	f := newFixture(t, vendor("V1", "Acme Ltd", "v1@x.com"))
	f.records.successWriteFailures = 2

	updated, err := f.sender.SendSingle(context.Background(), SingleRequest{CompanyID: "V1"})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.EmailCount)
}

func TestSendSingle_StoreRetriesExhausted(t *testing.T) {
	f := newFixture(t, vendor("V1", "Acme Ltd", "v1@x.com"))
	f.records.successWriteFailures = 5

	_, err := f.sender.SendSingle(context.Background(), SingleRequest{CompanyID: "V1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStoreWriteFailed))
	// the mail went out even though the operation reports failure
	assert.Len(t, f.mail.sent, 1)
}

// ==========================
// Batch Tests
// ==========================

func TestSendBulk_ReportAccounting(t *testing.T) {
	f := newFixture(t,
		vendor("V1", "Good Co", "v1@x.com"),
		vendor("V2", "No Mail Co", ""),
		vendor("V3", "Broken Co", "v3@x.com"),
	)
	f.mail.failFor["v3@x.com"] = errors.New("mailbox full")

	report, err := f.sender.SendBulk(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, report.Total, report.Sent+report.Failed)
	require.Len(t, report.FailedCompanies, 2)

	failedIDs := map[string]string{}
	for _, fc := range report.FailedCompanies {
		failedIDs[fc.CompanyID] = fc.Error
	}
	assert.Equal(t, "No email provided", failedIDs["V2"])
	assert.Contains(t, failedIDs["V3"], "mailbox full")

	// one email_sent notification for the one successful vendor
	require.Len(t, f.notes.notifications, 1)
	assert.Equal(t, models.NotifEmailSent, f.notes.notifications[0].Type)
}

func TestSendBulk_SuccessKeepsShowMail(t *testing.T) {
	f := newFixture(t, vendor("V1", "Acme Ltd", "v1@x.com"))

	report, err := f.sender.SendBulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	// the success write leaves the vendor at Show Mail; the bulk path
	// never overwrites it afterwards
	assert.Equal(t, models.StatusShowMail, f.records.companies["V1"].Status)
	assert.Empty(t, f.records.statusByID)
	require.Len(t, f.notes.notifications, 1)
	assert.Equal(t, 1, f.hub.count(broadcast.EventCompanyUpdated))
}

func TestSendBulk_FailureDoesNotRegressStatus(t *testing.T) {
	responded := vendor("V1", "Responded Co", "v1@x.com")
	responded.Status = models.StatusResponseReceived
	f := newFixture(t, responded)
	f.mail.failFor["v1@x.com"] = errors.New("mailbox full")

	report, err := f.sender.SendBulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	// only the send-tracking fields move on a failed send
	assert.Equal(t, models.StatusResponseReceived, f.records.companies["V1"].Status)
	assert.Equal(t, models.EmailStatusFailed, f.records.companies["V1"].EmailStatus)
}

func TestSendBulk_InterSendSpacing(t *testing.T) {
	f := newFixture(t,
		vendor("V1", "A", "v1@x.com"),
		vendor("V2", "B", "v2@x.com"),
		vendor("V3", "C", "v3@x.com"),
	)

	_, err := f.sender.SendBulk(context.Background(), nil)
	require.NoError(t, err)

	// a gap before every vendor except the first
	require.Len(t, f.slept, 2)
	for _, d := range f.slept {
		assert.Equal(t, 60*time.Second, d)
	}
}

func TestResendFailed_OnlyFailedVendors(t *testing.T) {
	failed := vendor("V1", "Failed Co", "v1@x.com")
	failed.Status = models.StatusFailed
	failed.EmailStatus = models.EmailStatusFailed
	healthy := vendor("V2", "Healthy Co", "v2@x.com")
	healthy.Status = models.StatusEmailSent
	healthy.EmailStatus = models.EmailStatusSent

	f := newFixture(t, failed, healthy)

	report, err := f.sender.ResendFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Sent)

	require.Len(t, f.mail.sent, 1)
	assert.Contains(t, f.mail.sent[0].Subject, "Reminder")

	// a successful resend moves the recovered vendor to Email Sent
	assert.Equal(t, models.StatusEmailSent, f.records.companies["V1"].Status)
}

// ==========================
// Quarterly Tests
// ==========================

func quarterlyVendor(id string, formSentDaysAgo int) *models.Company {
	c := vendor(id, "Q Co "+id, id+"@x.com")
	ts := models.DisplayTime(time.Now().AddDate(0, 0, -formSentDaysAgo))
	c.FormSentTimestamp = &ts
	return c
}

func TestSendQuarterly_EligibilityAndReminderFlag(t *testing.T) {
	due := quarterlyVendor("V1", 20)
	recent := quarterlyVendor("V2", 5)
	alreadyReminded := quarterlyVendor("V3", 30)
	alreadyReminded.ReminderSent = models.ReminderSentTrue

	f := newFixture(t, due, recent, alreadyReminded)

	report, err := f.sender.SendQuarterly(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, []string{"V1"}, f.records.reminded)

	require.Len(t, f.notes.notifications, 1)
	assert.Equal(t, models.NotifReminderSent, f.notes.notifications[0].Type)
	assert.Contains(t, f.mail.sent[0].Subject, "Quarterly Reminder")
}

func TestSendQuarterly_RefreshesStaleLink(t *testing.T) {
	stale := quarterlyVendor("V1", 20)
	old := time.Now().AddDate(0, 0, -20)
	stale.LinkCreatedAt = &old

	fresh := quarterlyVendor("V2", 20)
	recent := time.Now().AddDate(0, 0, -2)
	fresh.LinkCreatedAt = &recent

	f := newFixture(t, stale, fresh)

	_, err := f.sender.SendQuarterly(context.Background())
	require.NoError(t, err)
	assert.Contains(t, f.records.refreshed, "V1")
	assert.NotContains(t, f.records.refreshed, "V2")
}

func TestSendQuarterly_ReminderNotMarkedOnFailure(t *testing.T) {
	due := quarterlyVendor("V1", 20)
	f := newFixture(t, due)
	f.mail.failFor["V1@x.com"] = errors.New("ses down")

	report, err := f.sender.SendQuarterly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, f.records.reminded)
}
