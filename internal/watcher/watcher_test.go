package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vendor-onboarding/internal/broadcast"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeMailbox struct {
	mu          sync.Mutex
	connectErr  error
	connects    int
	seen        []uint32
	waitErr     error
	fetchResult []Message
}

func (f *fakeMailbox) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeMailbox) WaitForMail(ctx context.Context) error {
	if f.waitErr != nil {
		return f.waitErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeMailbox) FetchUnseen(ctx context.Context) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.fetchResult
	f.fetchResult = nil
	return out, nil
}

func (f *fakeMailbox) MarkSeen(ctx context.Context, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, uid)
	return nil
}

func (f *fakeMailbox) Close() error { return nil }

func (f *fakeMailbox) seenUIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32{}, f.seen...)
}

type fakeRecords struct {
	mu        sync.Mutex
	companies map[string]*models.Company
	byEmail   map[string]string
	appended  map[string][]string
}

func newFakeRecords(companies ...*models.Company) *fakeRecords {
	f := &fakeRecords{
		companies: map[string]*models.Company{},
		byEmail:   map[string]string{},
		appended:  map[string][]string{},
	}
	for _, c := range companies {
		f.companies[c.ID] = c
		f.byEmail[strings.ToLower(c.Email)] = c.ID
	}
	return f
}

func (f *fakeRecords) FindByEmail(ctx context.Context, email string) (*models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	copied := *f.companies[id]
	return &copied, nil
}

func (f *fakeRecords) MarkEmailFailedByEmail(ctx context.Context, email string, now time.Time) (*models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	c := f.companies[id]
	c.Status = models.StatusFailed
	c.EmailStatus = models.EmailStatusFailed
	c.EmailSentDate = &now
	copied := *c
	return &copied, nil
}

func (f *fakeRecords) ApplyReply(ctx context.Context, id string, entry models.EmailEntry) (*models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.companies[id]
	c.ReceivedEmails = append(c.ReceivedEmails, entry)
	c.Status = models.StatusResponseReceived
	copied := *c
	return &copied, nil
}

func (f *fakeRecords) AppendDocument(ctx context.Context, id, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.companies[id]
	c.Documents = append(c.Documents, filename)
	c.DocumentSubmitted = true
	c.DocumentPath = filename
	f.appended[id] = append(f.appended[id], filename)
	return nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	notifications []models.Notification
}

func (n *fakeNotifier) Insert(ctx context.Context, notif *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	notif.ID = fmt.Sprintf("notif-%d", len(n.notifications)+1)
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

type fakeBlobs struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (b *fakeBlobs) Save(filename string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saved == nil {
		b.saved = map[string][]byte{}
	}
	b.saved[filename] = data
	return filename, nil
}

type fakeAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *fakeAlerter) Alert(ctx context.Context, subject, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

type watcherFixture struct {
	watcher *Watcher
	mailbox *fakeMailbox
	records *fakeRecords
	notes   *fakeNotifier
	hub     *fakeHub
	blobs   *fakeBlobs
	alerter *fakeAlerter
}

func newFixture(t *testing.T, companies ...*models.Company) *watcherFixture {
	f := &watcherFixture{
		mailbox: &fakeMailbox{},
		records: newFakeRecords(companies...),
		notes:   &fakeNotifier{},
		hub:     &fakeHub{},
		blobs:   &fakeBlobs{},
		alerter: &fakeAlerter{},
	}
	f.watcher = New(f.mailbox, f.records, f.notes, f.hub, f.blobs, f.alerter, Config{
		BounceSender:         "mailer-daemon@googlemail.com",
		MaxReconnectAttempts: 3,
		BackoffCap:           30 * time.Second,
	}, logger.NewZapAdapter(zaptest.NewLogger(t)))
	return f
}

func vendor(id, email string) *models.Company {
	return &models.Company{
		ID:          id,
		CompanyName: "Vendor " + id,
		Email:       email,
		Status:      models.StatusEmailSent,
		EmailStatus: models.EmailStatusSent,
	}
}

// ==========================
// Classification Tests
// ==========================

func TestProcessMessage_BounceCorrelation(t *testing.T) {
	f := newFixture(t, vendor("V1", "vendor@example.com"))

	f.watcher.processMessage(context.Background(), &Message{
		UID:     7,
		From:    "MAILER-DAEMON@googlemail.com",
		Subject: "Delivery Status Notification (Failure)",
		Body:    "Your message to vendor@example.com could not be delivered.",
	})

	c := f.records.companies["V1"]
	assert.Equal(t, models.StatusFailed, c.Status)
	assert.Equal(t, models.EmailStatusFailed, c.EmailStatus)
	assert.NotNil(t, c.EmailSentDate)

	assert.Equal(t, []uint32{7}, f.mailbox.seenUIDs())
	assert.Equal(t, 1, f.hub.count(broadcast.EventCompanyUpdated))
}

func TestProcessMessage_BounceWithoutAddressIsAckedAndSkipped(t *testing.T) {
	f := newFixture(t, vendor("V1", "vendor@example.com"))

	f.watcher.processMessage(context.Background(), &Message{
		UID:  8,
		From: "mailer-daemon@googlemail.com",
		Body: "Delivery failed for an unspecified recipient.",
	})

	assert.Equal(t, models.StatusEmailSent, f.records.companies["V1"].Status)
	assert.Equal(t, []uint32{8}, f.mailbox.seenUIDs())
}

func TestProcessMessage_ReplyWithAttachment(t *testing.T) {
	f := newFixture(t, vendor("V1", "v1@x.com"))

	f.watcher.processMessage(context.Background(), &Message{
		UID:       9,
		From:      "V1@X.com",
		Subject:   "Re: Request for Balance Confirmation",
		InReplyTo: "<abc123@mail.example.com>",
		Body:      "Thanks, see attached. invoice123.pdf\n> On Mon you wrote:\n> please confirm",
		Attachments: []Attachment{
			{Filename: "invoice123.pdf", Data: []byte("%PDF-1.4")},
			{Filename: "notes.txt", Data: []byte("ignored")},
		},
	})

	c := f.records.companies["V1"]
	assert.Equal(t, models.StatusResponseReceived, c.Status)
	assert.True(t, c.DocumentSubmitted)
	require.Len(t, c.ReceivedEmails, 1)
	// quoted lines stripped from the recorded body
	assert.Equal(t, "Thanks, see attached. invoice123.pdf", c.ReceivedEmails[0].Body)

	// only the PDF is persisted, under the generated name
	require.Len(t, f.records.appended["V1"], 1)
	saved := f.records.appended["V1"][0]
	assert.True(t, strings.HasPrefix(saved, "V1_"))
	assert.True(t, strings.HasSuffix(saved, "_invoice123.pdf"))
	assert.Contains(t, f.blobs.saved, saved)

	require.Len(t, f.notes.notifications, 1)
	n := f.notes.notifications[0]
	assert.Equal(t, models.NotifCompanyResponse, n.Type)
	assert.Equal(t, models.StringList{saved}, n.Documents)

	assert.Equal(t, 1, f.hub.count(broadcast.EventCompanyUpdated))
	assert.Equal(t, 1, f.hub.count(broadcast.EventNewNotification))
	assert.Equal(t, []uint32{9}, f.mailbox.seenUIDs())
}

func TestProcessMessage_UnrecognizedMailLeftUnseen(t *testing.T) {
	f := newFixture(t, vendor("V1", "v1@x.com"))

	// reply header but unknown sender
	f.watcher.processMessage(context.Background(), &Message{
		UID:       10,
		From:      "stranger@elsewhere.com",
		InReplyTo: "<abc@x>",
		Body:      "who is this",
	})

	// known sender but no reply header
	f.watcher.processMessage(context.Background(), &Message{
		UID:  11,
		From: "v1@x.com",
		Body: "newsletter",
	})

	assert.Empty(t, f.mailbox.seenUIDs())
	assert.Empty(t, f.notes.notifications)
	assert.Equal(t, models.StatusEmailSent, f.records.companies["V1"].Status)
}

func TestStripQuotedLines(t *testing.T) {
	body := "Hello\n> quoted line\nWorld\n  > indented quote\n"
	assert.Equal(t, "Hello\nWorld", StripQuotedLines(body))
}

// ==========================
// Reconnect Tests
// ==========================

func TestRun_StopsAfterExhaustingReconnects(t *testing.T) {
	f := newFixture(t)
	f.mailbox.connectErr = errors.New("connection refused")

	var delays []time.Duration
	f.watcher.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	f.watcher.Run(context.Background())

	assert.Equal(t, StateStopped, f.watcher.State())
	assert.Equal(t, 4, f.mailbox.connects)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)

	require.Len(t, f.alerter.subjects, 1)
	assert.Equal(t, "Inbox watcher stopped", f.alerter.subjects[0])
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.watcher.Run(ctx)
	assert.Equal(t, StateStopped, f.watcher.State())
	assert.Empty(t, f.alerter.subjects)
}

func TestBackoffIsCapped(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1, 30*time.Second))
	assert.Equal(t, 16*time.Second, backoff(4, 30*time.Second))
	assert.Equal(t, 30*time.Second, backoff(10, 30*time.Second))
}
