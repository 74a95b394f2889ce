// Package watcher maintains the long-lived mailbox connection, classifies
// inbound mail as bounces, vendor replies or irrelevant traffic, and drives
// the vendor status state machine from it. It runs alongside the HTTP
// server and must never take it down: connection failures feed a bounded
// reconnect loop that ends in a terminal Stopped state.
package watcher

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"vendor-onboarding/internal/blob"
	"vendor-onboarding/internal/broadcast"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/common/metrics"
	"vendor-onboarding/internal/models"
)

// State of the watcher connection loop.
type State int32

const (
	StateStopped State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateProcessing:
		return "Processing"
	}
	return "Unknown"
}

// Attachment is one MIME part flagged as an attachment.
type Attachment struct {
	Filename string
	Data     []byte
}

// Message is one inbound mail, already parsed.
type Message struct {
	UID         uint32
	From        string
	Subject     string
	InReplyTo   string
	Body        string
	Attachments []Attachment
}

// Mailbox is the slice of an IMAP connection the watcher needs. The real
// implementation lives in imap.go; tests supply a fake.
type Mailbox interface {
	Connect(ctx context.Context) error
	// WaitForMail blocks until the server signals new mail or the
	// connection breaks.
	WaitForMail(ctx context.Context) error
	FetchUnseen(ctx context.Context) ([]Message, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// Records is the slice of the company store the watcher needs.
type Records interface {
	FindByEmail(ctx context.Context, email string) (*models.Company, error)
	MarkEmailFailedByEmail(ctx context.Context, email string, now time.Time) (*models.Company, error)
	ApplyReply(ctx context.Context, id string, entry models.EmailEntry) (*models.Company, error)
	AppendDocument(ctx context.Context, id, filename string) error
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

// Alerter raises an operator alert when the watcher stops permanently.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// Config controls classification and reconnect behavior.
type Config struct {
	// BounceSender identifies provider bounce notifications by sender.
	BounceSender string
	// MaxReconnectAttempts before the watcher stops permanently.
	MaxReconnectAttempts int
	// BackoffCap bounds the exponential reconnect delay.
	BackoffCap time.Duration
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

type Watcher struct {
	mailbox       Mailbox
	records       Records
	notifications Notifier
	hub           Broadcaster
	blobs         Blobs
	alerter       Alerter
	cfg           Config
	logger        logger.Logger

	state atomic.Int32
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(mailbox Mailbox, records Records, notifications Notifier, hub Broadcaster, blobs Blobs, alerter Alerter, cfg Config, log logger.Logger) *Watcher {
	if cfg.BounceSender == "" {
		cfg.BounceSender = "mailer-daemon@googlemail.com"
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	w := &Watcher{
		mailbox:       mailbox,
		records:       records,
		notifications: notifications,
		hub:           hub,
		blobs:         blobs,
		alerter:       alerter,
		cfg:           cfg,
		logger:        log.WithFields(map[string]interface{}{"component": "watcher"}),
		now:           time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	w.setState(StateDisconnected)
	return w
}

// State reports the current connection state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

func (w *Watcher) setState(s State) {
	w.state.Store(int32(s))
	metrics.WatcherState.Set(float64(s))
}

// Run drives the connect/idle/process loop until ctx is cancelled or the
// reconnect budget is exhausted.
func (w *Watcher) Run(ctx context.Context) {
	attempts := 0

	for {
		if ctx.Err() != nil {
			w.setState(StateStopped)
			return
		}

		w.setState(StateConnecting)
		err := w.mailbox.Connect(ctx)
		if err == nil {
			attempts = 0
			w.logger.Info("mailbox connected", nil)
			err = w.watch(ctx)
		}

		_ = w.mailbox.Close()

		if ctx.Err() != nil {
			w.setState(StateStopped)
			return
		}

		attempts++
		metrics.WatcherReconnects.Inc()
		if attempts > w.cfg.MaxReconnectAttempts {
			w.stopPermanently(ctx, err)
			return
		}

		delay := backoff(attempts, w.cfg.BackoffCap)
		w.setState(StateDisconnected)
		w.logger.WithError(err).Warn("mailbox connection lost, reconnecting", map[string]interface{}{
			"attempt": attempts,
			"delay":   delay.String(),
		})
		if serr := w.sleep(ctx, delay); serr != nil {
			w.setState(StateStopped)
			return
		}
	}
}

func backoff(attempt int, cap time.Duration) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > cap || d <= 0 {
		return cap
	}
	return d
}

// stopPermanently is the terminal transition: logged, alerting, requiring
// an operator restart.
func (w *Watcher) stopPermanently(ctx context.Context, cause error) {
	w.setState(StateStopped)
	w.logger.WithError(cause).Error("watcher stopped permanently after exhausting reconnect attempts", map[string]interface{}{
		"attempts": w.cfg.MaxReconnectAttempts,
	})
	if w.alerter == nil {
		return
	}
	msg := "The inbox watcher has stopped after exhausting its reconnect attempts and requires a restart."
	if cause != nil {
		msg += " Last error: " + cause.Error()
	}
	if err := w.alerter.Alert(ctx, "Inbox watcher stopped", msg); err != nil {
		w.logger.WithError(err).Error("failed to publish watcher-stopped alert", nil)
	}
}

// watch processes the initial backlog, then idles for new mail.
func (w *Watcher) watch(ctx context.Context) error {
	if err := w.processUnseen(ctx); err != nil {
		return err
	}

	for {
		w.setState(StateConnected)
		if err := w.mailbox.WaitForMail(ctx); err != nil {
			return err
		}
		if err := w.processUnseen(ctx); err != nil {
			return err
		}
	}
}

func (w *Watcher) processUnseen(ctx context.Context) error {
	w.setState(StateProcessing)
	messages, err := w.mailbox.FetchUnseen(ctx)
	if err != nil {
		return err
	}

	// server-returned order, preserved as-is
	for i := range messages {
		w.processMessage(ctx, &messages[i])
	}
	return nil
}

// processMessage classifies one message, first match wins: bounce, then
// recognized reply, then skip. Only bounces and recognized replies are
// acknowledged; everything else stays unseen for reconsideration.
func (w *Watcher) processMessage(ctx context.Context, msg *Message) {
	from := strings.ToLower(strings.TrimSpace(msg.From))

	if strings.Contains(from, strings.ToLower(w.cfg.BounceSender)) {
		w.processBounce(ctx, msg)
		return
	}

	if msg.InReplyTo != "" {
		company, err := w.records.FindByEmail(ctx, from)
		if err != nil {
			w.logger.WithError(err).Error("reply correlation lookup failed", map[string]interface{}{"from": from})
			return
		}
		if company != nil {
			w.processReply(ctx, msg, company)
			return
		}
	}

	metrics.InboundProcessed.WithLabelValues("skipped").Inc()
	w.logger.Debug("inbound message not recognized, left unseen", map[string]interface{}{
		"from":    from,
		"subject": msg.Subject,
	})
}

// processBounce extracts the failed recipient from the bounce body and
// fails the matching vendor. Bounces are acknowledged even when nothing
// matches: re-reading them would never produce a different outcome.
func (w *Watcher) processBounce(ctx context.Context, msg *Message) {
	defer w.ack(ctx, msg.UID)

	address := emailPattern.FindString(msg.Body)
	if address == "" {
		metrics.InboundProcessed.WithLabelValues("bounce_unparsed").Inc()
		w.logger.Warn("bounce message without extractable address", map[string]interface{}{
			"subject": msg.Subject,
		})
		return
	}

	company, err := w.records.MarkEmailFailedByEmail(ctx, address, w.now())
	if err != nil {
		w.logger.WithError(err).Error("failed to apply bounce", map[string]interface{}{"address": address})
		return
	}
	if company == nil {
		metrics.InboundProcessed.WithLabelValues("bounce_unmatched").Inc()
		w.logger.Info("bounce for unknown address", map[string]interface{}{"address": address})
		return
	}

	metrics.InboundProcessed.WithLabelValues("bounce").Inc()
	w.logger.Info("bounce applied", map[string]interface{}{
		"companyId": company.ID,
		"address":   address,
	})
	w.hub.Publish(broadcast.EventCompanyUpdated, company)
}

// processReply records the correlated reply: quote-stripped body, saved PDF
// attachments, Response Received status, notification and broadcasts.
func (w *Watcher) processReply(ctx context.Context, msg *Message, company *models.Company) {
	now := w.now()
	entry := models.EmailEntry{
		Subject:   msg.Subject,
		Body:      StripQuotedLines(msg.Body),
		Timestamp: now,
	}

	updated, err := w.records.ApplyReply(ctx, company.ID, entry)
	if err != nil {
		w.logger.WithError(err).Error("failed to record reply", map[string]interface{}{"companyId": company.ID})
		return
	}

	saved := []string{}
	for _, att := range msg.Attachments {
		if !strings.HasSuffix(strings.ToLower(att.Filename), ".pdf") {
			continue
		}
		name, err := w.blobs.Save(blob.AttachmentName(company.ID, now, att.Filename), att.Data)
		if err != nil {
			w.logger.WithError(err).Error("failed to store attachment", map[string]interface{}{
				"companyId": company.ID,
				"filename":  att.Filename,
			})
			continue
		}
		if err := w.records.AppendDocument(ctx, company.ID, name); err != nil {
			w.logger.WithError(err).Error("failed to register attachment", map[string]interface{}{
				"companyId": company.ID,
				"filename":  name,
			})
			continue
		}
		saved = append(saved, name)
	}
	if len(saved) > 0 {
		updated.Documents = append(updated.Documents, saved...)
		updated.DocumentSubmitted = true
		updated.DocumentPath = saved[len(saved)-1]
	}

	notification := &models.Notification{
		Type:        models.NotifCompanyResponse,
		CompanyID:   company.ID,
		CompanyName: company.DisplayName(),
		Message:     entry.Body,
		Documents:   models.StringList(saved),
		Timestamp:   now,
	}
	if err := w.notifications.Insert(ctx, notification); err != nil {
		w.logger.WithError(err).Warn("failed to record reply notification", map[string]interface{}{
			"companyId": company.ID,
		})
	} else {
		w.hub.Publish(broadcast.EventNewNotification, notification)
	}

	metrics.InboundProcessed.WithLabelValues("reply").Inc()
	w.logger.Info("reply recorded", map[string]interface{}{
		"companyId":   company.ID,
		"attachments": len(saved),
	})
	w.hub.Publish(broadcast.EventCompanyUpdated, updated)
	w.ack(ctx, msg.UID)
}

func (w *Watcher) ack(ctx context.Context, uid uint32) {
	if err := w.mailbox.MarkSeen(ctx, uid); err != nil {
		w.logger.WithError(err).Warn("failed to mark message seen", map[string]interface{}{"uid": uid})
	}
}

// StripQuotedLines removes quoted reply lines (starting with ">") and trims
// the remainder.
func StripQuotedLines(body string) string {
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
