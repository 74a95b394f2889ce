// internal/watcher/imap.go
package watcher

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
)

// IMAPConfig addresses one mailbox.
type IMAPConfig struct {
	Address  string
	Username string
	Password string
	Mailbox  string
}

// IMAPMailbox implements Mailbox over a TLS IMAP connection with IDLE.
type IMAPMailbox struct {
	cfg    IMAPConfig
	logger logger.Logger

	client  *client.Client
	updates chan client.Update
}

func NewIMAPMailbox(cfg IMAPConfig, log logger.Logger) *IMAPMailbox {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &IMAPMailbox{
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "imap"}),
	}
}

func (m *IMAPMailbox) Connect(ctx context.Context) error {
	c, err := client.DialTLS(m.cfg.Address, nil)
	if err != nil {
		return apperrors.NewMailboxError(fmt.Errorf("dial %s: %w", m.cfg.Address, err))
	}

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		_ = c.Logout()
		return apperrors.NewMailboxError(fmt.Errorf("login: %w", err))
	}

	if _, err := c.Select(m.cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return apperrors.NewMailboxError(fmt.Errorf("select %s: %w", m.cfg.Mailbox, err))
	}

	m.updates = make(chan client.Update, 16)
	c.Updates = m.updates
	m.client = c
	return nil
}

// WaitForMail idles until the server reports a mailbox change.
func (m *IMAPMailbox) WaitForMail(ctx context.Context) error {
	if m.client == nil {
		return apperrors.NewMailboxError(fmt.Errorf("not connected"))
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.client.Idle(stop, nil)
	}()

	stopIdle := func() {
		close(stop)
		<-done
	}

	for {
		select {
		case <-ctx.Done():
			stopIdle()
			return ctx.Err()
		case err := <-done:
			if err != nil {
				return apperrors.NewMailboxError(err)
			}
			return nil
		case update := <-m.updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				stopIdle()
				return nil
			}
		}
	}
}

// FetchUnseen retrieves and parses every unseen message, preserving the
// server-returned order. Bodies are fetched with PEEK so classification
// decides what gets acknowledged.
func (m *IMAPMailbox) FetchUnseen(ctx context.Context) ([]Message, error) {
	if m.client == nil {
		return nil, apperrors.NewMailboxError(fmt.Errorf("not connected"))
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, apperrors.NewMailboxError(fmt.Errorf("search unseen: %w", err))
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqset, items, ch)
	}()

	messages := []Message{}
	for raw := range ch {
		msg, err := m.parseMessage(raw, section)
		if err != nil {
			m.logger.WithError(err).Warn("failed to parse inbound message", map[string]interface{}{
				"uid": raw.Uid,
			})
			continue
		}
		messages = append(messages, *msg)
	}

	if err := <-done; err != nil {
		return nil, apperrors.NewMailboxError(fmt.Errorf("fetch unseen: %w", err))
	}
	return messages, nil
}

func (m *IMAPMailbox) parseMessage(raw *imap.Message, section *imap.BodySectionName) (*Message, error) {
	msg := &Message{UID: raw.Uid}

	if raw.Envelope != nil {
		msg.Subject = raw.Envelope.Subject
		msg.InReplyTo = raw.Envelope.InReplyTo
		if len(raw.Envelope.From) > 0 {
			msg.From = strings.ToLower(raw.Envelope.From[0].Address())
		}
	}

	body := raw.GetBody(section)
	if body == nil {
		return msg, nil
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("create mail reader: %w", err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read mime part: %w", err)
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := header.ContentType()
			if msg.Body == "" && (contentType == "text/plain" || contentType == "text/html") {
				data, err := io.ReadAll(part.Body)
				if err != nil {
					return nil, fmt.Errorf("read body part: %w", err)
				}
				msg.Body = string(data)
			}
		case *mail.AttachmentHeader:
			filename, err := header.Filename()
			if err != nil || filename == "" {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil {
				m.logger.WithError(err).Warn("failed to read attachment", map[string]interface{}{
					"filename": filename,
				})
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{Filename: filename, Data: data})
		}
	}

	return msg, nil
}

// MarkSeen acknowledges one message by UID.
func (m *IMAPMailbox) MarkSeen(ctx context.Context, uid uint32) error {
	if m.client == nil {
		return apperrors.NewMailboxError(fmt.Errorf("not connected"))
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := m.client.UidStore(seqset, item, flags, nil); err != nil {
		return apperrors.NewMailboxError(fmt.Errorf("mark seen %d: %w", uid, err))
	}
	return nil
}

func (m *IMAPMailbox) Close() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Logout()
	m.client = nil
	return err
}
