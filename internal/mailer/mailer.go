// Package mailer is the outbound send capability: compose one message,
// hand it to SES, report the provider message id or an error. Attachments
// and CC recipients force the raw MIME path.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/emersion/go-message/mail"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/common/metrics"
)

// Attachment is one file carried by an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a fully composed outbound email.
type Message struct {
	From        string
	To          []string
	CC          []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Mailer sends one message and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SESService is the slice of the SES API the mailer needs; tests provide
// a mock.
type SESService interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
	SendRawEmail(ctx context.Context, input *ses.SendRawEmailInput) (*ses.SendRawEmailOutput, error)
}

// Options control per-attempt timeout and retry pacing.
type Options struct {
	SendTimeout time.Duration
	Retries     int
	RetryDelay  time.Duration
}

func DefaultOptions() Options {
	return Options{
		SendTimeout: 15 * time.Second,
		Retries:     2,
		RetryDelay:  time.Second,
	}
}

type SESMailer struct {
	client SESService
	opts   Options
	logger logger.Logger
}

func NewSESMailer(client SESService, opts Options, log logger.Logger) *SESMailer {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultOptions().SendTimeout
	}
	return &SESMailer{
		client: client,
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"component": "mailer"}),
	}
}

// Send dispatches one message with per-attempt timeout and bounded retry.
func (m *SESMailer) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", apperrors.NewValidationError("message has no recipients")
	}

	kind := "plain"
	if m.needsRaw(msg) {
		kind = "raw"
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= m.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.opts.RetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		id, err := m.sendOnce(ctx, msg)
		if err == nil {
			metrics.EmailSendDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			return id, nil
		}
		lastErr = err
		m.logger.WithError(err).Warn("email send attempt failed", map[string]interface{}{
			"attempt": attempt + 1,
			"to":      msg.To[0],
		})
	}

	return "", apperrors.NewMailSendError(lastErr)
}

func (m *SESMailer) sendOnce(ctx context.Context, msg Message) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	defer cancel()

	if m.needsRaw(msg) {
		raw, err := buildRawMessage(msg)
		if err != nil {
			return "", err
		}
		out, err := m.client.SendRawEmail(sendCtx, &ses.SendRawEmailInput{
			Source:       aws.String(msg.From),
			Destinations: append(append([]string{}, msg.To...), msg.CC...),
			RawMessage:   &types.RawMessage{Data: raw},
		})
		if err != nil {
			return "", err
		}
		return aws.ToString(out.MessageId), nil
	}

	out, err := m.client.SendEmail(sendCtx, &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: msg.To,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.TextBody)},
				Html: &types.Content{Data: aws.String(htmlOrText(msg))},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (m *SESMailer) needsRaw(msg Message) bool {
	return len(msg.Attachments) > 0 || len(msg.CC) > 0
}

func htmlOrText(msg Message) string {
	if msg.HTMLBody != "" {
		return msg.HTMLBody
	}
	return msg.TextBody
}

// buildRawMessage assembles the full MIME message for SendRawEmail.
func buildRawMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: msg.From}})

	to := make([]*mail.Address, len(msg.To))
	for i, addr := range msg.To {
		to[i] = &mail.Address{Address: addr}
	}
	h.SetAddressList("To", to)

	if len(msg.CC) > 0 {
		cc := make([]*mail.Address, len(msg.CC))
		for i, addr := range msg.CC {
			cc[i] = &mail.Address{Address: addr}
		}
		h.SetAddressList("Cc", cc)
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var th mail.InlineHeader
	th.Set("Content-Type", "text/html; charset=utf-8")
	body, err := tw.CreatePart(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(body, htmlOrText(msg)); err != nil {
		return nil, err
	}
	if err := body.Close(); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.Set("Content-Type", contentType)
		ah.SetFilename(att.Filename)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(att.Data); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
