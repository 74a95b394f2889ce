package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
)

// ==========================
// Test Helper Functions
// ==========================

type mockSES struct {
	sendCalls    int
	rawCalls     int
	failUntil    int
	lastRaw      []byte
	lastPlainTo  []string
	failAttempts bool
}

func (m *mockSES) SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	m.sendCalls++
	if m.failAttempts || m.sendCalls <= m.failUntil {
		return nil, errors.New("ses throttled")
	}
	m.lastPlainTo = input.Destination.ToAddresses
	return &ses.SendEmailOutput{MessageId: aws.String("msg-123")}, nil
}

func (m *mockSES) SendRawEmail(ctx context.Context, input *ses.SendRawEmailInput) (*ses.SendRawEmailOutput, error) {
	m.rawCalls++
	if m.failAttempts {
		return nil, errors.New("ses throttled")
	}
	m.lastRaw = input.RawMessage.Data
	return &ses.SendRawEmailOutput{MessageId: aws.String("raw-456")}, nil
}

func newTestMailer(t *testing.T, client SESService) *SESMailer {
	opts := Options{SendTimeout: time.Second, Retries: 2, RetryDelay: time.Millisecond}
	return NewSESMailer(client, opts, logger.NewZapAdapter(zaptest.NewLogger(t)))
}

func plainMessage() Message {
	return Message{
		From:     "accounts@example.com",
		To:       []string{"vendor@example.com"},
		Subject:  InitialSubject(),
		TextBody: InitialBody("Acme Ltd", "https://portal.example.com/submit-documents/comp-1"),
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestSESMailer_Send_Plain(t *testing.T) {
	mock := &mockSES{}
	m := newTestMailer(t, mock)

	id, err := m.Send(context.Background(), plainMessage())
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	assert.Equal(t, 1, mock.sendCalls)
	assert.Equal(t, 0, mock.rawCalls)
	assert.Equal(t, []string{"vendor@example.com"}, mock.lastPlainTo)
}

func TestSESMailer_Send_RetriesTransientFailures(t *testing.T) {
	mock := &mockSES{failUntil: 2}
	m := newTestMailer(t, mock)

	id, err := m.Send(context.Background(), plainMessage())
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	assert.Equal(t, 3, mock.sendCalls)
}

func TestSESMailer_Send_ExhaustedRetries(t *testing.T) {
	mock := &mockSES{failAttempts: true}
	m := newTestMailer(t, mock)

	_, err := m.Send(context.Background(), plainMessage())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMailSendFailed))
	assert.Equal(t, 3, mock.sendCalls)
}

func TestSESMailer_Send_AttachmentUsesRawPath(t *testing.T) {
	mock := &mockSES{}
	m := newTestMailer(t, mock)

	msg := plainMessage()
	msg.CC = []string{"owner@example.com"}
	msg.Attachments = []Attachment{{
		Filename:    "statement.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4"),
	}}

	id, err := m.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "raw-456", id)
	assert.Equal(t, 0, mock.sendCalls)
	assert.Equal(t, 1, mock.rawCalls)

	raw := string(mock.lastRaw)
	assert.Contains(t, raw, "To: <vendor@example.com>")
	assert.Contains(t, raw, "Cc: <owner@example.com>")
	assert.Contains(t, raw, "statement.pdf")
}

func TestSESMailer_Send_NoRecipients(t *testing.T) {
	m := newTestMailer(t, &mockSES{})

	msg := plainMessage()
	msg.To = nil
	_, err := m.Send(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
}

// ==========================
// Template Tests
// ==========================

func TestTemplates(t *testing.T) {
	link := SubmissionLink("https://portal.example.com", "comp-1")
	assert.Equal(t, "https://portal.example.com/submit-documents/comp-1", link)

	body := InitialBody("Acme Ltd", link)
	assert.True(t, strings.HasPrefix(body, "Dear Acme Ltd,"))
	assert.Contains(t, body, link)
	assert.Contains(t, body, "expire after one submission")

	reminder := ResendBody("Acme Ltd", link)
	assert.Contains(t, reminder, "This is a reminder")
}

func TestQuarterRange(t *testing.T) {
	start, end := QuarterRange(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.September, 30, 0, 0, 0, 0, time.UTC), end)

	subject := QuarterlySubject(start, end)
	assert.Equal(t, "Quarterly Reminder: Balance Confirmation for 01/07/2026 - 30/09/2026", subject)
}
