// internal/models/company.go
package models

import "time"

// Lifecycle status values for the authoritative Status field.
const (
	StatusPending          = "Pending"
	StatusNotShown         = "Not Shown"
	StatusShowMail         = "Show Mail"
	StatusEmailSent        = "Email Sent"
	StatusResponseReceived = "Response Received"
	StatusPaymentNotAgreed = "Payment Not Agreed"
	StatusFailed           = "Failed"
)

// EmailStatus values track only the outcome of the most recent send attempt.
const (
	EmailStatusPending = "Pending"
	EmailStatusSent    = "Sent"
	EmailStatusFailed  = "Failed"
)

// ReminderSent is a tri-state string flag: unset, "FALSE", or "TRUE".
const (
	ReminderSentTrue  = "TRUE"
	ReminderSentFalse = "FALSE"
)

// Company is one onboarded vendor awaiting balance confirmation.
type Company struct {
	ID          string `json:"_id"`
	SrNo        int    `json:"srNo,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Username    string `json:"username,omitempty"`
	GroupName   string `json:"groupName,omitempty"`
	Division    string `json:"division,omitempty"`
	Status      string `json:"status"`
	Email       string `json:"email,omitempty"` // lowercased, trimmed on write; join key for reply correlation
	PhoneNumber string `json:"phoneNumber,omitempty"`
	OwnerEmail  string `json:"ownerEmail,omitempty"`

	Documents         StringList `json:"documents"`
	DocumentSubmitted bool       `json:"documentSubmitted"`
	DocumentPath      string     `json:"documentPath,omitempty"`

	EmailCount    int        `json:"emailCount"`
	EmailStatus   string     `json:"emailStatus"`
	EmailError    string     `json:"emailError,omitempty"`
	EmailSentDate *time.Time `json:"emailSentDate,omitempty"`
	LastEmailSent *time.Time `json:"lastEmailSent,omitempty"`

	FormSentTimestamp *DisplayTime `json:"formSentTimestamp,omitempty"`
	LastUpdated       *DisplayTime `json:"lastUpdated,omitempty"`

	ReminderSent  string     `json:"reminderSent,omitempty"`
	LinkCreatedAt *time.Time `json:"linkCreatedAt,omitempty"`
	LinkUsed      bool       `json:"linkUsed"`

	SentEmails     EmailList `json:"sentEmails"`
	ReceivedEmails EmailList `json:"receivedEmails"`

	InvoiceNo        string     `json:"invoiceNo,omitempty"`
	InvoiceDate      *time.Time `json:"invoiceDate,omitempty"`
	BillAmount       *float64   `json:"billAmount,omitempty"`
	PaymentConfirmed bool       `json:"paymentConfirmed"`
}

// DisplayName is the salutation used in outbound mail and notifications.
func (c *Company) DisplayName() string {
	if c.CompanyName != "" {
		return c.CompanyName
	}
	return "Vendor"
}

// CompanyPatch is a partial update: nil fields keep their stored value.
type CompanyPatch struct {
	SrNo              *int         `json:"srNo"`
	CompanyName       *string      `json:"companyName"`
	Username          *string      `json:"username"`
	GroupName         *string      `json:"groupName"`
	Division          *string      `json:"division"`
	Status            *string      `json:"status"`
	Email             *string      `json:"email"`
	PhoneNumber       *string      `json:"phoneNumber"`
	OwnerEmail        *string      `json:"ownerEmail"`
	Documents         *StringList  `json:"documents"`
	DocumentSubmitted *bool        `json:"documentSubmitted"`
	DocumentPath      *string      `json:"documentPath"`
	EmailCount        *int         `json:"emailCount"`
	EmailStatus       *string      `json:"emailStatus"`
	EmailError        *string      `json:"emailError"`
	EmailSentDate     *time.Time   `json:"emailSentDate"`
	LastEmailSent     *time.Time   `json:"lastEmailSent"`
	FormSentTimestamp *DisplayTime `json:"formSentTimestamp"`
	LastUpdated       *DisplayTime `json:"lastUpdated"`
	ReminderSent      *string      `json:"reminderSent"`
	LinkCreatedAt     *time.Time   `json:"linkCreatedAt"`
	LinkUsed          *bool        `json:"linkUsed"`
	SentEmails        *EmailList   `json:"sentEmails"`
	ReceivedEmails    *EmailList   `json:"receivedEmails"`
	InvoiceNo         *string      `json:"invoiceNo"`
	InvoiceDate       *time.Time   `json:"invoiceDate"`
	BillAmount        *float64     `json:"billAmount"`
	PaymentConfirmed  *bool        `json:"paymentConfirmed"`
}

// DashboardMetrics are the aggregate counts shown on the dashboard.
type DashboardMetrics struct {
	TotalCompanies int `json:"totalCompanies"`
	Pending        int `json:"pending"`
	Sent           int `json:"sent"`
	Failed         int `json:"failed"`
	MailViewed     int `json:"mailViewed"`
	Responded      int `json:"responded"`
}
