// internal/models/notification.go
package models

import "time"

// NotificationType tags the event that produced a notification. Consumers
// switch over KnownNotificationTypes so new kinds cannot be added silently.
type NotificationType string

const (
	NotifCompanyResponse       NotificationType = "company_response"
	NotifEmailSent             NotificationType = "email_sent"
	NotifReminderSent          NotificationType = "reminder_sent"
	NotifPaymentProofSubmitted NotificationType = "payment_proof_submitted"
	NotifPaymentDisagreement   NotificationType = "payment_disagreement"
)

var KnownNotificationTypes = []NotificationType{
	NotifCompanyResponse,
	NotifEmailSent,
	NotifReminderSent,
	NotifPaymentProofSubmitted,
	NotifPaymentDisagreement,
}

func (t NotificationType) Valid() bool {
	for _, k := range KnownNotificationTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Notification records one state-changing event for the dashboard feed.
// Created by the sender, the inbox watcher, and the submission handler;
// only its read flag is ever mutated afterwards.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	CompanyID   string           `json:"companyId"`
	CompanyName string           `json:"companyName"`
	Message     string           `json:"message"`
	Documents   StringList       `json:"documents,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	IsRead      bool             `json:"isRead"`
}
