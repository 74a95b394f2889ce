// internal/mailer/templates.go
package mailer

import (
	"fmt"
	"time"
)

// BalanceDate is the confirmation cut-off named in every outbound template.
const BalanceDate = "31st Mar 2025"

const signature = "Best regards,\nTechnow,\nPhone: +91 89345-93685"

// dateLayout renders quarter boundaries as dd/mm/yyyy.
const dateLayout = "02/01/2006"

// SubmissionLink builds the deterministic one-time link for a vendor.
func SubmissionLink(baseURL, companyID string) string {
	return fmt.Sprintf("%s/submit-documents/%s", baseURL, companyID)
}

// InitialSubject is the subject for first-time balance confirmation requests.
func InitialSubject() string {
	return "Request for Balance Confirmation as on " + BalanceDate
}

// InitialBody builds the first-time request body.
func InitialBody(companyName, link string) string {
	return fmt.Sprintf(`Dear %s,

Kindly refer to the below list of vendors. You are requested to provide balance confirmation as on %s on a priority basis.

Please submit your documents using the following link: %s

Note: This link will expire after one submission.

%s`, companyName, BalanceDate, link, signature)
}

// InitialHTML is the HTML variant with a clickable link.
func InitialHTML(companyName, link string) string {
	return fmt.Sprintf(`<p>Dear %s,</p>
<p>Kindly refer to the below list of vendors. You are requested to provide balance confirmation as on %s on a priority basis.</p>
<p>Please submit your documents using the following link:<br/><a href="%s">%s</a></p>
<p>Note: This link will expire after one submission.</p>
<p>Best regards,<br/>Technow,<br/>Phone: +91 89345-93685</p>`, companyName, BalanceDate, link, link)
}

// ResendSubject is the subject used when retrying failed vendors.
func ResendSubject() string {
	return "Reminder: Request for Balance Confirmation as on " + BalanceDate
}

// ResendBody builds the resend-reminder body.
func ResendBody(companyName, link string) string {
	return fmt.Sprintf(`Dear %s,

This is a reminder to provide balance confirmation as on %s on a priority basis.

Please submit your documents using the following link: %s

Note: This link will expire after one submission.

%s`, companyName, BalanceDate, link, signature)
}

// QuarterRange returns the first and last day of the calendar quarter
// containing t.
func QuarterRange(t time.Time) (time.Time, time.Time) {
	quarterStartMonth := time.Month(((int(t.Month())-1)/3)*3 + 1)
	start := time.Date(t.Year(), quarterStartMonth, 1, 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 3, 0).AddDate(0, 0, -1)
	return start, end
}

// QuarterlySubject includes the quarter date range.
func QuarterlySubject(start, end time.Time) string {
	return fmt.Sprintf("Quarterly Reminder: Balance Confirmation for %s - %s",
		start.Format(dateLayout), end.Format(dateLayout))
}

// QuarterlyBody builds the quarterly reminder body.
func QuarterlyBody(companyName, link string, start, end time.Time) string {
	return fmt.Sprintf(`Dear %s,

This is a quarterly reminder to submit the balance confirmation as on %s for the period %s to %s.

Please submit your documents using the following link: %s

Note: This link will expire after one submission.

%s`, companyName, BalanceDate, start.Format(dateLayout), end.Format(dateLayout), link, signature)
}
