// internal/models/json.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList is an ordered list of strings stored as a JSONB column. The raw
// serialized form never leaves the store boundary.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// EmailEntry is one element of a correspondence history list.
type EmailEntry struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// EmailList is an ordered correspondence history stored as a JSONB column.
type EmailList []EmailEntry

func (l EmailList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *EmailList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON list", src)
	}
}

// displayLayout matches the human-readable timestamps the dashboard shows,
// e.g. "31/03/2025, 5:04:05 pm".
const displayLayout = "02/01/2006, 3:04:05 pm"

// DisplayTime is a timestamp that renders as a display-formatted string in
// JSON while staying a machine timestamp in Go and in the database.
type DisplayTime time.Time

func NewDisplayTime(t time.Time) *DisplayTime {
	d := DisplayTime(t)
	return &d
}

func (d DisplayTime) Time() time.Time { return time.Time(d) }

func (d DisplayTime) String() string {
	return time.Time(d).Format(displayLayout)
}

func (d DisplayTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DisplayTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	// Accept both the display form and RFC 3339 from API clients.
	if t, err := time.Parse(displayLayout, s); err == nil {
		*d = DisplayTime(t)
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("unrecognized timestamp %q", s)
	}
	*d = DisplayTime(t)
	return nil
}
