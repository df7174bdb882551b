package notification

import (
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
)

// Entry is an outbox record: one activation notification to deliver to every member of a group.
type Entry struct {
	ID           string      `json:"id"`
	GroupID      string      `json:"group_id"`
	ChatLink     string      `json:"whatsapp_link"`
	Attempts     int         `json:"attempts"`
	LastError    null.String `json:"last_error"`
	EmailsSent   int         `json:"emails_sent"`
	EmailsFailed int         `json:"emails_failed"`
	CreatedAt    time.Time   `json:"created_at"`   // UTC
	DeliveredAt  null.Time   `json:"delivered_at"` // UTC
}

func (e Entry) Delivered() bool { return e.DeliveredAt.Valid }

// NewEntry returns an undelivered entry for the activation of `groupID`.
func NewEntry(groupID, chatLink string, now time.Time) Entry {
	return Entry{GroupID: groupID, ChatLink: chatLink, CreatedAt: now}
}

// Report summarises a dispatch.
type Report struct {
	EmailsSent   int `json:"emails_sent"`
	EmailsFailed int `json:"emails_failed"`
}

type Recipient struct {
	FirstName string
	Email     string
}

// GroupInfo is what a dispatch needs to know about a group.
type GroupInfo struct {
	ID         string
	Region     string
	Grade      string
	TimeSlots  []string
	Active     bool
	ChatLink   string
	Recipients []Recipient
}

// groupReadyData feeds the "group_ready" email templates.
type groupReadyData struct {
	FirstName string
	Region    string
	Grade     string
	Slots     string
	ChatLink  string
}

func newGroupReadyData(info GroupInfo, r Recipient, chatLink string) groupReadyData {
	return groupReadyData{
		FirstName: r.FirstName,
		Region:    info.Region,
		Grade:     info.Grade,
		Slots:     strings.Join(info.TimeSlots, ", "),
		ChatLink:  chatLink,
	}
}
