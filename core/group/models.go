package group

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"

	// NotAssigned is the assignment status of students without any group.
	NotAssigned = "not_assigned"

	DefaultMaxMembers = 5
)

var (
	Statuses = []Status{StatusPending, StatusActive, StatusCompleted}

	// transitions lists the allowed status changes. Everything else is ErrInvalidTransition.
	transitions = map[Status]Status{
		StatusPending: StatusActive,
		StatusActive:  StatusCompleted,
	}
)

func (s Status) CanTransitionTo(to Status) bool {
	next, ok := transitions[s]
	return ok && next == to
}

// IsOpen reports whether students may still join a group in status `s`.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusActive
}

type Group struct {
	ID         string      `json:"id"`
	Region     string      `json:"bundesland"`
	Grade      string      `json:"klassenstufe"`
	TimeSlots  []string    `json:"time_slots"`
	Status     Status      `json:"status"`
	MaxMembers int         `json:"max_members"`
	ChatLink   null.String `json:"whatsapp_link"`
	AdminNote  null.String `json:"admin_notes"`
	LinkSentAt null.Time   `json:"link_sent_at"` // UTC
	CreatedAt  time.Time   `json:"created_at"`   // UTC
	UpdatedAt  time.Time   `json:"updated_at"`   // UTC
}

// ForViewer returns the group as `sess` may see it:
// the chat link is only exposed for active groups, admins see everything.
func (g Group) ForViewer(sess core.Session) Group {
	if sess.IsAdmin {
		return g
	}
	if g.Status != StatusActive {
		g.ChatLink = null.String{}
	}
	g.AdminNote = null.String{}
	return g
}

// SharedSlots returns the slots of the group that are also in `labels`, in group order.
func (g Group) SharedSlots(labels []string) []string {
	shared := make([]string, 0)
	for _, slot := range g.TimeSlots {
		if core.ContainsString(labels, slot) {
			shared = append(shared, slot)
		}
	}
	return shared
}

type Membership struct {
	ID       string    `json:"id"`
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"` // UTC
}

// Member is a group member as listed in admin views.
type Member struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Registered time.Time `json:"registered"` // UTC
}

type PendingGroup struct {
	GroupID      string    `json:"group_id"`
	Region       string    `json:"bundesland"`
	Grade        string    `json:"klassenstufe"`
	TimeSlots    []string  `json:"time_slots"`
	StudentCount int       `json:"student_count"`
	Students     []Member  `json:"students"`
	CreatedAt    time.Time `json:"created_at"`
}

type ActiveGroup struct {
	GroupID      string    `json:"group_id"`
	Region       string    `json:"bundesland"`
	Grade        string    `json:"klassenstufe"`
	TimeSlots    []string  `json:"time_slots"`
	StudentCount int       `json:"student_count"`
	ChatLink     string    `json:"whatsapp_link"`
	Status       Status    `json:"status"`
	LinkSentAt   null.Time `json:"link_sent_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserGroup is a membership with its group.
type UserGroup struct {
	ID          string    `json:"id"`
	JoinedAt    time.Time `json:"joined_at"`
	MemberCount int       `json:"member_count"`
	Group       Group     `json:"group"`
}

type Stats struct {
	TotalStudents   int `json:"total_students"`
	PendingGroups   int `json:"pending_groups"`
	ActiveGroups    int `json:"active_groups"`
	CompletedGroups int `json:"completed_bookings"`
}

// ActivationResult is the outcome of an activation. A non-empty Warning means the group is active
// but its members could not be notified yet; the outbox keeps retrying.
type ActivationResult struct {
	Group        Group  `json:"group"`
	EmailsSent   int    `json:"emails_sent"`
	EmailsFailed int    `json:"emails_failed"`
	Warning      string `json:"warning,omitempty"`
}

// StudentSummary is a row of the admin students overview.
type StudentSummary struct {
	ID                  string    `json:"id"`
	FirstName           string    `json:"first_name"`
	LastName            string    `json:"last_name"`
	Email               string    `json:"email"`
	Region              string    `json:"bundesland"`
	Grade               string    `json:"klassenstufe"`
	CreatedAt           time.Time `json:"created_at"`
	GroupStatus         string    `json:"group_status"`
	AvailabilitiesCount int       `json:"availabilities_count"`
}

// StudentDetails is a student's profile with availabilities and memberships.
type StudentDetails struct {
	profile.Profile
	GroupStatus      string                      `json:"group_status"`
	Availabilities   []availability.Availability `json:"availabilities"`
	GroupMemberships []UserGroup                 `json:"group_memberships"`
}

// AssignmentStatus summarises the statuses of a student's groups: active > pending > completed.
func AssignmentStatus(statuses []Status) string {
	if len(statuses) == 0 {
		return NotAssigned
	}
	var pending bool
	for _, s := range statuses {
		if s == StatusActive {
			return string(StatusActive)
		}
		if s == StatusPending {
			pending = true
		}
	}
	if pending {
		return string(StatusPending)
	}
	return string(StatusCompleted)
}

type QueryFilter struct {
	Status Status
	Region string
	Grade  string
}

// ActivateGroup contains the chat link used to activate a pending group.
type ActivateGroup struct {
	ChatLink string `json:"whatsapp_link"`
}
