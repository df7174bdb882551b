package inmemdb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

// DB is an in-memory store shared by all in-memory repositories.
// A single lock guards every table so multi-table writes are atomic.
type DB struct {
	mutex          sync.RWMutex
	profiles       map[string]*profile.Profile
	availabilities map[string]*availability.Availability
	groups         map[string]*group.Group
	memberships    map[string]*group.Membership
	outbox         map[string]*notification.Entry
	failures       map[string]error
}

func NewDB() *DB {
	db := new(DB)
	db.Reset()
	return db
}

// Reset empties every table and clears injected failures.
func (db *DB) Reset() {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	db.profiles = make(map[string]*profile.Profile)
	db.availabilities = make(map[string]*availability.Availability)
	db.groups = make(map[string]*group.Group)
	db.memberships = make(map[string]*group.Membership)
	db.outbox = make(map[string]*notification.Entry)
	db.failures = make(map[string]error)
}

// FailOn makes the repository method `op` (e.g. "UserGroups") return `err` until cleared with a nil err.
func (db *DB) FailOn(op string, err error) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if err == nil {
		delete(db.failures, op)
		return
	}
	db.failures[op] = err
}

// failure must be called with the lock held.
func (db *DB) failure(op string) error {
	return db.failures[op]
}

func newID() string {
	return uuid.New().String()
}

func copyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}

func copyGroup(g *group.Group) group.Group {
	c := *g
	c.TimeSlots = copyStrings(g.TimeSlots)
	return c
}

// groupMemberIDs must be called with the lock held.
func (db *DB) groupMemberIDs(groupID string) []string {
	ids := make([]string, 0)
	for _, m := range db.memberships {
		if m.GroupID == groupID {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}
