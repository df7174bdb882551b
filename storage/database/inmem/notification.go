package inmemdb

import (
	"context"
	"sort"

	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
)

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateEntry(_ context.Context, e notification.Entry) (notification.Entry, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.db.failure("CreateEntry"); err != nil {
		return notification.Entry{}, err
	}
	if e.ID == "" {
		e.ID = newID()
	}
	stored := e
	repo.db.outbox[e.ID] = &stored
	return e, nil
}

func (repo *notificationRepository) GetEntry(_ context.Context, id string) (notification.Entry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if e, ok := repo.db.outbox[id]; ok {
		return *e, nil
	}
	return notification.Entry{}, notification.ErrNotFound
}

func (repo *notificationRepository) LatestEntry(_ context.Context, groupID string) (notification.Entry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var latest *notification.Entry
	for _, e := range repo.db.outbox {
		if e.GroupID != groupID {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return notification.Entry{}, notification.ErrNotFound
	}
	return *latest, nil
}

func (repo *notificationRepository) UndeliveredEntries(_ context.Context, maxAttempts int) ([]notification.Entry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("UndeliveredEntries"); err != nil {
		return nil, err
	}
	entries := make([]notification.Entry, 0)
	for _, e := range repo.db.outbox {
		if !e.Delivered() && e.Attempts < maxAttempts {
			entries = append(entries, *e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

func (repo *notificationRepository) SaveAttempt(_ context.Context, e notification.Entry) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.outbox[e.ID]
	if !ok {
		return notification.ErrNotFound
	}
	stored.Attempts = e.Attempts
	stored.LastError = e.LastError
	stored.EmailsSent = e.EmailsSent
	stored.EmailsFailed = e.EmailsFailed
	stored.DeliveredAt = e.DeliveredAt
	return nil
}

func (repo *notificationRepository) GroupInfo(_ context.Context, groupID string) (notification.GroupInfo, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("GroupInfo"); err != nil {
		return notification.GroupInfo{}, err
	}
	g, ok := repo.db.groups[groupID]
	if !ok {
		return notification.GroupInfo{}, notification.ErrNotFound
	}

	type joined struct {
		r  notification.Recipient
		at int64
	}
	list := make([]joined, 0)
	for _, m := range repo.db.memberships {
		if m.GroupID != groupID {
			continue
		}
		if p, ok := repo.db.profiles[m.UserID]; ok {
			list = append(list, joined{
				r:  notification.Recipient{FirstName: p.FirstName, Email: p.Email},
				at: m.JoinedAt.UnixNano(),
			})
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].at < list[j].at })

	recipients := make([]notification.Recipient, 0, len(list))
	for _, j := range list {
		recipients = append(recipients, j.r)
	}
	return notification.GroupInfo{
		ID:         g.ID,
		Region:     g.Region,
		Grade:      g.Grade,
		TimeSlots:  copyStrings(g.TimeSlots),
		Active:     g.Status == group.StatusActive,
		ChatLink:   g.ChatLink.String,
		Recipients: recipients,
	}, nil
}
