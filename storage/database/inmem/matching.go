package inmemdb

import (
	"context"
	"sort"

	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
)

type matchingRepository struct {
	db *DB
}

var _ matching.Repository = (*matchingRepository)(nil)

func NewMatchingRepository(db *DB) matching.Repository {
	return &matchingRepository{db: db}
}

// assigned must be called with the lock held.
func (repo *matchingRepository) assigned() map[string]bool {
	ids := make(map[string]bool)
	for _, m := range repo.db.memberships {
		if g, ok := repo.db.groups[m.GroupID]; ok && g.Status.IsOpen() {
			ids[m.UserID] = true
		}
	}
	return ids
}

func (repo *matchingRepository) Pool(context.Context) (matching.Pool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("Pool"); err != nil {
		return matching.Pool{}, err
	}

	slots := make(map[string][]availability.Availability)
	for _, a := range repo.db.availabilities {
		slots[a.UserID] = append(slots[a.UserID], *a)
	}
	assigned := repo.assigned()

	students := make([]matching.Student, 0)
	for _, p := range repo.db.profiles {
		if p.IsAdmin || assigned[p.ID] || len(slots[p.ID]) == 0 {
			continue
		}
		avs := slots[p.ID]
		availability.Sort(avs)
		students = append(students, matching.Student{
			ID:           p.ID,
			Name:         p.FullName(),
			Email:        p.Email,
			Region:       p.Region,
			Grade:        p.Grade,
			Slots:        availability.Labels(avs),
			RegisteredAt: p.CreatedAt,
		})
	}
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].RegisteredAt.Equal(students[j].RegisteredAt) {
			return students[i].ID < students[j].ID
		}
		return students[i].RegisteredAt.Before(students[j].RegisteredAt)
	})
	return matching.Pool{Students: students}, nil
}

func (repo *matchingRepository) OpenGroups(_ context.Context, region, grade string) ([]matching.GroupWithMembers, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("OpenGroups"); err != nil {
		return nil, err
	}
	groups := make([]matching.GroupWithMembers, 0)
	for _, g := range repo.db.groups {
		if !g.Status.IsOpen() || g.Region != region || g.Grade != grade {
			continue
		}
		groups = append(groups, matching.GroupWithMembers{
			Group:     copyGroup(g),
			MemberIDs: repo.db.groupMemberIDs(g.ID),
		})
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Group.CreatedAt.Before(groups[j].Group.CreatedAt) })
	return groups, nil
}

func (repo *matchingRepository) CreateGroups(_ context.Context, groups []matching.GroupWithMembers) ([]group.Group, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.db.failure("CreateGroups"); err != nil {
		return nil, err
	}
	assigned := repo.assigned()
	for _, gm := range groups {
		for _, uid := range gm.MemberIDs {
			if assigned[uid] {
				return nil, matching.ErrStudentAssigned
			}
			assigned[uid] = true
		}
	}

	created := make([]group.Group, 0, len(groups))
	for _, gm := range groups {
		g := copyGroup(&gm.Group)
		if g.ID == "" {
			g.ID = newID()
		}
		stored := g
		repo.db.groups[g.ID] = &stored

		for _, uid := range gm.MemberIDs {
			m := group.Membership{ID: newID(), GroupID: g.ID, UserID: uid, JoinedAt: g.CreatedAt}
			repo.db.memberships[m.ID] = &m
		}
		created = append(created, copyGroup(&stored))
	}
	return created, nil
}
