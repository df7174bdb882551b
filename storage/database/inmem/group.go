package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
)

type groupRepository struct {
	db *DB
}

var _ group.Repository = (*groupRepository)(nil)

func NewGroupRepository(db *DB) group.Repository {
	return &groupRepository{db: db}
}

func (repo *groupRepository) GetGroupByID(_ context.Context, id string) (group.Group, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("GetGroupByID"); err != nil {
		return group.Group{}, err
	}
	if g, ok := repo.db.groups[id]; ok {
		return copyGroup(g), nil
	}
	return group.Group{}, group.ErrNotFound
}

func (repo *groupRepository) QueryGroups(_ context.Context, filter group.QueryFilter) ([]group.Group, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	groups := make([]group.Group, 0)
	for _, g := range repo.db.groups {
		if filter.Status != "" && g.Status != filter.Status {
			continue
		}
		if filter.Region != "" && g.Region != filter.Region {
			continue
		}
		if filter.Grade != "" && g.Grade != filter.Grade {
			continue
		}
		groups = append(groups, copyGroup(g))
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].CreatedAt.Before(groups[j].CreatedAt) })
	return groups, nil
}

func (repo *groupRepository) CountGroupsByStatus(_ context.Context, status group.Status) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("CountGroupsByStatus"); err != nil {
		return 0, err
	}
	var n int
	for _, g := range repo.db.groups {
		if g.Status == status {
			n++
		}
	}
	return n, nil
}

// members must be called with the lock held.
func (repo *groupRepository) members(groupID string) []group.Member {
	type joined struct {
		member group.Member
		at     time.Time
	}
	list := make([]joined, 0)
	for _, m := range repo.db.memberships {
		if m.GroupID != groupID {
			continue
		}
		p, ok := repo.db.profiles[m.UserID]
		if !ok {
			continue
		}
		list = append(list, joined{
			member: group.Member{ID: p.ID, Name: p.FullName(), Email: p.Email, Registered: p.CreatedAt},
			at:     m.JoinedAt,
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].at.Equal(list[j].at) {
			return list[i].at.Before(list[j].at)
		}
		if !list[i].member.Registered.Equal(list[j].member.Registered) {
			return list[i].member.Registered.Before(list[j].member.Registered)
		}
		return list[i].member.ID < list[j].member.ID
	})

	members := make([]group.Member, 0, len(list))
	for _, j := range list {
		members = append(members, j.member)
	}
	return members
}

func (repo *groupRepository) GroupMembers(_ context.Context, groupID string) ([]group.Member, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("GroupMembers"); err != nil {
		return nil, err
	}
	return repo.members(groupID), nil
}

func (repo *groupRepository) PendingGroupsWithStudents(context.Context) ([]group.PendingGroup, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("PendingGroupsWithStudents"); err != nil {
		return nil, err
	}
	groups := make([]group.PendingGroup, 0)
	for _, g := range repo.db.groups {
		if g.Status != group.StatusPending {
			continue
		}
		members := repo.members(g.ID)
		groups = append(groups, group.PendingGroup{
			GroupID:      g.ID,
			Region:       g.Region,
			Grade:        g.Grade,
			TimeSlots:    copyStrings(g.TimeSlots),
			StudentCount: len(members),
			Students:     members,
			CreatedAt:    g.CreatedAt,
		})
	}
	group.SortPendingGroups(groups)
	return groups, nil
}

func (repo *groupRepository) ActiveGroups(context.Context) ([]group.ActiveGroup, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("ActiveGroups"); err != nil {
		return nil, err
	}
	groups := make([]group.ActiveGroup, 0)
	for _, g := range repo.db.groups {
		if g.Status != group.StatusActive {
			continue
		}
		groups = append(groups, group.ActiveGroup{
			GroupID:      g.ID,
			Region:       g.Region,
			Grade:        g.Grade,
			TimeSlots:    copyStrings(g.TimeSlots),
			StudentCount: len(repo.db.groupMemberIDs(g.ID)),
			ChatLink:     g.ChatLink.String,
			Status:       g.Status,
			LinkSentAt:   g.LinkSentAt,
			CreatedAt:    g.CreatedAt,
		})
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].CreatedAt.After(groups[j].CreatedAt) })
	return groups, nil
}

func (repo *groupRepository) UserGroups(_ context.Context, userID string) ([]group.UserGroup, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("UserGroups"); err != nil {
		return nil, err
	}
	ugs := make([]group.UserGroup, 0)
	for _, m := range repo.db.memberships {
		if m.UserID != userID {
			continue
		}
		g, ok := repo.db.groups[m.GroupID]
		if !ok {
			continue
		}
		ugs = append(ugs, group.UserGroup{
			ID:          m.ID,
			JoinedAt:    m.JoinedAt,
			MemberCount: len(repo.db.groupMemberIDs(g.ID)),
			Group:       copyGroup(g),
		})
	}
	sort.SliceStable(ugs, func(i, j int) bool { return ugs[i].JoinedAt.After(ugs[j].JoinedAt) })
	return ugs, nil
}

func (repo *groupRepository) MembershipStatuses(context.Context) (map[string][]group.Status, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("MembershipStatuses"); err != nil {
		return nil, err
	}
	statuses := make(map[string][]group.Status)
	for _, m := range repo.db.memberships {
		if g, ok := repo.db.groups[m.GroupID]; ok {
			statuses[m.UserID] = append(statuses[m.UserID], g.Status)
		}
	}
	return statuses, nil
}

func (repo *groupRepository) ActivateGroup(_ context.Context, g group.Group, entry notification.Entry) (group.Group, notification.Entry, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.db.failure("ActivateGroup"); err != nil {
		return group.Group{}, notification.Entry{}, err
	}
	stored, ok := repo.db.groups[g.ID]
	if !ok {
		return group.Group{}, notification.Entry{}, group.ErrNotFound
	}
	if stored.Status != group.StatusPending {
		return group.Group{}, notification.Entry{}, group.ErrInvalidTransition
	}

	stored.Status = g.Status
	stored.ChatLink = g.ChatLink
	stored.LinkSentAt = g.LinkSentAt
	stored.UpdatedAt = g.UpdatedAt

	if entry.ID == "" {
		entry.ID = newID()
	}
	e := entry
	repo.db.outbox[e.ID] = &e
	return copyGroup(stored), entry, nil
}

func (repo *groupRepository) TransitionGroup(_ context.Context, id string, from, to group.Status, at time.Time) (group.Group, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.groups[id]
	if !ok {
		return group.Group{}, group.ErrNotFound
	}
	if stored.Status != from || !from.CanTransitionTo(to) {
		return group.Group{}, group.ErrInvalidTransition
	}
	stored.Status = to
	stored.UpdatedAt = at
	return copyGroup(stored), nil
}

func (repo *groupRepository) AddMember(_ context.Context, m group.Membership) (group.Membership, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	g, ok := repo.db.groups[m.GroupID]
	if !ok {
		return group.Membership{}, group.ErrNotFound
	}
	memberIDs := repo.db.groupMemberIDs(m.GroupID)
	for _, uid := range memberIDs {
		if uid == m.UserID {
			return group.Membership{}, group.ErrAlreadyMember
		}
	}
	if len(memberIDs) >= g.MaxMembers {
		return group.Membership{}, group.ErrGroupFull
	}

	if m.ID == "" {
		m.ID = newID()
	}
	repo.db.memberships[m.ID] = &m
	return m, nil
}
