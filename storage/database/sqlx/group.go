package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
)

const groupColumns = `id, bundesland, klassenstufe, time_slots, status, max_members, whatsapp_link, admin_notes, link_sent_at, created_at, updated_at`

type groupRow struct {
	ID         string         `db:"id"`
	Region     string         `db:"bundesland"`
	Grade      string         `db:"klassenstufe"`
	TimeSlots  pq.StringArray `db:"time_slots"`
	Status     string         `db:"status"`
	MaxMembers int            `db:"max_members"`
	ChatLink   null.String    `db:"whatsapp_link"`
	AdminNote  null.String    `db:"admin_notes"`
	LinkSentAt null.Time      `db:"link_sent_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func toGroupRow(g group.Group) groupRow {
	slots := g.TimeSlots
	if slots == nil {
		slots = []string{}
	}
	return groupRow{
		ID:         g.ID,
		Region:     g.Region,
		Grade:      g.Grade,
		TimeSlots:  pq.StringArray(slots),
		Status:     string(g.Status),
		MaxMembers: g.MaxMembers,
		ChatLink:   g.ChatLink,
		AdminNote:  g.AdminNote,
		LinkSentAt: g.LinkSentAt,
		CreatedAt:  g.CreatedAt.UTC(),
		UpdatedAt:  g.UpdatedAt.UTC(),
	}
}

func (r groupRow) group() group.Group {
	slots := []string(r.TimeSlots)
	if slots == nil {
		slots = []string{}
	}
	return group.Group{
		ID:         r.ID,
		Region:     r.Region,
		Grade:      r.Grade,
		TimeSlots:  slots,
		Status:     group.Status(r.Status),
		MaxMembers: r.MaxMembers,
		ChatLink:   r.ChatLink,
		AdminNote:  r.AdminNote,
		LinkSentAt: r.LinkSentAt,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type memberRow struct {
	GroupID   string    `db:"group_id"`
	ID        string    `db:"id"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

func (r memberRow) member() group.Member {
	return group.Member{
		ID:         r.ID,
		Name:       strings.TrimSpace(r.FirstName + " " + r.LastName),
		Email:      r.Email,
		Registered: r.CreatedAt.UTC(),
	}
}

const membersQuery = `SELECT gm.group_id, p.id, p.first_name, p.last_name, p.email, p.created_at
	FROM group_members gm JOIN profiles p ON p.id = gm.user_id`

type groupRepository struct {
	db *sqlx.DB
}

var _ group.Repository = (*groupRepository)(nil) // interface compliance check

func NewGroupRepository(db *sqlx.DB) group.Repository {
	return &groupRepository{db: db}
}

func (repo *groupRepository) GetGroupByID(ctx context.Context, id string) (group.Group, error) {
	if _, err := uuid.Parse(id); err != nil {
		return group.Group{}, group.ErrNotFound
	}
	var row groupRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id); err != nil {
		return group.Group{}, trapNoRowsErr(err, group.ErrNotFound, "getting group")
	}
	return row.group(), nil
}

func (repo *groupRepository) QueryGroups(ctx context.Context, filter group.QueryFilter) ([]group.Group, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, string(filter.Status))
	}
	if filter.Region != "" {
		conds = append(conds, `bundesland = ?`)
		args = append(args, filter.Region)
	}
	if filter.Grade != "" {
		conds = append(conds, `klassenstufe = ?`)
		args = append(args, filter.Grade)
	}
	q := `SELECT ` + groupColumns + ` FROM groups`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at ASC`

	var rows []groupRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, wrapErr(err, "querying groups")
	}
	groups := make([]group.Group, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, r.group())
	}
	return groups, nil
}

func (repo *groupRepository) CountGroupsByStatus(ctx context.Context, status group.Status) (int, error) {
	var n int
	if err := repo.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM groups WHERE status = $1`, string(status)); err != nil {
		return 0, wrapErr(err, "counting groups")
	}
	return n, nil
}

func (repo *groupRepository) GroupMembers(ctx context.Context, groupID string) ([]group.Member, error) {
	var rows []memberRow
	q := membersQuery + ` WHERE gm.group_id = $1 ORDER BY gm.joined_at, p.created_at, p.id`
	if err := repo.db.SelectContext(ctx, &rows, q, groupID); err != nil {
		return nil, wrapErr(err, "querying group members")
	}
	members := make([]group.Member, 0, len(rows))
	for _, r := range rows {
		members = append(members, r.member())
	}
	return members, nil
}

func (repo *groupRepository) PendingGroupsWithStudents(ctx context.Context) ([]group.PendingGroup, error) {
	var rows []groupRow
	q := `SELECT ` + groupColumns + ` FROM groups WHERE status = $1 ORDER BY created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, string(group.StatusPending)); err != nil {
		return nil, wrapErr(err, "querying pending groups")
	}
	if len(rows) == 0 {
		return []group.PendingGroup{}, nil
	}

	var memberRows []memberRow
	q = membersQuery + ` JOIN groups g ON g.id = gm.group_id WHERE g.status = $1 ORDER BY gm.joined_at, p.created_at, p.id`
	if err := repo.db.SelectContext(ctx, &memberRows, q, string(group.StatusPending)); err != nil {
		return nil, wrapErr(err, "querying pending group members")
	}
	members := make(map[string][]group.Member)
	for _, r := range memberRows {
		members[r.GroupID] = append(members[r.GroupID], r.member())
	}

	groups := make([]group.PendingGroup, 0, len(rows))
	for _, r := range rows {
		g := r.group()
		students := members[g.ID]
		if students == nil {
			students = []group.Member{}
		}
		groups = append(groups, group.PendingGroup{
			GroupID:      g.ID,
			Region:       g.Region,
			Grade:        g.Grade,
			TimeSlots:    g.TimeSlots,
			StudentCount: len(students),
			Students:     students,
			CreatedAt:    g.CreatedAt,
		})
	}
	return groups, nil
}

func (repo *groupRepository) ActiveGroups(ctx context.Context) ([]group.ActiveGroup, error) {
	var rows []struct {
		groupRow
		MemberCount int `db:"member_count"`
	}
	q := `SELECT g.id, g.bundesland, g.klassenstufe, g.time_slots, g.status, g.max_members, g.whatsapp_link,
		g.admin_notes, g.link_sent_at, g.created_at, g.updated_at,
		(SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = g.id) AS member_count
		FROM groups g WHERE g.status = $1 ORDER BY g.created_at DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, string(group.StatusActive)); err != nil {
		return nil, wrapErr(err, "querying active groups")
	}
	groups := make([]group.ActiveGroup, 0, len(rows))
	for _, r := range rows {
		g := r.group()
		groups = append(groups, group.ActiveGroup{
			GroupID:      g.ID,
			Region:       g.Region,
			Grade:        g.Grade,
			TimeSlots:    g.TimeSlots,
			StudentCount: r.MemberCount,
			ChatLink:     g.ChatLink.String,
			Status:       g.Status,
			LinkSentAt:   g.LinkSentAt,
			CreatedAt:    g.CreatedAt,
		})
	}
	return groups, nil
}

func (repo *groupRepository) UserGroups(ctx context.Context, userID string) ([]group.UserGroup, error) {
	var rows []struct {
		groupRow
		MembershipID string    `db:"membership_id"`
		JoinedAt     time.Time `db:"joined_at"`
		MemberCount  int       `db:"member_count"`
	}
	q := `SELECT g.id, g.bundesland, g.klassenstufe, g.time_slots, g.status, g.max_members, g.whatsapp_link,
		g.admin_notes, g.link_sent_at, g.created_at, g.updated_at,
		m.id AS membership_id, m.joined_at,
		(SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = g.id) AS member_count
		FROM group_members m JOIN groups g ON g.id = m.group_id
		WHERE m.user_id = $1 ORDER BY m.joined_at DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, wrapErr(err, "querying user groups")
	}
	ugs := make([]group.UserGroup, 0, len(rows))
	for _, r := range rows {
		ugs = append(ugs, group.UserGroup{
			ID:          r.MembershipID,
			JoinedAt:    r.JoinedAt.UTC(),
			MemberCount: r.MemberCount,
			Group:       r.group(),
		})
	}
	return ugs, nil
}

func (repo *groupRepository) MembershipStatuses(ctx context.Context) (map[string][]group.Status, error) {
	var rows []struct {
		UserID string `db:"user_id"`
		Status string `db:"status"`
	}
	q := `SELECT gm.user_id, g.status FROM group_members gm JOIN groups g ON g.id = gm.group_id`
	if err := repo.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, wrapErr(err, "querying membership statuses")
	}
	statuses := make(map[string][]group.Status)
	for _, r := range rows {
		statuses[r.UserID] = append(statuses[r.UserID], group.Status(r.Status))
	}
	return statuses, nil
}

func (repo *groupRepository) ActivateGroup(ctx context.Context, g group.Group, entry notification.Entry) (group.Group, notification.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	var activated groupRow
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := `UPDATE groups SET status = $1, whatsapp_link = $2, link_sent_at = $3, updated_at = $4
			WHERE id = $5 AND status = $6 RETURNING ` + groupColumns
		err := tx.GetContext(ctx, &activated, q,
			string(g.Status), g.ChatLink, g.LinkSentAt, g.UpdatedAt.UTC(), g.ID, string(group.StatusPending))
		if err != nil {
			return trapNoRowsErr(err, group.ErrInvalidTransition, "activating group")
		}
		return insertEntry(ctx, tx, entry)
	})
	if err != nil {
		return group.Group{}, notification.Entry{}, err
	}
	return activated.group(), entry, nil
}

func (repo *groupRepository) TransitionGroup(ctx context.Context, id string, from, to group.Status, at time.Time) (group.Group, error) {
	if !from.CanTransitionTo(to) {
		return group.Group{}, group.ErrInvalidTransition
	}
	var row groupRow
	q := `UPDATE groups SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 RETURNING ` + groupColumns
	if err := repo.db.GetContext(ctx, &row, q, string(to), at.UTC(), id, string(from)); err != nil {
		return group.Group{}, trapNoRowsErr(err, group.ErrInvalidTransition, "transitioning group")
	}
	return row.group(), nil
}

func (repo *groupRepository) AddMember(ctx context.Context, m group.Membership) (group.Membership, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		// lock the group row so concurrent joins are serialized
		var maxMembers int
		err := tx.GetContext(ctx, &maxMembers, `SELECT max_members FROM groups WHERE id = $1 FOR UPDATE`, m.GroupID)
		if err != nil {
			return trapNoRowsErr(err, group.ErrNotFound, "locking group")
		}

		var count int
		if err = tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM group_members WHERE group_id = $1`, m.GroupID); err != nil {
			return wrapErr(err, "counting members")
		}

		var exists bool
		q := `SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`
		if err = tx.GetContext(ctx, &exists, q, m.GroupID, m.UserID); err != nil {
			return wrapErr(err, "checking membership")
		}
		if exists {
			return group.ErrAlreadyMember
		}
		if count >= maxMembers {
			return group.ErrGroupFull
		}

		q = `INSERT INTO group_members (id, group_id, user_id, joined_at) VALUES ($1, $2, $3, $4)`
		if _, err = tx.ExecContext(ctx, q, m.ID, m.GroupID, m.UserID, m.JoinedAt.UTC()); err != nil {
			if isUniqueViolation(err) {
				return group.ErrAlreadyMember
			}
			return wrapErr(err, "inserting membership")
		}
		return nil
	})
	if err != nil {
		return group.Membership{}, err
	}
	return m, nil
}
