package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
)

// openStatuses are the statuses of groups students may still join.
var openStatuses = pq.StringArray{string(group.StatusPending), string(group.StatusActive)}

type matchingRepository struct {
	db *sqlx.DB
}

var _ matching.Repository = (*matchingRepository)(nil) // interface compliance check

func NewMatchingRepository(db *sqlx.DB) matching.Repository {
	return &matchingRepository{db: db}
}

func (repo *matchingRepository) Pool(ctx context.Context) (matching.Pool, error) {
	var rows []struct {
		ID        string    `db:"id"`
		FirstName string    `db:"first_name"`
		LastName  string    `db:"last_name"`
		Email     string    `db:"email"`
		Region    string    `db:"bundesland"`
		Grade     string    `db:"klassenstufe"`
		CreatedAt time.Time `db:"created_at"`
		Day       string    `db:"day_of_week"`
		TimeSlot  string    `db:"time_slot"`
	}
	q := `SELECT p.id, p.first_name, p.last_name, p.email, p.bundesland, p.klassenstufe, p.created_at,
		a.day_of_week, a.time_slot
		FROM profiles p JOIN availabilities a ON a.user_id = p.id
		WHERE p.is_admin = FALSE AND NOT EXISTS (
			SELECT 1 FROM group_members gm JOIN groups g ON g.id = gm.group_id
			WHERE gm.user_id = p.id AND g.status = ANY($1)
		)
		ORDER BY p.created_at, p.id`
	if err := repo.db.SelectContext(ctx, &rows, q, openStatuses); err != nil {
		return matching.Pool{}, wrapErr(err, "querying matching pool")
	}

	students := make([]matching.Student, 0)
	slots := make(map[string][]availability.Availability)
	for _, r := range rows {
		if _, seen := slots[r.ID]; !seen {
			students = append(students, matching.Student{
				ID:           r.ID,
				Name:         strings.TrimSpace(r.FirstName + " " + r.LastName),
				Email:        r.Email,
				Region:       r.Region,
				Grade:        r.Grade,
				RegisteredAt: r.CreatedAt.UTC(),
			})
		}
		slots[r.ID] = append(slots[r.ID], availability.Availability{Day: availability.Day(r.Day), TimeSlot: r.TimeSlot})
	}
	for i := range students {
		avs := slots[students[i].ID]
		availability.Sort(avs)
		students[i].Slots = availability.Labels(avs)
	}
	return matching.Pool{Students: students}, nil
}

func (repo *matchingRepository) OpenGroups(ctx context.Context, region, grade string) ([]matching.GroupWithMembers, error) {
	var rows []struct {
		groupRow
		MemberIDs pq.StringArray `db:"member_ids"`
	}
	q := `SELECT g.id, g.bundesland, g.klassenstufe, g.time_slots, g.status, g.max_members, g.whatsapp_link,
		g.admin_notes, g.link_sent_at, g.created_at, g.updated_at,
		ARRAY(SELECT gm.user_id::text FROM group_members gm WHERE gm.group_id = g.id ORDER BY gm.joined_at) AS member_ids
		FROM groups g
		WHERE g.bundesland = $1 AND g.klassenstufe = $2 AND g.status = ANY($3)
		ORDER BY g.created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, region, grade, openStatuses); err != nil {
		return nil, wrapErr(err, "querying open groups")
	}
	groups := make([]matching.GroupWithMembers, 0, len(rows))
	for _, r := range rows {
		ids := []string(r.MemberIDs)
		if ids == nil {
			ids = []string{}
		}
		groups = append(groups, matching.GroupWithMembers{Group: r.group(), MemberIDs: ids})
	}
	return groups, nil
}

func (repo *matchingRepository) CreateGroups(ctx context.Context, groups []matching.GroupWithMembers) ([]group.Group, error) {
	memberIDs := make([]string, 0)
	for _, gm := range groups {
		memberIDs = append(memberIDs, gm.MemberIDs...)
	}

	created := make([]group.Group, 0, len(groups))
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if len(memberIDs) > 0 {
			// lock the members so a concurrent join or commit cannot assign them meanwhile
			q, args, err := sqlx.In(`SELECT id FROM profiles WHERE id IN (?) FOR UPDATE`, memberIDs)
			if err != nil {
				return wrapErr(err, "locking students")
			}
			var locked []string
			if err = tx.SelectContext(ctx, &locked, tx.Rebind(q), args...); err != nil {
				return wrapErr(err, "locking students")
			}

			var assigned bool
			q = `SELECT EXISTS (
				SELECT 1 FROM group_members gm JOIN groups g ON g.id = gm.group_id
				WHERE gm.user_id::text = ANY($1) AND g.status = ANY($2))`
			if err = tx.GetContext(ctx, &assigned, q, pq.StringArray(memberIDs), openStatuses); err != nil {
				return wrapErr(err, "checking assignments")
			}
			if assigned {
				return matching.ErrStudentAssigned
			}
		}

		for _, gm := range groups {
			g := gm.Group
			if g.ID == "" {
				g.ID = uuid.New().String()
			}
			q := `INSERT INTO groups (` + groupColumns + `) VALUES (:id, :bundesland, :klassenstufe, :time_slots,
				:status, :max_members, :whatsapp_link, :admin_notes, :link_sent_at, :created_at, :updated_at)`
			if _, err := tx.NamedExecContext(ctx, q, toGroupRow(g)); err != nil {
				return wrapErr(err, "inserting group")
			}
			for _, uid := range gm.MemberIDs {
				q = `INSERT INTO group_members (id, group_id, user_id, joined_at) VALUES ($1, $2, $3, $4)`
				if _, err := tx.ExecContext(ctx, q, uuid.New().String(), g.ID, uid, g.CreatedAt.UTC()); err != nil {
					if isUniqueViolation(err) {
						return matching.ErrStudentAssigned
					}
					return wrapErr(err, "inserting membership")
				}
			}
			created = append(created, toGroupRow(g).group())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
