package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

const profileColumns = `id, first_name, last_name, email, bundesland, klassenstufe, sessions_per_month, is_admin, password_hash, created_at, updated_at`

type profileRow struct {
	ID               string    `db:"id"`
	FirstName        string    `db:"first_name"`
	LastName         string    `db:"last_name"`
	Email            string    `db:"email"`
	Region           string    `db:"bundesland"`
	Grade            string    `db:"klassenstufe"`
	SessionsPerMonth int       `db:"sessions_per_month"`
	IsAdmin          bool      `db:"is_admin"`
	PasswordHash     []byte    `db:"password_hash"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func toProfileRow(p profile.Profile) profileRow {
	return profileRow{
		ID:               p.ID,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		Email:            p.Email,
		Region:           p.Region,
		Grade:            p.Grade,
		SessionsPerMonth: p.SessionsPerMonth,
		IsAdmin:          p.IsAdmin,
		PasswordHash:     p.PasswordHash,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func (r profileRow) profile() profile.Profile {
	return profile.Profile{
		ID:               r.ID,
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Email:            r.Email,
		Region:           r.Region,
		Grade:            r.Grade,
		SessionsPerMonth: r.SessionsPerMonth,
		IsAdmin:          r.IsAdmin,
		PasswordHash:     r.PasswordHash,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

type profileRepository struct {
	db *sqlx.DB
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db *sqlx.DB) profile.Repository {
	return &profileRepository{db: db}
}

func (repo *profileRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error {
	q := `SELECT EXISTS (SELECT 1 FROM profiles WHERE email = ?`
	args := []interface{}{email}
	if len(excludedIDs) > 0 {
		var inQ string
		var inArgs []interface{}
		var err error
		if inQ, inArgs, err = sqlx.In(` AND id NOT IN (?)`, excludedIDs); err != nil {
			return wrapErr(err, "checking email uniqueness")
		}
		q += inQ
		args = append(args, inArgs...)
	}
	q += `)`

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, repo.db.Rebind(q), args...); err != nil {
		return wrapErr(err, "checking email uniqueness")
	}
	if exists {
		return profile.ErrEmailExists
	}
	return nil
}

func (repo *profileRepository) CreateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	q := `INSERT INTO profiles (` + profileColumns + `) VALUES (:id, :first_name, :last_name, :email, :bundesland, :klassenstufe, :sessions_per_month, :is_admin, :password_hash, :created_at, :updated_at)`
	row := toProfileRow(p)
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return profile.Profile{}, profile.ErrEmailExists
		}
		return profile.Profile{}, wrapErr(err, "inserting profile")
	}
	return row.profile(), nil
}

func (repo *profileRepository) get(ctx context.Context, where string, arg interface{}) (profile.Profile, error) {
	var row profileRow
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE ` + where
	if err := repo.db.GetContext(ctx, &row, q, arg); err != nil {
		return profile.Profile{}, trapNoRowsErr(err, profile.ErrNotFound, "getting profile")
	}
	return row.profile(), nil
}

func (repo *profileRepository) GetProfileByID(ctx context.Context, id string) (profile.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return profile.Profile{}, profile.ErrNotFound
	}
	return repo.get(ctx, `id = $1`, id)
}

func (repo *profileRepository) GetProfileByEmail(ctx context.Context, email string) (profile.Profile, error) {
	return repo.get(ctx, `email = $1`, email)
}

func (repo *profileRepository) QueryProfiles(ctx context.Context, filter profile.QueryFilter, ordering ...core.DBOrdering) ([]profile.Profile, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		conds = append(conds, `(first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ?)`)
		args = append(args, val, val, val)
	}
	if filter.Region != "" {
		conds = append(conds, `bundesland = ?`)
		args = append(args, filter.Region)
	}
	if filter.Grade != "" {
		conds = append(conds, `klassenstufe = ?`)
		args = append(args, filter.Grade)
	}

	q := `SELECT ` + profileColumns + ` FROM profiles`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	ordering = core.FilterOrderings(ordering, profile.OrderingFields...)
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	q += ` ORDER BY ` + strings.Join(orderList, ", ")

	var rows []profileRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, wrapErr(err, "querying profiles")
	}
	profiles := make([]profile.Profile, 0, len(rows))
	for _, r := range rows {
		profiles = append(profiles, r.profile())
	}
	return profiles, nil
}

func (repo *profileRepository) UpdateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	q := `UPDATE profiles SET first_name = :first_name, last_name = :last_name, email = :email,
		bundesland = :bundesland, klassenstufe = :klassenstufe, sessions_per_month = :sessions_per_month,
		is_admin = :is_admin, password_hash = :password_hash, updated_at = :updated_at
		WHERE id = :id`
	row := toProfileRow(p)
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return profile.Profile{}, profile.ErrEmailExists
		}
		return profile.Profile{}, wrapErr(err, "updating profile")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return profile.Profile{}, profile.ErrNotFound
	}
	return row.profile(), nil
}

func (repo *profileRepository) DeleteProfilesByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	// availabilities and memberships cascade
	q, args, err := sqlx.In(`DELETE FROM profiles WHERE id IN (?)`, ids)
	if err != nil {
		return wrapErr(err, "deleting profiles")
	}
	if _, err = repo.db.ExecContext(ctx, repo.db.Rebind(q), args...); err != nil {
		return wrapErr(err, "deleting profiles")
	}
	return nil
}

func (repo *profileRepository) CountStudents(ctx context.Context) (int, error) {
	var n int
	if err := repo.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM profiles WHERE is_admin = FALSE`); err != nil {
		return 0, wrapErr(err, "counting students")
	}
	return n, nil
}
