package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gruppenschlau/gruppenschlau/core/availability"
)

type availabilityRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Day       string    `db:"day_of_week"`
	TimeSlot  string    `db:"time_slot"`
	CreatedAt time.Time `db:"created_at"`
}

func (r availabilityRow) availability() availability.Availability {
	return availability.Availability{
		ID:        r.ID,
		UserID:    r.UserID,
		Day:       availability.Day(r.Day),
		TimeSlot:  r.TimeSlot,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type availabilityRepository struct {
	db *sqlx.DB
}

var _ availability.Repository = (*availabilityRepository)(nil) // interface compliance check

func NewAvailabilityRepository(db *sqlx.DB) availability.Repository {
	return &availabilityRepository{db: db}
}

func (repo *availabilityRepository) QueryByUser(ctx context.Context, userID string) ([]availability.Availability, error) {
	var rows []availabilityRow
	q := `SELECT id, user_id, day_of_week, time_slot, created_at FROM availabilities WHERE user_id = $1`
	if err := repo.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, wrapErr(err, "querying availabilities")
	}
	avs := make([]availability.Availability, 0, len(rows))
	for _, r := range rows {
		avs = append(avs, r.availability())
	}
	return avs, nil
}

func (repo *availabilityRepository) GetByID(ctx context.Context, id string) (availability.Availability, error) {
	if _, err := uuid.Parse(id); err != nil {
		return availability.Availability{}, availability.ErrNotFound
	}
	var row availabilityRow
	q := `SELECT id, user_id, day_of_week, time_slot, created_at FROM availabilities WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return availability.Availability{}, trapNoRowsErr(err, availability.ErrNotFound, "getting availability")
	}
	return row.availability(), nil
}

func (repo *availabilityRepository) Create(ctx context.Context, av availability.Availability) (availability.Availability, error) {
	if av.ID == "" {
		av.ID = uuid.New().String()
	}
	row := availabilityRow{
		ID:        av.ID,
		UserID:    av.UserID,
		Day:       string(av.Day),
		TimeSlot:  av.TimeSlot,
		CreatedAt: av.CreatedAt.UTC(),
	}
	q := `INSERT INTO availabilities (id, user_id, day_of_week, time_slot, created_at)
		VALUES (:id, :user_id, :day_of_week, :time_slot, :created_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return availability.Availability{}, availability.ErrDuplicate
		}
		return availability.Availability{}, wrapErr(err, "inserting availability")
	}
	return row.availability(), nil
}

func (repo *availabilityRepository) Delete(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM availabilities WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err, "deleting availability")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return availability.ErrNotFound
	}
	return nil
}

func (repo *availabilityRepository) CountByUser(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		UserID string `db:"user_id"`
		Count  int    `db:"count"`
	}
	q := `SELECT user_id, COUNT(*) AS count FROM availabilities GROUP BY user_id`
	if err := repo.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, wrapErr(err, "counting availabilities")
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.UserID] = r.Count
	}
	return counts, nil
}
