package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
)

const entryColumns = `id, group_id, whatsapp_link, attempts, last_error, emails_sent, emails_failed, created_at, delivered_at`

type entryRow struct {
	ID           string      `db:"id"`
	GroupID      string      `db:"group_id"`
	ChatLink     string      `db:"whatsapp_link"`
	Attempts     int         `db:"attempts"`
	LastError    null.String `db:"last_error"`
	EmailsSent   int         `db:"emails_sent"`
	EmailsFailed int         `db:"emails_failed"`
	CreatedAt    time.Time   `db:"created_at"`
	DeliveredAt  null.Time   `db:"delivered_at"`
}

func toEntryRow(e notification.Entry) entryRow {
	return entryRow{
		ID:           e.ID,
		GroupID:      e.GroupID,
		ChatLink:     e.ChatLink,
		Attempts:     e.Attempts,
		LastError:    e.LastError,
		EmailsSent:   e.EmailsSent,
		EmailsFailed: e.EmailsFailed,
		CreatedAt:    e.CreatedAt.UTC(),
		DeliveredAt:  e.DeliveredAt,
	}
}

func (r entryRow) entry() notification.Entry {
	return notification.Entry{
		ID:           r.ID,
		GroupID:      r.GroupID,
		ChatLink:     r.ChatLink,
		Attempts:     r.Attempts,
		LastError:    r.LastError,
		EmailsSent:   r.EmailsSent,
		EmailsFailed: r.EmailsFailed,
		CreatedAt:    r.CreatedAt.UTC(),
		DeliveredAt:  r.DeliveredAt,
	}
}

func insertEntry(ctx context.Context, exec sqlx.ExtContext, e notification.Entry) error {
	q := `INSERT INTO notification_outbox (` + entryColumns + `)
		VALUES (:id, :group_id, :whatsapp_link, :attempts, :last_error, :emails_sent, :emails_failed, :created_at, :delivered_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, q, toEntryRow(e)); err != nil {
		return wrapErr(err, "inserting outbox entry")
	}
	return nil
}

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateEntry(ctx context.Context, e notification.Entry) (notification.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if err := insertEntry(ctx, repo.db, e); err != nil {
		return notification.Entry{}, err
	}
	return e, nil
}

func (repo *notificationRepository) GetEntry(ctx context.Context, id string) (notification.Entry, error) {
	var row entryRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+entryColumns+` FROM notification_outbox WHERE id = $1`, id); err != nil {
		return notification.Entry{}, trapNoRowsErr(err, notification.ErrNotFound, "getting outbox entry")
	}
	return row.entry(), nil
}

func (repo *notificationRepository) LatestEntry(ctx context.Context, groupID string) (notification.Entry, error) {
	var row entryRow
	q := `SELECT ` + entryColumns + ` FROM notification_outbox WHERE group_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, groupID); err != nil {
		return notification.Entry{}, trapNoRowsErr(err, notification.ErrNotFound, "getting latest outbox entry")
	}
	return row.entry(), nil
}

func (repo *notificationRepository) UndeliveredEntries(ctx context.Context, maxAttempts int) ([]notification.Entry, error) {
	var rows []entryRow
	q := `SELECT ` + entryColumns + ` FROM notification_outbox
		WHERE delivered_at IS NULL AND attempts < $1 ORDER BY created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, maxAttempts); err != nil {
		return nil, wrapErr(err, "querying undelivered entries")
	}
	entries := make([]notification.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (repo *notificationRepository) SaveAttempt(ctx context.Context, e notification.Entry) error {
	q := `UPDATE notification_outbox SET attempts = :attempts, last_error = :last_error,
		emails_sent = :emails_sent, emails_failed = :emails_failed, delivered_at = :delivered_at
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, toEntryRow(e))
	if err != nil {
		return wrapErr(err, "saving notification attempt")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (repo *notificationRepository) GroupInfo(ctx context.Context, groupID string) (notification.GroupInfo, error) {
	if _, err := uuid.Parse(groupID); err != nil {
		return notification.GroupInfo{}, notification.ErrNotFound
	}
	var row groupRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, groupID); err != nil {
		return notification.GroupInfo{}, trapNoRowsErr(err, notification.ErrNotFound, "getting group")
	}
	g := row.group()

	var recipients []notification.Recipient
	q := `SELECT p.first_name, p.email FROM group_members gm JOIN profiles p ON p.id = gm.user_id
		WHERE gm.group_id = $1 ORDER BY gm.joined_at`
	var rrows []struct {
		FirstName string `db:"first_name"`
		Email     string `db:"email"`
	}
	if err := repo.db.SelectContext(ctx, &rrows, q, groupID); err != nil {
		return notification.GroupInfo{}, wrapErr(err, "querying recipients")
	}
	for _, r := range rrows {
		recipients = append(recipients, notification.Recipient{FirstName: r.FirstName, Email: r.Email})
	}

	return notification.GroupInfo{
		ID:         g.ID,
		Region:     g.Region,
		Grade:      g.Grade,
		TimeSlots:  g.TimeSlots,
		Active:     g.Status == group.StatusActive,
		ChatLink:   g.ChatLink.String,
		Recipients: recipients,
	}, nil
}
