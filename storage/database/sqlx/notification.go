package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/hilcoe/rms/core/notification"
)

const notificationColumns = `id, recipient_account_id, type, payload, created_at, read_at`

type notificationRow struct {
	ID          string         `db:"id"`
	RecipientID string         `db:"recipient_account_id"`
	Type        string         `db:"type"`
	Payload     types.JSONText `db:"payload"`
	CreatedAt   time.Time      `db:"created_at"`
	ReadAt      null.Time      `db:"read_at"`
}

func (r notificationRow) notification() (notification.Notification, error) {
	kind := notification.Kind(r.Type)
	payload, err := notification.DecodePayload(kind, r.Payload)
	if err != nil {
		return notification.Notification{}, err
	}
	n := notification.Notification{
		ID:          r.ID,
		RecipientID: r.RecipientID,
		Type:        kind,
		Payload:     payload,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.ReadAt.Valid {
		t := r.ReadAt.Time.UTC()
		n.ReadAt = &t
	}
	return n, nil
}

func toNotifications(rows []notificationRow) ([]notification.Notification, error) {
	out := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.notification()
		if err != nil {
			return nil, errors.Wrapf(err, "reading notification %s", r.ID)
		}
		out = append(out, n)
	}
	return out, nil
}

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "encoding notification payload")
	}

	q := `INSERT INTO notifications (id, recipient_account_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + notificationColumns

	var row notificationRow
	err = sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q,
		n.ID, n.RecipientID, string(n.Type), types.JSONText(payload), n.CreatedAt.UTC())
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return row.notification()
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, recipientID string, filter notification.QueryFilter) ([]notification.Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > notification.MaxListed {
		limit = notification.MaxListed
	}

	q := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_account_id = $1 AND ($2::timestamptz IS NULL OR created_at > $2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3`

	var rows []notificationRow
	if err := sqlx.SelectContext(ctx, executor(ctx, repo.db), &rows, q, recipientID, null.TimeFromPtr(filter.Since), limit); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	return toNotifications(rows)
}

func (repo notificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	q := `SELECT count(*) FROM notifications WHERE recipient_account_id = $1 AND read_at IS NULL`
	if err := sqlx.GetContext(ctx, executor(ctx, repo.db), &n, q, recipientID); err != nil {
		return 0, errors.Wrap(err, "counting unread notifications")
	}
	return n, nil
}

func (repo notificationRepository) MarkRead(ctx context.Context, recipientID, id string, at time.Time) (notification.Notification, error) {
	q := `UPDATE notifications SET read_at = COALESCE(read_at, $3)
		WHERE recipient_account_id = $1 AND id = $2
		RETURNING ` + notificationColumns

	var row notificationRow
	if err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, recipientID, id, at.UTC()); err != nil {
		return notification.Notification{}, trapNoRowsErr(err, notification.ErrNotFound, "marking notification read")
	}
	return row.notification()
}

func (repo notificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	res, err := executor(ctx, repo.db).ExecContext(ctx,
		`UPDATE notifications SET read_at = $2 WHERE recipient_account_id = $1 AND read_at IS NULL`, recipientID, at.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "marking notifications read")
}

func (repo notificationRepository) DeleteAll(ctx context.Context, recipientID string) (int, error) {
	res, err := executor(ctx, repo.db).ExecContext(ctx, `DELETE FROM notifications WHERE recipient_account_id = $1`, recipientID)
	if err != nil {
		return 0, errors.Wrap(err, "deleting notifications")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting notifications")
}
