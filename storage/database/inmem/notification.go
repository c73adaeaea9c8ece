package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/hilcoe/rms/core/notification"
)

type notificationRecord struct {
	notification.Notification
	seq int64
}

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	err := repo.db.run(ctx, func(t *tables) error {
		if _, ok := t.accounts[n.RecipientID]; !ok {
			return notification.ErrNotFound
		}
		t.seq++
		n.CreatedAt = n.CreatedAt.UTC()
		t.notifications = append(t.notifications, notificationRecord{Notification: n, seq: t.seq})
		return nil
	})
	if err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, recipientID string, filter notification.QueryFilter) ([]notification.Notification, error) {
	var recs []notificationRecord
	_ = repo.db.run(ctx, func(t *tables) error {
		for _, rec := range t.notifications {
			if rec.RecipientID != recipientID {
				continue
			}
			if filter.Since != nil && !rec.CreatedAt.After(*filter.Since) {
				continue
			}
			recs = append(recs, rec)
		}
		return nil
	})
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})

	limit := filter.Limit
	if limit <= 0 || limit > notification.MaxListed {
		limit = notification.MaxListed
	}
	recs = paginate(recs, 0, limit)

	out := make([]notification.Notification, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Notification)
	}
	return out, nil
}

func (repo *notificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	_ = repo.db.run(ctx, func(t *tables) error {
		for _, rec := range t.notifications {
			if rec.RecipientID == recipientID && rec.ReadAt == nil {
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (repo *notificationRepository) MarkRead(ctx context.Context, recipientID, id string, at time.Time) (notification.Notification, error) {
	var n notification.Notification
	err := repo.db.run(ctx, func(t *tables) error {
		for i, rec := range t.notifications {
			if rec.ID != id || rec.RecipientID != recipientID {
				continue
			}
			if rec.ReadAt == nil {
				readAt := at.UTC()
				t.notifications[i].ReadAt = &readAt
			}
			n = t.notifications[i].Notification
			return nil
		}
		return notification.ErrNotFound
	})
	return n, err
}

func (repo *notificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	var n int
	_ = repo.db.run(ctx, func(t *tables) error {
		readAt := at.UTC()
		for i, rec := range t.notifications {
			if rec.RecipientID == recipientID && rec.ReadAt == nil {
				t.notifications[i].ReadAt = &readAt
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (repo *notificationRepository) DeleteAll(ctx context.Context, recipientID string) (int, error) {
	var n int
	_ = repo.db.run(ctx, func(t *tables) error {
		kept := t.notifications[:0:0]
		for _, rec := range t.notifications {
			if rec.RecipientID == recipientID {
				n++
				continue
			}
			kept = append(kept, rec)
		}
		t.notifications = kept
		return nil
	})
	return n, nil
}
