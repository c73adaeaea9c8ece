package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
)

var (
	NowFunc = time.Now // mockable

	ErrNotFound = core.NewError(core.ReasonNotFound, "notification not found")
)

type (
	// Repository persists Notifications. Listings are ordered newest first.
	Repository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		QueryNotifications(ctx context.Context, recipientID string, filter QueryFilter) ([]Notification, error)
		CountUnread(ctx context.Context, recipientID string) (int, error)
		MarkRead(ctx context.Context, recipientID, id string, at time.Time) (Notification, error)
		MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)
		DeleteAll(ctx context.Context, recipientID string) (int, error)
	}

	// Broker relays published notifications between API instances.
	Broker interface {
		Publish(ctx context.Context, n Notification) error
		// Listen calls deliver for every notification relayed by any instance until ctx is done.
		Listen(ctx context.Context, deliver func(Notification)) error
	}

	// Observer is told about bus activity. Used for metrics.
	Observer interface {
		Published(kind Kind)
		Dropped()
		Subscribers(n int)
	}

	// Bus persists notifications then pushes them to live subscriptions, locally or through a Broker.
	Bus struct {
		repo     Repository
		hub      *Hub
		broker   Broker
		logger   core.Logger
		observer Observer
	}
)

type nopObserver struct{}

func (nopObserver) Published(Kind) {}
func (nopObserver) Dropped() {}
func (nopObserver) Subscribers(int) {}

// NewBus returns a Bus. With a nil broker pushes only reach subscriptions of this process.
func NewBus(repo Repository, broker Broker, logger core.Logger) *Bus {
	return &Bus{
		repo:     repo,
		hub:      NewHub(),
		broker:   broker,
		logger:   logger,
		observer: nopObserver{},
	}
}

// SetObserver must be called before the bus is used.
func (b *Bus) SetObserver(o Observer) {
	b.observer = o
	b.hub.observer = o
}

// Publish stores a notification for recipientID and pushes it to its live subscriptions.
// Only the store write can fail the call: push failures are logged and clients recover through List.
func (b *Bus) Publish(ctx context.Context, recipientID string, p Payload) (Notification, error) {
	n, err := b.repo.CreateNotification(ctx, Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Type:        p.Kind(),
		Payload:     p,
		CreatedAt:   NowFunc().UTC(),
	})
	if err != nil {
		return Notification{}, errors.Wrap(err, "storing notification")
	}
	b.observer.Published(n.Type)

	if b.broker == nil {
		b.hub.Deliver(n)
		return n, nil
	}
	if err = b.broker.Publish(ctx, n); err != nil {
		b.logger.Error("relaying notification: "+err.Error(), err, map[string]string{"recipient": recipientID})
		b.hub.Deliver(n)
	}
	return n, nil
}

// Run relays broker traffic to local subscriptions until ctx is done. It returns immediately without a broker.
func (b *Bus) Run(ctx context.Context) error {
	if b.broker == nil {
		return nil
	}
	err := b.broker.Listen(ctx, b.hub.Deliver)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *Bus) Subscribe(recipientID string) *Subscription {
	return b.hub.Subscribe(recipientID)
}

// List returns the latest notifications of recipientID, newest first, optionally only those created after since.
func (b *Bus) List(ctx context.Context, recipientID string, since *time.Time) ([]Notification, error) {
	return b.repo.QueryNotifications(ctx, recipientID, QueryFilter{Since: since, Limit: MaxListed})
}

func (b *Bus) CountUnread(ctx context.Context, recipientID string) (int, error) {
	return b.repo.CountUnread(ctx, recipientID)
}

// MarkRead marks one notification of recipientID read. Marking it again keeps the first read time.
func (b *Bus) MarkRead(ctx context.Context, recipientID, id string) (Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Notification{}, ErrNotFound
	}
	return b.repo.MarkRead(ctx, recipientID, id, NowFunc().UTC())
}

func (b *Bus) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	return b.repo.MarkAllRead(ctx, recipientID, NowFunc().UTC())
}

// Clear deletes every notification of recipientID.
func (b *Bus) Clear(ctx context.Context, recipientID string) (int, error) {
	return b.repo.DeleteAll(ctx, recipientID)
}
