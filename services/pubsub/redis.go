package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/notification"
)

// RedisBroker fans notifications out to every API instance over one Redis pub/sub channel.
type RedisBroker struct {
	rdb     redis.UniversalClient
	channel string
	logger  core.Logger
}

var _ notification.Broker = (*RedisBroker)(nil) // interface compliance check

// Connect dials Redis and checks the connection.
func Connect(conf *core.Config, logger core.Logger) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", conf.Redis.Addr)
	}
	return NewRedisBroker(rdb, conf.Redis.Channel, logger), nil
}

func NewRedisBroker(rdb redis.UniversalClient, channel string, logger core.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, channel: channel, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, n notification.Notification) error {
	msg, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}
	return errors.Wrap(b.rdb.Publish(ctx, b.channel, msg).Err(), "publishing notification")
}

// Listen hands every notification published on the channel to deliver until ctx is done.
func (b *RedisBroker) Listen(ctx context.Context, deliver func(notification.Notification)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	//goland:noinspection GoUnhandledErrorResult
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "subscribing to %s", b.channel)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n, err := decodeMessage(msg.Payload)
			if err != nil {
				b.logger.Warn(fmt.Sprintf("dropping malformed notification: %v", err), err)
				continue
			}
			deliver(n)
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

func decodeMessage(payload string) (notification.Notification, error) {
	var n notification.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notification.Notification{}, errors.Wrap(err, "decoding notification")
	}
	if n.ID == "" || n.RecipientID == "" {
		return notification.Notification{}, errors.New("notification without id or recipient")
	}
	return n, nil
}
