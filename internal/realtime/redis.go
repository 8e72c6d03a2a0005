package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
)

const DefaultChannel = "freelancedesk:events"

func NewRedis(addr, password string, db int, log *zap.Logger) *redis.Client {
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	log.Info("redis client created", zap.String("addr", addr))
	return rdb
}

type envelope struct {
	Origin uuid.UUID    `json:"origin"`
	Event  events.Event `json:"event"`
}

// RedisBridge fans events out to other API instances. Events published here
// reach the local hub only through the caller; Run relays events that other
// instances published.
type RedisBridge struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	origin  uuid.UUID
	log     *zap.Logger
}

func NewRedisBridge(rdb *redis.Client, hub *Hub, channel string, log *zap.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{rdb: rdb, hub: hub, channel: channel, origin: uuid.New(), log: log}
}

func (b *RedisBridge) encode(ev events.Event) ([]byte, error) {
	return json.Marshal(envelope{Origin: b.origin, Event: ev})
}

// decode returns the event and whether it came from another instance.
func (b *RedisBridge) decode(payload string) (events.Event, bool, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return events.Event{}, false, err
	}
	return env.Event, env.Origin != b.origin, nil
}

func (b *RedisBridge) Publish(ctx context.Context, ev events.Event) error {
	payload, err := b.encode(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Run relays remote events into the local hub until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.log.Info("redis bridge subscribed", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			ev, remote, err := b.decode(msg.Payload)
			if err != nil {
				b.log.Warn("malformed event on bridge", zap.Error(err))
				continue
			}
			if remote {
				_ = b.hub.Publish(ctx, ev)
			}
		}
	}
}
