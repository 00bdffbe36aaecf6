package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
)

// RedisDriver is the native-pub/sub transport (spec §4.2). Grounded on
// original_source/b00t-ipc/src/transport.rs's redis_transport module: a
// shared client, one goroutine per subscription forwarding deserialized
// messages into an unbounded (here, buffered) channel, adapted from
// redis::aio::MultiplexedConnection/tokio::spawn to go-redis's *redis.Client
// and a plain goroutine.
type RedisDriver struct {
	url    string
	client *redis.Client
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

func NewRedisDriver(url string) *RedisDriver {
	return &RedisDriver{url: url, log: log.With().Str("transport", "redis").Logger(), subs: make(map[string]*redis.PubSub)}
}

func (d *RedisDriver) Kind() Kind { return KindRedis }

// Connect opens the client and requires PING to succeed, per spec §4.2
// ("ping() must succeed during connect or the driver reports unavailable").
func (d *RedisDriver) Connect(ctx context.Context) error {
	if d.client != nil {
		return nil
	}
	opt, err := redis.ParseURL(d.url)
	if err != nil {
		return Unavailable(KindRedis, "redis.Connect", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return Unavailable(KindRedis, "redis.Connect", err)
	}
	d.client = client
	return nil
}

func (d *RedisDriver) Publish(ctx context.Context, channel string, env envelope.Envelope) error {
	if d.client == nil {
		return acserr.New(acserr.Transport, "redis.Publish", acserr.ErrNotConnected)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return acserr.New(acserr.Validation, "redis.Publish", err)
	}
	if err := d.client.Publish(ctx, channel, raw).Err(); err != nil {
		return acserr.New(acserr.Transport, "redis.Publish", err)
	}
	return nil
}

func (d *RedisDriver) Subscribe(ctx context.Context, channel string) (<-chan Inbound, error) {
	if d.client == nil {
		return nil, acserr.New(acserr.Transport, "redis.Subscribe", acserr.ErrNotConnected)
	}
	ps := d.client.Subscribe(ctx, channel)

	d.mu.Lock()
	d.subs[channel] = ps
	d.mu.Unlock()

	out := make(chan Inbound, 64)
	go func() {
		defer close(out)
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					d.log.Debug().Err(err).Str("channel", channel).Msg("dropping malformed redis message")
					continue
				}
				select {
				case out <- Inbound{Channel: channel, Envelope: env}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (d *RedisDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ps := range d.subs {
		_ = ps.Close()
	}
	d.subs = make(map[string]*redis.PubSub)
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// HSet mirrors the original's b00t:agents:registry hash used by the
// presence heartbeat loop (C5) to publish AgentMetadata alongside the
// pub/sub announcement, keeping a pollable snapshot for late joiners.
func (d *RedisDriver) HSet(ctx context.Context, key, field string, value []byte) error {
	if d.client == nil {
		return acserr.New(acserr.Transport, "redis.HSet", acserr.ErrNotConnected)
	}
	return d.client.HSet(ctx, key, field, value).Err()
}

// HGetAll reads the full registry hash back for discovery fallback.
func (d *RedisDriver) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if d.client == nil {
		return nil, acserr.New(acserr.Transport, "redis.HGetAll", acserr.ErrNotConnected)
	}
	return d.client.HGetAll(ctx, key).Result()
}
