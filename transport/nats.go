package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
)

// NatsDriver wraps a nats.go connection. The teacher module
// (dataparency-dev/AI-delegation) already dials NATS in engine.go's
// NewEngine via nc.ConnectAPI; this driver keeps that dependency but drops
// the natsclient RDID/domain/entity CRUD layer (nothing in the ACS core
// needs a keyed object store — see DESIGN.md) in favor of nats.go's own
// Subscribe/Publish, matching original_source/b00t-ipc/src/transport.rs's
// nats_transport module one-for-one.
type NatsDriver struct {
	url  string
	conn *nats.Conn
	log  zerolog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func NewNatsDriver(url string) *NatsDriver {
	return &NatsDriver{url: url, log: log.With().Str("transport", "nats").Logger(), subs: make(map[string]*nats.Subscription)}
}

func (d *NatsDriver) Kind() Kind { return KindNATS }

func (d *NatsDriver) Connect(ctx context.Context) error {
	if d.conn != nil && d.conn.IsConnected() {
		return nil
	}
	conn, err := nats.Connect(d.url)
	if err != nil {
		return Unavailable(KindNATS, "nats.Connect", err)
	}
	d.conn = conn
	return nil
}

// subject converts a b00t channel name to the dotted NATS subject spec §4.2
// requires, appending the sender for per-publisher addressability.
func (d *NatsDriver) subject(channel string, env envelope.Envelope) string {
	return natsSubject(channel, env.Sender)
}

func (d *NatsDriver) Publish(ctx context.Context, channel string, env envelope.Envelope) error {
	if d.conn == nil {
		return acserr.New(acserr.Transport, "nats.Publish", acserr.ErrNotConnected)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return acserr.New(acserr.Validation, "nats.Publish", err)
	}
	if err := d.conn.Publish(d.subject(channel, env), raw); err != nil {
		return acserr.New(acserr.Transport, "nats.Publish", err)
	}
	return nil
}

// Subscribe uses the wildcard form b00t.agents.<channel>.> so a single
// subscription receives envelopes from every sender on that logical
// channel, matching spec §4.2's "Wildcard subscriptions use >".
func (d *NatsDriver) Subscribe(ctx context.Context, channel string) (<-chan Inbound, error) {
	if d.conn == nil {
		return nil, acserr.New(acserr.Transport, "nats.Subscribe", acserr.ErrNotConnected)
	}
	wildcard := natsSubject(channel, "") + ".>"

	out := make(chan Inbound, 64)
	sub, err := d.conn.Subscribe(wildcard, func(msg *nats.Msg) {
		var env envelope.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			d.log.Debug().Err(err).Str("subject", msg.Subject).Msg("dropping malformed nats message")
			return
		}
		select {
		case out <- Inbound{Channel: channel, Envelope: env}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		close(out)
		return nil, acserr.New(acserr.Transport, "nats.Subscribe", err)
	}

	d.mu.Lock()
	d.subs[channel] = sub
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(out)
	}()
	return out, nil
}

func (d *NatsDriver) Unsubscribe(channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub, ok := d.subs[channel]; ok {
		delete(d.subs, channel)
		return sub.Unsubscribe()
	}
	return nil
}

func (d *NatsDriver) Close() error {
	d.mu.Lock()
	for _, sub := range d.subs {
		_ = sub.Unsubscribe()
	}
	d.subs = make(map[string]*nats.Subscription)
	d.mu.Unlock()

	if d.conn != nil {
		d.conn.Close()
	}
	return nil
}
