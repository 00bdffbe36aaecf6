package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
)

// MqttDriver maps b00t channels onto slash-delimited MQTT topics at QoS
// at-least-once, per spec §4.2. The topic scheme (mqttTopic, below) is
// grounded on b00t-lib-chat/src/transports/mqtt_transport.rs's
// message_to_topic ("b00t/agents/{channel}/{sender}") and its wildcard
// subscribe ("b00t/agents/{channel}/#"); this driver swaps rumqttc's
// event-loop-in-a-spawned-task model for paho.mqtt.golang's own
// idiomatic callback-based client, which drives its event loop the same
// way under the hood.
type MqttDriver struct {
	brokerURL string
	clientID  string
	client    mqtt.Client
	log       zerolog.Logger

	mu   sync.Mutex
	subs map[string]chan Inbound
}

func NewMqttDriver(brokerURL, clientID string) *MqttDriver {
	return &MqttDriver{
		brokerURL: brokerURL,
		clientID:  clientID,
		log:       log.With().Str("transport", "mqtt").Logger(),
		subs:      make(map[string]chan Inbound),
	}
}

func (d *MqttDriver) Kind() Kind { return KindMQTT }

func (d *MqttDriver) Connect(ctx context.Context) error {
	if d.client != nil && d.client.IsConnected() {
		return nil
	}
	opts := mqtt.NewClientOptions().AddBroker(d.brokerURL).SetClientID(d.clientID).SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return Unavailable(KindMQTT, "mqtt.Connect", context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return Unavailable(KindMQTT, "mqtt.Connect", err)
	}
	d.client = client
	return nil
}

func (d *MqttDriver) topic(channel string, env envelope.Envelope) string {
	return mqttTopic(channel, env.Sender)
}

func (d *MqttDriver) Publish(ctx context.Context, channel string, env envelope.Envelope) error {
	if d.client == nil {
		return acserr.New(acserr.Transport, "mqtt.Publish", acserr.ErrNotConnected)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return acserr.New(acserr.Validation, "mqtt.Publish", err)
	}
	const qosAtLeastOnce = 1
	token := d.client.Publish(d.topic(channel, env), qosAtLeastOnce, false, raw)
	token.Wait()
	if err := token.Error(); err != nil {
		return acserr.New(acserr.Transport, "mqtt.Publish", err)
	}
	return nil
}

// Subscribe listens on the wildcard topic b00t/agents/<channel>/+ so every
// sender's publications on the logical channel are delivered here.
func (d *MqttDriver) Subscribe(ctx context.Context, channel string) (<-chan Inbound, error) {
	if d.client == nil {
		return nil, acserr.New(acserr.Transport, "mqtt.Subscribe", acserr.ErrNotConnected)
	}
	wildcard := mqttTopic(channel, "") + "/+"
	out := make(chan Inbound, 64)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var env envelope.Envelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil {
			d.log.Debug().Err(err).Str("topic", msg.Topic()).Msg("dropping malformed mqtt message")
			return
		}
		select {
		case out <- Inbound{Channel: channel, Envelope: env}:
		case <-ctx.Done():
		}
	}

	const qosAtLeastOnce = 1
	token := d.client.Subscribe(wildcard, qosAtLeastOnce, handler)
	token.Wait()
	if err := token.Error(); err != nil {
		close(out)
		return nil, acserr.New(acserr.Transport, "mqtt.Subscribe", err)
	}

	d.mu.Lock()
	d.subs[channel] = out
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.client.Unsubscribe(wildcard)
		close(out)
	}()
	return out, nil
}

func (d *MqttDriver) Close() error {
	d.mu.Lock()
	d.subs = make(map[string]chan Inbound)
	d.mu.Unlock()
	if d.client != nil {
		d.client.Disconnect(250)
	}
	return nil
}
