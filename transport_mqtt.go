package tagsync

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/guildsy/tagsync/types"
)

// Topic layout:
//
//	tagsync/<prefix>/guild/<sender>            broadcast channel
//	tagsync/<prefix>/whisper/<target>/<sender> directed channel
//
// The prefix scopes a guild; the trailing segment is the transport-level
// sender token (a character name), which is all the protocol ever sees
// of a sender.
const topicRoot = "tagsync"

// sendBudget throttles outbound publishes the way the host chat channel
// would: a sliding one-second window. Refusal surfaces as ErrRateLimited
// and the caller treats it as a retryable non-event.
type sendBudget struct {
	window    time.Duration
	maxSends  int
	lastSends []time.Time
}

func newSendBudget(maxPerSecond int) *sendBudget {
	return &sendBudget{window: time.Second, maxSends: maxPerSecond}
}

func (b *sendBudget) allow(now time.Time) bool {
	cutoff := now.Add(-b.window)
	kept := b.lastSends[:0]
	for _, t := range b.lastSends {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.lastSends = kept
	if len(b.lastSends) >= b.maxSends {
		return false
	}
	b.lastSends = append(b.lastSends, now)
	return true
}

// MQTTTransport carries the protocol over an MQTT broker, one retained-
// nothing QoS 0 topic pair per guild prefix.
type MQTTTransport struct {
	client  mqtt.Client
	prefix  string
	myToken types.CharName
	budget  *sendBudget
	handler func(Inbound)
}

// NewMQTTTransport connects to the broker and subscribes to the guild
// and whisper topics for myToken.
func NewMQTTTransport(host, user, pass, prefix string, myToken types.CharName) (*MQTTTransport, error) {
	t := &MQTTTransport{
		prefix:  prefix,
		myToken: myToken,
		budget:  newSendBudget(10),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(host)
	opts.SetClientID(fmt.Sprintf("%s-%s", topicRoot, myToken))
	opts.SetUsername(user)
	opts.SetPassword(pass)
	opts.OnConnect = t.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logrus.Printf("MQTT connection lost: %v", err)
	}
	t.client = mqtt.NewClient(opts)

	if token := t.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("transport: connect: %w", token.Error())
	}
	return t, nil
}

func (t *MQTTTransport) onConnect(client mqtt.Client) {
	logrus.Println("Connected to MQTT")

	guild := fmt.Sprintf("%s/%s/guild/#", topicRoot, t.prefix)
	if token := client.Subscribe(guild, 0, t.receive(false)); token.Wait() && token.Error() != nil {
		logrus.Errorf("subscribe %s failed: %v", guild, token.Error())
	}

	whisper := fmt.Sprintf("%s/%s/whisper/%s/#", topicRoot, t.prefix, t.myToken)
	if token := client.Subscribe(whisper, 0, t.receive(true)); token.Wait() && token.Error() != nil {
		logrus.Errorf("subscribe %s failed: %v", whisper, token.Error())
	}
}

func (t *MQTTTransport) receive(direct bool) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		if t.handler == nil {
			return
		}
		parts := strings.Split(m.Topic(), "/")
		sender := types.CharName(parts[len(parts)-1])
		if sender == t.myToken {
			return
		}
		prefix := ""
		if len(parts) > 1 {
			prefix = parts[1]
		}
		t.handler(Inbound{
			Prefix: prefix,
			Sender: sender,
			Wire:   string(m.Payload()),
			Direct: direct,
		})
	}
}

// Broadcast implements Transport.
func (t *MQTTTransport) Broadcast(wire string) error {
	topic := fmt.Sprintf("%s/%s/guild/%s", topicRoot, t.prefix, t.myToken)
	return t.publish(topic, wire)
}

// Whisper implements Transport.
func (t *MQTTTransport) Whisper(target types.CharName, wire string) error {
	topic := fmt.Sprintf("%s/%s/whisper/%s/%s", topicRoot, t.prefix, target, t.myToken)
	return t.publish(topic, wire)
}

func (t *MQTTTransport) publish(topic, wire string) error {
	if len(wire) > MaxMessageLen {
		return ErrOversize
	}
	if !t.budget.allow(time.Now()) {
		return ErrRateLimited
	}
	token := t.client.Publish(topic, 0, false, wire)
	// Fire and forget: QoS 0 loss is the protocol's normal weather.
	_ = token
	return nil
}

// SetHandler implements Transport.
func (t *MQTTTransport) SetHandler(fn func(Inbound)) {
	t.handler = fn
}

// Close implements Transport.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}
