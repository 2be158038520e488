package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/pkg/logger"
)

const (
	mqttQoS     byte = 1
	mqttTimeout      = 5 * time.Second
)

var errMQTTTimeout = errors.New("mqtt: operation timed out")

// MQTTTransport subscribes through an MQTT broker. One broker subscription
// per topic fans out to every local subscriber.
type MQTTTransport struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]map[*mqttSub]struct{}
}

// DialMQTT connects to broker with auto-reconnect. Topics are re-subscribed
// after a reconnect.
func DialMQTT(broker, clientID string) (*MQTTTransport, error) {
	t := &MQTTTransport{subs: make(map[string]map[*mqttSub]struct{})}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) { t.onConnect() }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { t.onConnectionLost(err) }

	t.client = mqtt.NewClient(opts)
	if err := wait(t.client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	logger.Info("mqtt connected", zap.String("broker", broker), zap.String("client_id", clientID))
	return t, nil
}

// NewMQTTTransport wraps an already configured client.
func NewMQTTTransport(client mqtt.Client) *MQTTTransport {
	return &MQTTTransport{client: client, subs: make(map[string]map[*mqttSub]struct{})}
}

func (t *MQTTTransport) Subscribe(_ context.Context, topic string) (Subscription, error) {
	s := &mqttSub{
		t:      t,
		topic:  topic,
		events: make(chan Event, subBuffer),
		status: make(chan Status, subBuffer),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.subs[topic]
	if !ok {
		if err := wait(t.client.Subscribe(topic, mqttQoS, t.handler(topic))); err != nil {
			return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, err)
		}
		set = make(map[*mqttSub]struct{})
		t.subs[topic] = set
	}
	set[s] = struct{}{}
	s.push(StatusSubscribed)
	return s, nil
}

func (t *MQTTTransport) handler(topic string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		ev, err := decode(msg.Payload())
		if err != nil {
			logger.Warn("drop malformed story event", zap.String("topic", topic), zap.Error(err))
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		for s := range t.subs[topic] {
			select {
			case s.events <- ev:
			default:
				logger.Warn("subscriber slow, drop story event", zap.String("topic", topic), zap.String("story_id", ev.StoryID))
			}
		}
	}
}

func (t *MQTTTransport) onConnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, set := range t.subs {
		st := StatusSubscribed
		if err := wait(t.client.Subscribe(topic, mqttQoS, t.handler(topic))); err != nil {
			logger.Warn("mqtt resubscribe failed", zap.String("topic", topic), zap.Error(err))
			st = StatusErrored
		}
		for s := range set {
			s.push(st)
		}
	}
}

func (t *MQTTTransport) onConnectionLost(err error) {
	logger.Warn("mqtt connection lost", zap.Error(err))
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, set := range t.subs {
		for s := range set {
			s.push(StatusErrored)
		}
	}
}

func (t *MQTTTransport) remove(s *mqttSub) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.subs[s.topic]
	delete(set, s)
	if len(set) > 0 {
		return nil
	}
	delete(t.subs, s.topic)
	return wait(t.client.Unsubscribe(s.topic))
}

// Publish sends ev to topic at QoS 1.
func (t *MQTTTransport) Publish(_ context.Context, topic string, ev Event) error {
	b, err := encode(ev)
	if err != nil {
		return err
	}
	return wait(t.client.Publish(topic, mqttQoS, false, b))
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}

type mqttSub struct {
	t      *MQTTTransport
	topic  string
	events chan Event
	status chan Status
	once   sync.Once
	closed bool
}

func (s *mqttSub) Events() <-chan Event   { return s.events }
func (s *mqttSub) Status() <-chan Status { return s.status }

// push is called with t.mu held.
func (s *mqttSub) push(st Status) {
	if s.closed {
		return
	}
	select {
	case s.status <- st:
	default:
	}
}

func (s *mqttSub) Close() error {
	var err error
	s.once.Do(func() {
		err = s.t.remove(s)
		s.t.mu.Lock()
		s.push(StatusClosed)
		s.closed = true
		close(s.events)
		close(s.status)
		s.t.mu.Unlock()
	})
	return err
}

func wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(mqttTimeout) {
		return errMQTTTimeout
	}
	return tok.Error()
}
