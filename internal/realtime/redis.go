package realtime

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/pkg/logger"
)

// RedisTransport subscribes over Redis pub/sub.
type RedisTransport struct {
	client *redis.Client
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := t.client.Subscribe(ctx, topic)
	// 等待订阅确认，失败时直接返回
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &redisSub{
		ps:     ps,
		events: make(chan Event, subBuffer),
		status: make(chan Status, 4),
		done:   make(chan struct{}),
	}
	s.status <- StatusSubscribed
	go s.loop(topic)
	return s, nil
}

type redisSub struct {
	ps     *redis.PubSub
	events chan Event
	status chan Status
	once   sync.Once
	done   chan struct{}
}

func (s *redisSub) Events() <-chan Event   { return s.events }
func (s *redisSub) Status() <-chan Status { return s.status }

func (s *redisSub) loop(topic string) {
	defer func() {
		s.status <- StatusClosed
		close(s.events)
		close(s.status)
		close(s.done)
	}()
	for msg := range s.ps.Channel() {
		ev, err := decode([]byte(msg.Payload))
		if err != nil {
			logger.Warn("drop malformed story event", zap.String("topic", topic), zap.Error(err))
			continue
		}
		select {
		case s.events <- ev:
		default:
			logger.Warn("subscriber slow, drop story event", zap.String("topic", topic), zap.String("story_id", ev.StoryID))
		}
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}

// RedisPublisher publishes events over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, ev Event) error {
	b, err := encode(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, topic, b).Err()
}
