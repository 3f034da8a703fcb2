package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamChannelPrefix = "stream:"
	publishTimeout      = 5 * time.Second
)

// remotePayload is the frame published to Redis for cross-instance fan-out.
// Origin carries the publishing instance id; a subscriber drops its own frames
// since the publisher already delivered them locally.
type remotePayload struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
	At     int64           `json:"at"`
}

// RedisPubSub bridges session events across instances via Redis pub/sub.
// Implements Publisher and Subscriber.
type RedisPubSub struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
}

// NewRedisPubSub creates the pub/sub bridge.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger, instanceID: uuid.New().String()}
}

// PublishStreamEvent publishes an event to the session's Redis channel.
func (r *RedisPubSub) PublishStreamEvent(sessionID uuid.UUID, event string, payload []byte) error {
	channel := streamChannelPrefix + sessionID.String()
	body, err := json.Marshal(remotePayload{Event: event, Data: payload, Origin: r.instanceID, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// SubscribeStream subscribes to a session's Redis channel and calls handler
// for each remote event. Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeStream(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error) {
	channel := streamChannelPrefix + sessionID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p remotePayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				if p.Origin == r.instanceID {
					continue
				}
				handler(p.Event, p.Data)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
