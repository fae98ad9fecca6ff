package libraries

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "board:"

const (
	publishAttempts = 3
	publishBackoff  = 50 * time.Millisecond
	publishTimeout  = 2 * time.Second
)

// publisher is the part of the redis client a broadcast needs
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBus fans room broadcasts out through Redis pub/sub so that every
// process serving a board delivers them to its own connections. Frames are
// delivered only through the subscription, never short-circuited locally, so
// one sender's frames keep their order on every process.
type RedisBus struct {
	pub    publisher
	hub    *Hub
	pubsub *redis.PubSub
}

type busEnvelope struct {
	Except  string          `json:"except"`
	Message json.RawMessage `json:"message"`
}

func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	log.Println("✅ Connected to Redis successfully")
	return rdb, nil
}

// NewRedisBus subscribes to every board channel and forwards into the hub
func NewRedisBus(ctx context.Context, rdb *redis.Client, hub *Hub) *RedisBus {
	bus := &RedisBus{
		pub:    rdb,
		hub:    hub,
		pubsub: rdb.PSubscribe(ctx, roomChannelPrefix+"*"),
	}
	go bus.forward()
	return bus
}

func roomChannel(boardId uuid.UUID) string {
	return roomChannelPrefix + boardId.String()
}

// BroadcastToRoom publishes the frame to the board's channel, retrying a
// failed publish before giving up
func (b *RedisBus) BroadcastToRoom(boardId uuid.UUID, exceptConnectionId string, message []byte) error {
	payload, err := json.Marshal(&busEnvelope{Except: exceptConnectionId, Message: message})
	if err != nil {
		return fmt.Errorf("marshal bus envelope: %w", err)
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = b.pub.Publish(ctx, roomChannel(boardId), payload).Err()
		cancel()
		if err == nil {
			return nil
		}
		log.Printf("Error publishing to Redis (attempt %d): %v", attempt, err)
		if attempt == publishAttempts {
			return fmt.Errorf("publish to %s: %w", roomChannel(boardId), err)
		}
		time.Sleep(time.Duration(attempt) * publishBackoff)
	}
}

func (b *RedisBus) forward() {
	for msg := range b.pubsub.Channel() {
		boardId, err := uuid.Parse(strings.TrimPrefix(msg.Channel, roomChannelPrefix))
		if err != nil {
			log.Printf("ignoring message on channel %s", msg.Channel)
			continue
		}
		var env busEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Println("failed to parse bus envelope:", err)
			continue
		}
		if err := b.hub.BroadcastToRoom(boardId, env.Except, env.Message); err != nil {
			log.Printf("dropping frame for board %s: %v", boardId, err)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.pubsub.Close()
}
