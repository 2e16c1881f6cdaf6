package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans location samples out to websocket subscribers watching a rider.
// With a Redis client attached, broadcasts also cross process boundaries.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	RiderID string
	Send    chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(riderID string) *Client {
	client := &Client{
		RiderID: riderID,
		Send:    make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[riderID] == nil {
		h.clients[riderID] = map[*Client]struct{}{}
	}
	h.clients[riderID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if riderClients, ok := h.clients[client.RiderID]; ok {
		delete(riderClients, client)
		if len(riderClients) == 0 {
			delete(h.clients, client.RiderID)
		}
	}
	close(client.Send)
}

// Broadcast delivers to every local subscriber of the rider and, with Redis
// attached, to other processes. The read lock is held across the fanout:
// sends never block (dropped on a full buffer), and holding the lock keeps
// Unregister from deleting map entries or closing Send mid-iteration.
func (h *Hub) Broadcast(riderID string, payload []byte) {
	h.mu.RLock()
	for client := range h.clients[riderID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
	h.mu.RUnlock()

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(riderID), payload).Err()
		if err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "riders:*:locations")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		riderID := riderIDFromChannel(msg.Channel)
		payload := []byte(msg.Payload)
		h.mu.RLock()
		for client := range h.clients[riderID] {
			select {
			case client.Send <- payload:
			default:
			}
		}
		h.mu.RUnlock()
	}
}

func redisChannel(riderID string) string {
	return "riders:" + riderID + ":locations"
}

func riderIDFromChannel(ch string) string {
	// riders:{rider}:locations
	const prefix = "riders:"
	const suffix = ":locations"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
