package chat

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"llm-chat/internal/logger"
)

const invalidationChannel = "chat:history-changed"

// Invalidation tells every open tab of a user that its cached history is
// out of date.
type Invalidation struct {
	Type   string `json:"type"`
	UserID int    `json:"userId"`
	ChatID string `json:"chatId,omitempty"`
}

// Notifier is how the service announces history changes.
type Notifier interface {
	HistoryChanged(ctx context.Context, userID int, chatID string) error
}

// Hub fans history-change events out to websocket clients. Instances share
// events through Redis pub/sub; only Run touches clients.
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan Invalidation // From Redis -> Clients
	registerCh   chan *Client
	unregisterCh chan *Client
	done         chan struct{}
	redis        *redis.Client
	log          *logger.Logger
}

func NewHub(redisClient *redis.Client, log *logger.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		broadcast:    make(chan Invalidation, 64),
		registerCh:   make(chan *Client),
		unregisterCh: make(chan *Client),
		done:         make(chan struct{}),
		redis:        redisClient,
		log:          log.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			return nil

		case client := <-h.registerCh:
			h.clients[client] = true

		case client := <-h.unregisterCh:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}

		case ev := <-h.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			for client := range h.clients {
				if client.UserID != ev.UserID {
					continue
				}
				select {
				case client.Send <- payload:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// register hands c to Run. It reports false once Run has exited.
func (h *Hub) register(c *Client) bool {
	select {
	case h.registerCh <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterCh <- c:
	case <-h.done:
	}
}

// SubscribeToRedis feeds events published by any instance into Run.
func (h *Hub) SubscribeToRedis(ctx context.Context) error {
	pubsub := h.redis.Subscribe(ctx, invalidationChannel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reading.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.log.Warn("dropping malformed invalidation", "error", err)
				continue
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (h *Hub) HistoryChanged(ctx context.Context, userID int, chatID string) error {
	payload, err := json.Marshal(Invalidation{Type: "history_changed", UserID: userID, ChatID: chatID})
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, invalidationChannel, payload).Err()
}
