package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Topic prefixes
const (
	chatsTopicPrefix         = "chats:"
	messagesTopicPrefix      = "messages:"
	notificationsTopicPrefix = "notifications:"
)

// Event types
const (
	EventSnapshot            = "snapshot"
	EventChatUpdated         = "chat.updated"
	EventChatRemoved         = "chat.removed"
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventNotificationCreated = "notification.created"
	EventNotificationsRead   = "notifications.read"
)

// ChatsTopic is the chat-list stream of a user
func ChatsTopic(userID string) string { return chatsTopicPrefix + userID }

// MessagesTopic is the message stream of a chat
func MessagesTopic(chatID string) string { return messagesTopicPrefix + chatID }

// NotificationsTopic is the notification stream of a user
func NotificationsTopic(userID string) string { return notificationsTopicPrefix + userID }

// Event is the envelope written to subscribers
type Event struct {
	Topic   string      `json:"topic"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

const broadcastQueueSize = 1024

type outbound struct {
	topic string
	data  []byte
}

// Hub fans events out to the clients subscribed to a topic
type Hub struct {
	// Registered clients organized by topic
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	broadcast chan outbound
	done      chan struct{}
	closeOnce sync.Once

	onConnect    func()
	onDisconnect func()

	logger zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]map[*Client]bool),
		broadcast:    make(chan outbound, broadcastQueueSize),
		done:         make(chan struct{}),
		onConnect:    func() {},
		onDisconnect: func() {},
		logger:       logger,
	}
}

// OnConnection installs callbacks run on every register and unregister
func (h *Hub) OnConnection(connect, disconnect func()) {
	if connect != nil {
		h.onConnect = connect
	}
	if disconnect != nil {
		h.onDisconnect = disconnect
	}
}

// Run delivers queued events until ctx is cancelled, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, clients := range h.clients {
		for client := range clients {
			close(client.send)
			h.onDisconnect()
		}
		delete(h.clients, topic)
	}
}

// register adds client to its topic
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.topic]; !ok {
		h.clients[client.topic] = make(map[*Client]bool)
	}
	h.clients[client.topic][client] = true
	h.onConnect()

	h.logger.Debug().
		Str("topic", client.topic).
		Str("userID", client.userID).
		Msg("Client registered")
}

// unregister removes client and closes its send channel
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.topic]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	h.onDisconnect()
	if len(clients) == 0 {
		delete(h.clients, client.topic)
	}

	h.logger.Debug().
		Str("topic", client.topic).
		Str("userID", client.userID).
		Msg("Client unregistered")
}

// Disconnect closes the subscriptions of userIDs on topic, or every
// subscription on topic when no user is given. It returns how many
// clients were closed.
func (h *Hub) Disconnect(topic string, userIDs ...string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var closed int
	for client := range h.clients[topic] {
		if len(userIDs) > 0 && !containsUser(userIDs, client.userID) {
			continue
		}
		h.removeLocked(client)
		closed++
	}
	if closed > 0 {
		h.logger.Info().Str("topic", topic).Strs("userIDs", userIDs).Int("closed", closed).Msg("Subscriptions revoked")
	}
	return closed
}

func containsUser(userIDs []string, userID string) bool {
	for _, id := range userIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Publish queues an event for every subscriber of topic. It never blocks:
// when the queue is full the event is dropped and logged, and subscribers
// catch up from the next snapshot.
func (h *Hub) Publish(topic, eventType string, payload interface{}) {
	data, err := json.Marshal(Event{Topic: topic, Type: eventType, Payload: payload, At: time.Now()})
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Str("type", eventType).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	_, hasSubscribers := h.clients[topic]
	h.mu.RUnlock()
	if !hasSubscribers {
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- outbound{topic: topic, data: data}:
	default:
		h.logger.Warn().Str("topic", topic).Str("type", eventType).Msg("Event queue full, dropping event")
	}
}

// deliver writes data to every client of the topic, dropping slow ones
func (h *Hub) deliver(msg outbound) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.clients[msg.topic] {
		select {
		case client.send <- msg.data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		h.logger.Warn().Str("topic", msg.topic).Str("userID", client.userID).Msg("Dropping slow subscriber")
		h.removeLocked(client)
	}
	h.mu.Unlock()
}

// enqueue writes data to a single registered client without blocking
func (h *Hub) enqueue(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client.topic][client] {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

// SubscriberCount returns the number of connected clients for a topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
