package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/blobstore"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/push"
)

var (
	epoch      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errStorage = errors.New("store unavailable")
)

// memStore keeps chats, messages and read cursors behind one lock, like a
// single database would.
type memStore struct {
	mu       sync.Mutex
	chats    map[string]*models.Chat
	messages map[string]*models.Message
	order    []string
	cursors  map[string]time.Time

	insertErr error
}

func newMemStore() *memStore {
	return &memStore{
		chats:    make(map[string]*models.Chat),
		messages: make(map[string]*models.Message),
		cursors:  make(map[string]time.Time),
	}
}

func cloneChat(c *models.Chat) *models.Chat {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.AllowedSenders = append([]string(nil), c.AllowedSenders...)
	if c.LastMessageAt != nil {
		at := *c.LastMessageAt
		out.LastMessageAt = &at
	}
	return &out
}

func cloneMessage(m *models.Message) *models.Message {
	out := *m
	if m.ExpiresAt != nil {
		at := *m.ExpiresAt
		out.ExpiresAt = &at
	}
	if m.Poll != nil {
		poll := *m.Poll
		poll.Options = append([]string(nil), m.Poll.Options...)
		poll.Votes = make(map[int][]string, len(m.Poll.Votes))
		for option, voters := range m.Poll.Votes {
			poll.Votes[option] = append([]string{}, voters...)
		}
		out.Poll = &poll
	}
	return &out
}

func (s *memStore) CreateChat(_ context.Context, chat *models.Chat) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chat.ID]; ok {
		return false, nil
	}
	s.chats[chat.ID] = cloneChat(chat)
	return true, nil
}

func (s *memStore) GetChat(_ context.Context, chatID string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("Chat not found")
	}
	return cloneChat(chat), nil
}

func (s *memStore) ListChatsForUser(_ context.Context, userID string) ([]*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Chat
	for _, chat := range s.chats {
		if chat.HasParticipant(userID) {
			out = append(out, cloneChat(chat))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AddParticipant(_ context.Context, chatID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return false, apperrors.NewResourceNotFoundError("Chat not found")
	}
	if chat.HasParticipant(userID) {
		return false, nil
	}
	chat.Participants = append(chat.Participants, userID)
	return true, nil
}

func (s *memStore) RemoveParticipant(_ context.Context, chatID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return false, apperrors.NewResourceNotFoundError("Chat not found")
	}
	chat.Participants = without(chat.Participants, userID)
	chat.AllowedSenders = without(chat.AllowedSenders, userID)
	if len(chat.Participants) == 0 {
		s.deleteChatLocked(chatID)
		return true, nil
	}
	return false, nil
}

func (s *memStore) DeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return apperrors.NewResourceNotFoundError("Chat not found")
	}
	s.deleteChatLocked(chatID)
	return nil
}

func (s *memStore) deleteChatLocked(chatID string) {
	delete(s.chats, chatID)
	for id, msg := range s.messages {
		if msg.ChatID == chatID {
			delete(s.messages, id)
		}
	}
}

func (s *memStore) SetAllowedSender(_ context.Context, chatID, userID string, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return apperrors.NewResourceNotFoundError("Chat not found")
	}
	chat.AllowedSenders = without(chat.AllowedSenders, userID)
	if allowed {
		chat.AllowedSenders = append(chat.AllowedSenders, userID)
	}
	return nil
}

func (s *memStore) InsertMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	chat, ok := s.chats[msg.ChatID]
	if !ok {
		return apperrors.NewResourceNotFoundError("Chat not found")
	}

	createdAt := msg.CreatedAt.UTC().Truncate(time.Microsecond)
	if chat.LastMessageAt != nil && !createdAt.After(*chat.LastMessageAt) {
		createdAt = chat.LastMessageAt.Add(time.Microsecond)
	}
	msg.CreatedAt = createdAt
	if msg.EphemeralSeconds > 0 {
		expiresAt := createdAt.Add(time.Duration(msg.EphemeralSeconds) * time.Second)
		msg.ExpiresAt = &expiresAt
	}

	s.messages[msg.ID] = cloneMessage(msg)
	s.order = append(s.order, msg.ID)
	chat.LastMessageAt = &createdAt
	chat.LastMessagePreview = msg.Preview()
	return nil
}

func (s *memStore) lookupLocked(chatID, messageID string) (*models.Message, error) {
	msg, ok := s.messages[messageID]
	if !ok || msg.ChatID != chatID {
		return nil, apperrors.NewResourceNotFoundError("Message not found")
	}
	return msg, nil
}

func (s *memStore) GetMessage(_ context.Context, chatID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.lookupLocked(chatID, messageID)
	if err != nil {
		return nil, err
	}
	return cloneMessage(msg), nil
}

func (s *memStore) ListMessages(_ context.Context, chatID string, before *time.Time, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		msg, ok := s.messages[s.order[i]]
		if !ok || msg.ChatID != chatID {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (s *memStore) TombstoneMessage(_ context.Context, chatID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.lookupLocked(chatID, messageID)
	if err != nil {
		return nil, err
	}
	previous := cloneMessage(msg)
	msg.Deleted = true
	msg.Text = ""
	msg.MediaURL = ""
	msg.MediaType = ""
	msg.MediaKey = ""
	msg.ExpiresAt = nil
	msg.EphemeralSeconds = 0
	return previous, nil
}

func (s *memStore) ExpireMedia(_ context.Context, chatID, messageID, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.lookupLocked(chatID, messageID)
	if err != nil {
		return nil, err
	}
	previous := cloneMessage(msg)
	if msg.Deleted {
		return previous, nil
	}
	msg.MediaURL = ""
	msg.MediaType = ""
	msg.MediaKey = ""
	msg.ExpiresAt = nil
	msg.EphemeralSeconds = 0
	msg.Text = text
	return previous, nil
}

func (s *memStore) UpdatePoll(_ context.Context, chatID, messageID string, mutate func(*models.Message) error) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.lookupLocked(chatID, messageID)
	if err != nil {
		return nil, err
	}
	working := cloneMessage(msg)
	if err := mutate(working); err != nil {
		return nil, err
	}
	s.messages[messageID] = cloneMessage(working)
	return working, nil
}

func (s *memStore) ListPendingEphemeral(_ context.Context, dueBy *time.Time) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, id := range s.order {
		msg, ok := s.messages[id]
		if !ok || msg.Deleted || msg.ExpiresAt == nil {
			continue
		}
		if dueBy != nil && msg.ExpiresAt.After(*dueBy) {
			continue
		}
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (s *memStore) CountUnread(_ context.Context, chatID, userID string, after time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, msg := range s.messages {
		if msg.ChatID == chatID && msg.SenderID != userID && msg.CreatedAt.After(after) {
			n++
		}
	}
	var watermark time.Time
	if chat, ok := s.chats[chatID]; ok && chat.LastMessageAt != nil {
		watermark = *chat.LastMessageAt
	}
	return n, watermark, nil
}

func (s *memStore) GetLastSeen(_ context.Context, userID, chatID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[userID+"/"+chatID], nil
}

func (s *memStore) MarkSeen(_ context.Context, userID, chatID string, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + chatID
	at = at.Truncate(time.Microsecond)
	if current, ok := s.cursors[key]; ok && current.After(at) {
		return current, nil
	}
	s.cursors[key] = at
	return at, nil
}

func (s *memStore) setCursor(userID, chatID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[userID+"/"+chatID] = at
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// memNotifications is an in-memory NotificationStore
type memNotifications struct {
	mu      sync.Mutex
	items   []*models.AppNotification
	failFor map[string]error
}

func newMemNotifications() *memNotifications {
	return &memNotifications{failFor: make(map[string]error)}
}

func (s *memNotifications) InsertNotification(_ context.Context, n *models.AppNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[n.RecipientID]; err != nil {
		return err
	}
	copied := *n
	s.items = append(s.items, &copied)
	return nil
}

func (s *memNotifications) ListNotifications(_ context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.AppNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AppNotification
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.items[i]
		if n.RecipientID != recipientID || (unreadOnly && n.Read) {
			continue
		}
		copied := *n
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memNotifications) MarkRead(_ context.Context, recipientID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == notificationID && n.RecipientID == recipientID {
			n.Read = true
			return nil
		}
	}
	return apperrors.NewResourceNotFoundError("Notification not found")
}

func (s *memNotifications) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.items {
		if item.RecipientID == recipientID && !item.Read {
			item.Read = true
			n++
		}
	}
	return n, nil
}

func (s *memNotifications) CountUnread(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.items {
		if item.RecipientID == recipientID && !item.Read {
			n++
		}
	}
	return n, nil
}

func (s *memNotifications) forRecipient(recipientID string) []*models.AppNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AppNotification
	for _, n := range s.items {
		if n.RecipientID == recipientID {
			copied := *n
			out = append(out, &copied)
		}
	}
	return out
}

// memRegistry is an in-memory PushRegistry; push is enabled until disabled
type memRegistry struct {
	mu       sync.Mutex
	disabled map[string]bool
	tokens   map[string][]models.PushToken
}

func newMemRegistry() *memRegistry {
	return &memRegistry{disabled: make(map[string]bool), tokens: make(map[string][]models.PushToken)}
}

func (r *memRegistry) GetPushSettings(_ context.Context, userID string) (*models.PushSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &models.PushSettings{
		UserID:  userID,
		Enabled: !r.disabled[userID],
		Tokens:  append([]models.PushToken(nil), r.tokens[userID]...),
	}, nil
}

func (r *memRegistry) SetPushEnabled(_ context.Context, userID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[userID] = !enabled
	return nil
}

func (r *memRegistry) AddToken(_ context.Context, userID string, token models.PushToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens[userID] {
		if existing.Token == token.Token {
			return nil
		}
	}
	r.tokens[userID] = append(r.tokens[userID], token)
	return nil
}

func (r *memRegistry) RemoveToken(_ context.Context, userID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tokens[userID][:0:0]
	for _, existing := range r.tokens[userID] {
		if existing.Token != token {
			kept = append(kept, existing)
		}
	}
	r.tokens[userID] = kept
	return nil
}

// fakeBlobs records uploads and removals
type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	removed   []string
	uploadErr error
	removeErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) Upload(_ context.Context, obj blobstore.Object) (blobstore.Stored, error) {
	if b.uploadErr != nil {
		return blobstore.Stored{}, b.uploadErr
	}
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return blobstore.Stored{}, err
	}
	key := blobstore.ObjectKey(obj.ChatID, obj.MessageID, obj.FileName)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return blobstore.Stored{Key: key, URL: "https://cdn.test/" + key}, nil
}

func (b *fakeBlobs) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removeErr != nil {
		return b.removeErr
	}
	delete(b.objects, key)
	b.removed = append(b.removed, key)
	return nil
}

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// fakeGateway records push sends
type fakeGateway struct {
	mu    sync.Mutex
	sent  []push.Notification
	err   error
	calls int
}

func (g *fakeGateway) Send(_ context.Context, n push.Notification, endpoints []push.Endpoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return g.err
	}
	for range endpoints {
		g.sent = append(g.sent, n)
	}
	return nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type counterEntry struct {
	n         int64
	counted   bool
	seen      time.Time
	watermark time.Time
}

// memCounter mirrors the compare-and-set rules of the Redis unread cache.
// An entry with counted=false is a watermark marker.
type memCounter struct {
	mu           sync.Mutex
	entries      map[string]counterEntry
	incrementErr error
}

func newMemCounter() *memCounter {
	return &memCounter{entries: make(map[string]counterEntry)}
}

func (c *memCounter) Get(_ context.Context, userID, chatID string) (int64, bool, error) {
	n, ok := c.cached(userID, chatID)
	return n, ok, nil
}

func (c *memCounter) Store(_ context.Context, userID, chatID string, n int64, lastSeen, watermark time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := userID + "/" + chatID
	if current, ok := c.entries[key]; ok {
		if current.counted {
			if current.seen.After(lastSeen) {
				return nil
			}
			if current.watermark.After(watermark) {
				if current.seen.Before(lastSeen) {
					c.entries[key] = counterEntry{watermark: current.watermark}
				}
				return nil
			}
		} else if current.watermark.After(watermark) {
			return nil
		}
	}
	c.entries[key] = counterEntry{n: n, counted: true, seen: lastSeen, watermark: watermark}
	return nil
}

func (c *memCounter) IncrementExisting(_ context.Context, chatID string, userIDs []string, createdAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incrementErr != nil {
		return c.incrementErr
	}
	for _, userID := range userIDs {
		key := userID + "/" + chatID
		entry, ok := c.entries[key]
		if ok && !entry.watermark.Before(createdAt) {
			continue
		}
		if entry.counted && createdAt.After(entry.seen) {
			entry.n++
		}
		entry.watermark = createdAt
		c.entries[key] = entry
	}
	return nil
}

func (c *memCounter) Invalidate(_ context.Context, chatID string, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, userID := range userIDs {
		delete(c.entries, userID+"/"+chatID)
	}
	return nil
}

func (c *memCounter) cached(userID, chatID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID+"/"+chatID]
	if !ok || !entry.counted {
		return 0, false
	}
	return entry.n, true
}

type publishedEvent struct {
	topic     string
	eventType string
	payload   interface{}
}

// recordingPublisher captures every published event and revoked subscription
type recordingPublisher struct {
	mu          sync.Mutex
	events      []publishedEvent
	disconnects map[string][]string
}

// Disconnect records the revoked users; "*" stands for the whole topic
func (p *recordingPublisher) Disconnect(topic string, userIDs ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnects == nil {
		p.disconnects = make(map[string][]string)
	}
	if len(userIDs) == 0 {
		userIDs = []string{"*"}
	}
	p.disconnects[topic] = append(p.disconnects[topic], userIDs...)
	return len(userIDs)
}

func (p *recordingPublisher) disconnected(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.disconnects[topic]...)
}

func (p *recordingPublisher) Publish(topic, eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, eventType: eventType, payload: payload})
}

func (p *recordingPublisher) count(topic, eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.topic == topic && event.eventType == eventType {
			n++
		}
	}
	return n
}

// harness wires every service against in-memory collaborators
type harness struct {
	clock         *clock.FakeClock
	store         *memStore
	notifications *memNotifications
	registry      *memRegistry
	blobs         *fakeBlobs
	gateway       *fakeGateway
	counter       *memCounter
	publisher     *recordingPublisher
	background    *Background

	directory  ChatDirectory
	messages   MessageStore
	polls      PollEngine
	expirer    Expirer
	unread     UnreadTracker
	dispatcher NotificationDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()

	h := &harness{
		clock:         clock.Fake(epoch),
		store:         newMemStore(),
		notifications: newMemNotifications(),
		registry:      newMemRegistry(),
		blobs:         newFakeBlobs(),
		gateway:       &fakeGateway{},
		counter:       newMemCounter(),
		publisher:     &recordingPublisher{},
		background:    NewBackground(5 * time.Second),
	}
	h.dispatcher = NewNotificationDispatcher(h.notifications, h.registry, h.gateway, h.publisher, h.clock, nil, 4, logger)
	h.expirer = NewExpirer(h.store, h.store, h.blobs, h.publisher, h.clock, nil, "", logger)
	h.unread = NewUnreadTracker(h.store, h.store, h.store, h.counter, h.notifications, h.clock, nil, logger)
	h.directory = NewChatDirectory(h.store, h.unread, h.dispatcher, h.publisher, h.background, h.clock, logger)
	h.messages = NewMessageStore(h.store, h.store, h.blobs, h.expirer, h.unread, h.dispatcher, h.publisher, h.background, h.clock, nil, 50, logger)
	h.polls = NewPollEngine(h.store, h.store, h.messages, h.publisher, h.clock, nil, logger)

	t.Cleanup(func() {
		h.background.Wait()
		h.expirer.Stop()
	})
	return h
}

func (h *harness) group(t *testing.T, creator string, members ...string) *models.Chat {
	t.Helper()
	chat, err := h.directory.CreateGroupChat(context.Background(), "Climbing crew", creator, members)
	if err != nil {
		t.Fatalf("CreateGroupChat: %v", err)
	}
	h.background.Wait()
	return chat
}

func (h *harness) sendText(t *testing.T, chatID, sender, text string) *models.Message {
	t.Helper()
	msg, err := h.messages.SendMessage(context.Background(), chatID, models.Sender{ID: sender, Name: sender}, models.OutgoingMessage{Text: text})
	if err != nil {
		t.Fatalf("SendMessage(%s): %v", text, err)
	}
	h.background.Wait()
	return msg
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
