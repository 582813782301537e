package services

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/academic-manager/wa-service/internal/domain"
)

// perChatCap bounds how many messages the cache keeps per chat.
const perChatCap = 200

// MessageCache is the in-process store of recently observed messages,
// populated passively as messages arrive over the live link and by
// history fetches.
type MessageCache struct {
	mu     sync.RWMutex
	byChat map[string][]domain.ChatMessage
}

func NewMessageCache() *MessageCache {
	return &MessageCache{byChat: make(map[string][]domain.ChatMessage)}
}

// Add inserts a message, keeping the chat's slice sorted ascending by
// timestamp and dropping the oldest entries beyond the cap. Duplicate
// IDs are ignored.
func (c *MessageCache) Add(msg domain.ChatMessage) {
	if msg.ChatID == "" || msg.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.byChat[msg.ChatID]
	for _, m := range msgs {
		if m.ID == msg.ID {
			return
		}
	}
	msgs = append(msgs, msg)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	if len(msgs) > perChatCap {
		msgs = msgs[len(msgs)-perChatCap:]
	}
	c.byChat[msg.ChatID] = msgs
}

// Get returns a copy of the cached messages for a chat, oldest first.
func (c *MessageCache) Get(chatID string) []domain.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.byChat[chatID]
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Oldest returns the oldest cached message for a chat, or nil.
func (c *MessageCache) Oldest(chatID string) *domain.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.byChat[chatID]
	if len(msgs) == 0 {
		return nil
	}
	oldest := msgs[0]
	return &oldest
}

// MessageService answers "recent messages for a chat" by cascading
// through three best-effort sources: the local cache, an on-demand
// history request, and the client's own message index. One source
// failing never aborts the others.
type MessageService struct {
	conn   domain.ConnectionService
	client domain.ProtocolClient
	cache  *MessageCache
}

func NewMessageService(conn domain.ConnectionService, client domain.ProtocolClient, cache *MessageCache) *MessageService {
	return &MessageService{conn: conn, client: client, cache: cache}
}

// FetchRecent returns up to limit messages for the chat, ascending by
// timestamp. An empty chat yields an empty slice, not an error; only a
// dead link is an error.
func (s *MessageService) FetchRecent(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	if !s.conn.IsConnected() {
		return nil, domain.ErrNotConnected
	}
	if limit <= 0 {
		limit = 50
	}

	strategies := []func(context.Context, string, int) []domain.ChatMessage{
		s.fromCache,
		s.fromHistory,
		s.fromStoreScan,
	}

	seen := make(map[string]bool)
	merged := make([]domain.ChatMessage, 0, limit)
	for _, strategy := range strategies {
		if len(merged) >= limit {
			break
		}
		for _, msg := range strategy(ctx, chatID, limit) {
			if msg.ID == "" || seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			merged = append(merged, msg)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged, nil
}

func (s *MessageService) fromCache(_ context.Context, chatID string, _ int) []domain.ChatMessage {
	return s.cache.Get(chatID)
}

// fromHistory asks the client for older history anchored at the oldest
// cached message, and feeds the results back into the cache.
func (s *MessageService) fromHistory(ctx context.Context, chatID string, limit int) []domain.ChatMessage {
	anchor := s.cache.Oldest(chatID)
	msgs, err := s.client.FetchHistory(ctx, chatID, anchor, limit)
	if err != nil {
		log.Printf("[Messages] History fetch for %s failed: %v", chatID, err)
		return nil
	}
	for _, msg := range msgs {
		s.cache.Add(msg)
	}
	return msgs
}

func (s *MessageService) fromStoreScan(_ context.Context, chatID string, limit int) []domain.ChatMessage {
	return s.client.ScanStore(chatID, limit)
}
