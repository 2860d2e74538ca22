package store

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// MemorySessionStore keeps conversation ids per tab session in memory.
// Entries expire after the session TTL, mirroring sessionStorage being
// cleared when the browsing session ends.
type MemorySessionStore struct {
	cache *cache.Cache
}

// NewMemorySessionStore creates a session store whose entries live for ttl.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		cache: cache.New(ttl, ttl/2+time.Minute),
	}
}

// GetConversationID returns the conversation id cached for sessionID.
func (s *MemorySessionStore) GetConversationID(sessionID string) (string, bool) {
	v, found := s.cache.Get(conversationKey(sessionID))
	if !found {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// SetConversationID caches conversationID for sessionID.
func (s *MemorySessionStore) SetConversationID(sessionID, conversationID string) {
	s.cache.Set(conversationKey(sessionID), conversationID, cache.DefaultExpiration)
}

// DeleteConversationID forgets the conversation id for sessionID.
func (s *MemorySessionStore) DeleteConversationID(sessionID string) {
	s.cache.Delete(conversationKey(sessionID))
}

func conversationKey(sessionID string) string {
	return "conversationId:" + sessionID
}

var _ SessionStore = (*MemorySessionStore)(nil)
