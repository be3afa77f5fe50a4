package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/database"
)

// characterCache is a short-TTL read cache for character sheets. Characters
// are read on every turn and mutated rarely, almost always by admin tooling.
type characterCache struct {
	store database.Store
	ttl   time.Duration

	mu      sync.Mutex
	entries map[uuid.UUID]cachedCharacter
}

type cachedCharacter struct {
	character *database.Character
	expires   time.Time
}

func newCharacterCache(store database.Store, ttl time.Duration) *characterCache {
	return &characterCache{
		store:   store,
		ttl:     ttl,
		entries: make(map[uuid.UUID]cachedCharacter),
	}
}

func (c *characterCache) Get(ctx context.Context, id uuid.UUID) (*database.Character, error) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.character, nil
	}

	character, err := c.store.GetCharacter(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[id] = cachedCharacter{character: character, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return character, nil
}

// Invalidate drops the cached sheet after a mutation such as an emotion
// change.
func (c *characterCache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
