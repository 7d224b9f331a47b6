package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// ProcessedStore records webhook events that were already handled, so a
// redelivered event does not produce a second reply. Entries expire: the
// platform stops redelivering long before the TTL runs out.
type ProcessedStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProcessedStore(client *redis.Client, ttl time.Duration) *ProcessedStore {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ProcessedStore{client: client, ttl: ttl}
}

func processedKey(provider, eventID string) string {
	return fmt.Sprintf("processed:%s:%s", provider, eventID)
}

// AlreadyProcessed checks if we've seen this provider event id.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedKey(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed inserts an event id for the provider, returning false if it
// already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, processedKey(provider, eventID), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ok, nil
}
