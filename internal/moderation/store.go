package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"AirQualityNews/internal/domain"
	"AirQualityNews/internal/ports"
)

// MemoryStore keeps pending items in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]domain.PendingModerationItem
}

var _ ports.PendingStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]domain.PendingModerationItem{}}
}

// Put stores or replaces an item.
func (s *MemoryStore) Put(_ context.Context, item domain.PendingModerationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.PendingID] = item
	return nil
}

// Update replaces an item that is still pending.
func (s *MemoryStore) Update(_ context.Context, item domain.PendingModerationItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.PendingID]; !ok {
		return false, nil
	}
	s.items[item.PendingID] = item
	return true, nil
}

// Take removes and returns an item. Only one caller observes ok=true per id.
func (s *MemoryStore) Take(_ context.Context, pendingID string) (domain.PendingModerationItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[pendingID]
	if ok {
		delete(s.items, pendingID)
	}
	return item, ok, nil
}

// List returns pending items oldest first.
func (s *MemoryStore) List(_ context.Context) ([]domain.PendingModerationItem, error) {
	s.mu.Lock()
	out := make([]domain.PendingModerationItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	s.mu.Unlock()

	sortByCreated(out)
	return out, nil
}

// RedisStore keeps pending items in Redis so several processes can share decisions.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ ports.PendingStore = (*RedisStore)(nil)

// NewRedisStore uses keys "<prefix>:<id>" and the index set "<prefix>:ids".
func NewRedisStore(client redis.UniversalClient, prefix string, log *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "airnews:pending"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, logger: log.With("component", "pending_store")}
}

func (s *RedisStore) key(id string) string { return s.prefix + ":" + id }

func (s *RedisStore) indexKey() string { return s.prefix + ":ids" }

// Put stores an item and indexes its id in one transaction.
func (s *RedisStore) Put(ctx context.Context, item domain.PendingModerationItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal pending item: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(item.PendingID), raw, 0)
		pipe.SAdd(ctx, s.indexKey(), item.PendingID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store pending item %s: %w", item.PendingID, err)
	}
	return nil
}

// Update overwrites an item only if its key still exists.
func (s *RedisStore) Update(ctx context.Context, item domain.PendingModerationItem) (bool, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("marshal pending item: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(item.PendingID), raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("update pending item %s: %w", item.PendingID, err)
	}
	return ok, nil
}

// Take uses GETDEL so concurrent deciders cannot both win.
func (s *RedisStore) Take(ctx context.Context, pendingID string) (domain.PendingModerationItem, bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(pendingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingModerationItem{}, false, nil
	}
	if err != nil {
		return domain.PendingModerationItem{}, false, fmt.Errorf("take pending item %s: %w", pendingID, err)
	}

	// the key is gone already; List prunes the dangling index entry
	if err := s.client.SRem(ctx, s.indexKey(), pendingID).Err(); err != nil {
		s.logger.Warn("unindex pending item", "pending_id", pendingID, "error", err)
	}

	var item domain.PendingModerationItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.PendingModerationItem{}, true, fmt.Errorf("decode pending item %s: %w", pendingID, err)
	}
	return item, true, nil
}

// List returns pending items oldest first, dropping index entries whose item is gone.
func (s *RedisStore) List(ctx context.Context) ([]domain.PendingModerationItem, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending items: %w", err)
	}

	out := make([]domain.PendingModerationItem, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var item domain.PendingModerationItem
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, fmt.Errorf("decode pending item %s: %w", ids[i], err)
		}
		out = append(out, item)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.indexKey(), stale...).Err()
	}

	sortByCreated(out)
	return out, nil
}

func sortByCreated(items []domain.PendingModerationItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].PendingID < items[j].PendingID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
