package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Cache is a byte-oriented key/value cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachingStore serves Get from a cache before falling through to the
// wrapped store. Entries never change once written, so cached copies are
// never invalidated, only expired.
type CachingStore struct {
	EntryStore
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachingStore(inner EntryStore, cache Cache, ttl time.Duration, logger *zap.Logger) *CachingStore {
	return &CachingStore{
		EntryStore: inner,
		cache:      cache,
		ttl:        ttl,
		logger:     logger.Named("ledger_cache"),
	}
}

func cacheKey(referenceID string) string {
	return fmt.Sprintf("ledger:entry:%s", referenceID)
}

func (s *CachingStore) Insert(ctx context.Context, entry *Entry) error {
	if err := s.EntryStore.Insert(ctx, entry); err != nil {
		return err
	}
	s.store(ctx, entry)
	return nil
}

func (s *CachingStore) Get(ctx context.Context, referenceID string) (*Entry, error) {
	data, ok, err := s.cache.Get(ctx, cacheKey(referenceID))
	if err != nil {
		s.logger.Warn("Ledger cache read failed", zap.String("reference_id", referenceID), zap.Error(err))
	}
	if ok {
		var entry Entry
		if err := json.Unmarshal(data, &entry); err == nil {
			return &entry, nil
		}
	}

	entry, err := s.EntryStore.Get(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, entry)
	return entry, nil
}

// store is best effort; a cache failure never fails the ledger call.
func (s *CachingStore) store(ctx context.Context, entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(entry.ReferenceID), data, s.ttl); err != nil {
		s.logger.Warn("Ledger cache write failed", zap.String("reference_id", entry.ReferenceID), zap.Error(err))
	}
}
