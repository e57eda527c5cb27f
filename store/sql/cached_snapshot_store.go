package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const snapshotCacheKeyPrefix = "go-gatekeeper::snapshot::v1"

// CachedSnapshotStore fronts a snapshot store with a read-through cache.
// Saves write through to the base store and invalidate the cached blob.
type CachedSnapshotStore struct {
	base  core.SnapshotStore
	cache repositorycache.CacheService
}

func NewCachedSnapshotStore(
	base core.SnapshotStore,
	cacheService repositorycache.CacheService,
) (*CachedSnapshotStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base snapshot store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: snapshot cache service is required")
	}
	return &CachedSnapshotStore{base: base, cache: cacheService}, nil
}

// SnapshotCacheKey returns the deterministic cache key contract for
// snapshot reads: go-gatekeeper::snapshot::v1::<key> with the snapshot
// key URL-path escaped after trimming.
func SnapshotCacheKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("sqlstore: snapshot key is required")
	}
	return snapshotCacheKeyPrefix + "::" + url.PathEscape(key), nil
}

func (s *CachedSnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached snapshot store is not configured")
	}
	key = strings.TrimSpace(key)
	cacheKey, err := SnapshotCacheKey(key)
	if err != nil {
		return nil, err
	}

	blob, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]byte, error) {
		fetched, fetchErr := s.base.Load(ctx, key)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return append([]byte(nil), fetched...), nil
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), blob...), nil
}

func (s *CachedSnapshotStore) Save(ctx context.Context, key string, blob []byte) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached snapshot store is not configured")
	}
	key = strings.TrimSpace(key)
	cacheKey, err := SnapshotCacheKey(key)
	if err != nil {
		return err
	}

	if err := s.base.Save(ctx, key, blob); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return err
	}
	return nil
}
