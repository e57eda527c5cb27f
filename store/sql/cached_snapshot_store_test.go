package sqlstore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubSnapshotStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	loadCalls int
	saveCalls int
	loadErr   error
	saveErr   error
}

func (s *stubSnapshotStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	blob, ok := s.blobs[key]
	if !ok {
		return nil, core.ErrSnapshotNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (s *stubSnapshotStore) Save(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.blobs == nil {
		s.blobs = map[string][]byte{}
	}
	s.blobs[key] = append([]byte(nil), blob...)
	return nil
}

func TestCachedSnapshotStore_Load_MissFetchThenHit(t *testing.T) {
	cacheService := newTestSnapshotCacheService(t)
	base := &stubSnapshotStore{
		blobs: map[string][]byte{
			core.SnapshotKeyWebhooks: []byte(`{"endpoints":[]}`),
		},
	}

	store, err := NewCachedSnapshotStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}

	blob, err := store.Load(context.Background(), core.SnapshotKeyWebhooks)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if !bytes.Equal(blob, []byte(`{"endpoints":[]}`)) {
		t.Fatalf("unexpected blob from first load: %s", blob)
	}
	if base.loadCalls != 1 {
		t.Fatalf("expected first load to fetch base store once, got %d", base.loadCalls)
	}

	if _, err := store.Load(context.Background(), core.SnapshotKeyWebhooks); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if base.loadCalls != 1 {
		t.Fatalf("expected second load to be cache hit, base load calls=%d", base.loadCalls)
	}
}

func TestCachedSnapshotStore_Save_InvalidatesCachedKey(t *testing.T) {
	cacheService := newTestSnapshotCacheService(t)
	base := &stubSnapshotStore{
		blobs: map[string][]byte{
			core.SnapshotKeyApprovals: []byte(`{"rules":[]}`),
		},
	}

	store, err := NewCachedSnapshotStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}

	if _, err := store.Load(context.Background(), core.SnapshotKeyApprovals); err != nil {
		t.Fatalf("prime cache with load: %v", err)
	}
	if base.loadCalls != 1 {
		t.Fatalf("expected one base read after cache prime, got %d", base.loadCalls)
	}

	next := []byte(`{"rules":[{"id":"r1"}]}`)
	if err := store.Save(context.Background(), core.SnapshotKeyApprovals, next); err != nil {
		t.Fatalf("save through cached store: %v", err)
	}
	if base.saveCalls != 1 {
		t.Fatalf("expected base save call count=1, got %d", base.saveCalls)
	}

	blob, err := store.Load(context.Background(), core.SnapshotKeyApprovals)
	if err != nil {
		t.Fatalf("load after save invalidation: %v", err)
	}
	if base.loadCalls != 2 {
		t.Fatalf("expected invalidated key to force second base read, got %d", base.loadCalls)
	}
	if !bytes.Equal(blob, next) {
		t.Fatalf("expected refreshed blob %s, got %s", next, blob)
	}
}

func TestCachedSnapshotStore_PropagatesNotFound(t *testing.T) {
	cacheService := newTestSnapshotCacheService(t)
	base := &stubSnapshotStore{}

	store, err := NewCachedSnapshotStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}

	_, err = store.Load(context.Background(), core.SnapshotKeyWebhooks)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("expected snapshot not-found propagation, got %v", err)
	}
}

func TestSnapshotCacheKey_Contract(t *testing.T) {
	key, err := SnapshotCacheKey(" gatekeeper:webhooks ")
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}
	const expected = "go-gatekeeper::snapshot::v1::gatekeeper:webhooks"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}

	escaped, err := SnapshotCacheKey("tenant a/staging")
	if err != nil {
		t.Fatalf("build escaped cache key: %v", err)
	}
	const expectedEscaped = "go-gatekeeper::snapshot::v1::tenant%20a%2Fstaging"
	if escaped != expectedEscaped {
		t.Fatalf("unexpected escaped cache key: got %q want %q", escaped, expectedEscaped)
	}

	if _, err := SnapshotCacheKey("   "); err == nil {
		t.Fatalf("expected blank snapshot key to be rejected")
	}
}

func newTestSnapshotCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
