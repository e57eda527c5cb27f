package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultInflightLedgerTTL = time.Minute
const defaultInflightLedgerMaxEntries = 8192

// InflightLedger guards against double-sending the same delivery id while a
// chain is still running. Best-effort and process-local: claims are lost on
// restart, so this is a dedup aid, not an exactly-once guarantee.
type InflightLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// DeliveryKey builds the in-flight dedup key for one delivery id.
func DeliveryKey(webhookID string, timestamp int64) string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(webhookID), timestamp)
}

type MemoryInflightLedger struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemoryInflightLedger(defaultTTL time.Duration) *MemoryInflightLedger {
	return NewMemoryInflightLedgerWithLimits(defaultTTL, defaultInflightLedgerMaxEntries)
}

func NewMemoryInflightLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryInflightLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultInflightLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultInflightLedgerMaxEntries
	}
	return &MemoryInflightLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryInflightLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: inflight ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: delivery key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneExpiredLocked(now)
	if expiresAt, ok := l.entries[key]; ok {
		if now.Before(expiresAt) {
			return false, nil
		}
		delete(l.entries, key)
	}
	l.enforceCapacityLocked(1)
	l.entries[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryInflightLedger) Release(_ context.Context, key string) error {
	if l == nil {
		return fmt.Errorf("core: inflight ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: delivery key is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

func (l *MemoryInflightLedger) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: inflight ledger is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	pruned := 0
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
			pruned++
		}
	}
	return pruned, nil
}

func (l *MemoryInflightLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryInflightLedger) pruneExpiredLocked(now time.Time) {
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
		}
	}
}

func (l *MemoryInflightLedger) enforceCapacityLocked(incoming int) {
	if l.maxEntries <= 0 {
		return
	}
	target := l.maxEntries - incoming
	if target < 0 {
		target = 0
	}
	for len(l.entries) > target {
		l.evictOldestLocked()
	}
}

func (l *MemoryInflightLedger) evictOldestLocked() {
	var oldestKey string
	var oldestExpiry time.Time
	for key, expiry := range l.entries {
		if oldestKey == "" || expiry.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = expiry
		}
	}
	if oldestKey != "" {
		delete(l.entries, oldestKey)
		return
	}
	for key := range l.entries {
		delete(l.entries, key)
		break
	}
}

var _ InflightLedger = (*MemoryInflightLedger)(nil)
