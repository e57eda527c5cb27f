package gatekeeper

import (
	"time"

	"github.com/goliatone/go-gatekeeper/adapters/gojob"
	"github.com/goliatone/go-gatekeeper/auth"
	"github.com/goliatone/go-gatekeeper/core"
	"github.com/goliatone/go-gatekeeper/ratelimit"
	"github.com/goliatone/go-gatekeeper/security"
	sqlstore "github.com/goliatone/go-gatekeeper/store/sql"
	"github.com/goliatone/go-gatekeeper/transport"
	"github.com/goliatone/go-job/queue"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// Factories for the pluggable pieces a downstream app hands to NewService.
// Each returns the port the option layer accepts, so embedders wire
// components without importing the implementation packages.

func RESTTransport(client transport.HTTPDoer) core.TransportAdapter {
	return transport.NewRESTSender(client)
}

func DropTransport() core.TransportAdapter {
	return transport.NewDropSender()
}

// Transports returns the kind-keyed sender registry with rest and drop
// built in. Embedders register extra kinds here before resolving the
// sender an endpoint calls for.
func Transports(client transport.HTTPDoer) *transport.Registry {
	return transport.NewDefaultRegistry(client)
}

func HeaderAuthorizer() core.DeliveryAuthorizer {
	return auth.NewHeaderAuthorizer()
}

func StaticSecrets(defaultSecret string, opts ...security.Option) core.SigningSecretProvider {
	return security.NewStaticSecretProvider(defaultSecret, opts...)
}

// ManagedSecrets keeps signing secrets encrypted at rest behind a cipher:
// security.AppKeyCipher for a local key, or the KMS and Vault ciphers when
// the key lives in an external service.
func ManagedSecrets(cipher security.SecretCipher, opts ...security.ManagedOption) (core.SigningSecretProvider, error) {
	return security.NewManagedSecretProvider(cipher, opts...)
}

func HMACSigner() core.PayloadSigner {
	return core.NewSignatureCodec()
}

func ExprConditions() core.ConditionEvaluator {
	return core.NewMetadataConditionEvaluator()
}

// AdaptiveRateLimits tracks per-endpoint pressure and honors Retry-After
// hints. A nil store gets an in-process one.
func AdaptiveRateLimits(store ratelimit.StateStore) core.RateLimitPolicy {
	if store == nil {
		store = ratelimit.NewMemoryStateStore()
	}
	return ratelimit.NewAdaptivePolicy(store)
}

func MemoryInflightLedger(ttl time.Duration) core.InflightLedger {
	return core.NewMemoryInflightLedger(ttl)
}

func QueueBridge(enqueuer queue.Enqueuer) core.DeliveryQueue {
	return gojob.NewQueueAdapter(enqueuer)
}

func MemorySnapshots() core.SnapshotStore {
	return core.NewMemorySnapshotStore()
}

func SQLSnapshots(db *bun.DB) (core.SnapshotStore, error) {
	return sqlstore.NewSnapshotStore(db)
}

// CachedSQLSnapshots fronts the SQL snapshot store with a read-through
// cache; saves write through and invalidate the cached blob.
func CachedSQLSnapshots(db *bun.DB, cacheService repositorycache.CacheService) (core.SnapshotStore, error) {
	base, err := sqlstore.NewSnapshotStore(db)
	if err != nil {
		return nil, err
	}
	return sqlstore.NewCachedSnapshotStore(base, cacheService)
}

func SQLDeliveryArchive(db *bun.DB) (core.DeliveryLogArchive, error) {
	return sqlstore.NewDeliveryArchive(db)
}
