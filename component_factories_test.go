package gatekeeper

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-gatekeeper/adapters/gojob"
	"github.com/goliatone/go-gatekeeper/core"
	"github.com/goliatone/go-gatekeeper/security"
	"github.com/goliatone/go-gatekeeper/transport"
	job "github.com/goliatone/go-job"
)

func TestTransportFactoryKinds(t *testing.T) {
	cases := []struct {
		name string
		kind string
		fn   func() core.TransportAdapter
	}{
		{
			name: "rest",
			kind: transport.KindREST,
			fn: func() core.TransportAdapter {
				return RESTTransport(http.DefaultClient)
			},
		},
		{
			name: "drop",
			kind: transport.KindDrop,
			fn: func() core.TransportAdapter {
				return DropTransport()
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter := tc.fn()
			if adapter == nil {
				t.Fatal("expected transport adapter")
			}
			if adapter.Kind() != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, adapter.Kind())
			}
		})
	}
}

func TestHMACSignerRoundTrip(t *testing.T) {
	signer := HMACSigner()
	payload := []byte(`{"event":"deployment.created"}`)

	signature := signer.Sign(payload, "signing-secret")
	if signature == "" {
		t.Fatal("expected a signature for a configured secret")
	}
	if !signer.Verify(payload, signature, "signing-secret") {
		t.Fatal("expected signature to verify with the signing secret")
	}
	if signer.Verify(payload, signature, "other-secret") {
		t.Fatal("expected verification to fail with the wrong secret")
	}
}

func TestStaticSecretsEndpointOverride(t *testing.T) {
	secrets := StaticSecrets("default-secret",
		security.WithEndpointSecret("wh_1", "endpoint-secret"),
	)

	got, err := secrets.SecretFor(context.Background(), "wh_1")
	if err != nil {
		t.Fatalf("secret for wh_1: %v", err)
	}
	if got != "endpoint-secret" {
		t.Fatalf("expected endpoint override, got %q", got)
	}

	got, err = secrets.SecretFor(context.Background(), "wh_2")
	if err != nil {
		t.Fatalf("secret for wh_2: %v", err)
	}
	if got != "default-secret" {
		t.Fatalf("expected default secret, got %q", got)
	}
}

func TestTransportsRegistryResolvesBuiltIns(t *testing.T) {
	registry := Transports(http.DefaultClient)

	sender, err := registry.Build(transport.KindREST, nil)
	if err != nil {
		t.Fatalf("build rest sender: %v", err)
	}
	if sender.Kind() != transport.KindREST {
		t.Fatalf("expected rest sender, got %q", sender.Kind())
	}
	if _, ok := registry.Get(transport.KindDrop); !ok {
		t.Fatalf("expected drop sender to be registered")
	}
	if _, err := registry.Build("smtp", nil); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestManagedSecretsUnsealsOnLookup(t *testing.T) {
	ctx := context.Background()
	appKey, err := security.NewAppKeyCipherFromString("factory-test-key")
	if err != nil {
		t.Fatalf("new app key cipher: %v", err)
	}
	provider, err := ManagedSecrets(appKey)
	if err != nil {
		t.Fatalf("managed secrets: %v", err)
	}

	managed, ok := provider.(*security.ManagedSecretProvider)
	if !ok {
		t.Fatalf("expected managed provider, got %T", provider)
	}
	if _, err := managed.SealEndpointSecret(ctx, "wh_1", "whsec_sealed"); err != nil {
		t.Fatalf("seal endpoint secret: %v", err)
	}

	got, err := provider.SecretFor(ctx, "wh_1")
	if err != nil {
		t.Fatalf("secret for wh_1: %v", err)
	}
	if got != "whsec_sealed" {
		t.Fatalf("expected sealed secret to unseal, got %q", got)
	}
}

func TestAdaptiveRateLimitsDefaultsStore(t *testing.T) {
	policy := AdaptiveRateLimits(nil)
	if policy == nil {
		t.Fatal("expected a rate limit policy")
	}

	key := core.RateLimitKey{EndpointID: "wh_1", BucketKey: "hooks.internal"}
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("before call on fresh bucket: %v", err)
	}
}

func TestQueueBridgeEncodesDeliveryTasks(t *testing.T) {
	enq := &factoryEnqueuer{}
	bridge := QueueBridge(enq)

	task := core.DeliveryTask{
		EndpointID: "wh_1",
		Event:      "deployment.created",
		Data:       map[string]any{"deploymentId": "dep_1"},
		Attempt:    2,
	}
	if err := bridge.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enq.last == nil {
		t.Fatal("expected an execution message")
	}
	if enq.last.JobID != gojob.JobIDWebhookDelivery {
		t.Fatalf("expected job id %q, got %q", gojob.JobIDWebhookDelivery, enq.last.JobID)
	}
	if enq.last.Parameters["endpoint_id"] != "wh_1" {
		t.Fatalf("expected endpoint id parameter, got %v", enq.last.Parameters["endpoint_id"])
	}
}

func TestMemorySnapshotsRoundTrip(t *testing.T) {
	store := MemorySnapshots()

	if err := store.Save(context.Background(), "webhooks", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	blob, err := store.Load(context.Background(), "webhooks")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(blob) != `{"version":1}` {
		t.Fatalf("unexpected blob %q", blob)
	}
}

func TestMemoryInflightLedgerDeduplicates(t *testing.T) {
	ledger := MemoryInflightLedger(time.Minute)

	first, err := ledger.Claim(context.Background(), "delivery:wh_1:deployment.created", 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !first {
		t.Fatal("expected first claim to win")
	}
	second, err := ledger.Claim(context.Background(), "delivery:wh_1:deployment.created", 0)
	if err != nil {
		t.Fatalf("claim duplicate: %v", err)
	}
	if second {
		t.Fatal("expected duplicate claim to lose")
	}
}

type factoryEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *factoryEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}
