package core

import (
	"fmt"
	"testing"
	"time"
)

func TestWebhookRegistry_UpsertGetRemove(t *testing.T) {
	registry := newWebhookRegistry(10)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	registry.UpsertEndpoint(WebhookEndpoint{ID: "wh_1", Name: "one", CreatedAt: now})
	endpoint, ok := registry.Endpoint("wh_1")
	if !ok {
		t.Fatalf("expected endpoint to be found")
	}
	if endpoint.Name != "one" {
		t.Fatalf("expected stored endpoint, got %#v", endpoint)
	}

	endpoint.Name = "mutated"
	stored, _ := registry.Endpoint("wh_1")
	if stored.Name != "one" {
		t.Fatalf("expected registry to hand out clones, got %q", stored.Name)
	}

	if !registry.RemoveEndpoint("wh_1") {
		t.Fatalf("expected removal of known id to report true")
	}
	if registry.RemoveEndpoint("wh_1") {
		t.Fatalf("expected removal of unknown id to report false")
	}
	if _, ok := registry.Endpoint("wh_1"); ok {
		t.Fatalf("expected endpoint to be gone")
	}
}

func TestWebhookRegistry_EndpointsSortedByCreation(t *testing.T) {
	registry := newWebhookRegistry(10)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	registry.UpsertEndpoint(WebhookEndpoint{ID: "wh_c", CreatedAt: base.Add(2 * time.Minute)})
	registry.UpsertEndpoint(WebhookEndpoint{ID: "wh_a", CreatedAt: base})
	registry.UpsertEndpoint(WebhookEndpoint{ID: "wh_b", CreatedAt: base.Add(time.Minute)})

	listed := registry.Endpoints()
	got := []string{listed[0].ID, listed[1].ID, listed[2].ID}
	want := []string{"wh_a", "wh_b", "wh_c"}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Fatalf("unexpected ordering at index %d: got %v want %v", idx, got, want)
		}
	}
}

func TestWebhookRegistry_EndpointsForEvent(t *testing.T) {
	registry := newWebhookRegistry(10)
	registry.UpsertEndpoint(WebhookEndpoint{ID: "wh_1", Enabled: true, Events: []string{"deployment.created"}})
	registry.UpsertEndpoint(WebhookEndpoint{ID: "wh_2", Enabled: false, Events: []string{"deployment.created"}})
	registry.UpsertEndpoint(WebhookEndpoint{ID: "wh_3", Enabled: true, Events: []string{"approval.approved"}})

	matching := registry.EndpointsForEvent("deployment.created")
	if len(matching) != 1 || matching[0].ID != "wh_1" {
		t.Fatalf("expected only enabled subscribed endpoints, got %#v", matching)
	}
	if got := registry.EndpointsForEvent("unknown.event"); len(got) != 0 {
		t.Fatalf("expected no matches for unknown event, got %#v", got)
	}
}

func TestWebhookRegistry_LogRetentionEvictsOldest(t *testing.T) {
	registry := newWebhookRegistry(3)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		registry.AppendLog(DeliveryLog{
			ID:        fmt.Sprintf("log_%d", i),
			WebhookID: "wh_1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	if got := registry.LogCount(); got != 3 {
		t.Fatalf("expected retention cap of 3, got %d", got)
	}
	for _, log := range registry.Logs("") {
		if log.ID == "log_0" {
			t.Fatalf("expected oldest-by-timestamp entry to be evicted first")
		}
	}
}

func TestWebhookRegistry_LogCountNeverExceedsDefaultRetention(t *testing.T) {
	registry := newWebhookRegistry(0)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 1005; i++ {
		registry.AppendLog(DeliveryLog{
			ID:        fmt.Sprintf("log_%d", i),
			WebhookID: "wh_1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if got := registry.LogCount(); got > 1000 {
			t.Fatalf("log count exceeded 1000 after %d appends: %d", i+1, got)
		}
	}

	if got := registry.LogCount(); got != 1000 {
		t.Fatalf("expected exactly 1000 retained logs, got %d", got)
	}
	newest := registry.Logs("")
	if newest[len(newest)-1].ID != "log_5" {
		t.Fatalf("expected the 5 oldest entries evicted, oldest retained is %q", newest[len(newest)-1].ID)
	}
}

func TestWebhookRegistry_LogsSurviveEndpointRemoval(t *testing.T) {
	registry := newWebhookRegistry(10)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	registry.UpsertEndpoint(WebhookEndpoint{ID: "wh_1", CreatedAt: now})
	registry.AppendLog(DeliveryLog{ID: "log_1", WebhookID: "wh_1", Timestamp: now})
	registry.RemoveEndpoint("wh_1")

	logs := registry.Logs("wh_1")
	if len(logs) != 1 || logs[0].ID != "log_1" {
		t.Fatalf("expected logs to survive endpoint deletion, got %#v", logs)
	}
}

func TestWebhookRegistry_LogsNewestFirst(t *testing.T) {
	registry := newWebhookRegistry(10)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	registry.AppendLog(DeliveryLog{ID: "log_old", WebhookID: "wh_1", Timestamp: base})
	registry.AppendLog(DeliveryLog{ID: "log_new", WebhookID: "wh_1", Timestamp: base.Add(time.Minute)})
	registry.AppendLog(DeliveryLog{ID: "log_other", WebhookID: "wh_2", Timestamp: base.Add(2 * time.Minute)})

	logs := registry.Logs("wh_1")
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs for wh_1, got %d", len(logs))
	}
	if logs[0].ID != "log_new" || logs[1].ID != "log_old" {
		t.Fatalf("expected newest first, got %q then %q", logs[0].ID, logs[1].ID)
	}

	all := registry.Logs("")
	if len(all) != 3 {
		t.Fatalf("expected empty id to return the whole window, got %d", len(all))
	}
}

func TestApprovalRegistry_RuleLifecycle(t *testing.T) {
	registry := newApprovalRegistry()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	registry.UpsertRule(ApprovalRule{ID: "rule_b", CreatedAt: base.Add(time.Minute)})
	registry.UpsertRule(ApprovalRule{ID: "rule_a", CreatedAt: base})

	rules := registry.Rules()
	if len(rules) != 2 || rules[0].ID != "rule_a" || rules[1].ID != "rule_b" {
		t.Fatalf("expected creation-ordered rules, got %#v", rules)
	}

	if _, ok := registry.Rule("rule_a"); !ok {
		t.Fatalf("expected rule_a to be found")
	}
	if !registry.RemoveRule("rule_a") {
		t.Fatalf("expected removal of known rule to report true")
	}
	if registry.RemoveRule("rule_a") {
		t.Fatalf("expected removal of unknown rule to report false")
	}
}

func TestApprovalRegistry_NotificationsAudienceFilter(t *testing.T) {
	registry := newApprovalRegistry()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	registry.AddNotification(ApprovalNotification{ID: "n_1", UserID: "u1", CreatedAt: base})
	registry.AddNotification(ApprovalNotification{ID: "n_2", UserID: "u2", CreatedAt: base.Add(time.Minute)})
	registry.AddNotification(ApprovalNotification{ID: "n_3", UserID: NotificationAudienceAll, CreatedAt: base.Add(2 * time.Minute)})

	mine := registry.Notifications("u1")
	if len(mine) != 2 {
		t.Fatalf("expected own plus broadcast notifications, got %d", len(mine))
	}
	if mine[0].ID != "n_3" || mine[1].ID != "n_1" {
		t.Fatalf("expected newest first, got %q then %q", mine[0].ID, mine[1].ID)
	}

	everything := registry.Notifications("")
	if len(everything) != 3 {
		t.Fatalf("expected empty user id to return everything, got %d", len(everything))
	}
}

func TestApprovalRegistry_MarkNotificationRead(t *testing.T) {
	registry := newApprovalRegistry()
	registry.AddNotification(ApprovalNotification{ID: "n_1", UserID: "u1"})

	if !registry.MarkNotificationRead("n_1") {
		t.Fatalf("expected known notification to be marked")
	}
	if registry.MarkNotificationRead("n_missing") {
		t.Fatalf("expected unknown notification to report false")
	}

	notifications := registry.Notifications("u1")
	if len(notifications) != 1 || !notifications[0].Read {
		t.Fatalf("expected notification to be read, got %#v", notifications)
	}
}
