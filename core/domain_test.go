package core

import (
	"errors"
	"testing"
	"time"
)

func TestApprovalRequestTransitionTo_ValidAndInvalid(t *testing.T) {
	now := time.Now().UTC()
	request := &ApprovalRequest{ID: "req_1", Status: ApprovalStatusPending}

	if err := request.TransitionTo(ApprovalStatusApproved, now); err != nil {
		t.Fatalf("expected valid transition, got error: %v", err)
	}
	if request.Status != ApprovalStatusApproved {
		t.Fatalf("expected approved, got %q", request.Status)
	}
	if !request.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at to track the transition time")
	}

	err := request.TransitionTo(ApprovalStatusRejected, now.Add(time.Minute))
	if !errors.Is(err, ErrInvalidApprovalStatusTransition) {
		t.Fatalf("expected invalid transition error, got: %v", err)
	}
	if request.Status != ApprovalStatusApproved {
		t.Fatalf("expected failed transition to leave status untouched, got %q", request.Status)
	}

	later := now.Add(2 * time.Minute)
	if err := request.TransitionTo(ApprovalStatusApproved, later); err != nil {
		t.Fatalf("expected same-status transition to refresh, got error: %v", err)
	}
	if !request.UpdatedAt.Equal(later) {
		t.Fatalf("expected same-status transition to refresh updated_at")
	}
}

func TestApprovalStatusTerminal(t *testing.T) {
	for _, status := range []ApprovalStatus{ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusExpired} {
		if !status.Terminal() {
			t.Fatalf("expected %q to be terminal", status)
		}
	}
	if ApprovalStatusPending.Terminal() {
		t.Fatalf("expected pending to be non-terminal")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, RetryDelay: 100 * time.Millisecond, BackoffMultiplier: 2}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: -1, want: 100 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := policy.NextDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}

	flat := RetryPolicy{RetryDelay: 50 * time.Millisecond}
	if got := flat.NextDelay(4); got != 50*time.Millisecond {
		t.Fatalf("expected missing multiplier to keep the delay flat, got %v", got)
	}

	if got := (RetryPolicy{BackoffMultiplier: 2}).NextDelay(1); got != 0 {
		t.Fatalf("expected zero retry delay to wait 0, got %v", got)
	}

	uncapped := RetryPolicy{RetryDelay: time.Second, BackoffMultiplier: 2}
	if got := uncapped.NextDelay(20); got != (1<<20)*time.Second {
		t.Fatalf("expected backoff to grow without ceiling, got %v", got)
	}
}

func TestEndpointAuthValidate(t *testing.T) {
	if err := (EndpointAuth{}).Validate(); err != nil {
		t.Fatalf("expected empty kind to validate as none, got: %v", err)
	}
	for _, kind := range []AuthKind{AuthKindNone, AuthKindBearer, AuthKindBasic, AuthKindCustom} {
		if err := (EndpointAuth{Kind: kind}).Validate(); err != nil {
			t.Fatalf("expected %q to validate, got: %v", kind, err)
		}
	}
	err := (EndpointAuth{Kind: "digest"}).Validate()
	if !errors.Is(err, ErrInvalidAuthKind) {
		t.Fatalf("expected invalid auth kind error, got: %v", err)
	}
}

func TestEndpointPatchApply(t *testing.T) {
	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	endpoint := WebhookEndpoint{
		ID:      "wh_1",
		Name:    "deploy hooks",
		URL:     "https://hooks.test/a",
		Enabled: true,
		Events:  []string{"deployment.created"},
		Retry: RetryPolicy{
			MaxRetries:        3,
			RetryDelay:        time.Second,
			BackoffMultiplier: 2,
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}

	now := createdAt.Add(time.Hour)
	url := "  https://hooks.test/b  "
	enabled := false
	patch := EndpointPatch{
		URL:     &url,
		Enabled: &enabled,
		Events:  []string{"deployment.created", "deployment.created", "approval.approved"},
	}
	updated := patch.Apply(endpoint, now)

	if updated.URL != "https://hooks.test/b" {
		t.Fatalf("expected trimmed url replacement, got %q", updated.URL)
	}
	if updated.Enabled {
		t.Fatalf("expected enabled=false after patch")
	}
	if len(updated.Events) != 2 || updated.Events[0] != "deployment.created" || updated.Events[1] != "approval.approved" {
		t.Fatalf("expected events replaced whole and deduped, got %#v", updated.Events)
	}
	if updated.Name != "deploy hooks" {
		t.Fatalf("expected untouched fields to survive, got name %q", updated.Name)
	}
	if updated.Retry.MaxRetries != 3 {
		t.Fatalf("expected retry policy untouched, got %#v", updated.Retry)
	}
	if !updated.CreatedAt.Equal(createdAt) {
		t.Fatalf("expected created_at preserved")
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at refreshed to patch time")
	}

	touched := EndpointPatch{}.Apply(endpoint, now.Add(time.Minute))
	if touched.URL != endpoint.URL || touched.Enabled != endpoint.Enabled {
		t.Fatalf("expected empty patch to change nothing but updated_at")
	}
	if !touched.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected empty patch to still refresh updated_at")
	}
}

func TestApprovalRuleValidate(t *testing.T) {
	rule := ApprovalRule{ID: "rule_1", ApprovalType: ApprovalTypeManual, RequiredApprovers: 1}
	if err := rule.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	rule.ApprovalType = "magic"
	if err := rule.Validate(); !errors.Is(err, ErrInvalidApprovalType) {
		t.Fatalf("expected invalid approval type error, got: %v", err)
	}

	rule.ApprovalType = ApprovalTypeManual
	rule.RequiredApprovers = 0
	if err := rule.Validate(); err == nil {
		t.Fatalf("expected required approvers below 1 to fail validation")
	}

	rule.RequiredApprovers = 1
	rule.Conditions = []RuleCondition{{Type: ConditionTypeBranch, Operator: "matches", Value: "main"}}
	if err := rule.Validate(); !errors.Is(err, ErrInvalidConditionOperator) {
		t.Fatalf("expected invalid condition operator error, got: %v", err)
	}

	rule.Conditions = []RuleCondition{{Type: ConditionTypeExpression, Value: `branch == "main"`}}
	if err := rule.Validate(); err != nil {
		t.Fatalf("expected expression condition to skip the operator check, got: %v", err)
	}
}

func TestApprovalRuleAppliesTo(t *testing.T) {
	rule := ApprovalRule{Enabled: true, EnvironmentType: "production"}

	if !rule.AppliesTo("Production", "env_1") {
		t.Fatalf("expected environment type match to be case-insensitive")
	}
	if rule.AppliesTo("staging", "env_1") {
		t.Fatalf("expected mismatched environment type to not apply")
	}

	rule.EnvironmentID = "env_1"
	if !rule.AppliesTo("production", "env_1") {
		t.Fatalf("expected scoped rule to apply to its environment")
	}
	if rule.AppliesTo("production", "env_2") {
		t.Fatalf("expected scoped rule to skip other environments")
	}

	rule.Enabled = false
	if rule.AppliesTo("production", "env_1") {
		t.Fatalf("expected disabled rule to never apply")
	}
}

func TestActionKindValidate(t *testing.T) {
	if err := ActionKindApprove.Validate(); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ActionKindReject.Validate(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := ActionKind("defer").Validate(); !errors.Is(err, ErrInvalidActionKind) {
		t.Fatalf("expected invalid action kind error, got: %v", err)
	}
}

func TestApprovalRequestCounts(t *testing.T) {
	request := ApprovalRequest{
		Actions: []ApprovalAction{
			{UserID: "u1", Action: ActionKindApprove},
			{UserID: "u2", Action: ActionKindReject},
			{UserID: "u3", Action: ActionKindApprove},
		},
	}
	if got := request.ApprovedCount(); got != 2 {
		t.Fatalf("expected 2 approvals, got %d", got)
	}
	if got := request.RejectedCount(); got != 1 {
		t.Fatalf("expected 1 rejection, got %d", got)
	}
}

func TestApprovalRequestExpiredBy(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if (ApprovalRequest{}).ExpiredBy(now) {
		t.Fatalf("expected zero expires_at to never expire")
	}

	request := ApprovalRequest{ExpiresAt: now}
	if request.ExpiredBy(now) {
		t.Fatalf("expected the deadline instant to not count as expired")
	}
	if !request.ExpiredBy(now.Add(time.Second)) {
		t.Fatalf("expected time past the deadline to count as expired")
	}
}

func TestNormalizeEventTypes(t *testing.T) {
	got := normalizeEventTypes([]string{" deployment.created ", "", "deployment.created", "approval.approved"})
	if len(got) != 2 || got[0] != "deployment.created" || got[1] != "approval.approved" {
		t.Fatalf("expected trimmed deduped events preserving order, got %#v", got)
	}
	if normalizeEventTypes(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestWebhookEndpointSubscribedTo(t *testing.T) {
	endpoint := WebhookEndpoint{Events: []string{"deployment.created", "approval.approved"}}
	if !endpoint.SubscribedTo("deployment.created") {
		t.Fatalf("expected subscription match")
	}
	if !endpoint.SubscribedTo(" approval.approved ") {
		t.Fatalf("expected trimmed event to match")
	}
	if endpoint.SubscribedTo("deployment.deleted") {
		t.Fatalf("expected unsubscribed event to not match")
	}
}

func TestDeliveryLogClone(t *testing.T) {
	log := DeliveryLog{
		ID:        "log_1",
		WebhookID: "wh_1",
		Request: DeliveryRequest{
			URL:     "https://hooks.test/a",
			Headers: map[string]string{"Content-Type": "application/json"},
			Payload: []byte(`{"event":"x"}`),
		},
		Response: &DeliveryResponse{StatusCode: 200, Body: "ok"},
	}

	cloned := log.Clone()
	cloned.Request.Headers["Content-Type"] = "text/plain"
	cloned.Request.Payload[0] = 'X'
	cloned.Response.StatusCode = 500

	if log.Request.Headers["Content-Type"] != "application/json" {
		t.Fatalf("expected clone header mutation to not leak back")
	}
	if log.Request.Payload[0] != '{' {
		t.Fatalf("expected clone payload mutation to not leak back")
	}
	if log.Response.StatusCode != 200 {
		t.Fatalf("expected clone response mutation to not leak back")
	}
}
