package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Snapshot records are the stable wire shape of the persisted blobs, kept
// separate from the domain structs so renames never corrupt stored state.

type endpointAuthRecord struct {
	Kind     string            `json:"kind"`
	Token    string            `json:"token,omitempty"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

type retryPolicyRecord struct {
	MaxRetries        int     `json:"maxRetries"`
	RetryDelayMS      int64   `json:"retryDelayMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

type endpointRecord struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	URL       string             `json:"url"`
	Enabled   bool               `json:"isEnabled"`
	Events    []string           `json:"events"`
	Auth      endpointAuthRecord `json:"auth"`
	Retry     retryPolicyRecord  `json:"retryPolicy"`
	TimeoutMS int64              `json:"timeoutMs"`
	Secret    string             `json:"secret,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type deliveryRequestRecord struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
}

type deliveryResponseRecord struct {
	StatusCode int    `json:"status"`
	Body       string `json:"body,omitempty"`
}

type deliveryLogRecord struct {
	ID         string                  `json:"id"`
	WebhookID  string                  `json:"webhookId"`
	Event      string                  `json:"event"`
	Request    deliveryRequestRecord   `json:"request"`
	Response   *deliveryResponseRecord `json:"response,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Success    bool                    `json:"success"`
	DurationMS int64                   `json:"durationMs"`
	RetryCount int                     `json:"retryCount"`
	Timestamp  time.Time               `json:"timestamp"`
}

type webhookSnapshot struct {
	Endpoints map[string]endpointRecord    `json:"endpoints"`
	Logs      map[string]deliveryLogRecord `json:"logs"`
}

type approverRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type ruleConditionRecord struct {
	Type     string `json:"type"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value"`
}

type approvalRuleRecord struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	EnvironmentID        string                `json:"environmentId"`
	EnvironmentType      string                `json:"environmentType"`
	Enabled              bool                  `json:"isEnabled"`
	ApprovalType         string                `json:"approvalType"`
	RequiredApprovers    int                   `json:"requiredApprovers"`
	Approvers            []approverRecord      `json:"approvers,omitempty"`
	Conditions           []ruleConditionRecord `json:"conditions,omitempty"`
	TimeoutHours         int                   `json:"timeoutHours"`
	AutoApproveOnTimeout bool                  `json:"autoApproveOnTimeout"`
	CreatedAt            time.Time             `json:"createdAt"`
	UpdatedAt            time.Time             `json:"updatedAt"`
}

type approvalActionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	UserEmail string    `json:"userEmail,omitempty"`
	Action    string    `json:"action"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type approvalRequestRecord struct {
	ID                string                 `json:"id"`
	EnvironmentID     string                 `json:"environmentId"`
	EnvironmentType   string                 `json:"environmentType"`
	Status            string                 `json:"status"`
	RequiredApprovals int                    `json:"requiredApprovals"`
	Actions           []approvalActionRecord `json:"actions,omitempty"`
	RuleIDs           []string               `json:"ruleIds,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
	ExpiresAt         time.Time              `json:"expiresAt"`
}

type approvalNotificationRecord struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId"`
	UserID    string    `json:"userId"`
	Read      bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

type approvalSnapshot struct {
	Rules         map[string]approvalRuleRecord         `json:"rules"`
	Requests      map[string]approvalRequestRecord      `json:"requests"`
	Notifications map[string]approvalNotificationRecord `json:"notifications"`
}

func endpointToRecord(endpoint WebhookEndpoint) endpointRecord {
	return endpointRecord{
		ID:      endpoint.ID,
		Name:    endpoint.Name,
		URL:     endpoint.URL,
		Enabled: endpoint.Enabled,
		Events:  append([]string(nil), endpoint.Events...),
		Auth: endpointAuthRecord{
			Kind:     string(endpoint.Auth.Kind),
			Token:    endpoint.Auth.Token,
			Username: endpoint.Auth.Username,
			Password: endpoint.Auth.Password,
			Headers:  endpoint.Auth.Clone().Headers,
		},
		Retry: retryPolicyRecord{
			MaxRetries:        endpoint.Retry.MaxRetries,
			RetryDelayMS:      endpoint.Retry.RetryDelay.Milliseconds(),
			BackoffMultiplier: endpoint.Retry.BackoffMultiplier,
		},
		TimeoutMS: endpoint.Timeout.Milliseconds(),
		Secret:    endpoint.Secret,
		CreatedAt: endpoint.CreatedAt,
		UpdatedAt: endpoint.UpdatedAt,
	}
}

func endpointFromRecord(record endpointRecord) WebhookEndpoint {
	return WebhookEndpoint{
		ID:      record.ID,
		Name:    record.Name,
		URL:     record.URL,
		Enabled: record.Enabled,
		Events:  append([]string(nil), record.Events...),
		Auth: EndpointAuth{
			Kind:     AuthKind(record.Auth.Kind),
			Token:    record.Auth.Token,
			Username: record.Auth.Username,
			Password: record.Auth.Password,
			Headers:  record.Auth.Headers,
		},
		Retry: RetryPolicy{
			MaxRetries:        record.Retry.MaxRetries,
			RetryDelay:        time.Duration(record.Retry.RetryDelayMS) * time.Millisecond,
			BackoffMultiplier: record.Retry.BackoffMultiplier,
		},
		Timeout:   time.Duration(record.TimeoutMS) * time.Millisecond,
		Secret:    record.Secret,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func deliveryLogToRecord(log DeliveryLog) deliveryLogRecord {
	record := deliveryLogRecord{
		ID:        log.ID,
		WebhookID: log.WebhookID,
		Event:     log.Event,
		Request: deliveryRequestRecord{
			URL:     log.Request.URL,
			Headers: log.Clone().Request.Headers,
			Payload: append([]byte(nil), log.Request.Payload...),
		},
		Error:      log.Error,
		Success:    log.Success,
		DurationMS: log.Duration.Milliseconds(),
		RetryCount: log.RetryCount,
		Timestamp:  log.Timestamp,
	}
	if log.Response != nil {
		record.Response = &deliveryResponseRecord{
			StatusCode: log.Response.StatusCode,
			Body:       log.Response.Body,
		}
	}
	return record
}

func deliveryLogFromRecord(record deliveryLogRecord) DeliveryLog {
	log := DeliveryLog{
		ID:        record.ID,
		WebhookID: record.WebhookID,
		Event:     record.Event,
		Request: DeliveryRequest{
			URL:     record.Request.URL,
			Headers: record.Request.Headers,
			Payload: append([]byte(nil), record.Request.Payload...),
		},
		Error:      record.Error,
		Success:    record.Success,
		Duration:   time.Duration(record.DurationMS) * time.Millisecond,
		RetryCount: record.RetryCount,
		Timestamp:  record.Timestamp,
	}
	if record.Response != nil {
		log.Response = &DeliveryResponse{
			StatusCode: record.Response.StatusCode,
			Body:       record.Response.Body,
		}
	}
	return log
}

func ruleToRecord(rule ApprovalRule) approvalRuleRecord {
	record := approvalRuleRecord{
		ID:                   rule.ID,
		Name:                 rule.Name,
		EnvironmentID:        rule.EnvironmentID,
		EnvironmentType:      rule.EnvironmentType,
		Enabled:              rule.Enabled,
		ApprovalType:         string(rule.ApprovalType),
		RequiredApprovers:    rule.RequiredApprovers,
		TimeoutHours:         rule.TimeoutHours,
		AutoApproveOnTimeout: rule.AutoApproveOnTimeout,
		CreatedAt:            rule.CreatedAt,
		UpdatedAt:            rule.UpdatedAt,
	}
	for _, approver := range rule.Approvers {
		record.Approvers = append(record.Approvers, approverRecord(approver))
	}
	for _, condition := range rule.Conditions {
		record.Conditions = append(record.Conditions, ruleConditionRecord{
			Type:     string(condition.Type),
			Operator: string(condition.Operator),
			Value:    condition.Value,
		})
	}
	return record
}

func ruleFromRecord(record approvalRuleRecord) ApprovalRule {
	rule := ApprovalRule{
		ID:                   record.ID,
		Name:                 record.Name,
		EnvironmentID:        record.EnvironmentID,
		EnvironmentType:      record.EnvironmentType,
		Enabled:              record.Enabled,
		ApprovalType:         ApprovalType(record.ApprovalType),
		RequiredApprovers:    record.RequiredApprovers,
		TimeoutHours:         record.TimeoutHours,
		AutoApproveOnTimeout: record.AutoApproveOnTimeout,
		CreatedAt:            record.CreatedAt,
		UpdatedAt:            record.UpdatedAt,
	}
	for _, approver := range record.Approvers {
		rule.Approvers = append(rule.Approvers, Approver(approver))
	}
	for _, condition := range record.Conditions {
		rule.Conditions = append(rule.Conditions, RuleCondition{
			Type:     ConditionType(condition.Type),
			Operator: ConditionOperator(condition.Operator),
			Value:    condition.Value,
		})
	}
	return rule
}

func requestToRecord(request ApprovalRequest) approvalRequestRecord {
	record := approvalRequestRecord{
		ID:                request.ID,
		EnvironmentID:     request.EnvironmentID,
		EnvironmentType:   request.EnvironmentType,
		Status:            string(request.Status),
		RequiredApprovals: request.RequiredApprovals,
		RuleIDs:           append([]string(nil), request.RuleIDs...),
		CreatedAt:         request.CreatedAt,
		UpdatedAt:         request.UpdatedAt,
		ExpiresAt:         request.ExpiresAt,
	}
	for _, action := range request.Actions {
		record.Actions = append(record.Actions, approvalActionRecord{
			ID:        action.ID,
			UserID:    action.UserID,
			UserName:  action.UserName,
			UserEmail: action.UserEmail,
			Action:    string(action.Action),
			Comment:   action.Comment,
			Timestamp: action.Timestamp,
		})
	}
	return record
}

func requestFromRecord(record approvalRequestRecord) ApprovalRequest {
	request := ApprovalRequest{
		ID:                record.ID,
		EnvironmentID:     record.EnvironmentID,
		EnvironmentType:   record.EnvironmentType,
		Status:            ApprovalStatus(record.Status),
		RequiredApprovals: record.RequiredApprovals,
		RuleIDs:           append([]string(nil), record.RuleIDs...),
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
		ExpiresAt:         record.ExpiresAt,
	}
	for _, action := range record.Actions {
		request.Actions = append(request.Actions, ApprovalAction{
			ID:        action.ID,
			UserID:    action.UserID,
			UserName:  action.UserName,
			UserEmail: action.UserEmail,
			Action:    ActionKind(action.Action),
			Comment:   action.Comment,
			Timestamp: action.Timestamp,
		})
	}
	return request
}

func notificationToRecord(notification ApprovalNotification) approvalNotificationRecord {
	return approvalNotificationRecord{
		ID:        notification.ID,
		Type:      notification.Type,
		Title:     notification.Title,
		Message:   notification.Message,
		RequestID: notification.RequestID,
		UserID:    notification.UserID,
		Read:      notification.Read,
		CreatedAt: notification.CreatedAt,
	}
}

func notificationFromRecord(record approvalNotificationRecord) ApprovalNotification {
	return ApprovalNotification{
		ID:        record.ID,
		Type:      record.Type,
		Title:     record.Title,
		Message:   record.Message,
		RequestID: record.RequestID,
		UserID:    record.UserID,
		Read:      record.Read,
		CreatedAt: record.CreatedAt,
	}
}

// persistWebhookState writes the webhook snapshot. Save failures are logged
// with the triggering operation and never propagated.
func (s *Service) persistWebhookState(ctx context.Context, operation string) {
	if s == nil || s.snapshotStore == nil {
		return
	}
	endpoints, logs := s.webhooks.exportState()
	snapshot := webhookSnapshot{
		Endpoints: make(map[string]endpointRecord, len(endpoints)),
		Logs:      make(map[string]deliveryLogRecord, len(logs)),
	}
	for id, endpoint := range endpoints {
		snapshot.Endpoints[id] = endpointToRecord(endpoint)
	}
	for id, log := range logs {
		snapshot.Logs[id] = deliveryLogToRecord(log)
	}
	blob, err := json.Marshal(snapshot)
	if err != nil {
		s.logError(ctx, "webhook snapshot encode failed", map[string]any{
			"operation": operation,
			"error":     err.Error(),
		})
		return
	}
	if err := s.snapshotStore.Save(ctx, SnapshotKeyWebhooks, blob); err != nil {
		s.logError(ctx, "webhook snapshot save failed", map[string]any{
			"operation": operation,
			"error":     err.Error(),
		})
	}
}

func (s *Service) persistApprovalState(ctx context.Context, operation string) {
	if s == nil || s.snapshotStore == nil {
		return
	}
	rules, requests, notifications := s.approvals.exportState()
	snapshot := approvalSnapshot{
		Rules:         make(map[string]approvalRuleRecord, len(rules)),
		Requests:      make(map[string]approvalRequestRecord, len(requests)),
		Notifications: make(map[string]approvalNotificationRecord, len(notifications)),
	}
	for id, rule := range rules {
		snapshot.Rules[id] = ruleToRecord(rule)
	}
	for id, request := range requests {
		snapshot.Requests[id] = requestToRecord(request)
	}
	for id, notification := range notifications {
		snapshot.Notifications[id] = notificationToRecord(notification)
	}
	blob, err := json.Marshal(snapshot)
	if err != nil {
		s.logError(ctx, "approval snapshot encode failed", map[string]any{
			"operation": operation,
			"error":     err.Error(),
		})
		return
	}
	if err := s.snapshotStore.Save(ctx, SnapshotKeyApprovals, blob); err != nil {
		s.logError(ctx, "approval snapshot save failed", map[string]any{
			"operation": operation,
			"error":     err.Error(),
		})
	}
}

// hydrate loads both domain snapshots on construction. A missing blob is an
// empty registry; a corrupt blob is an error.
func (s *Service) hydrate(ctx context.Context) error {
	if s == nil || s.snapshotStore == nil {
		return nil
	}

	blob, err := s.snapshotStore.Load(ctx, SnapshotKeyWebhooks)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
	case err != nil:
		return fmt.Errorf("core: load webhook snapshot: %w", err)
	default:
		var snapshot webhookSnapshot
		if err := json.Unmarshal(blob, &snapshot); err != nil {
			return fmt.Errorf("core: decode webhook snapshot: %w", err)
		}
		endpoints := make(map[string]WebhookEndpoint, len(snapshot.Endpoints))
		for id, record := range snapshot.Endpoints {
			endpoints[id] = endpointFromRecord(record)
		}
		logs := make(map[string]DeliveryLog, len(snapshot.Logs))
		for id, record := range snapshot.Logs {
			logs[id] = deliveryLogFromRecord(record)
		}
		s.webhooks.replaceState(endpoints, logs)
	}

	blob, err = s.snapshotStore.Load(ctx, SnapshotKeyApprovals)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("core: load approval snapshot: %w", err)
	}
	var snapshot approvalSnapshot
	if err := json.Unmarshal(blob, &snapshot); err != nil {
		return fmt.Errorf("core: decode approval snapshot: %w", err)
	}
	rules := make(map[string]ApprovalRule, len(snapshot.Rules))
	for id, record := range snapshot.Rules {
		rules[id] = ruleFromRecord(record)
	}
	requests := make(map[string]ApprovalRequest, len(snapshot.Requests))
	for id, record := range snapshot.Requests {
		requests[id] = requestFromRecord(record)
	}
	notifications := make(map[string]ApprovalNotification, len(snapshot.Notifications))
	for id, record := range snapshot.Notifications {
		notifications[id] = notificationFromRecord(record)
	}
	s.approvals.replaceState(rules, requests, notifications)
	return nil
}

// MemorySnapshotStore is the in-process SnapshotStore used by default and in
// tests.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{blobs: make(map[string][]byte)}
}

func (s *MemorySnapshotStore) Load(_ context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("core: snapshot store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: snapshot key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[key]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (s *MemorySnapshotStore) Save(_ context.Context, key string, blob []byte) error {
	if s == nil {
		return fmt.Errorf("core: snapshot store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: snapshot key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), blob...)
	return nil
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)
