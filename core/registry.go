package core

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// webhookRegistry is the mutex-guarded container for endpoint configuration
// and delivery logs. All service access is serialized through it so
// concurrent call paths keep the original effectively-serial semantics.
type webhookRegistry struct {
	mu        sync.Mutex
	endpoints map[string]WebhookEndpoint
	logs      map[string]DeliveryLog
	retention int
}

func newWebhookRegistry(retention int) *webhookRegistry {
	if retention <= 0 {
		retention = 1000
	}
	return &webhookRegistry{
		endpoints: make(map[string]WebhookEndpoint),
		logs:      make(map[string]DeliveryLog),
		retention: retention,
	}
}

func (r *webhookRegistry) UpsertEndpoint(endpoint WebhookEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[endpoint.ID] = endpoint.Clone()
}

func (r *webhookRegistry) Endpoint(id string) (WebhookEndpoint, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return WebhookEndpoint{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	endpoint, ok := r.endpoints[id]
	if !ok {
		return WebhookEndpoint{}, false
	}
	return endpoint.Clone(), true
}

// RemoveEndpoint deletes the endpoint only; historical logs keep their weak
// reference to the id.
func (r *webhookRegistry) RemoveEndpoint(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return false
	}
	delete(r.endpoints, id)
	return true
}

func (r *webhookRegistry) Endpoints() []WebhookEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	endpoints := make([]WebhookEndpoint, 0, len(r.endpoints))
	for _, endpoint := range r.endpoints {
		endpoints = append(endpoints, endpoint.Clone())
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].CreatedAt.Equal(endpoints[j].CreatedAt) {
			return endpoints[i].ID < endpoints[j].ID
		}
		return endpoints[i].CreatedAt.Before(endpoints[j].CreatedAt)
	})
	return endpoints
}

func (r *webhookRegistry) EndpointsForEvent(event string) []WebhookEndpoint {
	event = strings.TrimSpace(event)
	matching := make([]WebhookEndpoint, 0)
	for _, endpoint := range r.Endpoints() {
		if endpoint.Enabled && endpoint.SubscribedTo(event) {
			matching = append(matching, endpoint)
		}
	}
	return matching
}

// AppendLog records one attempt and enforces the retention cap, evicting
// oldest-by-timestamp entries first.
func (r *webhookRegistry) AppendLog(log DeliveryLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[log.ID] = log.Clone()
	for len(r.logs) > r.retention {
		r.evictOldestLogLocked()
	}
}

func (r *webhookRegistry) evictOldestLogLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, log := range r.logs {
		if oldestID == "" || log.Timestamp.Before(oldestAt) {
			oldestID = id
			oldestAt = log.Timestamp
		}
	}
	if oldestID != "" {
		delete(r.logs, oldestID)
		return
	}
	for id := range r.logs {
		delete(r.logs, id)
		break
	}
}

// Logs returns attempts newest first. An empty webhookID returns the full
// retained window.
func (r *webhookRegistry) Logs(webhookID string) []DeliveryLog {
	webhookID = strings.TrimSpace(webhookID)
	r.mu.Lock()
	defer r.mu.Unlock()
	logs := make([]DeliveryLog, 0, len(r.logs))
	for _, log := range r.logs {
		if webhookID != "" && log.WebhookID != webhookID {
			continue
		}
		logs = append(logs, log.Clone())
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].Timestamp.Equal(logs[j].Timestamp) {
			return logs[i].ID > logs[j].ID
		}
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})
	return logs
}

func (r *webhookRegistry) LogCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

func (r *webhookRegistry) replaceState(endpoints map[string]WebhookEndpoint, logs map[string]DeliveryLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = make(map[string]WebhookEndpoint, len(endpoints))
	for id, endpoint := range endpoints {
		r.endpoints[id] = endpoint.Clone()
	}
	r.logs = make(map[string]DeliveryLog, len(logs))
	for id, log := range logs {
		r.logs[id] = log.Clone()
	}
	for len(r.logs) > r.retention {
		r.evictOldestLogLocked()
	}
}

func (r *webhookRegistry) exportState() (map[string]WebhookEndpoint, map[string]DeliveryLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	endpoints := make(map[string]WebhookEndpoint, len(r.endpoints))
	for id, endpoint := range r.endpoints {
		endpoints[id] = endpoint.Clone()
	}
	logs := make(map[string]DeliveryLog, len(r.logs))
	for id, log := range r.logs {
		logs[id] = log.Clone()
	}
	return endpoints, logs
}

// approvalRegistry is the mutex-guarded container for approval rules, live
// requests, and notifications.
type approvalRegistry struct {
	mu            sync.Mutex
	rules         map[string]ApprovalRule
	requests      map[string]ApprovalRequest
	notifications map[string]ApprovalNotification
}

func newApprovalRegistry() *approvalRegistry {
	return &approvalRegistry{
		rules:         make(map[string]ApprovalRule),
		requests:      make(map[string]ApprovalRequest),
		notifications: make(map[string]ApprovalNotification),
	}
}

func (r *approvalRegistry) UpsertRule(rule ApprovalRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule.Clone()
}

func (r *approvalRegistry) Rule(id string) (ApprovalRule, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ApprovalRule{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return ApprovalRule{}, false
	}
	return rule.Clone(), true
}

func (r *approvalRegistry) RemoveRule(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return false
	}
	delete(r.rules, id)
	return true
}

func (r *approvalRegistry) Rules() []ApprovalRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules := make([]ApprovalRule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule.Clone())
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules
}

func (r *approvalRegistry) UpsertRequest(request ApprovalRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[request.ID] = request.Clone()
}

func (r *approvalRegistry) Request(id string) (ApprovalRequest, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ApprovalRequest{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return ApprovalRequest{}, false
	}
	return request.Clone(), true
}

func (r *approvalRegistry) Requests() []ApprovalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	requests := make([]ApprovalRequest, 0, len(r.requests))
	for _, request := range r.requests {
		requests = append(requests, request.Clone())
	}
	sort.Slice(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID < requests[j].ID
		}
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests
}

func (r *approvalRegistry) AddNotification(notification ApprovalNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[notification.ID] = notification
}

// Notifications returns entries newest first. userID "" returns everything;
// a concrete id also matches the "all" broadcast sentinel.
func (r *approvalRegistry) Notifications(userID string) []ApprovalNotification {
	userID = strings.TrimSpace(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	notifications := make([]ApprovalNotification, 0, len(r.notifications))
	for _, notification := range r.notifications {
		if userID != "" && notification.UserID != userID && notification.UserID != NotificationAudienceAll {
			continue
		}
		notifications = append(notifications, notification)
	}
	sort.Slice(notifications, func(i, j int) bool {
		if notifications[i].CreatedAt.Equal(notifications[j].CreatedAt) {
			return notifications[i].ID > notifications[j].ID
		}
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications
}

func (r *approvalRegistry) MarkNotificationRead(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	notification, ok := r.notifications[id]
	if !ok {
		return false
	}
	notification.Read = true
	r.notifications[id] = notification
	return true
}

func (r *approvalRegistry) replaceState(
	rules map[string]ApprovalRule,
	requests map[string]ApprovalRequest,
	notifications map[string]ApprovalNotification,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = make(map[string]ApprovalRule, len(rules))
	for id, rule := range rules {
		r.rules[id] = rule.Clone()
	}
	r.requests = make(map[string]ApprovalRequest, len(requests))
	for id, request := range requests {
		r.requests[id] = request.Clone()
	}
	r.notifications = make(map[string]ApprovalNotification, len(notifications))
	for id, notification := range notifications {
		r.notifications[id] = notification
	}
}

func (r *approvalRegistry) exportState() (
	map[string]ApprovalRule,
	map[string]ApprovalRequest,
	map[string]ApprovalNotification,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules := make(map[string]ApprovalRule, len(r.rules))
	for id, rule := range r.rules {
		rules[id] = rule.Clone()
	}
	requests := make(map[string]ApprovalRequest, len(r.requests))
	for id, request := range r.requests {
		requests[id] = request.Clone()
	}
	notifications := make(map[string]ApprovalNotification, len(r.notifications))
	for id, notification := range r.notifications {
		notifications[id] = notification
	}
	return rules, requests, notifications
}
