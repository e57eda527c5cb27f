package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidAuthKind                 = errors.New("core: invalid endpoint auth kind")
	ErrInvalidApprovalType             = errors.New("core: invalid approval rule type")
	ErrInvalidApprovalStatusTransition = errors.New("core: invalid approval status transition")
	ErrInvalidConditionOperator        = errors.New("core: invalid rule condition operator")
	ErrInvalidActionKind               = errors.New("core: invalid approval action kind")
)

const (
	EventApprovalResponse = "approval.response"
	EventDeploymentStatus = "deployment.status"
	EventApprovalApproved = "approval.approved"
	EventApprovalRejected = "approval.rejected"
	EventApprovalExpired  = "approval.expired"
)

const NotificationAudienceAll = "all"

const (
	NotificationTypeApprovalRequested = "approval_requested"
	NotificationTypeApprovalApproved  = "approval_approved"
	NotificationTypeApprovalRejected  = "approval_rejected"
	NotificationTypeApprovalExpired   = "approval_expired"
)

type AuthKind string

const (
	AuthKindNone   AuthKind = "none"
	AuthKindBearer AuthKind = "bearer"
	AuthKindBasic  AuthKind = "basic"
	AuthKindCustom AuthKind = "custom"
)

// EndpointAuth describes how outbound deliveries authenticate against the
// receiving endpoint. Exactly one variant is active, selected by Kind.
type EndpointAuth struct {
	Kind     AuthKind
	Token    string
	Username string
	Password string
	Headers  map[string]string
}

func (a EndpointAuth) Validate() error {
	kind := a.Kind
	if strings.TrimSpace(string(kind)) == "" {
		kind = AuthKindNone
	}
	switch kind {
	case AuthKindNone, AuthKindBearer, AuthKindBasic, AuthKindCustom:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAuthKind, a.Kind)
	}
}

func (a EndpointAuth) Clone() EndpointAuth {
	cloned := a
	if len(a.Headers) > 0 {
		cloned.Headers = make(map[string]string, len(a.Headers))
		for key, value := range a.Headers {
			cloned.Headers[key] = value
		}
	}
	return cloned
}

// RetryPolicy controls the delivery retry chain. RetryDelay is the initial
// backoff; attempt k (0-based) waits RetryDelay * BackoffMultiplier^k with no
// ceiling and no jitter.
type RetryPolicy struct {
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
}

func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.RetryDelay <= 0 {
		return 0
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(float64(p.RetryDelay) * math.Pow(multiplier, float64(attempt)))
}

type WebhookEndpoint struct {
	ID        string
	Name      string
	URL       string
	Enabled   bool
	Events    []string
	Auth      EndpointAuth
	Retry     RetryPolicy
	Timeout   time.Duration
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e WebhookEndpoint) SubscribedTo(event string) bool {
	event = strings.TrimSpace(event)
	for _, candidate := range e.Events {
		if strings.TrimSpace(candidate) == event {
			return true
		}
	}
	return false
}

func (e WebhookEndpoint) Clone() WebhookEndpoint {
	cloned := e
	cloned.Events = append([]string(nil), e.Events...)
	cloned.Auth = e.Auth.Clone()
	return cloned
}

// EndpointPatch is a partial endpoint update. Pointer fields replace the
// current value when set; Events, Auth, and Retry replace whole, never merged
// element-wise. Apply always refreshes UpdatedAt.
type EndpointPatch struct {
	Name    *string
	URL     *string
	Enabled *bool
	Events  []string
	Auth    *EndpointAuth
	Retry   *RetryPolicy
	Timeout *time.Duration
	Secret  *string
}

func (p EndpointPatch) Apply(endpoint WebhookEndpoint, now time.Time) WebhookEndpoint {
	if p.Name != nil {
		endpoint.Name = strings.TrimSpace(*p.Name)
	}
	if p.URL != nil {
		endpoint.URL = strings.TrimSpace(*p.URL)
	}
	if p.Enabled != nil {
		endpoint.Enabled = *p.Enabled
	}
	if p.Events != nil {
		endpoint.Events = normalizeEventTypes(p.Events)
	}
	if p.Auth != nil {
		endpoint.Auth = p.Auth.Clone()
	}
	if p.Retry != nil {
		endpoint.Retry = *p.Retry
	}
	if p.Timeout != nil {
		endpoint.Timeout = *p.Timeout
	}
	if p.Secret != nil {
		endpoint.Secret = strings.TrimSpace(*p.Secret)
	}
	endpoint.UpdatedAt = now
	return endpoint
}

// RedactedValue replaces credential-bearing header values before a
// delivery request is archived or surfaced to readers.
const RedactedValue = "[REDACTED]"

type DeliveryRequest struct {
	URL     string
	Headers map[string]string
	Payload []byte
}

type DeliveryResponse struct {
	StatusCode int
	Body       string
}

// DeliveryLog records one delivery attempt. WebhookID is a weak reference:
// logs survive endpoint deletion.
type DeliveryLog struct {
	ID         string
	WebhookID  string
	Event      string
	Request    DeliveryRequest
	Response   *DeliveryResponse
	Error      string
	Success    bool
	Duration   time.Duration
	RetryCount int
	Timestamp  time.Time
}

func (l DeliveryLog) Clone() DeliveryLog {
	cloned := l
	if len(l.Request.Headers) > 0 {
		cloned.Request.Headers = make(map[string]string, len(l.Request.Headers))
		for key, value := range l.Request.Headers {
			cloned.Request.Headers[key] = value
		}
	}
	cloned.Request.Payload = append([]byte(nil), l.Request.Payload...)
	if l.Response != nil {
		response := *l.Response
		cloned.Response = &response
	}
	return cloned
}

// EventPayload is the outbound wire envelope. Timestamp is epoch
// milliseconds; the signature covers the JSON encoding of the envelope
// without the signature field.
type EventPayload struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Signature string         `json:"signature,omitempty"`
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

func (s ApprovalStatus) Terminal() bool {
	switch s {
	case ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusExpired:
		return true
	default:
		return false
	}
}

type ApprovalType string

const (
	ApprovalTypeManual      ApprovalType = "manual"
	ApprovalTypeAutomatic   ApprovalType = "automatic"
	ApprovalTypeConditional ApprovalType = "conditional"
)

type ConditionType string

const (
	ConditionTypeBranch     ConditionType = "branch"
	ConditionTypeTime       ConditionType = "time"
	ConditionTypeTests      ConditionType = "tests"
	ConditionTypeSize       ConditionType = "size"
	ConditionTypeAuthor     ConditionType = "author"
	ConditionTypeExpression ConditionType = "expression"
)

type ConditionOperator string

const (
	ConditionOperatorEquals      ConditionOperator = "equals"
	ConditionOperatorContains    ConditionOperator = "contains"
	ConditionOperatorGreaterThan ConditionOperator = "greater_than"
	ConditionOperatorLessThan    ConditionOperator = "less_than"
	ConditionOperatorInRange     ConditionOperator = "in_range"
)

// RuleCondition is one predicate over deployment metadata. Type expression
// ignores Operator and evaluates Value as an expression program instead.
type RuleCondition struct {
	Type     ConditionType
	Operator ConditionOperator
	Value    string
}

type Approver struct {
	ID    string
	Name  string
	Email string
	Role  string
}

type ApprovalRule struct {
	ID                   string
	Name                 string
	EnvironmentID        string
	EnvironmentType      string
	Enabled              bool
	ApprovalType         ApprovalType
	RequiredApprovers    int
	Approvers            []Approver
	Conditions           []RuleCondition
	TimeoutHours         int
	AutoApproveOnTimeout bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (r ApprovalRule) Validate() error {
	switch r.ApprovalType {
	case ApprovalTypeManual, ApprovalTypeAutomatic, ApprovalTypeConditional:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidApprovalType, r.ApprovalType)
	}
	if r.RequiredApprovers < 1 {
		return fmt.Errorf("core: rule %q requires at least one approver", r.ID)
	}
	for _, condition := range r.Conditions {
		if condition.Type == ConditionTypeExpression {
			continue
		}
		switch condition.Operator {
		case ConditionOperatorEquals, ConditionOperatorContains, ConditionOperatorGreaterThan,
			ConditionOperatorLessThan, ConditionOperatorInRange:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidConditionOperator, condition.Operator)
		}
	}
	return nil
}

// AppliesTo reports whether the rule gates the given environment. Rules with
// an empty EnvironmentID apply to every environment of their type.
func (r ApprovalRule) AppliesTo(environmentType, environmentID string) bool {
	if !r.Enabled {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(r.EnvironmentType), strings.TrimSpace(environmentType)) {
		return false
	}
	ruleEnv := strings.TrimSpace(r.EnvironmentID)
	return ruleEnv == "" || ruleEnv == strings.TrimSpace(environmentID)
}

func (r ApprovalRule) Clone() ApprovalRule {
	cloned := r
	cloned.Approvers = append([]Approver(nil), r.Approvers...)
	cloned.Conditions = append([]RuleCondition(nil), r.Conditions...)
	return cloned
}

// ApprovalRulePatch is a partial rule update. Pointer fields replace when
// set; Approvers and Conditions replace whole. Apply refreshes UpdatedAt.
type ApprovalRulePatch struct {
	Name                 *string
	EnvironmentID        *string
	EnvironmentType      *string
	Enabled              *bool
	ApprovalType         *ApprovalType
	RequiredApprovers    *int
	Approvers            []Approver
	Conditions           []RuleCondition
	TimeoutHours         *int
	AutoApproveOnTimeout *bool
}

func (p ApprovalRulePatch) Apply(rule ApprovalRule, now time.Time) ApprovalRule {
	if p.Name != nil {
		rule.Name = strings.TrimSpace(*p.Name)
	}
	if p.EnvironmentID != nil {
		rule.EnvironmentID = strings.TrimSpace(*p.EnvironmentID)
	}
	if p.EnvironmentType != nil {
		rule.EnvironmentType = strings.TrimSpace(*p.EnvironmentType)
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	if p.ApprovalType != nil {
		rule.ApprovalType = *p.ApprovalType
	}
	if p.RequiredApprovers != nil {
		rule.RequiredApprovers = *p.RequiredApprovers
	}
	if p.Approvers != nil {
		rule.Approvers = append([]Approver(nil), p.Approvers...)
	}
	if p.Conditions != nil {
		rule.Conditions = append([]RuleCondition(nil), p.Conditions...)
	}
	if p.TimeoutHours != nil {
		rule.TimeoutHours = *p.TimeoutHours
	}
	if p.AutoApproveOnTimeout != nil {
		rule.AutoApproveOnTimeout = *p.AutoApproveOnTimeout
	}
	rule.UpdatedAt = now
	return rule
}

type ActionKind string

const (
	ActionKindApprove ActionKind = "approve"
	ActionKindReject  ActionKind = "reject"
)

func (k ActionKind) Validate() error {
	switch k {
	case ActionKindApprove, ActionKindReject:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidActionKind, k)
	}
}

type ApprovalAction struct {
	ID        string
	UserID    string
	UserName  string
	UserEmail string
	Action    ActionKind
	Comment   string
	Timestamp time.Time
}

// DeploymentRef identifies the deployment an approval decision is requested
// for. Metadata carries the values rule conditions evaluate against (branch,
// author, coverage, size, hour).
type DeploymentRef struct {
	ID              string
	EnvironmentID   string
	EnvironmentType string
	Metadata        map[string]any
}

type ApprovalRequest struct {
	ID                string
	EnvironmentID     string
	EnvironmentType   string
	Status            ApprovalStatus
	RequiredApprovals int
	Actions           []ApprovalAction
	RuleIDs           []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ExpiresAt         time.Time
}

func (r *ApprovalRequest) TransitionTo(status ApprovalStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status {
		r.UpdatedAt = now
		return nil
	}
	if !approvalTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidApprovalStatusTransition, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	return nil
}

func approvalTransitionAllowed(current, next ApprovalStatus) bool {
	allowed := map[ApprovalStatus]map[ApprovalStatus]struct{}{
		ApprovalStatusPending: {
			ApprovalStatusApproved: {},
			ApprovalStatusRejected: {},
			ApprovalStatusExpired:  {},
		},
		ApprovalStatusApproved: {},
		ApprovalStatusRejected: {},
		ApprovalStatusExpired:  {},
	}
	_, ok := allowed[current][next]
	return ok
}

func (r ApprovalRequest) ApprovedCount() int {
	count := 0
	for _, action := range r.Actions {
		if action.Action == ActionKindApprove {
			count++
		}
	}
	return count
}

func (r ApprovalRequest) RejectedCount() int {
	count := 0
	for _, action := range r.Actions {
		if action.Action == ActionKindReject {
			count++
		}
	}
	return count
}

func (r ApprovalRequest) ExpiredBy(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

func (r ApprovalRequest) Clone() ApprovalRequest {
	cloned := r
	cloned.Actions = append([]ApprovalAction(nil), r.Actions...)
	cloned.RuleIDs = append([]string(nil), r.RuleIDs...)
	return cloned
}

// ApprovalDecision is the outcome of evaluating a deployment against the
// rule set. Required false means no gating rule applied and no request
// exists; the deployment is free to proceed.
type ApprovalDecision struct {
	Required bool
	Created  bool
	Request  ApprovalRequest
}

type ApprovalNotification struct {
	ID        string
	Type      string
	Title     string
	Message   string
	RequestID string
	UserID    string
	Read      bool
	CreatedAt time.Time
}

func normalizeEventTypes(events []string) []string {
	if len(events) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		if _, ok := seen[event]; ok {
			continue
		}
		seen[event] = struct{}{}
		normalized = append(normalized, event)
	}
	return normalized
}
