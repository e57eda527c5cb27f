package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func (s *Service) UpsertApprovalRule(ctx context.Context, input UpsertApprovalRuleInput) (rule ApprovalRule, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"rule_id":          input.ID,
		"environment_type": input.EnvironmentType,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "upsert_approval_rule", err, fields)
	}()

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = s.newID()
	}
	fields["rule_id"] = id

	now := s.nowUTC()
	rule = ApprovalRule{
		ID:                   id,
		Name:                 strings.TrimSpace(input.Name),
		EnvironmentID:        strings.TrimSpace(input.EnvironmentID),
		EnvironmentType:      strings.TrimSpace(input.EnvironmentType),
		Enabled:              input.Enabled,
		ApprovalType:         input.ApprovalType,
		RequiredApprovers:    input.RequiredApprovers,
		Approvers:            append([]Approver(nil), input.Approvers...),
		Conditions:           append([]RuleCondition(nil), input.Conditions...),
		TimeoutHours:         input.TimeoutHours,
		AutoApproveOnTimeout: input.AutoApproveOnTimeout,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if rule.EnvironmentType == "" {
		err = s.badInput("approval rule environment type is required", nil)
		return ApprovalRule{}, err
	}
	if err = rule.Validate(); err != nil {
		err = s.mapError(err)
		return ApprovalRule{}, err
	}
	if existing, ok := s.approvals.Rule(id); ok {
		rule.CreatedAt = existing.CreatedAt
	}

	s.approvals.UpsertRule(rule)
	s.persistApprovalState(ctx, "upsert_approval_rule")
	return rule.Clone(), nil
}

// UpdateApprovalRule applies a partial update. Unknown ids are a silent
// no-op, mirroring endpoint updates.
func (s *Service) UpdateApprovalRule(ctx context.Context, id string, patch ApprovalRulePatch) (result RuleUpdateResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"rule_id": id,
	}
	defer func() {
		fields["found"] = result.Found
		s.observeOperation(ctx, startedAt, "update_approval_rule", err, fields)
	}()

	id = strings.TrimSpace(id)
	if id == "" {
		err = s.badInput("approval rule id is required", nil)
		return RuleUpdateResult{}, err
	}

	current, ok := s.approvals.Rule(id)
	if !ok {
		return RuleUpdateResult{}, nil
	}
	updated := patch.Apply(current, s.nowUTC())
	if err = updated.Validate(); err != nil {
		err = s.mapError(err)
		return RuleUpdateResult{}, err
	}

	s.approvals.UpsertRule(updated)
	s.persistApprovalState(ctx, "update_approval_rule")
	return RuleUpdateResult{Rule: updated.Clone(), Found: true}, nil
}

func (s *Service) RemoveApprovalRule(ctx context.Context, id string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"rule_id": id,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "remove_approval_rule", err, fields)
	}()

	id = strings.TrimSpace(id)
	if id == "" {
		err = s.badInput("approval rule id is required", nil)
		return err
	}
	removed := s.approvals.RemoveRule(id)
	fields["found"] = removed
	if removed {
		s.persistApprovalState(ctx, "remove_approval_rule")
	}
	return nil
}

func (s *Service) GetApprovalRule(ctx context.Context, id string) (ApprovalRule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ApprovalRule{}, s.badInput("approval rule id is required", nil)
	}
	rule, ok := s.approvals.Rule(id)
	if !ok {
		return ApprovalRule{}, s.ruleNotFound(id)
	}
	return rule, nil
}

func (s *Service) ListApprovalRules(ctx context.Context) ([]ApprovalRule, error) {
	if s == nil || s.approvals == nil {
		return nil, fmt.Errorf("core: approval registry unavailable")
	}
	return s.approvals.Rules(), nil
}

// EvaluateDeployment decides whether the deployment needs approval. The
// approval request is created lazily, keyed by the deployment id, with
// requiredApprovals as the max over applicable rules and expiry as the
// tightest rule timeout. Conditional rules are filtered here, against the
// deployment metadata, before they contribute to the request.
func (s *Service) EvaluateDeployment(ctx context.Context, ref DeploymentRef) (decision ApprovalDecision, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"request_id":       ref.ID,
		"environment_id":   ref.EnvironmentID,
		"environment_type": ref.EnvironmentType,
	}
	defer func() {
		fields["required"] = decision.Required
		fields["created"] = decision.Created
		s.observeOperation(ctx, startedAt, "evaluate_deployment", err, fields)
	}()

	deploymentID := strings.TrimSpace(ref.ID)
	environmentType := strings.TrimSpace(ref.EnvironmentType)
	if deploymentID == "" {
		err = s.badInput("deployment id is required", nil)
		return ApprovalDecision{}, err
	}
	if environmentType == "" {
		err = s.badInput("deployment environment type is required", nil)
		return ApprovalDecision{}, err
	}

	if existing, ok := s.approvals.Request(deploymentID); ok {
		existing = s.resolveExpiryIfDue(ctx, existing)
		return ApprovalDecision{Required: true, Request: existing.Clone()}, nil
	}

	var applicable []ApprovalRule
	for _, rule := range s.approvals.Rules() {
		if !rule.AppliesTo(environmentType, ref.EnvironmentID) {
			continue
		}
		if !s.ruleConditionsMet(ctx, rule, ref.Metadata) {
			continue
		}
		applicable = append(applicable, rule)
	}
	if len(applicable) == 0 {
		return ApprovalDecision{}, nil
	}

	now := s.nowUTC()
	required := 1
	timeoutHours := 0
	ruleIDs := make([]string, 0, len(applicable))
	for _, rule := range applicable {
		if rule.RequiredApprovers > required {
			required = rule.RequiredApprovers
		}
		hours := rule.TimeoutHours
		if hours <= 0 {
			hours = s.config.Approvals.DefaultTimeoutHours
		}
		if hours > 0 && (timeoutHours == 0 || hours < timeoutHours) {
			timeoutHours = hours
		}
		ruleIDs = append(ruleIDs, rule.ID)
	}

	request := ApprovalRequest{
		ID:                deploymentID,
		EnvironmentID:     strings.TrimSpace(ref.EnvironmentID),
		EnvironmentType:   environmentType,
		Status:            ApprovalStatusPending,
		RequiredApprovals: required,
		RuleIDs:           ruleIDs,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if timeoutHours > 0 {
		request.ExpiresAt = now.Add(time.Duration(timeoutHours) * time.Hour)
	}

	s.approvals.UpsertRequest(request)
	s.notifyApprovers(request, applicable)
	s.persistApprovalState(ctx, "evaluate_deployment")
	return ApprovalDecision{Required: true, Created: true, Request: request.Clone()}, nil
}

// RecordAction appends one approve/reject action and advances the state
// machine: any reject wins (veto), otherwise approvedCount >=
// requiredApprovals approves. Actions against terminal requests are rejected
// explicitly. Duplicate actions from one user are kept and counted.
func (s *Service) RecordAction(ctx context.Context, requestID string, input ActionInput) (request ApprovalRequest, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"request_id": requestID,
		"user_id":    input.UserID,
		"action":     string(input.Action),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "record_action", err, fields)
	}()

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		err = s.badInput("approval request id is required", nil)
		return ApprovalRequest{}, err
	}
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		err = s.missingFields("userId")
		return ApprovalRequest{}, err
	}
	if err = input.Action.Validate(); err != nil {
		err = s.mapError(err)
		return ApprovalRequest{}, err
	}

	current, ok := s.approvals.Request(requestID)
	if !ok {
		err = s.requestNotFound(requestID)
		return ApprovalRequest{}, err
	}
	current = s.resolveExpiryIfDue(ctx, current)
	if current.Status.Terminal() {
		err = s.terminalRequestError(current)
		return ApprovalRequest{}, err
	}

	now := s.nowUTC()
	current.Actions = append(current.Actions, ApprovalAction{
		ID:        s.newID(),
		UserID:    userID,
		UserName:  strings.TrimSpace(input.UserName),
		UserEmail: strings.TrimSpace(input.UserEmail),
		Action:    input.Action,
		Comment:   strings.TrimSpace(input.Comment),
		Timestamp: now,
	})
	current.UpdatedAt = now

	event := ""
	switch {
	case current.RejectedCount() > 0:
		if err = current.TransitionTo(ApprovalStatusRejected, now); err != nil {
			err = s.mapError(err)
			return ApprovalRequest{}, err
		}
		event = EventApprovalRejected
	case current.ApprovedCount() >= current.RequiredApprovals:
		if err = current.TransitionTo(ApprovalStatusApproved, now); err != nil {
			err = s.mapError(err)
			return ApprovalRequest{}, err
		}
		event = EventApprovalApproved
	}

	s.approvals.UpsertRequest(current)
	if event != "" {
		s.notifyDecision(current)
	}
	s.persistApprovalState(ctx, "record_action")
	if event != "" {
		s.broadcastAsync(ctx, event, approvalEventData(current, userID))
	}
	fields["status"] = string(current.Status)
	return current.Clone(), nil
}

func (s *Service) GetApprovalRequest(ctx context.Context, id string) (ApprovalRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ApprovalRequest{}, s.badInput("approval request id is required", nil)
	}
	request, ok := s.approvals.Request(id)
	if !ok {
		return ApprovalRequest{}, s.requestNotFound(id)
	}
	request = s.resolveExpiryIfDue(ctx, request)
	return request.Clone(), nil
}

func (s *Service) ListApprovalRequests(ctx context.Context) ([]ApprovalRequest, error) {
	if s == nil || s.approvals == nil {
		return nil, fmt.Errorf("core: approval registry unavailable")
	}
	requests := s.approvals.Requests()
	for i, request := range requests {
		requests[i] = s.resolveExpiryIfDue(ctx, request)
	}
	return requests, nil
}

// SweepExpiredRequests resolves every overdue pending request, either
// expiring it or auto-approving it when all of its rules opted in. Returns
// the number of requests transitioned.
func (s *Service) SweepExpiredRequests(ctx context.Context) (count int, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["expired"] = count
		s.observeOperation(ctx, startedAt, "sweep_expired_requests", err, fields)
	}()

	now := s.nowUTC()
	for _, request := range s.approvals.Requests() {
		if request.Status != ApprovalStatusPending || !request.ExpiredBy(now) {
			continue
		}
		s.expireRequest(ctx, request)
		count++
	}
	return count, nil
}

func (s *Service) Notifications(ctx context.Context, userID string) ([]ApprovalNotification, error) {
	if s == nil || s.approvals == nil {
		return nil, fmt.Errorf("core: approval registry unavailable")
	}
	return s.approvals.Notifications(strings.TrimSpace(userID)), nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"notification_id": id,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "mark_notification_read", err, fields)
	}()

	id = strings.TrimSpace(id)
	if id == "" {
		err = s.badInput("notification id is required", nil)
		return err
	}
	if !s.approvals.MarkNotificationRead(id) {
		err = s.notificationNotFound(id)
		return err
	}
	s.persistApprovalState(ctx, "mark_notification_read")
	return nil
}

// resolveExpiryIfDue applies the lazy expiry transition on read paths:
// pending requests past their deadline transition before any caller sees
// them.
func (s *Service) resolveExpiryIfDue(ctx context.Context, request ApprovalRequest) ApprovalRequest {
	if request.Status != ApprovalStatusPending || !request.ExpiredBy(s.nowUTC()) {
		return request
	}
	return s.expireRequest(ctx, request)
}

// expireRequest transitions one overdue pending request. It auto-approves
// only when every contributing rule still exists and opted into
// autoApproveOnTimeout; anything else expires.
func (s *Service) expireRequest(ctx context.Context, request ApprovalRequest) ApprovalRequest {
	now := s.nowUTC()
	target := ApprovalStatusExpired
	event := EventApprovalExpired
	notificationType := NotificationTypeApprovalExpired
	message := fmt.Sprintf("Approval request %s expired without a decision", request.ID)
	if s.timeoutAutoApproves(request) {
		target = ApprovalStatusApproved
		event = EventApprovalApproved
		notificationType = NotificationTypeApprovalApproved
		message = fmt.Sprintf("Approval request %s auto-approved on timeout", request.ID)
	}

	if err := request.TransitionTo(target, now); err != nil {
		s.logError(ctx, "expiry transition failed", map[string]any{
			"request_id": request.ID,
			"error":      err.Error(),
		})
		return request
	}

	s.approvals.UpsertRequest(request)
	s.approvals.AddNotification(ApprovalNotification{
		ID:        s.newID(),
		Type:      notificationType,
		Title:     "Approval request resolved",
		Message:   message,
		RequestID: request.ID,
		UserID:    NotificationAudienceAll,
		CreatedAt: now,
	})
	s.persistApprovalState(ctx, "expire_request")
	s.broadcastAsync(ctx, event, approvalEventData(request, ""))
	return request
}

func (s *Service) timeoutAutoApproves(request ApprovalRequest) bool {
	if len(request.RuleIDs) == 0 {
		return false
	}
	for _, id := range request.RuleIDs {
		rule, ok := s.approvals.Rule(id)
		if !ok || !rule.AutoApproveOnTimeout {
			return false
		}
	}
	return true
}

// ruleConditionsMet filters conditional rules against deployment metadata.
// Evaluation failures and a missing evaluator keep the rule gating: an
// uncertain condition must not wave a deployment through.
func (s *Service) ruleConditionsMet(ctx context.Context, rule ApprovalRule, metadata map[string]any) bool {
	if rule.ApprovalType != ApprovalTypeConditional || len(rule.Conditions) == 0 {
		return true
	}
	if s.conditionEvaluator == nil {
		s.logError(ctx, "conditional rule gates by default: no condition evaluator configured", map[string]any{
			"rule_id": rule.ID,
		})
		return true
	}
	for _, condition := range rule.Conditions {
		met, err := s.conditionEvaluator.Evaluate(ctx, condition, metadata)
		if err != nil {
			s.logError(ctx, "condition evaluation failed, rule gates by default", map[string]any{
				"rule_id":        rule.ID,
				"condition_type": string(condition.Type),
				"error":          err.Error(),
			})
			return true
		}
		if !met {
			return false
		}
	}
	return true
}

func (s *Service) notifyApprovers(request ApprovalRequest, rules []ApprovalRule) {
	now := s.nowUTC()
	title := "Approval required"
	message := fmt.Sprintf("Deployment %s to %s requires %d approval(s)",
		request.ID, request.EnvironmentType, request.RequiredApprovals)

	seen := make(map[string]struct{})
	for _, rule := range rules {
		for _, approver := range rule.Approvers {
			userID := strings.TrimSpace(approver.ID)
			if userID == "" {
				continue
			}
			if _, ok := seen[userID]; ok {
				continue
			}
			seen[userID] = struct{}{}
			s.approvals.AddNotification(ApprovalNotification{
				ID:        s.newID(),
				Type:      NotificationTypeApprovalRequested,
				Title:     title,
				Message:   message,
				RequestID: request.ID,
				UserID:    userID,
				CreatedAt: now,
			})
		}
	}
	if len(seen) == 0 {
		s.approvals.AddNotification(ApprovalNotification{
			ID:        s.newID(),
			Type:      NotificationTypeApprovalRequested,
			Title:     title,
			Message:   message,
			RequestID: request.ID,
			UserID:    NotificationAudienceAll,
			CreatedAt: now,
		})
	}
}

func (s *Service) notifyDecision(request ApprovalRequest) {
	notificationType := NotificationTypeApprovalApproved
	message := fmt.Sprintf("Approval request %s was approved", request.ID)
	if request.Status == ApprovalStatusRejected {
		notificationType = NotificationTypeApprovalRejected
		message = fmt.Sprintf("Approval request %s was rejected", request.ID)
	}
	s.approvals.AddNotification(ApprovalNotification{
		ID:        s.newID(),
		Type:      notificationType,
		Title:     "Approval request resolved",
		Message:   message,
		RequestID: request.ID,
		UserID:    NotificationAudienceAll,
		CreatedAt: s.nowUTC(),
	})
}

func approvalEventData(request ApprovalRequest, actorID string) map[string]any {
	data := map[string]any{
		"requestId":       request.ID,
		"environmentId":   request.EnvironmentID,
		"environmentType": request.EnvironmentType,
		"status":          string(request.Status),
		"approvals":       request.ApprovedCount(),
		"required":        request.RequiredApprovals,
	}
	if actorID != "" {
		data["userId"] = actorID
	}
	return data
}

func (s *Service) ruleNotFound(id string) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("approval rule %q not found", id),
		goerrors.CategoryNotFound,
	).WithTextCode(GatekeeperErrorNotFound)
	return wrapped.WithMetadata(map[string]any{"rule_id": id})
}

func (s *Service) requestNotFound(id string) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("approval request %q not found", id),
		goerrors.CategoryNotFound,
	).WithTextCode(GatekeeperErrorNotFound)
	return wrapped.WithMetadata(map[string]any{"request_id": id})
}

func (s *Service) notificationNotFound(id string) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("notification %q not found", id),
		goerrors.CategoryNotFound,
	).WithTextCode(GatekeeperErrorNotFound)
	return wrapped.WithMetadata(map[string]any{"notification_id": id})
}

func (s *Service) missingFields(names ...string) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("missing required fields: %s", strings.Join(names, ", ")),
		goerrors.CategoryBadInput,
	).WithTextCode(GatekeeperErrorMissingFields)
	return wrapped.WithMetadata(map[string]any{"fields": names})
}

func (s *Service) terminalRequestError(request ApprovalRequest) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("approval request %q is already %s", request.ID, request.Status),
		goerrors.CategoryConflict,
	).WithTextCode(GatekeeperErrorBadInput)
	return wrapped.WithMetadata(map[string]any{
		"request_id": request.ID,
		"status":     string(request.Status),
	})
}
