package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

// EndpointReader is the endpoint read-side slice of core.GatekeeperService.
type EndpointReader interface {
	GetEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error)
	ListEndpoints(ctx context.Context) ([]core.WebhookEndpoint, error)
	EndpointsForEvent(ctx context.Context, event string) ([]core.WebhookEndpoint, error)
}

type DeliveryLogReader interface {
	DeliveryLogs(ctx context.Context, webhookID string) ([]core.DeliveryLog, error)
}

type ApprovalReader interface {
	GetApprovalRequest(ctx context.Context, id string) (core.ApprovalRequest, error)
	ListApprovalRules(ctx context.Context) ([]core.ApprovalRule, error)
	Notifications(ctx context.Context, userID string) ([]core.ApprovalNotification, error)
}

type DeploymentEvaluator interface {
	EvaluateDeployment(ctx context.Context, ref core.DeploymentRef) (core.ApprovalDecision, error)
}

type GetEndpointQuery struct {
	reader EndpointReader
}

func NewGetEndpointQuery(reader EndpointReader) *GetEndpointQuery {
	return &GetEndpointQuery{reader: reader}
}

func (q *GetEndpointQuery) Query(ctx context.Context, msg GetEndpointMessage) (core.WebhookEndpoint, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEndpoint{}, queryDependencyError("query: endpoint reader is required")
	}
	return q.reader.GetEndpoint(ctx, msg.EndpointID)
}

type ListEndpointsQuery struct {
	reader EndpointReader
}

func NewListEndpointsQuery(reader EndpointReader) *ListEndpointsQuery {
	return &ListEndpointsQuery{reader: reader}
}

func (q *ListEndpointsQuery) Query(ctx context.Context, msg ListEndpointsMessage) ([]core.WebhookEndpoint, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: endpoint reader is required")
	}
	if event := strings.TrimSpace(msg.Event); event != "" {
		return q.reader.EndpointsForEvent(ctx, event)
	}
	return q.reader.ListEndpoints(ctx)
}

type DeliveryLogsQuery struct {
	reader DeliveryLogReader
}

func NewDeliveryLogsQuery(reader DeliveryLogReader) *DeliveryLogsQuery {
	return &DeliveryLogsQuery{reader: reader}
}

func (q *DeliveryLogsQuery) Query(ctx context.Context, msg DeliveryLogsMessage) ([]core.DeliveryLog, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: delivery log reader is required")
	}
	return q.reader.DeliveryLogs(ctx, msg.WebhookID)
}

type GetApprovalRequestQuery struct {
	reader ApprovalReader
}

func NewGetApprovalRequestQuery(reader ApprovalReader) *GetApprovalRequestQuery {
	return &GetApprovalRequestQuery{reader: reader}
}

func (q *GetApprovalRequestQuery) Query(
	ctx context.Context,
	msg GetApprovalRequestMessage,
) (core.ApprovalRequest, error) {
	if q == nil || q.reader == nil {
		return core.ApprovalRequest{}, queryDependencyError("query: approval reader is required")
	}
	return q.reader.GetApprovalRequest(ctx, msg.RequestID)
}

type ListApprovalRulesQuery struct {
	reader ApprovalReader
}

func NewListApprovalRulesQuery(reader ApprovalReader) *ListApprovalRulesQuery {
	return &ListApprovalRulesQuery{reader: reader}
}

func (q *ListApprovalRulesQuery) Query(
	ctx context.Context,
	msg ListApprovalRulesMessage,
) ([]core.ApprovalRule, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: approval reader is required")
	}
	return q.reader.ListApprovalRules(ctx)
}

type NotificationsQuery struct {
	reader ApprovalReader
}

func NewNotificationsQuery(reader ApprovalReader) *NotificationsQuery {
	return &NotificationsQuery{reader: reader}
}

func (q *NotificationsQuery) Query(
	ctx context.Context,
	msg NotificationsMessage,
) ([]core.ApprovalNotification, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: approval reader is required")
	}
	return q.reader.Notifications(ctx, msg.UserID)
}

type EvaluateDeploymentQuery struct {
	evaluator DeploymentEvaluator
}

func NewEvaluateDeploymentQuery(evaluator DeploymentEvaluator) *EvaluateDeploymentQuery {
	return &EvaluateDeploymentQuery{evaluator: evaluator}
}

func (q *EvaluateDeploymentQuery) Query(
	ctx context.Context,
	msg EvaluateDeploymentMessage,
) (core.ApprovalDecision, error) {
	if q == nil || q.evaluator == nil {
		return core.ApprovalDecision{}, queryDependencyError("query: deployment evaluator is required")
	}
	return q.evaluator.EvaluateDeployment(ctx, msg.Ref)
}
