package query

import (
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

const (
	TypeGetEndpoint        = "gatekeeper.query.endpoint.get"
	TypeListEndpoints      = "gatekeeper.query.endpoint.list"
	TypeDeliveryLogs       = "gatekeeper.query.delivery_log.list"
	TypeGetApprovalRequest = "gatekeeper.query.approval_request.get"
	TypeListApprovalRules  = "gatekeeper.query.approval_rule.list"
	TypeNotifications      = "gatekeeper.query.notification.list"
	TypeEvaluateDeployment = "gatekeeper.query.deployment.evaluate"
)

type GetEndpointMessage struct {
	EndpointID string
}

func (GetEndpointMessage) Type() string { return TypeGetEndpoint }

func (m GetEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return queryValidationError("endpoint_id", "endpoint id is required")
	}
	return nil
}

// ListEndpointsMessage lists every registered endpoint; a non-blank Event
// narrows the result to enabled endpoints subscribed to that event.
type ListEndpointsMessage struct {
	Event string
}

func (ListEndpointsMessage) Type() string { return TypeListEndpoints }

func (m ListEndpointsMessage) Validate() error {
	return nil
}

// DeliveryLogsMessage reads the retained delivery-log window. A blank
// WebhookID returns the whole window.
type DeliveryLogsMessage struct {
	WebhookID string
}

func (DeliveryLogsMessage) Type() string { return TypeDeliveryLogs }

func (m DeliveryLogsMessage) Validate() error {
	return nil
}

type GetApprovalRequestMessage struct {
	RequestID string
}

func (GetApprovalRequestMessage) Type() string { return TypeGetApprovalRequest }

func (m GetApprovalRequestMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return queryValidationError("request_id", "request id is required")
	}
	return nil
}

type ListApprovalRulesMessage struct{}

func (ListApprovalRulesMessage) Type() string { return TypeListApprovalRules }

func (m ListApprovalRulesMessage) Validate() error {
	return nil
}

type NotificationsMessage struct {
	UserID string
}

func (NotificationsMessage) Type() string { return TypeNotifications }

func (m NotificationsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type EvaluateDeploymentMessage struct {
	Ref core.DeploymentRef
}

func (EvaluateDeploymentMessage) Type() string { return TypeEvaluateDeployment }

func (m EvaluateDeploymentMessage) Validate() error {
	if strings.TrimSpace(m.Ref.ID) == "" {
		return queryValidationError("deployment_id", "deployment id is required")
	}
	if strings.TrimSpace(m.Ref.EnvironmentID) == "" && strings.TrimSpace(m.Ref.EnvironmentType) == "" {
		return queryValidationError("environment", "environment id or type is required")
	}
	return nil
}
