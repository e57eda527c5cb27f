package command

import (
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

const (
	TypeRegisterEndpoint     = "gatekeeper.command.endpoint.register"
	TypeUpdateEndpoint       = "gatekeeper.command.endpoint.update"
	TypeRemoveEndpoint       = "gatekeeper.command.endpoint.remove"
	TypeBroadcastEvent       = "gatekeeper.command.event.broadcast"
	TypeUpsertApprovalRule   = "gatekeeper.command.approval_rule.upsert"
	TypeRemoveApprovalRule   = "gatekeeper.command.approval_rule.remove"
	TypeRecordApprovalAction = "gatekeeper.command.approval_request.record_action"
	TypeMarkNotificationRead = "gatekeeper.command.notification.mark_read"
)

type RegisterEndpointMessage struct {
	Input core.RegisterEndpointInput
}

func (RegisterEndpointMessage) Type() string { return TypeRegisterEndpoint }

func (m RegisterEndpointMessage) Validate() error {
	if strings.TrimSpace(m.Input.Name) == "" {
		return commandValidationError("name", "endpoint name is required")
	}
	if strings.TrimSpace(m.Input.URL) == "" {
		return commandValidationError("url", "endpoint url is required")
	}
	return nil
}

type UpdateEndpointMessage struct {
	EndpointID string
	Patch      core.EndpointPatch
}

func (UpdateEndpointMessage) Type() string { return TypeUpdateEndpoint }

func (m UpdateEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return commandValidationError("endpoint_id", "endpoint id is required")
	}
	return nil
}

type RemoveEndpointMessage struct {
	EndpointID string
}

func (RemoveEndpointMessage) Type() string { return TypeRemoveEndpoint }

func (m RemoveEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return commandValidationError("endpoint_id", "endpoint id is required")
	}
	return nil
}

type BroadcastEventMessage struct {
	Event string
	Data  map[string]any
}

func (BroadcastEventMessage) Type() string { return TypeBroadcastEvent }

func (m BroadcastEventMessage) Validate() error {
	if strings.TrimSpace(m.Event) == "" {
		return commandValidationError("event", "event type is required")
	}
	return nil
}

type UpsertApprovalRuleMessage struct {
	Input core.UpsertApprovalRuleInput
}

func (UpsertApprovalRuleMessage) Type() string { return TypeUpsertApprovalRule }

func (m UpsertApprovalRuleMessage) Validate() error {
	if strings.TrimSpace(m.Input.Name) == "" {
		return commandValidationError("name", "rule name is required")
	}
	if m.Input.RequiredApprovers < 0 {
		return commandValidationError("required_approvers", "required approvers must be >= 0")
	}
	return nil
}

type RemoveApprovalRuleMessage struct {
	RuleID string
}

func (RemoveApprovalRuleMessage) Type() string { return TypeRemoveApprovalRule }

func (m RemoveApprovalRuleMessage) Validate() error {
	if strings.TrimSpace(m.RuleID) == "" {
		return commandValidationError("rule_id", "rule id is required")
	}
	return nil
}

type RecordApprovalActionMessage struct {
	RequestID string
	Input     core.ActionInput
}

func (RecordApprovalActionMessage) Type() string { return TypeRecordApprovalAction }

func (m RecordApprovalActionMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return commandValidationError("request_id", "request id is required")
	}
	if strings.TrimSpace(m.Input.UserID) == "" {
		return commandValidationError("user_id", "acting user id is required")
	}
	if err := m.Input.Action.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid approval action")
	}
	return nil
}

type MarkNotificationReadMessage struct {
	NotificationID string
}

func (MarkNotificationReadMessage) Type() string { return TypeMarkNotificationRead }

func (m MarkNotificationReadMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return commandValidationError("notification_id", "notification id is required")
	}
	return nil
}
