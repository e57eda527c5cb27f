package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-gatekeeper/core"
)

// MutatingService is the write-side slice of core.GatekeeperService the
// command handlers depend on.
type MutatingService interface {
	RegisterEndpoint(ctx context.Context, input core.RegisterEndpointInput) (core.WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, id string, patch core.EndpointPatch) (core.EndpointUpdateResult, error)
	RemoveEndpoint(ctx context.Context, id string) error
	Broadcast(ctx context.Context, event string, data map[string]any) (core.BroadcastResult, error)
	UpsertApprovalRule(ctx context.Context, input core.UpsertApprovalRuleInput) (core.ApprovalRule, error)
	RemoveApprovalRule(ctx context.Context, id string) error
	RecordAction(ctx context.Context, requestID string, input core.ActionInput) (core.ApprovalRequest, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

type RegisterEndpointCommand struct {
	service MutatingService
}

func NewRegisterEndpointCommand(service MutatingService) *RegisterEndpointCommand {
	return &RegisterEndpointCommand{service: service}
}

func (c *RegisterEndpointCommand) Execute(ctx context.Context, msg RegisterEndpointMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: endpoint service is required")
	}
	out, err := c.service.RegisterEndpoint(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateEndpointCommand struct {
	service MutatingService
}

func NewUpdateEndpointCommand(service MutatingService) *UpdateEndpointCommand {
	return &UpdateEndpointCommand{service: service}
}

func (c *UpdateEndpointCommand) Execute(ctx context.Context, msg UpdateEndpointMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: endpoint service is required")
	}
	out, err := c.service.UpdateEndpoint(ctx, msg.EndpointID, msg.Patch)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RemoveEndpointCommand struct {
	service MutatingService
}

func NewRemoveEndpointCommand(service MutatingService) *RemoveEndpointCommand {
	return &RemoveEndpointCommand{service: service}
}

func (c *RemoveEndpointCommand) Execute(ctx context.Context, msg RemoveEndpointMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: endpoint service is required")
	}
	return c.service.RemoveEndpoint(ctx, msg.EndpointID)
}

type BroadcastEventCommand struct {
	service MutatingService
}

func NewBroadcastEventCommand(service MutatingService) *BroadcastEventCommand {
	return &BroadcastEventCommand{service: service}
}

func (c *BroadcastEventCommand) Execute(ctx context.Context, msg BroadcastEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: broadcast service is required")
	}
	out, err := c.service.Broadcast(ctx, msg.Event, msg.Data)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpsertApprovalRuleCommand struct {
	service MutatingService
}

func NewUpsertApprovalRuleCommand(service MutatingService) *UpsertApprovalRuleCommand {
	return &UpsertApprovalRuleCommand{service: service}
}

func (c *UpsertApprovalRuleCommand) Execute(ctx context.Context, msg UpsertApprovalRuleMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: approval rule service is required")
	}
	out, err := c.service.UpsertApprovalRule(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RemoveApprovalRuleCommand struct {
	service MutatingService
}

func NewRemoveApprovalRuleCommand(service MutatingService) *RemoveApprovalRuleCommand {
	return &RemoveApprovalRuleCommand{service: service}
}

func (c *RemoveApprovalRuleCommand) Execute(ctx context.Context, msg RemoveApprovalRuleMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: approval rule service is required")
	}
	return c.service.RemoveApprovalRule(ctx, msg.RuleID)
}

type RecordApprovalActionCommand struct {
	service MutatingService
}

func NewRecordApprovalActionCommand(service MutatingService) *RecordApprovalActionCommand {
	return &RecordApprovalActionCommand{service: service}
}

func (c *RecordApprovalActionCommand) Execute(ctx context.Context, msg RecordApprovalActionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: approval request service is required")
	}
	out, err := c.service.RecordAction(ctx, msg.RequestID, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MarkNotificationReadCommand struct {
	service MutatingService
}

func NewMarkNotificationReadCommand(service MutatingService) *MarkNotificationReadCommand {
	return &MarkNotificationReadCommand{service: service}
}

func (c *MarkNotificationReadCommand) Execute(ctx context.Context, msg MarkNotificationReadMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	return c.service.MarkNotificationRead(ctx, msg.NotificationID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
