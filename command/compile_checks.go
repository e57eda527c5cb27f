package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RegisterEndpointMessage]     = (*RegisterEndpointCommand)(nil)
	_ gocmd.Commander[UpdateEndpointMessage]       = (*UpdateEndpointCommand)(nil)
	_ gocmd.Commander[RemoveEndpointMessage]       = (*RemoveEndpointCommand)(nil)
	_ gocmd.Commander[BroadcastEventMessage]       = (*BroadcastEventCommand)(nil)
	_ gocmd.Commander[UpsertApprovalRuleMessage]   = (*UpsertApprovalRuleCommand)(nil)
	_ gocmd.Commander[RemoveApprovalRuleMessage]   = (*RemoveApprovalRuleCommand)(nil)
	_ gocmd.Commander[RecordApprovalActionMessage] = (*RecordApprovalActionCommand)(nil)
	_ gocmd.Commander[MarkNotificationReadMessage] = (*MarkNotificationReadCommand)(nil)
)
