package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-gatekeeper/core"
)

var (
	_ gocmd.Querier[GetEndpointMessage, core.WebhookEndpoint]          = (*GetEndpointQuery)(nil)
	_ gocmd.Querier[ListEndpointsMessage, []core.WebhookEndpoint]      = (*ListEndpointsQuery)(nil)
	_ gocmd.Querier[DeliveryLogsMessage, []core.DeliveryLog]           = (*DeliveryLogsQuery)(nil)
	_ gocmd.Querier[GetApprovalRequestMessage, core.ApprovalRequest]   = (*GetApprovalRequestQuery)(nil)
	_ gocmd.Querier[ListApprovalRulesMessage, []core.ApprovalRule]     = (*ListApprovalRulesQuery)(nil)
	_ gocmd.Querier[NotificationsMessage, []core.ApprovalNotification] = (*NotificationsQuery)(nil)
	_ gocmd.Querier[EvaluateDeploymentMessage, core.ApprovalDecision]  = (*EvaluateDeploymentQuery)(nil)
)
