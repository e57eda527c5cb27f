package gatekeeper

import (
	"context"
	"fmt"

	gatekeepercommand "github.com/goliatone/go-gatekeeper/command"
	"github.com/goliatone/go-gatekeeper/core"
	gatekeeperquery "github.com/goliatone/go-gatekeeper/query"
)

// CommandQueryService is the surface the facade builds handlers against.
// *core.Service satisfies it.
type CommandQueryService interface {
	gatekeepercommand.MutatingService
	gatekeeperquery.EndpointReader
	gatekeeperquery.DeliveryLogReader
	gatekeeperquery.ApprovalReader
	gatekeeperquery.DeploymentEvaluator
}

var _ CommandQueryService = (*core.Service)(nil)

type Commands struct {
	RegisterEndpoint     *gatekeepercommand.RegisterEndpointCommand
	UpdateEndpoint       *gatekeepercommand.UpdateEndpointCommand
	RemoveEndpoint       *gatekeepercommand.RemoveEndpointCommand
	BroadcastEvent       *gatekeepercommand.BroadcastEventCommand
	UpsertApprovalRule   *gatekeepercommand.UpsertApprovalRuleCommand
	RemoveApprovalRule   *gatekeepercommand.RemoveApprovalRuleCommand
	RecordApprovalAction *gatekeepercommand.RecordApprovalActionCommand
	MarkNotificationRead *gatekeepercommand.MarkNotificationReadCommand
}

type Queries struct {
	GetEndpoint        *gatekeeperquery.GetEndpointQuery
	ListEndpoints      *gatekeeperquery.ListEndpointsQuery
	DeliveryLogs       *gatekeeperquery.DeliveryLogsQuery
	GetApprovalRequest *gatekeeperquery.GetApprovalRequestQuery
	ListApprovalRules  *gatekeeperquery.ListApprovalRulesQuery
	Notifications      *gatekeeperquery.NotificationsQuery
	EvaluateDeployment *gatekeeperquery.EvaluateDeploymentQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	logReader gatekeeperquery.DeliveryLogReader
}

// WithDeliveryLogReader routes the facade's log query through an alternate
// reader, typically an ArchiveLogReader over a durable archive instead of
// the service's capped in-memory window.
func WithDeliveryLogReader(reader gatekeeperquery.DeliveryLogReader) FacadeOption {
	return func(options *facadeOptions) {
		options.logReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("gatekeeper: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	logReader := cfg.logReader
	if logReader == nil {
		logReader = service
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		RegisterEndpoint:     gatekeepercommand.NewRegisterEndpointCommand(service),
		UpdateEndpoint:       gatekeepercommand.NewUpdateEndpointCommand(service),
		RemoveEndpoint:       gatekeepercommand.NewRemoveEndpointCommand(service),
		BroadcastEvent:       gatekeepercommand.NewBroadcastEventCommand(service),
		UpsertApprovalRule:   gatekeepercommand.NewUpsertApprovalRuleCommand(service),
		RemoveApprovalRule:   gatekeepercommand.NewRemoveApprovalRuleCommand(service),
		RecordApprovalAction: gatekeepercommand.NewRecordApprovalActionCommand(service),
		MarkNotificationRead: gatekeepercommand.NewMarkNotificationReadCommand(service),
	}
	facade.queries = Queries{
		GetEndpoint:        gatekeeperquery.NewGetEndpointQuery(service),
		ListEndpoints:      gatekeeperquery.NewListEndpointsQuery(service),
		DeliveryLogs:       gatekeeperquery.NewDeliveryLogsQuery(logReader),
		GetApprovalRequest: gatekeeperquery.NewGetApprovalRequestQuery(service),
		ListApprovalRules:  gatekeeperquery.NewListApprovalRulesQuery(service),
		Notifications:      gatekeeperquery.NewNotificationsQuery(service),
		EvaluateDeployment: gatekeeperquery.NewEvaluateDeploymentQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// DefaultArchiveReadLimit caps one archive-backed log read. It matches the
// in-memory window's retention default so both readers answer with the same
// horizon.
const DefaultArchiveReadLimit = 1000

// ArchiveLogReader satisfies the facade's log reader contract from a durable
// DeliveryLogArchive. Results are newest first, capped at PerPage.
type ArchiveLogReader struct {
	Archive core.DeliveryLogArchive
	PerPage int
}

func (r ArchiveLogReader) DeliveryLogs(ctx context.Context, webhookID string) ([]core.DeliveryLog, error) {
	if r.Archive == nil {
		return nil, fmt.Errorf("gatekeeper: delivery log archive is required")
	}
	perPage := r.PerPage
	if perPage <= 0 {
		perPage = DefaultArchiveReadLimit
	}
	page, err := r.Archive.List(ctx, core.DeliveryLogFilter{
		WebhookID: webhookID,
		Page:      1,
		PerPage:   perPage,
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

var _ gatekeeperquery.DeliveryLogReader = ArchiveLogReader{}
