// Package gatekeeper re-exports the webhook delivery and approval gating
// engine so downstream code can depend on one import path. The engine
// itself lives in core; transports, stores and adapters plug in through
// options.
package gatekeeper

import "github.com/goliatone/go-gatekeeper/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type SnapshotStore = core.SnapshotStore
type DeliveryLogArchive = core.DeliveryLogArchive
type SigningSecretProvider = core.SigningSecretProvider
type PayloadSigner = core.PayloadSigner
type DeliveryAuthorizer = core.DeliveryAuthorizer
type TransportAdapter = core.TransportAdapter
type DeliveryQueue = core.DeliveryQueue
type RateLimitPolicy = core.RateLimitPolicy
type ConditionEvaluator = core.ConditionEvaluator
type DeploymentStatusSink = core.DeploymentStatusSink
type MetricsRecorder = core.MetricsRecorder

type WebhookEndpoint = core.WebhookEndpoint
type DeliveryLog = core.DeliveryLog
type DeliveryTask = core.DeliveryTask
type ApprovalRule = core.ApprovalRule
type ApprovalRequest = core.ApprovalRequest
type ApprovalDecision = core.ApprovalDecision
type ApprovalNotification = core.ApprovalNotification
type DeploymentRef = core.DeploymentRef

type RegisterEndpointInput = core.RegisterEndpointInput
type EndpointPatch = core.EndpointPatch
type UpsertApprovalRuleInput = core.UpsertApprovalRuleInput
type ApprovalRulePatch = core.ApprovalRulePatch
type ActionInput = core.ActionInput
type BroadcastResult = core.BroadcastResult
type DeliveryOutcome = core.DeliveryOutcome

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorFactory          = core.WithErrorFactory
	WithErrorMapper           = core.WithErrorMapper
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithSnapshotStore         = core.WithSnapshotStore
	WithDeliveryLogArchive    = core.WithDeliveryLogArchive
	WithSigningSecretProvider = core.WithSigningSecretProvider
	WithPayloadSigner         = core.WithPayloadSigner
	WithDeliveryAuthorizer    = core.WithDeliveryAuthorizer
	WithTransportAdapter      = core.WithTransportAdapter
	WithInflightLedger        = core.WithInflightLedger
	WithConditionEvaluator    = core.WithConditionEvaluator
	WithDeliveryQueue         = core.WithDeliveryQueue
	WithRateLimitPolicy       = core.WithRateLimitPolicy
	WithDeploymentStatusSink  = core.WithDeploymentStatusSink
	WithIDGenerator           = core.WithIDGenerator
	WithClock                 = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
