package core

import "packcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Address            = domain.Address
	RequestID          = domain.RequestID
	OrderStatus        = domain.OrderStatus
	Severity           = domain.Severity
	Blueprint          = domain.Blueprint
	Collection         = domain.Collection
	Token              = domain.Token
	PurchaseOrder      = domain.PurchaseOrder
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityBlueprint     = domain.EntityBlueprint
	EntityCollection    = domain.EntityCollection
	EntityToken         = domain.EntityToken
	EntityPurchaseOrder = domain.EntityPurchaseOrder
)

const (
	OrderRequested = domain.OrderRequested
	OrderFulfilled = domain.OrderFulfilled
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
