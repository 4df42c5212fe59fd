package core

import (
	"context"
	"time"

	"packcore/pkg/domain"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the current time reported by the wrapped function.
func (f ClockFunc) Now() time.Time { return f() }

// Logger is the minimal leveled logging surface used by the service. It is
// shaped after log/slog so a *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes service operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// AuditStatus marks an audit entry outcome.
type AuditStatus string

// Audit entry outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry records one service operation for compliance trails.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for committed and failed operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// TraceSpan ends a traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

// operationMetadata maps service operations onto the entity and action they
// audit as. Operations absent from the table are not audited.
var operationMetadata = map[string]struct {
	entity domain.EntityType
	action domain.Action
}{
	OpCreateBlueprint:  {domain.EntityBlueprint, domain.ActionCreate},
	OpCreateCollection: {domain.EntityCollection, domain.ActionCreate},
	OpMintToken:        {domain.EntityToken, domain.ActionCreate},
	OpTransferToken:    {domain.EntityToken, domain.ActionUpdate},
	OpBuyPack:          {domain.EntityPurchaseOrder, domain.ActionCreate},
	OpFulfillOrder:     {domain.EntityPurchaseOrder, domain.ActionUpdate},
}

// Service operation names used in metrics, audit entries, and trace spans.
const (
	OpCreateBlueprint  = "create_blueprint"
	OpCreateCollection = "create_collection"
	OpMintToken        = "mint_token"
	OpTransferToken    = "transfer_token"
	OpBuyPack          = "buy_pack"
	OpFulfillOrder     = "fulfill_order"
)
