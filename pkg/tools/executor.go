package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/docs"
	"tenantops/pkg/logx"
	"tenantops/pkg/metrics"
	"tenantops/pkg/notify"
	"tenantops/pkg/persistence"
	"tenantops/pkg/ranking"
	"tenantops/pkg/storage"
	"tenantops/pkg/tenancy"
	"tenantops/pkg/tracing"
)

// Store is the persistence surface the handlers use.
type Store interface {
	WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error
	ListRecentPayments(ctx context.Context, leaseID string, limit int) ([]*persistence.Payment, error)
	GetActivePaymentPlan(ctx context.Context, leaseID string) (*persistence.PaymentPlan, error)
	ListContractorsForTrade(ctx context.Context, landlordID, trade string) ([]*persistence.Contractor, error)
	InsertMaintenanceRequest(ctx context.Context, r *persistence.MaintenanceRequest) error
	InsertLegalAction(ctx context.Context, a *persistence.LegalAction) error
	InsertLandlordNotification(ctx context.Context, n *persistence.LandlordNotification) error
	InsertAgentAction(ctx context.Context, a *persistence.AgentAction) error
	GetConversationContext(ctx context.Context, leaseID string) (*persistence.ConversationContext, error)
	SaveConversationContext(ctx context.Context, cc *persistence.ConversationContext) error
}

// Executor runs tool calls against the store and external collaborators.
type Executor struct {
	store     Store
	ranker    ranking.Strategy
	documents docs.Generator
	objects   storage.Store
	publisher notify.Publisher
	recorder  metrics.Recorder
	now       func() time.Time
	logger    *logx.Logger

	mu          sync.Mutex
	escalations map[string]escalationWrite // by lease id
}

// Option configures an Executor.
type Option func(*Executor)

// WithRanker sets the contractor ranking strategy (default first match).
func WithRanker(r ranking.Strategy) Option {
	return func(e *Executor) { e.ranker = r }
}

// WithDocuments sets the notice generator (default HTML).
func WithDocuments(g docs.Generator) Option {
	return func(e *Executor) { e.documents = g }
}

// WithObjectStore sets where generated notices are uploaded. Without one, notices are
// recorded with no document URL.
func WithObjectStore(s storage.Store) Option {
	return func(e *Executor) { e.objects = s }
}

// WithPublisher sets the outbound notification sink (default log).
func WithPublisher(p notify.Publisher) Option {
	return func(e *Executor) { e.publisher = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithClock overrides time.Now, used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor over store.
func NewExecutor(store Store, opts ...Option) *Executor {
	e := &Executor{
		store:       store,
		ranker:      ranking.FirstMatch{},
		documents:   docs.NewHTMLGenerator(),
		publisher:   notify.NewLogPublisher(),
		recorder:    metrics.Noop{},
		now:         time.Now,
		logger:      logx.NewLogger("tools"),
		escalations: make(map[string]escalationWrite),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definitions returns the tool definitions to offer the model.
func (e *Executor) Definitions() []llm.ToolDefinition {
	return Definitions()
}

// Execute validates and runs one tool call requested by the model. Handler failures are
// returned as failed results, never as errors, so the caller can feed them back.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any, tc *tenancy.TenantContext) Result {
	ctx, span := tracing.Start(ctx, "tool."+name, attribute.String("tool.name", name))

	res, err := e.safeExecute(ctx, name, params, tc)
	switch {
	case errors.Is(err, ErrUnknownTool):
		res = Result{Error: "Unknown tool: " + name}
	case err != nil:
		res = Failed(err)
	}
	if err != nil {
		e.logger.Warn("⚠️  Tool %s failed: %v", name, err)
	} else {
		e.logger.Info("🔧 Tool %s completed (high severity: %t)", name, res.IsHighSeverity)
	}

	e.recorder.ObserveTool(name, res.Success)
	span.SetAttributes(attribute.Bool("tool.success", res.Success), attribute.Bool("tool.high_severity", res.IsHighSeverity))
	tracing.End(span, err)
	return res
}

// safeExecute turns a handler panic into an error so one bad call cannot end the turn.
func (e *Executor) safeExecute(ctx context.Context, name string, params map[string]any, tc *tenancy.TenantContext) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("tool %s panicked: %v", name, r)
		}
	}()
	return e.execute(ctx, name, params, tc)
}

func (e *Executor) execute(ctx context.Context, name string, params map[string]any, tc *tenancy.TenantContext) (Result, error) {
	if tc == nil || tc.Lease == nil {
		return Result{}, fmt.Errorf("tool %s called without a tenant context", name)
	}
	call, err := Parse(name, params)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("tool %s cancelled: %w", name, err)
	}
	return e.Dispatch(ctx, call, tc)
}

// Dispatch runs a typed call.
func (e *Executor) Dispatch(ctx context.Context, call Call, tc *tenancy.TenantContext) (Result, error) {
	switch c := call.(type) {
	case GetRentStatus:
		return e.getRentStatus(ctx, c, tc)
	case ScheduleMaintenance:
		return e.scheduleMaintenance(ctx, c, tc)
	case IssueLegalNotice:
		return e.issueLegalNotice(ctx, c, tc)
	case UpdateEscalationLevel:
		return e.updateEscalationLevel(ctx, c, tc)
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnknownTool, call)
	}
}

// audit writes the agent_actions row every handler leaves behind.
func (e *Executor) audit(ctx context.Context, tc *tenancy.TenantContext, call Call, category, description, output string, confidence float64) error {
	action := &persistence.AgentAction{
		ID:                persistence.NewID(),
		LeaseID:           tc.Lease.ID,
		ActionCategory:    category,
		ActionDescription: description,
		ToolsCalled:       []string{call.ToolName()},
		InputSummary:      summarize(call),
		OutputSummary:     output,
		ConfidenceScore:   confidence,
	}
	err := e.store.WithRetry(ctx, "insert agent action", func(ctx context.Context) error {
		return e.store.InsertAgentAction(ctx, action)
	})
	if err != nil {
		return fmt.Errorf("failed to write audit row for %s: %w", call.ToolName(), err)
	}
	return nil
}

// notifyLandlord persists a landlord notification, then publishes it best effort.
func (e *Executor) notifyLandlord(ctx context.Context, tc *tenancy.TenantContext, n *persistence.LandlordNotification) error {
	n.ID = persistence.NewID()
	n.LandlordID = tc.LandlordID
	n.LeaseID = tc.Lease.ID
	err := e.store.WithRetry(ctx, "insert landlord notification", func(ctx context.Context) error {
		return e.store.InsertLandlordNotification(ctx, n)
	})
	if err != nil {
		return fmt.Errorf("failed to write landlord notification: %w", err)
	}
	e.publish(ctx, notify.Event{
		ID:         n.ID,
		Kind:       notify.KindLandlordNotification,
		LandlordID: tc.LandlordID,
		LeaseID:    tc.Lease.ID,
		Recipient:  tc.LandlordID,
		Urgency:    n.NotificationType,
		Message:    n.Message,
		CreatedAt:  e.now().UTC(),
	})
	return nil
}

func (e *Executor) publish(ctx context.Context, ev notify.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("⚠️  Failed to publish %s %s: %v", ev.Kind, ev.ID, err)
	}
}

func (e *Executor) unitLabel(tc *tenancy.TenantContext) (unit, address string) {
	if tc.Unit == nil {
		return "the property", ""
	}
	return tc.Unit.UnitIdentifier, tc.Unit.Address
}

func (e *Executor) tenantName(tc *tenancy.TenantContext) string {
	if tc.Tenant == nil {
		return "the tenant"
	}
	return tc.Tenant.FullName
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
