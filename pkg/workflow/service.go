package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"tenantops/pkg/analysis"
	"tenantops/pkg/logx"
	"tenantops/pkg/metrics"
	"tenantops/pkg/notify"
	"tenantops/pkg/persistence"
	"tenantops/pkg/policy"
	"tenantops/pkg/ranking"
	"tenantops/pkg/tracing"
)

// Fixed communication texts.
const (
	OwnerNotifiedMessage  = "Maintenance request submitted. Owner has been notified for approval."
	SelfResolutionMessage = "Based on the issue description, this can be resolved without a contractor. Instructions have been sent to the tenant."
	VendorContactedPrefix = "Vendor contacted with message: "

	// ETALayout renders vendor arrival times for the tenant, e.g. "March 05 at 02:30 PM".
	ETALayout = "January 02 at 03:04 PM"

	// DefaultListLimit applies when a List filter has no limit.
	DefaultListLimit = 50
)

// Analyzer classifies a maintenance description.
type Analyzer interface {
	Analyze(ctx context.Context, description, unitAddress, tenantName string) (analysis.AIAnalysis, error)
}

// Messenger drafts the contractor outreach message.
type Messenger interface {
	Compose(ctx context.Context, brief analysis.VendorBrief) string
}

// Service runs workflow commands. Every command loads the workflow, applies its transitions in
// memory and commits them in one transaction guarded by a compare-and-set on state and version.
type Service struct {
	store     *persistence.Store
	analyzer  Analyzer
	messenger Messenger
	ranker    ranking.Strategy
	publisher notify.Publisher
	recorder  metrics.Recorder
	now       func() time.Time
	logger    *logx.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRanker sets the contractor ranking strategy for vendor outreach.
func WithRanker(r ranking.Strategy) Option {
	return func(s *Service) { s.ranker = r }
}

// WithPublisher sets the sink for owner, vendor and tenant messages.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a workflow service. Nil analyzer or messenger fall back to the keyword
// analysis and the fixed outreach template.
func NewService(store *persistence.Store, analyzer Analyzer, messenger Messenger, opts ...Option) *Service {
	if analyzer == nil {
		analyzer = analysis.NewAnalyzer(nil)
	}
	if messenger == nil {
		messenger = analysis.NewVendorMessenger(nil)
	}
	s := &Service{
		store:     store,
		analyzer:  analyzer,
		messenger: messenger,
		ranker:    ranking.FirstMatch{},
		publisher: notify.NewLogPublisher(),
		recorder:  metrics.Noop{},
		now:       time.Now,
		logger:    logx.NewLogger("workflow"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest starts a workflow.
type SubmitRequest struct {
	LeaseID     string
	Description string
	// Policy overrides the landlord's stored policy when set.
	Policy *policy.AutoApproval
}

// VendorResponse is a contractor's answer to outreach.
type VendorResponse struct {
	WorkflowID string
	// ContractorID defaults to the contractor chosen at outreach.
	ContractorID string
	ETA          time.Time
	Notes        string
}

// Completion closes out the repair.
type Completion struct {
	WorkflowID string
	Notes      string
	ActualCost *float64
}

// Status is the full view of one workflow.
type Status struct {
	Workflow       *persistence.MaintenanceWorkflow
	Communications []*persistence.WorkflowCommunication // oldest first
	VendorBids     []*persistence.VendorBid             // newest first
	History        []persistence.StateEntry
}

// ListFilter narrows List.
type ListFilter struct {
	State  State
	Limit  int
	Offset int
}

// details is what outreach and messages need beyond the workflow row.
type details struct {
	request *persistence.MaintenanceRequest
	unit    *persistence.Unit
	tenant  *persistence.Tenant // nil when the lease has no primary tenant
}

func (d *details) unitAddress() string {
	return fmt.Sprintf("%s, %s", d.unit.UnitIdentifier, d.unit.Address)
}

func (d *details) tenantName() string {
	if d.tenant == nil {
		return ""
	}
	return d.tenant.FullName
}

// Submit analyzes the description, creates the request and workflow, and either auto-approves
// it under the landlord policy or notifies the owner.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (wf *persistence.MaintenanceWorkflow, err error) {
	ctx, span := tracing.Start(ctx, "workflow.submit", attribute.String("lease.id", req.LeaseID))
	defer func() { tracing.End(span, err) }()

	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if req.Policy != nil {
		if err := req.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	d := &details{}
	var lease *persistence.Lease
	err = s.read(ctx, "load lease", func(ctx context.Context) error {
		var err error
		if lease, err = s.store.GetLease(ctx, req.LeaseID); err != nil {
			return err
		}
		if d.unit, err = s.store.GetUnit(ctx, lease.UnitID); err != nil {
			return err
		}
		d.tenant, err = optional(s.store.GetPrimaryTenant(ctx, lease.ID))
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown lease %s", ErrInvalidInput, req.LeaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lease %s: %w", req.LeaseID, err)
	}

	result, err := s.analyzer.Analyze(ctx, description, d.unitAddress(), d.tenantName())
	if err != nil {
		return nil, fmt.Errorf("failed to analyze request: %w", err)
	}
	s.logger.Info("🔍 Analysis for lease %s: %s/%s cost %s vendor=%t confidence %.2f",
		lease.ID, result.Category, result.Urgency, result.EstimatedCostRange, result.VendorRequired, result.ConfidenceScore)

	p, err := s.resolvePolicy(ctx, req.Policy, d.unit.LandlordID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	d.request = &persistence.MaintenanceRequest{
		ID:          persistence.NewID(),
		LeaseID:     lease.ID,
		Category:    string(result.Category),
		Description: description,
		Urgency:     string(result.Urgency),
		Status:      persistence.RequestOpen,
	}
	wf = &persistence.MaintenanceWorkflow{
		ID:                   persistence.NewID(),
		MaintenanceRequestID: d.request.ID,
		LeaseID:              lease.ID,
		LandlordID:           d.unit.LandlordID,
		CurrentState:         string(StateSubmitted),
		AIAnalysis:           result,
		StateHistory:         []persistence.StateEntry{{To: string(StateSubmitted), At: now, Note: "workflow_created"}},
	}

	c := s.newCommand("submit", wf, d)
	c.created = true
	c.requestDirty = true
	tenantID := ""
	if d.tenant != nil {
		tenantID = d.tenant.ID
	}
	c.say(persistence.SenderTenant, tenantID, description)

	if policy.AutoApprove(p, result) {
		wf.OwnerResponse = string(DecisionApproved)
		wf.OwnerMessage = policy.Reason(p, result)
		if err := c.transition(StateDecisionMade, "auto_approved"); err != nil {
			return nil, err
		}
		c.say(persistence.SenderSystem, "", wf.OwnerMessage)
		if err := s.afterDecision(ctx, c); err != nil {
			return nil, err
		}
	} else {
		if err := c.transition(StateOwnerNotified, "owner_notified"); err != nil {
			return nil, err
		}
		c.say(persistence.SenderSystem, "", OwnerNotifiedMessage)
		c.publish(notify.KindWorkflowMessage, wf.LandlordID, string(result.Urgency), fmt.Sprintf(
			"New maintenance request at %s: %s. Category %s, urgency %s, estimated cost %s. Reply approved, denied or question.",
			d.unitAddress(), description, result.Category, result.Urgency, result.EstimatedCostRange))
	}

	if err := s.commit(ctx, c); err != nil {
		return nil, err
	}
	return wf, nil
}

// OwnerRespond applies the owner's decision. A question keeps the workflow waiting in
// OWNER_NOTIFIED and records the owner's message; a later decision proceeds normally.
func (s *Service) OwnerRespond(ctx context.Context, workflowID string, decision Decision, message string) (wf *persistence.MaintenanceWorkflow, err error) {
	ctx, span := tracing.Start(ctx, "workflow.owner_respond",
		attribute.String("workflow.id", workflowID), attribute.String("workflow.decision", string(decision)))
	defer func() { tracing.End(span, err) }()

	if _, err := ParseDecision(string(decision)); err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)

	wf, err = s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	from := State(wf.CurrentState)
	if from != StateOwnerNotified {
		return nil, &InvalidTransitionError{From: from, To: decisionTarget(decision)}
	}

	c := s.newCommand("owner_respond", wf, nil)
	wf.OwnerResponse = string(decision)
	wf.OwnerMessage = message

	switch decision {
	case DecisionApproved:
		c.say(persistence.SenderOwner, wf.LandlordID, orDefault(message, "Approved."))
		if err := c.transition(StateOwnerResponded, "approved"); err != nil {
			return nil, err
		}
		if err := c.transition(StateDecisionMade, "approved"); err != nil {
			return nil, err
		}
		if c.details, err = s.loadDetails(ctx, wf); err != nil {
			return nil, err
		}
		if err := s.afterDecision(ctx, c); err != nil {
			return nil, err
		}

	case DecisionDenied:
		c.say(persistence.SenderOwner, wf.LandlordID, orDefault(message, "Denied."))
		if err := c.transition(StateClosedDenied, "denied"); err != nil {
			return nil, err
		}
		if c.details, err = s.loadDetails(ctx, wf); err != nil {
			return nil, err
		}
		c.details.request.Status = persistence.RequestCancelled
		c.requestDirty = true

	case DecisionQuestion:
		if message == "" {
			return nil, fmt.Errorf("%w: a question needs a message", ErrInvalidInput)
		}
		c.say(persistence.SenderOwner, wf.LandlordID, message)
	}

	if err := s.commit(ctx, c); err != nil {
		return nil, err
	}
	return wf, nil
}

// VendorRespond records the contractor's ETA, schedules the request, notifies the tenant and
// starts the work.
func (s *Service) VendorRespond(ctx context.Context, resp VendorResponse) (wf *persistence.MaintenanceWorkflow, err error) {
	ctx, span := tracing.Start(ctx, "workflow.vendor_respond", attribute.String("workflow.id", resp.WorkflowID))
	defer func() { tracing.End(span, err) }()

	if resp.ETA.IsZero() {
		return nil, fmt.Errorf("%w: eta is required", ErrInvalidInput)
	}

	wf, err = s.load(ctx, resp.WorkflowID)
	if err != nil {
		return nil, err
	}
	from := State(wf.CurrentState)
	if from != StateAwaitingVendorResponse {
		return nil, &InvalidTransitionError{From: from, To: StateETAConfirmed}
	}

	contractorID := orDefault(strings.TrimSpace(resp.ContractorID), wf.ContractorID)
	if contractorID == "" {
		return nil, fmt.Errorf("%w: no contractor was chosen at outreach, one must be given", ErrInvalidInput)
	}
	var contractor *persistence.Contractor
	err = s.read(ctx, "load contractor", func(ctx context.Context) error {
		var err error
		contractor, err = s.store.GetContractor(ctx, contractorID)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown contractor %s", ErrInvalidInput, contractorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contractor: %w", err)
	}

	c := s.newCommand("vendor_respond", wf, nil)
	if c.details, err = s.loadDetails(ctx, wf); err != nil {
		return nil, err
	}

	eta := resp.ETA
	notes := strings.TrimSpace(resp.Notes)
	wf.VendorETA = &eta
	wf.VendorNotes = notes
	wf.ContractorID = contractor.ID

	hours := int(math.Ceil(eta.Sub(c.now).Hours()))
	c.bids = append(c.bids, &persistence.VendorBid{
		WorkflowID:               wf.ID,
		ContractorID:             contractor.ID,
		EstimatedCompletionHours: max(hours, 0),
		Message:                  notes,
		IsSelected:               true,
	})

	vendorMsg := fmt.Sprintf("%s confirmed arrival at %s.", contractor.Name, eta.Format(ETALayout))
	if notes != "" {
		vendorMsg += " Notes: " + notes
	}
	c.say(persistence.SenderVendor, contractor.ID, vendorMsg)

	if err := c.transition(StateETAConfirmed, "eta_confirmed"); err != nil {
		return nil, err
	}
	if err := c.transition(StateTenantNotified, "eta_notification"); err != nil {
		return nil, err
	}
	tenantMsg := TenantETAMessage(eta)
	c.say(persistence.SenderSystem, "", tenantMsg)
	if c.details.tenant != nil {
		c.publish(notify.KindWorkflowMessage, c.details.tenant.ID, string(wf.AIAnalysis.Urgency), tenantMsg)
	}
	if err := c.transition(StateInProgress, "work_started"); err != nil {
		return nil, err
	}

	c.details.request.ContractorID = contractor.ID
	c.details.request.ScheduledAt = &eta
	c.details.request.Status = persistence.RequestInProgress
	c.requestDirty = true

	if err := s.commit(ctx, c); err != nil {
		return nil, err
	}
	return wf, nil
}

// Complete marks an in-progress workflow and its request completed.
func (s *Service) Complete(ctx context.Context, in Completion) (wf *persistence.MaintenanceWorkflow, err error) {
	ctx, span := tracing.Start(ctx, "workflow.complete", attribute.String("workflow.id", in.WorkflowID))
	defer func() { tracing.End(span, err) }()

	if in.ActualCost != nil && *in.ActualCost < 0 {
		return nil, fmt.Errorf("%w: actual cost cannot be negative", ErrInvalidInput)
	}

	wf, err = s.load(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}
	from := State(wf.CurrentState)
	if from != StateInProgress {
		return nil, &InvalidTransitionError{From: from, To: StateCompleted}
	}

	c := s.newCommand("complete", wf, nil)
	if c.details, err = s.loadDetails(ctx, wf); err != nil {
		return nil, err
	}

	msg := "Repair completed."
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		msg += " " + notes
	}
	if in.ActualCost != nil {
		msg += fmt.Sprintf(" Actual cost: £%.2f.", *in.ActualCost)
	}
	c.say(persistence.SenderSystem, "", msg)
	if err := c.transition(StateCompleted, "completed"); err != nil {
		return nil, err
	}

	completedAt := c.now
	c.details.request.Status = persistence.RequestCompleted
	c.details.request.CompletedAt = &completedAt
	c.details.request.Cost = in.ActualCost
	c.requestDirty = true

	if err := s.commit(ctx, c); err != nil {
		return nil, err
	}
	return wf, nil
}

// Status returns the workflow with its communications, bids and history.
func (s *Service) Status(ctx context.Context, workflowID string) (*Status, error) {
	wf, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	st := &Status{Workflow: wf, History: wf.StateHistory}
	err = s.read(ctx, "load workflow trail", func(ctx context.Context) error {
		var err error
		if st.Communications, err = s.store.ListCommunications(ctx, wf.ID); err != nil {
			return err
		}
		st.VendorBids, err = s.store.ListVendorBids(ctx, wf.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load trail for workflow %s: %w", workflowID, err)
	}
	return st, nil
}

// List returns workflows newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*persistence.MaintenanceWorkflow, error) {
	if f.State != "" && !IsValidState(f.State) {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidInput, f.State)
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	var out []*persistence.MaintenanceWorkflow
	err := s.read(ctx, "list workflows", func(ctx context.Context) error {
		var err error
		out, err = s.store.ListWorkflows(ctx, persistence.WorkflowFilter{State: string(f.State), Limit: f.Limit, Offset: f.Offset})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return out, nil
}

// TenantETAMessage is the tenant notification sent once a vendor confirms.
func TenantETAMessage(eta time.Time) string {
	return "Good news! A contractor has been scheduled for your maintenance request. They will arrive on " +
		eta.Format(ETALayout) + "."
}

// afterDecision leaves DECISION_MADE: vendor outreach when the analysis needs a vendor,
// otherwise straight to IN_PROGRESS with self-resolution instructions.
func (s *Service) afterDecision(ctx context.Context, c *command) error {
	wf := c.wf
	if !wf.AIAnalysis.VendorRequired {
		c.say(persistence.SenderSystem, "", SelfResolutionMessage)
		if err := c.transition(StateInProgress, "self_resolution"); err != nil {
			return err
		}
		c.details.request.Status = persistence.RequestInProgress
		c.requestDirty = true
		return nil
	}

	if err := c.transition(StateVendorContacted, "vendor_required"); err != nil {
		return err
	}
	contractor, err := s.pickContractor(ctx, wf)
	if err != nil {
		return err
	}
	brief := analysis.VendorBrief{
		VendorName:  "Contractor",
		Description: c.details.request.Description,
		Urgency:     wf.AIAnalysis.Urgency,
		UnitAddress: c.details.unitAddress(),
		TenantName:  c.details.tenantName(),
	}
	if contractor != nil {
		brief.VendorName = contractor.Name
		wf.ContractorID = contractor.ID
		c.details.request.ContractorID = contractor.ID
		c.details.request.Status = persistence.RequestAssigned
		c.requestDirty = true
	} else {
		s.logger.Warn("⚠️  No %s contractor for landlord %s, outreach needs a manual pick", wf.AIAnalysis.Category, wf.LandlordID)
	}

	wf.VendorMessage = s.messenger.Compose(ctx, brief)
	c.say(persistence.SenderSystem, "", VendorContactedPrefix+wf.VendorMessage)
	if contractor != nil {
		c.publish(notify.KindVendorRequest, contractor.ID, string(wf.AIAnalysis.Urgency), wf.VendorMessage)
	}
	return c.transition(StateAwaitingVendorResponse, "awaiting_vendor")
}

// pickContractor ranks the landlord's contractors for the analysed category.
func (s *Service) pickContractor(ctx context.Context, wf *persistence.MaintenanceWorkflow) (*persistence.Contractor, error) {
	var all []*persistence.Contractor
	err := s.read(ctx, "list contractors", func(ctx context.Context) error {
		all = all[:0]
		seen := map[string]bool{}
		for _, trade := range tradesFor(wf.AIAnalysis.Category) {
			found, err := s.store.ListContractorsForTrade(ctx, wf.LandlordID, trade)
			if err != nil {
				return err
			}
			for _, c := range found {
				if !seen[c.ID] {
					seen[c.ID] = true
					all = append(all, c)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load contractors: %w", err)
	}
	return ranking.Select(ctx, s.ranker, ranking.Request{ //nolint:wrapcheck // already names the strategy
		Category:  string(wf.AIAnalysis.Category),
		Urgency:   string(wf.AIAnalysis.Urgency),
		Emergency: wf.AIAnalysis.Urgency == analysis.UrgencyEmergency,
	}, all)
}

// tradesFor maps an analysis category onto contractor trade names.
func tradesFor(c analysis.Category) []string {
	if c == analysis.CategoryHVAC {
		return []string{string(c), "heating"}
	}
	return []string{string(c)}
}

func (s *Service) resolvePolicy(ctx context.Context, explicit *policy.AutoApproval, landlordID string) (policy.AutoApproval, error) {
	if explicit != nil {
		return *explicit, nil
	}
	var p policy.AutoApproval
	err := s.read(ctx, "load auto-approval policy", func(ctx context.Context) error {
		var err error
		p, err = s.store.GetAutoApprovalPolicy(ctx, landlordID)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return policy.Disabled(), nil
	}
	if err != nil {
		return policy.AutoApproval{}, fmt.Errorf("failed to load auto-approval policy: %w", err)
	}
	return p, nil
}

func (s *Service) load(ctx context.Context, id string) (*persistence.MaintenanceWorkflow, error) {
	var wf *persistence.MaintenanceWorkflow
	err := s.read(ctx, "load workflow", func(ctx context.Context) error {
		var err error
		wf, err = s.store.GetWorkflow(ctx, id)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	return wf, nil
}

func (s *Service) loadDetails(ctx context.Context, wf *persistence.MaintenanceWorkflow) (*details, error) {
	d := &details{}
	err := s.read(ctx, "load workflow details", func(ctx context.Context) error {
		var err error
		if d.request, err = s.store.GetMaintenanceRequest(ctx, wf.MaintenanceRequestID); err != nil {
			return err
		}
		lease, err := s.store.GetLease(ctx, wf.LeaseID)
		if err != nil {
			return err
		}
		if d.unit, err = s.store.GetUnit(ctx, lease.UnitID); err != nil {
			return err
		}
		d.tenant, err = optional(s.store.GetPrimaryTenant(ctx, lease.ID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load details for workflow %s: %w", wf.ID, err)
	}
	return d, nil
}

func (s *Service) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.store.WithRetry(ctx, op, fn) //nolint:wrapcheck // callers wrap
}

// commit writes the command's changes atomically. The workflow write is a compare-and-set on
// the state and version the command started from.
func (s *Service) commit(ctx context.Context, c *command) error {
	version := c.wf.Version
	err := s.store.InTx(ctx, func(tx *persistence.Store) error {
		c.wf.Version = version
		if c.created {
			if err := tx.InsertMaintenanceRequest(ctx, c.details.request); err != nil {
				return err
			}
			if err := tx.InsertWorkflow(ctx, c.wf); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateWorkflow(ctx, c.wf, string(c.start)); err != nil {
				return err
			}
			if c.requestDirty {
				if err := tx.UpdateMaintenanceRequest(ctx, c.details.request); err != nil {
					return err
				}
			}
		}
		for _, b := range c.bids {
			if err := tx.InsertVendorBid(ctx, b); err != nil {
				return err
			}
		}
		for _, m := range c.comms {
			m.WorkflowID = c.wf.ID
			if err := tx.InsertCommunication(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, persistence.ErrStaleWrite) {
		s.recorder.ObserveConflict(c.name)
		s.logger.Warn("⚠️  %s on workflow %s lost a race from %s", c.name, c.wf.ID, c.start)
		return fmt.Errorf("%w: %s: %w", ErrConcurrentUpdate, c.wf.ID, err)
	}
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", c.wf.ID, err)
	}

	for _, t := range c.transitions {
		s.recorder.ObserveTransition(string(t.from), string(t.to))
		s.logger.Info("🔄 Workflow %s: %s -> %s", c.wf.ID, t.from, t.to)
	}
	if len(c.transitions) > 0 {
		first, last := c.transitions[0], c.transitions[len(c.transitions)-1]
		c.publish(notify.KindWorkflowTransition, c.wf.LandlordID, "",
			fmt.Sprintf("Workflow %s moved from %s to %s", c.wf.ID, first.from, last.to))
	}
	for _, ev := range c.events {
		ev.WorkflowID = c.wf.ID
		ev.LeaseID = c.wf.LeaseID
		ev.LandlordID = c.wf.LandlordID
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("⚠️  Failed to publish %s for workflow %s: %v", ev.Kind, c.wf.ID, err)
		}
	}
	return nil
}

type transition struct {
	from, to State
}

// command accumulates one operation's changes before commit.
type command struct {
	name         string
	wf           *persistence.MaintenanceWorkflow
	start        State
	details      *details
	created      bool
	requestDirty bool
	comms        []*persistence.WorkflowCommunication
	bids         []*persistence.VendorBid
	events       []notify.Event
	transitions  []transition
	now          time.Time
}

func (s *Service) newCommand(name string, wf *persistence.MaintenanceWorkflow, d *details) *command {
	return &command{
		name:    name,
		wf:      wf,
		start:   State(wf.CurrentState),
		details: d,
		now:     s.now().UTC(),
	}
}

func (c *command) transition(to State, note string) error {
	from := State(c.wf.CurrentState)
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	c.wf.StateHistory = append(c.wf.StateHistory, persistence.StateEntry{
		From: string(from), To: string(to), At: c.now, Note: note,
	})
	c.wf.CurrentState = string(to)
	c.transitions = append(c.transitions, transition{from: from, to: to})
	return nil
}

func (c *command) say(sender, senderID, message string) {
	c.comms = append(c.comms, &persistence.WorkflowCommunication{
		ID:         persistence.NewID(),
		SenderType: sender,
		SenderID:   senderID,
		Message:    message,
	})
}

func (c *command) publish(kind notify.Kind, recipient, urgency, message string) {
	c.events = append(c.events, notify.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Recipient: recipient,
		Urgency:   urgency,
		Message:   message,
		CreatedAt: c.now,
	})
}

func decisionTarget(d Decision) State {
	switch d {
	case DecisionDenied:
		return StateClosedDenied
	case DecisionQuestion:
		return StateOwnerNotified
	default:
		return StateOwnerResponded
	}
}

// optional turns ErrNotFound into a nil record.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
