package workflow_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantops/internal/mocks"
	"tenantops/pkg/analysis"
	"tenantops/pkg/notify"
	"tenantops/pkg/persistence"
	"tenantops/pkg/policy"
	"tenantops/pkg/testkit"
	"tenantops/pkg/workflow"
)

//nolint:gochecknoglobals // test clock
var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fixedAnalyzer returns the same analysis for every description.
type fixedAnalyzer struct {
	result analysis.AIAnalysis
	calls  int
}

func (a *fixedAnalyzer) Analyze(context.Context, string, string, string) (analysis.AIAnalysis, error) {
	a.calls++
	return a.result, nil
}

// recordingMessenger captures briefs and can run a hook before answering.
type recordingMessenger struct {
	briefs []analysis.VendorBrief
	hook   func()
}

func (m *recordingMessenger) Compose(_ context.Context, brief analysis.VendorBrief) string {
	m.briefs = append(m.briefs, brief)
	if m.hook != nil {
		m.hook()
	}
	return analysis.FallbackVendorMessage(brief)
}

type recorder struct {
	mu          sync.Mutex
	transitions []string
	conflicts   []string
}

func (r *recorder) ObserveLoop(string, int, time.Duration) {}
func (r *recorder) ObserveTool(string, bool)               {}

func (r *recorder) ObserveTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *recorder) ObserveConflict(command string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, command)
}

func leakAnalysis() analysis.AIAnalysis {
	return analysis.AIAnalysis{
		Category:           analysis.CategoryPlumbing,
		Urgency:            analysis.UrgencyHigh,
		EstimatedCostRange: analysis.CostLow,
		VendorRequired:     true,
		Reasoning:          "Leak under the sink needs a plumber",
		ConfidenceScore:    0.92,
	}
}

func enabledPolicy() policy.AutoApproval {
	return policy.AutoApproval{
		Enabled:          true,
		MinConfidence:    0.8,
		MaxCostRange:     analysis.CostLow,
		ExcludeEmergency: true,
	}
}

type fixture struct {
	store     *persistence.Store
	ten       *testkit.Tenancy
	analyzer  *fixedAnalyzer
	messenger *recordingMessenger
	pub       *mocks.MockPublisher
	rec       *recorder
	svc       *workflow.Service
}

func newFixture(t *testing.T, b *testkit.TenancyBuilder, a analysis.AIAnalysis) *fixture {
	t.Helper()
	store := testkit.NewStore(t)
	f := &fixture{
		store:     store,
		ten:       b.Seed(t, store),
		analyzer:  &fixedAnalyzer{result: a},
		messenger: &recordingMessenger{},
		pub:       mocks.NewMockPublisher(),
		rec:       &recorder{},
	}
	f.svc = workflow.NewService(store, f.analyzer, f.messenger,
		workflow.WithPublisher(f.pub),
		workflow.WithRecorder(f.rec),
		workflow.WithClock(func() time.Time { return fixedNow }))
	return f
}

func withPlumber() *testkit.TenancyBuilder {
	return testkit.NewTenancy().WithContractor("Dave's Plumbing", []string{"plumbing"}, true)
}

func (f *fixture) submit(t *testing.T, p *policy.AutoApproval) *persistence.MaintenanceWorkflow {
	t.Helper()
	wf, err := f.svc.Submit(context.Background(), workflow.SubmitRequest{
		LeaseID:     f.ten.Lease.ID,
		Description: "water leak under sink",
		Policy:      p,
	})
	require.NoError(t, err)
	return wf
}

func (f *fixture) status(t *testing.T, id string) *workflow.Status {
	t.Helper()
	st, err := f.svc.Status(context.Background(), id)
	require.NoError(t, err)
	return st
}

func TestSubmitWithoutAutoApproval(t *testing.T) {
	f := newFixture(t, withPlumber(), leakAnalysis())
	disabled := policy.AutoApproval{Enabled: false, MinConfidence: 0.5, MaxCostRange: analysis.CostHigh}

	wf := f.submit(t, &disabled)

	testkit.AssertStatePath(t, wf, "SUBMITTED", "OWNER_NOTIFIED")
	testkit.AssertHistoryChained(t, wf)
	assert.Empty(t, wf.OwnerResponse)
	assert.Equal(t, int64(1), wf.Version)

	st := f.status(t, wf.ID)
	assert.Equal(t, string(workflow.StateOwnerNotified), st.Workflow.CurrentState)
	assert.Equal(t, leakAnalysis(), st.Workflow.AIAnalysis)
	testkit.AssertCommunication(t, st.Communications, persistence.SenderTenant, "water leak under sink")
	testkit.AssertCommunication(t, st.Communications, persistence.SenderSystem, workflow.OwnerNotifiedMessage)
	testkit.AssertNoCommunication(t, st.Communications, "Auto-approved")

	req, err := f.store.GetMaintenanceRequest(context.Background(), wf.MaintenanceRequestID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RequestOpen, req.Status)
	assert.Equal(t, "plumbing", req.Category)
	assert.Equal(t, "high", req.Urgency)

	owner := f.pub.EventsOfKind(notify.KindWorkflowMessage)
	require.Len(t, owner, 1)
	assert.Equal(t, f.ten.Landlord.ID, owner[0].Recipient)
	assert.Equal(t, wf.ID, owner[0].WorkflowID)
	assert.Contains(t, owner[0].Message, "Flat 2, 14 Rose Street")
	assert.Equal(t, []string{"SUBMITTED->OWNER_NOTIFIED"}, f.rec.transitions)
}

func TestSubmitAutoApproved(t *testing.T) {
	f := newFixture(t, withPlumber(), leakAnalysis())
	p := enabledPolicy()

	wf := f.submit(t, &p)

	testkit.AssertStatePath(t, wf, "SUBMITTED", "DECISION_MADE", "VENDOR_CONTACTED", "AWAITING_VENDOR_RESPONSE")
	testkit.AssertHistoryChained(t, wf)
	assert.Equal(t, string(workflow.DecisionApproved), wf.OwnerResponse)
	assert.True(t, strings.HasPrefix(wf.OwnerMessage, "Auto-approved"), wf.OwnerMessage)
	assert.Equal(t, f.ten.Contractors[0].ID, wf.ContractorID)

	require.Len(t, f.messenger.briefs, 1)
	brief := f.messenger.briefs[0]
	assert.Equal(t, "Dave's Plumbing", brief.VendorName)
	assert.Equal(t, "Flat 2, 14 Rose Street", brief.UnitAddress)
	assert.Equal(t, "Ana Costa", brief.TenantName)
	assert.Equal(t, analysis.UrgencyHigh, brief.Urgency)

	st := f.status(t, wf.ID)
	testkit.AssertCommunication(t, st.Communications, persistence.SenderSystem, "Auto-approved by landlord policy")
	testkit.AssertCommunication(t, st.Communications, persistence.SenderSystem, workflow.VendorContactedPrefix+"Hi Dave's Plumbing")
	assert.Equal(t, analysis.FallbackVendorMessage(brief), st.Workflow.VendorMessage)

	vendor := f.pub.EventsOfKind(notify.KindVendorRequest)
	require.Len(t, vendor, 1)
	assert.Equal(t, f.ten.Contractors[0].ID, vendor[0].Recipient)

	req, err := f.store.GetMaintenanceRequest(context.Background(), wf.MaintenanceRequestID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RequestAssigned, req.Status)
	assert.Equal(t, f.ten.Contractors[0].ID, req.ContractorID)
}

func TestStoredPolicyApplies(t *testing.T) {
	f := newFixture(t, withPlumber().WithPolicy(enabledPolicy()), leakAnalysis())

	wf := f.submit(t, nil)
	assert.Equal(t, string(workflow.StateAwaitingVendorResponse), wf.CurrentState)

	t.Run("explicit policy wins", func(t *testing.T) {
		disabled := policy.Disabled()
		wf := f.submit(t, &disabled)
		assert.Equal(t, string(workflow.StateOwnerNotified), wf.CurrentState)
	})
}

func TestEmergencyNeverAutoApproved(t *testing.T) {
	a := leakAnalysis()
	a.Urgency = analysis.UrgencyEmergency
	a.ConfidenceScore = 1
	f := newFixture(t, withPlumber(), a)

	for _, p := range []policy.AutoApproval{
		enabledPolicy(),
		{Enabled: true, MinConfidence: 0, MaxCostRange: analysis.CostHigh, ExcludeEmergency: true},
	} {
		wf := f.submit(t, &p)
		assert.Equal(t, string(workflow.StateOwnerNotified), wf.CurrentState)
		assert.Empty(t, wf.OwnerResponse)
	}
}

func TestOwnerDeniedIsTerminal(t *testing.T) {
	f := newFixture(t, withPlumber(), leakAnalysis())
	ctx := context.Background()
	wf := f.submit(t, nil)

	wf, err := f.svc.OwnerRespond(ctx, wf.ID, workflow.DecisionDenied, "Tenant damage, not covered")
	require.NoError(t, err)
	testkit.AssertStatePath(t, wf, "SUBMITTED", "OWNER_NOTIFIED", "CLOSED_DENIED")
	assert.Equal(t, "Tenant damage, not covered", wf.OwnerMessage)

	req, err := f.store.GetMaintenanceRequest(ctx, wf.MaintenanceRequestID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RequestCancelled, req.Status)

	_, err = f.svc.OwnerRespond(ctx, wf.ID, workflow.DecisionApproved, "")
	var invalid *workflow.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, workflow.StateClosedDenied, invalid.From)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = f.svc.VendorRespond(ctx, workflow.VendorResponse{WorkflowID: wf.ID, ETA: fixedNow.Add(time.Hour)})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	_, err = f.svc.Complete(ctx, workflow.Completion{WorkflowID: wf.ID})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	st := f.status(t, wf.ID)
	assert.Equal(t, string(workflow.StateClosedDenied), st.Workflow.CurrentState)
	assert.Equal(t, wf.Version, st.Workflow.Version)
}

func TestOwnerQuestionKeepsWaiting(t *testing.T) {
	f := newFixture(t, withPlumber(), leakAnalysis())
	ctx := context.Background()
	wf := f.submit(t, nil)

	_, err := f.svc.OwnerRespond(ctx, wf.ID, workflow.DecisionQuestion, "  ")
	require.ErrorIs(t, err, workflow.ErrInvalidInput)

	wf, err = f.svc.OwnerRespond(ctx, wf.ID, workflow.DecisionQuestion, "Is the water reaching the flat below?")
	require.NoError(t, err)
	testkit.AssertStatePath(t, wf, "SUBMITTED", "OWNER_NOTIFIED")
	assert.Equal(t, string(workflow.DecisionQuestion), wf.OwnerResponse)
	assert.Equal(t, int64(2), wf.Version)

	st := f.status(t, wf.ID)
	testkit.AssertCommunication(t, st.Communications, persistence.SenderOwner, "flat below")

	wf, err = f.svc.OwnerRespond(ctx, wf.ID, workflow.DecisionApproved, "Go ahead")
	require.NoError(t, err)
	testkit.AssertStatePath(t, wf, "SUBMITTED", "OWNER_NOTIFIED", "OWNER_RESPONDED", "DECISION_MADE",
		"VENDOR_CONTACTED", "AWAITING_VENDOR_RESPONSE")
	testkit.AssertHistoryChained(t, wf)
}

func TestFullVendorLifecycle(t *testing.T) {
	f := newFixture(t, withPlumber(), leakAnalysis())
	ctx := context.Background()
	wf := f.submit(t, nil)

	wf, err := f.svc.OwnerRespond(ctx, wf.ID, workflow.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateAwaitingVendorResponse), wf.CurrentState)

	eta := time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC)
	wf, err = f.svc.VendorRespond(ctx, workflow.VendorResponse{WorkflowID: wf.ID, ETA: eta, Notes: "Bringing a replacement trap"})
	require.NoError(t, err)
	require.NotNil(t, wf.VendorETA)
	assert.True(t, eta.Equal(*wf.VendorETA))

	cost := 180.0
	wf, err = f.svc.Complete(ctx, workflow.Completion{WorkflowID: wf.ID, Notes: "Trap replaced", ActualCost: &cost})
	require.NoError(t, err)

	testkit.AssertStatePath(t, wf, "SUBMITTED", "OWNER_NOTIFIED", "OWNER_RESPONDED", "DECISION_MADE",
		"VENDOR_CONTACTED", "AWAITING_VENDOR_RESPONSE", "ETA_CONFIRMED", "TENANT_NOTIFIED", "IN_PROGRESS", "COMPLETED")
	testkit.AssertHistoryChained(t, wf)
	assert.True(t, workflow.IsTerminal(workflow.State(wf.CurrentState)))

	st := f.status(t, wf.ID)
	assert.Equal(t, testkit.HistoryStates(wf.StateHistory), testkit.HistoryStates(st.History))
	testkit.AssertCommunication(t, st.Communications, persistence.SenderVendor, "Bringing a replacement trap")
	testkit.AssertCommunication(t, st.Communications, persistence.SenderSystem,
		"They will arrive on March 05 at 02:30 PM.")
	testkit.AssertCommunication(t, st.Communications, persistence.SenderSystem, "Actual cost: £180.00")

	require.Len(t, st.VendorBids, 1)
	bid := st.VendorBids[0]
	assert.True(t, bid.IsSelected)
	assert.Equal(t, f.ten.Contractors[0].ID, bid.ContractorID)
	assert.Equal(t, 102, bid.EstimatedCompletionHours)

	tenant := f.pub.EventsOfKind(notify.KindWorkflowMessage)
	require.Len(t, tenant, 2)
	assert.Equal(t, f.ten.Tenant.ID, tenant[1].Recipient)
	assert.Equal(t, workflow.TenantETAMessage(eta), tenant[1].Message)

	req, err := f.store.GetMaintenanceRequest(ctx, wf.MaintenanceRequestID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RequestCompleted, req.Status)
	require.NotNil(t, req.Cost)
	assert.InDelta(t, 180.0, *req.Cost, 1e-9)
	require.NotNil(t, req.ScheduledAt)
	require.NotNil(t, req.CompletedAt)

	_, err = f.svc.Complete(ctx, workflow.Completion{WorkflowID: wf.ID})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestNoVendorPath(t *testing.T) {
	a := leakAnalysis()
	a.Category = analysis.CategoryCosmetic
	a.Urgency = analysis.UrgencyLow
	a.VendorRequired = false
	f := newFixture(t, testkit.NewTenancy(), a)
	ctx := context.Background()

	wf := f.submit(t, nil)
	wf, err := f.svc.OwnerRespond(ctx, wf.ID, workflow.DecisionApproved, "")
	require.NoError(t, err)
	testkit.AssertStatePath(t, wf, "SUBMITTED", "OWNER_NOTIFIED", "OWNER_RESPONDED", "DECISION_MADE", "IN_PROGRESS")
	testkit.AssertNoVendorStates(t, wf)
	assert.Empty(t, f.messenger.briefs)

	_, err = f.svc.VendorRespond(ctx, workflow.VendorResponse{WorkflowID: wf.ID, ETA: fixedNow.Add(time.Hour)})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	wf, err = f.svc.Complete(ctx, workflow.Completion{WorkflowID: wf.ID})
	require.NoError(t, err)
	testkit.AssertNoVendorStates(t, wf)
	assert.Equal(t, string(workflow.StateCompleted), wf.CurrentState)

	st := f.status(t, wf.ID)
	testkit.AssertCommunication(t, st.Communications, persistence.SenderSystem, workflow.SelfResolutionMessage)
}

func TestOutreachWithoutContractor(t *testing.T) {
	p := enabledPolicy()
	f := newFixture(t, testkit.NewTenancy(), leakAnalysis())
	ctx := context.Background()

	wf := f.submit(t, &p)
	assert.Equal(t, string(workflow.StateAwaitingVendorResponse), wf.CurrentState)
	assert.Empty(t, wf.ContractorID)
	require.Len(t, f.messenger.briefs, 1)
	assert.Equal(t, "Contractor", f.messenger.briefs[0].VendorName)
	assert.Empty(t, f.pub.EventsOfKind(notify.KindVendorRequest))

	_, err := f.svc.VendorRespond(ctx, workflow.VendorResponse{WorkflowID: wf.ID, ETA: fixedNow.Add(time.Hour)})
	require.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = f.svc.VendorRespond(ctx, workflow.VendorResponse{WorkflowID: wf.ID, ContractorID: "nope", ETA: fixedNow.Add(time.Hour)})
	require.ErrorIs(t, err, workflow.ErrInvalidInput)
}

func TestHeatingContractorServesHVAC(t *testing.T) {
	a := leakAnalysis()
	a.Category = analysis.CategoryHVAC
	p := enabledPolicy()
	f := newFixture(t, testkit.NewTenancy().WithContractor("Warm Homes", []string{"heating"}, false), a)

	wf := f.submit(t, &p)
	assert.Equal(t, f.ten.Contractors[0].ID, wf.ContractorID)
}

func TestConcurrentOwnerDecisionIsRejected(t *testing.T) {
	f := newFixture(t, withPlumber(), leakAnalysis())
	ctx := context.Background()
	wf := f.submit(t, nil)

	// Another writer touches the workflow between our read and our write.
	f.messenger.hook = func() {
		other, err := f.store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		other.OwnerMessage = "changed elsewhere"
		require.NoError(t, f.store.UpdateWorkflow(ctx, other, other.CurrentState))
	}

	_, err := f.svc.OwnerRespond(ctx, wf.ID, workflow.DecisionApproved, "")
	require.ErrorIs(t, err, workflow.ErrConcurrentUpdate)
	assert.Equal(t, []string{"owner_respond"}, f.rec.conflicts)

	st := f.status(t, wf.ID)
	assert.Equal(t, string(workflow.StateOwnerNotified), st.Workflow.CurrentState)
	assert.Equal(t, "changed elsewhere", st.Workflow.OwnerMessage)
	testkit.AssertNoCommunication(t, st.Communications, workflow.VendorContactedPrefix)
	assert.Empty(t, f.pub.EventsOfKind(notify.KindVendorRequest))
}

func TestInvalidInput(t *testing.T) {
	f := newFixture(t, withPlumber(), leakAnalysis())
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, workflow.SubmitRequest{LeaseID: f.ten.Lease.ID, Description: "   "})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = f.svc.Submit(ctx, workflow.SubmitRequest{LeaseID: "missing", Description: "leak"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	bad := policy.AutoApproval{Enabled: true, MinConfidence: 2, MaxCostRange: analysis.CostLow}
	_, err = f.svc.Submit(ctx, workflow.SubmitRequest{LeaseID: f.ten.Lease.ID, Description: "leak", Policy: &bad})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
	assert.Zero(t, f.analyzer.calls)

	_, err = f.svc.OwnerRespond(ctx, "missing", workflow.DecisionApproved, "")
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	wf := f.submit(t, nil)
	_, err = f.svc.OwnerRespond(ctx, wf.ID, workflow.Decision("maybe"), "")
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = f.svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	p := enabledPolicy()
	auto := f.submit(t, &p)
	_, err = f.svc.VendorRespond(ctx, workflow.VendorResponse{WorkflowID: auto.ID})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = f.svc.List(ctx, workflow.ListFilter{State: "NOPE"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
}

func TestCompleteRejectsNegativeCost(t *testing.T) {
	a := leakAnalysis()
	a.VendorRequired = false
	p := enabledPolicy()
	f := newFixture(t, testkit.NewTenancy(), a)

	wf := f.submit(t, &p)
	require.Equal(t, string(workflow.StateInProgress), wf.CurrentState)

	cost := -1.0
	_, err := f.svc.Complete(context.Background(), workflow.Completion{WorkflowID: wf.ID, ActualCost: &cost})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
}

func TestList(t *testing.T) {
	f := newFixture(t, withPlumber(), leakAnalysis())
	ctx := context.Background()
	p := enabledPolicy()

	first := f.submit(t, nil)
	second := f.submit(t, &p)

	all, err := f.svc.List(ctx, workflow.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	waiting, err := f.svc.List(ctx, workflow.ListFilter{State: workflow.StateOwnerNotified})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, first.ID, waiting[0].ID)

	awaiting, err := f.svc.List(ctx, workflow.ListFilter{State: workflow.StateAwaitingVendorResponse, Limit: 1})
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, second.ID, awaiting[0].ID)
}

func TestStateMachine(t *testing.T) {
	for _, s := range []workflow.State{workflow.StateCompleted, workflow.StateClosedDenied} {
		assert.True(t, workflow.IsTerminal(s), s)
		assert.Empty(t, workflow.ValidNextStates(s), s)
		for _, to := range workflow.AllStates() {
			assert.False(t, workflow.CanTransition(s, to), "%s -> %s", s, to)
		}
	}

	for _, s := range workflow.AllStates() {
		assert.True(t, workflow.IsValidState(s))
		if s != workflow.StateCompleted && s != workflow.StateClosedDenied {
			assert.False(t, workflow.IsTerminal(s), s)
		}
	}
	assert.False(t, workflow.IsValidState("AWAITING_CLARIFICATION"))
	assert.False(t, workflow.IsTerminal("AWAITING_CLARIFICATION"))

	// Only DECISION_MADE leads into the vendor branch.
	for _, s := range workflow.AllStates() {
		if workflow.CanTransition(s, workflow.StateVendorContacted) {
			assert.Equal(t, workflow.StateDecisionMade, s)
		}
	}
	assert.True(t, workflow.CanTransition(workflow.StateDecisionMade, workflow.StateInProgress))
	assert.False(t, workflow.CanTransition(workflow.StateDecisionMade, workflow.StateCompleted))
	assert.False(t, workflow.CanTransition(workflow.StateSubmitted, workflow.StateCompleted))

	d, err := workflow.ParseDecision("denied")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionDenied, d)
	_, err = workflow.ParseDecision("Approved")
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	err = &workflow.InvalidTransitionError{From: workflow.StateCompleted, To: workflow.StateInProgress}
	assert.EqualError(t, err, "invalid transition from COMPLETED to IN_PROGRESS")
}
