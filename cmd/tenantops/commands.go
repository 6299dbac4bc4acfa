package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"tenantops/pkg/analysis"
	"tenantops/pkg/chat"
	"tenantops/pkg/persistence"
	"tenantops/pkg/policy"
	"tenantops/pkg/workflow"
)

func runMigrate(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "migrate", "")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	// Open already migrated; this re-checks and reports.
	if err := e.app.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	v, err := e.app.store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Fprintf(e.out, "✅ Database schema at version %d\n", v)
	return nil
}

func runSeed(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "seed", "--fixtures FILE")
	path := fs.String("fixtures", "", "YAML fixtures file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "fixtures", *path); err != nil {
		return err
	}

	f, err := persistence.LoadFixtures(*path)
	if err != nil {
		return err //nolint:wrapcheck // names the file
	}
	if err := e.app.store.Seed(ctx, f); err != nil {
		return fmt.Errorf("failed to seed: %w", err)
	}
	fmt.Fprintf(e.out, "✅ Seeded %d landlords, %d units, %d leases, %d tenants, %d contractors\n",
		len(f.Landlords), len(f.Units), len(f.Leases), len(f.Tenants), len(f.Contractors))
	return nil
}

func runChat(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "chat", "--from NUMBER [--media N] MESSAGE...")
	from := fs.String("from", "", "tenant WhatsApp number")
	media := fs.Int("media", 0, "number of attached images")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "from", *from); err != nil {
		return err
	}

	svc, err := e.app.chatService(ctx)
	if err != nil {
		return err
	}
	reply, err := svc.HandleMessage(ctx, chat.Inbound{From: *from, Body: strings.Join(fs.Args(), " "), MediaCount: *media})
	if errors.Is(err, chat.ErrEmptyMessage) {
		return usageErrorf("a message or --media is required")
	}
	if err != nil {
		return fmt.Errorf("failed to handle message: %w", err)
	}

	fmt.Fprintf(e.out, "💬 %s\n", reply.Message)
	if len(reply.ToolsUsed) > 0 {
		fmt.Fprintf(e.out, "🔧 Tools: %s\n", strings.Join(reply.ToolsUsed, ", "))
	}
	for _, alert := range reply.Alerts {
		fmt.Fprintf(e.out, "🚨 %s\n", alert)
	}
	if reply.AgentErr != nil {
		return fmt.Errorf("agent turn failed: %w", reply.AgentErr)
	}
	return nil
}

// policyFlags binds the auto-approval thresholds onto fs.
type policyFlags struct {
	enabled          bool
	minConfidence    float64
	maxCost          string
	excludeEmergency bool
}

func (p *policyFlags) bind(fs *pflag.FlagSet) {
	fs.BoolVar(&p.enabled, "auto-approve", false, "enable auto-approval")
	fs.Float64Var(&p.minConfidence, "min-confidence", 0.8, "minimum analysis confidence")
	fs.StringVar(&p.maxCost, "max-cost", string(analysis.CostLow), "highest cost range to auto-approve: low, medium or high")
	fs.BoolVar(&p.excludeEmergency, "exclude-emergency", true, "never auto-approve emergencies")
}

// changed reports whether any policy flag was given.
func (p *policyFlags) changed(fs *pflag.FlagSet) bool {
	for _, name := range []string{"auto-approve", "min-confidence", "max-cost", "exclude-emergency"} {
		if fs.Changed(name) {
			return true
		}
	}
	return false
}

func (p *policyFlags) build() (policy.AutoApproval, error) {
	cost, err := analysis.ParseCostRange(p.maxCost)
	if err != nil {
		return policy.AutoApproval{}, usageErrorf("%v", err)
	}
	out := policy.AutoApproval{
		Enabled:          p.enabled,
		MinConfidence:    p.minConfidence,
		MaxCostRange:     cost,
		ExcludeEmergency: p.excludeEmergency,
	}
	if err := out.Validate(); err != nil {
		return policy.AutoApproval{}, usageErrorf("%v", err)
	}
	return out, nil
}

func runSubmit(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "submit", "--lease ID --description TEXT [policy flags]")
	lease := fs.String("lease", "", "lease id")
	description := fs.String("description", "", "what is wrong")
	var pf policyFlags
	pf.bind(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "lease", *lease); err != nil {
		return err
	}

	req := workflow.SubmitRequest{LeaseID: *lease, Description: *description}
	if pf.changed(fs) {
		p, err := pf.build()
		if err != nil {
			return err
		}
		req.Policy = &p
	}

	wf, err := e.app.workflowService().Submit(ctx, req)
	if err != nil {
		return commandError(err)
	}
	printWorkflow(e.out, wf)
	return nil
}

func runOwnerRespond(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "owner-respond", "--workflow ID --decision approved|denied|question [--message TEXT]")
	id := fs.String("workflow", "", "workflow id")
	decision := fs.String("decision", "", "approved, denied or question")
	message := fs.String("message", "", "note from the owner")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "workflow", *id); err != nil {
		return err
	}
	d, err := workflow.ParseDecision(*decision)
	if err != nil {
		return usageErrorf("%v", err)
	}

	wf, err := e.app.workflowService().OwnerRespond(ctx, *id, d, *message)
	if err != nil {
		return commandError(err)
	}
	printWorkflow(e.out, wf)
	return nil
}

func runVendorRespond(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "vendor-respond", "--workflow ID --eta RFC3339 [--contractor ID] [--notes TEXT]")
	id := fs.String("workflow", "", "workflow id")
	etaText := fs.String("eta", "", "arrival time, e.g. 2025-03-05T14:30:00Z")
	contractor := fs.String("contractor", "", "contractor id, defaults to the one contacted")
	notes := fs.String("notes", "", "notes from the contractor")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "workflow", *id); err != nil {
		return err
	}
	if err := requireFlag(fs, "eta", *etaText); err != nil {
		return err
	}
	eta, err := time.Parse(time.RFC3339, *etaText)
	if err != nil {
		return usageErrorf("--eta: %v", err)
	}

	wf, err := e.app.workflowService().VendorRespond(ctx, workflow.VendorResponse{
		WorkflowID:   *id,
		ContractorID: *contractor,
		ETA:          eta,
		Notes:        *notes,
	})
	if err != nil {
		return commandError(err)
	}
	printWorkflow(e.out, wf)
	return nil
}

func runComplete(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "complete", "--workflow ID [--notes TEXT] [--cost AMOUNT]")
	id := fs.String("workflow", "", "workflow id")
	notes := fs.String("notes", "", "completion notes")
	cost := fs.Float64("cost", 0, "actual cost")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "workflow", *id); err != nil {
		return err
	}

	in := workflow.Completion{WorkflowID: *id, Notes: *notes}
	if fs.Changed("cost") {
		in.ActualCost = cost
	}
	wf, err := e.app.workflowService().Complete(ctx, in)
	if err != nil {
		return commandError(err)
	}
	printWorkflow(e.out, wf)
	return nil
}

func runStatus(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "status", "--workflow ID [--json]")
	id := fs.String("workflow", "", "workflow id")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "workflow", *id); err != nil {
		return err
	}

	st, err := e.app.workflowService().Status(ctx, *id)
	if err != nil {
		return commandError(err)
	}
	if *asJSON {
		return printJSON(e.out, st)
	}

	printWorkflow(e.out, st.Workflow)
	a := st.Workflow.AIAnalysis
	fmt.Fprintf(e.out, "   analysis: %s / %s, cost %s, vendor required %t, confidence %.2f\n",
		a.Category, a.Urgency, a.EstimatedCostRange, a.VendorRequired, a.ConfidenceScore)
	fmt.Fprintln(e.out, "\nHistory:")
	for _, h := range st.History {
		from := h.From
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(e.out, "  %s  %-24s -> %-24s %s\n", h.At.Format(time.RFC3339), from, h.To, h.Note)
	}
	fmt.Fprintln(e.out, "\nMessages:")
	for _, c := range st.Communications {
		fmt.Fprintf(e.out, "  %s  [%s] %s\n", c.CreatedAt.Format(time.RFC3339), c.SenderType, c.Message)
	}
	if len(st.VendorBids) > 0 {
		fmt.Fprintln(e.out, "\nVendor bids:")
		for _, b := range st.VendorBids {
			fmt.Fprintf(e.out, "  %s  contractor %s, %dh, selected %t\n", b.CreatedAt.Format(time.RFC3339), b.ContractorID,
				b.EstimatedCompletionHours, b.IsSelected)
		}
	}
	return nil
}

func runList(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "list", "[--state STATE] [--limit N] [--offset N]")
	state := fs.String("state", "", "only workflows in this state")
	limit := fs.Int("limit", workflow.DefaultListLimit, "page size")
	offset := fs.Int("offset", 0, "rows to skip")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	wfs, err := e.app.workflowService().List(ctx, workflow.ListFilter{
		State:  workflow.State(strings.ToUpper(*state)),
		Limit:  *limit,
		Offset: *offset,
	})
	if err != nil {
		return commandError(err)
	}
	if *asJSON {
		return printJSON(e.out, wfs)
	}
	if len(wfs) == 0 {
		fmt.Fprintln(e.out, "No workflows.")
		return nil
	}
	for _, wf := range wfs {
		fmt.Fprintf(e.out, "%s  %-24s %-10s %-9s lease %s  %s\n", wf.ID, wf.CurrentState, wf.AIAnalysis.Category,
			wf.AIAnalysis.Urgency, wf.LeaseID, wf.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runPolicy(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "policy", "--landlord ID [policy flags]")
	landlord := fs.String("landlord", "", "landlord id")
	var pf policyFlags
	pf.bind(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "landlord", *landlord); err != nil {
		return err
	}
	store := e.app.store

	if pf.changed(fs) {
		p, err := pf.build()
		if err != nil {
			return err
		}
		if err := store.WithRetry(ctx, "save auto-approval policy", func(ctx context.Context) error {
			return store.SaveAutoApprovalPolicy(ctx, *landlord, p)
		}); err != nil {
			return fmt.Errorf("failed to save policy: %w", err)
		}
		fmt.Fprintln(e.out, "✅ Policy saved")
	}

	var p policy.AutoApproval
	err := store.WithRetry(ctx, "load auto-approval policy", func(ctx context.Context) error {
		var err error
		p, err = store.GetAutoApprovalPolicy(ctx, *landlord)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		fmt.Fprintln(e.out, "No policy stored: every request goes to the owner.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	fmt.Fprintf(e.out, "enabled %t, min confidence %.2f, max cost %s, exclude emergency %t\n",
		p.Enabled, p.MinConfidence, p.MaxCostRange, p.ExcludeEmergency)
	return nil
}

// commandError marks bad input as a usage error so the exit code distinguishes it.
func commandError(err error) error {
	if errors.Is(err, workflow.ErrInvalidInput) {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	return err
}

func printWorkflow(w io.Writer, wf *persistence.MaintenanceWorkflow) {
	fmt.Fprintf(w, "🔧 Workflow %s: %s\n", wf.ID, wf.CurrentState)
	if wf.OwnerResponse != "" {
		fmt.Fprintf(w, "   owner: %s", wf.OwnerResponse)
		if wf.OwnerMessage != "" {
			fmt.Fprintf(w, " (%s)", wf.OwnerMessage)
		}
		fmt.Fprintln(w)
	}
	if wf.ContractorID != "" {
		fmt.Fprintf(w, "   contractor: %s\n", wf.ContractorID)
	}
	if wf.VendorETA != nil {
		fmt.Fprintf(w, "   eta: %s\n", wf.VendorETA.Format(workflow.ETALayout))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
