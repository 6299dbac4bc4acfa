package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tenantops/pkg/analysis"
	"tenantops/pkg/policy"
)

// InsertWorkflow creates a workflow at version 1.
func (s *Store) InsertWorkflow(ctx context.Context, wf *MaintenanceWorkflow) error {
	if wf.ID == "" {
		wf.ID = NewID()
	}
	now := s.timestamp()
	wf.CreatedAt, wf.UpdatedAt, wf.Version = now, now, 1

	aiAnalysis, history, err := encodeWorkflow(wf)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, "insert workflow "+wf.ID,
		`INSERT INTO maintenance_workflows (id, maintenance_request_id, lease_id, landlord_id, current_state, ai_analysis,
		 owner_response, owner_message, vendor_message, vendor_eta, vendor_notes, contractor_id, state_history, version,
		 created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.MaintenanceRequestID, wf.LeaseID, wf.LandlordID, wf.CurrentState, aiAnalysis,
		nullableString(wf.OwnerResponse), nullableString(wf.OwnerMessage), nullableString(wf.VendorMessage),
		nullableTime(wf.VendorETA), nullableString(wf.VendorNotes), nullableString(wf.ContractorID), history,
		wf.Version, formatTime(wf.CreatedAt), formatTime(wf.UpdatedAt))
	return err
}

// UpdateWorkflow compares-and-sets wf: the row must still be in expectedState at wf.Version.
// On success wf.Version is incremented; a miss yields ErrStaleWrite.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *MaintenanceWorkflow, expectedState string) error {
	aiAnalysis, history, err := encodeWorkflow(wf)
	if err != nil {
		return err
	}
	updated := s.timestamp()
	op := "update workflow " + wf.ID

	res, err := s.exec(ctx, op,
		`UPDATE maintenance_workflows SET current_state = ?, ai_analysis = ?, owner_response = ?, owner_message = ?,
		 vendor_message = ?, vendor_eta = ?, vendor_notes = ?, contractor_id = ?, state_history = ?, version = version + 1,
		 updated_at = ? WHERE id = ? AND current_state = ? AND version = ?`,
		wf.CurrentState, aiAnalysis, nullableString(wf.OwnerResponse), nullableString(wf.OwnerMessage),
		nullableString(wf.VendorMessage), nullableTime(wf.VendorETA), nullableString(wf.VendorNotes),
		nullableString(wf.ContractorID), history, formatTime(updated), wf.ID, expectedState, wf.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s (expected %s at version %d): %w", op, expectedState, wf.Version, ErrStaleWrite)
	}
	wf.Version++
	wf.UpdatedAt = updated
	return nil
}

func encodeWorkflow(wf *MaintenanceWorkflow) (string, string, error) {
	aiAnalysis, err := json.Marshal(wf.AIAnalysis)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode ai analysis: %w", err)
	}
	if wf.StateHistory == nil {
		wf.StateHistory = []StateEntry{}
	}
	history, err := json.Marshal(wf.StateHistory)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode state history: %w", err)
	}
	return string(aiAnalysis), string(history), nil
}

const workflowColumns = `id, maintenance_request_id, lease_id, landlord_id, current_state, ai_analysis, owner_response,
	owner_message, vendor_message, vendor_eta, vendor_notes, contractor_id, state_history, version, created_at, updated_at`

func scanWorkflow(row interface{ Scan(...any) error }) (*MaintenanceWorkflow, error) {
	var wf MaintenanceWorkflow
	var aiAnalysis, history, created, updated string
	var ownerResponse, ownerMessage, vendorMessage, vendorETA, vendorNotes, contractor sql.NullString
	if err := row.Scan(&wf.ID, &wf.MaintenanceRequestID, &wf.LeaseID, &wf.LandlordID, &wf.CurrentState, &aiAnalysis,
		&ownerResponse, &ownerMessage, &vendorMessage, &vendorETA, &vendorNotes, &contractor, &history, &wf.Version,
		&created, &updated); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by callers
	}
	wf.OwnerResponse, wf.OwnerMessage = ownerResponse.String, ownerMessage.String
	wf.VendorMessage, wf.VendorNotes, wf.ContractorID = vendorMessage.String, vendorNotes.String, contractor.String

	var raw map[string]any
	if err := json.Unmarshal([]byte(aiAnalysis), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode ai analysis for workflow %s: %w", wf.ID, err)
	}
	wf.AIAnalysis = analysis.Normalize(raw)
	if err := json.Unmarshal([]byte(history), &wf.StateHistory); err != nil {
		return nil, fmt.Errorf("failed to decode state history for workflow %s: %w", wf.ID, err)
	}

	var err error
	if wf.VendorETA, err = parseNullTime(vendorETA); err != nil {
		return nil, err
	}
	if wf.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if wf.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetWorkflow loads a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*MaintenanceWorkflow, error) {
	wf, err := scanWorkflow(s.queryRow(ctx, "SELECT "+workflowColumns+" FROM maintenance_workflows WHERE id = ?", id))
	if err != nil {
		return nil, wrap("get workflow "+id, err)
	}
	return wf, nil
}

// ListWorkflows returns workflows newest first, optionally filtered by state.
func (s *Store) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*MaintenanceWorkflow, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := "SELECT " + workflowColumns + " FROM maintenance_workflows"
	args := []any{}
	if filter.State != "" {
		query += " WHERE current_state = ?"
		args = append(args, filter.State)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	op := "list workflows"
	rows, err := s.query(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*MaintenanceWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// InsertCommunication appends to a workflow's communication trail.
func (s *Store) InsertCommunication(ctx context.Context, c *WorkflowCommunication) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.timestamp()
	}
	// seq is assigned per workflow so rows sharing a timestamp keep insertion order.
	_, err := s.exec(ctx, "insert communication "+c.ID,
		`INSERT INTO workflow_communications (id, workflow_id, sender_type, sender_id, message, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM workflow_communications WHERE workflow_id = ?))`,
		c.ID, c.WorkflowID, c.SenderType, nullableString(c.SenderID), c.Message, formatTime(c.CreatedAt), c.WorkflowID)
	return err
}

// ListCommunications returns a workflow's communications, oldest first.
func (s *Store) ListCommunications(ctx context.Context, workflowID string) ([]*WorkflowCommunication, error) {
	op := "list communications for workflow " + workflowID
	rows, err := s.query(ctx, op,
		`SELECT id, workflow_id, sender_type, sender_id, message, created_at, seq FROM workflow_communications
		 WHERE workflow_id = ? ORDER BY created_at, seq`, workflowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*WorkflowCommunication
	for rows.Next() {
		var c WorkflowCommunication
		var sender sql.NullString
		var created string
		if err := rows.Scan(&c.ID, &c.WorkflowID, &c.SenderType, &sender, &c.Message, &created, &c.Seq); err != nil {
			return nil, wrap(op, err)
		}
		c.SenderID = sender.String
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// InsertVendorBid records a vendor's response to outreach.
func (s *Store) InsertVendorBid(ctx context.Context, b *VendorBid) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.timestamp()
	}
	_, err := s.exec(ctx, "insert vendor bid "+b.ID,
		`INSERT INTO vendor_bids (id, workflow_id, contractor_id, bid_amount, estimated_completion_hours, message,
		 is_selected, ai_score, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.WorkflowID, b.ContractorID, nullableFloat(b.BidAmount), b.EstimatedCompletionHours,
		nullableString(b.Message), b.IsSelected, nullableFloat(b.AIScore), formatTime(b.CreatedAt))
	return err
}

// ListVendorBids returns a workflow's bids, newest first.
func (s *Store) ListVendorBids(ctx context.Context, workflowID string) ([]*VendorBid, error) {
	op := "list vendor bids for workflow " + workflowID
	rows, err := s.query(ctx, op,
		`SELECT id, workflow_id, contractor_id, bid_amount, estimated_completion_hours, message, is_selected, ai_score, created_at
		 FROM vendor_bids WHERE workflow_id = ? ORDER BY created_at DESC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*VendorBid
	for rows.Next() {
		var b VendorBid
		var amount, score sql.NullFloat64
		var hours sql.NullInt64
		var message sql.NullString
		var created string
		if err := rows.Scan(&b.ID, &b.WorkflowID, &b.ContractorID, &amount, &hours, &message, &b.IsSelected, &score, &created); err != nil {
			return nil, wrap(op, err)
		}
		b.BidAmount, b.AIScore = floatPtr(amount), floatPtr(score)
		b.EstimatedCompletionHours = int(hours.Int64)
		b.Message = message.String
		if b.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// GetAutoApprovalPolicy loads a landlord's stored policy.
func (s *Store) GetAutoApprovalPolicy(ctx context.Context, landlordID string) (policy.AutoApproval, error) {
	var p policy.AutoApproval
	var maxCost string
	err := s.queryRow(ctx,
		"SELECT enabled, min_confidence, max_cost_range, exclude_emergency FROM auto_approval_policies WHERE landlord_id = ?",
		landlordID).Scan(&p.Enabled, &p.MinConfidence, &maxCost, &p.ExcludeEmergency)
	if err != nil {
		return policy.AutoApproval{}, wrap("get auto-approval policy for landlord "+landlordID, err)
	}
	p.MaxCostRange = analysis.CostRange(maxCost)
	return p, nil
}

// SaveAutoApprovalPolicy creates or replaces a landlord's policy.
func (s *Store) SaveAutoApprovalPolicy(ctx context.Context, landlordID string, p policy.AutoApproval) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid auto-approval policy: %w", err)
	}
	_, err := s.exec(ctx, "save auto-approval policy for landlord "+landlordID,
		`INSERT INTO auto_approval_policies (landlord_id, enabled, min_confidence, max_cost_range, exclude_emergency, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (landlord_id) DO UPDATE SET enabled = excluded.enabled, min_confidence = excluded.min_confidence,
		 max_cost_range = excluded.max_cost_range, exclude_emergency = excluded.exclude_emergency, updated_at = excluded.updated_at`,
		landlordID, p.Enabled, p.MinConfidence, string(p.MaxCostRange), p.ExcludeEmergency, formatTime(s.timestamp()))
	return err
}
