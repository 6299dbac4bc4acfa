package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateContractor inserts a contractor.
func (s *Store) CreateContractor(ctx context.Context, c *Contractor) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.timestamp()
	}
	trades, err := json.Marshal(c.Trades)
	if err != nil {
		return fmt.Errorf("failed to encode trades: %w", err)
	}
	_, err = s.exec(ctx, "create contractor "+c.ID,
		`INSERT INTO contractors (id, landlord_id, name, phone, email, trades, emergency_available, rating, avg_response_hours, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LandlordID, c.Name, nullableString(c.Phone), nullableString(c.Email), string(trades),
		c.EmergencyAvailable, c.Rating, c.AvgResponseHours, formatTime(c.CreatedAt))
	return err
}

const contractorColumns = "id, landlord_id, name, phone, email, trades, emergency_available, rating, avg_response_hours, created_at"

func scanContractor(row interface{ Scan(...any) error }) (*Contractor, error) {
	var c Contractor
	var phone, email sql.NullString
	var trades, created string
	if err := row.Scan(&c.ID, &c.LandlordID, &c.Name, &phone, &email, &trades, &c.EmergencyAvailable,
		&c.Rating, &c.AvgResponseHours, &created); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by callers
	}
	c.Phone, c.Email = phone.String, email.String
	if err := json.Unmarshal([]byte(trades), &c.Trades); err != nil {
		return nil, fmt.Errorf("failed to decode trades for contractor %s: %w", c.ID, err)
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = t
	return &c, nil
}

// GetContractor loads a contractor by id.
func (s *Store) GetContractor(ctx context.Context, id string) (*Contractor, error) {
	c, err := scanContractor(s.queryRow(ctx, "SELECT "+contractorColumns+" FROM contractors WHERE id = ?", id))
	if err != nil {
		return nil, wrap("get contractor "+id, err)
	}
	return c, nil
}

// ListContractorsForTrade returns the landlord's contractors listing trade, in creation order.
// Trades are a JSON list, so the trade filter runs after the landlord filter.
func (s *Store) ListContractorsForTrade(ctx context.Context, landlordID, trade string) ([]*Contractor, error) {
	op := "list contractors for landlord " + landlordID
	rows, err := s.query(ctx, op,
		"SELECT "+contractorColumns+" FROM contractors WHERE landlord_id = ? ORDER BY created_at, name", landlordID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Contractor
	for rows.Next() {
		c, err := scanContractor(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		if c.HasTrade(trade) {
			out = append(out, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// InsertMaintenanceRequest creates a maintenance request.
func (s *Store) InsertMaintenanceRequest(ctx context.Context, r *MaintenanceRequest) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	now := s.timestamp()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.exec(ctx, "insert maintenance request "+r.ID,
		`INSERT INTO maintenance_requests (id, lease_id, category, description, urgency, status, contractor_id,
		 scheduled_at, completed_at, cost, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.LeaseID, r.Category, r.Description, r.Urgency, r.Status, nullableString(r.ContractorID),
		nullableTime(r.ScheduledAt), nullableTime(r.CompletedAt), nullableFloat(r.Cost),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	return err
}

// UpdateMaintenanceRequest writes the mutable fields of r.
func (s *Store) UpdateMaintenanceRequest(ctx context.Context, r *MaintenanceRequest) error {
	r.UpdatedAt = s.timestamp()
	op := "update maintenance request " + r.ID
	res, err := s.exec(ctx, op,
		`UPDATE maintenance_requests SET status = ?, contractor_id = ?, scheduled_at = ?, completed_at = ?, cost = ?, updated_at = ?
		 WHERE id = ?`,
		r.Status, nullableString(r.ContractorID), nullableTime(r.ScheduledAt), nullableTime(r.CompletedAt),
		nullableFloat(r.Cost), formatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

const requestColumns = "id, lease_id, category, description, urgency, status, contractor_id, scheduled_at, completed_at, cost, created_at, updated_at"

func scanRequest(row interface{ Scan(...any) error }) (*MaintenanceRequest, error) {
	var r MaintenanceRequest
	var contractor, scheduled, completed sql.NullString
	var cost sql.NullFloat64
	var created, updated string
	if err := row.Scan(&r.ID, &r.LeaseID, &r.Category, &r.Description, &r.Urgency, &r.Status, &contractor,
		&scheduled, &completed, &cost, &created, &updated); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by callers
	}
	r.ContractorID = contractor.String
	r.Cost = floatPtr(cost)

	var err error
	if r.ScheduledAt, err = parseNullTime(scheduled); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetMaintenanceRequest loads a maintenance request by id.
func (s *Store) GetMaintenanceRequest(ctx context.Context, id string) (*MaintenanceRequest, error) {
	r, err := scanRequest(s.queryRow(ctx, "SELECT "+requestColumns+" FROM maintenance_requests WHERE id = ?", id))
	if err != nil {
		return nil, wrap("get maintenance request "+id, err)
	}
	return r, nil
}

// ListOpenMaintenanceRequests returns open, assigned and in-progress requests, newest first.
func (s *Store) ListOpenMaintenanceRequests(ctx context.Context, leaseID string) ([]*MaintenanceRequest, error) {
	op := "list open maintenance for lease " + leaseID
	rows, err := s.query(ctx, op,
		"SELECT "+requestColumns+` FROM maintenance_requests
		 WHERE lease_id = ? AND status IN ('open', 'assigned', 'in_progress') ORDER BY created_at DESC`, leaseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*MaintenanceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// InsertLegalAction records an issued legal notice.
func (s *Store) InsertLegalAction(ctx context.Context, a *LegalAction) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.timestamp()
	}
	_, err := s.exec(ctx, "insert legal action "+a.ID,
		`INSERT INTO legal_actions (id, lease_id, action_type, document_url, response_deadline, status, agent_reasoning, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LeaseID, a.ActionType, nullableString(a.DocumentURL), formatTime(a.ResponseDeadline), a.Status,
		nullableString(a.AgentReasoning), formatTime(a.CreatedAt))
	return err
}

// ListOpenLegalActions returns issued or acknowledged actions, newest first.
func (s *Store) ListOpenLegalActions(ctx context.Context, leaseID string) ([]*LegalAction, error) {
	op := "list legal actions for lease " + leaseID
	rows, err := s.query(ctx, op,
		`SELECT id, lease_id, action_type, document_url, response_deadline, status, agent_reasoning, created_at
		 FROM legal_actions WHERE lease_id = ? AND status IN ('issued', 'acknowledged') ORDER BY created_at DESC`, leaseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*LegalAction
	for rows.Next() {
		var a LegalAction
		var url, reasoning sql.NullString
		var deadline, created string
		if err := rows.Scan(&a.ID, &a.LeaseID, &a.ActionType, &url, &deadline, &a.Status, &reasoning, &created); err != nil {
			return nil, wrap(op, err)
		}
		a.DocumentURL, a.AgentReasoning = url.String, reasoning.String
		if a.ResponseDeadline, err = parseTime(deadline); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// InsertLandlordNotification queues a landlord-facing message.
func (s *Store) InsertLandlordNotification(ctx context.Context, n *LandlordNotification) error {
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.timestamp()
	}
	_, err := s.exec(ctx, "insert landlord notification "+n.ID,
		`INSERT INTO landlord_notifications (id, landlord_id, lease_id, notification_type, message, related_record_type,
		 related_record_id, requires_signature, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.LandlordID, nullableString(n.LeaseID), n.NotificationType, n.Message, nullableString(n.RelatedRecordType),
		nullableString(n.RelatedRecordID), n.RequiresSignature, formatTime(n.CreatedAt))
	return err
}

// ListLandlordNotifications returns a landlord's notifications, oldest first.
func (s *Store) ListLandlordNotifications(ctx context.Context, landlordID string) ([]*LandlordNotification, error) {
	op := "list notifications for landlord " + landlordID
	rows, err := s.query(ctx, op,
		`SELECT id, landlord_id, lease_id, notification_type, message, related_record_type, related_record_id,
		 requires_signature, created_at FROM landlord_notifications WHERE landlord_id = ? ORDER BY created_at`, landlordID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*LandlordNotification
	for rows.Next() {
		var n LandlordNotification
		var lease, relType, relID sql.NullString
		var created string
		if err := rows.Scan(&n.ID, &n.LandlordID, &lease, &n.NotificationType, &n.Message, &relType, &relID,
			&n.RequiresSignature, &created); err != nil {
			return nil, wrap(op, err)
		}
		n.LeaseID, n.RelatedRecordType, n.RelatedRecordID = lease.String, relType.String, relID.String
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// InsertAgentAction writes one audit row.
func (s *Store) InsertAgentAction(ctx context.Context, a *AgentAction) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.timestamp()
	}
	tools, err := json.Marshal(a.ToolsCalled)
	if err != nil {
		return fmt.Errorf("failed to encode tools called: %w", err)
	}
	_, err = s.exec(ctx, "insert agent action "+a.ID,
		`INSERT INTO agent_actions (id, lease_id, action_category, action_description, tools_called, input_summary,
		 output_summary, confidence_score, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LeaseID, a.ActionCategory, a.ActionDescription, string(tools), nullableString(a.InputSummary),
		nullableString(a.OutputSummary), a.ConfidenceScore, formatTime(a.CreatedAt))
	return err
}

// ListAgentActions returns a lease's audit trail, oldest first.
func (s *Store) ListAgentActions(ctx context.Context, leaseID string) ([]*AgentAction, error) {
	op := "list agent actions for lease " + leaseID
	rows, err := s.query(ctx, op,
		`SELECT id, lease_id, action_category, action_description, tools_called, input_summary, output_summary,
		 confidence_score, created_at FROM agent_actions WHERE lease_id = ? ORDER BY created_at`, leaseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*AgentAction
	for rows.Next() {
		var a AgentAction
		var tools, created string
		var input, output sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.LeaseID, &a.ActionCategory, &a.ActionDescription, &tools, &input, &output,
			&conf, &created); err != nil {
			return nil, wrap(op, err)
		}
		if err := json.Unmarshal([]byte(tools), &a.ToolsCalled); err != nil {
			return nil, fmt.Errorf("failed to decode tools called: %w", err)
		}
		a.InputSummary, a.OutputSummary, a.ConfidenceScore = input.String, output.String, conf.Float64
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}
