package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// CreateLandlord inserts a landlord.
func (s *Store) CreateLandlord(ctx context.Context, l *Landlord) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	_, err := s.exec(ctx, "create landlord "+l.ID,
		"INSERT INTO landlords (id, full_name, email, phone) VALUES (?, ?, ?, ?)",
		l.ID, l.FullName, nullableString(l.Email), nullableString(l.Phone))
	return err
}

// CreateUnit inserts a unit. Jurisdiction defaults to england_wales.
func (s *Store) CreateUnit(ctx context.Context, u *Unit) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.Jurisdiction == "" {
		u.Jurisdiction = "england_wales"
	}
	_, err := s.exec(ctx, "create unit "+u.ID,
		`INSERT INTO units (id, landlord_id, unit_identifier, address, city, postcode, jurisdiction)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.LandlordID, u.UnitIdentifier, u.Address, nullableString(u.City), nullableString(u.Postcode), u.Jurisdiction)
	return err
}

// GetUnit loads a unit by id.
func (s *Store) GetUnit(ctx context.Context, id string) (*Unit, error) {
	var u Unit
	var city, postcode sql.NullString
	err := s.queryRow(ctx,
		"SELECT id, landlord_id, unit_identifier, address, city, postcode, jurisdiction FROM units WHERE id = ?", id).
		Scan(&u.ID, &u.LandlordID, &u.UnitIdentifier, &u.Address, &city, &postcode, &u.Jurisdiction)
	if err != nil {
		return nil, wrap("get unit "+id, err)
	}
	u.City, u.Postcode = city.String, postcode.String
	return &u, nil
}

// CreateLease inserts a lease.
func (s *Store) CreateLease(ctx context.Context, l *Lease) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	if l.Status == "" {
		l.Status = "active"
	}
	_, err := s.exec(ctx, "create lease "+l.ID,
		`INSERT INTO leases (id, unit_id, start_date, end_date, monthly_rent, status, renewal_status, special_terms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UnitID, l.StartDate, nullableString(l.EndDate), l.MonthlyRent, l.Status,
		nullableString(l.RenewalStatus), nullableString(l.SpecialTerms))
	return err
}

// GetLease loads a lease by id.
func (s *Store) GetLease(ctx context.Context, id string) (*Lease, error) {
	var l Lease
	var endDate, renewal, terms sql.NullString
	err := s.queryRow(ctx,
		`SELECT id, unit_id, start_date, end_date, monthly_rent, status, renewal_status, special_terms
		 FROM leases WHERE id = ?`, id).
		Scan(&l.ID, &l.UnitID, &l.StartDate, &endDate, &l.MonthlyRent, &l.Status, &renewal, &terms)
	if err != nil {
		return nil, wrap("get lease "+id, err)
	}
	l.EndDate, l.RenewalStatus, l.SpecialTerms = endDate.String, renewal.String, terms.String
	return &l, nil
}

// CreateTenant inserts a tenant.
func (s *Store) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	_, err := s.exec(ctx, "create tenant "+t.ID,
		"INSERT INTO tenants (id, lease_id, full_name, email, whatsapp_number, is_primary) VALUES (?, ?, ?, ?, ?, ?)",
		t.ID, t.LeaseID, t.FullName, nullableString(t.Email), nullableString(t.WhatsAppNumber), t.IsPrimary)
	return err
}

const tenantColumns = "id, lease_id, full_name, email, whatsapp_number, is_primary"

func scanTenant(row interface{ Scan(...any) error }) (*Tenant, error) {
	var t Tenant
	var email, whatsapp sql.NullString
	if err := row.Scan(&t.ID, &t.LeaseID, &t.FullName, &email, &whatsapp, &t.IsPrimary); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by callers
	}
	t.Email, t.WhatsAppNumber = email.String, whatsapp.String
	return &t, nil
}

// GetTenantByWhatsApp finds the tenant registered with number.
func (s *Store) GetTenantByWhatsApp(ctx context.Context, number string) (*Tenant, error) {
	t, err := scanTenant(s.queryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE whatsapp_number = ? ORDER BY is_primary DESC LIMIT 1", number))
	if err != nil {
		return nil, wrap("get tenant by whatsapp "+number, err)
	}
	return t, nil
}

// GetPrimaryTenant returns the primary tenant on a lease, or the first listed one.
func (s *Store) GetPrimaryTenant(ctx context.Context, leaseID string) (*Tenant, error) {
	t, err := scanTenant(s.queryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE lease_id = ? ORDER BY is_primary DESC, full_name LIMIT 1", leaseID))
	if err != nil {
		return nil, wrap("get primary tenant for lease "+leaseID, err)
	}
	return t, nil
}

// CreatePayment inserts a payment record.
func (s *Store) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	_, err := s.exec(ctx, "create payment "+p.ID,
		"INSERT INTO payments (id, lease_id, due_date, amount_due, amount_paid, status, paid_date) VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.LeaseID, p.DueDate, p.AmountDue, nullableFloat(p.AmountPaid), p.Status, nullableString(p.PaidDate))
	return err
}

// ListRecentPayments returns up to limit payments, latest due date first.
func (s *Store) ListRecentPayments(ctx context.Context, leaseID string, limit int) ([]*Payment, error) {
	op := "list payments for lease " + leaseID
	rows, err := s.query(ctx, op,
		`SELECT id, lease_id, due_date, amount_due, amount_paid, status, paid_date
		 FROM payments WHERE lease_id = ? ORDER BY due_date DESC LIMIT ?`, leaseID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		var paid sql.NullFloat64
		var paidDate sql.NullString
		if err := rows.Scan(&p.ID, &p.LeaseID, &p.DueDate, &p.AmountDue, &paid, &p.Status, &paidDate); err != nil {
			return nil, wrap(op, err)
		}
		p.AmountPaid = floatPtr(paid)
		p.PaidDate = paidDate.String
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return payments, nil
}

// CreatePaymentPlan inserts a payment plan.
func (s *Store) CreatePaymentPlan(ctx context.Context, p *PaymentPlan) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.timestamp()
	}
	_, err := s.exec(ctx, "create payment plan "+p.ID,
		`INSERT INTO payment_plans (id, lease_id, installment_amount, installment_frequency, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.LeaseID, p.InstallmentAmount, p.InstallmentFrequency, p.Status, formatTime(p.CreatedAt))
	return err
}

// GetActivePaymentPlan returns the newest active plan for a lease.
func (s *Store) GetActivePaymentPlan(ctx context.Context, leaseID string) (*PaymentPlan, error) {
	var p PaymentPlan
	var created string
	err := s.queryRow(ctx,
		`SELECT id, lease_id, installment_amount, installment_frequency, status, created_at
		 FROM payment_plans WHERE lease_id = ? AND status = 'active' ORDER BY created_at DESC LIMIT 1`, leaseID).
		Scan(&p.ID, &p.LeaseID, &p.InstallmentAmount, &p.InstallmentFrequency, &p.Status, &created)
	if err != nil {
		return nil, wrap("get active payment plan for lease "+leaseID, err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateDispute inserts a dispute.
func (s *Store) CreateDispute(ctx context.Context, d *Dispute) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.timestamp()
	}
	_, err := s.exec(ctx, "create dispute "+d.ID,
		"INSERT INTO disputes (id, lease_id, category, description, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		d.ID, d.LeaseID, d.Category, d.Description, d.Status, formatTime(d.CreatedAt))
	return err
}

// ListOpenDisputes returns disputes that are open or under review.
func (s *Store) ListOpenDisputes(ctx context.Context, leaseID string) ([]*Dispute, error) {
	op := "list disputes for lease " + leaseID
	rows, err := s.query(ctx, op,
		`SELECT id, lease_id, category, description, status, created_at FROM disputes
		 WHERE lease_id = ? AND status IN ('open', 'under_review') ORDER BY created_at DESC`, leaseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var disputes []*Dispute
	for rows.Next() {
		var d Dispute
		var created string
		if err := rows.Scan(&d.ID, &d.LeaseID, &d.Category, &d.Description, &d.Status, &created); err != nil {
			return nil, wrap(op, err)
		}
		if d.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		disputes = append(disputes, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return disputes, nil
}

// InsertConversation appends a message to a lease's conversation log.
func (s *Store) InsertConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.timestamp()
	}
	_, err := s.exec(ctx, "insert conversation "+c.ID,
		`INSERT INTO conversations (id, lease_id, direction, message_body, whatsapp_message_id, intent_classification, confidence_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LeaseID, c.Direction, c.MessageBody, nullableString(c.WhatsAppMessageID),
		nullableString(c.IntentClassification), nullableFloat(c.ConfidenceScore), formatTime(c.CreatedAt))
	return err
}

// ListRecentConversations returns up to limit messages, newest first.
func (s *Store) ListRecentConversations(ctx context.Context, leaseID string, limit int) ([]*Conversation, error) {
	op := "list conversations for lease " + leaseID
	rows, err := s.query(ctx, op,
		`SELECT id, lease_id, direction, message_body, whatsapp_message_id, intent_classification, confidence_score, created_at
		 FROM conversations WHERE lease_id = ? ORDER BY created_at DESC LIMIT ?`, leaseID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Conversation
	for rows.Next() {
		var c Conversation
		var waID, intent sql.NullString
		var conf sql.NullFloat64
		var created string
		if err := rows.Scan(&c.ID, &c.LeaseID, &c.Direction, &c.MessageBody, &waID, &intent, &conf, &created); err != nil {
			return nil, wrap(op, err)
		}
		c.WhatsAppMessageID, c.IntentClassification = waID.String, intent.String
		c.ConfidenceScore = floatPtr(conf)
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

// GetConversationContext loads the running context for a lease.
func (s *Store) GetConversationContext(ctx context.Context, leaseID string) (*ConversationContext, error) {
	var cc ConversationContext
	var summary sql.NullString
	var threads, updated string
	err := s.queryRow(ctx,
		"SELECT lease_id, summary, open_threads, last_updated, version FROM conversation_context WHERE lease_id = ?", leaseID).
		Scan(&cc.LeaseID, &summary, &threads, &updated, &cc.Version)
	if err != nil {
		return nil, wrap("get conversation context for lease "+leaseID, err)
	}
	cc.Summary = summary.String
	if strings.TrimSpace(threads) != "" {
		if err := json.Unmarshal([]byte(threads), &cc.OpenThreads); err != nil {
			return nil, fmt.Errorf("failed to decode open threads for lease %s: %w", leaseID, err)
		}
	}
	if cc.LastUpdated, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &cc, nil
}

// SaveConversationContext writes cc if the stored version still equals cc.Version
// (0 meaning no row yet). On success cc.Version is advanced; otherwise ErrStaleWrite.
func (s *Store) SaveConversationContext(ctx context.Context, cc *ConversationContext) error {
	threads, err := json.Marshal(cc.OpenThreads)
	if err != nil {
		return fmt.Errorf("failed to encode open threads: %w", err)
	}
	cc.LastUpdated = s.timestamp()
	op := "save conversation context for lease " + cc.LeaseID

	var res sql.Result
	if cc.Version == 0 {
		res, err = s.exec(ctx, op,
			`INSERT INTO conversation_context (lease_id, summary, open_threads, last_updated, version)
			 VALUES (?, ?, ?, ?, 1) ON CONFLICT (lease_id) DO NOTHING`,
			cc.LeaseID, nullableString(cc.Summary), string(threads), formatTime(cc.LastUpdated))
	} else {
		res, err = s.exec(ctx, op,
			`UPDATE conversation_context SET summary = ?, open_threads = ?, last_updated = ?, version = version + 1
			 WHERE lease_id = ? AND version = ?`,
			nullableString(cc.Summary), string(threads), formatTime(cc.LastUpdated), cc.LeaseID, cc.Version)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrStaleWrite)
	}
	cc.Version++
	return nil
}
