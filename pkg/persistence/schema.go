package persistence

import (
	"context"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version this build writes.
const CurrentSchemaVersion = 3

// Migrate brings the schema to CurrentSchemaVersion. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if s.dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
			if _, err := s.exec(ctx, "pragma", pragma); err != nil {
				return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
			}
		}
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	switch {
	case currentVersion == 0:
		return s.createSchema(ctx)
	case currentVersion == CurrentSchemaVersion:
		return nil
	case currentVersion > CurrentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	default:
		return s.runMigrations(ctx, currentVersion, CurrentSchemaVersion)
	}
}

func (s *Store) runMigrations(ctx context.Context, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := s.runMigration(ctx, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := s.setSchemaVersion(ctx, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
		s.logger.Info("📦 Migrated schema to version %d", version)
	}
	return nil
}

func (s *Store) runMigration(ctx context.Context, version int) error {
	switch version {
	case 2:
		return s.migrateToVersion2(ctx)
	case 3:
		return s.migrateToVersion3(ctx)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds optimistic versioning to the records written under compare-and-set.
func (s *Store) migrateToVersion2(ctx context.Context) error {
	migrations := []string{
		"ALTER TABLE maintenance_workflows ADD COLUMN version INTEGER NOT NULL DEFAULT 1",
		"ALTER TABLE conversation_context ADD COLUMN version INTEGER NOT NULL DEFAULT 1",
		"CREATE INDEX IF NOT EXISTS idx_workflows_state ON maintenance_workflows(current_state)",
	}
	for _, migration := range migrations {
		if _, err := s.exec(ctx, "migrate", migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}

// migrateToVersion3 adds a per-workflow insertion sequence to communications. Rows written
// before it keep seq 0 and fall back to timestamp order.
func (s *Store) migrateToVersion3(ctx context.Context) error {
	migration := "ALTER TABLE workflow_communications ADD COLUMN seq INTEGER NOT NULL DEFAULT 0"
	if _, err := s.exec(ctx, "migrate", migration); err != nil {
		return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
	}
	return nil
}

// createSchema creates every table at the current version. Types are chosen to be valid in
// both SQLite and Postgres.
func (s *Store) createSchema(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS landlords (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			email TEXT,
			phone TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS units (
			id TEXT PRIMARY KEY,
			landlord_id TEXT NOT NULL REFERENCES landlords(id),
			unit_identifier TEXT NOT NULL,
			address TEXT NOT NULL,
			city TEXT,
			postcode TEXT,
			jurisdiction TEXT NOT NULL DEFAULT 'england_wales'
		)`,

		`CREATE TABLE IF NOT EXISTS leases (
			id TEXT PRIMARY KEY,
			unit_id TEXT NOT NULL REFERENCES units(id),
			start_date TEXT NOT NULL,
			end_date TEXT,
			monthly_rent DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			renewal_status TEXT,
			special_terms TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			lease_id TEXT NOT NULL REFERENCES leases(id),
			full_name TEXT NOT NULL,
			email TEXT,
			whatsapp_number TEXT,
			is_primary BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			lease_id TEXT NOT NULL REFERENCES leases(id),
			due_date TEXT NOT NULL,
			amount_due DOUBLE PRECISION NOT NULL,
			amount_paid DOUBLE PRECISION,
			status TEXT NOT NULL,
			paid_date TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS payment_plans (
			id TEXT PRIMARY KEY,
			lease_id TEXT NOT NULL REFERENCES leases(id),
			installment_amount DOUBLE PRECISION NOT NULL,
			installment_frequency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS contractors (
			id TEXT PRIMARY KEY,
			landlord_id TEXT NOT NULL REFERENCES landlords(id),
			name TEXT NOT NULL,
			phone TEXT,
			email TEXT,
			trades TEXT NOT NULL DEFAULT '[]',
			emergency_available BOOLEAN NOT NULL DEFAULT FALSE,
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_response_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS maintenance_requests (
			id TEXT PRIMARY KEY,
			lease_id TEXT NOT NULL REFERENCES leases(id),
			category TEXT NOT NULL,
			description TEXT NOT NULL,
			urgency TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('open','assigned','in_progress','completed','cancelled')),
			contractor_id TEXT REFERENCES contractors(id),
			scheduled_at TEXT,
			completed_at TEXT,
			cost DOUBLE PRECISION,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS legal_actions (
			id TEXT PRIMARY KEY,
			lease_id TEXT NOT NULL REFERENCES leases(id),
			action_type TEXT NOT NULL,
			document_url TEXT,
			response_deadline TEXT NOT NULL,
			status TEXT NOT NULL,
			agent_reasoning TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS landlord_notifications (
			id TEXT PRIMARY KEY,
			landlord_id TEXT NOT NULL REFERENCES landlords(id),
			lease_id TEXT REFERENCES leases(id),
			notification_type TEXT NOT NULL,
			message TEXT NOT NULL,
			related_record_type TEXT,
			related_record_id TEXT,
			requires_signature BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS agent_actions (
			id TEXT PRIMARY KEY,
			lease_id TEXT NOT NULL REFERENCES leases(id),
			action_category TEXT NOT NULL,
			action_description TEXT NOT NULL,
			tools_called TEXT NOT NULL DEFAULT '[]',
			input_summary TEXT,
			output_summary TEXT,
			confidence_score DOUBLE PRECISION,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			lease_id TEXT NOT NULL REFERENCES leases(id),
			direction TEXT NOT NULL CHECK (direction IN ('inbound','outbound')),
			message_body TEXT NOT NULL,
			whatsapp_message_id TEXT,
			intent_classification TEXT,
			confidence_score DOUBLE PRECISION,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_context (
			lease_id TEXT PRIMARY KEY REFERENCES leases(id),
			summary TEXT,
			open_threads TEXT NOT NULL DEFAULT '{}',
			last_updated TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS disputes (
			id TEXT PRIMARY KEY,
			lease_id TEXT NOT NULL REFERENCES leases(id),
			category TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS auto_approval_policies (
			landlord_id TEXT PRIMARY KEY REFERENCES landlords(id),
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			min_confidence DOUBLE PRECISION NOT NULL,
			max_cost_range TEXT NOT NULL CHECK (max_cost_range IN ('low','medium','high')),
			exclude_emergency BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS maintenance_workflows (
			id TEXT PRIMARY KEY,
			maintenance_request_id TEXT NOT NULL REFERENCES maintenance_requests(id),
			lease_id TEXT NOT NULL REFERENCES leases(id),
			landlord_id TEXT NOT NULL,
			current_state TEXT NOT NULL,
			ai_analysis TEXT NOT NULL,
			owner_response TEXT CHECK (owner_response IN ('approved','denied','question')),
			owner_message TEXT,
			vendor_message TEXT,
			vendor_eta TEXT,
			vendor_notes TEXT,
			contractor_id TEXT,
			state_history TEXT NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS workflow_communications (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES maintenance_workflows(id),
			sender_type TEXT NOT NULL CHECK (sender_type IN ('system','tenant','owner','vendor')),
			sender_id TEXT,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS vendor_bids (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES maintenance_workflows(id),
			contractor_id TEXT NOT NULL REFERENCES contractors(id),
			bid_amount DOUBLE PRECISION,
			estimated_completion_hours INTEGER,
			message TEXT,
			is_selected BOOLEAN NOT NULL DEFAULT FALSE,
			ai_score DOUBLE PRECISION,
			created_at TEXT NOT NULL
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_tenants_whatsapp ON tenants(whatsapp_number)",
		"CREATE INDEX IF NOT EXISTS idx_payments_lease_due ON payments(lease_id, due_date)",
		"CREATE INDEX IF NOT EXISTS idx_contractors_landlord ON contractors(landlord_id)",
		"CREATE INDEX IF NOT EXISTS idx_requests_lease_status ON maintenance_requests(lease_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_legal_lease_status ON legal_actions(lease_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_landlord ON landlord_notifications(landlord_id)",
		"CREATE INDEX IF NOT EXISTS idx_actions_lease ON agent_actions(lease_id)",
		"CREATE INDEX IF NOT EXISTS idx_conversations_lease_time ON conversations(lease_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_workflows_state ON maintenance_workflows(current_state)",
		"CREATE INDEX IF NOT EXISTS idx_workflows_request ON maintenance_workflows(maintenance_request_id)",
		"CREATE INDEX IF NOT EXISTS idx_communications_workflow ON workflow_communications(workflow_id)",
		"CREATE INDEX IF NOT EXISTS idx_bids_workflow ON vendor_bids(workflow_id)",
	}

	for _, ddl := range tables {
		if _, err := s.exec(ctx, "create table", ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, ddl := range indices {
		if _, err := s.exec(ctx, "create index", ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := s.setSchemaVersion(ctx, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	_, err := s.exec(ctx, "set schema version",
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?) ON CONFLICT (version) DO NOTHING",
		version, formatTime(s.timestamp()))
	return err
}

// SchemaVersion returns the recorded schema version, 0 for an empty database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if _, err := s.exec(ctx, "create schema_version", `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := s.queryRow(ctx, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		if errors.Is(wrap("schema version", err), ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
