package persistence

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tenantops/pkg/policy"
)

// Fixtures is a YAML document of reference data: landlords, their units and leases,
// tenants, rent history, contractors and auto-approval policies.
type Fixtures struct {
	Landlords    []Landlord                     `yaml:"landlords"`
	Units        []Unit                         `yaml:"units"`
	Leases       []Lease                        `yaml:"leases"`
	Tenants      []Tenant                       `yaml:"tenants"`
	Payments     []Payment                      `yaml:"payments"`
	PaymentPlans []PaymentPlan                  `yaml:"payment_plans"`
	Contractors  []Contractor                   `yaml:"contractors"`
	Disputes     []Dispute                      `yaml:"disputes"`
	Policies     map[string]policy.AutoApproval `yaml:"auto_approval_policies"` // keyed by landlord id
}

// LoadFixtures parses a fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures YAML: %w", err)
	}
	return &f, nil
}

// Seed inserts every fixture in one transaction, parents before children.
func (s *Store) Seed(ctx context.Context, f *Fixtures) error {
	err := s.InTx(ctx, func(tx *Store) error {
		for i := range f.Landlords {
			if err := tx.CreateLandlord(ctx, &f.Landlords[i]); err != nil {
				return err
			}
		}
		for i := range f.Units {
			if err := tx.CreateUnit(ctx, &f.Units[i]); err != nil {
				return err
			}
		}
		for i := range f.Leases {
			if err := tx.CreateLease(ctx, &f.Leases[i]); err != nil {
				return err
			}
		}
		for i := range f.Tenants {
			if err := tx.CreateTenant(ctx, &f.Tenants[i]); err != nil {
				return err
			}
		}
		for i := range f.Payments {
			if err := tx.CreatePayment(ctx, &f.Payments[i]); err != nil {
				return err
			}
		}
		for i := range f.PaymentPlans {
			if err := tx.CreatePaymentPlan(ctx, &f.PaymentPlans[i]); err != nil {
				return err
			}
		}
		for i := range f.Contractors {
			if err := tx.CreateContractor(ctx, &f.Contractors[i]); err != nil {
				return err
			}
		}
		for i := range f.Disputes {
			if err := tx.CreateDispute(ctx, &f.Disputes[i]); err != nil {
				return err
			}
		}
		for landlordID, p := range f.Policies {
			if err := tx.SaveAutoApprovalPolicy(ctx, landlordID, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed fixtures: %w", err)
	}
	s.logger.Info("🌱 Seeded %d landlords, %d leases, %d contractors", len(f.Landlords), len(f.Leases), len(f.Contractors))
	return nil
}
