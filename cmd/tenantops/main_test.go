package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantops/pkg/config"
	"tenantops/pkg/persistence"
	"tenantops/pkg/workflow"
)

// cli runs commands against a temp SQLite database seeded from the shipped fixtures.
type cli struct {
	t          *testing.T
	configPath string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	// No provider key: analysis falls back to keywords and outreach to the template.
	t.Setenv(config.SecretAnthropicAPIKey, "")
	t.Setenv(config.SecretOpenAIAPIKey, "")

	dir := t.TempDir()
	cfg := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
storage:
  backend: file
  dir: %s
notify:
  sinks: [log]
ranking:
  strategy: first
workflow:
  retry_attempts: 2
  retry_initial_delay: 1ms
  retry_max_delay: 5ms
`, filepath.Join(dir, "test.db"), filepath.Join(dir, "documents"))
	path := filepath.Join(dir, "tenantops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &cli{t: t, configPath: path}
}

func (c *cli) run(args ...string) (int, string, string) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"--config", c.configPath}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (c *cli) ok(args ...string) string {
	c.t.Helper()
	code, out, errOut := c.run(args...)
	require.Equal(c.t, 0, code, "tenantops %s\nstdout: %s\nstderr: %s", strings.Join(args, " "), out, errOut)
	return out
}

func (c *cli) workflows(args ...string) []*persistence.MaintenanceWorkflow {
	c.t.Helper()
	var out []*persistence.MaintenanceWorkflow
	require.NoError(c.t, json.Unmarshal([]byte(c.ok(append([]string{"list", "--json"}, args...)...)), &out))
	return out
}

func TestUsage(t *testing.T) {
	c := newCLI(t)

	code, _, errOut := c.run()
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "owner-respond")

	code, _, errOut = c.run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, `Unknown command "frobnicate"`)

	code, _, errOut = c.run("submit", "--description", "leak")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "--lease is required")

	code, _, _ = c.run("submit", "--bogus")
	assert.Equal(t, 2, code)

	code, _, _ = c.run("status", "--help")
	assert.Equal(t, 0, code)

	out := c.ok("version")
	assert.Contains(t, out, "tenantops dev")
}

func TestWorkflowLifecycle(t *testing.T) {
	c := newCLI(t)
	assert.Contains(t, c.ok("migrate"), fmt.Sprintf("version %d", persistence.CurrentSchemaVersion))
	assert.Contains(t, c.ok("seed", "--fixtures", "../../configs/fixtures.yaml"), "Seeded 1 landlords, 2 units")

	// Keyword analysis reports confidence 0.6, below the stored policy's 0.8.
	out := c.ok("submit", "--lease", "lease-rose-2", "--description", "water leak under sink")
	assert.Contains(t, out, "OWNER_NOTIFIED")

	wfs := c.workflows()
	require.Len(t, wfs, 1)
	id := wfs[0].ID
	assert.Equal(t, "plumbing", string(wfs[0].AIAnalysis.Category))

	out = c.ok("owner-respond", "--workflow", id, "--decision", "approved", "--message", "Go ahead")
	assert.Contains(t, out, "AWAITING_VENDOR_RESPONSE")
	assert.Contains(t, out, "contractor-dave")

	out = c.ok("vendor-respond", "--workflow", id, "--eta", "2030-03-05T14:30:00Z", "--notes", "Bringing a trap")
	assert.Contains(t, out, "IN_PROGRESS")
	assert.Contains(t, out, "March 05 at 02:30 PM")

	out = c.ok("complete", "--workflow", id, "--cost", "180")
	assert.Contains(t, out, "COMPLETED")

	var st workflow.Status
	require.NoError(t, json.Unmarshal([]byte(c.ok("status", "--workflow", id, "--json")), &st))
	assert.Equal(t, []string{
		"SUBMITTED", "OWNER_NOTIFIED", "OWNER_RESPONDED", "DECISION_MADE", "VENDOR_CONTACTED",
		"AWAITING_VENDOR_RESPONSE", "ETA_CONFIRMED", "TENANT_NOTIFIED", "IN_PROGRESS", "COMPLETED",
	}, historyStates(st.History))
	require.Len(t, st.VendorBids, 1)
	assert.Equal(t, "contractor-dave", st.VendorBids[0].ContractorID)

	text := c.ok("status", "--workflow", id)
	assert.Contains(t, text, "Vendor contacted with message")
	assert.Contains(t, text, "Actual cost: £180.00")

	code, _, errOut := c.run("complete", "--workflow", id)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid transition from COMPLETED to COMPLETED")

	assert.Len(t, c.workflows("--state", "completed"), 1)
	assert.Empty(t, c.workflows("--state", "OWNER_NOTIFIED"))
}

func TestSubmitWithExplicitPolicy(t *testing.T) {
	c := newCLI(t)
	c.ok("seed", "--fixtures", "../../configs/fixtures.yaml")

	// Keyword analysis is medium cost at 0.6 confidence.
	out := c.ok("submit", "--lease", "lease-rose-2", "--description", "kitchen sink is dripping",
		"--auto-approve", "--min-confidence", "0.5", "--max-cost", "medium")
	assert.Contains(t, out, "AWAITING_VENDOR_RESPONSE")
	assert.Contains(t, out, "Auto-approved by landlord policy")

	code, _, _ := c.run("submit", "--lease", "lease-rose-2", "--description", "leak", "--max-cost", "huge")
	assert.Equal(t, 2, code)

	code, _, errOut := c.run("submit", "--lease", "no-such-lease", "--description", "leak")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unknown lease")
}

func TestOwnerDecisionErrors(t *testing.T) {
	c := newCLI(t)
	c.ok("seed", "--fixtures", "../../configs/fixtures.yaml")
	c.ok("submit", "--lease", "lease-thistle-1", "--description", "no heat in the bedroom")
	id := c.workflows()[0].ID

	code, _, _ := c.run("owner-respond", "--workflow", id, "--decision", "maybe")
	assert.Equal(t, 2, code)

	out := c.ok("owner-respond", "--workflow", id, "--decision", "denied", "--message", "Heating was serviced last week")
	assert.Contains(t, out, "CLOSED_DENIED")

	code, _, errOut := c.run("owner-respond", "--workflow", id, "--decision", "approved")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid transition from CLOSED_DENIED")

	code, _, _ = c.run("status", "--workflow", "missing")
	assert.Equal(t, 1, code)
}

func TestPolicyCommand(t *testing.T) {
	c := newCLI(t)
	c.ok("seed", "--fixtures", "../../configs/fixtures.yaml")

	assert.Contains(t, c.ok("policy", "--landlord", "landlord-priya"), "min confidence 0.80, max cost low")

	out := c.ok("policy", "--landlord", "landlord-priya", "--max-cost", "high", "--exclude-emergency=false", "--auto-approve")
	assert.Contains(t, out, "Policy saved")
	assert.Contains(t, out, "enabled true, min confidence 0.80, max cost high, exclude emergency false")

	assert.Contains(t, c.ok("policy", "--landlord", "nobody"), "No policy stored")
}

func TestSecretsList(t *testing.T) {
	c := newCLI(t)
	dir := filepath.Dir(c.configPath)
	t.Setenv(PasswordEnv, "correct horse")
	require.NoError(t, config.EncryptSecretsFile(dir, "correct horse", map[string]string{config.SecretRedisPassword: "s3cret"}))
	t.Cleanup(func() { config.SetDecryptedSecrets(nil) })

	out := c.ok("secrets", "list")
	assert.Equal(t, config.SecretRedisPassword+"\n", out)
	assert.NotContains(t, out, "s3cret")

	t.Setenv(PasswordEnv, "wrong")
	code, _, errOut := c.run("secrets", "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "failed to decrypt secrets")
}

func historyStates(h []persistence.StateEntry) []string {
	out := make([]string, len(h))
	for i := range h {
		out[i] = h[i].To
	}
	return out
}
