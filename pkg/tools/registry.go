// Package tools implements the closed set of actions the tenant assistant may take.
//
// Raw tool input from the model is validated against each tool's JSON schema, decoded
// into a typed Call and dispatched by Executor.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tenantops/pkg/agent/llm"
)

// Tool names as the model sees them.
const (
	ToolGetRentStatus         = "get_rent_status"
	ToolScheduleMaintenance   = "schedule_maintenance"
	ToolIssueLegalNotice      = "issue_legal_notice"
	ToolUpdateEscalationLevel = "update_escalation_level"
)

var (
	// ErrUnknownTool is returned for a tool name outside the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidInput is returned when tool input fails schema validation or decoding.
	ErrInvalidInput = errors.New("invalid tool input")
)

// ToolMeta is the definition shown to the model plus the compiled schema used to check input.
type ToolMeta struct {
	Definition llm.ToolDefinition
	schema     *jsonschema.Schema
	decode     func(raw []byte) (Call, error)
}

// immutableRegistry is built once and never changes afterwards.
//
//nolint:govet // fieldalignment: Logical grouping preferred over memory optimization
type immutableRegistry struct {
	once  sync.Once
	err   error
	order []string
	tools map[string]*ToolMeta
}

//nolint:gochecknoglobals // the tool set is fixed for the process
var registry = &immutableRegistry{}

func (r *immutableRegistry) load() error {
	r.once.Do(func() {
		r.tools = make(map[string]*ToolMeta)
		for _, entry := range []struct {
			def    llm.ToolDefinition
			decode func(raw []byte) (Call, error)
		}{
			{rentStatusDefinition(), decodeAs[GetRentStatus]},
			{scheduleMaintenanceDefinition(), decodeAs[ScheduleMaintenance]},
			{issueLegalNoticeDefinition(), decodeAs[IssueLegalNotice]},
			{updateEscalationDefinition(), decodeAs[UpdateEscalationLevel]},
		} {
			schema, err := compileSchema(entry.def)
			if err != nil {
				r.err = err
				return
			}
			r.tools[entry.def.Name] = &ToolMeta{Definition: entry.def, schema: schema, decode: entry.decode}
			r.order = append(r.order, entry.def.Name)
		}
	})
	return r.err
}

func compileSchema(def llm.ToolDefinition) (*jsonschema.Schema, error) {
	data, err := json.Marshal(def.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for %s: %w", def.Name, err)
	}
	url := "tool://" + def.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to add schema for %s: %w", def.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}
	return schema, nil
}

func decodeAs[T Call](raw []byte) (Call, error) {
	var call T
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by Parse
	}
	return call, nil
}

// Definitions returns every tool definition in a stable order.
func Definitions() []llm.ToolDefinition {
	if err := registry.load(); err != nil {
		panic(fmt.Sprintf("tool registry failed to build: %v", err))
	}
	out := make([]llm.ToolDefinition, 0, len(registry.order))
	for _, name := range registry.order {
		out = append(out, registry.tools[name].Definition)
	}
	return out
}

// Lookup returns the metadata for name.
func Lookup(name string) (*ToolMeta, bool) {
	if err := registry.load(); err != nil {
		return nil, false
	}
	meta, ok := registry.tools[name]
	return meta, ok
}

// Parse validates params against the schema of name and decodes them into a typed Call.
func Parse(name string, params map[string]any) (Call, error) {
	meta, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if params == nil {
		params = map[string]any{}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err) //nolint:errorlint // one sentinel per error
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err) //nolint:errorlint // one sentinel per error
	}
	if err := meta.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err) //nolint:errorlint // one sentinel per error
	}

	call, err := meta.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err) //nolint:errorlint // one sentinel per error
	}
	return call, nil
}

func enum[T any](values ...T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func rentStatusDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolGetRentStatus,
		Description: "Get the current rent payment status and arrears for this tenant. Use when the tenant asks about rent, payments, or balances.",
		InputSchema: llm.InputSchema{
			Type:       "object",
			Properties: map[string]llm.Property{},
			Required:   []string{},
		},
	}
}

func scheduleMaintenanceDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolScheduleMaintenance,
		Description: "Log a maintenance request and assign a contractor. Use when the tenant reports a repair or maintenance issue.",
		InputSchema: llm.InputSchema{
			Type: "object",
			Properties: map[string]llm.Property{
				"category": {
					Type:        "string",
					Description: "The type of maintenance issue",
					Enum:        enum(MaintenanceCategories...),
				},
				"description": {
					Type:        "string",
					Description: "Detailed description of the issue as reported by the tenant",
				},
				"urgency": {
					Type:        "string",
					Description: "emergency: immediate risk to health/safety/property; high: significant issue needing action within 24-48h; routine: can wait for a scheduled visit",
					Enum:        enum(UrgencyEmergency, UrgencyHigh, UrgencyRoutine),
				},
			},
			Required: []string{"category", "description", "urgency"},
		},
	}
}

func issueLegalNoticeDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolIssueLegalNotice,
		Description: "Issue a formal legal notice to the tenant. Only use at escalation level 3 or above, and only when legally justified.",
		InputSchema: llm.InputSchema{
			Type: "object",
			Properties: map[string]llm.Property{
				"notice_type": {
					Type:        "string",
					Description: "The type of legal notice to issue",
					Enum:        enum(NoticeTypes...),
				},
				"reason": {
					Type:        "string",
					Description: "The specific reason for issuing this notice",
				},
			},
			Required: []string{"notice_type", "reason"},
		},
	}
}

func updateEscalationDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolUpdateEscalationLevel,
		Description: "Change the escalation level for this tenancy. Use when the situation has materially improved or worsened.",
		InputSchema: llm.InputSchema{
			Type: "object",
			Properties: map[string]llm.Property{
				"new_level": {
					Type:        "number",
					Description: "The new escalation level (1-4)",
					Enum:        enum(1, 2, 3, 4),
				},
				"reason": {
					Type:        "string",
					Description: "Why the escalation level is changing",
				},
			},
			Required: []string{"new_level", "reason"},
		},
	}
}
