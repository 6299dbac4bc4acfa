package analysis

import (
	"context"
	"fmt"
	"strings"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/logx"
)

const systemPrompt = `You are an expert property maintenance operations manager.

Your task is to analyze a tenant maintenance request and determine:

1. category (plumbing, electrical, hvac, appliance, structural, pest, cosmetic, other)
2. urgency (low, medium, high, emergency)
3. estimated_cost_range (low < $200, medium $200-$800, high > $800)
4. vendor_required (true/false)
5. reasoning (clear operational explanation)
6. confidence_score (0.0 - 1.0)

Rules:
- Emergency issues include flooding, fire risk, gas smell, no heat in winter, major electrical hazard.
- Cosmetic issues (paint scratches, minor wear) do NOT require vendor immediately.
- If repair likely requires tools or technical expertise, vendor_required = true.
- If tenant can reasonably fix issue safely themselves, vendor_required = false.
- Always prioritize safety.

Return ONLY valid JSON.
No commentary.
No markdown.
No explanation outside JSON.`

const analysisMaxTokens = 500

// Analyzer asks the inference service for an AIAnalysis.
type Analyzer struct {
	client llm.LLMClient
	logger *logx.Logger
}

// NewAnalyzer creates an analyzer. A nil client makes every analysis use the keyword fallback.
func NewAnalyzer(client llm.LLMClient) *Analyzer {
	return &Analyzer{client: client, logger: logx.NewLogger("analysis")}
}

// Analyze classifies a description. Inference or parse failures degrade to Fallback; the
// error is non-nil only when ctx is done.
func (a *Analyzer) Analyze(ctx context.Context, description, unitAddress, tenantName string) (AIAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return AIAnalysis{}, fmt.Errorf("analysis cancelled: %w", err)
	}
	if a.client == nil {
		return Fallback(description), nil
	}

	prompt := "Analyze this maintenance request:\n\n" + description
	if unitAddress != "" {
		prompt += "\n\nUnit: " + unitAddress
	}
	if tenantName != "" {
		prompt += "\nTenant: " + tenantName
	}

	result, err := a.ask(ctx, prompt)
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return AIAnalysis{}, fmt.Errorf("analysis cancelled: %w", ctxErr)
	}
	a.logger.Warn("⚠️  Analysis attempt failed, retrying with stricter prompt: %v", err)

	strict := fmt.Sprintf(`Analyze this maintenance request and return ONLY a JSON object with these exact fields:
- category
- urgency
- estimated_cost_range
- vendor_required
- reasoning
- confidence_score

Request: %s`, description)
	if unitAddress != "" {
		strict += "\nUnit: " + unitAddress
	}

	result, err = a.ask(ctx, strict)
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return AIAnalysis{}, fmt.Errorf("analysis cancelled: %w", ctxErr)
	}
	a.logger.Warn("⚠️  Analysis unavailable, using keyword fallback: %v", err)
	return Fallback(description), nil
}

func (a *Analyzer) ask(ctx context.Context, prompt string) (AIAnalysis, error) {
	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		Messages:    []llm.CompletionMessage{llm.NewUserMessage(prompt)},
		MaxTokens:   analysisMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return AIAnalysis{}, fmt.Errorf("inference failed: %w", err)
	}
	return Decode(resp.Content)
}

// VendorBrief carries what the outreach message needs.
type VendorBrief struct {
	VendorName  string
	Description string
	Urgency     Urgency
	UnitAddress string
	TenantName  string
}

// VendorMessenger drafts contractor outreach messages.
type VendorMessenger struct {
	client llm.LLMClient
	logger *logx.Logger
}

// NewVendorMessenger creates a messenger. A nil client always uses the template.
func NewVendorMessenger(client llm.LLMClient) *VendorMessenger {
	return &VendorMessenger{client: client, logger: logx.NewLogger("analysis")}
}

// Compose returns a short professional outreach message.
func (m *VendorMessenger) Compose(ctx context.Context, brief VendorBrief) string {
	if m.client == nil {
		return FallbackVendorMessage(brief)
	}

	var b strings.Builder
	b.WriteString("Generate a professional, concise message to a contractor for a maintenance request.\n\n")
	fmt.Fprintf(&b, "Contractor: %s\nIssue: %s\nUrgency: %s\nProperty: %s\n", brief.VendorName, brief.Description, brief.Urgency, brief.UnitAddress)
	if brief.TenantName != "" {
		fmt.Fprintf(&b, "Tenant: %s\n", brief.TenantName)
	}
	b.WriteString(`
Write a brief, professional message requesting their service. Include:
- Greeting
- Issue description
- Urgency level
- Request for ETA
- Professional closing

Keep it under 100 words.`)

	resp, err := m.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewUserMessage(b.String())},
		MaxTokens:   200,
		Temperature: llm.TemperatureDefault,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		m.logger.Warn("⚠️  Vendor message generation failed, using template: %v", err)
		return FallbackVendorMessage(brief)
	}
	return strings.TrimSpace(resp.Content)
}

// FallbackVendorMessage is the fixed outreach template.
func FallbackVendorMessage(brief VendorBrief) string {
	return fmt.Sprintf(`Hi %s,

We have a %s %s at %s that requires your expertise.

Could you please provide an ETA for addressing this issue? The tenant has reported: "%s"

Thank you for your prompt attention to this matter.

Best regards,
Property Management`, brief.VendorName, brief.Urgency, brief.Description, brief.UnitAddress, brief.Description)
}
