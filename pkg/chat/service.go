package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"tenantops/pkg/agent/toolloop"
	"tenantops/pkg/config"
	"tenantops/pkg/logx"
	"tenantops/pkg/notify"
	"tenantops/pkg/persistence"
	"tenantops/pkg/tenancy"
	"tenantops/pkg/tracing"
)

const (
	// DefaultMaxMessageChars is the default maximum length for an inbound message.
	DefaultMaxMessageChars = 4096

	// DefaultSummaryChars bounds the rolling conversation summary.
	DefaultSummaryChars = 1000

	// TruncationSuffix is appended to messages that exceed the max length.
	TruncationSuffix = " … [truncated]"

	// ErrorReply is sent to the tenant when the agent turn fails.
	ErrorReply = "I encountered an issue processing your request. Please try again or contact your property manager directly."

	summaryQuoteRunes  = 100
	maxSummaryAttempts = 3
)

var (
	// ErrUnknownTenant is returned when no tenant has the sender's number.
	ErrUnknownTenant = errors.New("no tenant registered for this number")

	// ErrEmptyMessage is returned for a message with neither text nor media.
	ErrEmptyMessage = errors.New("message has no text or media")
)

// Agent runs one conversational turn.
type Agent interface {
	Run(ctx context.Context, userMessage string, tc *tenancy.TenantContext) (*toolloop.AgentResult, error)
}

// ContextLoader resolves senders and records conversation rows.
type ContextLoader interface {
	LoadByWhatsApp(ctx context.Context, number string) (*tenancy.TenantContext, error)
	LogConversation(ctx context.Context, leaseID, direction, body, intent string, confidence *float64) (string, error)
}

// Store is the subset of persistence the service writes.
type Store interface {
	WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error
	GetConversationContext(ctx context.Context, leaseID string) (*persistence.ConversationContext, error)
	SaveConversationContext(ctx context.Context, cc *persistence.ConversationContext) error
	InsertAgentAction(ctx context.Context, a *persistence.AgentAction) error
}

// Inbound is one message received from a tenant.
type Inbound struct {
	// From is the sender's WhatsApp number; a "whatsapp:" prefix is accepted.
	From       string
	Body       string
	MediaCount int
}

// Reply is the outcome of handling an Inbound message.
//
//nolint:govet // Field order optimized for readability over memory alignment
type Reply struct {
	LeaseID    string
	TenantName string
	Message    string
	Intent     string
	ToolsUsed  []string
	// Alerts are the high-severity actions the landlord was alerted about.
	Alerts []string
	// AgentErr is set when the turn failed and ErrorReply was sent instead.
	AgentErr error
}

// Service provides the tenant conversation flow.
type Service struct {
	loader       ContextLoader
	store        Store
	agent        Agent
	publisher    notify.Publisher
	scanner      SecretScanner
	maxChars     int
	summaryChars int
	now          func() time.Time
	logger       *logx.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the sink for landlord alerts.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the clock used for summary dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a chat service. A nil cfg keeps the defaults with scanning enabled.
func NewService(loader ContextLoader, store Store, agent Agent, cfg *config.ChatConfig, opts ...Option) *Service {
	logger := logx.NewLogger("chat")
	s := &Service{
		loader:       loader,
		store:        store,
		agent:        agent,
		publisher:    notify.NewLogPublisher(),
		maxChars:     DefaultMaxMessageChars,
		summaryChars: DefaultSummaryChars,
		now:          time.Now,
		logger:       logger,
	}

	switch {
	case cfg == nil:
		s.scanner = NewPatternScanner(0)
	case cfg.Scanner.Enabled:
		s.scanner = NewPatternScanner(cfg.Scanner.TimeoutMs)
		logger.Info("Chat redaction scanner enabled (timeout: %dms)", cfg.Scanner.TimeoutMs)
	default:
		logger.Warn("Chat redaction scanner disabled")
	}
	if cfg != nil && cfg.Limits.MaxMessageChars > 0 {
		s.maxChars = cfg.Limits.MaxMessageChars
	}
	if cfg != nil && cfg.SummaryChars > 0 {
		s.summaryChars = cfg.SummaryChars
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage answers one tenant message. Agent failures do not fail the call: the tenant
// gets ErrorReply, an audit row is written and Reply.AgentErr carries the cause. Errors are
// returned only when the sender is unknown or the conversation log cannot be written.
func (s *Service) HandleMessage(ctx context.Context, in Inbound) (*Reply, error) {
	text := s.prepare(ctx, in.Body)
	if text == "" && in.MediaCount == 0 {
		return nil, ErrEmptyMessage
	}

	tc, err := s.loader.LoadByWhatsApp(ctx, in.From)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, in.From)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant context: %w", err)
	}

	ctx, span := tracing.Start(ctx, "chat.message", attribute.String("lease.id", tc.Lease.ID))
	reply, err := s.handle(ctx, tc, text, in.MediaCount)
	tracing.End(span, err)
	return reply, err
}

func (s *Service) handle(ctx context.Context, tc *tenancy.TenantContext, text string, mediaCount int) (*Reply, error) {
	leaseID := tc.Lease.ID
	logBody := text
	if logBody == "" {
		logBody = fmt.Sprintf("[%d image(s) attached]", mediaCount)
	}
	if _, err := s.loader.LogConversation(ctx, leaseID, persistence.DirectionInbound, logBody, "", nil); err != nil {
		return nil, err
	}
	s.logger.Info("📨 Inbound message from %s on lease %s (%d chars, %d media)",
		tc.Tenant.FullName, leaseID, len(text), mediaCount)

	reply := &Reply{LeaseID: leaseID, TenantName: tc.Tenant.FullName, Intent: toolloop.IntentGeneral}
	var confidence *float64

	switch {
	case text == "":
		reply.Message = fmt.Sprintf("Thanks, I can see you've sent %d photo(s). "+
			"Please describe the issue in a message so I can log the repair correctly.", mediaCount)
	default:
		result, err := s.agent.Run(ctx, text, tc)
		if err != nil {
			s.logger.Error("❌ Agent turn failed for lease %s: %v", leaseID, err)
			reply.Message = ErrorReply
			reply.AgentErr = err
			s.auditFailure(ctx, leaseID, err)
			break
		}
		reply.Message = result.FinalMessage
		reply.Intent = result.IntentClassification
		reply.ToolsUsed = result.ToolsUsed
		confidence = &result.ConfidenceScore

		if len(result.HighSeverityActions) > 0 {
			reply.Alerts = result.HighSeverityActions
			s.alertLandlord(ctx, tc, result.HighSeverityActions)
		}
		entry := SummaryEntry(s.now(), text, result.FinalMessage, result.ToolsUsed)
		if err := s.refreshSummary(ctx, leaseID, entry); err != nil {
			s.logger.Warn("⚠️  Failed to refresh conversation summary for lease %s: %v", leaseID, err)
		}
	}

	if _, err := s.loader.LogConversation(ctx, leaseID, persistence.DirectionOutbound, reply.Message, reply.Intent, confidence); err != nil {
		return nil, err
	}
	s.logger.Info("📤 Replied on lease %s (intent: %s, tools: %v)", leaseID, reply.Intent, reply.ToolsUsed)
	return reply, nil
}

// prepare truncates and redacts the inbound text.
func (s *Service) prepare(ctx context.Context, body string) string {
	text := strings.TrimSpace(body)
	if n := utf8.RuneCountInString(text); n > s.maxChars {
		keep := max(s.maxChars-utf8.RuneCountInString(TruncationSuffix), 0)
		text = truncateRunes(text, keep) + TruncationSuffix
		s.logger.Debug("Truncated inbound message (original: %d chars, max: %d)", n, s.maxChars)
	}
	if s.scanner != nil && text != "" {
		redacted, err := RedactSecrets(ctx, s.scanner, text)
		if err != nil {
			// Fail open: the message is still answered.
			s.logger.Error("Redaction scanner failed: %v (using original text)", err)
		} else {
			text = redacted
		}
	}
	return text
}

// alertLandlord publishes the first high-severity action as a short property alert.
func (s *Service) alertLandlord(ctx context.Context, tc *tenancy.TenantContext, actions []string) {
	ev := notify.Event{
		ID:         uuid.NewString(),
		Kind:       notify.KindPropertyAlert,
		LandlordID: tc.LandlordID,
		LeaseID:    tc.Lease.ID,
		Recipient:  tc.LandlordID,
		Urgency:    "high",
		Message:    PropertyAlert(tc, actions),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("⚠️  Failed to alert landlord %s: %v", tc.LandlordID, err)
		return
	}
	s.logger.Info("🚨 Property alert sent to landlord %s", tc.LandlordID)
}

// PropertyAlert formats the landlord alert for the first action.
func PropertyAlert(tc *tenancy.TenantContext, actions []string) string {
	if len(actions) == 0 {
		return ""
	}
	unit, city := "", ""
	if tc.Unit != nil {
		unit, city = tc.Unit.UnitIdentifier, tc.Unit.City
	}
	return fmt.Sprintf("[Property Alert] %s, %s: %s", unit, city, actions[0])
}

// refreshSummary appends entry to the stored summary. Open threads are re-read and kept as
// stored so a concurrent escalation change is never overwritten.
func (s *Service) refreshSummary(ctx context.Context, leaseID, entry string) error {
	return s.store.WithRetry(ctx, "refresh conversation summary", func(ctx context.Context) error {
		var err error
		for attempt := 1; attempt <= maxSummaryAttempts; attempt++ {
			cc, getErr := s.store.GetConversationContext(ctx, leaseID)
			switch {
			case errors.Is(getErr, persistence.ErrNotFound):
				cc = &persistence.ConversationContext{LeaseID: leaseID}
			case getErr != nil:
				return getErr
			}
			cc.Summary = AppendSummary(cc.Summary, entry, s.summaryChars)
			err = s.store.SaveConversationContext(ctx, cc)
			if !errors.Is(err, persistence.ErrStaleWrite) {
				return err
			}
			logx.Debug(ctx, "chat", "summary write for lease %s lost a race (attempt %d)", leaseID, attempt)
		}
		return err
	})
}

// SummaryEntry is one dated line of the rolling summary.
func SummaryEntry(now time.Time, userMessage, reply string, toolsUsed []string) string {
	toolsPart := ""
	if len(toolsUsed) > 0 {
		toolsPart = fmt.Sprintf(" Tools used: %s.", strings.Join(toolsUsed, ", "))
	}
	return fmt.Sprintf(`[%s] Tenant: "%s". Agent: "%s".%s`,
		now.Format(time.DateOnly), truncateRunes(userMessage, summaryQuoteRunes), truncateRunes(reply, summaryQuoteRunes), toolsPart)
}

// AppendSummary adds entry on a new line and keeps the last limit characters.
func AppendSummary(prev, entry string, limit int) string {
	updated := []rune(strings.TrimSpace(prev + "\n" + entry))
	if len(updated) > limit {
		updated = updated[len(updated)-limit:]
	}
	return string(updated)
}

func (s *Service) auditFailure(ctx context.Context, leaseID string, cause error) {
	action := &persistence.AgentAction{
		LeaseID:           leaseID,
		ActionCategory:    "other",
		ActionDescription: "Agent error: " + cause.Error(),
		ToolsCalled:       []string{},
		ConfidenceScore:   0,
	}
	err := s.store.WithRetry(ctx, "insert agent action", func(ctx context.Context) error {
		return s.store.InsertAgentAction(ctx, action)
	})
	if err != nil {
		s.logger.Warn("⚠️  Failed to record agent failure for lease %s: %v", leaseID, err)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
