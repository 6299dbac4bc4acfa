// Package chat handles one tenant message end to end: context loading, redaction, the agent
// turn, landlord alerts, the rolling conversation summary and conversation logging.
package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RedactionNote is appended once to any message that had content redacted.
const RedactionNote = " (Note: sensitive details removed)"

// SecretScanner finds and masks sensitive content.
type SecretScanner interface {
	// Scan returns the redacted text and whether anything was replaced.
	Scan(ctx context.Context, text string) (redactedText string, hadRedactions bool, err error)
}

// PatternScanner is a regexp-based scanner.
type PatternScanner struct {
	patterns []*regexp.Regexp
	timeout  time.Duration
}

// NewPatternScanner creates a scanner with the default patterns.
func NewPatternScanner(timeoutMs int) *PatternScanner {
	return &PatternScanner{
		patterns: compileDefaultPatterns(),
		timeout:  time.Duration(timeoutMs) * time.Millisecond,
	}
}

// compileDefaultPatterns covers what tenants tend to paste into a chat about rent.
func compileDefaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Payment cards, 13 to 19 digits with optional separators
		`\b(?:\d[ -]?){12,18}\d\b`,

		// Card security codes given with a label
		`(?i)\b(?:cvv|cvc|security code)\s*[:=]?\s*\d{3,4}\b`,

		// IBAN
		`\b[A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){3,7}(?:\s?[A-Z0-9]{1,3})?\b`,

		// UK sort code followed by an account number
		`\b\d{2}-\d{2}-\d{2}\s*,?\s*\d{8}\b`,

		// Passwords and PINs given with a label
		`(?i)\b(?:password|passcode|pin)\s*(?:is|[:=])\s*\S+`,

		// API keys and bearer tokens
		`sk-[A-Za-z0-9_-]{20,}`,
		`Bearer\s+[A-Za-z0-9_.-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// Scan masks every match with [redacted].
func (s *PatternScanner) Scan(ctx context.Context, text string) (string, bool, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	hadRedactions := false
	redactedText := text
	for _, pattern := range s.patterns {
		if err := ctx.Err(); err != nil {
			return "", false, fmt.Errorf("context cancelled during pattern matching: %w", err)
		}
		if !pattern.MatchString(redactedText) {
			continue
		}
		hadRedactions = true
		redactedText = pattern.ReplaceAllString(redactedText, "[redacted]")
	}
	return redactedText, hadRedactions, nil
}

// RedactSecrets applies the scanner and appends RedactionNote when something was masked.
// On scanner failure the original text is returned together with the error.
func RedactSecrets(ctx context.Context, scanner SecretScanner, text string) (string, error) {
	redacted, hadRedactions, err := scanner.Scan(ctx, text)
	if err != nil {
		return text, fmt.Errorf("secret scanner error: %w", err)
	}
	if hadRedactions && !strings.HasSuffix(redacted, RedactionNote) {
		redacted += RedactionNote
	}
	return redacted, nil
}
