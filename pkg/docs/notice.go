// Package docs renders legal notice documents.
package docs

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Notice is the structured content of one legal notice.
type Notice struct {
	NoticeType       string
	TenantName       string
	LandlordName     string
	UnitIdentifier   string
	Address          string
	City             string
	Jurisdiction     string
	Reason           string
	MonthlyRent      float64
	TotalArrears     float64
	IssuedAt         time.Time
	ResponseDeadline time.Time
}

// Document is a rendered file ready for upload.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Generator turns a Notice into a Document.
type Generator interface {
	Generate(ctx context.Context, n Notice) (Document, error)
}

//nolint:gochecknoglobals // fixed vocabulary
var titles = map[string]string{
	"section_8":              "Notice Seeking Possession (Section 8)",
	"section_21":             "Notice Requiring Possession (Section 21)",
	"payment_demand":         "Formal Demand for Payment",
	"formal_notice":          "Formal Notice",
	"lease_violation_notice": "Notice of Breach of Tenancy Agreement",
	"payment_plan_agreement": "Payment Plan Agreement",
}

// Title is the document heading for a notice type.
func Title(noticeType string) string {
	if t, ok := titles[noticeType]; ok {
		return t
	}
	return "Formal Notice"
}

const noticeTemplate = `# {{ .Title }}

**Issued:** {{ .Issued }}
**Property:** {{ .Property }}
**Tenant:** {{ .N.TenantName }}
{{- if .N.LandlordName }}
**Landlord:** {{ .N.LandlordName }}
{{- end }}

## Reason

{{ .N.Reason }}
{{ if gt .N.TotalArrears 0.0 }}
## Arrears

Outstanding rent stands at **£{{ printf "%.2f" .N.TotalArrears }}**{{ if gt .N.MonthlyRent 0.0 }} against a monthly rent of £{{ printf "%.2f" .N.MonthlyRent }}{{ end }}.
{{ end }}
## Response required

You must respond to this notice by **{{ .Deadline }}**.

This notice is served under the law of {{ .Jurisdiction }}. You may wish to seek independent advice.
`

//nolint:gochecknoglobals // parsed once
var tmpl = template.Must(template.New("notice").Parse(noticeTemplate))

// HTMLGenerator renders notices from Markdown to a standalone HTML page.
type HTMLGenerator struct {
	md goldmark.Markdown
}

// NewHTMLGenerator creates a generator with GitHub-flavoured Markdown enabled.
func NewHTMLGenerator() *HTMLGenerator {
	return &HTMLGenerator{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Markdown returns the notice source text.
func Markdown(n Notice) (string, error) {
	property := n.UnitIdentifier + ", " + n.Address
	if n.City != "" {
		property += ", " + n.City
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, map[string]any{
		"N":            n,
		"Title":        Title(n.NoticeType),
		"Issued":       n.IssuedAt.Format("02 January 2006"),
		"Deadline":     n.ResponseDeadline.Format("02 January 2006"),
		"Property":     property,
		"Jurisdiction": jurisdictionName(n.Jurisdiction),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render notice template: %w", err)
	}
	return buf.String(), nil
}

func (g *HTMLGenerator) Generate(ctx context.Context, n Notice) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, fmt.Errorf("document generation cancelled: %w", err)
	}
	source, err := Markdown(n)
	if err != nil {
		return Document{}, err
	}

	var body bytes.Buffer
	body.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	template.HTMLEscape(&body, []byte(Title(n.NoticeType)))
	body.WriteString("</title></head><body>\n")
	if err := g.md.Convert([]byte(source), &body); err != nil {
		return Document{}, fmt.Errorf("failed to convert notice markdown: %w", err)
	}
	body.WriteString("</body></html>\n")

	return Document{
		Filename:    fmt.Sprintf("%s_%s.html", n.NoticeType, n.IssuedAt.UTC().Format("20060102T150405Z")),
		ContentType: "text/html; charset=utf-8",
		Body:        body.Bytes(),
	}, nil
}

func jurisdictionName(code string) string {
	switch code {
	case "scotland":
		return "Scotland"
	case "northern_ireland":
		return "Northern Ireland"
	case "wales":
		return "Wales"
	case "", "england_wales":
		return "England and Wales"
	default:
		return strings.ReplaceAll(code, "_", " ")
	}
}
