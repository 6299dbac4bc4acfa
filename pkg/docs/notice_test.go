package docs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNotice() Notice {
	return Notice{
		NoticeType:       "section_8",
		TenantName:       "Ana Costa",
		UnitIdentifier:   "Flat 2",
		Address:          "14 Rose Street",
		City:             "Edinburgh",
		Jurisdiction:     "scotland",
		Reason:           "Two months of unpaid rent",
		MonthlyRent:      950,
		TotalArrears:     1900,
		IssuedAt:         time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		ResponseDeadline: time.Date(2024, 3, 29, 9, 30, 0, 0, time.UTC),
	}
}

func TestMarkdown(t *testing.T) {
	md, err := Markdown(sampleNotice())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "# Notice Seeking Possession (Section 8)"))
	assert.Contains(t, md, "Flat 2, 14 Rose Street, Edinburgh")
	assert.Contains(t, md, "**29 March 2024**")
	assert.Contains(t, md, "£1900.00")
	assert.Contains(t, md, "law of Scotland")

	n := sampleNotice()
	n.TotalArrears = 0
	md, err = Markdown(n)
	require.NoError(t, err)
	assert.NotContains(t, md, "## Arrears")
}

func TestGenerate(t *testing.T) {
	doc, err := NewHTMLGenerator().Generate(context.Background(), sampleNotice())
	require.NoError(t, err)
	assert.Equal(t, "section_8_20240301T093000Z.html", doc.Filename)
	assert.Equal(t, "text/html; charset=utf-8", doc.ContentType)

	html := string(doc.Body)
	assert.Contains(t, html, "<h1>Notice Seeking Possession (Section 8)</h1>")
	assert.Contains(t, html, "<strong>29 March 2024</strong>")
}

func TestGenerateDropsRawHTML(t *testing.T) {
	n := sampleNotice()
	n.Reason = "<script>alert(1)</script>"
	doc, err := NewHTMLGenerator().Generate(context.Background(), n)
	require.NoError(t, err)
	assert.NotContains(t, string(doc.Body), "<script>")
}

func TestTitleFallback(t *testing.T) {
	assert.Equal(t, "Formal Notice", Title("mystery"))
	assert.Equal(t, "Formal Demand for Payment", Title("payment_demand"))
}
