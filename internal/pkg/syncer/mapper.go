package syncer

import (
	"errors"
	"strings"
	"time"

	"github.com/mhenrichs/notisync/app/models"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
)

const (
	billingPeriodPrefix = "Billing Period: "
	dayLayout           = "2006-01-02"

	stripeDashboardInvoiceURL = "https://dashboard.stripe.com/invoices/"
)

// ErrMemoCollision means the free-text part of the memo already contains a
// "Billing Period:" line of its own, so an encoded period cannot be appended
// without making the memo ambiguous.
var ErrMemoCollision = errors.New("syncer: memo body already contains a billing period line")

// ToNotionProperties maps an invoice onto the full Notion property payload.
// The billing period is deliberately absent: that property belongs to the
// operators and is only ever read, never written, from this side.
func ToNotionProperties(inv *models.Invoice, clientPageID string) notionapi.Properties {
	props := notionapi.Properties{
		"Invoice Number": notionapi.TitleProperty(inv.InvoiceNumber),
		"Stripe ID":      notionapi.RichTextProperty(inv.ID),
		"Stripe link":    notionapi.URLProperty(stripeDashboardInvoiceURL + inv.ID),
		"Status":         notionapi.StatusProperty(inv.Status.NotionStatusName()),
		"Amount":         notionapi.AmountProperty(inv.Amount),
	}
	if inv.FinalizedDate != nil {
		props["Finalized"] = notionapi.DateProperty(inv.FinalizedDate, nil)
	}
	if inv.DueDate != nil {
		props["Due Date"] = notionapi.DateProperty(inv.DueDate, nil)
	}
	if clientPageID != "" {
		props["Client"] = notionapi.RelationProperty(clientPageID)
	}
	return props
}

// FormatBillingPeriod renders a period the way it appears in the memo line:
// "2024-01-01" for a single day, "2024-01-01 to 2024-01-31" for a range.
func FormatBillingPeriod(start, end *time.Time) string {
	if start == nil {
		return ""
	}
	s := start.UTC().Format(dayLayout)
	if end == nil {
		return s
	}
	e := end.UTC().Format(dayLayout)
	if e == s {
		return s
	}
	return s + " to " + e
}

// EncodeBillingPeriod appends the period as the trailing memo line. An empty
// period returns the body unchanged. A body that already carries its own
// period line is rejected with ErrMemoCollision.
func EncodeBillingPeriod(body string, start, end *time.Time) (string, error) {
	formatted := FormatBillingPeriod(start, end)
	body = strings.TrimRight(body, " \t\n")
	if formatted == "" {
		return body, nil
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), billingPeriodPrefix) {
			return "", ErrMemoCollision
		}
	}
	if body == "" {
		return billingPeriodPrefix + formatted, nil
	}
	return body + "\n" + billingPeriodPrefix + formatted, nil
}

// ExtractBillingPeriod splits a memo into its free-text body and the billing
// period encoded in the trailing line, if any. An unparseable period line is
// left in the body untouched.
func ExtractBillingPeriod(memo string) (body string, start, end *time.Time) {
	trimmed := strings.TrimRight(memo, " \t\n")
	if trimmed == "" {
		return "", nil, nil
	}
	idx := strings.LastIndex(trimmed, "\n")
	last := strings.TrimSpace(trimmed[idx+1:])
	if !strings.HasPrefix(last, billingPeriodPrefix) {
		return trimmed, nil, nil
	}

	start, end = parseBillingPeriod(strings.TrimPrefix(last, billingPeriodPrefix))
	if start == nil {
		return trimmed, nil, nil
	}
	if idx < 0 {
		return "", start, end
	}
	return strings.TrimRight(trimmed[:idx], " \t\n"), start, end
}

func parseBillingPeriod(s string) (*time.Time, *time.Time) {
	s = strings.TrimSpace(s)
	if from, to, ok := strings.Cut(s, " to "); ok {
		start := parseDay(from)
		end := parseDay(to)
		if start == nil || end == nil {
			return nil, nil
		}
		return start, end
	}
	return parseDay(s), nil
}

func parseDay(s string) *time.Time {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}
