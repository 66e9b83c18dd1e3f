package notionapi

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Properties is a raw Notion property payload keyed by property name. Values
// carry the wire shapes produced by the builder helpers below.
type Properties map[string]any

// InvoicePage is the typed view of an invoice page the reconciler works
// with. Amounts are kept in cents; Notion stores them as a decimal number.
type InvoicePage struct {
	PageID         string
	StripeID       string
	InvoiceNumber  string
	Status         string
	AmountCents    int64
	FinalizedDate  *time.Time
	DueDate        *time.Time
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	ClientPageID   string
	LastEditedTime time.Time
	Archived       bool
}

type queryResponse struct {
	Results    []pageObject `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
}

type pageObject struct {
	ID             string                   `json:"id"`
	Archived       bool                     `json:"archived"`
	LastEditedTime string                   `json:"last_edited_time"`
	Properties     map[string]propertyValue `json:"properties"`
}

type propertyValue struct {
	Type     string          `json:"type"`
	Title    []richTextValue `json:"title"`
	RichText []richTextValue `json:"rich_text"`
	Number   *float64        `json:"number"`
	URL      *string         `json:"url"`
	Email    *string         `json:"email"`
	Date     *dateValue      `json:"date"`
	Status   *optionValue    `json:"status"`
	Select   *optionValue    `json:"select"`
	Relation []relationValue `json:"relation"`
}

type richTextValue struct {
	PlainText string `json:"plain_text"`
}

type dateValue struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type optionValue struct {
	Name string `json:"name"`
}

type relationValue struct {
	ID string `json:"id"`
}

func pageToInvoicePage(page *pageObject) (*InvoicePage, error) {
	out := &InvoicePage{
		PageID:   page.ID,
		Archived: page.Archived,
	}
	if page.LastEditedTime != "" {
		t, err := time.Parse(time.RFC3339, page.LastEditedTime)
		if err != nil {
			return nil, fmt.Errorf("page %s: bad last_edited_time %q: %w", page.ID, page.LastEditedTime, err)
		}
		out.LastEditedTime = t
	}

	for name, prop := range page.Properties {
		switch name {
		case "Invoice Number":
			out.InvoiceNumber = plainText(prop.Title)
		case "Stripe ID":
			out.StripeID = plainText(prop.RichText)
		case "Status":
			if prop.Status != nil {
				out.Status = prop.Status.Name
			} else if prop.Select != nil {
				out.Status = prop.Select.Name
			}
		case "Amount":
			if prop.Number != nil {
				out.AmountCents = int64(math.Round(*prop.Number * 100))
			}
		case "Finalized":
			out.FinalizedDate = parseDateStart(prop.Date)
		case "Due Date":
			out.DueDate = parseDateStart(prop.Date)
		case "Billing Period":
			out.PeriodStart = parseDateStart(prop.Date)
			out.PeriodEnd = parseDateEnd(prop.Date)
		case "Client":
			if len(prop.Relation) > 0 {
				out.ClientPageID = prop.Relation[0].ID
			}
		}
	}
	return out, nil
}

func plainText(parts []richTextValue) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return strings.TrimSpace(b.String())
}

func parseDateStart(d *dateValue) *time.Time {
	if d == nil {
		return nil
	}
	return parseNotionTime(d.Start)
}

func parseDateEnd(d *dateValue) *time.Time {
	if d == nil {
		return nil
	}
	return parseNotionTime(d.End)
}

// parseNotionTime accepts both the date-only and the full RFC 3339 form
// Notion emits for date properties.
func parseNotionTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}

// TitleProperty builds a title property value.
func TitleProperty(text string) any {
	return map[string]any{
		"title": []map[string]any{
			{"text": map[string]any{"content": text}},
		},
	}
}

// RichTextProperty builds a plain rich_text property value.
func RichTextProperty(text string) any {
	return map[string]any{
		"rich_text": []map[string]any{
			{"text": map[string]any{"content": text}},
		},
	}
}

// NumberProperty builds a number property value.
func NumberProperty(n float64) any {
	return map[string]any{"number": n}
}

// AmountProperty converts cents to the decimal number Notion stores.
func AmountProperty(cents int64) any {
	return NumberProperty(float64(cents) / 100)
}

// URLProperty builds a url property value.
func URLProperty(u string) any {
	return map[string]any{"url": u}
}

// EmailProperty builds an email property value.
func EmailProperty(e string) any {
	return map[string]any{"email": e}
}

// StatusProperty builds a status property value by option name.
func StatusProperty(name string) any {
	return map[string]any{"status": map[string]any{"name": name}}
}

// DateProperty builds a date property value. A nil start clears the
// property; end is only sent when present.
func DateProperty(start, end *time.Time) any {
	if start == nil {
		return map[string]any{"date": nil}
	}
	date := map[string]any{"start": start.UTC().Format("2006-01-02")}
	if end != nil {
		date["end"] = end.UTC().Format("2006-01-02")
	}
	return map[string]any{"date": date}
}

// RelationProperty builds a single-page relation property value.
func RelationProperty(pageID string) any {
	return map[string]any{
		"relation": []map[string]any{{"id": pageID}},
	}
}
