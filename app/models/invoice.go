package models

import (
	"strings"
	"time"
)

// InvoiceStatus is the canonical lifecycle status, following Stripe's
// vocabulary plus a synthetic "deleted" used for invoice.deleted events.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusDeleted       InvoiceStatus = "deleted"
)

// Invoice is the canonical invoice record shared between Stripe and Notion.
// Stripe owns every field except the billing period, which lives in Notion
// and travels through the Stripe memo as an encoded trailing line.
type Invoice struct {
	ID            string
	CustomerID    string
	InvoiceNumber string
	Status        InvoiceStatus
	Amount        int64 // minor currency units (cents)
	FinalizedDate *time.Time
	DueDate       *time.Time
	Memo          string

	StripeUpdatedAt time.Time
}

// Customer is the minimal Stripe customer projection used for the Notion
// client relation.
type Customer struct {
	ID    string
	Name  string
	Email string
}

// ParseInvoiceStatus maps a raw Stripe status string onto the enum,
// defaulting to draft for anything unknown.
func ParseInvoiceStatus(raw string) InvoiceStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open":
		return InvoiceStatusOpen
	case "paid":
		return InvoiceStatusPaid
	case "uncollectible":
		return InvoiceStatusUncollectible
	case "void":
		return InvoiceStatusVoid
	case "deleted":
		return InvoiceStatusDeleted
	default:
		return InvoiceStatusDraft
	}
}

// NotionStatusName maps the canonical status to the status option name used
// in the Notion database ("open" is shown as "Pending" there, and
// uncollectible has no option of its own).
func (s InvoiceStatus) NotionStatusName() string {
	switch s {
	case InvoiceStatusOpen:
		return "Pending"
	case InvoiceStatusPaid:
		return "Paid"
	case InvoiceStatusUncollectible, InvoiceStatusVoid:
		return "Void"
	default:
		return "Draft"
	}
}

// FallbackInvoiceNumber derives a display number for invoices Stripe has not
// numbered yet: the last 8 characters of the id, upper-cased, with a -DRAFT
// suffix while the invoice is still a draft.
func FallbackInvoiceNumber(id string, status InvoiceStatus) string {
	part := id
	if i := strings.LastIndex(part, "_"); i >= 0 {
		part = part[i+1:]
	}
	if len(part) > 8 {
		part = part[len(part)-8:]
	}
	part = strings.ToUpper(part)
	if status == InvoiceStatusDraft {
		return part + "-DRAFT"
	}
	return part
}
