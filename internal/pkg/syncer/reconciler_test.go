package syncer

import (
	"testing"
	"time"

	"github.com/mhenrichs/notisync/app/models"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInvoice() *models.Invoice {
	return &models.Invoice{
		ID:            "in_1PABCdefGHIJklmn",
		CustomerID:    "cus_123",
		InvoiceNumber: "INV-0042",
		Status:        models.InvoiceStatusOpen,
		Amount:        12550,
		DueDate:       day("2024-04-15"),
		Memo:          "Consulting work",
	}
}

func matchingPage(inv *models.Invoice) *notionapi.InvoicePage {
	return &notionapi.InvoicePage{
		PageID:         "page-1",
		StripeID:       inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		Status:         inv.Status.NotionStatusName(),
		AmountCents:    inv.Amount,
		DueDate:        inv.DueDate,
		ClientPageID:   "client-1",
		LastEditedTime: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestReconcileCreatesMissingPage(t *testing.T) {
	inv := testInvoice()

	action := Reconcile(inv, nil, "client-1", time.Time{})

	assert.Equal(t, ActionCreate, action.Type)
	assert.Contains(t, action.Props, "Invoice Number")
	assert.Contains(t, action.Props, "Stripe ID")
	assert.Contains(t, action.Props, "Status")
	assert.Contains(t, action.Props, "Amount")
	assert.Contains(t, action.Props, "Client")
	assert.Nil(t, action.MemoPush)
}

func TestReconcileNoChanges(t *testing.T) {
	inv := testInvoice()
	page := matchingPage(inv)
	lastSync := page.LastEditedTime.Add(time.Hour)

	action := Reconcile(inv, page, "client-1", lastSync)

	assert.Equal(t, ActionNone, action.Type)
	assert.Empty(t, action.Props)
	assert.Nil(t, action.MemoPush)
}

func TestReconcileUpdatesOnlyChangedProperties(t *testing.T) {
	inv := testInvoice()
	page := matchingPage(inv)
	page.Status = "Draft"
	page.AmountCents = 9900
	lastSync := page.LastEditedTime.Add(time.Hour)

	action := Reconcile(inv, page, "client-1", lastSync)

	require.Equal(t, ActionUpdate, action.Type)
	assert.Equal(t, "page-1", action.PageID)
	assert.Len(t, action.Props, 2)
	assert.Contains(t, action.Props, "Status")
	assert.Contains(t, action.Props, "Amount")
}

func TestReconcileFinalizedTransition(t *testing.T) {
	// A draft that got finalized: status flips to Pending and the finalized
	// date appears, nothing else moves.
	inv := testInvoice()
	inv.FinalizedDate = day("2024-04-02")
	page := matchingPage(inv)
	page.Status = "Draft"
	page.FinalizedDate = nil
	lastSync := page.LastEditedTime.Add(time.Hour)

	action := Reconcile(inv, page, "client-1", lastSync)

	require.Equal(t, ActionUpdate, action.Type)
	assert.Len(t, action.Props, 2)
	assert.Contains(t, action.Props, "Status")
	assert.Contains(t, action.Props, "Finalized")
}

func TestReconcilePushesBillingPeriodFromNotion(t *testing.T) {
	inv := testInvoice()
	page := matchingPage(inv)
	page.PeriodStart = day("2024-03-01")
	page.PeriodEnd = day("2024-03-31")
	// Edited after the last sync, so the operator change wins.
	lastSync := page.LastEditedTime.Add(-time.Hour)

	action := Reconcile(inv, page, "client-1", lastSync)

	require.NotNil(t, action.MemoPush)
	assert.Equal(t, inv.ID, action.MemoPush.InvoiceID)
	assert.Equal(t, "Consulting work\nBilling Period: 2024-03-01 to 2024-03-31", action.MemoPush.Memo)
}

func TestReconcileConflictSplitsOwnership(t *testing.T) {
	// Stripe changed the amount, Notion changed the billing period. Stripe
	// wins the amount, Notion wins the period, in the same pass.
	inv := testInvoice()
	inv.Memo = "Consulting work\nBilling Period: 2024-02-01 to 2024-02-29"
	page := matchingPage(inv)
	page.AmountCents = 9900
	page.PeriodStart = day("2024-03-01")
	page.PeriodEnd = day("2024-03-31")
	lastSync := page.LastEditedTime.Add(-time.Hour)

	action := Reconcile(inv, page, "client-1", lastSync)

	require.Equal(t, ActionUpdate, action.Type)
	assert.Contains(t, action.Props, "Amount")
	require.NotNil(t, action.MemoPush)
	assert.Equal(t, "Consulting work\nBilling Period: 2024-03-01 to 2024-03-31", action.MemoPush.Memo)
}

func TestReconcileIgnoresStaleNotionPeriod(t *testing.T) {
	inv := testInvoice()
	inv.Memo = "Consulting work\nBilling Period: 2024-02-01 to 2024-02-29"
	page := matchingPage(inv)
	page.PeriodStart = day("2024-03-01")
	page.PeriodEnd = day("2024-03-31")
	// Page was last edited before the last sync, so its period is stale.
	lastSync := page.LastEditedTime.Add(time.Hour)

	action := Reconcile(inv, page, "client-1", lastSync)

	assert.Nil(t, action.MemoPush)
}

func TestReconcileFirstContactKeepsMemoPeriod(t *testing.T) {
	// No sync state yet and the page has no period: the existing memo line
	// must not be stripped.
	inv := testInvoice()
	inv.Memo = "Consulting work\nBilling Period: 2024-02-01 to 2024-02-29"
	page := matchingPage(inv)

	action := Reconcile(inv, page, "client-1", time.Time{})

	assert.Nil(t, action.MemoPush)
}

func TestReconcileMemoCollisionSkipsPush(t *testing.T) {
	inv := testInvoice()
	inv.Memo = "Billing Period: handwritten note\nmore text"
	page := matchingPage(inv)
	page.PeriodStart = day("2024-03-01")

	action := Reconcile(inv, page, "client-1", time.Time{})

	assert.Nil(t, action.MemoPush)
}
