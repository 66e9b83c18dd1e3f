package syncer

import (
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/mhenrichs/notisync/app/models"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
)

// Reconcile compares the fresh Stripe invoice against the Notion page and
// produces the minimal plan that brings the two in line. Stripe is the
// source of truth for every invoice field; Notion is the source of truth
// for the billing period, which flows the other way through the memo.
//
// lastSync is the time of the last completed sync for this invoice (zero if
// unknown). A Notion page edited after lastSync may carry an operator change
// to the billing period that must be pushed to Stripe.
func Reconcile(inv *models.Invoice, page *notionapi.InvoicePage, clientPageID string, lastSync time.Time) Action {
	full := ToNotionProperties(inv, clientPageID)

	if page == nil {
		return Action{Type: ActionCreate, Props: full}
	}

	diff := notionapi.Properties{}
	if inv.InvoiceNumber != page.InvoiceNumber {
		diff["Invoice Number"] = full["Invoice Number"]
	}
	if inv.ID != page.StripeID {
		diff["Stripe ID"] = full["Stripe ID"]
		diff["Stripe link"] = full["Stripe link"]
	}
	if inv.Status.NotionStatusName() != page.Status {
		diff["Status"] = full["Status"]
	}
	if inv.Amount != page.AmountCents {
		diff["Amount"] = full["Amount"]
	}
	if !sameDay(inv.FinalizedDate, page.FinalizedDate) && inv.FinalizedDate != nil {
		diff["Finalized"] = full["Finalized"]
	}
	if !sameDay(inv.DueDate, page.DueDate) && inv.DueDate != nil {
		diff["Due Date"] = full["Due Date"]
	}
	if clientPageID != "" && !sameNotionID(clientPageID, page.ClientPageID) {
		diff["Client"] = full["Client"]
	}

	action := Action{Type: ActionNone, PageID: page.PageID}
	if len(diff) > 0 {
		action.Type = ActionUpdate
		action.Props = diff
	}
	action.MemoPush = planMemoPush(inv, page, lastSync)
	return action
}

// planMemoPush decides whether the billing period in Notion must be written
// back into the Stripe memo. Only pages edited since the last sync are
// considered, so a stale Notion value never clobbers a memo edit made in
// Stripe.
func planMemoPush(inv *models.Invoice, page *notionapi.InvoicePage, lastSync time.Time) *MemoPush {
	if !lastSync.IsZero() && !page.LastEditedTime.After(lastSync) {
		return nil
	}
	// Before the first recorded sync an empty Notion period is not a
	// deliberate clearing, so never strip an existing memo line for it.
	if lastSync.IsZero() && page.PeriodStart == nil {
		return nil
	}
	body, memoStart, memoEnd := ExtractBillingPeriod(inv.Memo)
	if FormatBillingPeriod(page.PeriodStart, page.PeriodEnd) == FormatBillingPeriod(memoStart, memoEnd) {
		return nil
	}

	memo, err := EncodeBillingPeriod(body, page.PeriodStart, page.PeriodEnd)
	if err != nil {
		log.Warnf("[Sync] Invoice %s: cannot encode billing period into memo: %v", inv.ID, err)
		return nil
	}
	if memo == inv.Memo {
		return nil
	}
	return &MemoPush{InvoiceID: inv.ID, Memo: memo}
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UTC().Format(dayLayout) == b.UTC().Format(dayLayout)
}

// sameNotionID compares page ids regardless of hyphenation.
func sameNotionID(a, b string) bool {
	return notionapi.FormatID(a) == notionapi.FormatID(b)
}
