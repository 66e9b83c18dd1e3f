package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/mhenrichs/notisync/app/models"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
	"github.com/mhenrichs/notisync/internal/pkg/stripeapi"
)

// acceptedEvents are the Stripe webhook event types that trigger a sync.
// Everything else is acknowledged and dropped.
var acceptedEvents = map[string]bool{
	"invoice.created":           true,
	"invoice.updated":           true,
	"invoice.finalized":         true,
	"invoice.paid":              true,
	"invoice.payment_failed":    true,
	"invoice.payment_succeeded": true,
	"invoice.deleted":           true,
}

// StripeAPI is the slice of the Stripe client the service depends on.
type StripeAPI interface {
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	ListInvoicesCreatedSince(ctx context.Context, since time.Time) ([]*models.Invoice, error)
	UpdateInvoiceMemo(ctx context.Context, id, memo string) error
}

// NotionAPI is the slice of the Notion client the service depends on.
type NotionAPI interface {
	QueryInvoiceByStripeID(ctx context.Context, stripeID string) (*notionapi.InvoicePage, error)
	GetInvoicePage(ctx context.Context, pageID string) (*notionapi.InvoicePage, error)
	CreateInvoicePage(ctx context.Context, props notionapi.Properties) (string, error)
	UpdateInvoicePage(ctx context.Context, pageID string, props notionapi.Properties) error
	ArchiveInvoicePage(ctx context.Context, pageID string) error
	ListRecentlyEditedInvoices(ctx context.Context, since time.Time) ([]*notionapi.InvoicePage, error)
	QueryClientByCustomerID(ctx context.Context, customerID string) (string, error)
	CreateClientPage(ctx context.Context, cust *models.Customer) (string, error)
}

// Store is the persistence the service needs. *Repository implements it.
type Store interface {
	RecordWebhookEvent(event *models.WebhookEvent) (bool, error)
	MarkWebhookProcessed(stripeEventID string, procErr error) error
	GetSyncState(stripeInvoiceID string) (*models.InvoiceSyncState, error)
	SaveSyncState(stripeInvoiceID, notionPageID string, syncedAt time.Time) error
	DeleteSyncState(stripeInvoiceID string) error
}

// Outcome classifies what one sync pass did for an invoice.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeArchived  Outcome = "archived"
	OutcomeSkipped   Outcome = "skipped"
)

// HandleResult reports how a webhook event was disposed of.
type HandleResult struct {
	Duplicate bool
	Ignored   bool
	Outcome   Outcome
}

// Service reconciles Stripe invoices with their Notion pages. Webhook
// handlers and the periodic sweep both funnel into SyncInvoice, so the two
// entry points cannot disagree about semantics.
type Service struct {
	stripe StripeAPI
	notion NotionAPI
	repo   Store
	dedup  *EventDeduper
	locks  *invoiceLocks
}

func NewService(stripe StripeAPI, notion NotionAPI, repo Store, dedup *EventDeduper) *Service {
	return &Service{
		stripe: stripe,
		notion: notion,
		repo:   repo,
		dedup:  dedup,
		locks:  newInvoiceLocks(),
	}
}

// HandleStripeEvent processes one verified webhook event: duplicate
// suppression, audit row, then the sync itself. Processing errors are
// recorded on the audit row and returned; the caller decides how to answer
// Stripe.
func (s *Service) HandleStripeEvent(ctx context.Context, ev *stripeapi.Event) (HandleResult, error) {
	if s.dedup.Seen(ctx, ev.ID) {
		log.Infof("[Webhook] Duplicate event %s (%s), skipping", ev.ID, ev.Type)
		return HandleResult{Duplicate: true}, nil
	}

	// Unverified payloads never reach this point, the controller rejects
	// them before anything is recorded.
	inserted, err := s.repo.RecordWebhookEvent(&models.WebhookEvent{
		StripeEventID:  ev.ID,
		EventType:      ev.Type,
		PayloadJSON:    string(ev.Payload),
		SignatureValid: true,
	})
	if err != nil {
		// Audit persistence must never drop an event on the floor.
		log.Warnf("[Webhook] Could not record event %s: %v", ev.ID, err)
	} else if !inserted {
		log.Infof("[Webhook] Event %s already recorded, skipping", ev.ID)
		return HandleResult{Duplicate: true}, nil
	}

	if !acceptedEvents[ev.Type] {
		log.Debugf("[Webhook] Ignoring event type %s (%s)", ev.Type, ev.ID)
		s.markProcessed(ev.ID, nil)
		return HandleResult{Ignored: true}, nil
	}
	if ev.InvoiceID == "" {
		s.markProcessed(ev.ID, nil)
		return HandleResult{Ignored: true}, nil
	}

	var (
		outcome Outcome
		syncErr error
	)
	if ev.Type == "invoice.deleted" {
		outcome, syncErr = s.ArchiveInvoice(ctx, ev.InvoiceID)
	} else {
		outcome, syncErr = s.SyncInvoice(ctx, ev.InvoiceID)
	}

	s.markProcessed(ev.ID, syncErr)
	if syncErr != nil {
		return HandleResult{Outcome: outcome}, fmt.Errorf("event %s (%s): %w", ev.ID, ev.Type, syncErr)
	}
	return HandleResult{Outcome: outcome}, nil
}

func (s *Service) markProcessed(eventID string, procErr error) {
	if err := s.repo.MarkWebhookProcessed(eventID, procErr); err != nil {
		log.Warnf("[Webhook] Could not mark event %s processed: %v", eventID, err)
	}
}

// SyncInvoice re-fetches the invoice from Stripe and reconciles its Notion
// page, creating the page and the client page as needed. It is safe to call
// concurrently for different invoices; calls for the same invoice serialize
// on a per-invoice lock.
func (s *Service) SyncInvoice(ctx context.Context, invoiceID string) (Outcome, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.stripe.GetInvoice(ctx, invoiceID)
	if errors.Is(err, stripeapi.ErrNotFound) {
		log.Infof("[Sync] Invoice %s no longer exists in Stripe, skipping", invoiceID)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeSkipped, err
	}

	clientPageID, err := s.resolveClientPage(ctx, inv)
	if err != nil {
		return OutcomeSkipped, err
	}

	var lastSync time.Time
	state, err := s.repo.GetSyncState(inv.ID)
	if err != nil {
		log.Warnf("[Sync] Could not load sync state for %s: %v", inv.ID, err)
	} else if state != nil && state.LastSyncedAt != nil {
		lastSync = *state.LastSyncedAt
	}

	page, err := s.findPage(ctx, inv.ID, state)
	if err != nil {
		return OutcomeSkipped, err
	}

	action := Reconcile(inv, page, clientPageID, lastSync)

	pageID := action.PageID
	outcome := OutcomeUnchanged
	switch action.Type {
	case ActionCreate:
		err = withRetry(ctx, func() error {
			var cerr error
			pageID, cerr = s.notion.CreateInvoicePage(ctx, action.Props)
			return cerr
		})
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("create page for %s: %w", inv.ID, err)
		}
		outcome = OutcomeCreated
		log.Infof("[Sync] Created Notion page %s for invoice %s", pageID, inv.ID)
	case ActionUpdate:
		err = withRetry(ctx, func() error {
			return s.notion.UpdateInvoicePage(ctx, pageID, action.Props)
		})
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("update page %s for %s: %w", pageID, inv.ID, err)
		}
		outcome = OutcomeUpdated
		log.Infof("[Sync] Updated Notion page %s for invoice %s (%d properties)", pageID, inv.ID, len(action.Props))
	}

	if action.MemoPush != nil {
		err = withRetry(ctx, func() error {
			return s.stripe.UpdateInvoiceMemo(ctx, action.MemoPush.InvoiceID, action.MemoPush.Memo)
		})
		if err != nil {
			return outcome, fmt.Errorf("push memo for %s: %w", inv.ID, err)
		}
		if outcome == OutcomeUnchanged {
			outcome = OutcomeUpdated
		}
		log.Infof("[Sync] Pushed billing period from Notion into Stripe memo for %s", inv.ID)
	}

	if pageID != "" {
		if err := s.repo.SaveSyncState(inv.ID, pageID, time.Now()); err != nil {
			log.Warnf("[Sync] Could not save sync state for %s: %v", inv.ID, err)
		}
	}
	return outcome, nil
}

// ArchiveInvoice archives the Notion page for a deleted Stripe invoice and
// drops the sync binding. Archiving is idempotent; a missing page is a no-op.
func (s *Service) ArchiveInvoice(ctx context.Context, invoiceID string) (Outcome, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	state, err := s.repo.GetSyncState(invoiceID)
	if err != nil {
		log.Warnf("[Sync] Could not load sync state for %s: %v", invoiceID, err)
	}
	page, err := s.findPage(ctx, invoiceID, state)
	if err != nil {
		return OutcomeSkipped, err
	}
	if page == nil {
		log.Infof("[Sync] Invoice %s deleted in Stripe, no Notion page to archive", invoiceID)
		return OutcomeSkipped, nil
	}

	if !page.Archived {
		err = withRetry(ctx, func() error {
			return s.notion.ArchiveInvoicePage(ctx, page.PageID)
		})
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("archive page %s for %s: %w", page.PageID, invoiceID, err)
		}
		log.Infof("[Sync] Archived Notion page %s for deleted invoice %s", page.PageID, invoiceID)
	}

	if err := s.repo.DeleteSyncState(invoiceID); err != nil {
		log.Warnf("[Sync] Could not delete sync state for %s: %v", invoiceID, err)
	}
	return OutcomeArchived, nil
}

// findPage resolves the Notion page for an invoice, preferring the recorded
// binding and falling back to a Stripe ID lookup when the binding is stale.
func (s *Service) findPage(ctx context.Context, invoiceID string, state *models.InvoiceSyncState) (*notionapi.InvoicePage, error) {
	if state != nil && state.NotionPageID != "" {
		page, err := s.notion.GetInvoicePage(ctx, state.NotionPageID)
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, notionapi.ErrNotFound) {
			return nil, err
		}
		log.Warnf("[Sync] Bound page %s for invoice %s is gone, falling back to lookup", state.NotionPageID, invoiceID)
	}
	return s.notion.QueryInvoiceByStripeID(ctx, invoiceID)
}

// resolveClientPage finds or creates the client page for the invoice's
// customer. Invoices without a customer sync with an empty relation.
func (s *Service) resolveClientPage(ctx context.Context, inv *models.Invoice) (string, error) {
	if inv.CustomerID == "" {
		return "", nil
	}
	pageID, err := s.notion.QueryClientByCustomerID(ctx, inv.CustomerID)
	if err != nil {
		return "", fmt.Errorf("query client for %s: %w", inv.CustomerID, err)
	}
	if pageID != "" {
		return pageID, nil
	}

	cust, err := s.stripe.GetCustomer(ctx, inv.CustomerID)
	if errors.Is(err, stripeapi.ErrNotFound) {
		log.Warnf("[Sync] Customer %s not found in Stripe, syncing without client relation", inv.CustomerID)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	pageID, err = s.notion.CreateClientPage(ctx, cust)
	if err != nil {
		return "", fmt.Errorf("create client page for %s: %w", cust.ID, err)
	}
	log.Infof("[Sync] Created Notion client page %s for customer %s", pageID, cust.ID)
	return pageID, nil
}
