package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/mhenrichs/notisync/app/models"
	"github.com/mhenrichs/notisync/internal/pkg/config"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
	"github.com/mhenrichs/notisync/internal/pkg/syncer"
)

// InvoiceSyncer is the reconciliation entry point the sweep drives.
// *syncer.Service implements it.
type InvoiceSyncer interface {
	SyncInvoice(ctx context.Context, invoiceID string) (syncer.Outcome, error)
}

// InvoiceLister lists recently created Stripe invoices.
type InvoiceLister interface {
	ListInvoicesCreatedSince(ctx context.Context, since time.Time) ([]*models.Invoice, error)
}

// PageLister lists recently edited Notion invoice pages.
type PageLister interface {
	ListRecentlyEditedInvoices(ctx context.Context, since time.Time) ([]*notionapi.InvoicePage, error)
}

// Store is the checkpoint and retention persistence the sweep needs.
// *syncer.Repository implements it.
type Store interface {
	LoadSweepCheckpoint() (time.Time, error)
	SaveSweepCheckpoint(at time.Time) error
	PruneWebhookEvents(retention time.Duration) (int64, error)
}

// Result tallies what one sweep did.
type Result struct {
	Checked   int
	Created   int
	Updated   int
	Unchanged int
	Archived  int
	Skipped   int
	Failed    int
}

// Manager runs the periodic reconciliation sweep: a Stripe-ward pass over
// recently created invoices and a Notion-ward pass over recently edited
// pages. Only one sweep runs at a time; a tick that fires while a sweep is
// still going is dropped.
type Manager struct {
	service InvoiceSyncer
	stripe  InvoiceLister
	notion  PageLister
	repo    Store
	cfg     *config.Config

	ticker   *time.Ticker
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	sweeping atomic.Bool
}

func NewManager(service InvoiceSyncer, stripe InvoiceLister, notion PageLister, repo Store, cfg *config.Config) *Manager {
	return &Manager{
		service: service,
		stripe:  stripe,
		notion:  notion,
		repo:    repo,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately with the
// startup lookback so edits made while the service was down are caught.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.ticker = time.NewTicker(m.cfg.SweepInterval)
	m.mu.Unlock()

	log.Infof("[Sweep] Manager started, interval %s", m.cfg.SweepInterval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.runSweep(context.Background(), time.Now().Add(-m.cfg.StartupLookback))

		for {
			select {
			case <-m.ticker.C:
				m.runSweep(context.Background(), time.Time{})
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.ticker.Stop()
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info("[Sweep] Manager stopped")
}

func (m *Manager) runSweep(ctx context.Context, notionSince time.Time) {
	res, err := m.RunOnce(ctx, notionSince)
	if err != nil {
		log.Errorf("[Sweep] Sweep failed: %v", err)
		return
	}
	log.Infof("[Sweep] Done: checked=%d created=%d updated=%d unchanged=%d archived=%d skipped=%d failed=%d",
		res.Checked, res.Created, res.Updated, res.Unchanged, res.Archived, res.Skipped, res.Failed)
}

// RunOnce performs a single sweep. notionSince overrides the Notion edit
// horizon; pass the zero time to derive it from the checkpoint and the
// configured lookback. Concurrent calls beyond the first return immediately.
func (m *Manager) RunOnce(ctx context.Context, notionSince time.Time) (Result, error) {
	if !m.sweeping.CompareAndSwap(false, true) {
		log.Debug("[Sweep] Previous sweep still running, skipping tick")
		return Result{}, nil
	}
	defer m.sweeping.Store(false)

	runID := uuid.New().String()[:8]
	start := time.Now()

	if notionSince.IsZero() {
		notionSince = start.Add(-m.cfg.NotionLookback)
		if cp, err := m.repo.LoadSweepCheckpoint(); err != nil {
			log.Warnf("[Sweep:%s] Could not load checkpoint: %v", runID, err)
		} else if !cp.IsZero() && cp.Before(notionSince) {
			notionSince = cp
		}
	}

	log.Infof("[Sweep:%s] Starting, stripe lookback %s, notion edits since %s",
		runID, m.cfg.StripeLookback, notionSince.Format(time.RFC3339))

	var res Result
	synced := m.stripePass(ctx, runID, &res)
	m.notionPass(ctx, runID, notionSince, synced, &res)

	if pruned, err := m.repo.PruneWebhookEvents(m.cfg.EventRetention); err != nil {
		log.Warnf("[Sweep:%s] Could not prune webhook events: %v", runID, err)
	} else if pruned > 0 {
		log.Debugf("[Sweep:%s] Pruned %d webhook event rows", runID, pruned)
	}

	if res.Failed == 0 {
		if err := m.repo.SaveSweepCheckpoint(start); err != nil {
			log.Warnf("[Sweep:%s] Could not save checkpoint: %v", runID, err)
		}
	}
	return res, nil
}

// stripePass reconciles every invoice created inside the Stripe lookback
// window through a bounded worker pool. It returns the set of invoice ids
// it touched so the Notion pass does not reconcile them a second time.
func (m *Manager) stripePass(ctx context.Context, runID string, res *Result) map[string]bool {
	invoices, err := m.stripe.ListInvoicesCreatedSince(ctx, time.Now().Add(-m.cfg.StripeLookback))
	if err != nil {
		log.Errorf("[Sweep:%s] Listing Stripe invoices failed: %v", runID, err)
		res.Failed++
		return map[string]bool{}
	}

	synced := make(map[string]bool, len(invoices))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, m.cfg.SweepWorkers)

	for _, inv := range invoices {
		synced[inv.ID] = true

		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := m.service.SyncInvoice(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			if err != nil {
				log.Errorf("[Sweep:%s] Invoice %s failed: %v", runID, id, err)
				res.Failed++
				return
			}
			tally(res, outcome)
		}(inv.ID)
	}
	wg.Wait()
	return synced
}

// notionPass picks up pages operators edited since the horizon and runs a
// full reconcile for each, which pushes billing period changes into the
// Stripe memo.
func (m *Manager) notionPass(ctx context.Context, runID string, since time.Time, alreadySynced map[string]bool, res *Result) {
	pages, err := m.notion.ListRecentlyEditedInvoices(ctx, since)
	if err != nil {
		log.Errorf("[Sweep:%s] Listing edited Notion pages failed: %v", runID, err)
		res.Failed++
		return
	}

	for _, page := range pages {
		if page.StripeID == "" || page.Archived || alreadySynced[page.StripeID] {
			continue
		}
		outcome, err := m.service.SyncInvoice(ctx, page.StripeID)
		res.Checked++
		if err != nil {
			log.Errorf("[Sweep:%s] Invoice %s (page %s) failed: %v", runID, page.StripeID, page.PageID, err)
			res.Failed++
			continue
		}
		tally(res, outcome)
	}
}

func tally(res *Result, outcome syncer.Outcome) {
	switch outcome {
	case syncer.OutcomeCreated:
		res.Created++
	case syncer.OutcomeUpdated:
		res.Updated++
	case syncer.OutcomeArchived:
		res.Archived++
	case syncer.OutcomeSkipped:
		res.Skipped++
	default:
		res.Unchanged++
	}
}
