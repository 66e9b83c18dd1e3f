package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mhenrichs/notisync/app/models"
	"github.com/mhenrichs/notisync/internal/pkg/config"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
	"github.com/mhenrichs/notisync/internal/pkg/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu       sync.Mutex
	outcomes map[string]syncer.Outcome
	errs     map[string]error
	calls    map[string]int
	block    chan struct{}
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		outcomes: map[string]syncer.Outcome{},
		errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeSyncer) SyncInvoice(_ context.Context, id string) (syncer.Outcome, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.errs[id]; err != nil {
		return syncer.OutcomeSkipped, err
	}
	if out, ok := f.outcomes[id]; ok {
		return out, nil
	}
	return syncer.OutcomeUnchanged, nil
}

type fakeLister struct {
	invoices []*models.Invoice
	pages    []*notionapi.InvoicePage
}

func (f *fakeLister) ListInvoicesCreatedSince(_ context.Context, _ time.Time) ([]*models.Invoice, error) {
	return f.invoices, nil
}

func (f *fakeLister) ListRecentlyEditedInvoices(_ context.Context, _ time.Time) ([]*notionapi.InvoicePage, error) {
	return f.pages, nil
}

type fakeCheckpoints struct {
	checkpoint time.Time
	saved      []time.Time
	pruned     int
}

func (f *fakeCheckpoints) LoadSweepCheckpoint() (time.Time, error) { return f.checkpoint, nil }
func (f *fakeCheckpoints) SaveSweepCheckpoint(at time.Time) error {
	f.saved = append(f.saved, at)
	return nil
}
func (f *fakeCheckpoints) PruneWebhookEvents(_ time.Duration) (int64, error) {
	f.pruned++
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SweepInterval:   time.Minute,
		StripeLookback:  30 * 24 * time.Hour,
		NotionLookback:  time.Hour,
		EventRetention:  24 * time.Hour,
		SweepWorkers:    4,
		StartupLookback: 72 * time.Hour,
	}
}

func invoices(ids ...string) []*models.Invoice {
	out := make([]*models.Invoice, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.Invoice{ID: id})
	}
	return out
}

func TestRunOnceTalliesOutcomes(t *testing.T) {
	svc := newFakeSyncer()
	svc.outcomes["in_1"] = syncer.OutcomeCreated
	svc.outcomes["in_2"] = syncer.OutcomeUpdated
	svc.errs["in_3"] = errors.New("notion down")

	lister := &fakeLister{invoices: invoices("in_1", "in_2", "in_3", "in_4")}
	cps := &fakeCheckpoints{}
	m := NewManager(svc, lister, lister, cps, testConfig())

	res, err := m.RunOnce(context.Background(), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, cps.pruned)
	// A failed sweep must not advance the checkpoint.
	assert.Empty(t, cps.saved)
}

func TestRunOnceSavesCheckpointOnSuccess(t *testing.T) {
	svc := newFakeSyncer()
	lister := &fakeLister{invoices: invoices("in_1")}
	cps := &fakeCheckpoints{}
	m := NewManager(svc, lister, lister, cps, testConfig())

	_, err := m.RunOnce(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, cps.saved, 1)
}

func TestNotionPassSkipsAlreadySyncedAndUnbound(t *testing.T) {
	svc := newFakeSyncer()
	lister := &fakeLister{
		invoices: invoices("in_1"),
		pages: []*notionapi.InvoicePage{
			// p1 was already synced by the Stripe pass, p2 is unbound,
			// p3 needs a sync, p4 is archived.
			{PageID: "p1", StripeID: "in_1"},
			{PageID: "p2", StripeID: ""},
			{PageID: "p3", StripeID: "in_2"},
			{PageID: "p4", StripeID: "in_3", Archived: true},
		},
	}
	cps := &fakeCheckpoints{}
	m := NewManager(svc, lister, lister, cps, testConfig())

	res, err := m.RunOnce(context.Background(), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, svc.calls["in_1"])
	assert.Equal(t, 1, svc.calls["in_2"])
	assert.Zero(t, svc.calls["in_3"])
}

func TestRunOnceSingleFlight(t *testing.T) {
	svc := newFakeSyncer()
	svc.block = make(chan struct{})
	lister := &fakeLister{invoices: invoices("in_1")}
	cps := &fakeCheckpoints{}
	m := NewManager(svc, lister, lister, cps, testConfig())

	done := make(chan Result)
	go func() {
		res, _ := m.RunOnce(context.Background(), time.Time{})
		done <- res
	}()

	// Wait until the first sweep holds the flag, then try a second one.
	require.Eventually(t, func() bool { return m.sweeping.Load() }, time.Second, time.Millisecond)

	res, err := m.RunOnce(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, res.Checked)

	close(svc.block)
	first := <-done
	assert.Equal(t, 1, first.Checked)
}
