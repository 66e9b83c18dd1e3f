package syncer

import (
	"errors"
	"time"

	"github.com/mhenrichs/notisync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the persistence layer behind the sync service: the webhook
// audit log, the per-invoice sync state, and the sweep checkpoint.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// RecordWebhookEvent inserts the event row if it is new. The unique index
// on the Stripe event id makes this the durable second layer of duplicate
// detection behind Redis. Returns true when the row was inserted.
func (r *Repository) RecordWebhookEvent(event *models.WebhookEvent) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkWebhookProcessed stamps the event row with the processing outcome.
func (r *Repository) MarkWebhookProcessed(stripeEventID string, procErr error) error {
	now := time.Now()
	updates := map[string]any{
		"processed_at":     &now,
		"processing_error": "",
	}
	if procErr != nil {
		updates["processing_error"] = procErr.Error()
	}
	return r.db.Model(&models.WebhookEvent{}).
		Where("stripe_event_id = ?", stripeEventID).
		Updates(updates).Error
}

// PruneWebhookEvents deletes audit rows older than the retention window.
func (r *Repository) PruneWebhookEvents(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := r.db.Where("created_at < ?", cutoff).Delete(&models.WebhookEvent{})
	return res.RowsAffected, res.Error
}

// GetSyncState returns the sync state for an invoice, or nil if none exists.
func (r *Repository) GetSyncState(stripeInvoiceID string) (*models.InvoiceSyncState, error) {
	var state models.InvoiceSyncState
	err := r.db.Where("stripe_invoice_id = ?", stripeInvoiceID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveSyncState upserts the invoice's page binding and last sync time.
func (r *Repository) SaveSyncState(stripeInvoiceID, notionPageID string, syncedAt time.Time) error {
	state := models.InvoiceSyncState{
		StripeInvoiceID: stripeInvoiceID,
		NotionPageID:    notionPageID,
		LastSyncedAt:    &syncedAt,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_invoice_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"notion_page_id", "last_synced_at", "updated_at"}),
	}).Create(&state).Error
}

// DeleteSyncState drops the binding after an invoice is archived.
func (r *Repository) DeleteSyncState(stripeInvoiceID string) error {
	return r.db.Where("stripe_invoice_id = ?", stripeInvoiceID).
		Delete(&models.InvoiceSyncState{}).Error
}

// LoadSweepCheckpoint returns the start time of the last completed sweep,
// or the zero time when no sweep has completed yet.
func (r *Repository) LoadSweepCheckpoint() (time.Time, error) {
	var cp models.SweepCheckpoint
	err := r.db.First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return cp.LastSweepAt, nil
}

// SaveSweepCheckpoint records the start time of a sweep that completed.
func (r *Repository) SaveSweepCheckpoint(at time.Time) error {
	var cp models.SweepCheckpoint
	err := r.db.First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(&models.SweepCheckpoint{LastSweepAt: at}).Error
	}
	if err != nil {
		return err
	}
	cp.LastSweepAt = at
	return r.db.Save(&cp).Error
}
