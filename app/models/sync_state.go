package models

import "time"

// InvoiceSyncState remembers, per Stripe invoice, which Notion page mirrors
// it and when the two sides were last brought in line. The reconciler uses
// LastSyncedAt to decide whether a Notion-side billing period edit is newer
// than the last sync.
type InvoiceSyncState struct {
	StripeInvoiceID string     `gorm:"type:varchar(191);primaryKey" json:"stripe_invoice_id"`
	NotionPageID    string     `gorm:"type:varchar(64);index" json:"notion_page_id"`
	LastSyncedAt    *time.Time `gorm:"type:timestamp;default:null" json:"last_synced_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SweepCheckpoint is a single-row table holding the start time of the last
// sweep that completed. Losing it is harmless: the sweep falls back to its
// lookback window.
type SweepCheckpoint struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	LastSweepAt time.Time `gorm:"type:timestamp;not null" json:"last_sweep_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
