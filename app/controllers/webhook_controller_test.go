package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mhenrichs/notisync/app/models"
	"github.com/mhenrichs/notisync/internal/pkg/config"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
	"github.com/mhenrichs/notisync/internal/pkg/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test_secret"

type stubStripe struct{}

func (stubStripe) GetInvoice(_ context.Context, id string) (*models.Invoice, error) {
	return &models.Invoice{
		ID:            id,
		CustomerID:    "cus_1",
		InvoiceNumber: "INV-0001",
		Status:        models.InvoiceStatusOpen,
		Amount:        5000,
	}, nil
}

func (stubStripe) GetCustomer(_ context.Context, id string) (*models.Customer, error) {
	return &models.Customer{ID: id, Name: "Acme GmbH"}, nil
}

func (stubStripe) ListInvoicesCreatedSince(_ context.Context, _ time.Time) ([]*models.Invoice, error) {
	return nil, nil
}

func (stubStripe) UpdateInvoiceMemo(_ context.Context, _, _ string) error { return nil }

type stubNotion struct{}

func (stubNotion) QueryInvoiceByStripeID(_ context.Context, _ string) (*notionapi.InvoicePage, error) {
	return nil, nil
}

func (stubNotion) GetInvoicePage(_ context.Context, _ string) (*notionapi.InvoicePage, error) {
	return nil, notionapi.ErrNotFound
}

func (stubNotion) CreateInvoicePage(_ context.Context, _ notionapi.Properties) (string, error) {
	return "page-1", nil
}

func (stubNotion) UpdateInvoicePage(_ context.Context, _ string, _ notionapi.Properties) error {
	return nil
}

func (stubNotion) ArchiveInvoicePage(_ context.Context, _ string) error { return nil }

func (stubNotion) ListRecentlyEditedInvoices(_ context.Context, _ time.Time) ([]*notionapi.InvoicePage, error) {
	return nil, nil
}

func (stubNotion) QueryClientByCustomerID(_ context.Context, _ string) (string, error) {
	return "client-1", nil
}

func (stubNotion) CreateClientPage(_ context.Context, _ *models.Customer) (string, error) {
	return "client-1", nil
}

type stubStore struct {
	events map[string]bool
	states map[string]*models.InvoiceSyncState
}

func (s *stubStore) RecordWebhookEvent(event *models.WebhookEvent) (bool, error) {
	if s.events[event.StripeEventID] {
		return false, nil
	}
	s.events[event.StripeEventID] = true
	return true, nil
}

func (s *stubStore) MarkWebhookProcessed(_ string, _ error) error { return nil }

func (s *stubStore) GetSyncState(id string) (*models.InvoiceSyncState, error) {
	return s.states[id], nil
}

func (s *stubStore) SaveSyncState(id, pageID string, at time.Time) error {
	s.states[id] = &models.InvoiceSyncState{StripeInvoiceID: id, NotionPageID: pageID, LastSyncedAt: &at}
	return nil
}

func (s *stubStore) DeleteSyncState(id string) error {
	delete(s.states, id)
	return nil
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	store := &stubStore{events: map[string]bool{}, states: map[string]*models.InvoiceSyncState{}}
	service := syncer.NewService(stubStripe{}, stubNotion{}, store, syncer.NewEventDeduper(nil, time.Hour))
	InitializeWebhookController(service, &config.Config{StripeWebhookSecret: testWebhookSecret})

	app := fiber.New()
	app.Post("/api/webhooks/stripe", HandleStripeWebhook)
	app.Get("/health", HandleHealth)
	return app
}

func eventPayload(t *testing.T, eventID, eventType, invoiceID string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":       invoiceID,
				"object":   "invoice",
				"customer": "cus_1",
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(t *testing.T, app *fiber.App, payload []byte, signature string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(fiber.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHandleStripeWebhookRejectsBadSignature(t *testing.T) {
	app := newTestApp(t)
	payload := eventPayload(t, "evt_1", "invoice.created", "in_1")

	status, body := postWebhook(t, app, payload, "t=123,v1=deadbeef")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])

	status, _ = postWebhook(t, app, payload, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandleStripeWebhookProcessesInvoiceEvent(t *testing.T) {
	app := newTestApp(t)
	payload := eventPayload(t, "evt_2", "invoice.created", "in_1")

	status, body := postWebhook(t, app, payload, signPayload(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "created", body["outcome"])
}

func TestHandleStripeWebhookDuplicate(t *testing.T) {
	app := newTestApp(t)
	payload := eventPayload(t, "evt_3", "invoice.created", "in_1")
	signature := signPayload(payload, testWebhookSecret)

	status, _ := postWebhook(t, app, payload, signature)
	require.Equal(t, fiber.StatusOK, status)

	status, body := postWebhook(t, app, payload, signature)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])
}

func TestHandleStripeWebhookIgnoresOtherEvents(t *testing.T) {
	app := newTestApp(t)
	payload := eventPayload(t, "evt_4", "charge.succeeded", "ch_1")

	status, body := postWebhook(t, app, payload, signPayload(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ignored"])
}

func TestHandleHealth(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(fiber.MethodGet, "/health", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
