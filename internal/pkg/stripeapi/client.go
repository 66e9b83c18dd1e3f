package stripeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mhenrichs/notisync/app/models"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrNotFound is returned when Stripe no longer knows the requested object.
var ErrNotFound = errors.New("stripeapi: not found")

// Client is a thin typed wrapper around the Stripe REST API covering the
// operations the reconciler needs: fetch invoice, fetch customer, list
// recent invoices, update the invoice memo.
type Client struct {
	listPageSize int64
}

// New configures the Stripe SDK with the given API key and returns a client.
func New(apiKey string) *Client {
	stripe.Key = apiKey
	return &Client{listPageSize: 100}
}

// GetInvoice retrieves the current invoice state from Stripe. Webhook
// payloads are not trusted as final truth, so handlers re-fetch through
// this method before reconciling.
func (c *Client) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	in, err := invoice.Get(id, params)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stripe invoice get %s: %w", id, err)
	}
	return toInvoice(in), nil
}

// GetCustomer retrieves the customer behind an invoice.
func (c *Client) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cu, err := customer.Get(id, params)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stripe customer get %s: %w", id, err)
	}
	return &models.Customer{
		ID:    cu.ID,
		Name:  cu.Name,
		Email: cu.Email,
	}, nil
}

// ListInvoicesCreatedSince returns all invoices created at or after the
// given horizon, oldest pagination handled by the SDK iterator. Stripe's
// invoice list cannot filter on update time, so the sweep lists by creation
// time like the rest of the pipeline expects.
func (c *Client) ListInvoicesCreatedSince(ctx context.Context, since time.Time) ([]*models.Invoice, error) {
	params := &stripe.InvoiceListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: since.Unix(),
		},
	}
	params.Context = ctx
	params.Limit = stripe.Int64(c.listPageSize)

	var out []*models.Invoice
	iter := invoice.List(params)
	for iter.Next() {
		out = append(out, toInvoice(iter.Invoice()))
	}
	if err := iter.Err(); err != nil {
		return out, fmt.Errorf("stripe invoice list: %w", err)
	}
	return out, nil
}

// UpdateInvoiceMemo writes the memo (Stripe "description") back to Stripe.
// This is the only Stripe-ward write the system performs.
func (c *Client) UpdateInvoiceMemo(ctx context.Context, id, memo string) error {
	params := &stripe.InvoiceParams{
		Description: stripe.String(memo),
	}
	params.Context = ctx

	if _, err := invoice.Update(id, params); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stripe invoice update %s: %w", id, err)
	}
	return nil
}

// Event is the verified, minimally-parsed webhook event handed to the sync
// service. InvoiceID comes from the payload; everything else about the
// invoice is re-fetched.
type Event struct {
	ID         string
	Type       string
	InvoiceID  string
	CustomerID string
	Payload    []byte
	Created    time.Time
}

// ParseWebhookEvent verifies the Stripe-Signature header (HMAC plus replay
// window) and extracts the event envelope. A verification failure means the
// request must be rejected without touching any state.
func ParseWebhookEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe webhook signature: %w", err)
	}

	out := &Event{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Payload: append([]byte(nil), payload...),
		Created: time.Unix(ev.Created, 0),
	}

	if ev.Data != nil && len(ev.Data.Raw) > 0 {
		var obj struct {
			ID       string `json:"id"`
			Customer string `json:"customer"`
		}
		if uerr := json.Unmarshal(ev.Data.Raw, &obj); uerr == nil {
			out.InvoiceID = obj.ID
			out.CustomerID = obj.Customer
		}
	}
	return out, nil
}

func toInvoice(in *stripe.Invoice) *models.Invoice {
	inv := &models.Invoice{
		ID:              in.ID,
		Status:          models.ParseInvoiceStatus(string(in.Status)),
		Amount:          in.AmountDue,
		Memo:            in.Description,
		StripeUpdatedAt: time.Now(),
	}
	if in.Customer != nil {
		inv.CustomerID = in.Customer.ID
	}
	inv.InvoiceNumber = strings.TrimSpace(in.Number)
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = models.FallbackInvoiceNumber(in.ID, inv.Status)
	}
	if in.StatusTransitions != nil && in.StatusTransitions.FinalizedAt > 0 {
		t := time.Unix(in.StatusTransitions.FinalizedAt, 0)
		inv.FinalizedDate = &t
	}
	if in.DueDate > 0 {
		t := time.Unix(in.DueDate, 0)
		inv.DueDate = &t
	}
	return inv
}

func isNotFound(err error) bool {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return sErr.HTTPStatusCode == 404 || sErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
