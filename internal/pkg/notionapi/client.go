package notionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/mhenrichs/notisync/app/models"
)

const (
	defaultNotionBaseURL = "https://api.notion.com/v1"
	notionVersion        = "2022-06-28"

	maxAttempts = 3
	baseBackoff = 500 * time.Millisecond
)

// ErrNotFound is returned when a page or database object does not exist.
var ErrNotFound = errors.New("notionapi: not found")

// Client talks to the Notion REST API for the invoice and client databases.
// Rate limits (429) and server errors are retried with exponential backoff
// and jitter before an error escapes to the caller.
type Client struct {
	Secret       string
	InvoicesDBID string
	ClientsDBID  string

	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Notion client. Database ids are normalized into the
// hyphenated UUID form the API expects.
func New(secret, invoicesDBID, clientsDBID string) *Client {
	return &Client{
		Secret:       strings.TrimSpace(secret),
		InvoicesDBID: FormatID(invoicesDBID),
		ClientsDBID:  FormatID(clientsDBID),
		BaseURL:      defaultNotionBaseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FormatID inserts the UUID hyphens Notion omits in copied database ids.
func FormatID(id string) string {
	id = strings.ReplaceAll(strings.TrimSpace(id), "-", "")
	if len(id) != 32 {
		return id
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", id[:8], id[8:12], id[12:16], id[16:20], id[20:])
}

// QueryInvoiceByStripeID looks the invoice page up by its Stripe ID
// property, the unique join key. Returns (nil, nil) when no page exists.
func (c *Client) QueryInvoiceByStripeID(ctx context.Context, stripeID string) (*InvoicePage, error) {
	body := map[string]any{
		"page_size": 1,
		"filter": map[string]any{
			"property":  "Stripe ID",
			"rich_text": map[string]any{"equals": stripeID},
		},
	}

	var out queryResponse
	if err := c.do(ctx, http.MethodPost, "/databases/"+c.InvoicesDBID+"/query", body, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return pageToInvoicePage(&out.Results[0])
}

// GetInvoicePage retrieves a single page by id.
func (c *Client) GetInvoicePage(ctx context.Context, pageID string) (*InvoicePage, error) {
	var page pageObject
	if err := c.do(ctx, http.MethodGet, "/pages/"+FormatID(pageID), nil, &page); err != nil {
		return nil, err
	}
	return pageToInvoicePage(&page)
}

// CreateInvoicePage creates a page in the invoices database and returns its id.
func (c *Client) CreateInvoicePage(ctx context.Context, props Properties) (string, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": c.InvoicesDBID},
		"properties": props,
	}
	var page pageObject
	if err := c.do(ctx, http.MethodPost, "/pages", body, &page); err != nil {
		return "", err
	}
	return page.ID, nil
}

// UpdateInvoicePage patches only the given properties onto an existing page.
func (c *Client) UpdateInvoicePage(ctx context.Context, pageID string, props Properties) error {
	body := map[string]any{"properties": props}
	return c.do(ctx, http.MethodPatch, "/pages/"+FormatID(pageID), body, nil)
}

// ArchiveInvoicePage soft-deletes a page. Archived pages stay queryable in
// Notion's trash, which is exactly the audit-trail behavior wanted for
// deleted invoices.
func (c *Client) ArchiveInvoicePage(ctx context.Context, pageID string) error {
	body := map[string]any{"archived": true}
	return c.do(ctx, http.MethodPatch, "/pages/"+FormatID(pageID), body, nil)
}

// ListRecentlyEditedInvoices returns invoice pages whose last_edited_time is
// at or after the cutoff, newest first, following pagination cursors.
func (c *Client) ListRecentlyEditedInvoices(ctx context.Context, since time.Time) ([]*InvoicePage, error) {
	var pages []*InvoicePage
	cursor := ""

	for {
		body := map[string]any{
			"page_size": 100,
			"filter": map[string]any{
				"timestamp": "last_edited_time",
				"last_edited_time": map[string]any{
					"on_or_after": since.UTC().Format(time.RFC3339),
				},
			},
			"sorts": []map[string]any{
				{"timestamp": "last_edited_time", "direction": "descending"},
			},
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var out queryResponse
		if err := c.do(ctx, http.MethodPost, "/databases/"+c.InvoicesDBID+"/query", body, &out); err != nil {
			return pages, err
		}
		for i := range out.Results {
			page, err := pageToInvoicePage(&out.Results[i])
			if err != nil {
				log.Warnf("[Notion] Skipping unparseable page %s: %v", out.Results[i].ID, err)
				continue
			}
			pages = append(pages, page)
		}
		if !out.HasMore || out.NextCursor == "" {
			break
		}
		cursor = out.NextCursor
	}
	return pages, nil
}

// QueryClientByCustomerID resolves a Stripe customer id to a page in the
// clients database. Returns "" when no client page exists yet.
func (c *Client) QueryClientByCustomerID(ctx context.Context, customerID string) (string, error) {
	body := map[string]any{
		"page_size": 1,
		"filter": map[string]any{
			"property":  "Stripe Customer ID",
			"rich_text": map[string]any{"equals": customerID},
		},
	}
	var out queryResponse
	if err := c.do(ctx, http.MethodPost, "/databases/"+c.ClientsDBID+"/query", body, &out); err != nil {
		return "", err
	}
	if len(out.Results) == 0 {
		return "", nil
	}
	return out.Results[0].ID, nil
}

// CreateClientPage creates a client page for a customer seen for the first
// time and returns its id.
func (c *Client) CreateClientPage(ctx context.Context, cust *models.Customer) (string, error) {
	name := strings.TrimSpace(cust.Name)
	if name == "" {
		name = cust.ID
	}
	props := Properties{
		"Name":               TitleProperty(name),
		"Stripe Customer ID": RichTextProperty(cust.ID),
	}
	if strings.TrimSpace(cust.Email) != "" {
		props["Email"] = EmailProperty(cust.Email)
	}

	body := map[string]any{
		"parent":     map[string]any{"database_id": c.ClientsDBID},
		"properties": props,
	}
	var page pageObject
	if err := c.do(ctx, http.MethodPost, "/pages", body, &page); err != nil {
		return "", err
	}
	return page.ID, nil
}

// do performs one API call with bounded retries on 429 and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt, lastErr)):
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.Secret)
		req.Header.Set("Notion-Version", notionVersion)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil {
				return json.Unmarshal(respBody, out)
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &apiError{status: resp.StatusCode, body: string(respBody), retryAfter: parseRetryAfter(resp)}
			log.Warnf("[Notion] %s %s attempt %d/%d failed: status=%d", method, path, attempt, maxAttempts, resp.StatusCode)
			continue
		default:
			return fmt.Errorf("notion request failed: status=%d body=%s", resp.StatusCode, string(respBody))
		}
	}
	return fmt.Errorf("notion request gave up after %d attempts: %w", maxAttempts, lastErr)
}

type apiError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	return fmt.Sprintf("notion api error: status=%d body=%s", e.status, e.body)
}

func parseRetryAfter(resp *http.Response) time.Duration {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func backoffDelay(attempt int, lastErr error) time.Duration {
	var apiErr *apiError
	if errors.As(lastErr, &apiErr) && apiErr.retryAfter > 0 {
		return apiErr.retryAfter
	}
	// 500ms, 1s, 2s... plus up to 50% jitter.
	d := baseBackoff << (attempt - 2)
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}
