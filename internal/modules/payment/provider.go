package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Session states reported by the provider.
const (
	SessionOpen     = "open"
	SessionComplete = "complete"
	SessionExpired  = "expired"

	PaymentPaid   = "paid"
	PaymentUnpaid = "unpaid"
)

var ErrProvider = errors.New("payment provider error")

type SessionParams struct {
	BookingID  uuid.UUID
	Amount     decimal.Decimal
	Currency   string
	SuccessURL string
	CancelURL  string
	ExpiresAt  time.Time
}

type Session struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentIntent string `json:"payment_intent"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
	Metadata      struct {
		BookingID string `json:"booking_id"`
	} `json:"metadata"`
}

func (s *Session) Paid() bool {
	return s.Status == SessionComplete && s.PaymentStatus == PaymentPaid
}

// Provider is the payment processor boundary: checkout sessions, refunds and host transfers.
type Provider interface {
	CreateSession(ctx context.Context, p SessionParams) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	Refund(ctx context.Context, intentID string, amount decimal.Decimal, idempotencyKey string) (string, error)
	Transfer(ctx context.Context, destination string, amount decimal.Decimal, currency, idempotencyKey string) (string, error)
}

// HTTPProvider talks to a Stripe-compatible form-encoded REST API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPProvider{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// MinorUnits converts an amount to integer cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (p *HTTPProvider) CreateSession(ctx context.Context, sp SessionParams) (*Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", sp.SuccessURL)
	form.Set("cancel_url", sp.CancelURL)
	form.Set("client_reference_id", sp.BookingID.String())
	form.Set("metadata[booking_id]", sp.BookingID.String())
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(sp.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(MinorUnits(sp.Amount), 10))
	form.Set("line_items[0][price_data][product_data][name]", "Booking "+sp.BookingID.String())
	// the provider refuses expiries closer than 30 minutes; the booking deadline still applies on our side
	if !sp.ExpiresAt.IsZero() && time.Until(sp.ExpiresAt) >= 30*time.Minute {
		form.Set("expires_at", strconv.FormatInt(sp.ExpiresAt.Unix(), 10))
	}

	var s Session
	if err := p.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, "checkout_"+sp.BookingID.String()+"_"+strconv.FormatInt(sp.ExpiresAt.Unix(), 10), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *HTTPProvider) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := p.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), nil, "", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *HTTPProvider) Refund(ctx context.Context, intentID string, amount decimal.Decimal, idempotencyKey string) (string, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("amount", strconv.FormatInt(MinorUnits(amount), 10))

	var out struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/refunds", form, idempotencyKey, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (p *HTTPProvider) Transfer(ctx context.Context, destination string, amount decimal.Decimal, currency, idempotencyKey string) (string, error) {
	form := url.Values{}
	form.Set("destination", destination)
	form.Set("amount", strconv.FormatInt(MinorUnits(amount), 10))
	form.Set("currency", strings.ToLower(currency))

	var out struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/transfers", form, idempotencyKey, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, dest any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(p.apiKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrProvider, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrProvider, err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("%w: %s %s status=%d type=%s message=%s", ErrProvider, method, path,
			resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrProvider, path, err)
	}
	return nil
}
