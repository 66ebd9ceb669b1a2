package rails

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Fantasim/railpay/internal/config"
)

// lnurlPayResponse is the callback's answer to an invoice request.
// A non-OK status carries a human reason that is surfaced verbatim.
type lnurlPayResponse struct {
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
	PR     string `json:"pr"`
}

// InvoiceMinter obtains bolt11 invoices from LNURL-pay callbacks.
// Callbacks transiently fail to mint, so requests are retried a fixed number
// of times with fixed spacing before giving up.
type InvoiceMinter struct {
	client  *http.Client
	limiter *RateLimiter
	sleep   func(time.Duration) // overridable in tests
}

// NewInvoiceMinter creates a minter with the default HTTP client and
// per-callback rate limiting.
func NewInvoiceMinter() *InvoiceMinter {
	return &InvoiceMinter{
		client: &http.Client{
			Timeout: config.QuoteCallTimeout,
		},
		limiter: NewRateLimiter("lnurl-callback", config.RateLimitLnurlCallback),
		sleep:   time.Sleep,
	}
}

// NewInvoiceMinterWithClient creates a minter with a custom HTTP client (for testing).
func NewInvoiceMinterWithClient(client *http.Client) *InvoiceMinter {
	return &InvoiceMinter{
		client:  client,
		limiter: NewRateLimiter("lnurl-callback", config.RateLimitLnurlCallback),
		sleep:   func(time.Duration) {},
	}
}

// MintInvoice requests a bolt11 invoice for amountSats from the LNURL-pay
// callback URL. Retries up to config.InvoiceMintAttempts with fixed spacing;
// after exhausting retries it fails with ErrUnableToObtainInvoice.
func (m *InvoiceMinter) MintInvoice(ctx context.Context, callback string, amountSats int64) (string, error) {
	reqURL, err := buildCallbackURL(callback, amountSats)
	if err != nil {
		return "", fmt.Errorf("%w: %v", config.ErrUnableToObtainInvoice, err)
	}

	var lastErr error

	for attempt := 1; attempt <= config.InvoiceMintAttempts; attempt++ {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", err
		}

		pr, err := m.requestInvoice(ctx, reqURL)
		if err == nil {
			slog.Info("invoice minted",
				"callback", callback,
				"amountSats", amountSats,
				"attempt", attempt,
			)
			return pr, nil
		}

		lastErr = err
		slog.Warn("invoice mint attempt failed",
			"callback", callback,
			"attempt", attempt,
			"remaining", config.InvoiceMintAttempts-attempt,
			"error", err,
		)

		if attempt < config.InvoiceMintAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}
			m.sleep(config.InvoiceMintSpacing)
		}
	}

	return "", fmt.Errorf("%w: %v", config.ErrUnableToObtainInvoice, lastErr)
}

// requestInvoice performs one callback round trip.
func (m *InvoiceMinter) requestInvoice(ctx context.Context, reqURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create invoice request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoice request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read invoice response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("invoice callback HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload lnurlPayResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode invoice response: %w", err)
	}

	if payload.Status == "ERROR" {
		return "", fmt.Errorf("invoice callback error: %s", payload.Reason)
	}
	if payload.PR == "" {
		return "", fmt.Errorf("invoice callback returned empty payment request")
	}

	return payload.PR, nil
}

// buildCallbackURL appends the millisat amount to the callback, preserving
// any query parameters the service already embedded.
func buildCallbackURL(callback string, amountSats int64) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("parse callback URL: %w", err)
	}
	q := u.Query()
	q.Set("amount", strconv.FormatInt(amountSats*1000, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
