// Package price fetches and caches the fiat rate used for swap sizing and
// display-only conversion. Never used for settlement-affecting math beyond
// sizing a simulated swap.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Fantasim/railpay/internal/config"
)

// RateService fetches and caches the base-asset USD rate.
type RateService struct {
	client   *http.Client
	baseURL  string
	cached   float64
	cachedAt time.Time
	mu       sync.RWMutex
}

// NewRateService creates a RateService with default configuration.
func NewRateService() *RateService {
	slog.Info("rate service initialized",
		"baseURL", config.RateBaseURL,
		"cacheDuration", config.RateCacheDuration,
	)
	return &RateService{
		client:  &http.Client{Timeout: config.RateCallTimeout},
		baseURL: config.RateBaseURL,
	}
}

// NewRateServiceWithURL creates a RateService with a custom base URL (for testing).
func NewRateServiceWithURL(baseURL string) *RateService {
	return &RateService{
		client:  &http.Client{Timeout: config.RateCallTimeout},
		baseURL: baseURL,
	}
}

// GetFiatRate returns the current USD price of the base asset.
// Returns the cached rate while the cache is still valid.
func (rs *RateService) GetFiatRate(ctx context.Context) (float64, error) {
	rs.mu.RLock()
	if rs.cached > 0 && time.Since(rs.cachedAt) < config.RateCacheDuration {
		rate := rs.cached
		rs.mu.RUnlock()

		slog.Debug("rate cache hit",
			"age", time.Since(rs.cachedAt).Round(time.Second),
			"rate", rate,
		)
		return rate, nil
	}
	rs.mu.RUnlock()

	rate, err := rs.fetchRate(ctx)
	if err != nil {
		return 0, err
	}

	rs.mu.Lock()
	rs.cached = rate
	rs.cachedAt = time.Now()
	rs.mu.Unlock()

	return rate, nil
}

// rateResponse represents the /simple/price response shape.
type rateResponse map[string]map[string]float64

func (rs *RateService) fetchRate(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/simple/price?ids=bitcoin&vs_currencies=usd", rs.baseURL)

	slog.Info("fetching fiat rate", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := rs.client.Do(req)
	if err != nil {
		slog.Error("rate request failed",
			"error", err,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return 0, fmt.Errorf("%w: %v", config.ErrRateFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: HTTP %d", config.ErrRateFetchFailed, resp.StatusCode)
	}

	var payload rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", config.ErrRateFetchFailed, err)
	}

	rate := payload["bitcoin"]["usd"]
	if rate <= 0 {
		return 0, fmt.Errorf("%w: missing bitcoin/usd rate", config.ErrRateFetchFailed)
	}

	slog.Info("fiat rate fetched",
		"rate", rate,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return rate, nil
}
