package rails

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Fantasim/railpay/internal/models"
)

// LocalBackend is an in-process settlement backend. It gives every rail a
// deterministic client against shared balances, which is enough to run the
// whole pipeline without any external network. Live SDK-backed clients
// replace it per environment.
type LocalBackend struct {
	mu       sync.Mutex
	balances map[models.Rail]int64
	assets   map[string]int64
	enabled  map[models.Rail]bool
	limits   models.RailLimits
	seq      int64
}

// NewLocalBackend creates a backend with the given per-rail starting
// balances. Rails absent from enabled default to on.
func NewLocalBackend(balances map[models.Rail]int64, enabled map[models.Rail]bool, limits models.RailLimits) *LocalBackend {
	if balances == nil {
		balances = make(map[models.Rail]int64)
	}
	if enabled == nil {
		enabled = make(map[models.Rail]bool)
	}
	return &LocalBackend{
		balances: balances,
		assets:   make(map[string]int64),
		enabled:  enabled,
		limits:   limits,
	}
}

// Client returns this backend's client for one rail.
func (b *LocalBackend) Client(rail models.Rail) Client {
	return &localClient{backend: b, rail: rail}
}

// Clients returns a client per rail in the preference order.
func (b *LocalBackend) Clients() map[models.Rail]Client {
	clients := make(map[models.Rail]Client, len(models.AllRails))
	for _, rail := range models.AllRails {
		clients[rail] = b.Client(rail)
	}
	return clients
}

// SetAssetBalance seeds a non-base asset holding.
func (b *LocalBackend) SetAssetBalance(assetID string, sats int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assets[assetID] = sats
}

func (b *LocalBackend) GetBalance(rail models.Rail) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[rail]
}

func (b *LocalBackend) GetAssetBalance(assetID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.assets[assetID]
}

func (b *LocalBackend) GetRailLimits(rail models.Rail) models.RailLimits {
	return b.limits
}

func (b *LocalBackend) IsRailEnabled(rail models.Rail) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	on, set := b.enabled[rail]
	return !set || on
}

// localFlatFees mirrors the fee character of each rail: internal transfers
// free, invoice routing cheap, asset and on-chain progressively pricier.
var localFlatFees = map[models.Rail]int64{
	models.RailLedger:  0,
	models.RailInvoice: 2,
	models.RailAsset:   20,
	models.RailOnchain: 500,
}

type localClient struct {
	backend *LocalBackend
	rail    models.Rail
}

func (c *localClient) Rail() models.Rail { return c.rail }

func (c *localClient) EstimateFee(ctx context.Context, target *models.PaymentTarget, amountSats int64) (*FeeEstimate, error) {
	return &FeeEstimate{FeeSats: localFlatFees[c.rail]}, nil
}

func (c *localClient) FeeDependsOnAmount() bool {
	// Only the on-chain rail's fee moves with the amount (more inputs,
	// bigger transaction).
	return c.rail == models.RailOnchain
}

func (c *localClient) Send(ctx context.Context, target *models.PaymentTarget, amountSats, feeSats int64, memo string) (*SendResult, error) {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	total := amountSats + feeSats
	if b.balances[c.rail] < total {
		return nil, fmt.Errorf("local %s rail: balance %d below %d", c.rail, b.balances[c.rail], total)
	}
	b.balances[c.rail] -= total
	b.seq++

	return &SendResult{
		NativeID:    fmt.Sprintf("local-%s-%d", c.rail, b.seq),
		Status:      models.StatusCompleted,
		TimestampMs: time.Now().UnixMilli(),
	}, nil
}

func (c *localClient) PollStatus(ctx context.Context, nativeID string) (models.EntryStatus, error) {
	return models.StatusCompleted, nil
}

// LocalSwapSimulator quotes conversions at par minus a fixed fee rate.
type LocalSwapSimulator struct {
	FeePPM int64
}

func (s *LocalSwapSimulator) SimulateSwap(ctx context.Context, poolID, assetIn, assetOut string, amountIn int64) (*SwapSimulation, error) {
	fee := amountIn * s.FeePPM / 1_000_000
	return &SwapSimulation{
		AmountOut:   amountIn - fee,
		FeeSats:     fee,
		PriceImpact: 0,
	}, nil
}
