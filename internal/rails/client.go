// Package rails defines the boundary to the opaque settlement-network
// clients. The engine core only ever talks to these interfaces; concrete
// SDK-backed implementations are wired in at startup.
package rails

import (
	"context"

	"github.com/Fantasim/railpay/internal/models"
)

// FeeEstimate is the cost a rail reports for carrying a payment.
type FeeEstimate struct {
	FeeSats int64
}

// SendResult is what a rail returns once it has accepted a send request.
// Acceptance is not finality: asynchronous rails settle later.
type SendResult struct {
	NativeID    string
	Status      models.EntryStatus
	TimestampMs int64
}

// Client is one settlement rail's send-side surface.
type Client interface {
	// Rail identifies which rail this client serves.
	Rail() models.Rail

	// EstimateFee returns the network fee for sending amountSats to target.
	EstimateFee(ctx context.Context, target *models.PaymentTarget, amountSats int64) (*FeeEstimate, error)

	// FeeDependsOnAmount reports whether this rail's fee varies with the
	// amount sent. Flat-fee rails allow quote reuse across amount edits.
	FeeDependsOnAmount() bool

	// Send submits the payment. The returned status is pending for rails
	// that settle asynchronously.
	Send(ctx context.Context, target *models.PaymentTarget, amountSats, feeSats int64, memo string) (*SendResult, error)

	// PollStatus reports the current settlement status of a previously
	// accepted send.
	PollStatus(ctx context.Context, nativeID string) (models.EntryStatus, error)
}

// SwapSimulation is the result of a simulated cross-asset conversion.
type SwapSimulation struct {
	AmountOut   int64
	FeeSats     int64
	PriceImpact float64 // fraction, 0.03 = 3%
}

// SwapSimulator simulates conversions between held and required assets.
type SwapSimulator interface {
	SimulateSwap(ctx context.Context, poolID, assetIn, assetOut string, amountIn int64) (*SwapSimulation, error)
}

// BalanceProvider exposes per-rail balances, limits and feature gates.
// Balances are read-only input to this core; they are owned by the
// settlement-network clients and considered stale until their next sync.
type BalanceProvider interface {
	GetBalance(rail models.Rail) int64
	GetAssetBalance(assetID string) int64
	GetRailLimits(rail models.Rail) models.RailLimits
	IsRailEnabled(rail models.Rail) bool
}

// RateProvider exposes the display fiat rate. Never used for
// settlement-affecting math except swap sizing.
type RateProvider interface {
	GetFiatRate(ctx context.Context) (float64, error)
}
