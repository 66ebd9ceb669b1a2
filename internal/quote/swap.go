package quote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/models"
)

// quoteCrossAsset handles targets denominated in an asset the wallet does
// not hold. The swap-path quote and the direct base-asset fallback run
// concurrently; the swap quote wins when it succeeds, otherwise the fallback
// is used, and only when both fail is the target unpayable.
func (q *Quoter) quoteCrossAsset(ctx context.Context, rail models.Rail, target *models.PaymentTarget, amount int64) (*models.QuoteResult, error) {
	var (
		swapQuote, directQuote *models.QuoteResult
		swapErr, directErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		swapQuote, swapErr = q.quoteSwapPath(gctx, rail, target, amount)
		return nil
	})
	g.Go(func() error {
		directQuote, directErr = q.quoteDirect(gctx, rail, target, amount)
		return nil
	})
	// Errors are captured per path; Wait only propagates ctx cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if swapErr == nil {
		return swapQuote, nil
	}

	if directErr == nil {
		slog.Warn("swap quote failed, using direct fallback path",
			"assetId", target.AssetID,
			"swapError", swapErr,
		)
		return directQuote, nil
	}

	return nil, fmt.Errorf("%w: swap: %v; direct: %v", config.ErrNoViablePaymentPath, swapErr, directErr)
}

// quoteSwapPath simulates converting the held base asset into the target's
// required asset and prices the payment through that conversion.
func (q *Quoter) quoteSwapPath(ctx context.Context, rail models.Rail, target *models.PaymentTarget, amount int64) (*models.QuoteResult, error) {
	rate, err := q.rates.GetFiatRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("swap sizing rate: %w", err)
	}

	// Size the trade as the minimum of the required input (converted at the
	// current price) and the wallet's actual input-asset holdings, so a
	// simulated trade never exceeds what the wallet could really spend.
	required := requiredInputSats(amount, rate)
	held := q.balances.GetBalance(rail)
	amountIn := required
	if held < amountIn {
		amountIn = held
	}
	if amountIn <= 0 {
		return nil, fmt.Errorf("no input-asset balance to swap")
	}

	poolID := fmt.Sprintf("%s/%s", "base", target.AssetID)
	simCtx, cancel := context.WithTimeout(ctx, config.QuoteCallTimeout)
	defer cancel()

	sim, err := q.swapper.SimulateSwap(simCtx, poolID, models.BaseAssetID, target.AssetID, amountIn)
	if err != nil {
		return nil, fmt.Errorf("swap simulation: %w", err)
	}

	warn := sim.PriceImpact > config.PriceImpactWarnThreshold
	if warn {
		slog.Warn("swap price impact above threshold",
			"poolId", poolID,
			"priceImpact", sim.PriceImpact,
		)
	}

	return &models.QuoteResult{
		Rail:           rail,
		Destination:    target.Destination,
		AmountSats:     amount,
		AssetID:        target.AssetID,
		NetworkFeeSats: sim.FeeSats,
		SwapPlan: &models.SwapPlan{
			PoolID:             poolID,
			AssetIn:            models.BaseAssetID,
			AssetOut:           target.AssetID,
			AmountIn:           amountIn,
			SimulatedFeeSats:   sim.FeeSats,
			PriceImpactWarning: warn,
		},
	}, nil
}

var centsPerUSD = decimal.New(100, 0)

// requiredInputSats converts the sat-denominated amount through the current
// fiat price into asset minor units and back, rounding up, so the input side
// always covers the required output after price quantization.
func requiredInputSats(amountSats int64, rate float64) int64 {
	if rate <= 0 {
		return amountSats
	}
	r := decimal.NewFromFloat(rate)
	sats := decimal.New(amountSats, 0)

	cents := sats.Div(satsPerCoin).Mul(r).Mul(centsPerUSD).Ceil()
	back := cents.Div(centsPerUSD).Div(r).Mul(satsPerCoin).Ceil()
	return back.IntPart()
}

var satsPerCoin = decimal.New(1, 8)
