// Package quote computes the cost and path for paying a classified target.
// Results are memoized per (destination, amount, assetId) so re-quoting the
// same request never costs a second network round trip.
package quote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/models"
	"github.com/Fantasim/railpay/internal/rails"
	"github.com/Fantasim/railpay/internal/route"
)

// InvoiceMinter obtains bolt11 invoices from LNURL-pay callbacks.
type InvoiceMinter interface {
	MintInvoice(ctx context.Context, callback string, amountSats int64) (string, error)
}

// Quoter produces QuoteResults for feasible (target, amount) pairs.
type Quoter struct {
	clients  map[models.Rail]rails.Client
	swapper  rails.SwapSimulator
	balances rails.BalanceProvider
	rates    rails.RateProvider
	minter   InvoiceMinter
	resolver *route.Resolver
	fees     *SupportFeeSchedule
	cache    *quoteCache
}

// New wires a quoter from its collaborators.
func New(
	clients map[models.Rail]rails.Client,
	swapper rails.SwapSimulator,
	balances rails.BalanceProvider,
	rates rails.RateProvider,
	minter InvoiceMinter,
	fees *SupportFeeSchedule,
) *Quoter {
	return &Quoter{
		clients:  clients,
		swapper:  swapper,
		balances: balances,
		rates:    rates,
		minter:   minter,
		resolver: route.New(balances),
		fees:     fees,
		cache:    newQuoteCache(),
	}
}

// Quote computes the cost of paying amountSats to target. A target with an
// embedded amount overrides the passed amount. Repeat calls for the same
// (destination, amount, assetId) return the memoized result.
func (q *Quoter) Quote(ctx context.Context, target *models.PaymentTarget, amountSats int64) (*models.QuoteResult, error) {
	amount := amountSats
	if target.FixedAmountSats != nil {
		amount = *target.FixedAmountSats
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", config.ErrNoViablePaymentPath)
	}

	switch target.Network {
	case models.NetworkLnurlWithdraw, models.NetworkLnurlAuth:
		return nil, fmt.Errorf("%w: %s target is not payable", config.ErrNoViablePaymentPath, target.Network)
	}

	rail, ok := q.resolver.Pick(target, amount)
	if !ok {
		return nil, config.ErrNoFeasibleRail
	}

	key := q.keyFor(rail, target, amount)
	if cached, ok := q.cache.get(key); ok {
		// A flat-fee quote stored under the amount-independent key is
		// reusable across amount edits; only its amount-derived fields are
		// recomputed, never the network fee.
		if cached.AmountSats != amount {
			adjusted := *cached
			adjusted.AmountSats = amount
			adjusted.SupportFeeSats = q.fees.Fee(amount)
			return &adjusted, nil
		}
		return cached, nil
	}

	slog.Info("quoting payment",
		"network", target.Network,
		"rail", rail,
		"amountSats", amount,
		"assetId", target.AssetID,
	)

	var (
		result *models.QuoteResult
		err    error
	)

	// Cross-asset only when the target requires an asset the wallet does
	// not hold enough of; otherwise the rail carries it directly.
	if target.AssetID != models.BaseAssetID && q.balances.GetAssetBalance(target.AssetID) < amount {
		result, err = q.quoteCrossAsset(ctx, rail, target, amount)
	} else {
		result, err = q.quoteDirect(ctx, rail, target, amount)
	}
	if err != nil {
		return nil, err
	}

	result.SupportFeeSats = q.fees.Fee(amount)

	slog.Info("quote computed",
		"rail", rail,
		"networkFeeSats", result.NetworkFeeSats,
		"supportFeeSats", result.SupportFeeSats,
		"swap", result.SwapPlan != nil,
	)

	q.cache.put(key, result)
	return result, nil
}

// keyFor builds the memo key. Rails whose fee does not depend on amount are
// keyed under amount zero so their quotes survive amount edits; swap-bearing
// quotes always carry the exact amount and are invalidated by any change.
// LNURL-pay quotes also carry the exact amount: they embed an invoice minted
// for one amount, and a reused invoice would settle the wrong sum.
func (q *Quoter) keyFor(rail models.Rail, target *models.PaymentTarget, amount int64) cacheKey {
	keyAmount := amount
	if c, ok := q.clients[rail]; ok && !c.FeeDependsOnAmount() &&
		target.AssetID == models.BaseAssetID && target.Network != models.NetworkLnurlPay {
		keyAmount = 0
	}
	return cacheKey{
		destination: target.Destination,
		amountSats:  keyAmount,
		assetID:     target.AssetID,
	}
}

// quoteDirect obtains a fee estimate from the rail client. LNURL-pay targets
// first mint a concrete invoice from the callback so the estimate (and the
// later send) applies to a real payment request.
func (q *Quoter) quoteDirect(ctx context.Context, rail models.Rail, target *models.PaymentTarget, amount int64) (*models.QuoteResult, error) {
	client, ok := q.clients[rail]
	if !ok {
		return nil, fmt.Errorf("%w: no client for rail %s", config.ErrNetworkUnavailable, rail)
	}

	result := &models.QuoteResult{
		Rail:        rail,
		Destination: target.Destination,
		AmountSats:  amount,
		AssetID:     target.AssetID,
	}

	estimateTarget := target
	if target.Network == models.NetworkLnurlPay {
		invoice, err := q.minter.MintInvoice(ctx, target.Destination, amount)
		if err != nil {
			return nil, err
		}
		result.Invoice = invoice

		minted := *target
		minted.Network = models.NetworkInvoice
		minted.Destination = invoice
		estimateTarget = &minted
	}

	estimateCtx, cancel := context.WithTimeout(ctx, config.QuoteCallTimeout)
	defer cancel()

	estimate, err := client.EstimateFee(estimateCtx, estimateTarget, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %s fee estimate: %v", config.ErrNetworkUnavailable, rail, err)
	}

	result.NetworkFeeSats = estimate.FeeSats
	return result, nil
}

// InvalidateDestination drops cached quotes for a destination. Called after
// a settlement attempt so stale quotes do not survive a paid invoice.
func (q *Quoter) InvalidateDestination(destination string) {
	q.cache.invalidateDestination(destination)
}

// CheckAffordable verifies the wallet can cover amount plus all fees on the
// quoted rail. Violation is a caller-visible insufficient-balance error, not
// a quoting failure; the settlement executor must not be invoked after one.
// Fees are additive to the amount on every rail.
func CheckAffordable(balances rails.BalanceProvider, q *models.QuoteResult) error {
	held := balances.GetBalance(q.Rail)
	needed := q.AmountSats + q.TotalFeeSats()
	if held < needed {
		return fmt.Errorf("%w: need %d sats (amount %d + fees %d), have %d",
			config.ErrInsufficientBalance, needed, q.AmountSats, q.TotalFeeSats(), held)
	}
	return nil
}
