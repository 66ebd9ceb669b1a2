// Package route decides which settlement rails can carry a classified
// payment target given current balances, limits and feature gates.
package route

import (
	"log/slog"

	"github.com/Fantasim/railpay/internal/models"
	"github.com/Fantasim/railpay/internal/rails"
)

// upperBoundFeeSats is a conservative per-rail fee ceiling used only for
// feasibility screening. The quoter computes the real fee afterwards.
var upperBoundFeeSats = map[models.Rail]int64{
	models.RailLedger:  10,
	models.RailInvoice: 100,
	models.RailAsset:   200,
	models.RailOnchain: 2000,
}

// railNetworks maps each rail to the target networks it can carry.
var railNetworks = map[models.Rail][]models.Network{
	models.RailLedger:  {models.NetworkLedgerTransfer},
	models.RailInvoice: {models.NetworkInvoice, models.NetworkLnurlPay, models.NetworkLnurlWithdraw},
	models.RailAsset:   {models.NetworkAssetTransfer},
	models.RailOnchain: {models.NetworkOnchain},
}

// Resolver screens rails for feasibility.
type Resolver struct {
	balances rails.BalanceProvider
}

// New creates a resolver over the given balance/limits/flags provider.
func New(balances rails.BalanceProvider) *Resolver {
	return &Resolver{balances: balances}
}

// Feasible returns the rails able to carry amountSats to target, in fixed
// preference order: internal ledger transfer cheapest, invoice-based next,
// on-chain last. amountSats of zero means the user has not entered an
// amount yet; bounds screening is skipped in that case.
func (r *Resolver) Feasible(target *models.PaymentTarget, amountSats int64) []models.Rail {
	var feasible []models.Rail

	for _, rail := range models.AllRails {
		if !r.railFits(rail, target, amountSats) {
			continue
		}
		feasible = append(feasible, rail)
	}

	slog.Debug("rail feasibility resolved",
		"network", target.Network,
		"amountSats", amountSats,
		"feasible", feasible,
	)

	return feasible
}

// Pick returns the preferred feasible rail for the target, or false when
// none qualifies. A target whose network only one rail carries forces that
// rail by construction of the compatibility table.
func (r *Resolver) Pick(target *models.PaymentTarget, amountSats int64) (models.Rail, bool) {
	feasible := r.Feasible(target, amountSats)
	if len(feasible) == 0 {
		return "", false
	}
	return feasible[0], true
}

func (r *Resolver) railFits(rail models.Rail, target *models.PaymentTarget, amountSats int64) bool {
	if !r.balances.IsRailEnabled(rail) {
		return false
	}

	if !networkCompatible(rail, target.Network) {
		return false
	}

	if amountSats > 0 {
		limits := r.balances.GetRailLimits(rail)
		if amountSats < limits.MinSats || amountSats > limits.MaxSats {
			return false
		}
	}

	return r.balances.GetBalance(rail) >= amountSats+upperBoundFeeSats[rail]
}

func networkCompatible(rail models.Rail, network models.Network) bool {
	for _, n := range railNetworks[rail] {
		if n == network {
			return true
		}
	}
	return false
}

// UpperBoundFee exposes the screening ceiling for a rail.
func UpperBoundFee(rail models.Rail) int64 {
	return upperBoundFeeSats[rail]
}
