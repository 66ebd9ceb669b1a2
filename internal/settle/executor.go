// Package settle executes confirmed payments over their chosen rail and
// records the outcome in the ledger. Execution is serialized per wallet:
// two concurrent sends must never spend the same balance snapshot.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/ledger"
	"github.com/Fantasim/railpay/internal/models"
	"github.com/Fantasim/railpay/internal/quote"
	"github.com/Fantasim/railpay/internal/rails"
)

// State is one step of the settlement lifecycle.
type State string

const (
	StateIdle                     State = "idle"
	StateQuoting                  State = "quoting"
	StateReadyToConfirm           State = "ready_to_confirm"
	StateExecuting                State = "executing"
	StateSettled                  State = "settled"
	StateAwaitingExternalFinality State = "awaiting_external_finality"
	StateFailed                   State = "failed"
)

// Executor runs confirmed sends for one wallet.
type Executor struct {
	clients           map[models.Rail]rails.Client
	balances          rails.BalanceProvider
	store             *ledger.Store
	walletID          string
	supportFeeAddress string

	// onChange is invoked after every ledger mutation so the feed engine
	// can recompute. Never nil.
	onChange func()

	// mu is the per-wallet settlement lock: at most one in-flight send.
	mu    sync.Mutex
	state State
	stmu  sync.Mutex

	// background tracks finality pollers and support-fee side payments.
	background sync.WaitGroup
	sleep      func(time.Duration)
}

// New creates an executor for the given wallet identity.
func New(
	clients map[models.Rail]rails.Client,
	balances rails.BalanceProvider,
	store *ledger.Store,
	walletID, supportFeeAddress string,
	onChange func(),
) *Executor {
	if onChange == nil {
		onChange = func() {}
	}
	return &Executor{
		clients:           clients,
		balances:          balances,
		store:             store,
		walletID:          walletID,
		supportFeeAddress: supportFeeAddress,
		onChange:          onChange,
		state:             StateIdle,
		sleep:             time.Sleep,
	}
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.stmu.Lock()
	defer e.stmu.Unlock()
	return e.state
}

func (e *Executor) setState(s State) {
	e.stmu.Lock()
	prev := e.state
	e.state = s
	e.stmu.Unlock()

	slog.Debug("settlement state transition",
		"wallet", e.walletID,
		"from", prev,
		"to", s,
	)
}

// MarkQuoting and MarkReady let the engine facade drive the pre-execution
// lifecycle steps without touching the settlement lock.
func (e *Executor) MarkQuoting() { e.setState(StateQuoting) }
func (e *Executor) MarkReady()   { e.setState(StateReadyToConfirm) }

// ConfirmAndSend executes a confirmed payment. Rejections that precede the
// rail call (duplicate destination, insufficient balance, busy wallet)
// return a direct error with nothing persisted. Once the rail accepts, a
// pending ledger entry exists and every later failure mutates that entry
// instead, so the user always has an auditable record.
func (e *Executor) ConfirmAndSend(ctx context.Context, target *models.PaymentTarget, amountSats int64, q *models.QuoteResult, memo string) (*models.LedgerEntry, error) {
	if !e.mu.TryLock() {
		return nil, config.ErrSettlementInProgress
	}
	defer e.mu.Unlock()

	if q == nil || q.Destination != target.Destination {
		return nil, fmt.Errorf("%w: quote does not match target", config.ErrRailRejected)
	}
	if q.AmountSats != amountSats {
		return nil, fmt.Errorf("%w: quote computed for %d sats, not %d", config.ErrRailRejected, q.AmountSats, amountSats)
	}

	client, ok := e.clients[q.Rail]
	if !ok {
		return nil, fmt.Errorf("%w: no client for rail %s", config.ErrRailRejected, q.Rail)
	}

	destination := normalizeDestination(target.Destination)

	// Duplicate-payment gate: an invoice or address already paid (or still
	// pending) must never be paid again.
	paid, err := e.store.HasSettledOutgoingTo(destination)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if paid {
		slog.Warn("rejecting duplicate payment",
			"wallet", e.walletID,
			"rail", q.Rail,
		)
		return nil, config.ErrDuplicatePayment
	}

	// Balance may have moved since quoting; re-check before any rail call.
	if err := quote.CheckAffordable(e.balances, q); err != nil {
		return nil, err
	}

	e.setState(StateExecuting)

	slog.Info("executing settlement",
		"wallet", e.walletID,
		"rail", q.Rail,
		"amountSats", amountSats,
		"networkFeeSats", q.NetworkFeeSats,
		"swap", q.SwapPlan != nil,
	)

	sendCtx, cancel := context.WithTimeout(ctx, config.SendCallTimeout)
	defer cancel()

	sendTarget := target
	if q.Invoice != "" {
		// LNURL-pay targets settle against the invoice minted at quote time.
		minted := *target
		minted.Network = models.NetworkInvoice
		minted.Destination = q.Invoice
		sendTarget = &minted
	}

	result, err := client.Send(sendCtx, sendTarget, amountSats, q.NetworkFeeSats, memo)
	if err != nil {
		e.setState(StateFailed)
		return nil, fmt.Errorf("%w: %v", config.ErrRailRejected, err)
	}

	entry := models.LedgerEntry{
		ID:           result.NativeID,
		Rail:         q.Rail,
		Direction:    models.DirectionOutgoing,
		Status:       models.StatusPending,
		AmountSats:   amountSats,
		FeeSats:      q.TotalFeeSats(),
		Memo:         memo,
		TimestampMs:  result.TimestampMs,
		Counterparty: destination,
	}
	if entry.TimestampMs == 0 {
		entry.TimestampMs = time.Now().UnixMilli()
	}
	if result.Status == models.StatusCompleted {
		entry.Status = models.StatusCompleted
	}

	if err := e.store.UpsertEntry(entry); err != nil {
		// The rail accepted the send; losing the record would hide a real
		// payment, so surface the storage failure loudly.
		slog.Error("failed to persist accepted settlement",
			"wallet", e.walletID,
			"rail", q.Rail,
			"nativeId", result.NativeID,
			"error", err,
		)
		e.setState(StateFailed)
		return nil, fmt.Errorf("persist ledger entry: %w", err)
	}
	e.onChange()

	if entry.Status == models.StatusCompleted {
		e.setState(StateSettled)
	} else {
		// The rail accepted but has not finalized. A bounded poller
		// resolves the pending entry in-process instead of leaving it
		// for the next startup reconcile. Swap-mediated sends surface
		// the wait as a distinct state.
		if q.SwapPlan != nil {
			e.setState(StateAwaitingExternalFinality)
		} else {
			e.setState(StateSettled)
		}
		e.background.Add(1)
		go e.pollFinality(client, entry)
	}

	e.fireSupportFeePayment(q, memo)

	slog.Info("settlement accepted",
		"wallet", e.walletID,
		"rail", q.Rail,
		"nativeId", entry.ID,
		"status", entry.Status,
	)

	return &entry, nil
}

// fireSupportFeePayment sends the operator fee asynchronously. It never
// blocks and never fails the primary settlement; its errors are logged and
// swallowed.
func (e *Executor) fireSupportFeePayment(q *models.QuoteResult, memo string) {
	if e.supportFeeAddress == "" || q.SupportFeeSats <= 0 {
		return
	}

	client, ok := e.clients[models.RailLedger]
	if !ok {
		client = e.clients[q.Rail]
	}
	if client == nil {
		return
	}

	e.background.Add(1)
	go func() {
		defer e.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), config.SendCallTimeout)
		defer cancel()

		feeTarget := &models.PaymentTarget{
			Network:     models.NetworkLedgerTransfer,
			Destination: e.supportFeeAddress,
		}
		result, err := client.Send(ctx, feeTarget, q.SupportFeeSats, 0, "support fee")
		if err != nil {
			slog.Warn("support fee side payment failed",
				"wallet", e.walletID,
				"feeSats", q.SupportFeeSats,
				"error", err,
			)
			return
		}

		entry := models.LedgerEntry{
			ID:           result.NativeID,
			Rail:         client.Rail(),
			Direction:    models.DirectionOutgoing,
			Status:       models.StatusCompleted,
			AmountSats:   q.SupportFeeSats,
			TimestampMs:  result.TimestampMs,
			Counterparty: e.supportFeeAddress,
			Housekeeping: true,
		}
		if entry.TimestampMs == 0 {
			entry.TimestampMs = time.Now().UnixMilli()
		}
		if err := e.store.UpsertEntry(entry); err != nil {
			slog.Warn("failed to record support fee entry", "error", err)
			return
		}
		e.onChange()
	}()
}

// Wait blocks until all background pollers and side payments finish.
// Used by tests and graceful shutdown.
func (e *Executor) Wait() {
	e.background.Wait()
}

// normalizeDestination canonicalizes a destination for duplicate matching.
// Invoices and bech32 addresses are case-insensitive.
func normalizeDestination(destination string) string {
	return strings.ToLower(strings.TrimSpace(destination))
}
