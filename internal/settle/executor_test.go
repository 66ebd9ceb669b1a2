package settle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/ledger"
	"github.com/Fantasim/railpay/internal/models"
	"github.com/Fantasim/railpay/internal/rails"
)

type fakeClient struct {
	rail       models.Rail
	sendCalls  atomic.Int64
	sendErr    error
	sendStatus models.EntryStatus

	pollCalls  atomic.Int64
	pollStatus models.EntryStatus
	// pollAfter delays the terminal status until this many poll calls.
	pollAfter int64
}

func (c *fakeClient) Rail() models.Rail { return c.rail }

func (c *fakeClient) EstimateFee(ctx context.Context, target *models.PaymentTarget, amountSats int64) (*rails.FeeEstimate, error) {
	return &rails.FeeEstimate{FeeSats: 10}, nil
}

func (c *fakeClient) FeeDependsOnAmount() bool { return true }

func (c *fakeClient) Send(ctx context.Context, target *models.PaymentTarget, amountSats, feeSats int64, memo string) (*rails.SendResult, error) {
	n := c.sendCalls.Add(1)
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	status := c.sendStatus
	if status == "" {
		status = models.StatusCompleted
	}
	return &rails.SendResult{
		NativeID:    fmt.Sprintf("%s-tx-%d", c.rail, n),
		Status:      status,
		TimestampMs: time.Now().UnixMilli(),
	}, nil
}

func (c *fakeClient) PollStatus(ctx context.Context, nativeID string) (models.EntryStatus, error) {
	n := c.pollCalls.Add(1)
	if n < c.pollAfter {
		return models.StatusPending, nil
	}
	if c.pollStatus == "" {
		return models.StatusPending, nil
	}
	return c.pollStatus, nil
}

type fakeBalances struct {
	balances map[models.Rail]int64
}

func (b *fakeBalances) GetBalance(rail models.Rail) int64    { return b.balances[rail] }
func (b *fakeBalances) GetAssetBalance(assetID string) int64 { return 0 }
func (b *fakeBalances) IsRailEnabled(rail models.Rail) bool  { return true }
func (b *fakeBalances) GetRailLimits(rail models.Rail) models.RailLimits {
	return models.RailLimits{MinSats: 1, MaxSats: 100_000_000}
}

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return store
}

func testQuote(destination string, amountSats int64) *models.QuoteResult {
	return &models.QuoteResult{
		Rail:           models.RailInvoice,
		Destination:    destination,
		AmountSats:     amountSats,
		NetworkFeeSats: 10,
		SupportFeeSats: 4,
	}
}

func newTestExecutor(t *testing.T, client *fakeClient, balances *fakeBalances) (*Executor, *ledger.Store) {
	t.Helper()
	store := newTestStore(t)
	e := New(
		map[models.Rail]rails.Client{client.rail: client},
		balances,
		store,
		"wallet-1",
		"",
		nil,
	)
	e.sleep = func(time.Duration) {}
	return e, store
}

func TestConfirmAndSendPersistsEntry(t *testing.T) {
	client := &fakeClient{rail: models.RailInvoice}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailInvoice: 10_000}}
	e, store := newTestExecutor(t, client, balances)

	target := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1invoice"}
	entry, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), "rent")
	if err != nil {
		t.Fatalf("ConfirmAndSend: %v", err)
	}
	if entry.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", entry.Status)
	}
	if entry.FeeSats != 14 {
		t.Errorf("feeSats = %d, want 14", entry.FeeSats)
	}
	if got := e.State(); got != StateSettled {
		t.Errorf("state = %s, want settled", got)
	}

	persisted, err := store.GetEntry(models.RailInvoice, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if persisted.Counterparty != "lnbc1invoice" {
		t.Errorf("counterparty = %q", persisted.Counterparty)
	}
}

func TestConfirmAndSendRejectsDuplicate(t *testing.T) {
	client := &fakeClient{rail: models.RailInvoice}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailInvoice: 10_000}}
	e, _ := newTestExecutor(t, client, balances)

	target := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1dupinvoice"}
	if _, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), ""); err != nil {
		t.Fatalf("first send: %v", err)
	}
	sendsAfterFirst := client.sendCalls.Load()

	_, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), "")
	if !errors.Is(err, config.ErrDuplicatePayment) {
		t.Fatalf("err = %v, want ErrDuplicatePayment", err)
	}
	if client.sendCalls.Load() != sendsAfterFirst {
		t.Error("rail Send was invoked for a duplicate destination")
	}
}

func TestConfirmAndSendDuplicateCheckIsCaseInsensitive(t *testing.T) {
	client := &fakeClient{rail: models.RailInvoice}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailInvoice: 10_000}}
	e, _ := newTestExecutor(t, client, balances)

	lower := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1mixedcase"}
	if _, err := e.ConfirmAndSend(context.Background(), lower, 1000, testQuote(lower.Destination, 1000), ""); err != nil {
		t.Fatalf("first send: %v", err)
	}

	upper := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "LNBC1MIXEDCASE"}
	_, err := e.ConfirmAndSend(context.Background(), upper, 1000, testQuote(upper.Destination, 1000), "")
	if !errors.Is(err, config.ErrDuplicatePayment) {
		t.Fatalf("err = %v, want ErrDuplicatePayment", err)
	}
}

func TestConfirmAndSendRechecksBalance(t *testing.T) {
	client := &fakeClient{rail: models.RailInvoice}
	// Quote was computed when the balance was ample; it has since dropped
	// below amount plus fees.
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailInvoice: 1005}}
	e, _ := newTestExecutor(t, client, balances)

	target := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1poorinvoice"}
	_, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), "")
	if !errors.Is(err, config.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if client.sendCalls.Load() != 0 {
		t.Error("rail Send was invoked despite insufficient balance")
	}
}

func TestConfirmAndSendRailRejection(t *testing.T) {
	client := &fakeClient{rail: models.RailInvoice, sendErr: errors.New("route not found")}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailInvoice: 10_000}}
	e, store := newTestExecutor(t, client, balances)

	target := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1rejected"}
	_, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), "")
	if !errors.Is(err, config.ErrRailRejected) {
		t.Fatalf("err = %v, want ErrRailRejected", err)
	}
	if got := e.State(); got != StateFailed {
		t.Errorf("state = %s, want failed", got)
	}

	// Nothing was accepted, so nothing may be persisted.
	entries, err := store.ListByRail(models.RailInvoice)
	if err != nil {
		t.Fatalf("ListByRail: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("persisted %d entries for a rejected send", len(entries))
	}
}

func TestConfirmAndSendSerializesPerWallet(t *testing.T) {
	client := &fakeClient{rail: models.RailInvoice}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailInvoice: 10_000}}
	e, _ := newTestExecutor(t, client, balances)

	e.mu.Lock()
	defer e.mu.Unlock()

	target := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1busy"}
	_, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), "")
	if !errors.Is(err, config.ErrSettlementInProgress) {
		t.Fatalf("err = %v, want ErrSettlementInProgress", err)
	}
}

func TestSwapSendAwaitsExternalFinality(t *testing.T) {
	client := &fakeClient{
		rail:       models.RailAsset,
		sendStatus: models.StatusPending,
		pollStatus: models.StatusCompleted,
		pollAfter:  3,
	}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailAsset: 10_000}}
	e, store := newTestExecutor(t, client, balances)

	q := &models.QuoteResult{
		Rail:           models.RailAsset,
		Destination:    "asset:0x1111111111111111111111111111111111111111:alice",
		AmountSats:     2000,
		NetworkFeeSats: 50,
		SwapPlan: &models.SwapPlan{
			PoolID:   "base/0x1111111111111111111111111111111111111111",
			AssetOut: "0x1111111111111111111111111111111111111111",
			AmountIn: 2100,
		},
	}
	target := &models.PaymentTarget{
		Network:     models.NetworkAssetTransfer,
		Destination: q.Destination,
		AssetID:     q.SwapPlan.AssetOut,
	}

	entry, err := e.ConfirmAndSend(context.Background(), target, 2000, q, "")
	if err != nil {
		t.Fatalf("ConfirmAndSend: %v", err)
	}
	if entry.Status != models.StatusPending {
		t.Fatalf("status = %s, want pending on acceptance", entry.Status)
	}

	e.Wait()

	resolved, err := store.GetEntry(models.RailAsset, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if resolved.Status != models.StatusCompleted {
		t.Errorf("status after finality = %s, want completed", resolved.Status)
	}
	if got := e.State(); got != StateSettled {
		t.Errorf("state = %s, want settled", got)
	}
}

func TestSwapSendFinalityTimeout(t *testing.T) {
	// PollStatus keeps reporting pending forever; the bounded poller must
	// give up and fail the entry rather than leave it pending.
	client := &fakeClient{rail: models.RailAsset, sendStatus: models.StatusPending}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailAsset: 10_000}}
	e, store := newTestExecutor(t, client, balances)

	q := &models.QuoteResult{
		Rail:           models.RailAsset,
		Destination:    "asset:0x2222222222222222222222222222222222222222:bob",
		AmountSats:     2000,
		NetworkFeeSats: 50,
		SwapPlan:       &models.SwapPlan{PoolID: "base/x", AmountIn: 2100},
	}
	target := &models.PaymentTarget{Network: models.NetworkAssetTransfer, Destination: q.Destination}

	entry, err := e.ConfirmAndSend(context.Background(), target, 2000, q, "")
	if err != nil {
		t.Fatalf("ConfirmAndSend: %v", err)
	}

	e.Wait()

	if got := client.pollCalls.Load(); got != int64(config.FinalityPollMaxAttempts) {
		t.Errorf("pollCalls = %d, want %d", got, config.FinalityPollMaxAttempts)
	}
	resolved, err := store.GetEntry(models.RailAsset, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if resolved.Status != models.StatusFailed {
		t.Errorf("status after timeout = %s, want failed", resolved.Status)
	}
}

func TestSupportFeeSidePaymentIsRecorded(t *testing.T) {
	invoiceClient := &fakeClient{rail: models.RailInvoice}
	ledgerClient := &fakeClient{rail: models.RailLedger}
	balances := &fakeBalances{balances: map[models.Rail]int64{
		models.RailInvoice: 10_000,
		models.RailLedger:  10_000,
	}}
	store := newTestStore(t)
	e := New(
		map[models.Rail]rails.Client{
			models.RailInvoice: invoiceClient,
			models.RailLedger:  ledgerClient,
		},
		balances,
		store,
		"wallet-1",
		"rail:ledger:operator",
		nil,
	)
	e.sleep = func(time.Duration) {}

	target := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1withfee"}
	if _, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), ""); err != nil {
		t.Fatalf("ConfirmAndSend: %v", err)
	}
	e.Wait()

	if ledgerClient.sendCalls.Load() != 1 {
		t.Fatalf("support fee sends = %d, want 1", ledgerClient.sendCalls.Load())
	}
	entries, err := store.ListByRail(models.RailLedger)
	if err != nil {
		t.Fatalf("ListByRail: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger rail entries = %d, want 1", len(entries))
	}
	if !entries[0].Housekeeping {
		t.Error("support fee entry not flagged as housekeeping")
	}
	if entries[0].AmountSats != 4 {
		t.Errorf("support fee amount = %d, want 4", entries[0].AmountSats)
	}
}

func TestSupportFeeFailureDoesNotAffectSettlement(t *testing.T) {
	invoiceClient := &fakeClient{rail: models.RailInvoice}
	ledgerClient := &fakeClient{rail: models.RailLedger, sendErr: errors.New("ledger offline")}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailInvoice: 10_000}}
	store := newTestStore(t)
	e := New(
		map[models.Rail]rails.Client{
			models.RailInvoice: invoiceClient,
			models.RailLedger:  ledgerClient,
		},
		balances,
		store,
		"wallet-1",
		"rail:ledger:operator",
		nil,
	)
	e.sleep = func(time.Duration) {}

	target := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1feefails"}
	entry, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), "")
	if err != nil {
		t.Fatalf("ConfirmAndSend: %v", err)
	}
	e.Wait()

	if entry.Status != models.StatusCompleted {
		t.Errorf("primary settlement status = %s, want completed", entry.Status)
	}
}

// A rail that accepts a plain send as pending gets the same in-process
// poller as a swap-mediated one; the entry must resolve without waiting
// for the next startup reconcile.
func TestPendingDirectSendIsPolledToCompletion(t *testing.T) {
	client := &fakeClient{
		rail:       models.RailInvoice,
		sendStatus: models.StatusPending,
		pollStatus: models.StatusCompleted,
		pollAfter:  2,
	}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailInvoice: 10_000}}
	e, store := newTestExecutor(t, client, balances)

	target := &models.PaymentTarget{Network: models.NetworkInvoice, Destination: "lnbc1slowrail"}
	entry, err := e.ConfirmAndSend(context.Background(), target, 1000, testQuote(target.Destination, 1000), "")
	if err != nil {
		t.Fatalf("ConfirmAndSend: %v", err)
	}
	if entry.Status != models.StatusPending {
		t.Fatalf("status = %s, want pending at acceptance", entry.Status)
	}

	e.Wait()

	if client.pollCalls.Load() == 0 {
		t.Fatal("no poll was armed for the pending direct send")
	}
	resolved, err := store.GetEntry(models.RailInvoice, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if resolved.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed after polling", resolved.Status)
	}
}

func TestReconcilePendingReArmsPolling(t *testing.T) {
	client := &fakeClient{rail: models.RailAsset, pollStatus: models.StatusCompleted}
	balances := &fakeBalances{balances: map[models.Rail]int64{models.RailAsset: 10_000}}
	e, store := newTestExecutor(t, client, balances)

	stale := models.LedgerEntry{
		ID:           "stale-tx-1",
		Rail:         models.RailAsset,
		Direction:    models.DirectionOutgoing,
		Status:       models.StatusPending,
		AmountSats:   500,
		TimestampMs:  time.Now().UnixMilli(),
		Counterparty: "asset:0x3333333333333333333333333333333333333333:carol",
	}
	if err := store.UpsertEntry(stale); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}

	if err := e.ReconcilePending(); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	e.Wait()

	resolved, err := store.GetEntry(models.RailAsset, "stale-tx-1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if resolved.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", resolved.Status)
	}
}
