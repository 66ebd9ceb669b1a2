package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mr-tron/base58"

	"github.com/Fantasim/railpay/internal/classify"
	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/feed"
	"github.com/Fantasim/railpay/internal/ledger"
	"github.com/Fantasim/railpay/internal/models"
	"github.com/Fantasim/railpay/internal/quote"
	"github.com/Fantasim/railpay/internal/rails"
	"github.com/Fantasim/railpay/internal/settle"
)

type slowClient struct {
	rail      models.Rail
	sendCalls atomic.Int64

	// release blocks EstimateFee until closed, simulating a slow rail.
	release chan struct{}
}

func (c *slowClient) Rail() models.Rail { return c.rail }

func (c *slowClient) EstimateFee(ctx context.Context, target *models.PaymentTarget, amountSats int64) (*rails.FeeEstimate, error) {
	if c.release != nil {
		<-c.release
	}
	return &rails.FeeEstimate{FeeSats: 5}, nil
}

func (c *slowClient) FeeDependsOnAmount() bool { return true }

func (c *slowClient) Send(ctx context.Context, target *models.PaymentTarget, amountSats, feeSats int64, memo string) (*rails.SendResult, error) {
	n := c.sendCalls.Add(1)
	return &rails.SendResult{
		NativeID:    fmt.Sprintf("tx-%d", n),
		Status:      models.StatusCompleted,
		TimestampMs: time.Now().UnixMilli(),
	}, nil
}

func (c *slowClient) PollStatus(ctx context.Context, nativeID string) (models.EntryStatus, error) {
	return models.StatusCompleted, nil
}

// ledgerKey builds a valid 33-byte internal-ledger node key.
func ledgerKey(tag byte) string {
	key := append([]byte{0x02, tag}, make([]byte, 31)...)
	return base58.Encode(key)
}

type stubBalances struct{}

func (stubBalances) GetBalance(models.Rail) int64   { return 1_000_000 }
func (stubBalances) GetAssetBalance(string) int64   { return 0 }
func (stubBalances) IsRailEnabled(models.Rail) bool { return true }
func (stubBalances) GetRailLimits(models.Rail) models.RailLimits {
	return models.RailLimits{MinSats: 1, MaxSats: 100_000_000}
}

func newTestEngine(t *testing.T, client rails.Client) *Engine {
	t.Helper()

	store, err := ledger.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	clients := map[models.Rail]rails.Client{client.Rail(): client}
	fees := quote.NewSupportFeeSchedule([]config.FeeBracket{{ThresholdSats: 0, PPM: 1000}})
	quoter := quote.New(clients, nil, stubBalances{}, nil, nil, fees)
	hub := feed.NewHub()
	feedEngine := feed.NewEngine(
		[]feed.Source{feed.NewStoreSource(client.Rail(), store.ListByRail)},
		hub,
	)
	executor := settle.New(clients, stubBalances{}, store, "wallet-1", "", feedEngine.Refresh)
	classifier := classify.New(&chaincfg.TestNet3Params, nil)

	return New(classifier, quoter, executor, feedEngine)
}

func TestQuoteSupersededByNewerRequest(t *testing.T) {
	client := &slowClient{rail: models.RailLedger, release: make(chan struct{})}
	e := newTestEngine(t, client)

	target := &models.PaymentTarget{
		Network:     models.NetworkLedgerTransfer,
		Destination: ledgerKey(1),
	}

	type result struct {
		q   *models.QuoteResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		q, err := e.Quote(context.Background(), target, 1000)
		done <- result{q, err}
	}()

	// A newer request arrives while the first quote waits on the rail.
	for e.token.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	e.token.Add(1)
	close(client.release)

	res := <-done
	if !errors.Is(res.err, config.ErrRequestSuperseded) {
		t.Fatalf("err = %v, want ErrRequestSuperseded", res.err)
	}
	if res.q != nil {
		t.Error("stale quote result was published")
	}
}

func TestDecodeQuoteSendRoundTrip(t *testing.T) {
	client := &slowClient{rail: models.RailLedger}
	e := newTestEngine(t, client)

	target, err := e.Decode("rail:" + ledgerKey(2))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if target.Network != models.NetworkLedgerTransfer {
		t.Fatalf("network = %s", target.Network)
	}

	q, err := e.Quote(context.Background(), target, 2000)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Rail != models.RailLedger {
		t.Errorf("rail = %s", q.Rail)
	}

	entry, err := e.Send(context.Background(), target, 2000, q, "coffee")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if entry.Status != models.StatusCompleted {
		t.Errorf("status = %s", entry.Status)
	}

	page, err := e.Feed(0, false)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].Memo != "coffee" {
		t.Fatalf("feed = %+v, want the sent entry", page.Entries)
	}
}

func TestSendInvalidatesQuoteCache(t *testing.T) {
	client := &slowClient{rail: models.RailLedger}
	e := newTestEngine(t, client)

	target := &models.PaymentTarget{
		Network:     models.NetworkLedgerTransfer,
		Destination: ledgerKey(3),
	}

	q, err := e.Quote(context.Background(), target, 500)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if _, err := e.Send(context.Background(), target, 500, q, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Same destination again: a fresh quote must not come from the cache,
	// and the duplicate gate must reject the send.
	q2, err := e.Quote(context.Background(), target, 500)
	if err != nil {
		t.Fatalf("second Quote: %v", err)
	}
	_, err = e.Send(context.Background(), target, 500, q2, "")
	if !errors.Is(err, config.ErrDuplicatePayment) {
		t.Fatalf("err = %v, want ErrDuplicatePayment", err)
	}
}
