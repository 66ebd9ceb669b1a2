package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Fantasim/railpay/internal/feed"
	"github.com/Fantasim/railpay/internal/models"
)

// Each SSE subscriber gets pages built at its own requested limit, not a
// shared default-sized page.
func TestFeedSSEPagesPerSubscriberLimit(t *testing.T) {
	deps, hub := newTestDeps(t)
	quoteHandler := Quote(deps)
	sendHandler := Send(deps)

	// Two settled payments so a limit of 1 forces truncation.
	for _, tag := range []byte{10, 11} {
		target := &models.PaymentTarget{
			Network:     models.NetworkLedgerTransfer,
			Destination: ledgerKey(tag),
		}
		quoteRec := postJSON(t, quoteHandler, "/api/quote", quoteRequest{Target: target, AmountSats: 300})
		var quoteResp struct {
			Data models.QuoteResult `json:"data"`
		}
		if err := json.Unmarshal(quoteRec.Body.Bytes(), &quoteResp); err != nil {
			t.Fatalf("unmarshal quote: %v", err)
		}
		sendRec := postJSON(t, sendHandler, "/api/send", sendRequest{Target: target, AmountSats: 300, Quote: &quoteResp.Data})
		if sendRec.Code != http.StatusOK {
			t.Fatalf("send status = %d, body = %s", sendRec.Code, sendRec.Body.String())
		}
	}

	srv := httptest.NewServer(FeedSSE(deps, hub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?limit=1")
	if err != nil {
		t.Fatalf("GET sse: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("SSE client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast(feed.Event{Type: "feed_updated"})

	scanner := bufio.NewScanner(resp.Body)
	var payload string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			payload = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if payload == "" {
		t.Fatalf("no data line received: %v", scanner.Err())
	}

	var page models.FeedPage
	if err := json.Unmarshal([]byte(payload), &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("entries = %d, want the subscriber's limit of 1", len(page.Entries))
	}
	if !page.Truncated || page.Total != 2 {
		t.Errorf("truncated = %v total = %d, want truncated page of 2", page.Truncated, page.Total)
	}
}
