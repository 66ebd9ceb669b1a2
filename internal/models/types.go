package models

import "time"

// Network classifies what a decoded payment target is.
type Network string

const (
	NetworkOnchain        Network = "onchain"
	NetworkInvoice        Network = "invoice"
	NetworkLnurlPay       Network = "lnurl_pay"
	NetworkLnurlWithdraw  Network = "lnurl_withdraw"
	NetworkLnurlAuth      Network = "lnurl_auth"
	NetworkLedgerTransfer Network = "ledger_transfer"
	NetworkAssetTransfer  Network = "asset_transfer"
)

// Rail is one settlement network a payment can travel over.
type Rail string

const (
	RailOnchain Rail = "onchain"
	RailInvoice Rail = "invoice"
	RailLedger  Rail = "ledger"
	RailAsset   Rail = "asset"
)

// AllRails is the fixed preference order applied when several rails are
// feasible for one target: internal ledger transfer cheapest, on-chain last.
var AllRails = []Rail{RailLedger, RailInvoice, RailAsset, RailOnchain}

// BaseAssetID denotes the base settlement asset (sats).
const BaseAssetID = ""

// PaymentTarget is the normalized result of classifying a raw scanned or
// typed payment string.
type PaymentTarget struct {
	Network     Network `json:"network"`
	Destination string  `json:"destination"`

	// FixedAmountSats is set when the source format embeds an amount
	// (invoice, BIP21-style URI). A fixed amount is never user-editable.
	FixedAmountSats *int64 `json:"fixedAmountSats,omitempty"`

	Label string `json:"label,omitempty"`
	Memo  string `json:"memo,omitempty"`

	// ExpiresAt is set for invoices carrying an expiry. An already-expired
	// target is rejected at decode time.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	// AssetID is set when the target denotes a non-base-asset transfer.
	// Empty means the base settlement asset.
	AssetID string `json:"assetId,omitempty"`
}

// CanEditAmount reports whether the user may choose the amount.
// False exactly when the source format fixed it.
func (t *PaymentTarget) CanEditAmount() bool {
	return t.FixedAmountSats == nil
}

// SwapPlan describes a simulated conversion between two asset types needed
// to satisfy a target denominated in an asset the wallet does not hold.
type SwapPlan struct {
	PoolID             string `json:"poolId"`
	AssetIn            string `json:"assetIn"`
	AssetOut           string `json:"assetOut"`
	AmountIn           int64  `json:"amountIn"`
	SimulatedFeeSats   int64  `json:"simulatedFee"`
	PriceImpactWarning bool   `json:"priceImpactWarning"`
}

// QuoteResult is the cost and path computed for paying a given
// (target, amount) pair over a specific rail. It is valid only for the exact
// (destination, amountSats, assetId) it was computed for.
type QuoteResult struct {
	Rail           Rail      `json:"rail"`
	Destination    string    `json:"destination"`
	AmountSats     int64     `json:"amountSats"`
	AssetID        string    `json:"assetId,omitempty"`
	NetworkFeeSats int64     `json:"networkFeeSats"`
	SupportFeeSats int64     `json:"supportFeeSats"`
	SwapPlan       *SwapPlan `json:"swapPlan,omitempty"`

	// Invoice carries the bolt11 payment request minted for LNURL-pay
	// targets so the executor pays exactly what was quoted.
	Invoice string `json:"invoice,omitempty"`
}

// TotalFeeSats is the full cost on top of (or inside) the amount.
func (q *QuoteResult) TotalFeeSats() int64 {
	return q.NetworkFeeSats + q.SupportFeeSats
}

// Direction of a ledger entry relative to the wallet.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// EntryStatus is the settlement lifecycle of a ledger entry.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// LedgerEntry is the normalized, persisted record of one settlement attempt,
// regardless of which rail executed it. Entries are never deleted; failed
// entries remain visible.
type LedgerEntry struct {
	ID           string      `json:"id"` // rail-native identifier
	Rail         Rail        `json:"rail"`
	Direction    Direction   `json:"direction"`
	Status       EntryStatus `json:"status"`
	AmountSats   int64       `json:"amountSats"`
	FeeSats      int64       `json:"feeSats"`
	Memo         string      `json:"memo,omitempty"`
	TimestampMs  int64       `json:"timestampMs"`
	Counterparty string      `json:"counterparty,omitempty"`

	// Housekeeping marks internal transfers (auto-rebalance, auto channel
	// open) that are filtered out of the default feed.
	Housekeeping bool `json:"housekeeping,omitempty"`
}

// MergedFeedEntry is a LedgerEntry annotated for the merged feed.
type MergedFeedEntry struct {
	LedgerEntry
	SourceRail Rail `json:"sourceRail"`

	// GroupLabel is set on the first entry of each date bucket
	// ("Today", "Yesterday", "3 days ago", ...).
	GroupLabel string `json:"groupLabel,omitempty"`
}

// FeedPage is one emitted page of the merged feed.
type FeedPage struct {
	Entries   []MergedFeedEntry `json:"entries"`
	Truncated bool              `json:"truncated"` // true when a "view all" sentinel applies
	Total     int               `json:"total"`
}

// RailLimits bounds the amount a rail will carry.
type RailLimits struct {
	MinSats int64 `json:"minSats"`
	MaxSats int64 `json:"maxSats"`
}

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Data interface{} `json:"data,omitempty"`
	Meta *APIMeta    `json:"meta,omitempty"`
}

// APIMeta contains pagination and execution metadata.
type APIMeta struct {
	Page          int   `json:"page,omitempty"`
	PageSize      int   `json:"pageSize,omitempty"`
	Total         int64 `json:"total,omitempty"`
	ExecutionTime int64 `json:"executionTime,omitempty"`
}

// APIError is the standard error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail contains error code and message.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
