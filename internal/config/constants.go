package config

import "time"

// Quoting
const (
	// InvoiceMintAttempts bounds LNURL-pay invoice retrieval. Spacing is
	// fixed rather than exponential: the callback either recovers within a
	// couple of seconds or not at all.
	InvoiceMintAttempts = 3
	InvoiceMintSpacing  = 2 * time.Second

	// QuoteCallTimeout bounds any single fee-estimate or swap-simulation
	// round trip. No retry; a slow quote is a failed quote.
	QuoteCallTimeout = 10 * time.Second

	// PriceImpactWarnThreshold is the simulated swap price impact above
	// which the quote carries a warning flag (never an error).
	PriceImpactWarnThreshold = 0.03
)

// Settlement
const (
	// FinalityPoll* bound the post-send status poller for swap-mediated
	// sends that settle asynchronously. The poller never runs open-ended.
	FinalityPollInterval    = 2 * time.Second
	FinalityPollMaxAttempts = 30

	SendCallTimeout = 30 * time.Second
)

// Rate limiting (requests per second)
const (
	RateLimitLnurlCallback = 5
	RateLimitRailClient    = 10
)

// Feed
const (
	FeedDefaultPageSize  = 20
	FeedMaxPageSize      = 200
	FeedHubChannelBuffer = 8
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ShutdownTimeout      = 30 * time.Second
	SSEKeepAliveInterval = 15 * time.Second
)

// Logging
const (
	LogFilePattern = "railpay-%s.log" // %s = YYYY-MM-DD
	LogMaxAgeDays  = 30
)

// Database
const (
	DBBusyTimeout = 5000 // milliseconds
)

// Price
const (
	RateBaseURL       = "https://api.coingecko.com/api/v3"
	RateCacheDuration = 5 * time.Minute
	RateCallTimeout   = 10 * time.Second
)

// Rail limits used when the balance provider reports none.
const (
	DefaultMinSendSats = 1
	DefaultMaxSendSats = 100_000_000
)
