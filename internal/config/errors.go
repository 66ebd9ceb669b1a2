package config

import "errors"

// Sentinel errors. Grouped by the boundary that surfaces them.
var (
	ErrInvalidConfig = errors.New("invalid configuration")

	// Classification
	ErrUnrecognizedFormat = errors.New("unrecognized payment format")
	ErrAlreadyExpired     = errors.New("invoice already expired")
	ErrSelfPayment        = errors.New("target is the wallet's own identity")

	// Quoting
	ErrUnableToObtainInvoice = errors.New("unable to obtain invoice from callback")
	ErrNoViablePaymentPath   = errors.New("no viable payment path")
	ErrNetworkUnavailable    = errors.New("settlement network unavailable")
	ErrNoFeasibleRail        = errors.New("no feasible rail for target")

	// Settlement
	ErrInsufficientBalance     = errors.New("insufficient balance for amount plus fees")
	ErrDuplicatePayment        = errors.New("destination already paid")
	ErrRailRejected            = errors.New("rail rejected send request")
	ErrExternalFinalityTimeout = errors.New("external finality polling timed out")
	ErrSettlementInProgress    = errors.New("another settlement is in progress for this wallet")

	// Price
	ErrRateFetchFailed = errors.New("fiat rate fetch failed")

	// Engine facade
	ErrRequestSuperseded = errors.New("request superseded by a newer one")
)

// Error codes, shared with the presentation layer via API responses.
const (
	ErrorInvalidRequest        = "ERROR_INVALID_REQUEST"
	ErrorInvalidConfig         = "ERROR_INVALID_CONFIG"
	ErrorDatabase              = "ERROR_DATABASE"
	ErrorUnrecognizedFormat    = "ERROR_UNRECOGNIZED_FORMAT"
	ErrorAlreadyExpired        = "ERROR_ALREADY_EXPIRED"
	ErrorSelfPayment           = "ERROR_SELF_PAYMENT"
	ErrorUnableToObtainInvoice = "ERROR_UNABLE_TO_OBTAIN_INVOICE"
	ErrorNoViablePaymentPath   = "ERROR_NO_VIABLE_PAYMENT_PATH"
	ErrorNetworkUnavailable    = "ERROR_NETWORK_UNAVAILABLE"
	ErrorNoFeasibleRail        = "ERROR_NO_FEASIBLE_RAIL"
	ErrorInsufficientBalance   = "ERROR_INSUFFICIENT_BALANCE"
	ErrorDuplicatePayment      = "ERROR_DUPLICATE_PAYMENT"
	ErrorRailRejected          = "ERROR_RAIL_REJECTED"
	ErrorFinalityTimeout       = "ERROR_EXTERNAL_FINALITY_TIMEOUT"
	ErrorSettlementBusy        = "ERROR_SETTLEMENT_BUSY"
	ErrorRateFetchFailed       = "ERROR_RATE_FETCH_FAILED"
	ErrorRequestSuperseded     = "ERROR_REQUEST_SUPERSEDED"
	ErrorInternal              = "ERROR_INTERNAL"
)
