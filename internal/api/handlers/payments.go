// Package handlers implements the HTTP surface of the payment engine.
// Every handler returns either {"data": ...} or {"error": {code, message}};
// sentinel errors from the core map to stable ERROR_* codes.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/engine"
	"github.com/Fantasim/railpay/internal/models"
)

// Deps holds the dependencies shared by all payment handlers.
type Deps struct {
	Engine *engine.Engine
	Config *config.Config
}

type decodeRequest struct {
	Input string `json:"input"`
}

// Decode handles POST /api/decode: raw payment string in, normalized
// target out.
func Decode(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid request body")
			return
		}
		if req.Input == "" {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "input is required")
			return
		}

		target, err := deps.Engine.Decode(req.Input)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		slog.Info("target decoded",
			"network", target.Network,
			"fixedAmount", target.FixedAmountSats != nil,
		)
		writeJSON(w, http.StatusOK, models.APIResponse{Data: target})
	}
}

type quoteRequest struct {
	Target     *models.PaymentTarget `json:"target"`
	AmountSats int64                 `json:"amountSats"`
}

// Quote handles POST /api/quote.
func Quote(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req quoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid request body")
			return
		}
		if req.Target == nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "target is required")
			return
		}

		q, err := deps.Engine.Quote(r.Context(), req.Target, req.AmountSats)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, models.APIResponse{Data: q})
	}
}

type sendRequest struct {
	Target     *models.PaymentTarget `json:"target"`
	AmountSats int64                 `json:"amountSats"`
	Quote      *models.QuoteResult   `json:"quote"`
	Memo       string                `json:"memo"`
}

// Send handles POST /api/send: executes a previously quoted payment.
func Send(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid request body")
			return
		}
		if req.Target == nil || req.Quote == nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "target and quote are required")
			return
		}

		entry, err := deps.Engine.Send(r.Context(), req.Target, req.AmountSats, req.Quote, req.Memo)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, models.APIResponse{Data: entry})
	}
}

// writeEngineError translates a core sentinel error into an HTTP response.
func writeEngineError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", code, "error", err)
	} else {
		slog.Warn("request rejected", "code", code, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, config.ErrUnrecognizedFormat):
		return http.StatusBadRequest, config.ErrorUnrecognizedFormat
	case errors.Is(err, config.ErrAlreadyExpired):
		return http.StatusBadRequest, config.ErrorAlreadyExpired
	case errors.Is(err, config.ErrSelfPayment):
		return http.StatusBadRequest, config.ErrorSelfPayment
	case errors.Is(err, config.ErrNoViablePaymentPath):
		return http.StatusUnprocessableEntity, config.ErrorNoViablePaymentPath
	case errors.Is(err, config.ErrNoFeasibleRail):
		return http.StatusUnprocessableEntity, config.ErrorNoFeasibleRail
	case errors.Is(err, config.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, config.ErrorInsufficientBalance
	case errors.Is(err, config.ErrDuplicatePayment):
		return http.StatusConflict, config.ErrorDuplicatePayment
	case errors.Is(err, config.ErrSettlementInProgress):
		return http.StatusConflict, config.ErrorSettlementBusy
	case errors.Is(err, config.ErrRequestSuperseded):
		return http.StatusConflict, config.ErrorRequestSuperseded
	case errors.Is(err, config.ErrUnableToObtainInvoice):
		return http.StatusBadGateway, config.ErrorUnableToObtainInvoice
	case errors.Is(err, config.ErrNetworkUnavailable):
		return http.StatusBadGateway, config.ErrorNetworkUnavailable
	case errors.Is(err, config.ErrRailRejected):
		return http.StatusBadGateway, config.ErrorRailRejected
	case errors.Is(err, config.ErrRateFetchFailed):
		return http.StatusBadGateway, config.ErrorRateFetchFailed
	case errors.Is(err, config.ErrExternalFinalityTimeout):
		return http.StatusGatewayTimeout, config.ErrorFinalityTimeout
	default:
		return http.StatusInternalServerError, config.ErrorInternal
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.APIError{
		Error: models.APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
