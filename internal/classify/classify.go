// Package classify turns raw scanned or pasted payment strings into typed
// payment targets. Detectors run in a fixed priority order; classification
// never performs a network round trip.
package classify

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/models"
)

// URI schemes recognized by the priority detectors.
const (
	ledgerScheme  = "rail:"
	assetScheme   = "asset:"
	bitcoinScheme = "bitcoin:"
)

// ledgerKeyBytes is the length of a decoded internal-ledger node key
// (compressed secp256k1 public key).
const ledgerKeyBytes = 33

// Classifier decodes raw payment strings into typed targets.
type Classifier struct {
	netParams *chaincfg.Params
	own       map[string]struct{}
	now       func() time.Time
}

// New creates a classifier for the given network. ownIdentities are the
// wallet's receiving identities; a target resolving to one of them is
// rejected before any quote is attempted.
func New(netParams *chaincfg.Params, ownIdentities []string) *Classifier {
	own := make(map[string]struct{}, len(ownIdentities)*2)
	for _, id := range ownIdentities {
		own[id] = struct{}{}
		own[strings.ToLower(id)] = struct{}{}
	}
	return &Classifier{
		netParams: netParams,
		own:       own,
		now:       time.Now,
	}
}

// Classify decodes raw into a PaymentTarget. Detector priority: internal
// ledger URI, asset URI, generic payment URI, native ledger address, then
// the generic parser (lnurl, lightning address, invoice, on-chain address).
func (c *Classifier) Classify(raw string) (*models.PaymentTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty input", config.ErrUnrecognizedFormat)
	}

	slog.Debug("classifying payment string", "length", len(raw))

	target, err := c.detect(raw)
	if err != nil {
		return nil, err
	}

	if target.ExpiresAt != nil && !target.ExpiresAt.After(c.now()) {
		slog.Info("rejected expired target",
			"network", target.Network,
			"expiresAt", target.ExpiresAt,
		)
		return nil, fmt.Errorf("%w: expired at %s", config.ErrAlreadyExpired, target.ExpiresAt.Format(time.RFC3339))
	}

	if c.isOwnIdentity(target.Destination) {
		slog.Info("rejected self payment", "network", target.Network)
		return nil, config.ErrSelfPayment
	}

	slog.Info("target classified",
		"network", target.Network,
		"fixedAmount", target.FixedAmountSats != nil,
		"hasExpiry", target.ExpiresAt != nil,
	)

	return target, nil
}

func (c *Classifier) detect(raw string) (*models.PaymentTarget, error) {
	lower := strings.ToLower(raw)

	switch {
	case strings.HasPrefix(lower, ledgerScheme):
		return c.parseLedgerURI(raw[len(ledgerScheme):])
	case strings.HasPrefix(lower, assetScheme):
		return c.parseAssetURI(raw[len(assetScheme):])
	case strings.HasPrefix(lower, bitcoinScheme):
		return c.parsePaymentURI(raw[len(bitcoinScheme):])
	}

	if t, ok := c.tryLedgerAddress(raw); ok {
		return t, nil
	}

	return c.parseGeneric(raw)
}

// parseLedgerURI handles rail:<nodekey>?amount=<sats>&label=... targets on
// the internal-ledger network.
func (c *Classifier) parseLedgerURI(rest string) (*models.PaymentTarget, error) {
	dest, query, err := splitURIQuery(rest)
	if err != nil {
		return nil, err
	}

	target, ok := c.tryLedgerAddress(dest)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ledger node key", config.ErrUnrecognizedFormat)
	}

	if v := query.Get("amount"); v != "" {
		sats, err := decimal.NewFromString(v)
		if err != nil || !sats.IsInteger() || sats.Sign() <= 0 {
			return nil, fmt.Errorf("%w: invalid ledger amount %q", config.ErrUnrecognizedFormat, v)
		}
		fixed := sats.IntPart()
		target.FixedAmountSats = &fixed
	}
	target.Label = query.Get("label")

	return target, nil
}

// parseAssetURI handles asset:<nodekey>?id=<0xcontract>&amount=<sats>
// targets on the token network. The asset id is the token's contract
// address on the asset network.
func (c *Classifier) parseAssetURI(rest string) (*models.PaymentTarget, error) {
	dest, query, err := splitURIQuery(rest)
	if err != nil {
		return nil, err
	}

	if _, err := base58.Decode(dest); err != nil {
		return nil, fmt.Errorf("%w: invalid asset recipient", config.ErrUnrecognizedFormat)
	}

	assetID := query.Get("id")
	if assetID == "" || !common.IsHexAddress(assetID) {
		return nil, fmt.Errorf("%w: asset id must be a contract address", config.ErrUnrecognizedFormat)
	}

	target := &models.PaymentTarget{
		Network:     models.NetworkAssetTransfer,
		Destination: dest,
		AssetID:     common.HexToAddress(assetID).Hex(),
		Label:       query.Get("label"),
	}

	if v := query.Get("amount"); v != "" {
		sats, err := decimal.NewFromString(v)
		if err != nil || !sats.IsInteger() || sats.Sign() <= 0 {
			return nil, fmt.Errorf("%w: invalid asset amount %q", config.ErrUnrecognizedFormat, v)
		}
		fixed := sats.IntPart()
		target.FixedAmountSats = &fixed
	}

	return target, nil
}

// parsePaymentURI handles BIP21-style bitcoin:<addr>?... URIs. A lightning
// parameter, when present, takes priority over the on-chain address: its
// embedded sub-invoice (or nested lnurl payload) becomes the target.
func (c *Classifier) parsePaymentURI(rest string) (*models.PaymentTarget, error) {
	dest, query, err := splitURIQuery(rest)
	if err != nil {
		return nil, err
	}

	if lightning := query.Get("lightning"); lightning != "" {
		if strings.HasPrefix(strings.ToLower(lightning), "lnurl1") {
			callback, err := decodeLnurl(lightning)
			if err != nil {
				return nil, fmt.Errorf("%w: nested lnurl: %v", config.ErrUnrecognizedFormat, err)
			}
			return &models.PaymentTarget{
				Network:     lnurlNetwork(callback),
				Destination: callback,
				Label:       query.Get("label"),
			}, nil
		}
		return c.parseInvoice(lightning, query.Get("label"))
	}

	target, err := c.parseOnchainAddress(dest)
	if err != nil {
		return nil, err
	}
	target.Label = query.Get("label")

	if v := query.Get("amount"); v != "" {
		// BIP21 amounts are denominated in whole coins.
		coins, err := decimal.NewFromString(v)
		if err != nil || coins.Sign() <= 0 {
			return nil, fmt.Errorf("%w: invalid uri amount %q", config.ErrUnrecognizedFormat, v)
		}
		sats := coins.Mul(satsPerCoin)
		if !sats.IsInteger() {
			return nil, fmt.Errorf("%w: uri amount %q below sat precision", config.ErrUnrecognizedFormat, v)
		}
		fixed := sats.IntPart()
		target.FixedAmountSats = &fixed
	}

	return target, nil
}

// parseGeneric classifies bare strings: lnurl payloads, lightning addresses,
// bolt11 invoices, then on-chain addresses.
func (c *Classifier) parseGeneric(raw string) (*models.PaymentTarget, error) {
	lower := strings.ToLower(raw)

	if strings.HasPrefix(lower, "lnurl1") {
		callback, err := decodeLnurl(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrUnrecognizedFormat, err)
		}
		return &models.PaymentTarget{
			Network:     lnurlNetwork(callback),
			Destination: callback,
		}, nil
	}

	if callback, ok := lightningAddressCallback(raw); ok {
		return &models.PaymentTarget{
			Network:     models.NetworkLnurlPay,
			Destination: callback,
			Label:       raw,
		}, nil
	}

	if strings.HasPrefix(lower, "ln") {
		return c.parseInvoice(raw, "")
	}

	if target, err := c.parseOnchainAddress(raw); err == nil {
		return target, nil
	}

	return nil, fmt.Errorf("%w: no detector matched", config.ErrUnrecognizedFormat)
}

// parseInvoice decodes a bolt11 payment request into an invoice target.
func (c *Classifier) parseInvoice(raw, label string) (*models.PaymentTarget, error) {
	details, err := parseBolt11(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrUnrecognizedFormat, err)
	}

	expires := details.expiresAt()
	target := &models.PaymentTarget{
		Network:         models.NetworkInvoice,
		Destination:     strings.ToLower(raw),
		FixedAmountSats: details.AmountSats,
		Memo:            details.Description,
		Label:           label,
		ExpiresAt:       &expires,
	}
	return target, nil
}

// parseOnchainAddress validates a base-chain address for the configured network.
func (c *Classifier) parseOnchainAddress(raw string) (*models.PaymentTarget, error) {
	decoded, err := btcutil.DecodeAddress(raw, c.netParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrUnrecognizedFormat, err)
	}
	if !decoded.IsForNet(c.netParams) {
		return nil, fmt.Errorf("%w: address is not for %s", config.ErrUnrecognizedFormat, c.netParams.Name)
	}
	return &models.PaymentTarget{
		Network:     models.NetworkOnchain,
		Destination: decoded.EncodeAddress(),
	}, nil
}

// tryLedgerAddress recognizes a native internal-ledger node key: base58,
// 33 bytes decoded.
func (c *Classifier) tryLedgerAddress(raw string) (*models.PaymentTarget, bool) {
	decoded, err := base58.Decode(raw)
	if err != nil || len(decoded) != ledgerKeyBytes {
		return nil, false
	}
	return &models.PaymentTarget{
		Network:     models.NetworkLedgerTransfer,
		Destination: raw,
	}, true
}

func (c *Classifier) isOwnIdentity(destination string) bool {
	if _, ok := c.own[destination]; ok {
		return true
	}
	_, ok := c.own[strings.ToLower(destination)]
	return ok
}

// splitURIQuery separates a URI remainder into destination and query values.
func splitURIQuery(rest string) (string, url.Values, error) {
	dest := rest
	query := url.Values{}
	if i := strings.Index(rest, "?"); i >= 0 {
		dest = rest[:i]
		q, err := url.ParseQuery(rest[i+1:])
		if err != nil {
			return "", nil, fmt.Errorf("%w: malformed uri query", config.ErrUnrecognizedFormat)
		}
		query = q
	}
	if dest == "" {
		return "", nil, fmt.Errorf("%w: missing destination", config.ErrUnrecognizedFormat)
	}
	return dest, query, nil
}
