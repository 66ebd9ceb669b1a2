package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/shopspring/decimal"
)

// defaultInvoiceExpiry applies when an invoice carries no expiry tag.
const defaultInvoiceExpiry = time.Hour

// invoiceDetails is the subset of a bolt11 payment request this engine needs:
// the embedded amount, the expiry window, and the human description.
// Signature verification is left to the rail client at send time.
type invoiceDetails struct {
	AmountSats  *int64
	Timestamp   time.Time
	Expiry      time.Duration
	Description string
}

// tagged field types, per the payment-request encoding.
const (
	tagPaymentHash = 1
	tagExpiry      = 6
	tagDescription = 13
)

// signature occupies the trailing 104 five-bit groups (512-bit sig + recovery id).
const signatureGroups = 104

// timestamp occupies the leading 7 five-bit groups (35 bits).
const timestampGroups = 7

// parseBolt11 decodes a bech32 payment request far enough to extract amount,
// timestamp, expiry and description. Invoices routinely exceed the 90-char
// bech32 limit, so the no-limit decoder is used.
func parseBolt11(raw string) (*invoiceDetails, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(raw))
	if err != nil {
		return nil, fmt.Errorf("bech32 decode: %w", err)
	}

	if !strings.HasPrefix(hrp, "ln") {
		return nil, fmt.Errorf("not a payment request hrp: %q", hrp)
	}

	amount, err := parseHRPAmount(hrp[2:])
	if err != nil {
		return nil, err
	}

	if len(data) < timestampGroups+signatureGroups {
		return nil, fmt.Errorf("payment request data too short: %d groups", len(data))
	}

	var ts int64
	for _, g := range data[:timestampGroups] {
		ts = ts<<5 | int64(g)
	}

	details := &invoiceDetails{
		AmountSats: amount,
		Timestamp:  time.Unix(ts, 0),
		Expiry:     defaultInvoiceExpiry,
	}

	// Walk tagged fields between the timestamp and the signature.
	fields := data[timestampGroups : len(data)-signatureGroups]
	for len(fields) >= 3 {
		tag := fields[0]
		size := int(fields[1])<<5 | int(fields[2])
		fields = fields[3:]
		if size > len(fields) {
			return nil, fmt.Errorf("truncated tagged field %d", tag)
		}
		payload := fields[:size]
		fields = fields[size:]

		switch tag {
		case tagExpiry:
			var secs int64
			for _, g := range payload {
				secs = secs<<5 | int64(g)
			}
			details.Expiry = time.Duration(secs) * time.Second
		case tagDescription:
			converted, err := bech32.ConvertBits(payload, 5, 8, false)
			if err != nil {
				return nil, fmt.Errorf("convert description bits: %w", err)
			}
			details.Description = string(converted)
		}
	}

	return details, nil
}

// expiresAt is the instant the invoice becomes unpayable.
func (d *invoiceDetails) expiresAt() time.Time {
	return d.Timestamp.Add(d.Expiry)
}

// hrpMultipliers maps the amount multiplier letter to its fraction of one coin.
var hrpMultipliers = map[byte]decimal.Decimal{
	'm': decimal.New(1, -3),
	'u': decimal.New(1, -6),
	'n': decimal.New(1, -9),
	'p': decimal.New(1, -12),
}

var satsPerCoin = decimal.New(1, 8)

// parseHRPAmount extracts the optional embedded amount from the hrp remainder
// after the "ln" prefix: currency letters, then digits, then an optional
// multiplier letter. Returns nil when no amount is embedded.
func parseHRPAmount(rest string) (*int64, error) {
	i := 0
	for i < len(rest) && (rest[i] < '0' || rest[i] > '9') {
		i++
	}
	if i == 0 {
		return nil, fmt.Errorf("missing currency prefix in hrp")
	}
	numPart := rest[i:]
	if numPart == "" {
		return nil, nil // amountless invoice
	}

	multiplier := decimal.New(1, 0)
	last := numPart[len(numPart)-1]
	if m, ok := hrpMultipliers[last]; ok {
		multiplier = m
		numPart = numPart[:len(numPart)-1]
	}
	if numPart == "" {
		return nil, fmt.Errorf("amount missing digits")
	}

	coins, err := decimal.NewFromString(numPart)
	if err != nil {
		return nil, fmt.Errorf("parse hrp amount %q: %w", numPart, err)
	}

	sats := coins.Mul(multiplier).Mul(satsPerCoin)
	if !sats.IsInteger() || sats.Sign() <= 0 {
		return nil, fmt.Errorf("amount %s does not resolve to whole sats", numPart)
	}

	v := sats.IntPart()
	return &v, nil
}
