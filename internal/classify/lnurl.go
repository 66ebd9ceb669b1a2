package classify

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/Fantasim/railpay/internal/models"
)

// decodeLnurl decodes a bech32-encoded lnurl payload into its callback URL.
func decodeLnurl(raw string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(raw))
	if err != nil {
		return "", fmt.Errorf("lnurl bech32 decode: %w", err)
	}
	if hrp != "lnurl" {
		return "", fmt.Errorf("unexpected lnurl hrp %q", hrp)
	}

	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("convert lnurl bits: %w", err)
	}

	return string(converted), nil
}

// lnurlNetwork classifies a decoded lnurl callback URL without a network
// round trip: services embed the subprotocol in the tag query parameter.
// An untagged lnurl defaults to pay, the overwhelmingly common case.
func lnurlNetwork(callback string) models.Network {
	u, err := url.Parse(callback)
	if err != nil {
		return models.NetworkLnurlPay
	}

	switch u.Query().Get("tag") {
	case "login":
		return models.NetworkLnurlAuth
	case "withdrawRequest":
		return models.NetworkLnurlWithdraw
	case "payRequest":
		return models.NetworkLnurlPay
	}

	// Withdraw links are also recognizable from their conventional path.
	if strings.Contains(u.Path, "withdraw") {
		return models.NetworkLnurlWithdraw
	}

	return models.NetworkLnurlPay
}

// lightningAddressCallback converts a user@host lightning address into its
// well-known LNURL-pay callback URL.
func lightningAddressCallback(addr string) (string, bool) {
	at := strings.Index(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", false
	}
	user, host := addr[:at], addr[at+1:]
	if strings.ContainsAny(user, " /?") || !strings.Contains(host, ".") || strings.ContainsAny(host, " /?") {
		return "", false
	}
	return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", host, user), true
}
