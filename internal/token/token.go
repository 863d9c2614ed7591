// Package token provides currency identifiers and amount arithmetic for the
// escrow engine.
//
// A currency is identified by a 20-byte address. The zero address is the
// sentinel for the native currency. Amounts are big.Int values in the
// currency's smallest unit and travel as plain integer strings at API
// boundaries, so the engine never does floating-point money math.
package token

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency address")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// Native is the canonical address of the native currency.
var Native = common.Address{}.Hex()

// RateDenominator is the basis-point denominator for all fee rates.
const RateDenominator = 10_000

// Normalize validates a currency address and returns its canonical
// EIP-55 form. An empty string maps to the native sentinel.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Native, nil
	}
	if !common.IsHexAddress(s) {
		return "", ErrInvalidCurrency
	}
	return common.HexToAddress(s).Hex(), nil
}

// IsNative reports whether addr is the native-currency sentinel.
func IsNative(addr string) bool {
	return addr == "" || common.HexToAddress(addr) == (common.Address{})
}

// ParseAmount converts a smallest-unit integer string to a big.Int.
// Negative values, fractions, and garbage are rejected. An empty string
// parses as zero.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(s, "-") || strings.Contains(s, ".") {
		return nil, ErrInvalidAmount
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// FormatAmount renders a smallest-unit amount back to its string form.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// FeeShare computes amount * rateBps / 10000, truncating toward zero.
// The result is a fresh big.Int; amount is not mutated.
func FeeShare(amount *big.Int, rateBps int64) *big.Int {
	if amount == nil || amount.Sign() == 0 || rateBps <= 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, big.NewInt(rateBps))
	return share.Div(share, big.NewInt(RateDenominator))
}

// ValidRate reports whether a basis-point rate is within [0, 10000].
func ValidRate(rateBps int64) bool {
	return rateBps >= 0 && rateBps <= RateDenominator
}
