package ledger

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of the staked token.
const Decimals = 18

// ParseTokens converts a decimal token amount such as "12.5" into its
// smallest-unit integer. More than Decimals fractional digits is an error.
func ParseTokens(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimal places", s, Decimals)
	}
	return scaled.BigInt(), nil
}

// FormatTokens renders a smallest-unit amount as whole tokens rounded down
// to places decimals.
func FormatTokens(amount *big.Int, places int32) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return decimal.NewFromBigInt(amount, -Decimals).Truncate(places).StringFixed(places)
}
