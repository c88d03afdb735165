package entities

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the exponent between the native display unit and its smallest unit (ether and wei).
const DefaultDecimals int32 = 18

// MaxBaseUnitBits is the width of the ledger's amount field (uint256).
const MaxBaseUnitBits = 256

// ToBaseUnits converts a human entered decimal amount into the ledger's integer unit.
// Amounts that can not be represented exactly are rejected instead of rounded.
func ToBaseUnits(amount string, decimals int32) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if strings.ContainsAny(trimmed, "eE") {
		return nil, NewError(KindInvalidInput, fmt.Sprintf("invalid amount [%s], exponent notation is not supported", amount), nil)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, NewError(KindInvalidInput, fmt.Sprintf("invalid amount [%s]", amount), err)
	}
	if !d.IsPositive() {
		return nil, NewError(KindInvalidInput, fmt.Sprintf("amount must be positive, got [%s]", amount), nil)
	}

	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, NewError(KindInvalidInput, fmt.Sprintf("amount [%s] has more than %d decimal places", amount, decimals), nil)
	}
	units := scaled.BigInt()
	if !FitsBaseUnits(units) {
		return nil, NewError(KindInvalidInput, fmt.Sprintf("amount [%s] exceeds the ledger maximum", amount), nil)
	}
	return units, nil
}

// FitsBaseUnits reports whether units is a non negative value the ledger can store without truncation.
func FitsBaseUnits(units *big.Int) bool {
	return units != nil && units.Sign() >= 0 && units.BitLen() <= MaxBaseUnitBits
}

// FromBaseUnits converts an integer ledger amount back into the display unit.
func FromBaseUnits(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}
