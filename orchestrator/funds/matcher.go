package funds

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrExtraFunds is returned when more than one coin was deposited.
var ErrExtraFunds = errors.New("extra funds supplied")

// FindDenom picks the amount deposited in denom.
//
// An empty deposit or a single coin of another denom yields found == false
// with no error; the caller decides whether that is fatal. Two or more coins
// always fail with ErrExtraFunds, even when one of them matches.
func FindDenom(deposit Coins, denom string) (amount decimal.Decimal, found bool, err error) {
	switch len(deposit) {
	case 0:
		return decimal.Zero, false, nil
	case 1:
		if deposit[0].Denom == denom {
			return deposit[0].Amount, true, nil
		}
		return decimal.Zero, false, nil
	default:
		return decimal.Zero, false, ErrExtraFunds
	}
}
