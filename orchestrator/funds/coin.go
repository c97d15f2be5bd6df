// Package funds holds the coin arithmetic shared by the orchestrator, its
// collaborator clients and the local host.
//
// Amounts are integer token units carried as decimal.Decimal so they can be
// summed and compared without overflow and round-trip through JSON as strings.
package funds

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDenom  = errors.New("invalid denom")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInsufficient  = errors.New("insufficient funds")
)

// Same shape the cosmos bank module accepts, including ibc/ and factory/ denoms.
var denomRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9/:._-]{2,127}$`)

var coinRegex = regexp.MustCompile(`^([0-9]+)([a-zA-Z][a-zA-Z0-9/:._-]{2,127})$`)

// Coin is a single (denom, amount) pair.
type Coin struct {
	Denom  string          `json:"denom"`
	Amount decimal.Decimal `json:"amount"`
}

// NewCoin builds a coin from an integer amount.
func NewCoin(amount int64, denom string) Coin {
	return Coin{Denom: denom, Amount: decimal.NewFromInt(amount)}
}

// NewCoinFromDecimal builds a coin from an existing decimal amount.
func NewCoinFromDecimal(amount decimal.Decimal, denom string) Coin {
	return Coin{Denom: denom, Amount: amount}
}

// ParseCoin parses the "<amount><denom>" notation, e.g. "300ibc/ABC".
func ParseCoin(s string) (Coin, error) {
	m := coinRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Coin{}, fmt.Errorf("%w: cannot parse coin %q", ErrInvalidAmount, s)
	}
	amount, err := decimal.NewFromString(m[1])
	if err != nil {
		return Coin{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return Coin{Denom: m[2], Amount: amount}, nil
}

// ValidateDenom checks the denom against the bank module rules.
func ValidateDenom(denom string) error {
	if !denomRegex.MatchString(denom) {
		return fmt.Errorf("%w: %q", ErrInvalidDenom, denom)
	}
	return nil
}

// Validate rejects malformed denoms and negative or fractional amounts.
func (c Coin) Validate() error {
	if err := ValidateDenom(c.Denom); err != nil {
		return err
	}
	return ValidateAmount(c.Amount)
}

// ValidateAmount rejects negative or fractional token amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Truncate(0)) {
		return fmt.Errorf("%w: fractional amount %s", ErrInvalidAmount, amount)
	}
	return nil
}

func (c Coin) IsZero() bool {
	return c.Amount.IsZero()
}

func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}

// Coins is a list of coins. Normalized coins are sorted by denom, hold at
// most one entry per denom and no zero entries.
type Coins []Coin

// NewCoins normalizes the given coins.
func NewCoins(coins ...Coin) Coins {
	return Coins(coins).Normalize()
}

// Normalize merges duplicate denoms, drops zero amounts and sorts by denom.
func (cs Coins) Normalize() Coins {
	byDenom := make(map[string]decimal.Decimal, len(cs))
	for _, c := range cs {
		byDenom[c.Denom] = byDenom[c.Denom].Add(c.Amount)
	}
	out := make(Coins, 0, len(byDenom))
	for denom, amount := range byDenom {
		if amount.IsZero() {
			continue
		}
		out = append(out, Coin{Denom: denom, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out
}

// Add returns the normalized sum of both coin lists.
func (cs Coins) Add(other ...Coin) Coins {
	merged := make(Coins, 0, len(cs)+len(other))
	merged = append(merged, cs...)
	merged = append(merged, other...)
	return merged.Normalize()
}

// Sub returns cs minus other, failing with ErrInsufficient when any denom
// would go negative.
func (cs Coins) Sub(other ...Coin) (Coins, error) {
	out := cs.Normalize()
	for _, o := range Coins(other).Normalize() {
		have := out.AmountOf(o.Denom)
		if have.LessThan(o.Amount) {
			return nil, fmt.Errorf("%w: have %s%s, need %s", ErrInsufficient, have, o.Denom, o)
		}
		out = out.Add(Coin{Denom: o.Denom, Amount: o.Amount.Neg()})
	}
	return out, nil
}

// AmountOf returns the amount held in denom, zero when absent.
func (cs Coins) AmountOf(denom string) decimal.Decimal {
	total := decimal.Zero
	for _, c := range cs {
		if c.Denom == denom {
			total = total.Add(c.Amount)
		}
	}
	return total
}

// Filter keeps only the coins of the given denom.
func (cs Coins) Filter(denom string) Coins {
	out := make(Coins, 0, 1)
	for _, c := range cs {
		if c.Denom == denom {
			out = append(out, c)
		}
	}
	return out
}

func (cs Coins) IsZero() bool {
	for _, c := range cs {
		if !c.Amount.IsZero() {
			return false
		}
	}
	return true
}

// Validate checks every coin.
func (cs Coins) Validate() error {
	for _, c := range cs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (cs Coins) String() string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

// ParseCoins parses a comma separated coin list.
func ParseCoins(s string) (Coins, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Coins{}, nil
	}
	var out Coins
	for _, part := range strings.Split(s, ",") {
		c, err := ParseCoin(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
