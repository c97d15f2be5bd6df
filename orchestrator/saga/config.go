package saga

import (
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/address"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
)

// ShortfallPolicy decides what happens when the swap produced less of the
// fee denom than the quoted fee.
type ShortfallPolicy string

const (
	// ShortfallRefund refunds the canonical amount and whatever fee denom
	// the swap produced, then ends the saga.
	ShortfallRefund ShortfallPolicy = "refund"
	// ShortfallAbort fails the call, reverting the whole transaction.
	ShortfallAbort ShortfallPolicy = "abort"
)

// DefaultTransferTimeout is added to the block time to form the transfer's
// timeout timestamp.
const DefaultTransferTimeout = 20 * time.Minute

// Config is fixed at instantiation.
type Config struct {
	CustodyContract string          `json:"custody_contract"`
	SwapRouter      string          `json:"swap_router"`
	CanonicalDenom  string          `json:"canonical_denom"`
	BridgedDenom    string          `json:"bridged_denom"`
	Bech32Prefix    string          `json:"bech32_prefix"`
	TransferTimeout time.Duration   `json:"transfer_timeout"`
	ShortfallPolicy ShortfallPolicy `json:"shortfall_policy"`
}

// WithDefaults fills optional fields.
func (c Config) WithDefaults() Config {
	if c.TransferTimeout == 0 {
		c.TransferTimeout = DefaultTransferTimeout
	}
	if c.ShortfallPolicy == "" {
		c.ShortfallPolicy = ShortfallRefund
	}
	return c
}

func (c Config) Validate() error {
	if c.Bech32Prefix == "" {
		return fmt.Errorf("%w: bech32_prefix is required", ErrInvalidConfig)
	}
	if err := address.ValidateWithPrefix(c.CustodyContract, c.Bech32Prefix); err != nil {
		return fmt.Errorf("%w: custody_contract: %v", ErrInvalidConfig, err)
	}
	if err := address.ValidateWithPrefix(c.SwapRouter, c.Bech32Prefix); err != nil {
		return fmt.Errorf("%w: swap_router: %v", ErrInvalidConfig, err)
	}
	if err := funds.ValidateDenom(c.CanonicalDenom); err != nil {
		return fmt.Errorf("%w: canonical_denom: %v", ErrInvalidConfig, err)
	}
	if err := funds.ValidateDenom(c.BridgedDenom); err != nil {
		return fmt.Errorf("%w: bridged_denom: %v", ErrInvalidConfig, err)
	}
	if c.CanonicalDenom == c.BridgedDenom {
		return fmt.Errorf("%w: canonical and bridged denom must differ", ErrInvalidConfig)
	}
	if c.TransferTimeout <= 0 {
		return fmt.Errorf("%w: transfer_timeout must be positive", ErrInvalidConfig)
	}
	switch c.ShortfallPolicy {
	case ShortfallRefund, ShortfallAbort:
	default:
		return fmt.Errorf("%w: unknown shortfall_policy %q", ErrInvalidConfig, c.ShortfallPolicy)
	}
	return nil
}
