package saga

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/shopspring/decimal"
)

// PhaseKind tags the saga's current phase.
type PhaseKind string

const (
	PhaseIdle                   PhaseKind = "idle"
	PhaseAwaitingMint           PhaseKind = "awaiting_mint"
	PhaseAwaitingSwap           PhaseKind = "awaiting_swap"
	PhaseAwaitingTransferAccept PhaseKind = "awaiting_transfer_accept"
)

// TransferRequest is what the user asked for at entry.
type TransferRequest struct {
	SourcePort         string                    `json:"source_port"`
	SourceChannel      string                    `json:"source_channel"`
	Receiver           string                    `json:"receiver"`
	AmountToSwapForFee decimal.Decimal           `json:"amount_to_swap_for_ibc_fee"`
	FeeDenom           string                    `json:"fee_denom"`
	SwapOperations     []astroport.SwapOperation `json:"swap_operations"`
	Memo               string                    `json:"memo,omitempty"`
}

// MintContext is held while the mint call is outstanding. Refund is what
// goes back to the user if the mint fails.
type MintContext struct {
	RefundAddress string          `json:"refund_address"`
	Refund        funds.Coin      `json:"refund"`
	Minted        funds.Coin      `json:"minted"`
	Request       TransferRequest `json:"request"`
}

// SwapContext is held while the swap call is outstanding.
type SwapContext struct {
	RefundAddress string          `json:"refund_address"`
	Received      funds.Coin      `json:"received"`
	AmountToSend  decimal.Decimal `json:"amount_to_send"`
	Fee           wasm.IbcFee     `json:"fee"`
	FeeDenom      string          `json:"fee_denom"`
	// fee denom balance before the swap, so the probe measures only what
	// the swap produced
	FeeBalanceBefore decimal.Decimal `json:"fee_balance_before"`
	Request          TransferRequest `json:"request"`
}

// TransferContext is held until the transfer module accepts the transfer.
type TransferContext struct {
	SourcePort    string      `json:"source_port"`
	SourceChannel string      `json:"source_channel"`
	Receiver      string      `json:"receiver"`
	AmountToSend  funds.Coin  `json:"amount_to_send"`
	Fee           wasm.IbcFee `json:"fee_quote"`
	RefundAddress string      `json:"refund_address"`
}

// Phase is the saga state, stored as one value. Exactly the context that
// matches Kind is set.
type Phase struct {
	Kind     PhaseKind        `json:"kind"`
	SagaID   string           `json:"saga_id,omitempty"`
	Mint     *MintContext     `json:"mint,omitempty"`
	Swap     *SwapContext     `json:"swap,omitempty"`
	Transfer *TransferContext `json:"transfer,omitempty"`
}

func idle() Phase {
	return Phase{Kind: PhaseIdle}
}

func awaitingMint(sagaID string, c MintContext) Phase {
	return Phase{Kind: PhaseAwaitingMint, SagaID: sagaID, Mint: &c}
}

func awaitingSwap(sagaID string, c SwapContext) Phase {
	return Phase{Kind: PhaseAwaitingSwap, SagaID: sagaID, Swap: &c}
}

func awaitingTransferAccept(sagaID string, c TransferContext) Phase {
	return Phase{Kind: PhaseAwaitingTransferAccept, SagaID: sagaID, Transfer: &c}
}

// check rejects a phase whose context does not match its kind.
func (p Phase) check() error {
	ok := false
	switch p.Kind {
	case PhaseIdle:
		ok = p.Mint == nil && p.Swap == nil && p.Transfer == nil
	case PhaseAwaitingMint:
		ok = p.Mint != nil && p.Swap == nil && p.Transfer == nil
	case PhaseAwaitingSwap:
		ok = p.Swap != nil && p.Mint == nil && p.Transfer == nil
	case PhaseAwaitingTransferAccept:
		ok = p.Transfer != nil && p.Mint == nil && p.Swap == nil
	}
	if !ok {
		return fmt.Errorf("%w: corrupt %q phase", ErrUnexpectedPhase, p.Kind)
	}
	return nil
}

// InFlightTransfer is kept until the transfer's outcome is reconciled.
type InFlightTransfer struct {
	SagaID        string      `json:"saga_id"`
	RefundAddress string      `json:"refund_address"`
	Receiver      string      `json:"receiver"`
	Fee           wasm.IbcFee `json:"fee_quote"`
	SentAmount    funds.Coin  `json:"sent_amount"`
}

// TransferKey identifies an in-flight transfer.
type TransferKey struct {
	Sequence uint64 `json:"sequence_id"`
	Channel  string `json:"channel"`
}

// encode sorts by channel then numerically by sequence.
func (k TransferKey) encode() string {
	return fmt.Sprintf("%s/%020d", k.Channel, k.Sequence)
}

func decodeTransferKey(s string) (TransferKey, error) {
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return TransferKey{}, fmt.Errorf("malformed transfer key %q", s)
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return TransferKey{}, fmt.Errorf("malformed transfer key %q: %w", s, err)
	}
	return TransferKey{Sequence: seq, Channel: s[:i]}, nil
}

func (k TransferKey) String() string {
	return fmt.Sprintf("%s#%d", k.Channel, k.Sequence)
}

var (
	configItem = storage.NewItem[Config]("config")
	phaseItem  = storage.NewItem[Phase]("phase")
	inFlight   = storage.NewMap[InFlightTransfer]("in_flight")
)

func loadConfig(ctx context.Context, kv storage.KV) (Config, error) {
	cfg, ok, err := configItem.May(ctx, kv)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, ErrNotInstantiated
	}
	return cfg, nil
}

// loadPhase treats a missing phase as idle.
func loadPhase(ctx context.Context, kv storage.KV) (Phase, error) {
	p, ok, err := phaseItem.May(ctx, kv)
	if err != nil {
		return Phase{}, err
	}
	if !ok {
		return idle(), nil
	}
	if err := p.check(); err != nil {
		return Phase{}, err
	}
	return p, nil
}

// TransferEntry pairs a record with its key, for listings.
type TransferEntry struct {
	Key    TransferKey      `json:"key"`
	Record InFlightTransfer `json:"record"`
}

// listInFlight returns up to limit records after startAfter.
func listInFlight(ctx context.Context, kv storage.KV, startAfter *TransferKey, limit int) ([]TransferEntry, error) {
	var after string
	if startAfter != nil {
		after = startAfter.encode()
	}
	out := make([]TransferEntry, 0)
	var decodeErr error
	err := inFlight.Range(ctx, kv, func(k string, rec InFlightTransfer) bool {
		if after != "" && k <= after {
			return true
		}
		key, err := decodeTransferKey(k)
		if err != nil {
			decodeErr = err
			return false
		}
		out = append(out, TransferEntry{Key: key, Record: rec})
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}
