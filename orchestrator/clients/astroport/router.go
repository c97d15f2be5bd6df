// Package astroport builds calls against an astroport style swap router.
package astroport

import (
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRoute = errors.New("invalid swap route")
	ErrSwapFailed   = errors.New("swap failed")
	ErrNoRouter     = errors.New("swap router address not configured")
)

// AssetInfo is either a native denom or a cw20 token contract.
type AssetInfo struct {
	NativeToken *NativeToken `json:"native_token,omitempty"`
	Token       *Token       `json:"token,omitempty"`
}

type NativeToken struct {
	Denom string `json:"denom"`
}

type Token struct {
	ContractAddr string `json:"contract_addr"`
}

// Native is shorthand for a native AssetInfo.
func Native(denom string) AssetInfo {
	return AssetInfo{NativeToken: &NativeToken{Denom: denom}}
}

// ID returns the denom or contract address the asset refers to.
func (a AssetInfo) ID() string {
	switch {
	case a.NativeToken != nil:
		return a.NativeToken.Denom
	case a.Token != nil:
		return a.Token.ContractAddr
	default:
		return ""
	}
}

// SwapOperation is a single hop. Exactly one variant is set.
type SwapOperation struct {
	AstroSwap  *AstroSwap  `json:"astro_swap,omitempty"`
	NativeSwap *NativeSwap `json:"native_swap,omitempty"`
}

type AstroSwap struct {
	OfferAssetInfo AssetInfo `json:"offer_asset_info"`
	AskAssetInfo   AssetInfo `json:"ask_asset_info"`
}

type NativeSwap struct {
	OfferDenom string `json:"offer_denom"`
	AskDenom   string `json:"ask_denom"`
}

// Hop builds a native to native AstroSwap operation.
func Hop(offer, ask string) SwapOperation {
	return SwapOperation{AstroSwap: &AstroSwap{OfferAssetInfo: Native(offer), AskAssetInfo: Native(ask)}}
}

// Offer returns what the operation consumes.
func (op SwapOperation) Offer() string {
	switch {
	case op.AstroSwap != nil:
		return op.AstroSwap.OfferAssetInfo.ID()
	case op.NativeSwap != nil:
		return op.NativeSwap.OfferDenom
	default:
		return ""
	}
}

// Ask returns what the operation produces.
func (op SwapOperation) Ask() string {
	switch {
	case op.AstroSwap != nil:
		return op.AstroSwap.AskAssetInfo.ID()
	case op.NativeSwap != nil:
		return op.NativeSwap.AskDenom
	default:
		return ""
	}
}

// ExecuteMsg is the router's execute surface.
type ExecuteMsg struct {
	ExecuteSwapOperations *ExecuteSwapOperations `json:"execute_swap_operations,omitempty"`
}

type ExecuteSwapOperations struct {
	Operations     []SwapOperation  `json:"operations"`
	MinimumReceive *decimal.Decimal `json:"minimum_receive"`
	To             *string          `json:"to"`
	MaxSpread      *decimal.Decimal `json:"max_spread"`
}

// ValidateRoute checks that ops is a non-empty chain of hops leading from
// offer to ask.
func ValidateRoute(ops []SwapOperation, offer, ask string) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: no operations", ErrInvalidRoute)
	}
	for i, op := range ops {
		if (op.AstroSwap == nil) == (op.NativeSwap == nil) {
			return fmt.Errorf("%w: operation %d must set exactly one variant", ErrInvalidRoute, i)
		}
		if op.Offer() == "" || op.Ask() == "" {
			return fmt.Errorf("%w: operation %d has an empty asset", ErrInvalidRoute, i)
		}
		if i > 0 && ops[i-1].Ask() != op.Offer() {
			return fmt.Errorf("%w: operation %d offers %s but previous hop yields %s",
				ErrInvalidRoute, i, op.Offer(), ops[i-1].Ask())
		}
	}
	if ops[0].Offer() != offer {
		return fmt.Errorf("%w: route offers %s, expected %s", ErrInvalidRoute, ops[0].Offer(), offer)
	}
	if last := ops[len(ops)-1]; last.Ask() != ask {
		return fmt.Errorf("%w: route yields %s, expected %s", ErrInvalidRoute, last.Ask(), ask)
	}
	return nil
}

// Client builds calls against one router contract.
type Client struct {
	router string
}

func NewClient(router string) *Client {
	return &Client{router: router}
}

func (c *Client) Router() string {
	return c.router
}

// Swap builds the call that swaps offer along ops and reverts unless at
// least minimumReceive of the final ask asset comes out. to and max_spread
// are left unset, so proceeds return to the caller.
func (c *Client) Swap(ops []SwapOperation, minimumReceive decimal.Decimal, offer funds.Coin) (wasm.WasmExecute, error) {
	if c.router == "" {
		return wasm.WasmExecute{}, ErrNoRouter
	}
	minReceive := minimumReceive
	msg, err := wasm.ExecuteJSON(ExecuteMsg{ExecuteSwapOperations: &ExecuteSwapOperations{
		Operations:     ops,
		MinimumReceive: &minReceive,
	}})
	if err != nil {
		return wasm.WasmExecute{}, err
	}
	return wasm.WasmExecute{
		Contract: c.router,
		Msg:      msg,
		Funds:    funds.Coins{offer},
	}, nil
}

// SwapOutcome interprets the reply of a swap call. The router's reply
// carries no usable data; the received amount must be probed.
func (c *Client) SwapOutcome(result wasm.SubMsgResult) error {
	if result.IsErr() {
		return fmt.Errorf("%w: %s", ErrSwapFailed, result.Err)
	}
	return nil
}
