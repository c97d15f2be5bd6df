// Package custody talks to the token custody contract that locks the bridged
// denom and mints the canonical one in exchange.
package custody

import (
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
)

var (
	ErrMintFailed = errors.New("mint failed")
	ErrNoContract = errors.New("custody contract address not configured")
)

// ExecuteMsg is the custody contract's execute surface.
type ExecuteMsg struct {
	Mint *MintMsg `json:"mint,omitempty"`
	Burn *BurnMsg `json:"burn,omitempty"`
}

// MintMsg locks the attached bridged funds and mints canonical funds to
// Receiver, or to the sender when Receiver is nil.
type MintMsg struct {
	Receiver *string `json:"receiver"`
}

// BurnMsg burns the attached canonical funds and releases bridged funds.
type BurnMsg struct {
	Receiver *string `json:"receiver"`
}

// QueryMsg is the custody contract's query surface.
type QueryMsg struct {
	Config *struct{} `json:"config,omitempty"`
}

type ConfigResponse struct {
	BridgedDenom   string `json:"bridged_denom"`
	CanonicalDenom string `json:"canonical_denom"`
}

// Client builds calls against one custody contract.
type Client struct {
	contract string
}

func NewClient(contract string) *Client {
	return &Client{contract: contract}
}

func (c *Client) Contract() string {
	return c.contract
}

// Mint builds the call that exchanges deposit for canonical funds.
func (c *Client) Mint(deposit funds.Coin, receiver *string) (wasm.WasmExecute, error) {
	if c.contract == "" {
		return wasm.WasmExecute{}, ErrNoContract
	}
	if deposit.IsZero() {
		return wasm.WasmExecute{}, fmt.Errorf("%w: zero deposit", ErrMintFailed)
	}
	msg, err := wasm.ExecuteJSON(ExecuteMsg{Mint: &MintMsg{Receiver: receiver}})
	if err != nil {
		return wasm.WasmExecute{}, err
	}
	return wasm.WasmExecute{
		Contract: c.contract,
		Msg:      msg,
		Funds:    funds.Coins{deposit},
	}, nil
}

// Burn builds the reverse call.
func (c *Client) Burn(canonical funds.Coin, receiver *string) (wasm.WasmExecute, error) {
	if c.contract == "" {
		return wasm.WasmExecute{}, ErrNoContract
	}
	msg, err := wasm.ExecuteJSON(ExecuteMsg{Burn: &BurnMsg{Receiver: receiver}})
	if err != nil {
		return wasm.WasmExecute{}, err
	}
	return wasm.WasmExecute{
		Contract: c.contract,
		Msg:      msg,
		Funds:    funds.Coins{canonical},
	}, nil
}

// MintOutcome interprets the reply of a mint call. The call carries no data
// payload; only success or failure matters.
func (c *Client) MintOutcome(result wasm.SubMsgResult) error {
	if result.IsErr() {
		return fmt.Errorf("%w: %s", ErrMintFailed, result.Err)
	}
	return nil
}
