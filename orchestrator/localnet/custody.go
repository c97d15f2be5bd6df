package localnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/custody"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
)

var ErrMockFailure = errors.New("mock failure")

// Custody is a stand-in for the custody contract. It locks bridged funds
// and pays canonical funds one to one out of a reserve it was funded with.
type Custody struct {
	BridgedDenom   string
	CanonicalDenom string

	mu   sync.Mutex
	fail bool
}

var _ wasm.Contract = (*Custody)(nil)

func NewCustody(bridged, canonical string) *Custody {
	return &Custody{BridgedDenom: bridged, CanonicalDenom: canonical}
}

// SetFail makes every mint and burn fail until cleared.
func (c *Custody) SetFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

// Failing reports whether mint and burn are set to fail.
func (c *Custody) Failing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail
}

func (c *Custody) Execute(ctx context.Context, deps wasm.Deps, env wasm.Env, info wasm.MessageInfo, raw json.RawMessage) (*wasm.Response, error) {
	var msg custody.ExecuteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}
	if c.Failing() {
		return nil, fmt.Errorf("custody: %w", ErrMockFailure)
	}
	switch {
	case msg.Mint != nil:
		return c.exchange(info, msg.Mint.Receiver, c.BridgedDenom, c.CanonicalDenom, "mint")
	case msg.Burn != nil:
		return c.exchange(info, msg.Burn.Receiver, c.CanonicalDenom, c.BridgedDenom, "burn")
	default:
		return nil, errors.New("custody: unknown message")
	}
}

func (c *Custody) exchange(info wasm.MessageInfo, receiver *string, in, out, action string) (*wasm.Response, error) {
	amount, found, err := funds.FindDenom(info.Funds, in)
	if err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}
	if !found || amount.IsZero() {
		return nil, fmt.Errorf("custody: no %s attached", in)
	}
	to := info.Sender
	if receiver != nil {
		to = *receiver
	}
	coin := funds.NewCoinFromDecimal(amount, out)
	return wasm.NewResponse().
		AddMessage(wasm.BankSend{ToAddress: to, Amount: funds.Coins{coin}}).
		AddAttributes(
			wasm.Attr("action", action),
			wasm.Attr("amount", coin.String()),
			wasm.Attr("receiver", to),
		), nil
}

func (c *Custody) Reply(context.Context, wasm.Deps, wasm.Env, wasm.Reply) (*wasm.Response, error) {
	return nil, fmt.Errorf("custody: %w: reply", ErrUnsupported)
}

func (c *Custody) Query(_ context.Context, _ wasm.Deps, _ wasm.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg custody.QueryMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Config == nil {
		return nil, errors.New("custody: unknown query")
	}
	return json.Marshal(custody.ConfigResponse{BridgedDenom: c.BridgedDenom, CanonicalDenom: c.CanonicalDenom})
}
