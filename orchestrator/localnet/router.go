package localnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/shopspring/decimal"
)

// Reentry is a call the router makes back into another contract while it
// swaps, to exercise reentrance handling.
type Reentry struct {
	Contract string          `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
	Funds    funds.Coins     `json:"funds"`
}

// RouterSettings are the knobs of the mock router.
type RouterSettings struct {
	// Rate is how much of the ask asset one unit of the offer asset buys.
	Rate decimal.Decimal `json:"rate"`
	Fail bool            `json:"fail"`
	// IgnoreMinimum pays out even below minimum_receive.
	IgnoreMinimum bool     `json:"ignore_minimum"`
	Reenter       *Reentry `json:"reenter,omitempty"`
}

// Router is a stand-in for the swap router. It pays out of a reserve it was
// funded with at a fixed rate, whatever the route.
type Router struct {
	mu       sync.Mutex
	settings RouterSettings
}

var _ wasm.Contract = (*Router)(nil)

func NewRouter(rate decimal.Decimal) *Router {
	return &Router{settings: RouterSettings{Rate: rate}}
}

func (r *Router) Settings() RouterSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

func (r *Router) Configure(s RouterSettings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

func (r *Router) Execute(ctx context.Context, deps wasm.Deps, env wasm.Env, info wasm.MessageInfo, raw json.RawMessage) (*wasm.Response, error) {
	var msg astroport.ExecuteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	op := msg.ExecuteSwapOperations
	if op == nil {
		return nil, errors.New("router: unknown message")
	}
	s := r.Settings()
	if s.Fail {
		return nil, fmt.Errorf("router: %w", ErrMockFailure)
	}
	if len(op.Operations) == 0 {
		return nil, errors.New("router: must provide operations")
	}
	if len(info.Funds) != 1 {
		return nil, errors.New("router: expected exactly one offer coin")
	}
	offer := info.Funds[0]
	ask := op.Operations[len(op.Operations)-1].Ask()
	if err := astroport.ValidateRoute(op.Operations, offer.Denom, ask); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	out := offer.Amount.Mul(s.Rate).Floor()
	if op.MinimumReceive != nil && out.LessThan(*op.MinimumReceive) && !s.IgnoreMinimum {
		return nil, fmt.Errorf("router: assertion failed; minimum receive amount: %s. swap amount: %s", op.MinimumReceive, out)
	}

	to := info.Sender
	if op.To != nil {
		to = *op.To
	}
	resp := wasm.NewResponse()
	if s.Reenter != nil {
		resp.AddMessage(wasm.WasmExecute{Contract: s.Reenter.Contract, Msg: s.Reenter.Msg, Funds: s.Reenter.Funds})
	}
	if out.IsPositive() {
		resp.AddMessage(wasm.BankSend{ToAddress: to, Amount: funds.Coins{funds.NewCoinFromDecimal(out, ask)}})
	}
	return resp.AddAttributes(
		wasm.Attr("action", "swap"),
		wasm.Attr("offer_asset", offer.Denom),
		wasm.Attr("ask_asset", ask),
		wasm.Attr("offer_amount", offer.Amount.String()),
		wasm.Attr("return_amount", out.String()),
	), nil
}

func (r *Router) Reply(context.Context, wasm.Deps, wasm.Env, wasm.Reply) (*wasm.Response, error) {
	return nil, fmt.Errorf("router: %w: reply", ErrUnsupported)
}

func (r *Router) Query(context.Context, wasm.Deps, wasm.Env, json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(r.Settings())
}
