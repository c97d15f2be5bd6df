// Package localnet is an in-process chain that hosts the orchestrator and
// its collaborators. It runs one transaction at a time and gives contracts
// the host semantics they rely on: every submessage runs in its own branch
// of state that is dropped when it fails, replies are routed by ReplyOn, a
// propagated error reverts the whole transaction, and the transfer module
// escrows tokens and relayer fees until a relayer resolves the packet.
package localnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/address"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "localnet").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "localnet").Logger()
}

var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrContractExists  = errors.New("contract already registered")
	ErrMaxDepth        = errors.New("submessage depth exceeded")
	ErrUnsupported     = errors.New("unsupported by contract")
)

// maxDepth bounds nested submessage dispatch.
const maxDepth = 16

// FeeOracle answers the transfer module's minimum fee.
type FeeOracle interface {
	MinIbcFee(ctx context.Context) (wasm.IbcFee, error)
}

// StaticFee is a FeeOracle with a fixed answer.
type StaticFee wasm.IbcFee

func (f StaticFee) MinIbcFee(context.Context) (wasm.IbcFee, error) {
	return wasm.IbcFee(f), nil
}

type Config struct {
	ChainID      string
	Bech32Prefix string
	// Channels are the open transfer channels on port "transfer".
	Channels []string
	// Now supplies block time. Defaults to time.Now.
	Now func() time.Time
}

// Chain is the local host. It is safe for concurrent use; transactions are
// serialized.
type Chain struct {
	mu        sync.Mutex
	root      storage.KV
	fee       FeeOracle
	cfg       Config
	height    uint64
	blockTime time.Time
	contracts map[string]wasm.Contract
	labels    map[string]string
	channels  map[string]bool
}

func New(root storage.KV, fee FeeOracle, cfg Config) *Chain {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ChainID == "" {
		cfg.ChainID = "localnet-1"
	}
	if cfg.Bech32Prefix == "" {
		cfg.Bech32Prefix = "neutron"
	}
	channels := make(map[string]bool, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[ch] = true
	}
	return &Chain{
		root:      root,
		fee:       fee,
		cfg:       cfg,
		contracts: make(map[string]wasm.Contract),
		labels:    make(map[string]string),
		channels:  channels,
	}
}

func (c *Chain) ChainID() string      { return c.cfg.ChainID }
func (c *Chain) Bech32Prefix() string { return c.cfg.Bech32Prefix }

// Height is the height of the last committed transaction.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// ContractAddress is the address a contract registered under label gets.
func (c *Chain) ContractAddress(label string) string {
	return address.MustDerive(c.cfg.Bech32Prefix, "contract/"+label, true)
}

// AccountAddress derives a user account address from a name.
func (c *Chain) AccountAddress(name string) string {
	return address.MustDerive(c.cfg.Bech32Prefix, "account/"+name, false)
}

// Register adds a contract under label without instantiating it.
func (c *Chain) Register(label string, contract wasm.Contract) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := c.ContractAddress(label)
	if _, ok := c.contracts[addr]; ok {
		return "", fmt.Errorf("%w: %s", ErrContractExists, label)
	}
	c.contracts[addr] = contract
	c.labels[addr] = label
	log.Debug().Str("label", label).Str("address", addr).Msg("Contract registered")
	return addr, nil
}

// Contracts lists registered contracts by label.
func (c *Chain) Contracts() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.labels))
	for addr, label := range c.labels {
		out[label] = addr
	}
	return out
}

// TxResult describes a committed transaction.
type TxResult struct {
	Height uint64       `json:"height"`
	Events []wasm.Event `json:"events"`
	Data   []byte       `json:"data,omitempty"`
}

// Attribute returns the first value of key across all events of type typ.
func (r *TxResult) Attribute(typ, key string) (string, bool) {
	for _, ev := range r.Events {
		if ev.Type != typ {
			continue
		}
		for _, a := range ev.Attributes {
			if a.Key == key {
				return a.Value, true
			}
		}
	}
	return "", false
}

// tx is one transaction in progress.
type tx struct {
	chain  *Chain
	env    wasm.Env
	events []wasm.Event
}

// run executes fn against a branch of the root store and commits it when
// fn succeeds.
func (c *Chain) run(ctx context.Context, fn func(t *tx, kv storage.KV) ([]byte, error)) (*TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blockTime := c.cfg.Now().UTC()
	if blockTime.Before(c.blockTime) {
		blockTime = c.blockTime
	}
	t := &tx{chain: c, env: wasm.Env{ChainID: c.cfg.ChainID, BlockHeight: c.height + 1, BlockTime: blockTime}}
	branch := storage.NewCacheKV(c.root)
	data, err := fn(t, branch)
	if err != nil {
		return nil, err
	}
	if err := branch.Write(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	c.height++
	c.blockTime = blockTime
	return &TxResult{Height: c.height, Events: t.events, Data: data}, nil
}

func (t *tx) emit(ev wasm.Event) {
	t.events = append(t.events, ev)
}

func (t *tx) envFor(contract string) wasm.Env {
	env := t.env
	env.Contract = contract
	return env
}

func (t *tx) deps(kv storage.KV, contract string) wasm.Deps {
	return wasm.Deps{
		Store:   storage.NewPrefixed(kv, "contract/"+contract+"/"),
		Querier: &querier{chain: t.chain, kv: kv},
	}
}

func (t *tx) contract(addr string) (wasm.Contract, error) {
	ct, ok := t.chain.contracts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, addr)
	}
	return ct, nil
}

// handle records a contract response and dispatches its messages on
// behalf of contract.
func (t *tx) handle(ctx context.Context, kv storage.KV, depth int, contract string, resp *wasm.Response) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}
	attrs := append([]wasm.Attribute{wasm.Attr("_contract_address", contract)}, resp.Attributes...)
	t.emit(wasm.Event{Type: "wasm", Attributes: attrs})
	for _, ev := range resp.Events {
		t.emit(wasm.Event{
			Type:       "wasm-" + ev.Type,
			Attributes: append([]wasm.Attribute{wasm.Attr("_contract_address", contract)}, ev.Attributes...),
		})
	}
	data := resp.Data
	for _, sub := range resp.Messages {
		replyData, err := t.dispatch(ctx, kv, depth+1, contract, sub)
		if err != nil {
			return nil, err
		}
		if replyData != nil {
			data = replyData
		}
	}
	return data, nil
}

// dispatch runs one submessage in a branch and routes its outcome. A
// failure that is not replied to propagates to the caller.
func (t *tx) dispatch(ctx context.Context, kv storage.KV, depth int, from string, sub wasm.SubMsg) ([]byte, error) {
	if depth > maxDepth {
		return nil, ErrMaxDepth
	}
	branch := storage.NewCacheKV(kv)
	mark := len(t.events)
	data, err := t.runMsg(ctx, branch, depth, from, sub.Msg)
	if err == nil {
		if werr := branch.Write(ctx); werr != nil {
			return nil, werr
		}
	} else {
		t.events = t.events[:mark]
	}

	failed := err != nil
	if !sub.ReplyOn.Wants(failed) {
		return nil, err
	}

	result := wasm.SubMsgResult{Data: data}
	if failed {
		result = wasm.SubMsgResult{Err: err.Error()}
		log.Debug().Err(err).Str("contract", from).Str("msg", wasm.MsgType(sub.Msg)).Msg("Submessage failed, replying")
	} else {
		result.Events = append([]wasm.Event(nil), t.events[mark:]...)
	}

	ct, err := t.contract(from)
	if err != nil {
		return nil, err
	}
	resp, err := ct.Reply(ctx, t.deps(kv, from), t.envFor(from), wasm.Reply{Payload: sub.Payload, Result: result})
	if err != nil {
		return nil, err
	}
	return t.handle(ctx, kv, depth, from, resp)
}

func (t *tx) runMsg(ctx context.Context, kv storage.KV, depth int, from string, msg wasm.Msg) ([]byte, error) {
	switch m := msg.(type) {
	case wasm.BankSend:
		if err := bankSend(ctx, kv, from, m.ToAddress, m.Amount); err != nil {
			return nil, err
		}
		t.emitTransfer(from, m.ToAddress, m.Amount)
		return nil, nil
	case wasm.WasmExecute:
		return t.execute(ctx, kv, depth, from, m.Contract, m.Msg, m.Funds)
	case wasm.IbcTransfer:
		return t.ibcTransfer(ctx, kv, from, m)
	default:
		return nil, fmt.Errorf("%w: message %T", ErrUnsupported, msg)
	}
}

func (t *tx) emitTransfer(from, to string, amount funds.Coins) {
	t.emit(wasm.Event{Type: "transfer", Attributes: []wasm.Attribute{
		wasm.Attr("sender", from),
		wasm.Attr("recipient", to),
		wasm.Attr("amount", amount.Normalize().String()),
	}})
}

func (t *tx) execute(ctx context.Context, kv storage.KV, depth int, sender, contract string, msg json.RawMessage, coins funds.Coins) ([]byte, error) {
	ct, err := t.contract(contract)
	if err != nil {
		return nil, err
	}
	if !coins.IsZero() {
		if err := bankSend(ctx, kv, sender, contract, coins); err != nil {
			return nil, err
		}
		t.emitTransfer(sender, contract, coins)
	}
	info := wasm.MessageInfo{Sender: sender, Funds: coins.Normalize()}
	resp, err := ct.Execute(ctx, t.deps(kv, contract), t.envFor(contract), info, msg)
	if err != nil {
		return nil, err
	}
	return t.handle(ctx, kv, depth, contract, resp)
}

// Execute runs a user transaction calling contract with funds attached.
func (c *Chain) Execute(ctx context.Context, sender, contract string, msg json.RawMessage, coins funds.Coins) (*TxResult, error) {
	res, err := c.run(ctx, func(t *tx, kv storage.KV) ([]byte, error) {
		return t.execute(ctx, kv, 0, sender, contract, msg, coins)
	})
	if err != nil {
		log.Debug().Err(err).Str("sender", sender).Str("contract", contract).Msg("Transaction reverted")
		return nil, err
	}
	return res, nil
}

// Instantiate registers contract under label and runs its setup message
// in a transaction. Registration is undone if setup fails.
func (c *Chain) Instantiate(ctx context.Context, sender, label string, contract wasm.Contract, msg json.RawMessage) (string, *TxResult, error) {
	addr, err := c.Register(label, contract)
	if err != nil {
		return "", nil, err
	}
	res, err := c.Setup(ctx, sender, addr, msg)
	if err != nil {
		c.mu.Lock()
		delete(c.contracts, addr)
		delete(c.labels, addr)
		c.mu.Unlock()
		return "", nil, err
	}
	return addr, res, nil
}

// Setup runs the setup message of a registered contract. Contracts without
// one are left as they are.
func (c *Chain) Setup(ctx context.Context, sender, addr string, msg json.RawMessage) (*TxResult, error) {
	c.mu.Lock()
	contract, ok := c.contracts[addr]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, addr)
	}
	inst, ok := contract.(wasm.Instantiator)
	if !ok {
		return &TxResult{Height: c.Height()}, nil
	}
	return c.run(ctx, func(t *tx, kv storage.KV) ([]byte, error) {
		resp, err := inst.Instantiate(ctx, t.deps(kv, addr), t.envFor(addr), wasm.MessageInfo{Sender: sender}, msg)
		if err != nil {
			return nil, err
		}
		return t.handle(ctx, kv, 0, addr, resp)
	})
}

// Query runs a read-only contract query against committed state.
func (c *Chain) Query(ctx context.Context, contract string, msg json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.contracts[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	t := &tx{chain: c, env: wasm.Env{ChainID: c.cfg.ChainID, BlockHeight: c.height, BlockTime: c.blockTime}}
	// queries must not write; a throwaway branch enforces it
	kv := storage.NewCacheKV(c.root)
	return ct.Query(ctx, t.deps(kv, contract), t.envFor(contract), msg)
}

// querier is the read view a contract gets, bound to the branch it runs in.
type querier struct {
	chain *Chain
	kv    storage.KV
}

var _ wasm.Querier = (*querier)(nil)

func (q *querier) Balance(ctx context.Context, addr, denom string) (funds.Coin, error) {
	bal, err := balances(ctx, q.kv, addr)
	if err != nil {
		return funds.Coin{}, err
	}
	return funds.NewCoinFromDecimal(bal.AmountOf(denom), denom), nil
}

func (q *querier) MinIbcFee(ctx context.Context) (wasm.IbcFee, error) {
	return q.chain.fee.MinIbcFee(ctx)
}
