package saga

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/address"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const (
	testBridged   = "ibc/BRIDGEDWSTETH"
	testCanonical = "factory/neutron1satellite/wsteth"
	testFeeDenom  = "untrn"
)

var (
	testContract = address.MustDerive("neutron", "wrap-and-send", true)
	testCustody  = address.MustDerive("neutron", "custody", true)
	testRouter   = address.MustDerive("neutron", "router", true)
	testUser     = address.MustDerive("neutron", "user", false)
	testReceiver = address.MustDerive("cosmos", "receiver", false)
	testBlock    = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

type fakeQuerier struct {
	balances map[string]funds.Coins
	fee      wasm.IbcFee
	feeErr   error
}

func (q *fakeQuerier) Balance(_ context.Context, addr, denom string) (funds.Coin, error) {
	return funds.NewCoinFromDecimal(q.balances[addr].AmountOf(denom), denom), nil
}

func (q *fakeQuerier) MinIbcFee(context.Context) (wasm.IbcFee, error) {
	return q.fee, q.feeErr
}

func (q *fakeQuerier) setBalance(addr string, c funds.Coin) {
	rest := make(funds.Coins, 0)
	for _, have := range q.balances[addr] {
		if have.Denom != c.Denom {
			rest = append(rest, have)
		}
	}
	q.balances[addr] = rest.Add(c)
}

// harness drives the orchestrator the way the host would, one handler call
// at a time, without executing the emitted messages.
type harness struct {
	t    *testing.T
	ctx  context.Context
	o    *Orchestrator
	kv   *storage.Memory
	q    *fakeQuerier
	env  wasm.Env
	cfg  Config
	deps wasm.Deps
}

func testConfig() Config {
	return Config{
		CustodyContract: testCustody,
		SwapRouter:      testRouter,
		CanonicalDenom:  testCanonical,
		BridgedDenom:    testBridged,
		Bech32Prefix:    "neutron",
	}
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	kv := storage.NewMemory()
	q := &fakeQuerier{
		balances: map[string]funds.Coins{},
		fee: wasm.IbcFee{
			RecvFee:    funds.Coins{},
			AckFee:     funds.Coins{funds.NewCoin(20, testFeeDenom)},
			TimeoutFee: funds.Coins{funds.NewCoin(30, testFeeDenom)},
		},
	}
	h := &harness{
		t:    t,
		ctx:  context.Background(),
		o:    New(),
		kv:   kv,
		q:    q,
		env:  wasm.Env{ChainID: "neutron-test", BlockHeight: 10, BlockTime: testBlock, Contract: testContract},
		deps: wasm.Deps{Store: kv, Querier: q},
	}
	raw, err := json.Marshal(cfg)
	assert.NoError(t, err)
	_, err = h.o.Instantiate(h.ctx, h.deps, h.env, wasm.MessageInfo{Sender: testUser}, raw)
	assert.NoError(t, err)
	h.cfg, err = loadConfig(h.ctx, kv)
	assert.NoError(t, err)
	return h
}

func defaultRequest() WrapAndSendMsg {
	return WrapAndSendMsg{
		SourcePort:         "transfer",
		SourceChannel:      "channel-8",
		Receiver:           testReceiver,
		AmountToSwapForFee: decimal.NewFromInt(100),
		FeeDenom:           testFeeDenom,
		SwapOperations:     []astroport.SwapOperation{astroport.Hop(testCanonical, testFeeDenom)},
		RefundAddress:      testUser,
	}
}

func (h *harness) execute(msg WrapAndSendMsg, deposit ...funds.Coin) (*wasm.Response, error) {
	raw, err := json.Marshal(ExecuteMsg{WrapAndSend: &msg})
	assert.NoError(h.t, err)
	return h.o.Execute(h.ctx, h.deps, h.env, wasm.MessageInfo{Sender: testUser, Funds: deposit}, raw)
}

func (h *harness) reply(sub wasm.SubMsg, result wasm.SubMsgResult) (*wasm.Response, error) {
	return h.o.Reply(h.ctx, h.deps, h.env, wasm.Reply{Payload: sub.Payload, Result: result})
}

func (h *harness) phase() Phase {
	p, err := loadPhase(h.ctx, h.kv)
	assert.NoError(h.t, err)
	return p
}

// startSwap runs entry and a successful mint, returning the swap submessage.
func (h *harness) startSwap(msg WrapAndSendMsg, deposit int64) wasm.SubMsg {
	h.t.Helper()
	resp, err := h.execute(msg, funds.NewCoin(deposit, testBridged))
	assert.NoError(h.t, err)
	assert.Equal(h.t, len(resp.Messages), 1)
	resp, err = h.reply(resp.Messages[0], wasm.SubMsgResult{})
	assert.NoError(h.t, err)
	assert.Equal(h.t, len(resp.Messages), 1)
	return resp.Messages[0]
}

// startTransfer additionally completes the swap with the fee denom balance
// set to feeBalance.
func (h *harness) startTransfer(feeBalance int64) *wasm.Response {
	h.t.Helper()
	swap := h.startSwap(defaultRequest(), 300)
	h.q.setBalance(testContract, funds.NewCoin(feeBalance, testFeeDenom))
	resp, err := h.reply(swap, wasm.SubMsgResult{})
	assert.NoError(h.t, err)
	return resp
}

// accept completes the transfer the way the transfer module does.
func (h *harness) accept(transfer wasm.SubMsg, seq uint64, channel string) (*wasm.Response, error) {
	data, err := json.Marshal(wasm.MsgIbcTransferResponse{SequenceID: seq, Channel: channel})
	assert.NoError(h.t, err)
	return h.reply(transfer, wasm.SubMsgResult{Data: data})
}

func packet(seq uint64, channel string) wasm.RequestPacket {
	port := "transfer"
	return wasm.RequestPacket{Sequence: &seq, SourcePort: &port, SourceChannel: &channel}
}
