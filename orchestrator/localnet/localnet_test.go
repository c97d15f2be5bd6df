package localnet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/address"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const (
	bridged   = "ibc/BRIDGEDWSTETH"
	canonical = "factory/neutron1satellite/wsteth"
	feeDenom  = "untrn"
	channel   = "channel-0"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	clock *clock
	chain *Chain
	d     *Deployment
	user  string
}

func testFee() StaticFee {
	return StaticFee{
		RecvFee:    funds.Coins{},
		AckFee:     funds.Coins{funds.NewCoin(20, feeDenom)},
		TimeoutFee: funds.Coins{funds.NewCoin(30, feeDenom)},
	}
}

func newFixture(t *testing.T, rate string, mutate ...func(*saga.Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	chain := New(storage.NewMemory(), testFee(), Config{Channels: []string{channel}, Now: clk.Now})

	cfg := saga.Config{CanonicalDenom: canonical, BridgedDenom: bridged}
	for _, m := range mutate {
		m(&cfg)
	}
	d, err := Bootstrap(ctx, chain, Setup{
		Saga:           cfg,
		SwapRate:       decimal.RequireFromString(rate),
		CustodyReserve: decimal.NewFromInt(1_000_000),
		RouterReserve:  funds.Coins{funds.NewCoin(1_000_000, feeDenom)},
	})
	assert.NoError(t, err)

	e := &fixture{t: t, ctx: ctx, clock: clk, chain: chain, d: d, user: chain.AccountAddress("user")}
	_, err = chain.Fund(ctx, e.user, funds.Coins{funds.NewCoin(300, bridged)})
	assert.NoError(t, err)
	return e
}

func (e *fixture) request() saga.WrapAndSendMsg {
	return saga.WrapAndSendMsg{
		SourcePort:         "transfer",
		SourceChannel:      channel,
		Receiver:           address.MustDerive("cosmos", "receiver", false),
		AmountToSwapForFee: decimal.NewFromInt(100),
		FeeDenom:           feeDenom,
		SwapOperations:     []astroport.SwapOperation{astroport.Hop(canonical, feeDenom)},
		RefundAddress:      e.user,
		Memo:               "hello",
	}
}

func (e *fixture) send() (*TxResult, error) {
	return e.d.WrapAndSend(e.ctx, e.user, e.request(), funds.Coins{funds.NewCoin(300, bridged)})
}

func (e *fixture) balance(addr, denom string) string {
	e.t.Helper()
	c, err := e.chain.Balance(e.ctx, addr, denom)
	assert.NoError(e.t, err)
	return c.Amount.String()
}

func (e *fixture) assertIdle() {
	e.t.Helper()
	st, err := e.d.Status(e.ctx)
	assert.NoError(e.t, err)
	assert.Equal(e.t, st.Phase, saga.PhaseIdle)
}

func TestWrapAndSend_ExactFee(t *testing.T) {
	e := newFixture(t, "0.5")

	res, err := e.send()
	assert.NoError(t, err)
	seq, ok := res.Attribute("send_packet", "packet_sequence")
	assert.True(t, ok)
	assert.Equal(t, seq, "1")

	e.assertIdle()
	assert.Equal(t, e.balance(e.user, bridged), "0")
	assert.Equal(t, e.balance(e.d.Orchestrator, canonical), "0")
	assert.Equal(t, e.balance(e.d.Orchestrator, feeDenom), "0")
	assert.Equal(t, e.balance(e.chain.EscrowAddress(), canonical), "200")
	assert.Equal(t, e.balance(e.chain.FeeEscrowAddress(), feeDenom), "50")

	pending, err := e.chain.PendingPackets(e.ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(pending), 1)
	assert.Equal(t, pending[0].Memo, "hello")
	assert.Equal(t, pending[0].Token.String(), "200"+canonical)
	want := uint64(e.clock.Now().Add(saga.DefaultTransferTimeout).UnixNano())
	assert.Equal(t, pending[0].TimeoutTimestamp, want)

	transfers, err := e.d.InFlightTransfers(e.ctx, saga.InFlightTransfersQuery{})
	assert.NoError(t, err)
	assert.Equal(t, len(transfers), 1)
	assert.Equal(t, transfers[0].Key, saga.TransferKey{Sequence: 1, Channel: channel})
	assert.Equal(t, transfers[0].Record.RefundAddress, e.user)
}

func TestWrapAndSend_SurplusRefunded(t *testing.T) {
	e := newFixture(t, "0.62")

	res, err := e.send()
	assert.NoError(t, err)
	e.assertIdle()
	assert.Equal(t, e.balance(e.user, feeDenom), "12")
	assert.Equal(t, e.balance(e.d.Orchestrator, feeDenom), "0")

	swapped, ok := res.Attribute("wasm", "swapped_amount")
	assert.True(t, ok)
	assert.Equal(t, swapped, "62"+feeDenom)
}

func TestWrapAndSend_MintFailureRefundsDeposit(t *testing.T) {
	e := newFixture(t, "0.5")
	e.d.Custody.SetFail(true)

	res, err := e.send()
	assert.NoError(t, err)
	reason, ok := res.Attribute("wasm", "reason")
	assert.True(t, ok)
	assert.Equal(t, reason, "mint_failed")

	e.assertIdle()
	assert.Equal(t, e.balance(e.user, bridged), "300")
	assert.Equal(t, e.balance(e.d.Orchestrator, bridged), "0")
	assert.Equal(t, e.balance(e.d.CustodyAddr, bridged), "0")
	_, ok = res.Attribute("send_packet", "packet_sequence")
	assert.False(t, ok)
}

func TestWrapAndSend_SwapFailureRefundsCanonical(t *testing.T) {
	e := newFixture(t, "0.5")
	e.d.Router.Configure(RouterSettings{Rate: decimal.RequireFromString("0.5"), Fail: true})

	res, err := e.send()
	assert.NoError(t, err)
	reason, _ := res.Attribute("wasm", "reason")
	assert.Equal(t, reason, "swap_failed")

	e.assertIdle()
	assert.Equal(t, e.balance(e.user, canonical), "300")
	assert.Equal(t, e.balance(e.user, bridged), "0")
	assert.Equal(t, e.balance(e.d.Orchestrator, canonical), "0")
}

func TestWrapAndSend_MinimumReceiveEnforcedByRouter(t *testing.T) {
	// 100 * 0.4 = 40 is below the quoted 50, so the router rejects the swap
	e := newFixture(t, "0.4")

	res, err := e.send()
	assert.NoError(t, err)
	reason, _ := res.Attribute("wasm", "reason")
	assert.Equal(t, reason, "swap_failed")
	assert.Equal(t, e.balance(e.user, canonical), "300")
}

func TestWrapAndSend_ShortfallRefund(t *testing.T) {
	e := newFixture(t, "0.4")
	e.d.Router.Configure(RouterSettings{Rate: decimal.RequireFromString("0.4"), IgnoreMinimum: true})

	res, err := e.send()
	assert.NoError(t, err)
	reason, _ := res.Attribute("wasm", "reason")
	assert.Equal(t, reason, "not_enough_fee_after_swap")

	e.assertIdle()
	assert.Equal(t, e.balance(e.user, canonical), "200")
	assert.Equal(t, e.balance(e.user, feeDenom), "40")
	assert.Equal(t, e.balance(e.d.Orchestrator, canonical), "0")
	assert.Equal(t, e.balance(e.d.Orchestrator, feeDenom), "0")
}

func TestWrapAndSend_ShortfallAbortRevertsEverything(t *testing.T) {
	e := newFixture(t, "0.4", func(c *saga.Config) { c.ShortfallPolicy = saga.ShortfallAbort })
	e.d.Router.Configure(RouterSettings{Rate: decimal.RequireFromString("0.4"), IgnoreMinimum: true})
	height := e.chain.Height()

	_, err := e.send()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, saga.ErrSwappedForLessThanRequested))

	assert.Equal(t, e.chain.Height(), height)
	e.assertIdle()
	assert.Equal(t, e.balance(e.user, bridged), "300")
	assert.Equal(t, e.balance(e.d.CustodyAddr, bridged), "0")
}

func TestWrapAndSend_RejectedRequestKeepsDeposit(t *testing.T) {
	e := newFixture(t, "0.5")
	msg := e.request()
	msg.AmountToSwapForFee = decimal.NewFromInt(300)

	_, err := e.d.WrapAndSend(e.ctx, e.user, msg, funds.Coins{funds.NewCoin(300, bridged)})
	assert.True(t, errors.Is(err, saga.ErrNotEnoughForSwap))
	e.assertIdle()
	assert.Equal(t, e.balance(e.user, bridged), "300")
}

func TestWrapAndSend_ReentrantCallFailsSwap(t *testing.T) {
	e := newFixture(t, "0.5")
	reentry, err := json.Marshal(saga.ExecuteMsg{WrapAndSend: func() *saga.WrapAndSendMsg { m := e.request(); return &m }()})
	assert.NoError(t, err)
	e.d.Router.Configure(RouterSettings{
		Rate:    decimal.RequireFromString("0.5"),
		Reenter: &Reentry{Contract: e.d.Orchestrator, Msg: reentry},
	})

	res, err := e.send()
	assert.NoError(t, err)
	reason, _ := res.Attribute("wasm", "reason")
	assert.Equal(t, reason, "swap_failed")

	e.assertIdle()
	assert.Equal(t, e.balance(e.user, canonical), "300")

	// the guard is free again once the saga ended
	e.d.Router.Configure(RouterSettings{Rate: decimal.RequireFromString("0.5")})
	_, err = e.chain.Fund(e.ctx, e.user, funds.Coins{funds.NewCoin(300, bridged)})
	assert.NoError(t, err)
	_, err = e.send()
	assert.NoError(t, err)
}

func TestWrapAndSend_SequentialSagas(t *testing.T) {
	e := newFixture(t, "0.5")
	_, err := e.chain.Fund(e.ctx, e.user, funds.Coins{funds.NewCoin(300, bridged)})
	assert.NoError(t, err)

	_, err = e.send()
	assert.NoError(t, err)
	_, err = e.send()
	assert.NoError(t, err)

	st, err := e.d.Status(e.ctx)
	assert.NoError(t, err)
	assert.Equal(t, st.Phase, saga.PhaseIdle)
	assert.Equal(t, st.InFlight, 2)
}

func TestRelay_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		outcome    Outcome
		advance    time.Duration
		canonical  string
		fee        string
		relayerFee string
	}{
		{name: "ack", outcome: OutcomeAck, canonical: "0", fee: "30", relayerFee: "20"},
		{name: "ack error", outcome: OutcomeAckError, canonical: "200", fee: "30", relayerFee: "20"},
		{name: "timeout", outcome: OutcomeTimeout, advance: time.Hour, canonical: "200", fee: "20", relayerFee: "30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFixture(t, "0.5")
			_, err := e.send()
			assert.NoError(t, err)
			e.clock.Advance(tt.advance)

			res, p, err := e.d.RelayNext(e.ctx, tt.outcome)
			assert.NoError(t, err)
			assert.Equal(t, p.Sequence, uint64(1))
			_, failed := res.Attribute("sudo_failure", "error")
			assert.False(t, failed)

			assert.Equal(t, e.balance(e.user, canonical), tt.canonical)
			assert.Equal(t, e.balance(e.user, feeDenom), tt.fee)
			assert.Equal(t, e.balance(e.d.Relayer, feeDenom), tt.relayerFee)
			assert.Equal(t, e.balance(e.d.Orchestrator, canonical), "0")
			assert.Equal(t, e.balance(e.d.Orchestrator, feeDenom), "0")
			assert.Equal(t, e.balance(e.chain.FeeEscrowAddress(), feeDenom), "0")

			st, err := e.d.Status(e.ctx)
			assert.NoError(t, err)
			assert.Equal(t, st.InFlight, 0)

			_, err = e.chain.Relay(e.ctx, e.d.Relayer, channel, 1, tt.outcome)
			assert.True(t, errors.Is(err, ErrPacketNotFound))
		})
	}
}

func TestRelay_TimeoutWindow(t *testing.T) {
	e := newFixture(t, "0.5")
	_, err := e.send()
	assert.NoError(t, err)

	_, err = e.chain.Relay(e.ctx, e.d.Relayer, channel, 1, OutcomeTimeout)
	assert.True(t, errors.Is(err, ErrNotTimedOut))

	e.clock.Advance(saga.DefaultTransferTimeout)
	_, err = e.chain.Relay(e.ctx, e.d.Relayer, channel, 1, OutcomeAck)
	assert.True(t, errors.Is(err, ErrTimedOut))

	_, err = e.chain.Relay(e.ctx, e.d.Relayer, channel, 1, OutcomeTimeout)
	assert.NoError(t, err)
}

func TestRelay_ReconcileDoesNotTouchInFlightSaga(t *testing.T) {
	e := newFixture(t, "0.5")
	_, err := e.chain.Fund(e.ctx, e.user, funds.Coins{funds.NewCoin(300, bridged)})
	assert.NoError(t, err)
	_, err = e.send()
	assert.NoError(t, err)
	_, err = e.send()
	assert.NoError(t, err)

	_, err = e.chain.Relay(e.ctx, e.d.Relayer, channel, 2, OutcomeAckError)
	assert.NoError(t, err)

	transfers, err := e.d.InFlightTransfers(e.ctx, saga.InFlightTransfersQuery{})
	assert.NoError(t, err)
	assert.Equal(t, len(transfers), 1)
	assert.Equal(t, transfers[0].Key.Sequence, uint64(1))
	assert.Equal(t, e.balance(e.user, canonical), "200")
}

// failingSender is a contract that starts transfers and fails every Sudo.
type failingSender struct{}

func (failingSender) Execute(_ context.Context, _ wasm.Deps, env wasm.Env, info wasm.MessageInfo, _ json.RawMessage) (*wasm.Response, error) {
	fee := testFee()
	return wasm.NewResponse().AddMessage(wasm.IbcTransfer{
		SourcePort:       "transfer",
		SourceChannel:    channel,
		Token:            funds.NewCoin(10, canonical),
		Sender:           env.Contract,
		Receiver:         "cosmos1receiver",
		TimeoutTimestamp: uint64(env.BlockTime.Add(time.Minute).UnixNano()),
		Fee:              wasm.IbcFee(fee),
	}), nil
}

func (failingSender) Reply(context.Context, wasm.Deps, wasm.Env, wasm.Reply) (*wasm.Response, error) {
	return nil, ErrUnsupported
}

func (failingSender) Query(context.Context, wasm.Deps, wasm.Env, json.RawMessage) (json.RawMessage, error) {
	return nil, ErrUnsupported
}

func (failingSender) Sudo(context.Context, wasm.Deps, wasm.Env, wasm.SudoMsg) (*wasm.Response, error) {
	return nil, errors.New("boom")
}

func TestRelay_SudoFailureDoesNotRevert(t *testing.T) {
	e := newFixture(t, "0.5")
	addr, _, err := e.chain.Instantiate(e.ctx, e.user, "sender", failingSender{}, nil)
	assert.NoError(t, err)
	_, err = e.chain.Fund(e.ctx, addr, funds.Coins{funds.NewCoin(10, canonical), funds.NewCoin(50, feeDenom)})
	assert.NoError(t, err)
	_, err = e.chain.Execute(e.ctx, e.user, addr, json.RawMessage(`{}`), nil)
	assert.NoError(t, err)

	res, err := e.chain.Relay(e.ctx, e.d.Relayer, channel, 1, OutcomeAckError)
	assert.NoError(t, err)
	kind, ok := res.Attribute("sudo_failure", "kind")
	assert.True(t, ok)
	assert.Equal(t, kind, "error")

	// the packet is resolved and the tokens are back with the sender
	pending, err := e.chain.PendingPackets(e.ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(pending), 0)
	assert.Equal(t, e.balance(addr, canonical), "10")
	assert.Equal(t, e.balance(addr, feeDenom), "30")
}

func TestIbcTransfer_Rejections(t *testing.T) {
	e := newFixture(t, "0.5")

	msg := e.request()
	msg.SourceChannel = "channel-99"
	_, err := e.d.WrapAndSend(e.ctx, e.user, msg, funds.Coins{funds.NewCoin(300, bridged)})
	assert.True(t, errors.Is(err, ErrUnknownChannel))

	// a refused transfer reverts the whole transaction
	e.assertIdle()
	assert.Equal(t, e.balance(e.user, bridged), "300")
}

func TestUnwrap_BurnsCanonical(t *testing.T) {
	e := newFixture(t, "0.5")
	// the custody contract keeps the bridged deposit of a wrap
	_, err := e.send()
	assert.NoError(t, err)
	_, err = e.chain.Fund(e.ctx, e.user, funds.Coins{funds.NewCoin(120, canonical)})
	assert.NoError(t, err)

	res, err := e.d.Unwrap(e.ctx, e.user, funds.NewCoin(100, canonical), "")
	assert.NoError(t, err)
	action, ok := res.Attribute("wasm", "action")
	assert.True(t, ok)
	assert.Equal(t, action, "burn")
	assert.Equal(t, e.balance(e.user, bridged), "100")
	assert.Equal(t, e.balance(e.user, canonical), "20")
	assert.Equal(t, e.balance(e.d.CustodyAddr, bridged), "200")

	other := e.chain.AccountAddress("other")
	_, err = e.d.Unwrap(e.ctx, e.user, funds.NewCoin(20, canonical), other)
	assert.NoError(t, err)
	assert.Equal(t, e.balance(other, bridged), "20")
	assert.Equal(t, e.balance(e.user, canonical), "0")
}

func TestUnwrap_Rejections(t *testing.T) {
	e := newFixture(t, "0.5")
	_, err := e.send()
	assert.NoError(t, err)
	_, err = e.chain.Fund(e.ctx, e.user, funds.Coins{funds.NewCoin(50, canonical)})
	assert.NoError(t, err)

	_, err = e.d.Unwrap(e.ctx, e.user, funds.NewCoin(50, bridged), "")
	assert.True(t, errors.Is(err, funds.ErrInvalidDenom))
	_, err = e.d.Unwrap(e.ctx, e.user, funds.NewCoin(0, canonical), "")
	assert.True(t, errors.Is(err, funds.ErrInvalidAmount))

	e.d.Custody.SetFail(true)
	_, err = e.d.Unwrap(e.ctx, e.user, funds.NewCoin(50, canonical), "")
	assert.True(t, errors.Is(err, ErrMockFailure))
	// the attached funds come back with the reverted transaction
	assert.Equal(t, e.balance(e.user, canonical), "50")
	assert.Equal(t, e.balance(e.d.CustodyAddr, bridged), "300")
}

func TestBootstrap_ReusesStore(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	setup := Setup{
		Saga:           saga.Config{CanonicalDenom: canonical, BridgedDenom: bridged},
		SwapRate:       decimal.RequireFromString("0.5"),
		CustodyReserve: decimal.NewFromInt(1000),
	}

	first, err := Bootstrap(ctx, New(kv, testFee(), Config{Channels: []string{channel}}), setup)
	assert.NoError(t, err)

	second := New(kv, testFee(), Config{Channels: []string{channel}})
	d, err := Bootstrap(ctx, second, setup)
	assert.NoError(t, err)
	assert.Equal(t, d.Orchestrator, first.Orchestrator)
	// reserves are only funded once
	assert.Equal(t, d.Config, first.Config)
	bal, err := second.Balance(ctx, d.CustodyAddr, canonical)
	assert.NoError(t, err)
	assert.Equal(t, bal.Amount.String(), "1000")

	setup.Saga.TransferTimeout = time.Minute
	_, err = Bootstrap(ctx, New(kv, testFee(), Config{Channels: []string{channel}}), setup)
	assert.True(t, errors.Is(err, ErrConfigMismatch))
}

func TestRouter_Query(t *testing.T) {
	r := NewRouter(decimal.RequireFromString("1.5"))
	raw, err := r.Query(context.Background(), wasm.Deps{}, wasm.Env{}, nil)
	assert.NoError(t, err)
	var s RouterSettings
	assert.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, s.Rate.String(), "1.5")
}
