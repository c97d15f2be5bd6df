package saga

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/custody"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

func TestWrapAndSend_IssuesMint(t *testing.T) {
	h := newHarness(t)
	resp, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
	assert.NoError(t, err)
	assert.Equal(t, len(resp.Messages), 1)

	sub := resp.Messages[0]
	assert.Equal(t, sub.ReplyOn, wasm.ReplyAlways)
	exec, ok := sub.Msg.(wasm.WasmExecute)
	assert.True(t, ok)
	assert.Equal(t, exec.Contract, testCustody)
	assert.Equal(t, exec.Funds.String(), "300"+testBridged)

	var mint custody.ExecuteMsg
	assert.NoError(t, json.Unmarshal(exec.Msg, &mint))
	assert.NotNil(t, mint.Mint)

	p := h.phase()
	assert.Equal(t, p.Kind, PhaseAwaitingMint)
	assert.Equal(t, p.Mint.Refund.String(), "300"+testBridged)
	assert.Equal(t, p.Mint.Minted.String(), "300"+testCanonical)
	assert.Equal(t, p.Mint.RefundAddress, testUser)

	id, ok := resp.AttributeValue("saga_id")
	assert.True(t, ok)
	assert.Equal(t, id, p.SagaID)
}

func TestWrapAndSend_RejectsInput(t *testing.T) {
	bad := func(mutate func(*WrapAndSendMsg)) WrapAndSendMsg {
		m := defaultRequest()
		mutate(&m)
		return m
	}
	cases := []struct {
		name    string
		msg     WrapAndSendMsg
		deposit []funds.Coin
		want    error
	}{
		{"no funds", defaultRequest(), nil, ErrNothingToMint},
		{"wrong denom", defaultRequest(), []funds.Coin{funds.NewCoin(300, "uatom")}, ErrNothingToMint},
		{"two denoms", defaultRequest(), []funds.Coin{funds.NewCoin(300, testBridged), funds.NewCoin(1, "uatom")}, ErrExtraFunds},
		{"two denoms without match", defaultRequest(), []funds.Coin{funds.NewCoin(300, "uosmo"), funds.NewCoin(1, "uatom")}, ErrExtraFunds},
		{"bad receiver", bad(func(m *WrapAndSendMsg) { m.Receiver = "cosmos1notanaddress" }), nil, ErrInvalidAddress},
		{"foreign refund address", bad(func(m *WrapAndSendMsg) { m.RefundAddress = testReceiver }), nil, ErrInvalidAddress},
		{"missing channel", bad(func(m *WrapAndSendMsg) { m.SourceChannel = "" }), nil, ErrInvalidRequest},
		{"negative swap amount", bad(func(m *WrapAndSendMsg) { m.AmountToSwapForFee = decimal.NewFromInt(-1) }), nil, ErrInvalidRequest},
		{"fee denom is canonical", bad(func(m *WrapAndSendMsg) { m.FeeDenom = testCanonical }), nil, ErrInvalidRoute},
		{"route to wrong denom", bad(func(m *WrapAndSendMsg) {
			m.SwapOperations = []astroport.SwapOperation{astroport.Hop(testCanonical, "uatom")}
		}), nil, ErrInvalidRoute},
		{"empty route", bad(func(m *WrapAndSendMsg) { m.SwapOperations = nil }), nil, ErrInvalidRoute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			deposit := tc.deposit
			if deposit == nil && tc.want != ErrNothingToMint {
				deposit = []funds.Coin{funds.NewCoin(300, testBridged)}
			}
			_, err := h.execute(tc.msg, deposit...)
			assert.True(t, errors.Is(err, tc.want))
			assert.Equal(t, Classify(err), ClassValidation)
			assert.Equal(t, h.phase().Kind, PhaseIdle)
		})
	}
}

func TestWrapAndSend_NotInstantiated(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, configItem.Remove(h.ctx, h.kv))
	_, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
	assert.True(t, errors.Is(err, ErrNotInstantiated))
}

func TestWrapAndSend_Reentrance(t *testing.T) {
	h := newHarness(t)
	_, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
	assert.NoError(t, err)
	before := h.phase()

	resp, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
	assert.True(t, errors.Is(err, ErrAlreadyInExecution))
	assert.Equal(t, Classify(err), ClassConcurrency)
	assert.True(t, resp == nil)

	after := h.phase()
	assert.Equal(t, after.Kind, PhaseAwaitingMint)
	assert.Equal(t, after.SagaID, before.SagaID)
}

func TestMintOutcome_FailureRefundsDeposit(t *testing.T) {
	h := newHarness(t)
	resp, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
	assert.NoError(t, err)

	resp, err = h.reply(resp.Messages[0], wasm.SubMsgResult{Err: "custody paused"})
	assert.NoError(t, err)
	assert.Equal(t, len(resp.Messages), 1)
	send, ok := resp.Messages[0].Msg.(wasm.BankSend)
	assert.True(t, ok)
	assert.Equal(t, resp.Messages[0].ReplyOn, wasm.ReplyNever)
	assert.Equal(t, send.ToAddress, testUser)
	assert.Equal(t, send.Amount.String(), "300"+testBridged)

	reason, _ := resp.AttributeValue("reason")
	assert.Equal(t, reason, reasonMintFailed)
	assert.Equal(t, h.phase().Kind, PhaseIdle)

	// the guard is free again
	_, err = h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
	assert.NoError(t, err)
}

func TestMintOutcome_SwapAmountChecks(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		want   error
	}{
		{"zero", 0, ErrZeroForSwap},
		{"equal to minted", 300, ErrNotEnoughForSwap},
		{"above minted", 301, ErrNotEnoughForSwap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			msg := defaultRequest()
			msg.AmountToSwapForFee = decimal.NewFromInt(tc.amount)
			resp, err := h.execute(msg, funds.NewCoin(300, testBridged))
			assert.NoError(t, err)

			_, err = h.reply(resp.Messages[0], wasm.SubMsgResult{})
			assert.True(t, errors.Is(err, tc.want))
			assert.Equal(t, h.phase().Kind, PhaseIdle)
		})
	}
}

func TestMintOutcome_IssuesSwap(t *testing.T) {
	h := newHarness(t)
	swap := h.startSwap(defaultRequest(), 300)

	assert.Equal(t, swap.ReplyOn, wasm.ReplyAlways)
	exec, ok := swap.Msg.(wasm.WasmExecute)
	assert.True(t, ok)
	assert.Equal(t, exec.Contract, testRouter)
	assert.Equal(t, exec.Funds.String(), "100"+testCanonical)

	var msg astroport.ExecuteMsg
	assert.NoError(t, json.Unmarshal(exec.Msg, &msg))
	assert.NotNil(t, msg.ExecuteSwapOperations)
	assert.Equal(t, msg.ExecuteSwapOperations.MinimumReceive.String(), "50")
	assert.True(t, msg.ExecuteSwapOperations.To == nil)
	assert.True(t, msg.ExecuteSwapOperations.MaxSpread == nil)

	p := h.phase()
	assert.Equal(t, p.Kind, PhaseAwaitingSwap)
	assert.Equal(t, p.Swap.AmountToSend.String(), "200")
	assert.Equal(t, p.Swap.Received.String(), "300"+testCanonical)
}

func TestMintOutcome_FeeUnavailable(t *testing.T) {
	h := newHarness(t)
	h.q.fee.AckFee = funds.Coins{funds.NewCoin(20, "uatom")}
	resp, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
	assert.NoError(t, err)

	_, err = h.reply(resp.Messages[0], wasm.SubMsgResult{})
	assert.True(t, errors.Is(err, ErrMinFeeUnavailable))
	assert.Equal(t, Classify(err), ClassInvariant)
}

func TestSwapOutcome_ExactFee(t *testing.T) {
	h := newHarness(t)
	resp := h.startTransfer(50)

	assert.Equal(t, len(resp.Messages), 1)
	sub := resp.Messages[0]
	assert.Equal(t, sub.ReplyOn, wasm.ReplyOnSuccess)
	transfer, ok := sub.Msg.(wasm.IbcTransfer)
	assert.True(t, ok)
	assert.Equal(t, transfer.Token.String(), "200"+testCanonical)
	assert.Equal(t, transfer.Sender, testContract)
	assert.Equal(t, transfer.Receiver, testReceiver)
	assert.Equal(t, transfer.SourcePort, "transfer")
	assert.Equal(t, transfer.SourceChannel, "channel-8")
	assert.Equal(t, transfer.TimeoutTimestamp, uint64(testBlock.Add(DefaultTransferTimeout).UnixNano()))
	assert.Equal(t, transfer.TimeoutHeight, wasm.Height{})
	assert.Equal(t, transfer.Fee.AckFee.String(), "20"+testFeeDenom)
	assert.Equal(t, transfer.Fee.TimeoutFee.String(), "30"+testFeeDenom)

	p := h.phase()
	assert.Equal(t, p.Kind, PhaseAwaitingTransferAccept)
	assert.Equal(t, p.Transfer.AmountToSend.String(), "200"+testCanonical)
}

func TestSwapOutcome_SurplusRefunded(t *testing.T) {
	h := newHarness(t)
	resp := h.startTransfer(62)

	assert.Equal(t, len(resp.Messages), 2)
	_, ok := resp.Messages[0].Msg.(wasm.IbcTransfer)
	assert.True(t, ok)
	send, ok := resp.Messages[1].Msg.(wasm.BankSend)
	assert.True(t, ok)
	assert.Equal(t, send.ToAddress, testUser)
	assert.Equal(t, send.Amount.String(), "12"+testFeeDenom)
}

func TestSwapOutcome_ProbeIgnoresPriorBalance(t *testing.T) {
	h := newHarness(t)
	h.q.setBalance(testContract, funds.NewCoin(10, testFeeDenom))
	swap := h.startSwap(defaultRequest(), 300)
	assert.Equal(t, h.phase().Swap.FeeBalanceBefore.String(), "10")

	h.q.setBalance(testContract, funds.NewCoin(72, testFeeDenom))
	resp, err := h.reply(swap, wasm.SubMsgResult{})
	assert.NoError(t, err)
	assert.Equal(t, len(resp.Messages), 2)
	send := resp.Messages[1].Msg.(wasm.BankSend)
	assert.Equal(t, send.Amount.String(), "12"+testFeeDenom)
}

func TestSwapOutcome_FailureRefundsCanonical(t *testing.T) {
	h := newHarness(t)
	swap := h.startSwap(defaultRequest(), 300)

	resp, err := h.reply(swap, wasm.SubMsgResult{Err: "max spread exceeded"})
	assert.NoError(t, err)
	assert.Equal(t, len(resp.Messages), 1)
	send := resp.Messages[0].Msg.(wasm.BankSend)
	assert.Equal(t, send.ToAddress, testUser)
	assert.Equal(t, send.Amount.String(), "300"+testCanonical)
	assert.Equal(t, h.phase().Kind, PhaseIdle)
}

func TestSwapOutcome_ShortfallRefund(t *testing.T) {
	h := newHarness(t)
	resp := h.startTransfer(40)

	assert.Equal(t, len(resp.Messages), 1)
	send, ok := resp.Messages[0].Msg.(wasm.BankSend)
	assert.True(t, ok)
	assert.Equal(t, send.Amount.String(), "200"+testCanonical+",40"+testFeeDenom)
	reason, _ := resp.AttributeValue("reason")
	assert.Equal(t, reason, reasonSwapShortfall)
	assert.Equal(t, h.phase().Kind, PhaseIdle)
}

func TestSwapOutcome_ShortfallAbort(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ShortfallPolicy = ShortfallAbort })
	swap := h.startSwap(defaultRequest(), 300)
	h.q.setBalance(testContract, funds.NewCoin(49, testFeeDenom))

	_, err := h.reply(swap, wasm.SubMsgResult{})
	assert.True(t, errors.Is(err, ErrSwappedForLessThanRequested))
	assert.Equal(t, Classify(err), ClassInvariant)
}

func TestTransferAccepted_RecordsInFlight(t *testing.T) {
	h := newHarness(t)
	resp := h.startTransfer(50)
	sagaID := h.phase().SagaID

	resp, err := h.accept(resp.Messages[0], 6, "channel-8")
	assert.NoError(t, err)
	assert.Equal(t, len(resp.Messages), 0)
	assert.Equal(t, h.phase().Kind, PhaseIdle)

	rec, err := inFlight.Load(h.ctx, h.kv, TransferKey{Sequence: 6, Channel: "channel-8"}.encode())
	assert.NoError(t, err)
	assert.Equal(t, rec.SagaID, sagaID)
	assert.Equal(t, rec.RefundAddress, testUser)
	assert.Equal(t, rec.Receiver, testReceiver)
	assert.Equal(t, rec.SentAmount.String(), "200"+testCanonical)
	assert.Equal(t, rec.Fee.TimeoutFee.String(), "30"+testFeeDenom)
}

func TestTransferAccepted_Malformed(t *testing.T) {
	h := newHarness(t)
	resp := h.startTransfer(50)
	_, err := h.reply(resp.Messages[0], wasm.SubMsgResult{Data: []byte("not json")})
	assert.True(t, errors.Is(err, ErrMalformedReply))
	// a failing handler still frees the guard
	assert.Equal(t, h.phase().Kind, PhaseIdle)

	h = newHarness(t)
	resp = h.startTransfer(50)
	_, err = h.accept(resp.Messages[0], 1, "")
	assert.True(t, errors.Is(err, ErrMalformedReply))
}

func TestTransferAccepted_KeyCollision(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, inFlight.Save(h.ctx, h.kv, TransferKey{Sequence: 6, Channel: "channel-8"}.encode(), InFlightTransfer{SagaID: "old"}))
	resp := h.startTransfer(50)

	_, err := h.accept(resp.Messages[0], 6, "channel-8")
	assert.True(t, errors.Is(err, ErrTransferExists))
}

func TestReply_RejectsMismatchedContinuation(t *testing.T) {
	h := newHarness(t)
	resp, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
	assert.NoError(t, err)
	p := h.phase()

	wrongKind := wasm.SubMsg{Payload: encodeContinuation(swapOutcome{}, p.SagaID)}
	_, err = h.reply(wrongKind, wasm.SubMsgResult{})
	assert.True(t, errors.Is(err, ErrUnexpectedPhase))

	stale := wasm.SubMsg{Payload: encodeContinuation(mintOutcome{}, "some-older-saga")}
	_, err = h.reply(stale, wasm.SubMsgResult{Err: "late"})
	assert.True(t, errors.Is(err, ErrUnexpectedPhase))

	_, err = h.reply(wasm.SubMsg{Payload: []byte(`{"continuation":"bogus","saga_id":"x"}`)}, wasm.SubMsgResult{})
	assert.True(t, errors.Is(err, ErrMalformedReply))
	_, err = h.reply(wasm.SubMsg{}, wasm.SubMsgResult{})
	assert.True(t, errors.Is(err, ErrMalformedReply))

	// none of the rejected replies touched the in-flight saga
	after := h.phase()
	assert.Equal(t, after.Kind, PhaseAwaitingMint)
	assert.Equal(t, after.SagaID, p.SagaID)

	_, err = h.reply(resp.Messages[0], wasm.SubMsgResult{})
	assert.NoError(t, err)
}

func TestExecute_UnknownMsg(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.Execute(h.ctx, h.deps, h.env, wasm.MessageInfo{}, json.RawMessage(`{"burn":{}}`))
	assert.True(t, errors.Is(err, ErrUnknownMsg))
}

func TestInstantiate(t *testing.T) {
	h := newHarness(t)
	raw, _ := json.Marshal(testConfig())
	_, err := h.o.Instantiate(h.ctx, h.deps, h.env, wasm.MessageInfo{}, raw)
	assert.True(t, errors.Is(err, ErrAlreadyInstantiated))

	assert.Equal(t, h.cfg.TransferTimeout, DefaultTransferTimeout)
	assert.Equal(t, h.cfg.ShortfallPolicy, ShortfallRefund)
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no prefix", func(c *Config) { c.Bech32Prefix = "" }},
		{"custody on other chain", func(c *Config) { c.CustodyContract = testReceiver }},
		{"bad router", func(c *Config) { c.SwapRouter = "neutron1xyz" }},
		{"bad denom", func(c *Config) { c.CanonicalDenom = "1x" }},
		{"same denoms", func(c *Config) { c.BridgedDenom = c.CanonicalDenom }},
		{"negative timeout", func(c *Config) { c.TransferTimeout = -1 }},
		{"unknown policy", func(c *Config) { c.ShortfallPolicy = "ignore" }},
	}
	assert.NoError(t, testConfig().WithDefaults().Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig().WithDefaults()
			tc.mutate(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
		})
	}
}

func TestReply_RepeatedFailureRefundsOnce(t *testing.T) {
	t.Run("mint", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
		assert.NoError(t, err)
		mint := resp.Messages[0]

		refund, err := h.reply(mint, wasm.SubMsgResult{Err: "custody paused"})
		assert.NoError(t, err)
		assert.Equal(t, len(refund.Messages), 1)
		assert.Equal(t, h.phase().Kind, PhaseIdle)

		again, err := h.reply(mint, wasm.SubMsgResult{Err: "custody paused"})
		assert.True(t, errors.Is(err, ErrContextNotFound))
		assert.True(t, errors.Is(err, ErrUnexpectedPhase))
		assert.Equal(t, Classify(err), ClassInvariant)
		assert.True(t, again == nil)
		assert.Equal(t, h.phase().Kind, PhaseIdle)
	})

	t.Run("swap", func(t *testing.T) {
		h := newHarness(t)
		swap := h.startSwap(defaultRequest(), 300)

		refund, err := h.reply(swap, wasm.SubMsgResult{Err: "max spread exceeded"})
		assert.NoError(t, err)
		assert.Equal(t, len(refund.Messages), 1)

		again, err := h.reply(swap, wasm.SubMsgResult{Err: "max spread exceeded"})
		assert.True(t, errors.Is(err, ErrContextNotFound))
		assert.True(t, errors.Is(err, ErrUnexpectedPhase))
		assert.True(t, again == nil)
		assert.Equal(t, h.phase().Kind, PhaseIdle)
	})

	t.Run("replay during a newer saga", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
		assert.NoError(t, err)
		oldMint := resp.Messages[0]
		_, err = h.reply(oldMint, wasm.SubMsgResult{Err: "custody paused"})
		assert.NoError(t, err)

		_, err = h.execute(defaultRequest(), funds.NewCoin(300, testBridged))
		assert.NoError(t, err)
		current := h.phase()

		// the newer saga is awaiting a mint too, but under another id
		again, err := h.reply(oldMint, wasm.SubMsgResult{Err: "custody paused"})
		assert.True(t, errors.Is(err, ErrUnexpectedPhase))
		assert.False(t, errors.Is(err, ErrContextNotFound))
		assert.True(t, again == nil)
		assert.Equal(t, h.phase().SagaID, current.SagaID)
		assert.Equal(t, h.phase().Kind, PhaseAwaitingMint)
	})
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Classify(nil), ClassInternal)
	assert.Equal(t, Classify(errors.New("disk full")), ClassInternal)
	assert.Equal(t, Classify(ErrNothingToMint), ClassValidation)
	assert.Equal(t, Classify(funds.ErrExtraFunds), ClassValidation)
	assert.Equal(t, Classify(ErrTransferNotFound), ClassInvariant)
	assert.Equal(t, Classify(ErrContextNotFound), ClassInvariant)
	assert.Equal(t, ClassConcurrency.String(), "concurrency")
}
