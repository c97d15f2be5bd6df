package saga

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/zeebo/assert"
)

// inFlightHarness runs a saga up to an accepted transfer on channel-8/6.
func inFlightHarness(t *testing.T) *harness {
	h := newHarness(t)
	resp := h.startTransfer(50)
	_, err := h.accept(resp.Messages[0], 6, "channel-8")
	assert.NoError(t, err)
	return h
}

func TestSudo_Refunds(t *testing.T) {
	cases := []struct {
		name   string
		msg    wasm.SudoMsg
		refund string
		action string
	}{
		{"ack success", wasm.SudoResponse{Request: packet(6, "channel-8")}, "30" + testFeeDenom, "ibc_ack"},
		{"ack error", wasm.SudoError{Request: packet(6, "channel-8"), Details: "bad receiver"}, "200" + testCanonical + ",30" + testFeeDenom, "ibc_ack"},
		{"timeout", wasm.SudoTimeout{Request: packet(6, "channel-8")}, "200" + testCanonical + ",20" + testFeeDenom, "ibc_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := inFlightHarness(t)
			resp, err := h.o.Sudo(h.ctx, h.deps, h.env, tc.msg)
			assert.NoError(t, err)

			assert.Equal(t, len(resp.Messages), 1)
			send, ok := resp.Messages[0].Msg.(wasm.BankSend)
			assert.True(t, ok)
			assert.Equal(t, send.ToAddress, testUser)
			assert.Equal(t, send.Amount.String(), tc.refund)
			action, _ := resp.AttributeValue("action")
			assert.Equal(t, action, tc.action)

			has, err := inFlight.Has(h.ctx, h.kv, TransferKey{Sequence: 6, Channel: "channel-8"}.encode())
			assert.NoError(t, err)
			assert.False(t, has)

			// a duplicate notification must not refund twice
			_, err = h.o.Sudo(h.ctx, h.deps, h.env, tc.msg)
			assert.True(t, errors.Is(err, ErrTransferNotFound))
		})
	}
}

func TestSudo_IgnoresGuard(t *testing.T) {
	h := inFlightHarness(t)
	// a new saga holds the guard while the old transfer resolves
	_, err := h.execute(defaultRequest(), depositOf(300))
	assert.NoError(t, err)
	assert.Equal(t, h.phase().Kind, PhaseAwaitingMint)

	_, err = h.o.Sudo(h.ctx, h.deps, h.env, wasm.SudoTimeout{Request: packet(6, "channel-8")})
	assert.NoError(t, err)
	assert.Equal(t, h.phase().Kind, PhaseAwaitingMint)
}

func TestSudo_UnknownAndMalformed(t *testing.T) {
	h := inFlightHarness(t)

	_, err := h.o.Sudo(h.ctx, h.deps, h.env, wasm.SudoResponse{Request: packet(7, "channel-8")})
	assert.True(t, errors.Is(err, ErrTransferNotFound))
	_, err = h.o.Sudo(h.ctx, h.deps, h.env, wasm.SudoResponse{Request: packet(6, "channel-9")})
	assert.True(t, errors.Is(err, ErrTransferNotFound))

	noSeq := packet(6, "channel-8")
	noSeq.Sequence = nil
	_, err = h.o.Sudo(h.ctx, h.deps, h.env, wasm.SudoError{Request: noSeq})
	assert.True(t, errors.Is(err, ErrMalformedPacket))

	noChannel := packet(6, "channel-8")
	noChannel.SourceChannel = nil
	_, err = h.o.Sudo(h.ctx, h.deps, h.env, wasm.SudoTimeout{Request: noChannel})
	assert.True(t, errors.Is(err, ErrMalformedPacket))

	// the record survived every rejected notification
	has, err := inFlight.Has(h.ctx, h.kv, TransferKey{Sequence: 6, Channel: "channel-8"}.encode())
	assert.NoError(t, err)
	assert.True(t, has)
}

func TestQuery(t *testing.T) {
	h := inFlightHarness(t)

	raw, err := h.o.Query(h.ctx, h.deps, h.env, json.RawMessage(`{"config":{}}`))
	assert.NoError(t, err)
	var cfg Config
	assert.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, cfg.CustodyContract, testCustody)
	assert.Equal(t, cfg.TransferTimeout, DefaultTransferTimeout)

	raw, err = h.o.Query(h.ctx, h.deps, h.env, json.RawMessage(`{"status":{}}`))
	assert.NoError(t, err)
	var st StatusResponse
	assert.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, st.Phase, PhaseIdle)
	assert.Equal(t, st.InFlight, 1)

	_, err = h.o.Query(h.ctx, h.deps, h.env, json.RawMessage(`{"balance":{}}`))
	assert.True(t, errors.Is(err, ErrUnknownMsg))
}

func TestQuery_InFlightPagination(t *testing.T) {
	h := newHarness(t)
	keys := []TransferKey{
		{Sequence: 10, Channel: "channel-1"},
		{Sequence: 9, Channel: "channel-1"},
		{Sequence: 2, Channel: "channel-0"},
		{Sequence: 100, Channel: "channel-1"},
	}
	for _, k := range keys {
		assert.NoError(t, inFlight.Save(h.ctx, h.kv, k.encode(), InFlightTransfer{SagaID: k.String()}))
	}

	list := func(q string) []TransferEntry {
		raw, err := h.o.Query(h.ctx, h.deps, h.env, json.RawMessage(q))
		assert.NoError(t, err)
		var resp InFlightTransfersResponse
		assert.NoError(t, json.Unmarshal(raw, &resp))
		return resp.Transfers
	}

	all := list(`{"in_flight_transfers":{}}`)
	assert.Equal(t, len(all), 4)
	assert.Equal(t, all[0].Key, TransferKey{Sequence: 2, Channel: "channel-0"})
	assert.Equal(t, all[1].Key, TransferKey{Sequence: 9, Channel: "channel-1"})
	assert.Equal(t, all[2].Key, TransferKey{Sequence: 10, Channel: "channel-1"})
	assert.Equal(t, all[3].Key, TransferKey{Sequence: 100, Channel: "channel-1"})

	page := list(`{"in_flight_transfers":{"start_after":{"sequence_id":9,"channel":"channel-1"},"limit":1}}`)
	assert.Equal(t, len(page), 1)
	assert.Equal(t, page[0].Key, TransferKey{Sequence: 10, Channel: "channel-1"})
	assert.Equal(t, page[0].Record.SagaID, "channel-1#10")
}
