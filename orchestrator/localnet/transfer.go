package localnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
)

const transferPort = "transfer"

var (
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrInsufficientFee = errors.New("insufficient relayer fee")
	ErrInvalidTransfer = errors.New("invalid transfer")
	ErrPacketNotFound  = errors.New("packet not found")
	ErrNotTimedOut     = errors.New("packet has not timed out")
	ErrTimedOut        = errors.New("packet timed out")
)

// Outcome is how a relayer resolves a packet.
type Outcome string

const (
	OutcomeAck      Outcome = "ack"
	OutcomeAckError Outcome = "ack_error"
	OutcomeTimeout  Outcome = "timeout"
)

func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeAck, OutcomeAckError, OutcomeTimeout:
		return o, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// Packet is a transfer the module accepted and no relayer resolved yet.
type Packet struct {
	Sequence         uint64      `json:"sequence"`
	SourcePort       string      `json:"source_port"`
	SourceChannel    string      `json:"source_channel"`
	Sender           string      `json:"sender"`
	Receiver         string      `json:"receiver"`
	Token            funds.Coin  `json:"token"`
	Memo             string      `json:"memo,omitempty"`
	Fee              wasm.IbcFee `json:"fee"`
	TimeoutTimestamp uint64      `json:"timeout_timestamp"`
}

var (
	nextSequence = storage.NewMap[uint64]("ibc/next_sequence")
	packets      = storage.NewMap[Packet]("ibc/packets")
)

func packetKey(channel string, seq uint64) string {
	return fmt.Sprintf("%s/%020d", channel, seq)
}

// EscrowAddress holds transferred tokens.
func (c *Chain) EscrowAddress() string {
	return c.AccountAddress("module/transfer")
}

// FeeEscrowAddress holds relayer fees until a packet is resolved.
func (c *Chain) FeeEscrowAddress() string {
	return c.AccountAddress("module/feerefunder")
}

func wasmEvent(typ string, kv ...string) wasm.Event {
	ev := wasm.Event{Type: typ}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, wasm.Attr(kv[i], kv[i+1]))
	}
	return ev
}

// coversFee reports whether every denom of need is paid in full by got.
func coversFee(got, need funds.Coins) bool {
	for _, c := range need.Normalize() {
		if got.AmountOf(c.Denom).LessThan(c.Amount) {
			return false
		}
	}
	return true
}

func (t *tx) ibcTransfer(ctx context.Context, kv storage.KV, from string, m wasm.IbcTransfer) ([]byte, error) {
	c := t.chain
	if m.SourcePort != transferPort {
		return nil, fmt.Errorf("%w: port %q", ErrUnknownChannel, m.SourcePort)
	}
	if !c.channels[m.SourceChannel] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, m.SourceChannel)
	}
	if m.Sender != from {
		return nil, fmt.Errorf("%w: sender %s is not the caller %s", ErrInvalidTransfer, m.Sender, from)
	}
	if m.Receiver == "" {
		return nil, fmt.Errorf("%w: empty receiver", ErrInvalidTransfer)
	}
	if err := m.Token.Validate(); err != nil || m.Token.IsZero() {
		return nil, fmt.Errorf("%w: token %s", ErrInvalidTransfer, m.Token)
	}
	if m.TimeoutTimestamp == 0 && m.TimeoutHeight == (wasm.Height{}) {
		return nil, fmt.Errorf("%w: no timeout", ErrInvalidTransfer)
	}
	if m.TimeoutTimestamp != 0 && m.TimeoutTimestamp <= uint64(t.env.BlockTime.UnixNano()) {
		return nil, fmt.Errorf("%w: timeout already passed", ErrInvalidTransfer)
	}

	minFee, err := c.fee.MinIbcFee(ctx)
	if err != nil {
		return nil, fmt.Errorf("min fee: %w", err)
	}
	if !m.Fee.RecvFee.IsZero() {
		return nil, fmt.Errorf("%w: recv fee must be empty", ErrInsufficientFee)
	}
	if !coversFee(m.Fee.AckFee, minFee.AckFee) || !coversFee(m.Fee.TimeoutFee, minFee.TimeoutFee) {
		return nil, fmt.Errorf("%w: have ack %s timeout %s, need ack %s timeout %s", ErrInsufficientFee,
			m.Fee.AckFee, m.Fee.TimeoutFee, minFee.AckFee, minFee.TimeoutFee)
	}

	if err := bankSend(ctx, kv, from, c.EscrowAddress(), funds.Coins{m.Token}); err != nil {
		return nil, err
	}
	if err := bankSend(ctx, kv, from, c.FeeEscrowAddress(), m.Fee.Total()); err != nil {
		return nil, fmt.Errorf("escrow fee: %w", err)
	}

	seq, _, err := nextSequence.May(ctx, kv, m.SourceChannel)
	if err != nil {
		return nil, err
	}
	if seq == 0 {
		seq = 1
	}
	if err := nextSequence.Save(ctx, kv, m.SourceChannel, seq+1); err != nil {
		return nil, err
	}
	p := Packet{
		Sequence:         seq,
		SourcePort:       m.SourcePort,
		SourceChannel:    m.SourceChannel,
		Sender:           from,
		Receiver:         m.Receiver,
		Token:            m.Token,
		Memo:             m.Memo,
		Fee:              m.Fee,
		TimeoutTimestamp: m.TimeoutTimestamp,
	}
	if err := packets.Save(ctx, kv, packetKey(p.SourceChannel, seq), p); err != nil {
		return nil, err
	}

	t.emit(wasmEvent("send_packet",
		"packet_sequence", strconv.FormatUint(seq, 10),
		"packet_src_port", p.SourcePort,
		"packet_src_channel", p.SourceChannel,
		"packet_timeout_timestamp", strconv.FormatUint(p.TimeoutTimestamp, 10),
		"sender", p.Sender,
		"receiver", p.Receiver,
		"amount", p.Token.String(),
	))
	log.Debug().
		Uint64("sequence", seq).
		Str("channel", p.SourceChannel).
		Str("token", p.Token.String()).
		Msg("Transfer accepted")

	return json.Marshal(wasm.MsgIbcTransferResponse{SequenceID: seq, Channel: p.SourceChannel})
}

// PendingPackets lists unresolved packets in channel and sequence order.
func (c *Chain) PendingPackets(ctx context.Context) ([]Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Packet, 0)
	err := packets.Range(ctx, c.root, func(_ string, p Packet) bool {
		out = append(out, p)
		return true
	})
	return out, err
}

// Relay resolves a packet the way a relayer would. The fee that paid for
// the outcome goes to relayer, the unused fee goes back to the sender, and
// the sender contract is notified through Sudo. A failing Sudo is recorded
// in the events but does not undo the resolution.
func (c *Chain) Relay(ctx context.Context, relayer, channel string, seq uint64, outcome Outcome) (*TxResult, error) {
	return c.run(ctx, func(t *tx, kv storage.KV) ([]byte, error) {
		key := packetKey(channel, seq)
		p, ok, err := packets.May(ctx, kv, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s/%d", ErrPacketNotFound, channel, seq)
		}
		timedOut := p.TimeoutTimestamp != 0 && uint64(t.env.BlockTime.UnixNano()) >= p.TimeoutTimestamp
		switch {
		case outcome == OutcomeTimeout && !timedOut:
			return nil, fmt.Errorf("%w: times out at %s", ErrNotTimedOut, time.Unix(0, int64(p.TimeoutTimestamp)).UTC())
		case outcome != OutcomeTimeout && timedOut:
			return nil, fmt.Errorf("%w: %s/%d", ErrTimedOut, channel, seq)
		}

		paid, unused := p.Fee.AckFee, p.Fee.TimeoutFee
		if outcome == OutcomeTimeout {
			paid, unused = p.Fee.TimeoutFee, p.Fee.AckFee
		}
		if err := bankSend(ctx, kv, c.FeeEscrowAddress(), relayer, paid.Add(p.Fee.RecvFee...)); err != nil {
			return nil, err
		}
		if err := bankSend(ctx, kv, c.FeeEscrowAddress(), p.Sender, unused); err != nil {
			return nil, err
		}
		// tokens come back unless the receiving chain took them
		if outcome != OutcomeAck {
			if err := bankSend(ctx, kv, c.EscrowAddress(), p.Sender, funds.Coins{p.Token}); err != nil {
				return nil, err
			}
		}
		if err := packets.Remove(ctx, kv, key); err != nil {
			return nil, err
		}

		t.emit(wasmEvent("resolve_packet",
			"packet_sequence", strconv.FormatUint(seq, 10),
			"packet_src_channel", channel,
			"outcome", string(outcome),
			"relayer", relayer,
			"relayer_fee", paid.Normalize().String(),
			"refunded_fee", unused.Normalize().String(),
		))

		t.sudo(ctx, kv, p, outcome)
		return nil, nil
	})
}

// sudo notifies the sender contract in a branch of its own.
func (t *tx) sudo(ctx context.Context, kv storage.KV, p Packet, outcome Outcome) {
	ct, ok := t.chain.contracts[p.Sender]
	if !ok {
		return
	}
	sc, ok := ct.(wasm.SudoContract)
	if !ok {
		return
	}
	seq, port, channel := p.Sequence, p.SourcePort, p.SourceChannel
	req := wasm.RequestPacket{
		Sequence:         &seq,
		SourcePort:       &port,
		SourceChannel:    &channel,
		TimeoutTimestamp: p.TimeoutTimestamp,
	}
	var msg wasm.SudoMsg
	switch outcome {
	case OutcomeAck:
		msg = wasm.SudoResponse{Request: req, Data: []byte(`{"result":"AQ=="}`)}
	case OutcomeAckError:
		msg = wasm.SudoError{Request: req, Details: "ABCI code: 1: error handling packet: see events for details"}
	default:
		msg = wasm.SudoTimeout{Request: req}
	}

	branch := storage.NewCacheKV(kv)
	mark := len(t.events)
	err := func() error {
		resp, err := sc.Sudo(ctx, t.deps(branch, p.Sender), t.envFor(p.Sender), msg)
		if err != nil {
			return err
		}
		if _, err := t.handle(ctx, branch, 0, p.Sender, resp); err != nil {
			return err
		}
		return branch.Write(ctx)
	}()
	if err != nil {
		t.events = t.events[:mark]
		t.emit(wasmEvent("sudo_failure",
			"contract", p.Sender,
			"kind", wasm.SudoKind(msg),
			"packet_sequence", strconv.FormatUint(p.Sequence, 10),
			"error", err.Error(),
		))
		log.Warn().Err(err).Str("contract", p.Sender).Uint64("sequence", p.Sequence).Msg("Sudo failed")
	}
}
