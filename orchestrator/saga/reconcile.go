package saga

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Sudo settles a transfer the transfer module has resolved. It refunds the
// unused part of the fee, plus the sent amount when the transfer did not go
// through, and forgets the transfer. A second notification for the same
// packet fails with ErrTransferNotFound.
//
// Sudo does not look at the saga guard; any number of sagas may have run
// since the transfer was issued.
func (o *Orchestrator) Sudo(ctx context.Context, deps wasm.Deps, env wasm.Env, msg wasm.SudoMsg) (*wasm.Response, error) {
	kind := wasm.SudoKind(msg)
	ctx, span := tracer.Start(ctx, "saga.Sudo", trace.WithAttributes(attribute.String("kind", kind)))
	defer span.End()

	resp, err := o.reconcile(ctx, deps, msg)
	return resp, traced(span, err)
}

func (o *Orchestrator) reconcile(ctx context.Context, deps wasm.Deps, msg wasm.SudoMsg) (*wasm.Response, error) {
	key, err := packetKey(msg.Packet())
	if err != nil {
		return nil, err
	}
	rec, ok, err := inFlight.May(ctx, deps.Store, key.encode())
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Error().
			Str("kind", wasm.SudoKind(msg)).
			Uint64("sequence", key.Sequence).
			Str("channel", key.Channel).
			Msg("Notification for unknown transfer")
		return nil, fmt.Errorf("%w: %s", ErrTransferNotFound, key)
	}

	resp := wasm.NewResponse()
	var refund funds.Coins
	var reason string
	switch m := msg.(type) {
	case wasm.SudoResponse:
		// ack fee paid the relayer; the timeout fee was never needed
		refund = funds.NewCoins(rec.Fee.TimeoutFee...)
		reason = reasonAckSuccess
		resp.AddAttributes(
			wasm.Attr("action", "ibc_ack"),
			wasm.Attr("status", "success"),
		)
	case wasm.SudoError:
		refund = funds.NewCoins(rec.SentAmount).Add(rec.Fee.TimeoutFee...)
		reason = reasonAckError
		resp.AddAttributes(
			wasm.Attr("action", "ibc_ack"),
			wasm.Attr("status", "failure"),
			wasm.Attr("details", m.Details),
		)
	case wasm.SudoTimeout:
		refund = funds.NewCoins(rec.SentAmount).Add(rec.Fee.AckFee...)
		reason = reasonTimeout
		resp.AddAttribute("action", "ibc_timeout")
	default:
		return nil, fmt.Errorf("%w: sudo %T", ErrUnknownMsg, msg)
	}

	if err := inFlight.Remove(ctx, deps.Store, key.encode()); err != nil {
		return nil, err
	}

	if !refund.IsZero() {
		resp.AddMessage(refundMsg(rec.RefundAddress, refund))
		recordRefund(ctx, reason)
	}
	resp.AddAttributes(
		wasm.Attr("saga_id", rec.SagaID),
		wasm.Attr("sequence_id", strconv.FormatUint(key.Sequence, 10)),
		wasm.Attr("channel", key.Channel),
		wasm.Attr("refund", refund.Normalize().String()),
	)
	if transfersReconciled != nil {
		transfersReconciled.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", reason)))
	}

	log.Info().
		Str("saga_id", rec.SagaID).
		Str("outcome", reason).
		Uint64("sequence", key.Sequence).
		Str("channel", key.Channel).
		Str("refund", refund.Normalize().String()).
		Msg("Transfer reconciled")
	return resp, nil
}

// packetKey pulls the in-flight key out of the request packet. Both fields
// are always set by the transfer module; their absence is a host fault.
func packetKey(p wasm.RequestPacket) (TransferKey, error) {
	if p.Sequence == nil || p.SourceChannel == nil || *p.SourceChannel == "" {
		return TransferKey{}, fmt.Errorf("%w: missing sequence or source channel", ErrMalformedPacket)
	}
	return TransferKey{Sequence: *p.Sequence, Channel: *p.SourceChannel}, nil
}
