package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/custody"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
)

// refund reasons, also used as the "reason" attribute
const (
	reasonMintFailed    = "mint_failed"
	reasonSwapFailed    = "swap_failed"
	reasonSwapShortfall = "not_enough_fee_after_swap"
	reasonSurplusFee    = "excess_swapped_fee"
	reasonAckSuccess    = "ack_success"
	reasonAckError      = "ack_error"
	reasonTimeout       = "timeout"
)

func refundMsg(to string, coins funds.Coins) wasm.BankSend {
	return wasm.BankSend{ToAddress: to, Amount: coins.Normalize()}
}

// onMintOutcome is continuation A. A failed mint was reverted by the host,
// so the bridged deposit is back in our custody and goes back to the user.
func (o *Orchestrator) onMintOutcome(ctx context.Context, deps wasm.Deps, env wasm.Env, sagaID string, result wasm.SubMsgResult) (_ *wasm.Response, err error) {
	f, err := resume(ctx, deps.Store, PhaseAwaitingMint, sagaID)
	if err != nil {
		return nil, err
	}
	defer f.release(ctx, &err)
	mc := *f.phase.Mint

	cfg, err := loadConfig(ctx, deps.Store)
	if err != nil {
		return nil, err
	}

	if err := custody.NewClient(cfg.CustodyContract).MintOutcome(result); err != nil {
		log.Info().
			Str("saga_id", sagaID).
			Str("refund", mc.Refund.String()).
			Str("error", result.Err).
			Msg("Mint failed, refunding deposit")
		recordRefund(ctx, reasonMintFailed)
		recordOutcome(ctx, reasonMintFailed)
		return wasm.NewResponse().
			AddMessage(refundMsg(mc.RefundAddress, funds.Coins{mc.Refund})).
			AddAttributes(
				wasm.Attr("action", "cancel_wrap_and_send"),
				wasm.Attr("saga_id", sagaID),
				wasm.Attr("reason", reasonMintFailed),
				wasm.Attr("amount", mc.Refund.String()),
			), nil
	}

	req := mc.Request
	received := mc.Minted.Amount
	if req.AmountToSwapForFee.IsZero() {
		return nil, ErrZeroForSwap
	}
	if req.AmountToSwapForFee.GreaterThanOrEqual(received) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrNotEnoughForSwap, req.AmountToSwapForFee, received)
	}
	amountToSend := received.Sub(req.AmountToSwapForFee)

	fee, err := QuoteFee(ctx, deps.Querier, req.FeeDenom)
	if err != nil {
		return nil, err
	}
	required := requiredFee(fee, req.FeeDenom)

	before, err := deps.Querier.Balance(ctx, env.Contract, req.FeeDenom)
	if err != nil {
		return nil, fmt.Errorf("probe %s balance: %w", req.FeeDenom, err)
	}

	offer := funds.NewCoinFromDecimal(req.AmountToSwapForFee, cfg.CanonicalDenom)
	swap, err := astroport.NewClient(cfg.SwapRouter).Swap(req.SwapOperations, required, offer)
	if err != nil {
		return nil, err
	}

	if err := f.handOn(ctx, awaitingSwap(sagaID, SwapContext{
		RefundAddress:    mc.RefundAddress,
		Received:         mc.Minted,
		AmountToSend:     amountToSend,
		Fee:              fee,
		FeeDenom:         req.FeeDenom,
		FeeBalanceBefore: before.Amount,
		Request:          req,
	})); err != nil {
		return nil, err
	}

	log.Debug().
		Str("saga_id", sagaID).
		Str("offer", offer.String()).
		Str("minimum_receive", required.String()+req.FeeDenom).
		Msg("Minted, swapping for fee")

	return wasm.NewResponse().
		AddSubMessage(subMsg(swap, wasm.ReplyAlways, swapOutcome{}, sagaID)).
		AddAttributes(
			wasm.Attr("subaction", "mint"),
			wasm.Attr("saga_id", sagaID),
			wasm.Attr("minted", mc.Minted.String()),
			wasm.Attr("subaction", "swap"),
			wasm.Attr("offer", offer.String()),
			wasm.Attr("minimum_receive", required.String()+req.FeeDenom),
		), nil
}

// onSwapOutcome is continuation B. The router returns nothing usable, so
// what the swap produced is probed from our own balance.
func (o *Orchestrator) onSwapOutcome(ctx context.Context, deps wasm.Deps, env wasm.Env, sagaID string, result wasm.SubMsgResult) (_ *wasm.Response, err error) {
	f, err := resume(ctx, deps.Store, PhaseAwaitingSwap, sagaID)
	if err != nil {
		return nil, err
	}
	defer f.release(ctx, &err)
	sc := *f.phase.Swap

	cfg, err := loadConfig(ctx, deps.Store)
	if err != nil {
		return nil, err
	}

	if err := astroport.NewClient(cfg.SwapRouter).SwapOutcome(result); err != nil {
		log.Info().
			Str("saga_id", sagaID).
			Str("refund", sc.Received.String()).
			Str("error", result.Err).
			Msg("Swap failed, refunding canonical funds")
		recordRefund(ctx, reasonSwapFailed)
		recordOutcome(ctx, reasonSwapFailed)
		return wasm.NewResponse().
			AddMessage(refundMsg(sc.RefundAddress, funds.Coins{sc.Received})).
			AddAttributes(
				wasm.Attr("action", "cancel_wrap_and_send"),
				wasm.Attr("saga_id", sagaID),
				wasm.Attr("reason", reasonSwapFailed),
				wasm.Attr("amount", sc.Received.String()),
			), nil
	}

	after, err := deps.Querier.Balance(ctx, env.Contract, sc.FeeDenom)
	if err != nil {
		return nil, fmt.Errorf("probe %s balance: %w", sc.FeeDenom, err)
	}
	obtained := after.Amount.Sub(sc.FeeBalanceBefore)
	required := requiredFee(sc.Fee, sc.FeeDenom)
	sendCoin := funds.NewCoinFromDecimal(sc.AmountToSend, cfg.CanonicalDenom)

	if obtained.LessThan(required) {
		log.Warn().
			Str("saga_id", sagaID).
			Str("obtained", obtained.String()).
			Str("required", required.String()).
			Str("policy", string(cfg.ShortfallPolicy)).
			Msg("Swap yielded less than the quoted fee")
		if cfg.ShortfallPolicy == ShortfallAbort {
			return nil, fmt.Errorf("%w: got %s%s, need %s%s", ErrSwappedForLessThanRequested,
				obtained, sc.FeeDenom, required, sc.FeeDenom)
		}
		refund := funds.Coins{sendCoin}
		if obtained.IsPositive() {
			refund = refund.Add(funds.NewCoinFromDecimal(obtained, sc.FeeDenom))
		}
		recordRefund(ctx, reasonSwapShortfall)
		recordOutcome(ctx, reasonSwapShortfall)
		return wasm.NewResponse().
			AddMessage(refundMsg(sc.RefundAddress, refund)).
			AddAttributes(
				wasm.Attr("action", "cancel_wrap_and_send"),
				wasm.Attr("saga_id", sagaID),
				wasm.Attr("reason", reasonSwapShortfall),
				wasm.Attr("amount", refund.Normalize().String()),
			), nil
	}

	timeout := uint64(env.BlockTime.Add(cfg.TransferTimeout).UnixNano())
	transfer := wasm.IbcTransfer{
		SourcePort:       sc.Request.SourcePort,
		SourceChannel:    sc.Request.SourceChannel,
		Token:            sendCoin,
		Sender:           env.Contract,
		Receiver:         sc.Request.Receiver,
		TimeoutTimestamp: timeout,
		Memo:             sc.Request.Memo,
		Fee:              sc.Fee,
	}

	if err := f.handOn(ctx, awaitingTransferAccept(sagaID, TransferContext{
		SourcePort:    transfer.SourcePort,
		SourceChannel: transfer.SourceChannel,
		Receiver:      transfer.Receiver,
		AmountToSend:  sendCoin,
		Fee:           sc.Fee,
		RefundAddress: sc.RefundAddress,
	})); err != nil {
		return nil, err
	}

	resp := wasm.NewResponse().
		AddSubMessage(subMsg(transfer, wasm.ReplyOnSuccess, transferAccepted{}, sagaID)).
		AddAttributes(
			wasm.Attr("subaction", "swap"),
			wasm.Attr("saga_id", sagaID),
			wasm.Attr("swapped_amount", obtained.String()+sc.FeeDenom),
			wasm.Attr("subaction", "ibc_transfer"),
			wasm.Attr("source_port", transfer.SourcePort),
			wasm.Attr("source_channel", transfer.SourceChannel),
			wasm.Attr("token", sendCoin.String()),
			wasm.Attr("sender", transfer.Sender),
			wasm.Attr("receiver", transfer.Receiver),
			wasm.Attr("timeout_height", "null"),
			wasm.Attr("timeout_timestamp", strconv.FormatUint(timeout, 10)),
		)

	if surplus := obtained.Sub(required); surplus.IsPositive() {
		coin := funds.NewCoinFromDecimal(surplus, sc.FeeDenom)
		resp.AddMessage(refundMsg(sc.RefundAddress, funds.Coins{coin})).
			AddAttributes(
				wasm.Attr("subaction", "refund_"+reasonSurplusFee),
				wasm.Attr("amount", coin.String()),
			)
		recordRefund(ctx, reasonSurplusFee)
		log.Info().
			Str("saga_id", sagaID).
			Str("surplus", coin.String()).
			Msg("Refunding surplus fee")
	}

	log.Info().
		Str("saga_id", sagaID).
		Str("token", sendCoin.String()).
		Str("channel", transfer.SourceChannel).
		Msg("Issuing transfer")
	return resp, nil
}

// onTransferAccepted is continuation C. It only runs when the transfer
// module accepted the transfer, which ends the saga.
func (o *Orchestrator) onTransferAccepted(ctx context.Context, deps wasm.Deps, env wasm.Env, sagaID string, result wasm.SubMsgResult) (_ *wasm.Response, err error) {
	f, err := resume(ctx, deps.Store, PhaseAwaitingTransferAccept, sagaID)
	if err != nil {
		return nil, err
	}
	defer f.release(ctx, &err)
	tc := *f.phase.Transfer

	if result.IsErr() {
		return nil, fmt.Errorf("%w: transfer reply carries error %q", ErrMalformedReply, result.Err)
	}
	var accepted wasm.MsgIbcTransferResponse
	if err := json.Unmarshal(result.Data, &accepted); err != nil {
		return nil, fmt.Errorf("%w: transfer response: %v", ErrMalformedReply, err)
	}
	if accepted.Channel == "" {
		return nil, fmt.Errorf("%w: transfer response without channel", ErrMalformedReply)
	}

	key := TransferKey{Sequence: accepted.SequenceID, Channel: accepted.Channel}
	exists, err := inFlight.Has(ctx, deps.Store, key.encode())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrTransferExists, key)
	}
	if err := inFlight.Save(ctx, deps.Store, key.encode(), InFlightTransfer{
		SagaID:        sagaID,
		RefundAddress: tc.RefundAddress,
		Receiver:      tc.Receiver,
		Fee:           tc.Fee,
		SentAmount:    tc.AmountToSend,
	}); err != nil {
		return nil, err
	}

	recordOutcome(ctx, "transfer_accepted")
	log.Info().
		Str("saga_id", sagaID).
		Uint64("sequence", key.Sequence).
		Str("channel", key.Channel).
		Msg("Transfer accepted, saga done")

	return wasm.NewResponse().AddAttributes(
		wasm.Attr("subaction", "transfer_accepted"),
		wasm.Attr("saga_id", sagaID),
		wasm.Attr("sequence_id", strconv.FormatUint(key.Sequence, 10)),
		wasm.Attr("channel", key.Channel),
	), nil
}
