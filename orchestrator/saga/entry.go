package saga

import (
	"context"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/address"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/custody"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
)

// WrapAndSend takes custody of the bridged deposit and issues the mint call.
// The mint reply always comes back to onMintOutcome.
func (o *Orchestrator) WrapAndSend(ctx context.Context, deps wasm.Deps, env wasm.Env, info wasm.MessageInfo, msg WrapAndSendMsg) (_ *wasm.Response, err error) {
	cfg, err := loadConfig(ctx, deps.Store)
	if err != nil {
		return nil, err
	}

	f, err := acquire(ctx, deps.Store)
	if err != nil {
		log.Warn().Err(err).Str("sender", info.Sender).Msg("Rejected reentrant wrap and send")
		return nil, err
	}
	defer f.release(ctx, &err)

	amount, found, err := funds.FindDenom(info.Funds, cfg.BridgedDenom)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrNothingToMint, cfg.BridgedDenom, info.Funds.String())
	}
	if err := validateRequest(cfg, msg); err != nil {
		return nil, err
	}

	deposit := funds.NewCoinFromDecimal(amount, cfg.BridgedDenom)
	mint, err := custody.NewClient(cfg.CustodyContract).Mint(deposit, nil)
	if err != nil {
		return nil, err
	}

	// The custody contract mints one canonical unit per bridged unit.
	minted := funds.NewCoinFromDecimal(amount, cfg.CanonicalDenom)
	next := awaitingMint(f.sagaID(), MintContext{
		RefundAddress: msg.RefundAddress,
		Refund:        deposit,
		Minted:        minted,
		Request: TransferRequest{
			SourcePort:         msg.SourcePort,
			SourceChannel:      msg.SourceChannel,
			Receiver:           msg.Receiver,
			AmountToSwapForFee: msg.AmountToSwapForFee,
			FeeDenom:           msg.FeeDenom,
			SwapOperations:     msg.SwapOperations,
			Memo:               msg.Memo,
		},
	})
	if err := f.handOn(ctx, next); err != nil {
		return nil, err
	}

	if sagasStarted != nil {
		sagasStarted.Add(ctx, 1)
	}
	log.Info().
		Str("saga_id", f.sagaID()).
		Str("deposit", deposit.String()).
		Str("receiver", msg.Receiver).
		Str("channel", msg.SourceChannel).
		Msg("Saga started")

	return wasm.NewResponse().
		AddSubMessage(subMsg(mint, wasm.ReplyAlways, mintOutcome{}, f.sagaID())).
		AddAttributes(
			wasm.Attr("action", "wrap_and_send"),
			wasm.Attr("saga_id", f.sagaID()),
			wasm.Attr("subaction", "mint"),
			wasm.Attr("amount", deposit.String()),
			wasm.Attr("refund_address", msg.RefundAddress),
		), nil
}

// validateRequest checks everything about the request that does not need
// the mint outcome.
func validateRequest(cfg Config, msg WrapAndSendMsg) error {
	if msg.SourcePort == "" || msg.SourceChannel == "" {
		return fmt.Errorf("%w: source port and channel are required", ErrInvalidRequest)
	}
	if _, err := address.Validate(msg.Receiver); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	if err := address.ValidateWithPrefix(msg.RefundAddress, cfg.Bech32Prefix); err != nil {
		return fmt.Errorf("refund address: %w", err)
	}
	if msg.AmountToSwapForFee.IsNegative() || !msg.AmountToSwapForFee.IsInteger() {
		return fmt.Errorf("%w: amount to swap for fee must be a non-negative integer", ErrInvalidRequest)
	}
	if err := funds.ValidateDenom(msg.FeeDenom); err != nil {
		return fmt.Errorf("%w: fee denom: %v", ErrInvalidRoute, err)
	}
	if msg.FeeDenom == cfg.CanonicalDenom {
		return fmt.Errorf("%w: fee denom must differ from %s", ErrInvalidRoute, cfg.CanonicalDenom)
	}
	return astroport.ValidateRoute(msg.SwapOperations, cfg.CanonicalDenom, msg.FeeDenom)
}
