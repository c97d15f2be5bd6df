package rpc

import (
	"errors"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/localnet"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"
)

var errBadRequest = errors.New("bad request")

// connectError maps an error onto the Connect code a client can act on.
func connectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return err
	}

	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, funds.ErrInvalidDenom),
		errors.Is(err, funds.ErrInvalidAmount):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, funds.ErrInsufficient):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, localnet.ErrPacketNotFound),
		errors.Is(err, localnet.ErrUnknownContract):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, localnet.ErrUnknownChannel),
		errors.Is(err, localnet.ErrInvalidTransfer),
		errors.Is(err, localnet.ErrInsufficientFee),
		errors.Is(err, localnet.ErrNotTimedOut),
		errors.Is(err, localnet.ErrTimedOut),
		errors.Is(err, localnet.ErrMockFailure):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	}

	switch saga.Classify(err) {
	case saga.ClassValidation:
		return connect.NewError(connect.CodeInvalidArgument, err)
	case saga.ClassConcurrency:
		return connect.NewError(connect.CodeAborted, err)
	case saga.ClassInvariant:
		return connect.NewError(connect.CodeFailedPrecondition, err)
	default:
		Logger.Error().Err(err).Msg("Internal error")
		return connect.NewError(connect.CodeInternal, err)
	}
}
