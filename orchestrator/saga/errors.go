package saga

import (
	"errors"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/address"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
)

var (
	// input validation
	ErrNothingToMint    = errors.New("nothing to mint")
	ErrExtraFunds       = funds.ErrExtraFunds
	ErrZeroForSwap      = errors.New("zero amount to swap for fee")
	ErrNotEnoughForSwap = errors.New("amount to swap for fee must be less than the minted amount")
	ErrInvalidAddress   = address.ErrInvalidAddress
	ErrInvalidRoute     = astroport.ErrInvalidRoute
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnknownMsg       = errors.New("unknown message")

	// concurrency
	ErrAlreadyInExecution = errors.New("saga already in execution")

	// invariant violations
	ErrSwappedForLessThanRequested = errors.New("swapped for less than requested")
	ErrMinFeeUnavailable           = errors.New("minimum ibc fee unavailable")
	ErrTransferNotFound            = errors.New("in-flight transfer not found")
	ErrTransferExists              = errors.New("in-flight transfer already recorded")
	ErrUnexpectedPhase             = errors.New("unexpected saga phase")
	ErrMalformedReply              = errors.New("malformed reply")
	ErrMalformedPacket             = errors.New("malformed request packet")
	// ErrContextNotFound is a reply for a saga that already finished and
	// cleared its context. Errors wrapping it also wrap ErrUnexpectedPhase.
	ErrContextNotFound = errors.New("saga context not found")

	// provisioning
	ErrInvalidConfig       = errors.New("invalid config")
	ErrAlreadyInstantiated = errors.New("already instantiated")
	ErrNotInstantiated     = errors.New("not instantiated")
)

// ErrorClass groups errors by how callers should treat them.
type ErrorClass int

const (
	ClassInternal ErrorClass = iota
	// ClassValidation is a rejected request; nothing happened.
	ClassValidation
	// ClassConcurrency is a request that hit an in-flight saga.
	ClassConcurrency
	// ClassInvariant means a collaborator or the host broke its contract.
	ClassInvariant
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassConcurrency:
		return "concurrency"
	case ClassInvariant:
		return "invariant"
	default:
		return "internal"
	}
}

var errorClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrNothingToMint, ClassValidation},
	{ErrExtraFunds, ClassValidation},
	{ErrZeroForSwap, ClassValidation},
	{ErrNotEnoughForSwap, ClassValidation},
	{ErrInvalidAddress, ClassValidation},
	{ErrInvalidRoute, ClassValidation},
	{ErrInvalidRequest, ClassValidation},
	{ErrUnknownMsg, ClassValidation},
	{ErrInvalidConfig, ClassValidation},
	{ErrAlreadyInstantiated, ClassValidation},
	{ErrAlreadyInExecution, ClassConcurrency},
	{ErrSwappedForLessThanRequested, ClassInvariant},
	{ErrMinFeeUnavailable, ClassInvariant},
	{ErrTransferNotFound, ClassInvariant},
	{ErrContextNotFound, ClassInvariant},
	{ErrTransferExists, ClassInvariant},
	{ErrUnexpectedPhase, ClassInvariant},
	{ErrMalformedReply, ClassInvariant},
	{ErrMalformedPacket, ClassInvariant},
}

// Classify maps err onto its class. Unknown errors are internal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassInternal
	}
	for _, ec := range errorClasses {
		if errors.Is(err, ec.err) {
			return ec.class
		}
	}
	return ClassInternal
}
