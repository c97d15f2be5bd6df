package saga

import (
	"context"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/shopspring/decimal"
)

// QuoteFee asks the fee oracle for the minimum relayer fee and narrows it to
// feeDenom. The oracle's answer is best effort, so its shape is checked:
// no receive fee in feeDenom and exactly one nonzero ack and timeout entry.
func QuoteFee(ctx context.Context, q wasm.Querier, feeDenom string) (wasm.IbcFee, error) {
	minFee, err := q.MinIbcFee(ctx)
	if err != nil {
		return wasm.IbcFee{}, fmt.Errorf("%w: %v", ErrMinFeeUnavailable, err)
	}

	recv := minFee.RecvFee.Filter(feeDenom)
	ack := minFee.AckFee.Filter(feeDenom)
	timeout := minFee.TimeoutFee.Filter(feeDenom)

	if len(recv) != 0 {
		return wasm.IbcFee{}, fmt.Errorf("%w: unexpected recv fee in %s", ErrMinFeeUnavailable, feeDenom)
	}
	if len(ack) != 1 || len(timeout) != 1 {
		return wasm.IbcFee{}, fmt.Errorf("%w: expected one ack and one timeout fee in %s, got %d and %d",
			ErrMinFeeUnavailable, feeDenom, len(ack), len(timeout))
	}
	if ack[0].IsZero() || timeout[0].IsZero() {
		return wasm.IbcFee{}, fmt.Errorf("%w: zero fee in %s", ErrMinFeeUnavailable, feeDenom)
	}

	return wasm.IbcFee{
		RecvFee:    funds.Coins{},
		AckFee:     ack,
		TimeoutFee: timeout,
	}, nil
}

// requiredFee is the amount of feeDenom the transfer module will escrow.
func requiredFee(fee wasm.IbcFee, feeDenom string) decimal.Decimal {
	return fee.Total().AmountOf(feeDenom)
}
