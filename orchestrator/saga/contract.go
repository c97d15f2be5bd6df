// Package saga runs the wrap-and-send pipeline: it takes a bridged deposit,
// has the custody contract mint the canonical denom, swaps a slice of it for
// the relayer fee and sends the rest over IBC. Each step is a submessage
// whose outcome comes back as a continuation; every failure after custody is
// taken ends in a refund.
//
// The saga is single-flight. The stored Phase doubles as the execution
// guard, so a second entry, including a reentrant one from a collaborator,
// fails until the first saga reaches a terminal continuation. Transfer
// outcomes arrive later through Sudo and are settled against the
// in-flight record, independently of the guard.
package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "saga").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "saga").Logger()
}

// InstantiateMsg provisions the orchestrator.
type InstantiateMsg = Config

// ExecuteMsg is the orchestrator's execute surface.
type ExecuteMsg struct {
	WrapAndSend *WrapAndSendMsg `json:"wrap_and_send,omitempty"`
}

// WrapAndSendMsg starts a saga. The bridged deposit rides along as funds.
type WrapAndSendMsg struct {
	SourcePort         string                    `json:"source_port"`
	SourceChannel      string                    `json:"source_channel"`
	Receiver           string                    `json:"receiver"`
	AmountToSwapForFee decimal.Decimal           `json:"amount_to_swap_for_ibc_fee"`
	FeeDenom           string                    `json:"ibc_fee_denom"`
	SwapOperations     []astroport.SwapOperation `json:"astroport_swap_operations"`
	RefundAddress      string                    `json:"refund_address"`
	Memo               string                    `json:"memo,omitempty"`
}

// QueryMsg is the orchestrator's query surface.
type QueryMsg struct {
	Config            *struct{}               `json:"config,omitempty"`
	Status            *struct{}               `json:"status,omitempty"`
	InFlightTransfers *InFlightTransfersQuery `json:"in_flight_transfers,omitempty"`
}

type InFlightTransfersQuery struct {
	StartAfter *TransferKey `json:"start_after,omitempty"`
	Limit      int          `json:"limit,omitempty"`
}

const (
	defaultListLimit = 30
	maxListLimit     = 100
)

type StatusResponse struct {
	Phase  PhaseKind `json:"phase"`
	SagaID string    `json:"saga_id,omitempty"`
	// InFlight is the number of transfers awaiting an outcome.
	InFlight int `json:"in_flight"`
}

type InFlightTransfersResponse struct {
	Transfers []TransferEntry `json:"transfers"`
}

// Orchestrator is the wrap-and-send contract. It holds no state of its own;
// everything lives in the store handed in with Deps.
type Orchestrator struct{}

var (
	_ wasm.SudoContract   = (*Orchestrator)(nil)
	_ wasm.Instantiator   = (*Orchestrator)(nil)
	_ continuationHandler = (*Orchestrator)(nil)
)

func New() *Orchestrator {
	return &Orchestrator{}
}

// Instantiate saves the config once. It also leaves the saga idle.
func (o *Orchestrator) Instantiate(ctx context.Context, deps wasm.Deps, env wasm.Env, info wasm.MessageInfo, raw json.RawMessage) (*wasm.Response, error) {
	var msg InstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg := msg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, ok, err := configItem.May(ctx, deps.Store); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInstantiated
	}
	if err := configItem.Save(ctx, deps.Store, cfg); err != nil {
		return nil, err
	}
	if err := phaseItem.Save(ctx, deps.Store, idle()); err != nil {
		return nil, err
	}

	log.Info().
		Str("contract", env.Contract).
		Str("custody", cfg.CustodyContract).
		Str("router", cfg.SwapRouter).
		Msg("Instantiated")

	return wasm.NewResponse().AddAttributes(
		wasm.Attr("action", "instantiate"),
		wasm.Attr("custody_contract", cfg.CustodyContract),
		wasm.Attr("swap_router", cfg.SwapRouter),
		wasm.Attr("canonical_denom", cfg.CanonicalDenom),
		wasm.Attr("bridged_denom", cfg.BridgedDenom),
	), nil
}

func (o *Orchestrator) Execute(ctx context.Context, deps wasm.Deps, env wasm.Env, info wasm.MessageInfo, raw json.RawMessage) (*wasm.Response, error) {
	var msg ExecuteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMsg, err)
	}
	switch {
	case msg.WrapAndSend != nil:
		ctx, span := tracer.Start(ctx, "saga.WrapAndSend", trace.WithAttributes(
			attribute.String("sender", info.Sender),
			attribute.String("funds", info.Funds.String()),
		))
		defer span.End()
		resp, err := o.WrapAndSend(ctx, deps, env, info, *msg.WrapAndSend)
		return resp, traced(span, err)
	default:
		return nil, ErrUnknownMsg
	}
}

// Reply resumes the saga from the continuation encoded in the payload.
func (o *Orchestrator) Reply(ctx context.Context, deps wasm.Deps, env wasm.Env, reply wasm.Reply) (*wasm.Response, error) {
	c, sagaID, err := decodeContinuation(reply.Payload)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "saga."+c.name(), trace.WithAttributes(
		attribute.String("saga_id", sagaID),
		attribute.Bool("failed", reply.Result.IsErr()),
	))
	defer span.End()

	log.Debug().
		Str("saga_id", sagaID).
		Str("continuation", c.name()).
		Bool("failed", reply.Result.IsErr()).
		Msg("Continuation")

	resp, err := c.accept(ctx, o, deps, env, sagaID, reply.Result)
	return resp, traced(span, err)
}

func (o *Orchestrator) Query(ctx context.Context, deps wasm.Deps, env wasm.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMsg, err)
	}
	var out any
	switch {
	case msg.Config != nil:
		cfg, err := loadConfig(ctx, deps.Store)
		if err != nil {
			return nil, err
		}
		out = cfg
	case msg.Status != nil:
		st, err := status(ctx, deps)
		if err != nil {
			return nil, err
		}
		out = st
	case msg.InFlightTransfers != nil:
		limit := msg.InFlightTransfers.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		limit = min(limit, maxListLimit)
		entries, err := listInFlight(ctx, deps.Store, msg.InFlightTransfers.StartAfter, limit)
		if err != nil {
			return nil, err
		}
		out = InFlightTransfersResponse{Transfers: entries}
	default:
		return nil, ErrUnknownMsg
	}
	return json.Marshal(out)
}

func status(ctx context.Context, deps wasm.Deps) (StatusResponse, error) {
	p, err := loadPhase(ctx, deps.Store)
	if err != nil {
		return StatusResponse{}, err
	}
	n := 0
	if err := inFlight.Range(ctx, deps.Store, func(string, InFlightTransfer) bool {
		n++
		return true
	}); err != nil {
		return StatusResponse{}, err
	}
	return StatusResponse{Phase: p.Kind, SagaID: p.SagaID, InFlight: n}, nil
}

func traced(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Classify(err).String())
	}
	return err
}
