package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
)

// continuation is a pending call outcome the saga waits for. The set is
// closed; each variant dispatches to its own handler method.
type continuation interface {
	// phase is the stored phase the continuation is valid in.
	phase() PhaseKind
	name() string
	accept(ctx context.Context, h continuationHandler, deps wasm.Deps, env wasm.Env, sagaID string, result wasm.SubMsgResult) (*wasm.Response, error)
}

// continuationHandler has one method per continuation.
type continuationHandler interface {
	onMintOutcome(ctx context.Context, deps wasm.Deps, env wasm.Env, sagaID string, result wasm.SubMsgResult) (*wasm.Response, error)
	onSwapOutcome(ctx context.Context, deps wasm.Deps, env wasm.Env, sagaID string, result wasm.SubMsgResult) (*wasm.Response, error)
	onTransferAccepted(ctx context.Context, deps wasm.Deps, env wasm.Env, sagaID string, result wasm.SubMsgResult) (*wasm.Response, error)
}

type (
	mintOutcome      struct{}
	swapOutcome      struct{}
	transferAccepted struct{}
)

func (mintOutcome) phase() PhaseKind      { return PhaseAwaitingMint }
func (swapOutcome) phase() PhaseKind      { return PhaseAwaitingSwap }
func (transferAccepted) phase() PhaseKind { return PhaseAwaitingTransferAccept }

func (mintOutcome) name() string      { return "mint_outcome" }
func (swapOutcome) name() string      { return "swap_outcome" }
func (transferAccepted) name() string { return "transfer_accepted" }

func (mintOutcome) accept(ctx context.Context, h continuationHandler, deps wasm.Deps, env wasm.Env, sagaID string, r wasm.SubMsgResult) (*wasm.Response, error) {
	return h.onMintOutcome(ctx, deps, env, sagaID, r)
}

func (swapOutcome) accept(ctx context.Context, h continuationHandler, deps wasm.Deps, env wasm.Env, sagaID string, r wasm.SubMsgResult) (*wasm.Response, error) {
	return h.onSwapOutcome(ctx, deps, env, sagaID, r)
}

func (transferAccepted) accept(ctx context.Context, h continuationHandler, deps wasm.Deps, env wasm.Env, sagaID string, r wasm.SubMsgResult) (*wasm.Response, error) {
	return h.onTransferAccepted(ctx, deps, env, sagaID, r)
}

var continuations = map[string]continuation{
	mintOutcome{}.name():      mintOutcome{},
	swapOutcome{}.name():      swapOutcome{},
	transferAccepted{}.name(): transferAccepted{},
}

// replyPayload is what the saga attaches to each submessage and gets back
// in the reply.
type replyPayload struct {
	Continuation string `json:"continuation"`
	SagaID       string `json:"saga_id"`
}

func encodeContinuation(c continuation, sagaID string) []byte {
	// marshalling two strings cannot fail
	b, _ := json.Marshal(replyPayload{Continuation: c.name(), SagaID: sagaID})
	return b
}

func decodeContinuation(payload []byte) (continuation, string, error) {
	var p replyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, "", fmt.Errorf("%w: payload: %v", ErrMalformedReply, err)
	}
	c, ok := continuations[p.Continuation]
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown continuation %q", ErrMalformedReply, p.Continuation)
	}
	if p.SagaID == "" {
		return nil, "", fmt.Errorf("%w: payload without saga id", ErrMalformedReply)
	}
	return c, p.SagaID, nil
}

// subMsg routes the outcome of msg back to c.
func subMsg(msg wasm.Msg, on wasm.ReplyOn, c continuation, sagaID string) wasm.SubMsg {
	return wasm.SubMsg{Msg: msg, ReplyOn: on, Payload: encodeContinuation(c, sagaID)}
}
