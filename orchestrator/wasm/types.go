// Package wasm defines the boundary between a contract and the host that runs
// it: the environment a handler sees, the messages it may emit, how the host
// reports submessage outcomes back, and the asynchronous notifications the
// transfer module delivers later.
package wasm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
)

// Env describes the block a handler runs in.
type Env struct {
	ChainID     string    `json:"chain_id"`
	BlockHeight uint64    `json:"block_height"`
	BlockTime   time.Time `json:"block_time"`
	Contract    string    `json:"contract"`
}

// MessageInfo carries the caller and the funds it attached.
type MessageInfo struct {
	Sender string      `json:"sender"`
	Funds  funds.Coins `json:"funds"`
}

// Querier is the read-only view of chain state a contract may use.
type Querier interface {
	// Balance returns the balance of address in denom, zero when absent.
	Balance(ctx context.Context, address, denom string) (funds.Coin, error)
	// MinIbcFee returns the minimum relayer fee the transfer module accepts.
	MinIbcFee(ctx context.Context) (IbcFee, error)
}

// Deps bundles what a handler may touch: its own storage and the querier.
type Deps struct {
	Store   storage.KV
	Querier Querier
}

// Attribute is a key/value pair emitted by a handler.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event groups attributes under a type, the way the host records them.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Response is what a handler returns to the host.
type Response struct {
	Messages   []SubMsg    `json:"messages"`
	Attributes []Attribute `json:"attributes"`
	Events     []Event     `json:"events,omitempty"`
	Data       []byte      `json:"data,omitempty"`
}

func NewResponse() *Response {
	return &Response{}
}

// AddMessage appends a fire-and-forget message: its failure reverts the
// whole transaction and no reply is delivered.
func (r *Response) AddMessage(msg Msg) *Response {
	r.Messages = append(r.Messages, SubMsg{Msg: msg, ReplyOn: ReplyNever})
	return r
}

func (r *Response) AddSubMessage(sub SubMsg) *Response {
	r.Messages = append(r.Messages, sub)
	return r
}

func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

func (r *Response) AddAttributes(attrs ...Attribute) *Response {
	r.Attributes = append(r.Attributes, attrs...)
	return r
}

func (r *Response) SetData(data []byte) *Response {
	r.Data = data
	return r
}

// Attr is shorthand for building an Attribute.
func Attr(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// AttributeValue returns the first value stored under key.
func (r *Response) AttributeValue(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Contract is implemented by everything the host can execute.
type Contract interface {
	Execute(ctx context.Context, deps Deps, env Env, info MessageInfo, msg json.RawMessage) (*Response, error)
	Reply(ctx context.Context, deps Deps, env Env, reply Reply) (*Response, error)
	Query(ctx context.Context, deps Deps, env Env, msg json.RawMessage) (json.RawMessage, error)
}

// SudoContract is implemented by contracts that accept transfer notifications.
type SudoContract interface {
	Contract
	Sudo(ctx context.Context, deps Deps, env Env, msg SudoMsg) (*Response, error)
}

// Instantiator is implemented by contracts that take a one-time setup message.
type Instantiator interface {
	Instantiate(ctx context.Context, deps Deps, env Env, info MessageInfo, msg json.RawMessage) (*Response, error)
}
