package wasm

import (
	"encoding/json"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
)

// Msg is a message a contract asks the host to dispatch. The set is closed:
// BankSend, WasmExecute and IbcTransfer.
type Msg interface {
	msgType() string
}

// BankSend moves coins from the contract to an address.
type BankSend struct {
	ToAddress string      `json:"to_address"`
	Amount    funds.Coins `json:"amount"`
}

// WasmExecute calls another contract, attaching funds.
type WasmExecute struct {
	Contract string          `json:"contract_addr"`
	Msg      json.RawMessage `json:"msg"`
	Funds    funds.Coins     `json:"funds"`
}

// Height is an IBC timeout height. The zero value disables it.
type Height struct {
	RevisionNumber uint64 `json:"revision_number"`
	RevisionHeight uint64 `json:"revision_height"`
}

// IbcTransfer asks the transfer module to send Token to a remote chain,
// escrowing Fee for the relayer.
type IbcTransfer struct {
	SourcePort       string     `json:"source_port"`
	SourceChannel    string     `json:"source_channel"`
	Token            funds.Coin `json:"token"`
	Sender           string     `json:"sender"`
	Receiver         string     `json:"receiver"`
	TimeoutHeight    Height     `json:"timeout_height"`
	TimeoutTimestamp uint64     `json:"timeout_timestamp"`
	Memo             string     `json:"memo"`
	Fee              IbcFee     `json:"fee"`
}

func (BankSend) msgType() string    { return "bank_send" }
func (WasmExecute) msgType() string { return "wasm_execute" }
func (IbcTransfer) msgType() string { return "ibc_transfer" }

// MsgType names the message kind, used in events and logs.
func MsgType(m Msg) string {
	return m.msgType()
}

// ExecuteJSON marshals an execute message for WasmExecute.Msg.
func ExecuteJSON(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode execute msg: %w", err)
	}
	return b, nil
}

// IbcFee is the relayer fee attached to a transfer, in three buckets.
type IbcFee struct {
	RecvFee    funds.Coins `json:"recv_fee"`
	AckFee     funds.Coins `json:"ack_fee"`
	TimeoutFee funds.Coins `json:"timeout_fee"`
}

// Total is the sum of all buckets, which is what the module escrows.
func (f IbcFee) Total() funds.Coins {
	return funds.Coins{}.Add(f.RecvFee...).Add(f.AckFee...).Add(f.TimeoutFee...)
}

// MsgIbcTransferResponse is the data the transfer module returns when it
// accepts a transfer.
type MsgIbcTransferResponse struct {
	SequenceID uint64 `json:"sequence_id"`
	Channel    string `json:"channel"`
}
