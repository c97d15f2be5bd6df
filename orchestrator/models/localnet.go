package models

import (
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/localnet"
)

// AccountRequest derives the address of a named account
type AccountRequest struct {
	Name string `json:"name"`
}

type AccountResponse struct {
	Address string `json:"address"`
}

// FundRequest mints coins to an address
type FundRequest struct {
	Address string `json:"address"`
	Coins   string `json:"coins"` // e.g. "300ibc/ABC,10untrn"
}

type BalancesRequest struct {
	Address string `json:"address"`
}

type BalancesResponse struct {
	Address  string `json:"address"`
	Balances string `json:"balances"`
}

type PendingPacketsRequest struct{}

type PendingPacketsResponse struct {
	Packets []localnet.Packet `json:"packets"`
}

// RelayRequest resolves a pending packet. Sequence 0 picks the first
// pending packet sent by the orchestrator.
type RelayRequest struct {
	Channel  string `json:"channel,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`
	Outcome  string `json:"outcome"` // ack | ack_error | timeout
}

type RelayResponse struct {
	Packet localnet.Packet `json:"packet"`
	Tx     TxResponse      `json:"tx"`
}

// RouterRequest replaces the mock router's settings
type RouterRequest = localnet.RouterSettings

type RouterResponse = localnet.RouterSettings

// UnwrapRequest burns canonical funds at the custody contract for bridged
// funds. An empty receiver pays the sender.
type UnwrapRequest struct {
	Sender   string `json:"sender"`
	Amount   string `json:"amount"` // e.g. "100factory/neutron1.../wsteth"
	Receiver string `json:"receiver,omitempty"`
}

// CustodyRequest toggles failure of the mock custody contract
type CustodyRequest struct {
	Fail bool `json:"fail"`
}

type CustodyResponse struct {
	Fail bool `json:"fail"`
}
