package models

import (
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
)

// WrapAndSendRequest - POST body
type WrapAndSendRequest struct {
	Sender string              `json:"sender"` // account submitting the transaction
	Funds  string              `json:"funds"`  // e.g. "300ibc/ABC"
	Msg    saga.WrapAndSendMsg `json:"msg"`
}

// TxResponse describes a committed transaction
type TxResponse struct {
	Height uint64       `json:"height"`
	SagaID string       `json:"saga_id,omitempty"`
	Events []wasm.Event `json:"events"`
}

type StatusRequest struct{}

type StatusResponse = saga.StatusResponse

type ConfigRequest struct{}

type ConfigResponse = saga.Config

type InFlightTransfersRequest = saga.InFlightTransfersQuery

type InFlightTransfersResponse = saga.InFlightTransfersResponse

// DeploymentRequest asks for the addresses of the deployed contracts.
type DeploymentRequest struct{}

type DeploymentResponse struct {
	ChainID      string `json:"chain_id"`
	Height       uint64 `json:"height"`
	Orchestrator string `json:"orchestrator"`
	Custody      string `json:"custody"`
	Router       string `json:"router"`
	Relayer      string `json:"relayer"`
}

// ChainBalanceRequest reads a balance from the live chain the fee oracle
// queries. Only served when fee_oracle.mode is rest.
type ChainBalanceRequest struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
}

type ChainBalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}
