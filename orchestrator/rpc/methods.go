package rpc

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/localnet"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/models"
)

const (
	OrchestratorServiceName = "wrapandsend.v1.OrchestratorService"
	LocalnetServiceName     = "wrapandsend.v1.LocalnetService"
)

const (
	WrapAndSendProcedure       = "/" + OrchestratorServiceName + "/WrapAndSend"
	StatusProcedure            = "/" + OrchestratorServiceName + "/Status"
	ConfigProcedure            = "/" + OrchestratorServiceName + "/Config"
	InFlightTransfersProcedure = "/" + OrchestratorServiceName + "/InFlightTransfers"
	DeploymentProcedure        = "/" + OrchestratorServiceName + "/Deployment"
	ChainBalanceProcedure      = "/" + OrchestratorServiceName + "/ChainBalance"

	AccountProcedure        = "/" + LocalnetServiceName + "/Account"
	FundProcedure           = "/" + LocalnetServiceName + "/Fund"
	BalancesProcedure       = "/" + LocalnetServiceName + "/Balances"
	PendingPacketsProcedure = "/" + LocalnetServiceName + "/PendingPackets"
	RelayProcedure          = "/" + LocalnetServiceName + "/Relay"
	RouterProcedure         = "/" + LocalnetServiceName + "/ConfigureRouter"
	CustodyProcedure        = "/" + LocalnetServiceName + "/ConfigureCustody"
	UnwrapProcedure         = "/" + LocalnetServiceName + "/Unwrap"
)

// BalanceSource reads bank balances of a live chain.
type BalanceSource interface {
	Balance(ctx context.Context, address, denom string) (funds.Coin, error)
}

// OrchestratorServer serves the orchestrator deployed on the local chain.
type OrchestratorServer struct {
	d     *localnet.Deployment
	chain BalanceSource
}

// NewOrchestratorServer serves d. chain may be nil, ChainBalance then
// answers Unimplemented.
func NewOrchestratorServer(d *localnet.Deployment, chain BalanceSource) *OrchestratorServer {
	return &OrchestratorServer{d: d, chain: chain}
}

func toTxResponse(res *localnet.TxResult) models.TxResponse {
	out := models.TxResponse{Height: res.Height, Events: res.Events}
	out.SagaID, _ = res.Attribute("wasm", "saga_id")
	return out
}

// WrapAndSend submits the request as a transaction of req.Sender with the
// given funds attached.
func (s *OrchestratorServer) WrapAndSend(
	ctx context.Context,
	req *connect.Request[models.WrapAndSendRequest],
) (*connect.Response[models.TxResponse], error) {
	if req.Msg.Sender == "" {
		return nil, fmt.Errorf("%w: sender is required", errBadRequest)
	}
	deposit, err := funds.ParseCoins(req.Msg.Funds)
	if err != nil {
		return nil, err
	}
	res, err := s.d.WrapAndSend(ctx, req.Msg.Sender, req.Msg.Msg, deposit)
	if err != nil {
		return nil, err
	}
	out := toTxResponse(res)
	return connect.NewResponse(&out), nil
}

func (s *OrchestratorServer) Status(
	ctx context.Context,
	_ *connect.Request[models.StatusRequest],
) (*connect.Response[models.StatusResponse], error) {
	st, err := s.d.Status(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&st), nil
}

func (s *OrchestratorServer) Config(
	ctx context.Context,
	_ *connect.Request[models.ConfigRequest],
) (*connect.Response[models.ConfigResponse], error) {
	cfg, err := s.d.SagaConfig(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&cfg), nil
}

func (s *OrchestratorServer) InFlightTransfers(
	ctx context.Context,
	req *connect.Request[models.InFlightTransfersRequest],
) (*connect.Response[models.InFlightTransfersResponse], error) {
	transfers, err := s.d.InFlightTransfers(ctx, *req.Msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&models.InFlightTransfersResponse{Transfers: transfers}), nil
}

func (s *OrchestratorServer) Deployment(
	_ context.Context,
	_ *connect.Request[models.DeploymentRequest],
) (*connect.Response[models.DeploymentResponse], error) {
	return connect.NewResponse(&models.DeploymentResponse{
		ChainID:      s.d.Chain.ChainID(),
		Height:       s.d.Chain.Height(),
		Orchestrator: s.d.Orchestrator,
		Custody:      s.d.CustodyAddr,
		Router:       s.d.RouterAddr,
		Relayer:      s.d.Relayer,
	}), nil
}

func (s *OrchestratorServer) ChainBalance(
	ctx context.Context,
	req *connect.Request[models.ChainBalanceRequest],
) (*connect.Response[models.ChainBalanceResponse], error) {
	if s.chain == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("no chain query endpoint, set fee_oracle.mode = rest"))
	}
	if req.Msg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", errBadRequest)
	}
	if err := funds.ValidateDenom(req.Msg.Denom); err != nil {
		return nil, err
	}
	bal, err := s.chain.Balance(ctx, req.Msg.Address, req.Msg.Denom)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&models.ChainBalanceResponse{Address: req.Msg.Address, Balance: bal.String()}), nil
}

// LocalnetServer drives the local chain: faucet, relayer and mock knobs.
type LocalnetServer struct {
	d *localnet.Deployment
}

func NewLocalnetServer(d *localnet.Deployment) *LocalnetServer {
	return &LocalnetServer{d: d}
}

func (s *LocalnetServer) Account(
	_ context.Context,
	req *connect.Request[models.AccountRequest],
) (*connect.Response[models.AccountResponse], error) {
	if req.Msg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", errBadRequest)
	}
	return connect.NewResponse(&models.AccountResponse{Address: s.d.Chain.AccountAddress(req.Msg.Name)}), nil
}

func (s *LocalnetServer) Fund(
	ctx context.Context,
	req *connect.Request[models.FundRequest],
) (*connect.Response[models.TxResponse], error) {
	if req.Msg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", errBadRequest)
	}
	coins, err := funds.ParseCoins(req.Msg.Coins)
	if err != nil {
		return nil, err
	}
	if coins.IsZero() {
		return nil, fmt.Errorf("%w: nothing to fund", errBadRequest)
	}
	res, err := s.d.Chain.Fund(ctx, req.Msg.Address, coins)
	if err != nil {
		return nil, err
	}
	out := toTxResponse(res)
	return connect.NewResponse(&out), nil
}

func (s *LocalnetServer) Balances(
	ctx context.Context,
	req *connect.Request[models.BalancesRequest],
) (*connect.Response[models.BalancesResponse], error) {
	bal, err := s.d.Chain.Balances(ctx, req.Msg.Address)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&models.BalancesResponse{Address: req.Msg.Address, Balances: bal.String()}), nil
}

func (s *LocalnetServer) PendingPackets(
	ctx context.Context,
	_ *connect.Request[models.PendingPacketsRequest],
) (*connect.Response[models.PendingPacketsResponse], error) {
	packets, err := s.d.Chain.PendingPackets(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&models.PendingPacketsResponse{Packets: packets}), nil
}

func (s *LocalnetServer) Relay(
	ctx context.Context,
	req *connect.Request[models.RelayRequest],
) (*connect.Response[models.RelayResponse], error) {
	outcome, err := localnet.ParseOutcome(req.Msg.Outcome)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	var (
		res    *localnet.TxResult
		packet localnet.Packet
	)
	if req.Msg.Sequence == 0 {
		res, packet, err = s.d.RelayNext(ctx, outcome)
	} else {
		packet, err = s.pending(ctx, req.Msg.Channel, req.Msg.Sequence)
		if err != nil {
			return nil, err
		}
		res, err = s.d.Chain.Relay(ctx, s.d.Relayer, packet.SourceChannel, packet.Sequence, outcome)
	}
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&models.RelayResponse{Packet: packet, Tx: toTxResponse(res)}), nil
}

func (s *LocalnetServer) pending(ctx context.Context, channel string, seq uint64) (localnet.Packet, error) {
	packets, err := s.d.Chain.PendingPackets(ctx)
	if err != nil {
		return localnet.Packet{}, err
	}
	for _, p := range packets {
		if p.SourceChannel == channel && p.Sequence == seq {
			return p, nil
		}
	}
	return localnet.Packet{}, fmt.Errorf("%w: %s/%d", localnet.ErrPacketNotFound, channel, seq)
}

func (s *LocalnetServer) Unwrap(
	ctx context.Context,
	req *connect.Request[models.UnwrapRequest],
) (*connect.Response[models.TxResponse], error) {
	if req.Msg.Sender == "" {
		return nil, fmt.Errorf("%w: sender is required", errBadRequest)
	}
	amount, err := funds.ParseCoin(req.Msg.Amount)
	if err != nil {
		return nil, err
	}
	res, err := s.d.Unwrap(ctx, req.Msg.Sender, amount, req.Msg.Receiver)
	if err != nil {
		return nil, err
	}
	out := toTxResponse(res)
	return connect.NewResponse(&out), nil
}

func (s *LocalnetServer) ConfigureRouter(
	_ context.Context,
	req *connect.Request[models.RouterRequest],
) (*connect.Response[models.RouterResponse], error) {
	if req.Msg.Rate.IsNegative() {
		return nil, fmt.Errorf("%w: negative rate", errBadRequest)
	}
	s.d.Router.Configure(*req.Msg)
	settings := s.d.Router.Settings()
	return connect.NewResponse(&settings), nil
}

func (s *LocalnetServer) ConfigureCustody(
	_ context.Context,
	req *connect.Request[models.CustodyRequest],
) (*connect.Response[models.CustodyResponse], error) {
	s.d.Custody.SetFail(req.Msg.Fail)
	return connect.NewResponse(&models.CustodyResponse{Fail: s.d.Custody.Failing()}), nil
}
