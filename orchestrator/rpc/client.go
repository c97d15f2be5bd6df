package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/models"
)

// Client calls a running server. All calls use the JSON codec.
type Client struct {
	wrapAndSend       *connect.Client[models.WrapAndSendRequest, models.TxResponse]
	status            *connect.Client[models.StatusRequest, models.StatusResponse]
	config            *connect.Client[models.ConfigRequest, models.ConfigResponse]
	inFlightTransfers *connect.Client[models.InFlightTransfersRequest, models.InFlightTransfersResponse]
	deployment        *connect.Client[models.DeploymentRequest, models.DeploymentResponse]
	chainBalance      *connect.Client[models.ChainBalanceRequest, models.ChainBalanceResponse]

	account        *connect.Client[models.AccountRequest, models.AccountResponse]
	fund           *connect.Client[models.FundRequest, models.TxResponse]
	balances       *connect.Client[models.BalancesRequest, models.BalancesResponse]
	pendingPackets *connect.Client[models.PendingPacketsRequest, models.PendingPacketsResponse]
	relay          *connect.Client[models.RelayRequest, models.RelayResponse]
	router         *connect.Client[models.RouterRequest, models.RouterResponse]
	custody        *connect.Client[models.CustodyRequest, models.CustodyResponse]
	unwrap         *connect.Client[models.UnwrapRequest, models.TxResponse]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{Codec()}, opts...)
	return &Client{
		wrapAndSend:       connect.NewClient[models.WrapAndSendRequest, models.TxResponse](httpClient, baseURL+WrapAndSendProcedure, opts...),
		status:            connect.NewClient[models.StatusRequest, models.StatusResponse](httpClient, baseURL+StatusProcedure, opts...),
		config:            connect.NewClient[models.ConfigRequest, models.ConfigResponse](httpClient, baseURL+ConfigProcedure, opts...),
		inFlightTransfers: connect.NewClient[models.InFlightTransfersRequest, models.InFlightTransfersResponse](httpClient, baseURL+InFlightTransfersProcedure, opts...),
		deployment:        connect.NewClient[models.DeploymentRequest, models.DeploymentResponse](httpClient, baseURL+DeploymentProcedure, opts...),
		chainBalance:      connect.NewClient[models.ChainBalanceRequest, models.ChainBalanceResponse](httpClient, baseURL+ChainBalanceProcedure, opts...),

		account:        connect.NewClient[models.AccountRequest, models.AccountResponse](httpClient, baseURL+AccountProcedure, opts...),
		fund:           connect.NewClient[models.FundRequest, models.TxResponse](httpClient, baseURL+FundProcedure, opts...),
		balances:       connect.NewClient[models.BalancesRequest, models.BalancesResponse](httpClient, baseURL+BalancesProcedure, opts...),
		pendingPackets: connect.NewClient[models.PendingPacketsRequest, models.PendingPacketsResponse](httpClient, baseURL+PendingPacketsProcedure, opts...),
		relay:          connect.NewClient[models.RelayRequest, models.RelayResponse](httpClient, baseURL+RelayProcedure, opts...),
		router:         connect.NewClient[models.RouterRequest, models.RouterResponse](httpClient, baseURL+RouterProcedure, opts...),
		custody:        connect.NewClient[models.CustodyRequest, models.CustodyResponse](httpClient, baseURL+CustodyProcedure, opts...),
		unwrap:         connect.NewClient[models.UnwrapRequest, models.TxResponse](httpClient, baseURL+UnwrapProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) WrapAndSend(ctx context.Context, req *models.WrapAndSendRequest) (*models.TxResponse, error) {
	return call(ctx, c.wrapAndSend, req)
}

func (c *Client) Status(ctx context.Context) (*models.StatusResponse, error) {
	return call(ctx, c.status, &models.StatusRequest{})
}

func (c *Client) Config(ctx context.Context) (*models.ConfigResponse, error) {
	return call(ctx, c.config, &models.ConfigRequest{})
}

func (c *Client) InFlightTransfers(ctx context.Context, req *models.InFlightTransfersRequest) (*models.InFlightTransfersResponse, error) {
	return call(ctx, c.inFlightTransfers, req)
}

func (c *Client) Deployment(ctx context.Context) (*models.DeploymentResponse, error) {
	return call(ctx, c.deployment, &models.DeploymentRequest{})
}

func (c *Client) Account(ctx context.Context, name string) (*models.AccountResponse, error) {
	return call(ctx, c.account, &models.AccountRequest{Name: name})
}

func (c *Client) Fund(ctx context.Context, address, coins string) (*models.TxResponse, error) {
	return call(ctx, c.fund, &models.FundRequest{Address: address, Coins: coins})
}

func (c *Client) Balances(ctx context.Context, address string) (*models.BalancesResponse, error) {
	return call(ctx, c.balances, &models.BalancesRequest{Address: address})
}

func (c *Client) PendingPackets(ctx context.Context) (*models.PendingPacketsResponse, error) {
	return call(ctx, c.pendingPackets, &models.PendingPacketsRequest{})
}

func (c *Client) Relay(ctx context.Context, req *models.RelayRequest) (*models.RelayResponse, error) {
	return call(ctx, c.relay, req)
}

func (c *Client) ConfigureRouter(ctx context.Context, req *models.RouterRequest) (*models.RouterResponse, error) {
	return call(ctx, c.router, req)
}

func (c *Client) ConfigureCustody(ctx context.Context, fail bool) (*models.CustodyResponse, error) {
	return call(ctx, c.custody, &models.CustodyRequest{Fail: fail})
}

func (c *Client) Unwrap(ctx context.Context, req *models.UnwrapRequest) (*models.TxResponse, error) {
	return call(ctx, c.unwrap, req)
}

// ChainBalance reads a balance from the live chain behind the daemon.
func (c *Client) ChainBalance(ctx context.Context, address, denom string) (*models.ChainBalanceResponse, error) {
	return call(ctx, c.chainBalance, &models.ChainBalanceRequest{Address: address, Denom: denom})
}
