package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/address"
	chainquery "github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/chain_query"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/localnet"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/models"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const (
	bridged   = "ibc/BRIDGEDWSTETH"
	canonical = "factory/neutron1satellite/wsteth"
	feeDenom  = "untrn"
	channel   = "channel-0"
)

func newTestServer(t *testing.T, mutate ...func(*ServerConfig)) (*Client, *localnet.Deployment) {
	t.Helper()
	ctx := context.Background()
	fee := localnet.StaticFee{
		RecvFee:    funds.Coins{},
		AckFee:     funds.Coins{funds.NewCoin(20, feeDenom)},
		TimeoutFee: funds.Coins{funds.NewCoin(30, feeDenom)},
	}
	chain := localnet.New(storage.NewMemory(), fee, localnet.Config{Channels: []string{channel}})
	d, err := localnet.Bootstrap(ctx, chain, localnet.Setup{
		Saga:           saga.Config{CanonicalDenom: canonical, BridgedDenom: bridged},
		SwapRate:       decimal.RequireFromString("0.5"),
		CustodyReserve: decimal.NewFromInt(10_000),
		RouterReserve:  funds.Coins{funds.NewCoin(10_000, feeDenom)},
	})
	assert.NoError(t, err)

	config := &ServerConfig{Address: "127.0.0.1:0", EnableLocalnet: true}
	for _, m := range mutate {
		m(config)
	}
	srv, err := NewServer(ctx, config, d)
	assert.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.Client(), ts.URL), d
}

func wrapRequest(user string) *models.WrapAndSendRequest {
	return &models.WrapAndSendRequest{
		Sender: user,
		Funds:  "300" + bridged,
		Msg: saga.WrapAndSendMsg{
			SourcePort:         "transfer",
			SourceChannel:      channel,
			Receiver:           address.MustDerive("cosmos", "receiver", false),
			AmountToSwapForFee: decimal.NewFromInt(100),
			FeeDenom:           feeDenom,
			SwapOperations:     []astroport.SwapOperation{astroport.Hop(canonical, feeDenom)},
			RefundAddress:      user,
		},
	}
}

func TestServer_WrapAndSendRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, d := newTestServer(t)

	acct, err := client.Account(ctx, "alice")
	assert.NoError(t, err)
	_, err = client.Fund(ctx, acct.Address, "300"+bridged)
	assert.NoError(t, err)

	tx, err := client.WrapAndSend(ctx, wrapRequest(acct.Address))
	assert.NoError(t, err)
	assert.True(t, tx.SagaID != "")

	st, err := client.Status(ctx)
	assert.NoError(t, err)
	assert.Equal(t, st.Phase, saga.PhaseIdle)
	assert.Equal(t, st.InFlight, 1)

	transfers, err := client.InFlightTransfers(ctx, &models.InFlightTransfersRequest{})
	assert.NoError(t, err)
	assert.Equal(t, len(transfers.Transfers), 1)
	assert.Equal(t, transfers.Transfers[0].Record.SagaID, tx.SagaID)

	pending, err := client.PendingPackets(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(pending.Packets), 1)

	relayed, err := client.Relay(ctx, &models.RelayRequest{Channel: channel, Sequence: 1, Outcome: "ack_error"})
	assert.NoError(t, err)
	assert.Equal(t, relayed.Packet.Token.String(), "200"+canonical)

	bal, err := client.Balances(ctx, acct.Address)
	assert.NoError(t, err)
	assert.Equal(t, bal.Balances, "200"+canonical+",30"+feeDenom)

	dep, err := client.Deployment(ctx)
	assert.NoError(t, err)
	assert.Equal(t, dep.Orchestrator, d.Orchestrator)

	cfg, err := client.Config(ctx)
	assert.NoError(t, err)
	assert.Equal(t, cfg.SwapRouter, d.RouterAddr)
}

func TestServer_MockKnobs(t *testing.T) {
	ctx := context.Background()
	client, d := newTestServer(t)

	resp, err := client.ConfigureCustody(ctx, true)
	assert.NoError(t, err)
	assert.True(t, resp.Fail)
	assert.True(t, d.Custody.Failing())

	router, err := client.ConfigureRouter(ctx, &models.RouterRequest{Rate: decimal.RequireFromString("0.7"), IgnoreMinimum: true})
	assert.NoError(t, err)
	assert.Equal(t, router.Rate.String(), "0.7")
	assert.True(t, d.Router.Settings().IgnoreMinimum)

	acct, err := client.Account(ctx, "bob")
	assert.NoError(t, err)
	_, err = client.Fund(ctx, acct.Address, "300"+bridged)
	assert.NoError(t, err)

	// a failing custody turns into a refund, not an RPC error
	tx, err := client.WrapAndSend(ctx, wrapRequest(acct.Address))
	assert.NoError(t, err)
	var reason string
	for _, ev := range tx.Events {
		for _, a := range ev.Attributes {
			if a.Key == "reason" {
				reason = a.Value
			}
		}
	}
	assert.Equal(t, reason, "mint_failed")
}

func TestServer_Unwrap(t *testing.T) {
	ctx := context.Background()
	client, d := newTestServer(t)

	acct, err := client.Account(ctx, "dave")
	assert.NoError(t, err)
	_, err = client.Fund(ctx, acct.Address, "300"+bridged)
	assert.NoError(t, err)
	_, err = client.WrapAndSend(ctx, wrapRequest(acct.Address))
	assert.NoError(t, err)
	_, err = client.Relay(ctx, &models.RelayRequest{Outcome: "ack_error"})
	assert.NoError(t, err)

	// the ack error refunded 200 canonical, turn half of it back
	tx, err := client.Unwrap(ctx, &models.UnwrapRequest{Sender: acct.Address, Amount: "100" + canonical})
	assert.NoError(t, err)
	assert.True(t, len(tx.Events) > 0)
	bal, err := client.Balances(ctx, acct.Address)
	assert.NoError(t, err)
	assert.Equal(t, bal.Balances, "100"+canonical+",100"+bridged+",30"+feeDenom)

	_, err = client.Unwrap(ctx, &models.UnwrapRequest{Sender: acct.Address, Amount: "100" + bridged})
	assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)
	_, err = client.Unwrap(ctx, &models.UnwrapRequest{Amount: "100" + canonical})
	assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)

	d.Custody.SetFail(true)
	_, err = client.Unwrap(ctx, &models.UnwrapRequest{Sender: acct.Address, Amount: "100" + canonical})
	assert.Equal(t, connect.CodeOf(err), connect.CodeFailedPrecondition)
}

func TestServer_ChainBalance(t *testing.T) {
	ctx := context.Background()

	client, _ := newTestServer(t)
	_, err := client.ChainBalance(ctx, "neutron1holder", feeDenom)
	assert.Equal(t, connect.CodeOf(err), connect.CodeUnimplemented)

	lcd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cosmos/bank/v1beta1/balances/neutron1holder/by_denom" {
			http.NotFound(w, r)
			return
		}
		denom := r.URL.Query().Get("denom")
		_, _ = fmt.Fprintf(w, `{"balance":{"denom":%q,"amount":"4200"}}`, denom)
	}))
	t.Cleanup(lcd.Close)
	chain, err := chainquery.NewClient([]string{lcd.URL}, chainquery.FailoverConfig{Timeout: time.Second})
	assert.NoError(t, err)
	t.Cleanup(chain.Close)

	client, _ = newTestServer(t, func(c *ServerConfig) { c.ChainBalances = chain })
	bal, err := client.ChainBalance(ctx, "neutron1holder", feeDenom)
	assert.NoError(t, err)
	assert.Equal(t, bal.Balance, "4200"+feeDenom)

	_, err = client.ChainBalance(ctx, "neutron1holder", "")
	assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)
	_, err = client.ChainBalance(ctx, "neutron1nobody", feeDenom)
	assert.Equal(t, connect.CodeOf(err), connect.CodeUnavailable)
}

func TestServer_ErrorCodes(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestServer(t)

	acct, err := client.Account(ctx, "carol")
	assert.NoError(t, err)

	req := wrapRequest(acct.Address)
	req.Funds = ""
	_, err = client.WrapAndSend(ctx, req)
	assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)

	req = wrapRequest(acct.Address)
	req.Funds = "not coins"
	_, err = client.WrapAndSend(ctx, req)
	assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)

	// no balance to attach
	_, err = client.WrapAndSend(ctx, wrapRequest(acct.Address))
	assert.Equal(t, connect.CodeOf(err), connect.CodeFailedPrecondition)

	_, err = client.Relay(ctx, &models.RelayRequest{Channel: channel, Sequence: 9, Outcome: "ack"})
	assert.Equal(t, connect.CodeOf(err), connect.CodeNotFound)

	_, err = client.Relay(ctx, &models.RelayRequest{Outcome: "lost"})
	assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)

	_, err = client.Account(ctx, "")
	assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)
}

func TestConnectError(t *testing.T) {
	tests := []struct {
		err  error
		code connect.Code
	}{
		{saga.ErrAlreadyInExecution, connect.CodeAborted},
		{fmt.Errorf("wrapped: %w", saga.ErrNothingToMint), connect.CodeInvalidArgument},
		{saga.ErrTransferNotFound, connect.CodeFailedPrecondition},
		{saga.ErrSwappedForLessThanRequested, connect.CodeFailedPrecondition},
		{localnet.ErrPacketNotFound, connect.CodeNotFound},
		{localnet.ErrNotTimedOut, connect.CodeFailedPrecondition},
		{localnet.ErrMockFailure, connect.CodeFailedPrecondition},
		{fmt.Errorf("%w: %w", saga.ErrContextNotFound, saga.ErrUnexpectedPhase), connect.CodeFailedPrecondition},
		{funds.ErrInsufficient, connect.CodeFailedPrecondition},
		{errors.New("disk on fire"), connect.CodeInternal},
		{connect.NewError(connect.CodeUnavailable, errors.New("x")), connect.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, connect.CodeOf(connectError(tt.err)), tt.code)
		})
	}
	assert.True(t, connectError(nil) == nil)
}

func TestServer_HealthAndReady(t *testing.T) {
	_, d := newTestServer(t)
	srv, err := NewServer(context.Background(), &ServerConfig{Address: "127.0.0.1:0"}, d)
	assert.NoError(t, err)

	for _, path := range []string{"/server/health", "/server/ready"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, rec.Code, http.StatusOK)
		body, err := io.ReadAll(rec.Body)
		assert.NoError(t, err)
		assert.True(t, len(body) > 0)
	}

	// localnet procedures are not mounted unless enabled
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, FundProcedure, nil)
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusNotFound)
}

func TestJSONCodec(t *testing.T) {
	var c jsonCodec
	assert.Equal(t, c.Name(), "json")

	raw, err := c.Marshal(&models.RelayRequest{Outcome: "ack"})
	assert.NoError(t, err)
	var out models.RelayRequest
	assert.NoError(t, c.Unmarshal(raw, &out))
	assert.Equal(t, out.Outcome, "ack")
	assert.NoError(t, c.Unmarshal(nil, &out))
	assert.Error(t, c.Unmarshal([]byte("{"), &out))

	var ev wasm.Event
	assert.NoError(t, c.Unmarshal([]byte(`{"type":"wasm"}`), &ev))
	assert.Equal(t, ev.Type, "wasm")
}
