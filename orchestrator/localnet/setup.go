package localnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/custody"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"
	"github.com/shopspring/decimal"
)

const (
	LabelOrchestrator = "wrap-and-send"
	LabelCustody      = "custody"
	LabelRouter       = "router"
)

var ErrConfigMismatch = errors.New("stored orchestrator config differs from the configured one")

// Setup describes a deployment. The contract addresses and the address
// prefix of Saga are filled in by Bootstrap.
type Setup struct {
	Saga saga.Config
	// Admin instantiates the orchestrator.
	Admin string
	// Relayer collects relayer fees.
	Relayer  string
	SwapRate decimal.Decimal
	// Reserves fund the mocks on first deployment.
	CustodyReserve decimal.Decimal
	RouterReserve  funds.Coins
}

// Deployment is the orchestrator and its collaborators on a chain.
type Deployment struct {
	Chain        *Chain
	Orchestrator string
	Custody      *Custody
	CustodyAddr  string
	Router       *Router
	RouterAddr   string
	Relayer      string
	Config       saga.Config
}

// Bootstrap registers the mocks and the orchestrator. A store that already
// holds an orchestrator is reused if its config matches; otherwise the
// orchestrator is instantiated and the mock reserves are funded.
func Bootstrap(ctx context.Context, c *Chain, s Setup) (*Deployment, error) {
	custodyMock := NewCustody(s.Saga.BridgedDenom, s.Saga.CanonicalDenom)
	custodyAddr, err := c.Register(LabelCustody, custodyMock)
	if err != nil {
		return nil, err
	}
	router := NewRouter(s.SwapRate)
	routerAddr, err := c.Register(LabelRouter, router)
	if err != nil {
		return nil, err
	}

	cfg := s.Saga
	cfg.CustodyContract = custodyAddr
	cfg.SwapRouter = routerAddr
	cfg.Bech32Prefix = c.Bech32Prefix()
	cfg = cfg.WithDefaults()

	addr, err := c.Register(LabelOrchestrator, saga.New())
	if err != nil {
		return nil, err
	}
	d := &Deployment{
		Chain:        c,
		Orchestrator: addr,
		Custody:      custodyMock,
		CustodyAddr:  custodyAddr,
		Router:       router,
		RouterAddr:   routerAddr,
		Relayer:      s.Relayer,
		Config:       cfg,
	}
	if d.Relayer == "" {
		d.Relayer = c.AccountAddress("relayer")
	}

	stored, err := d.SagaConfig(ctx)
	switch {
	case err == nil:
		if stored != cfg {
			return nil, fmt.Errorf("%w: stored router %s custody %s", ErrConfigMismatch, stored.SwapRouter, stored.CustodyContract)
		}
		log.Info().Str("orchestrator", addr).Msg("Reusing deployed orchestrator")
		return d, nil
	case !errors.Is(err, saga.ErrNotInstantiated):
		return nil, err
	}

	raw, err := json.Marshal(saga.InstantiateMsg(cfg))
	if err != nil {
		return nil, err
	}
	admin := s.Admin
	if admin == "" {
		admin = c.AccountAddress("admin")
	}
	if _, err := c.Setup(ctx, admin, addr, raw); err != nil {
		return nil, fmt.Errorf("instantiate orchestrator: %w", err)
	}
	if s.CustodyReserve.IsPositive() {
		if _, err := c.Fund(ctx, custodyAddr, funds.Coins{funds.NewCoinFromDecimal(s.CustodyReserve, cfg.CanonicalDenom)}); err != nil {
			return nil, fmt.Errorf("fund custody: %w", err)
		}
	}
	if !s.RouterReserve.IsZero() {
		if _, err := c.Fund(ctx, routerAddr, s.RouterReserve); err != nil {
			return nil, fmt.Errorf("fund router: %w", err)
		}
	}

	log.Info().
		Str("orchestrator", addr).
		Str("custody", custodyAddr).
		Str("router", routerAddr).
		Msg("Deployed")
	return d, nil
}

// WrapAndSend submits a wrap-and-send transaction from sender.
func (d *Deployment) WrapAndSend(ctx context.Context, sender string, msg saga.WrapAndSendMsg, deposit funds.Coins) (*TxResult, error) {
	raw, err := json.Marshal(saga.ExecuteMsg{WrapAndSend: &msg})
	if err != nil {
		return nil, err
	}
	return d.Chain.Execute(ctx, sender, d.Orchestrator, raw, deposit)
}

// Unwrap burns canonical funds of sender at the custody contract. The
// bridged funds go to receiver, or back to sender when receiver is empty.
func (d *Deployment) Unwrap(ctx context.Context, sender string, amount funds.Coin, receiver string) (*TxResult, error) {
	if amount.Denom != d.Config.CanonicalDenom {
		return nil, fmt.Errorf("%w: unwrap takes %s, got %s", funds.ErrInvalidDenom, d.Config.CanonicalDenom, amount.Denom)
	}
	if !amount.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: nothing to unwrap", funds.ErrInvalidAmount)
	}
	var to *string
	if receiver != "" {
		to = &receiver
	}
	burn, err := custody.NewClient(d.CustodyAddr).Burn(amount, to)
	if err != nil {
		return nil, err
	}
	return d.Chain.Execute(ctx, sender, burn.Contract, burn.Msg, burn.Funds)
}

func (d *Deployment) SagaConfig(ctx context.Context) (saga.Config, error) {
	var cfg saga.Config
	err := d.query(ctx, saga.QueryMsg{Config: &struct{}{}}, &cfg)
	return cfg, err
}

func (d *Deployment) Status(ctx context.Context) (saga.StatusResponse, error) {
	var st saga.StatusResponse
	err := d.query(ctx, saga.QueryMsg{Status: &struct{}{}}, &st)
	return st, err
}

func (d *Deployment) InFlightTransfers(ctx context.Context, q saga.InFlightTransfersQuery) ([]saga.TransferEntry, error) {
	var resp saga.InFlightTransfersResponse
	if err := d.query(ctx, saga.QueryMsg{InFlightTransfers: &q}, &resp); err != nil {
		return nil, err
	}
	return resp.Transfers, nil
}

// RelayNext resolves the first pending orchestrator packet, in channel and
// sequence order.
func (d *Deployment) RelayNext(ctx context.Context, outcome Outcome) (*TxResult, Packet, error) {
	pending, err := d.Chain.PendingPackets(ctx)
	if err != nil {
		return nil, Packet{}, err
	}
	for _, p := range pending {
		if p.Sender != d.Orchestrator {
			continue
		}
		res, err := d.Chain.Relay(ctx, d.Relayer, p.SourceChannel, p.Sequence, outcome)
		return res, p, err
	}
	return nil, Packet{}, ErrPacketNotFound
}

func (d *Deployment) query(ctx context.Context, msg saga.QueryMsg, out any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	resp, err := d.Chain.Query(ctx, d.Orchestrator, raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp, out)
}
