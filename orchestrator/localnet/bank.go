package localnet

import (
	"context"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
)

var bank = storage.NewMap[funds.Coins]("bank")

func balances(ctx context.Context, kv storage.KV, addr string) (funds.Coins, error) {
	bal, _, err := bank.May(ctx, kv, addr)
	if err != nil {
		return nil, err
	}
	return bal.Normalize(), nil
}

func setBalances(ctx context.Context, kv storage.KV, addr string, bal funds.Coins) error {
	if bal.IsZero() {
		return bank.Remove(ctx, kv, addr)
	}
	return bank.Save(ctx, kv, addr, bal.Normalize())
}

func bankSend(ctx context.Context, kv storage.KV, from, to string, amount funds.Coins) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	have, err := balances(ctx, kv, from)
	if err != nil {
		return err
	}
	left, err := have.Sub(amount...)
	if err != nil {
		return fmt.Errorf("send from %s: %w", from, err)
	}
	if err := setBalances(ctx, kv, from, left); err != nil {
		return err
	}
	return mint(ctx, kv, to, amount)
}

func mint(ctx context.Context, kv storage.KV, to string, amount funds.Coins) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	have, err := balances(ctx, kv, to)
	if err != nil {
		return err
	}
	return setBalances(ctx, kv, to, have.Add(amount...))
}

// Fund mints coins to addr, the way a genesis allocation or faucet would.
func (c *Chain) Fund(ctx context.Context, addr string, coins funds.Coins) (*TxResult, error) {
	return c.run(ctx, func(t *tx, kv storage.KV) ([]byte, error) {
		if err := mint(ctx, kv, addr, coins); err != nil {
			return nil, err
		}
		t.emit(wasmEvent("coinbase", "minter", "faucet", "recipient", addr, "amount", coins.Normalize().String()))
		return nil, nil
	})
}

// Balances returns every balance of addr in committed state.
func (c *Chain) Balances(ctx context.Context, addr string) (funds.Coins, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return balances(ctx, c.root, addr)
}

// Balance returns the committed balance of addr in denom.
func (c *Chain) Balance(ctx context.Context, addr, denom string) (funds.Coin, error) {
	bal, err := c.Balances(ctx, addr)
	if err != nil {
		return funds.Coin{}, err
	}
	return funds.NewCoinFromDecimal(bal.AmountOf(denom), denom), nil
}
