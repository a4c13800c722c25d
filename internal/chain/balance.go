package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BalanceReader reads an ERC-20 balance for one account.
type BalanceReader struct {
	token    contract
	account  common.Address
	decimals int32
}

func NewBalanceReader(caller Caller, tokenAddress, account string) (*BalanceReader, error) {
	token, err := newContract(caller, tokenAddress, erc20ABI)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account address %q", account)
	}
	return &BalanceReader{token: token, account: common.HexToAddress(account), decimals: -1}, nil
}

func (b *BalanceReader) Balance(ctx context.Context) (decimal.Decimal, error) {
	if b.decimals < 0 {
		d, err := b.token.decimals(ctx)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("token decimals: %w", err)
		}
		b.decimals = d
	}

	values, err := b.token.call(ctx, "balanceOf", b.account)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("balance of %s: %w", b.account.Hex(), err)
	}
	if len(values) != 1 {
		return decimal.Decimal{}, fmt.Errorf("balance: unexpected output length %d", len(values))
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("balance: unexpected type %T", values[0])
	}

	balance := decimal.NewFromBigInt(raw, -b.decimals)
	slog.Info("balance fetched", "account", b.account.Hex(), "balance", balance.String())
	return balance, nil
}
