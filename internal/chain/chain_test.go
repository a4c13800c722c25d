package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

const (
	feedAddress = "0xc907E116054Ad103354f2D350FD2514433D57F6f"
	usdcAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	account     = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

type fakeCaller struct {
	t       *testing.T
	abi     abi.ABI
	outputs map[string][]interface{}
	err     error
	calls   int
}

func newFakeCaller(t *testing.T, definition string, outputs map[string][]interface{}) *fakeCaller {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &fakeCaller{t: t, abi: parsed, outputs: outputs}
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for name, method := range f.abi.Methods {
		if !bytes.Equal(msg.Data[:4], method.ID) {
			continue
		}
		out, err := method.Outputs.Pack(f.outputs[name]...)
		if err != nil {
			f.t.Fatalf("pack %s outputs: %v", name, err)
		}
		return out, nil
	}
	f.t.Fatalf("unexpected call data %x", msg.Data)
	return nil, nil
}

func TestPriceFeedScalesAnswerByDecimals(t *testing.T) {
	now := time.Now()
	caller := newFakeCaller(t, aggregatorABI, map[string][]interface{}{
		"decimals": {uint8(8)},
		"latestRoundData": {
			big.NewInt(1), big.NewInt(6412345678901), big.NewInt(now.Unix()), big.NewInt(now.Unix()), big.NewInt(1),
		},
	})
	feed, err := NewPriceFeed(caller, feedAddress)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}

	price, err := feed.CurrentPrice(context.Background())
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("64123.45678901")) {
		t.Fatalf("unexpected price %s", price)
	}

	if _, err := feed.CurrentPrice(context.Background()); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if caller.calls != 3 {
		t.Fatalf("expected decimals to be cached (3 calls), got %d", caller.calls)
	}
}

func TestPriceFeedRejectsNonPositiveAnswer(t *testing.T) {
	caller := newFakeCaller(t, aggregatorABI, map[string][]interface{}{
		"decimals":        {uint8(8)},
		"latestRoundData": {big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(1)},
	})
	feed, err := NewPriceFeed(caller, feedAddress)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	if _, err := feed.CurrentPrice(context.Background()); err == nil {
		t.Fatalf("expected error for zero answer")
	}
}

func TestPriceFeedPropagatesRPCError(t *testing.T) {
	caller := newFakeCaller(t, aggregatorABI, nil)
	caller.err = errors.New("rpc unavailable")
	feed, err := NewPriceFeed(caller, feedAddress)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	if _, err := feed.CurrentPrice(context.Background()); err == nil {
		t.Fatalf("expected rpc error")
	}
}

func TestNewPriceFeedRejectsBadAddress(t *testing.T) {
	if _, err := NewPriceFeed(newFakeCaller(t, aggregatorABI, nil), "not-an-address"); err == nil {
		t.Fatalf("expected invalid address error")
	}
}

func TestBalanceReaderScalesByTokenDecimals(t *testing.T) {
	caller := newFakeCaller(t, erc20ABI, map[string][]interface{}{
		"decimals":  {uint8(6)},
		"balanceOf": {big.NewInt(1234567890)},
	})
	reader, err := NewBalanceReader(caller, usdcAddress, account)
	if err != nil {
		t.Fatalf("new balance reader: %v", err)
	}

	balance, err := reader.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("1234.56789")) {
		t.Fatalf("unexpected balance %s", balance)
	}
}

func TestWalletSignatureRecoversToAddress(t *testing.T) {
	wallet, err := NewWallet(testKey)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	message := []byte(`{"marketId":"1","outcome":"Yes"}`)

	sigHex, err := wallet.Sign(context.Background(), message)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("unexpected signature shape: len=%d v=%d", len(sig), sig[len(sig)-1])
	}
	sig[64] -= 27

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub).Hex(); got != wallet.Address() {
		t.Fatalf("recovered %s, wallet is %s", got, wallet.Address())
	}
}

func TestNewWalletRejectsEmptyKey(t *testing.T) {
	if _, err := NewWallet("  "); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
