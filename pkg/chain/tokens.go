// Package chain sends the on-chain transactions a maker needs before its
// orders can be filled: wrapping ETH and approving the 0x ERC20 proxy.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/uhyunpark/tradeform/pkg/util"
)

const erc20JSON = `[
  {"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"payable":false,"stateMutability":"nonpayable","type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},
  {"constant":false,"inputs":[],"name":"deposit","outputs":[],"payable":true,"stateMutability":"payable","type":"function"}
]`

var tokenABI = mustABI(erc20JSON)

// UnlimitedAllowance is the allowance set on the proxy: 2^256-1.
var UnlimitedAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

type Tokens struct {
	backend bind.ContractBackend
	key     *ecdsa.PrivateKey
	owner   common.Address
	chainID *big.Int
	weth    common.Address
	proxy   common.Address
	log     *zap.SugaredLogger
}

type TokensConfig struct {
	Backend    bind.ContractBackend
	Key        *ecdsa.PrivateKey
	Owner      common.Address
	ChainID    int64
	WETH       common.Address
	ERC20Proxy common.Address
	Logger     *zap.SugaredLogger
}

func NewTokens(cfg TokensConfig) *Tokens {
	return &Tokens{
		backend: cfg.Backend,
		key:     cfg.Key,
		owner:   cfg.Owner,
		chainID: big.NewInt(cfg.ChainID),
		weth:    cfg.WETH,
		proxy:   cfg.ERC20Proxy,
		log:     util.OrNop(cfg.Logger),
	}
}

// Dial connects to a JSON-RPC node.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return client, nil
}

func (t *Tokens) contract(token common.Address) *bind.BoundContract {
	return bind.NewBoundContract(token, tokenABI, t.backend, t.backend, t.backend)
}

func (t *Tokens) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(t.key, t.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Deposit wraps amount wei of ETH into WETH.
func (t *Tokens) Deposit(ctx context.Context, amount *big.Int) (*types.Transaction, error) {
	opts, err := t.transactor(ctx)
	if err != nil {
		return nil, err
	}
	opts.Value = amount
	tx, err := t.contract(t.weth).Transact(opts, "deposit")
	if err != nil {
		return nil, fmt.Errorf("weth deposit: %w", err)
	}
	t.log.Infow("weth_deposit_sent", "wei", amount.String(), "tx", tx.Hash().Hex())
	return tx, nil
}

// Allowance reads token's allowance from owner to the ERC20 proxy.
func (t *Tokens) Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract(token).Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, t.proxy); err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return firstBig(out)
}

func (t *Tokens) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract(token).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return firstBig(out)
}

// SetUnlimitedProxyAllowance approves the proxy for token. It returns a nil
// transaction when the allowance is already unlimited.
func (t *Tokens) SetUnlimitedProxyAllowance(ctx context.Context, token common.Address) (*types.Transaction, error) {
	current, err := t.Allowance(ctx, token, t.owner)
	if err != nil {
		return nil, err
	}
	if !NeedsApproval(current) {
		return nil, nil
	}

	opts, err := t.transactor(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := t.contract(token).Transact(opts, "approve", t.proxy, UnlimitedAllowance)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", token.Hex(), err)
	}
	t.log.Infow("proxy_approval_sent", "token", token.Hex(), "tx", tx.Hash().Hex())
	return tx, nil
}

// NeedsApproval reports whether an allowance is short of unlimited.
func NeedsApproval(current *big.Int) bool {
	return current == nil || current.Cmp(UnlimitedAllowance) < 0
}

func firstBig(out []interface{}) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("empty call result")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", out[0])
	}
	return v, nil
}
