package matching

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tradeform/pkg/crypto"
	"github.com/uhyunpark/tradeform/pkg/relay"
	"github.com/uhyunpark/tradeform/pkg/util"
)

// OrderSigner signs an order hash on behalf of signer, returning the
// signature in the exchange's layout.
type OrderSigner interface {
	SignOrderHash(ctx context.Context, hash common.Hash, signer common.Address) ([]byte, error)
}

// TokenOps sends the wrap and approval transactions of the local signer.
type TokenOps interface {
	Deposit(ctx context.Context, amount *big.Int) (*types.Transaction, error)
	SetUnlimitedProxyAllowance(ctx context.Context, token common.Address) (*types.Transaction, error)
}

type OrderRelay interface {
	PostOrder(ctx context.Context, order relay.SignedOrder) error
}

var errZeroAmount = errors.New("order amount rounds to zero base units")

// ErrBadSignature is returned when a signature does not recover to the
// order's maker. Such orders are never posted.
var ErrBadSignature = errors.New("order signature does not match maker")

type AllocatorConfig struct {
	Self   common.Address
	Signer OrderSigner
	Tokens TokenOps // nil skips wrapping and approvals
	Relay  OrderRelay

	Exchange common.Address
	WETH     common.Address // quote token
	ZRX      common.Address // base token
	Decimals int32
	Expiry   time.Duration

	Clock  util.Clock
	Logger *zap.SugaredLogger
}

// OrderAllocator turns an allocation into a signed 0x order on the relay.
type OrderAllocator struct {
	cfg    AllocatorConfig
	hasher *crypto.EIP712Signer
	log    *zap.SugaredLogger
}

func NewOrderAllocator(cfg AllocatorConfig) *OrderAllocator {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = 18
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = 7 * 24 * time.Hour
	}
	return &OrderAllocator{
		cfg:    cfg,
		hasher: crypto.NewEIP712Signer(crypto.ZeroExDomain(cfg.Exchange)),
		log:    util.OrNop(cfg.Logger),
	}
}

// ToBaseUnits scales a display amount to integer token units, truncating.
func ToBaseUnits(v decimal.Decimal, decimals int32) *big.Int {
	return v.Shift(decimals).Truncate(0).BigInt()
}

// legs returns what the maker gives and what the taker gives. On Buy the
// maker pays quote for base; on Sell it gives base for quote.
func (a *OrderAllocator) legs(side Side, al Allocation) (makerToken common.Address, makerAmt *big.Int, takerToken common.Address, takerAmt *big.Int) {
	base := ToBaseUnits(al.Qty, a.cfg.Decimals)
	quote := ToBaseUnits(al.QuoteQty, a.cfg.Decimals)
	if side == Buy {
		return a.cfg.WETH, quote, a.cfg.ZRX, base
	}
	return a.cfg.ZRX, base, a.cfg.WETH, quote
}

// BuildOrder assembles the unsigned order for an allocation.
func (a *OrderAllocator) BuildOrder(side Side, al Allocation) (*crypto.ZeroExOrder, error) {
	makerToken, makerAmt, takerToken, takerAmt := a.legs(side, al)
	if makerAmt.Sign() <= 0 || takerAmt.Sign() <= 0 {
		return nil, errZeroAmount
	}

	now := a.cfg.Clock.Now()
	return &crypto.ZeroExOrder{
		MakerAddress:          a.cfg.Self,
		TakerAddress:          al.Counterparty,
		FeeRecipientAddress:   al.Order.FeeRecipient,
		SenderAddress:         a.cfg.Self,
		MakerAssetAmount:      makerAmt,
		TakerAssetAmount:      takerAmt,
		MakerFee:              big.NewInt(0),
		TakerFee:              big.NewInt(0),
		ExpirationTimeSeconds: big.NewInt(now.Add(a.cfg.Expiry).Unix()),
		Salt:                  big.NewInt(now.UnixMilli()),
		MakerAssetData:        crypto.ERC20AssetData(makerToken),
		TakerAssetData:        crypto.ERC20AssetData(takerToken),
	}, nil
}

func (a *OrderAllocator) Allocate(ctx context.Context, side Side, al Allocation) (common.Hash, error) {
	order, err := a.BuildOrder(side, al)
	if err != nil {
		return common.Hash{}, err
	}

	if err := a.prepareTokens(ctx, order); err != nil {
		return common.Hash{}, err
	}

	hash, err := a.hasher.HashOrder(order)
	if err != nil {
		return common.Hash{}, err
	}
	sig, err := a.cfg.Signer.SignOrderHash(ctx, hash, order.MakerAddress)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign order %s: %w", hash.Hex(), err)
	}
	ok, err := a.hasher.VerifyOrderSignature(order, sig)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: order %s: %v", ErrBadSignature, hash.Hex(), err)
	}
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: order %s", ErrBadSignature, hash.Hex())
	}

	if err := a.cfg.Relay.PostOrder(ctx, relay.NewSignedOrder(order, a.cfg.Exchange, sig)); err != nil {
		return common.Hash{}, fmt.Errorf("post order %s: %w", hash.Hex(), err)
	}
	return hash, nil
}

// prepareTokens wraps ETH for whichever party sells WETH and approves the
// proxy for the tokens each party gives, for parties that are the local
// signer.
func (a *OrderAllocator) prepareTokens(ctx context.Context, o *crypto.ZeroExOrder) error {
	if a.cfg.Tokens == nil {
		return nil
	}
	parties := []struct {
		addr   common.Address
		data   []byte
		amount *big.Int
	}{
		{o.MakerAddress, o.MakerAssetData, o.MakerAssetAmount},
		{o.TakerAddress, o.TakerAssetData, o.TakerAssetAmount},
	}
	for _, p := range parties {
		if p.addr != a.cfg.Self {
			continue
		}
		token, err := crypto.DecodeERC20AssetData(p.data)
		if err != nil {
			return err
		}
		if token == a.cfg.WETH {
			tx, err := a.cfg.Tokens.Deposit(ctx, p.amount)
			if err != nil {
				return fmt.Errorf("wrap eth: %w", err)
			}
			a.log.Debugw("wrap_sent", "wei", p.amount.String(), "tx", txHash(tx))
		}
		tx, err := a.cfg.Tokens.SetUnlimitedProxyAllowance(ctx, token)
		if err != nil {
			return fmt.Errorf("approve proxy: %w", err)
		}
		if tx != nil {
			a.log.Debugw("approval_sent", "token", token.Hex(), "tx", txHash(tx))
		}
	}
	return nil
}

func txHash(tx *types.Transaction) string {
	if tx == nil {
		return ""
	}
	return tx.Hash().Hex()
}

// KeySigner signs with a local key.
type KeySigner struct {
	Key *crypto.Signer
}

func (k KeySigner) SignOrderHash(_ context.Context, hash common.Hash, signer common.Address) ([]byte, error) {
	if signer != k.Key.Address() {
		return nil, fmt.Errorf("no key for signer %s", signer.Hex())
	}
	sig, err := k.Key.Sign(hash.Bytes())
	if err != nil {
		return nil, err
	}
	return crypto.ToZeroExSignature(sig), nil
}
