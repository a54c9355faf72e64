package market

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrProviderUnavailable is returned when no market provider is bound to a
// form. It aborts the current operation.
var ErrProviderUnavailable = errors.New("market provider unavailable")

// Pricing covers the lookups the amount limiter needs.
type Pricing interface {
	GetMaxTradeValue(ctx context.Context, dir Direction, key TradeTokenKey, collateral Asset) (decimal.Decimal, error)
	GetPTokenPrice(ctx context.Context, key TradeTokenKey) (decimal.Decimal, error)
	GetSwapRate(ctx context.Context, from, to Asset) (decimal.Decimal, error)
	GetBaseAsset(key TradeTokenKey) Asset
}

// Estimator covers the expected-results lookups. A slippage rate may be
// absent (Valid == false).
type Estimator interface {
	GetTradedAmountEstimate(ctx context.Context, req TradeRequest) (decimal.Decimal, error)
	GetTradeSlippageRate(ctx context.Context, req TradeRequest, estimate decimal.Decimal) (decimal.NullDecimal, error)
	GetTradeFormExposure(ctx context.Context, req TradeRequest) (decimal.Decimal, error)
}

// Account covers the per-user data a trade form displays next to the amount.
type Account interface {
	GetAssetBalance(ctx context.Context, asset Asset) (decimal.Decimal, error)
	GetEthBalance(ctx context.Context) (decimal.Decimal, error)
	GetPTokenBalance(ctx context.Context, key TradeTokenKey) (decimal.Decimal, error)
	GetInterestRate(ctx context.Context, key TradeTokenKey) (decimal.Decimal, error)
	GetPTokenAddress(ctx context.Context, key TradeTokenKey) (string, error)
	CheckCollateralApproval(ctx context.Context, req TradeRequest) (bool, error)
	GetLatestDataPoint(ctx context.Context, key TradeTokenKey) (PriceDataPoint, error)
}

// ProviderChanged is emitted when the underlying wallet/provider or market
// state changes and derived form data should be refreshed.
type ProviderChanged struct {
	Reason string `json:"reason"`
	At     int64  `json:"at"` // Unix milliseconds
}

// Subscription is released by its owner on teardown.
type Subscription interface {
	Unsubscribe() error
}

// Notifier delivers ProviderChanged events to subscribers.
type Notifier interface {
	Subscribe(fn func(ProviderChanged)) (Subscription, error)
}

// Provider is the full market collaborator injected into forms.
type Provider interface {
	Pricing
	Estimator
	Account
	Notifier
}
