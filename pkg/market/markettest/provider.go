// Package markettest provides an in-memory market.Provider for tests.
package markettest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/market"
)

// Provider answers every lookup from its fields. Mutate it with Update once
// it is shared with running goroutines.
type Provider struct {
	*market.Bus

	mu sync.Mutex

	MaxTradeValue decimal.Decimal
	PTokenPrice   decimal.Decimal
	SwapRate      decimal.Decimal
	Slippage      decimal.NullDecimal
	Exposure      decimal.Decimal
	Balances      map[market.Asset]decimal.Decimal
	PTokenBalance decimal.Decimal
	InterestRate  decimal.Decimal
	PTokenAddress string
	NeedsApproval bool
	DataPoint     market.PriceDataPoint

	// EstimateFunc computes the traded amount estimate; defaults to the request amount.
	EstimateFunc func(req market.TradeRequest) decimal.Decimal
	// EstimateHook runs before every estimate and may block or fail.
	EstimateHook func(ctx context.Context, req market.TradeRequest) error
	// Err, when set, is returned by every pricing lookup.
	Err error

	calls map[string]int
}

func New() *Provider {
	return &Provider{
		Bus:           market.NewBus(),
		MaxTradeValue: decimal.NewFromInt(5),
		PTokenPrice:   decimal.NewFromInt(1),
		SwapRate:      decimal.NewFromInt(1),
		Balances:      map[market.Asset]decimal.Decimal{},
		calls:         map[string]int{},
	}
}

func (p *Provider) Update(fn func(p *Provider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// Calls returns how many times the named method ran.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *Provider) record(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
	return p.Err
}

func (p *Provider) GetMaxTradeValue(ctx context.Context, dir market.Direction, key market.TradeTokenKey, collateral market.Asset) (decimal.Decimal, error) {
	if err := p.record("GetMaxTradeValue"); err != nil {
		return decimal.Zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.MaxTradeValue, nil
}

func (p *Provider) GetPTokenPrice(ctx context.Context, key market.TradeTokenKey) (decimal.Decimal, error) {
	if err := p.record("GetPTokenPrice"); err != nil {
		return decimal.Zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PTokenPrice, nil
}

func (p *Provider) GetSwapRate(ctx context.Context, from, to market.Asset) (decimal.Decimal, error) {
	if err := p.record("GetSwapRate"); err != nil {
		return decimal.Zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SwapRate, nil
}

func (p *Provider) GetBaseAsset(key market.TradeTokenKey) market.Asset { return key.BaseAsset() }

func (p *Provider) GetTradedAmountEstimate(ctx context.Context, req market.TradeRequest) (decimal.Decimal, error) {
	p.mu.Lock()
	p.calls["GetTradedAmountEstimate"]++
	hook, fn := p.EstimateHook, p.EstimateFunc
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return decimal.Zero, err
		}
	}
	if fn != nil {
		return fn(req), nil
	}
	return req.Amount, nil
}

func (p *Provider) GetTradeSlippageRate(ctx context.Context, req market.TradeRequest, estimate decimal.Decimal) (decimal.NullDecimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["GetTradeSlippageRate"]++
	return p.Slippage, nil
}

func (p *Provider) GetTradeFormExposure(ctx context.Context, req market.TradeRequest) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["GetTradeFormExposure"]++
	return p.Exposure, nil
}

func (p *Provider) GetAssetBalance(ctx context.Context, asset market.Asset) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Balances[asset], nil
}

func (p *Provider) GetEthBalance(ctx context.Context) (decimal.Decimal, error) {
	return p.GetAssetBalance(ctx, market.ETH)
}

func (p *Provider) GetPTokenBalance(ctx context.Context, key market.TradeTokenKey) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PTokenBalance, nil
}

func (p *Provider) GetInterestRate(ctx context.Context, key market.TradeTokenKey) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.InterestRate, nil
}

func (p *Provider) GetPTokenAddress(ctx context.Context, key market.TradeTokenKey) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PTokenAddress, nil
}

func (p *Provider) CheckCollateralApproval(ctx context.Context, req market.TradeRequest) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.NeedsApproval, nil
}

func (p *Provider) GetLatestDataPoint(ctx context.Context, key market.TradeTokenKey) (market.PriceDataPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DataPoint, nil
}

var _ market.Provider = (*Provider)(nil)
