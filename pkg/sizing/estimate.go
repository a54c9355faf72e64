package sizing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/market"
)

// ExpectedResults are the metrics shown under a sized amount. SlippageRate
// is zero when the estimator has none.
type ExpectedResults struct {
	TradedAmountEstimate decimal.Decimal `json:"tradedAmountEstimate"`
	SlippageRate         decimal.Decimal `json:"slippageRate"`
	ExposureValue        decimal.Decimal `json:"exposureValue"`
}

// Calculator queries the estimator for the derived metrics of a request.
// It does not cache; callers avoid redundant requests.
type Calculator struct {
	estimator market.Estimator
}

func NewCalculator(estimator market.Estimator) *Calculator {
	return &Calculator{estimator: estimator}
}

// Estimate queries the traded amount estimate, then the slippage for it and
// the exposure. The first failing lookup aborts.
func (c *Calculator) Estimate(ctx context.Context, req market.TradeRequest) (ExpectedResults, error) {
	if c.estimator == nil {
		return ExpectedResults{}, market.ErrProviderUnavailable
	}

	estimate, err := c.estimator.GetTradedAmountEstimate(ctx, req)
	if err != nil {
		return ExpectedResults{}, fmt.Errorf("traded amount estimate: %w", err)
	}
	slippage, err := c.estimator.GetTradeSlippageRate(ctx, req, estimate)
	if err != nil {
		return ExpectedResults{}, fmt.Errorf("slippage rate: %w", err)
	}
	exposure, err := c.estimator.GetTradeFormExposure(ctx, req)
	if err != nil {
		return ExpectedResults{}, fmt.Errorf("exposure: %w", err)
	}

	out := ExpectedResults{
		TradedAmountEstimate: estimate,
		ExposureValue:        exposure,
	}
	if slippage.Valid {
		out.SlippageRate = slippage.Decimal
	}
	return out, nil
}
