package sizing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/market"
)

// LimitInput is one amount to size. Text is used unless FromValue is set.
type LimitInput struct {
	Text      string
	Value     decimal.Decimal
	FromValue bool

	Direction   market.Direction
	Key         market.TradeTokenKey
	Destination market.Asset // collateral for Open, payout asset for Close

	MaxTradeValue decimal.Decimal
	// SkipLimitCheck is set when the amount is the max itself, which must
	// not be re-clamped against a value derived from it.
	SkipLimitCheck bool
}

// Amount is normalized, non-negative input handed to a Strategy.
type Amount struct {
	Text  string
	Value decimal.Decimal
}

// Strategy sizes an amount for one trade direction.
type Strategy interface {
	Limit(ctx context.Context, amount Amount, in LimitInput) (AmountState, error)
}

// Limiter normalizes typed amounts and clamps them against the max trade
// value, picking the strategy for the form's direction.
type Limiter struct {
	pricing   market.Pricing
	precision int32
}

// NewLimiter formats amounts at precision fractional digits; a
// non-positive precision falls back to DefaultPrecision.
func NewLimiter(pricing market.Pricing, precision int32) *Limiter {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return &Limiter{pricing: pricing, precision: precision}
}

func (l *Limiter) Precision() int32 { return l.precision }

// StrategyFor selects the sizing variant once per computation.
func (l *Limiter) StrategyFor(dir market.Direction) (Strategy, error) {
	switch dir {
	case market.Open:
		return openStrategy{precision: l.precision}, nil
	case market.Close:
		return closeStrategy{pricing: l.pricing, precision: l.precision}, nil
	default:
		return nil, fmt.Errorf("no sizing strategy for direction %v", dir)
	}
}

// Limit normalizes and clamps an amount. Malformed text never fails: the
// returned state reports IsNaN. Errors are collaborator failures only.
func (l *Limiter) Limit(ctx context.Context, in LimitInput) (AmountState, error) {
	if l.pricing == nil {
		return AmountState{}, market.ErrProviderUnavailable
	}

	amount := Amount{Text: in.Text, Value: in.Value}
	if in.FromValue {
		amount.Text = FormatAmount(in.Value, l.precision)
	} else {
		v, err := ParseAmountText(in.Text)
		if err != nil {
			return nanState(in.Text, in.MaxTradeValue), nil
		}
		amount.Value = v
	}

	if amount.Value.IsNegative() {
		amount.Value = amount.Value.Abs()
		amount.Text = FormatAmount(amount.Value, l.precision)
	}

	strategy, err := l.StrategyFor(in.Direction)
	if err != nil {
		return AmountState{}, err
	}
	return strategy.Limit(ctx, amount, in)
}

// openStrategy clamps collateral directly against the max.
type openStrategy struct {
	precision int32
}

func (s openStrategy) Limit(_ context.Context, amount Amount, in LimitInput) (AmountState, error) {
	st := AmountState{
		InputText:     amount.Text,
		InputValue:    amount.Value,
		TradeAmount:   amount.Value,
		MaxTradeValue: in.MaxTradeValue,
	}
	if st.TradeAmount.GreaterThan(in.MaxTradeValue) {
		st.InputValue = in.MaxTradeValue
		st.InputText = FormatAmount(in.MaxTradeValue, s.precision)
		st.TradeAmount = in.MaxTradeValue
	}
	return st, nil
}

// closeStrategy sizes a redemption. The user types a destination-asset
// amount while the max is in position tokens, so the max is converted
// forward (x price x swapRate), the input clamped, and the result converted
// back dividing in reverse order.
type closeStrategy struct {
	pricing   market.Pricing
	precision int32
}

func (s closeStrategy) Limit(ctx context.Context, amount Amount, in LimitInput) (AmountState, error) {
	price, err := s.pricing.GetPTokenPrice(ctx, in.Key)
	if err != nil {
		return AmountState{}, fmt.Errorf("ptoken price: %w", err)
	}
	base := s.pricing.GetBaseAsset(in.Key)
	swapRate, err := s.pricing.GetSwapRate(ctx, base, in.Destination)
	if err != nil {
		return AmountState{}, fmt.Errorf("swap rate %s/%s: %w", base, in.Destination, err)
	}

	destMax := in.MaxTradeValue.Mul(price).Mul(swapRate)
	dest := destMax
	if !in.SkipLimitCheck {
		dest = decimal.Min(destMax, amount.Value)
	}

	if price.IsZero() || swapRate.IsZero() {
		return nanState(FormatAmount(dest, s.precision), in.MaxTradeValue), nil
	}

	return AmountState{
		InputText:     FormatAmount(dest, s.precision),
		InputValue:    dest,
		TradeAmount:   dest.Div(swapRate).Div(price),
		MaxTradeValue: in.MaxTradeValue,
	}, nil
}
