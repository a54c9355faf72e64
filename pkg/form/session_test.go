package form

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/market"
	"github.com/uhyunpark/tradeform/pkg/market/markettest"
	"github.com/uhyunpark/tradeform/pkg/matching"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var ethLongParams = Params{
	Direction:     market.Open,
	Asset:         market.ETH,
	UnitOfAccount: market.DAI,
	Collateral:    market.ETH,
	PositionType:  market.Long,
	Leverage:      2,
	Version:       2,
}

func newProvider() *markettest.Provider {
	p := markettest.New()
	p.Update(func(p *markettest.Provider) {
		p.Balances[market.ETH] = d("3")
		p.Balances[market.DAI] = d("700")
		p.PTokenBalance = d("1.5")
		p.InterestRate = d("0.07")
		p.PTokenAddress = "0x0000000000000000000000000000000000000abc"
		p.DataPoint = market.PriceDataPoint{Price: d("210"), LiquidationPrice: d("140")}
	})
	return p
}

func openSession(t *testing.T, p *markettest.Provider, params Params, engine *matching.Engine) (*Session, chan View) {
	t.Helper()
	views := make(chan View, 64)
	s, err := Open(context.Background(), "form-1", params, Config{
		Provider: p,
		Engine:   engine,
		Debounce: 20 * time.Millisecond,
		OnChange: func(v View) { views <- v },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, views
}

func waitView(t *testing.T, views <-chan View, match func(View) bool) View {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v := <-views:
			if match(v) {
				return v
			}
		case <-timeout:
			t.Fatal("timed out waiting for view")
			return View{}
		}
	}
}

func TestOpen_RefreshesDerivedData(t *testing.T) {
	s, _ := openSession(t, newProvider(), ethLongParams, nil)

	v := s.View()
	if !v.Amount.MaxTradeValue.Equal(d("5")) {
		t.Errorf("max = %s, want 5", v.Amount.MaxTradeValue)
	}
	if !v.Derived.Balance.Equal(d("3")) {
		t.Errorf("balance = %s, want collateral balance 3", v.Derived.Balance)
	}
	if !v.Derived.EthBalance.Equal(d("3")) || !v.Derived.PTokenBalance.Equal(d("1.5")) {
		t.Errorf("eth %s ptoken %s", v.Derived.EthBalance, v.Derived.PTokenBalance)
	}
	if !v.Derived.CurrentPrice.Equal(d("210")) || !v.Derived.LiquidationPrice.Equal(d("140")) {
		t.Errorf("prices = %s / %s", v.Derived.CurrentPrice, v.Derived.LiquidationPrice)
	}
	if v.TokenKey != "dLETH2x_v2" {
		t.Errorf("token key = %s", v.TokenKey)
	}
	if v.Error != "" {
		t.Errorf("error = %s", v.Error)
	}
}

func TestOpen_CloseDirectionUsesPositionBalance(t *testing.T) {
	params := ethLongParams
	params.Direction = market.Close
	s, _ := openSession(t, newProvider(), params, nil)

	if b := s.View().Derived.Balance; !b.Equal(d("1.5")) {
		t.Errorf("balance = %s, want position balance 1.5", b)
	}
}

func TestOpen_NilProvider(t *testing.T) {
	if _, err := Open(context.Background(), "x", ethLongParams, Config{}); !errors.Is(err, market.ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestInputAndSubmit(t *testing.T) {
	s, views := openSession(t, newProvider(), ethLongParams, nil)

	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("submit before input err = %v, want ErrZeroAmount", err)
	}

	s.Input("7")
	v := waitView(t, views, func(v View) bool { return v.Seq > 0 })
	if v.Amount.InputText != "5" || !v.Amount.TradeAmount.Equal(d("5")) || !v.Touched {
		t.Fatalf("view after input = %+v", v.Amount)
	}

	res, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Request == nil || !res.Request.Amount.Equal(d("5")) || res.Matching != nil {
		t.Errorf("submit result = %+v", res)
	}
}

func TestMalformedInputResets(t *testing.T) {
	s, views := openSession(t, newProvider(), ethLongParams, nil)

	s.Input("2")
	waitView(t, views, func(v View) bool { return v.Amount.TradeAmount.Equal(d("2")) })

	s.Input("2x")
	v := waitView(t, views, func(v View) bool { return v.Seq >= 2 })
	if v.Amount.InputText != "" || !v.Amount.TradeAmount.IsZero() || v.Touched {
		t.Errorf("view after reset = %+v touched=%v", v.Amount, v.Touched)
	}
	if !v.Amount.MaxTradeValue.Equal(d("5")) {
		t.Errorf("max after reset = %s", v.Amount.MaxTradeValue)
	}
}

func TestProviderChangeRefreshes(t *testing.T) {
	p := newProvider()
	s, views := openSession(t, p, ethLongParams, nil)

	s.Input("4")
	waitView(t, views, func(v View) bool { return v.Amount.TradeAmount.Equal(d("4")) })

	p.Update(func(p *markettest.Provider) { p.MaxTradeValue = d("3") })
	p.Publish(market.ProviderChanged{Reason: "account"})

	v := waitView(t, views, func(v View) bool { return v.Amount.MaxTradeValue.Equal(d("3")) })
	if !v.Amount.TradeAmount.Equal(d("3")) || v.Amount.InputText != "3" {
		t.Errorf("input not re-limited against the new max: %+v", v.Amount)
	}
}

func TestSetCollateralResetsAmount(t *testing.T) {
	s, views := openSession(t, newProvider(), ethLongParams, nil)

	s.Input("2")
	waitView(t, views, func(v View) bool { return v.Amount.TradeAmount.Equal(d("2")) })

	if err := s.SetCollateral(context.Background(), market.DAI); err != nil {
		t.Fatalf("SetCollateral: %v", err)
	}
	v := s.View()
	if v.Request.Collateral != market.DAI {
		t.Errorf("collateral = %s", v.Request.Collateral)
	}
	if v.Amount.InputText != "" || !v.Amount.TradeAmount.IsZero() {
		t.Errorf("amount not reset: %+v", v.Amount)
	}
	if !v.Derived.Balance.Equal(d("700")) {
		t.Errorf("balance = %s, want DAI balance", v.Derived.Balance)
	}
}

func TestCloseReleasesSubscription(t *testing.T) {
	p := newProvider()
	s, _ := openSession(t, p, ethLongParams, nil)
	if p.Len() != 1 {
		t.Fatalf("subscriptions = %d, want 1", p.Len())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("subscriptions after close = %d, want 0", p.Len())
	}
	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close err = %v", err)
	}
}

type bookFeed []matching.MakerOrder

func (b bookFeed) Orders(context.Context, matching.Side) ([]matching.MakerOrder, error) {
	return b, nil
}

type okAllocator struct{ sides []matching.Side }

func (a *okAllocator) Allocate(_ context.Context, side matching.Side, al matching.Allocation) (common.Hash, error) {
	a.sides = append(a.sides, side)
	return common.Hash{byte(al.Index + 1)}, nil
}

func TestSubmit_FallbackPairRoutesToMatching(t *testing.T) {
	alloc := &okAllocator{}
	engine := matching.NewEngine(matching.EngineConfig{
		Feed: bookFeed{
			{MakerAddress: common.HexToAddress("0x01"), AvailableBaseQty: decimal.NewNullDecimal(d("10")), QuoteQty: d("0.1")},
		},
		Allocator: alloc,
	})
	params := ethLongParams
	params.Asset = market.ZRX
	s, views := openSession(t, newProvider(), params, engine)

	s.Input("4")
	waitView(t, views, func(v View) bool { return v.Amount.InputValue.Equal(d("4")) })

	res, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Matching == nil || res.Request != nil {
		t.Fatalf("result = %+v, want matching outcome", res)
	}
	if res.Matching.State != matching.Done || !res.Matching.Filled.Equal(d("4")) {
		t.Errorf("matching = %+v", res.Matching)
	}
	if len(alloc.sides) != 1 || alloc.sides[0] != matching.Buy {
		t.Errorf("sides = %v, want BUY", alloc.sides)
	}
}

func TestFallbackSide(t *testing.T) {
	tests := []struct {
		asset, collateral market.Asset
		side              matching.Side
		ok                bool
	}{
		{market.ZRX, market.ETH, matching.Buy, true},
		{market.ETH, market.ZRX, matching.Sell, true},
		{market.ETH, market.DAI, 0, false},
		{market.ZRX, market.DAI, 0, false},
	}
	for _, tt := range tests {
		side, ok := FallbackSide(market.TradeRequest{Asset: tt.asset, Collateral: tt.collateral})
		if side != tt.side || ok != tt.ok {
			t.Errorf("FallbackSide(%s/%s) = %v, %v", tt.asset, tt.collateral, side, ok)
		}
	}
}

func TestRegistry(t *testing.T) {
	p := newProvider()
	r := NewRegistry(Config{Provider: p}, nil)

	s, err := r.Open(context.Background(), ethLongParams)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got, err := r.Get(s.ID()); err != nil || got != s {
		t.Errorf("Get = %v, %v", got, err)
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != s.ID() {
		t.Errorf("IDs = %v", ids)
	}
	if err := r.Close(s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Get(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after close err = %v", err)
	}
	if err := r.Close(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second close err = %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("subscriptions = %d after close", p.Len())
	}
}
