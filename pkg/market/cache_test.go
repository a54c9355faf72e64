package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/market"
	"github.com/uhyunpark/tradeform/pkg/market/markettest"
)

// unreachableRedis points at a port nothing listens on.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedProvider_FallsThroughWhenCacheDown(t *testing.T) {
	inner := markettest.New()
	inner.Update(func(p *markettest.Provider) {
		p.PTokenPrice = decimal.RequireFromString("1.25")
		p.SwapRate = decimal.RequireFromString("0.5")
	})
	cp := market.NewCachedProvider(inner, market.NewPriceCache(unreachableRedis(t), time.Second), nil)

	key := market.TradeTokenKey{Asset: market.ETH, UnitOfAccount: market.DAI, PositionType: market.Long, Leverage: 2, Version: 2}
	price, err := cp.GetPTokenPrice(context.Background(), key)
	if err != nil {
		t.Fatalf("GetPTokenPrice: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("1.25")) {
		t.Errorf("price = %s, want 1.25", price)
	}

	rate, err := cp.GetSwapRate(context.Background(), market.ETH, market.DAI)
	if err != nil {
		t.Fatalf("GetSwapRate: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("rate = %s, want 0.5", rate)
	}
	if n := inner.Calls("GetPTokenPrice"); n != 1 {
		t.Errorf("inner price calls = %d, want 1", n)
	}
}

func TestCachedProvider_SubscribeStillDelivers(t *testing.T) {
	inner := markettest.New()
	cp := market.NewCachedProvider(inner, market.NewPriceCache(unreachableRedis(t), time.Second), nil)

	got := make(chan market.ProviderChanged, 1)
	sub, err := cp.Subscribe(func(ev market.ProviderChanged) { got <- ev })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	inner.Publish(market.ProviderChanged{Reason: "block"})
	select {
	case ev := <-got:
		if ev.Reason != "block" {
			t.Errorf("reason = %q", ev.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
