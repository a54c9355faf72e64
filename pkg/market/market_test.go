package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"BUY", Open, false},
		{"open", Open, false},
		{"sell", Close, false},
		{"CLOSE", Close, false},
		{"hold", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDirection(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDirection(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTradeTokenKey(t *testing.T) {
	long := TradeTokenKey{Asset: ETH, UnitOfAccount: DAI, PositionType: Long, Leverage: 2, Version: 2}
	short := TradeTokenKey{Asset: ETH, UnitOfAccount: USDC, PositionType: Short, Leverage: 1, Version: 2}

	if got := long.String(); got != "dLETH2x_v2" {
		t.Errorf("long key = %s, want dLETH2x_v2", got)
	}
	if got := short.String(); got != "usETH_v2" {
		t.Errorf("short key = %s, want usETH_v2", got)
	}
	if long.BaseAsset() != DAI {
		t.Errorf("long base asset = %s, want DAI", long.BaseAsset())
	}
	if short.BaseAsset() != ETH {
		t.Errorf("short base asset = %s, want ETH", short.BaseAsset())
	}
}

func TestTradeRequest_JSONRoundTripOfEnums(t *testing.T) {
	req := TradeRequest{Direction: Close, PositionType: Short, Amount: decimal.RequireFromString("1.25")}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out TradeRequest
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Direction != Close || out.PositionType != Short || !out.Amount.Equal(req.Amount) {
		t.Errorf("round trip = %+v, want %+v", out, req)
	}
}

func TestBus_SubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()
	var got []string

	subA, _ := bus.Subscribe(func(ev ProviderChanged) { got = append(got, "a:"+ev.Reason) })
	_, _ = bus.Subscribe(func(ev ProviderChanged) { got = append(got, "b:"+ev.Reason) })

	bus.Publish(ProviderChanged{Reason: "1"})
	if err := subA.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	_ = subA.Unsubscribe()
	bus.Publish(ProviderChanged{Reason: "2"})

	want := []string{"a:1", "b:1", "b:2"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if bus.Len() != 1 {
		t.Errorf("live subscriptions = %d, want 1", bus.Len())
	}
}

func TestHTTPProvider(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ptoken/price", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("positionType") != "LONG" {
			http.Error(w, "bad key", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"value":"2.5"}`))
	})
	mux.HandleFunc("/v1/swap-rate", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":0.004}`))
	})
	mux.HandleFunc("/v1/estimate/slippage", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":null}`))
	})
	mux.HandleFunc("/v1/max-trade-value", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, Account: "0xabc"})
	ctx := context.Background()
	key := TradeTokenKey{Asset: ETH, UnitOfAccount: DAI, PositionType: Long, Leverage: 2, Version: 2}

	price, err := p.GetPTokenPrice(ctx, key)
	if err != nil {
		t.Fatalf("GetPTokenPrice: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("price = %s, want 2.5", price)
	}

	rate, err := p.GetSwapRate(ctx, DAI, ETH)
	if err != nil {
		t.Fatalf("GetSwapRate: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("0.004")) {
		t.Errorf("swap rate = %s, want 0.004", rate)
	}

	same, err := p.GetSwapRate(ctx, ETH, ETH)
	if err != nil || !same.Equal(decimal.NewFromInt(1)) {
		t.Errorf("identity swap rate = %s, %v; want 1", same, err)
	}

	slip, err := p.GetTradeSlippageRate(ctx, TradeRequest{}, decimal.Zero)
	if err != nil {
		t.Fatalf("GetTradeSlippageRate: %v", err)
	}
	if slip.Valid {
		t.Errorf("slippage valid = true, want absent")
	}

	_, err = p.GetMaxTradeValue(ctx, Open, key, ETH)
	if !errors.Is(err, ErrGateway) {
		t.Errorf("GetMaxTradeValue err = %v, want ErrGateway", err)
	}
}
