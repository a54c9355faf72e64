package relay

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/crypto"
)

const fillsJSON = `[
  {"baseTokenAddress":"0xe41d2489571d322189246dafa5ebde1f4699f498","blockNumber":7000000,
   "feeRecipientAddress":"0xa258b39954cef5cb142fd567a46cddb31a670124","filledBaseTokenAmount":"4",
   "filledQuoteTokenAmount":"0.01","makerAddress":"0x1111111111111111111111111111111111111111",
   "makerFeePaid":"0","orderHash":"0xaa","outlier":false,
   "quoteTokenAddress":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
   "takerAddress":"0x2222222222222222222222222222222222222222","takerFeePaid":"0",
   "timestamp":1550000000,"transactionHash":"0xbb","type":"BUY"},
  {"baseTokenAddress":"0xe41d2489571d322189246dafa5ebde1f4699f498","blockNumber":7000001,
   "feeRecipientAddress":"0xa258b39954cef5cb142fd567a46cddb31a670124","filledBaseTokenAmount":null,
   "filledQuoteTokenAmount":"0.02","makerAddress":"0x3333333333333333333333333333333333333333",
   "makerFeePaid":"0","orderHash":"0xcc","outlier":false,
   "quoteTokenAddress":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
   "takerAddress":"0x4444444444444444444444444444444444444444","takerFeePaid":"0",
   "timestamp":1550000001,"transactionHash":"0xdd","type":"SELL"}
]`

func TestFills(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/markets/ZRX-WETH/fills" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(fillsJSON))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL, time.Second, nil).Fills(context.Background(), "ZRX-WETH")
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d fills, want 2", len(items))
	}
	if !items[0].FilledBaseTokenAmount.Valid || !items[0].FilledBaseTokenAmount.Decimal.Equal(decimal.NewFromInt(4)) {
		t.Errorf("first base amount = %+v, want 4", items[0].FilledBaseTokenAmount)
	}
	if items[1].FilledBaseTokenAmount.Valid {
		t.Errorf("second base amount should be null")
	}
	if items[1].Type != "SELL" || items[1].MakerAddress != "0x3333333333333333333333333333333333333333" {
		t.Errorf("second fill = %+v", items[1])
	}
}

func TestFills_PagedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":2,"page":1,"perPage":20,"records":` + fillsJSON + `}`))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL, time.Second, nil).Fills(context.Background(), "ZRX-WETH")
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d fills, want 2", len(items))
	}
}

func TestPostOrder(t *testing.T) {
	var got SignedOrder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	maker := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	order := &crypto.ZeroExOrder{
		MakerAddress:          maker,
		SenderAddress:         maker,
		MakerAssetAmount:      big.NewInt(10),
		TakerAssetAmount:      big.NewInt(20),
		MakerFee:              big.NewInt(0),
		TakerFee:              big.NewInt(0),
		ExpirationTimeSeconds: big.NewInt(100),
		Salt:                  big.NewInt(7),
		MakerAssetData:        crypto.ERC20AssetData(common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")),
		TakerAssetData:        crypto.ERC20AssetData(common.HexToAddress("0xe41d2489571d322189246dafa5ebde1f4699f498")),
	}
	exchange := common.HexToAddress("0x4f833a24e1f95d70f028921e27040ca56e09ab0b")
	signed := NewSignedOrder(order, exchange, []byte{0x1b, 0x02})

	if err := NewClient(srv.URL+"/", time.Second, nil).PostOrder(context.Background(), signed); err != nil {
		t.Fatalf("PostOrder: %v", err)
	}
	if got.MakerAddress != "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed" {
		t.Errorf("maker = %s, want lowercase", got.MakerAddress)
	}
	if got.TakerAddress != "0x0000000000000000000000000000000000000000" {
		t.Errorf("taker = %s", got.TakerAddress)
	}
	if got.MakerAssetAmount != "10" || got.Salt != "7" {
		t.Errorf("amounts = %s / salt %s", got.MakerAssetAmount, got.Salt)
	}
	if got.Signature != "0x1b02" {
		t.Errorf("signature = %s", got.Signature)
	}
	if got.ExchangeAddress != "0x4f833a24e1f95d70f028921e27040ca56e09ab0b" {
		t.Errorf("exchange = %s", got.ExchangeAddress)
	}
}

func TestRelayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":100,"reason":"Validation failed"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second, nil).PostOrder(context.Background(), SignedOrder{})
	if !errors.Is(err, ErrRelay) {
		t.Fatalf("err = %v, want ErrRelay", err)
	}
}
