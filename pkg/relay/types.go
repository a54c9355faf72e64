package relay

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/crypto"
)

// FillItem is one executed trade as reported by the relay's fills feed.
// Token amounts are in display units. FilledBaseTokenAmount is null when the
// relay cannot attribute the base side.
type FillItem struct {
	BaseTokenAddress       string              `json:"baseTokenAddress"`
	BlockNumber            int64               `json:"blockNumber"`
	FeeRecipientAddress    string              `json:"feeRecipientAddress"`
	FilledBaseTokenAmount  decimal.NullDecimal `json:"filledBaseTokenAmount"`
	FilledQuoteTokenAmount decimal.Decimal     `json:"filledQuoteTokenAmount"`
	MakerAddress           string              `json:"makerAddress"`
	MakerFeePaid           decimal.Decimal     `json:"makerFeePaid"`
	OrderHash              string              `json:"orderHash"`
	Outlier                bool                `json:"outlier"`
	QuoteTokenAddress      string              `json:"quoteTokenAddress"`
	TakerAddress           string              `json:"takerAddress"`
	TakerFeePaid           decimal.Decimal     `json:"takerFeePaid"`
	Timestamp              int64               `json:"timestamp"`
	TransactionHash        string              `json:"transactionHash"`
	Type                   string              `json:"type"` // BUY or SELL
}

// SignedOrder is the relay wire form of a signed 0x v2 order: integers as
// decimal strings, addresses lowercase hex.
type SignedOrder struct {
	MakerAddress          string `json:"makerAddress"`
	TakerAddress          string `json:"takerAddress"`
	FeeRecipientAddress   string `json:"feeRecipientAddress"`
	SenderAddress         string `json:"senderAddress"`
	MakerAssetAmount      string `json:"makerAssetAmount"`
	TakerAssetAmount      string `json:"takerAssetAmount"`
	MakerFee              string `json:"makerFee"`
	TakerFee              string `json:"takerFee"`
	ExpirationTimeSeconds string `json:"expirationTimeSeconds"`
	Salt                  string `json:"salt"`
	MakerAssetData        string `json:"makerAssetData"`
	TakerAssetData        string `json:"takerAssetData"`
	ExchangeAddress       string `json:"exchangeAddress"`
	Signature             string `json:"signature"`
}

func NewSignedOrder(o *crypto.ZeroExOrder, exchange common.Address, signature []byte) SignedOrder {
	return SignedOrder{
		MakerAddress:          lower(o.MakerAddress),
		TakerAddress:          lower(o.TakerAddress),
		FeeRecipientAddress:   lower(o.FeeRecipientAddress),
		SenderAddress:         lower(o.SenderAddress),
		MakerAssetAmount:      o.MakerAssetAmount.String(),
		TakerAssetAmount:      o.TakerAssetAmount.String(),
		MakerFee:              o.MakerFee.String(),
		TakerFee:              o.TakerFee.String(),
		ExpirationTimeSeconds: o.ExpirationTimeSeconds.String(),
		Salt:                  o.Salt.String(),
		MakerAssetData:        hexutil.Encode(o.MakerAssetData),
		TakerAssetData:        hexutil.Encode(o.TakerAssetData),
		ExchangeAddress:       lower(exchange),
		Signature:             hexutil.Encode(signature),
	}
}

func lower(a common.Address) string { return strings.ToLower(a.Hex()) }
