package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/form"
	"github.com/uhyunpark/tradeform/pkg/market"
	"github.com/uhyunpark/tradeform/pkg/matching"
	"github.com/uhyunpark/tradeform/pkg/sizing"
)

// ==============================
// REST Request Types
// ==============================

// LimitRequest is the payload for POST /api/v1/limit
type LimitRequest struct {
	Direction      market.Direction    `json:"direction" validate:"required"`
	Text           string              `json:"text"`
	Asset          market.Asset        `json:"asset" validate:"required"`
	UnitOfAccount  market.Asset        `json:"unitOfAccount" validate:"required"`
	PositionType   market.PositionType `json:"positionType" validate:"required"`
	Leverage       int                 `json:"leverage" validate:"gte=1,lte=4"`
	TokenizeNeeded bool                `json:"tokenizeNeeded"`
	Version        int                 `json:"version" validate:"gte=1,lte=2"`
	Destination    market.Asset        `json:"destination" validate:"required"`
	MaxTradeValue  decimal.Decimal     `json:"maxTradeValue"`
}

func (r LimitRequest) input() sizing.LimitInput {
	return sizing.LimitInput{
		Text:      r.Text,
		Direction: r.Direction,
		Key: market.TradeTokenKey{
			Asset:          r.Asset,
			UnitOfAccount:  r.UnitOfAccount,
			PositionType:   r.PositionType,
			Leverage:       r.Leverage,
			TokenizeNeeded: r.TokenizeNeeded,
			Version:        r.Version,
		},
		Destination:   r.Destination,
		MaxTradeValue: r.MaxTradeValue,
	}
}

// InputRequest is the payload for POST /api/v1/forms/{id}/input
type InputRequest struct {
	Text string `json:"text"`
}

// CollateralRequest is the payload for POST /api/v1/forms/{id}/collateral
type CollateralRequest struct {
	Asset market.Asset `json:"asset" validate:"required"`
}

// TokenizeRequest is the payload for POST /api/v1/forms/{id}/tokenize
type TokenizeRequest struct {
	TokenizeNeeded bool `json:"tokenizeNeeded"`
}

// ==============================
// REST Response Types
// ==============================

// LimitResponse carries the limited amount. NaN is set when the text did
// not parse or a price lookup could not produce a number.
type LimitResponse struct {
	sizing.AmountState
	NaN bool `json:"nan"`
}

// AcceptedResponse acknowledges an input that is applied asynchronously;
// the resulting view arrives on the form's WebSocket channel.
type AcceptedResponse struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

// SubmitResponse is returned by POST /api/v1/forms/{id}/submit
type SubmitResponse struct {
	Status   string               `json:"status"` // "sized", "matched", "partial"
	Request  *market.TradeRequest `json:"request,omitempty"`
	Matching *matching.Result     `json:"matching,omitempty"`
	Message  string               `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Forms  int    `json:"forms"`
	Time   int64  `json:"time"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["form:3f2a..."]
}

// FormUpdate is broadcast on form:<id> after every applied change.
type FormUpdate struct {
	Type string    `json:"type"` // "form"
	View form.View `json:"view"`
}

func formChannel(id string) string { return "form:" + id }
