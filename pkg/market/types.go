package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset identifies a fungible token by ticker ("ETH", "ZRX", "DAI", ...).
type Asset string

const (
	ETH  Asset = "ETH"
	WETH Asset = "WETH"
	ZRX  Asset = "ZRX"
	DAI  Asset = "DAI"
	USDC Asset = "USDC"
)

// Direction is the trade direction of a form. Open deposits collateral and
// mints a position token; Close redeems a position token into a destination asset.
type Direction uint8

const (
	Open Direction = iota + 1
	Close
)

func (d Direction) String() string {
	switch d {
	case Open:
		return "BUY"
	case Close:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection accepts BUY/SELL as well as open/close, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "BUY", "OPEN":
		return Open, nil
	case "SELL", "CLOSE":
		return Close, nil
	default:
		return 0, fmt.Errorf("unknown trade direction %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	if len(b) == 0 || string(b) == "UNKNOWN" {
		*d = 0
		return nil
	}
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

type PositionType uint8

const (
	Long PositionType = iota + 1
	Short
)

func (p PositionType) String() string {
	switch p {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

func ParsePositionType(s string) (PositionType, error) {
	switch strings.ToUpper(s) {
	case "LONG":
		return Long, nil
	case "SHORT":
		return Short, nil
	default:
		return 0, fmt.Errorf("unknown position type %q", s)
	}
}

func (p PositionType) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PositionType) UnmarshalText(b []byte) error {
	if len(b) == 0 || string(b) == "UNKNOWN" {
		*p = 0
		return nil
	}
	v, err := ParsePositionType(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// TradeTokenKey selects one position token.
type TradeTokenKey struct {
	Asset          Asset        `json:"asset"`
	UnitOfAccount  Asset        `json:"unitOfAccount"`
	PositionType   PositionType `json:"positionType"`
	Leverage       int          `json:"leverage"`
	TokenizeNeeded bool         `json:"tokenizeNeeded"`
	Version        int          `json:"version"`
}

// String renders keys like "dLETH2x" or "sETH3x": unit-of-account initial,
// position initial, asset and a leverage suffix above 1x.
func (k TradeTokenKey) String() string {
	prefix := "u"
	if k.UnitOfAccount == DAI {
		prefix = "d"
	}
	pos := "L"
	if k.PositionType == Short {
		pos = "s"
	}
	lev := ""
	if k.Leverage > 1 {
		lev = fmt.Sprintf("%dx", k.Leverage)
	}
	return fmt.Sprintf("%s%s%s%s_v%d", prefix, pos, k.Asset, lev, k.Version)
}

// BaseAsset is the asset a position token's price is quoted against:
// shorts hold the traded asset, longs hold the unit of account.
func (k TradeTokenKey) BaseAsset() Asset {
	if k.PositionType == Short {
		return k.Asset
	}
	return k.UnitOfAccount
}

// TradeRequest is built fresh for every recomputation and never mutated.
type TradeRequest struct {
	Direction      Direction       `json:"direction"`
	Asset          Asset           `json:"asset"`
	UnitOfAccount  Asset           `json:"unitOfAccount"`
	Collateral     Asset           `json:"collateral"`
	PositionType   PositionType    `json:"positionType"`
	Leverage       int             `json:"leverage"`
	Amount         decimal.Decimal `json:"amount"`
	TokenizeNeeded bool            `json:"tokenizeNeeded"`
	Version        int             `json:"version"`
}

func (r TradeRequest) TokenKey() TradeTokenKey {
	return TradeTokenKey{
		Asset:          r.Asset,
		UnitOfAccount:  r.UnitOfAccount,
		PositionType:   r.PositionType,
		Leverage:       r.Leverage,
		TokenizeNeeded: r.TokenizeNeeded,
		Version:        r.Version,
	}
}

// WithAmount returns a copy of r carrying amount.
func (r TradeRequest) WithAmount(amount decimal.Decimal) TradeRequest {
	r.Amount = amount
	return r
}

// PriceDataPoint is the latest price sample of a position token.
type PriceDataPoint struct {
	Timestamp        int64           `json:"timestamp"`
	Price            decimal.Decimal `json:"price"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	Change24h        decimal.Decimal `json:"change24h"`
}
