package matching

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tradeform/pkg/crypto"
	"github.com/uhyunpark/tradeform/pkg/relay"
	"github.com/uhyunpark/tradeform/pkg/util"
)

type FillsSource interface {
	Fills(ctx context.Context, pair string) ([]relay.FillItem, error)
}

// RelayFeed reads the book from a relay's fills listing for one pair.
type RelayFeed struct {
	Source FillsSource
	Pair   string
	Logger *zap.SugaredLogger
}

func (f RelayFeed) Orders(ctx context.Context, side Side) ([]MakerOrder, error) {
	items, err := f.Source.Fills(ctx, f.Pair)
	if err != nil {
		return nil, err
	}
	log := util.OrNop(f.Logger)

	out := make([]MakerOrder, 0, len(items))
	for _, it := range items {
		if it.Type != side.String() {
			continue
		}
		o, err := toMakerOrder(it, side)
		if err != nil {
			log.Warnw("fill_skipped", "order", it.OrderHash, "err", err)
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func toMakerOrder(it relay.FillItem, side Side) (MakerOrder, error) {
	maker, err := crypto.NormalizeAddress(it.MakerAddress)
	if err != nil {
		return MakerOrder{}, err
	}
	fee, err := crypto.NormalizeAddress(it.FeeRecipientAddress)
	if err != nil {
		return MakerOrder{}, err
	}
	o := MakerOrder{
		MakerAddress:     common.HexToAddress(maker),
		FeeRecipient:     common.HexToAddress(fee),
		AvailableBaseQty: it.FilledBaseTokenAmount,
		QuoteQty:         it.FilledQuoteTokenAmount,
		Side:             side,
		Timestamp:        time.Unix(it.Timestamp, 0),
		OrderHash:        it.OrderHash,
	}
	if it.TakerAddress != "" {
		if taker, err := crypto.NormalizeAddress(it.TakerAddress); err == nil {
			o.TakerAddress = common.HexToAddress(taker)
		}
	}
	return o, nil
}
