package matching

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Plan walks orders in book order and allocates target greedily. A row
// with unknown available quantity ends the walk: lastResort takes the
// whole remainder. Rows with nothing available are skipped. The returned
// remainder is positive only when the book ran out.
func Plan(target decimal.Decimal, orders []MakerOrder, lastResort common.Address) ([]Allocation, decimal.Decimal) {
	var out []Allocation
	remaining := target

	for i := 0; remaining.IsPositive() && i < len(orders); i++ {
		o := orders[i]

		if !o.AvailableBaseQty.Valid {
			out = append(out, Allocation{
				Index:        len(out),
				Order:        o,
				Qty:          remaining,
				QuoteQty:     o.QuoteQty,
				Counterparty: lastResort,
				LastResort:   true,
			})
			remaining = decimal.Zero
			break
		}

		available := o.AvailableBaseQty.Decimal
		if !available.IsPositive() {
			continue
		}

		qty := decimal.Min(available, remaining)
		out = append(out, Allocation{
			Index:        len(out),
			Order:        o,
			Qty:          qty,
			QuoteQty:     quoteFor(o, qty),
			Counterparty: o.MakerAddress,
		})
		remaining = remaining.Sub(qty)
	}
	return out, remaining
}

// quoteFor prices a partial take of o at the row's own rate.
func quoteFor(o MakerOrder, qty decimal.Decimal) decimal.Decimal {
	available := o.AvailableBaseQty.Decimal
	if qty.Equal(available) {
		return o.QuoteQty
	}
	return o.QuoteQty.Mul(qty).Div(available)
}
