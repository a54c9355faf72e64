package matching

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var lastResort = common.HexToAddress("0xf6fecd318228f018ac5d50e2b7e05c60267bd4cd")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func row(maker byte, available string, quote string) MakerOrder {
	o := MakerOrder{
		MakerAddress: common.BytesToAddress([]byte{maker}),
		QuoteQty:     dec(quote),
		Side:         Sell,
	}
	if available != "" {
		o.AvailableBaseQty = decimal.NewNullDecimal(dec(available))
	}
	return o
}

func qtys(allocs []Allocation) []string {
	out := make([]string, len(allocs))
	for i, a := range allocs {
		out[i] = a.Qty.String()
	}
	return out
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name          string
		target        string
		orders        []MakerOrder
		want          []string
		wantRemaining string
	}{
		{
			name:   "fills across three rows",
			target: "10",
			orders: []MakerOrder{row(1, "4", "0.04"), row(2, "3", "0.03"), row(3, "10", "0.1")},
			want:   []string{"4", "3", "3"},
		},
		{
			name:          "book exhausted",
			target:        "10",
			orders:        []MakerOrder{row(1, "4", "0.04")},
			want:          []string{"4"},
			wantRemaining: "6",
		},
		{
			name:   "first row covers target",
			target: "2",
			orders: []MakerOrder{row(1, "5", "0.05"), row(2, "5", "0.05")},
			want:   []string{"2"},
		},
		{
			name:   "unknown quantity takes remainder",
			target: "10",
			orders: []MakerOrder{row(1, "4", "0.04"), row(2, "", "0.5"), row(3, "10", "0.1")},
			want:   []string{"4", "6"},
		},
		{
			name:   "empty rows skipped",
			target: "5",
			orders: []MakerOrder{row(1, "0", "0"), row(2, "5", "0.05")},
			want:   []string{"5"},
		},
		{
			name:          "empty book",
			target:        "1",
			want:          []string{},
			wantRemaining: "1",
		},
		{
			name:   "zero target",
			target: "0",
			orders: []MakerOrder{row(1, "4", "0.04")},
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allocs, remaining := Plan(dec(tt.target), tt.orders, lastResort)
			got := qtys(allocs)
			if len(got) != len(tt.want) {
				t.Fatalf("allocations = %v, want %v", got, tt.want)
			}
			for i := range got {
				if !dec(got[i]).Equal(dec(tt.want[i])) {
					t.Errorf("allocation %d = %s, want %s", i, got[i], tt.want[i])
				}
				if allocs[i].Index != i {
					t.Errorf("allocation %d has index %d", i, allocs[i].Index)
				}
			}
			wantRemaining := decimal.Zero
			if tt.wantRemaining != "" {
				wantRemaining = dec(tt.wantRemaining)
			}
			if !remaining.Equal(wantRemaining) {
				t.Errorf("remaining = %s, want %s", remaining, wantRemaining)
			}
		})
	}
}

func TestPlan_ThreeRowProperty(t *testing.T) {
	cases := [][4]string{
		{"10", "4", "3", "10"},
		{"7.5", "1.25", "2", "4.25"},
		{"100", "33", "33", "34"},
		{"0.003", "0.001", "0.001", "0.5"},
	}
	for _, c := range cases {
		target, a1, a2, a3 := dec(c[0]), dec(c[1]), dec(c[2]), dec(c[3])
		orders := []MakerOrder{row(1, c[1], "1"), row(2, c[2], "1"), row(3, c[3], "1")}

		allocs, remaining := Plan(target, orders, lastResort)
		if len(allocs) != 3 {
			t.Fatalf("target %s: %d allocations, want 3", target, len(allocs))
		}
		if !allocs[0].Qty.Equal(a1) || !allocs[1].Qty.Equal(a2) {
			t.Errorf("target %s: first two = %s, %s", target, allocs[0].Qty, allocs[1].Qty)
		}
		if want := target.Sub(a1).Sub(a2); !allocs[2].Qty.Equal(want) || allocs[2].Qty.GreaterThan(a3) {
			t.Errorf("target %s: third = %s, want %s", target, allocs[2].Qty, want)
		}
		sum := allocs[0].Qty.Add(allocs[1].Qty).Add(allocs[2].Qty)
		if !sum.Equal(target) || !remaining.IsZero() {
			t.Errorf("target %s: sum %s remaining %s", target, sum, remaining)
		}
	}
}

func TestPlan_Counterparties(t *testing.T) {
	orders := []MakerOrder{row(1, "4", "0.08"), row(2, "", "0.5")}
	allocs, _ := Plan(dec("10"), orders, lastResort)

	if allocs[0].Counterparty != orders[0].MakerAddress || allocs[0].LastResort {
		t.Errorf("first counterparty = %s", allocs[0].Counterparty.Hex())
	}
	if allocs[1].Counterparty != lastResort || !allocs[1].LastResort {
		t.Errorf("unknown row counterparty = %s, want last resort", allocs[1].Counterparty.Hex())
	}
	if !allocs[1].QuoteQty.Equal(dec("0.5")) {
		t.Errorf("last resort quote = %s, want row quote", allocs[1].QuoteQty)
	}
}

func TestPlan_PartialTakeQuote(t *testing.T) {
	allocs, _ := Plan(dec("3"), []MakerOrder{row(1, "10", "0.5")}, lastResort)
	if !allocs[0].QuoteQty.Equal(dec("0.15")) {
		t.Errorf("quote = %s, want 0.15", allocs[0].QuoteQty)
	}
}
