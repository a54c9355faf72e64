package matching

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Side is the trade type of an order on a base/quote market.
type Side int

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite is the side a counterparty must be on.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return s
	}
}

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	if len(b) == 0 || string(b) == "UNKNOWN" {
		*s = 0
		return nil
	}
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MakerOrder is one row of the counterparty book, captured once per run.
// AvailableBaseQty is invalid when the feed does not know the quantity.
type MakerOrder struct {
	MakerAddress     common.Address      `json:"makerAddress"`
	TakerAddress     common.Address      `json:"takerAddress"`
	FeeRecipient     common.Address      `json:"feeRecipient"`
	AvailableBaseQty decimal.NullDecimal `json:"availableBaseQty"`
	QuoteQty         decimal.Decimal     `json:"quoteQty"`
	Side             Side                `json:"side"`
	Timestamp        time.Time           `json:"timestamp"`
	OrderHash        string              `json:"orderHash,omitempty"`
}

// Allocation is one planned push against the book.
type Allocation struct {
	Index        int             `json:"index"`
	Order        MakerOrder      `json:"order"`
	Qty          decimal.Decimal `json:"qty"`      // base token
	QuoteQty     decimal.Decimal `json:"quoteQty"` // quote token paid or received for Qty
	Counterparty common.Address  `json:"counterparty"`
	LastResort   bool            `json:"lastResort,omitempty"`
}

type RunState int

const (
	Idle RunState = iota
	Fetching
	Allocating
	Done
	ExhaustedLiquidity
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Allocating:
		return "allocating"
	case Done:
		return "done"
	case ExhaustedLiquidity:
		return "exhausted_liquidity"
	default:
		return "unknown"
	}
}

func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RunState) UnmarshalText(b []byte) error {
	for st := Idle; st <= ExhaustedLiquidity; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", b)
}

// Status is a point-in-time view of an engine.
type Status struct {
	State RunState `json:"state"`
	RunID string   `json:"runId,omitempty"`
	Index int      `json:"index"`
}

// Submission asks the engine to fill Target base tokens on Side.
type Submission struct {
	FormID string
	Side   Side
	Target decimal.Decimal
}

// Result summarizes a run. Remaining is what the book could not cover;
// Unfilled is what was planned but failed to reach the relay.
type Result struct {
	RunID       string               `json:"runId"`
	State       RunState             `json:"state"`
	Side        Side                 `json:"side"`
	Target      decimal.Decimal      `json:"target"`
	Filled      decimal.Decimal      `json:"filled"`
	Remaining   decimal.Decimal      `json:"remaining"`
	Unfilled    decimal.Decimal      `json:"unfilled"`
	Allocations []Allocation         `json:"allocations"`
	Failures    []*SubmissionFailure `json:"failures,omitempty"`
}

func (r Result) Failed() int { return len(r.Failures) }

// RunRecord is the journaled form of a finished run.
type RunRecord struct {
	ID          string             `json:"id"`
	FormID      string             `json:"formId,omitempty"`
	Side        Side               `json:"side"`
	State       RunState           `json:"state"`
	Target      decimal.Decimal    `json:"target"`
	Filled      decimal.Decimal    `json:"filled"`
	Remaining   decimal.Decimal    `json:"remaining"`
	Unfilled    decimal.Decimal    `json:"unfilled"`
	Failed      int                `json:"failed"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
	Allocations []AllocationRecord `json:"allocations"`
}

type AllocationRecord struct {
	Index        int             `json:"index"`
	Qty          decimal.Decimal `json:"qty"`
	QuoteQty     decimal.Decimal `json:"quoteQty"`
	Counterparty string          `json:"counterparty"`
	LastResort   bool            `json:"lastResort,omitempty"`
	OrderHash    string          `json:"orderHash,omitempty"`
	Error        string          `json:"error,omitempty"`
}
