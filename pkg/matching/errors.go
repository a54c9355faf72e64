package matching

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPartialSubmission     = errors.New("partial submission")
	ErrRunInProgress         = errors.New("matching run already in progress")
)

// SubmissionFailure is one allocation that did not reach the relay.
type SubmissionFailure struct {
	Index        int
	Qty          decimal.Decimal
	Counterparty common.Address
	Err          error
}

func (f *SubmissionFailure) Error() string {
	return fmt.Sprintf("allocation %d (%s to %s): %v", f.Index, f.Qty, f.Counterparty.Hex(), f.Err)
}

func (f *SubmissionFailure) Unwrap() error { return f.Err }

type failureJSON struct {
	Index        int             `json:"index"`
	Qty          decimal.Decimal `json:"qty"`
	Counterparty common.Address  `json:"counterparty"`
	Error        string          `json:"error"`
}

func (f *SubmissionFailure) MarshalJSON() ([]byte, error) {
	var msg string
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(failureJSON{f.Index, f.Qty, f.Counterparty, msg})
}

// UnmarshalJSON restores the cause as a plain error carrying its message.
func (f *SubmissionFailure) UnmarshalJSON(data []byte) error {
	var raw failureJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = SubmissionFailure{Index: raw.Index, Qty: raw.Qty, Counterparty: raw.Counterparty}
	if raw.Error != "" {
		f.Err = errors.New(raw.Error)
	}
	return nil
}
