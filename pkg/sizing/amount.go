package sizing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of fractional digits shown for amounts.
const DefaultPrecision int32 = 6

// ParseError reports amount text that is not a number.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("invalid amount %q: %v", e.Text, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// NormalizeAmountText prepares typed text for conversion: empty text reads
// as "0", ".5" as "0.5" and "5." as "5.0".
func NormalizeAmountText(text string) string {
	s := strings.TrimSpace(text)
	switch {
	case s == "":
		return "0"
	case s[0] == '.':
		s = "0" + s
	case strings.HasPrefix(s, "-."):
		s = "-0" + s[1:]
	}
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// maxAmountDigits bounds the digits of typed text. Larger inputs would
// make rounding and formatting allocate without limit.
const maxAmountDigits = 64

var (
	errExponent = errors.New("exponent notation not accepted")
	errTooLong  = fmt.Errorf("more than %d digits", maxAmountDigits)
)

// ParseAmountText reads typed amount text as a plain decimal. Exponent
// notation and texts over maxAmountDigits digits are rejected.
func ParseAmountText(text string) (decimal.Decimal, error) {
	s := NormalizeAmountText(text)
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, &ParseError{Text: text, Err: errExponent}
	}
	digits := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	if digits > maxAmountDigits {
		return decimal.Zero, &ParseError{Text: text, Err: errTooLong}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ParseError{Text: text, Err: err}
	}
	return v, nil
}

// FormatAmount renders v rounded to precision digits without trailing zeros.
func FormatAmount(v decimal.Decimal, precision int32) string {
	return v.Round(precision).String()
}

// AmountState is the sized amount of a trade form. TradeAmount is in
// position-token terms for Close and collateral terms for Open; InputValue
// is what the user typed (destination asset for Close).
type AmountState struct {
	InputText     string          `json:"inputText"`
	InputValue    decimal.Decimal `json:"inputValue"`
	TradeAmount   decimal.Decimal `json:"tradeAmount"`
	MaxTradeValue decimal.Decimal `json:"maxTradeValue"`

	nan bool
}

// IsNaN reports whether the trade amount could not be computed. Callers
// reset the form instead of applying such a state.
func (s AmountState) IsNaN() bool { return s.nan }

func nanState(text string, max decimal.Decimal) AmountState {
	return AmountState{InputText: text, MaxTradeValue: max, nan: true}
}

// ResetState is the state a form shows after a reset: empty text, zero
// amounts, max unchanged.
func ResetState(max decimal.Decimal) AmountState {
	return AmountState{MaxTradeValue: max}
}
