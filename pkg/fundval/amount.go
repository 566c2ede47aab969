package fundval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount wraps decimal.Decimal for externally supplied quantities.
// It accepts JSON numbers and quoted strings ("1.2345") and marshals as a number.
type Amount struct {
	decimal.Decimal
}

// NewAmount creates an Amount from a float64.
func NewAmount(f float64) Amount {
	return Amount{decimal.NewFromFloat(f)}
}

// MarshalJSON outputs as a JSON number (not a string).
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(a.Float(), 'f', -1, 64)), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings. Null and "" decode to zero.
func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
		a.Decimal = decimal.Zero
		return nil
	}
	return a.Decimal.UnmarshalJSON(trimmed)
}

// Float returns the nearest float64, which is what the valuation arithmetic runs on.
func (a Amount) Float() float64 {
	f, _ := a.Decimal.Float64()
	return f
}

// HoldingInput is the wire shape of a holding.
type HoldingInput struct {
	FundCode  string `json:"fund_code"`
	CostPrice Amount `json:"cost_price"`
	Shares    Amount `json:"shares"`
}

// Holding validates the input and converts it to a Holding.
func (in HoldingInput) Holding() (Holding, error) {
	code := strings.TrimSpace(in.FundCode)
	if code == "" {
		return Holding{}, NewError(ErrCodeInvalidInput, "fund_code is required")
	}
	if in.CostPrice.IsNegative() {
		return Holding{}, NewError(ErrCodeInvalidInput, fmt.Sprintf("cost_price must be >= 0 for %s", code))
	}
	if in.Shares.IsNegative() {
		return Holding{}, NewError(ErrCodeInvalidInput, fmt.Sprintf("shares must be >= 0 for %s", code))
	}
	return Holding{
		FundCode:  code,
		CostPrice: in.CostPrice.Float(),
		Shares:    in.Shares.Float(),
	}, nil
}

// DecodeHoldings parses either a JSON array of holdings or an object with a
// "holdings" array. Input order is preserved.
func DecodeHoldings(data []byte) ([]Holding, error) {
	trimmed := bytes.TrimSpace(data)
	var inputs []HoldingInput
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &inputs); err != nil {
			return nil, WrapError(ErrCodeInvalidInput, "decode holdings", err)
		}
	} else {
		var envelope struct {
			Holdings []HoldingInput `json:"holdings"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, WrapError(ErrCodeInvalidInput, "decode holdings", err)
		}
		inputs = envelope.Holdings
	}
	holdings := make([]Holding, 0, len(inputs))
	for _, in := range inputs {
		h, err := in.Holding()
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}
