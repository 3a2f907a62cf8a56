package pipeline

import (
	"encoding/json"
	"time"

	"github.com/schepal/hegic-greeks/internal/market"
	"github.com/schepal/hegic-greeks/internal/pricing"
)

// Option type flags in the form the pricing step consumes.
const (
	TypeCall = "c"
	TypePut  = "p"
)

// Option is one cleaned, filtered option record with its derived fields.
type Option struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"` // "c" or "p"
	Strike       float64   `json:"strike"`
	Expiration   time.Time `json:"expiration"`
	Premium      float64   `json:"premium"` // underlying units, as paid at trade time
	Amount       float64   `json:"amount"`  // notional size, underlying units
	TimeToExpiry float64   `json:"time_to_expiry"` // years
	PremiumUSD   float64   `json:"premium_usd"`    // Premium revalued at the current spot
}

// IsCall reports whether the option is a call.
func (o *Option) IsCall() bool { return o.Type == TypeCall }

// IVResult is the per-row outcome of the implied-volatility inversion:
// either a solved Sigma, or the error explaining why the value is missing.
type IVResult struct {
	Sigma float64
	Err   error
}

// OK reports whether the inversion converged.
func (r IVResult) OK() bool { return r.Err == nil }

// MarshalJSON renders a solved volatility as a number and a missing one as
// null, so report consumers see the same missing-value shape for IV and
// Greeks.
func (r IVResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.Sigma)
}

// Row is one option with its solved volatility and LP-side Greeks.
// Greeks is nil whenever IV is missing or the Greek evaluation failed.
type Row struct {
	Option
	IV     IVResult        `json:"iv"`
	Greeks *pricing.Greeks `json:"greeks"`
}

// Table is the assembled pipeline result: one Row per retained option, in the
// order the subgraph returned them, plus the market context of the run.
type Table struct {
	Asset     market.Asset `json:"asset"`
	Ticker    string       `json:"ticker"`
	Spot      float64      `json:"spot"`
	FetchedAt time.Time    `json:"fetched_at"`
	Rows      []Row        `json:"rows"`
}

// Solved counts the rows whose implied volatility converged.
func (t *Table) Solved() int {
	n := 0
	for i := range t.Rows {
		if t.Rows[i].IV.OK() {
			n++
		}
	}
	return n
}
