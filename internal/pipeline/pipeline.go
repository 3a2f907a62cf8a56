// Package pipeline turns raw on-chain option records into a table of per-row
// implied volatility and liquidity-provider Greeks.
//
// The run is one sequential transformation: fetch the raw rows, clean and
// filter them, invert Black-Scholes per row for implied volatility, evaluate
// the four Greeks, and flip their signs to express the pool's short side.
//
// KEY ASSUMPTION: the premium recorded at trade time, revalued at the current
// spot price (premium * spot / amount), stands in for today's market price of
// the option. The subgraph records no live quotes, so this approximation is
// what every implied volatility in the table is solved against.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/schepal/hegic-greeks/internal/logger"
	"github.com/schepal/hegic-greeks/internal/market"
	"github.com/schepal/hegic-greeks/internal/pricing"
	"github.com/schepal/hegic-greeks/internal/subgraph"
)

const (
	secondsPerDay = 60 * 60 * 24
	daysPerYear   = 365
)

// statusActive is the only lifecycle state that still exposes the pool.
const statusActive = "ACTIVE"

// Params configures a Pipeline.
type Params struct {
	// Asset selects the pool; its ticker drives the symbol filter.
	Asset market.Asset

	// Query selects the option records. Empty uses subgraph.DefaultQuery.
	Query string

	// Filter is an optional predicate over cleaned rows, e.g.
	// `strike > 2000 && type == "c"`. Empty keeps every row.
	Filter string

	// Graph and Spot are the two external dependencies.
	Graph *subgraph.Client
	Spot  *market.SpotClient

	// Now supplies the wall clock for time-to-expiry. Defaults to time.Now;
	// tests inject a fixed instant.
	Now func() time.Time
}

// Pipeline computes the result table. Construction captures one spot-price
// snapshot; raw option records are fetched fresh on every invocation and
// nothing persists between runs.
type Pipeline struct {
	asset  market.Asset
	ticker string
	query  string
	spot   float64
	graph  *subgraph.Client
	now    func() time.Time
	filter *govaluate.EvaluableExpression
}

// New builds a pipeline bound to one asset and one spot-price snapshot.
// The spot fetch is a blocking network call; its failure fails construction.
func New(ctx context.Context, p Params) (*Pipeline, error) {
	if p.Graph == nil || p.Spot == nil {
		return nil, errors.New("pipeline: both graph and spot clients are required")
	}
	asset, err := market.ParseAsset(string(p.Asset))
	if err != nil {
		return nil, err
	}

	query := p.Query
	if query == "" {
		query = subgraph.DefaultQuery
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	var filter *govaluate.EvaluableExpression
	if p.Filter != "" {
		filter, err = govaluate.NewEvaluableExpression(p.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid row filter %q: %w", p.Filter, err)
		}
	}

	spot, err := p.Spot.Spot(ctx, asset)
	if err != nil {
		return nil, err
	}
	logger.Infof("spot price %s=%.2f USD", asset.Ticker(), spot)

	return &Pipeline{
		asset:  asset,
		ticker: asset.Ticker(),
		query:  query,
		spot:   spot,
		graph:  p.Graph,
		now:    now,
		filter: filter,
	}, nil
}

// Spot returns the USD spot price captured at construction.
func (p *Pipeline) Spot() float64 { return p.spot }

// FetchRaw executes the configured query and returns the unprocessed rows.
func (p *Pipeline) FetchRaw(ctx context.Context) ([]subgraph.RawOption, error) {
	return p.graph.Options(ctx, p.query)
}

// Clean fetches the raw rows and reduces them to the retained set: ACTIVE,
// unexpired, positive strike, matching ticker. Numeric coercion failures and
// unrecognized option types invalidate only the offending row.
func (p *Pipeline) Clean(ctx context.Context) ([]Option, error) {
	raw, err := p.FetchRaw(ctx)
	if err != nil {
		return nil, err
	}
	return p.cleanRows(raw), nil
}

func (p *Pipeline) cleanRows(raw []subgraph.RawOption) []Option {
	now := p.now()
	out := make([]Option, 0, len(raw))

	for _, r := range raw {
		if r.Status != statusActive || r.Symbol != p.ticker {
			continue
		}

		opt, err := p.coerce(r, now)
		if err != nil {
			logger.Debugf("row %s dropped: %v", r.ID, err)
			continue
		}
		if opt.TimeToExpiry <= 0 || opt.Strike <= 0 {
			continue
		}
		if p.filter != nil {
			keep, err := p.evalFilter(opt)
			if err != nil {
				logger.Debugf("row %s dropped: filter: %v", r.ID, err)
				continue
			}
			if !keep {
				continue
			}
		}
		out = append(out, opt)
	}

	logger.Infof("cleaned %d/%d option records for %s", len(out), len(raw), p.ticker)
	return out
}

// coerce parses the string-typed subgraph scalars and computes the derived
// fields for one row.
func (p *Pipeline) coerce(r subgraph.RawOption, now time.Time) (Option, error) {
	expiration, err := strconv.ParseInt(r.Expiration, 10, 64)
	if err != nil {
		return Option{}, fmt.Errorf("expiration %q: %w", r.Expiration, err)
	}
	strike, err := strconv.ParseFloat(r.Strike, 64)
	if err != nil {
		return Option{}, fmt.Errorf("strike %q: %w", r.Strike, err)
	}
	premium, err := strconv.ParseFloat(r.Premium, 64)
	if err != nil {
		return Option{}, fmt.Errorf("premium %q: %w", r.Premium, err)
	}
	amount, err := strconv.ParseFloat(r.Amount, 64)
	if err != nil {
		return Option{}, fmt.Errorf("amount %q: %w", r.Amount, err)
	}
	if amount == 0 {
		return Option{}, errors.New("amount is zero")
	}

	var typ string
	switch r.Type {
	case "CALL":
		typ = TypeCall
	case "PUT":
		typ = TypePut
	default:
		return Option{}, fmt.Errorf("unknown option type %q", r.Type)
	}

	// Days-based year fraction, matching the subgraph's unix-second stamps.
	tte := (float64(expiration) - float64(now.Unix())) / secondsPerDay / daysPerYear

	return Option{
		ID:           r.ID,
		Symbol:       r.Symbol,
		Type:         typ,
		Strike:       strike,
		Expiration:   time.Unix(expiration, 0).UTC(),
		Premium:      premium,
		Amount:       amount,
		TimeToExpiry: tte,
		PremiumUSD:   premium * p.spot / amount,
	}, nil
}

func (p *Pipeline) evalFilter(o Option) (bool, error) {
	res, err := p.filter.Evaluate(map[string]any{
		"symbol":         o.Symbol,
		"type":           o.Type,
		"strike":         o.Strike,
		"premium":        o.Premium,
		"amount":         o.Amount,
		"premium_usd":    o.PremiumUSD,
		"time_to_expiry": o.TimeToExpiry,
	})
	if err != nil {
		return false, err
	}
	keep, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("filter result is %T, want bool", res)
	}
	return keep, nil
}

// SolveImpliedVol inverts the pricing formula per row (risk-free rate zero),
// solving for the volatility that reproduces the row's USD premium. Solver
// failures are absorbed into the row's IVResult; the slice always has the
// same length and order as rows. Empirically 10-15% of the pool's volume
// sits outside the solvable region and comes back missing.
func (p *Pipeline) SolveImpliedVol(rows []Option) []IVResult {
	out := make([]IVResult, len(rows))
	for i := range rows {
		o := &rows[i]
		sigma, err := pricing.ImpliedVol(o.PremiumUSD, o.IsCall(), p.spot, o.Strike, o.TimeToExpiry, 0)
		if err != nil {
			logger.Debugf("row %s: implied vol missing: %v", o.ID, err)
			out[i] = IVResult{Err: err}
			continue
		}
		out[i] = IVResult{Sigma: sigma}
	}
	return out
}

// ComputeGreeks runs the full pipeline and assembles the result table.
//
// For each row with a solved volatility it evaluates delta, gamma, theta and
// vega at zero rate, then multiplies each by -1: the table reports the
// liquidity providers' short exposure, the opposite of the buyer's. Rows with
// missing volatility carry nil Greeks.
func (p *Pipeline) ComputeGreeks(ctx context.Context) (*Table, error) {
	opts, err := p.Clean(ctx)
	if err != nil {
		return nil, err
	}
	ivs := p.SolveImpliedVol(opts)

	table := &Table{
		Asset:     p.asset,
		Ticker:    p.ticker,
		Spot:      p.spot,
		FetchedAt: p.now().UTC(),
		Rows:      make([]Row, len(opts)),
	}

	for i := range opts {
		row := Row{Option: opts[i], IV: ivs[i]}
		if row.IV.OK() {
			row.Greeks = p.lpGreeks(&opts[i], row.IV.Sigma)
		}
		table.Rows[i] = row
	}

	logger.Infof("solved implied vol for %d/%d rows", table.Solved(), len(table.Rows))
	return table, nil
}

// lpGreeks evaluates the buyer-side Greeks and negates them. A non-finite
// value from any of the four marks the whole set missing for the row.
func (p *Pipeline) lpGreeks(o *Option, sigma float64) *pricing.Greeks {
	isCall := o.IsCall()
	g := pricing.Greeks{
		Delta: -pricing.Delta(isCall, p.spot, o.Strike, o.TimeToExpiry, 0, sigma),
		Gamma: -pricing.Gamma(p.spot, o.Strike, o.TimeToExpiry, 0, sigma),
		Theta: -pricing.Theta(isCall, p.spot, o.Strike, o.TimeToExpiry, 0, sigma),
		Vega:  -pricing.Vega(p.spot, o.Strike, o.TimeToExpiry, 0, sigma),
	}
	for _, v := range []float64{g.Delta, g.Gamma, g.Theta, g.Vega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			logger.Debugf("row %s: non-finite greek value, marking greeks missing", o.ID)
			return nil
		}
	}
	return &g
}
