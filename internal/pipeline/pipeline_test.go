package pipeline

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/schepal/hegic-greeks/internal/market"
	"github.com/schepal/hegic-greeks/internal/pricing"
	"github.com/schepal/hegic-greeks/internal/subgraph"
)

// The fixed run instant every test computes expirations against.
var testNow = time.Unix(1_700_000_000, 0)

func inDays(d float64) string {
	return fmt.Sprintf("%d", testNow.Unix()+int64(d*24*60*60))
}

func optionsJSON(rows ...string) string {
	return `{"data":{"options":[` + strings.Join(rows, ",") + `]}}`
}

func rawRow(id, symbol, status, typ, strike, expiration, premium, amount string) string {
	return fmt.Sprintf(`{"id":%q,"symbol":%q,"status":%q,"type":%q,"strike":%q,"expiration":%q,"premium":%q,"amount":%q}`,
		id, symbol, status, typ, strike, expiration, premium, amount)
}

// newTestPipeline wires a pipeline against fake spot and graph servers.
// spot is served as 2500 USD unless spotBody overrides it.
func newTestPipeline(t *testing.T, graphBody string, graphStatus int, params Params) *Pipeline {
	t.Helper()

	spotSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ethereum":{"usd":2500}}`))
	}))
	t.Cleanup(spotSrv.Close)

	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if graphStatus != http.StatusOK {
			w.WriteHeader(graphStatus)
			return
		}
		w.Write([]byte(graphBody))
	}))
	t.Cleanup(graphSrv.Close)

	if params.Asset == "" {
		params.Asset = market.Ethereum
	}
	if params.Now == nil {
		params.Now = func() time.Time { return testNow }
	}
	params.Graph = subgraph.NewClient(graphSrv.URL, 0)
	params.Spot = market.NewSpotClient(spotSrv.URL, 0)

	p, err := New(context.Background(), params)
	if err != nil {
		t.Fatalf("constructing pipeline: %v", err)
	}
	return p
}

func TestNewCapturesSpot(t *testing.T) {
	p := newTestPipeline(t, optionsJSON(), http.StatusOK, Params{})
	if p.Spot() != 2500 {
		t.Fatalf("expected spot 2500, got %f", p.Spot())
	}
}

func TestNewFailsWhenSpotFetchFails(t *testing.T) {
	spotSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer spotSrv.Close()

	_, err := New(context.Background(), Params{
		Asset: market.Ethereum,
		Graph: subgraph.NewClient("http://127.0.0.1:0", 0),
		Spot:  market.NewSpotClient(spotSrv.URL, 0),
	})
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected spot fetch failure, got %v", err)
	}
}

func TestNewRejectsBadInputs(t *testing.T) {
	graph := subgraph.NewClient("http://127.0.0.1:0", 0)
	spot := market.NewSpotClient("http://127.0.0.1:0", 0)

	if _, err := New(context.Background(), Params{Asset: "dogecoin", Graph: graph, Spot: spot}); err == nil {
		t.Error("expected error for unsupported asset")
	}
	if _, err := New(context.Background(), Params{Asset: market.Ethereum}); err == nil {
		t.Error("expected error for missing clients")
	}
	if _, err := New(context.Background(), Params{
		Asset: market.Ethereum, Graph: graph, Spot: spot, Filter: "strike >",
	}); err == nil {
		t.Error("expected error for unparseable filter")
	}
}

func TestCleanAppliesFilters(t *testing.T) {
	body := optionsJSON(
		rawRow("keep-call", "ETH", "ACTIVE", "CALL", "3000", inDays(30), "0.05", "1"),
		rawRow("keep-put", "ETH", "ACTIVE", "PUT", "2000", inDays(60), "0.04", "1"),
		rawRow("exercised", "ETH", "EXERCISED", "CALL", "3000", inDays(30), "0.05", "1"),
		rawRow("wrong-symbol", "WBTC", "ACTIVE", "CALL", "40000", inDays(30), "0.01", "1"),
		rawRow("expired", "ETH", "ACTIVE", "CALL", "3000", inDays(-2), "0.05", "1"),
		rawRow("zero-strike", "ETH", "ACTIVE", "CALL", "0", inDays(30), "0.05", "1"),
		rawRow("bad-premium", "ETH", "ACTIVE", "CALL", "3000", inDays(30), "oops", "1"),
		rawRow("zero-amount", "ETH", "ACTIVE", "CALL", "3000", inDays(30), "0.05", "0"),
		rawRow("weird-type", "ETH", "ACTIVE", "STRADDLE", "3000", inDays(30), "0.05", "1"),
	)
	p := newTestPipeline(t, body, http.StatusOK, Params{})

	rows, err := p.Clean(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 retained rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].ID != "keep-call" || rows[1].ID != "keep-put" {
		t.Fatalf("wrong rows retained: %s, %s", rows[0].ID, rows[1].ID)
	}

	for _, r := range rows {
		if r.Symbol != "ETH" || r.TimeToExpiry <= 0 || r.Strike <= 0 {
			t.Errorf("row %s violates retention invariants: %+v", r.ID, r)
		}
	}
	if rows[0].Type != TypeCall || rows[1].Type != TypePut {
		t.Errorf("type normalization wrong: %q, %q", rows[0].Type, rows[1].Type)
	}
}

func TestCleanDerivedFields(t *testing.T) {
	body := optionsJSON(
		rawRow("1", "ETH", "ACTIVE", "CALL", "3000", inDays(30), "0.05", "1"),
	)
	p := newTestPipeline(t, body, http.StatusOK, Params{})

	rows, err := p.Clean(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	r := rows[0]
	// premium 0.05 ETH * spot 2500 / amount 1 = 125 USD.
	if math.Abs(r.PremiumUSD-125) > 1e-9 {
		t.Errorf("premium_usd = %f, want 125", r.PremiumUSD)
	}
	if math.Abs(r.TimeToExpiry-30.0/365.0) > 1e-9 {
		t.Errorf("time_to_expiry = %f, want %f", r.TimeToExpiry, 30.0/365.0)
	}
}

// A 30-day out-of-the-money call priced at 125 USD must come out with a
// solved volatility and four sign-flipped Greeks.
func TestComputeGreeksScenario(t *testing.T) {
	body := optionsJSON(
		rawRow("1", "ETH", "ACTIVE", "CALL", "3000", inDays(30), "0.05", "1"),
	)
	p := newTestPipeline(t, body, http.StatusOK, Params{})

	table, err := p.ComputeGreeks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Ticker != "ETH" || table.Spot != 2500 {
		t.Fatalf("bad market context: %+v", table)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(table.Rows))
	}

	row := table.Rows[0]
	if !row.IV.OK() {
		t.Fatalf("expected solved IV, got error: %v", row.IV.Err)
	}
	if row.IV.Sigma <= 0 {
		t.Fatalf("implausible sigma %f", row.IV.Sigma)
	}
	if row.Greeks == nil {
		t.Fatal("expected greeks for solved row")
	}

	// LP is short the call: negative delta, gamma and vega, positive theta.
	if row.Greeks.Delta >= 0 {
		t.Errorf("short call delta should be negative, got %f", row.Greeks.Delta)
	}
	if row.Greeks.Gamma >= 0 {
		t.Errorf("short gamma should be negative, got %f", row.Greeks.Gamma)
	}
	if row.Greeks.Vega >= 0 {
		t.Errorf("short vega should be negative, got %f", row.Greeks.Vega)
	}
	if row.Greeks.Theta <= 0 {
		t.Errorf("short theta should be positive, got %f", row.Greeks.Theta)
	}

	// Round-trip: repricing at the solved vol reproduces the USD premium.
	back := pricing.Price(true, table.Spot, row.Strike, row.TimeToExpiry, 0, row.IV.Sigma)
	if math.Abs(back-row.PremiumUSD) > 1e-6 {
		t.Errorf("round-trip price %f != premium %f", back, row.PremiumUSD)
	}
}

// Reported values are exactly -1 times the buyer-side closed forms.
func TestComputeGreeksSignProperty(t *testing.T) {
	body := optionsJSON(
		rawRow("call", "ETH", "ACTIVE", "CALL", "3000", inDays(30), "0.05", "1"),
		rawRow("put", "ETH", "ACTIVE", "PUT", "2000", inDays(45), "0.03", "1"),
	)
	p := newTestPipeline(t, body, http.StatusOK, Params{})

	table, err := p.ComputeGreeks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, row := range table.Rows {
		if !row.IV.OK() || row.Greeks == nil {
			t.Fatalf("row %s: expected solved row", row.ID)
		}
		sigma := row.IV.Sigma
		raw := pricing.Greeks{
			Delta: pricing.Delta(row.IsCall(), table.Spot, row.Strike, row.TimeToExpiry, 0, sigma),
			Gamma: pricing.Gamma(table.Spot, row.Strike, row.TimeToExpiry, 0, sigma),
			Theta: pricing.Theta(row.IsCall(), table.Spot, row.Strike, row.TimeToExpiry, 0, sigma),
			Vega:  pricing.Vega(table.Spot, row.Strike, row.TimeToExpiry, 0, sigma),
		}
		if row.Greeks.Delta != -raw.Delta || row.Greeks.Gamma != -raw.Gamma ||
			row.Greeks.Theta != -raw.Theta || row.Greeks.Vega != -raw.Vega {
			t.Errorf("row %s: reported greeks are not -1 * raw: %+v vs %+v", row.ID, row.Greeks, raw)
		}
	}
}

// A premium below intrinsic value has no solvable volatility; the row stays
// in the table with missing IV and all four Greeks missing.
func TestComputeGreeksMissingIVPropagates(t *testing.T) {
	body := optionsJSON(
		// Deep ITM call: intrinsic 500 USD, premium only 125 USD.
		rawRow("below-intrinsic", "ETH", "ACTIVE", "CALL", "2000", inDays(30), "0.05", "1"),
		rawRow("solvable", "ETH", "ACTIVE", "CALL", "3000", inDays(30), "0.05", "1"),
	)
	p := newTestPipeline(t, body, http.StatusOK, Params{})

	table, err := p.ComputeGreeks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected both rows retained, got %d", len(table.Rows))
	}

	bad, good := table.Rows[0], table.Rows[1]
	if bad.IV.OK() {
		t.Fatal("below-intrinsic premium should not solve")
	}
	if bad.Greeks != nil {
		t.Fatal("missing IV must leave all greeks missing")
	}
	if !good.IV.OK() || good.Greeks == nil {
		t.Fatalf("solvable row should be complete: %+v", good)
	}
	if table.Solved() != 1 {
		t.Fatalf("Solved() = %d, want 1", table.Solved())
	}
}

func TestComputeGreeksPreservesRowOrder(t *testing.T) {
	body := optionsJSON(
		rawRow("a", "ETH", "ACTIVE", "CALL", "3000", inDays(10), "0.02", "1"),
		rawRow("b", "ETH", "ACTIVE", "PUT", "2400", inDays(20), "0.03", "1"),
		rawRow("c", "ETH", "ACTIVE", "CALL", "2800", inDays(40), "0.05", "2"),
	)
	p := newTestPipeline(t, body, http.StatusOK, Params{})

	table, err := p.ComputeGreeks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(table.Rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(table.Rows))
	}
	for i, id := range want {
		if table.Rows[i].ID != id {
			t.Errorf("row %d = %s, want %s", i, table.Rows[i].ID, id)
		}
	}
}

// HTTP 500 from the query API aborts the run with the status code and query
// text in the error, and yields no partial table.
func TestComputeGreeksQueryFailure(t *testing.T) {
	query := `{ options { id } }`
	p := newTestPipeline(t, "", http.StatusInternalServerError, Params{Query: query})

	table, err := p.ComputeGreeks(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if table != nil {
		t.Fatal("expected no partial table")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), query) {
		t.Fatalf("error should carry status and query: %q", err)
	}
}

func TestRowFilterExpression(t *testing.T) {
	body := optionsJSON(
		rawRow("small", "ETH", "ACTIVE", "CALL", "2600", inDays(30), "0.05", "1"),
		rawRow("big", "ETH", "ACTIVE", "CALL", "3200", inDays(30), "0.05", "1"),
		rawRow("put", "ETH", "ACTIVE", "PUT", "3400", inDays(30), "0.05", "1"),
	)
	p := newTestPipeline(t, body, http.StatusOK, Params{Filter: `strike > 3000 && type == "c"`})

	rows, err := p.Clean(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "big" {
		t.Fatalf("filter kept wrong rows: %+v", rows)
	}
}

func TestRowFilterNonBooleanDropsRow(t *testing.T) {
	body := optionsJSON(
		rawRow("1", "ETH", "ACTIVE", "CALL", "3000", inDays(30), "0.05", "1"),
	)
	p := newTestPipeline(t, body, http.StatusOK, Params{Filter: `strike + 1`})

	rows, err := p.Clean(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("non-boolean filter should drop rows, kept %d", len(rows))
	}
}
