// Package report writes the pipeline result table to disk as CSV and JSON.
// Missing implied volatilities and Greeks render as empty CSV cells and JSON
// nulls.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/schepal/hegic-greeks/internal/pipeline"
)

// WriteJSON writes the full table, market context included, to
// greeks.json under outdir.
func WriteJSON(table *pipeline.Table, outdir string) error {
	b, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "greeks.json"), b, 0644)
}

// WriteCSV writes one line per retained option to greeks.csv under outdir.
func WriteCSV(table *pipeline.Table, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "greeks.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{
		"id", "symbol", "type", "spot", "strike", "expiration",
		"time_to_expiry", "premium", "amount", "premium_usd",
		"iv", "delta", "gamma", "theta", "vega",
	}
	if err := w.Write(headers); err != nil {
		return err
	}

	for i := range table.Rows {
		r := &table.Rows[i]
		row := []string{
			r.ID,
			r.Symbol,
			r.Type,
			num(table.Spot),
			num(r.Strike),
			r.Expiration.Format("2006-01-02 15:04:05"),
			num(r.TimeToExpiry),
			num(r.Premium),
			num(r.Amount),
			num(r.PremiumUSD),
			"", "", "", "", "",
		}
		if r.IV.OK() {
			row[10] = num(r.IV.Sigma)
		}
		if r.Greeks != nil {
			row[11] = num(r.Greeks.Delta)
			row[12] = num(r.Greeks.Gamma)
			row[13] = num(r.Greeks.Theta)
			row[14] = num(r.Greeks.Vega)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// Write creates outdir if needed and writes both report formats.
func Write(table *pipeline.Table, outdir string) error {
	if err := os.MkdirAll(outdir, 0755); err != nil {
		return fmt.Errorf("creating report dir %s: %w", outdir, err)
	}
	if err := WriteJSON(table, outdir); err != nil {
		return err
	}
	return WriteCSV(table, outdir)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
