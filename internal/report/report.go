// Package report renders a backtest trajectory for people and for other programs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/aristath/bondladder/internal/modules/backtest"
	"github.com/jedib0t/go-pretty/table"
	"github.com/markcheno/go-talib"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat"
)

// TrailingPeriod is the window of the moving average of yearly growth.
const TrailingPeriod = 3

// Format selects an output encoding.
type Format string

const (
	FormatTable   Format = "table"
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatMsgpack:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want table, json or msgpack)", s)
	}
}

// Row is one year of the rendered trajectory.
type Row struct {
	Year       int      `json:"year" msgpack:"year"`
	Wealth     float64  `json:"wealth" msgpack:"wealth"`
	Growth     float64  `json:"growth" msgpack:"growth"`
	Trailing   *float64 `json:"trailing_growth,omitempty" msgpack:"trailing_growth,omitempty"`
	Benchmark  float64  `json:"benchmark" msgpack:"benchmark"`
	Floor      float64  `json:"floor" msgpack:"floor"`
	BondFace   float64  `json:"bond_face" msgpack:"bond_face"`
	BondYield  float64  `json:"bond_yield" msgpack:"bond_yield"`
	Holdings   int      `json:"holdings" msgpack:"holdings"`
	FloorBound bool     `json:"floor_bound" msgpack:"floor_bound"`
	Matured    []int    `json:"matured,omitempty" msgpack:"matured,omitempty"`
}

// Summary aggregates the whole run.
type Summary struct {
	Years          int     `json:"years" msgpack:"years"`
	FinalWealth    float64 `json:"final_wealth" msgpack:"final_wealth"`
	FinalBenchmark float64 `json:"final_benchmark" msgpack:"final_benchmark"`
	MeanGrowth     float64 `json:"mean_growth" msgpack:"mean_growth"`
	StdGrowth      float64 `json:"std_growth" msgpack:"std_growth"`
	FloorBindings  int     `json:"floor_bindings" msgpack:"floor_bindings"`
}

// Report is the serialisable result of one run.
type Report struct {
	RunID        string                `json:"run_id" msgpack:"run_id"`
	GeneratedAt  time.Time             `json:"generated_at" msgpack:"generated_at"`
	Symbols      []string              `json:"symbols" msgpack:"symbols"`
	Summary      Summary               `json:"summary" msgpack:"summary"`
	Rows         []Row                 `json:"rows" msgpack:"rows"`
	FinalWeights []float64             `json:"final_weights" msgpack:"final_weights"`
	Detail       []backtest.YearResult `json:"detail,omitempty" msgpack:"detail,omitempty"`
}

// Build derives rows and summary statistics from a result.
// Growth of year k is wealth k over wealth k-1; the first year starts from 1.
func Build(runID string, result *backtest.Result, now time.Time) *Report {
	n := len(result.Years)
	growth := make([]float64, n)
	prev := 1.0
	for i, y := range result.Years {
		growth[i] = y.RealizedReturn / prev
		prev = y.RealizedReturn
	}
	trailing := trailingMean(growth, TrailingPeriod)

	rows := make([]Row, n)
	summary := Summary{Years: n}
	for i, y := range result.Years {
		row := Row{
			Year:      y.Year,
			Wealth:    y.RealizedReturn,
			Growth:    growth[i],
			Benchmark: y.Benchmark,
			Floor:     y.Floor,
			BondFace:  y.BondFace,
			BondYield: y.BondYield,
			Matured:   y.Matured,
		}
		if !math.IsNaN(trailing[i]) {
			v := trailing[i]
			row.Trailing = &v
		}
		if y.Allocation != nil {
			row.Holdings = y.Allocation.Holdings
			row.FloorBound = y.Allocation.FloorBound
			if row.FloorBound {
				summary.FloorBindings++
			}
		}
		rows[i] = row
	}

	if n > 0 {
		summary.FinalWealth = rows[n-1].Wealth
		summary.FinalBenchmark = rows[n-1].Benchmark
		summary.MeanGrowth = stat.Mean(growth, nil)
	}
	if n > 1 {
		summary.StdGrowth = stat.StdDev(growth, nil)
	}

	return &Report{
		RunID:        runID,
		GeneratedAt:  now.UTC(),
		Symbols:      result.Symbols,
		Summary:      summary,
		Rows:         rows,
		FinalWeights: result.FinalWeights,
		Detail:       result.Years,
	}
}

// trailingMean is the simple moving average of x, NaN until a full window is available.
func trailingMean(x []float64, period int) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(x) < period {
		return out
	}
	sma := talib.Sma(x, period)
	copy(out[period-1:], sma[period-1:])
	return out
}

// Write encodes the report in the given format.
func (r *Report) Write(w io.Writer, format Format) error {
	switch format {
	case FormatTable:
		return r.WriteTable(w)
	case FormatJSON:
		return r.WriteJSON(w)
	case FormatMsgpack:
		return r.WriteMsgpack(w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteTable renders the trajectory and summary as a text table.
func (r *Report) WriteTable(w io.Writer) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("Bond ladder backtest %s (%d stocks)", r.RunID, len(r.Symbols)))
	t.AppendHeader(table.Row{"Year", "Wealth", "Growth", fmt.Sprintf("%dy avg", TrailingPeriod),
		"Equal weight", "Floor", "Bond face", "Bond yield", "Holdings", "Floor bound", "Matured"})

	for _, row := range r.Rows {
		trailing := "-"
		if row.Trailing != nil {
			trailing = fmt.Sprintf("%.4f", *row.Trailing)
		}
		t.AppendRow(table.Row{
			row.Year,
			fmt.Sprintf("%.4f", row.Wealth),
			fmt.Sprintf("%.4f", row.Growth),
			trailing,
			fmt.Sprintf("%.4f", row.Benchmark),
			fmt.Sprintf("%.4f", row.Floor),
			fmt.Sprintf("%.2f", row.BondFace),
			fmt.Sprintf("%.2f%%", row.BondYield*100),
			row.Holdings,
			row.FloorBound,
			formatMatured(row.Matured),
		})
	}

	s := r.Summary
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d years", s.Years),
		fmt.Sprintf("%.4f", s.FinalWealth),
		fmt.Sprintf("μ %.4f σ %.4f", s.MeanGrowth, s.StdGrowth),
		"",
		fmt.Sprintf("%.4f", s.FinalBenchmark),
		fmt.Sprintf("bound %d", s.FloorBindings),
		"", "", "", "", "",
	})
	t.Render()
	return nil
}

// WriteJSON encodes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report as JSON: %w", err)
	}
	return nil
}

// WriteMsgpack encodes the report as msgpack.
func (r *Report) WriteMsgpack(w io.Writer) error {
	if err := msgpack.NewEncoder(w).Encode(r); err != nil {
		return fmt.Errorf("failed to encode report as msgpack: %w", err)
	}
	return nil
}

func formatMatured(idx []int) string {
	if len(idx) == 0 {
		return ""
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = fmt.Sprintf("rung %d", v)
	}
	return strings.Join(parts, ", ")
}
