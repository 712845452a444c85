// Package domain provides core domain models and types.
package domain

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MonthsPerYear is the aggregation window for annual returns.
const MonthsPerYear = 12

// ReturnPanel is the monthly equity return panel: one row per month, one column per stock.
// Returns are decimal fractions (0.012 means +1.2%). The panel is immutable once built.
type ReturnPanel struct {
	symbols []string
	rows    [][]float64
}

// NewReturnPanel validates the rectangular shape of rows and copies them.
// symbols may be nil, in which case columns are labelled by position.
func NewReturnPanel(symbols []string, rows [][]float64) (*ReturnPanel, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: return panel has no rows", ErrDataShape)
	}
	n := len(rows[0])
	if n == 0 {
		return nil, fmt.Errorf("%w: return panel has no stocks", ErrDataShape)
	}
	if symbols != nil && len(symbols) != n {
		return nil, fmt.Errorf("%w: %d symbols for %d columns", ErrDataShape, len(symbols), n)
	}

	copied := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrDataShape, i, len(row), n)
		}
		copied[i] = append([]float64(nil), row...)
	}

	labels := make([]string, n)
	for j := range labels {
		if symbols != nil {
			labels[j] = symbols[j]
		} else {
			labels[j] = fmt.Sprintf("S%d", j)
		}
	}

	return &ReturnPanel{symbols: labels, rows: copied}, nil
}

// Months returns the number of monthly rows (T).
func (p *ReturnPanel) Months() int { return len(p.rows) }

// Stocks returns the number of equities (N).
func (p *ReturnPanel) Stocks() int { return len(p.symbols) }

// Symbols returns a copy of the column labels.
func (p *ReturnPanel) Symbols() []string { return append([]string(nil), p.symbols...) }

// At returns the return of stock j in month i.
func (p *ReturnPanel) At(i, j int) float64 { return p.rows[i][j] }

// Row returns a copy of month i.
func (p *ReturnPanel) Row(i int) []float64 { return append([]float64(nil), p.rows[i]...) }

// Window copies months [start, start+months) into a dense months×N matrix.
func (p *ReturnPanel) Window(start, months int) (*mat.Dense, error) {
	if start < 0 || months <= 0 || start+months > len(p.rows) {
		return nil, fmt.Errorf("%w: window [%d,%d) outside panel of %d months",
			ErrDataShape, start, start+months, len(p.rows))
	}
	n := p.Stocks()
	data := make([]float64, 0, months*n)
	for i := start; i < start+months; i++ {
		data = append(data, p.rows[i]...)
	}
	return mat.NewDense(months, n, data), nil
}

// YearOutcome is one point of the realised trajectory.
type YearOutcome struct {
	Year           int     `json:"year" msgpack:"year"`
	RealizedReturn float64 `json:"realized_return" msgpack:"realized_return"`
}
