// Package returns aggregates monthly equity returns into annual growth factors.
package returns

import (
	"fmt"
	"math"

	"github.com/aristath/bondladder/internal/domain"
)

// Annualize compounds each 12-month block of the panel into a growth factor per stock.
// Row i of the result is Π(1+r) over months 12i..12i+11, so 1.08 means +8%.
func Annualize(panel *domain.ReturnPanel) ([][]float64, error) {
	months := panel.Months()
	if months == 0 || months%domain.MonthsPerYear != 0 {
		return nil, fmt.Errorf("%w: %d months is not a whole number of years", domain.ErrDataShape, months)
	}

	n := panel.Stocks()
	years := months / domain.MonthsPerYear
	annual := make([][]float64, years)
	for y := 0; y < years; y++ {
		growth := make([]float64, n)
		for j := range growth {
			growth[j] = 1
		}
		for m := y * domain.MonthsPerYear; m < (y+1)*domain.MonthsPerYear; m++ {
			for j := 0; j < n; j++ {
				growth[j] *= 1 + panel.At(m, j)
			}
		}
		annual[y] = growth
	}
	return annual, nil
}

// TrailingGrowth is the per-stock geometric mean of annual[start : start+years].
func TrailingGrowth(annual [][]float64, start, years int) ([]float64, error) {
	if years <= 0 || start < 0 || start+years > len(annual) {
		return nil, fmt.Errorf("%w: trailing window [%d,%d) outside %d years",
			domain.ErrDataShape, start, start+years, len(annual))
	}

	n := len(annual[start])
	out := make([]float64, n)
	for j := 0; j < n; j++ {
		product := 1.0
		for y := start; y < start+years; y++ {
			product *= annual[y][j]
		}
		out[j] = math.Pow(product, 1/float64(years))
	}
	return out, nil
}

// EqualWeightGrowth returns, for each year in [from, to), the cumulative growth of an
// equal-weight buy-and-hold basket started at the beginning of year from.
func EqualWeightGrowth(annual [][]float64, from, to int) ([]float64, error) {
	if from < 0 || to > len(annual) || from >= to {
		return nil, fmt.Errorf("%w: benchmark range [%d,%d) outside %d years",
			domain.ErrDataShape, from, to, len(annual))
	}

	n := len(annual[from])
	cumulative := make([]float64, n)
	for j := range cumulative {
		cumulative[j] = 1
	}

	out := make([]float64, 0, to-from)
	for y := from; y < to; y++ {
		var sum float64
		for j := 0; j < n; j++ {
			cumulative[j] *= annual[y][j]
			sum += cumulative[j]
		}
		out = append(out, sum/float64(n))
	}
	return out, nil
}
