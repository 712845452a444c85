// Package data loads the equity return panel and the constant-maturity yield curve.
package data

import (
	"fmt"
	"math"
	"os"

	"github.com/aristath/bondladder/internal/domain"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// LoadReturnPanel reads a CSV of monthly decimal returns, one row per month and one column
// per stock. The first column is an index or date and is dropped.
func LoadReturnPanel(path string) (*domain.ReturnPanel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open returns file: %w", err)
	}
	defer f.Close()

	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", domain.ErrDataShape, path, df.Err)
	}
	return panelFromFrame(df, path)
}

func panelFromFrame(df dataframe.DataFrame, source string) (*domain.ReturnPanel, error) {
	if df.Ncol() < 2 {
		return nil, fmt.Errorf("%w: %s needs an index column and at least one stock", domain.ErrDataShape, source)
	}
	if df.Nrow() == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", domain.ErrDataShape, source)
	}

	names := df.Names()[1:]
	rows := make([][]float64, df.Nrow())
	for i := range rows {
		rows[i] = make([]float64, len(names))
	}
	for j, name := range names {
		values := df.Col(name).Float()
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: %s row %d column %q is not a number", domain.ErrDataShape, source, i+1, name)
			}
			rows[i][j] = v
		}
	}
	return domain.NewReturnPanel(names, rows)
}
