package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// ErrMissingYield means the curve has no observation for a maturity in a year.
var ErrMissingYield = errors.New("missing yield observation")

// DefaultFREDSeries maps ladder maturities to FRED constant-maturity Treasury series.
var DefaultFREDSeries = map[int]string{
	2:  "GS2",
	5:  "GS5",
	7:  "GS7",
	10: "GS10",
}

var dateLayouts = []string{"2006-01-02", "2006-01", "01/02/2006"}

// Observation is one dated yield in percent.
type Observation struct {
	Date  time.Time `json:"date" msgpack:"date"`
	Value float64   `json:"value" msgpack:"value"`
}

// YieldCurve holds dated observations per maturity.
type YieldCurve struct {
	series map[int][]Observation
}

// NewYieldCurve creates an empty curve.
func NewYieldCurve() *YieldCurve {
	return &YieldCurve{series: make(map[int][]Observation)}
}

// Add stores the observations for a maturity, replacing any earlier ones.
func (c *YieldCurve) Add(maturity int, obs []Observation) {
	sorted := append([]Observation(nil), obs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	c.series[maturity] = sorted
}

// Maturities returns the stored maturities in ascending order.
func (c *YieldCurve) Maturities() []int {
	out := make([]int, 0, len(c.series))
	for m := range c.series {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// Yield returns the first observation of the calendar year, in percent.
func (c *YieldCurve) Yield(maturity, year int) (float64, error) {
	obs, ok := c.series[maturity]
	if !ok {
		return 0, fmt.Errorf("%w: no %d-year series", ErrMissingYield, maturity)
	}
	i := sort.Search(len(obs), func(i int) bool { return obs[i].Date.Year() >= year })
	if i == len(obs) || obs[i].Date.Year() != year {
		return 0, fmt.Errorf("%w: %d-year yield for %d", ErrMissingYield, maturity, year)
	}
	return obs[i].Value, nil
}

// LoadYieldCurveCSV reads a CSV whose first column is a date and whose other columns hold
// yields. columns maps each maturity to its column name.
func LoadYieldCurveCSV(path string, columns map[int]string) (*YieldCurve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open yields file: %w", err)
	}
	defer f.Close()

	df, err := ReadSeriesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	curve := NewYieldCurve()
	for maturity, column := range columns {
		obs, err := Observations(df, column)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		curve.Add(maturity, obs)
	}
	return curve, nil
}

// ReadSeriesCSV parses a dated CSV with every column kept as text.
// FRED writes "." for a missing value.
func ReadSeriesCSV(r io.Reader) (dataframe.DataFrame, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues([]string{".", "", "NA", "NaN"}),
	)
	if df.Err != nil {
		return df, df.Err
	}
	if df.Ncol() < 2 {
		return df, fmt.Errorf("expected a date column and at least one value column, got %d columns", df.Ncol())
	}
	return df, nil
}

// Observations extracts (date, value) pairs of one column. Rows without a value are skipped.
func Observations(df dataframe.DataFrame, column string) ([]Observation, error) {
	found := false
	for _, name := range df.Names() {
		if name == column {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("column %q not found", column)
	}

	dates := df.Col(df.Names()[0]).Records()
	values := df.Col(column).Float()
	obs := make([]Observation, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		date, err := parseDate(dates[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		obs = append(obs, Observation{Date: date, Value: v})
	}
	return obs, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// SeriesFetcher downloads one dated series.
type SeriesFetcher interface {
	Series(ctx context.Context, id string, from, to time.Time) ([]Observation, error)
}

// FetchYieldCurve downloads every series in ids and assembles a curve.
func FetchYieldCurve(ctx context.Context, fetcher SeriesFetcher, ids map[int]string, from, to time.Time) (*YieldCurve, error) {
	curve := NewYieldCurve()
	for maturity, id := range ids {
		obs, err := fetcher.Series(ctx, id, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", id, err)
		}
		if len(obs) == 0 {
			return nil, fmt.Errorf("%w: series %s returned no observations", ErrMissingYield, id)
		}
		curve.Add(maturity, obs)
	}
	return curve, nil
}
