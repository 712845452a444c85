// Package risk builds the covariance matrices fed to the yearly allocation problem.
package risk

import (
	"fmt"

	"github.com/aristath/bondladder/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Covariance computes the sample covariance (n-1 denominator, columns are stocks) of
// months [startMonth, startMonth+months) of the panel.
func Covariance(panel *domain.ReturnPanel, startMonth, months int) (*mat.SymDense, error) {
	if months < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", domain.ErrDataShape, months)
	}

	window, err := panel.Window(startMonth, months)
	if err != nil {
		return nil, fmt.Errorf("failed to slice covariance window: %w", err)
	}

	cov := mat.NewSymDense(panel.Stocks(), nil)
	stat.CovarianceMatrix(cov, window, nil)
	return cov, nil
}

// Augment appends a zero row and column for the bond leg.
//
// Bonds are treated as riskless and uncorrelated with every stock. That is a modelling
// simplification of the strategy, not a property of the data.
func Augment(cov mat.Symmetric) *mat.SymDense {
	n := cov.SymmetricDim()
	out := mat.NewSymDense(n+1, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, cov.At(i, j))
		}
	}
	return out
}

// Variance returns xᵀΣx.
func Variance(sigma mat.Symmetric, x []float64) float64 {
	v := mat.NewVecDense(len(x), append([]float64(nil), x...))
	return mat.Inner(v, sigma, v)
}
