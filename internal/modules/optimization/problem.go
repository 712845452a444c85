// Package optimization solves the yearly allocation program of the bond-ladder strategy.
//
// Every year the strategy picks positions x (N equities followed by one aggregate bond
// leg) that minimise
//
//	xᵀΣx + τ‖x‖₁
//
// subject to
//
//	Σx       = Budget      (all money is invested)
//	x_N      = BondTarget  (the bond leg equals the ladder's face)
//	Expectedᵀx ≥ Floor     (minimum expected growth)
package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/bondladder/internal/modules/risk"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Problem is one yearly convex program in position space. The bond leg is the last entry.
type Problem struct {
	Sigma      mat.Symmetric // (N+1)×(N+1), zero bond row and column
	Expected   []float64     // expected growth factors, bond leg last
	Floor      float64
	Budget     float64
	BondTarget float64
	Tau        float64
}

// Dim is N+1.
func (p Problem) Dim() int { return len(p.Expected) }

// Validate checks dimensions and finiteness before a solve.
func (p Problem) Validate() error {
	n := p.Dim()
	if n < 2 {
		return fmt.Errorf("problem needs at least one equity and the bond leg, got dimension %d", n)
	}
	if p.Sigma == nil || p.Sigma.SymmetricDim() != n {
		return fmt.Errorf("covariance dimension does not match %d expected returns", n)
	}
	if p.Tau < 0 || math.IsNaN(p.Tau) {
		return fmt.Errorf("tau must be non-negative, got %v", p.Tau)
	}
	for _, v := range []float64{p.Floor, p.Budget, p.BondTarget} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("constraint right-hand side is not finite: %v", v)
		}
	}
	for i, v := range p.Expected {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("expected growth %d is not finite: %v", i, v)
		}
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := p.Sigma.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("covariance entry (%d,%d) is not finite", i, j)
			}
		}
	}
	return nil
}

// Objective evaluates xᵀΣx + τ‖x‖₁.
func (p Problem) Objective(x []float64) float64 {
	return risk.Variance(p.Sigma, x) + p.Tau*floats.Norm(x, 1)
}

// Residuals returns how far x is from each constraint: the budget and bond equality
// errors, and the floor slack (negative when the floor is violated).
func (p Problem) Residuals(x []float64) (budget, bond, floorSlack float64) {
	budget = floats.Sum(x) - p.Budget
	bond = x[len(x)-1] - p.BondTarget
	floorSlack = floats.Dot(p.Expected, x) - p.Floor
	return budget, bond, floorSlack
}

// Describe renders the constraint set for error messages.
func (p Problem) Describe() string {
	return fmt.Sprintf("sum(x)=%.6f, x_bond=%.6f, growth>=%.6f, tau=%.3f", p.Budget, p.BondTarget, p.Floor, p.Tau)
}

// floorIsFixed reports whether Expectedᵀx is the same for every x meeting both equalities.
// That happens when all equity legs share one expected growth, including the N=1 case.
// The value it takes is returned alongside.
func (p Problem) floorIsFixed() (bool, float64) {
	n := p.Dim() - 1
	lo, hi := floats.Min(p.Expected[:n]), floats.Max(p.Expected[:n])
	if hi-lo > 1e-12*math.Max(1, math.Abs(hi)) {
		return false, 0
	}
	return true, hi*(p.Budget-p.BondTarget) + p.Expected[n]*p.BondTarget
}
