package optimization

import (
	"errors"
	"fmt"
	"math"

	"github.com/aristath/bondladder/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInfeasible means no position vector satisfies the constraint set.
	ErrInfeasible = fmt.Errorf("%w: infeasible constraint set", domain.ErrSolverFailed)
	// ErrNotConverged means the iteration cap was reached before the residual tolerances.
	ErrNotConverged = fmt.Errorf("%w: did not converge", domain.ErrSolverFailed)
)

const (
	// maxCondition above which a KKT system is treated as singular.
	maxCondition = 1e14
	// residual balancing: adapt rho when one residual dominates the other by this factor.
	balanceRatio  = 10.0
	balanceFactor = 2.0
	balanceEvery  = 25
	balanceUntil  = 5000
)

// Solution is the solver output.
type Solution struct {
	X          []float64
	Objective  float64
	Iterations int
	Rho        float64
	FloorBound bool // the floor constraint was active at the final iterate
}

// Solver solves one yearly Problem.
type Solver interface {
	Solve(p Problem) (*Solution, error)
}

// ADMMSettings configures ADMMSolver.
type ADMMSettings struct {
	Rho           float64 // initial penalty, 0 derives it from the covariance scale
	AbsTol        float64
	RelTol        float64
	MaxIterations int
}

// DefaultADMMSettings are tight enough that rounding to four decimals is stable.
func DefaultADMMSettings() ADMMSettings {
	return ADMMSettings{AbsTol: 1e-10, RelTol: 1e-9, MaxIterations: 50000}
}

// ADMMSolver minimises xᵀΣx + τ‖x‖₁ under the budget, bond and floor constraints with the
// alternating direction method of multipliers, splitting x = z:
//
//	x ← argmin xᵀΣx + ρ/2‖x − z + w‖²  s.t. constraints   (KKT solve)
//	z ← soft-threshold(x + w, τ/ρ)
//	w ← w + x − z
//
// The x-step carries every constraint, so each iterate is feasible. The single inequality
// is handled by solving with the equalities only and, when the floor is violated, again
// with the floor as an equality.
type ADMMSolver struct {
	settings ADMMSettings
	log      zerolog.Logger
}

// NewADMMSolver creates a solver, filling zero settings with defaults.
func NewADMMSolver(settings ADMMSettings, log zerolog.Logger) *ADMMSolver {
	def := DefaultADMMSettings()
	if settings.AbsTol <= 0 {
		settings.AbsTol = def.AbsTol
	}
	if settings.RelTol <= 0 {
		settings.RelTol = def.RelTol
	}
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = def.MaxIterations
	}
	return &ADMMSolver{
		settings: settings,
		log:      log.With().Str("component", "admm").Logger(),
	}
}

// Solve runs ADMM to the configured tolerances.
func (s *ADMMSolver) Solve(p Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid problem: %w", err)
	}

	n := p.Dim()
	fixed, fixedValue := p.floorIsFixed()
	if fixed && fixedValue < p.Floor-floorSlack(p) {
		return nil, fmt.Errorf("%w: expected growth is pinned at %.6f below floor %.6f",
			ErrInfeasible, fixedValue, p.Floor)
	}

	rho := s.initialRho(p)
	minRho, maxRho := rho*1e-4, rho*1e4
	sys, err := newKKT(p, rho, !fixed)
	if err != nil {
		return nil, err
	}

	x := make([]float64, n)
	z := make([]float64, n)
	w := make([]float64, n)
	zOld := make([]float64, n)
	v := make([]float64, n)
	diff := make([]float64, n)
	sqrtN := math.Sqrt(float64(n))

	for it := 1; it <= s.settings.MaxIterations; it++ {
		// x-step
		floats.SubTo(v, z, w)
		active, err := sys.solve(x, v)
		if err != nil {
			return nil, err
		}

		// z-step
		copy(zOld, z)
		threshold := p.Tau / rho
		for i := range z {
			z[i] = softThreshold(x[i]+w[i], threshold)
		}

		// dual update
		floats.SubTo(diff, x, z)
		floats.Add(w, diff)

		primal := floats.Norm(diff, 2)
		floats.SubTo(diff, z, zOld)
		dual := rho * floats.Norm(diff, 2)

		epsPrimal := sqrtN*s.settings.AbsTol + s.settings.RelTol*math.Max(floats.Norm(x, 2), floats.Norm(z, 2))
		epsDual := sqrtN*s.settings.AbsTol + s.settings.RelTol*rho*floats.Norm(w, 2)

		if primal <= epsPrimal && dual <= epsDual {
			s.log.Debug().
				Int("iterations", it).
				Float64("rho", rho).
				Float64("primal_residual", primal).
				Float64("dual_residual", dual).
				Msg("ADMM converged")
			return &Solution{
				X:          append([]float64(nil), x...),
				Objective:  p.Objective(x),
				Iterations: it,
				Rho:        rho,
				FloorBound: active,
			}, nil
		}

		if it%balanceEvery == 0 && it <= balanceUntil {
			scale := 1.0
			switch {
			case primal > balanceRatio*dual && rho*balanceFactor <= maxRho:
				scale = balanceFactor
			case dual > balanceRatio*primal && rho/balanceFactor >= minRho:
				scale = 1 / balanceFactor
			}
			if scale != 1 {
				rho *= scale
				floats.Scale(1/scale, w)
				if sys, err = newKKT(p, rho, !fixed); err != nil {
					return nil, err
				}
			}
		}
	}

	budget, bond, slack := p.Residuals(x)
	return nil, fmt.Errorf("%w after %d iterations (budget residual %.2e, bond residual %.2e, floor slack %.2e)",
		ErrNotConverged, s.settings.MaxIterations, budget, bond, slack)
}

// initialRho scales the penalty to the covariance so the x-step is well balanced.
func (s *ADMMSolver) initialRho(p Problem) float64 {
	if s.settings.Rho > 0 {
		return s.settings.Rho
	}
	n := p.Dim()
	var trace float64
	for i := 0; i < n; i++ {
		trace += p.Sigma.At(i, i)
	}
	rho := 2 * trace / float64(n)
	if p.Tau > rho {
		rho = p.Tau
	}
	return math.Max(rho, 1e-6)
}

func softThreshold(v, k float64) float64 {
	switch {
	case v > k:
		return v - k
	case v < -k:
		return v + k
	default:
		return 0
	}
}

func floorSlack(p Problem) float64 {
	return 1e-12 * math.Max(1, math.Abs(p.Floor))
}

// kkt holds the factorised x-step systems for one value of rho:
//
//	[2Σ + ρI  Cᵀ] [x]   [ρv]
//	[C        0 ] [λ] = [d ]
//
// with C the equality rows, and optionally the floor row appended.
type kkt struct {
	p        Problem
	rho      float64
	eq       mat.LU
	floor    mat.LU
	useFloor bool
	floorOK  bool // floor system factorised
	rhsEq    *mat.VecDense
	rhsFloor *mat.VecDense
	solEq    *mat.VecDense
	solFloor *mat.VecDense
}

func newKKT(p Problem, rho float64, floorCanBind bool) (*kkt, error) {
	n := p.Dim()
	k := &kkt{p: p, rho: rho, useFloor: floorCanBind}

	eq := kktMatrix(p, rho, false)
	k.eq.Factorize(eq)
	if cond := k.eq.Cond(); math.IsInf(cond, 0) || cond > maxCondition {
		return nil, fmt.Errorf("%w: budget and bond constraints are degenerate (condition %.2e)", ErrInfeasible, cond)
	}
	k.rhsEq = mat.NewVecDense(n+2, nil)
	k.solEq = mat.NewVecDense(n+2, nil)

	return k, nil
}

func kktMatrix(p Problem, rho float64, withFloor bool) *mat.Dense {
	n := p.Dim()
	m := 2
	if withFloor {
		m = 3
	}
	a := mat.NewDense(n+m, n+m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, 2*p.Sigma.At(i, j))
		}
		a.Set(i, i, a.At(i, i)+rho)

		// budget row
		a.Set(n, i, 1)
		a.Set(i, n, 1)
		if withFloor {
			a.Set(n+2, i, p.Expected[i])
			a.Set(i, n+2, p.Expected[i])
		}
	}
	// bond row
	a.Set(n+1, n-1, 1)
	a.Set(n-1, n+1, 1)
	return a
}

// solve writes the x-step minimiser into x and reports whether the floor was bound.
func (k *kkt) solve(x, v []float64) (bool, error) {
	n := k.p.Dim()
	for i := 0; i < n; i++ {
		k.rhsEq.SetVec(i, k.rho*v[i])
	}
	k.rhsEq.SetVec(n, k.p.Budget)
	k.rhsEq.SetVec(n+1, k.p.BondTarget)
	if err := k.eq.SolveVecTo(k.solEq, false, k.rhsEq); err != nil && !isCondition(err) {
		return false, fmt.Errorf("KKT solve failed: %w", err)
	}
	for i := 0; i < n; i++ {
		x[i] = k.solEq.AtVec(i)
	}

	if !k.useFloor || floats.Dot(k.p.Expected, x) >= k.p.Floor-floorSlack(k.p) {
		return false, nil
	}

	if !k.floorOK {
		// factorised lazily, the floor system is singular when the floor cannot bind
		k.floor.Factorize(kktMatrix(k.p, k.rho, true))
		if cond := k.floor.Cond(); math.IsInf(cond, 0) || cond > maxCondition {
			return false, fmt.Errorf("%w: floor constraint is dependent on the equalities (condition %.2e)", ErrInfeasible, cond)
		}
		k.rhsFloor = mat.NewVecDense(n+3, nil)
		k.solFloor = mat.NewVecDense(n+3, nil)
		k.floorOK = true
	}
	for i := 0; i < n; i++ {
		k.rhsFloor.SetVec(i, k.rho*v[i])
	}
	k.rhsFloor.SetVec(n, k.p.Budget)
	k.rhsFloor.SetVec(n+1, k.p.BondTarget)
	k.rhsFloor.SetVec(n+2, k.p.Floor)
	if err := k.floor.SolveVecTo(k.solFloor, false, k.rhsFloor); err != nil && !isCondition(err) {
		return false, fmt.Errorf("KKT solve with floor failed: %w", err)
	}
	for i := 0; i < n; i++ {
		x[i] = k.solFloor.AtVec(i)
	}
	return true, nil
}

func isCondition(err error) bool {
	var c mat.Condition
	return errors.As(err, &c)
}
