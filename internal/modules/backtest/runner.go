// Package backtest walks the bond-ladder strategy forward one calendar year at a time.
package backtest

import (
	"context"
	"fmt"

	"github.com/aristath/bondladder/internal/config"
	"github.com/aristath/bondladder/internal/domain"
	"github.com/aristath/bondladder/internal/modules/ladder"
	"github.com/aristath/bondladder/internal/modules/optimization"
	"github.com/aristath/bondladder/internal/modules/returns"
	"github.com/aristath/bondladder/internal/modules/risk"
	"github.com/aristath/bondladder/internal/utils"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// YearResult is everything known about one simulated year.
type YearResult struct {
	Year           int                       `json:"year" msgpack:"year"`
	Floor          float64                   `json:"floor" msgpack:"floor"`
	RealizedReturn float64                   `json:"realized_return" msgpack:"realized_return"`
	Benchmark      float64                   `json:"benchmark" msgpack:"benchmark"` // equal-weight buy and hold
	BondFace       float64                   `json:"bond_face" msgpack:"bond_face"`
	BondYield      float64                   `json:"bond_yield" msgpack:"bond_yield"`
	Coupon         float64                   `json:"coupon" msgpack:"coupon"`
	Matured        []int                     `json:"matured,omitempty" msgpack:"matured,omitempty"`
	Ladder         []ladder.Rung             `json:"ladder" msgpack:"ladder"`
	Allocation     *optimization.Allocation `json:"allocation" msgpack:"allocation"`
}

// Result is the full trajectory of a run.
type Result struct {
	Symbols      []string     `json:"symbols" msgpack:"symbols"`
	Years        []YearResult `json:"years" msgpack:"years"`
	Realized     []float64    `json:"realized" msgpack:"realized"`
	FinalWeights []float64    `json:"final_weights" msgpack:"final_weights"`
}

// Trajectory returns the (year, realised return) pairs.
func (r *Result) Trajectory() []domain.YearOutcome {
	out := make([]domain.YearOutcome, len(r.Years))
	for i, y := range r.Years {
		out[i] = domain.YearOutcome{Year: y.Year, RealizedReturn: y.RealizedReturn}
	}
	return out
}

// Runner ties the aggregator, covariance estimator, ladder and optimizer together.
type Runner struct {
	strategy config.Strategy
	solver   optimization.Solver
	log      zerolog.Logger
}

// NewRunner creates a runner. A nil solver selects ADMM configured from the strategy.
func NewRunner(strategy config.Strategy, solver optimization.Solver, log zerolog.Logger) *Runner {
	if solver == nil {
		solver = optimization.NewADMMSolver(SolverSettings(strategy), log)
	}
	return &Runner{
		strategy: strategy,
		solver:   solver,
		log:      log.With().Str("component", "backtest").Logger(),
	}
}

// Params maps the strategy onto optimizer parameters.
func Params(s config.Strategy) optimization.Params {
	return optimization.Params{
		Tau:                 s.Tau,
		InitialFloor:        s.InitialFloor,
		FloorFraction:       s.FloorFraction,
		RoundingDecimals:    s.RoundingDecimals,
		Renormalize:         s.RenormalizeAfterRounding,
		Strict:              s.StrictConstraints,
		DegeneracyTolerance: s.DegeneracyTolerance,
	}
}

// SolverSettings maps the strategy onto ADMM settings.
func SolverSettings(s config.Strategy) optimization.ADMMSettings {
	return optimization.ADMMSettings{
		Rho:           s.Solver.Rho,
		AbsTol:        s.Solver.AbsTol,
		RelTol:        s.Solver.RelTol,
		MaxIterations: s.Solver.MaxIterations,
	}
}

// Run simulates every year from FirstYear until the data (or LastYear) runs out.
//
// Each year:
//  1. trailing growth and covariance over the look-back window
//  2. the ladder ages one year, re-issuing matured rungs
//  3. the floor ratchets off last year's realised return
//  4. the optimizer solves for this year's book
//  5. equities are marked with the same year's realised growth and bonds earn the blended yield
//  6. the marked dollar positions and the ladder face carry into next year
func (r *Runner) Run(ctx context.Context, panel *domain.ReturnPanel, curve domain.YieldSource) (*Result, error) {
	s := r.strategy
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy: %w", err)
	}

	annual, err := returns.Annualize(panel)
	if err != nil {
		return nil, fmt.Errorf("failed to annualize returns: %w", err)
	}

	years, err := r.simulatedYears(len(annual))
	if err != nil {
		return nil, err
	}

	lookback := s.LookbackYears
	bench, err := returns.EqualWeightGrowth(annual, lookback, lookback+years)
	if err != nil {
		return nil, fmt.Errorf("failed to compute benchmark: %w", err)
	}

	lad, err := ladder.FromCurve(curve, s.FirstYear, s.Maturities, s.RungFace, s.BondIncrement, s.ReissueMaturity)
	if err != nil {
		return nil, fmt.Errorf("failed to build bond ladder: %w", err)
	}

	r.log.Info().
		Int("stocks", panel.Stocks()).
		Int("months", panel.Months()).
		Int("first_year", s.FirstYear).
		Int("years", years).
		Float64("tau", s.Tau).
		Bool("renormalize", s.RenormalizeAfterRounding).
		Msg("Starting backtest")

	timer := utils.NewTimer("backtest", r.log)
	opt := optimization.NewOptimizer(r.solver, Params(s), r.log)
	n := panel.Stocks()

	result := &Result{Symbols: panel.Symbols()}
	var carried []float64
	bondRate := lad.BlendedYield()

	for k := 0; k < years; k++ {
		year := s.FirstYear + k
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest stopped before %d: %w", year, err)
		}

		expected, err := returns.TrailingGrowth(annual, k, lookback)
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", year, err)
		}
		windowEnd := domain.MonthsPerYear * (k + lookback)
		cov, err := risk.Covariance(panel, windowEnd-s.CovarianceMonths, s.CovarianceMonths)
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", year, err)
		}

		req := optimization.Request{
			Year:       year,
			Expected:   expected,
			Sigma:      risk.Augment(cov),
			BondRate:   bondRate,
			BondTarget: lad.TotalFace(),
		}

		var step ladder.StepResult
		var coupon float64
		if k > 0 {
			// coupons on last year's face cannot compound in bonds and go to rebalancing
			coupon = lad.TotalFace() * bondRate
			lad, step, err = lad.Step(year, curve)
			if err != nil {
				return nil, fmt.Errorf("year %d: %w", year, err)
			}
			req.BondTarget = step.TotalFace
			req.Carried = carried
			req.Coupon = coupon
			req.History = result.Realized
		}

		alloc, err := opt.Allocate(req)
		if err != nil {
			return nil, err
		}

		if k > 0 {
			bondRate = step.BlendedYield
		}

		realizedGrowth := annual[k+lookback]
		equity := make([]float64, n)
		for i := 0; i < n; i++ {
			equity[i] = alloc.Weights[i] * realizedGrowth[i]
		}
		face := lad.TotalFace()
		realized := floats.Sum(equity) + face*(1+bondRate)

		result.Realized = append(result.Realized, realized)
		result.Years = append(result.Years, YearResult{
			Year:           year,
			Floor:          alloc.Floor,
			RealizedReturn: realized,
			Benchmark:      bench[k],
			BondFace:       face,
			BondYield:      bondRate,
			Coupon:         coupon,
			Matured:        step.Matured,
			Ladder:         lad.Rungs(),
			Allocation:     alloc,
		})
		carried = append(equity, face)

		r.log.Info().
			Int("year", year).
			Float64("realized", realized).
			Float64("benchmark", bench[k]).
			Float64("bond_face", face).
			Float64("bond_yield", bondRate).
			Ints("matured", step.Matured).
			Msg("Year complete")
	}

	if len(result.Years) > 0 {
		result.FinalWeights = append([]float64(nil), result.Years[len(result.Years)-1].Allocation.Weights...)
	}

	metrics := opt.Metrics()
	metrics.LogMetrics(r.log)
	timer.StopWithContext(map[string]interface{}{"years": years})

	return result, nil
}

// simulatedYears counts the years that have a full look-back window and a realised year,
// capped at LastYear.
func (r *Runner) simulatedYears(annualYears int) (int, error) {
	s := r.strategy
	years := annualYears - s.LookbackYears
	if years < 1 {
		return 0, fmt.Errorf("%w: %d years of returns cannot cover a %d-year look-back plus one simulated year",
			domain.ErrDataShape, annualYears, s.LookbackYears)
	}
	if s.LastYear != 0 {
		if limit := s.LastYear - s.FirstYear + 1; limit < years {
			years = limit
		}
	}
	return years, nil
}
