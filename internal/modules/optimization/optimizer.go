package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/bondladder/internal/domain"
	"github.com/aristath/bondladder/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// State is the optimizer's position in the yearly sequence.
type State int

const (
	// StateInitial solves the first year from a full budget of 1.
	StateInitial State = iota
	// StateRolling adjusts the carried book by a trade vector each later year.
	StateRolling
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRolling:
		return "rolling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Params are the strategy constants used by the optimizer.
type Params struct {
	Tau                 float64
	InitialFloor        float64 // growth floor of the first year
	FloorFraction       float64 // ratchet on last realised return
	RoundingDecimals    int
	Renormalize         bool // rescale equities after rounding so the budget holds exactly
	Strict              bool // fail instead of warn on equality drift after rounding
	DegeneracyTolerance float64
}

// Request carries one year's inputs.
type Request struct {
	Year       int
	Expected   []float64     // N trailing growth factors
	Sigma      mat.Symmetric // augmented (N+1)×(N+1) covariance
	BondRate   float64       // blended ladder yield used as the bond leg's expected growth - 1
	BondTarget float64       // the bond leg must equal the ladder face

	// Rolling state only.
	Carried []float64 // last year's dollar positions marked to market, bond face last
	Coupon  float64   // bond coupon cash redirected into rebalancing
	History []float64 // realised returns so far; the floor ratchets off the last one
}

// Allocation is the solved and rounded result of one year.
type Allocation struct {
	Year       int       `json:"year" msgpack:"year"`
	State      string    `json:"state" msgpack:"state"`
	Weights    []float64 `json:"weights" msgpack:"weights"` // rounded positions, bond last
	Trades     []float64 `json:"trades" msgpack:"trades"`   // Weights minus carried positions
	Raw        []float64 `json:"-" msgpack:"-"`
	Floor      float64   `json:"floor" msgpack:"floor"`
	Budget     float64   `json:"budget" msgpack:"budget"`
	Objective  float64   `json:"objective" msgpack:"objective"`
	Iterations int       `json:"iterations" msgpack:"iterations"`
	FloorBound bool      `json:"floor_bound" msgpack:"floor_bound"`
	Holdings   int       `json:"holdings" msgpack:"holdings"` // non-zero equity legs
}

// Optimizer walks the Initial → Rolling state machine, one solve per year.
type Optimizer struct {
	solver  Solver
	params  Params
	state   State
	metrics utils.PerformanceMetrics
	log     zerolog.Logger
}

// NewOptimizer creates an optimizer in StateInitial.
func NewOptimizer(solver Solver, params Params, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		solver:  solver,
		params:  params,
		state:   StateInitial,
		metrics: utils.PerformanceMetrics{OperationName: "yearly_solve"},
		log:     log.With().Str("component", "optimizer").Logger(),
	}
}

// State returns the current state.
func (o *Optimizer) State() State { return o.state }

// Metrics returns aggregated solve timings.
func (o *Optimizer) Metrics() utils.PerformanceMetrics { return o.metrics }

// ReturnFloor is the ratchet: fraction times the most recent realised return.
func ReturnFloor(history []float64, fraction float64) (float64, error) {
	if len(history) == 0 {
		return 0, fmt.Errorf("return floor needs at least one realised return")
	}
	return fraction * history[len(history)-1], nil
}

// Allocate builds the year's problem for the current state, solves it and rounds the result.
// A successful Initial solve moves the optimizer to StateRolling.
func (o *Optimizer) Allocate(req Request) (*Allocation, error) {
	problem, carried, err := o.buildProblem(req)
	if err != nil {
		return nil, &domain.YearError{Year: req.Year, Stage: o.state.String(), Constraints: "n/a", Err: err}
	}

	timer := utils.NewTimer("yearly_solve", o.log)
	sol, err := o.solver.Solve(problem)
	o.metrics.Record(timer.StopWithContext(map[string]interface{}{"year": req.Year}))
	if err != nil {
		return nil, &domain.YearError{Year: req.Year, Stage: o.state.String(), Constraints: problem.Describe(), Err: err}
	}

	weights := Round(sol.X, o.params.RoundingDecimals)
	if o.params.Renormalize {
		Renormalize(weights, problem.Budget, problem.BondTarget)
	}
	if err := o.checkRounded(req.Year, problem, weights); err != nil {
		return nil, &domain.YearError{Year: req.Year, Stage: o.state.String(), Constraints: problem.Describe(), Err: err}
	}

	trades := make([]float64, len(weights))
	if carried != nil {
		floats.SubTo(trades, weights, carried)
	} else {
		copy(trades, weights)
	}

	alloc := &Allocation{
		Year:       req.Year,
		State:      o.state.String(),
		Weights:    weights,
		Trades:     trades,
		Raw:        sol.X,
		Floor:      problem.Floor,
		Budget:     problem.Budget,
		Objective:  sol.Objective,
		Iterations: sol.Iterations,
		FloorBound: sol.FloorBound,
		Holdings:   countNonZero(weights[:len(weights)-1]),
	}

	o.log.Info().
		Int("year", req.Year).
		Str("state", alloc.State).
		Float64("floor", alloc.Floor).
		Float64("budget", alloc.Budget).
		Int("holdings", alloc.Holdings).
		Int("iterations", alloc.Iterations).
		Bool("floor_bound", alloc.FloorBound).
		Msg("Solved yearly allocation")

	o.state = StateRolling
	return alloc, nil
}

func (o *Optimizer) buildProblem(req Request) (Problem, []float64, error) {
	n := len(req.Expected)
	if n == 0 {
		return Problem{}, nil, fmt.Errorf("%w: no expected returns", domain.ErrDataShape)
	}
	if req.Sigma == nil || req.Sigma.SymmetricDim() != n+1 {
		return Problem{}, nil, fmt.Errorf("%w: covariance must be %d×%d", domain.ErrDataShape, n+1, n+1)
	}

	expected := make([]float64, n+1)
	copy(expected, req.Expected)
	expected[n] = 1 + req.BondRate

	p := Problem{
		Sigma:      req.Sigma,
		Expected:   expected,
		BondTarget: req.BondTarget,
		Tau:        o.params.Tau,
	}

	switch o.state {
	case StateInitial:
		p.Budget = 1
		p.Floor = o.params.InitialFloor
		return p, nil, nil
	case StateRolling:
		if len(req.Carried) != n+1 {
			return Problem{}, nil, fmt.Errorf("%w: carried book has %d legs, expected %d",
				domain.ErrDataShape, len(req.Carried), n+1)
		}
		floor, err := ReturnFloor(req.History, o.params.FloorFraction)
		if err != nil {
			return Problem{}, nil, err
		}
		// xn = u + carried with Σu = coupon, so Σxn = Σcarried + coupon
		p.Budget = floats.Sum(req.Carried) + req.Coupon
		p.Floor = floor
		return p, append([]float64(nil), req.Carried...), nil
	default:
		return Problem{}, nil, fmt.Errorf("unknown optimizer state %v", o.state)
	}
}

// checkRounded flags equality drift introduced by rounding.
func (o *Optimizer) checkRounded(year int, p Problem, weights []float64) error {
	budget, bond, slack := p.Residuals(weights)
	tol := o.params.DegeneracyTolerance
	if math.Abs(budget) <= tol && math.Abs(bond) <= tol && slack >= -tol {
		return nil
	}

	if o.params.Strict {
		return fmt.Errorf("%w: budget residual %.2e, bond residual %.2e, floor slack %.2e exceed %.1e",
			domain.ErrNumericalDegeneracy, budget, bond, slack, tol)
	}
	o.log.Warn().
		Int("year", year).
		Float64("budget_residual", budget).
		Float64("bond_residual", bond).
		Float64("floor_slack", slack).
		Msg("Rounded weights drift from the constraints")
	return nil
}

// Round rounds every weight to the given number of decimals, half to even.
func Round(x []float64, decimals int) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = decimal.NewFromFloat(v).RoundBank(int32(decimals)).InexactFloat64()
	}
	return out
}

// Renormalize pins the bond leg to target and rescales the equity legs so the vector sums
// to budget. An all-zero equity book is left untouched.
func Renormalize(w []float64, budget, bondTarget float64) {
	n := len(w) - 1
	w[n] = bondTarget
	equity := floats.Sum(w[:n])
	if equity == 0 {
		return
	}
	floats.Scale((budget-bondTarget)/equity, w[:n])
}

func countNonZero(x []float64) int {
	count := 0
	for _, v := range x {
		if v != 0 {
			count++
		}
	}
	return count
}
