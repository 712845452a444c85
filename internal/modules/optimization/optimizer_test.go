package optimization

import (
	"errors"
	"testing"

	"github.com/aristath/bondladder/internal/domain"
	"github.com/aristath/bondladder/internal/modules/risk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type stubSolver struct {
	x   []float64
	err error
	got []Problem
}

func (s *stubSolver) Solve(p Problem) (*Solution, error) {
	s.got = append(s.got, p)
	if s.err != nil {
		return nil, s.err
	}
	return &Solution{X: append([]float64(nil), s.x...), Iterations: 1}, nil
}

func testParams() Params {
	return Params{
		Tau:                 0.7,
		InitialFloor:        0.95,
		FloorFraction:       0.95,
		RoundingDecimals:    4,
		DegeneracyTolerance: 1e-3,
	}
}

func identityRequest(year int) Request {
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	return Request{
		Year:       year,
		Expected:   []float64{1.1, 1.2},
		Sigma:      risk.Augment(cov),
		BondRate:   0.05,
		BondTarget: 0.2,
	}
}

func TestOptimizer_InitialThenRolling(t *testing.T) {
	params := testParams()
	params.Tau = 0
	opt := NewOptimizer(newTestSolver(), params, zerolog.Nop())
	require.Equal(t, StateInitial, opt.State())

	first, err := opt.Allocate(identityRequest(1991))
	require.NoError(t, err)
	assert.Equal(t, "initial", first.State)
	assert.Equal(t, 0.95, first.Floor)
	assert.Equal(t, 1.0, first.Budget)
	assert.Equal(t, []float64{0.4, 0.4, 0.2}, first.Weights)
	assert.Equal(t, first.Weights, first.Trades)
	assert.Equal(t, 2, first.Holdings)
	assert.Equal(t, StateRolling, opt.State())

	req := identityRequest(1992)
	req.Carried = []float64{0.44, 0.48, 0.2}
	req.Coupon = 0.01
	req.History = []float64{1.13}

	second, err := opt.Allocate(req)
	require.NoError(t, err)
	assert.Equal(t, "rolling", second.State)
	assert.InDelta(t, 0.44+0.48+0.2+0.01, second.Budget, 1e-12)
	assert.InDelta(t, 0.01, floats.Sum(second.Trades), 1e-3)
	assert.InDelta(t, 0.2, second.Weights[2], 1e-12)
	assert.Equal(t, int64(2), opt.Metrics().CallCount)
}

func TestOptimizer_RatchetUsesLastRealisedReturn(t *testing.T) {
	stub := &stubSolver{x: []float64{0.5, 0.31, 0.2}}
	opt := NewOptimizer(stub, testParams(), zerolog.Nop())
	opt.state = StateRolling

	req := identityRequest(1995)
	req.Carried = []float64{0.5, 0.3, 0.2}
	req.Coupon = 0.01
	req.History = []float64{0.10, 0.08}

	alloc, err := opt.Allocate(req)
	require.NoError(t, err)

	assert.Equal(t, 0.95*0.08, alloc.Floor)
	assert.InDelta(t, 0.076, alloc.Floor, 1e-15)
	require.Len(t, stub.got, 1)
	assert.Equal(t, 0.95*0.08, stub.got[0].Floor)
	assert.Equal(t, []float64{1.1, 1.2, 1.05}, stub.got[0].Expected)
}

func TestReturnFloor(t *testing.T) {
	floor, err := ReturnFloor([]float64{0.10, 0.08}, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 0.076, floor, 1e-15)

	floor, err = ReturnFloor([]float64{0.50, 0.08}, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 0.076, floor, 1e-15, "earlier years do not matter")

	_, err = ReturnFloor(nil, 0.95)
	assert.Error(t, err)
}

func TestOptimizer_RollingNeedsCarriedBook(t *testing.T) {
	opt := NewOptimizer(&stubSolver{}, testParams(), zerolog.Nop())
	opt.state = StateRolling

	req := identityRequest(1993)
	req.History = []float64{1.1}
	_, err := opt.Allocate(req)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataShape)
	var yearErr *domain.YearError
	require.True(t, errors.As(err, &yearErr))
	assert.Equal(t, 1993, yearErr.Year)
}

func TestOptimizer_SolverFailureIsFatal(t *testing.T) {
	stub := &stubSolver{err: ErrInfeasible}
	opt := NewOptimizer(stub, testParams(), zerolog.Nop())

	alloc, err := opt.Allocate(identityRequest(1991))
	require.Error(t, err)
	assert.Nil(t, alloc)
	assert.ErrorIs(t, err, ErrInfeasible)

	var yearErr *domain.YearError
	require.True(t, errors.As(err, &yearErr))
	assert.Equal(t, 1991, yearErr.Year)
	assert.Equal(t, "initial", yearErr.Stage)
	assert.Contains(t, yearErr.Constraints, "growth>=0.950000")
	assert.Equal(t, StateInitial, opt.State(), "failed solves do not advance the state")
}

func TestOptimizer_RoundingDrift(t *testing.T) {
	// the solver returns a vector whose rounded budget misses by 0.002
	drifting := []float64{0.40149, 0.40049, 0.2}

	lenient := NewOptimizer(&stubSolver{x: drifting}, testParams(), zerolog.Nop())
	alloc, err := lenient.Allocate(identityRequest(1991))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4015, 0.4005, 0.2}, alloc.Weights)

	params := testParams()
	params.Strict = true
	params.DegeneracyTolerance = 1e-6
	strict := NewOptimizer(&stubSolver{x: []float64{0.40001, 0.39999, 0.2}}, params, zerolog.Nop())
	_, err = strict.Allocate(identityRequest(1991))
	require.NoError(t, err)

	strict = NewOptimizer(&stubSolver{x: []float64{0.40006, 0.40006, 0.2}}, params, zerolog.Nop())
	_, err = strict.Allocate(identityRequest(1991))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNumericalDegeneracy)
}

func TestOptimizer_RenormalizeRestoresBudget(t *testing.T) {
	params := testParams()
	params.Renormalize = true
	params.Strict = true
	params.DegeneracyTolerance = 1e-12

	opt := NewOptimizer(&stubSolver{x: []float64{0.40006, 0.40006, 0.20001}}, params, zerolog.Nop())
	alloc, err := opt.Allocate(identityRequest(1991))
	require.NoError(t, err)

	assert.Equal(t, 0.2, alloc.Weights[2])
	assert.InDelta(t, 1.0, floats.Sum(alloc.Weights), 1e-15)
	assert.InDelta(t, alloc.Weights[0], alloc.Weights[1], 1e-15)
}

func TestRound_HalfToEven(t *testing.T) {
	got := Round([]float64{0.12345, 0.12355, -0.00004, 0.00005, 1.23456789}, 4)
	assert.Equal(t, []float64{0.1234, 0.1236, 0, 0, 1.2346}, got)
}

func TestRenormalize_AllZeroEquity(t *testing.T) {
	w := []float64{0, 0, 0.19}
	Renormalize(w, 1, 0.2)
	assert.Equal(t, []float64{0, 0, 0.2}, w)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "initial", StateInitial.String())
	assert.Equal(t, "rolling", StateRolling.String())
	assert.Equal(t, "state(7)", State(7).String())
}
