package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDataShape marks input whose dimensions cannot drive a backtest.
	ErrDataShape = errors.New("data shape error")
	// ErrSolverFailed marks a yearly program without an acceptable solution.
	ErrSolverFailed = errors.New("solver failed")
	// ErrNumericalDegeneracy marks a solution whose rounded weights break an equality constraint.
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")
)

// YearError attaches the simulated year and the constraint set to a failure.
type YearError struct {
	Year        int
	Stage       string // "initial" or "rolling"
	Constraints string
	Err         error
}

func (e *YearError) Error() string {
	return fmt.Sprintf("year %d (%s, %s): %v", e.Year, e.Stage, e.Constraints, e.Err)
}

func (e *YearError) Unwrap() error { return e.Err }
