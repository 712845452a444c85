// Package ladder models the Treasury bond ladder held alongside the equity book.
package ladder

import (
	"fmt"

	"github.com/aristath/bondladder/internal/domain"
)

// Rung is one maturity bucket of the ladder.
type Rung struct {
	Maturity int     `json:"maturity" msgpack:"maturity"` // remaining years
	Face     float64 `json:"face" msgpack:"face"`         // fraction of initial wealth
	Yield    float64 `json:"yield" msgpack:"yield"`       // coupon yield in percent
}

// Ladder is an immutable value. Step returns a new ladder and never mutates the receiver.
type Ladder struct {
	rungs     []Rung
	increment float64
	reissue   int
}

// StepResult describes one year of ladder ageing.
type StepResult struct {
	Year         int     `json:"year" msgpack:"year"`
	Matured      []int   `json:"matured,omitempty" msgpack:"matured,omitempty"` // rung indices re-issued this year
	BlendedYield float64 `json:"blended_yield" msgpack:"blended_yield"`
	TotalFace    float64 `json:"total_face" msgpack:"total_face"`
}

// New builds a ladder with one rung per maturity, each holding face and the matching yield.
func New(maturities []int, yields []float64, face, increment float64, reissue int) (Ladder, error) {
	if len(maturities) == 0 {
		return Ladder{}, fmt.Errorf("%w: ladder needs at least one rung", domain.ErrDataShape)
	}
	if len(yields) != len(maturities) {
		return Ladder{}, fmt.Errorf("%w: %d yields for %d rungs", domain.ErrDataShape, len(yields), len(maturities))
	}
	if reissue <= 0 {
		return Ladder{}, fmt.Errorf("reissue maturity must be positive, got %d", reissue)
	}

	rungs := make([]Rung, len(maturities))
	for i, m := range maturities {
		if m <= 0 {
			return Ladder{}, fmt.Errorf("%w: rung %d has maturity %d", domain.ErrDataShape, i, m)
		}
		rungs[i] = Rung{Maturity: m, Face: face, Yield: yields[i]}
	}
	return Ladder{rungs: rungs, increment: increment, reissue: reissue}, nil
}

// FromCurve builds the ladder from the first yield observation of year for every maturity.
func FromCurve(curve domain.YieldSource, year int, maturities []int, face, increment float64, reissue int) (Ladder, error) {
	yields := make([]float64, len(maturities))
	for i, m := range maturities {
		y, err := curve.Yield(m, year)
		if err != nil {
			return Ladder{}, fmt.Errorf("failed to get %d-year yield for %d: %w", m, year, err)
		}
		yields[i] = y
	}
	return New(maturities, yields, face, increment, reissue)
}

// Step ages every rung by one year. Rungs that reach zero are re-issued at the reissue
// maturity with the curve's yield for year, and their face grows by the increment.
func (l Ladder) Step(year int, curve domain.YieldSource) (Ladder, StepResult, error) {
	next := Ladder{
		rungs:     make([]Rung, len(l.rungs)),
		increment: l.increment,
		reissue:   l.reissue,
	}
	copy(next.rungs, l.rungs)

	var matured []int
	for i := range next.rungs {
		next.rungs[i].Maturity--
		if next.rungs[i].Maturity > 0 {
			continue
		}
		y, err := curve.Yield(l.reissue, year)
		if err != nil {
			return l, StepResult{}, fmt.Errorf("failed to re-issue rung %d in %d: %w", i, year, err)
		}
		next.rungs[i] = Rung{
			Maturity: l.reissue,
			Face:     next.rungs[i].Face + l.increment,
			Yield:    y,
		}
		matured = append(matured, i)
	}

	return next, StepResult{
		Year:         year,
		Matured:      matured,
		BlendedYield: next.BlendedYield(),
		TotalFace:    next.TotalFace(),
	}, nil
}

// TotalFace is the sum of rung face amounts.
func (l Ladder) TotalFace() float64 {
	var total float64
	for _, r := range l.rungs {
		total += r.Face
	}
	return total
}

// BlendedYield is the face-weighted mean rung yield as a decimal rate (percent / 100).
func (l Ladder) BlendedYield() float64 {
	total := l.TotalFace()
	if total == 0 {
		return 0
	}
	var weighted float64
	for _, r := range l.rungs {
		weighted += r.Face * r.Yield
	}
	return weighted / total / 100
}

// Rungs returns a copy of the rungs.
func (l Ladder) Rungs() []Rung {
	return append([]Rung(nil), l.rungs...)
}

// Increment is the face added to a rung on re-issue.
func (l Ladder) Increment() float64 { return l.increment }
