package ladder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aristath/bondladder/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatCurve quotes the same yield for every maturity, shifted by year so tests can see
// which year a rung was re-issued in.
type flatCurve struct{ base float64 }

func (c flatCurve) Yield(maturity, year int) (float64, error) {
	return c.base + float64(year-2000)/10, nil
}

type failingCurve struct{}

func (failingCurve) Yield(maturity, year int) (float64, error) {
	return 0, errors.New("no data")
}

func referenceLadder(t *testing.T) Ladder {
	t.Helper()
	l, err := New([]int{2, 5, 7, 10}, []float64{6, 7, 7.5, 8}, 0.05, 0.05, 10)
	require.NoError(t, err)
	return l
}

func TestNew_ShapeErrors(t *testing.T) {
	_, err := New([]int{2, 5, 7, 10}, []float64{1, 2, 3}, 0.05, 0.05, 10)
	assert.ErrorIs(t, err, domain.ErrDataShape)

	_, err = New(nil, nil, 0.05, 0.05, 10)
	assert.ErrorIs(t, err, domain.ErrDataShape)

	_, err = New([]int{0}, []float64{1}, 0.05, 0.05, 10)
	assert.ErrorIs(t, err, domain.ErrDataShape)
}

func TestBlendedYield_FaceWeighted(t *testing.T) {
	l := referenceLadder(t)
	assert.InDelta(t, 0.2, l.TotalFace(), 1e-15)
	assert.InDelta(t, (6+7+7.5+8)/4/100, l.BlendedYield(), 1e-15)
}

func TestStep_TwoYearsMaturesFirstRungOnce(t *testing.T) {
	l := referenceLadder(t)
	curve := flatCurve{base: 5}

	l1, r1, err := l.Step(2001, curve)
	require.NoError(t, err)
	assert.Empty(t, r1.Matured)
	assert.Equal(t, []int{1, 4, 6, 9}, maturities(l1))

	l2, r2, err := l1.Step(2002, curve)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, r2.Matured)

	rungs := l2.Rungs()
	assert.Equal(t, 10, rungs[0].Maturity)
	assert.Equal(t, 0.05+0.05, rungs[0].Face)
	assert.InDelta(t, 5.2, rungs[0].Yield, 1e-12)
	assert.Equal(t, []int{10, 3, 5, 8}, maturities(l2))
	for i := 1; i < 4; i++ {
		assert.Equal(t, 0.05, rungs[i].Face)
	}
	assert.InDelta(t, 0.25, r2.TotalFace, 1e-15)

	// receivers are untouched
	assert.Equal(t, []int{2, 5, 7, 10}, maturities(l))
	assert.Equal(t, []int{1, 4, 6, 9}, maturities(l1))
}

func TestStep_BlendedYieldAfterReissue(t *testing.T) {
	l, err := New([]int{1, 3}, []float64{4, 6}, 0.05, 0.05, 10)
	require.NoError(t, err)

	_, res, err := l.Step(2000, flatCurve{base: 9})
	require.NoError(t, err)

	// rung 0 now 0.10 face at 9%, rung 1 0.05 face at 6%
	assert.InDelta(t, (0.10*9+0.05*6)/0.15/100, res.BlendedYield, 1e-15)
}

func TestStep_SeveralRungsMatureTogether(t *testing.T) {
	l, err := New([]int{1, 1, 3}, []float64{4, 4, 4}, 0.05, 0.05, 10)
	require.NoError(t, err)

	next, res, err := l.Step(2000, flatCurve{base: 5})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, res.Matured)
	assert.Equal(t, []int{10, 10, 2}, maturities(next))
	assert.InDelta(t, 0.25, res.TotalFace, 1e-15)
}

func TestStep_FullCycleFaceConservation(t *testing.T) {
	l := referenceLadder(t)
	curve := flatCurve{base: 5}

	matured := 0
	for year := 1992; year <= 2016; year++ {
		before := l.TotalFace()
		var res StepResult
		var err error
		l, res, err = l.Step(year, curve)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Matured), 1, fmt.Sprintf("year %d", year))
		assert.InDelta(t, before+float64(len(res.Matured))*0.05, res.TotalFace, 1e-12)
		matured += len(res.Matured)
	}
	// 25 steps: rungs mature at steps 2, 5, 7, 10, 12, 15, 17, 20, 22, 25
	assert.Equal(t, 10, matured)
}

func TestStep_CurveErrorKeepsReceiver(t *testing.T) {
	l, err := New([]int{1}, []float64{4}, 0.05, 0.05, 10)
	require.NoError(t, err)

	same, _, err := l.Step(2000, failingCurve{})
	require.Error(t, err)
	assert.Equal(t, []int{1}, maturities(same))
}

func TestFromCurve(t *testing.T) {
	l, err := FromCurve(flatCurve{base: 5}, 2001, []int{2, 10}, 0.05, 0.05, 10)
	require.NoError(t, err)
	for _, r := range l.Rungs() {
		assert.InDelta(t, 5.1, r.Yield, 1e-12)
	}

	_, err = FromCurve(failingCurve{}, 2001, []int{2}, 0.05, 0.05, 10)
	assert.Error(t, err)
}

func maturities(l Ladder) []int {
	out := []int{}
	for _, r := range l.Rungs() {
		out = append(out, r.Maturity)
	}
	return out
}
