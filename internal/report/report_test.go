package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/aristath/bondladder/internal/modules/backtest"
	"github.com/aristath/bondladder/internal/modules/optimization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleResult() *backtest.Result {
	wealth := []float64{1.1, 1.21, 1.089, 1.2}
	years := make([]backtest.YearResult, len(wealth))
	for i, w := range wealth {
		years[i] = backtest.YearResult{
			Year:           1991 + i,
			RealizedReturn: w,
			Benchmark:      1 + 0.1*float64(i+1),
			Floor:          0.95,
			BondFace:       0.2,
			BondYield:      0.05,
			Allocation:     &optimization.Allocation{Year: 1991 + i, Weights: []float64{0.8, 0.2}, Holdings: 1, FloorBound: i == 2},
		}
	}
	years[2].Matured = []int{0}
	return &backtest.Result{
		Symbols:      []string{"IBM"},
		Years:        years,
		Realized:     wealth,
		FinalWeights: []float64{0.8, 0.2},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{" JSON ", FormatJSON, false},
		{"msgpack", FormatMsgpack, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_GrowthAndSummary(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Build("run-1", sampleResult(), now)

	require.Len(t, r.Rows, 4)
	assert.InDelta(t, 1.1, r.Rows[0].Growth, 1e-12)
	assert.InDelta(t, 1.1, r.Rows[1].Growth, 1e-12)
	assert.InDelta(t, 0.9, r.Rows[2].Growth, 1e-12)

	assert.Nil(t, r.Rows[0].Trailing)
	assert.Nil(t, r.Rows[1].Trailing)
	require.NotNil(t, r.Rows[2].Trailing)
	assert.InDelta(t, (1.1+1.1+0.9)/3, *r.Rows[2].Trailing, 1e-12)
	require.NotNil(t, r.Rows[3].Trailing)
	assert.InDelta(t, (1.1+0.9+1.2/1.089)/3, *r.Rows[3].Trailing, 1e-12)

	assert.Equal(t, 4, r.Summary.Years)
	assert.Equal(t, 1.2, r.Summary.FinalWealth)
	assert.InDelta(t, 1.4, r.Summary.FinalBenchmark, 1e-12)
	assert.Equal(t, 1, r.Summary.FloorBindings)
	assert.Greater(t, r.Summary.StdGrowth, 0.0)
	assert.Equal(t, now, r.GeneratedAt)
}

func TestBuild_SingleYear(t *testing.T) {
	result := sampleResult()
	result.Years = result.Years[:1]

	r := Build("run-2", result, time.Now())
	assert.Equal(t, 0.0, r.Summary.StdGrowth)
	assert.InDelta(t, 1.1, r.Summary.MeanGrowth, 1e-12)
	assert.Nil(t, r.Rows[0].Trailing)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build("run-3", sampleResult(), time.Now()).Write(&buf, FormatTable))

	out := buf.String()
	assert.Contains(t, out, "run-3")
	assert.Contains(t, out, "1994")
	assert.Contains(t, out, "1.2000")
	assert.Contains(t, out, "rung 0")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build("run-4", sampleResult(), time.Now()).Write(&buf, FormatJSON))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-4", decoded["run_id"])
	rows := decoded["rows"].([]interface{})
	assert.Len(t, rows, 4)
	_, hasTrailing := rows[0].(map[string]interface{})["trailing_growth"]
	assert.False(t, hasTrailing)
}

func TestWriteMsgpack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build("run-5", sampleResult(), time.Now()).Write(&buf, FormatMsgpack))

	var decoded Report
	require.NoError(t, msgpack.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-5", decoded.RunID)
	assert.Len(t, decoded.Rows, 4)
	assert.Equal(t, []float64{0.8, 0.2}, decoded.FinalWeights)
}

func TestWrite_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Build("run-6", sampleResult(), time.Now()).Write(&buf, Format("xml")))
}
