package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priosched/internal/job"
)

func iteration(kind string, expected, actual, full time.Duration) job.Iteration {
	return job.Iteration{Kind: kind, ID: 1, Expected: expected, Actual: actual, Full: full}
}

func TestCollector_Summary(t *testing.T) {
	t.Parallel()

	c := NewCollector(false)
	c.Report(iteration("HIGH", 100, 110, 130))
	c.Report(iteration("HIGH", 100, 120, 150))
	c.Report(iteration("HIGH", 100, 130, 100))
	c.Report(iteration("LOW", 50, 70, 50))

	rows := c.Summary()
	require.Len(t, rows, 4)

	assert.Equal(t, Row{Kind: "HIGH", Metric: MetricActual, Count: 3, Mean: 20, StdDev: 10, Min: 10, Max: 30}, rows[0])
	assert.Equal(t, "HIGH", rows[1].Kind)
	assert.Equal(t, MetricFull, rows[1].Metric)
	assert.Equal(t, time.Duration(0), rows[1].Min)
	assert.Equal(t, time.Duration(50), rows[1].Max)
	assert.Equal(t, time.Duration(27), rows[1].Mean)

	assert.Equal(t, Row{Kind: "LOW", Metric: MetricActual, Count: 1, Mean: 20, Min: 20, Max: 20}, rows[2])
}

func TestCollector_Output(t *testing.T) {
	t.Parallel()

	c := NewCollector(false)
	var buf bytes.Buffer
	c.Print(&buf)
	assert.Equal(t, "No data to display.\n", buf.String())

	c.Report(iteration("NATIVE_THREAD", 1000, 1500, 1700))

	buf.Reset()
	c.Print(&buf)
	assert.Contains(t, buf.String(), "--- NATIVE_THREAD ---")
	assert.Contains(t, buf.String(), "Mean Absolute Deviation: 500 ns")
	assert.Contains(t, buf.String(), "Std Dev: N/A")

	buf.Reset()
	require.NoError(t, c.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "log_type,metric_name,count,mean_absolute_deviation,std_deviation,min_deviation,max_deviation", lines[0])
	assert.Equal(t, "NATIVE_THREAD,actual_ns,1,500,0,500,500", lines[1])
	assert.Equal(t, "NATIVE_THREAD,full_ns,1,700,0,700,700", lines[2])
}
