// Package report aggregates how far work-loop rounds drift from the sleep
// they asked for, per task kind.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"priosched/internal/job"
)

// Metric names used in Row.Metric.
const (
	MetricActual = "actual_ns"
	MetricFull   = "full_ns"
)

// Collector records absolute deviations from the expected period. It is safe
// for concurrent use by executors and native workers.
type Collector struct {
	mu      sync.Mutex
	devs    map[string]map[string][]time.Duration // kind -> metric -> deviations
	verbose bool
}

// NewCollector returns an empty Collector. With verbose set every iteration
// is also logged.
func NewCollector(verbose bool) *Collector {
	return &Collector{
		devs:    make(map[string]map[string][]time.Duration),
		verbose: verbose,
	}
}

// Report implements job.Reporter.
func (c *Collector) Report(it job.Iteration) {
	if c.verbose {
		log.Printf("%s %d: Iteration %d, busy %d/ns, expected %d/ns, actual %d/ns, full %d/ns",
			it.Kind, it.ID, it.N, it.Busy.Nanoseconds(), it.Expected.Nanoseconds(),
			it.Actual.Nanoseconds(), it.Full.Nanoseconds())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.devs[it.Kind]
	if !ok {
		m = make(map[string][]time.Duration)
		c.devs[it.Kind] = m
	}
	m[MetricActual] = append(m[MetricActual], absDiff(it.Actual, it.Expected))
	m[MetricFull] = append(m[MetricFull], absDiff(it.Full, it.Expected))
}

// Row summarizes the deviations of one metric for one task kind.
type Row struct {
	Kind   string
	Metric string
	Count  int
	Mean   time.Duration // mean absolute deviation
	StdDev time.Duration // zero with fewer than two samples
	Min    time.Duration
	Max    time.Duration
}

// Summary returns one Row per kind and metric, sorted by kind then metric.
func (c *Collector) Summary() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rows []Row
	for kind, metrics := range c.devs {
		for metric, devs := range metrics {
			if len(devs) == 0 {
				continue
			}
			rows = append(rows, summarize(kind, metric, devs))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].Metric < rows[j].Metric
	})
	return rows
}

func summarize(kind, metric string, devs []time.Duration) Row {
	r := Row{Kind: kind, Metric: metric, Count: len(devs), Min: devs[0], Max: devs[0]}

	var sum float64
	for _, d := range devs {
		sum += float64(d)
		r.Min = min(r.Min, d)
		r.Max = max(r.Max, d)
	}
	mean := sum / float64(len(devs))
	r.Mean = time.Duration(math.Round(mean))

	// sample standard deviation
	if len(devs) > 1 {
		var sq float64
		for _, d := range devs {
			sq += (float64(d) - mean) * (float64(d) - mean)
		}
		r.StdDev = time.Duration(math.Round(math.Sqrt(sq / float64(len(devs)-1))))
	}
	return r
}

// WriteCSV writes the summary with a header row.
func (c *Collector) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"log_type", "metric_name", "count", "mean_absolute_deviation", "std_deviation", "min_deviation", "max_deviation"})
	for _, r := range c.Summary() {
		cw.Write([]string{
			r.Kind,
			r.Metric,
			strconv.Itoa(r.Count),
			strconv.FormatInt(r.Mean.Nanoseconds(), 10),
			strconv.FormatInt(r.StdDev.Nanoseconds(), 10),
			strconv.FormatInt(r.Min.Nanoseconds(), 10),
			strconv.FormatInt(r.Max.Nanoseconds(), 10),
		})
	}
	cw.Flush()
	return cw.Error()
}

// Print writes a human-readable summary.
func (c *Collector) Print(w io.Writer) {
	rows := c.Summary()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No data to display.")
		return
	}
	for _, r := range rows {
		fmt.Fprintf(w, "--- %s ---\n", r.Kind)
		fmt.Fprintf(w, "  Metric: %s\n", r.Metric)
		fmt.Fprintf(w, "    Count: %d\n", r.Count)
		fmt.Fprintf(w, "    Mean Absolute Deviation: %d ns\n", r.Mean.Nanoseconds())
		if r.Count > 1 {
			fmt.Fprintf(w, "    Std Dev: %d ns\n", r.StdDev.Nanoseconds())
		} else {
			fmt.Fprintln(w, "    Std Dev: N/A")
		}
		fmt.Fprintf(w, "    Min: %d ns\n", r.Min.Nanoseconds())
		fmt.Fprintf(w, "    Max: %d ns\n", r.Max.Nanoseconds())
		fmt.Fprintln(w)
	}
}

func absDiff(a, b time.Duration) time.Duration {
	if a > b {
		return a - b
	}
	return b - a
}
