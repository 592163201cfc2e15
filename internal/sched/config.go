package sched

import (
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	TickMS     int    `yaml:"tick_ms"`      // 5 (by default)
	RetryMinMS int    `yaml:"retry_min_ms"` // 1 (by default), first retry delay of a gated task
	RetryMaxMS int    `yaml:"retry_max_ms"` // 10 (by default), upper bound on the retry delay
	Executors  int    `yaml:"executors"`    // 1 (by default)
	DurationMS int    `yaml:"duration_ms"`  // 15000 (by default), 0 = until interrupted
	CSVLog     string `yaml:"csv_log"`      // per-executor event log prefix, empty = off
	ReportCSV  string `yaml:"report_csv"`   // deviation summary, empty = off
	Verbose    bool   `yaml:"verbose"`      // print every status event

	Threads    ThreadGroup `yaml:"threads"`
	TaskGroups []TaskGroup `yaml:"task_groups"`
}

// ThreadGroup describes native workers that run outside any executor.
type ThreadGroup struct {
	Count     int    `yaml:"count"`
	Millis    int64  `yaml:"millis"`
	BusyIters uint64 `yaml:"busy_iters"`
}

// TaskGroup describes Count gated tasks. Task i runs at
// BasePriority + i%Priorities and sleeps (i+1)*Millis per iteration.
type TaskGroup struct {
	Name         string `yaml:"name"`
	Count        int    `yaml:"count"`
	BasePriority int    `yaml:"base_priority"`
	Priorities   int    `yaml:"priorities"`
	Millis       int64  `yaml:"millis"`
	BusyIters    uint64 `yaml:"busy_iters"`
	Iterations   int    `yaml:"iterations"` // 0 = forever
}

// If the config file is not found, we use default values
func defaultConfig() Config {
	return Config{
		TickMS:     5,
		RetryMinMS: 1,
		RetryMaxMS: 10,
		Executors:  1,
		DurationMS: 15000,
		Threads: ThreadGroup{
			Count:     4,
			Millis:    1000,
			BusyIters: 1_000_000,
		},
		TaskGroups: []TaskGroup{
			{Name: "ASYNC_TASK_REPORT_HIGH", Count: 1, BasePriority: 0, Priorities: 1, Millis: 1000, BusyIters: 10_000},
			{Name: "ASYNC_TASK_REPORT_LOW", Count: 5, BasePriority: 1, Priorities: 3, Millis: 1000, BusyIters: 10_000},
		},
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, &cfg)

	// sanity clamps
	if cfg.TickMS <= 0 {
		cfg.TickMS = 5
	}
	if cfg.RetryMinMS <= 0 {
		cfg.RetryMinMS = 1
	}
	if cfg.RetryMaxMS < cfg.RetryMinMS {
		cfg.RetryMaxMS = cfg.RetryMinMS
	}
	if cfg.Executors <= 0 {
		cfg.Executors = 1
	}
	if cfg.DurationMS < 0 {
		cfg.DurationMS = 0
	}
	for i := range cfg.TaskGroups {
		if cfg.TaskGroups[i].Priorities <= 0 {
			cfg.TaskGroups[i].Priorities = 1
		}
	}

	return cfg
}

// Validate rejects task groups whose priorities fall outside [0, MaxPriority].
// Priorities are not clamped: the range bounds the scheduler's tables.
func (c Config) Validate() error {
	for _, g := range c.TaskGroups {
		if g.Count < 0 {
			return fmt.Errorf("task group %q: negative count %d", g.Name, g.Count)
		}
		if _, err := ParsePriority(g.BasePriority); err != nil {
			return fmt.Errorf("task group %q: base priority: %w", g.Name, err)
		}
		if _, err := ParsePriority(g.BasePriority + g.Priorities - 1); err != nil {
			return fmt.Errorf("task group %q: highest priority: %w", g.Name, err)
		}
	}
	return nil
}

// Tick returns the tick interval.
func (c Config) Tick() time.Duration { return time.Duration(c.TickMS) * time.Millisecond }

// RetryMin returns the first retry delay for a gated task.
func (c Config) RetryMin() time.Duration { return time.Duration(c.RetryMinMS) * time.Millisecond }

// RetryMax returns the upper bound on a gated task's retry delay.
func (c Config) RetryMax() time.Duration { return time.Duration(c.RetryMaxMS) * time.Millisecond }

// Duration returns how long the demo runs, 0 meaning until interrupted.
func (c Config) Duration() time.Duration { return time.Duration(c.DurationMS) * time.Millisecond }
