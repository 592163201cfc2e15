package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"priosched/internal/job"
	"priosched/internal/report"
	"priosched/internal/sched"
)

func main() {
	cfgPath := flag.String("config", "config.yml", "path to the YAML configuration")
	flag.Parse()

	// Read the configuration
	cfg := sched.Load(*cfgPath)
	fmt.Printf("Loaded config: %+v\n", cfg)

	if err := run(cfg); err != nil {
		log.Printf("ERROR: %v", err)
		os.Exit(1)
	}
}

func run(cfg sched.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if d := cfg.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	state := sched.NewState()
	collector := report.NewCollector(cfg.Verbose)

	execs := make([]*sched.Executor, cfg.Executors)
	for i := range execs {
		execs[i] = sched.New(state, cfg)
		if cfg.CSVLog != "" {
			path := fmt.Sprintf("%s.%s.csv", cfg.CSVLog, execs[i].Name())
			if err := execs[i].EnableCSVLogging(path); err != nil {
				return fmt.Errorf("enable csv logging: %w", err)
			}
		}
	}

	specs, err := job.Expand(cfg.TaskGroups)
	if err != nil {
		return err
	}
	if _, err := job.SpawnAll(execs, specs, collector); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range execs {
		g.Go(func() error { return ex.Run(gctx) })
	}
	for _, spec := range job.NativeSpecs(cfg.Threads) {
		g.Go(func() error { return job.RunNative(gctx, spec, collector) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, ex := range execs {
		st := ex.Stats()
		fmt.Printf("%s: polls %d, gated %d, suspended %d, finished %d, cancelled %d\n",
			st.Name, st.Polls, st.Gated, st.Suspended, st.Finished, st.Cancelled)
	}
	if n := state.Clamps(); n > 0 {
		log.Printf("WARNING: %d active-count clamps observed", n)
	}

	collector.Print(os.Stdout)
	if cfg.ReportCSV != "" {
		f, err := os.Create(cfg.ReportCSV)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		if err := collector.WriteCSV(f); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}
