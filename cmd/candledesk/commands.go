package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/subcommands"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"CandleDesk/internal/collector"
	"CandleDesk/internal/export"
	"CandleDesk/internal/ingest"
	"CandleDesk/internal/lookup"
	"CandleDesk/internal/model"
	"CandleDesk/internal/recorder"
	"CandleDesk/internal/report"
	"CandleDesk/internal/resample"
	"CandleDesk/internal/scheduler"
)

func ensureParentDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(dsn), 0755)
}

func newFetcher(a *app) collector.Fetcher {
	f := a.cfg.Fetch
	var base collector.Fetcher
	switch f.Provider {
	case "yahoo":
		base = collector.NewYahooFetcher(a.cfg.Proxy)
	case "mock":
		base = &collector.MockFetcher{}
	default:
		base = collector.NewHTTPFetcher(f.BaseURL, f.APIKey, f.Adjust, a.cfg.Proxy, a.logger)
	}
	return collector.NewRetrying(base, f.RetryBackoff, f.MaxAttempts, a.logger)
}

func newCollector(a *app) *collector.Collector {
	return collector.NewCollector(newFetcher(a), a.store, collector.Options{
		StartDate:    a.cfg.StartDate(),
		Pause:        a.cfg.Fetch.Pause,
		ProgressFile: a.cfg.Fetch.ProgressFile,
	}, a.logger)
}

func newRecorder(a *app) (recorder.Recorder, error) {
	path := a.cfg.Schedule.HistoryDB
	if path == "-" {
		return recorder.NewNoopRecorder(), nil
	}
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	return recorder.NewSQLiteRecorder(path, a.logger)
}

// resolve turns a name or symbol into a stock identity.
func resolve(ctx context.Context, a *app, query string) (lookup.Entry, error) {
	l, err := lookup.Load(ctx, a.store)
	if err != nil {
		return lookup.Entry{}, err
	}
	e, ok := l.Resolve(query)
	if !ok {
		return lookup.Entry{}, fmt.Errorf("no stock matches %q (%d known)", query, l.Len())
	}
	return e, nil
}

// weeklyFor returns stored weekly bars, resampling daily history on the fly
// when the weekly history has not been built yet.
func weeklyFor(ctx context.Context, a *app, symbol string) ([]model.WeeklyBar, error) {
	weekly, err := a.store.Weekly(ctx, symbol)
	if err != nil || len(weekly) > 0 {
		return weekly, err
	}
	daily, err := a.store.Daily(ctx, symbol)
	if err != nil || len(daily) == 0 {
		return nil, err
	}
	return resample.Weekly(daily)
}

// ingest

type ingestCmd struct{}

func (*ingestCmd) Name() string     { return "ingest" }
func (*ingestCmd) Synopsis() string { return "load per-day CSV exports into the bar store" }
func (*ingestCmd) Usage() string {
	return "ingest [dir]:\n  Load every CSV export under dir (default ingest.csv_dir). Files already loaded are skipped.\n"
}
func (*ingestCmd) SetFlags(*flag.FlagSet) {}

func (*ingestCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		dir := a.cfg.Ingest.CSVDir
		if f.NArg() > 0 {
			dir = f.Arg(0)
		}
		sum, err := ingest.NewIngester(a.store, a.logger, a.cfg.Ingest.BatchSize).Run(ctx, dir)
		if err != nil {
			return err
		}
		fmt.Printf("batch %s: %d files loaded, %d skipped, %d failed, %d rows, %d row errors, %d symbols\n",
			sum.BatchID, sum.FilesLoaded, sum.FilesSkipped, sum.FilesFailed, sum.Rows, len(sum.RowErrors), len(sum.Symbols))
		return nil
	})
}

// fetch

type fetchCmd struct{}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "bring daily history up to date from the market-data provider" }
func (*fetchCmd) Usage() string {
	return "fetch [symbol...]:\n  Fetch bars after the latest stored date. No symbols means every stored symbol.\n"
}
func (*fetchCmd) SetFlags(*flag.FlagSet) {}

func (*fetchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		symbols := f.Args()
		if len(symbols) == 0 {
			all, err := a.store.Symbols(ctx)
			if err != nil {
				return err
			}
			symbols = all
		}
		rep, err := newCollector(a).Update(ctx, symbols)
		if err != nil {
			return err
		}
		fmt.Printf("%d updated, %d up to date, %d resumed, %d failed\n",
			len(rep.Updated), len(rep.UpToDate), len(rep.Resumed), len(rep.Errors))
		failed := make([]string, 0, len(rep.Errors))
		for s := range rep.Errors {
			failed = append(failed, s)
		}
		sort.Strings(failed)
		for _, s := range failed {
			fmt.Printf("  %s: %v\n", s, rep.Errors[s])
		}
		return nil
	})
}

// resample

type resampleCmd struct{}

func (*resampleCmd) Name() string     { return "resample" }
func (*resampleCmd) Synopsis() string { return "rebuild weekly bars from daily history" }
func (*resampleCmd) Usage() string {
	return "resample [symbol...]:\n  Recompute weekly history. No symbols means every stored symbol.\n"
}
func (*resampleCmd) SetFlags(*flag.FlagSet) {}

func (*resampleCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		symbols := make([]string, 0, f.NArg())
		for _, s := range f.Args() {
			symbols = append(symbols, model.NormalizeSymbol(s))
		}
		res, err := resample.NewRunner(a.store, a.logger).Run(ctx, symbols)
		if err != nil {
			return err
		}
		fmt.Printf("%d symbols resampled, %d weeks written, %d empty, %d failed\n",
			res.Symbols, res.Weeks, len(res.Skipped), len(res.Errors))
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d symbols failed to resample", len(res.Errors))
		}
		return nil
	})
}

// show

type showCmd struct {
	weeks int
	color string
}

func (*showCmd) Name() string     { return "show" }
func (*showCmd) Synopsis() string { return "print a weekly candlestick table for a stock" }
func (*showCmd) Usage() string {
	return "show [-weeks n] [-color auto|always|never] <name or symbol>:\n  Resolve the stock and print its recent weekly bars.\n"
}

func (c *showCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.weeks, "weeks", 0, "weeks to show (default report.weeks)")
	f.StringVar(&c.color, "color", "auto", "colour candle markers: auto, always or never")
}

func (c *showCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(ctx context.Context, a *app) error {
		e, err := resolve(ctx, a, f.Arg(0))
		if err != nil {
			return err
		}
		weekly, err := weeklyFor(ctx, a, e.Symbol)
		if err != nil {
			return err
		}
		weeks := c.weeks
		if weeks == 0 {
			weeks = a.cfg.Report.Weeks
		}
		color := c.color == "always" || (c.color == "auto" && isatty.IsTerminal(os.Stdout.Fd()))
		return report.Write(os.Stdout, e, weekly, report.Options{Weeks: weeks, Color: color})
	})
}

// export

type exportCmd struct {
	format   string
	freq     string
	dir      string
	compress bool
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write a stock's bars to CSV, JSON or Parquet" }
func (*exportCmd) Usage() string {
	return "export [-format csv|json|parquet] [-freq weekly|daily] [-dir d] [-gzip] <name or symbol>:\n  Write {dir}/{symbol}_{freq}.{ext}.\n"
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "format", "", "file format (default export.format)")
	f.StringVar(&c.freq, "freq", "weekly", "weekly or daily")
	f.StringVar(&c.dir, "dir", "", "output directory (default export.dir)")
	f.BoolVar(&c.compress, "gzip", false, "gzip text formats (default export.compress)")
}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(ctx context.Context, a *app) error {
		format := c.format
		if format == "" {
			format = a.cfg.Export.Format
		}
		saver := export.NewSaver(format)
		if saver == nil {
			return fmt.Errorf("unsupported export format %q (use csv, json or parquet)", format)
		}
		dir := c.dir
		if dir == "" {
			dir = a.cfg.Export.Dir
		}

		e, err := resolve(ctx, a, f.Arg(0))
		if err != nil {
			return err
		}

		var rows []export.Row
		switch c.freq {
		case "weekly":
			weekly, err := weeklyFor(ctx, a, e.Symbol)
			if err != nil {
				return err
			}
			rows = export.FromWeekly(weekly)
		case "daily":
			daily, err := a.store.Daily(ctx, e.Symbol)
			if err != nil {
				return err
			}
			rows = export.FromDaily(daily)
		default:
			return fmt.Errorf("unsupported frequency %q (use weekly or daily)", c.freq)
		}
		if len(rows) == 0 {
			return fmt.Errorf("no %s data for %s", c.freq, e.Symbol)
		}

		path, err := export.Save(dir, e.Symbol, c.freq, rows, saver, c.compress || a.cfg.Export.Compress)
		if err != nil {
			return err
		}
		a.logger.Info("exported", zap.String("symbol", e.Symbol), zap.String("path", path), zap.Int("rows", len(rows)))
		fmt.Println(path)
		return nil
	})
}

// schedule

type scheduleCmd struct {
	runOnStart bool
}

func (*scheduleCmd) Name() string     { return "schedule" }
func (*scheduleCmd) Synopsis() string { return "run ingest, fetch and resample on their cron schedules" }
func (*scheduleCmd) Usage() string {
	return "schedule [-run-on-start]:\n  Run until interrupted.\n"
}

func (c *scheduleCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.runOnStart, "run-on-start", os.Getenv("RUN_ON_START") == "true", "run every job once at startup")
}

func (c *scheduleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		rec, err := newRecorder(a)
		if err != nil {
			return err
		}
		defer rec.Close()

		sched := scheduler.NewScheduler(ctx,
			ingest.NewIngester(a.store, a.logger, a.cfg.Ingest.BatchSize),
			newCollector(a),
			resample.NewRunner(a.store, a.logger),
			a.store, rec, a.cfg.Ingest.CSVDir, a.logger)
		if err := sched.RegisterAll(scheduler.Specs{
			Ingest:   a.cfg.Schedule.IngestCron,
			Fetch:    a.cfg.Schedule.FetchCron,
			Resample: a.cfg.Schedule.ResampleCron,
		}); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		var startup sync.WaitGroup
		defer startup.Wait()
		if c.runOnStart {
			a.logger.Info("run-on-start enabled, executing all jobs now")
			startup.Add(1)
			go func() {
				defer startup.Done()
				if err := sched.RunNow(); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Warn("startup run incomplete", zap.Error(err))
				}
			}()
		}

		a.logger.Info("CandleDesk is running, press Ctrl+C to stop")
		<-ctx.Done()
		a.logger.Info("shutdown signal received, stopping")
		return nil
	})
}

// history

type historyCmd struct {
	limit int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list recent scheduled job runs" }
func (*historyCmd) Usage() string    { return "history [-n 20]:\n  Print the job journal, newest first.\n" }

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 20, "number of runs")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		rec, err := newRecorder(a)
		if err != nil {
			return err
		}
		defer rec.Close()

		runs, err := rec.RecentRuns(c.limit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%s  %-8s %-6s %8s  %s\n",
				r.Started.Format("2006-01-02 15:04:05"), r.Job, r.Status, r.Duration().Round(time.Millisecond), r.Detail)
		}
		return nil
	})
}
