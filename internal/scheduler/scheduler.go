package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"CandleDesk/internal/collector"
	"CandleDesk/internal/ingest"
	"CandleDesk/internal/recorder"
	"CandleDesk/internal/resample"
)

// Ingester loads CSV exports from a directory.
type Ingester interface {
	Run(ctx context.Context, dir string) (*ingest.Summary, error)
}

// Updater brings stored daily history up to date.
type Updater interface {
	Update(ctx context.Context, symbols []string) (*collector.Report, error)
}

// Resampler rebuilds weekly history.
type Resampler interface {
	Run(ctx context.Context, symbols []string) (*resample.Result, error)
}

// SymbolLister lists the symbols with stored daily history.
type SymbolLister interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Specs holds the cron expressions (with seconds) of each job. Empty disables a job.
type Specs struct {
	Ingest   string
	Fetch    string
	Resample string
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Ingester  Ingester
	Updater   Updater
	Resampler Resampler
	Symbols   SymbolLister
	Recorder  recorder.Recorder
	CSVDir    string
	Logger    *zap.Logger
	Ctx       context.Context
	now       func() time.Time

	// one lock per job; manual runs and cron ticks of the same job never overlap
	locks map[string]*sync.Mutex
}

// NewScheduler creates a new Scheduler. A job still running when its next
// tick fires skips that tick.
func NewScheduler(ctx context.Context, in Ingester, up Updater, rs Resampler, sl SymbolLister,
	rec recorder.Recorder, csvDir string, logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		Ingester:  in,
		Updater:   up,
		Resampler: rs,
		Symbols:   sl,
		Recorder:  rec,
		CSVDir:    csvDir,
		Logger:    logger,
		Ctx:       ctx,
		now:       time.Now,
		locks:     newJobLocks(),
	}
}

func newJobLocks() map[string]*sync.Mutex {
	return map[string]*sync.Mutex{
		"ingest":   {},
		"fetch":    {},
		"resample": {},
	}
}

// RegisterAll registers the ingest, fetch and resample jobs.
func (s *Scheduler) RegisterAll(specs Specs) error {
	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"ingest", specs.Ingest, func() { s.IngestNow() }},
		{"fetch", specs.Fetch, func() { s.FetchNow() }},
		{"resample", specs.Resample, func() { s.ResampleNow() }},
	}
	for _, j := range jobs {
		if j.spec == "" {
			s.Logger.Info("job disabled", zap.String("job", j.name))
			continue
		}
		if _, err := s.Cron.AddFunc(j.spec, j.run); err != nil {
			return fmt.Errorf("register %s task: %w", j.name, err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.Logger.Info("scheduler stopped")
}

// RunNow executes ingest, fetch and resample once, in that order.
func (s *Scheduler) RunNow() error {
	if err := s.IngestNow(); err != nil {
		return err
	}
	if err := s.FetchNow(); err != nil {
		return err
	}
	return s.ResampleNow()
}

// IngestNow loads new CSV exports.
func (s *Scheduler) IngestNow() error {
	return s.run("ingest", func(ctx context.Context) (string, error) {
		sum, err := s.Ingester.Run(ctx, s.CSVDir)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("loaded=%d skipped=%d failed=%d rows=%d row_errors=%d",
			sum.FilesLoaded, sum.FilesSkipped, sum.FilesFailed, sum.Rows, len(sum.RowErrors)), nil
	})
}

// FetchNow brings every stored symbol up to date from the provider.
func (s *Scheduler) FetchNow() error {
	return s.run("fetch", func(ctx context.Context) (string, error) {
		symbols, err := s.Symbols.Symbols(ctx)
		if err != nil {
			return "", fmt.Errorf("list symbols: %w", err)
		}
		rep, err := s.Updater.Update(ctx, symbols)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("updated=%d up_to_date=%d resumed=%d errors=%d",
			len(rep.Updated), len(rep.UpToDate), len(rep.Resumed), len(rep.Errors)), nil
	})
}

// ResampleNow rebuilds weekly history for every symbol.
func (s *Scheduler) ResampleNow() error {
	return s.run("resample", func(ctx context.Context) (string, error) {
		res, err := s.Resampler.Run(ctx, nil)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("symbols=%d weeks=%d skipped=%d errors=%d",
			res.Symbols, res.Weeks, len(res.Skipped), len(res.Errors)), nil
	})
}

// run executes one job, logs its outcome and journals it. A run of a job
// already in progress waits for it. Errors are returned to manual callers;
// cron ticks ignore them.
func (s *Scheduler) run(name string, job func(ctx context.Context) (string, error)) error {
	lock := s.locks[name]
	lock.Lock()
	defer lock.Unlock()

	s.Logger.Info("running task", zap.String("job", name))
	run := &recorder.JobRun{Job: name, Started: s.now()}

	detail, err := job(s.Ctx)
	run.Finished = s.now()
	if err != nil {
		run.Status, run.Detail = recorder.StatusFailed, err.Error()
		s.Logger.Error("task failed", zap.String("job", name), zap.Duration("took", run.Duration()), zap.Error(err))
	} else {
		run.Status, run.Detail = recorder.StatusOK, detail
		s.Logger.Info("task finished", zap.String("job", name), zap.Duration("took", run.Duration()), zap.String("detail", detail))
	}

	if rerr := s.Recorder.RecordRun(run); rerr != nil {
		s.Logger.Error("record job run", zap.String("job", name), zap.Error(rerr))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
