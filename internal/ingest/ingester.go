package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"CandleDesk/internal/model"
	"CandleDesk/internal/store"
)

// BarStore is the part of the bar store ingestion writes to.
type BarStore interface {
	PutDaily(ctx context.Context, bars []model.DailyBar) error
	RecordFile(ctx context.Context, rec store.FileRecord) error
	FileIngested(ctx context.Context, checksum string) (bool, error)
}

// Summary reports what one ingestion run did.
type Summary struct {
	BatchID      string
	FilesSeen    int
	FilesSkipped int
	FilesLoaded  int
	FilesFailed  int
	Rows         int
	RowErrors    []RowError
	Symbols      []string // symbols touched by loaded rows, ascending
}

// Ingester loads per-day CSV exports into per-symbol daily history.
type Ingester struct {
	Store     BarStore
	Logger    *zap.Logger
	BatchSize int
	now       func() time.Time
}

// NewIngester creates an Ingester writing through s.
func NewIngester(s BarStore, logger *zap.Logger, batchSize int) *Ingester {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Ingester{Store: s, Logger: logger, BatchSize: batchSize, now: time.Now}
}

// Scan walks root and returns every .csv file below it, sorted by path.
func Scan(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Run ingests every CSV export under dir. Files whose content was ingested
// before are skipped. A file that cannot be parsed at all is logged and left
// unrecorded so a later run retries it.
func (in *Ingester) Run(ctx context.Context, dir string) (*Summary, error) {
	paths, err := Scan(dir)
	if err != nil {
		return nil, err
	}

	sum := &Summary{BatchID: uuid.NewString()}
	touched := make(map[string]struct{})
	in.Logger.Info("ingest started", zap.String("dir", dir), zap.Int("files", len(paths)), zap.String("batch", sum.BatchID))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.FilesSeen++

		checksum, err := FileChecksum(path)
		if err != nil {
			sum.FilesFailed++
			in.Logger.Error("checksum", zap.String("file", path), zap.Error(err))
			continue
		}
		done, err := in.Store.FileIngested(ctx, checksum)
		if err != nil {
			return sum, fmt.Errorf("check file %s: %w", path, err)
		}
		if done {
			sum.FilesSkipped++
			in.Logger.Debug("already ingested, skipping", zap.String("file", path))
			continue
		}

		bars, rowErrs, err := ParseFile(path)
		if err != nil {
			sum.FilesFailed++
			in.Logger.Error("parse file", zap.String("file", path), zap.Error(err))
			continue
		}
		for _, re := range rowErrs {
			in.Logger.Warn("skipping row", zap.String("file", re.File), zap.Int("line", re.Line), zap.Error(re.Err))
		}

		if err := in.put(ctx, bars); err != nil {
			return sum, fmt.Errorf("store %s: %w", path, err)
		}

		status := store.FileStatusDone
		if len(rowErrs) > 0 {
			status = store.FileStatusDoneWithErrors
		}
		if err := in.Store.RecordFile(ctx, store.FileRecord{
			Checksum:   checksum,
			BatchID:    sum.BatchID,
			Path:       path,
			Rows:       len(bars),
			RowErrors:  len(rowErrs),
			Status:     status,
			IngestedAt: in.now(),
		}); err != nil {
			return sum, fmt.Errorf("record file %s: %w", path, err)
		}

		sum.FilesLoaded++
		sum.Rows += len(bars)
		sum.RowErrors = append(sum.RowErrors, rowErrs...)
		for _, b := range bars {
			touched[b.Symbol] = struct{}{}
		}
		in.Logger.Info("file ingested",
			zap.String("file", path), zap.Int("rows", len(bars)), zap.Int("row_errors", len(rowErrs)))
	}

	for s := range touched {
		sum.Symbols = append(sum.Symbols, s)
	}
	sort.Strings(sum.Symbols)

	in.Logger.Info("ingest finished",
		zap.Int("loaded", sum.FilesLoaded),
		zap.Int("skipped", sum.FilesSkipped),
		zap.Int("failed", sum.FilesFailed),
		zap.Int("rows", sum.Rows),
		zap.Int("symbols", len(sum.Symbols)))
	return sum, nil
}

func (in *Ingester) put(ctx context.Context, bars []model.DailyBar) error {
	for start := 0; start < len(bars); start += in.BatchSize {
		end := min(start+in.BatchSize, len(bars))
		if err := in.Store.PutDaily(ctx, bars[start:end]); err != nil {
			return err
		}
	}
	return nil
}
