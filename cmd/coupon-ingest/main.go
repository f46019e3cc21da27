package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxReaders    = 4
)

// Store persists imported rules.
type Store interface {
	CreateBatch(ctx context.Context, rules []coupon.Rule) (int, error)
	Create(ctx context.Context, rule coupon.Rule) error
}

// stats are the import counters.
type stats struct {
	read       atomic.Int64
	rejected   atomic.Int64
	inserted   int64
	duplicates int64
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		batchSize   int
		expected    uint
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip-compressed coupon CSV files")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "file name pattern inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "rules inserted per round trip")
	flag.UintVar(&expected, "expected", 1_000_000, "expected number of codes, sizes the duplicate filter")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil || len(files) == 0 {
		slog.Error("no input files", slog.String("dir", dataDir), slog.String("pattern", pattern))
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		slog.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	imp := &importer{
		store:     postgres.NewCouponRepository(pool),
		batchSize: batchSize,
		filter:    bloom.NewWithEstimates(expected, bloomFPR),
	}
	if err := imp.run(ctx, files); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully",
		slog.Int64("read", imp.stats.read.Load()),
		slog.Int64("rejected", imp.stats.rejected.Load()),
		slog.Int64("inserted", imp.stats.inserted),
		slog.Int64("duplicates", imp.stats.duplicates),
	)
}

// importer reads files concurrently and writes rules from a single
// goroutine. Codes the bloom filter has definitely not seen go to the batch
// path; possible repeats are inserted one by one after the batches so the
// database decides whether they are duplicates.
type importer struct {
	store     Store
	batchSize int
	filter    *bloom.BloomFilter
	stats     stats
}

func (imp *importer) run(ctx context.Context, files []string) error {
	slog.Info("importing coupons", slog.Int("files", len(files)))

	rules := make(chan coupon.Rule, imp.batchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rules)
		readers, rctx := errgroup.WithContext(gctx)
		readers.SetLimit(maxReaders)
		for _, f := range files {
			readers.Go(func() error {
				return imp.readFile(rctx, f, rules)
			})
		}
		return readers.Wait()
	})
	g.Go(func() error {
		return imp.write(gctx, rules)
	})
	return g.Wait()
}

func (imp *importer) readFile(ctx context.Context, path string, out chan<- coupon.Rule) error {
	lg := slog.With(slog.String("file", filepath.Base(path)))

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	rr, err := newRuleReader(gz)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}

	var count int64
	for {
		rule, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var rowErr *rowError
		if errors.As(err, &rowErr) {
			imp.stats.rejected.Add(1)
			lg.Warn("rejected row", slog.Int("line", rowErr.Line), slog.String("error", rowErr.Err.Error()))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}

		select {
		case out <- rule:
		case <-ctx.Done():
			return ctx.Err()
		}
		count++
		if n := imp.stats.read.Add(1); n%progressEvery == 0 {
			slog.Info("read progress", slog.Int64("rules", n))
		}
	}

	lg.Info("file complete", slog.Int64("rules", count))
	return nil
}

func (imp *importer) write(ctx context.Context, in <-chan coupon.Rule) error {
	batch := make([]coupon.Rule, 0, imp.batchSize)
	var suspects []coupon.Rule

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := imp.store.CreateBatch(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "insert batch")
		}
		imp.stats.inserted += int64(n)
		imp.stats.duplicates += int64(len(batch) - n)
		batch = batch[:0]
		return nil
	}

	for rule := range in {
		if imp.filter.TestAndAddString(rule.Code) {
			suspects = append(suspects, rule)
			continue
		}
		batch = append(batch, rule)
		if len(batch) == imp.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if len(suspects) > 0 {
		slog.Info("inserting possible repeats", slog.Int("count", len(suspects)))
	}
	for _, rule := range suspects {
		err := imp.store.Create(ctx, rule)
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			imp.stats.duplicates++
		case err != nil:
			return errors.Wrapf(err, "insert %s", rule.Code)
		default:
			imp.stats.inserted++
		}
	}
	return nil
}
