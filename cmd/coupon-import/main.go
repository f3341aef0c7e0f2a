// Command coupon-import loads coupon definitions of one cafe from
// gzip-compressed CSV files.
//
// Codes defined in more than one file are ambiguous and skipped. They are
// found in two passes: the first builds a bloom filter per file, the second
// collects codes hit by another file's filter and confirms them exactly.
// The third pass upserts the remaining rows.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"math/bits"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
	"github.com/xenking/cafe-orders/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxFiles      = 64
)

func main() {
	var (
		databaseURL string
		cafeID      string
		capacity    uint
		strict      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cafeID, "cafe", "", "Cafe the coupons belong to")
	flag.UintVar(&capacity, "capacity", 1_000_000, "Expected number of codes per file")
	flag.BoolVar(&strict, "strict", false, "Fail on the first invalid row")
	flag.Parse()

	lg := zap.Must(zap.NewProduction())
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if cafeID == "" {
		lg.Fatal("Cafe is required: set --cafe")
	}
	files := flag.Args()
	if len(files) == 0 || len(files) > maxFiles {
		lg.Fatal("Expected 1 to 64 coupon files", zap.Int("files", len(files)))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		lg.Fatal("Connect to database", zap.Error(err))
	}
	defer pool.Close()

	imp := &importer{
		cafeID:   cafeID,
		capacity: capacity,
		strict:   strict,
		store:    postgres.NewCouponRepository(pool),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now(),
		lg:       lg,
	}
	st, err := imp.Run(ctx, files)
	if err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
	lg.Info("Coupon import completed",
		zap.Int64("imported", st.Imported),
		zap.Int64("invalid", st.Invalid),
		zap.Int64("ambiguous", st.Ambiguous),
		zap.Int("ambiguous_codes", st.AmbiguousCodes),
	)
}

type couponStore interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

type importer struct {
	cafeID   string
	capacity uint
	strict   bool
	store    couponStore
	validate *validator.Validate
	now      time.Time
	lg       *zap.Logger
}

// stats of a finished import.
type stats struct {
	Imported       int64
	Invalid        int64
	Ambiguous      int64
	AmbiguousCodes int
}

// Run imports files and returns the counters.
func (imp *importer) Run(ctx context.Context, files []string) (stats, error) {
	var st stats

	ambiguous := map[string]struct{}{}
	if len(files) > 1 {
		imp.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
		filters, err := imp.buildFilters(ctx, files)
		if err != nil {
			return st, errors.Wrap(err, "build bloom filters")
		}

		imp.lg.Info("Pass 2: finding codes defined in several files")
		if ambiguous, err = imp.findAmbiguous(ctx, files, filters); err != nil {
			return st, errors.Wrap(err, "find ambiguous codes")
		}
		st.AmbiguousCodes = len(ambiguous)
		if len(ambiguous) > 0 {
			imp.lg.Warn("Skipping codes defined in several files", zap.Int("codes", len(ambiguous)))
		}
	}

	imp.lg.Info("Importing coupons", zap.String("cafe_id", imp.cafeID))
	var imported, invalid, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return imp.importFile(gctx, path, ambiguous, &imported, &invalid, &skipped)
		})
	}
	err := g.Wait()
	st.Imported = imported.Load()
	st.Invalid = invalid.Load()
	st.Ambiguous = skipped.Load()
	return st, err
}

func (imp *importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(imp.capacity, bloomFPR)
			var count uint64
			if err := streamCodes(ctx, path, func(code string) {
				filter.AddString(code)
				count++
			}); err != nil {
				return errors.Wrapf(err, "file %s", path)
			}
			imp.lg.Info("Pass 1 complete", zap.String("file", path), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findAmbiguous re-streams each file, keeping codes that another file's
// filter may contain, then confirms them by the set of files they came from.
func (imp *importer) findAmbiguous(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	candidates := make([]map[string]uint64, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := map[string]uint64{}
			fileBit := uint64(1) << uint(i)
			if err := streamCodes(ctx, path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						found[code] |= fileBit
						return
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "file %s", path)
			}
			candidates[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := map[string]uint64{}
	for _, found := range candidates {
		for code, mask := range found {
			merged[code] |= mask
		}
	}
	out := map[string]struct{}{}
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= 2 {
			out[code] = struct{}{}
		}
	}
	return out, nil
}

func (imp *importer) importFile(
	ctx context.Context,
	path string,
	ambiguous map[string]struct{},
	imported, invalid, skipped *atomic.Int64,
) error {
	return withGzip(path, func(r io.Reader) error {
		rows, err := newRowReader(r, imp.cafeID, imp.validate, imp.now)
		if err != nil {
			return errors.Wrapf(err, "file %s", path)
		}
		lg := imp.lg.With(zap.String("file", path))
		var n int64
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := rows.Next()
			if errors.Is(err, io.EOF) {
				lg.Info("File imported", zap.Int64("rows", n))
				return nil
			}
			n++
			if err != nil {
				var rerr *rowError
				if !errors.As(err, &rerr) || imp.strict {
					return errors.Wrapf(err, "file %s", path)
				}
				invalid.Add(1)
				lg.Warn("Skipping invalid row", zap.Error(err))
				continue
			}
			if _, ok := ambiguous[c.Code]; ok {
				skipped.Add(1)
				continue
			}
			if err := imp.store.Upsert(ctx, c); err != nil {
				return errors.Wrapf(err, "file %s", path)
			}
			if imported.Add(1)%progressEvery == 0 {
				lg.Info("Import progress", zap.Int64("imported", imported.Load()))
			}
		}
	})
}

// streamCodes calls fn with the normalized code of every row of a file.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	return withGzip(path, func(r io.Reader) error {
		cr := csv.NewReader(r)
		cr.ReuseRecord = true
		cr.FieldsPerRecord = -1

		header, err := cr.Read()
		if err != nil {
			return errors.Wrap(err, "read header")
		}
		idx := -1
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), colCode) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.Errorf("missing column %q", colCode)
		}

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			fields, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				// Reported by the import pass.
				continue
			}
			if err != nil {
				return errors.Wrap(err, "read row")
			}
			if idx < len(fields) {
				if code := coupon.NormalizeCode(fields[idx]); code != "" {
					fn(code)
				}
			}
		}
	})
}

func withGzip(path string, fn func(r io.Reader) error) error {
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

	return fn(gz)
}
