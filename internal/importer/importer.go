// Package importer bulk-attaches discounts to variations from gzip-compressed
// JSON-lines files.
package importer

import (
	"context"
	"slices"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBloomCapacity = 1_000_000
	defaultBloomFPR      = 0.001
	defaultChunkSize     = 1_000
	defaultWorkers       = 4
	progressEvery        = 100_000
)

// Catalog enumerates the known variation ids.
type Catalog interface {
	EachVariationID(ctx context.Context, fn func(id string) error) error
}

// Attacher attaches a discount to variations in one transaction and keeps
// their prices in sync.
type Attacher interface {
	AttachVariations(ctx context.Context, discountID string, variationIDs []string) (int64, error)
}

// Config tunes an Importer. Zero values select defaults.
type Config struct {
	// BloomCapacity is the expected catalog size.
	BloomCapacity uint
	// BloomFPR is the accepted false positive rate of the catalog filter.
	BloomFPR float64
	// ChunkSize caps the variations attached per transaction.
	ChunkSize int
	// Workers caps concurrent attach transactions.
	Workers int
}

// Stats summarizes an import.
type Stats struct {
	Lines     int64
	Malformed int64
	// Filtered counts pairs whose variation is not in the catalog.
	Filtered int64
	Attached int64
	// FailedChunks counts attach transactions that rolled back.
	FailedChunks int
}

// Importer reads pair files and attaches discounts.
type Importer struct {
	catalog  Catalog
	attacher Attacher
	cfg      Config
}

// New creates an Importer.
func New(catalog Catalog, attacher Attacher, cfg Config) *Importer {
	if cfg.BloomCapacity == 0 {
		cfg.BloomCapacity = defaultBloomCapacity
	}
	if cfg.BloomFPR <= 0 {
		cfg.BloomFPR = defaultBloomFPR
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Importer{catalog: catalog, attacher: attacher, cfg: cfg}
}

// Import loads every file, drops pairs for unknown variations and attaches
// the rest grouped by discount. A failed chunk does not stop the import; all
// failures are returned together.
func (im *Importer) Import(ctx context.Context, files []string) (Stats, error) {
	lg := zctx.From(ctx)

	filter, err := im.buildFilter(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "build catalog filter")
	}

	groups, stats, err := im.readFiles(ctx, files, filter)
	if err != nil {
		return stats, errors.Wrap(err, "read files")
	}
	lg.Info("Pairs loaded",
		zap.Int64("lines", stats.Lines),
		zap.Int64("malformed", stats.Malformed),
		zap.Int64("filtered", stats.Filtered),
		zap.Int("discounts", len(groups)),
	)

	attached, failed, err := im.attach(ctx, groups)
	stats.Attached = attached
	stats.FailedChunks = failed
	return stats, err
}

// buildFilter loads the catalog variation ids into a bloom filter.
func (im *Importer) buildFilter(ctx context.Context) (*bloom.BloomFilter, error) {
	filter := bloom.NewWithEstimates(im.cfg.BloomCapacity, im.cfg.BloomFPR)
	var count int
	if err := im.catalog.EachVariationID(ctx, func(id string) error {
		filter.AddString(id)
		count++
		return nil
	}); err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Catalog filter built", zap.Int("variations", count))
	return filter, nil
}

// readFiles streams the files concurrently and groups pairs by discount.
func (im *Importer) readFiles(ctx context.Context, files []string, filter *bloom.BloomFilter) (map[string][]string, Stats, error) {
	type fileResult struct {
		groups map[string][]string
		stats  Stats
	}
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			res := fileResult{groups: make(map[string][]string)}
			err := streamGzFile(gctx, path, func(line []byte) {
				res.stats.Lines++
				if res.stats.Lines%progressEvery == 0 {
					zctx.From(gctx).Info("Read progress",
						zap.String("file", path),
						zap.Int64("lines", res.stats.Lines),
					)
				}

				p, err := decodePair(line)
				if err != nil {
					res.stats.Malformed++
					return
				}
				if !filter.TestString(p.VariationID) {
					res.stats.Filtered++
					return
				}
				res.groups[p.DiscountID] = append(res.groups[p.DiscountID], p.VariationID)
			})
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	merged := make(map[string][]string)
	var stats Stats
	for _, r := range results {
		for id, vs := range r.groups {
			merged[id] = append(merged[id], vs...)
		}
		stats.Lines += r.stats.Lines
		stats.Malformed += r.stats.Malformed
		stats.Filtered += r.stats.Filtered
	}
	return merged, stats, nil
}

// attach runs one transaction per discount chunk with bounded concurrency.
func (im *Importer) attach(ctx context.Context, groups map[string][]string) (int64, int, error) {
	discountIDs := make([]string, 0, len(groups))
	for id := range groups {
		discountIDs = append(discountIDs, id)
	}
	slices.Sort(discountIDs)

	var (
		mu       sync.Mutex
		attached int64
		failed   int
		errs     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Workers)
	for _, discountID := range discountIDs {
		variationIDs := groups[discountID]
		for chunk := range slices.Chunk(variationIDs, im.cfg.ChunkSize) {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := im.attacher.AttachVariations(gctx, discountID, chunk)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					errs = multierr.Append(errs, errors.Wrapf(err, "attach %d variations to discount %s", len(chunk), discountID))
					zctx.From(gctx).Warn("Attach failed",
						zap.String("discount_id", discountID),
						zap.Int("variations", len(chunk)),
						zap.Error(err),
					)
					return nil
				}
				attached += n
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return attached, failed, errs
}
