// Package reconcile keeps variation discount prices consistent with the
// passage of time. Discounts start and expire without any mutation, so a
// periodic sweep clears prices left behind by expired discounts and applies
// discounts that became valid.
package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pricing/internal/domain/discount"
)

const defaultBatchSize = 500

const (
	sweepStale   = "stale"
	sweepPending = "pending"
)

// Store lists reconcile candidates outside of any transaction.
type Store interface {
	// StaleVariationIDs returns variations ordered by id after the given id
	// that have a discount price but no discount valid at now.
	StaleVariationIDs(ctx context.Context, now time.Time, after string, limit int) ([]string, error)
	// PendingDiscountIDs returns discounts ordered by id after the given id
	// that are valid at now with at least one attached variation lacking a
	// discount price.
	PendingDiscountIDs(ctx context.Context, now time.Time, after string, limit int) ([]string, error)
}

// Synchronizer writes variation discount prices.
type Synchronizer interface {
	UpdateVariationPrices(ctx context.Context, tx discount.PricingTx, discountID string) error
	// ResetVariationPrices clears the variations left without a valid discount
	// and returns how many prices it cleared.
	ResetVariationPrices(ctx context.Context, tx discount.PricingTx, variationIDs []string) (int64, error)
}

// ReconcilerParams configure a Reconciler.
type ReconcilerParams struct {
	Store     Store
	Runner    discount.TxRunner
	Sync      Synchronizer
	Metrics   *Metrics
	BatchSize int
	Now       func() time.Time
}

// Result summarizes one reconcile run.
type Result struct {
	VariationsReset int
	DiscountsSynced int
	Failed          int
}

// Reconciler runs the stale and pending sweeps.
type Reconciler struct {
	store     Store
	runner    discount.TxRunner
	sync      Synchronizer
	metrics   *Metrics
	batchSize int
	now       func() time.Time
}

// NewReconciler builds a Reconciler.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Store == nil {
		return nil, errors.New("store required")
	}
	if params.Runner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Sync == nil {
		return nil, errors.New("synchronizer required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:     params.Store,
		runner:    params.Runner,
		sync:      params.Sync,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       now,
	}, nil
}

// Run performs one reconcile pass. Failed items are collected into the
// returned error and do not stop the pass.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs error
	)
	start := time.Now()
	now := r.now()

	if err := r.sweepStale(ctx, now, &res); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := r.sweepPending(ctx, now, &res); err != nil {
		errs = multierr.Append(errs, err)
	}

	r.metrics.observeDuration(ctx, time.Since(start), errs)
	zctx.From(ctx).Info("Reconcile run complete",
		zap.Int("variations_reset", res.VariationsReset),
		zap.Int("discounts_synced", res.DiscountsSynced),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return res, errs
}

// sweepStale clears prices of variations whose discounts are no longer
// valid, one batch per transaction.
func (r *Reconciler) sweepStale(ctx context.Context, now time.Time, res *Result) error {
	var (
		errs  error
		after string
	)
	for {
		batch, err := r.store.StaleVariationIDs(ctx, now, after, r.batchSize)
		if err != nil {
			return multierr.Append(errs, errors.Wrap(err, "list stale variations"))
		}
		if len(batch) == 0 {
			return errs
		}
		after = batch[len(batch)-1]

		var cleared int64
		err = r.runner.InTx(ctx, func(ctx context.Context, tx discount.Tx) error {
			n, err := r.sync.ResetVariationPrices(ctx, tx, batch)
			cleared = n
			return err
		})
		if err != nil {
			res.Failed += len(batch)
			r.metrics.recordFailure(ctx, sweepStale)
			errs = multierr.Append(errs, errors.Wrapf(err, "reset %d variations", len(batch)))
		} else {
			res.VariationsReset += int(cleared)
			r.metrics.recordReset(ctx, int(cleared))
		}

		if len(batch) < r.batchSize {
			return errs
		}
	}
}

// sweepPending applies discounts that became valid, one discount per
// transaction.
func (r *Reconciler) sweepPending(ctx context.Context, now time.Time, res *Result) error {
	var (
		errs  error
		after string
	)
	for {
		batch, err := r.store.PendingDiscountIDs(ctx, now, after, r.batchSize)
		if err != nil {
			return multierr.Append(errs, errors.Wrap(err, "list pending discounts"))
		}
		if len(batch) == 0 {
			return errs
		}
		after = batch[len(batch)-1]

		synced := 0
		for _, id := range batch {
			err := r.runner.InTx(ctx, func(ctx context.Context, tx discount.Tx) error {
				return r.sync.UpdateVariationPrices(ctx, tx, id)
			})
			if err != nil {
				res.Failed++
				r.metrics.recordFailure(ctx, sweepPending)
				errs = multierr.Append(errs, errors.Wrapf(err, "sync discount %s", id))
				continue
			}
			synced++
		}
		res.DiscountsSynced += synced
		r.metrics.recordSynced(ctx, synced)

		if len(batch) < r.batchSize {
			return errs
		}
	}
}
