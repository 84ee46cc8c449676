package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Params holds the administrator-editable parameters of a discount.
type Params struct {
	Name          string
	Type          Type
	Value         decimal.Decimal
	StartDate     *time.Time
	EndDate       *time.Time
	UsageLimit    *int
	BuyQuantity   *int
	GetQuantity   *int
	Priority      int
	AllowStacking bool
}

// CreateRequest holds the input for creating a discount.
type CreateRequest struct {
	ShopID       string
	Active       bool
	Params       Params
	VariationIDs []string
}

// Service runs discount mutations. Each call opens one transaction and keeps
// variation discount prices in sync before it commits.
//
// When a discount stops applying to a variation, the variation is repriced
// from its most recently updated remaining valid discount, or cleared when
// none is left. A discount that expires with time is handled by the
// reconciler, which only clears variations left with no valid discount.
type Service struct {
	runner    TxRunner
	validator *Validator
	sync      *Synchronizer
	now       func() time.Time
	newID     func() string
}

// NewService creates a Service with the required collaborators.
func NewService(runner TxRunner, validator *Validator, sync *Synchronizer) *Service {
	return &Service{
		runner:    runner,
		validator: validator,
		sync:      sync,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Get returns the discount with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Discount, error) {
	var d *Discount
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		d, err = tx.GetDiscount(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Create validates and stores a new discount, attaches the requested
// variations and synchronizes their prices.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Discount, error) {
	now := s.now()
	d := &Discount{
		ID:        s.newID(),
		ShopID:    req.ShopID,
		Active:    req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.Params.applyTo(d)
	if err := d.Validate(); err != nil {
		return nil, err
	}

	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertDiscount(ctx, d); err != nil {
			return errors.Wrap(err, "insert discount")
		}
		if ids := uniqueIDs(req.VariationIDs); len(ids) > 0 {
			if _, err := tx.AttachVariations(ctx, d.ID, ids); err != nil {
				return errors.Wrap(err, "attach variations")
			}
		}
		return s.syncPrices(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Discount created",
		zap.String("discount_id", d.ID),
		zap.String("type", string(d.Type)),
		zap.Int("variations", len(req.VariationIDs)),
	)
	return d, nil
}

// Update replaces the editable parameters of a discount and resynchronizes
// the prices of its variations.
func (s *Service) Update(ctx context.Context, id string, p Params) (*Discount, error) {
	var d *Discount
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if d, err = tx.GetDiscount(ctx, id); err != nil {
			return err
		}
		p.applyTo(d)
		d.UpdatedAt = s.now()
		if err := d.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateDiscount(ctx, d); err != nil {
			return errors.Wrap(err, "update discount")
		}
		return s.syncPrices(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SetActive switches a discount on or off and resynchronizes its variations.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	return s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.GetDiscount(ctx, id)
		if err != nil {
			return err
		}
		if d.Active == active {
			return nil
		}
		d.Active = active
		d.UpdatedAt = s.now()
		if err := tx.UpdateDiscount(ctx, d); err != nil {
			return errors.Wrap(err, "update discount")
		}
		return s.syncPrices(ctx, tx, d)
	})
}

// Delete removes a discount and clears the prices it leaves behind.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetDiscount(ctx, id); err != nil {
			return err
		}
		ids, err := tx.VariationIDs(ctx, id)
		if err != nil {
			return errors.Wrap(err, "list variations")
		}
		if err := tx.DeleteDiscount(ctx, id); err != nil {
			return errors.Wrap(err, "delete discount")
		}
		return s.sync.ResolveVariationPrices(ctx, tx, ids)
	})
}

// AttachVariations attaches the discount to variations and returns how many
// associations were created. When the discount is currently valid, only the
// given variations are repriced; the rest of the discount is untouched.
func (s *Service) AttachVariations(ctx context.Context, discountID string, variationIDs []string) (int64, error) {
	ids := uniqueIDs(variationIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	var attached int64
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.GetDiscount(ctx, discountID)
		if err != nil {
			return err
		}
		if attached, err = tx.AttachVariations(ctx, discountID, ids); err != nil {
			return errors.Wrap(err, "attach variations")
		}
		if !d.IsValidAt(s.now()) {
			return nil
		}
		return s.sync.ApplyToVariations(ctx, tx, discountID, ids)
	})
	if err != nil {
		return 0, err
	}
	return attached, nil
}

// DetachVariations detaches the discount from variations and resolves their
// prices against the discounts that still apply.
func (s *Service) DetachVariations(ctx context.Context, discountID string, variationIDs []string) (int64, error) {
	ids := uniqueIDs(variationIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	var detached int64
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if detached, err = tx.DetachVariations(ctx, discountID, ids); err != nil {
			return errors.Wrap(err, "detach variations")
		}
		return s.sync.ResolveVariationPrices(ctx, tx, ids)
	})
	if err != nil {
		return 0, err
	}
	return detached, nil
}

// CheckApplication reports whether the discount may be applied to the
// variation without consuming a use.
func (s *Service) CheckApplication(ctx context.Context, discountID, variationID, userID string) (*Discount, error) {
	var d *Discount
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		d, err = s.validator.ValidateApplication(ctx, tx, discountID, variationID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Redeem validates the discount for the variation and consumes one use in
// the same transaction.
func (s *Service) Redeem(ctx context.Context, discountID, variationID, userID string) (*Discount, error) {
	var d *Discount
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if d, err = s.validator.ValidateApplication(ctx, tx, discountID, variationID, userID); err != nil {
			return err
		}
		if err := tx.IncrementUsage(ctx, discountID); err != nil {
			return err
		}
		d.UsageCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Discount redeemed",
		zap.String("discount_id", discountID),
		zap.String("variation_id", variationID),
		zap.String("user_id", userID),
	)
	return d, nil
}

// syncPrices applies d to its variations when it is valid now. Otherwise
// their prices are resolved against the discounts that still apply.
func (s *Service) syncPrices(ctx context.Context, tx Tx, d *Discount) error {
	if d.IsValidAt(s.now()) {
		return s.sync.UpdateVariationPrices(ctx, tx, d.ID)
	}
	ids, err := tx.VariationIDs(ctx, d.ID)
	if err != nil {
		return errors.Wrap(err, "list variations")
	}
	return s.sync.ResolveVariationPrices(ctx, tx, ids)
}

func (p Params) applyTo(d *Discount) {
	d.Name = p.Name
	d.Type = p.Type
	d.Value = p.Value
	d.StartDate = p.StartDate
	d.EndDate = p.EndDate
	d.UsageLimit = p.UsageLimit
	d.BuyQuantity = p.BuyQuantity
	d.GetQuantity = p.GetQuantity
	d.Priority = p.Priority
	d.AllowStacking = p.AllowStacking
}
