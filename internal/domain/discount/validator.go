package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// MissingError reports a discount that does not exist when it is validated.
// It matches both ErrNotActive and ErrNotFound.
type MissingError struct {
	ID string
}

func (e *MissingError) Error() string {
	return "discount " + e.ID + ": " + ErrNotActive.Error() + ": " + ErrNotFound.Error()
}

// Is reports whether target is ErrNotActive or ErrNotFound.
func (e *MissingError) Is(target error) bool {
	return target == ErrNotActive || target == ErrNotFound
}

// Validator decides whether a discount may be applied to a variation.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a Validator that uses the wall clock.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// ValidateApplication checks, in order, that the discount is active, has
// started, has not expired, has uses left and is attached to the variation.
// The first failing check determines the returned error. It never modifies
// state; consuming a use is the caller's job.
//
// userID identifies the actor for the caller's audit trail; no per-user
// eligibility rule exists.
func (v *Validator) ValidateApplication(ctx context.Context, tx PricingTx, discountID, variationID, userID string) (*Discount, error) {
	d, err := tx.GetDiscount(ctx, discountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &MissingError{ID: discountID}
		}
		return nil, err
	}
	if !d.Active {
		return nil, ErrNotActive
	}

	now := v.now()
	if !d.Started(now) {
		return nil, ErrNotStarted
	}
	if d.Ended(now) {
		return nil, ErrExpired
	}
	if d.LimitReached() {
		return nil, ErrLimitReached
	}

	ok, err := tx.HasVariation(ctx, discountID, variationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotApplicable
	}

	return d, nil
}
