package discount

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serviceNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(store *memStore) *Service {
	clock := func() time.Time { return serviceNow }
	svc := NewService(store, &Validator{now: clock}, &Synchronizer{now: clock})
	svc.now = clock
	svc.newID = func() string { return "disc-1" }
	return svc
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("valid discount prices its variations", func(t *testing.T) {
		store := newMemStore()
		store.addVariation("v1", "100")
		store.addVariation("v2", "50")
		svc := newTestService(store)

		got, err := svc.Create(ctx, CreateRequest{
			ShopID:       "shop-1",
			Active:       true,
			Params:       Params{Name: "Summer", Type: TypePercentage, Value: d("10")},
			VariationIDs: []string{"v1", "v2", "v1", ""},
		})
		require.NoError(t, err)
		assert.Equal(t, "disc-1", got.ID)
		assert.Equal(t, serviceNow, got.CreatedAt)

		assert.True(t, d("90").Equal(store.discountPrice("v1").Decimal))
		assert.True(t, d("45").Equal(store.discountPrice("v2").Decimal))
		assert.Len(t, store.links["disc-1"], 2)
		assert.Equal(t, 1, store.commits)
	})

	t.Run("scheduled discount leaves prices null", func(t *testing.T) {
		store := newMemStore()
		store.addVariation("v1", "100")
		svc := newTestService(store)

		start := serviceNow.Add(48 * time.Hour)
		_, err := svc.Create(ctx, CreateRequest{
			Active:       true,
			Params:       Params{Type: TypeFixedAmount, Value: d("5"), StartDate: &start},
			VariationIDs: []string{"v1"},
		})
		require.NoError(t, err)
		assert.False(t, store.discountPrice("v1").Valid)
		assert.Contains(t, store.links["disc-1"], "v1")
	})

	t.Run("invalid parameters never reach the store", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(store)

		_, err := svc.Create(ctx, CreateRequest{
			Active: true,
			Params: Params{Type: TypePercentage, Value: d("120")},
		})
		require.ErrorIs(t, err, ErrInvalidDiscount)
		assert.Zero(t, store.commits+store.rollbacks)
		assert.Empty(t, store.discounts)
	})

	t.Run("unknown variation rolls back", func(t *testing.T) {
		store := newMemStore()
		store.addVariation("v1", "100")
		svc := newTestService(store)

		_, err := svc.Create(ctx, CreateRequest{
			Active:       true,
			Params:       Params{Type: TypePercentage, Value: d("10")},
			VariationIDs: []string{"v1", "missing"},
		})
		require.Error(t, err)
		assert.Equal(t, 1, store.rollbacks)
		assert.Empty(t, store.discounts)
		assert.False(t, store.discountPrice("v1").Valid)
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	store.addVariation("v1", "100")
	store.addDiscount(Discount{ID: "d1", Active: true, Type: TypePercentage, Value: d("10")})
	store.link("d1", "v1")
	svc := newTestService(store)

	got, err := svc.Update(ctx, "d1", Params{Name: "Bigger", Type: TypePercentage, Value: d("25")})
	require.NoError(t, err)
	assert.Equal(t, "Bigger", got.Name)
	assert.True(t, d("75").Equal(store.discountPrice("v1").Decimal))

	past := serviceNow.Add(-time.Hour)
	_, err = svc.Update(ctx, "d1", Params{Type: TypePercentage, Value: d("25"), EndDate: &past})
	require.NoError(t, err)
	assert.False(t, store.discountPrice("v1").Valid, "expired discount clears price")

	_, err = svc.Update(ctx, "d1", Params{Type: TypeFixedAmount, Value: d("-3")})
	require.ErrorIs(t, err, ErrInvalidDiscount)
	assert.True(t, d("25").Equal(store.discounts["d1"].Value), "failed update rolled back")

	_, err = svc.Update(ctx, "nope", Params{Type: TypePercentage, Value: d("1")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_SetActive(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	store.addVariation("v1", "80")
	store.addDiscount(Discount{ID: "d1", Active: false, Type: TypeFixedAmount, Value: d("30")})
	store.link("d1", "v1")
	svc := newTestService(store)

	require.NoError(t, svc.SetActive(ctx, "d1", true))
	assert.True(t, d("50").Equal(store.discountPrice("v1").Decimal))

	writes := store.priceWrites
	require.NoError(t, svc.SetActive(ctx, "d1", true))
	assert.Equal(t, writes, store.priceWrites, "unchanged flag is a no-op")

	require.NoError(t, svc.SetActive(ctx, "d1", false))
	assert.False(t, store.discountPrice("v1").Valid)
	assert.False(t, store.discounts["d1"].Active)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	store.addVariation("v1", "100")
	store.addVariation("v2", "100")
	store.addDiscount(Discount{ID: "d1", Active: true, Type: TypePercentage, Value: d("10")})
	store.addDiscount(Discount{ID: "d2", Active: true, Type: TypePercentage, Value: d("20")})
	store.link("d1", "v1", "v2")
	store.link("d2", "v2")
	svc := newTestService(store)

	require.NoError(t, svc.sync.UpdateVariationPrices(ctx, &memTx{m: store}, "d1"))
	require.True(t, store.discountPrice("v1").Valid)

	require.NoError(t, svc.Delete(ctx, "d1"))
	assert.NotContains(t, store.discounts, "d1")
	assert.False(t, store.discountPrice("v1").Valid)
	require.True(t, store.discountPrice("v2").Valid, "v2 still backed by d2")
	assert.True(t, d("80").Equal(store.discountPrice("v2").Decimal), "v2 repriced from d2")

	require.ErrorIs(t, svc.Delete(ctx, "d1"), ErrNotFound)
}

func TestService_AttachDetach(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	store.addVariation("v1", "100")
	store.addVariation("v2", "60")
	store.addDiscount(Discount{ID: "d1", Active: true, Type: TypePercentage, Value: d("50")})
	svc := newTestService(store)

	n, err := svc.AttachVariations(ctx, "d1", []string{"v1", "v2", "v2"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.True(t, d("50").Equal(store.discountPrice("v1").Decimal))
	assert.True(t, d("30").Equal(store.discountPrice("v2").Decimal))

	n, err = svc.AttachVariations(ctx, "d1", []string{"v1"})
	require.NoError(t, err)
	assert.Zero(t, n, "existing association is not counted")

	n, err = svc.DetachVariations(ctx, "d1", []string{"v2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.False(t, store.discountPrice("v2").Valid)
	assert.True(t, store.discountPrice("v1").Valid)

	n, err = svc.AttachVariations(ctx, "d1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.AttachVariations(ctx, "ghost", []string{"v1"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_AttachInChunksWritesEachVariationOnce(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	var ids []string
	for i := range 12 {
		id := fmt.Sprintf("v%02d", i)
		store.addVariation(id, "100")
		ids = append(ids, id)
	}
	store.addDiscount(Discount{ID: "d1", Active: true, Type: TypePercentage, Value: d("10")})
	svc := newTestService(store)

	var attached int64
	for chunk := range slices.Chunk(ids, 4) {
		n, err := svc.AttachVariations(ctx, "d1", chunk)
		require.NoError(t, err)
		attached += n
	}

	assert.EqualValues(t, 12, attached)
	assert.Equal(t, 12, store.priceWrites, "one write per attached variation")
	for _, id := range ids {
		assert.True(t, d("90").Equal(store.discountPrice(id).Decimal), id)
	}
}

func TestService_DiscountStoppingRepricesFromRemaining(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	store.addVariation("v1", "100")
	store.addDiscount(Discount{
		ID: "a", Active: true, Type: TypePercentage, Value: d("50"),
		UpdatedAt: serviceNow.Add(-2 * time.Hour),
	})
	store.addDiscount(Discount{
		ID: "b", Active: true, Type: TypePercentage, Value: d("10"),
		UpdatedAt: serviceNow.Add(-time.Hour),
	})
	store.link("a", "v1")
	store.link("b", "v1")
	svc := newTestService(store)

	tx := &memTx{m: store}
	require.NoError(t, svc.sync.UpdateVariationPrices(ctx, tx, "a"))
	require.NoError(t, svc.sync.UpdateVariationPrices(ctx, tx, "b"))
	require.True(t, d("90").Equal(store.discountPrice("v1").Decimal))

	require.NoError(t, svc.SetActive(ctx, "b", false))
	assert.True(t, d("50").Equal(store.discountPrice("v1").Decimal), "deactivate falls back to a")

	require.NoError(t, svc.SetActive(ctx, "b", true))
	assert.True(t, d("90").Equal(store.discountPrice("v1").Decimal))

	n, err := svc.DetachVariations(ctx, "b", []string{"v1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, d("50").Equal(store.discountPrice("v1").Decimal), "detach falls back to a")

	require.NoError(t, svc.Delete(ctx, "a"))
	assert.False(t, store.discountPrice("v1").Valid, "nothing left to apply")
}

func TestService_AttachInactiveDoesNotPrice(t *testing.T) {
	store := newMemStore()
	store.addVariation("v1", "100")
	store.addDiscount(Discount{ID: "d1", Active: false, Type: TypePercentage, Value: d("50")})
	svc := newTestService(store)

	n, err := svc.AttachVariations(context.Background(), "d1", []string{"v1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.False(t, store.discountPrice("v1").Valid)
	assert.Zero(t, store.priceWrites)
}

func TestService_Redeem(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	store.addVariation("v1", "100")
	store.addDiscount(Discount{ID: "d1", Active: true, Type: TypePercentage, Value: d("10"), UsageLimit: intPtr(2)})
	store.link("d1", "v1")
	svc := newTestService(store)

	got, err := svc.CheckApplication(ctx, "d1", "v1", "u1")
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)
	assert.Zero(t, store.discounts["d1"].UsageCount, "check does not consume")

	got, err = svc.Redeem(ctx, "d1", "v1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)

	_, err = svc.Redeem(ctx, "d1", "v1", "u2")
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, "d1", "v1", "u3")
	require.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, 2, store.discounts["d1"].UsageCount)

	_, err = svc.CheckApplication(ctx, "d1", "v2", "u1")
	require.ErrorIs(t, err, ErrLimitReached)
}

func TestService_RedeemRollsBackOnStoreError(t *testing.T) {
	boom := errors.New("disk full")

	store := newMemStore()
	store.addVariation("v1", "100")
	store.addDiscount(Discount{ID: "d1", Active: true, Type: TypePercentage, Value: d("10")})
	store.link("d1", "v1")
	store.failWith("IncrementUsage", boom)
	svc := newTestService(store)

	_, err := svc.Redeem(context.Background(), "d1", "v1", "u1")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.rollbacks)
	assert.Zero(t, store.discounts["d1"].UsageCount)
}

func TestService_SyncFailureRollsBackMutation(t *testing.T) {
	boom := errors.New("write failed")

	store := newMemStore()
	store.addVariation("v1", "100")
	store.addDiscount(Discount{ID: "d1", Active: false, Type: TypePercentage, Value: d("10")})
	store.link("d1", "v1")
	store.failWith("SetDiscountPrice", boom)
	svc := newTestService(store)

	err := svc.SetActive(context.Background(), "d1", true)
	require.ErrorIs(t, err, boom)
	assert.False(t, store.discounts["d1"].Active, "activation rolled back with the price write")
}

func TestService_Get(t *testing.T) {
	store := newMemStore()
	store.addDiscount(Discount{ID: "d1", Name: "Promo"})
	svc := newTestService(store)

	got, err := svc.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "Promo", got.Name)

	_, err = svc.Get(context.Background(), "d2")
	require.ErrorIs(t, err, ErrNotFound)
}
