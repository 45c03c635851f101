package records

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBuyer = "0x1111111111111111111111111111111111111111"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "records.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordPurchase(t *testing.T) {
	store := openTestStore(t)

	err := store.RecordPurchase("intro-to-defi", PurchaseRecord{
		BuyerAddress: testBuyer,
		Username:     "alice",
		Timestamp:    1000,
	})
	require.NoError(t, err)

	stats, err := store.Stats("intro-to-defi")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalPurchases)
	assert.Equal(t, 1, stats.DistinctBuyers)
	assert.Equal(t, int64(1000), stats.LastPurchaseAt)
	require.Len(t, stats.RecentPurchases, 1)
	assert.Equal(t, "alice", stats.RecentPurchases[0].Username)
}

func TestRepeatPurchaseKeepsLatestRecordButCounts(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordPurchase("intro-to-defi", PurchaseRecord{
		BuyerAddress: testBuyer,
		Username:     "alice",
		Timestamp:    1000,
	}))
	require.NoError(t, store.RecordPurchase("intro-to-defi", PurchaseRecord{
		BuyerAddress: testBuyer,
		Username:     "alice-renamed",
		Timestamp:    2000,
	}))

	stats, err := store.Stats("intro-to-defi")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalPurchases, "counter tracks reported unlocks")
	assert.Equal(t, 1, stats.DistinctBuyers, "one latest record per buyer")
	require.Len(t, stats.RecentPurchases, 1)
	assert.Equal(t, "alice-renamed", stats.RecentPurchases[0].Username)
	assert.Equal(t, int64(2000), stats.LastPurchaseAt)
}

func TestBuyerAddressIsCaseInsensitive(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordPurchase("intro-to-defi", PurchaseRecord{
		BuyerAddress: testBuyer,
		Timestamp:    1000,
	}))
	require.NoError(t, store.RecordPurchase("intro-to-defi", PurchaseRecord{
		BuyerAddress: "0x1111111111111111111111111111111111111111",
		Timestamp:    2000,
	}))

	stats, err := store.Stats("intro-to-defi")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DistinctBuyers)
}

func TestRecentPurchasesCappedAtTenNewestFirst(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 15; i++ {
		require.NoError(t, store.RecordPurchase("intro-to-defi", PurchaseRecord{
			BuyerAddress: fmt.Sprintf("0x%040d", i),
			Timestamp:    int64(1000 + i),
		}))
	}

	stats, err := store.Stats("intro-to-defi")
	require.NoError(t, err)
	assert.Equal(t, uint64(15), stats.TotalPurchases)
	assert.Equal(t, 15, stats.DistinctBuyers)
	require.Len(t, stats.RecentPurchases, 10)
	assert.Equal(t, int64(1014), stats.RecentPurchases[0].Timestamp)
	assert.Equal(t, int64(1005), stats.RecentPurchases[9].Timestamp)
}

func TestRecordRatingBounds(t *testing.T) {
	store := openTestStore(t)

	for _, score := range []int{0, -1, 6, 100} {
		err := store.RecordRating("intro-to-defi", testBuyer, score)
		assert.True(t, errors.Is(err, ErrInvalidScore), "score %d", score)
	}
	for score := 1; score <= 5; score++ {
		assert.NoError(t, store.RecordRating("intro-to-defi", testBuyer, score))
	}
}

func TestUserRatingLatestWins(t *testing.T) {
	store := openTestStore(t)

	rec, err := store.UserRating("intro-to-defi", testBuyer)
	require.NoError(t, err)
	assert.Nil(t, rec, "unrated article reads as nil")

	require.NoError(t, store.RecordRating("intro-to-defi", testBuyer, 2))
	require.NoError(t, store.RecordRating("intro-to-defi", testBuyer, 5))

	rec, err = store.UserRating("intro-to-defi", testBuyer)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 5, rec.Score)
}

func TestAverageRating(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordRating("intro-to-defi", "0xaaa1111111111111111111111111111111111111", 5))
	require.NoError(t, store.RecordRating("intro-to-defi", "0xbbb1111111111111111111111111111111111111", 4))
	require.NoError(t, store.RecordRating("intro-to-defi", "0xccc1111111111111111111111111111111111111", 3))

	stats, err := store.Stats("intro-to-defi")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RatingCount)
	assert.InDelta(t, 4.0, stats.AverageRating, 0.0001)
}

func TestStatsBulk(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordPurchase("first", PurchaseRecord{
		BuyerAddress: testBuyer,
		Timestamp:    1000,
	}))

	stats, err := store.StatsBulk([]string{"first", "never-purchased"})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, uint64(1), stats["first"].TotalPurchases)
	assert.Equal(t, uint64(0), stats["never-purchased"].TotalPurchases)
	assert.Empty(t, stats["never-purchased"].RecentPurchases)
	assert.Zero(t, stats["never-purchased"].AverageRating)
}
