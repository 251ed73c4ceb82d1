package entity

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoyalty(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		royalty, err := NewRoyalty(map[string]uint32{"a": 6_000, "b": 4_000}, 2_000)
		require.NoError(t, err)
		assert.Equal(t, uint32(2_000), royalty.Percentage.Numerator)
		assert.Len(t, royalty.SplitBetween, 2)
	})

	t.Run("zero percentage", func(t *testing.T) {
		_, err := NewRoyalty(map[string]uint32{"a": 10_000}, 0)
		assert.Error(t, err)
	})

	t.Run("exceeds half", func(t *testing.T) {
		_, err := NewRoyalty(map[string]uint32{"a": 10_000}, 5_001)
		assert.Error(t, err)
	})

	t.Run("at the cap", func(t *testing.T) {
		_, err := NewRoyalty(map[string]uint32{"a": 10_000}, 5_000)
		assert.NoError(t, err)
	})

	t.Run("empty split", func(t *testing.T) {
		_, err := NewRoyalty(map[string]uint32{}, 2_000)
		assert.Error(t, err)
	})

	t.Run("split does not sum", func(t *testing.T) {
		_, err := NewRoyalty(map[string]uint32{"a": 6_000, "b": 3_999}, 2_000)
		assert.Error(t, err)
	})

	t.Run("zero share", func(t *testing.T) {
		_, err := NewRoyalty(map[string]uint32{"a": 10_000, "b": 0}, 2_000)
		assert.Error(t, err)
	})
}

func TestNewSplitOwners(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		split, err := NewSplitOwners(map[string]uint32{"a": 7_500, "b": 2_500})
		require.NoError(t, err)
		assert.Len(t, split.SplitBetween, 2)
	})

	t.Run("single account", func(t *testing.T) {
		_, err := NewSplitOwners(map[string]uint32{"a": 10_000})
		assert.Error(t, err)
	})

	t.Run("does not sum", func(t *testing.T) {
		_, err := NewSplitOwners(map[string]uint32{"a": 5_000, "b": 4_000})
		assert.Error(t, err)
	})
}

func TestFractionOf(t *testing.T) {
	half := Fraction{Numerator: 5_000}
	assert.Equal(t, uint256.NewInt(50), half.Of(uint256.NewInt(100)))

	// Division truncates.
	third := Fraction{Numerator: 3_333}
	assert.Equal(t, uint256.NewInt(33), third.Of(uint256.NewInt(100)))

	assert.True(t, Fraction{Numerator: 1}.Of(uint256.NewInt(100)).IsZero())
}

func TestNewFraction(t *testing.T) {
	_, err := NewFraction(10_001)
	assert.Error(t, err)

	f, err := NewFraction(10_000)
	require.NoError(t, err)
	assert.Equal(t, uint32(10_000), f.Numerator)
}

func TestSortedRecipients(t *testing.T) {
	split := map[string]Fraction{"c": {}, "a": {}, "b": {}}
	assert.Equal(t, []string{"a", "b", "c"}, SortedRecipients(split))
}

func TestCurrency(t *testing.T) {
	native := Currency{}
	assert.True(t, native.IsNative())
	assert.Equal(t, "native", native.String())

	ft := Currency{FtContractID: "usdx"}
	assert.False(t, ft.IsNative())
	assert.Equal(t, "ft::usdx", ft.String())
}

func TestListingKey(t *testing.T) {
	listing := Listing{ContractID: "ledger", TokenID: "7"}
	assert.Equal(t, "ledger<$>7", listing.Key())
	assert.Equal(t, ListingKey("ledger", "7"), listing.Key())
}

func TestPayoutTotalAndOrder(t *testing.T) {
	payout := Payout{
		"b": uint256.NewInt(10),
		"a": uint256.NewInt(20),
	}

	assert.Equal(t, uint256.NewInt(30), payout.Total())
	assert.Equal(t, []string{"a", "b"}, payout.SortedAccounts())
}
