package progression

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchase_DebitsAndGrants(t *testing.T) {
	// GIVEN: Balance 250
	p := NewCharacterProgress(250)
	item := InventoryItem{ID: "hat", Price: 100}

	// WHEN: Buying a 100 item
	out, err := Purchase(p, item)

	// THEN: Debit and ownership together, input untouched
	require.NoError(t, err)
	assert.Equal(t, 150, out.Balance)
	assert.True(t, out.Owns("hat"))
	assert.Equal(t, 250, p.Balance)
	assert.False(t, p.Owns("hat"))
}

func TestPurchase_InsufficientFundsIsAtomic(t *testing.T) {
	// GIVEN: Balance 250 and an owned item
	p, err := Purchase(NewCharacterProgress(300), InventoryItem{ID: "cap", Price: 50})
	require.NoError(t, err)
	require.Equal(t, 250, p.Balance)
	before, err := json.Marshal(p)
	require.NoError(t, err)

	// WHEN: Buying a 300 item
	out, err := Purchase(p, InventoryItem{ID: "cape", Price: 300})

	// THEN: InsufficientFunds; balance and items byte-for-byte identical
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, IsDeclined(err))
	after, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.False(t, out.Owns("cape"))
	assert.Equal(t, []ItemID{"cap"}, out.Items())
}

func TestPurchase_AlreadyOwned(t *testing.T) {
	p, err := Purchase(NewCharacterProgress(100), InventoryItem{ID: "cap", Price: 10})
	require.NoError(t, err)

	out, err := Purchase(p, InventoryItem{ID: "cap", Price: 10})
	require.ErrorIs(t, err, ErrAlreadyOwned)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 90, out.Balance)
}

func TestPurchase_LevelLocked(t *testing.T) {
	p := NewCharacterProgress(1000)
	_, err := Purchase(p, InventoryItem{ID: "cape", Price: 10, UnlockLevel: 5})
	require.ErrorIs(t, err, ErrLevelLocked)

	res, err := ApplyXP(p, DefaultLevelCurve.XPForLevel(5))
	require.NoError(t, err)
	out, err := Purchase(res.Progress, InventoryItem{ID: "cape", Price: 10, UnlockLevel: 5})
	require.NoError(t, err)
	assert.True(t, out.Owns("cape"))
}

func TestPurchase_FreeItem(t *testing.T) {
	out, err := Purchase(NewCharacterProgress(0), InventoryItem{ID: "starter", Price: 0})
	require.NoError(t, err)
	assert.True(t, out.Owns("starter"))
	assert.Equal(t, 0, out.Balance)
}

func TestNewShop(t *testing.T) {
	shop, err := NewShop([]InventoryItem{
		{ID: "b", Price: 5},
		{ID: "a", Price: 10},
	})
	require.NoError(t, err)

	items := shop.Items()
	require.Len(t, items, 2)
	assert.Equal(t, ItemID("b"), items[0].ID, "catalog order kept")

	it, err := shop.Item("a")
	require.NoError(t, err)
	assert.Equal(t, 10, it.Price)

	_, err = shop.Item("zzz")
	require.ErrorIs(t, err, ErrUnknownItem)
	assert.True(t, IsNotFound(err))
}

func TestNewShop_Invalid(t *testing.T) {
	_, err := NewShop([]InventoryItem{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)
	_, err = NewShop([]InventoryItem{{ID: "a", Price: -1}})
	assert.Error(t, err)
	_, err = NewShop([]InventoryItem{{Price: 1}})
	assert.Error(t, err)
}

func TestCharacterProgress_CloneIsDeep(t *testing.T) {
	p := NewCharacterProgress(10)
	p.OwnedItems["a"] = true
	c := p.Clone()
	c.OwnedItems["b"] = true

	assert.False(t, p.Owns("b"))
	assert.True(t, c.Owns("a"))
	assert.False(t, p.Equal(c))
}
