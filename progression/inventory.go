package progression

import "fmt"

// =============================================================================
// INVENTORY / CURRENCY LEDGER
// =============================================================================

// Purchase debits item.Price and grants ownership as one unit. On any
// error p is returned untouched; on success the returned value is a new
// copy, so a caller holding p never observes a partial purchase.
//
// Purchases are final: there is no sell-back.
func Purchase(p CharacterProgress, item InventoryItem) (CharacterProgress, error) {
	if p.Owns(item.ID) {
		return p, fmt.Errorf("purchase %s: %w", item.ID, ErrAlreadyOwned)
	}
	if item.Price < 0 {
		return p, fmt.Errorf("purchase %s: negative price %d", item.ID, item.Price)
	}
	if item.UnlockLevel > 0 && p.Level < item.UnlockLevel {
		return p, fmt.Errorf("purchase %s: level %d < %d: %w", item.ID, p.Level, item.UnlockLevel, ErrLevelLocked)
	}

	debited, err := ApplyCurrency(p, -item.Price)
	if err != nil {
		return p, err
	}
	debited.OwnedItems[item.ID] = true
	return debited, nil
}

// Shop is the immutable item catalog.
type Shop struct {
	items map[ItemID]InventoryItem
	order []ItemID
}

func NewShop(items []InventoryItem) (*Shop, error) {
	s := &Shop{items: make(map[ItemID]InventoryItem, len(items))}
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("shop: item without id")
		}
		if it.Price < 0 {
			return nil, fmt.Errorf("shop: item %s has negative price", it.ID)
		}
		if _, dup := s.items[it.ID]; dup {
			return nil, fmt.Errorf("shop: duplicate item %s", it.ID)
		}
		s.items[it.ID] = it
		s.order = append(s.order, it.ID)
	}
	return s, nil
}

func (s *Shop) Item(id ItemID) (InventoryItem, error) {
	it, ok := s.items[id]
	if !ok {
		return InventoryItem{}, fmt.Errorf("item %s: %w", id, ErrUnknownItem)
	}
	return it, nil
}

func (s *Shop) Items() []InventoryItem {
	out := make([]InventoryItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}
