package catalog

import "github.com/warp/progression-engine/progression"

// DefaultItems returns the built-in shop. Prices are in coins.
func DefaultItems() []progression.InventoryItem {
	return []progression.InventoryItem{
		{ID: "headband", Name: "Sweat Headband", Price: 50, Category: progression.ItemAccessory},
		{ID: "water-bottle", Name: "Water Bottle", Price: 75, Category: progression.ItemAccessory},
		{ID: "neon-shoes", Name: "Neon Running Shoes", Price: 150, Category: progression.ItemOutfit},
		{ID: "track-suit", Name: "Track Suit", Price: 300, Category: progression.ItemOutfit, UnlockLevel: 5},
		{ID: "xp-boost", Name: "XP Boost Token", Price: 120, Category: progression.ItemBooster},
		{ID: "sunrise-theme", Name: "Sunrise Theme", Price: 200, Category: progression.ItemTheme},
		{ID: "champion-cape", Name: "Champion Cape", Price: 1000, Category: progression.ItemOutfit, UnlockLevel: 80},
	}
}
