package cache

// KeyBasket returns the key holding a basket snapshot.
func KeyBasket(id string) string {
	return "basket:" + id
}

// KeyItemStats returns the analytics hash of an item.
func KeyItemStats(id string) string {
	return "an:item:" + id
}

// KeyUserStats returns the analytics hash of a user.
func KeyUserStats(id string) string {
	return "an:user:" + id
}

// KeyTopItems is the sorted set ranking items by interest score.
const KeyTopItems = "an:top_items"
