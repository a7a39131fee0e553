package news

import "time"

// PlaceholderImage is shown for articles that come without a picture.
const PlaceholderImage = "https://picsum.photos/400/300"

// Article is a single news item returned by the search provider.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Image       string `json:"image"`
	Source      string `json:"source"`
	PublishedAt string `json:"publishedAt"`
}

// Cache is the persisted payload of the most recent successful search.
type Cache struct {
	Query    string    `json:"query"`
	Articles []Article `json:"articles"`
}

// Fresh reports whether a cache written at fetchedAt is still inside window.
func Fresh(fetchedAt, now time.Time, window time.Duration) bool {
	if fetchedAt.IsZero() || window <= 0 {
		return false
	}
	return now.Sub(fetchedAt) < window
}
