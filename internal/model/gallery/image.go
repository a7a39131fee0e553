package gallery

import "time"

// Item describes one generated image. The bytes live in the image store.
type Item struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Prompt      string    `json:"prompt"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ImageURL is the renderable reference served by the HTTP API.
func ImageURL(id string) string {
	return "/api/gallery/" + id + "/image"
}
