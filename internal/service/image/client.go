package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/serenity/backend/internal/service/ai"
)

const provider = "huggingface"

// Image is a synthesized picture.
type Image struct {
	Data        []byte
	ContentType string
}

// Client calls a text-to-image inference endpoint.
type Client struct {
	endpoint string
	key      ai.KeyFunc
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a client. minInterval paces outbound requests; zero
// disables pacing.
func NewClient(endpoint string, key ai.KeyFunc, httpClient *http.Client, minInterval time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Client{
		endpoint: endpoint,
		key:      key,
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Synthesize turns prompt into image bytes.
func (c *Client) Synthesize(ctx context.Context, prompt string) (Image, error) {
	key := ""
	if c.key != nil {
		key = strings.TrimSpace(c.key())
	}
	if key == "" {
		return Image{}, fmt.Errorf("%s: %w", provider, ai.ErrCredentialMissing)
	}
	if strings.TrimSpace(prompt) == "" {
		return Image{}, fmt.Errorf("image prompt is empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Image{}, err
	}

	body, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return Image{}, fmt.Errorf("encode image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Image{}, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	resp, err := c.http.Do(req)
	if err != nil {
		return Image{}, &ai.NetworkError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, &ai.NetworkError{Provider: provider, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !isImage(contentType) {
		msg := ai.ExtractErrorMessage(raw)
		if msg == "" && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			msg = "response is not an image (" + contentType + ")"
		}
		return Image{}, &ai.ProviderError{Provider: provider, Status: resp.StatusCode, Message: msg}
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	return Image{Data: raw, ContentType: mediaType}, nil
}

func isImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}
