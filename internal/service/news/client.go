package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/serenity/backend/internal/logging"
	"github.com/zhouzirui/serenity/backend/internal/model/news"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	"github.com/zhouzirui/serenity/backend/internal/storage"
)

const provider = "gnews"

// Config configures the search endpoint.
type Config struct {
	URL          string
	Language     string
	Max          int
	DefaultQuery string
}

// Client searches news with a persisted single-entry cache in front.
type Client struct {
	cfg    Config
	key    ai.KeyFunc
	window func() time.Duration
	store  *storage.Adapter
	http   *http.Client
	group  singleflight.Group
	now    func() time.Time
	log    *zap.Logger
}

// NewClient wires the client. window returns the current freshness window.
func NewClient(cfg Config, key ai.KeyFunc, window func() time.Duration, store *storage.Adapter, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Max <= 0 {
		cfg.Max = 5
	}
	if cfg.DefaultQuery == "" {
		cfg.DefaultQuery = "technology"
	}
	return &Client{
		cfg:    cfg,
		key:    key,
		window: window,
		store:  store,
		http:   httpClient,
		now:    time.Now,
		log:    logging.OrNop(logger).Named("news"),
	}
}

// DefaultQuery is the topic used by the news feed.
func (c *Client) DefaultQuery() string {
	return c.cfg.DefaultQuery
}

// CachedAt is the time of the last successful network fetch.
func (c *Client) CachedAt() time.Time {
	ms := storage.Load(c.store, storage.KeyNewsTimestamp, int64(0))
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Search returns articles for query. The cache answers when the query
// matches and the entry is inside the freshness window, unless forceRefresh
// is set. A failed fetch falls back to the last cached articles. A missing
// API key yields an empty result rather than an error.
func (c *Client) Search(ctx context.Context, query string, forceRefresh bool) ([]news.Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		query = c.cfg.DefaultQuery
	}

	cached := storage.Load(c.store, storage.KeyNewsCache, news.Cache{})
	if !forceRefresh && cached.Query == query && news.Fresh(c.CachedAt(), c.now(), c.currentWindow()) {
		return cached.Articles, nil
	}

	key := ""
	if c.key != nil {
		key = strings.TrimSpace(c.key())
	}
	if key == "" {
		c.log.Debug("no api key, skipping news fetch")
		return []news.Article{}, nil
	}

	v, err, _ := c.group.Do(query, func() (any, error) {
		return c.fetch(ctx, key, query)
	})
	if err != nil {
		if len(cached.Articles) > 0 {
			c.log.Warn("news fetch failed, serving cached articles", zap.String("query", query), zap.Error(err))
			return cached.Articles, nil
		}
		return []news.Article{}, err
	}

	articles := v.([]news.Article)
	if err := storage.Save(c.store, storage.KeyNewsCache, news.Cache{Query: query, Articles: articles}); err == nil {
		_ = storage.Save(c.store, storage.KeyNewsTimestamp, c.now().UnixMilli())
	}
	return articles, nil
}

func (c *Client) currentWindow() time.Duration {
	if c.window == nil {
		return 20 * time.Minute
	}
	return c.window()
}

type gnewsResponse struct {
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Image       string `json:"image"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
	Errors []string `json:"errors"`
}

func (c *Client) fetch(ctx context.Context, key, query string) ([]news.Article, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("lang", c.cfg.Language)
	params.Set("max", strconv.Itoa(c.cfg.Max))
	params.Set("apikey", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build news request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ai.NetworkError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ai.NetworkError{Provider: provider, Err: err}
	}

	var decoded gnewsResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if decodeErr == nil && len(decoded.Errors) > 0 {
			msg = decoded.Errors[0]
		}
		return nil, &ai.ProviderError{Provider: provider, Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &ai.ProviderError{Provider: provider, Status: resp.StatusCode, Message: "malformed news body"}
	}
	if len(decoded.Errors) > 0 {
		return nil, &ai.ProviderError{Provider: provider, Status: resp.StatusCode, Message: decoded.Errors[0]}
	}

	articles := make([]news.Article, 0, len(decoded.Articles))
	for _, a := range decoded.Articles {
		image := a.Image
		if image == "" {
			image = news.PlaceholderImage
		}
		articles = append(articles, news.Article{
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			Image:       image,
			Source:      a.Source.Name,
			PublishedAt: a.PublishedAt,
		})
	}
	return articles, nil
}
