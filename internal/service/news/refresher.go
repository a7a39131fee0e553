package news

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/logging"
	"github.com/zhouzirui/serenity/backend/internal/model/news"
)

// Refresher periodically refreshes the default news topic and reports
// newly fetched articles.
type Refresher struct {
	client   *Client
	interval func() time.Duration
	notify   func([]news.Article)
	log      *zap.Logger
}

// NewRefresher builds a refresher. interval is re-read before every wait so
// settings changes take effect on the next cycle.
func NewRefresher(client *Client, interval func() time.Duration, notify func([]news.Article), logger *zap.Logger) *Refresher {
	return &Refresher{
		client:   client,
		interval: interval,
		notify:   notify,
		log:      logging.OrNop(logger).Named("news-refresher"),
	}
}

// Run blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	for {
		wait := r.interval()
		if wait <= 0 {
			wait = 20 * time.Minute
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.tick(ctx)
	}
}

func (r *Refresher) tick(ctx context.Context) {
	before := r.client.CachedAt()
	articles, err := r.client.Search(ctx, r.client.DefaultQuery(), false)
	if err != nil {
		r.log.Warn("news refresh failed", zap.Error(err))
		return
	}
	if len(articles) == 0 || !r.client.CachedAt().After(before) {
		return
	}
	if r.notify != nil {
		r.notify(articles)
	}
}
