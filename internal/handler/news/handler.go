package news

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/serenity/backend/internal/model/news"
	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

// Source 新闻查询接口
type Source interface {
	Search(ctx context.Context, query string, forceRefresh bool) ([]news.Article, error)
	DefaultQuery() string
	CachedAt() time.Time
}

// Handler 新闻面板的HTTP处理器
type Handler struct {
	source Source
}

// New 创建新闻处理器
func New(source Source) *Handler {
	return &Handler{source: source}
}

// RegisterRoutes 注册新闻相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/news", h.handleSearch)
}

type feed struct {
	Query    string         `json:"query"`
	Articles []news.Article `json:"articles"`
	CachedAt *time.Time     `json:"cachedAt,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// handleSearch 查询新闻，缓存未过期时直接返回缓存
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		query = h.source.DefaultQuery()
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	articles, err := h.source.Search(r.Context(), query, force)
	out := feed{Query: query, Articles: articles}
	if out.Articles == nil {
		out.Articles = []news.Article{}
	}
	if at := h.source.CachedAt(); !at.IsZero() {
		out.CachedAt = &at
	}

	if err != nil {
		out.Error = err.Error()
		if len(articles) == 0 {
			utils.RespondJSON(w, http.StatusBadGateway, out)
			return
		}
	}
	utils.RespondJSON(w, http.StatusOK, out)
}
