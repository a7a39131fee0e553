package settings

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/serenity/backend/internal/model/settings"
	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

// Store 设置的读写接口
type Store interface {
	Settings() settings.AppSettings
	UpdateSettings(next settings.AppSettings) settings.AppSettings
}

// Handler 用户设置的HTTP处理器
type Handler struct {
	store Store
}

// New 创建设置处理器
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册设置相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/settings", h.handleGetSettings)
	r.Put("/settings", h.handleUpdateSettings)
}

// handleGetSettings 返回当前设置，API Key 只回显掩码
func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.Settings().Redacted())
}

// handleUpdateSettings 整体替换设置，缺失字段回填默认值
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.AppSettings
	if err := utils.DecodeJSON(w, r, &next); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	next = next.RestoreRedacted(h.store.Settings())
	applied := h.store.UpdateSettings(next)
	utils.RespondJSON(w, http.StatusOK, applied.Redacted())
}
