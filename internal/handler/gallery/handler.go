package gallery

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/model/gallery"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	chatService "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/internal/storage"
	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

// Service 图片画廊依赖的业务接口
type Service interface {
	Gallery(ctx context.Context) ([]gallery.Item, error)
	Image(ctx context.Context, id string) (gallery.Item, []byte, error)
	GenerateImage(ctx context.Context, prompt string) (gallery.Item, chat.Message, error)
}

// Handler 图片生成与画廊的HTTP处理器
type Handler struct {
	svc Service
}

// New 创建画廊处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册画廊相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/gallery", h.handleList)
	r.Post("/gallery", h.handleGenerate)
	r.Get("/gallery/{imageID}/image", h.handleImage)
}

// handleList 返回全部历史图片，最新的在前
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Gallery(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "gallery unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, items)
}

// handleGenerate 直接根据提示词生成图片
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, msg, err := h.svc.GenerateImage(r.Context(), payload.Prompt)
	if err != nil {
		respondGenerateError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"image":   item,
		"message": msg,
	})
}

// handleImage 输出图片原始字节
func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	item, data, err := h.svc.Image(r.Context(), chi.URLParam(r, "imageID"))
	if err != nil {
		if errors.Is(err, storage.ErrImageNotFound) {
			utils.RespondError(w, http.StatusNotFound, "image not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "image unavailable")
		return
	}

	contentType := item.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// respondGenerateError 区分凭据缺失、上游错误与参数错误
func respondGenerateError(w http.ResponseWriter, err error) {
	var providerErr *ai.ProviderError
	var networkErr *ai.NetworkError

	switch {
	case errors.Is(err, chatService.ErrEmptyPrompt):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case ai.IsCredentialMissing(err):
		utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":      err.Error(),
			"openConfig": true,
		})
	case errors.As(err, &providerErr):
		utils.RespondError(w, http.StatusBadGateway, providerErr.Error())
	case errors.As(err, &networkErr):
		utils.RespondError(w, http.StatusGatewayTimeout, networkErr.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
