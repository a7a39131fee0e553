package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

// Handler 会话与消息的HTTP处理器
type Handler struct {
	manager *chatService.Manager
}

// New 创建聊天处理器
func New(manager *chatService.Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/active", h.handleActiveSession)
	r.Put("/sessions/active", h.handleSelectSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Post("/messages", h.handleSendMessage)
}

type sessionList struct {
	ActiveID string `json:"activeId"`
	Sessions any    `json:"sessions"`
}

// handleListSessions 按创建时间倒序列出会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, sessionList{
		ActiveID: h.manager.ActiveID(),
		Sessions: h.manager.ListSessions(),
	})
}

// handleCreateSession 创建新会话并设为当前会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := h.manager.CreateSession()
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleActiveSession 返回当前会话
func (h *Handler) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.manager.ActiveSession()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no active session")
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleSelectSession 切换当前会话
func (h *Handler) handleSelectSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.manager.SelectSession(payload.SessionID); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"activeId": payload.SessionID})
}

// handleGetSession 返回单个会话及其全部消息
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleDeleteSession 删除会话
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteSession(chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"activeId": h.manager.ActiveID()})
}

// handleSendMessage 发送用户消息并同步返回回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Content   string `json:"content"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		result chatService.SendResult
		err    error
	)
	if payload.SessionID == "" {
		result, err = h.manager.SendMessage(r.Context(), payload.Content)
	} else {
		result, err = h.manager.SendMessageTo(r.Context(), payload.SessionID, payload.Content)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// respondServiceError 将业务错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
