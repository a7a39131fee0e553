package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/handler/chat"
	"github.com/zhouzirui/serenity/backend/internal/handler/events"
	"github.com/zhouzirui/serenity/backend/internal/handler/gallery"
	"github.com/zhouzirui/serenity/backend/internal/handler/news"
	"github.com/zhouzirui/serenity/backend/internal/handler/settings"
	middlewarePkg "github.com/zhouzirui/serenity/backend/internal/middleware"
	chatService "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. newsSrc may be nil when the
// news feature is disabled.
func NewRouter(manager *chatService.Manager, hub *chatService.Hub, newsSrc news.Source, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chat.New(manager).RegisterRoutes(api)
		settings.New(manager).RegisterRoutes(api)
		gallery.New(manager).RegisterRoutes(api)
		events.New(hub, logger).RegisterRoutes(api)

		if newsSrc != nil {
			news.New(newsSrc).RegisterRoutes(api)
		} else {
			api.Get("/news", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "news unavailable")
			})
		}
	})

	return r
}
