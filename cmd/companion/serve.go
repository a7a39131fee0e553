package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/handler"
	"github.com/zhouzirui/serenity/backend/internal/model/news"
	"github.com/zhouzirui/serenity/backend/internal/service/chat"
	newsService "github.com/zhouzirui/serenity/backend/internal/service/news"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			refresher := newsService.NewRefresher(
				a.news,
				func() time.Duration { return a.holder.Get().NewsWindow() },
				func(articles []news.Article) {
					a.hub.Publish(chat.Event{Type: chat.EventNews, Payload: articles})
				},
				a.log,
			)
			go refresher.Run(ctx)

			router := handler.NewRouter(a.manager, a.hub, a.news, a.log)
			srv := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			a.log.Info("Serenity backend listening", zap.String("addr", srv.Addr))
			if err := runServer(ctx, srv); err != nil {
				return err
			}
			a.log.Info("server stopped")
			return nil
		},
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
