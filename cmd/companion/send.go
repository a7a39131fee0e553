package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/serenity/backend/internal/model/gallery"
	"github.com/zhouzirui/serenity/backend/internal/service/chat"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message through the routing pipeline and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			text := strings.Join(args, " ")
			ctx := cmd.Context()

			var result chat.SendResult
			if sessionID != "" {
				result, err = a.manager.SendMessageTo(ctx, sessionID, text)
			} else {
				result, err = a.manager.SendMessage(ctx, text)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[%s] %s\n", result.Reply.Role, result.Reply.Content)
			if result.Reply.ImageID != "" {
				fmt.Fprintf(out, "image: %s\n", gallery.ImageURL(result.Reply.ImageID))
			}
			for _, article := range result.Reply.News {
				fmt.Fprintf(out, "  - %s (%s) %s\n", article.Title, article.Source, article.URL)
			}
			if result.OpenConfig {
				fmt.Fprintln(out, "hint: configure API keys via environment or PUT /api/settings")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "target session id (defaults to the active session)")
	return cmd
}
