package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			active := a.manager.ActiveID()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tTITLE\tMESSAGES\tUPDATED")
			for _, s := range a.manager.ListSessions() {
				marker := ""
				if s.ID == active {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", marker, s.ID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}
