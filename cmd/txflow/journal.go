// cmd/txflow/journal.go
package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/txflow/internal/output"
	"github.com/altuslabsxyz/txflow/internal/store"
)

func newJournalCmd(a *app) *cobra.Command {
	var (
		phase  string
		txType string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List locally journaled submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			subs, err := st.List(cmd.Context(), store.ListOptions{
				Phase:  store.Phase(phase),
				TxType: txType,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(subs)
			}
			if len(subs) == 0 {
				a.out.Info("No submissions found.")
				return nil
			}

			w := tabwriter.NewWriter(a.out.Writer(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HASH\tTYPE\tPHASE\tFINAL\tATTEMPTS\tAGE\tLAST ERROR")
			for _, s := range subs {
				final := "-"
				if s.FinalState != "" {
					final = output.StateBadge(s.FinalState)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					s.TxHash,
					s.TxType,
					output.StateBadge(string(s.Phase)),
					final,
					s.Attempts,
					formatAge(time.Since(s.CreatedAt)),
					s.LastError)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "", "filter by phase (submitted, registered, untracked)")
	cmd.Flags().StringVar(&txType, "type", "", "filter by transaction type")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to show")
	return cmd
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
