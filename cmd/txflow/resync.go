// cmd/txflow/resync.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/txflow/internal/reconciler"
)

func newResyncCmd(a *app) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Re-register transactions that reached the chain but are untracked",
		Long: `Retry gateway registration for every journaled submission in the untracked
phase. With --watch, keep running and register new untracked submissions as they
appear, retrying failures with backoff.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			client := a.gatewayClient()
			ctrl := a.registrationController(st, client, reconciler.WithTracker(a.registry(client)))

			if follow {
				m := reconciler.NewManager(ctrl)
				m.SetLogger(a.logger)
				a.out.Info("Reconciling untracked submissions (Ctrl+C to stop)...")
				return reconciler.Run(cmd.Context(), st, ctrl, m, a.cfg.Reconciler.Workers)
			}

			outcomes, err := ctrl.Resync(cmd.Context())
			if a.jsonOut {
				type row struct {
					TxHash   string `json:"tx_hash"`
					Attempts int    `json:"attempts"`
					Error    string `json:"error,omitempty"`
				}
				rows := make([]row, 0, len(outcomes))
				for _, o := range outcomes {
					r := row{TxHash: o.TxHash, Attempts: o.Attempts}
					if o.Err != nil {
						r.Error = o.Err.Error()
					}
					rows = append(rows, r)
				}
				if jerr := a.printJSON(rows); jerr != nil {
					return jerr
				}
				return err
			}
			if err != nil {
				return err
			}

			if len(outcomes) == 0 {
				a.out.Info("Nothing to resync.")
				return nil
			}
			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					a.out.Error("%s (attempt %d): %v", o.TxHash, o.Attempts, o.Err)
					continue
				}
				a.out.Success("%s registered", o.TxHash)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d submissions are still untracked", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "keep running and reconcile continuously")
	return cmd
}
