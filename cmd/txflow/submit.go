// cmd/txflow/submit.go
package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/txflow/internal/orchestrator"
	"github.com/altuslabsxyz/txflow/internal/output"
)

// MetaClientRequestID tags each submission so the gateway can deduplicate
// retried registrations.
const MetaClientRequestID = "client_request_id"

func newSubmitCmd(a *app) *cobra.Command {
	var (
		txType   string
		params   string
		metadata string
		content  string
		yes      bool
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Build, sign, submit and register a transaction",
		Long: `Build a transaction through the gateway, sign and broadcast it with the
configured wallet, then register it for tracking.

JSON flags take an inline object, @file, or - for stdin.`,
		Example: `  txflow submit --type MINT --params '{"amount":5}' --content '{"task":{"title":"Build docs"}}' --watch`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &orchestrator.Request{TxType: txType}
			var err error
			if req.Params, err = readJSONArg("params", params); err != nil {
				return err
			}
			if req.Metadata, err = readJSONArg("metadata", metadata); err != nil {
				return err
			}
			if req.Content, err = readJSONArg("content", content); err != nil {
				return err
			}
			if req.Params == nil {
				req.Params = map[string]any{}
			}
			if req.Metadata == nil {
				req.Metadata = map[string]any{}
			}
			if _, ok := req.Metadata[MetaClientRequestID]; !ok {
				req.Metadata[MetaClientRequestID] = uuid.NewString()
			}

			if !yes && !output.IsInteractive() {
				return output.ErrNotInteractive
			}
			w, err := a.wallet(yes)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}

			client := a.gatewayClient()
			reg := a.registry(client)
			orch := orchestrator.New(client, w,
				orchestrator.WithLogger(a.logger),
				orchestrator.WithJournal(st),
				orchestrator.WithTracker(reg))
			stopProgress := a.showProgress(orch)
			res, err := orch.Execute(cmd.Context(), req)
			stopProgress()
			// Release the journal so other txflow processes can use it
			// while this one watches.
			if cerr := st.Close(); cerr != nil {
				a.logger.Warn("failed to close journal", "error", cerr)
			}
			if err != nil {
				if hash, ok := orchestrator.IsUntracked(err); ok {
					a.out.Warn("run 'txflow resync' to retry registration of %s", hash)
				}
				return errors.New(orchestrator.UserMessage(err))
			}

			for _, m := range res.HashMismatches {
				a.out.Warn("gateway fingerprint differs for %s", m.String())
			}
			if a.jsonOut {
				if err := a.printJSON(res); err != nil {
					return err
				}
			} else {
				a.out.Println("%s", output.Box("Transaction registered", resultRows(res), false))
			}

			if !watch || !res.NeedsConfirmation() {
				return nil
			}
			a.out.Info("Waiting for dependent effects...")
			wt := a.watcher(client)
			defer wt.Close()
			_, err = a.watchAll(cmd.Context(), wt, reg, []string{res.TxHash})
			return err
		},
	}

	cmd.Flags().StringVar(&txType, "type", "", "transaction type (required)")
	cmd.Flags().StringVar(&params, "params", "", "build parameters as a JSON object")
	cmd.Flags().StringVar(&metadata, "metadata", "", "registration metadata as a JSON object")
	cmd.Flags().StringVar(&content, "content", "", "named payloads to fingerprint, as a JSON object")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "sign without asking for confirmation")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch the transaction after registration")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// showProgress renders stage transitions. The progress line is held while
// the wallet may be prompting.
func (a *app) showProgress(orch *orchestrator.Orchestrator) (stop func()) {
	if a.jsonOut || !output.IsInteractive() {
		return orch.Observe(func(tr orchestrator.Transition) {
			a.logger.Debug("transaction stage", "from", tr.From, "to", tr.To)
		})
	}

	progress := output.NewTxProgress(a.out.ErrWriter(), 3)
	cancel := orch.Observe(func(tr orchestrator.Transition) {
		switch tr.To {
		case orchestrator.StateFetching:
			progress.Step("Building transaction")
		case orchestrator.StateSigning:
			progress.Hold("Waiting for wallet signature")
		case orchestrator.StateSubmitting:
			progress.Step("Submitting and registering")
		case orchestrator.StateSuccess:
			progress.Finish(true, "Transaction registered")
		case orchestrator.StateError:
			progress.Finish(false, "Transaction failed")
		default:
			progress.Stop()
		}
	})
	return func() {
		cancel()
		progress.Stop()
	}
}

func resultRows(res *orchestrator.Result) map[string]string {
	rows := map[string]string{
		"hash":         res.TxHash,
		"type":         res.TxType,
		"db update":    yesNo(res.RequiresDBUpdate),
		"confirmation": yesNo(res.RequiresOnChainConfirmation),
	}
	for k, h := range res.ContentHashes {
		rows["hash."+k] = shorten(h)
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "required"
	}
	return "no"
}

func shorten(h string) string {
	if len(h) <= 16 {
		return h
	}
	return fmt.Sprintf("%s…%s", h[:8], h[len(h)-6:])
}

