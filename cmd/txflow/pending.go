// cmd/txflow/pending.go
package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/txflow/internal/pending"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

func newPendingCmd(a *app) *cobra.Command {
	var (
		follow   bool
		maxItems int
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List transactions the gateway is still tracking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := pending.Options{
				PollInterval: a.cfg.Pending.PollInterval,
				MaxItems:     a.cfg.Pending.MaxItems,
			}
			if cmd.Flags().Changed("max") {
				opts.MaxItems = maxItems
			}

			ctx := cmd.Context()
			if !follow && a.cfg.Gateway.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.Gateway.Timeout)
				defer cancel()
			}

			client := a.gatewayClient()
			reg := a.registry(client)
			a.seedPending(ctx, reg, client, opts.MaxItems)
			feed := reg.List(ctx, opts)
			defer feed.Stop()

			for list := range feed.Updates() {
				if err := a.printPending(list, follow); err != nil {
					return err
				}
				if !follow {
					return nil
				}
			}
			if !follow && ctx.Err() != nil {
				return errors.New("timed out waiting for the gateway")
			}
			if err := feed.Err(); err != nil {
				if errors.Is(err, pending.ErrUnauthenticated) {
					return errors.New("the gateway rejected the session; check gateway.token")
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "keep polling and print every change")
	cmd.Flags().IntVar(&maxItems, "max", 0, "maximum items to show (default pending.max_items)")
	return cmd
}

func (a *app) printPending(list []gateway.TxStatus, follow bool) error {
	if a.jsonOut {
		return a.printJSON(list)
	}
	if follow {
		a.out.Bold("%d pending", len(list))
	}
	if len(list) == 0 && !follow {
		a.out.Info("No pending transactions.")
		return nil
	}
	for _, st := range list {
		a.printStatus(st)
	}
	return nil
}
