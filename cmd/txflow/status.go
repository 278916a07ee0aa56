// cmd/txflow/status.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status HASH",
		Short: "Show the gateway status of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.gatewayClient().GetStatus(cmd.Context(), args[0])
			if err != nil {
				if gateway.IsNotFound(err) {
					return fmt.Errorf("transaction %s is not known to the gateway", args[0])
				}
				return err
			}
			if a.jsonOut {
				return a.printJSON(st)
			}
			a.printStatus(*st)
			return nil
		},
	}
}
