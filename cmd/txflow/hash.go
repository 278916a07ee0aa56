// cmd/txflow/hash.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/txflow/pkg/txhash"
)

func newHashCmd(a *app) *cobra.Command {
	var canonical bool

	cmd := &cobra.Command{
		Use:   "hash [FILE|-]",
		Short: "Fingerprint a JSON payload",
		Long: `Print the Blake2b-256 fingerprint of a JSON document's canonical form.
Object keys are sorted at every level, so key order does not matter.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 0 || args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			var payload any
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("input is not JSON: %w", err)
			}
			if canonical {
				b, err := txhash.Canonical(payload)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(a.out.Writer(), string(b))
				return err
			}
			h, err := txhash.Compute(payload)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]string{"hash": h})
			}
			_, err = fmt.Fprintln(a.out.Writer(), h)
			return err
		},
	}

	cmd.Flags().BoolVar(&canonical, "canonical", false, "print the canonical encoding instead of the hash")
	return withoutConfig(cmd)
}
