// cmd/txflow/config.go
package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/altuslabsxyz/txflow/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigShowCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after merging defaults, the config file, environment and flags.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := redacted(a.cfg)
			if a.jsonOut {
				return a.printJSON(cfg)
			}

			var (
				data []byte
				err  error
			)
			if asYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = toml.Marshal(cfg)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(a.out.Writer(), string(data))
			return err
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of TOML")
	return cmd
}

func redacted(cfg *config.Config) config.Config {
	cp := *cfg
	if cp.Gateway.Token != "" {
		cp.Gateway.Token = "********"
	}
	return cp
}
