package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lokus/internal/domain/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the runtime configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after defaults, the config file and flags are applied.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.Source != "" {
				_, _ = fmt.Fprintln(out, mutedStyle.Render("# "+cfg.Source))
			}
			_, err = out.Write(data)
			return err
		},
	})
	return cmd
}
