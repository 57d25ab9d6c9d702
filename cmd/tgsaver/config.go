package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration and print the effective values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// load already ran Validate, a bad value never gets here
			cfg := *opts.cfg
			if cfg.TGApiHash != "" {
				cfg.TGApiHash = "***"
			}
			if cfg.TGSessionStr != "" {
				cfg.TGSessionStr = "***"
			}

			out, err := yaml.Marshal(&cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if f := cfg.ConfigFile(); f != "" {
				fmt.Fprintf(w, "# loaded from %s\n", f)
			}
			fmt.Fprintf(w, "%s", out)
			return nil
		},
	}
}
