package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the pipeline configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Lint the configuration and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := checkConfig(cmd.ErrOrStderr(), cfg); err != nil {
			return err
		}
		src := cfgPath
		if src == "" {
			src = "defaults + environment"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("configuration is valid:"), src)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
