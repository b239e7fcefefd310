package main

import (
	"github.com/spf13/cobra"

	"labos/internal/ui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Open the terminal dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		return ui.Run(rt.service,
			cfg.ExperimentDir,
			cfg.JobDir,
			cfg.DatasetDir,
			cfg.AuditDir,
		)
	},
}
