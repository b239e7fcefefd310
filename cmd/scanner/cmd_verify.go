package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"labos/internal/scanner/ply"
	"labos/internal/scanner/scale"
)

var verifyPLYCmd = &cobra.Command{
	Use:   "verify-ply <file>",
	Short: "Validate a PLY point cloud and summarize it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		points, err := ply.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("invalid ply %s: %w", args[0], err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d points\n", args[0], len(points))
		if len(points) > 0 {
			fmt.Fprintf(out, "bounding-box diagonal: %.6f\n", scale.Extent(points))
		}
		return nil
	},
}
