// scanner reconstructs a 3D point cloud from a multiview video capture:
// frame extraction, sparse reconstruction, scale resolution, reference
// framing, optional georegistration, and JSON reporting.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"labos/internal/observability"
)

var (
	verbose bool
	logger  *observability.Logger
)

// usageError marks validation failures that should exit 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Multiview 3D scanner pipeline",
	Long: `scanner turns a captured video into a scaled, centered 3D point
cloud. Reconstruction runs through an external COLMAP install; ffprobe
and ffmpeg handle metadata and frame extraction. Every run leaves
run.json and reconstruction_metrics.json behind, even on failure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = observability.NewLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err: err}
	})
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(verifyPLYCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
