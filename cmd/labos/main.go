// labos is the record-keeping CLI: experiments, datasets, module jobs,
// audit verification, the HTTP API, and the terminal dashboard.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"labos/internal/config"
	"labos/internal/observability"
	"labos/pkg/domain"
)

var (
	// Global flags
	rootDir    string
	configPath string
	verbose    bool

	// Resolved per invocation
	cfg    config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "labos",
	Short: "LabOS - laboratory record keeping and module workflows",
	Long: `labos keeps experiment, job, and dataset records with a
tamper-evident audit chain, and runs registered module operations with
full lineage.

Records live under the configured root (default ./data); see labos.yaml
or the LABOS_* environment variables for storage and artifact drivers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootDir != "" {
			os.Setenv(config.EnvRoot, rootDir)
		}
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
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
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Override the LabOS root directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to labos.yaml (default: ./labos.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(newExperimentCmd)
	rootCmd.AddCommand(registerDatasetCmd)
	rootCmd.AddCommand(runModuleCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(experimentsCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(demoJobCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints one line per failure cause: not-found errors name
// the missing id, rule rejections list every blocking violation.
func reportError(err error) {
	var notFound domain.NotFoundError
	if errors.As(err, &notFound) {
		fmt.Fprintf(os.Stderr, "labos: %s %s not found\n", notFound.Entity, notFound.ID)
		return
	}
	var ruleErr domain.RuleViolationError
	if errors.As(err, &ruleErr) {
		fmt.Fprintln(os.Stderr, "labos: rejected by rules:")
		for _, v := range ruleErr.Result.Violations {
			fmt.Fprintf(os.Stderr, "  [%s] %s: %s\n", v.Severity, v.Rule, v.Message)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "labos: %v\n", err)
}
