package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"labos/internal/core"
	"labos/plugins/eims"
)

var (
	runParamsJSON string
	runParamsFile string
	runActor      string
	runExpID      string
	runExpName    string
	runExpOwner   string
	runDatasets   []string
)

var runModuleCmd = &cobra.Command{
	Use:   "run-module <module-key> [operation]",
	Short: "Run a module operation with full lineage",
	Long: `Runs one module operation as a job: creates or reuses an experiment,
advances the job lifecycle, registers the output dataset, and appends
chain events. The resulting WorkflowResult is printed as indented JSON.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := loadParams()
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		operation := ""
		if len(args) > 1 {
			operation = args[1]
		}
		result, err := rt.service.RunModuleJob(cmd.Context(), core.RunModuleRequest{
			ModuleKey:       args[0],
			Operation:       operation,
			Params:          params,
			Actor:           runActor,
			ExperimentID:    runExpID,
			ExperimentTitle: runExpName,
			ExperimentOwner: runExpOwner,
			DatasetsIn:      runDatasets,
		})
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Succeeded() {
			return fmt.Errorf("module run failed: %s", result.Err)
		}
		return nil
	},
}

var demoJobCmd = &cobra.Command{
	Use:   "demo-job",
	Short: "Run the EI-MS stub end to end and print the lineage",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		result, err := rt.service.RunModuleJob(cmd.Context(), core.RunModuleRequest{
			ModuleKey:       eims.ModuleKey,
			Actor:           "labos.cli.demo",
			ExperimentTitle: "Demo fragmentation run",
			ExperimentOwner: "demo-user",
			Params: map[string]any{
				"compound": "caffeine",
				"mode":     "demo",
			},
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "experiment %s (%s)\n", result.Experiment.ID, result.Experiment.Title)
		fmt.Fprintf(out, "job        %s [%s]\n", result.Job.ID, result.Job.Status)
		if result.Dataset != nil {
			fmt.Fprintf(out, "dataset    %s (%s)\n", result.Dataset.ID, result.Dataset.Label)
		}
		for _, event := range result.AuditEvents {
			fmt.Fprintf(out, "audit      %s %s\n", event.EventID, event.EventType)
		}
		return nil
	},
}

func loadParams() (map[string]any, error) {
	var raw []byte
	switch {
	case runParamsFile != "":
		data, err := os.ReadFile(runParamsFile)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		raw = data
	case runParamsJSON != "":
		raw = []byte(runParamsJSON)
	default:
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return params, nil
}

func init() {
	runModuleCmd.Flags().StringVar(&runParamsJSON, "params-json", "", "Module parameters as an inline JSON object")
	runModuleCmd.Flags().StringVar(&runParamsFile, "params-file", "", "Path to a JSON file with module parameters")
	runModuleCmd.Flags().StringVar(&runActor, "actor", "", "Actor recorded on chain events")
	runModuleCmd.Flags().StringVar(&runExpID, "experiment", "", "Reuse an existing experiment id")
	runModuleCmd.Flags().StringVar(&runExpName, "experiment-name", "", "Title for an implicitly created experiment")
	runModuleCmd.Flags().StringVar(&runExpOwner, "experiment-owner", "", "Owner for an implicitly created experiment")
	runModuleCmd.Flags().StringSliceVar(&runDatasets, "dataset", nil, "Input dataset ids (repeatable)")
}
