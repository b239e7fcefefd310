package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"labos/pkg/domain"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the LabOS directory tree and start the audit chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		_, err = rt.audit.Record(cmd.Context(), "system.initialized", "labos.cli", map[string]any{
			"root":     cfg.Root,
			"data_dir": cfg.DataDir,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized LabOS directories under %s\n", cfg.Root)
		return nil
	},
}

var (
	expUser    string
	expTitle   string
	expPurpose string
	expTags    string
	expStatus  string
)

var newExperimentCmd = &cobra.Command{
	Use:   "new-experiment",
	Short: "Create a new experiment record",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		user := expUser
		if user == "" {
			user = prompt("User ID: ")
		}
		title := expTitle
		if title == "" {
			title = prompt("Experiment title: ")
		}
		purpose := expPurpose
		if purpose == "" {
			purpose = prompt("Purpose: ")
		}
		exp, res, err := rt.service.CreateExperiment(cmd.Context(), domain.Experiment{
			Title:   title,
			Purpose: purpose,
			Owner:   user,
			Status:  domain.ExperimentStatus(expStatus),
			Tags:    parseTags(expTags),
		})
		if err != nil {
			return err
		}
		printWarnings(res)
		fmt.Fprintf(cmd.OutOrStdout(), "Created experiment %s\n", exp.ID)
		return nil
	},
}

var (
	dsOwner string
	dsType  string
	dsURI   string
	dsLabel string
	dsTags  string
)

var registerDatasetCmd = &cobra.Command{
	Use:   "register-dataset",
	Short: "Register a dataset reference",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		owner := dsOwner
		if owner == "" {
			owner = prompt("Owner: ")
		}
		label := dsLabel
		if label == "" {
			label = prompt("Label: ")
		}
		ds, res, err := rt.service.RegisterDataset(cmd.Context(), domain.DatasetRef{
			Label: label,
			Owner: owner,
			Type:  domain.DatasetType(dsType),
			URI:   dsURI,
			Tags:  parseTags(dsTags),
		})
		if err != nil {
			return err
		}
		printWarnings(res)
		fmt.Fprintf(cmd.OutOrStdout(), "Registered dataset %s\n", ds.ID)
		return nil
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List registered modules and operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		descriptors := rt.service.Modules().List()
		if len(descriptors) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No modules registered")
			return nil
		}
		rows := make([][]string, 0, len(descriptors))
		for _, d := range descriptors {
			ops := make([]string, 0, len(d.Operations))
			for name := range d.Operations {
				ops = append(ops, name)
			}
			sort.Strings(ops)
			rows = append(rows, []string{d.Key, d.Version, strings.Join(ops, ","), d.Title})
		}
		printTable(cmd.OutOrStdout(), []string{"key", "version", "operations", "title"}, rows)
		return nil
	},
}

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "List experiment records",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		experiments, err := rt.service.ListExperiments(cmd.Context())
		if err != nil {
			return err
		}
		if len(experiments) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No experiments found")
			return nil
		}
		rows := make([][]string, 0, len(experiments))
		for _, exp := range experiments {
			rows = append(rows, []string{exp.ID, exp.Title, exp.Owner, string(exp.Status), exp.CreatedAt.UTC().Format("2006-01-02 15:04:05")})
		}
		printTable(cmd.OutOrStdout(), []string{"id", "title", "owner", "status", "created"}, rows)
		return nil
	},
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List dataset references",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		datasets, err := rt.service.ListDatasets(cmd.Context())
		if err != nil {
			return err
		}
		if len(datasets) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No datasets found")
			return nil
		}
		rows := make([][]string, 0, len(datasets))
		for _, ds := range datasets {
			rows = append(rows, []string{ds.ID, ds.Label, string(ds.Type), ds.URI})
		}
		printTable(cmd.OutOrStdout(), []string{"id", "label", "type", "uri"}, rows)
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List job records",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		jobs, err := rt.service.ListJobs(cmd.Context())
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
			return nil
		}
		rows := make([][]string, 0, len(jobs))
		for _, job := range jobs {
			rows = append(rows, []string{job.ID, job.ModuleKey, job.Operation, string(job.Status), job.ExperimentID})
		}
		printTable(cmd.OutOrStdout(), []string{"id", "module", "operation", "status", "experiment"}, rows)
		return nil
	},
}

// printWarnings surfaces non-blocking rule violations on stderr.
func printWarnings(res domain.Result) {
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			fmt.Fprintf(os.Stderr, "warning: %s: %s\n", v.Rule, v.Message)
		}
	}
}

func init() {
	newExperimentCmd.Flags().StringVar(&expUser, "user", "", "Owner of the experiment")
	newExperimentCmd.Flags().StringVar(&expTitle, "title", "", "Experiment title")
	newExperimentCmd.Flags().StringVar(&expPurpose, "purpose", "", "What the experiment is for")
	newExperimentCmd.Flags().StringVar(&expTags, "tags", "", "Comma-separated tags")
	newExperimentCmd.Flags().StringVar(&expStatus, "status", string(domain.ExperimentStatusDraft), "Initial status")

	registerDatasetCmd.Flags().StringVar(&dsOwner, "owner", "", "Dataset owner")
	registerDatasetCmd.Flags().StringVar(&dsLabel, "label", "", "Dataset label")
	registerDatasetCmd.Flags().StringVar(&dsType, "type", string(domain.DatasetTypeExperimental), "Dataset type")
	registerDatasetCmd.Flags().StringVar(&dsURI, "uri", "", "Dataset URI")
	registerDatasetCmd.Flags().StringVar(&dsTags, "tags", "", "Comma-separated tags")
}
