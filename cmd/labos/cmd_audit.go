package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var auditDay string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit chain operations",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the tamper-evident audit chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		results, err := rt.service.VerifyAudit(cmd.Context(), auditDay)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		broken := 0
		for _, res := range results {
			if res.Valid {
				fmt.Fprintf(out, "%s: ok (%d events)\n", res.Day, res.Events)
				continue
			}
			broken++
			fmt.Fprintf(out, "%s: BROKEN at line %d: %s\n", res.Day, res.Break.Line, res.Break.Reason)
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "no audit days recorded")
		}
		if broken > 0 {
			return fmt.Errorf("audit chain verification failed for %d day(s)", broken)
		}
		return nil
	},
}

func init() {
	auditVerifyCmd.Flags().StringVar(&auditDay, "day", "", "Verify a single day (YYYY-MM-DD); default verifies all days")
	auditCmd.AddCommand(auditVerifyCmd)
}
