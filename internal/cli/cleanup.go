package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var (
	cleanupPolicyID int64
	cleanupDryRun   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Apply a retention policy",
	Long:  "Delete backups outside a retention policy. Without --policy the default policy is used.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutputFormat(); err != nil {
			return err
		}
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		policyID := cleanupPolicyID
		if policyID == 0 {
			policy, err := services.RetentionService.GetDefaultPolicy(cmd.Context())
			if err != nil {
				return err
			}
			policyID = policy.ID
		}

		report, err := services.RetentionService.RunCleanup(cmd.Context(), policyID, cleanupDryRun)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}

		if outputFormat == "yaml" {
			return writeYAML(os.Stdout, report)
		}

		verb := "Deleted"
		if report.DryRun {
			verb = "Would delete"
		}
		fmt.Printf("%s %d backup(s), kept %d\n", verb, len(report.Deleted), len(report.Kept))
		for _, id := range report.Deleted {
			fmt.Printf("  - %s\n", id)
		}

		if len(report.Failures) > 0 {
			ids := make([]string, 0, len(report.Failures))
			for id := range report.Failures {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			fmt.Printf("%d backup(s) could not be deleted:\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  ! %s: %s\n", id, report.Failures[id])
			}
			return fmt.Errorf("cleanup finished with %d failure(s)", len(ids))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Int64Var(&cleanupPolicyID, "policy", 0, "retention policy id (default policy when omitted)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")
	cleanupCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or yaml")
}
