package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/repository"
)

var (
	backupsScheduleID int64
	backupsLimit      int
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Inspect stored backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		filter := repository.BackupFilter{ListFilter: util.ListFilter{Page: 1, PerPage: backupsLimit}}
		if backupsScheduleID > 0 {
			filter.Filters = []util.QueryFilter{util.Eq("schedule_id", backupsScheduleID)}
		}

		backups, err := services.BackupService.ListBackups(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		if len(backups) == 0 {
			fmt.Println("No backups found")
			return nil
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tSCHEDULE\tCATEGORY\tCREATED\tSIZE\tITEMS")
		for _, b := range backups {
			schedule := "-"
			if b.ScheduleID != nil {
				schedule = fmt.Sprint(*b.ScheduleID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
				b.ID,
				schedule,
				b.Category,
				b.CreatedAt.Format("2006-01-02 15:04:05"),
				humanize.Bytes(uint64(b.SizeBytes)),
				b.ItemCount,
			)
		}
		return w.Flush()
	},
}

var backupsDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a backup and its stored payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		if !confirm(fmt.Sprintf("Are you sure you want to delete backup '%s'?", args[0])) {
			fmt.Println("Cancelled")
			return nil
		}
		if err := services.BackupService.DeleteBackup(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Backup '%s' deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsDeleteCmd)

	backupsListCmd.Flags().Int64Var(&backupsScheduleID, "schedule", 0, "only backups of this schedule id")
	backupsListCmd.Flags().IntVar(&backupsLimit, "limit", 50, "maximum number of backups to show")
}
