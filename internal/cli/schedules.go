package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

// scheduleView is the yaml shape of a schedule and its history.
type scheduleView struct {
	ID              int64           `yaml:"id"`
	Name            string          `yaml:"name"`
	Cron            string          `yaml:"cron"`
	Timezone        string          `yaml:"timezone"`
	Enabled         bool            `yaml:"enabled"`
	BackupType      string          `yaml:"backup_type"`
	Categories      []string        `yaml:"categories,omitempty"`
	RetentionPolicy *int64          `yaml:"retention_policy_id,omitempty"`
	LastRunAt       *time.Time      `yaml:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `yaml:"next_run_at,omitempty"`
	Stats           *statsView      `yaml:"stats,omitempty"`
	Recent          []executionView `yaml:"recent_executions,omitempty"`
}

type statsView struct {
	PeriodDays  int     `yaml:"period_days"`
	Total       int     `yaml:"total"`
	Successful  int     `yaml:"successful"`
	Failed      int     `yaml:"failed"`
	SuccessRate float64 `yaml:"success_rate"`
	AvgDuration string  `yaml:"avg_duration"`
}

type executionView struct {
	ID         int64      `yaml:"id"`
	Kind       string     `yaml:"kind"`
	Status     string     `yaml:"status"`
	RetryCount int        `yaml:"retry_count"`
	StartedAt  time.Time  `yaml:"started_at"`
	FinishedAt *time.Time `yaml:"finished_at,omitempty"`
	BackupID   *string    `yaml:"backup_id,omitempty"`
	Size       string     `yaml:"size,omitempty"`
	Error      *string    `yaml:"error,omitempty"`
}

func toScheduleView(s *domain.Schedule) scheduleView {
	return scheduleView{
		ID:              s.ID,
		Name:            s.Name,
		Cron:            s.CronExpression,
		Timezone:        s.Timezone,
		Enabled:         s.Enabled,
		BackupType:      string(s.BackupType),
		Categories:      s.Categories,
		RetentionPolicy: s.RetentionPolicyID,
		LastRunAt:       s.LastRunAt,
		NextRunAt:       s.NextRunAt,
	}
}

func toExecutionView(e *domain.Execution) executionView {
	v := executionView{
		ID:         e.ID,
		Kind:       string(e.Kind),
		Status:     string(e.Status),
		RetryCount: e.RetryCount,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		BackupID:   e.BackupID,
		Error:      e.ErrorMessage,
	}
	if e.SizeBytes != nil {
		v.Size = humanize.Bytes(uint64(*e.SizeBytes))
	}
	return v
}

// resolveSchedule accepts a numeric id or a schedule name.
func resolveSchedule(ctx context.Context, services *Services, ref string) (*domain.Schedule, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return services.ScheduleService.GetSchedule(ctx, id)
	}
	return services.ScheduleService.GetScheduleByName(ctx, ref)
}

var schedulesCmd = &cobra.Command{
	Use:     "schedules",
	Aliases: []string{"schedule"},
	Short:   "Inspect and control backup schedules",
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutputFormat(); err != nil {
			return err
		}
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		filter := repository.ScheduleFilter{ListFilter: util.ListFilter{
			Order: []util.OrderClause{{Field: "name", Direction: util.OrderAsc}},
		}}
		schedules, err := services.ScheduleService.ListSchedules(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list schedules: %w", err)
		}

		if outputFormat == "yaml" {
			views := make([]scheduleView, len(schedules))
			for i, s := range schedules {
				views[i] = toScheduleView(s)
			}
			return writeYAML(os.Stdout, views)
		}

		if len(schedules) == 0 {
			fmt.Println("No schedules found")
			return nil
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tCRON\tTIMEZONE\tENABLED\tLAST RUN\tNEXT RUN")
		for _, s := range schedules {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
				s.ID,
				s.Name,
				s.CronExpression,
				s.Timezone,
				s.Enabled,
				relative(s.LastRunAt),
				relative(s.NextRunAt),
			)
		}
		return w.Flush()
	},
}

var schedulesStatusCmd = &cobra.Command{
	Use:   "status <id|name>",
	Short: "Show a schedule with its recent executions and statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutputFormat(); err != nil {
			return err
		}
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		schedule, err := resolveSchedule(cmd.Context(), services, args[0])
		if err != nil {
			return err
		}
		status, err := services.ScheduleService.GetScheduleStatus(cmd.Context(), schedule.ID)
		if err != nil {
			return err
		}

		view := toScheduleView(status.Schedule)
		avg := status.Stats.AvgDurationSeconds
		view.Stats = &statsView{
			PeriodDays:  status.Stats.PeriodDays,
			Total:       status.Stats.Total,
			Successful:  status.Stats.Successful,
			Failed:      status.Stats.Failed,
			SuccessRate: status.Stats.SuccessRate,
			AvgDuration: formatDuration(&avg),
		}
		for _, e := range status.RecentExecutions {
			view.Recent = append(view.Recent, toExecutionView(e))
		}

		if outputFormat == "yaml" {
			return writeYAML(os.Stdout, view)
		}

		fmt.Printf("Schedule:   %s (id %d)\n", view.Name, view.ID)
		fmt.Printf("Cron:       %s %s\n", view.Cron, view.Timezone)
		fmt.Printf("Enabled:    %t\n", view.Enabled)
		fmt.Printf("Type:       %s\n", view.BackupType)
		if len(view.Categories) > 0 {
			fmt.Printf("Categories: %s\n", strings.Join(view.Categories, ", "))
		}
		fmt.Printf("Last run:   %s\n", relative(view.LastRunAt))
		fmt.Printf("Next run:   %s\n", relative(view.NextRunAt))
		fmt.Printf("\nLast %d days: %d runs, %d ok, %d failed (%.1f%%), average %s\n",
			view.Stats.PeriodDays, view.Stats.Total, view.Stats.Successful, view.Stats.Failed,
			view.Stats.SuccessRate, view.Stats.AvgDuration)

		if len(status.RecentExecutions) == 0 {
			return nil
		}
		fmt.Println()
		w := newTable()
		fmt.Fprintln(w, "EXECUTION\tKIND\tSTATUS\tSTARTED\tDURATION\tBACKUP\tSIZE")
		for _, e := range status.RecentExecutions {
			size := "-"
			if e.SizeBytes != nil {
				size = humanize.Bytes(uint64(*e.SizeBytes))
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID,
				e.Kind,
				e.Status,
				humanize.Time(e.StartedAt),
				formatDuration(e.DurationSeconds),
				orDash(e.BackupID),
				size,
			)
		}
		return w.Flush()
	},
}

var schedulesTriggerCmd = &cobra.Command{
	Use:   "trigger <id|name>",
	Short: "Run a schedule now",
	Long:  "Start a manual execution in this process and wait for it to finish. Interrupting records the execution as failed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		services, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer services.Close()

		schedule, err := resolveSchedule(ctx, services, args[0])
		if err != nil {
			return err
		}
		execution, err := services.ScheduleService.TriggerManual(ctx, schedule.ID, "cli")
		if err != nil {
			return err
		}
		fmt.Printf("Execution %d started for schedule '%s'\n", execution.ID, schedule.Name)

		done := make(chan struct{})
		go func() {
			services.Coordinator.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			fmt.Println("Interrupted, stopping execution...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := services.Coordinator.Shutdown(shutdownCtx); err != nil {
				return err
			}
		}

		final, err := services.ExecutionService.GetExecution(context.Background(), execution.ID)
		if err != nil {
			return err
		}
		switch final.Status {
		case domain.ExecutionStatusCompleted:
			size := int64(0)
			if final.SizeBytes != nil {
				size = *final.SizeBytes
			}
			fmt.Printf("Completed in %s: backup %s (%s)\n",
				formatDuration(final.DurationSeconds), orDash(final.BackupID), humanize.Bytes(uint64(size)))
			return nil
		default:
			return fmt.Errorf("execution %d %s after %d retries: %s", final.ID, final.Status, final.RetryCount, orDash(final.ErrorMessage))
		}
	},
}

func newSetEnabledCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id|name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := initServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()

			schedule, err := resolveSchedule(cmd.Context(), services, args[0])
			if err != nil {
				return err
			}
			updated, err := services.ScheduleService.SetEnabled(cmd.Context(), schedule.ID, enabled)
			if err != nil {
				return err
			}

			if enabled {
				fmt.Printf("Schedule '%s' enabled, next run %s\n", updated.Name, relative(updated.NextRunAt))
			} else {
				fmt.Printf("Schedule '%s' disabled\n", updated.Name)
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(schedulesCmd)
	schedulesCmd.AddCommand(schedulesListCmd)
	schedulesCmd.AddCommand(schedulesStatusCmd)
	schedulesCmd.AddCommand(schedulesTriggerCmd)
	schedulesCmd.AddCommand(newSetEnabledCmd("enable", "Enable a schedule", true))
	schedulesCmd.AddCommand(newSetEnabledCmd("disable", "Disable a schedule", false))

	schedulesCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or yaml")
}
