package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martijn/snapkeep/internal/adapter/lockfile"
	"github.com/martijn/snapkeep/internal/api"
	"github.com/martijn/snapkeep/pkg/config"
)

const shutdownTimeout = 30 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the scheduler and API server",
	Long:  "Run the scheduler loop, retention cleanups and the REST API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		zlog := log.Logger

		lock, err := lockfile.Acquire(cfg.LockFile)
		if err != nil {
			var active *lockfile.ErrLockActive
			if errors.As(err, &active) {
				return fmt.Errorf("another snapkeep server is running: %w", err)
			}
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				zlog.Warn("failed to release lock", zap.String("path", lock.Path()), zap.Error(err))
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		services, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer services.Close()

		recovered, err := services.Coordinator.RecoverInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover interrupted executions: %w", err)
		}
		if recovered > 0 {
			zlog.Warn("marked executions left running by a previous process as failed", zap.Int("count", recovered))
		}

		cfg.Watch(func(next *config.Config) {
			if err := log.SetLevel(next.LogLevel); err != nil {
				zlog.Warn("failed to apply log level", zap.Error(err))
				return
			}
			zlog.Info("configuration reloaded", zap.String("log_level", next.LogLevel))
		}, func(err error) {
			zlog.Warn("configuration reload rejected", zap.Error(err))
		})

		server := api.NewServer(cfg, api.Services{
			Auth:         services.AuthService,
			Schedules:    services.ScheduleService,
			Executions:   services.ExecutionService,
			Backups:      services.BackupService,
			Retention:    services.RetentionService,
			Notification: services.NotificationService,
		}, zlog)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return services.Scheduler.Run(gctx)
		})
		g.Go(func() error {
			if err := server.Start(); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zlog.Info("shutting down")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				zlog.Error("server shutdown error", zap.Error(err))
			}
			if err := services.Coordinator.Shutdown(shutdownCtx); err != nil {
				zlog.Error("executions did not stop in time", zap.Error(err))
			}
			return nil
		})

		if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			zlog.Warn("failed to notify systemd", zap.Error(err))
		} else if sent {
			zlog.Debug("notified systemd of readiness")
		}
		zlog.Info("snapkeep is ready", zap.String("version", Version), zap.String("config", cfg.ConfigPath))

		if err := g.Wait(); err != nil {
			return err
		}
		zlog.Info("snapkeep stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
