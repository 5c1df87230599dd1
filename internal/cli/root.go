package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/adapter/broker/mqtt"
	"github.com/martijn/snapkeep/internal/adapter/mailer"
	"github.com/martijn/snapkeep/internal/adapter/producer"
	"github.com/martijn/snapkeep/internal/adapter/storage"
	"github.com/martijn/snapkeep/internal/adapter/webhook"
	"github.com/martijn/snapkeep/internal/core/notify"
	"github.com/martijn/snapkeep/internal/core/repository"
	"github.com/martijn/snapkeep/internal/core/service"
	"github.com/martijn/snapkeep/internal/infrastructure/sqlite"
	"github.com/martijn/snapkeep/internal/logger"
	"github.com/martijn/snapkeep/pkg/config"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "dev"

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "snapkeep",
	Short: "Snapkeep - scheduled configuration backups",
	Long: `Snapkeep runs configuration backups on cron schedules and keeps them tidy.

It provides:
- Cron schedules with per-schedule timezones
- Retries with linear or exponential delays
- Grandfather-father-son retention policies
- Email and webhook notifications, MQTT execution events
- Local, S3 and WebDAV artifact storage
- REST API with client credential authentication`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Only the daemon logs to the console; one-shot commands print
		// their own output and log to the file alone.
		log, err = logger.New(logger.Options{
			Level: cfg.LogLevel,
			File:  cfg.LogFile,
			Quiet: cmd.Name() != "server",
		})
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("snapkeep", Version)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./snapkeep.yml, ~/.config/snapkeep/snapkeep.yml or /etc/snapkeep/snapkeep.yml)")
	rootCmd.AddCommand(versionCmd)
}

// Services holds all initialized services
type Services struct {
	DB           *sqlite.DB
	ScheduleRepo repository.ScheduleRepository
	PolicyRepo   repository.RetentionPolicyRepository

	AuthService         *service.AuthService
	ScheduleService     *service.ScheduleService
	ExecutionService    *service.ExecutionService
	BackupService       *service.BackupService
	RetentionService    *service.RetentionService
	NotificationService *service.NotificationService
	Coordinator         *service.ExecutionCoordinator
	Scheduler           *service.SchedulerLoop

	broker *mqtt.Broker
}

// initServices opens the database and wires every adapter and service from
// the loaded config.
func initServices(ctx context.Context) (*Services, error) {
	zlog := log.Logger

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	scheduleRepo := sqlite.NewScheduleRepository(db)
	executionRepo := sqlite.NewExecutionRepository(db)
	backupRepo := sqlite.NewBackupRepository(db)
	policyRepo := sqlite.NewRetentionPolicyRepository(db)
	notificationRepo := sqlite.NewNotificationRepository(db)
	clientRepo := sqlite.NewClientRepository(db)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	artifactProducer, err := producer.New(cfg.Producer, store, zlog)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize producer: %w", err)
	}

	// A nil *Mailer must not reach the dispatcher as a non-nil interface.
	var email notify.EmailSender
	if m := mailer.New(cfg.SMTP); m != nil {
		email = m
	}
	dispatcher := notify.NewDispatcher(notificationRepo, email, webhook.New(cfg.Webhook, zlog), zlog)

	s := &Services{DB: db, ScheduleRepo: scheduleRepo, PolicyRepo: policyRepo}

	var publisher service.EventPublisher
	if cfg.Broker.URL != "" {
		broker, err := mqtt.NewBroker(
			mqtt.WithURL(cfg.Broker.URL),
			mqtt.WithClientID(cfg.Broker.ClientID),
			mqtt.WithLogger(zlog.Named("mqtt")),
		)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid broker config: %w", err)
		}
		// Events are best effort: an unreachable broker is logged and
		// execution carries on without publishing.
		if err := broker.Connect(ctx); err != nil {
			zlog.Warn("mqtt broker unavailable, execution events disabled", zap.Error(err))
		} else {
			s.broker = broker
			publisher = mqtt.NewExecutionPublisher(broker, cfg.Broker.TopicPrefix)
		}
	}

	strategy, err := service.ParseRetryStrategy(cfg.Scheduler.RetryStrategy)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.RetentionService = service.NewRetentionService(policyRepo, scheduleRepo, backupRepo, executionRepo, store, zlog)
	s.Coordinator = service.NewExecutionCoordinator(scheduleRepo, executionRepo, artifactProducer, s.RetentionService, dispatcher, publisher, zlog, service.CoordinatorOptions{
		ProducerTimeout: cfg.Scheduler.ProducerTimeout,
		MaxConcurrent:   int64(cfg.Scheduler.MaxConcurrent),
		Retry: service.RetryPolicy{
			Strategy: strategy,
			Base:     cfg.Scheduler.RetryBaseDelay,
			Max:      cfg.Scheduler.RetryMaxDelay,
		},
	})
	s.AuthService = service.NewAuthService(clientRepo, cfg.JWTSecretKey, cfg.JWTAlgorithm, cfg.TokenTTL)
	s.ScheduleService = service.NewScheduleService(scheduleRepo, executionRepo, policyRepo, s.Coordinator, dispatcher, zlog, cfg.Scheduler.DefaultTimezone)
	s.ExecutionService = service.NewExecutionService(executionRepo)
	s.BackupService = service.NewBackupService(backupRepo, executionRepo, store)
	s.NotificationService = service.NewNotificationService(notificationRepo, scheduleRepo)
	s.Scheduler = service.NewSchedulerLoop(scheduleRepo, policyRepo, s.Coordinator, s.RetentionService, zlog, cfg.Scheduler.TickInterval, cfg.Scheduler.DefaultTimezone)

	return s, nil
}

// Close closes all resources
func (s *Services) Close() {
	if s.broker != nil {
		_ = s.broker.Disconnect()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
