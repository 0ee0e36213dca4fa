package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/guildtrack/tracker/internal/audit"
	"github.com/guildtrack/tracker/internal/backup"
	"github.com/guildtrack/tracker/internal/config"
	"github.com/guildtrack/tracker/internal/daemon"
	"github.com/guildtrack/tracker/internal/display"
	"github.com/guildtrack/tracker/internal/messaging"
	"github.com/guildtrack/tracker/internal/store"
	"github.com/guildtrack/tracker/internal/sweeper"
	"github.com/guildtrack/tracker/internal/verify"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Start the guild roster tracker service",
	Long: `Start the guild roster tracker service.

If no config file is specified, the tracker will look for config files in the
following locations:
  - ./config.yaml
  - ./config/config.yaml
  - /etc/guildtrack/config.yaml
  - ~/.config/guildtrack/config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			logrus.Fatalf("Failed to load configuration: %v", err)
		}

		if err := run(cfg); err != nil {
			logrus.Fatalf("Tracker service failed: %v", err)
		}
	},
}

func run(cfg *config.Config) error {
	rosterStore, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}

	messenger, err := messaging.NewClient(cfg.Slack.BotToken)
	if err != nil {
		return err
	}

	source := verify.NewClient(cfg.Verify)
	synchronizer := display.NewSynchronizer(rosterStore, messenger, cfg.Display)
	auditLog := audit.NewLogger(rosterStore, messenger)
	controller := sweeper.NewController(cfg, rosterStore, source, synchronizer, auditLog)
	backups := backup.NewRunner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Converge every group's display before the first sweep so a restart
	// repairs stale renderings immediately.
	controller.SyncAll(ctx)

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	if err := controller.Schedule(ctx, scheduler); err != nil {
		return err
	}
	if err := backups.Schedule(scheduler); err != nil {
		return err
	}

	scheduler.StartAsync()
	defer scheduler.Stop()

	server := daemon.NewServer(cfg, rosterStore, source, synchronizer, auditLog, backups)
	return server.Run(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Path to the configuration file (optional)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("Failed to execute command: %v", err)
	}
}
