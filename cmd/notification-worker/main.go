// Команда notification-worker читает задания из Kafka и отправляет
// уведомления покупателям.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/app"
)

const configEnv = "SWEETBAR_CONFIG"

type runner func(ctx context.Context, cfg app.Config) error

func newRootCommand(run runner) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "notification-worker",
		Short:         "Consume notification tasks and deliver email and WhatsApp messages",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv(configEnv)
			}
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			app.SetupLogging(cfg.LogLevel)

			log.WithFields(log.Fields{
				"brokers": cfg.KafkaBrokers,
				"topic":   cfg.KafkaNotificationTopic,
				"group":   cfg.KafkaConsumerGroup,
			}).Info("запускаем notification worker")

			if err := run(cmd.Context(), cfg); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("notification worker остановлен")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config (fallback: "+configEnv+")")

	return cmd
}

func main() {
	app.SetupLogging("info")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(app.RunNotificationWorker).ExecuteContext(ctx); err != nil {
		log.WithError(err).Fatal("notification worker завершился с ошибкой")
	}
}
