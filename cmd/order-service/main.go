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

// newRootCommand собирает CLI сервиса. run подменяется в тестах.
func newRootCommand(run runner) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "order-service",
		Short:         "Order API, payment webhook and notification relay",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			app.SetupLogging(cfg.LogLevel)

			log.WithFields(log.Fields{
				"http_addr":      cfg.HTTPAddr,
				"grpc_addr":      cfg.GRPCAddr,
				"metrics_addr":   cfg.MetricsAddr,
				"storage_driver": cfg.StorageDriver,
				"kafka":          cfg.KafkaEnabled(),
			}).Info("запускаем OrderService")

			if err := run(cmd.Context(), cfg); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("OrderService остановлен")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config (fallback: "+configEnv+")")

	return cmd
}

// loadConfig читает конфигурацию из файла, указанного флагом или переменной окружения.
func loadConfig(path string) (app.Config, error) {
	if path == "" {
		path = os.Getenv(configEnv)
	}
	return app.LoadConfig(path)
}

func main() {
	app.SetupLogging("info")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(app.Run).ExecuteContext(ctx); err != nil {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}
}
