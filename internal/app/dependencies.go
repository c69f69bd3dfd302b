package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/credentials"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/metrics"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/payment/mercadopago"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/notification"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/ordering"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/outbox"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/reconciliation"
)

// Dependencies содержит сервисы приложения поверх выбранных хранилищ.
type Dependencies struct {
	Store      domain.OrderStore
	OutboxRepo domain.OutboxRepository
	Metrics    *metrics.LifecycleMetrics
	Orders     *ordering.Service
	Reconciler *reconciliation.Service
	Logger     *log.Entry
}

// NewDependencies собирает сервисы заказов и сверки платежей.
func NewDependencies(cfg Config, store domain.OrderStore, outboxRepo domain.OutboxRepository, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	lifecycle := metrics.NewLifecycleMetrics()

	processor := mercadopago.NewClient(
		cfg.MercadoPagoBaseURL,
		processorCredentials(cfg, logger),
		mercadopago.WithLogger(logger.WithField("layer", "mercadopago")),
	)
	trigger := outbox.NewTrigger(outboxRepo, logger.WithField("layer", "notification-trigger"))

	return &Dependencies{
		Store:      store,
		OutboxRepo: outboxRepo,
		Metrics:    lifecycle,
		Orders: ordering.NewService(store,
			ordering.WithLogger(logger.WithField("layer", "ordering")),
			ordering.WithMetrics(lifecycle),
		),
		Reconciler: reconciliation.NewService(processor, store, trigger,
			reconciliation.WithLogger(logger.WithField("layer", "reconciliation")),
			reconciliation.WithMetrics(lifecycle),
		),
		Logger: logger,
	}
}

// newTaskConsumer собирает диспетчер уведомлений и идемпотентного потребителя заданий.
func newTaskConsumer(cfg Config, store domain.OrderStore, ledger domain.DeliveryLedger, lifecycle *metrics.LifecycleMetrics, logger *log.Entry) *notification.TaskConsumer {
	dispatcher := notification.NewDispatcher(
		store,
		newEmailSender(cfg, logger),
		notification.NewChatSender(notification.ChatConfig{
			TwilioBaseURL:     cfg.TwilioBaseURL,
			TwilioAccountSID:  cfg.TwilioAccountSID,
			TwilioAuthToken:   cfg.TwilioAuthToken,
			TwilioFrom:        cfg.TwilioFrom,
			EvolutionURL:      cfg.EvolutionURL,
			EvolutionAPIKey:   cfg.EvolutionAPIKey,
			EvolutionInstance: cfg.EvolutionInstance,
		}, nil, logger.WithField("layer", "whatsapp")),
		notification.WithLogger(logger.WithField("layer", "dispatcher")),
		notification.WithMetrics(lifecycle),
	)

	return notification.NewTaskConsumer(dispatcher, ledger,
		notification.WithConsumerLogger(logger.WithField("layer", "notification-consumer")),
		notification.WithConsumerMetrics(lifecycle),
	)
}

func newEmailSender(cfg Config, logger *log.Entry) domain.EmailSender {
	if cfg.EmailProvider != EmailProviderSendGrid {
		return notification.NewLogEmailSender(logger.WithField("layer", "email-log"))
	}

	creds := credentials.NewCachedProvider(
		secretResolver(cfg.SendGridSecretFile, cfg.SendGridKeyEnv, "sendgrid_api_key", "SENDGRID_API_KEY"),
		cfg.CredentialsTTL,
		credentials.WithName("sendgrid"),
		credentials.WithLogger(logger.WithField("layer", "credentials")),
	)
	return notification.NewSendGridSender(notification.EmailConfig{
		BaseURL:   cfg.SendGridBaseURL,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
		ReplyTo:   cfg.EmailReplyTo,
	}, creds, nil, logger.WithField("layer", "sendgrid"))
}

func processorCredentials(cfg Config, logger *log.Entry) credentials.Provider {
	return credentials.NewCachedProvider(
		secretResolver(cfg.MercadoPagoSecretFile, cfg.MercadoPagoTokenEnv, "access_token", "MERCADOPAGO_ACCESS_TOKEN"),
		cfg.CredentialsTTL,
		credentials.WithName("mercadopago"),
		credentials.WithLogger(logger.WithField("layer", "credentials")),
	)
}

// secretResolver читает секрет сначала из файла, затем из окружения.
func secretResolver(file, env string, keys ...string) credentials.Resolver {
	var chain credentials.Chain
	if file != "" {
		chain = append(chain, credentials.FileResolver{Path: file, Keys: keys})
	}
	if env != "" {
		chain = append(chain, credentials.EnvResolver{Name: env})
	}
	return chain
}
