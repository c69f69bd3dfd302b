package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Провайдеры email.
const (
	EmailProviderSendGrid = "sendgrid"
	EmailProviderLog      = "log"
)

const envPrefix = "SWEETBAR"

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	KafkaBrokers           []string
	KafkaNotificationTopic string
	KafkaDLQTopic          string
	KafkaConsumerGroup     string
	KafkaMaxRetries        int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	MercadoPagoBaseURL    string
	MercadoPagoSecretFile string
	MercadoPagoTokenEnv   string
	CredentialsTTL        time.Duration

	EmailProvider      string
	SendGridBaseURL    string
	SendGridSecretFile string
	SendGridKeyEnv     string
	EmailFrom          string
	EmailFromName      string
	EmailReplyTo       string

	TwilioBaseURL     string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFrom        string
	EvolutionURL      string
	EvolutionAPIKey   string
	EvolutionInstance string

	LedgerPath string

	OTLPEndpoint string
	ServiceName  string
}

// DefaultConfig возвращает настройки для локального запуска без внешней инфраструктуры.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    20,

		KafkaNotificationTopic: "sweetbar.notifications.requested",
		KafkaDLQTopic:          "sweetbar.notifications.dlq",
		KafkaConsumerGroup:     "sweetbar-notification-worker",
		KafkaMaxRetries:        3,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,

		MercadoPagoTokenEnv: "MERCADOPAGO_ACCESS_TOKEN",

		EmailProvider:  EmailProviderLog,
		SendGridKeyEnv: "SENDGRID_API_KEY",

		ServiceName: "sweetbar-oms",
	}
}

// LoadConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл
// (если path не пустой), затем переменные окружения SWEETBAR_*.
func LoadConfig(path string) (Config, error) {
	v := newViper(DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTPAddr:    v.GetString("http.addr"),
		GRPCAddr:    v.GetString("grpc.addr"),
		MetricsAddr: v.GetString("metrics.addr"),
		LogLevel:    v.GetString("log.level"),

		StorageDriver:       strings.ToLower(v.GetString("storage.driver")),
		PostgresDSN:         v.GetString("postgres.dsn"),
		PostgresAutoMigrate: v.GetBool("postgres.auto_migrate"),
		PostgresMaxConns:    v.GetInt("postgres.max_conns"),

		KafkaBrokers:           splitList(v.GetStringSlice("kafka.brokers")),
		KafkaNotificationTopic: v.GetString("kafka.notification_topic"),
		KafkaDLQTopic:          v.GetString("kafka.dlq_topic"),
		KafkaConsumerGroup:     v.GetString("kafka.consumer_group"),
		KafkaMaxRetries:        v.GetInt("kafka.max_retries"),

		OutboxPollInterval: v.GetDuration("outbox.poll_interval"),
		OutboxBatchSize:    v.GetInt("outbox.batch_size"),
		OutboxMaxAttempts:  v.GetInt("outbox.max_attempts"),
		OutboxRetryDelay:   v.GetDuration("outbox.retry_delay"),
		OutboxMaxPending:   v.GetInt("outbox.max_pending"),

		MercadoPagoBaseURL:    v.GetString("mercadopago.base_url"),
		MercadoPagoSecretFile: v.GetString("mercadopago.secret_file"),
		MercadoPagoTokenEnv:   v.GetString("mercadopago.token_env"),
		CredentialsTTL:        v.GetDuration("credentials.ttl"),

		EmailProvider:      strings.ToLower(v.GetString("notification.email.provider")),
		SendGridBaseURL:    v.GetString("notification.email.sendgrid_base_url"),
		SendGridSecretFile: v.GetString("notification.email.sendgrid_secret_file"),
		SendGridKeyEnv:     v.GetString("notification.email.sendgrid_key_env"),
		EmailFrom:          v.GetString("notification.email.from"),
		EmailFromName:      v.GetString("notification.email.from_name"),
		EmailReplyTo:       v.GetString("notification.email.reply_to"),

		TwilioBaseURL:     v.GetString("notification.twilio.base_url"),
		TwilioAccountSID:  v.GetString("notification.twilio.account_sid"),
		TwilioAuthToken:   v.GetString("notification.twilio.auth_token"),
		TwilioFrom:        v.GetString("notification.twilio.from"),
		EvolutionURL:      v.GetString("notification.evolution.url"),
		EvolutionAPIKey:   v.GetString("notification.evolution.api_key"),
		EvolutionInstance: v.GetString("notification.evolution.instance"),

		LedgerPath: v.GetString("notification.ledger_path"),

		OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
		ServiceName:  v.GetString("telemetry.service_name"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(defaults Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", defaults.HTTPAddr)
	v.SetDefault("grpc.addr", defaults.GRPCAddr)
	v.SetDefault("metrics.addr", defaults.MetricsAddr)
	v.SetDefault("log.level", defaults.LogLevel)
	v.SetDefault("storage.driver", defaults.StorageDriver)
	v.SetDefault("postgres.dsn", defaults.PostgresDSN)
	v.SetDefault("postgres.auto_migrate", defaults.PostgresAutoMigrate)
	v.SetDefault("postgres.max_conns", defaults.PostgresMaxConns)
	v.SetDefault("kafka.brokers", defaults.KafkaBrokers)
	v.SetDefault("kafka.notification_topic", defaults.KafkaNotificationTopic)
	v.SetDefault("kafka.dlq_topic", defaults.KafkaDLQTopic)
	v.SetDefault("kafka.consumer_group", defaults.KafkaConsumerGroup)
	v.SetDefault("kafka.max_retries", defaults.KafkaMaxRetries)
	v.SetDefault("outbox.poll_interval", defaults.OutboxPollInterval)
	v.SetDefault("outbox.batch_size", defaults.OutboxBatchSize)
	v.SetDefault("outbox.max_attempts", defaults.OutboxMaxAttempts)
	v.SetDefault("outbox.retry_delay", defaults.OutboxRetryDelay)
	v.SetDefault("outbox.max_pending", defaults.OutboxMaxPending)
	v.SetDefault("mercadopago.base_url", defaults.MercadoPagoBaseURL)
	v.SetDefault("mercadopago.secret_file", defaults.MercadoPagoSecretFile)
	v.SetDefault("mercadopago.token_env", defaults.MercadoPagoTokenEnv)
	v.SetDefault("credentials.ttl", defaults.CredentialsTTL)
	v.SetDefault("notification.email.provider", defaults.EmailProvider)
	v.SetDefault("notification.email.sendgrid_base_url", defaults.SendGridBaseURL)
	v.SetDefault("notification.email.sendgrid_secret_file", defaults.SendGridSecretFile)
	v.SetDefault("notification.email.sendgrid_key_env", defaults.SendGridKeyEnv)
	v.SetDefault("notification.email.from", defaults.EmailFrom)
	v.SetDefault("notification.email.from_name", defaults.EmailFromName)
	v.SetDefault("notification.email.reply_to", defaults.EmailReplyTo)
	v.SetDefault("notification.twilio.base_url", defaults.TwilioBaseURL)
	v.SetDefault("notification.twilio.account_sid", defaults.TwilioAccountSID)
	v.SetDefault("notification.twilio.auth_token", defaults.TwilioAuthToken)
	v.SetDefault("notification.twilio.from", defaults.TwilioFrom)
	v.SetDefault("notification.evolution.url", defaults.EvolutionURL)
	v.SetDefault("notification.evolution.api_key", defaults.EvolutionAPIKey)
	v.SetDefault("notification.evolution.instance", defaults.EvolutionInstance)
	v.SetDefault("notification.ledger_path", defaults.LedgerPath)
	v.SetDefault("telemetry.otlp_endpoint", defaults.OTLPEndpoint)
	v.SetDefault("telemetry.service_name", defaults.ServiceName)

	return v
}

// splitList принимает и YAML-список, и строку "a,b" из окружения.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// KafkaEnabled сообщает, что задания уходят через брокер.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// validateSharedStorage: с Kafka задания читает отдельный процесс
// notification-worker, и заказы должны лежать в общей базе.
func (c Config) validateSharedStorage() error {
	if c.KafkaEnabled() && c.StorageDriver != StorageDriverPostgres {
		return fmt.Errorf("kafka.brokers requires postgres storage, got %q", c.StorageDriver)
	}
	return nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres.dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	switch c.EmailProvider {
	case EmailProviderSendGrid, EmailProviderLog:
	default:
		errs = append(errs, fmt.Errorf("unsupported email provider %q", c.EmailProvider))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be > 0"))
	}
	if err := c.validateSharedStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
