package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/notification"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// initNotificationConsumer подписывает потребителя заданий на topic уведомлений.
// Ошибки обработки после исчерпания попыток уходят в DLQ через dlqProducer.
func initNotificationConsumer(cfg Config, handler kafka.TaskHandler, dlqProducer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	return kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaNotificationTopic},
		kafka.NotificationHandler(handler, notification.IsPermanent),
		dlqProducer,
		cfg.KafkaMaxRetries,
		kafka.WithDLQTopic(cfg.KafkaDLQTopic),
		kafka.WithConsumerLogger(logger.WithField("layer", "kafka-consumer")),
	)
}
