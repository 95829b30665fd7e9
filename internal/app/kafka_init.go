package app

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer, если brokers заданы.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		if logger != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka producer closed")
	}
}

// consumerSet держит работающие consumer-группы всех трёх потоков.
type consumerSet struct {
	consumers []*kafka.Consumer
	logger    *log.Entry
}

// startConsumers поднимает consumer-группы всех трёх потоков с настраиваемым
// числом параллельных воркеров на каждый.
func startConsumers(ctx context.Context, cfg Config, deps *Dependencies) (*consumerSet, error) {
	brokers := cfg.BrokerList()
	logger := deps.Logger

	set := &consumerSet{logger: logger}

	deliveryHandler := func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParsePaymentEvent(message)
		if err != nil {
			return fmt.Errorf("%w: %v", kafka.ErrUnrecoverableMessage, err)
		}
		return deps.Processor.HandleDelivery(ctx, *event)
	}
	deadLetterHandler := func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParsePaymentEvent(message)
		if err != nil {
			// Конверт dead-letter может быть чужого формата, разберёт оператор.
			logger.WithFields(log.Fields{
				"topic":  message.Topic,
				"offset": message.Offset,
			}).Error("Нераспознанное dead-letter сообщение")
			return nil
		}
		return deps.Processor.HandleDeadLetter(ctx, *event)
	}

	groups := []struct {
		groupID string
		topic   string
		workers int
		handler kafka.MessageHandler
	}{
		{kafka.GroupPrimary, kafka.TopicPaymentEvents, cfg.PrimaryConcurrency, deliveryHandler},
		{kafka.GroupRetry, kafka.TopicPaymentRetry, cfg.RetryConcurrency, deliveryHandler},
		{kafka.GroupDeadLetter, kafka.TopicDeadLetter, cfg.DLQConcurrency, deadLetterHandler},
	}

	for _, group := range groups {
		for i := 0; i < group.workers; i++ {
			consumer, err := kafka.NewConsumerWithDLQ(brokers, group.groupID, []string{group.topic}, group.handler, deps.Producer)
			if err != nil {
				set.stop()
				return nil, fmt.Errorf("create consumer for %s: %w", group.topic, err)
			}
			if err := consumer.Start(ctx); err != nil {
				set.stop()
				return nil, fmt.Errorf("start consumer for %s: %w", group.topic, err)
			}
			set.consumers = append(set.consumers, consumer)
		}
		logger.WithFields(log.Fields{
			"group":   group.groupID,
			"topic":   group.topic,
			"workers": group.workers,
		}).Info("consumer group started")
	}

	return set, nil
}

func (s *consumerSet) stop() {
	for _, consumer := range s.consumers {
		if err := consumer.Stop(); err != nil {
			s.logger.WithError(err).Warn("failed to stop consumer")
		}
	}
	s.consumers = nil
}
