package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// ErrUnrecoverableMessage помечает сообщение, которое нельзя обработать никогда
// (битый payload, неизвестный формат). Такие сообщения уходят в DLQ для ручного
// разбора и не перечитываются.
var ErrUnrecoverableMessage = errors.New("unrecoverable message")

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer представляет Kafka consumer группы одного потока.
// Для масштабирования потока приложение запускает несколько Consumer'ов
// с одним groupID: партиции распределяются между ними.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer // Producer для отправки unrecoverable сообщений в DLQ
}

// NewConsumer создает новый Kafka consumer
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler) (*Consumer, error) {
	return NewConsumerWithDLQ(brokers, groupID, topics, handler, nil)
}

// NewConsumerWithDLQ создает consumer с fallback'ом в Dead Letter Queue
// для сообщений, которые невозможно десериализовать.
func NewConsumerWithDLQ(brokers []string, groupID string, topics []string, handler MessageHandler, dlqProducer *Producer) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer:    consumer,
		topics:      topics,
		handler:     handler,
		logger:      log.WithFields(log.Fields{"component": "kafka-consumer", "group": groupID}),
		dlqProducer: dlqProducer,
	}, nil
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}

			// Проверяем, не отменен ли контекст
			if ctx.Err() != nil {
				return
			}
		}
	}()

	// Обработка ошибок
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения одной партиции. Порядок внутри партиции
// сохраняется; между партициями порядка нет, поэтому handlers опираются на
// durable-состояние, а не на порядок доставки.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Debug("received message")

			if err := c.handler(session.Context(), message); err != nil {
				if errors.Is(err, ErrUnrecoverableMessage) {
					// Битое сообщение перечитывать бессмысленно: в DLQ и дальше.
					if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
						c.logger.WithError(dlqErr).WithFields(log.Fields{
							"topic":  message.Topic,
							"offset": message.Offset,
						}).Error("failed to send unrecoverable message to DLQ")
					}
					session.MarkMessage(message, "")
					continue
				}

				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("message processing failed")
				// Не маркируем сообщение: at-least-once, будет доставлено повторно.
				continue
			}

			// Маркируем сообщение как обработанное
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// sendToDLQ отправляет unrecoverable сообщение в Dead Letter Queue.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	if c.dlqProducer == nil {
		return fmt.Errorf("dlq producer is not configured")
	}

	// Оригинальный payload сохраняется как есть: оператору нужны сырые байты.
	dlqMessage := map[string]interface{}{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
	}

	return c.dlqProducer.PublishEventWithHeaders(
		TopicDeadLetter,
		string(message.Key),
		dlqMessage,
		map[string]string{
			HeaderOriginalTopic: message.Topic,
			HeaderErrorMessage:  processingErr.Error(),
			HeaderFailedAt:      time.Now().UTC().Format(time.RFC3339),
		},
	)
}
