package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/domain"
	"github.com/paymenttech/payment-processor/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	defaultAPIBaseURL  = "http://localhost:8080"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	apiURL      string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type replayMessage struct {
	topic string
	key   string
	value []byte
}

// replayAction — решение по одному DLQ-сообщению.
type replayAction struct {
	kind          actionKind
	message       replayMessage
	transactionID string
}

type actionKind int

const (
	// actionSkip — сообщение нераспознано, пропускаем.
	actionSkip actionKind = iota
	// actionPublish — конверт consumer'а, оригинальные байты реплеятся как есть.
	actionPublish
	// actionReopen — эскалированный PaymentEvent, платёж переоткрывается через API.
	actionReopen
)

// consumerDLQPayload — конверт, в который consumer заворачивает unrecoverable
// сообщения. Оригинальные байты реплеятся как есть.
type consumerDLQPayload struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// paymentReopener переоткрывает эскалированный платёж через операторский API.
// Второе значение false означает, что платёж пропущен без ошибки: он уже жив
// или неизвестен сервису.
type paymentReopener interface {
	Reopen(ctx context.Context, transactionID string) (bool, error)
}

type httpReopener struct {
	baseURL string
	client  *http.Client
}

func (r *httpReopener) Reopen(ctx context.Context, transactionID string) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/payments/%s/reopen", r.baseURL, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false, fmt.Errorf("build reopen request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("call reopen endpoint: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusConflict:
		// Платёж уже жив: предыдущий запуск утилиты или дубликат в DLQ.
		log.WithField("transaction_id", transactionID).Warn("payment is not in failed state, skipping")
		return false, nil
	case http.StatusNotFound:
		log.WithField("transaction_id", transactionID).Warn("payment unknown to the service, skipping")
		return false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("reopen %s: unexpected status %d: %s",
			transactionID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, paymentReopener, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	reopener := &httpReopener{
		baseURL: cfg.apiURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	return client, consumer, producer, reopener, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: PAYPROC_KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetter, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicPaymentEvents, "target topic for replay")
	flag.StringVar(&cfg.apiURL, "api-url", "", "payment service base URL for reopening escalated payments (fallback: PAYPROC_API_URL)")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("PAYPROC_KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or PAYPROC_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return config{}, fmt.Errorf("source-topic is required")
	}
	if strings.TrimSpace(cfg.targetTopic) == "" {
		return config{}, fmt.Errorf("target-topic is required")
	}
	if strings.TrimSpace(cfg.apiURL) == "" {
		cfg.apiURL = os.Getenv("PAYPROC_API_URL")
	}
	cfg.apiURL = strings.TrimRight(strings.TrimSpace(cfg.apiURL), "/")
	if cfg.apiURL == "" {
		cfg.apiURL = defaultAPIBaseURL
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, reopener, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer, reopener)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer, reopener paymentReopener) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && (producer == nil || reopener == nil) {
		return fmt.Errorf("producer and reopener are required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var (
		processed int
		replayed  int
		reopened  int
		skipped   int
	)

	for _, partition := range partitions {
		if processed >= cfg.limit {
			break
		}

		remaining := cfg.limit - processed
		stats, err := processPartition(ctx, consumer, client, producer, reopener, cfg, partition, remaining)
		if err != nil {
			return err
		}

		processed += stats.processed
		replayed += stats.replayed
		reopened += stats.reopened
		skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": processed,
		"replayed":  replayed,
		"reopened":  reopened,
		"skipped":   skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	reopened  int
	skipped   int
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	reopener paymentReopener,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = newest - int64(limit)
		if startOffset < oldest {
			startOffset = oldest
		}
	}

	partitionConsumer, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = partitionConsumer.Close() }()

	endOffset := newest
	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-partitionConsumer.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-partitionConsumer.Messages():
			if !ok || msg == nil {
				return stats, nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= endOffset {
				return stats, nil
			}

			action := classifyMessage(msg, cfg.targetTopic)
			switch action.kind {
			case actionSkip:
				stats.skipped++
				log.WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
			case actionPublish:
				if cfg.execute {
					if err := publishReplay(producer, action.message); err != nil {
						return stats, fmt.Errorf("publish replay message: %w", err)
					}
				} else {
					log.WithFields(log.Fields{
						"partition":    msg.Partition,
						"offset":       msg.Offset,
						"target_topic": action.message.topic,
						"key":          action.message.key,
					}).Info("dlq replay candidate")
				}
				stats.replayed++
			case actionReopen:
				if cfg.execute {
					reopened, err := reopener.Reopen(ctx, action.transactionID)
					if err != nil {
						return stats, fmt.Errorf("reopen payment %s: %w", action.transactionID, err)
					}
					if reopened {
						stats.reopened++
					} else {
						stats.skipped++
					}
				} else {
					log.WithFields(log.Fields{
						"partition":      msg.Partition,
						"offset":         msg.Offset,
						"transaction_id": action.transactionID,
					}).Info("dlq reopen candidate")
					stats.reopened++
				}
			}

			stats.processed++

			if msg.Offset+1 >= endOffset {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	producerMessage := &sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	}

	_, _, err := producer.SendMessage(producerMessage)
	return err
}

// classifyMessage распознаёт два формата DLQ-сообщений. Конверт consumer'а
// с unrecoverable payload'ом реплеится в Kafka как есть. Эскалированный
// PaymentEvent напрямую в Kafka не возвращается: durable-статус платежа уже
// терминален, журнал повторов закрыт, и движок такую доставку проигнорирует.
// Вместо этого платёж переоткрывается через операторский API — сервис сам
// сбросит журнал и переопубликует событие с нулевым счётчиком попыток.
func classifyMessage(msg *sarama.ConsumerMessage, defaultTopic string) replayAction {
	var consumerPayload consumerDLQPayload
	if err := json.Unmarshal(msg.Value, &consumerPayload); err == nil && consumerPayload.OriginalValue != "" {
		targetTopic := strings.TrimSpace(consumerPayload.OriginalTopic)
		if targetTopic == "" {
			targetTopic = defaultTopic
		}
		return replayAction{
			kind: actionPublish,
			message: replayMessage{
				topic: targetTopic,
				key:   consumerPayload.OriginalKey,
				value: []byte(consumerPayload.OriginalValue),
			},
		}
	}

	var event domain.PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return replayAction{kind: actionSkip}
	}
	if strings.TrimSpace(event.TransactionID) == "" {
		return replayAction{kind: actionSkip}
	}

	return replayAction{kind: actionReopen, transactionID: event.TransactionID}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
