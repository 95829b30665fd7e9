package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"

	"github.com/paymenttech/payment-processor/internal/domain"
)

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestClassifyMessage_ConsumerDLQPayload(t *testing.T) {
	payload := map[string]any{
		"original_topic": "payment-events",
		"original_key":   "tx-1",
		"original_value": `{"transaction_id":"tx-1"}`,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	action := classifyMessage(&sarama.ConsumerMessage{Value: raw}, "fallback-topic")
	if action.kind != actionPublish {
		t.Fatalf("expected publish action, got %d", action.kind)
	}
	if action.message.topic != "payment-events" {
		t.Fatalf("unexpected topic: %s", action.message.topic)
	}
	if action.message.key != "tx-1" {
		t.Fatalf("unexpected key: %s", action.message.key)
	}
	if string(action.message.value) != `{"transaction_id":"tx-1"}` {
		t.Fatalf("unexpected replay value: %s", string(action.message.value))
	}
}

func TestClassifyMessage_EnvelopeWithoutTopicUsesDefault(t *testing.T) {
	raw := []byte(`{"original_key":"tx-9","original_value":"{}"}`)

	action := classifyMessage(&sarama.ConsumerMessage{Value: raw}, "payment-events")
	if action.kind != actionPublish {
		t.Fatalf("expected publish action, got %d", action.kind)
	}
	if action.message.topic != "payment-events" {
		t.Fatalf("expected default topic, got %s", action.message.topic)
	}
}

func TestClassifyMessage_EscalatedEventRequiresReopen(t *testing.T) {
	event := domain.PaymentEvent{
		TransactionID:      "tx-42",
		IdempotencyKey:     "key-42",
		Amount:             decimal.RequireFromString("150.25"),
		Currency:           "EUR",
		SourceAccount:      "acc-src",
		DestinationAccount: "acc-dst",
		Status:             domain.PaymentStatusFailed,
		Timestamp:          time.Now().UTC(),
		RetryCount:         5,
		FailureReason:      "provider declined",
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event failed: %v", err)
	}

	// Эскалированное событие нельзя просто вернуть в Kafka: durable-статус
	// платежа уже терминален, и такую доставку движок проигнорирует.
	action := classifyMessage(&sarama.ConsumerMessage{Value: raw}, "payment-events")
	if action.kind != actionReopen {
		t.Fatalf("expected reopen action, got %d", action.kind)
	}
	if action.transactionID != "tx-42" {
		t.Fatalf("unexpected transaction id: %s", action.transactionID)
	}
}

func TestClassifyMessage_EventWithoutTransactionID(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: []byte(`{"currency":"EUR","retry_count":3}`)}

	if action := classifyMessage(message, "payment-events"); action.kind != actionSkip {
		t.Fatalf("expected skip action, got %d", action.kind)
	}
}

func TestClassifyMessage_UnknownPayload(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}

	if action := classifyMessage(message, "payment-events"); action.kind != actionSkip {
		t.Fatalf("expected skip action, got %d", action.kind)
	}
}

func TestHTTPReopener(t *testing.T) {
	var gotPath, gotMethod string
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"retry_scheduled"}`))
	}))
	defer server.Close()

	reopener := &httpReopener{baseURL: server.URL, client: server.Client()}

	reopened, err := reopener.Reopen(context.Background(), "tx-42")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened {
		t.Fatal("expected reopened=true for 200")
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("unexpected method: %s", gotMethod)
	}
	if gotPath != "/api/v1/payments/tx-42/reopen" {
		t.Fatalf("unexpected path: %s", gotPath)
	}

	status = http.StatusConflict
	reopened, err = reopener.Reopen(context.Background(), "tx-42")
	if err != nil {
		t.Fatalf("conflict must not be an error: %v", err)
	}
	if reopened {
		t.Fatal("expected reopened=false for 409")
	}

	status = http.StatusNotFound
	reopened, err = reopener.Reopen(context.Background(), "tx-missing")
	if err != nil {
		t.Fatalf("not-found must not be an error: %v", err)
	}
	if reopened {
		t.Fatal("expected reopened=false for 404")
	}

	status = http.StatusInternalServerError
	if _, err := reopener.Reopen(context.Background(), "tx-42"); err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=payment-dlq",
		"-target-topic=payment-events",
		"-api-url=http://payments:8080/",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.apiURL != "http://payments:8080" {
			t.Fatalf("expected trailing slash trimmed, got %q", cfg.apiURL)
		}
		if cfg.limit != 10 {
			t.Fatalf("unexpected limit: %d", cfg.limit)
		}
		if !cfg.execute {
			t.Fatal("expected execute=true")
		}
		if !cfg.fromNewest {
			t.Fatal("expected fromNewest=true")
		}
		if cfg.idleTimeout.Seconds() != 3 {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
	})
}

func TestReadConfig_APIURLFallbacks(t *testing.T) {
	t.Setenv("PAYPROC_API_URL", "")
	withFlagArgs(t, []string{"-brokers=broker:9092"}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if cfg.apiURL != defaultAPIBaseURL {
			t.Fatalf("expected default api url, got %q", cfg.apiURL)
		}
	})

	t.Setenv("PAYPROC_API_URL", "http://payments.internal:8080/")
	withFlagArgs(t, []string{"-brokers=broker:9092"}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if cfg.apiURL != "http://payments.internal:8080" {
			t.Fatalf("expected env api url, got %q", cfg.apiURL)
		}
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	withFlagArgs(t, []string{"-brokers="}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "kafka brokers are required") {
			t.Fatalf("expected brokers validation error, got: %v", err)
		}
	})

	withFlagArgs(t, []string{"-brokers=broker:9092", "-source-topic="}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "source-topic is required") {
			t.Fatalf("expected source-topic validation error, got: %v", err)
		}
	})

	withFlagArgs(t, []string{"-brokers=broker:9092", "-target-topic="}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "target-topic is required") {
			t.Fatalf("expected target-topic validation error, got: %v", err)
		}
	})

	withFlagArgs(t, []string{"-brokers=broker:9092", "-limit=0"}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "limit must be > 0") {
			t.Fatalf("expected limit validation error, got: %v", err)
		}
	})

	withFlagArgs(t, []string{"-brokers=broker:9092", "-idle-timeout=0s"}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "idle-timeout must be > 0") {
			t.Fatalf("expected idle-timeout validation error, got: %v", err)
		}
	})
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	err := publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)})
	if err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", producer.calls)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != "topic" {
		t.Fatalf("unexpected last message: %+v", producer.lastMsg)
	}

	producer.sendErr = errors.New("send failed")
	err = publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)})
	if err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func dlqConsumerMessage(partition int32, offset int64, key string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Partition: partition,
		Offset:    offset,
		Value: []byte(fmt.Sprintf(
			`{"original_topic":"payment-events","original_key":%q,"original_value":"{\"transaction_id\":%q}"}`,
			key, key,
		)),
	}
}

func escalatedEventMessage(t *testing.T, partition int32, offset int64, transactionID string) *sarama.ConsumerMessage {
	t.Helper()

	event := domain.PaymentEvent{
		TransactionID: transactionID,
		Amount:        decimal.RequireFromString("10.00"),
		Currency:      "USD",
		Status:        domain.PaymentStatusFailed,
		Timestamp:     time.Now().UTC(),
		RetryCount:    5,
		FailureReason: "provider declined",
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal escalated event failed: %v", err)
	}
	return &sarama.ConsumerMessage{Partition: partition, Offset: offset, Value: raw}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				dlqConsumerMessage(0, 0, "tx-1"),
				escalatedEventMessage(t, 0, 1, "tx-2"),
			}),
		},
	}

	cfg := config{
		sourceTopic: "payment-dlq",
		targetTopic: "payment-events",
		idleTimeout: 20 * time.Millisecond,
	}

	stats, err := processPartition(context.Background(), consumer, client, nil, nil, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 2 || stats.replayed != 1 || stats.reopened != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{
		offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqConsumerMessage(0, 0, "tx-1")}),
		},
	}
	producer := &stubReplayProducer{}
	reopener := &stubReopener{}

	cfg := config{sourceTopic: "payment-dlq", targetTopic: "payment-events", execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, producer, reopener, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.replayed != 1 {
		t.Fatalf("expected replayed=1, got %+v", stats)
	}
	if producer.calls != 1 {
		t.Fatalf("expected one producer call, got %d", producer.calls)
	}
	if len(reopener.calls) != 0 {
		t.Fatalf("envelope replay must not touch the reopen API, got calls=%v", reopener.calls)
	}
}

func TestProcessPartition_ExecuteReopensEscalatedEvents(t *testing.T) {
	client := &stubOffsetClient{
		offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				escalatedEventMessage(t, 0, 0, "tx-1"),
				escalatedEventMessage(t, 0, 1, "tx-2"),
			}),
		},
	}
	producer := &stubReplayProducer{}
	reopener := &stubReopener{skipFor: map[string]bool{"tx-2": true}}

	cfg := config{sourceTopic: "payment-dlq", targetTopic: "payment-events", execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, producer, reopener, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.reopened != 1 || stats.skipped != 1 || stats.replayed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(reopener.calls) != 2 || reopener.calls[0] != "tx-1" || reopener.calls[1] != "tx-2" {
		t.Fatalf("unexpected reopen calls: %v", reopener.calls)
	}
	// Эскалированные события не публикуются в Kafka напрямую.
	if producer.calls != 0 {
		t.Fatalf("expected no producer calls, got %d", producer.calls)
	}

	consumer = &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{escalatedEventMessage(t, 0, 0, "tx-3")}),
		},
	}
	failing := &stubReopener{err: errors.New("api down")}
	if _, err := processPartition(context.Background(), consumer, client, producer, failing, cfg, 0, 10); err == nil {
		t.Fatal("expected reopen error to abort partition")
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := config{sourceTopic: "payment-dlq", targetTopic: "payment-events", execute: true, idleTimeout: 20 * time.Millisecond}
	reopener := &stubReopener{}

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayProducer{}, reopener, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := processPartition(context.Background(), consumerErr, client, &stubReplayProducer{}, reopener, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, reopener, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	pcSkipped := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"foo":"bar"}`),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcSkipped}}
	stats, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, reopener, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected unknown-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	pcOK := closedPartitionConsumer([]*sarama.ConsumerMessage{dlqConsumerMessage(0, 0, "tx-1")})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcOK}}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if _, err := processPartition(context.Background(), consumer, client, producer, reopener, cfg, 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}
	cfg := config{sourceTopic: "payment-dlq", targetTopic: "payment-events", idleTimeout: 10 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	close(idleConsumer.messages)
	close(idleConsumer.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := processPartition(ctx, canceledConsumer, client, nil, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay(t *testing.T) {
	cfg := config{sourceTopic: "payment-dlq", targetTopic: "payment-events", limit: 1, idleTimeout: 20 * time.Millisecond}

	if err := runReplay(context.Background(), cfg, nil, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqConsumerMessage(0, 0, "tx-1")}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqConsumerMessage(2, 0, "tx-2")}),
		},
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil, nil); err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if len(consumer.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(consumer.calls))
	}
	if consumer.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", consumer.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if err := runReplay(context.Background(), executeCfg, client, consumer, nil, nil); err == nil {
		t.Fatal("expected execute mode to require producer and reopener")
	}
	if err := runReplay(context.Background(), executeCfg, client, consumer, &stubReplayProducer{}, nil); err == nil {
		t.Fatal("expected execute mode to require reopener")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if err := runReplay(context.Background(), cfg, emptyClient, consumer, nil, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := config{sourceTopic: "payment-dlq", targetTopic: "payment-events", limit: 1, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, paymentReopener, error) {
		return nil, nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqConsumerMessage(0, 0, "tx-1")}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, paymentReopener, error) {
		return client, consumer, producer, &stubReopener{}, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		newReplayDependencies = oldDeps
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqConsumerMessage(0, 0, "tx-1")}),
		},
	}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, paymentReopener, error) {
		return client, consumer, nil, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}

type stubReopener struct {
	skipFor map[string]bool
	err     error
	calls   []string
}

func (s *stubReopener) Reopen(_ context.Context, transactionID string) (bool, error) {
	s.calls = append(s.calls, transactionID)
	if s.err != nil {
		return false, s.err
	}
	if s.skipFor[transactionID] {
		return false, nil
	}
	return true, nil
}
