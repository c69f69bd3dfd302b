package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/outbox"
)

const (
	testSourceTopic = "sweetbar.notifications.dlq"
	testTargetTopic = "sweetbar.notifications.requested"
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

func TestExtractReplayMessage_ConsumerDLQPayload(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: consumerDLQValue(t, "order-1", domain.OutboxEventNotificationRequest)}

	got, err := extractReplayMessage(message, "fallback-topic")
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if got.topic != testTargetTopic {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if got.eventType != domain.OutboxEventNotificationRequest {
		t.Fatalf("unexpected event type: %s", got.eventType)
	}

	task, err := kafka.ParseNotificationTask(&sarama.ConsumerMessage{Value: got.value})
	if err != nil {
		t.Fatalf("replayed value should be a notification task: %v", err)
	}
	if task.OrderID != "order-1" || task.PaymentID != "pay-1" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestExtractReplayMessage_ConsumerDLQForeignEvent(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: consumerDLQValue(t, "order-1", "order.cancelled")}

	_, err := extractReplayMessage(message, testTargetTopic)
	if !errors.Is(err, kafka.ErrUnexpectedEvent) {
		t.Fatalf("expected ErrUnexpectedEvent, got %v", err)
	}
}

func TestExtractReplayMessage_OutboxDLQPayload(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: outboxDLQValue(t, "order-1", true)}

	got, err := extractReplayMessage(message, testTargetTopic)
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if got.topic != testTargetTopic {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}

	task, err := kafka.ParseNotificationTask(&sarama.ConsumerMessage{Value: got.value})
	if err != nil {
		t.Fatalf("replayed value should be a notification task: %v", err)
	}
	if task.IdempotencyKey() != "order-1:pay-1" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestExtractReplayMessage_OutboxInvalidNestedPayload(t *testing.T) {
	_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: outboxDLQValue(t, "order-1", false)}, testTargetTopic)
	if err == nil {
		t.Fatal("expected error for missing nested payload")
	}
}

func TestExtractReplayMessage_NullEnvelopePayload(t *testing.T) {
	value := []byte(`{"id":"o-1:p-1","aggregate_id":"o-1","event_type":"notification.requested","payload":null}`)
	_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: value}, testTargetTopic)
	if !errors.Is(err, kafka.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for null payload, got %v", err)
	}
}

func TestIsEmptyJSON(t *testing.T) {
	cases := map[string]bool{
		"":          true,
		"null":      true,
		"  null\n": true,
		"{}":        false,
		`{"a":1}`:   false,
	}
	for raw, want := range cases {
		if got := isEmptyJSON(json.RawMessage(raw)); got != want {
			t.Fatalf("isEmptyJSON(%q) = %t, want %t", raw, got, want)
		}
	}
}

func TestExtractReplayMessage_UnknownPayload(t *testing.T) {
	for _, value := range []string{`{"foo":"bar"}`, `not-json`} {
		_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, testTargetTopic)
		if !errors.Is(err, kafka.ErrMalformedMessage) {
			t.Fatalf("%s: expected ErrMalformedMessage, got %v", value, err)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestRootCommand_FromFlags(t *testing.T) {
	var captured config
	stubDependencies(t, func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		captured = cfg
		return &stubOffsetClient{}, &stubPartitionConsumerSource{}, &stubReplayProducer{}, nil
	})

	cmd := newRootCommand()
	cmd.SetArgs([]string{
		"--brokers=broker-1:9092,broker-2:9092",
		"--source-topic=custom.dlq",
		"--limit=10",
		"--execute",
		"--from-newest",
		"--idle-timeout=3s",
	})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if len(captured.brokers) != 2 {
		t.Fatalf("unexpected brokers count: %d", len(captured.brokers))
	}
	if captured.sourceTopic != "custom.dlq" || captured.targetTopic != testTargetTopic {
		t.Fatalf("unexpected topics: %s -> %s", captured.sourceTopic, captured.targetTopic)
	}
	if captured.limit != 10 || !captured.execute || !captured.fromNewest {
		t.Fatalf("unexpected flags: %+v", captured)
	}
	if captured.idleTimeout != 3*time.Second {
		t.Fatalf("unexpected idle-timeout: %s", captured.idleTimeout)
	}
}

func TestRootCommand_BrokersFromEnv(t *testing.T) {
	t.Setenv(brokersEnv, "env-broker:9092")

	var captured config
	stubDependencies(t, func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		captured = cfg
		return &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil, nil
	})

	cmd := newRootCommand()
	cmd.SetArgs([]string{})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(captured.brokers) != 1 || captured.brokers[0] != "env-broker:9092" {
		t.Fatalf("unexpected brokers: %v", captured.brokers)
	}
	if captured.execute {
		t.Fatal("dry-run should be the default")
	}
}

func TestResolveConfig_ValidationErrors(t *testing.T) {
	t.Setenv(brokersEnv, "")

	valid := config{sourceTopic: testSourceTopic, targetTopic: testTargetTopic, limit: 1, idleTimeout: time.Second}

	tests := []struct {
		name    string
		brokers string
		mutate  func(*config)
		wantErr string
	}{
		{name: "brokers", brokers: "", mutate: func(*config) {}, wantErr: "kafka brokers are required"},
		{name: "source", brokers: "b:9092", mutate: func(c *config) { c.sourceTopic = "" }, wantErr: "source-topic is required"},
		{name: "target", brokers: "b:9092", mutate: func(c *config) { c.targetTopic = " " }, wantErr: "target-topic is required"},
		{name: "limit", brokers: "b:9092", mutate: func(c *config) { c.limit = 0 }, wantErr: "limit must be > 0"},
		{name: "idle", brokers: "b:9092", mutate: func(c *config) { c.idleTimeout = 0 }, wantErr: "idle-timeout must be > 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := resolveConfig(tt.brokers, cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	err := publishReplay(producer, replayMessage{
		topic:     "topic",
		key:       "key",
		eventType: domain.OutboxEventNotificationRequest,
		value:     []byte(`{"x":1}`),
	})
	if err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", producer.calls)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != "topic" {
		t.Fatalf("unexpected last message: %+v", producer.lastMsg)
	}
	if len(producer.lastMsg.Headers) != 1 || string(producer.lastMsg.Headers[0].Key) != kafka.HeaderEventType {
		t.Fatalf("expected event type header, got %+v", producer.lastMsg.Headers)
	}

	producer.sendErr = errors.New("send failed")
	if err := publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)}); err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 0, 0, "order-1")}),
		},
	}

	cfg := config{sourceTopic: testSourceTopic, targetTopic: testTargetTopic, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_FromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)},
	}
	cfg := config{sourceTopic: testSourceTopic, targetTopic: testTargetTopic, fromNewest: true, idleTimeout: 20 * time.Millisecond}

	if _, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 4); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if consumer.calls[0].offset != 6 {
		t.Fatalf("expected start offset 6, got %d", consumer.calls[0].offset)
	}
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 0, 0, "order-1")}),
		},
	}
	producer := &stubReplayProducer{}

	cfg := config{sourceTopic: testSourceTopic, targetTopic: testTargetTopic, execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.replayed != 1 {
		t.Fatalf("expected replayed=1, got %+v", stats)
	}
	if producer.calls != 1 || producer.lastMsg.Topic != testTargetTopic {
		t.Fatalf("expected one replay to %s, got calls=%d msg=%+v", testTargetTopic, producer.calls, producer.lastMsg)
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := config{sourceTopic: testSourceTopic, targetTopic: testTargetTopic, execute: true, idleTimeout: 20 * time.Millisecond}

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := processPartition(context.Background(), consumerErr, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	pcBadPayload := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"id":"x","payload":"not-an-object"}`),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcBadPayload}}
	stats, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 0, 0, "order-1")}),
	}}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if _, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 1); err == nil {
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
	cfg := config{sourceTopic: testSourceTopic, targetTopic: testTargetTopic, idleTimeout: 10 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
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
	if _, err := processPartition(ctx, canceledConsumer, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay(t *testing.T) {
	cfg := config{sourceTopic: testSourceTopic, targetTopic: testTargetTopic, limit: 1, idleTimeout: 20 * time.Millisecond}

	if err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
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
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 0, 0, "order-1")}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 2, 0, "order-2")}),
		},
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err != nil {
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
	if err := runReplay(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if err := runReplay(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	cfg := config{sourceTopic: testSourceTopic, targetTopic: testTargetTopic, limit: 1, idleTimeout: 20 * time.Millisecond}

	stubDependencies(t, func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	})
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{dlqMessage(t, 0, 0, "order-1")}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
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

func stubDependencies(t *testing.T, fn func(config) (offsetClient, partitionConsumerSource, replayProducer, error)) {
	t.Helper()

	old := newReplayDependencies
	newReplayDependencies = fn
	t.Cleanup(func() { newReplayDependencies = old })
}

func notificationEnvelope(t *testing.T, orderID, eventType string) kafka.Envelope {
	t.Helper()

	task := domain.NotificationTask{ID: orderID + ":pay-1", OrderID: orderID, PaymentID: "pay-1"}
	payload, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return kafka.NewEnvelope(domain.OutboxMessage{
		ID:            task.ID,
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       payload,
	})
}

// consumerDLQValue повторяет запись, которую пишет kafka.Consumer после исчерпания попыток.
func consumerDLQValue(t *testing.T, orderID, eventType string) []byte {
	t.Helper()

	original, err := json.Marshal(notificationEnvelope(t, orderID, eventType))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	raw, err := json.Marshal(kafka.DeadLetter{
		OriginalTopic: testTargetTopic,
		OriginalKey:   orderID,
		OriginalValue: string(original),
		ErrorMessage:  "smtp timeout",
		FailedAt:      time.Now().UTC(),
		RetryCount:    3,
	})
	if err != nil {
		t.Fatalf("marshal dead letter: %v", err)
	}
	return raw
}

// outboxDLQValue повторяет конверт, который outbox-воркер публикует в DLQ.
func outboxDLQValue(t *testing.T, orderID string, withPayload bool) []byte {
	t.Helper()

	original := notificationEnvelope(t, orderID, domain.OutboxEventNotificationRequest)
	dead := outbox.DeadLetter{
		OutboxID:      original.ID,
		AggregateType: original.AggregateType,
		AggregateID:   original.AggregateID,
		EventType:     original.EventType,
		PublishError:  "broker unavailable",
	}
	if withPayload {
		dead.Payload = original.Payload
	}
	deadRaw, err := json.Marshal(dead)
	if err != nil {
		t.Fatalf("marshal outbox dead letter: %v", err)
	}

	original.Payload = deadRaw
	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal outbox envelope: %v", err)
	}
	return raw
}

func dlqMessage(t *testing.T, partition int32, offset int64, orderID string) *sarama.ConsumerMessage {
	t.Helper()

	return &sarama.ConsumerMessage{
		Partition: partition,
		Offset:    offset,
		Value:     consumerDLQValue(t, orderID, domain.OutboxEventNotificationRequest),
	}
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
