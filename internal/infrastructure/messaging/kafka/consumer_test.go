package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	molerrors "github.com/turtacn/molcore/pkg/errors"
)

// chanReader serves messages from a channel and blocks once it drains.
type chanReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newChanReader(msgs ...kafka.Message) *chanReader {
	r := &chanReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error             { return nil }
func (r *chanReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

func (r *chanReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*ProducerMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, msg *ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newTestConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "molcore-worker",
		Topics:  []string{TopicMoleculeIngest},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			DeadLetterTopic: TopicMoleculeIngestDLQ,
		},
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(newTestConsumerConfig()))

	cfg := newTestConsumerConfig()
	cfg.Brokers = nil
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.AutoOffsetReset = "middle"
	assert.True(t, molerrors.IsCode(ValidateConsumerConfig(cfg), molerrors.CodeInvalidParam))
}

func TestSubscribe(t *testing.T) {
	c := newConsumer(newChanReader(), newTestConsumerConfig(), nil, logging.NewNopLogger())
	assert.NoError(t, c.Subscribe("topic", func(ctx context.Context, msg *Message) error { return nil }))
	assert.Error(t, c.Subscribe("topic", nil))
	assert.Len(t, c.handlers, 1)
}

func TestStart_AlreadyRunning(t *testing.T) {
	c := newConsumer(newChanReader(), newTestConsumerConfig(), nil, logging.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()
	assert.Equal(t, ErrAlreadyRunning, c.Start(context.Background()))
}

func TestConsumer_ProcessesAndCommitsAcrossWorkers(t *testing.T) {
	const n = 20
	msgs := make([]kafka.Message, n)
	for i := range msgs {
		msgs[i] = kafka.Message{Topic: TopicMoleculeIngest, Partition: i % 4, Offset: int64(i), Value: []byte("x")}
	}
	reader := newChanReader(msgs...)
	cfg := newTestConsumerConfig()
	cfg.Concurrency = 3
	c := newConsumer(reader, cfg, nil, logging.NewNopLogger())

	var (
		mu   sync.Mutex
		seen = map[int][]int64{}
		wg   sync.WaitGroup
	)
	wg.Add(n)
	require.NoError(t, c.Subscribe(TopicMoleculeIngest, func(ctx context.Context, msg *Message) error {
		mu.Lock()
		seen[msg.Partition] = append(seen[msg.Partition], msg.Offset)
		mu.Unlock()
		wg.Done()
		return nil
	}))
	require.NoError(t, c.Start(context.Background()))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handlers")
	}
	require.NoError(t, c.Close())

	for p, offsets := range seen {
		assert.IsIncreasing(t, offsets, "partition %d out of order", p)
	}
	assert.Equal(t, n, reader.commits())
	metrics := c.GetMetrics()
	assert.Equal(t, int64(n), metrics.MessagesProcessed.Load())
}

func TestProcessMessage_RetrySuccess(t *testing.T) {
	c := newConsumer(nil, newTestConsumerConfig(), nil, logging.NewNopLogger())
	attempts := 0
	err := c.processMessage(context.Background(), &Message{}, func(ctx context.Context, msg *Message) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), c.metrics.MessagesRetried.Load())
}

func TestProcessMessage_RetryExhaustedGoesToDeadLetter(t *testing.T) {
	dlq := &recordingPublisher{}
	c := newConsumer(nil, newTestConsumerConfig(), dlq, logging.NewNopLogger())
	attempts := 0
	msg := &Message{Topic: TopicMoleculeIngest, Key: []byte("k"), Value: []byte("v"), Headers: map[string]string{"a": "b"}}
	err := c.processMessage(context.Background(), msg, func(ctx context.Context, msg *Message) error {
		attempts++
		return molerrors.New(molerrors.CodeDatabase, "db down")
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)

	require.Len(t, dlq.msgs, 1)
	dl := dlq.msgs[0]
	assert.Equal(t, TopicMoleculeIngestDLQ, dl.Topic)
	assert.Equal(t, "v", string(dl.Value))
	assert.Equal(t, "b", dl.Headers["a"])
	assert.Equal(t, TopicMoleculeIngest, dl.Headers[HeaderOriginalTopic])
	assert.Equal(t, string(molerrors.CodeDatabase), dl.Headers[HeaderErrorCode])
	assert.Empty(t, msg.Headers[HeaderErrorCode], "original headers must not be mutated")
}

func TestProcessMessage_BadInputSkipsRetries(t *testing.T) {
	dlq := &recordingPublisher{}
	c := newConsumer(nil, newTestConsumerConfig(), dlq, logging.NewNopLogger())
	attempts := 0
	err := c.processMessage(context.Background(), &Message{Topic: TopicMoleculeIngest, Value: []byte("v")}, func(ctx context.Context, msg *Message) error {
		attempts++
		return molerrors.New(molerrors.CodeParse, "unclosed ring")
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, c.metrics.MessagesRetried.Load())
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, string(molerrors.CodeParse), dlq.msgs[0].Headers[HeaderErrorCode])
}

func TestProcessMessage_PanicGoesToDeadLetter(t *testing.T) {
	dlq := &recordingPublisher{}
	c := newConsumer(nil, newTestConsumerConfig(), dlq, logging.NewNopLogger())
	attempts := 0
	err := c.processMessage(context.Background(), &Message{Topic: TopicMoleculeIngest, Value: []byte("v")}, func(ctx context.Context, msg *Message) error {
		attempts++
		var counts []int
		_ = counts[3]
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, string(molerrors.CodeContractViolation), dlq.msgs[0].Headers[HeaderErrorCode])
}

func TestProcessMessage_CancelledDuringBackoff(t *testing.T) {
	cfg := newTestConsumerConfig()
	cfg.RetryConfig.RetryBackoff = time.Hour
	c := newConsumer(nil, cfg, nil, logging.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.processMessage(ctx, &Message{}, func(ctx context.Context, msg *Message) error {
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
