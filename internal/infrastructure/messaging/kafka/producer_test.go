package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	molerrors "github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

type mockKafkaWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closeFunc func() error
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockKafkaWriter) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func newTestProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:         []string{"localhost:9092"},
		MaxMessageBytes: 1024,
	}
}

func newTestProducerMessage(topic, key, value string) *ProducerMessage {
	return &ProducerMessage{Topic: topic, Key: []byte(key), Value: []byte(value)}
}

func newTestProducer(w WriterInterface) *Producer {
	return &Producer{
		writer:  w,
		config:  newTestProducerConfig(),
		source:  "molcore-test",
		logger:  logging.NewNopLogger(),
		metrics: &ProducerMetrics{},
	}
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(newTestProducerConfig()))

	cfg := newTestProducerConfig()
	cfg.Brokers = nil
	assert.True(t, molerrors.IsCode(ValidateProducerConfig(cfg), molerrors.CodeInvalidParam))

	cfg = newTestProducerConfig()
	cfg.TLSEnabled = true
	assert.Error(t, ValidateProducerConfig(cfg))
}

func TestPublish_Success(t *testing.T) {
	var captured []kafka.Message
	p := newTestProducer(&mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			captured = msgs
			return nil
		},
	})
	err := p.Publish(context.Background(), newTestProducerMessage("t", "k", "v"))
	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, "t", captured[0].Topic)
	assert.Equal(t, "k", string(captured[0].Key))
	assert.Equal(t, "v", string(captured[0].Value))
	assert.False(t, captured[0].Time.IsZero())
	assert.Equal(t, int64(1), p.metrics.MessagesSent.Load())
	assert.Equal(t, int64(1), p.metrics.BytesSent.Load())
}

func TestPublish_Rejects(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.True(t, molerrors.IsCode(p.Publish(ctx, newTestProducerMessage("", "k", "v")), molerrors.CodeInvalidParam))
	assert.True(t, molerrors.IsCode(p.Publish(ctx, newTestProducerMessage("t", "k", "")), molerrors.CodeInvalidParam))

	big := make([]byte, 2048)
	assert.Error(t, p.Publish(ctx, &ProducerMessage{Topic: "t", Value: big}))
}

func TestPublish_WriterFailure(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return errors.New("broker down")
		},
	})
	err := p.Publish(context.Background(), newTestProducerMessage("t", "k", "v"))
	assert.True(t, molerrors.IsCode(err, molerrors.CodeMessaging))
	assert.Equal(t, int64(1), p.metrics.MessagesFailed.Load())
}

func TestPublishEvent_EnvelopeAndKey(t *testing.T) {
	var captured kafka.Message
	p := newTestProducer(&mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			captured = msgs[0]
			return nil
		},
	})
	p.config.MaxMessageBytes = 1 << 20

	evt := moltypes.ProcessedEvent{RecordID: "r1", Status: "processed", Canonical: "CCO"}
	err := p.PublishEvent(context.Background(), TopicMoleculeProcessed, "batch-7", EventMoleculeProcessed, evt)
	require.NoError(t, err)

	assert.Equal(t, TopicMoleculeProcessed, captured.Topic)
	assert.Equal(t, "batch-7", string(captured.Key))

	headers := map[string]string{}
	for _, h := range captured.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, EventMoleculeProcessed, headers[HeaderEventType])
	assert.Equal(t, "molcore-test", headers[HeaderSource])

	env, err := MessageToEventEnvelope(&Message{Value: captured.Value})
	require.NoError(t, err)
	var got moltypes.ProcessedEvent
	require.NoError(t, env.DecodePayload(&got))
	assert.Equal(t, "r1", got.RecordID)
	assert.Equal(t, "CCO", got.Canonical)
}

func TestPublishBatch_PartialFailure(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			errs := make(kafka.WriteErrors, len(msgs))
			errs[1] = errors.New("fail")
			return errs
		},
	})
	res, err := p.PublishBatch(context.Background(), []*ProducerMessage{
		newTestProducerMessage("t", "1", "1"),
		newTestProducerMessage("t", "2", "2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
}

func TestPublishBatch_Empty(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	_, err := p.PublishBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	closes := 0
	p := newTestProducer(&mockKafkaWriter{
		closeFunc: func() error {
			closes++
			return nil
		},
	})
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.Equal(t, 1, closes)
	assert.Equal(t, ErrProducerClosed, p.Publish(context.Background(), newTestProducerMessage("t", "k", "v")))
}
