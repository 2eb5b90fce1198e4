package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New(errors.CodeConflict, "consumer already running")
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers            []string      `mapstructure:"brokers"`
	GroupID            string        `mapstructure:"group_id"`
	Topics             []string      `mapstructure:"topics"`
	AutoOffsetReset    string        `mapstructure:"auto_offset_reset"`
	EnableAutoCommit   bool          `mapstructure:"enable_auto_commit"`
	AutoCommitInterval time.Duration `mapstructure:"auto_commit_interval"`
	SessionTimeout     time.Duration `mapstructure:"session_timeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	MaxWait            time.Duration `mapstructure:"max_wait"`
	FetchMinBytes      int           `mapstructure:"fetch_min_bytes"`
	FetchMaxBytes      int           `mapstructure:"fetch_max_bytes"`
	IsolationLevel     string        `mapstructure:"isolation_level"`
	SASLEnabled        bool          `mapstructure:"sasl_enabled"`
	SASLMechanism      string        `mapstructure:"sasl_mechanism"`
	SASLUsername       string        `mapstructure:"sasl_username"`
	SASLPassword       string        `mapstructure:"sasl_password"`
	TLSEnabled         bool          `mapstructure:"tls_enabled"`
	TLSCertPath        string        `mapstructure:"tls_cert_path"`

	// Concurrency is the number of worker goroutines. Messages of one
	// partition always go to the same worker, keeping per-partition order.
	Concurrency int `mapstructure:"concurrency"`

	RetryConfig RetryConfig `mapstructure:"retry"`
}

// ConsumerMetrics holds consumer metrics.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
	LastConsumedAt       atomic.Value // time.Time
	Lag                  atomic.Int64
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// Publisher is the part of Producer the consumer needs for dead letters.
type Publisher interface {
	Publish(ctx context.Context, msg *ProducerMessage) error
	Close() error
}

// Consumer fetches from a consumer group and dispatches to per-topic
// handlers.
type Consumer struct {
	reader ReaderInterface
	config ConsumerConfig
	logger logging.Logger

	handlers map[string]MessageHandler
	mu       sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	deadLetter Publisher
	metrics    *ConsumerMetrics
}

// NewConsumer creates a new Consumer.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	applyConsumerDefaults(&cfg)

	readerCfg := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		GroupTopics:       cfg.Topics,
		MinBytes:          cfg.FetchMinBytes,
		MaxBytes:          cfg.FetchMaxBytes,
		MaxWait:           cfg.MaxWait,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StartOffset:       kafka.FirstOffset,
	}
	if cfg.EnableAutoCommit {
		readerCfg.CommitInterval = cfg.AutoCommitInterval
	}
	if cfg.AutoOffsetReset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}
	if cfg.IsolationLevel == "read_committed" {
		readerCfg.IsolationLevel = kafka.ReadCommitted
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	tlsConfig, err := buildTLS(cfg.TLSEnabled, cfg.TLSCertPath)
	if err != nil {
		return nil, err
	}
	dialer.TLS = tlsConfig
	mech, err := buildSASL(cfg.SASLEnabled, cfg.SASLMechanism, cfg.SASLUsername, cfg.SASLPassword)
	if err != nil {
		return nil, err
	}
	dialer.SASLMechanism = mech
	readerCfg.Dialer = dialer

	var dlq Publisher
	if cfg.RetryConfig.DeadLetterTopic != "" {
		p, err := NewProducer(ProducerConfig{
			Brokers:       cfg.Brokers,
			SASLEnabled:   cfg.SASLEnabled,
			SASLMechanism: cfg.SASLMechanism,
			SASLUsername:  cfg.SASLUsername,
			SASLPassword:  cfg.SASLPassword,
			TLSEnabled:    cfg.TLSEnabled,
			TLSCertPath:   cfg.TLSCertPath,
		}, cfg.GroupID, logger)
		if err != nil {
			return nil, err
		}
		dlq = p
	}

	return newConsumer(kafka.NewReader(readerCfg), cfg, dlq, logger), nil
}

func newConsumer(reader ReaderInterface, cfg ConsumerConfig, dlq Publisher, logger logging.Logger) *Consumer {
	applyConsumerDefaults(&cfg)
	return &Consumer{
		reader:     reader,
		config:     cfg,
		logger:     logger,
		handlers:   make(map[string]MessageHandler),
		deadLetter: dlq,
		metrics:    &ConsumerMetrics{},
	}
}

func applyConsumerDefaults(cfg *ConsumerConfig) {
	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "earliest"
	}
	if cfg.AutoCommitInterval == 0 {
		cfg.AutoCommitInterval = 5 * time.Second
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}
	if cfg.FetchMinBytes == 0 {
		cfg.FetchMinBytes = 1
	}
	if cfg.FetchMaxBytes == 0 {
		cfg.FetchMaxBytes = 50 * 1024 * 1024
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryConfig.MaxRetries == 0 {
		cfg.RetryConfig.MaxRetries = 3
	}
	if cfg.RetryConfig.RetryBackoff == 0 {
		cfg.RetryConfig.RetryBackoff = time.Second
	}
	if cfg.RetryConfig.MaxRetryBackoff == 0 {
		cfg.RetryConfig.MaxRetryBackoff = 30 * time.Second
	}
}

// Subscribe registers handler for topic, replacing any previous one.
func (c *Consumer) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" || handler == nil {
		return errors.InvalidParam("topic and handler required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("subscribed to topic", logging.String("topic", topic))
	return nil
}

// Start launches the fetch loop and the workers. It returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	n := c.config.Concurrency
	if n <= 0 {
		n = 1
	}
	queues := make([]chan kafka.Message, n)
	for i := range queues {
		queues[i] = make(chan kafka.Message, 16)
		c.wg.Add(1)
		go c.worker(ctx, queues[i])
	}
	c.wg.Add(1)
	go c.fetchLoop(ctx, queues)

	c.logger.Info("kafka consumer started",
		logging.String("group", c.config.GroupID),
		logging.Int("workers", n))
	return nil
}

func (c *Consumer) fetchLoop(ctx context.Context, queues []chan kafka.Message) {
	defer c.wg.Done()
	defer func() {
		for _, q := range queues {
			close(q)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.metrics.MessagesConsumed.Add(1)
		c.metrics.LastConsumedAt.Store(time.Now())
		if m.HighWaterMark > 0 {
			c.metrics.Lag.Store(m.HighWaterMark - m.Offset)
		}

		select {
		case queues[m.Partition%len(queues)] <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker(ctx context.Context, queue <-chan kafka.Message) {
	defer c.wg.Done()
	for m := range queue {
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	msg := &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	c.mu.RLock()
	handler, ok := c.handlers[m.Topic]
	c.mu.RUnlock()

	if !ok {
		c.logger.Warn("no handler for topic", logging.String("topic", m.Topic))
	} else if err := c.processMessage(ctx, msg, handler); err != nil {
		// Cancelled mid-retry: leave uncommitted so the group redelivers.
		c.metrics.MessagesFailed.Add(1)
		return
	}

	if !c.config.EnableAutoCommit {
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", logging.Err(err), logging.Int64("offset", m.Offset))
		}
	}
}

// processMessage runs handler with retries. Errors whose code marks bad
// input skip the retries. A message that still fails goes to the dead
// letter topic when one is configured. It returns non-nil only when ctx
// ends before the message is settled.
func (c *Consumer) processMessage(ctx context.Context, msg *Message, handler MessageHandler) error {
	err := invoke(ctx, msg, handler)
	if err == nil {
		c.metrics.MessagesProcessed.Add(1)
		return nil
	}

	backoff := c.config.RetryConfig.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := c.config.RetryConfig.MaxRetryBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	for i := 0; i < c.config.RetryConfig.MaxRetries && !permanent(err); i++ {
		c.metrics.MessagesRetried.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err = invoke(ctx, msg, handler); err == nil {
			c.metrics.MessagesProcessed.Add(1)
			return nil
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	c.metrics.MessagesFailed.Add(1)
	c.logger.Error("message processing failed",
		logging.String("topic", msg.Topic),
		logging.Int("partition", msg.Partition),
		logging.Int64("offset", msg.Offset),
		logging.String("code", string(errors.GetCode(err))),
		logging.Err(err))

	if c.deadLetter == nil || c.config.RetryConfig.DeadLetterTopic == "" {
		return nil
	}
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderErrorCode] = string(errors.GetCode(err))
	headers[HeaderErrorMessage] = err.Error()

	dl := &ProducerMessage{
		Topic:   c.config.RetryConfig.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if dlErr := c.deadLetter.Publish(ctx, dl); dlErr != nil {
		c.logger.Error("dead letter publish failed", logging.Err(dlErr))
		return nil
	}
	c.metrics.MessagesDeadLettered.Add(1)
	return nil
}

// invoke runs handler, turning a panic into a contract violation so one bad
// message cannot take the worker down.
func invoke(ctx context.Context, msg *Message, handler MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.ContractViolation("message handler panicked").
				WithDetail(fmt.Sprintf("%v", r))
		}
	}()
	return handler(ctx, msg)
}

// permanent reports whether retrying err cannot help. Bad input and
// handler panics repeat on every attempt.
func permanent(err error) bool {
	code := errors.GetCode(err)
	return errors.IsRecoverable(code) || code == errors.CodeInvalidParam || code == errors.CodeContractViolation
}

// GetMetrics returns a snapshot of metrics.
func (c *Consumer) GetMetrics() ConsumerMetrics {
	m := ConsumerMetrics{}
	m.MessagesConsumed.Store(c.metrics.MessagesConsumed.Load())
	m.MessagesProcessed.Store(c.metrics.MessagesProcessed.Load())
	m.MessagesFailed.Store(c.metrics.MessagesFailed.Load())
	m.MessagesRetried.Store(c.metrics.MessagesRetried.Load())
	m.MessagesDeadLettered.Store(c.metrics.MessagesDeadLettered.Load())
	m.Lag.Store(c.metrics.Lag.Load())
	if v := c.metrics.LastConsumedAt.Load(); v != nil {
		m.LastConsumedAt.Store(v)
	}
	return m
}

// Close stops the loop, waits for in-flight messages and closes the reader.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var firstErr error
	if c.reader != nil {
		firstErr = c.reader.Close()
	}
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.logger.Info("kafka consumer closed",
		logging.Int64("consumed", c.metrics.MessagesConsumed.Load()),
		logging.Int64("dead_lettered", c.metrics.MessagesDeadLettered.Load()))
	return firstErr
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.InvalidParam("brokers required")
	}
	if cfg.GroupID == "" {
		return errors.InvalidParam("group_id required")
	}
	if cfg.AutoOffsetReset != "" && cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest" {
		return errors.InvalidParam("auto_offset_reset must be earliest or latest")
	}
	if cfg.SASLEnabled {
		if cfg.SASLMechanism == "" {
			return errors.InvalidParam("sasl_mechanism required")
		}
		if cfg.SASLUsername == "" || cfg.SASLPassword == "" {
			return errors.InvalidParam("SASL credentials required")
		}
	}
	if cfg.TLSEnabled && cfg.TLSCertPath == "" {
		return errors.InvalidParam("tls_cert_path required")
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return errors.InvalidParam("max_retries must be >= 0")
	}
	return nil
}
