package main

import (
	"context"
	"time"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// jobProcessor runs one ingest job. *appmol.Pipeline satisfies it.
type jobProcessor interface {
	ProcessJob(ctx context.Context, job moltypes.IngestJob) (*domain.Record, error)
}

// newIngestHandler returns the molecule.ingest handler. A returned error is
// retried by the consumer; malformed jobs fail with CodeInvalidParam and go
// straight to the dead-letter topic.
func newIngestHandler(p jobProcessor, timeout time.Duration, metrics *prometheus.AppMetrics, logger logging.Logger) kafka.MessageHandler {
	if metrics == nil {
		metrics = prometheus.NewNopAppMetrics()
	}
	return func(ctx context.Context, msg *kafka.Message) (err error) {
		start := time.Now()
		defer func() { prometheus.RecordMessage(metrics, msg.Topic, time.Since(start), err) }()

		env, err := kafka.MessageToEventEnvelope(msg)
		if err != nil {
			return err
		}
		if env.EventType != kafka.EventIngestRequested {
			logger.Debug("ignoring event", logging.String("event_type", env.EventType))
			return nil
		}
		var job moltypes.IngestJob
		if err := env.DecodePayload(&job); err != nil {
			return err
		}
		if job.ID == "" {
			job.ID = env.EventID
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		log := logger.With(
			logging.String("job_id", job.ID),
			logging.String("batch_id", job.BatchID),
			logging.Int64("offset", msg.Offset))

		rec, err := p.ProcessJob(ctx, job)
		if err != nil && rec != nil {
			// Rejected input: the failed record is stored, nothing to retry.
			log.Info("ingest job rejected", logging.String("code", rec.ErrorCode))
			return nil
		}
		if err != nil {
			log.Warn("ingest job failed", logging.Err(err))
			return err
		}
		log.Debug("ingest job processed", logging.String("record_id", rec.ID))
		return nil
	}
}
