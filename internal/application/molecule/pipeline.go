package molecule

import (
	"context"
	"encoding/json"
	"time"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// Topic and event names the pipeline publishes under. They match the
// kafka package constants.
const (
	ProcessedTopic = "molecule.processed"
	ProcessedEvent = "molecule.processed"
)

// DefaultSeed is the embedding seed used when a request carries none.
const DefaultSeed int64 = 42

// EventPublisher emits integration events. The kafka producer satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key, eventType string, payload interface{}) error
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithGraphStore mirrors every processed molecule into a graph store.
func WithGraphStore(g domain.GraphStore) PipelineOption {
	return func(p *Pipeline) { p.graph = g }
}

// WithSimilarityIndex stores the fingerprint of every processed molecule
// in idx.
func WithSimilarityIndex(idx domain.FingerprintIndex) PipelineOption {
	return func(p *Pipeline) { p.index = idx }
}

// WithEventPublisher publishes a processed event per record.
func WithEventPublisher(e EventPublisher) PipelineOption {
	return func(p *Pipeline) { p.events = e }
}

// WithDefaultSeed overrides DefaultSeed.
func WithDefaultSeed(seed int64) PipelineOption {
	return func(p *Pipeline) { p.seed = seed }
}

// WithPipelineMetrics records pipeline outcomes.
func WithPipelineMetrics(m *prometheus.AppMetrics) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pipeline runs one input through parse, canonical SMILES, hydrogen
// completion, embedding and molblock export, then persists the record.
type Pipeline struct {
	svc     Service
	repo    domain.RecordRepository
	graph   domain.GraphStore
	index   domain.FingerprintIndex
	events  EventPublisher
	seed    int64
	metrics *prometheus.AppMetrics
	logger  logging.Logger
}

// NewPipeline creates a pipeline over svc storing into repo.
func NewPipeline(svc Service, repo domain.RecordRepository, logger logging.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	p := &Pipeline{
		svc:     svc,
		repo:    repo,
		seed:    DefaultSeed,
		metrics: prometheus.NewNopAppMetrics(),
		logger:  logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs req under a fresh record ID.
func (p *Pipeline) Process(ctx context.Context, req moltypes.ProcessRequest) (*domain.Record, error) {
	return p.process(ctx, domain.NewRecord(req.Input), req)
}

// ProcessJob runs an ingest job. The record ID is the job's event ID, so a
// redelivered job overwrites its earlier record instead of duplicating it.
func (p *Pipeline) ProcessJob(ctx context.Context, job moltypes.IngestJob) (*domain.Record, error) {
	rec := domain.NewRecord(job.Input)
	if job.ID != "" {
		rec.ID = job.ID
	}
	return p.process(ctx, rec, job.ProcessRequest)
}

// process returns the saved record. When the engine rejects the input the
// record is saved as failed and returned together with the engine error.
func (p *Pipeline) process(ctx context.Context, rec *domain.Record, req moltypes.ProcessRequest) (*domain.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rec.BatchID = req.BatchID
	rec.Name = req.Name
	rec.Seed = p.seed
	if req.Seed != nil {
		rec.Seed = *req.Seed
	}

	log := p.logger.With(
		logging.String("record_id", rec.ID),
		logging.String("batch_id", rec.BatchID))

	mol, runErr := p.run(ctx, rec)
	if runErr != nil {
		if !errors.IsRecoverable(errors.GetCode(runErr)) {
			// Infrastructure or contract failure: nothing worth persisting.
			p.metrics.PipelineRecordsTotal.WithLabelValues("error").Inc()
			return nil, runErr
		}
		rec.Status = domain.RecordFailed
		rec.ErrorCode = string(errors.GetCode(runErr))
		rec.Error = runErr.Error()
		log.Info("input rejected", logging.String("code", rec.ErrorCode), logging.Err(runErr))
	} else {
		rec.Status = domain.RecordProcessed
	}

	if err := p.repo.Save(ctx, rec); err != nil {
		p.metrics.PipelineRecordsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, errors.CodeUnknown, "save record")
	}
	p.metrics.PipelineRecordsTotal.WithLabelValues(string(rec.Status)).Inc()

	if mol != nil && p.graph != nil {
		if err := p.graph.SaveGraph(ctx, rec.ID, mol); err != nil {
			prometheus.RecordError(p.metrics, "graph", err)
			log.Warn("graph mirror failed", logging.Err(err))
		}
	}
	if mol != nil && p.index != nil {
		p.indexFingerprint(ctx, rec.ID, mol, log)
	}
	p.publish(ctx, rec, log)

	if runErr != nil {
		return rec, runErr
	}
	log.Debug("record processed", logging.String("canonical", rec.Canonical))
	return rec, nil
}

// indexFingerprint adds mol to the similarity index. The record is already
// stored, so a failure is logged and the record stays unindexed.
func (p *Pipeline) indexFingerprint(ctx context.Context, id string, mol *domain.Molecule, log logging.Logger) {
	fp, err := domain.CalculateFingerprint(mol, p.index.Options())
	if err == nil {
		err = p.index.Upsert(ctx, id, fp)
	}
	if err != nil {
		prometheus.RecordError(p.metrics, "similarity", err)
		log.Warn("similarity index failed", logging.Err(err))
	}
}

// run drives the engine through the service boundary and fills rec. The
// returned molecule is the embedded one, for the graph mirror and the
// similarity index.
func (p *Pipeline) run(ctx context.Context, rec *domain.Record) (*domain.Molecule, error) {
	h, err := p.svc.Parse(ctx, rec.Input, "")
	if err != nil {
		return nil, err
	}
	defer p.svc.Release(h)

	if rec.Canonical, err = p.svc.CanonicalText(ctx, h, ""); err != nil {
		return nil, err
	}

	withHs, err := p.svc.CompleteHydrogens(ctx, h)
	if err != nil {
		return nil, err
	}
	defer p.svc.Release(withHs)

	embedded, err := p.svc.Embed3D(ctx, withHs, optionsJSON(moltypes.EmbedOptions{RandomSeed: rec.Seed}))
	if err != nil {
		return nil, err
	}
	defer p.svc.Release(embedded)

	if rec.MolBlock, err = p.svc.ExportMolBlock(ctx, embedded, optionsJSON(moltypes.MolBlockOptions{Name: rec.Name})); err != nil {
		return nil, err
	}

	d, err := p.svc.Describe(ctx, embedded)
	if err != nil {
		return nil, err
	}
	rec.Formula = d.Formula
	rec.NumAtoms = d.NumAtoms
	rec.NumBonds = d.NumBonds

	if p.graph == nil && p.index == nil {
		return nil, nil
	}
	return embedded.Unpack()
}

func optionsJSON(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func (p *Pipeline) publish(ctx context.Context, rec *domain.Record, log logging.Logger) {
	if p.events == nil {
		return
	}
	key := rec.BatchID
	if key == "" {
		key = rec.ID
	}
	evt := moltypes.ProcessedEvent{
		RecordID:  rec.ID,
		BatchID:   rec.BatchID,
		Status:    string(rec.Status),
		Canonical: rec.Canonical,
		ErrorCode: rec.ErrorCode,
	}
	evt.ID = rec.ID
	evt.AggID = key
	evt.Timestamp = time.Now().UTC()
	// The record is already stored; a lost event is logged, not retried.
	if err := p.events.PublishEvent(ctx, ProcessedTopic, key, ProcessedEvent, evt); err != nil {
		prometheus.RecordError(p.metrics, "events", err)
		log.Error("publish processed event failed", logging.Err(err))
	}
}
