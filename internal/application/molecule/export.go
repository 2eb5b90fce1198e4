package molecule

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/turtacn/molcore/internal/chemistry/molfile"
	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
)

// SDF data item keys written for every exported record.
const (
	PropRecordID  = "molcore.record_id"
	PropCanonical = "molcore.canonical"
	PropInput     = "molcore.input"
	PropSeed      = "molcore.seed"
)

// ExportStore receives finished export files. The minio SDF store
// satisfies it.
type ExportStore interface {
	PutSDF(ctx context.Context, key string, data []byte) (location string, err error)
}

// ExportLinker hands out time-limited download links for stored exports.
// Stores that implement it get a download URL in the export result.
type ExportLinker interface {
	PresignSDF(ctx context.Context, key string) (string, error)
}

// ExportLock serializes exports of one batch across processes. Acquire
// fails with errors.CodeConflict when another holder owns name.
type ExportLock interface {
	Acquire(ctx context.Context, name string) (release func(context.Context) error, err error)
}

// ExportResult describes a written SDF.
type ExportResult struct {
	BatchID  string `json:"batch_id"`
	Key      string `json:"key"`
	Location string `json:"location"`
	// DownloadURL is empty when the store cannot presign.
	DownloadURL string `json:"download_url,omitempty"`
	Records     int    `json:"records"`
	Skipped     int    `json:"skipped"`
	Bytes       int    `json:"bytes"`
}

// Exporter writes batches of processed records as SD files.
type Exporter struct {
	repo    domain.RecordRepository
	store   ExportStore
	lock    ExportLock
	program string
	logger  logging.Logger
}

// NewExporter creates an exporter. lock may be nil.
func NewExporter(repo domain.RecordRepository, store ExportStore, lock ExportLock, logger logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Exporter{
		repo:    repo,
		store:   store,
		lock:    lock,
		program: molfile.DefaultProgram,
		logger:  logger.Named("export"),
	}
}

// WithProgram sets the molblock header program of exported files.
func (e *Exporter) WithProgram(program string) *Exporter {
	if program != "" {
		e.program = program
	}
	return e
}

// ExportKey is the object key of a batch export.
func ExportKey(batchID string) string {
	return "exports/" + batchID + ".sdf"
}

// ExportBatch writes every processed record of batchID, in creation order,
// to exports/<batch>.sdf. Failed records and records whose stored molblock
// no longer reads are skipped.
func (e *Exporter) ExportBatch(ctx context.Context, batchID string) (*ExportResult, error) {
	if batchID == "" {
		return nil, errors.InvalidParam("batch id is required")
	}
	start := time.Now()

	if e.lock != nil {
		release, err := e.lock.Acquire(ctx, "export:"+batchID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("release export lock", logging.String("batch_id", batchID), logging.Err(err))
			}
		}()
	}

	recs, err := e.repo.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	res := &ExportResult{BatchID: batchID, Key: ExportKey(batchID)}

	mols := make([]*domain.Molecule, 0, len(recs))
	for _, rec := range recs {
		if rec.Status != domain.RecordProcessed || rec.MolBlock == "" {
			res.Skipped++
			continue
		}
		m, err := molfile.ReadMolBlock(rec.MolBlock, molfile.ReadOptions{Sanitize: false})
		if err != nil {
			res.Skipped++
			e.logger.Warn("stored molblock unreadable",
				logging.String("record_id", rec.ID),
				logging.Err(err))
			continue
		}
		m.SetProp(PropRecordID, rec.ID)
		m.SetProp(PropCanonical, rec.Canonical)
		m.SetProp(PropInput, rec.Input)
		m.SetProp(PropSeed, strconv.FormatInt(rec.Seed, 10))
		mols = append(mols, m)
	}
	if len(mols) == 0 {
		return nil, errors.NotFound("no processed records in batch").WithDetail(batchID)
	}

	var buf bytes.Buffer
	if err := molfile.WriteSDF(&buf, mols, molfile.WriteOptions{Program: e.program}); err != nil {
		return nil, err
	}
	res.Records = len(mols)
	res.Bytes = buf.Len()

	if res.Location, err = e.store.PutSDF(ctx, res.Key, buf.Bytes()); err != nil {
		return nil, err
	}
	if linker, ok := e.store.(ExportLinker); ok {
		if res.DownloadURL, err = linker.PresignSDF(ctx, res.Key); err != nil {
			e.logger.Warn("presign export", logging.String("key", res.Key), logging.Err(err))
		}
	}
	e.logger.Info("batch exported",
		logging.String("batch_id", batchID),
		logging.String("key", res.Key),
		logging.Int("records", res.Records),
		logging.Int("skipped", res.Skipped),
		logging.Duration("elapsed", time.Since(start)))
	return res, nil
}
