package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	appErrors "github.com/turtacn/molcore/pkg/errors"
)

const recordColumns = `id, batch_id, name, input, canonical, molblock, formula,
       num_atoms, num_bonds, seed, status, error_code, error, created_at`

// querier is the subset of pgxpool.Pool and pgx.Tx the repository needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordRepository is the PostgreSQL implementation of
// domain.RecordRepository over the molecule_records table.
type RecordRepository struct {
	db      querier
	logger  logging.Logger
	metrics *prometheus.AppMetrics
}

var _ domain.RecordRepository = (*RecordRepository)(nil)

// NewRecordRepository constructs a RecordRepository. A nil metrics value
// disables query timing.
func NewRecordRepository(pool *pgxpool.Pool, logger logging.Logger, metrics *prometheus.AppMetrics) *RecordRepository {
	return newRecordRepository(pool, logger, metrics)
}

func newRecordRepository(db querier, logger logging.Logger, metrics *prometheus.AppMetrics) *RecordRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = prometheus.NewNopAppMetrics()
	}
	return &RecordRepository{db: db, logger: logger.Named("record_repo"), metrics: metrics}
}

// Save upserts rec keyed by its ID. Redelivered jobs overwrite the
// earlier outcome.
func (r *RecordRepository) Save(ctx context.Context, rec *domain.Record) (err error) {
	if rec == nil || rec.ID == "" {
		return appErrors.InvalidParam("record with an id is required")
	}
	defer r.observe("save", time.Now(), &err)

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO molecule_records (
			id, batch_id, name, input, canonical, molblock, formula,
			num_atoms, num_bonds, seed, status, error_code, error, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			name = EXCLUDED.name,
			input = EXCLUDED.input,
			canonical = EXCLUDED.canonical,
			molblock = EXCLUDED.molblock,
			formula = EXCLUDED.formula,
			num_atoms = EXCLUDED.num_atoms,
			num_bonds = EXCLUDED.num_bonds,
			seed = EXCLUDED.seed,
			status = EXCLUDED.status,
			error_code = EXCLUDED.error_code,
			error = EXCLUDED.error,
			updated_at = NOW()`,
		rec.ID, rec.BatchID, rec.Name, rec.Input, rec.Canonical, rec.MolBlock, rec.Formula,
		rec.NumAtoms, rec.NumBonds, rec.Seed, string(rec.Status), rec.ErrorCode, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to save record", logging.String("id", rec.ID), logging.Err(err))
		return appErrors.Wrap(err, appErrors.CodeDatabase, "failed to save molecule record")
	}
	return nil
}

func (r *RecordRepository) FindByID(ctx context.Context, id string) (rec *domain.Record, err error) {
	if id == "" {
		return nil, appErrors.InvalidParam("record id is required")
	}
	defer r.observe("find_by_id", time.Now(), &err)

	rec, err = scanRecord(r.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM molecule_records WHERE id = $1`, id))
	if err != nil {
		return nil, r.notFound(err, "id", id)
	}
	return rec, nil
}

func (r *RecordRepository) FindByCanonical(ctx context.Context, canonical string) (rec *domain.Record, err error) {
	if canonical == "" {
		return nil, appErrors.InvalidParam("canonical smiles is required")
	}
	defer r.observe("find_by_canonical", time.Now(), &err)

	rec, err = scanRecord(r.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM molecule_records
		 WHERE canonical = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT 1`, canonical, string(domain.RecordProcessed)))
	if err != nil {
		return nil, r.notFound(err, "canonical", canonical)
	}
	return rec, nil
}

func (r *RecordRepository) ListByBatch(ctx context.Context, batchID string) (out []*domain.Record, err error) {
	if batchID == "" {
		return nil, appErrors.InvalidParam("batch id is required")
	}
	defer r.observe("list_by_batch", time.Now(), &err)

	rows, err := r.db.Query(ctx,
		`SELECT `+recordColumns+` FROM molecule_records
		 WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeDatabase, "failed to list batch records")
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.CodeDatabase, "failed to scan batch record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeDatabase, "failed to iterate batch records")
	}
	return out, nil
}

// CountByStatus returns the number of records per status for a batch.
func (r *RecordRepository) CountByStatus(ctx context.Context, batchID string) (counts map[domain.RecordStatus]int, err error) {
	defer r.observe("count_by_status", time.Now(), &err)

	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM molecule_records WHERE batch_id = $1 GROUP BY status`, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeDatabase, "failed to count batch records")
	}
	defer rows.Close()

	counts = make(map[domain.RecordStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, appErrors.Wrap(err, appErrors.CodeDatabase, "failed to scan status count")
		}
		counts[domain.RecordStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *RecordRepository) notFound(err error, key, value string) error {
	if err == pgx.ErrNoRows {
		return appErrors.New(appErrors.CodeRecordNotFound, "molecule record not found").
			WithDetail(key + "=" + value)
	}
	r.logger.Error("failed to load record", logging.String(key, value), logging.Err(err))
	return appErrors.Wrap(err, appErrors.CodeDatabase, "failed to load molecule record")
}

func (r *RecordRepository) observe(op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	if appErrors.IsCode(err, appErrors.CodeRecordNotFound) {
		err = nil
	}
	prometheus.RecordDBQuery(r.metrics, "postgres", op, time.Since(start), err)
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var (
		rec    domain.Record
		status string
	)
	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.Name, &rec.Input, &rec.Canonical, &rec.MolBlock, &rec.Formula,
		&rec.NumAtoms, &rec.NumBonds, &rec.Seed, &status, &rec.ErrorCode, &rec.Error, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.RecordStatus(status)
	return &rec, nil
}
