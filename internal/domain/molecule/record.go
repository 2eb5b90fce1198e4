package molecule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordStatus tracks a record through the processing pipeline.
type RecordStatus string

const (
	RecordProcessed RecordStatus = "processed"
	RecordFailed    RecordStatus = "failed"
)

// Record is the persisted outcome of running one input through the
// parse, canonicalize, add hydrogens, embed, export pipeline.
type Record struct {
	ID        string       `json:"id"`
	BatchID   string       `json:"batch_id,omitempty"`
	Name      string       `json:"name,omitempty"`
	Input     string       `json:"input"`
	Canonical string       `json:"canonical,omitempty"`
	MolBlock  string       `json:"molblock,omitempty"`
	Formula   string       `json:"formula,omitempty"`
	NumAtoms  int          `json:"num_atoms"`
	NumBonds  int          `json:"num_bonds"`
	Seed      int64        `json:"seed"`
	Status    RecordStatus `json:"status"`
	ErrorCode string       `json:"error_code,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewRecord returns a record with a fresh ID and creation time.
func NewRecord(input string) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
}

// RecordRepository persists pipeline records.
type RecordRepository interface {
	// Save inserts the record or replaces the one with the same ID.
	Save(ctx context.Context, rec *Record) error

	// FindByID returns errors.CodeRecordNotFound when no record matches.
	FindByID(ctx context.Context, id string) (*Record, error)

	// FindByCanonical returns the most recent processed record for a
	// canonical SMILES.
	FindByCanonical(ctx context.Context, canonical string) (*Record, error)

	// ListByBatch returns the records of a batch in creation order.
	ListByBatch(ctx context.Context, batchID string) ([]*Record, error)

	// CountByStatus returns the number of records per status for a batch.
	CountByStatus(ctx context.Context, batchID string) (map[RecordStatus]int, error)
}

// BatchStatus summarizes how far a batch has got.
type BatchStatus struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// NewBatchStatus folds per-status counts into a BatchStatus.
func NewBatchStatus(batchID string, counts map[RecordStatus]int) *BatchStatus {
	st := &BatchStatus{BatchID: batchID}
	for status, n := range counts {
		st.Total += n
		switch status {
		case RecordProcessed:
			st.Processed += n
		case RecordFailed:
			st.Failed += n
		}
	}
	return st
}

// GraphStore mirrors a molecule's atom/bond graph into a graph database.
type GraphStore interface {
	SaveGraph(ctx context.Context, recordID string, mol *Molecule) error
}

// GraphSummary is what the graph store holds for one record.
type GraphSummary struct {
	RecordID string `json:"record_id"`
	Formula  string `json:"formula"`
	Atoms    int    `json:"atoms"`
	Bonds    int    `json:"bonds"`
}
