package milvus

import (
	"context"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
	mtypes "github.com/turtacn/molcore/pkg/types/molecule"
)

const (
	fieldRecordID    = "record_id"
	fieldFingerprint = "fingerprint"

	// recordIDMaxLength fits a UUID with room to spare.
	recordIDMaxLength = 64
	shardsNum         = 2
)

// FingerprintIndex keeps one Morgan fingerprint per record. Jaccard distance
// on binary vectors is one minus Tanimoto similarity, so hits map back
// directly.
type FingerprintIndex struct {
	client *Client
	opts   mtypes.FingerprintOptions
	cl     entity.ConsistencyLevel
	logger logging.Logger
}

// NewFingerprintIndex creates the collection and its index when missing and
// loads it for search.
func NewFingerprintIndex(ctx context.Context, c *Client, logger logging.Logger) (*FingerprintIndex, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	opts := mtypes.DefaultFingerprintOptions()
	opts.Type = mtypes.FPMorgan
	opts.Radius = c.config.Radius
	opts.NBits = c.config.NBits

	cl := entity.ClBounded
	if c.config.StrongConsistency {
		cl = entity.ClStrong
	}
	idx := &FingerprintIndex{client: c, opts: opts, cl: cl, logger: logger.Named("milvus")}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (x *FingerprintIndex) ensureCollection(ctx context.Context) error {
	name := x.client.config.Collection
	has, err := x.client.mc.HasCollection(ctx, name)
	if err != nil {
		return errors.Wrap(err, errors.CodeUnavailable, "failed to check milvus collection")
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    "molecule record fingerprints",
			Fields: []*entity.Field{
				{
					Name:       fieldRecordID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": strconv.Itoa(recordIDMaxLength)},
				},
				{
					Name:       fieldFingerprint,
					DataType:   entity.FieldTypeBinaryVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(x.opts.NBits)},
				},
			},
		}
		if err := x.client.mc.CreateCollection(ctx, schema, shardsNum); err != nil {
			return errors.Wrap(err, errors.CodeUnavailable, "failed to create milvus collection")
		}
		index, err := entity.NewIndexBinIvfFlat(entity.JACCARD, x.client.config.NList)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidParam, "invalid milvus index parameters")
		}
		if err := x.client.mc.CreateIndex(ctx, name, fieldFingerprint, index, false); err != nil {
			return errors.Wrap(err, errors.CodeUnavailable, "failed to create milvus index")
		}
		x.logger.Info("milvus collection created",
			logging.String("collection", name), logging.Int("dim", x.opts.NBits))
	}
	if err := x.client.mc.LoadCollection(ctx, name, false); err != nil {
		return errors.Wrap(err, errors.CodeUnavailable, "failed to load milvus collection")
	}
	return nil
}

// Options reports the fingerprint stored in the collection.
func (x *FingerprintIndex) Options() mtypes.FingerprintOptions { return x.opts }

// Upsert stores or replaces the fingerprint of recordID.
func (x *FingerprintIndex) Upsert(ctx context.Context, recordID string, fp *domain.Fingerprint) error {
	if recordID == "" || len(recordID) > recordIDMaxLength {
		return errors.InvalidParam("record id must be 1 to 64 characters")
	}
	if err := x.check(fp); err != nil {
		return err
	}
	_, err := x.client.mc.Upsert(ctx, x.client.config.Collection, "",
		entity.NewColumnVarChar(fieldRecordID, []string{recordID}),
		entity.NewColumnBinaryVector(fieldFingerprint, x.opts.NBits, [][]byte{fp.ToBytes()}),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeUnavailable, "failed to upsert fingerprint")
	}
	return nil
}

// Search returns up to topK records ordered by decreasing Tanimoto
// similarity to fp.
func (x *FingerprintIndex) Search(ctx context.Context, fp *domain.Fingerprint, topK int) ([]domain.SimilarityHit, error) {
	if topK < 1 {
		return nil, errors.InvalidParam("topK must be >= 1")
	}
	if err := x.check(fp); err != nil {
		return nil, err
	}
	sp, err := entity.NewIndexBinIvfFlatSearchParam(x.client.config.NProbe)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "invalid milvus search parameters")
	}
	results, err := x.client.mc.Search(ctx, x.client.config.Collection, nil, "", nil,
		[]entity.Vector{entity.BinaryVector(fp.ToBytes())}, fieldFingerprint, entity.JACCARD, topK, sp,
		client.WithSearchQueryConsistencyLevel(x.cl))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "milvus search failed")
	}
	if len(results) == 0 {
		return nil, nil
	}

	res := results[0]
	hits := make([]domain.SimilarityHit, 0, res.ResultCount)
	for i := 0; i < res.ResultCount && i < len(res.Scores); i++ {
		id, err := res.IDs.GetAsString(i)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "unexpected milvus id column")
		}
		hits = append(hits, domain.SimilarityHit{RecordID: id, Similarity: 1 - float64(res.Scores[i])})
	}
	return hits, nil
}

func (x *FingerprintIndex) check(fp *domain.Fingerprint) error {
	if fp == nil {
		return errors.InvalidParam("fingerprint is required")
	}
	if fp.Type != x.opts.Type || fp.Length != x.opts.NBits {
		return errors.InvalidParam("fingerprint does not match the index").
			WithDetail(string(fp.Type) + "/" + strconv.Itoa(fp.Length))
	}
	return nil
}
