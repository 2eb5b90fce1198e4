package milvus

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
	mtypes "github.com/turtacn/molcore/pkg/types/molecule"
)

func newTestIndex(t *testing.T, mock *mockMilvusClient) *FingerprintIndex {
	t.Helper()
	withMock(t, mock)
	c, err := NewClient(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	idx, err := NewFingerprintIndex(context.Background(), c, nil)
	require.NoError(t, err)
	return idx
}

func fingerprint(bits ...int) *domain.Fingerprint {
	data := make([]byte, 8)
	for _, b := range bits {
		data[b/8] |= 1 << uint(b%8)
	}
	return domain.NewFingerprint(mtypes.FPMorgan, data, 64)
}

func TestNewFingerprintIndex_CreatesCollection(t *testing.T) {
	var (
		schema  *entity.Schema
		indexed string
		loaded  bool
	)
	mock := &mockMilvusClient{
		hasCollectionFunc: func(ctx context.Context, name string) (bool, error) { return false, nil },
		createCollectionFunc: func(ctx context.Context, s *entity.Schema, shards int32) error {
			schema = s
			return nil
		},
		createIndexFunc: func(ctx context.Context, coll, field string, idx entity.Index, async bool) error {
			indexed = field
			assert.Equal(t, entity.BinIvfFlat, idx.IndexType())
			return nil
		},
		loadCollectionFunc: func(ctx context.Context, name string, async bool) error {
			loaded = true
			return nil
		},
	}
	idx := newTestIndex(t, mock)

	require.NotNil(t, schema)
	assert.Equal(t, "fingerprints", schema.CollectionName)
	require.Len(t, schema.Fields, 2)
	assert.True(t, schema.Fields[0].PrimaryKey)
	assert.Equal(t, entity.FieldTypeVarChar, schema.Fields[0].DataType)
	assert.Equal(t, entity.FieldTypeBinaryVector, schema.Fields[1].DataType)
	assert.Equal(t, "64", schema.Fields[1].TypeParams["dim"])
	assert.Equal(t, fieldFingerprint, indexed)
	assert.True(t, loaded)

	opts := idx.Options()
	assert.Equal(t, mtypes.FPMorgan, opts.Type)
	assert.Equal(t, 64, opts.NBits)
	assert.Equal(t, 2, opts.Radius)
}

func TestNewFingerprintIndex_ExistingCollection(t *testing.T) {
	created := false
	mock := &mockMilvusClient{
		createCollectionFunc: func(ctx context.Context, s *entity.Schema, shards int32) error {
			created = true
			return nil
		},
	}
	newTestIndex(t, mock)
	assert.False(t, created)
}

func TestNewFingerprintIndex_LoadFailure(t *testing.T) {
	mock := &mockMilvusClient{
		loadCollectionFunc: func(ctx context.Context, name string, async bool) error {
			return stderrors.New("no query nodes")
		},
	}
	withMock(t, mock)
	c, err := NewClient(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	_, err = NewFingerprintIndex(context.Background(), c, nil)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
}

func TestFingerprintIndex_Upsert(t *testing.T) {
	var columns []entity.Column
	mock := &mockMilvusClient{
		upsertFunc: func(ctx context.Context, coll, partition string, cols ...entity.Column) (entity.Column, error) {
			assert.Equal(t, "fingerprints", coll)
			columns = cols
			return nil, nil
		},
	}
	idx := newTestIndex(t, mock)

	require.NoError(t, idx.Upsert(context.Background(), "rec-1", fingerprint(0, 9, 63)))
	require.Len(t, columns, 2)
	assert.Equal(t, fieldRecordID, columns[0].Name())
	assert.Equal(t, fieldFingerprint, columns[1].Name())
	vec, ok := columns[1].(*entity.ColumnBinaryVector)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02, 0, 0, 0, 0, 0, 0x80}, vec.Data()[0])
}

func TestFingerprintIndex_UpsertRejects(t *testing.T) {
	mock := &mockMilvusClient{
		upsertFunc: func(ctx context.Context, coll, partition string, cols ...entity.Column) (entity.Column, error) {
			return nil, stderrors.New("rpc error")
		},
	}
	idx := newTestIndex(t, mock)
	ctx := context.Background()

	err := idx.Upsert(ctx, "", fingerprint(1))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	wrongLength := domain.NewFingerprint(mtypes.FPMorgan, make([]byte, 16), 128)
	err = idx.Upsert(ctx, "rec-1", wrongLength)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	wrongType := domain.NewFingerprint(mtypes.FPTopological, make([]byte, 8), 64)
	err = idx.Upsert(ctx, "rec-1", wrongType)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	err = idx.Upsert(ctx, "rec-1", fingerprint(1))
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
}

func TestFingerprintIndex_Search(t *testing.T) {
	mock := &mockMilvusClient{
		searchFunc: func(ctx context.Context, coll string, vectors []entity.Vector, field string, metric entity.MetricType, topK int) ([]client.SearchResult, error) {
			assert.Equal(t, fieldFingerprint, field)
			assert.Equal(t, entity.JACCARD, metric)
			assert.Equal(t, 3, topK)
			require.Len(t, vectors, 1)
			assert.Equal(t, entity.BinaryVector(fingerprint(4).ToBytes()), vectors[0])
			return []client.SearchResult{{
				ResultCount: 2,
				IDs:         entity.NewColumnVarChar(fieldRecordID, []string{"rec-1", "rec-2"}),
				Scores:      []float32{0, 0.75},
			}}, nil
		},
	}
	idx := newTestIndex(t, mock)

	hits, err := idx.Search(context.Background(), fingerprint(4), 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "rec-1", hits[0].RecordID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "rec-2", hits[1].RecordID)
	assert.InDelta(t, 0.25, hits[1].Similarity, 1e-6)
}

func TestFingerprintIndex_SearchErrors(t *testing.T) {
	mock := &mockMilvusClient{
		searchFunc: func(ctx context.Context, coll string, vectors []entity.Vector, field string, metric entity.MetricType, topK int) ([]client.SearchResult, error) {
			return nil, stderrors.New("collection not loaded")
		},
	}
	idx := newTestIndex(t, mock)
	ctx := context.Background()

	_, err := idx.Search(ctx, fingerprint(1), 0)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = idx.Search(ctx, nil, 5)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = idx.Search(ctx, fingerprint(1), 5)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
}

func TestFingerprintIndex_EmptyResult(t *testing.T) {
	idx := newTestIndex(t, &mockMilvusClient{})
	hits, err := idx.Search(context.Background(), fingerprint(1), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
