package molecule

import (
	"context"

	"github.com/stretchr/testify/mock"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

type mockRecordRepository struct {
	mock.Mock
}

func (m *mockRecordRepository) Save(ctx context.Context, rec *domain.Record) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockRecordRepository) FindByID(ctx context.Context, id string) (*domain.Record, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*domain.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRecordRepository) FindByCanonical(ctx context.Context, canonical string) (*domain.Record, error) {
	args := m.Called(ctx, canonical)
	if v := args.Get(0); v != nil {
		return v.(*domain.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRecordRepository) ListByBatch(ctx context.Context, batchID string) ([]*domain.Record, error) {
	args := m.Called(ctx, batchID)
	if v := args.Get(0); v != nil {
		return v.([]*domain.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRecordRepository) CountByStatus(ctx context.Context, batchID string) (map[domain.RecordStatus]int, error) {
	args := m.Called(ctx, batchID)
	counts, _ := args.Get(0).(map[domain.RecordStatus]int)
	return counts, args.Error(1)
}

type mockGraphStore struct {
	mock.Mock
}

func (m *mockGraphStore) SaveGraph(ctx context.Context, recordID string, mol *domain.Molecule) error {
	return m.Called(ctx, recordID, mol).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishEvent(ctx context.Context, topic, key, eventType string, payload interface{}) error {
	return m.Called(ctx, topic, key, eventType, payload).Error(0)
}

type mockExportStore struct {
	mock.Mock
}

func (m *mockExportStore) PutSDF(ctx context.Context, key string, data []byte) (string, error) {
	args := m.Called(ctx, key, data)
	return args.String(0), args.Error(1)
}

type mockLinkingStore struct {
	mockExportStore
}

func (m *mockLinkingStore) PresignSDF(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

type mockExportLock struct {
	mock.Mock
	released int
}

func (m *mockExportLock) Acquire(ctx context.Context, name string) (func(context.Context) error, error) {
	args := m.Called(ctx, name)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return func(context.Context) error {
		m.released++
		return nil
	}, nil
}

type mockFingerprintIndex struct {
	mock.Mock
}

func (m *mockFingerprintIndex) Options() moltypes.FingerprintOptions {
	return moltypes.DefaultFingerprintOptions()
}

func (m *mockFingerprintIndex) Upsert(ctx context.Context, recordID string, fp *domain.Fingerprint) error {
	return m.Called(ctx, recordID, fp).Error(0)
}

func (m *mockFingerprintIndex) Search(ctx context.Context, fp *domain.Fingerprint, topK int) ([]domain.SimilarityHit, error) {
	args := m.Called(ctx, fp, topK)
	hits, _ := args.Get(0).([]domain.SimilarityHit)
	return hits, args.Error(1)
}
