package molecule

import (
	"context"

	"github.com/turtacn/molcore/internal/chemistry/handle"
	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// Compare fingerprints both inputs with the same options and reports their
// Tanimoto and Dice coefficients.
func Compare(ctx context.Context, svc Service, req moltypes.SimilarityRequest) (*moltypes.SimilarityResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	query, err := fingerprintOf(ctx, svc, req.Query, req.Options)
	if err != nil {
		return nil, err
	}
	target, err := fingerprintOf(ctx, svc, req.Target, req.Options)
	if err != nil {
		return nil, err
	}
	return &moltypes.SimilarityResponse{
		Tanimoto: domain.Tanimoto(query, target),
		Dice:     domain.Dice(query, target),
	}, nil
}

func fingerprintOf(ctx context.Context, svc Service, input, optsJSON string) (*domain.Fingerprint, error) {
	h, err := svc.Parse(ctx, input, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = svc.Release(h) }()
	fp, err := svc.Fingerprint(ctx, h, optsJSON)
	if err != nil {
		return nil, err
	}
	return domain.NewFingerprint(fp.Type, fp.Bytes, fp.Length), nil
}

// Searcher finds stored records whose fingerprints resemble a query.
type Searcher struct {
	svc    Service
	index  domain.FingerprintIndex
	repo   domain.RecordRepository
	logger logging.Logger
}

// NewSearcher creates a searcher over index. Hits are enriched from repo.
func NewSearcher(svc Service, index domain.FingerprintIndex, repo domain.RecordRepository, logger logging.Logger) *Searcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Searcher{svc: svc, index: index, repo: repo, logger: logger.Named("search")}
}

// Search fingerprints req.Input with the index's options and returns the
// nearest records at or above req.MinSimilarity.
func (s *Searcher) Search(ctx context.Context, req moltypes.SearchRequest) (*moltypes.SearchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	h, err := s.svc.Parse(ctx, req.Input, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.svc.Release(h) }()

	canonical, err := s.svc.CanonicalText(ctx, h, "")
	if err != nil {
		return nil, err
	}
	fp, err := s.queryFingerprint(ctx, h)
	if err != nil {
		return nil, err
	}

	found, err := s.index.Search(ctx, fp, req.TopK)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "similarity search")
	}
	resp := &moltypes.SearchResponse{Query: canonical, Hits: make([]moltypes.SearchHit, 0, len(found))}
	for _, f := range found {
		if f.Similarity < req.MinSimilarity {
			continue
		}
		hit := moltypes.SearchHit{RecordID: f.RecordID, Similarity: f.Similarity}
		rec, err := s.repo.FindByID(ctx, f.RecordID)
		switch {
		case err == nil:
			hit.Canonical, hit.Name = rec.Canonical, rec.Name
		case errors.IsCode(err, errors.CodeRecordNotFound):
			// The index may briefly outlive a record.
			continue
		default:
			s.logger.Warn("hit enrichment failed", logging.String("record_id", f.RecordID), logging.Err(err))
		}
		resp.Hits = append(resp.Hits, hit)
	}
	return resp, nil
}

func (s *Searcher) queryFingerprint(ctx context.Context, h *handle.Handle) (*domain.Fingerprint, error) {
	fp, err := s.svc.Fingerprint(ctx, h, optionsJSON(s.index.Options()))
	if err != nil {
		return nil, err
	}
	return domain.NewFingerprint(fp.Type, fp.Bytes, fp.Length), nil
}
