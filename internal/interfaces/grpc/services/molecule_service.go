// Package services implements the molcore gRPC services.
package services

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// RecordProcessor runs the full pipeline. *appmol.Pipeline satisfies it.
type RecordProcessor interface {
	Process(ctx context.Context, req moltypes.ProcessRequest) (*domain.Record, error)
}

// RecordFinder loads stored records.
type RecordFinder interface {
	FindByID(ctx context.Context, id string) (*domain.Record, error)
}

// SimilaritySearcher finds stored records like a query. *appmol.Searcher
// satisfies it.
type SimilaritySearcher interface {
	Search(ctx context.Context, req moltypes.SearchRequest) (*moltypes.SearchResponse, error)
}

type recordRequest struct {
	ID string `json:"id" validate:"required,max=64"`
}

var validate = validator.New()

// MoleculeService serves molcore.v1.MoleculeService on top of the
// application layer.
type MoleculeService struct {
	svc      appmol.Service
	pipeline RecordProcessor
	records  RecordFinder
	searcher SimilaritySearcher
	logger   logging.Logger
}

// Option configures a MoleculeService.
type Option func(*MoleculeService)

// WithSearcher enables SearchSimilar.
func WithSearcher(s SimilaritySearcher) Option {
	return func(ms *MoleculeService) { ms.searcher = s }
}

var _ MoleculeServiceServer = (*MoleculeService)(nil)

// NewMoleculeService builds the service. pipeline and records may be nil, in
// which case Process and GetRecord answer Unavailable.
func NewMoleculeService(svc appmol.Service, pipeline RecordProcessor, records RecordFinder, logger logging.Logger, opts ...Option) *MoleculeService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &MoleculeService{svc: svc, pipeline: pipeline, records: records, logger: logger.Named("grpc.molecule")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MoleculeService) Parse(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertParse, in)
}

func (s *MoleculeService) Canonical(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertCanonical, in)
}

func (s *MoleculeService) AddHydrogens(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertHydrogens, in)
}

func (s *MoleculeService) RemoveHydrogens(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertRemoveHydrogen, in)
}

func (s *MoleculeService) Embed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertEmbed, in)
}

func (s *MoleculeService) MolBlock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertMolBlock, in)
}

func (s *MoleculeService) JSON(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertJSON, in)
}

func (s *MoleculeService) Fingerprint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertFingerprint, in)
}

func (s *MoleculeService) Descriptors(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertDescriptors, in)
}

func (s *MoleculeService) Neutralize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.convert(ctx, appmol.ConvertNeutralize, in)
}

func (s *MoleculeService) Similarity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req moltypes.SimilarityRequest
	if err := decode(in, &req); err != nil {
		return nil, s.status(err)
	}
	resp, err := appmol.Compare(ctx, s.svc, req)
	if err != nil {
		return nil, s.status(err)
	}
	return encode(resp)
}

func (s *MoleculeService) SearchSimilar(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.searcher == nil {
		return nil, status.Error(codes.Unavailable, "similarity index is not configured")
	}
	var req moltypes.SearchRequest
	if err := decode(in, &req); err != nil {
		return nil, s.status(err)
	}
	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, s.status(err)
	}
	return encode(resp)
}

func (s *MoleculeService) convert(ctx context.Context, op string, in *structpb.Struct) (*structpb.Struct, error) {
	var req moltypes.ConvertRequest
	if err := decode(in, &req); err != nil {
		return nil, s.status(err)
	}
	resp, err := appmol.Convert(ctx, s.svc, op, req)
	if err != nil {
		return nil, s.status(err)
	}
	return encode(resp)
}

// Process runs the pipeline. A failed record is attached to the error status
// as a detail so callers can still read its ID.
func (s *MoleculeService) Process(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.Unavailable, "record pipeline is not configured")
	}
	var req moltypes.ProcessRequest
	if err := decode(in, &req); err != nil {
		return nil, s.status(err)
	}
	rec, err := s.pipeline.Process(ctx, req)
	if err != nil {
		st := s.status(err)
		if rec == nil {
			return nil, st
		}
		detail, encErr := encode(rec)
		if encErr != nil {
			return nil, st
		}
		if withRec, dErr := status.Convert(st).WithDetails(detail); dErr == nil {
			return nil, withRec.Err()
		}
		return nil, st
	}
	return encode(rec)
}

func (s *MoleculeService) GetRecord(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.records == nil {
		return nil, status.Error(codes.Unavailable, "record store is not configured")
	}
	var req recordRequest
	if err := decode(in, &req); err != nil {
		return nil, s.status(err)
	}
	rec, err := s.records.FindByID(ctx, req.ID)
	if err != nil {
		return nil, s.status(err)
	}
	return encode(rec)
}

func (s *MoleculeService) Version(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(appmol.VersionInfo())
}

// status converts err to a gRPC status and logs server-side failures.
func (s *MoleculeService) status(err error) error {
	code := errors.GetCode(err)
	gc := grpcCode(code)
	if gc == codes.Internal || gc == codes.Unknown {
		s.logger.Error("molecule rpc failed", logging.String("code", code.String()), logging.Err(err))
		if code != errors.CodeContractViolation {
			return status.Error(codes.Internal, errors.DefaultMessageForCode(errors.CodeInternal))
		}
	}
	return status.Error(gc, publicMessage(err))
}

func publicMessage(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		if appErr.Detail != "" {
			return appErr.Message + ": " + appErr.Detail
		}
		return appErr.Message
	}
	return err.Error()
}

// grpcCode maps an application error code to the gRPC code of the same
// meaning.
func grpcCode(code errors.ErrorCode) codes.Code {
	switch code {
	case errors.CodeOK:
		return codes.OK
	case errors.CodeInvalidParam, errors.CodeParse, errors.CodeInvalidFormat:
		return codes.InvalidArgument
	case errors.CodeValence, errors.CodeEmbedFailure:
		return codes.FailedPrecondition
	case errors.CodeNotFound, errors.CodeRecordNotFound:
		return codes.NotFound
	case errors.CodeConflict:
		return codes.AlreadyExists
	case errors.CodeUnavailable, errors.CodeStorage, errors.CodeMessaging:
		return codes.Unavailable
	case errors.ErrCodeTimeout:
		return codes.DeadlineExceeded
	case errors.CodeUnknown:
		return codes.Unknown
	default:
		return codes.Internal
	}
}

// decode maps a Struct onto dst through its JSON form and validates it.
func decode(in *structpb.Struct, dst interface{}) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidParam, "malformed request")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(err, errors.CodeInvalidParam, "malformed request")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			return errors.InvalidParam("validation failed").WithDetail(verrs[0].Field() + " (" + verrs[0].Tag() + ")")
		}
		return errors.Wrap(err, errors.CodeInvalidParam, "validation failed")
	}
	return nil
}

func encode(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}
