package services

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

type stubProcessor struct {
	rec *domain.Record
	err error
	got moltypes.ProcessRequest
}

func (s *stubProcessor) Process(ctx context.Context, req moltypes.ProcessRequest) (*domain.Record, error) {
	s.got = req
	return s.rec, s.err
}

type stubFinder struct {
	recs map[string]*domain.Record
}

func (s *stubFinder) FindByID(ctx context.Context, id string) (*domain.Record, error) {
	if rec, ok := s.recs[id]; ok {
		return rec, nil
	}
	return nil, errors.New(errors.CodeRecordNotFound, "record not found").WithDetail(id)
}

// dial serves impl over an in-memory listener and returns a client.
func dial(t *testing.T, impl MoleculeServiceServer) *MoleculeServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&MoleculeServiceDesc, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewMoleculeServiceClient(conn)
}

func newStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func newTestService(p RecordProcessor, f RecordFinder) *MoleculeService {
	return NewMoleculeService(appmol.NewService(logging.NewNopLogger()), p, f, nil)
}

func TestMoleculeService_Canonical(t *testing.T) {
	c := dial(t, newTestService(nil, nil))

	out, err := c.Call(context.Background(), MethodCanonical, newStruct(t, map[string]interface{}{"input": "c1cc(O)ccc1"}))
	require.NoError(t, err)
	assert.Equal(t, "Oc1ccccc1", out.Fields["output"].GetStringValue())
	assert.Equal(t, appmol.OutputSMILES, out.Fields["format"].GetStringValue())
}

func TestMoleculeService_Parse_Description(t *testing.T) {
	c := dial(t, newTestService(nil, nil))

	out, err := c.Call(context.Background(), MethodParse, newStruct(t, map[string]interface{}{"input": "c1cc(O)ccc1"}))
	require.NoError(t, err)
	desc := out.Fields["description"].GetStructValue()
	require.NotNil(t, desc)
	assert.Equal(t, "C6H6O", desc.Fields["formula"].GetStringValue())
	assert.Equal(t, float64(7), desc.Fields["num_atoms"].GetNumberValue())
}

func TestMoleculeService_Embed_Deterministic(t *testing.T) {
	c := dial(t, newTestService(nil, nil))
	in := newStruct(t, map[string]interface{}{"input": "CCO", "options": `{"randomSeed":42}`})

	a, err := c.Call(context.Background(), MethodEmbed, in)
	require.NoError(t, err)
	b, err := c.Call(context.Background(), MethodEmbed, in)
	require.NoError(t, err)
	assert.Equal(t, a.Fields["output"].GetStringValue(), b.Fields["output"].GetStringValue())
	assert.Contains(t, a.Fields["output"].GetStringValue(), "M  END")
}

func TestMoleculeService_ErrorCodes(t *testing.T) {
	c := dial(t, newTestService(nil, nil))

	cases := []struct {
		name   string
		method string
		in     map[string]interface{}
		want   codes.Code
	}{
		{"missing input", MethodCanonical, map[string]interface{}{}, codes.InvalidArgument},
		{"parse error", MethodCanonical, map[string]interface{}{"input": "c1ccccc("}, codes.InvalidArgument},
		{"valence error", MethodParse, map[string]interface{}{"input": "C(C)(C)(C)(C)C"}, codes.FailedPrecondition},
		{"bad options", MethodEmbed, map[string]interface{}{"input": "CCO", "options": "{"}, codes.InvalidArgument},
		{"unconfigured pipeline", MethodProcess, map[string]interface{}{"input": "CCO"}, codes.Unavailable},
		{"unconfigured records", MethodGetRecord, map[string]interface{}{"id": "x"}, codes.Unavailable},
		{"unconfigured index", MethodSearchSimilar, map[string]interface{}{"input": "CCO"}, codes.Unavailable},
		{"missing target", MethodSimilarity, map[string]interface{}{"query": "CCO"}, codes.InvalidArgument},
		{"bad fingerprint", MethodFingerprint, map[string]interface{}{"input": "CCO", "options": `{"nBits":-1}`}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Call(context.Background(), tc.method, newStruct(t, tc.in))
			assert.Equal(t, tc.want, status.Code(err), "%v", err)
		})
	}
}

func TestMoleculeService_Process(t *testing.T) {
	rec := &domain.Record{ID: "rec-1", Input: "CCO", Canonical: "CCO", Status: domain.RecordProcessed}
	p := &stubProcessor{rec: rec}
	c := dial(t, newTestService(p, nil))

	out, err := c.Call(context.Background(), MethodProcess,
		newStruct(t, map[string]interface{}{"input": "CCO", "batch_id": "b1", "seed": 7}))
	require.NoError(t, err)
	assert.Equal(t, "rec-1", out.Fields["id"].GetStringValue())
	assert.Equal(t, "b1", p.got.BatchID)
	require.NotNil(t, p.got.Seed)
	assert.Equal(t, int64(7), *p.got.Seed)
}

func TestMoleculeService_Process_FailedRecordDetail(t *testing.T) {
	rec := &domain.Record{ID: "rec-2", Input: "c1ccccc(", Status: domain.RecordFailed}
	p := &stubProcessor{rec: rec, err: errors.New(errors.CodeParse, "unclosed ring or branch")}
	c := dial(t, newTestService(p, nil))

	_, err := c.Call(context.Background(), MethodProcess, newStruct(t, map[string]interface{}{"input": "c1ccccc("}))
	st := status.Convert(err)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	require.Len(t, st.Details(), 1)
	detail, ok := st.Details()[0].(*structpb.Struct)
	require.True(t, ok)
	assert.Equal(t, "rec-2", detail.Fields["id"].GetStringValue())
}

func TestMoleculeService_Process_RejectsSlashInBatch(t *testing.T) {
	p := &stubProcessor{}
	c := dial(t, newTestService(p, nil))

	_, err := c.Call(context.Background(), MethodProcess,
		newStruct(t, map[string]interface{}{"input": "CCO", "batch_id": "a/b"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestMoleculeService_GetRecord(t *testing.T) {
	f := &stubFinder{recs: map[string]*domain.Record{"rec-1": {ID: "rec-1", Formula: "C2H6O"}}}
	c := dial(t, newTestService(nil, f))

	out, err := c.Call(context.Background(), MethodGetRecord, newStruct(t, map[string]interface{}{"id": "rec-1"}))
	require.NoError(t, err)
	assert.Equal(t, "C2H6O", out.Fields["formula"].GetStringValue())

	_, err = c.Call(context.Background(), MethodGetRecord, newStruct(t, map[string]interface{}{"id": "nope"}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

type stubSearcher struct {
	got moltypes.SearchRequest
}

func (s *stubSearcher) Search(ctx context.Context, req moltypes.SearchRequest) (*moltypes.SearchResponse, error) {
	s.got = req
	return &moltypes.SearchResponse{Query: req.Input, Hits: []moltypes.SearchHit{{RecordID: "rec-1", Similarity: 0.75}}}, nil
}

func TestMoleculeService_FingerprintAndDescriptors(t *testing.T) {
	c := dial(t, newTestService(nil, nil))

	out, err := c.Call(context.Background(), MethodFingerprint,
		newStruct(t, map[string]interface{}{"input": "CCO", "options": `{"nBits":64}`}))
	require.NoError(t, err)
	assert.Len(t, out.Fields["output"].GetStringValue(), 64)
	fp := out.Fields["fingerprint"].GetStructValue()
	require.NotNil(t, fp)
	assert.Equal(t, "morgan", fp.Fields["type"].GetStringValue())

	out, err = c.Call(context.Background(), MethodDescriptors, newStruct(t, map[string]interface{}{"input": "CCCN"}))
	require.NoError(t, err)
	d := out.Fields["descriptors"].GetStructValue()
	require.NotNil(t, d)
	assert.Equal(t, float64(4), d.Fields["NumHeavyAtoms"].GetNumberValue())
	assert.Equal(t, float64(1), d.Fields["NumRotatableBonds"].GetNumberValue())

	out, err = c.Call(context.Background(), MethodNeutralize, newStruct(t, map[string]interface{}{"input": "C[NH3+]"}))
	require.NoError(t, err)
	assert.NotContains(t, out.Fields["output"].GetStringValue(), "+")
}

func TestMoleculeService_Similarity(t *testing.T) {
	c := dial(t, newTestService(nil, nil))

	out, err := c.Call(context.Background(), MethodSimilarity,
		newStruct(t, map[string]interface{}{"query": "CCO", "target": "OCC"}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Fields["tanimoto"].GetNumberValue())
}

func TestMoleculeService_SearchSimilar(t *testing.T) {
	searcher := &stubSearcher{}
	svc := NewMoleculeService(appmol.NewService(logging.NewNopLogger()), nil, nil, nil, WithSearcher(searcher))
	c := dial(t, svc)

	out, err := c.Call(context.Background(), MethodSearchSimilar,
		newStruct(t, map[string]interface{}{"input": "CCO", "top_k": 3}))
	require.NoError(t, err)
	assert.Equal(t, 3, searcher.got.TopK)
	hits := out.Fields["hits"].GetListValue().GetValues()
	require.Len(t, hits, 1)
	assert.Equal(t, "rec-1", hits[0].GetStructValue().Fields["record_id"].GetStringValue())
}

func TestMoleculeService_Version(t *testing.T) {
	c := dial(t, newTestService(nil, nil))

	out, err := c.Call(context.Background(), MethodVersion, &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, appmol.Version, out.Fields["library"].GetStringValue())
}

func TestGRPCCode_MasksInternal(t *testing.T) {
	s := newTestService(nil, nil)
	err := s.status(errors.New(errors.CodeDatabase, "pq: password authentication failed"))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, status.Convert(err).Message(), "password")

	err = s.status(errors.ContractViolation("handle already released"))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "released")
}
