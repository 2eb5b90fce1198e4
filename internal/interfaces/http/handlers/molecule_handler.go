package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

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
	CountByStatus(ctx context.Context, batchID string) (map[domain.RecordStatus]int, error)
}

// BatchExporter writes a batch as an SD file. *appmol.Exporter satisfies it.
type BatchExporter interface {
	ExportBatch(ctx context.Context, batchID string) (*appmol.ExportResult, error)
}

// GraphReader reads mirrored molecule graphs.
type GraphReader interface {
	Summary(ctx context.Context, recordID string) (*domain.GraphSummary, error)
}

// SimilaritySearcher finds stored records like a query. *appmol.Searcher
// satisfies it.
type SimilaritySearcher interface {
	Search(ctx context.Context, req moltypes.SearchRequest) (*moltypes.SearchResponse, error)
}

// MoleculeOption configures a MoleculeHandler.
type MoleculeOption func(*MoleculeHandler)

func WithPipeline(p RecordProcessor) MoleculeOption {
	return func(h *MoleculeHandler) { h.pipeline = p }
}

func WithRecords(f RecordFinder) MoleculeOption {
	return func(h *MoleculeHandler) { h.records = f }
}

func WithExporter(e BatchExporter) MoleculeOption {
	return func(h *MoleculeHandler) { h.exporter = e }
}

func WithGraph(g GraphReader) MoleculeOption {
	return func(h *MoleculeHandler) { h.graph = g }
}

func WithSearcher(s SimilaritySearcher) MoleculeOption {
	return func(h *MoleculeHandler) { h.searcher = s }
}

// WithMaxBodySize caps request bodies. Non-positive keeps the default.
func WithMaxBodySize(n int64) MoleculeOption {
	return func(h *MoleculeHandler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// MoleculeHandler serves the molecule API. The stateless conversions only
// need the engine; persistence endpoints answer 503 when their backend is
// not configured.
type MoleculeHandler struct {
	svc      appmol.Service
	pipeline RecordProcessor
	records  RecordFinder
	exporter BatchExporter
	graph    GraphReader
	searcher SimilaritySearcher
	maxBody  int64
	logger   logging.Logger
}

func NewMoleculeHandler(svc appmol.Service, logger logging.Logger, opts ...MoleculeOption) *MoleculeHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	h := &MoleculeHandler{
		svc:     svc,
		maxBody: DefaultMaxBodySize,
		logger:  logger.Named("http.molecule"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Convert returns the handler for one stateless conversion, e.g.
// POST /api/v1/molecules/canonical.
func (h *MoleculeHandler) Convert(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req moltypes.ConvertRequest
		if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
			writeAppError(w, r, h.logger, err, nil)
			return
		}
		resp, err := appmol.Convert(r.Context(), h.svc, op, req)
		if err != nil {
			writeAppError(w, r, h.logger, err, nil)
			return
		}
		writeSuccess(w, r, http.StatusOK, resp)
	}
}

// Similarity handles POST /api/v1/molecules/similarity.
func (h *MoleculeHandler) Similarity(w http.ResponseWriter, r *http.Request) {
	var req moltypes.SimilarityRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}
	resp, err := appmol.Compare(r.Context(), h.svc, req)
	if err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}
	writeSuccess(w, r, http.StatusOK, resp)
}

// Search handles POST /api/v1/molecules/similar.
func (h *MoleculeHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		writeAppError(w, r, h.logger, errUnavailable("similarity index"), nil)
		return
	}
	var req moltypes.SearchRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}
	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}
	writeSuccess(w, r, http.StatusOK, resp)
}

// Create handles POST /api/v1/molecules. A rejected input is still stored
// as a failed record, which is returned alongside the error.
func (h *MoleculeHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeAppError(w, r, h.logger, errUnavailable("record store"), nil)
		return
	}
	var req moltypes.ProcessRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}

	rec, err := h.pipeline.Process(r.Context(), req)
	if err != nil {
		var data interface{}
		if rec != nil {
			data = rec
		}
		writeAppError(w, r, h.logger, err, data)
		return
	}
	w.Header().Set("Location", "/api/v1/molecules/"+rec.ID)
	writeSuccess(w, r, http.StatusCreated, rec)
}

// Get handles GET /api/v1/molecules/{id}.
func (h *MoleculeHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeAppError(w, r, h.logger, errUnavailable("record store"), nil)
		return
	}
	rec, err := h.records.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}
	writeSuccess(w, r, http.StatusOK, rec)
}

// Graph handles GET /api/v1/molecules/{id}/graph.
func (h *MoleculeHandler) Graph(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeAppError(w, r, h.logger, errUnavailable("graph store"), nil)
		return
	}
	sum, err := h.graph.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}
	writeSuccess(w, r, http.StatusOK, sum)
}

// BatchStatus handles GET /api/v1/batches/{batchID}.
func (h *MoleculeHandler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeAppError(w, r, h.logger, errUnavailable("record store"), nil)
		return
	}
	batchID := chi.URLParam(r, "batchID")
	counts, err := h.records.CountByStatus(r.Context(), batchID)
	if err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}
	st := domain.NewBatchStatus(batchID, counts)
	if st.Total == 0 {
		writeAppError(w, r, h.logger, errors.NotFound("batch has no records").WithDetail(batchID), nil)
		return
	}
	writeSuccess(w, r, http.StatusOK, st)
}

// ExportBatch handles POST /api/v1/batches/{batchID}/export.
func (h *MoleculeHandler) ExportBatch(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeAppError(w, r, h.logger, errUnavailable("export storage"), nil)
		return
	}
	res, err := h.exporter.ExportBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeAppError(w, r, h.logger, err, nil)
		return
	}
	writeSuccess(w, r, http.StatusCreated, res)
}

// Version handles GET /api/v1/version.
func (h *MoleculeHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, appmol.VersionInfo())
}

func errUnavailable(what string) error {
	return errors.New(errors.CodeUnavailable, what+" is not configured")
}
