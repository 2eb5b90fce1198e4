package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/url"
	"strings"
	"time"

	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// Record is a processed molecule as stored by the server.
type Record struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Input     string    `json:"input"`
	Canonical string    `json:"canonical,omitempty"`
	MolBlock  string    `json:"molblock,omitempty"`
	Formula   string    `json:"formula,omitempty"`
	NumAtoms  int       `json:"num_atoms"`
	NumBonds  int       `json:"num_bonds"`
	Seed      int64     `json:"seed"`
	Status    string    `json:"status"`
	ErrorCode string    `json:"error_code,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Failed reports whether the engine rejected the record's input.
func (r *Record) Failed() bool { return r.Status == "failed" }

// GraphSummary describes a record's mirrored graph.
type GraphSummary struct {
	RecordID string `json:"record_id"`
	Formula  string `json:"formula"`
	Atoms    int    `json:"atoms"`
	Bonds    int    `json:"bonds"`
}

// ExportResult describes a batch SDF export.
type ExportResult struct {
	BatchID  string `json:"batch_id"`
	Key      string `json:"key"`
	Location string `json:"location"`
	Records  int    `json:"records"`
	Skipped  int    `json:"skipped"`
	Bytes    int    `json:"bytes"`
}

// MoleculesClient calls the /api/v1/molecules endpoints.
type MoleculesClient struct {
	client *Client
}

func (m *MoleculesClient) convert(ctx context.Context, op string, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out moltypes.ConvertResponse
	if err := m.client.post(ctx, "/api/v1/molecules/"+op, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Parse returns the canonical SMILES and a description of the input.
func (m *MoleculesClient) Parse(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "parse", req)
}

// Canonical returns the canonical SMILES of the input.
func (m *MoleculesClient) Canonical(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "canonical", req)
}

func (m *MoleculesClient) AddHydrogens(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "hydrogens", req)
}

func (m *MoleculesClient) RemoveHydrogens(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "hydrogens/remove", req)
}

// Embed returns a molblock with 3D coordinates. Options may carry
// {"randomSeed":n}.
func (m *MoleculesClient) Embed(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "embed", req)
}

func (m *MoleculesClient) MolBlock(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "molblock", req)
}

// JSON returns the CommonChem JSON of the input.
func (m *MoleculesClient) JSON(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "json", req)
}

// Fingerprint returns the fingerprint bit string in Output and the packed
// vector in Fingerprint. Options may carry {"type","radius","nBits"}.
func (m *MoleculesClient) Fingerprint(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "fingerprint", req)
}

func (m *MoleculesClient) Descriptors(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "descriptors", req)
}

func (m *MoleculesClient) Neutralize(ctx context.Context, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	return m.convert(ctx, "neutralize", req)
}

// Similarity compares two inputs by fingerprint.
func (m *MoleculesClient) Similarity(ctx context.Context, req moltypes.SimilarityRequest) (*moltypes.SimilarityResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out moltypes.SimilarityResponse
	if err := m.client.post(ctx, "/api/v1/molecules/similarity", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search finds stored records similar to the input. The server answers 503
// when no similarity index is configured.
func (m *MoleculesClient) Search(ctx context.Context, req moltypes.SearchRequest) (*moltypes.SearchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out moltypes.SearchResponse
	if err := m.client.post(ctx, "/api/v1/molecules/similar", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Process runs the input through the server pipeline and stores it. When
// the engine rejects the input the stored failed record is returned
// together with the *APIError.
func (m *MoleculesClient) Process(ctx context.Context, req moltypes.ProcessRequest) (*Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var rec Record
	err := m.client.post(ctx, "/api/v1/molecules", req, &rec)
	if err == nil {
		return &rec, nil
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) && len(apiErr.Data) > 0 && string(apiErr.Data) != "null" {
		var failed Record
		if json.Unmarshal(apiErr.Data, &failed) == nil && failed.ID != "" {
			return &failed, err
		}
	}
	return nil, err
}

// Get loads a stored record.
func (m *MoleculesClient) Get(ctx context.Context, id string) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.InvalidParam("record id is required")
	}
	var rec Record
	if err := m.client.get(ctx, "/api/v1/molecules/"+url.PathEscape(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Graph returns the summary of a record's mirrored graph.
func (m *MoleculesClient) Graph(ctx context.Context, id string) (*GraphSummary, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.InvalidParam("record id is required")
	}
	var sum GraphSummary
	if err := m.client.get(ctx, "/api/v1/molecules/"+url.PathEscape(id)+"/graph", &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// ExportBatch writes the batch's processed records to an SD file on the
// server's object store.
func (m *MoleculesClient) ExportBatch(ctx context.Context, batchID string) (*ExportResult, error) {
	if strings.TrimSpace(batchID) == "" || strings.ContainsAny(batchID, `/\`) {
		return nil, errors.InvalidParam("invalid batch id").WithDetail(batchID)
	}
	var res ExportResult
	if err := m.client.post(ctx, "/api/v1/batches/"+url.PathEscape(batchID)+"/export", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Version returns the server's version strings.
func (m *MoleculesClient) Version(ctx context.Context) (*moltypes.VersionInfo, error) {
	var v moltypes.VersionInfo
	if err := m.client.get(ctx, "/api/v1/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}
