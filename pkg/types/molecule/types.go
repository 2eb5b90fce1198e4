// Package molecule defines the molecule-facing Data Transfer Objects shared by
// the library boundary, the HTTP and gRPC APIs, the CLI and the batch worker.
// Options travel as JSON strings at the library boundary; this package owns
// their keys, their defaults and their decoding. No chemistry lives here.
package molecule

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/turtacn/molcore/pkg/errors"
	"github.com/turtacn/molcore/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Input notation.
// ─────────────────────────────────────────────────────────────────────────────

// InputFormat names a supported molecule notation.
type InputFormat string

const (
	// FormatAuto detects the notation from the input text.
	FormatAuto InputFormat = "auto"

	// FormatSMILES is a SMILES string, optionally followed by a name.
	FormatSMILES InputFormat = "smiles"

	// FormatMolBlock is an MDL V2000 molblock.
	FormatMolBlock InputFormat = "molblock"

	// FormatJSON is a CommonChem JSON document.
	FormatJSON InputFormat = "json"
)

// IsValid reports whether f is a known format.
func (f InputFormat) IsValid() bool {
	switch f {
	case FormatAuto, FormatSMILES, FormatMolBlock, FormatJSON:
		return true
	default:
		return false
	}
}

// DetectFormat guesses the notation of text: a molblock carries an "M  END"
// or V2000 marker, a JSON document starts with '{', anything else is SMILES.
func DetectFormat(text string) InputFormat {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.Contains(text, "M  END") || strings.Contains(text, "V2000"):
		return FormatMolBlock
	case strings.HasPrefix(trimmed, "{"):
		return FormatJSON
	default:
		return FormatSMILES
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// JSON option strings accepted at the library boundary.
// ─────────────────────────────────────────────────────────────────────────────

// ParseOptions controls parse. Keys: "sanitize", "removeHs", "format".
type ParseOptions struct {
	// Sanitize enables valence checks and kekulization. Default true.
	Sanitize bool `json:"sanitize"`

	// RemoveHs folds explicit hydrogen atoms into implicit counts after
	// parsing. Default true.
	RemoveHs bool `json:"removeHs"`

	// Format forces a notation instead of detecting it. Default "auto".
	Format InputFormat `json:"format"`
}

// DefaultParseOptions returns the parse defaults.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{Sanitize: true, RemoveHs: true, Format: FormatAuto}
}

// WriteOptions controls SMILES output. Key: "canonical".
type WriteOptions struct {
	// Canonical selects canonical atom ordering. Default true.
	Canonical bool `json:"canonical"`
}

// DefaultWriteOptions returns the SMILES output defaults.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Canonical: true}
}

// EmbedOptions controls 3D embedding. Keys: "randomSeed", "maxIterations",
// "maxAttempts".
type EmbedOptions struct {
	// RandomSeed fixes the coordinates; negative draws a seed. Default -1.
	RandomSeed int64 `json:"randomSeed"`

	// MaxIterations bounds relaxation sweeps per attempt; 0 uses the engine
	// default.
	MaxIterations int `json:"maxIterations"`

	// MaxAttempts bounds the number of seeds tried; 0 uses the engine
	// default.
	MaxAttempts int `json:"maxAttempts"`
}

// Upper bounds a request may set on embedding work.
const (
	MaxEmbedIterations = 100000
	MaxEmbedAttempts   = 100
)

// DefaultEmbedOptions returns the embedding defaults.
func DefaultEmbedOptions() EmbedOptions {
	return EmbedOptions{RandomSeed: -1}
}

// MolBlockOptions controls molblock export. Keys: "name", "includeStereo".
type MolBlockOptions struct {
	// Name replaces the molecule title when non-empty.
	Name string `json:"name"`

	// IncludeStereo is accepted for compatibility; stereo marks are not
	// written.
	IncludeStereo bool `json:"includeStereo"`
}

// FingerprintType names a fingerprint algorithm.
type FingerprintType string

const (
	// FPMorgan is the circular Morgan / ECFP fingerprint (radius 2 is ECFP4).
	FPMorgan FingerprintType = "morgan"

	// FPTopological hashes linear bond paths, Daylight style.
	FPTopological FingerprintType = "topological"
)

// IsValid reports whether t is a known fingerprint type.
func (t FingerprintType) IsValid() bool {
	return t == FPMorgan || t == FPTopological
}

// Fingerprint option limits.
const (
	DefaultFingerprintBits   = 2048
	DefaultFingerprintRadius = 2
	DefaultMaxPath           = 7
	MaxFingerprintBits       = 16384
	MaxFingerprintRadius     = 6
	MaxPathLength            = 10
)

// FingerprintOptions controls fingerprint generation. Keys: "type",
// "radius", "nBits", "minPath", "maxPath".
type FingerprintOptions struct {
	Type FingerprintType `json:"type"`

	// Radius bounds Morgan environments in bonds. Default 2.
	Radius int `json:"radius"`

	// NBits is the folded length. Default 2048.
	NBits int `json:"nBits"`

	// MinPath and MaxPath bound topological path lengths. Default 1 and 7.
	MinPath int `json:"minPath"`
	MaxPath int `json:"maxPath"`
}

// DefaultFingerprintOptions returns ECFP4 folded to 2048 bits.
func DefaultFingerprintOptions() FingerprintOptions {
	return FingerprintOptions{
		Type:    FPMorgan,
		Radius:  DefaultFingerprintRadius,
		NBits:   DefaultFingerprintBits,
		MinPath: 1,
		MaxPath: DefaultMaxPath,
	}
}

// ParseFingerprintOptions decodes fingerprint options over their defaults.
func ParseFingerprintOptions(raw string) (FingerprintOptions, error) {
	opts := DefaultFingerprintOptions()
	if err := DecodeOptions(raw, &opts); err != nil {
		return opts, err
	}
	if opts.Type == "" {
		opts.Type = FPMorgan
	}
	switch {
	case !opts.Type.IsValid():
		return opts, errors.InvalidParam("unknown fingerprint type").WithDetail(string(opts.Type))
	case opts.NBits < 1 || opts.NBits > MaxFingerprintBits:
		return opts, errors.InvalidParam(fmt.Sprintf("nBits must be between 1 and %d", MaxFingerprintBits))
	case opts.Radius < 0 || opts.Radius > MaxFingerprintRadius:
		return opts, errors.InvalidParam(fmt.Sprintf("radius must be between 0 and %d", MaxFingerprintRadius))
	case opts.MinPath < 1 || opts.MaxPath < opts.MinPath || opts.MaxPath > MaxPathLength:
		return opts, errors.InvalidParam(fmt.Sprintf("paths must satisfy 1 <= minPath <= maxPath <= %d", MaxPathLength))
	}
	return opts, nil
}

// DecodeOptions fills dst, which must already hold defaults, from a JSON
// object. An empty string keeps the defaults; unknown keys are ignored.
func DecodeOptions(raw string, dst interface{}) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return errors.Wrap(err, errors.CodeInvalidParam, "invalid options json").WithDetail(raw)
	}
	return nil
}

// ParseParseOptions decodes parse options over their defaults.
func ParseParseOptions(raw string) (ParseOptions, error) {
	opts := DefaultParseOptions()
	if err := DecodeOptions(raw, &opts); err != nil {
		return opts, err
	}
	if opts.Format == "" {
		opts.Format = FormatAuto
	}
	if !opts.Format.IsValid() {
		return opts, errors.InvalidParam("unknown input format").WithDetail(string(opts.Format))
	}
	return opts, nil
}

// ParseWriteOptions decodes SMILES output options over their defaults.
func ParseWriteOptions(raw string) (WriteOptions, error) {
	opts := DefaultWriteOptions()
	err := DecodeOptions(raw, &opts)
	return opts, err
}

// ParseEmbedOptions decodes embedding options over their defaults.
func ParseEmbedOptions(raw string) (EmbedOptions, error) {
	opts := DefaultEmbedOptions()
	if err := DecodeOptions(raw, &opts); err != nil {
		return opts, err
	}
	if opts.MaxIterations < 0 || opts.MaxIterations > MaxEmbedIterations {
		return opts, errors.InvalidParam(fmt.Sprintf("maxIterations must be between 0 and %d", MaxEmbedIterations))
	}
	if opts.MaxAttempts < 0 || opts.MaxAttempts > MaxEmbedAttempts {
		return opts, errors.InvalidParam(fmt.Sprintf("maxAttempts must be between 0 and %d", MaxEmbedAttempts))
	}
	return opts, nil
}

// ParseMolBlockOptions decodes molblock options over their defaults.
func ParseMolBlockOptions(raw string) (MolBlockOptions, error) {
	var opts MolBlockOptions
	err := DecodeOptions(raw, &opts)
	return opts, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Molecule summaries.
// ─────────────────────────────────────────────────────────────────────────────

// Description summarizes a molecule for API responses and CLI output.
type Description struct {
	Name            string       `json:"name,omitempty"`
	Canonical       string       `json:"canonical"`
	Formula         string       `json:"formula"`
	MolecularWeight float64      `json:"molecular_weight"`
	NumAtoms        int          `json:"num_atoms"`
	NumHeavyAtoms   int          `json:"num_heavy_atoms"`
	NumBonds        int          `json:"num_bonds"`
	Coords          [][3]float64 `json:"coords,omitempty"`
	Is3D            bool         `json:"is_3d,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Transport requests and responses
// ─────────────────────────────────────────────────────────────────────────────

// ConvertRequest is the body of the stateless conversion endpoints.
type ConvertRequest struct {
	// Input is SMILES, a molblock or CommonChem JSON.
	Input string `json:"input" validate:"required,max=1048576"`

	// ParseOptions is a JSON object of parse options.
	ParseOptions string `json:"parse_options,omitempty"`

	// Options is a JSON object of options for the requested operation.
	Options string `json:"options,omitempty"`
}

// Validate checks the request before any chemistry runs.
func (r ConvertRequest) Validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return errors.InvalidParam("input is required")
	}
	return nil
}

// ConvertResponse carries the output of a conversion.
type ConvertResponse struct {
	Output      string             `json:"output"`
	Format      string             `json:"format"`
	Description *Description       `json:"description,omitempty"`
	Fingerprint *FingerprintResult `json:"fingerprint,omitempty"`
	Descriptors map[string]float64 `json:"descriptors,omitempty"`
}

// FingerprintResult is a folded bit vector. Bits holds one '0' or '1' per
// bit, bit 0 first; Bytes packs bit i into byte i/8 at position i%8.
type FingerprintResult struct {
	Type      FingerprintType `json:"type"`
	Length    int             `json:"length"`
	NumOnBits int             `json:"num_on_bits"`
	Bits      string          `json:"bits"`
	Bytes     []byte          `json:"bytes"`
}

// SimilarityRequest compares two inputs.
type SimilarityRequest struct {
	Query  string `json:"query" validate:"required,max=1048576"`
	Target string `json:"target" validate:"required,max=1048576"`

	// Options is a JSON object of fingerprint options.
	Options string `json:"options,omitempty"`
}

// Validate checks the request.
func (r SimilarityRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" || strings.TrimSpace(r.Target) == "" {
		return errors.InvalidParam("query and target are required")
	}
	return nil
}

// SimilarityResponse carries both coefficients.
type SimilarityResponse struct {
	Tanimoto float64 `json:"tanimoto"`
	Dice     float64 `json:"dice"`
}

// Search limits.
const (
	DefaultSearchTopK = 10
	MaxSearchTopK     = 1000
)

// SearchRequest looks up stored records similar to Input.
type SearchRequest struct {
	Input string `json:"input" validate:"required,max=1048576"`

	// TopK bounds the hits. Default 10.
	TopK int `json:"top_k,omitempty" validate:"omitempty,min=1,max=1000"`

	// MinSimilarity drops hits below this Tanimoto coefficient.
	MinSimilarity float64 `json:"min_similarity,omitempty" validate:"omitempty,min=0,max=1"`
}

// Validate checks the request and fills the TopK default.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return errors.InvalidParam("input is required")
	}
	if r.TopK == 0 {
		r.TopK = DefaultSearchTopK
	}
	if r.TopK < 1 || r.TopK > MaxSearchTopK {
		return errors.InvalidParam(fmt.Sprintf("top_k must be between 1 and %d", MaxSearchTopK))
	}
	if r.MinSimilarity < 0 || r.MinSimilarity > 1 {
		return errors.InvalidParam("min_similarity must be between 0 and 1")
	}
	return nil
}

// SearchHit is one stored record and its similarity to the query.
type SearchHit struct {
	RecordID   string  `json:"record_id"`
	Similarity float64 `json:"similarity"`
	Canonical  string  `json:"canonical,omitempty"`
	Name       string  `json:"name,omitempty"`
}

// SearchResponse lists hits, most similar first.
type SearchResponse struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

// ProcessRequest submits one input to the full processing pipeline.
type ProcessRequest struct {
	Input string `json:"input" validate:"required,max=1048576"`
	Name  string `json:"name,omitempty" validate:"max=256"`

	// BatchID names the export object, so it must not contain path
	// separators.
	BatchID string `json:"batch_id,omitempty" validate:"omitempty,max=128,excludesall=/\\"`

	// Seed fixes the embedding; nil uses the configured default seed.
	Seed *int64 `json:"seed,omitempty"`
}

// Validate checks the request.
func (r ProcessRequest) Validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return errors.InvalidParam("input is required")
	}
	if strings.ContainsAny(r.BatchID, `/\`) {
		return errors.InvalidParam("batch id must not contain path separators").WithDetail(r.BatchID)
	}
	return nil
}

// VersionInfo reports library and build versions.
type VersionInfo struct {
	Library   string `json:"library"`
	Toolchain string `json:"toolchain"`
	Build     string `json:"build"`
	Wire      int    `json:"wire"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Messaging payloads
// ─────────────────────────────────────────────────────────────────────────────

// IngestJob is one message on the ingest topic.
type IngestJob struct {
	common.BaseEvent
	ProcessRequest
}

// NewIngestJob wraps req in a job with a fresh event ID.
func NewIngestJob(req ProcessRequest) IngestJob {
	return IngestJob{BaseEvent: common.NewBaseEvent(req.BatchID), ProcessRequest: req}
}

// ProcessedEvent is published after a record has been stored.
type ProcessedEvent struct {
	common.BaseEvent
	RecordID  string `json:"record_id"`
	BatchID   string `json:"batch_id,omitempty"`
	Status    string `json:"status"`
	Canonical string `json:"canonical,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}
