// Package molecule is the library boundary of molcore. Every operation takes
// and returns owned handles; molecules never cross the boundary by
// reference. Options arrive as JSON strings and are decoded by
// pkg/types/molecule.
package molecule

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/turtacn/molcore/internal/chemistry/commonchem"
	"github.com/turtacn/molcore/internal/chemistry/embed"
	"github.com/turtacn/molcore/internal/chemistry/handle"
	"github.com/turtacn/molcore/internal/chemistry/hydrogen"
	"github.com/turtacn/molcore/internal/chemistry/molfile"
	"github.com/turtacn/molcore/internal/chemistry/smiles"
	"github.com/turtacn/molcore/internal/chemistry/standardize"
	"github.com/turtacn/molcore/internal/config"
	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// Operation names used in metrics and logs.
const (
	OpParse     = "parse"
	OpCanonical = "canonical"
	OpAddHs     = "add_hs"
	OpRemoveHs  = "remove_hs"
	OpEmbed     = "embed"
	OpMolBlock  = "molblock"
	OpJSON      = "json"
	OpDescribe  = "describe"
	OpReadSMI   = "read_smi"
	OpReadSDF   = "read_sdf"

	OpFingerprint = "fingerprint"
	OpDescriptors = "descriptors"
	OpNeutralize  = "neutralize"
)

// Service is the molecule handle lifecycle. Implementations hold no
// per-molecule state and are safe for concurrent use.
type Service interface {
	// Parse reads SMILES, a molblock or CommonChem JSON into a new handle.
	Parse(ctx context.Context, text, optsJSON string) (*handle.Handle, error)

	// CanonicalText writes SMILES for the handle's molecule.
	CanonicalText(ctx context.Context, h *handle.Handle, optsJSON string) (string, error)

	// CompleteHydrogens returns a new handle with every implicit hydrogen
	// made explicit. h stays valid.
	CompleteHydrogens(ctx context.Context, h *handle.Handle) (*handle.Handle, error)

	// RemoveHydrogens returns a new handle with all removable explicit
	// hydrogens folded back into implicit counts.
	RemoveHydrogens(ctx context.Context, h *handle.Handle) (*handle.Handle, error)

	// Embed3D returns a new handle carrying 3D coordinates.
	Embed3D(ctx context.Context, h *handle.Handle, optsJSON string) (*handle.Handle, error)

	// ExportMolBlock writes a V2000 molblock.
	ExportMolBlock(ctx context.Context, h *handle.Handle, optsJSON string) (string, error)

	// ExportJSON writes a CommonChem document.
	ExportJSON(ctx context.Context, h *handle.Handle) (string, error)

	// Describe summarizes the handle's molecule.
	Describe(ctx context.Context, h *handle.Handle) (*moltypes.Description, error)

	// Fingerprint hashes the handle's molecule into a bit vector.
	Fingerprint(ctx context.Context, h *handle.Handle, optsJSON string) (*moltypes.FingerprintResult, error)

	// Descriptors computes whole-molecule counts keyed by name.
	Descriptors(ctx context.Context, h *handle.Handle) (map[string]float64, error)

	// Neutralize returns a new handle with ionized sites neutralized by
	// moving hydrogens.
	Neutralize(ctx context.Context, h *handle.Handle) (*handle.Handle, error)

	// ReadSMI parses a SMILES file. Bad lines are reported, not fatal.
	ReadSMI(ctx context.Context, r io.Reader, optsJSON string) (*BatchResult, error)

	// ReadSDF parses an SD file. Bad records are reported, not fatal.
	ReadSDF(ctx context.Context, r io.Reader, optsJSON string) (*BatchResult, error)

	// Release ends ownership of h.
	Release(h *handle.Handle) error

	// LibraryVersion returns the library version string.
	LibraryVersion() string
}

// ResultCache memoizes derived text. The redis cache satisfies it.
type ResultCache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
}

// Config tunes the service.
type Config struct {
	// Program fills the molblock header program field.
	Program string

	// EmbedMaxIterations and EmbedMaxAttempts apply when a request leaves
	// them at zero.
	EmbedMaxIterations int
	EmbedMaxAttempts   int

	// MaxAtoms bounds parsed molecules and hydrogen-completed ones.
	MaxAtoms int

	// CacheTTL bounds the lifetime of cached canonical text.
	CacheTTL time.Duration
}

// DefaultMaxAtoms is the molecule size limit when none is configured.
const DefaultMaxAtoms = 10000

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Program:  molfile.DefaultProgram,
		MaxAtoms: DefaultMaxAtoms,
		CacheTTL: time.Hour,
	}
}

// ConfigFromEngine maps the engine section of the process configuration.
// Zero values keep the defaults.
func ConfigFromEngine(e config.EngineConfig) Config {
	cfg := DefaultConfig()
	if e.Program != "" {
		cfg.Program = e.Program
	}
	cfg.EmbedMaxIterations = e.MaxIterations
	cfg.EmbedMaxAttempts = e.MaxAttempts
	if e.MaxAtoms > 0 {
		cfg.MaxAtoms = e.MaxAtoms
	}
	if e.CacheTTL > 0 {
		cfg.CacheTTL = e.CacheTTL
	}
	return cfg
}

// Option configures the service.
type Option func(*serviceImpl)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *serviceImpl) { s.cfg = cfg }
}

// WithCache enables canonical text caching.
func WithCache(c ResultCache) Option {
	return func(s *serviceImpl) { s.cache = c }
}

// WithMetrics records engine metrics.
func WithMetrics(m *prometheus.AppMetrics) Option {
	return func(s *serviceImpl) {
		if m != nil {
			s.metrics = m
		}
	}
}

type serviceImpl struct {
	cfg     Config
	cache   ResultCache
	metrics *prometheus.AppMetrics
	logger  logging.Logger
}

// NewService creates the molecule service.
func NewService(logger logging.Logger, opts ...Option) Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &serviceImpl{
		cfg:     DefaultConfig(),
		metrics: prometheus.NewNopAppMetrics(),
		logger:  logger.Named("molecule"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *serviceImpl) Parse(ctx context.Context, text, optsJSON string) (*handle.Handle, error) {
	start := time.Now()
	opts, err := moltypes.ParseParseOptions(optsJSON)
	if err != nil {
		return nil, err
	}
	m, err := ParseText(text, opts)
	if err == nil {
		err = s.checkSize(m.NumAtoms())
	}
	if err != nil {
		s.observe(OpParse, 0, start, err)
		return nil, err
	}
	h, err := handle.Pack(m)
	s.observe(OpParse, m.NumAtoms(), start, err)
	if err != nil {
		return nil, err
	}
	s.metrics.HandleBytes.WithLabelValues().Observe(float64(h.Size()))
	return h, nil
}

// ParseText converts text in any supported notation into a molecule.
func ParseText(text string, opts moltypes.ParseOptions) (*domain.Molecule, error) {
	format := opts.Format
	if format == "" || format == moltypes.FormatAuto {
		format = moltypes.DetectFormat(text)
	}

	var (
		m   *domain.Molecule
		err error
	)
	switch format {
	case moltypes.FormatMolBlock:
		m, err = molfile.ReadMolBlock(text, molfile.ReadOptions{Sanitize: opts.Sanitize})
	case moltypes.FormatJSON:
		var mols []*domain.Molecule
		mols, err = commonchem.Unmarshal([]byte(text), opts.Sanitize)
		if err == nil {
			if len(mols) == 0 {
				return nil, errors.New(errors.CodeParse, "document holds no molecules")
			}
			m = mols[0]
		}
	default:
		m, err = smiles.Parse(strings.TrimSpace(text), smiles.Options{Sanitize: opts.Sanitize})
	}
	if err != nil {
		return nil, err
	}
	if opts.RemoveHs {
		m = hydrogen.RemoveHydrogens(m, hydrogen.RemoveOptions{})
	}
	return m, nil
}

func (s *serviceImpl) CanonicalText(ctx context.Context, h *handle.Handle, optsJSON string) (string, error) {
	start := time.Now()
	opts, err := moltypes.ParseWriteOptions(optsJSON)
	if err != nil {
		return "", err
	}
	buf, err := h.Bytes()
	if err != nil {
		return "", err
	}

	compute := func() (string, int, error) {
		m, err := h.Unpack()
		if err != nil {
			return "", 0, err
		}
		return smiles.Write(m, smiles.WriteOptions{Canonical: opts.Canonical}), m.NumAtoms(), nil
	}

	if s.cache == nil || !opts.Canonical {
		text, atoms, err := compute()
		s.observe(OpCanonical, atoms, start, err)
		return text, err
	}

	var (
		text   string
		atoms  int
		loaded bool
	)
	err = s.cache.GetOrSet(ctx, canonicalKey(buf), &text, s.cfg.CacheTTL, func(context.Context) (interface{}, error) {
		out, n, err := compute()
		atoms, loaded = n, true
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	prometheus.RecordCacheAccess(s.metrics, "canonical", err == nil && !loaded)
	if err != nil && !errors.IsCode(err, errors.CodeContractViolation) {
		s.logger.Warn("canonical cache unavailable, computing directly", logging.Err(err))
		text, atoms, err = compute()
	}
	s.observe(OpCanonical, atoms, start, err)
	return text, err
}

// canonicalKey derives a cache key from packed content, so equal molecules
// share an entry regardless of which handle carries them.
func canonicalKey(buf []byte) string {
	sum := sha256.Sum256(buf)
	return "canonical:" + hex.EncodeToString(sum[:])
}

func (s *serviceImpl) CompleteHydrogens(ctx context.Context, h *handle.Handle) (*handle.Handle, error) {
	return s.transform(OpAddHs, h, func(m *domain.Molecule) (*domain.Molecule, error) {
		total := m.NumAtoms()
		for i := 0; i < m.NumAtoms(); i++ {
			total += m.Atom(i).ImplicitHs
		}
		if err := s.checkSize(total); err != nil {
			return nil, err
		}
		return hydrogen.AddHydrogens(m)
	})
}

// checkSize rejects molecules above the configured atom limit.
func (s *serviceImpl) checkSize(atoms int) error {
	if s.cfg.MaxAtoms > 0 && atoms > s.cfg.MaxAtoms {
		return errors.InvalidParam("molecule exceeds the atom limit").
			WithDetail(fmt.Sprintf("atoms=%d limit=%d", atoms, s.cfg.MaxAtoms))
	}
	return nil
}

func (s *serviceImpl) RemoveHydrogens(ctx context.Context, h *handle.Handle) (*handle.Handle, error) {
	return s.transform(OpRemoveHs, h, func(m *domain.Molecule) (*domain.Molecule, error) {
		return hydrogen.RemoveHydrogens(m, hydrogen.RemoveOptions{All: true}), nil
	})
}

func (s *serviceImpl) Embed3D(ctx context.Context, h *handle.Handle, optsJSON string) (*handle.Handle, error) {
	opts, err := moltypes.ParseEmbedOptions(optsJSON)
	if err != nil {
		return nil, err
	}
	eo := embed.Options{
		RandomSeed:    opts.RandomSeed,
		MaxIterations: opts.MaxIterations,
		MaxAttempts:   opts.MaxAttempts,
	}
	if eo.MaxIterations == 0 {
		eo.MaxIterations = s.cfg.EmbedMaxIterations
	}
	if eo.MaxAttempts == 0 {
		eo.MaxAttempts = s.cfg.EmbedMaxAttempts
	}
	return s.transform(OpEmbed, h, func(m *domain.Molecule) (*domain.Molecule, error) {
		out, report, err := embed.EmbedWithReport(m, eo)
		prometheus.RecordEmbedAttempts(s.metrics, report.Attempts)
		if err != nil {
			s.logger.Info("embedding failed",
				logging.Int64("seed", report.Seed),
				logging.Int("attempts", report.Attempts),
				logging.Int("atoms", m.NumAtoms()))
			return nil, err
		}
		s.logger.Debug("embedded molecule",
			logging.Int64("seed", report.Seed),
			logging.Int("attempts", report.Attempts))
		return out, nil
	})
}

// transform unpacks h, applies fn to the fresh copy and packs the result
// into a new handle. h is never modified.
func (s *serviceImpl) transform(op string, h *handle.Handle, fn func(*domain.Molecule) (*domain.Molecule, error)) (*handle.Handle, error) {
	start := time.Now()
	m, err := h.Unpack()
	if err != nil {
		s.observe(op, 0, start, err)
		return nil, err
	}
	out, err := fn(m)
	if err != nil {
		s.observe(op, m.NumAtoms(), start, err)
		return nil, err
	}
	nh, err := handle.Pack(out)
	s.observe(op, out.NumAtoms(), start, err)
	return nh, err
}

func (s *serviceImpl) ExportMolBlock(ctx context.Context, h *handle.Handle, optsJSON string) (string, error) {
	opts, err := moltypes.ParseMolBlockOptions(optsJSON)
	if err != nil {
		return "", err
	}
	return s.render(OpMolBlock, h, func(m *domain.Molecule) (string, error) {
		return molfile.WriteMolBlock(m, molfile.WriteOptions{Title: opts.Name, Program: s.cfg.Program}), nil
	})
}

func (s *serviceImpl) ExportJSON(ctx context.Context, h *handle.Handle) (string, error) {
	return s.render(OpJSON, h, func(m *domain.Molecule) (string, error) {
		data, err := commonchem.Marshal(Version, m)
		return string(data), err
	})
}

func (s *serviceImpl) render(op string, h *handle.Handle, fn func(*domain.Molecule) (string, error)) (string, error) {
	start := time.Now()
	m, err := h.Unpack()
	if err != nil {
		s.observe(op, 0, start, err)
		return "", err
	}
	out, err := fn(m)
	s.observe(op, m.NumAtoms(), start, err)
	return out, err
}

func (s *serviceImpl) Describe(ctx context.Context, h *handle.Handle) (*moltypes.Description, error) {
	start := time.Now()
	m, err := h.Unpack()
	if err != nil {
		s.observe(OpDescribe, 0, start, err)
		return nil, err
	}
	d := Describe(m)
	s.observe(OpDescribe, m.NumAtoms(), start, nil)
	return d, nil
}

// Describe summarizes m.
func Describe(m *domain.Molecule) *moltypes.Description {
	d := &moltypes.Description{
		Name:            m.Name,
		Canonical:       smiles.Write(m, smiles.DefaultWriteOptions()),
		Formula:         m.Formula(),
		MolecularWeight: m.MolecularWeight(),
		NumAtoms:        m.NumAtoms(),
		NumHeavyAtoms:   m.NumHeavyAtoms(),
		NumBonds:        m.NumBonds(),
	}
	if conf := m.Conformer(); conf != nil {
		d.Is3D = conf.Is3D
		d.Coords = make([][3]float64, len(conf.Positions))
		for i, p := range conf.Positions {
			d.Coords[i] = [3]float64{p.X, p.Y, p.Z}
		}
	}
	return d
}

func (s *serviceImpl) Fingerprint(ctx context.Context, h *handle.Handle, optsJSON string) (*moltypes.FingerprintResult, error) {
	opts, err := moltypes.ParseFingerprintOptions(optsJSON)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	m, err := h.Unpack()
	if err != nil {
		s.observe(OpFingerprint, 0, start, err)
		return nil, err
	}
	fp, err := domain.CalculateFingerprint(m, opts)
	s.observe(OpFingerprint, m.NumAtoms(), start, err)
	if err != nil {
		return nil, err
	}
	return FingerprintResult(fp), nil
}

// FingerprintResult renders fp for the wire.
func FingerprintResult(fp *domain.Fingerprint) *moltypes.FingerprintResult {
	return &moltypes.FingerprintResult{
		Type:      fp.Type,
		Length:    fp.Length,
		NumOnBits: fp.NumOnBits,
		Bits:      fp.BitString(),
		Bytes:     fp.ToBytes(),
	}
}

func (s *serviceImpl) Descriptors(ctx context.Context, h *handle.Handle) (map[string]float64, error) {
	start := time.Now()
	m, err := h.Unpack()
	if err != nil {
		s.observe(OpDescriptors, 0, start, err)
		return nil, err
	}
	d := m.ComputeDescriptors()
	s.observe(OpDescriptors, m.NumAtoms(), start, nil)
	return d.Map(), nil
}

func (s *serviceImpl) Neutralize(ctx context.Context, h *handle.Handle) (*handle.Handle, error) {
	return s.transform(OpNeutralize, h, func(m *domain.Molecule) (*domain.Molecule, error) {
		return standardize.Neutralize(m), nil
	})
}

func (s *serviceImpl) Release(h *handle.Handle) error {
	if err := h.Release(); err != nil {
		s.logger.Warn("handle misuse", logging.Err(err))
		return err
	}
	return nil
}

func (s *serviceImpl) LibraryVersion() string {
	return Version
}

func (s *serviceImpl) observe(op string, atoms int, start time.Time, err error) {
	prometheus.RecordEngineOp(s.metrics, op, atoms, time.Since(start), err)
	if err != nil {
		s.logger.Debug("operation failed",
			logging.String("op", op),
			logging.String("code", string(errors.GetCode(err))),
			logging.Err(err))
	}
}
