package molecule

import (
	"context"
	"io"
	"time"

	"github.com/turtacn/molcore/internal/chemistry/handle"
	"github.com/turtacn/molcore/internal/chemistry/hydrogen"
	"github.com/turtacn/molcore/internal/chemistry/molfile"
	"github.com/turtacn/molcore/internal/chemistry/smiles"
	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// EntryFailure reports one unreadable entry of a batch file.
type EntryFailure struct {
	// Position is the line number for SMILES files and the record number
	// for SD files.
	Position int
	Err      error
}

// BatchResult holds the handles read from a file, in file order, and the
// entries that could not be read.
type BatchResult struct {
	Handles  []*handle.Handle
	Failures []EntryFailure
}

// Release releases every handle in the batch.
func (b *BatchResult) Release() {
	for _, h := range b.Handles {
		if !h.Released() {
			_ = h.Release()
		}
	}
}

// moleculeReader is satisfied by smiles.SMIReader and molfile.SDFReader.
type moleculeReader interface {
	Next() (*domain.Molecule, error)
}

func (s *serviceImpl) ReadSMI(ctx context.Context, r io.Reader, optsJSON string) (*BatchResult, error) {
	opts, err := moltypes.ParseParseOptions(optsJSON)
	if err != nil {
		return nil, err
	}
	sr := smiles.NewSMIReader(r, smiles.Options{Sanitize: opts.Sanitize})
	return s.readBatch(ctx, OpReadSMI, sr, sr.Line, opts)
}

func (s *serviceImpl) ReadSDF(ctx context.Context, r io.Reader, optsJSON string) (*BatchResult, error) {
	opts, err := moltypes.ParseParseOptions(optsJSON)
	if err != nil {
		return nil, err
	}
	sr := molfile.NewSDFReader(r, molfile.ReadOptions{Sanitize: opts.Sanitize})
	return s.readBatch(ctx, OpReadSDF, sr, sr.Record, opts)
}

func (s *serviceImpl) readBatch(ctx context.Context, op string, r moleculeReader, position func() int, opts moltypes.ParseOptions) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{}
	atoms := 0
	for {
		if err := ctx.Err(); err != nil {
			res.Release()
			return nil, errors.Wrap(err, errors.CodeUnavailable, "batch read cancelled")
		}
		m, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Failures = append(res.Failures, EntryFailure{Position: position(), Err: err})
			s.logger.Warn("skipping unreadable entry",
				logging.String("op", op),
				logging.Int("position", position()),
				logging.Err(err))
			continue
		}
		if opts.RemoveHs {
			m = hydrogen.RemoveHydrogens(m, hydrogen.RemoveOptions{})
		}
		if err := s.checkSize(m.NumAtoms()); err != nil {
			res.Failures = append(res.Failures, EntryFailure{Position: position(), Err: err})
			continue
		}
		h, err := handle.Pack(m)
		if err != nil {
			res.Failures = append(res.Failures, EntryFailure{Position: position(), Err: err})
			continue
		}
		atoms += m.NumAtoms()
		res.Handles = append(res.Handles, h)
	}
	s.observe(op, atoms, start, nil)
	s.logger.Info("read batch file",
		logging.String("op", op),
		logging.Int("molecules", len(res.Handles)),
		logging.Int("failures", len(res.Failures)))
	return res, nil
}
