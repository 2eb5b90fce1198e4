package smiles

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

// SMIReader streams molecules from a SMILES file: one "SMILES [name]" entry
// per line. Blank lines and lines starting with '#' are skipped. A line that
// fails to parse is reported by Next; the following call continues with the
// next line.
type SMIReader struct {
	sc   *bufio.Scanner
	opts Options
	line int
	done bool
}

// NewSMIReader returns a reader over r.
func NewSMIReader(r io.Reader, opts Options) *SMIReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &SMIReader{sc: sc, opts: opts}
}

// Line returns the 1-based line number of the entry last returned by Next.
func (r *SMIReader) Line() int { return r.line }

// Next returns the next molecule, or io.EOF when the input is exhausted.
func (r *SMIReader) Next() (*molecule.Molecule, error) {
	if r.done {
		return nil, io.EOF
	}
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		m, err := Parse(text, r.opts)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, "invalid smiles entry").
				WithDetail(fmt.Sprintf("line %d", r.line))
		}
		return m, nil
	}
	r.done = true
	if err := r.sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeParse, "read smiles file")
	}
	return nil, io.EOF
}
