package molfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

const recordSeparator = "$$$$"

// WriteSDF writes mols as SD records: a molblock, the molecule's properties
// as data items in key order, then the record separator.
func WriteSDF(w io.Writer, mols []*molecule.Molecule, opts WriteOptions) error {
	bw := bufio.NewWriter(w)
	for _, m := range mols {
		if _, err := bw.WriteString(SDFRecord(m, opts)); err != nil {
			return errors.Wrap(err, errors.CodeStorage, "write sd record")
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "flush sd file")
	}
	return nil
}

// SDFRecord renders one SD record.
func SDFRecord(m *molecule.Molecule, opts WriteOptions) string {
	var sb strings.Builder
	sb.WriteString(WriteMolBlock(m, opts))
	for _, key := range m.PropKeys() {
		fmt.Fprintf(&sb, "> <%s>\n%s\n\n", key, m.Props[key])
	}
	sb.WriteString(recordSeparator + "\n")
	return sb.String()
}

// SDFReader streams molecules from an SD file. A record that fails to parse
// is reported by Next and skipped; reading continues with the next record.
type SDFReader struct {
	sc     *bufio.Scanner
	opts   ReadOptions
	record int
	done   bool
}

// NewSDFReader returns a reader over r.
func NewSDFReader(r io.Reader, opts ReadOptions) *SDFReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &SDFReader{sc: sc, opts: opts}
}

// Record returns the 1-based number of the record last returned by Next.
func (r *SDFReader) Record() int { return r.record }

// Next returns the next molecule. It returns io.EOF after the last record.
func (r *SDFReader) Next() (*molecule.Molecule, error) {
	for {
		if r.done {
			return nil, io.EOF
		}
		var lines []string
		sawSeparator := false
		for r.sc.Scan() {
			line := strings.TrimRight(r.sc.Text(), "\r")
			if strings.HasPrefix(line, recordSeparator) {
				sawSeparator = true
				break
			}
			lines = append(lines, line)
		}
		if err := r.sc.Err(); err != nil {
			r.done = true
			return nil, errors.Wrap(err, errors.CodeParse, "read sd file")
		}
		if !sawSeparator {
			r.done = true
			if blank(lines) {
				return nil, io.EOF
			}
		}
		if blank(lines) {
			continue
		}
		r.record++
		m, err := r.parse(lines)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, "invalid sd record").
				WithDetail(fmt.Sprintf("record %d", r.record))
		}
		return m, nil
	}
}

func (r *SDFReader) parse(lines []string) (*molecule.Molecule, error) {
	end := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "M  END") {
			end = i
			break
		}
	}
	if end < 0 {
		return readLines(lines, r.opts)
	}
	m, err := readLines(lines[:end+1], r.opts)
	if err != nil {
		return nil, err
	}
	readDataItems(m, lines[end+1:])
	return m, nil
}

// readDataItems collects "> <key>" headers and the value lines that follow,
// up to a blank line.
func readDataItems(m *molecule.Molecule, lines []string) {
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, ">") {
			continue
		}
		open := strings.IndexByte(line, '<')
		closing := strings.LastIndexByte(line, '>')
		if open < 0 || closing <= open {
			continue
		}
		key := line[open+1 : closing]
		var value []string
		for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
			i++
			value = append(value, lines[i])
		}
		m.SetProp(key, strings.Join(value, "\n"))
	}
}

func blank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
