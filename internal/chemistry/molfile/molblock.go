// Package molfile reads and writes MDL CTfile formats: V2000 molblocks and
// SD files built from them.
package molfile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/turtacn/molcore/internal/chemistry/depict"
	"github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

// DefaultProgram is written to the header program field.
const DefaultProgram = "molcore"

const propertiesPerLine = 8

// WriteOptions controls molblock output.
type WriteOptions struct {
	// Title replaces the molecule name on the header line when non-empty.
	Title string
	// Program fills the header program field, at most 8 characters.
	Program string
}

// maxCount is the largest value a three column V2000 count field holds.
const maxCount = 999

// FormatError locates a molblock failure.
type FormatError struct {
	// Line is 1-based within the block.
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func formatError(line int, format string, args ...interface{}) error {
	fe := &FormatError{Line: line, Msg: fmt.Sprintf(format, args...)}
	return errors.New(errors.CodeParse, fe.Msg).
		WithDetail(fmt.Sprintf("line %d", line)).
		WithCause(fe)
}

// WriteMolBlock renders m as a V2000 molblock. Aromatic bonds are written in
// their Kekulé form, or as type 4 when the molecule could not be kekulized.
// Charges, isotopes and radicals go to M CHG, M ISO and M RAD lines.
// Without a conformer the atoms get depiction coordinates and the header
// says 2D.
func WriteMolBlock(m *molecule.Molecule, opts WriteOptions) string {
	var sb strings.Builder

	title := m.Name
	if opts.Title != "" {
		title = opts.Title
	}
	program := opts.Program
	if program == "" {
		program = DefaultProgram
	}
	if len(program) > 8 {
		program = program[:8]
	}
	conf := m.Conformer()
	if conf == nil {
		conf = depict.Compute2D(m)
	}
	dim := "2D"
	if conf.Is3D {
		dim = "3D"
	}
	sb.WriteString(firstLine(title) + "\n")
	fmt.Fprintf(&sb, "  %8s%10s%2s\n", program, "", dim)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%3d%3d  0  0  0  0  0  0  0  0999 V2000\n", m.NumAtoms(), m.NumBonds())

	for i := 0; i < m.NumAtoms(); i++ {
		a := m.Atom(i)
		p := conf.Positions[i]
		fmt.Fprintf(&sb, "%10.4f%10.4f%10.4f %-3s%2d%3d%3d%3d%3d%3d%3d%3d%3d%3d%3d%3d\n",
			zeroed(p.X), zeroed(p.Y), zeroed(p.Z), atomSymbol(a),
			0, 0, 0, 0, 0, valenceField(m, i), 0, 0, 0, a.AtomMapIndex, 0, 0)
	}

	aromaticAsQuery := !m.Kekulized()
	for bi := 0; bi < m.NumBonds(); bi++ {
		b := m.Bond(bi)
		fmt.Fprintf(&sb, "%3d%3d%3d%3d\n", b.Begin+1, b.End+1, bondType(b, aromaticAsQuery), 0)
	}

	var charges, isotopes, radicals [][2]int
	for i := 0; i < m.NumAtoms(); i++ {
		a := m.Atom(i)
		if a.Charge != 0 {
			charges = append(charges, [2]int{i + 1, a.Charge})
		}
		if a.Isotope != 0 {
			isotopes = append(isotopes, [2]int{i + 1, a.Isotope})
		}
		if a.NumRadicals != 0 {
			radicals = append(radicals, [2]int{i + 1, radicalCode(a.NumRadicals)})
		}
	}
	writeProperty(&sb, "CHG", charges)
	writeProperty(&sb, "ISO", isotopes)
	writeProperty(&sb, "RAD", radicals)
	sb.WriteString("M  END\n")
	return sb.String()
}

// firstLine keeps a title on the single header line the format allows.
func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// zeroed folds negative zero so identical geometry prints identically.
func zeroed(v float64) float64 {
	if math.Abs(v) < 0.00005 {
		return 0
	}
	return v
}

func atomSymbol(a molecule.Atom) string {
	if a.Element == 0 {
		return "*"
	}
	return a.Symbol()
}

// valenceField is non-zero only when the hydrogen count cannot be derived
// from default valences on read. 15 encodes zero.
func valenceField(m *molecule.Molecule, idx int) int {
	a := m.Atom(idx)
	if !a.NoImplicit || a.Element == 0 {
		return 0
	}
	if h, err := m.DefaultImplicitHs(idx); err == nil && h == a.ImplicitHs {
		return 0
	}
	v := m.ExplicitValence(idx) + a.ImplicitHs + a.NumRadicals
	if v == 0 || v > 14 {
		return 15
	}
	return v
}

func bondType(b molecule.Bond, aromaticAsQuery bool) int {
	switch b.Order {
	case molecule.BondDouble:
		return 2
	case molecule.BondTriple:
		return 3
	case molecule.BondAromatic:
		if aromaticAsQuery {
			return 4
		}
		if b.Kekule == molecule.BondDouble {
			return 2
		}
		return 1
	default:
		return 1
	}
}

// radicalCode maps unpaired electrons to the M RAD multiplicity code:
// 1 singlet, 2 doublet, 3 triplet.
func radicalCode(n int) int {
	if n == 1 {
		return 2
	}
	return 3
}

func radicalsFromCode(code int) int {
	switch code {
	case 2:
		return 1
	case 1, 3:
		return 2
	default:
		return 0
	}
}

func writeProperty(sb *strings.Builder, tag string, entries [][2]int) {
	for start := 0; start < len(entries); start += propertiesPerLine {
		end := min(start+propertiesPerLine, len(entries))
		fmt.Fprintf(sb, "M  %s%3d", tag, end-start)
		for _, e := range entries[start:end] {
			fmt.Fprintf(sb, "%4d%4d", e[0], e[1])
		}
		sb.WriteString("\n")
	}
}

// ReadOptions controls molblock parsing.
type ReadOptions struct {
	// Sanitize rejects valence violations and kekulization failures.
	Sanitize bool
}

// DefaultReadOptions returns strict options.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{Sanitize: true}
}

// ReadMolBlock parses a V2000 molblock.
func ReadMolBlock(text string, opts ReadOptions) (*molecule.Molecule, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	return readLines(lines, opts)
}

func readLines(lines []string, opts ReadOptions) (*molecule.Molecule, error) {
	if len(lines) < 4 {
		return nil, formatError(len(lines), "molblock needs a three line header and a counts line")
	}
	m := molecule.New()
	m.Name = strings.TrimRight(lines[0], " \t")
	dim := strings.TrimSpace(column(lines[1], 20, 22))

	counts := lines[3]
	if strings.Contains(counts, "V3000") {
		return nil, formatError(4, "V3000 molblocks are not supported")
	}
	numAtoms, err := intField(counts, 0, 3)
	if err != nil {
		return nil, formatError(4, "bad atom count: %v", err)
	}
	numBonds, err := intField(counts, 3, 6)
	if err != nil {
		return nil, formatError(4, "bad bond count: %v", err)
	}
	if numAtoms < 0 || numBonds < 0 || numAtoms > maxCount || numBonds > maxCount {
		return nil, formatError(4, "atom and bond counts must be between 0 and %d", maxCount)
	}
	if len(lines) < 4+numAtoms+numBonds {
		return nil, formatError(len(lines), "expected %d atom and %d bond lines", numAtoms, numBonds)
	}

	positions := make([]molecule.Point3, numAtoms)
	hasCoords := false
	valences := make([]int, numAtoms)
	for i := 0; i < numAtoms; i++ {
		lineNo := 5 + i
		line := lines[4+i]
		var p molecule.Point3
		coords := []*float64{&p.X, &p.Y, &p.Z}
		for k, dst := range coords {
			v, err := strconv.ParseFloat(strings.TrimSpace(column(line, 10*k, 10*k+10)), 64)
			if err != nil {
				return nil, formatError(lineNo, "bad coordinate: %v", err)
			}
			*dst = v
		}
		if p != (molecule.Point3{}) {
			hasCoords = true
		}
		positions[i] = p

		a, err := parseAtom(line)
		if err != nil {
			return nil, formatError(lineNo, "%v", err)
		}
		valences[i], _ = intField(line, 48, 51)
		m.AddAtom(a)
	}

	aromatic := false
	for i := 0; i < numBonds; i++ {
		lineNo := 5 + numAtoms + i
		line := lines[4+numAtoms+i]
		begin, err1 := intField(line, 0, 3)
		end, err2 := intField(line, 3, 6)
		typ, err3 := intField(line, 6, 9)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, formatError(lineNo, "malformed bond line")
		}
		var order molecule.BondOrder
		switch typ {
		case 1:
			order = molecule.BondSingle
		case 2:
			order = molecule.BondDouble
		case 3:
			order = molecule.BondTriple
		case 4:
			order = molecule.BondAromatic
			aromatic = true
		default:
			return nil, formatError(lineNo, "unsupported bond type %d", typ)
		}
		if _, err := m.AddBond(begin-1, end-1, order); err != nil {
			return nil, formatError(lineNo, "invalid bond %d-%d", begin, end)
		}
	}

	ended := false
	reset := map[string]bool{}
	for i := 4 + numAtoms + numBonds; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "M  END") {
			ended = true
			break
		}
		if !strings.HasPrefix(line, "M  ") || len(line) < 6 {
			continue
		}
		tag := line[3:6]
		if tag != "CHG" && tag != "ISO" && tag != "RAD" {
			continue
		}
		// A property line supersedes the atom block values for all atoms.
		if !reset[tag] {
			reset[tag] = true
			for idx := 0; idx < m.NumAtoms(); idx++ {
				a := m.Atom(idx)
				switch tag {
				case "CHG":
					a.Charge = 0
				case "RAD":
					a.NumRadicals = 0
				}
				m.SetAtom(idx, a)
			}
		}
		if err := applyProperty(m, tag, line); err != nil {
			return nil, formatError(i+1, "%v", err)
		}
	}
	if !ended {
		return nil, formatError(len(lines), "missing M  END")
	}

	if aromatic {
		for bi := 0; bi < m.NumBonds(); bi++ {
			b := m.Bond(bi)
			if b.Order != molecule.BondAromatic {
				continue
			}
			for _, idx := range []int{b.Begin, b.End} {
				a := m.Atom(idx)
				a.Aromatic = true
				m.SetAtom(idx, a)
			}
		}
		if err := m.Kekulize(); err != nil && opts.Sanitize {
			return nil, err
		}
	}

	for i, v := range valences {
		if v == 0 {
			continue
		}
		a := m.Atom(i)
		a.NoImplicit = true
		if v != 15 {
			a.ImplicitHs = max(0, v-m.ExplicitValence(i)-a.NumRadicals)
		}
		m.SetAtom(i, a)
	}
	if err := m.UpdateImplicitHs(opts.Sanitize); err != nil {
		return nil, err
	}

	if hasCoords || dim == "3D" {
		if err := m.SetConformer(&molecule.Conformer{Positions: positions, Is3D: dim == "3D"}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// chargeCodes maps the atom block charge field to a formal charge.
var chargeCodes = map[int]int{1: 3, 2: 2, 3: 1, 5: -1, 6: -2, 7: -3}

func parseAtom(line string) (molecule.Atom, error) {
	var a molecule.Atom
	sym := strings.TrimSpace(column(line, 31, 34))
	switch sym {
	case "":
		return a, fmt.Errorf("missing atom symbol")
	case "*", "R", "A", "Q", "L":
		a.NoImplicit = true
	case "D", "T":
		a.Element = 1
		a.Isotope = map[string]int{"D": 2, "T": 3}[sym]
	default:
		z, ok := molecule.AtomicNumber(sym)
		if !ok || z == 0 || sym != molecule.Symbol(z) {
			return a, fmt.Errorf("unknown element symbol %q", sym)
		}
		a.Element = z
	}
	if diff, err := intField(line, 34, 36); err == nil && diff != 0 && a.Element > 0 {
		a.Isotope = int(math.Round(molecule.AtomicMass(a.Element))) + diff
	}
	if code, err := intField(line, 36, 39); err == nil {
		if code == 4 {
			a.NumRadicals = 1
		} else {
			a.Charge = chargeCodes[code]
		}
	}
	if mapNo, err := intField(line, 60, 63); err == nil {
		a.AtomMapIndex = mapNo
	}
	return a, nil
}

func applyProperty(m *molecule.Molecule, tag, line string) error {
	n, err := intField(line, 6, 9)
	if err != nil {
		return fmt.Errorf("bad M  %s entry count", tag)
	}
	for k := 0; k < n; k++ {
		start := 9 + 8*k
		idx, err1 := intField(line, start, start+4)
		val, err2 := intField(line, start+4, start+8)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("malformed M  %s entry %d", tag, k+1)
		}
		if idx < 1 || idx > m.NumAtoms() {
			return fmt.Errorf("M  %s references missing atom %d", tag, idx)
		}
		a := m.Atom(idx - 1)
		switch tag {
		case "CHG":
			a.Charge = val
		case "ISO":
			a.Isotope = val
		case "RAD":
			a.NumRadicals = radicalsFromCode(val)
		}
		m.SetAtom(idx-1, a)
	}
	return nil
}

func column(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return line[from:to]
}

// intField parses a fixed-width integer column; a blank column reads as 0.
func intField(line string, from, to int) (int, error) {
	s := strings.TrimSpace(column(line, from, to))
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
