// Package smiles reads and writes SMILES, the linear molecular notation.
//
// The parser covers the organic subset, bracket atoms, bond symbols, ring
// closures (including %nn and %(nnn)), branches and dot-separated fragments. Chirality
// marks are accepted and dropped; bond direction marks are kept as bond
// stereo flags but not interpreted.
package smiles

import (
	"fmt"
	"strings"

	"github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

// Options controls parsing.
type Options struct {
	// Sanitize enables strict mode: valence checks, kekulization of the
	// aromatic system and ring membership checks for aromatic atoms. With
	// Sanitize off, failures in those steps are tolerated and hydrogens are
	// filled in best-effort.
	Sanitize bool
}

// DefaultOptions returns strict parsing options.
func DefaultOptions() Options {
	return Options{Sanitize: true}
}

// SyntaxError locates a parse failure in the input text.
type SyntaxError struct {
	// Pos is the 0-based byte offset of the offending token.
	Pos   int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
	}
	return fmt.Sprintf("%s at position %d (%q)", e.Msg, e.Pos, e.Token)
}

func syntaxError(pos int, token, format string, args ...interface{}) error {
	se := &SyntaxError{Pos: pos, Token: token, Msg: fmt.Sprintf(format, args...)}
	return errors.New(errors.CodeParse, se.Msg).
		WithDetail(fmt.Sprintf("position %d", pos)).
		WithCause(se)
}

// Bracket atom field limits.
const (
	maxIsotope   = 999
	maxCharge    = 15
	maxAtomClass = 99999
	maxRingLabel = 99999
)

type pendingBond struct {
	order  molecule.BondOrder
	stereo molecule.BondStereo
	pos    int
	token  string
}

type ringOpening struct {
	atom int
	bond *pendingBond
	pos  int
}

type branchFrame struct {
	atom      int
	pos       int
	atomCount int
}

type parser struct {
	src      string
	pos      int
	mol      *molecule.Molecule
	prev     int
	bond     *pendingBond
	branches []branchFrame
	rings    map[int]ringOpening
	atomPos  []int
}

// Parse converts SMILES text into a molecule. Text after the first
// whitespace becomes the molecule name.
func Parse(text string, opts Options) (*molecule.Molecule, error) {
	p := &parser{
		src:   text,
		mol:   molecule.New(),
		prev:  -1,
		rings: make(map[int]ringOpening),
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	if p.mol.NumAtoms() == 0 {
		return nil, syntaxError(0, "", "no atoms in input")
	}
	if err := p.finish(opts); err != nil {
		return nil, err
	}
	return p.mol, nil
}

func (p *parser) run() error {
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			p.mol.Name = strings.TrimSpace(p.src[p.pos:])
			p.pos = len(p.src)
		case ch == '(':
			if p.prev < 0 {
				return syntaxError(p.pos, "(", "branch without a preceding atom")
			}
			if p.bond != nil {
				return syntaxError(p.bond.pos, p.bond.token, "bond symbol before branch")
			}
			p.branches = append(p.branches, branchFrame{atom: p.prev, pos: p.pos, atomCount: p.mol.NumAtoms()})
			p.pos++
		case ch == ')':
			if len(p.branches) == 0 {
				return syntaxError(p.pos, ")", "unmatched branch close")
			}
			if p.bond != nil {
				return syntaxError(p.bond.pos, p.bond.token, "bond symbol without a following atom")
			}
			top := p.branches[len(p.branches)-1]
			if p.mol.NumAtoms() == top.atomCount {
				return syntaxError(top.pos, "()", "empty branch")
			}
			p.branches = p.branches[:len(p.branches)-1]
			p.prev = top.atom
			p.pos++
		case strings.IndexByte(`-=#$:/\`, ch) >= 0:
			if err := p.readBond(ch); err != nil {
				return err
			}
		case ch == '.':
			if p.bond != nil {
				return syntaxError(p.bond.pos, p.bond.token, "bond symbol without a following atom")
			}
			if p.prev < 0 {
				return syntaxError(p.pos, ".", "fragment separator without a preceding atom")
			}
			p.prev = -1
			p.pos++
		case ch == '%' || (ch >= '0' && ch <= '9'):
			if err := p.readRingBond(); err != nil {
				return err
			}
		case ch == '[':
			if err := p.readBracketAtom(); err != nil {
				return err
			}
		default:
			if err := p.readOrganicAtom(); err != nil {
				return err
			}
		}
	}

	if p.bond != nil {
		return syntaxError(p.bond.pos, p.bond.token, "bond symbol without a following atom")
	}
	if len(p.branches) > 0 {
		top := p.branches[len(p.branches)-1]
		return syntaxError(top.pos, "(", "unmatched branch")
	}
	if len(p.rings) > 0 {
		first := -1
		var label int
		for num, open := range p.rings {
			if first < 0 || open.pos < first {
				first, label = open.pos, num
			}
		}
		return syntaxError(first, p.ringToken(first), "unclosed ring bond %d", label)
	}
	return nil
}

func (p *parser) ringToken(pos int) string {
	if strings.HasPrefix(p.src[pos:], "%(") {
		if end := strings.IndexByte(p.src[pos:], ')'); end > 0 {
			return p.src[pos : pos+end+1]
		}
	}
	if p.src[pos] == '%' && pos+3 <= len(p.src) {
		return p.src[pos : pos+3]
	}
	return p.src[pos : pos+1]
}

func (p *parser) readBond(ch byte) error {
	tok := string(ch)
	if p.prev < 0 {
		return syntaxError(p.pos, tok, "bond symbol without a preceding atom")
	}
	if p.bond != nil {
		return syntaxError(p.pos, tok, "consecutive bond symbols")
	}
	b := &pendingBond{order: molecule.BondSingle, pos: p.pos, token: tok}
	switch ch {
	case '=':
		b.order = molecule.BondDouble
	case '#':
		b.order = molecule.BondTriple
	case '$':
		return syntaxError(p.pos, tok, "quadruple bonds are not supported")
	case ':':
		b.order = molecule.BondAromatic
	case '/':
		b.stereo = molecule.StereoUp
	case '\\':
		b.stereo = molecule.StereoDown
	}
	p.bond = b
	p.pos++
	return nil
}

func (p *parser) readRingBond() error {
	start := p.pos
	var num int
	switch {
	case p.src[p.pos] == '%' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '(':
		closing := strings.IndexByte(p.src[p.pos:], ')')
		digits := ""
		if closing > 0 {
			digits = p.src[p.pos+2 : p.pos+closing]
		}
		n, next, ok := number(digits, 0, maxRingLabel)
		if closing < 0 || digits == "" || !ok || next != len(digits) {
			return syntaxError(start, "%(", "ring bond label %%(...) must enclose a number up to %d", maxRingLabel)
		}
		num = n
		p.pos += closing + 1
	case p.src[p.pos] == '%':
		if p.pos+2 >= len(p.src) || !isDigit(p.src[p.pos+1]) || !isDigit(p.src[p.pos+2]) {
			return syntaxError(start, "%", "ring bond label %% must be followed by two digits")
		}
		num = int(p.src[p.pos+1]-'0')*10 + int(p.src[p.pos+2]-'0')
		p.pos += 3
	default:
		num = int(p.src[p.pos] - '0')
		p.pos++
	}
	tok := p.src[start:p.pos]
	if p.prev < 0 {
		return syntaxError(start, tok, "ring bond without a preceding atom")
	}

	open, ok := p.rings[num]
	if !ok {
		p.rings[num] = ringOpening{atom: p.prev, bond: p.bond, pos: start}
		p.bond = nil
		return nil
	}
	delete(p.rings, num)
	if open.atom == p.prev {
		return syntaxError(start, tok, "ring bond %d closes on its own atom", num)
	}

	bond := open.bond
	if p.bond != nil {
		if bond != nil && (bond.order != p.bond.order) {
			return syntaxError(start, tok, "conflicting bond symbols on ring bond %d", num)
		}
		bond = p.bond
	}
	p.bond = nil
	if err := p.connect(open.atom, p.prev, bond); err != nil {
		return syntaxError(start, tok, "ring bond %d duplicates an existing bond", num)
	}
	return nil
}

// connect bonds a and b using the pending bond or the default order:
// aromatic between two aromatic atoms, single otherwise.
func (p *parser) connect(a, b int, bond *pendingBond) error {
	rec := molecule.Bond{Begin: a, End: b, Order: molecule.BondSingle}
	switch {
	case bond != nil:
		rec.Order, rec.Stereo = bond.order, bond.stereo
	case p.mol.Atom(a).Aromatic && p.mol.Atom(b).Aromatic:
		rec.Order = molecule.BondAromatic
	}
	_, err := p.mol.AddBondRecord(rec)
	return err
}

func (p *parser) addAtom(a molecule.Atom, pos int) error {
	idx := p.mol.AddAtom(a)
	p.atomPos = append(p.atomPos, pos)
	if p.prev >= 0 {
		if err := p.connect(p.prev, idx, p.bond); err != nil {
			return syntaxError(pos, a.Symbol(), "invalid bond")
		}
	}
	p.prev = idx
	p.bond = nil
	return nil
}

// organic subset symbols, two-letter forms first.
var organicSymbols = []string{"Cl", "Br", "B", "C", "N", "O", "P", "S", "F", "I", "b", "c", "n", "o", "p", "s", "*"}

func (p *parser) readOrganicAtom() error {
	start := p.pos
	for _, sym := range organicSymbols {
		if !strings.HasPrefix(p.src[p.pos:], sym) {
			continue
		}
		p.pos += len(sym)
		a := molecule.Atom{}
		if sym != "*" {
			a.Element, _ = molecule.AtomicNumber(sym)
			a.Aromatic = sym[0] >= 'a' && sym[0] <= 'z'
		} else {
			a.NoImplicit = true
		}
		return p.addAtom(a, start)
	}
	ch := p.src[p.pos]
	if isLetter(ch) {
		end := p.pos + 1
		if end < len(p.src) && p.src[end] >= 'a' && p.src[end] <= 'z' {
			end++
		}
		return syntaxError(start, p.src[start:end], "unknown element symbol")
	}
	return syntaxError(start, string(ch), "unexpected character")
}

var aromaticBracketSymbols = []string{"se", "as", "te", "b", "c", "n", "o", "p", "s"}

func (p *parser) readBracketAtom() error {
	start := p.pos
	end := strings.IndexByte(p.src[start:], ']')
	if end < 0 {
		return syntaxError(start, "[", "unclosed bracket atom")
	}
	end += start
	body := p.src[start+1 : end]
	i := 0
	a := molecule.Atom{NoImplicit: true}

	// isotope
	var ok bool
	if a.Isotope, i, ok = number(body, i, maxIsotope); !ok {
		return syntaxError(start+1, body[:i+1], "isotope above %d", maxIsotope)
	}

	// element symbol
	symStart := i
	switch {
	case i < len(body) && body[i] == '*':
		i++
	case i < len(body) && body[i] >= 'a' && body[i] <= 'z':
		matched := false
		for _, sym := range aromaticBracketSymbols {
			if strings.HasPrefix(body[i:], sym) {
				a.Element, _ = molecule.AtomicNumber(sym)
				a.Aromatic = true
				i += len(sym)
				matched = true
				break
			}
		}
		if !matched {
			return syntaxError(start+1+i, body[i:i+1], "unknown element symbol")
		}
	case i < len(body) && isUpper(body[i]):
		// Nothing after the symbol starts with a lowercase letter, so a
		// trailing lowercase letter always belongs to the symbol.
		sym := body[i : i+1]
		if i+1 < len(body) && body[i+1] >= 'a' && body[i+1] <= 'z' {
			sym = body[i : i+2]
		}
		z, ok := molecule.AtomicNumber(sym)
		if !ok || z == 0 {
			return syntaxError(start+1+i, sym, "unknown element symbol")
		}
		a.Element = z
		i += len(sym)
	default:
		return syntaxError(start, p.src[start:end+1], "bracket atom without an element symbol")
	}
	if symStart == i {
		return syntaxError(start, p.src[start:end+1], "bracket atom without an element symbol")
	}

	// chirality: accepted, not stored
	if i < len(body) && body[i] == '@' {
		i++
		if i < len(body) && body[i] == '@' {
			i++
		} else if i+1 < len(body) && isUpper(body[i]) && isUpper(body[i+1]) {
			i += 2
			for i < len(body) && isDigit(body[i]) {
				i++
			}
		}
	}

	// hydrogen count
	if i < len(body) && body[i] == 'H' {
		i++
		a.ImplicitHs = 1
		if i < len(body) && isDigit(body[i]) {
			hStart := i
			if a.ImplicitHs, i, ok = number(body, i, molecule.MaxHydrogensPerAtom); !ok {
				return syntaxError(start+1+hStart, body[hStart:i+1],
					"more than %d hydrogens on one atom", molecule.MaxHydrogensPerAtom)
			}
		}
	}

	// charge
	if i < len(body) && (body[i] == '+' || body[i] == '-') {
		sign := 1
		if body[i] == '-' {
			sign = -1
		}
		c := body[i]
		i++
		switch {
		case i < len(body) && isDigit(body[i]):
			var n int
			if n, i, ok = number(body, i, maxCharge); !ok {
				return syntaxError(start+1+i, string(c), "charge magnitude above %d", maxCharge)
			}
			a.Charge = sign * n
		default:
			n := 1
			for i < len(body) && body[i] == c {
				n++
				i++
			}
			if n > maxCharge {
				return syntaxError(start+1+i, string(c), "charge magnitude above %d", maxCharge)
			}
			a.Charge = sign * n
		}
	}

	// atom class
	if i < len(body) && body[i] == ':' {
		i++
		if i >= len(body) || !isDigit(body[i]) {
			return syntaxError(start+1+i, ":", "atom class requires digits")
		}
		if a.AtomMapIndex, i, ok = number(body, i, maxAtomClass); !ok {
			return syntaxError(start+1+i, ":", "atom class above %d", maxAtomClass)
		}
	}

	if i != len(body) {
		return syntaxError(start+1+i, body[i:i+1], "malformed bracket atom")
	}
	p.pos = end + 1
	return p.addAtom(a, start)
}

// finish runs the sanitize pipeline on the parsed graph.
func (p *parser) finish(opts Options) error {
	m := p.mol
	if !opts.Sanitize {
		_ = m.Kekulize()
		_ = m.UpdateImplicitHs(false)
		return nil
	}

	ringAtoms := m.RingAtoms()
	ringBonds := m.RingBonds()
	for i := 0; i < m.NumAtoms(); i++ {
		if m.Atom(i).Aromatic && !ringAtoms[i] {
			return syntaxError(p.atomPos[i], m.Atom(i).Symbol(), "non-ring atom marked aromatic")
		}
	}
	for i := 0; i < m.NumBonds(); i++ {
		b := m.Bond(i)
		if b.Order != molecule.BondAromatic {
			continue
		}
		if !ringBonds[i] || !m.Atom(b.Begin).Aromatic || !m.Atom(b.End).Aromatic {
			return syntaxError(p.atomPos[b.End], m.Atom(b.End).Symbol(), "aromatic bond outside an aromatic ring")
		}
	}

	if err := m.Kekulize(); err != nil {
		first := 0
		for i := 0; i < m.NumAtoms(); i++ {
			if m.Atom(i).Aromatic {
				first = i
				break
			}
		}
		return syntaxError(p.atomPos[first], m.Atom(first).Symbol(), "cannot kekulize aromatic system")
	}
	return m.UpdateImplicitHs(true)
}

// number reads the digit run at body[i:]. It stops with ok false as soon as
// the value passes limit, with next at the offending digit.
func number(body string, i, limit int) (n, next int, ok bool) {
	for i < len(body) && isDigit(body[i]) {
		n = n*10 + int(body[i]-'0')
		if n > limit {
			return 0, i, false
		}
		i++
	}
	return n, i, true
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isUpper(c byte) bool  { return c >= 'A' && c <= 'Z' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || isUpper(c) }
