// Package molecule provides the structural model shared by every molcore
// chemistry component: an arena of atoms and bonds addressed by stable integer
// indices, plus an optional single conformer.
//
// Atoms and bonds are stored by value. Readers get copies through Atom and
// Bond; writers go through SetAtom, SetBond, AddAtom and AddBond so the
// adjacency index always matches the bond list. Transforms never edit a
// molecule they were given: they Clone it, edit the copy and return that.
package molecule

import (
	"fmt"
	"math"
	"sort"

	"github.com/turtacn/molcore/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Value types
// ─────────────────────────────────────────────────────────────────────────────

// BondOrder is the chemical order of a bond.
type BondOrder int

const (
	BondUnspecified BondOrder = 0
	BondSingle      BondOrder = 1
	BondDouble      BondOrder = 2
	BondTriple      BondOrder = 3
	BondAromatic    BondOrder = 4
)

func (o BondOrder) String() string {
	switch o {
	case BondSingle:
		return "single"
	case BondDouble:
		return "double"
	case BondTriple:
		return "triple"
	case BondAromatic:
		return "aromatic"
	default:
		return "unspecified"
	}
}

// BondStereo is the directional marker carried by a bond. It is recorded
// from input and preserved, never interpreted.
type BondStereo int

const (
	StereoNone BondStereo = iota
	StereoUp
	StereoDown
	StereoEither
)

// Atom is a single atom record.
type Atom struct {
	// Element is the atomic number; 0 is the wildcard atom "*".
	Element int
	Charge  int
	// Isotope is the mass number, 0 for natural abundance.
	Isotope int
	// ImplicitHs counts hydrogens not represented as atoms.
	ImplicitHs int
	// NoImplicit pins ImplicitHs (bracket atoms); valence perception leaves
	// it untouched.
	NoImplicit   bool
	Aromatic     bool
	NumRadicals  int
	AtomMapIndex int
}

// Symbol returns the element symbol.
func (a Atom) Symbol() string { return Symbol(a.Element) }

// IsHydrogen reports whether the atom is a hydrogen of any isotope.
func (a Atom) IsHydrogen() bool { return a.Element == 1 }

// Bond joins atoms Begin and End.
type Bond struct {
	Begin int
	End   int
	Order BondOrder
	// Kekule holds the localized order (single or double) of an aromatic bond.
	Kekule BondOrder
	Stereo BondStereo
}

// Other returns the atom at the opposite end of the bond from idx.
func (b Bond) Other(idx int) int {
	if b.Begin == idx {
		return b.End
	}
	return b.Begin
}

// ValenceContribution is the bond's contribution to each endpoint's valence.
// Aromatic bonds contribute their Kekulé order; until kekulized they count 1.
func (b Bond) ValenceContribution() int {
	switch b.Order {
	case BondDouble:
		return 2
	case BondTriple:
		return 3
	case BondAromatic:
		if b.Kekule == BondDouble {
			return 2
		}
		return 1
	default:
		return 1
	}
}

// Point3 is a position in Angstrom.
type Point3 struct {
	X, Y, Z float64
}

// Sub returns p - q.
func (p Point3) Sub(q Point3) Point3 { return Point3{p.X - q.X, p.Y - q.Y, p.Z - q.Z} }

// Add returns p + q.
func (p Point3) Add(q Point3) Point3 { return Point3{p.X + q.X, p.Y + q.Y, p.Z + q.Z} }

// Scale returns p * f.
func (p Point3) Scale(f float64) Point3 { return Point3{p.X * f, p.Y * f, p.Z * f} }

// Norm returns the Euclidean length of p.
func (p Point3) Norm() float64 { return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z) }

// Distance returns |p - q|.
func (p Point3) Distance(q Point3) float64 { return p.Sub(q).Norm() }

// Conformer is a per-atom coordinate set.
type Conformer struct {
	Positions []Point3
	Is3D      bool
}

func (c *Conformer) clone() *Conformer {
	if c == nil {
		return nil
	}
	return &Conformer{Positions: append([]Point3(nil), c.Positions...), Is3D: c.Is3D}
}

// ─────────────────────────────────────────────────────────────────────────────
// Molecule
// ─────────────────────────────────────────────────────────────────────────────

// Molecule is the atom/bond arena.
type Molecule struct {
	// Name is the title carried by notations and blocks that have one.
	Name string
	// Props holds string properties such as SDF data items.
	Props map[string]string

	atoms     []Atom
	bonds     []Bond
	adj       [][]int
	conformer *Conformer
}

// New returns an empty molecule.
func New() *Molecule {
	return &Molecule{}
}

// NumAtoms returns the number of atoms.
func (m *Molecule) NumAtoms() int { return len(m.atoms) }

// NumBonds returns the number of bonds.
func (m *Molecule) NumBonds() int { return len(m.bonds) }

// Atom returns a copy of atom idx. It panics on an out-of-range index.
func (m *Molecule) Atom(idx int) Atom { return m.atoms[idx] }

// Bond returns a copy of bond idx. It panics on an out-of-range index.
func (m *Molecule) Bond(idx int) Bond { return m.bonds[idx] }

// Atoms returns a copy of the atom list.
func (m *Molecule) Atoms() []Atom { return append([]Atom(nil), m.atoms...) }

// Bonds returns a copy of the bond list.
func (m *Molecule) Bonds() []Bond { return append([]Bond(nil), m.bonds...) }

// AddAtom appends an atom and returns its index. Any conformer grows with a
// zero position so its length stays equal to the atom count.
func (m *Molecule) AddAtom(a Atom) int {
	m.atoms = append(m.atoms, a)
	m.adj = append(m.adj, nil)
	if m.conformer != nil {
		m.conformer.Positions = append(m.conformer.Positions, Point3{})
	}
	return len(m.atoms) - 1
}

// SetAtom replaces atom idx.
func (m *Molecule) SetAtom(idx int, a Atom) {
	m.atoms[idx] = a
}

// AddBond joins two existing, distinct, not yet bonded atoms.
func (m *Molecule) AddBond(begin, end int, order BondOrder) (int, error) {
	return m.AddBondRecord(Bond{Begin: begin, End: end, Order: order})
}

// AddBondRecord is AddBond for a fully populated bond record.
func (m *Molecule) AddBondRecord(b Bond) (int, error) {
	if b.Begin < 0 || b.Begin >= len(m.atoms) || b.End < 0 || b.End >= len(m.atoms) {
		return -1, errors.ContractViolation("bond references a missing atom").
			WithDetail(fmt.Sprintf("begin=%d end=%d atoms=%d", b.Begin, b.End, len(m.atoms)))
	}
	if b.Begin == b.End {
		return -1, errors.ContractViolation("bond joins an atom to itself").
			WithDetail(fmt.Sprintf("atom=%d", b.Begin))
	}
	// Scan the shorter adjacency list; a fresh atom has none to scan.
	near, far := b.Begin, b.End
	if len(m.adj[far]) < len(m.adj[near]) {
		near, far = far, near
	}
	if _, ok := m.BondBetween(near, far); ok {
		return -1, errors.ContractViolation("duplicate bond").
			WithDetail(fmt.Sprintf("atoms %d-%d", b.Begin, b.End))
	}
	if b.Order == BondUnspecified {
		b.Order = BondSingle
	}
	m.bonds = append(m.bonds, b)
	idx := len(m.bonds) - 1
	m.adj[b.Begin] = append(m.adj[b.Begin], idx)
	m.adj[b.End] = append(m.adj[b.End], idx)
	return idx, nil
}

// SetBond replaces the order, Kekulé order and stereo of bond idx. The
// endpoints cannot change.
func (m *Molecule) SetBond(idx int, b Bond) {
	cur := m.bonds[idx]
	cur.Order, cur.Kekule, cur.Stereo = b.Order, b.Kekule, b.Stereo
	m.bonds[idx] = cur
}

// BondsOf returns the indices of the bonds incident to atom idx.
func (m *Molecule) BondsOf(idx int) []int {
	return append([]int(nil), m.adj[idx]...)
}

// Neighbors returns the atoms bonded to idx in bond insertion order.
func (m *Molecule) Neighbors(idx int) []int {
	out := make([]int, 0, len(m.adj[idx]))
	for _, b := range m.adj[idx] {
		out = append(out, m.bonds[b].Other(idx))
	}
	return out
}

// Degree returns the number of explicit bonds on atom idx.
func (m *Molecule) Degree(idx int) int { return len(m.adj[idx]) }

// BondBetween returns the bond joining a and b.
func (m *Molecule) BondBetween(a, b int) (int, bool) {
	if a < 0 || a >= len(m.adj) {
		return -1, false
	}
	for _, bi := range m.adj[a] {
		if m.bonds[bi].Other(a) == b {
			return bi, true
		}
	}
	return -1, false
}

// ExplicitValence sums the valence contributions of the bonds on atom idx.
func (m *Molecule) ExplicitValence(idx int) int {
	v := 0
	for _, b := range m.adj[idx] {
		v += m.bonds[b].ValenceContribution()
	}
	return v
}

// TotalHs returns implicit plus explicit (bonded atom) hydrogens on atom idx.
func (m *Molecule) TotalHs(idx int) int {
	n := m.atoms[idx].ImplicitHs
	for _, nb := range m.Neighbors(idx) {
		if m.atoms[nb].IsHydrogen() {
			n++
		}
	}
	return n
}

// HeavyDegree counts non-hydrogen neighbours.
func (m *Molecule) HeavyDegree(idx int) int {
	n := 0
	for _, nb := range m.Neighbors(idx) {
		if !m.atoms[nb].IsHydrogen() {
			n++
		}
	}
	return n
}

// NumHeavyAtoms counts atoms that are not hydrogen.
func (m *Molecule) NumHeavyAtoms() int {
	n := 0
	for _, a := range m.atoms {
		if !a.IsHydrogen() {
			n++
		}
	}
	return n
}

// Conformer returns the attached conformer or nil.
func (m *Molecule) Conformer() *Conformer { return m.conformer }

// SetConformer attaches c. Its length must equal the atom count.
func (m *Molecule) SetConformer(c *Conformer) error {
	if c != nil && len(c.Positions) != len(m.atoms) {
		return errors.ContractViolation("conformer size does not match atom count").
			WithDetail(fmt.Sprintf("positions=%d atoms=%d", len(c.Positions), len(m.atoms)))
	}
	m.conformer = c
	return nil
}

// ClearConformer drops the conformer.
func (m *Molecule) ClearConformer() { m.conformer = nil }

// SetProp stores a string property.
func (m *Molecule) SetProp(key, value string) {
	if m.Props == nil {
		m.Props = make(map[string]string)
	}
	m.Props[key] = value
}

// PropKeys returns property keys in sorted order.
func (m *Molecule) PropKeys() []string {
	keys := make([]string, 0, len(m.Props))
	for k := range m.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (m *Molecule) Clone() *Molecule {
	c := &Molecule{
		Name:      m.Name,
		atoms:     append([]Atom(nil), m.atoms...),
		bonds:     append([]Bond(nil), m.bonds...),
		adj:       make([][]int, len(m.adj)),
		conformer: m.conformer.clone(),
	}
	for i, a := range m.adj {
		c.adj[i] = append([]int(nil), a...)
	}
	if m.Props != nil {
		c.Props = make(map[string]string, len(m.Props))
		for k, v := range m.Props {
			c.Props[k] = v
		}
	}
	return c
}

// Subset returns a new molecule holding the atoms for which keep returns
// true and the bonds between them. The second result maps old atom indices
// to new ones (-1 for dropped atoms).
func (m *Molecule) Subset(keep func(idx int, a Atom) bool) (*Molecule, []int) {
	out := &Molecule{Name: m.Name}
	if m.Props != nil {
		out.Props = make(map[string]string, len(m.Props))
		for k, v := range m.Props {
			out.Props[k] = v
		}
	}
	mapping := make([]int, len(m.atoms))
	var positions []Point3
	for i, a := range m.atoms {
		if !keep(i, a) {
			mapping[i] = -1
			continue
		}
		mapping[i] = out.AddAtom(a)
		if m.conformer != nil {
			positions = append(positions, m.conformer.Positions[i])
		}
	}
	for _, b := range m.bonds {
		nb, ne := mapping[b.Begin], mapping[b.End]
		if nb < 0 || ne < 0 {
			continue
		}
		b.Begin, b.End = nb, ne
		out.bonds = append(out.bonds, b)
		idx := len(out.bonds) - 1
		out.adj[nb] = append(out.adj[nb], idx)
		out.adj[ne] = append(out.adj[ne], idx)
	}
	if m.conformer != nil {
		out.conformer = &Conformer{Positions: positions, Is3D: m.conformer.Is3D}
	}
	return out, mapping
}

// Validate checks the arena invariants: every bond joins two distinct
// existing atoms, no atom pair is bonded twice, the adjacency index matches
// the bond list and the conformer covers every atom.
func (m *Molecule) Validate() error {
	if len(m.adj) != len(m.atoms) {
		return errors.ContractViolation("adjacency index out of sync with atoms")
	}
	seen := make(map[[2]int]bool, len(m.bonds))
	for i, b := range m.bonds {
		if b.Begin < 0 || b.Begin >= len(m.atoms) || b.End < 0 || b.End >= len(m.atoms) || b.Begin == b.End {
			return errors.ContractViolation("bond references an invalid atom").WithDetail(fmt.Sprintf("bond=%d", i))
		}
		key := [2]int{min(b.Begin, b.End), max(b.Begin, b.End)}
		if seen[key] {
			return errors.ContractViolation("duplicate bond").WithDetail(fmt.Sprintf("bond=%d", i))
		}
		seen[key] = true
	}
	count := 0
	for atom, list := range m.adj {
		for _, bi := range list {
			if bi < 0 || bi >= len(m.bonds) || (m.bonds[bi].Begin != atom && m.bonds[bi].End != atom) {
				return errors.ContractViolation("adjacency index references a foreign bond").
					WithDetail(fmt.Sprintf("atom=%d bond=%d", atom, bi))
			}
			count++
		}
	}
	if count != 2*len(m.bonds) {
		return errors.ContractViolation("adjacency index out of sync with bonds")
	}
	for i, a := range m.atoms {
		if a.Element < 0 || a.Element > MaxAtomicNumber {
			return errors.ContractViolation("atom has an unknown element").WithDetail(fmt.Sprintf("atom=%d z=%d", i, a.Element))
		}
		if a.ImplicitHs < 0 || a.ImplicitHs > MaxHydrogensPerAtom {
			return errors.ContractViolation("implicit hydrogen count out of range").
				WithDetail(fmt.Sprintf("atom=%d hs=%d", i, a.ImplicitHs))
		}
	}
	if m.conformer != nil && len(m.conformer.Positions) != len(m.atoms) {
		return errors.ContractViolation("conformer size does not match atom count")
	}
	return nil
}
