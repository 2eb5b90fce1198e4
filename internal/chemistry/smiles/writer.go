package smiles

import (
	"sort"
	"strconv"
	"strings"

	"github.com/turtacn/molcore/internal/chemistry/canon"
	"github.com/turtacn/molcore/internal/domain/molecule"
)

// WriteOptions controls SMILES generation.
type WriteOptions struct {
	// Canonical orders the traversal by canonical rank. When false the
	// traversal follows atom indices, reproducing input order.
	Canonical bool
}

// DefaultWriteOptions returns canonical output options.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Canonical: true}
}

type ringEdge struct {
	bond    int
	partner int
}

type writer struct {
	mol      *molecule.Molecule
	ranks    []int
	visited  []bool
	usedBond []bool
	children [][]ringEdge
	opens    [][]ringEdge
	closes   [][]ringEdge
	digits   map[int]int // bond -> ring label
	inUse    map[int]bool
	sb       strings.Builder
}

// Write renders m as SMILES. Stereo marks are not written.
func Write(m *molecule.Molecule, opts WriteOptions) string {
	n := m.NumAtoms()
	if n == 0 {
		return ""
	}
	var ranks []int
	if opts.Canonical {
		ranks = canon.Ranks(m)
	} else {
		ranks = make([]int, n)
		for i := range ranks {
			ranks[i] = i
		}
	}

	w := &writer{
		mol:      m,
		ranks:    ranks,
		visited:  make([]bool, n),
		usedBond: make([]bool, m.NumBonds()),
		children: make([][]ringEdge, n),
		opens:    make([][]ringEdge, n),
		closes:   make([][]ringEdge, n),
		digits:   make(map[int]int),
		inUse:    make(map[int]bool),
	}

	var roots []int
	for _, component := range w.components() {
		root := startAtom(m, ranks, component)
		roots = append(roots, root)
		w.explore(root, -1)
	}
	for k, root := range roots {
		if k > 0 {
			w.sb.WriteByte('.')
		}
		w.emit(root)
	}
	return w.sb.String()
}

// components returns the connected components, each listed in rank order,
// ordered by their lowest-ranked atom.
func (w *writer) components() [][]int {
	n := w.mol.NumAtoms()
	order := make([]int, n)
	for atom, r := range w.ranks {
		order[r] = atom
	}
	seen := make([]bool, n)
	var out [][]int
	for _, start := range order {
		if seen[start] {
			continue
		}
		seen[start] = true
		members := []int{start}
		for k := 0; k < len(members); k++ {
			for _, nb := range w.mol.Neighbors(members[k]) {
				if !seen[nb] {
					seen[nb] = true
					members = append(members, nb)
				}
			}
		}
		sort.Slice(members, func(i, j int) bool { return w.ranks[members[i]] < w.ranks[members[j]] })
		out = append(out, members)
	}
	return out
}

// startAtom picks the lowest-ranked terminal atom of a component, falling
// back to its lowest-ranked atom when every atom sits in a ring.
func startAtom(m *molecule.Molecule, ranks []int, component []int) int {
	for _, atom := range component {
		if m.Degree(atom) <= 1 {
			return atom
		}
	}
	return component[0]
}

// sortedBonds returns the bonds of atom ordered by the rank of the atom at
// the other end.
func (w *writer) sortedBonds(atom int) []int {
	bonds := w.mol.BondsOf(atom)
	sort.Slice(bonds, func(i, j int) bool {
		return w.ranks[w.mol.Bond(bonds[i]).Other(atom)] < w.ranks[w.mol.Bond(bonds[j]).Other(atom)]
	})
	return bonds
}

// explore is the first DFS pass: it fixes the spanning tree and records
// ring closure bonds at both ends.
func (w *writer) explore(atom, parentBond int) {
	w.visited[atom] = true
	for _, bi := range w.sortedBonds(atom) {
		if bi == parentBond || w.usedBond[bi] {
			continue
		}
		other := w.mol.Bond(bi).Other(atom)
		w.usedBond[bi] = true
		if w.visited[other] {
			w.opens[other] = append(w.opens[other], ringEdge{bond: bi, partner: atom})
			w.closes[atom] = append(w.closes[atom], ringEdge{bond: bi, partner: other})
			continue
		}
		w.children[atom] = append(w.children[atom], ringEdge{bond: bi, partner: other})
		w.explore(other, bi)
	}
}

// emit is the second pass: it writes atoms in the same preorder.
func (w *writer) emit(atom int) {
	w.sb.WriteString(w.atomToken(atom))

	for _, e := range w.closes[atom] {
		label := w.digits[e.bond]
		w.writeLabel(label)
	}
	for _, e := range w.opens[atom] {
		label := w.nextLabel()
		w.digits[e.bond] = label
		w.inUse[label] = true
		w.sb.WriteString(w.bondToken(e.bond))
		w.writeLabel(label)
	}
	for _, e := range w.closes[atom] {
		delete(w.inUse, w.digits[e.bond])
	}

	for k, e := range w.children[atom] {
		last := k == len(w.children[atom])-1
		if !last {
			w.sb.WriteByte('(')
		}
		w.sb.WriteString(w.bondToken(e.bond))
		w.emit(e.partner)
		if !last {
			w.sb.WriteByte(')')
		}
	}
}

func (w *writer) nextLabel() int {
	for label := 1; ; label++ {
		if !w.inUse[label] {
			return label
		}
	}
}

func (w *writer) writeLabel(label int) {
	if label < 10 {
		w.sb.WriteByte(byte('0' + label))
		return
	}
	if label < 100 {
		w.sb.WriteByte('%')
		w.sb.WriteString(strconv.Itoa(label))
		return
	}
	w.sb.WriteString("%(")
	w.sb.WriteString(strconv.Itoa(label))
	w.sb.WriteByte(')')
}

func (w *writer) bondToken(bi int) string {
	b := w.mol.Bond(bi)
	bothAromatic := w.mol.Atom(b.Begin).Aromatic && w.mol.Atom(b.End).Aromatic
	switch b.Order {
	case molecule.BondDouble:
		return "="
	case molecule.BondTriple:
		return "#"
	case molecule.BondAromatic:
		if bothAromatic {
			return ""
		}
		return ":"
	default:
		if bothAromatic {
			return "-"
		}
		return ""
	}
}

var organicSubset = map[int]bool{5: true, 6: true, 7: true, 8: true, 15: true, 16: true, 9: true, 17: true, 35: true, 53: true}
var aromaticOrganic = map[int]bool{5: true, 6: true, 7: true, 8: true, 15: true, 16: true}

func (w *writer) atomToken(idx int) string {
	a := w.mol.Atom(idx)
	if w.bareAllowed(idx, a) {
		if a.Element == 0 {
			return "*"
		}
		return symbolFor(a)
	}

	var sb strings.Builder
	sb.WriteByte('[')
	if a.Isotope > 0 {
		sb.WriteString(strconv.Itoa(a.Isotope))
	}
	sb.WriteString(symbolFor(a))
	if a.ImplicitHs > 0 {
		sb.WriteByte('H')
		if a.ImplicitHs > 1 {
			sb.WriteString(strconv.Itoa(a.ImplicitHs))
		}
	}
	switch {
	case a.Charge == 1:
		sb.WriteByte('+')
	case a.Charge == -1:
		sb.WriteByte('-')
	case a.Charge > 1:
		sb.WriteString("+" + strconv.Itoa(a.Charge))
	case a.Charge < -1:
		sb.WriteString(strconv.Itoa(a.Charge))
	}
	if a.AtomMapIndex > 0 {
		sb.WriteString(":" + strconv.Itoa(a.AtomMapIndex))
	}
	sb.WriteByte(']')
	return sb.String()
}

func symbolFor(a molecule.Atom) string {
	if a.Element == 0 {
		return "*"
	}
	sym := a.Symbol()
	if a.Aromatic {
		return strings.ToLower(sym)
	}
	return sym
}

// bareAllowed reports whether the atom can be written without brackets and
// still parse back with the same hydrogen count.
func (w *writer) bareAllowed(idx int, a molecule.Atom) bool {
	if a.Isotope != 0 || a.Charge != 0 || a.AtomMapIndex != 0 || a.NumRadicals != 0 {
		return false
	}
	if a.Element == 0 {
		return a.ImplicitHs == 0
	}
	if !organicSubset[a.Element] || (a.Aromatic && !aromaticOrganic[a.Element]) {
		return false
	}
	allowed := molecule.AllowedValences(a.Element, 0)
	if a.Aromatic {
		// The parser decides whether a bare aromatic atom takes a pi bond
		// from its sigma count alone; the written form must agree.
		sigma := 0
		for _, bi := range w.mol.BondsOf(idx) {
			b := w.mol.Bond(bi)
			if b.Order == molecule.BondAromatic {
				sigma++
			} else {
				sigma += b.ValenceContribution()
			}
		}
		needsPi := sigma+1 <= allowed[0]
		if needsPi != hasPiFromRing(w.mol, idx) {
			return false
		}
	}
	h, err := w.mol.DefaultImplicitHs(idx)
	return err == nil && h == a.ImplicitHs
}

func hasPiFromRing(m *molecule.Molecule, idx int) bool {
	for _, bi := range m.BondsOf(idx) {
		b := m.Bond(bi)
		if b.Order == molecule.BondAromatic && b.Kekule == molecule.BondDouble {
			return true
		}
	}
	return false
}
