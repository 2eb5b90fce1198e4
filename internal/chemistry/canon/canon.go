// Package canon computes canonical atom rankings.
//
// Ranks start from per-atom invariants (element, isotope, degree, hydrogen
// count, charge, aromaticity, ring membership, radicals, atom map) and are
// refined by the sorted multiset of neighbour ranks and bond orders until the
// partition is stable. Remaining ties are broken by promoting the lowest
// original index of the first tied class, then refinement resumes. Class
// order depends only on invariant values, never on input order, so
// isomorphic molecules rank identically up to automorphism.
package canon

import (
	"sort"

	"github.com/turtacn/molcore/internal/domain/molecule"
)

type invariant struct {
	element   int
	isotope   int
	degree    int
	totalHs   int
	charge    int
	aromatic  int
	inRing    int
	radicals  int
	mapNumber int
}

func (a invariant) less(b invariant) bool {
	switch {
	case a.element != b.element:
		return a.element < b.element
	case a.isotope != b.isotope:
		return a.isotope < b.isotope
	case a.degree != b.degree:
		return a.degree < b.degree
	case a.totalHs != b.totalHs:
		return a.totalHs < b.totalHs
	case a.charge != b.charge:
		return a.charge < b.charge
	case a.aromatic != b.aromatic:
		return a.aromatic < b.aromatic
	case a.inRing != b.inRing:
		return a.inRing < b.inRing
	case a.radicals != b.radicals:
		return a.radicals < b.radicals
	default:
		return a.mapNumber < b.mapNumber
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// bondCode keys a bond by its declared order so Kekulé placement never
// affects ranking.
func bondCode(b molecule.Bond) int {
	return int(b.Order)
}

// Ranks returns a canonical rank in [0, n) for every atom. The molecule is
// not modified.
func Ranks(m *molecule.Molecule) []int {
	n := m.NumAtoms()
	if n == 0 {
		return nil
	}
	ring := m.RingAtoms()
	invs := make([]invariant, n)
	for i := 0; i < n; i++ {
		a := m.Atom(i)
		invs[i] = invariant{
			element:   a.Element,
			isotope:   a.Isotope,
			degree:    m.Degree(i),
			totalHs:   m.TotalHs(i),
			charge:    a.Charge,
			aromatic:  boolInt(a.Aromatic),
			inRing:    boolInt(ring[i]),
			radicals:  a.NumRadicals,
			mapNumber: a.AtomMapIndex,
		}
	}
	classes := denseRank(n, func(i, j int) bool { return invs[i].less(invs[j]) })

	neighbors := make([][]neighbor, n)
	for i := 0; i < n; i++ {
		for _, bi := range m.BondsOf(i) {
			b := m.Bond(bi)
			neighbors[i] = append(neighbors[i], neighbor{atom: b.Other(i), bond: bondCode(b)})
		}
	}

	classes = refine(classes, neighbors)
	for {
		tied, chosen := firstTie(classes)
		if tied < 0 {
			break
		}
		// Promote the chosen atom: every other member of its class moves
		// just above it, then refinement propagates the split.
		broken := make([]int, n)
		for i, c := range classes {
			broken[i] = 2 * c
			if c == tied && i != chosen {
				broken[i]++
			}
		}
		classes = refine(denseRank(n, func(i, j int) bool { return broken[i] < broken[j] }), neighbors)
	}
	return classes
}

type neighbor struct {
	atom int
	bond int
}

// refine iterates neighbourhood refinement until the class count stops
// growing. Each pass sorts by (old class, sorted neighbour signature), so
// the new partition always refines the old one and keeps its order.
func refine(classes []int, neighbors [][]neighbor) []int {
	n := len(classes)
	count := numClasses(classes)
	for count < n {
		sigs := make([][]int, n)
		for i := 0; i < n; i++ {
			sig := make([]int, len(neighbors[i]))
			for k, nb := range neighbors[i] {
				sig[k] = classes[nb.atom]*8 + nb.bond
			}
			sort.Ints(sig)
			sigs[i] = sig
		}
		next := denseRank(n, func(i, j int) bool {
			if classes[i] != classes[j] {
				return classes[i] < classes[j]
			}
			return lessInts(sigs[i], sigs[j])
		})
		nextCount := numClasses(next)
		if nextCount == count {
			break
		}
		classes, count = next, nextCount
	}
	return classes
}

// denseRank sorts indices with less and assigns each run of equal elements
// the position of its first member, so ranks are in [0, n).
func denseRank(n int, less func(i, j int) bool) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return less(order[a], order[b]) })
	ranks := make([]int, n)
	for k := 0; k < n; k++ {
		if k > 0 && !less(order[k-1], order[k]) {
			ranks[order[k]] = ranks[order[k-1]]
			continue
		}
		ranks[order[k]] = k
	}
	return ranks
}

func numClasses(classes []int) int {
	seen := make(map[int]struct{}, len(classes))
	for _, c := range classes {
		seen[c] = struct{}{}
	}
	return len(seen)
}

// firstTie returns the lowest class shared by more than one atom and that
// class's lowest-index member, or -1 when all classes are singletons.
func firstTie(classes []int) (int, int) {
	size := make(map[int]int, len(classes))
	for _, c := range classes {
		size[c]++
	}
	tied := -1
	for c, s := range size {
		if s > 1 && (tied < 0 || c < tied) {
			tied = c
		}
	}
	if tied < 0 {
		return -1, -1
	}
	for i, c := range classes {
		if c == tied {
			return tied, i
		}
	}
	return -1, -1
}

func lessInts(a, b []int) bool {
	for k := 0; k < len(a) && k < len(b); k++ {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return len(a) < len(b)
}

// Order returns atom indices sorted by canonical rank.
func Order(m *molecule.Molecule) []int {
	ranks := Ranks(m)
	order := make([]int, len(ranks))
	for atom, r := range ranks {
		order[r] = atom
	}
	return order
}
