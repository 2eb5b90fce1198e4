// Package depict computes 2D coordinates for molecules that carry no
// conformer, so molblocks can be drawn.
//
// Chains zigzag at 120 degrees, starting at +30 degrees from the first
// atom. Rings are regular polygons; a ring fused to one already drawn shares
// the common edge and is drawn on its far side. Disconnected fragments are
// laid out left to right. The layout depends only on atom and bond order.
package depict

import (
	"math"
	"sort"

	"github.com/turtacn/molcore/internal/domain/molecule"
)

// BondLength is the drawn length of every bond.
const BondLength = 1.5

// fragmentGap separates fragments along x.
const fragmentGap = 2 * BondLength

type layout struct {
	mol      *molecule.Molecule
	pos      []molecule.Point3
	placed   []bool
	turn     []float64
	ringBond []bool
	ringsOf  [][][]int
}

// Compute2D returns a 2D conformer for m. m is not modified.
func Compute2D(m *molecule.Molecule) *molecule.Conformer {
	n := m.NumAtoms()
	l := &layout{
		mol:      m,
		pos:      make([]molecule.Point3, n),
		placed:   make([]bool, n),
		turn:     make([]float64, n),
		ringBond: m.RingBonds(),
		ringsOf:  make([][][]int, n),
	}
	for _, ring := range m.Rings() {
		for _, at := range ring {
			l.ringsOf[at] = append(l.ringsOf[at], ring)
		}
	}

	right := 0.0
	first := true
	for root := 0; root < n; root++ {
		if l.placed[root] {
			continue
		}
		members := l.fragment(root)
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, at := range members {
			lo = math.Min(lo, l.pos[at].X)
			hi = math.Max(hi, l.pos[at].X)
		}
		if !first {
			dx := right + fragmentGap - lo
			for _, at := range members {
				l.pos[at].X += dx
			}
			hi += dx
		}
		right, first = hi, false
	}
	return &molecule.Conformer{Positions: l.pos}
}

// fragment lays out the connected fragment containing root breadth first.
func (l *layout) fragment(root int) []int {
	l.put(root, molecule.Point3{}, -1)
	queue := []int{root}
	var members []int
	for len(queue) > 0 {
		at := queue[0]
		queue = queue[1:]
		members = append(members, at)
		queue = append(queue, l.placeRings(at)...)
		queue = append(queue, l.placeChain(at)...)
	}
	return members
}

func (l *layout) put(at int, p molecule.Point3, turn float64) {
	l.pos[at] = p
	l.placed[at] = true
	l.turn[at] = turn
}

// placeRings draws every ring reached from at through an unplaced ring
// neighbour.
func (l *layout) placeRings(at int) []int {
	var added []int
	for _, bi := range l.mol.BondsOf(at) {
		if !l.ringBond[bi] {
			continue
		}
		nb := l.mol.Bond(bi).Other(at)
		if l.placed[nb] {
			continue
		}
		if ring := l.pickRing(at, nb); ring != nil {
			added = append(added, l.placeRing(ring)...)
		}
	}
	return added
}

// pickRing prefers the ring through bond a-b with the most atoms already
// drawn, then the smallest.
func (l *layout) pickRing(a, b int) []int {
	var best []int
	bestPlaced := -1
	for _, ring := range l.ringsOf[a] {
		if !adjacentIn(ring, a, b) {
			continue
		}
		placed := 0
		for _, at := range ring {
			if l.placed[at] {
				placed++
			}
		}
		if placed > bestPlaced || (placed == bestPlaced && len(ring) < len(best)) {
			best, bestPlaced = ring, placed
		}
	}
	return best
}

func adjacentIn(ring []int, a, b int) bool {
	n := len(ring)
	for i := range ring {
		j := (i + 1) % n
		if (ring[i] == a && ring[j] == b) || (ring[i] == b && ring[j] == a) {
			return true
		}
	}
	return false
}

// placeRing draws ring as a regular polygon around one drawn atom or one
// drawn edge. Bridged rings with more drawn atoms are left to placeChain.
func (l *layout) placeRing(ring []int) []int {
	size := len(ring)
	var fixed []int
	for i, at := range ring {
		if l.placed[at] {
			fixed = append(fixed, i)
		}
	}

	var (
		center molecule.Point3
		radius = BondLength / (2 * math.Sin(math.Pi/float64(size)))
		start  int
		step   = 2 * math.Pi / float64(size)
	)
	switch {
	case len(fixed) == 1:
		start = fixed[0]
		anchor := ring[start]
		dir := math.Pi / 6
		if drawn := l.drawnAngles(anchor); len(drawn) > 0 {
			dir = spread(drawn, 1)[0]
		}
		center = l.pos[anchor].Add(unit(dir).Scale(radius))

	case len(fixed) == 2 && (fixed[1]-fixed[0] == 1 || (fixed[0] == 0 && fixed[1] == size-1)):
		i, j := fixed[0], fixed[1]
		if i == 0 && j == size-1 {
			i, j = j, i
		}
		u, v := l.pos[ring[i]], l.pos[ring[j]]
		edge := v.Sub(u)
		half := edge.Norm() / 2
		if half == 0 {
			return nil
		}
		radius = half / math.Sin(math.Pi/float64(size))
		apothem := half / math.Tan(math.Pi/float64(size))
		mid := u.Add(v).Scale(0.5)
		normal := molecule.Point3{X: -edge.Y, Y: edge.X}.Scale(1 / edge.Norm())
		if c, ok := l.drawnNeighbourCentroid(ring[i], ring[j]); ok && dot(normal, c.Sub(mid)) > 0 {
			normal = normal.Scale(-1)
		}
		center = mid.Add(normal.Scale(apothem))
		start = i
		if cross(u.Sub(center), v.Sub(center)) < 0 {
			step = -step
		}

	default:
		return nil
	}

	base := angle(l.pos[ring[start]].Sub(center))
	var added []int
	for k := 1; k < size; k++ {
		at := ring[(start+k)%size]
		if l.placed[at] {
			continue
		}
		a := base + float64(k)*step
		l.put(at, center.Add(unit(a).Scale(radius)), 1)
		added = append(added, at)
	}
	return added
}

// drawnNeighbourCentroid averages the drawn neighbours of u and v other
// than u and v themselves.
func (l *layout) drawnNeighbourCentroid(u, v int) (molecule.Point3, bool) {
	var sum molecule.Point3
	n := 0
	for _, at := range []int{u, v} {
		for _, nb := range l.mol.Neighbors(at) {
			if nb == u || nb == v || !l.placed[nb] {
				continue
			}
			sum = sum.Add(l.pos[nb])
			n++
		}
	}
	if n == 0 {
		return sum, false
	}
	return sum.Scale(1 / float64(n)), true
}

// placeChain draws the remaining undrawn neighbours of at.
func (l *layout) placeChain(at int) []int {
	var children []int
	for _, nb := range l.mol.Neighbors(at) {
		if !l.placed[nb] {
			children = append(children, nb)
		}
	}
	if len(children) == 0 {
		return nil
	}
	angles := l.childAngles(at, len(children))
	for i, nb := range children {
		turn := -l.turn[at]
		if i%2 == 1 {
			turn = -turn
		}
		l.put(nb, l.pos[at].Add(unit(angles[i]).Scale(BondLength)), turn)
	}
	return children
}

// childAngles spreads n new bond directions around at, away from its drawn
// neighbours. A chain continues at 120 degrees, alternating sides.
func (l *layout) childAngles(at, n int) []float64 {
	drawn := l.drawnAngles(at)
	switch {
	case len(drawn) == 0 && n == 2:
		return []float64{math.Pi / 6, 5 * math.Pi / 6}
	case len(drawn) == 0:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Pi/6 + float64(i)*2*math.Pi/float64(n)
		}
		return out
	case len(drawn) == 1 && n == 1 && l.linear(at):
		return []float64{drawn[0] + math.Pi}
	case len(drawn) == 1 && n == 1:
		return []float64{drawn[0] + l.turn[at]*2*math.Pi/3}
	default:
		return spread(drawn, n)
	}
}

func (l *layout) drawnAngles(at int) []float64 {
	var drawn []float64
	for _, nb := range l.mol.Neighbors(at) {
		if l.placed[nb] {
			drawn = append(drawn, angle(l.pos[nb].Sub(l.pos[at])))
		}
	}
	return drawn
}

// spread places n directions evenly inside the widest gap between the
// drawn ones.
func spread(drawn []float64, n int) []float64 {
	sort.Float64s(drawn)
	gapStart, gap := drawn[len(drawn)-1], drawn[0]+2*math.Pi-drawn[len(drawn)-1]
	for i := 1; i < len(drawn); i++ {
		if g := drawn[i] - drawn[i-1]; g > gap {
			gapStart, gap = drawn[i-1], g
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = gapStart + gap*float64(i+1)/float64(n+1)
	}
	return out
}

// linear reports whether at is sp hybridized: a triple bond or two
// double bonds.
func (l *layout) linear(at int) bool {
	doubles := 0
	for _, bi := range l.mol.BondsOf(at) {
		switch l.mol.Bond(bi).Order {
		case molecule.BondTriple:
			return true
		case molecule.BondDouble:
			doubles++
		}
	}
	return doubles >= 2
}

func angle(p molecule.Point3) float64 { return math.Atan2(p.Y, p.X) }

func unit(a float64) molecule.Point3 { return molecule.Point3{X: math.Cos(a), Y: math.Sin(a)} }

func dot(a, b molecule.Point3) float64 { return a.X*b.X + a.Y*b.Y }

func cross(a, b molecule.Point3) float64 { return a.X*b.Y - a.Y*b.X }
