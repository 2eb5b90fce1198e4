// Package embed generates 3D coordinates for a molecule.
//
// Targets come from covalent radii: bonded pairs sit at the scaled radius
// sum, 1-3 pairs at the distance implied by the central atom's
// hybridization angle, and every other pair is pushed beyond a soft lower
// bound. Positions start from a seeded random cloud and are relaxed by
// projecting each violated constraint in turn. A final pass enforces bond
// lengths and clearances alone, then the result is validated. Failed
// attempts are retried with derived seeds.
package embed

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

const (
	// BondTolerance is the largest accepted deviation, in Angstrom, between
	// a bond's length and its target.
	BondTolerance = 0.1
	// ClashFactor scales the radius sum that non-bonded pairs must exceed.
	ClashFactor = 0.9

	defaultMaxIterations = 2000
	defaultMaxAttempts   = 10
	polishIterations     = 500
	seedStride           = 1000003

	heavyLowerBound    = 2.5
	mixedLowerBound    = 2.2
	hydrogenLowerBound = 1.8
)

// Options controls embedding.
type Options struct {
	// RandomSeed fixes the random stream. A negative seed draws one from
	// the clock.
	RandomSeed int64
	// MaxIterations bounds relaxation sweeps per attempt.
	MaxIterations int
	// MaxAttempts bounds the number of seeds tried.
	MaxAttempts int
}

// DefaultOptions returns unseeded options with default bounds.
func DefaultOptions() Options {
	return Options{RandomSeed: -1, MaxIterations: defaultMaxIterations, MaxAttempts: defaultMaxAttempts}
}

func (o Options) normalized() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RandomSeed < 0 {
		o.RandomSeed = time.Now().UnixNano() & math.MaxInt32
	}
	return o
}

// Report describes a finished embedding.
type Report struct {
	Seed     int64
	Attempts int
}

type kind int

const (
	kindBond kind = iota
	kindAngle
	kindLower
)

type constraint struct {
	i, j   int
	target float64
	kind   kind
}

// Embed returns a copy of m with a 3D conformer. The result depends only on
// the structure and opts.RandomSeed.
func Embed(m *molecule.Molecule, opts Options) (*molecule.Molecule, error) {
	out, _, err := EmbedWithReport(m, opts)
	return out, err
}

// EmbedWithReport is Embed that also reports the seed and the number of
// attempts used.
func EmbedWithReport(m *molecule.Molecule, opts Options) (*molecule.Molecule, Report, error) {
	opts = opts.normalized()
	report := Report{Seed: opts.RandomSeed}
	n := m.NumAtoms()
	if n == 0 {
		return nil, report, errors.New(errors.CodeEmbedFailure, "molecule has no atoms")
	}

	cons := buildConstraints(m)
	var lastErr string
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		report.Attempts = attempt + 1
		seed := opts.RandomSeed + int64(attempt)*seedStride
		pos := relax(m, cons, rand.New(rand.NewSource(seed)), opts.MaxIterations)
		if msg := Validate(m, pos); msg != "" {
			lastErr = msg
			continue
		}
		center(pos)
		out := m.Clone()
		if err := out.SetConformer(&molecule.Conformer{Positions: pos, Is3D: true}); err != nil {
			return nil, report, err
		}
		return out, report, nil
	}
	return nil, report, errors.New(errors.CodeEmbedFailure, "could not embed molecule").
		WithDetail(fmt.Sprintf("attempts=%d seed=%d: %s", opts.MaxAttempts, opts.RandomSeed, lastErr))
}

// BondTarget is the ideal length of bond b in Angstrom.
func BondTarget(m *molecule.Molecule, b molecule.Bond) float64 {
	sum := molecule.CovalentRadius(m.Atom(b.Begin).Element) + molecule.CovalentRadius(m.Atom(b.End).Element)
	switch b.Order {
	case molecule.BondDouble:
		return sum * 0.87
	case molecule.BondTriple:
		return sum * 0.78
	case molecule.BondAromatic:
		return sum * 0.915
	default:
		return sum
	}
}

// bondAngle picks the ideal angle around atom idx from its bonds.
func bondAngle(m *molecule.Molecule, idx int) float64 {
	doubles, triples, aromatic := 0, 0, 0
	for _, bi := range m.BondsOf(idx) {
		switch m.Bond(bi).Order {
		case molecule.BondDouble:
			doubles++
		case molecule.BondTriple:
			triples++
		case molecule.BondAromatic:
			aromatic++
		}
	}
	degree := m.Degree(idx)
	switch {
	case degree > 4:
		return 90
	case degree <= 2 && (triples > 0 || doubles >= 2):
		return 180
	case degree <= 3 && (doubles > 0 || aromatic > 0):
		return 120
	default:
		return 109.47
	}
}

func lowerBound(m *molecule.Molecule, i, j int) float64 {
	hi, hj := m.Atom(i).IsHydrogen(), m.Atom(j).IsHydrogen()
	switch {
	case hi && hj:
		return hydrogenLowerBound
	case hi || hj:
		return mixedLowerBound
	default:
		return heavyLowerBound
	}
}

func pairKey(i, j int) [2]int {
	if i > j {
		i, j = j, i
	}
	return [2]int{i, j}
}

func buildConstraints(m *molecule.Molecule) []constraint {
	n := m.NumAtoms()
	var cons []constraint
	bonded := make(map[[2]int]float64, m.NumBonds())
	for bi := 0; bi < m.NumBonds(); bi++ {
		b := m.Bond(bi)
		t := BondTarget(m, b)
		bonded[pairKey(b.Begin, b.End)] = t
		cons = append(cons, constraint{i: b.Begin, j: b.End, target: t, kind: kindBond})
	}

	angled := make(map[[2]int]bool)
	for center := 0; center < n; center++ {
		nbs := m.Neighbors(center)
		theta := bondAngle(m, center) * math.Pi / 180
		for x := 0; x < len(nbs); x++ {
			for y := x + 1; y < len(nbs); y++ {
				i, k := nbs[x], nbs[y]
				key := pairKey(i, k)
				if _, ok := bonded[key]; ok || angled[key] {
					continue
				}
				angled[key] = true
				dij, dkj := bonded[pairKey(i, center)], bonded[pairKey(k, center)]
				t := math.Sqrt(dij*dij + dkj*dkj - 2*dij*dkj*math.Cos(theta))
				cons = append(cons, constraint{i: i, j: k, target: t, kind: kindAngle})
			}
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			key := pairKey(i, j)
			if _, ok := bonded[key]; ok || angled[key] {
				continue
			}
			cons = append(cons, constraint{i: i, j: j, target: lowerBound(m, i, j), kind: kindLower})
		}
	}
	return cons
}

func relax(m *molecule.Molecule, cons []constraint, rng *rand.Rand, iterations int) []molecule.Point3 {
	n := m.NumAtoms()
	box := 2.0 * math.Cbrt(float64(n))
	pos := make([]molecule.Point3, n)
	for i := range pos {
		pos[i] = molecule.Point3{
			X: (rng.Float64() - 0.5) * box,
			Y: (rng.Float64() - 0.5) * box,
			Z: (rng.Float64() - 0.5) * box,
		}
	}

	for it := 0; it < iterations; it++ {
		worst := 0.0
		for _, c := range cons {
			var weight float64
			switch c.kind {
			case kindBond:
				weight = 1.0
			case kindAngle:
				weight = 0.5
			default:
				weight = 0.3
			}
			if v := project(pos, c, weight, rng); v > worst {
				worst = v
			}
		}
		if worst < 0.01 {
			break
		}
	}

	// Polish: bond lengths and clearances only.
	for it := 0; it < polishIterations; it++ {
		worst := 0.0
		for _, c := range cons {
			switch c.kind {
			case kindBond:
				if v := project(pos, c, 1.0, rng); v > worst {
					worst = v
				}
			case kindLower, kindAngle:
				clear := constraint{i: c.i, j: c.j, kind: kindLower, target: clearance(m, c.i, c.j) * 1.05}
				if v := project(pos, clear, 1.0, rng); v > worst {
					worst = v
				}
			}
		}
		if worst < BondTolerance/10 {
			break
		}
	}
	return pos
}

// project moves atoms c.i and c.j symmetrically toward satisfying c and
// returns the violation before the move.
func project(pos []molecule.Point3, c constraint, weight float64, rng *rand.Rand) float64 {
	d := pos[c.j].Sub(pos[c.i])
	dist := d.Norm()
	if dist < 1e-8 {
		d = molecule.Point3{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5, Z: rng.Float64() - 0.5}
		dist = d.Norm()
		if dist < 1e-8 {
			d, dist = molecule.Point3{X: 1}, 1
		}
		pos[c.j] = pos[c.i].Add(d.Scale(1e-3 / dist))
		d = d.Scale(1e-3 / dist)
		dist = 1e-3
	}
	if c.kind == kindLower && dist >= c.target {
		return 0
	}
	diff := dist - c.target
	shift := d.Scale(0.5 * weight * diff / dist)
	pos[c.i] = pos[c.i].Add(shift)
	pos[c.j] = pos[c.j].Sub(shift)
	return math.Abs(diff)
}

func clearance(m *molecule.Molecule, i, j int) float64 {
	return ClashFactor * (molecule.CovalentRadius(m.Atom(i).Element) + molecule.CovalentRadius(m.Atom(j).Element))
}

// Validate checks pos against the bond and clash criteria and returns a
// description of the first violation, or "" when pos is acceptable.
func Validate(m *molecule.Molecule, pos []molecule.Point3) string {
	if len(pos) != m.NumAtoms() {
		return fmt.Sprintf("conformer has %d positions for %d atoms", len(pos), m.NumAtoms())
	}
	bonded := make(map[[2]int]bool, m.NumBonds())
	for bi := 0; bi < m.NumBonds(); bi++ {
		b := m.Bond(bi)
		bonded[pairKey(b.Begin, b.End)] = true
		d := pos[b.Begin].Distance(pos[b.End])
		if t := BondTarget(m, b); math.Abs(d-t) > BondTolerance {
			return fmt.Sprintf("bond %d-%d length %.3f, target %.3f", b.Begin, b.End, d, t)
		}
	}
	for i := range pos {
		for j := i + 1; j < len(pos); j++ {
			if bonded[pairKey(i, j)] {
				continue
			}
			if d, limit := pos[i].Distance(pos[j]), clearance(m, i, j); d < limit {
				return fmt.Sprintf("atoms %d and %d clash at %.3f (minimum %.3f)", i, j, d, limit)
			}
		}
	}
	return ""
}

func center(pos []molecule.Point3) {
	var c molecule.Point3
	for _, p := range pos {
		c = c.Add(p)
	}
	c = c.Scale(1 / float64(len(pos)))
	for i := range pos {
		pos[i] = pos[i].Sub(c)
	}
}
