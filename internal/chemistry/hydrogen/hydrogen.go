// Package hydrogen converts between implicit hydrogen counts and explicit
// hydrogen atoms.
package hydrogen

import (
	"math"

	"github.com/turtacn/molcore/internal/domain/molecule"
)

// tetrahedralTilt is the angle between a parent's outward axis and each of
// several hydrogens fanned around it.
const tetrahedralTilt = 180.0 - 109.47

// AddHydrogens returns a copy of m in which every implicit hydrogen is an
// explicit atom joined to its parent by a single bond. Parents end with
// ImplicitHs zero. When m carries a conformer the new atoms are placed at
// bond length from their parent, pointing away from its other neighbours.
//
// Applying AddHydrogens to its own output returns an equal molecule.
func AddHydrogens(m *molecule.Molecule) (*molecule.Molecule, error) {
	n := m.NumAtoms()
	for i := 0; i < n; i++ {
		if err := m.CheckValence(i); err != nil {
			return nil, err
		}
	}

	out := m.Clone()
	conf := out.Conformer()
	for parent := 0; parent < n; parent++ {
		a := out.Atom(parent)
		count := a.ImplicitHs
		if count == 0 {
			continue
		}
		a.ImplicitHs = 0
		out.SetAtom(parent, a)

		var dirs []molecule.Point3
		if conf != nil {
			dirs = hydrogenDirections(out, parent, count)
		}
		bondLength := molecule.CovalentRadius(a.Element) + molecule.CovalentRadius(1)
		for k := 0; k < count; k++ {
			h := out.AddAtom(molecule.Atom{Element: 1})
			if _, err := out.AddBond(parent, h, molecule.BondSingle); err != nil {
				return nil, err
			}
			if conf != nil {
				conf.Positions[h] = conf.Positions[parent].Add(dirs[k].Scale(bondLength))
			}
		}
	}
	return out, nil
}

// hydrogenDirections returns count unit vectors around the outward axis of
// parent: the reverse of the mean direction to its current neighbours.
func hydrogenDirections(m *molecule.Molecule, parent, count int) []molecule.Point3 {
	pos := m.Conformer().Positions
	var axis molecule.Point3
	nbs := m.Neighbors(parent)
	for _, nb := range nbs {
		d := pos[parent].Sub(pos[nb])
		if l := d.Norm(); l > 1e-6 {
			axis = axis.Add(d.Scale(1 / l))
		}
	}
	if axis.Norm() < 1e-6 {
		axis = molecule.Point3{X: 1}
	}
	axis = axis.Scale(1 / axis.Norm())

	if count == 1 {
		return []molecule.Point3{axis}
	}

	u := perpendicular(axis)
	v := cross(axis, u)
	tilt := tetrahedralTilt * math.Pi / 180
	if len(nbs) == 0 {
		// A bare parent spreads its hydrogens over the full sphere.
		tilt = math.Pi / 2
	}
	dirs := make([]molecule.Point3, count)
	for k := 0; k < count; k++ {
		phi := 2 * math.Pi * float64(k) / float64(count)
		side := u.Scale(math.Cos(phi)).Add(v.Scale(math.Sin(phi)))
		dirs[k] = axis.Scale(math.Cos(tilt)).Add(side.Scale(math.Sin(tilt)))
	}
	return dirs
}

func perpendicular(a molecule.Point3) molecule.Point3 {
	ref := molecule.Point3{Z: 1}
	if math.Abs(a.Z) > 0.9 {
		ref = molecule.Point3{Y: 1}
	}
	p := cross(a, ref)
	return p.Scale(1 / p.Norm())
}

func cross(a, b molecule.Point3) molecule.Point3 {
	return molecule.Point3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

// RemoveOptions selects which explicit hydrogens RemoveHydrogens folds back.
type RemoveOptions struct {
	// All also removes isotopic, charged and atom-mapped hydrogens.
	All bool
}

// RemoveHydrogens returns a copy of m without its removable hydrogen atoms,
// adding each one to its parent's implicit count. A hydrogen is removable
// when it has exactly one neighbour, that neighbour is not hydrogen and the
// bond is single. Unless opts.All is set, hydrogens with an isotope, a
// charge or an atom map number are kept.
func RemoveHydrogens(m *molecule.Molecule, opts RemoveOptions) *molecule.Molecule {
	n := m.NumAtoms()
	remove := make([]bool, n)
	gained := make([]int, n)
	for i := 0; i < n; i++ {
		a := m.Atom(i)
		if !a.IsHydrogen() || m.Degree(i) != 1 {
			continue
		}
		if !opts.All && (a.Isotope != 0 || a.Charge != 0 || a.AtomMapIndex != 0) {
			continue
		}
		b := m.Bond(m.BondsOf(i)[0])
		parent := b.Other(i)
		if m.Atom(parent).IsHydrogen() || b.Order != molecule.BondSingle {
			continue
		}
		remove[i] = true
		gained[parent]++
	}

	out, mapping := m.Subset(func(idx int, _ molecule.Atom) bool { return !remove[idx] })
	for old, extra := range gained {
		if extra == 0 {
			continue
		}
		idx := mapping[old]
		a := out.Atom(idx)
		a.ImplicitHs += extra
		out.SetAtom(idx, a)
		if h, err := out.DefaultImplicitHs(idx); err != nil || h != a.ImplicitHs {
			a.NoImplicit = true
			out.SetAtom(idx, a)
		}
	}
	return out
}
