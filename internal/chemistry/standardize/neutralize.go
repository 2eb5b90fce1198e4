// Package standardize rewrites molecules into a preferred form without
// changing their connectivity.
package standardize

import (
	"github.com/turtacn/molcore/internal/domain/molecule"
)

// Neutralize returns a copy of m with ionized sites neutralized by moving
// hydrogens:
//
//   - a cation that carries hydrogens gives them up, e.g. [NH3+] becomes N;
//   - an anion takes hydrogens, e.g. C(=O)[O-] becomes C(=O)O.
//
// Anions bonded to a cation stay charged, so nitro groups and N-oxides keep
// their charge separation. Cations without hydrogens, such as quaternary
// ammonium or metal ions, stay charged and keep an equal amount of anionic
// charge as counter ions. An atom is only changed when the neutral form
// has an allowed valence.
func Neutralize(m *molecule.Molecule) *molecule.Molecule {
	out := m.Clone()
	n := out.NumAtoms()
	drop := make([]bool, n)
	var changed []int

	for i := 0; i < n; i++ {
		a := out.Atom(i)
		if a.Charge <= 0 || a.IsHydrogen() {
			continue
		}
		hs := out.TotalHs(i)
		if hs < a.Charge || !neutralValence(out, i, hs-a.Charge) {
			continue
		}
		removeHs(out, i, a.Charge, drop)
		changed = append(changed, i)
	}

	// Cationic charge left after the first pass needs counter ions.
	keep := 0
	for i := 0; i < n; i++ {
		if a := out.Atom(i); a.Charge > 0 && !drop[i] {
			keep += a.Charge
		}
	}
	for i := 0; i < n; i++ {
		a := out.Atom(i)
		if a.Charge >= 0 || drop[i] {
			continue
		}
		if bondedToCation(out, i) {
			keep += a.Charge
			continue
		}
		if keep > 0 {
			keep += a.Charge
			continue
		}
		hs := out.TotalHs(i) - a.Charge
		if hs > molecule.MaxHydrogensPerAtom || !neutralValence(out, i, hs) {
			continue
		}
		a.ImplicitHs -= a.Charge
		a.Charge = 0
		out.SetAtom(i, a)
		changed = append(changed, i)
	}

	out, mapping := out.Subset(func(idx int, _ molecule.Atom) bool { return !drop[idx] })
	for _, i := range changed {
		pinHydrogens(out, mapping[i])
	}
	return out
}

// neutralValence reports whether atom idx, uncharged and carrying hs
// hydrogens, has an allowed valence.
func neutralValence(m *molecule.Molecule, idx, hs int) bool {
	a := m.Atom(idx)
	allowed := molecule.AllowedValences(a.Element, 0)
	if len(allowed) == 0 {
		return false
	}
	explicit := 0
	for _, bi := range m.BondsOf(idx) {
		b := m.Bond(bi)
		if !m.Atom(b.Other(idx)).IsHydrogen() {
			explicit += b.ValenceContribution()
		}
	}
	v := explicit + hs + a.NumRadicals
	for _, target := range allowed {
		if target == v {
			return true
		}
	}
	return false
}

// removeHs clears the charge on atom idx and strips count hydrogens,
// implicit ones first, then marks explicit hydrogen neighbours to drop.
func removeHs(m *molecule.Molecule, idx, count int, drop []bool) {
	a := m.Atom(idx)
	take := min(count, a.ImplicitHs)
	a.ImplicitHs -= take
	count -= take
	a.Charge = 0
	m.SetAtom(idx, a)
	for _, nb := range m.Neighbors(idx) {
		if count == 0 {
			break
		}
		if m.Atom(nb).IsHydrogen() && m.Degree(nb) == 1 && !drop[nb] {
			drop[nb] = true
			count--
		}
	}
}

func bondedToCation(m *molecule.Molecule, idx int) bool {
	for _, nb := range m.Neighbors(idx) {
		if m.Atom(nb).Charge > 0 {
			return true
		}
	}
	return false
}

// pinHydrogens fixes the implicit count when default valence rules would
// not reproduce it.
func pinHydrogens(m *molecule.Molecule, idx int) {
	a := m.Atom(idx)
	h, err := m.DefaultImplicitHs(idx)
	a.NoImplicit = err != nil || h != a.ImplicitHs
	m.SetAtom(idx, a)
}
