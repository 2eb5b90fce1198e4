package molecule

import (
	"fmt"
	"strings"

	"github.com/turtacn/molcore/pkg/errors"
)

// kekulizeStepLimit bounds the backtracking search in Kekulize.
const kekulizeStepLimit = 200000

// MaxHydrogensPerAtom is the most hydrogens any reader accepts on one atom.
// Elements without a valence table are otherwise unbounded.
const MaxHydrogensPerAtom = 16

// ValenceError reports an atom whose bonds exceed every allowed valence.
type ValenceError struct {
	Atom    int
	Symbol  string
	Charge  int
	Valence int
	Allowed []int
}

func (e *ValenceError) Error() string {
	return fmt.Sprintf("explicit valence %d for atom %d %s (charge %d) is greater than permitted %v",
		e.Valence, e.Atom, e.Symbol, e.Charge, e.Allowed)
}

func newValenceError(m *Molecule, idx, valence int, allowed []int) *errors.AppError {
	a := m.atoms[idx]
	ve := &ValenceError{Atom: idx, Symbol: a.Symbol(), Charge: a.Charge, Valence: valence, Allowed: allowed}
	return errors.New(errors.CodeValence, ve.Error()).WithCause(ve)
}

// DefaultImplicitHs computes the hydrogen count atom idx would carry under
// default valence rules: the gap between its occupied valence and the
// smallest allowed valence at or above it. Aromatic bonds must already be
// kekulized. It fails with a ValenceError when no allowed valence fits.
func (m *Molecule) DefaultImplicitHs(idx int) (int, error) {
	a := m.atoms[idx]
	allowed := AllowedValences(a.Element, a.Charge)
	v := m.ExplicitValence(idx) + a.NumRadicals
	if len(allowed) == 0 {
		return 0, nil
	}
	for _, target := range allowed {
		if target >= v {
			return target - v, nil
		}
	}
	return 0, newValenceError(m, idx, v, allowed)
}

// CheckValence fails when atom idx's occupied valence, including pinned
// hydrogens, exceeds the largest allowed valence.
func (m *Molecule) CheckValence(idx int) error {
	a := m.atoms[idx]
	allowed := AllowedValences(a.Element, a.Charge)
	if len(allowed) == 0 {
		return nil
	}
	v := m.ExplicitValence(idx) + a.NumRadicals + a.ImplicitHs
	if v > allowed[len(allowed)-1] {
		return newValenceError(m, idx, v, allowed)
	}
	return nil
}

// UpdateImplicitHs recomputes ImplicitHs for every atom without a pinned
// count and verifies every atom's valence. When strict is false a valence
// violation leaves the atom with zero implicit hydrogens instead of failing.
func (m *Molecule) UpdateImplicitHs(strict bool) error {
	for i := range m.atoms {
		if !m.atoms[i].NoImplicit {
			h, err := m.DefaultImplicitHs(i)
			if err != nil {
				if strict {
					return err
				}
				h = 0
			}
			m.atoms[i].ImplicitHs = h
		}
		if strict {
			if err := m.CheckValence(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// needsPiBond reports whether an aromatic atom must take a double bond in
// the Kekulé structure. Only the lowest allowed valence is considered, so
// pyrrole-type nitrogens and furan/thiophene heteroatoms donate a lone pair
// instead.
func (m *Molecule) needsPiBond(idx int) bool {
	a := m.atoms[idx]
	allowed := AllowedValences(a.Element, a.Charge)
	if len(allowed) == 0 {
		return false
	}
	sigma := a.NumRadicals
	if a.NoImplicit {
		sigma += a.ImplicitHs
	}
	for _, bi := range m.adj[idx] {
		b := m.bonds[bi]
		if b.Order == BondAromatic {
			sigma++
		} else {
			sigma += b.ValenceContribution()
		}
	}
	return sigma+1 <= allowed[0]
}

// Kekulize assigns alternating single/double Kekulé orders to the aromatic
// bonds so that every aromatic atom needing a pi bond gets exactly one.
// The molecule is modified in place; callers pass a clone.
func (m *Molecule) Kekulize() error {
	hasAromatic := false
	for i := range m.bonds {
		if m.bonds[i].Order == BondAromatic {
			hasAromatic = true
			m.bonds[i].Kekule = BondSingle
		}
	}
	if !hasAromatic {
		return nil
	}

	needs := make([]bool, len(m.atoms))
	var pending []int
	for i := range m.atoms {
		aromaticBonds := 0
		for _, bi := range m.adj[i] {
			if m.bonds[bi].Order == BondAromatic {
				aromaticBonds++
			}
		}
		if aromaticBonds > 0 && m.needsPiBond(i) {
			needs[i] = true
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	matched := make([]int, len(m.atoms)) // bond index or -1
	for i := range matched {
		matched[i] = -1
	}
	steps := 0

	options := func(atom int) []int {
		var out []int
		for _, bi := range m.adj[atom] {
			b := m.bonds[bi]
			if b.Order != BondAromatic {
				continue
			}
			other := b.Other(atom)
			if needs[other] && matched[other] < 0 {
				out = append(out, bi)
			}
		}
		return out
	}

	var solve func() bool
	solve = func() bool {
		steps++
		if steps > kekulizeStepLimit {
			return false
		}
		best, bestOpts := -1, []int(nil)
		for _, atom := range pending {
			if matched[atom] >= 0 {
				continue
			}
			opts := options(atom)
			if len(opts) == 0 {
				return false
			}
			if best < 0 || len(opts) < len(bestOpts) {
				best, bestOpts = atom, opts
			}
		}
		if best < 0 {
			return true
		}
		for _, bi := range bestOpts {
			other := m.bonds[bi].Other(best)
			matched[best], matched[other] = bi, bi
			if solve() {
				return true
			}
			matched[best], matched[other] = -1, -1
		}
		return false
	}

	if !solve() {
		ids := make([]string, len(pending))
		for i, atom := range pending {
			ids[i] = fmt.Sprint(atom)
		}
		return errors.New(errors.CodeParse, "cannot kekulize aromatic system").
			WithDetail("aromatic atoms: " + strings.Join(ids, ","))
	}
	for _, atom := range pending {
		if bi := matched[atom]; bi >= 0 {
			m.bonds[bi].Kekule = BondDouble
		}
	}
	return nil
}

// Kekulized reports whether every aromatic atom that needs a pi bond has one
// in the current Kekulé assignment. It is false after a failed Kekulize.
func (m *Molecule) Kekulized() bool {
	for i := range m.atoms {
		if !m.atoms[i].Aromatic || !m.needsPiBond(i) {
			continue
		}
		ok := false
		for _, bi := range m.adj[i] {
			if b := m.bonds[bi]; b.Order == BondAromatic && b.Kekule == BondDouble {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
