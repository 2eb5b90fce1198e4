package molecule

import (
	"fmt"
	"sort"
	"strings"
)

// Formula returns the molecular formula in Hill order, counting implicit
// hydrogens. Carbon comes first and hydrogen second when carbon is present;
// otherwise all elements are alphabetical. A net charge is appended as
// "+", "-", "+2" and so on.
func (m *Molecule) Formula() string {
	counts := make(map[string]int)
	charge := 0
	for _, a := range m.atoms {
		counts[a.Symbol()]++
		if a.ImplicitHs > 0 {
			counts["H"] += a.ImplicitHs
		}
		charge += a.Charge
	}

	var keys []string
	for sym := range counts {
		keys = append(keys, sym)
	}
	sort.Strings(keys)

	var sb strings.Builder
	write := func(sym string) {
		n := counts[sym]
		if n == 0 {
			return
		}
		sb.WriteString(sym)
		if n > 1 {
			fmt.Fprintf(&sb, "%d", n)
		}
	}
	if counts["C"] > 0 {
		write("C")
		write("H")
		for _, sym := range keys {
			if sym != "C" && sym != "H" {
				write(sym)
			}
		}
	} else {
		for _, sym := range keys {
			write(sym)
		}
	}

	switch {
	case charge == 1:
		sb.WriteString("+")
	case charge == -1:
		sb.WriteString("-")
	case charge > 1:
		fmt.Fprintf(&sb, "+%d", charge)
	case charge < -1:
		fmt.Fprintf(&sb, "%d", charge)
	}
	return sb.String()
}

// MolecularWeight sums average atomic masses including implicit hydrogens.
// Elements without a tabulated mass contribute nothing.
func (m *Molecule) MolecularWeight() float64 {
	w := 0.0
	for _, a := range m.atoms {
		w += AtomicMass(a.Element)
		w += float64(a.ImplicitHs) * AtomicMass(1)
	}
	return w
}
