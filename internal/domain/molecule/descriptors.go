package molecule

// Descriptors are whole-molecule counts and ratios. Hydrogen counts include
// implicit hydrogens; rings are the smallest cycles from Rings.
type Descriptors struct {
	AMW               float64 `json:"amw"`
	NumAtoms          int     `json:"NumAtoms"`
	NumHeavyAtoms     int     `json:"NumHeavyAtoms"`
	NumHeteroatoms    int     `json:"NumHeteroatoms"`
	NumRotatableBonds int     `json:"NumRotatableBonds"`
	NumHBD            int     `json:"NumHBD"`
	NumHBA            int     `json:"NumHBA"`
	LipinskiHBD       int     `json:"lipinskiHBD"`
	LipinskiHBA       int     `json:"lipinskiHBA"`
	NumRings          int     `json:"NumRings"`
	NumAromaticRings  int     `json:"NumAromaticRings"`
	NumAliphaticRings int     `json:"NumAliphaticRings"`
	FractionCSP3      float64 `json:"FractionCSP3"`
}

// Map keys each descriptor by its JSON name.
func (d *Descriptors) Map() map[string]float64 {
	return map[string]float64{
		"amw":               d.AMW,
		"NumAtoms":          float64(d.NumAtoms),
		"NumHeavyAtoms":     float64(d.NumHeavyAtoms),
		"NumHeteroatoms":    float64(d.NumHeteroatoms),
		"NumRotatableBonds": float64(d.NumRotatableBonds),
		"NumHBD":            float64(d.NumHBD),
		"NumHBA":            float64(d.NumHBA),
		"lipinskiHBD":       float64(d.LipinskiHBD),
		"lipinskiHBA":       float64(d.LipinskiHBA),
		"NumRings":          float64(d.NumRings),
		"NumAromaticRings":  float64(d.NumAromaticRings),
		"NumAliphaticRings": float64(d.NumAliphaticRings),
		"FractionCSP3":      d.FractionCSP3,
	}
}

// ComputeDescriptors summarizes m.
func (m *Molecule) ComputeDescriptors() *Descriptors {
	d := &Descriptors{
		AMW:           m.MolecularWeight(),
		NumHeavyAtoms: m.NumHeavyAtoms(),
	}
	for _, a := range m.atoms {
		d.NumAtoms += 1 + a.ImplicitHs
	}

	ringBonds := m.RingBonds()
	carbons, sp3 := 0, 0
	for i, a := range m.atoms {
		switch a.Element {
		case 1:
			continue
		case 6:
			carbons++
			if m.saturated(i) {
				sp3++
			}
		default:
			d.NumHeteroatoms++
		}
		if a.Element != 7 && a.Element != 8 {
			continue
		}
		hs := m.TotalHs(i)
		d.LipinskiHBA++
		d.LipinskiHBD += hs
		if hs > 0 {
			d.NumHBD++
		}
		// Cationic centres and pyrrole-type nitrogens have no free lone pair.
		if a.Charge <= 0 && !(a.Element == 7 && a.Aromatic && hs > 0) {
			d.NumHBA++
		}
	}
	if carbons > 0 {
		d.FractionCSP3 = float64(sp3) / float64(carbons)
	}

	for bi, b := range m.bonds {
		if m.rotatable(b, ringBonds[bi]) {
			d.NumRotatableBonds++
		}
	}

	rings := m.Rings()
	d.NumRings = len(rings)
	for _, ring := range rings {
		aromatic := true
		for _, at := range ring {
			if !m.atoms[at].Aromatic {
				aromatic = false
				break
			}
		}
		if aromatic {
			d.NumAromaticRings++
		}
	}
	d.NumAliphaticRings = d.NumRings - d.NumAromaticRings
	return d
}

// rotatable is a single, acyclic bond between two heavy atoms that each
// have another heavy neighbour, neither of them part of a triple bond.
func (m *Molecule) rotatable(b Bond, inRing bool) bool {
	if b.Order != BondSingle || inRing {
		return false
	}
	for _, at := range []int{b.Begin, b.End} {
		if m.atoms[at].IsHydrogen() || m.HeavyDegree(at) < 2 || m.hasOrder(at, BondTriple) {
			return false
		}
	}
	return true
}

// saturated reports whether every bond on atom idx is single.
func (m *Molecule) saturated(idx int) bool {
	for _, bi := range m.adj[idx] {
		if m.bonds[bi].Order != BondSingle {
			return false
		}
	}
	return true
}

func (m *Molecule) hasOrder(idx int, order BondOrder) bool {
	for _, bi := range m.adj[idx] {
		if m.bonds[bi].Order == order {
			return true
		}
	}
	return false
}
