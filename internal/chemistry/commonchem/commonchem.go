// Package commonchem encodes molecules in the CommonChem JSON interchange
// format. Bonds carry their Kekulé orders; aromatic atoms and bonds are
// recorded in a representation extension so a reader restores them.
package commonchem

import (
	"encoding/json"
	"fmt"

	"github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

const (
	// FormatVersion is the commonchem version written and accepted.
	FormatVersion = 10
	// ExtensionName identifies the aromaticity extension block.
	ExtensionName = "molcoreRepresentation"

	extensionFormatVersion = 1
)

// Document is the top-level JSON object.
type Document struct {
	CommonChem struct {
		Version int `json:"version"`
	} `json:"commonchem"`
	Defaults  *Defaults       `json:"defaults,omitempty"`
	Molecules []MoleculeEntry `json:"molecules"`
}

// Defaults holds the values omitted from individual atoms and bonds.
type Defaults struct {
	Atom AtomDefaults `json:"atom"`
	Bond BondDefaults `json:"bond"`
}

type AtomDefaults struct {
	Z       int    `json:"z"`
	ImpHs   int    `json:"impHs"`
	Chg     int    `json:"chg"`
	NRad    int    `json:"nRad"`
	Isotope int    `json:"isotope"`
	Stereo  string `json:"stereo"`
}

type BondDefaults struct {
	Bo     int    `json:"bo"`
	Stereo string `json:"stereo"`
}

// StandardDefaults are written into every document.
func StandardDefaults() Defaults {
	return Defaults{
		Atom: AtomDefaults{Z: 6, Stereo: "unspecified"},
		Bond: BondDefaults{Bo: 1, Stereo: "unspecified"},
	}
}

type MoleculeEntry struct {
	Name       string          `json:"name,omitempty"`
	Atoms      []AtomEntry     `json:"atoms"`
	Bonds      []BondEntry     `json:"bonds"`
	Conformers []Conformer     `json:"conformers,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Extensions []Extension     `json:"extensions,omitempty"`
}

type AtomEntry struct {
	Z       *int `json:"z,omitempty"`
	ImpHs   *int `json:"impHs,omitempty"`
	Chg     *int `json:"chg,omitempty"`
	NRad    *int `json:"nRad,omitempty"`
	Isotope *int `json:"isotope,omitempty"`
}

type BondEntry struct {
	Atoms [2]int `json:"atoms"`
	Bo    *int   `json:"bo,omitempty"`
}

type Conformer struct {
	Dim    int          `json:"dim"`
	Coords [][3]float64 `json:"coords"`
}

type Extension struct {
	Name           string   `json:"name"`
	FormatVersion  int      `json:"formatVersion"`
	ToolkitVersion string   `json:"toolkitVersion,omitempty"`
	AromaticAtoms  []int    `json:"aromaticAtoms,omitempty"`
	AromaticBonds  []int    `json:"aromaticBonds,omitempty"`
	AtomMaps       [][2]int `json:"atomMaps,omitempty"`
}

func intIf(v, def int) *int {
	if v == def {
		return nil
	}
	return &v
}

func valueOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Marshal encodes mols into one document. toolkitVersion is recorded in the
// extension block.
func Marshal(toolkitVersion string, mols ...*molecule.Molecule) ([]byte, error) {
	doc := Document{}
	doc.CommonChem.Version = FormatVersion
	def := StandardDefaults()
	doc.Defaults = &def
	doc.Molecules = make([]MoleculeEntry, 0, len(mols))
	for _, m := range mols {
		doc.Molecules = append(doc.Molecules, encode(m, def, toolkitVersion))
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode commonchem json")
	}
	return data, nil
}

func encode(m *molecule.Molecule, def Defaults, toolkitVersion string) MoleculeEntry {
	entry := MoleculeEntry{
		Name:  m.Name,
		Atoms: make([]AtomEntry, m.NumAtoms()),
		Bonds: make([]BondEntry, m.NumBonds()),
	}
	ext := Extension{Name: ExtensionName, FormatVersion: extensionFormatVersion, ToolkitVersion: toolkitVersion}
	for i := 0; i < m.NumAtoms(); i++ {
		a := m.Atom(i)
		entry.Atoms[i] = AtomEntry{
			Z:       intIf(a.Element, def.Atom.Z),
			ImpHs:   intIf(a.ImplicitHs, def.Atom.ImpHs),
			Chg:     intIf(a.Charge, def.Atom.Chg),
			NRad:    intIf(a.NumRadicals, def.Atom.NRad),
			Isotope: intIf(a.Isotope, def.Atom.Isotope),
		}
		if a.Aromatic {
			ext.AromaticAtoms = append(ext.AromaticAtoms, i)
		}
		if a.AtomMapIndex != 0 {
			ext.AtomMaps = append(ext.AtomMaps, [2]int{i, a.AtomMapIndex})
		}
	}
	for bi := 0; bi < m.NumBonds(); bi++ {
		b := m.Bond(bi)
		order := b.ValenceContribution()
		entry.Bonds[bi] = BondEntry{Atoms: [2]int{b.Begin, b.End}, Bo: intIf(order, def.Bond.Bo)}
		if b.Order == molecule.BondAromatic {
			ext.AromaticBonds = append(ext.AromaticBonds, bi)
		}
	}
	if conf := m.Conformer(); conf != nil {
		c := Conformer{Dim: 2, Coords: make([][3]float64, len(conf.Positions))}
		if conf.Is3D {
			c.Dim = 3
		}
		for i, p := range conf.Positions {
			c.Coords[i] = [3]float64{p.X, p.Y, p.Z}
		}
		entry.Conformers = []Conformer{c}
	}
	if len(m.Props) > 0 {
		props := make(map[string]string, len(m.Props))
		for k, v := range m.Props {
			props[k] = v
		}
		entry.Properties, _ = json.Marshal(props)
	}
	entry.Extensions = []Extension{ext}
	return entry
}

// Unmarshal decodes every molecule in a document. Hydrogen counts are taken
// as given; with sanitize set each atom's valence is checked.
func Unmarshal(data []byte, sanitize bool) ([]*molecule.Molecule, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeParse, "invalid commonchem json")
	}
	if doc.CommonChem.Version != FormatVersion {
		return nil, errors.Newf(errors.CodeParse, "unsupported commonchem version %d", doc.CommonChem.Version)
	}
	def := StandardDefaults()
	if doc.Defaults != nil {
		def = *doc.Defaults
	}
	out := make([]*molecule.Molecule, 0, len(doc.Molecules))
	for i, entry := range doc.Molecules {
		m, err := decode(entry, def)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, "invalid commonchem molecule").
				WithDetail(fmt.Sprintf("molecule %d", i))
		}
		if sanitize {
			for idx := 0; idx < m.NumAtoms(); idx++ {
				if err := m.CheckValence(idx); err != nil {
					return nil, err
				}
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func decode(entry MoleculeEntry, def Defaults) (*molecule.Molecule, error) {
	m := molecule.New()
	m.Name = entry.Name
	for i, ae := range entry.Atoms {
		z := valueOr(ae.Z, def.Atom.Z)
		if z < 0 || z > molecule.MaxAtomicNumber {
			return nil, errors.Newf(errors.CodeParse, "atomic number %d out of range", z)
		}
		a := molecule.Atom{
			Element:     z,
			ImplicitHs:  valueOr(ae.ImpHs, def.Atom.ImpHs),
			NoImplicit:  true,
			Charge:      valueOr(ae.Chg, def.Atom.Chg),
			NumRadicals: valueOr(ae.NRad, def.Atom.NRad),
			Isotope:     valueOr(ae.Isotope, def.Atom.Isotope),
		}
		switch {
		case a.ImplicitHs < 0 || a.ImplicitHs > molecule.MaxHydrogensPerAtom:
			return nil, errors.Newf(errors.CodeParse, "atom %d: impHs %d outside 0..%d", i, a.ImplicitHs, molecule.MaxHydrogensPerAtom)
		case a.Isotope < 0:
			return nil, errors.Newf(errors.CodeParse, "atom %d: negative isotope %d", i, a.Isotope)
		case a.NumRadicals < 0:
			return nil, errors.Newf(errors.CodeParse, "atom %d: negative nRad %d", i, a.NumRadicals)
		}
		m.AddAtom(a)
	}
	for _, be := range entry.Bonds {
		var order molecule.BondOrder
		switch bo := valueOr(be.Bo, def.Bond.Bo); bo {
		case 1:
			order = molecule.BondSingle
		case 2:
			order = molecule.BondDouble
		case 3:
			order = molecule.BondTriple
		default:
			return nil, errors.Newf(errors.CodeParse, "unsupported bond order %d", bo)
		}
		if _, err := m.AddBond(be.Atoms[0], be.Atoms[1], order); err != nil {
			return nil, errors.Wrap(err, errors.CodeParse, "invalid bond")
		}
	}

	for _, ext := range entry.Extensions {
		if ext.Name != ExtensionName {
			continue
		}
		for _, idx := range ext.AromaticAtoms {
			if idx < 0 || idx >= m.NumAtoms() {
				return nil, errors.Newf(errors.CodeParse, "aromatic atom %d out of range", idx)
			}
			a := m.Atom(idx)
			a.Aromatic = true
			m.SetAtom(idx, a)
		}
		for _, bi := range ext.AromaticBonds {
			if bi < 0 || bi >= m.NumBonds() {
				return nil, errors.Newf(errors.CodeParse, "aromatic bond %d out of range", bi)
			}
			b := m.Bond(bi)
			b.Kekule = b.Order
			b.Order = molecule.BondAromatic
			m.SetBond(bi, b)
		}
		for _, am := range ext.AtomMaps {
			if am[0] < 0 || am[0] >= m.NumAtoms() {
				return nil, errors.Newf(errors.CodeParse, "atom map entry %d out of range", am[0])
			}
			a := m.Atom(am[0])
			a.AtomMapIndex = am[1]
			m.SetAtom(am[0], a)
		}
	}

	if len(entry.Conformers) > 0 {
		c := entry.Conformers[0]
		if len(c.Coords) != m.NumAtoms() {
			return nil, errors.Newf(errors.CodeParse, "conformer has %d coordinates for %d atoms", len(c.Coords), m.NumAtoms())
		}
		conf := &molecule.Conformer{Positions: make([]molecule.Point3, len(c.Coords)), Is3D: c.Dim == 3}
		for i, xyz := range c.Coords {
			conf.Positions[i] = molecule.Point3{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		}
		if err := m.SetConformer(conf); err != nil {
			return nil, err
		}
	}
	if len(entry.Properties) > 0 {
		var props map[string]string
		if err := json.Unmarshal(entry.Properties, &props); err == nil {
			for k, v := range props {
				m.SetProp(k, v)
			}
		}
	}
	return m, nil
}
