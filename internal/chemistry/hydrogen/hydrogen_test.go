package hydrogen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/internal/chemistry/smiles"
	"github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

func parse(t *testing.T, text string) *molecule.Molecule {
	t.Helper()
	m, err := smiles.Parse(text, smiles.DefaultOptions())
	require.NoError(t, err)
	return m
}

func TestAddHydrogens_Phenol(t *testing.T) {
	m := parse(t, "c1cc(O)ccc1")
	out, err := AddHydrogens(m)
	require.NoError(t, err)

	assert.Equal(t, 13, out.NumAtoms())
	assert.Equal(t, 13, out.NumBonds())
	assert.Equal(t, "C6H6O", out.Formula())
	for i := 0; i < out.NumAtoms(); i++ {
		assert.Zero(t, out.Atom(i).ImplicitHs)
	}
	// The input is untouched.
	assert.Equal(t, 7, m.NumAtoms())
	assert.NoError(t, out.Validate())
}

func TestAddHydrogens_Idempotent(t *testing.T) {
	for _, in := range []string{"CCO", "c1cc[nH]c1", "[NH4+]", "C", "[Na+].[Cl-]"} {
		t.Run(in, func(t *testing.T) {
			once, err := AddHydrogens(parse(t, in))
			require.NoError(t, err)
			twice, err := AddHydrogens(once)
			require.NoError(t, err)

			assert.Equal(t, once.Atoms(), twice.Atoms())
			assert.Equal(t, once.Bonds(), twice.Bonds())
			assert.Equal(t, smiles.Write(once, smiles.DefaultWriteOptions()), smiles.Write(twice, smiles.DefaultWriteOptions()))
		})
	}
}

func TestAddHydrogens_ValenceError(t *testing.T) {
	m, err := smiles.Parse("C(C)(C)(C)(C)C", smiles.Options{Sanitize: false})
	require.NoError(t, err)

	_, err = AddHydrogens(m)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValence))
}

func TestAddHydrogens_PlacesAtomsWithConformer(t *testing.T) {
	m := molecule.New()
	m.AddAtom(molecule.Atom{Element: 6, ImplicitHs: 3})
	m.AddAtom(molecule.Atom{Element: 8, ImplicitHs: 1})
	_, err := m.AddBond(0, 1, molecule.BondSingle)
	require.NoError(t, err)
	require.NoError(t, m.SetConformer(&molecule.Conformer{
		Positions: []molecule.Point3{{}, {X: 1.43}},
		Is3D:      true,
	}))

	out, err := AddHydrogens(m)
	require.NoError(t, err)
	require.Equal(t, 6, out.NumAtoms())

	pos := out.Conformer().Positions
	require.Len(t, pos, 6)
	for h := 2; h < 6; h++ {
		parent := out.Neighbors(h)[0]
		want := molecule.CovalentRadius(out.Atom(parent).Element) + molecule.CovalentRadius(1)
		assert.InDelta(t, want, pos[h].Distance(pos[parent]), 1e-9)
	}
	// Methyl hydrogens point away from the oxygen.
	for h := 2; h < 5; h++ {
		assert.Less(t, pos[h].X, 0.0)
	}
	// Distinct positions for the three methyl hydrogens.
	assert.Greater(t, pos[2].Distance(pos[3]), 0.5)
	assert.Greater(t, pos[3].Distance(pos[4]), 0.5)
}

func TestRemoveHydrogens_RoundTrip(t *testing.T) {
	for _, in := range []string{"CCO", "c1cc(O)ccc1", "c1cc[nH]c1", "CC(=O)[O-]"} {
		t.Run(in, func(t *testing.T) {
			m := parse(t, in)
			withHs, err := AddHydrogens(m)
			require.NoError(t, err)

			back := RemoveHydrogens(withHs, RemoveOptions{})
			assert.Equal(t, m.NumAtoms(), back.NumAtoms())
			assert.Equal(t, m.Formula(), back.Formula())
			assert.Equal(t,
				smiles.Write(m, smiles.DefaultWriteOptions()),
				smiles.Write(back, smiles.DefaultWriteOptions()))
		})
	}
}

func TestRemoveHydrogens_KeepsSpecialHydrogens(t *testing.T) {
	m := parse(t, "[2H]C([H])([H])[H]")

	kept := RemoveHydrogens(m, RemoveOptions{})
	assert.Equal(t, 2, kept.NumAtoms(), "deuterium stays")
	assert.Equal(t, "CH4", kept.Formula())

	all := RemoveHydrogens(m, RemoveOptions{All: true})
	assert.Equal(t, 1, all.NumAtoms())
	assert.Equal(t, 4, all.Atom(0).ImplicitHs)

	h2 := RemoveHydrogens(parse(t, "[H][H]"), RemoveOptions{All: true})
	assert.Equal(t, 2, h2.NumAtoms(), "hydrogen bonded to hydrogen stays")
}

func TestRemoveHydrogens_BracketParent(t *testing.T) {
	m := parse(t, "[H][CH2][H]")
	out := RemoveHydrogens(m, RemoveOptions{})
	require.Equal(t, 1, out.NumAtoms())
	assert.Equal(t, 4, out.Atom(0).ImplicitHs)
}
