package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/pkg/errors"
	mtypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// chain builds a linear molecule of elements joined by orders and fills in
// implicit hydrogens.
func chain(t *testing.T, elements []int, orders []BondOrder) *Molecule {
	t.Helper()
	require.Len(t, orders, len(elements)-1)
	m := New()
	for _, z := range elements {
		m.AddAtom(Atom{Element: z})
	}
	for i, o := range orders {
		_, err := m.AddBond(i, i+1, o)
		require.NoError(t, err)
	}
	require.NoError(t, m.UpdateImplicitHs(true))
	return m
}

// butenediol is OCC=CCO.
func butenediol(t *testing.T) *Molecule {
	return chain(t, []int{8, 6, 6, 6, 6, 8},
		[]BondOrder{BondSingle, BondSingle, BondDouble, BondSingle, BondSingle})
}

func TestMorganFingerprint_Shape(t *testing.T) {
	fp, err := CalculateMorganFingerprint(butenediol(t), 2, 64)
	require.NoError(t, err)
	assert.Equal(t, mtypes.FPMorgan, fp.Type)
	assert.Equal(t, 64, fp.Length)
	assert.Len(t, fp.Bits, 8)
	assert.Greater(t, fp.NumOnBits, 0)

	bitString := fp.BitString()
	require.Len(t, bitString, 64)
	on := 0
	for i, c := range bitString {
		assert.Equal(t, fp.GetBit(i), c == '1', "bit %d", i)
		if c == '1' {
			on++
			assert.NotZero(t, fp.ToBytes()[i/8]&(1<<uint(i%8)))
		}
	}
	assert.Equal(t, fp.NumOnBits, on)
}

func TestMorganFingerprint_IndependentOfAtomOrder(t *testing.T) {
	fwd := chain(t, []int{8, 6, 6, 7}, []BondOrder{BondSingle, BondSingle, BondSingle})
	rev := chain(t, []int{7, 6, 6, 8}, []BondOrder{BondSingle, BondSingle, BondSingle})

	a, err := CalculateMorganFingerprint(fwd, 2, 1024)
	require.NoError(t, err)
	b, err := CalculateMorganFingerprint(rev, 2, 1024)
	require.NoError(t, err)
	assert.Equal(t, a.Bits, b.Bits)
}

func TestMorganFingerprint_RadiusGrowsBits(t *testing.T) {
	m := butenediol(t)
	r0, err := CalculateMorganFingerprint(m, 0, 2048)
	require.NoError(t, err)
	r2, err := CalculateMorganFingerprint(m, 2, 2048)
	require.NoError(t, err)

	// Symmetric atoms share identifiers: O, CH2 and CH at radius 0.
	assert.LessOrEqual(t, r0.NumOnBits, 3)
	assert.Greater(t, r2.NumOnBits, r0.NumOnBits)
	for i := 0; i < r0.Length; i++ {
		if r0.GetBit(i) {
			assert.True(t, r2.GetBit(i))
		}
	}
}

func TestMorganFingerprint_ExplicitHydrogensIgnored(t *testing.T) {
	m := chain(t, []int{6, 8}, []BondOrder{BondSingle})
	withH := m.Clone()
	a := withH.Atom(1)
	a.ImplicitHs = 0
	a.NoImplicit = true
	withH.SetAtom(1, a)
	h := withH.AddAtom(Atom{Element: 1})
	_, err := withH.AddBond(1, h, BondSingle)
	require.NoError(t, err)

	plain, err := CalculateMorganFingerprint(m, 2, 512)
	require.NoError(t, err)
	explicit, err := CalculateMorganFingerprint(withH, 2, 512)
	require.NoError(t, err)
	assert.Equal(t, plain.Bits, explicit.Bits)
}

func TestMorganFingerprint_BadArguments(t *testing.T) {
	_, err := CalculateMorganFingerprint(butenediol(t), 2, 0)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = CalculateMorganFingerprint(butenediol(t), -1, 64)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestTopologicalFingerprint(t *testing.T) {
	fwd := chain(t, []int{8, 6, 6, 7}, []BondOrder{BondSingle, BondDouble, BondSingle})
	rev := chain(t, []int{7, 6, 6, 8}, []BondOrder{BondSingle, BondDouble, BondSingle})

	a, err := CalculateTopologicalFingerprint(fwd, 1, 7, 2048)
	require.NoError(t, err)
	b, err := CalculateTopologicalFingerprint(rev, 1, 7, 2048)
	require.NoError(t, err)
	assert.Equal(t, a.Bits, b.Bits)
	assert.Equal(t, mtypes.FPTopological, a.Type)
	// Three bond paths of length 1, two of length 2, one of length 3.
	assert.LessOrEqual(t, a.NumOnBits, 6)
	assert.Greater(t, a.NumOnBits, 3)

	_, err = CalculateTopologicalFingerprint(fwd, 3, 2, 2048)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestCalculateFingerprint_Dispatch(t *testing.T) {
	opts := mtypes.DefaultFingerprintOptions()
	fp, err := CalculateFingerprint(butenediol(t), opts)
	require.NoError(t, err)
	assert.Equal(t, mtypes.FPMorgan, fp.Type)

	opts.Type = mtypes.FPTopological
	fp, err = CalculateFingerprint(butenediol(t), opts)
	require.NoError(t, err)
	assert.Equal(t, mtypes.FPTopological, fp.Type)

	opts.Type = "maccs"
	_, err = CalculateFingerprint(butenediol(t), opts)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestSimilarity(t *testing.T) {
	ethanol := chain(t, []int{6, 6, 8}, []BondOrder{BondSingle, BondSingle})
	propanol := chain(t, []int{6, 6, 6, 8}, []BondOrder{BondSingle, BondSingle, BondSingle})
	fe, err := CalculateMorganFingerprint(ethanol, 2, 2048)
	require.NoError(t, err)
	fp, err := CalculateMorganFingerprint(propanol, 2, 2048)
	require.NoError(t, err)

	self, err := Similarity(fe, fe, MetricTanimoto)
	require.NoError(t, err)
	assert.Equal(t, 1.0, self)

	tan, err := Similarity(fe, fp, MetricTanimoto)
	require.NoError(t, err)
	dice, err := Similarity(fe, fp, MetricDice)
	require.NoError(t, err)
	assert.Greater(t, tan, 0.0)
	assert.Less(t, tan, 1.0)
	assert.GreaterOrEqual(t, dice, tan)

	short, err := CalculateMorganFingerprint(ethanol, 2, 64)
	require.NoError(t, err)
	_, err = Similarity(fe, short, MetricTanimoto)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = Similarity(fe, fe, "cosine")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	empty := NewFingerprint(mtypes.FPMorgan, make([]byte, 8), 64)
	assert.Zero(t, Tanimoto(empty, empty))
	assert.Zero(t, Dice(empty, empty))
}

func TestParseSimilarityMetric(t *testing.T) {
	m, err := ParseSimilarityMetric("dice")
	require.NoError(t, err)
	assert.Equal(t, MetricDice, m)
	_, err = ParseSimilarityMetric("euclidean")
	assert.Error(t, err)
}

func TestComputeDescriptors_Propylamine(t *testing.T) {
	d := chain(t, []int{6, 6, 6, 7}, []BondOrder{BondSingle, BondSingle, BondSingle}).ComputeDescriptors()
	assert.Equal(t, 4, d.NumHeavyAtoms)
	assert.Equal(t, 1, d.NumRotatableBonds)
	assert.Equal(t, 13, d.NumAtoms)
	assert.Equal(t, 1, d.NumHeteroatoms)
	assert.Equal(t, 1, d.NumHBD)
	assert.Equal(t, 1, d.NumHBA)
	assert.Equal(t, 2, d.LipinskiHBD)
	assert.Equal(t, 1.0, d.FractionCSP3)
	assert.Zero(t, d.NumRings)
	assert.InDelta(t, 59.11, d.AMW, 0.01)

	m := d.Map()
	assert.Equal(t, 4.0, m["NumHeavyAtoms"])
	assert.Equal(t, 1.0, m["NumRotatableBonds"])
}

func TestComputeDescriptors_Rings(t *testing.T) {
	benzene := ring(t, []Atom{aromaticC(), aromaticC(), aromaticC(), aromaticC(), aromaticC(), aromaticC()}, BondAromatic)
	require.NoError(t, benzene.Kekulize())
	require.NoError(t, benzene.UpdateImplicitHs(true))
	d := benzene.ComputeDescriptors()
	assert.Equal(t, 1, d.NumRings)
	assert.Equal(t, 1, d.NumAromaticRings)
	assert.Zero(t, d.NumAliphaticRings)
	assert.Zero(t, d.NumRotatableBonds)
	assert.Zero(t, d.FractionCSP3)

	cyclohexane := ring(t, []Atom{{Element: 6}, {Element: 6}, {Element: 6}, {Element: 6}, {Element: 6}, {Element: 6}}, BondSingle)
	require.NoError(t, cyclohexane.UpdateImplicitHs(true))
	d = cyclohexane.ComputeDescriptors()
	assert.Equal(t, 1, d.NumAliphaticRings)
	assert.Equal(t, 1.0, d.FractionCSP3)
}
