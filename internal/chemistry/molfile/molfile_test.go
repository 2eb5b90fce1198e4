package molfile

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/internal/chemistry/embed"
	"github.com/turtacn/molcore/internal/chemistry/hydrogen"
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

func TestWriteMolBlock_Ethanol(t *testing.T) {
	want := "ethanol\n" +
		"   molcore          2D\n" +
		"\n" +
		"  3  2  0  0  0  0  0  0  0  0999 V2000\n" +
		"    0.0000    0.0000    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0\n" +
		"    1.2990    0.7500    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0\n" +
		"    2.5981    0.0000    0.0000 O   0  0  0  0  0  0  0  0  0  0  0  0\n" +
		"  1  2  1  0\n" +
		"  2  3  1  0\n" +
		"M  END\n"
	assert.Equal(t, want, WriteMolBlock(parse(t, "CCO ethanol"), WriteOptions{}))
}

func TestWriteMolBlock_DepictsWithoutConformer(t *testing.T) {
	m := parse(t, "c1cc(O)ccc1")
	require.Nil(t, m.Conformer())
	block := WriteMolBlock(m, WriteOptions{})
	assert.Contains(t, block, "          2D\n")
	assert.Nil(t, m.Conformer(), "writer must not attach coordinates")

	back, err := ReadMolBlock(block, DefaultReadOptions())
	require.NoError(t, err)
	conf := back.Conformer()
	require.NotNil(t, conf)
	assert.False(t, conf.Is3D)
	for i := 0; i < back.NumBonds(); i++ {
		b := back.Bond(i)
		assert.InDelta(t, 1.5, conf.Positions[b.Begin].Distance(conf.Positions[b.End]), 1e-3)
	}
}

func TestWriteMolBlock_TitleAndProgram(t *testing.T) {
	out := WriteMolBlock(parse(t, "C"), WriteOptions{Title: "methane", Program: "averylongprogram"})
	lines := strings.Split(out, "\n")
	assert.Equal(t, "methane", lines[0])
	assert.Equal(t, "  averylon          2D", lines[1])
}

func TestWriteMolBlock_Properties(t *testing.T) {
	out := WriteMolBlock(parse(t, "[13CH3][NH3+].[O-]"), WriteOptions{})
	assert.Contains(t, out, "M  CHG  2   2   1   3  -1\n")
	assert.Contains(t, out, "M  ISO  1   1  13\n")

	// Nine charged atoms need two CHG lines.
	many := WriteMolBlock(parse(t, strings.Repeat("[Na+].", 8)+"[Na+]"), WriteOptions{})
	assert.Contains(t, many, "M  CHG  8")
	assert.Contains(t, many, "M  CHG  1   9   1\n")
}

func TestWriteMolBlock_KekuleForm(t *testing.T) {
	out := WriteMolBlock(parse(t, "c1ccccc1"), WriteOptions{})
	assert.Equal(t, 3, strings.Count(out, "  2  0\n"))
	assert.NotContains(t, out, "  4  0\n")

	lenient, err := smiles.Parse("c1cccc1", smiles.Options{Sanitize: false})
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(WriteMolBlock(lenient, WriteOptions{}), "  4  0\n"))
}

func roundTrip(t *testing.T, m *molecule.Molecule) {
	t.Helper()
	first := WriteMolBlock(m, WriteOptions{})
	back, err := ReadMolBlock(first, DefaultReadOptions())
	require.NoError(t, err)
	assert.Equal(t, first, WriteMolBlock(back, WriteOptions{}))
	assert.Equal(t, m.Formula(), back.Formula())
}

func TestMolBlock_RoundTrip(t *testing.T) {
	inputs := []string{
		"CCO",
		"c1cc(O)ccc1",
		"c1cc[nH]c1",
		"[13CH3][NH3+].[O-]",
		"[CH2]C",
		"[Fe+2].[Cl-].[Cl-]",
		"[2H]C([2H])([2H])O",
		"C[N+](C)(C)C",
		"*CC",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			roundTrip(t, parse(t, in))
		})
	}
}

func TestMolBlock_RoundTripEmbedded(t *testing.T) {
	m, err := hydrogen.AddHydrogens(parse(t, "c1cc(O)ccc1"))
	require.NoError(t, err)
	m, err = embed.Embed(m, embed.Options{RandomSeed: 42})
	require.NoError(t, err)

	block := WriteMolBlock(m, WriteOptions{})
	assert.Contains(t, block, "          3D\n")
	assert.Contains(t, block, " 13 13  0  0")

	back, err := ReadMolBlock(block, DefaultReadOptions())
	require.NoError(t, err)
	require.NotNil(t, back.Conformer())
	assert.True(t, back.Conformer().Is3D)
	assert.Len(t, back.Conformer().Positions, 13)
	assert.Equal(t, block, WriteMolBlock(back, WriteOptions{}))
}

func TestReadMolBlock_AromaticBonds(t *testing.T) {
	block := "benzene\n  molcore          2D\n\n" +
		"  6  6  0  0  0  0  0  0  0  0999 V2000\n" +
		strings.Repeat("    0.0000    0.0000    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0\n", 6) +
		"  1  2  4  0\n  2  3  4  0\n  3  4  4  0\n  4  5  4  0\n  5  6  4  0\n  6  1  4  0\n" +
		"M  END\n"
	m, err := ReadMolBlock(block, DefaultReadOptions())
	require.NoError(t, err)
	assert.Equal(t, "benzene", m.Name)
	assert.Equal(t, "C6H6", m.Formula())
	assert.True(t, m.Atom(0).Aromatic)
	assert.Nil(t, m.Conformer())
	assert.Equal(t, "c1ccccc1", smiles.Write(m, smiles.DefaultWriteOptions()))
}

func TestReadMolBlock_AtomBlockCharges(t *testing.T) {
	block := "\n  molcore          2D\n\n" +
		"  2  0  0  0  0  0  0  0  0  0999 V2000\n" +
		"    0.0000    0.0000    0.0000 Na  0  3  0  0  0  0  0  0  0  0  0  0\n" +
		"    1.0000    0.0000    0.0000 Cl  0  5  0  0  0  0  0  0  0  0  0  0\n" +
		"M  END\n"
	m, err := ReadMolBlock(block, DefaultReadOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, m.Atom(0).Charge)
	assert.Equal(t, -1, m.Atom(1).Charge)
	require.NotNil(t, m.Conformer())
	assert.False(t, m.Conformer().Is3D)
}

func TestReadMolBlock_Errors(t *testing.T) {
	header := "\n  molcore          2D\n\n"
	atom := "    0.0000    0.0000    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0\n"
	tests := []struct {
		name  string
		block string
		line  int
	}{
		{"too short", "x\n", 2},
		{"v3000", header + "  0  0  0  0  0  0  0  0  0  0999 V3000\n", 4},
		{"unknown element", header + "  1  0  0  0  0  0  0  0  0  0999 V2000\n" +
			strings.Replace(atom, "C  ", "Xx ", 1) + "M  END\n", 5},
		{"bad bond type", header + "  2  1  0  0  0  0  0  0  0  0999 V2000\n" + atom + atom +
			"  1  2  9  0\nM  END\n", 7},
		{"missing end", header + "  1  0  0  0  0  0  0  0  0  0999 V2000\n" + atom, 6},
		{"negative atom count", header + " -1  0  0  0  0  0  0  0  0  0999 V2000\nM  END\n", 4},
		{"negative bond count", header + "  1 -3  0  0  0  0  0  0  0  0999 V2000\n" + atom + "M  END\n", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMolBlock(tt.block, DefaultReadOptions())
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeParse))
			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.line, fe.Line)
		})
	}
}

func TestSDF_RoundTrip(t *testing.T) {
	a := parse(t, "CCO ethanol")
	a.SetProp("source", "test")
	a.SetProp("notes", "two\nlines")
	b := parse(t, "c1ccccc1 benzene")

	var buf bytes.Buffer
	require.NoError(t, WriteSDF(&buf, []*molecule.Molecule{a, b}, WriteOptions{}))
	assert.Equal(t, 2, strings.Count(buf.String(), "$$$$\n"))
	assert.Contains(t, buf.String(), "> <source>\ntest\n\n")

	r := NewSDFReader(&buf, DefaultReadOptions())
	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ethanol", first.Name)
	assert.Equal(t, "test", first.Props["source"])
	assert.Equal(t, "two\nlines", first.Props["notes"])
	assert.Equal(t, 1, r.Record())

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "benzene", second.Name)
	assert.Equal(t, "C6H6", second.Formula())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSDF_SkipsBadRecords(t *testing.T) {
	good := SDFRecord(parse(t, "CCO"), WriteOptions{})
	bad := "broken\n\n\n  x  y\nM  END\n$$$$\n"
	r := NewSDFReader(strings.NewReader(bad+good), DefaultReadOptions())

	_, err := r.Next()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeParse))
	assert.Equal(t, 1, r.Record())

	m, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumAtoms())
	assert.Equal(t, 2, r.Record())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSDF_LastRecordWithoutSeparator(t *testing.T) {
	block := WriteMolBlock(parse(t, "C"), WriteOptions{})
	r := NewSDFReader(strings.NewReader(block), DefaultReadOptions())
	m, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumAtoms())
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}
