package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/pkg/errors"
)

func TestCanonCmd(t *testing.T) {
	out, _, err := run(t, "", "canon", "c1cc(O)ccc1")
	require.NoError(t, err)
	assert.Equal(t, "Oc1ccccc1\n", out)

	out, _, err = run(t, "OCCC#CO\n", "canon")
	require.NoError(t, err, "reads stdin when no argument is given")
	assert.Equal(t, "OC#CCCO\n", out)
}

func TestCanonCmd_ParseError(t *testing.T) {
	_, _, err := run(t, "", "canon", "c1ccccc(")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeParse))
}

func TestParseCmd_Table(t *testing.T) {
	out, _, err := run(t, "", "-o", "table", "parse", "c1cc(O)ccc1")
	require.NoError(t, err)
	assert.Contains(t, out, "C6H6O")
	assert.Contains(t, out, "heavy_atoms")
}

func TestParseCmd_JSON(t *testing.T) {
	out, _, err := run(t, "", "-o", "json", "parse", "c1cc(O)ccc1")
	require.NoError(t, err)
	var resp struct {
		Output      string `json:"output"`
		Description struct {
			NumAtoms int `json:"num_atoms"`
		} `json:"description"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 7, resp.Description.NumAtoms)
}

func TestAddHsCmd(t *testing.T) {
	out, _, err := run(t, "", "addhs", "C")
	require.NoError(t, err)
	assert.Contains(t, out, "  5  4  0  0  0  0  0  0  0  0999 V2000")
}

func TestRemoveHsCmd(t *testing.T) {
	withHs, _, err := run(t, "", "removehs", "[H]C([H])([H])O[H]", "--parse-options", `{"removeHs":false}`)
	require.NoError(t, err)
	plain, _, err := run(t, "", "canon", "CO")
	require.NoError(t, err)
	assert.Equal(t, plain, withHs)
}

func TestEmbedCmd_SeedIsDeterministic(t *testing.T) {
	a, _, err := run(t, "", "embed", "CCO", "--seed", "7")
	require.NoError(t, err)
	b, _, err := run(t, "", "embed", "CCO", "--options", `{"randomSeed":7}`)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "M  END")
}

func TestMolBlockCmd_StdinMolBlock(t *testing.T) {
	block, _, err := run(t, "", "molblock", "CCO")
	require.NoError(t, err)

	out, _, err := run(t, block, "canon", "-")
	require.NoError(t, err)
	want, _, err := run(t, "", "canon", "CCO")
	require.NoError(t, err)
	assert.Equal(t, want, out)
}

func TestJSONCmd(t *testing.T) {
	out, _, err := run(t, "", "json", "CCO")
	require.NoError(t, err)
	assert.Contains(t, out, `"commonchem"`)
}

func TestDemoCmd(t *testing.T) {
	out, _, err := run(t, "", "demo")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasPrefix(lines[0], "molcore "))
	assert.Equal(t, "Canonical SMILES: Oc1ccccc1", lines[1])
	assert.Contains(t, out, "V2000")
	assert.Contains(t, out, "M  END")

	again, _, err := run(t, "", "demo")
	require.NoError(t, err)
	assert.Equal(t, out, again, "fixed seed gives identical output")
}

func TestConvertCmd_SMIToSMI(t *testing.T) {
	in := "# header\nc1cc(O)ccc1 phenol\n\nc1ccccc( broken\nOCCC#CO butynediol\n"
	out, stderr, err := run(t, in, "convert", "--from", "smi")
	require.NoError(t, err)
	assert.Equal(t, "Oc1ccccc1 phenol\nOC#CCCO butynediol\n", out)
	assert.Contains(t, stderr, "skipped entry 4")
	assert.Contains(t, stderr, "read 3, written 2, failed 1")
}

func TestConvertCmd_SMIToSDFFile(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.smi")
	outPath := filepath.Join(dir, "out.sdf")
	require.NoError(t, os.WriteFile(inPath, []byte("CCO ethanol\nC methane\n"), 0o644))

	out, _, err := run(t, "", "-o", "json", "convert", "--in", inPath, "--out", outPath, "--to", "sdf", "--embed")
	require.NoError(t, err)
	var summary convertSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Written)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "$$$$"))

	// The SD file reads back.
	back, _, err := run(t, "", "convert", "--in", outPath)
	require.NoError(t, err)
	ethanol, _, err := run(t, "", "canon", "CCO")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(ethanol)+" ethanol\nC methane\n", back)
}

func TestConvertCmd_UnknownFormat(t *testing.T) {
	_, _, err := run(t, "", "convert", "--in", "molecules.xyz")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestFingerprintCmd(t *testing.T) {
	out, _, err := run(t, "", "fingerprint", "CCO", "--options", `{"nBits":64}`)
	require.NoError(t, err)
	bits := strings.TrimSpace(out)
	assert.Len(t, bits, 64)
	assert.Empty(t, strings.Trim(bits, "01"))

	_, _, err = run(t, "", "fingerprint", "CCO", "--options", `{"radius":99}`)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestDescriptorsCmd_Table(t *testing.T) {
	out, _, err := run(t, "", "-o", "table", "descriptors", "CCCN")
	require.NoError(t, err)
	assert.Contains(t, out, "NumHeavyAtoms")
	assert.Contains(t, out, "NumRotatableBonds")
}

func TestNeutralizeCmd(t *testing.T) {
	out, _, err := run(t, "", "neutralize", "C(C(=O)[O-])[NH3+]")
	require.NoError(t, err)
	glycine, _, err := run(t, "", "canon", "NCC(=O)O")
	require.NoError(t, err)
	assert.Equal(t, glycine, out)
}

func TestSimilarityCmd(t *testing.T) {
	out, _, err := run(t, "", "similarity", "CCO", "OCC")
	require.NoError(t, err)
	assert.Equal(t, "tanimoto 1.0000 dice 1.0000\n", out)

	_, _, err = run(t, "", "similarity", "CCO")
	assert.Error(t, err)
}
