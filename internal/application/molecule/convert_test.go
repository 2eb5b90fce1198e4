package molecule

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

func TestConvert_Operations(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	req := moltypes.ConvertRequest{Input: "c1cc(O)ccc1"}

	t.Run("parse", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertParse, req)
		require.NoError(t, err)
		assert.Equal(t, "Oc1ccccc1", resp.Output)
		assert.Equal(t, OutputSMILES, resp.Format)
		require.NotNil(t, resp.Description)
		assert.Equal(t, 7, resp.Description.NumAtoms)
		assert.Equal(t, "C6H6O", resp.Description.Formula)
	})

	t.Run("canonical", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertCanonical, moltypes.ConvertRequest{Input: "OCCC#CO"})
		require.NoError(t, err)
		assert.Equal(t, "OC#CCCO", resp.Output)
	})

	t.Run("hydrogens", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertHydrogens, req)
		require.NoError(t, err)
		assert.Equal(t, OutputMolBlock, resp.Format)
		assert.Equal(t, 13, resp.Description.NumAtoms)
		assert.Contains(t, resp.Output, "M  END")
	})

	t.Run("remove hydrogens", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertRemoveHydrogen, moltypes.ConvertRequest{
			Input:        "[H]OC([H])([H])[H]",
			ParseOptions: `{"removeHs":false}`,
		})
		require.NoError(t, err)
		plain, err := Convert(ctx, svc, ConvertCanonical, moltypes.ConvertRequest{Input: "CO"})
		require.NoError(t, err)
		assert.Equal(t, plain.Output, resp.Output)
	})

	t.Run("embed", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertEmbed, moltypes.ConvertRequest{
			Input:   req.Input,
			Options: `{"randomSeed":42}`,
		})
		require.NoError(t, err)
		assert.True(t, resp.Description.Is3D)
		assert.Len(t, resp.Description.Coords, 13)

		again, err := Convert(ctx, svc, ConvertEmbed, moltypes.ConvertRequest{
			Input:   req.Input,
			Options: `{"randomSeed":42}`,
		})
		require.NoError(t, err)
		assert.Equal(t, resp.Output, again.Output, "same seed gives the same block")
	})

	t.Run("molblock title", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertMolBlock, moltypes.ConvertRequest{
			Input:   "CCO",
			Options: `{"name":"ethanol"}`,
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(resp.Output, "ethanol\n"))
	})

	t.Run("json", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertJSON, moltypes.ConvertRequest{Input: "CCO"})
		require.NoError(t, err)
		assert.Contains(t, resp.Output, `"commonchem"`)
	})

	t.Run("fingerprint", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertFingerprint, moltypes.ConvertRequest{
			Input:   "CCO",
			Options: `{"radius":2,"nBits":256}`,
		})
		require.NoError(t, err)
		assert.Equal(t, OutputBits, resp.Format)
		require.NotNil(t, resp.Fingerprint)
		assert.Len(t, resp.Output, 256)
		assert.Len(t, resp.Fingerprint.Bytes, 32)
		assert.Equal(t, strings.Count(resp.Output, "1"), resp.Fingerprint.NumOnBits)
	})

	t.Run("descriptors", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertDescriptors, moltypes.ConvertRequest{Input: "CCCN"})
		require.NoError(t, err)
		assert.Equal(t, OutputJSON, resp.Format)
		assert.Equal(t, 4.0, resp.Descriptors["NumHeavyAtoms"])
		assert.Equal(t, 1.0, resp.Descriptors["NumRotatableBonds"])
		assert.Contains(t, resp.Output, `"NumHeavyAtoms":4`)
	})

	t.Run("neutralize", func(t *testing.T) {
		resp, err := Convert(ctx, svc, ConvertNeutralize, moltypes.ConvertRequest{Input: "C(C(=O)[O-])[NH3+]"})
		require.NoError(t, err)
		glycine, err := Convert(ctx, svc, ConvertCanonical, moltypes.ConvertRequest{Input: "NCC(=O)O"})
		require.NoError(t, err)
		assert.Equal(t, glycine.Output, resp.Output)
	})
}

func TestConvert_Errors(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := Convert(ctx, svc, ConvertParse, moltypes.ConvertRequest{Input: "  "})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = Convert(ctx, svc, ConvertParse, moltypes.ConvertRequest{Input: "c1ccccc("})
	assert.True(t, errors.IsCode(err, errors.CodeParse))

	_, err = Convert(ctx, svc, "teleport", moltypes.ConvertRequest{Input: "C"})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = Convert(ctx, svc, ConvertCanonical, moltypes.ConvertRequest{Input: "C", Options: "{"})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = Convert(ctx, svc, ConvertFingerprint, moltypes.ConvertRequest{Input: "C", Options: `{"nBits":0}`})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}
