package molecule

import (
	"context"
	"encoding/json"

	"github.com/turtacn/molcore/internal/chemistry/handle"
	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// Conversion names accepted by Convert. The HTTP routes, gRPC methods and
// CLI commands map one to one onto them.
const (
	ConvertParse          = "parse"
	ConvertCanonical      = "canonical"
	ConvertHydrogens      = "hydrogens"
	ConvertRemoveHydrogen = "remove_hydrogens"
	ConvertEmbed          = "embed"
	ConvertMolBlock       = "molblock"
	ConvertJSON           = "json"
	ConvertFingerprint    = "fingerprint"
	ConvertDescriptors    = "descriptors"
	ConvertNeutralize     = "neutralize"
)

// Output formats reported in ConvertResponse.Format.
const (
	OutputSMILES   = "smiles"
	OutputMolBlock = "molblock"
	OutputJSON     = "json"
	OutputBits     = "bits"
)

// Convert parses req.Input and runs one stateless conversion. Every handle
// it creates is released before it returns.
//
// "embed" completes hydrogens before embedding, the way the demo flow does;
// embedding a hydrogen-suppressed graph gives unusable geometry.
func Convert(ctx context.Context, svc Service, op string, req moltypes.ConvertRequest) (*moltypes.ConvertResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	h, err := svc.Parse(ctx, req.Input, req.ParseOptions)
	if err != nil {
		return nil, err
	}
	defer func() { _ = svc.Release(h) }()

	resp := &moltypes.ConvertResponse{}
	switch op {
	case ConvertParse:
		d, err := svc.Describe(ctx, h)
		if err != nil {
			return nil, err
		}
		resp.Output, resp.Format, resp.Description = d.Canonical, OutputSMILES, d

	case ConvertCanonical:
		resp.Format = OutputSMILES
		resp.Output, err = svc.CanonicalText(ctx, h, req.Options)

	case ConvertHydrogens:
		err = derive(svc, h, func(h *handle.Handle) (*handle.Handle, error) {
			return svc.CompleteHydrogens(ctx, h)
		}, func(nh *handle.Handle) error {
			return describeBlock(ctx, svc, nh, req.Options, resp)
		})

	case ConvertRemoveHydrogen:
		err = derive(svc, h, func(h *handle.Handle) (*handle.Handle, error) {
			return svc.RemoveHydrogens(ctx, h)
		}, func(nh *handle.Handle) (err error) {
			resp.Format = OutputSMILES
			resp.Output, err = svc.CanonicalText(ctx, nh, "")
			return err
		})

	case ConvertEmbed:
		err = derive(svc, h, func(h *handle.Handle) (*handle.Handle, error) {
			return svc.CompleteHydrogens(ctx, h)
		}, func(hs *handle.Handle) error {
			return derive(svc, hs, func(h *handle.Handle) (*handle.Handle, error) {
				return svc.Embed3D(ctx, h, req.Options)
			}, func(eh *handle.Handle) error {
				return describeBlock(ctx, svc, eh, "", resp)
			})
		})

	case ConvertMolBlock:
		resp.Format = OutputMolBlock
		resp.Output, err = svc.ExportMolBlock(ctx, h, req.Options)

	case ConvertJSON:
		resp.Format = OutputJSON
		resp.Output, err = svc.ExportJSON(ctx, h)

	case ConvertFingerprint:
		var fp *moltypes.FingerprintResult
		if fp, err = svc.Fingerprint(ctx, h, req.Options); err == nil {
			resp.Output, resp.Format, resp.Fingerprint = fp.Bits, OutputBits, fp
		}

	case ConvertDescriptors:
		var d map[string]float64
		if d, err = svc.Descriptors(ctx, h); err == nil {
			var data []byte
			data, err = json.Marshal(d)
			resp.Output, resp.Format, resp.Descriptors = string(data), OutputJSON, d
		}

	case ConvertNeutralize:
		err = derive(svc, h, func(h *handle.Handle) (*handle.Handle, error) {
			return svc.Neutralize(ctx, h)
		}, func(nh *handle.Handle) (err error) {
			resp.Format = OutputSMILES
			resp.Output, err = svc.CanonicalText(ctx, nh, "")
			return err
		})

	default:
		return nil, errors.InvalidParam("unknown conversion").WithDetail(op)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// derive builds a new handle from parent, hands it to fn and releases it
// afterwards. parent stays owned by the caller.
func derive(svc Service, parent *handle.Handle, build func(*handle.Handle) (*handle.Handle, error), fn func(*handle.Handle) error) error {
	nh, err := build(parent)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Release(nh) }()
	return fn(nh)
}

func describeBlock(ctx context.Context, svc Service, h *handle.Handle, optsJSON string, resp *moltypes.ConvertResponse) error {
	block, err := svc.ExportMolBlock(ctx, h, optsJSON)
	if err != nil {
		return err
	}
	d, err := svc.Describe(ctx, h)
	if err != nil {
		return err
	}
	resp.Output, resp.Format, resp.Description = block, OutputMolBlock, d
	return nil
}
