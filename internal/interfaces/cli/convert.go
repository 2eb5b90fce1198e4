package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/internal/chemistry/handle"
	"github.com/turtacn/molcore/internal/chemistry/molfile"
	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

const (
	fileSMI = "smi"
	fileSDF = "sdf"
)

type convertOptions struct {
	in, out      string
	from, to     string
	parseOptions string
	addHs        bool
	embed        bool
	seed         int64
}

// convertSummary is printed after a batch conversion.
type convertSummary struct {
	Read    int      `json:"read"`
	Written int      `json:"written"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

func (s convertSummary) String() string {
	return fmt.Sprintf("read %d, written %d, failed %d", s.Read, s.Written, s.Failed)
}

func (s convertSummary) TableHeaders() []string { return []string{"Read", "Written", "Failed"} }

func (s convertSummary) TableRows() [][]string {
	return [][]string{{fmt.Sprint(s.Read), fmt.Sprint(s.Written), fmt.Sprint(s.Failed)}}
}

func newConvertCmd() *cobra.Command {
	o := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert SMILES files and SD files",
		Long: "Convert reads a SMILES file (one \"SMILES name\" per line) or an SD file and\n" +
			"writes canonical SMILES or an SD file. Unreadable entries are reported and skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.in, "in", "-", "input file, - for stdin")
	f.StringVar(&o.out, "out", "-", "output file, - for stdout")
	f.StringVar(&o.from, "from", "", "input format smi|sdf (default: from the input extension)")
	f.StringVar(&o.to, "to", fileSMI, "output format smi|sdf")
	f.StringVar(&o.parseOptions, "parse-options", "", "parse options JSON")
	f.BoolVar(&o.addHs, "addhs", false, "make implicit hydrogens explicit")
	f.BoolVar(&o.embed, "embed", false, "embed 3D coordinates (implies --addhs)")
	f.Int64Var(&o.seed, "seed", appmol.DefaultSeed, "embedding seed")
	return cmd
}

func formatOf(path, explicit string) (string, error) {
	f := explicit
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if f == "smiles" {
			f = fileSMI
		}
		if f == "sd" || f == "mol" {
			f = fileSDF
		}
	}
	if f != fileSMI && f != fileSDF {
		return "", errors.InvalidParam("file format must be smi or sdf").WithDetail(f)
	}
	return f, nil
}

func runConvert(cmd *cobra.Command, o *convertOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	from, err := formatOf(o.in, o.from)
	if err != nil {
		return err
	}
	to, err := formatOf("", o.to)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if o.in != "-" {
		fh, err := os.Open(o.in)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidParam, "cannot open input").WithDetail(o.in)
		}
		defer fh.Close()
		in = fh
	}

	svc, ctx := cliCtx.Service, cmd.Context()
	read := svc.ReadSMI
	if from == fileSDF {
		read = svc.ReadSDF
	}
	batch, err := read(ctx, in, o.parseOptions)
	if err != nil {
		return err
	}
	defer batch.Release()

	summary := convertSummary{Read: len(batch.Handles) + len(batch.Failures)}
	for _, f := range batch.Failures {
		summary.Errors = append(summary.Errors, fmt.Sprintf("entry %d: %v", f.Position, f.Err))
	}

	var mols []*domain.Molecule
	var lines []string
	for i, h := range batch.Handles {
		out, err := transformForConvert(cmd, svc, h, o)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("molecule %d: %v", i+1, err))
			continue
		}
		if to == fileSMI {
			smi, err := svc.CanonicalText(ctx, out, "")
			if err == nil {
				m, uerr := out.Unpack()
				if uerr == nil && m.Name != "" {
					smi += " " + m.Name
				}
				lines = append(lines, smi)
			}
			err = firstErr(err, releaseIfDerived(svc, h, out))
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("molecule %d: %v", i+1, err))
			}
			continue
		}
		m, err := out.Unpack()
		_ = releaseIfDerived(svc, h, out)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("molecule %d: %v", i+1, err))
			continue
		}
		mols = append(mols, m)
	}

	var w io.Writer = cmd.OutOrStdout()
	if o.out != "-" {
		fh, err := os.Create(o.out)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidParam, "cannot create output").WithDetail(o.out)
		}
		defer fh.Close()
		w = fh
	}

	if to == fileSDF {
		program := appmol.ConfigFromEngine(cliCtx.Config.Engine).Program
		if err := molfile.WriteSDF(w, mols, molfile.WriteOptions{Program: program}); err != nil {
			return err
		}
		summary.Written = len(mols)
	} else {
		bw := bufio.NewWriter(w)
		for _, l := range lines {
			fmt.Fprintln(bw, l)
		}
		if err := bw.Flush(); err != nil {
			return errors.Wrap(err, errors.CodeInvalidParam, "write output")
		}
		summary.Written = len(lines)
	}
	summary.Failed = summary.Read - summary.Written

	errOut := cmd.ErrOrStderr()
	for _, e := range summary.Errors {
		fmt.Fprintln(errOut, color.YellowString("skipped %s", e))
	}
	// stdout already carries the converted data.
	if o.out == "-" {
		fmt.Fprintln(errOut, summary.String())
		return nil
	}
	return PrintResult(cmd, summary)
}

// transformForConvert applies --addhs and --embed. The returned handle is h
// itself when no transform was requested.
func transformForConvert(cmd *cobra.Command, svc appmol.Service, h *handle.Handle, o *convertOptions) (*handle.Handle, error) {
	if !o.addHs && !o.embed {
		return h, nil
	}
	ctx := cmd.Context()
	withHs, err := svc.CompleteHydrogens(ctx, h)
	if err != nil {
		return nil, err
	}
	if !o.embed {
		return withHs, nil
	}
	defer svc.Release(withHs)
	return svc.Embed3D(ctx, withHs, fmt.Sprintf(`{"randomSeed":%d}`, o.seed))
}

func releaseIfDerived(svc appmol.Service, orig, derived *handle.Handle) error {
	if derived == orig {
		return nil
	}
	return svc.Release(derived)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
