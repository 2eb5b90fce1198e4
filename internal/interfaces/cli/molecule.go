package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/pkg/errors"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// DemoInput is the molecule the demo command runs when given no argument.
const DemoInput = "c1cc(O)ccc1"

type conversionFlags struct {
	parseOptions string
	options      string
}

func (f *conversionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.parseOptions, "parse-options", "", `parse options JSON, e.g. {"sanitize":false}`)
	cmd.Flags().StringVar(&f.options, "options", "", "operation options JSON")
}

// conversion renders a ConvertResponse: the output text in text mode, the
// description in table mode.
type conversion struct {
	*moltypes.ConvertResponse
}

func (c conversion) String() string {
	return strings.TrimRight(c.Output, "\n")
}

func (c conversion) TableHeaders() []string { return []string{"Field", "Value"} }

func (c conversion) TableRows() [][]string {
	rows := [][]string{{"format", c.Format}}
	if c.Format == appmol.OutputSMILES {
		rows = append(rows, []string{"smiles", c.Output})
	}
	if d := c.Description; d != nil {
		rows = append(rows, descriptionRows(d)...)
	}
	if fp := c.Fingerprint; fp != nil {
		rows = append(rows,
			[]string{"type", string(fp.Type)},
			[]string{"length", strconv.Itoa(fp.Length)},
			[]string{"on_bits", strconv.Itoa(fp.NumOnBits)})
	}
	names := make([]string, 0, len(c.Descriptors))
	for name := range c.Descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{name, strconv.FormatFloat(c.Descriptors[name], 'f', -1, 64)})
	}
	return rows
}

func descriptionRows(d *moltypes.Description) [][]string {
	rows := [][]string{
		{"canonical", d.Canonical},
		{"formula", d.Formula},
		{"molecular_weight", strconv.FormatFloat(d.MolecularWeight, 'f', 3, 64)},
		{"atoms", strconv.Itoa(d.NumAtoms)},
		{"heavy_atoms", strconv.Itoa(d.NumHeavyAtoms)},
		{"bonds", strconv.Itoa(d.NumBonds)},
	}
	if d.Name != "" {
		rows = append([][]string{{"name", d.Name}}, rows...)
	}
	if d.Is3D {
		rows = append(rows, []string{"3d", "true"})
	}
	return rows
}

// readInput returns the positional argument, or stdin when it is "-" or
// absent.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidParam, "failed to read stdin")
	}
	text := string(data)
	if moltypes.DetectFormat(text) == moltypes.FormatSMILES {
		text = strings.TrimSpace(text)
	}
	return text, nil
}

func runConversion(cmd *cobra.Command, args []string, op string, f *conversionFlags) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	input, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	resp, err := appmol.Convert(cmd.Context(), cliCtx.Service, op, moltypes.ConvertRequest{
		Input:        input,
		ParseOptions: f.parseOptions,
		Options:      f.options,
	})
	if err != nil {
		return err
	}
	return PrintResult(cmd, conversion{resp})
}

func newConvertOpCmd(use, short, op string) *cobra.Command {
	f := &conversionFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversion(cmd, args, op, f)
		},
	}
	f.register(cmd)
	return cmd
}

func newEmbedCmd() *cobra.Command {
	f := &conversionFlags{}
	var seed int64
	cmd := &cobra.Command{
		Use:   "embed [SMILES|-]",
		Short: "Complete hydrogens, embed 3D coordinates and write a molblock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("seed") {
				opts, err := moltypes.ParseEmbedOptions(f.options)
				if err != nil {
					return err
				}
				opts.RandomSeed = seed
				raw, _ := json.Marshal(opts)
				f.options = string(raw)
			}
			return runConversion(cmd, args, appmol.ConvertEmbed, f)
		},
	}
	f.register(cmd)
	cmd.Flags().Int64Var(&seed, "seed", appmol.DefaultSeed, "random seed; overrides randomSeed in --options")
	return cmd
}

type similarityResult struct {
	*moltypes.SimilarityResponse
}

func (r similarityResult) String() string {
	return fmt.Sprintf("tanimoto %.4f dice %.4f", r.Tanimoto, r.Dice)
}

func (r similarityResult) TableHeaders() []string { return []string{"Metric", "Value"} }

func (r similarityResult) TableRows() [][]string {
	return [][]string{
		{"tanimoto", strconv.FormatFloat(r.Tanimoto, 'f', 4, 64)},
		{"dice", strconv.FormatFloat(r.Dice, 'f', 4, 64)},
	}
}

func newSimilarityCmd() *cobra.Command {
	var options string
	cmd := &cobra.Command{
		Use:   "similarity QUERY TARGET",
		Short: "Compare two molecules by fingerprint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			resp, err := appmol.Compare(cmd.Context(), cliCtx.Service, moltypes.SimilarityRequest{
				Query:   args[0],
				Target:  args[1],
				Options: options,
			})
			if err != nil {
				return err
			}
			return PrintResult(cmd, similarityResult{resp})
		},
	}
	cmd.Flags().StringVar(&options, "options", "", `fingerprint options JSON, e.g. {"radius":2,"nBits":2048}`)
	return cmd
}

// newDemoCmd runs the parse, canonical, add hydrogens, embed, molblock flow
// on one molecule and prints each stage.
func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo [SMILES]",
		Short: "Run the canonicalize and embed walkthrough",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			input := DemoInput
			if len(args) > 0 {
				input = args[0]
			}
			svc, ctx := cliCtx.Service, cmd.Context()

			h, err := svc.Parse(ctx, input, "")
			if err != nil {
				return err
			}
			defer svc.Release(h)

			canonical, err := svc.CanonicalText(ctx, h, "")
			if err != nil {
				return err
			}
			withHs, err := svc.CompleteHydrogens(ctx, h)
			if err != nil {
				return err
			}
			defer svc.Release(withHs)

			embedded, err := svc.Embed3D(ctx, withHs, fmt.Sprintf(`{"randomSeed":%d}`, appmol.DefaultSeed))
			if err != nil {
				return err
			}
			defer svc.Release(embedded)

			block, err := svc.ExportMolBlock(ctx, embedded, "")
			if err != nil {
				return err
			}

			if cliCtx.OutputFormat == OutputJSON {
				return PrintResult(cmd, map[string]string{
					"version":   svc.LibraryVersion(),
					"input":     input,
					"canonical": canonical,
					"molblock":  block,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "molcore %s\n", svc.LibraryVersion())
			fmt.Fprintf(out, "Canonical SMILES: %s\n", canonical)
			fmt.Fprintln(out, block)
			return nil
		},
	}
}

type versionResult struct {
	moltypes.VersionInfo
}

func (v versionResult) String() string {
	return fmt.Sprintf("molcore %s (toolchain %s, %s)", v.Library, v.Toolchain, v.Build)
}

func (v versionResult) TableHeaders() []string { return []string{"Component", "Version"} }

func (v versionResult) TableRows() [][]string {
	return [][]string{
		{"library", v.Library},
		{"toolchain", v.Toolchain},
		{"build", v.Build},
		{"wire", strconv.Itoa(v.Wire)},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, versionResult{appmol.VersionInfo()})
		},
	}
}
