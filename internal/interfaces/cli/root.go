// Package cli implements the molcore command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/internal/config"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
)

const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputTable = "table"
)

type cliContextKey struct{}

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath   string
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	Service      appmol.Service
	OutputFormat string
	Verbose      bool
}

// NewRootCommand builds the molcore command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	var cancel context.CancelFunc

	cmd := &cobra.Command{
		Use:     "molcore",
		Short:   "molcore parses, canonicalizes, embeds and exports molecules",
		Long:    "molcore reads SMILES, MDL molblocks and CommonChem JSON, writes canonical\nSMILES, completes hydrogens, embeds 3D coordinates and exports V2000 molblocks.",
		Version: appmol.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cancel, err = persistentPreRun(cmd, opts)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cancel != nil {
				cancel()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./molcore.yaml)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", OutputText, "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&opts.Timeout, "timeout", time.Minute, "overall command timeout")

	cmd.AddCommand(
		newConvertOpCmd("canon [SMILES|-]", "Write canonical SMILES", appmol.ConvertCanonical),
		newConvertOpCmd("parse [SMILES|-]", "Parse a molecule and describe it", appmol.ConvertParse),
		newConvertOpCmd("addhs [SMILES|-]", "Make implicit hydrogens explicit and write a molblock", appmol.ConvertHydrogens),
		newConvertOpCmd("removehs [SMILES|-]", "Fold explicit hydrogens and write canonical SMILES", appmol.ConvertRemoveHydrogen),
		newEmbedCmd(),
		newConvertOpCmd("molblock [SMILES|-]", "Write a V2000 molblock", appmol.ConvertMolBlock),
		newConvertOpCmd("json [SMILES|-]", "Write a CommonChem JSON document", appmol.ConvertJSON),
		newConvertOpCmd("fingerprint [SMILES|-]", "Write a Morgan or path fingerprint as a bit string", appmol.ConvertFingerprint),
		newConvertOpCmd("descriptors [SMILES|-]", "Compute molecular descriptors", appmol.ConvertDescriptors),
		newConvertOpCmd("neutralize [SMILES|-]", "Neutralize charges and write canonical SMILES", appmol.ConvertNeutralize),
		newSimilarityCmd(),
		newConvertCmd(),
		newDemoCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) (context.CancelFunc, error) {
	switch opts.OutputFormat {
	case OutputText, OutputJSON, OutputTable:
	default:
		return nil, errors.InvalidParam("unknown output format").WithDetail(opts.OutputFormat)
	}
	if opts.NoColor {
		color.NoColor = true
	}

	cfg, err := initConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}
	logger, err := initLogger(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		Service:      appmol.NewService(logger, appmol.WithConfig(appmol.ConfigFromEngine(cfg.Engine))),
		OutputFormat: opts.OutputFormat,
		Verbose:      opts.Verbose,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, cliContextKey{}, cliCtx)
	var cancel context.CancelFunc = func() {}
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	cmd.SetContext(ctx)
	return cancel, nil
}

// initConfig loads --config, else the first config file found on the search
// path, else environment variables over defaults.
func initConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}

	searchPaths := []string{"./molcore.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".molcore", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/molcore/config.yaml")

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}
	return config.LoadFromEnv()
}

// initLogger writes console logs to stderr so stdout carries only results.
func initLogger(cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	level := cfg.Log.Level
	if level == "" || level == logging.LevelInfo {
		level = logging.LevelWarn
	}
	if opts.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts the CLIContext stored by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.Internal("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.Internal("CLI context not initialized")
	}
	return cliCtx, nil
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// tableProvider is implemented by results that render as a table.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult writes data in the selected output format.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := OutputText
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = cliCtx.OutputFormat
	}

	switch format {
	case OutputJSON:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputTable:
		if tp, ok := data.(tableProvider); ok {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader(tp.TableHeaders())
			table.SetAutoWrapText(false)
			table.AppendBulk(tp.TableRows())
			table.Render()
			return nil
		}
	}

	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

// PrintError writes err to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}
