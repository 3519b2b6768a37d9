package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/objrt/pkg/version"
)

const (
	flagConfig      = "config"
	flagConfigUsage = "config file (default .objrt.yaml in CWD or $HOME)"
	flagVerbose     = "verbose"
	flagNoColor     = "no-color"
)

// NewRootCommand builds the objrt command tree.
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "objrt",
		Short: "Reference-counted object runtime: symbol interning and serialization",
		Long: `objrt exercises a reference-counted object runtime.

Commands:
  intern     Intern strings and report pool state
  serialize  Serialize interned strings to tagged XML
  stress     Hammer a shared pool from concurrent workers`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if noColor {
				color.NoColor = true //nolint:reassign // intentional override of library global
			}
		},
	}

	rootCmd.PersistentFlags().String(flagConfig, "", flagConfigUsage)
	rootCmd.PersistentFlags().BoolP(flagVerbose, "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, flagNoColor, false, "disable colored output")

	rootCmd.AddCommand(NewInternCommand())
	rootCmd.AddCommand(NewSerializeCommand())
	rootCmd.AddCommand(NewStressCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "objrt %s\n", version.String())
		},
	}
}
