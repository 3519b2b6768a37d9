package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/objrt/internal/observability"
	"github.com/Sumatoshi-tech/objrt/pkg/safeconv"
	"github.com/Sumatoshi-tech/objrt/pkg/symbol"
)

const (
	internCmdUse   = "intern [string...]"
	internCmdShort = "Intern strings and report the resulting symbols and pool state"

	flagStdin          = "stdin"
	flagStdinUsage     = "read one string per line from stdin"
	flagNoCopy         = "no-copy"
	flagNoCopyUsage    = "intern without copying, then relocate before the input buffer is reused"
	flagTraceRefs      = "trace-refs"
	flagTraceRefsUsage = "log every retain and release at debug level"
)

// ErrNoInput is returned when intern or serialize has nothing to process.
var ErrNoInput = errors.New("no input strings (pass arguments or --stdin)")

type internOptions struct {
	format    string
	stdin     bool
	noCopy    bool
	traceRefs bool
}

// NewInternCommand creates the intern subcommand.
func NewInternCommand() *cobra.Command {
	var opts internOptions

	cmd := &cobra.Command{
		Use:   internCmdUse,
		Short: internCmdShort,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntern(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, flagFormat, flagFormatShort, formatTable, flagFormatUsage)
	cmd.Flags().BoolVar(&opts.stdin, flagStdin, false, flagStdinUsage)
	cmd.Flags().BoolVar(&opts.noCopy, flagNoCopy, false, flagNoCopyUsage)
	cmd.Flags().BoolVar(&opts.traceRefs, flagTraceRefs, false, flagTraceRefsUsage)

	return cmd
}

// symbolRow is one distinct interned string.
type symbolRow struct {
	Text      string `json:"text"      yaml:"text"`
	Length    int    `json:"length"    yaml:"length"`
	Refs      int    `json:"refs"      yaml:"refs"`
	Ownership string `json:"ownership" yaml:"ownership"`
}

type internReport struct {
	Symbols   []symbolRow  `json:"symbols"   yaml:"symbols"`
	Relocated int          `json:"relocated" yaml:"relocated"`
	Stats     symbol.Stats `json:"stats"     yaml:"stats"`
}

func runIntern(cmd *cobra.Command, args []string, opts internOptions) error {
	formatErr := validateFormat(opts.format)
	if formatErr != nil {
		return formatErr
	}

	inputs := args

	if opts.stdin {
		lines, readErr := readLines(cmd.InOrStdin())
		if readErr != nil {
			return readErr
		}

		inputs = append(inputs, lines...)
	}

	if len(inputs) == 0 {
		return ErrNoInput
	}

	e, err := setupEnv(cmd, observability.ModeCLI)
	if err != nil {
		return err
	}

	defer e.close(cmd.Context())

	var poolOpts []symbol.Option
	if opts.traceRefs {
		poolOpts = append(poolOpts, symbol.WithTracer(observability.NewRefTracer(e.logger)))
	}

	pool := e.newPool(poolOpts...)

	var region []byte

	syms := make([]*symbol.Symbol, 0, len(inputs))

	if opts.noCopy {
		region = []byte(strings.Join(inputs, ""))
		offset := 0

		for _, in := range inputs {
			syms = append(syms, pool.InternNoCopy(region[offset:offset+len(in)]))
			offset += len(in)
		}
	} else {
		for _, in := range inputs {
			syms = append(syms, pool.Intern(in))
		}
	}

	defer func() {
		for _, sym := range syms {
			sym.Release()
		}
	}()

	report := internReport{Symbols: distinctRows(syms)}

	if opts.noCopy {
		report.Relocated = pool.RelocateRegion(region)
		clear(region)
	}

	checkErr := pool.Check()
	if checkErr != nil {
		return fmt.Errorf("pool check: %w", checkErr)
	}

	report.Stats = pool.Stats()

	e.logger.DebugContext(cmd.Context(), "interned", "inputs", len(inputs), "distinct", report.Stats.Live)

	if opts.format == formatTable {
		return writeInternTable(cmd.OutOrStdout(), report)
	}

	return writeStructured(cmd.OutOrStdout(), opts.format, report)
}

func distinctRows(syms []*symbol.Symbol) []symbolRow {
	seen := make(map[*symbol.Symbol]bool, len(syms))
	rows := make([]symbolRow, 0, len(syms))

	for _, sym := range syms {
		if seen[sym] {
			continue
		}

		seen[sym] = true

		rows = append(rows, symbolRow{
			Text:      sym.String(),
			Length:    sym.Len(),
			Refs:      sym.RetainCount(),
			Ownership: sym.Ownership().String(),
		})
	}

	return rows
}

func writeInternTable(w io.Writer, report internReport) error {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Symbol", "Length", "Refs", "Ownership"})

	for _, row := range report.Symbols {
		tbl.AppendRow(table.Row{row.Text, row.Length, row.Refs, row.Ownership})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d symbols", len(report.Symbols))})
	tbl.Render()

	stats := report.Stats

	_, err := fmt.Fprintf(w,
		"pool: %s live, %s buckets (floor %d, longest chain %d), %s content, %d relocated\n",
		humanize.Comma(int64(stats.Live)),
		humanize.Comma(int64(stats.Buckets)),
		stats.Floor,
		stats.LongestBucket,
		humanize.IBytes(safeconv.ClampToUint64(stats.ContentBytes)),
		report.Relocated,
	)
	if err != nil {
		return fmt.Errorf("write pool summary: %w", err)
	}

	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}

	return lines, nil
}
