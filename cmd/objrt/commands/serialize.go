package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/objrt/internal/observability"
	"github.com/Sumatoshi-tech/objrt/pkg/safeconv"
	"github.com/Sumatoshi-tech/objrt/pkg/serialize"
	"github.com/Sumatoshi-tech/objrt/pkg/symbol"
)

const (
	serializeCmdUse   = "serialize [string...]"
	serializeCmdShort = "Intern strings and serialize them as one tagged <array>"

	flagStats      = "stats"
	flagStatsUsage = "print buffer statistics to stderr"

	arrayElement = "array"
)

type serializeOptions struct {
	stdin bool
	stats bool
}

// NewSerializeCommand creates the serialize subcommand.
func NewSerializeCommand() *cobra.Command {
	var opts serializeOptions

	cmd := &cobra.Command{
		Use:   serializeCmdUse,
		Short: serializeCmdShort,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSerialize(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.stdin, flagStdin, false, flagStdinUsage)
	cmd.Flags().BoolVar(&opts.stats, flagStats, false, flagStatsUsage)

	return cmd
}

// symbolList is the serialized root. It has no text form of its own and is
// written through a serialize.ForTarget adapter.
type symbolList struct {
	items []*symbol.Symbol
}

func serializeList(sr *serialize.Serializer, target, _ any) error {
	list, ok := target.(*symbolList)
	if !ok {
		return fmt.Errorf("serialize list: unexpected target %T", target)
	}

	seen, err := sr.PreviouslySerialized(list)
	if err != nil || seen {
		return err
	}

	err = sr.AddXMLStartTag(list, arrayElement)
	if err != nil {
		return err
	}

	for _, sym := range list.items {
		err = sr.Emit(sym)
		if err != nil {
			return err
		}
	}

	return sr.AddXMLEndTag(arrayElement)
}

func runSerialize(cmd *cobra.Command, args []string, opts serializeOptions) error {
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

	ctx, span := e.providers.Tracer.Start(cmd.Context(), "serialize")
	defer span.End()

	pool := e.newPool()
	list := &symbolList{items: make([]*symbol.Symbol, 0, len(inputs))}

	for _, in := range inputs {
		list.items = append(list.items, pool.Intern(in))
	}

	defer func() {
		for _, sym := range list.items {
			sym.Release()
		}
	}()

	sr, err := e.newSerializer()
	if err != nil {
		return err
	}

	defer sr.Close()

	err = sr.Emit(serialize.ForTarget(list, serializeList, nil))
	if err != nil {
		return fmt.Errorf("serialize %d strings: %w", len(inputs), err)
	}

	e.logger.DebugContext(ctx, "serialized", "inputs", len(inputs), "bytes", sr.Len()-1)

	_, err = fmt.Fprintln(cmd.OutOrStdout(), sr.Text())
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if opts.stats {
		fmt.Fprintf(cmd.ErrOrStderr(), "serializer: %s used of %s capacity (increment %s), %d distinct symbols\n",
			humanize.IBytes(safeconv.ClampToUint64(sr.Len())),
			humanize.IBytes(safeconv.ClampToUint64(sr.Cap())),
			humanize.IBytes(safeconv.ClampToUint64(sr.Increment())),
			pool.Len(),
		)
	}

	return nil
}
