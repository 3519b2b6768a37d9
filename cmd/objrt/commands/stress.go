package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/objrt/internal/observability"
	"github.com/Sumatoshi-tech/objrt/pkg/safeconv"
	"github.com/Sumatoshi-tech/objrt/pkg/serialize"
	"github.com/Sumatoshi-tech/objrt/pkg/symbol"
)

const (
	stressCmdUse   = "stress"
	stressCmdShort = "Intern, look up, serialize and release from concurrent workers, then verify the pool"

	flagWorkers             = "workers"
	flagWorkersUsage        = "concurrent workers (default from stress.workers)"
	flagIterations          = "iterations"
	flagIterationsUsage     = "operations per worker (default from stress.iterations)"
	flagVocabulary          = "vocabulary"
	flagVocabularyUsage     = "distinct strings shared by workers (default from stress.vocabulary)"
	flagSerializeEvery      = "serialize-every"
	flagSerializeEveryUsage = "serialize each worker's held symbols every N operations (0 disables)"
	flagMetricsAddr         = "metrics-addr"
	flagMetricsAddrUsage    = "serve /metrics, /healthz and /readyz on this address while running"
	flagSeed                = "seed"
	flagSeedUsage           = "random seed (0 picks one from the clock)"

	defaultSerializeEvery = 64
	maxHeldPerWorker      = 32
	ctxCheckInterval      = 256
	serverShutdownTimeout = 5 * time.Second
	serverReadTimeout     = 5 * time.Second

	opIntern    = "intern"
	opLookup    = "lookup"
	opRelease   = "release"
	opSerialize = "serialize"
)

type stressOptions struct {
	workers        int
	iterations     int
	vocabulary     int
	serializeEvery int
	metricsAddr    string
	seed           uint64
}

// NewStressCommand creates the stress subcommand.
func NewStressCommand() *cobra.Command {
	var opts stressOptions

	cmd := &cobra.Command{
		Use:   stressCmdUse,
		Short: stressCmdShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStress(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.workers, flagWorkers, 0, flagWorkersUsage)
	cmd.Flags().IntVar(&opts.iterations, flagIterations, 0, flagIterationsUsage)
	cmd.Flags().IntVar(&opts.vocabulary, flagVocabulary, 0, flagVocabularyUsage)
	cmd.Flags().IntVar(&opts.serializeEvery, flagSerializeEvery, defaultSerializeEvery, flagSerializeEveryUsage)
	cmd.Flags().StringVar(&opts.metricsAddr, flagMetricsAddr, "", flagMetricsAddrUsage)
	cmd.Flags().Uint64Var(&opts.seed, flagSeed, 0, flagSeedUsage)

	return cmd
}

// stressRun is the shared state of one stress invocation.
type stressRun struct {
	opts    stressOptions
	env     *env
	pool    *symbol.Pool
	ops     *observability.OpMetrics
	vocab   []string
	counts  []workerCounts
	started time.Time
}

type workerCounts struct {
	interns    int
	lookups    int
	releases   int
	serialized int
}

func (o *stressOptions) applyDefaults(e *env) {
	if o.workers <= 0 {
		o.workers = e.cfg.Stress.Workers
	}

	if o.iterations <= 0 {
		o.iterations = e.cfg.Stress.Iterations
	}

	if o.vocabulary <= 0 {
		o.vocabulary = e.cfg.Stress.Vocabulary
	}

	if o.seed == 0 {
		o.seed = uint64(time.Now().UnixNano())
	}
}

func runStress(cmd *cobra.Command, opts stressOptions) error {
	e, err := setupEnv(cmd, observability.ModeStress)
	if err != nil {
		return err
	}

	defer e.close(cmd.Context())

	opts.applyDefaults(e)

	meter := e.providers.Meter

	var exporter *observability.PrometheusExporter

	if opts.metricsAddr != "" {
		exporter, err = observability.NewPrometheusExporter()
		if err != nil {
			return err
		}

		defer func() {
			_ = exporter.Provider.Shutdown(context.WithoutCancel(cmd.Context()))
		}()

		meter = exporter.Provider.Meter("objrt")
	}

	run, reg, err := newStressRun(e, opts, meter)
	if err != nil {
		return err
	}

	defer func() {
		_ = reg.Unregister()
	}()

	if exporter != nil {
		stop, serveErr := serveMetrics(cmd.Context(), e, opts.metricsAddr, exporter.Handler, run.pool)
		if serveErr != nil {
			return serveErr
		}

		defer stop()
	}

	ctx, span := e.providers.Tracer.Start(cmd.Context(), "stress")
	defer span.End()

	e.logger.InfoContext(ctx, "stress started",
		"workers", opts.workers, "iterations", opts.iterations, "vocabulary", opts.vocabulary, "seed", opts.seed)

	workErr := run.execute(ctx)
	elapsed := time.Since(run.started)
	checkErr := run.pool.Check()

	span.SetAttributes(
		attribute.Int("stress.workers", opts.workers),
		attribute.Int("stress.iterations", opts.iterations),
		attribute.Bool("stress.consistent", checkErr == nil),
	)

	writeStressReport(cmd.OutOrStdout(), run, elapsed, checkErr)

	return errors.Join(workErr, checkErr)
}

func newStressRun(e *env, opts stressOptions, meter metric.Meter) (*stressRun, metric.Registration, error) {
	poolMetrics, err := observability.NewPoolMetrics(meter)
	if err != nil {
		return nil, nil, err
	}

	opMetrics, err := observability.NewOpMetrics(meter)
	if err != nil {
		return nil, nil, err
	}

	pool := e.newPool(symbol.WithObserver(poolMetrics))

	reg, err := poolMetrics.Watch(pool)
	if err != nil {
		return nil, nil, err
	}

	return &stressRun{
		opts:   opts,
		env:    e,
		pool:   pool,
		ops:    opMetrics,
		vocab:  buildVocabulary(opts.vocabulary),
		counts: make([]workerCounts, opts.workers),
	}, reg, nil
}

// buildVocabulary mixes plain identifiers with strings that need escaping.
func buildVocabulary(n int) []string {
	vocab := make([]string, n)

	for i := range vocab {
		switch i % 8 {
		case 0:
			vocab[i] = "IOService<" + strconv.Itoa(i) + ">"
		case 1:
			vocab[i] = "com.example.driver&" + strconv.Itoa(i)
		default:
			vocab[i] = "sym-" + strconv.Itoa(i)
		}
	}

	return vocab
}

func (r *stressRun) execute(ctx context.Context) error {
	r.started = time.Now()

	group, groupCtx := errgroup.WithContext(ctx)

	for worker := range r.opts.workers {
		group.Go(func() error {
			return r.work(groupCtx, worker)
		})
	}

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("stress workers: %w", err)
	}

	return nil
}

func (r *stressRun) work(ctx context.Context, worker int) error {
	rng := rand.New(rand.NewPCG(r.opts.seed, uint64(worker)))
	counts := &r.counts[worker]
	held := make([]*symbol.Symbol, 0, maxHeldPerWorker)

	defer func() {
		for _, sym := range held {
			sym.Release()
		}
	}()

	sr, err := r.env.newSerializer()
	if err != nil {
		return err
	}

	defer sr.Close()

	for i := range r.opts.iterations {
		if i%ctxCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		text := r.vocab[rng.IntN(len(r.vocab))]

		switch {
		case len(held) > 0 && (len(held) == maxHeldPerWorker || rng.IntN(3) == 0):
			idx := rng.IntN(len(held))
			done := r.ops.Track(ctx, opRelease)
			held[idx].Release()
			held[idx] = held[len(held)-1]
			held = held[:len(held)-1]
			done(nil)

			counts.releases++
		case rng.IntN(4) == 0:
			done := r.ops.Track(ctx, opLookup)
			if sym := r.pool.Lookup(text); sym != nil {
				held = append(held, sym)
			}

			done(nil)

			counts.lookups++
		default:
			done := r.ops.Track(ctx, opIntern)
			sym := r.pool.Intern(text)
			held = append(held, sym)

			if !sym.EqualString(text) {
				err = fmt.Errorf("worker %d: interned %q, got %q", worker, text, sym.String())
			}

			done(err)

			if err != nil {
				return err
			}

			counts.interns++
		}

		if r.opts.serializeEvery > 0 && i%r.opts.serializeEvery == r.opts.serializeEvery-1 {
			err = r.serializeHeld(ctx, sr, held)
			if err != nil {
				return fmt.Errorf("worker %d: %w", worker, err)
			}

			counts.serialized++
		}
	}

	return nil
}

func (r *stressRun) serializeHeld(ctx context.Context, sr *serialize.Serializer, held []*symbol.Symbol) error {
	done := r.ops.Track(ctx, opSerialize)

	list := &symbolList{items: held}
	err := sr.Emit(serialize.ForTarget(list, serializeList, nil))
	sr.Clear()

	done(err)

	return err
}

func writeStressReport(w io.Writer, run *stressRun, elapsed time.Duration, checkErr error) {
	var total workerCounts

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Worker", "Interns", "Lookups", "Releases", "Serialized"})

	for idx, c := range run.counts {
		tbl.AppendRow(table.Row{idx, c.interns, c.lookups, c.releases, c.serialized})

		total.interns += c.interns
		total.lookups += c.lookups
		total.releases += c.releases
		total.serialized += c.serialized
	}

	tbl.AppendFooter(table.Row{"Total", total.interns, total.lookups, total.releases, total.serialized})
	tbl.Render()

	stats := run.pool.Stats()
	ops := total.interns + total.lookups + total.releases

	fmt.Fprintf(w, "%s ops in %s; created %s, freed %s, hits %s, misses %s, grows %d, shrinks %d, live %d\n",
		humanize.Comma(int64(ops)),
		elapsed.Round(time.Millisecond),
		humanize.Comma(safeconv.ClampToInt64(stats.Created)),
		humanize.Comma(safeconv.ClampToInt64(stats.Freed)),
		humanize.Comma(safeconv.ClampToInt64(stats.Hits)),
		humanize.Comma(safeconv.ClampToInt64(stats.Misses)),
		stats.Grows,
		stats.Shrinks,
		stats.Live,
	)

	if checkErr != nil {
		color.New(color.FgRed).Fprintf(w, "pool inconsistent: %v\n", checkErr)

		return
	}

	color.New(color.FgGreen).Fprintf(w, "pool consistent\n")
}

// serveMetrics starts the scrape server and returns a function that stops it.
func serveMetrics(
	ctx context.Context, e *env, addr string, metrics http.Handler, pool *symbol.Pool,
) (func(), error) {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.Handle("/healthz", observability.HealthHandler())
	mux.Handle("/readyz", observability.ReadyHandler(func(context.Context) error {
		return pool.Check()
	}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: serverReadTimeout}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			e.logger.Error("metrics server", "error", serveErr)
		}
	}()

	e.logger.InfoContext(ctx, "metrics server listening", "addr", listener.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
