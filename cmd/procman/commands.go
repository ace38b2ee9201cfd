package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"github.com/procman/procman"
	"github.com/procman/procman/internal/x/loggingx"
	"github.com/procman/procman/model"
	"github.com/procman/procman/persistence"
	"github.com/procman/procman/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// host holds the state shared by all commands.
type host struct {
	configFile string
	principal  string
	storeKind  string
	storePath  string
	debug      bool

	cfg    Config
	logger logging.Logger
}

func newRootCommand() *cobra.Command {
	h := &host{}

	root := &cobra.Command{
		Use:           "procman",
		Short:         "procman executes process models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return h.configure(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&h.configFile, "config", "c", "", "config file path")
	flags.StringVar(&h.principal, "principal", "", "name of the principal performing the operation")
	flags.StringVar(&h.storeKind, "store", "", "data-store kind: memory, bolt or sqlite")
	flags.StringVar(&h.storePath, "store-path", "", "BoltDB file or SQLite DSN")
	flags.BoolVar(&h.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		h.runCommand(),
		h.statusCommand(),
		h.cancelCommand(),
		h.tickleCommand(),
	)

	return root
}

// configure loads the config file and applies any flags that override it.
func (h *host) configure(cmd *cobra.Command) error {
	cfg, err := loadConfig(h.configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("store") {
		cfg.Store.Kind = h.storeKind
	}

	if flags.Changed("store-path") {
		cfg.Store.Path = h.storePath
	}

	if flags.Changed("debug") {
		cfg.Log.Debug = h.debug
	}

	var z *zap.Logger
	if cfg.Log.Debug {
		z, err = zap.NewDevelopment()
	} else {
		z, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}

	h.cfg = cfg
	h.logger = loggingx.Zap(z)

	return nil
}

func (h *host) engineOptions(reg prometheus.Registerer) []procman.EngineOption {
	opts := []procman.EngineOption{
		procman.WithLogger(h.logger),
		procman.WithCacheSize(h.cfg.Engine.CacheSize),
		procman.WithDispatchConcurrency(h.cfg.Engine.DispatchConcurrency),
		procman.WithFinishedInstanceRetention(h.cfg.Engine.RetainFinished),
	}

	if h.cfg.Engine.TickleBackoff > 0 {
		opts = append(opts, procman.WithTickleBackoff(
			backoff.Constant(h.cfg.Engine.TickleBackoff),
		))
	}

	if reg != nil {
		opts = append(opts, procman.WithMetrics(reg))
	}

	return opts
}

func (h *host) principalOf() *security.Principal {
	if h.principal == "" {
		return nil
	}

	return &security.Principal{Name: h.principal}
}

// withEngine opens the data-store, builds an engine and calls fn with a
// transaction that is closed when fn returns.
func (h *host) withEngine(
	ctx context.Context,
	reg prometheus.Registerer,
	fn func(*procman.Engine, persistence.Transaction) error,
) (err error) {
	ds, closeStore, err := openStore(ctx, h.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if e := closeStore(); err == nil {
			err = e
		}
	}()

	e := procman.New(ds, h.engineOptions(reg)...)

	tx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	return fn(e, tx)
}

func (h *host) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var (
				registry *prometheus.Registry
				reg      prometheus.Registerer
			)

			if h.cfg.Metrics.Enabled {
				registry = prometheus.NewRegistry()
				reg = registry
			}

			return h.withEngine(ctx, reg, func(e *procman.Engine, tx persistence.Transaction) error {
				if err := h.addModels(ctx, e, tx); err != nil {
					return err
				}

				g, ctx := errgroup.WithContext(ctx)

				g.Go(func() error {
					return e.Run(ctx)
				})

				if registry != nil {
					g.Go(func() error {
						return serveMetrics(ctx, h.cfg.Metrics.Addr, registry)
					})
				}

				err := g.Wait()
				if errors.Is(err, context.Canceled) {
					return nil
				}

				return err
			})
		},
	}
}

// addModels adds the models listed in the config that the engine does not
// already have.
func (h *host) addModels(ctx context.Context, e *procman.Engine, tx persistence.Transaction) error {
	existing, err := e.GetProcessModels(ctx, tx, h.principalOf())
	if err != nil {
		return err
	}

	for _, path := range h.cfg.Models {
		m, err := model.LoadYAMLFile(path)
		if err != nil {
			return err
		}

		if hasModel(existing, m) {
			continue
		}

		m, err = e.AddProcessModel(ctx, tx, h.principalOf(), m.Definition())
		if err != nil {
			return err
		}

		logging.Log(h.logger, "added process model %s (%s) as %s", m.Name(), m.UUID(), m.Handle())
	}

	return nil
}

func hasModel(models []*model.Model, m *model.Model) bool {
	for _, x := range models {
		if x.UUID() == m.UUID() {
			return true
		}
	}

	return false
}

// serveMetrics serves the Prometheus metrics in reg until ctx is canceled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

func (h *host) statusCommand() *cobra.Command {
	return h.instanceCommand(
		"status <instance>",
		"Print a status report of an instance",
		func(ctx context.Context, cmd *cobra.Command, e *procman.Engine, tx persistence.Transaction, ih persistence.Handle) error {
			pkt, err := e.Report(ctx, tx, h.principalOf(), ih)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(pkt.Data))
			return err
		},
	)
}

func (h *host) cancelCommand() *cobra.Command {
	return h.instanceCommand(
		"cancel <instance>",
		"Cancel an instance",
		func(ctx context.Context, _ *cobra.Command, e *procman.Engine, tx persistence.Transaction, ih persistence.Handle) error {
			return e.CancelInstance(ctx, tx, h.principalOf(), ih)
		},
	)
}

func (h *host) tickleCommand() *cobra.Command {
	return h.instanceCommand(
		"tickle <instance>",
		"Re-drive an instance",
		func(ctx context.Context, _ *cobra.Command, e *procman.Engine, tx persistence.Transaction, ih persistence.Handle) error {
			return e.TickleInstance(ctx, tx, h.principalOf(), ih)
		},
	)
}

// instanceCommand returns a command that operates on the instance whose
// handle is given as its only argument.
func (h *host) instanceCommand(
	use, short string,
	fn func(context.Context, *cobra.Command, *procman.Engine, persistence.Transaction, persistence.Handle) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ih, err := parseHandle(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			return h.withEngine(ctx, nil, func(e *procman.Engine, tx persistence.Transaction) error {
				return fn(ctx, cmd, e, tx, ih)
			})
		},
	}
}

func parseHandle(s string) (persistence.Handle, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid instance handle: %q", s)
	}

	return persistence.Handle(n), nil
}
