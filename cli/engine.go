package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalstat/catalog"
	"github.com/petal-labs/petalstat/config"
	"github.com/petal-labs/petalstat/dispatch"
	petalotel "github.com/petal-labs/petalstat/otel"
	"github.com/petal-labs/petalstat/server"
	"github.com/petal-labs/petalstat/tool"
)

const serviceName = "petalstat"

// addCatalogFlags registers the flags shared by every command that loads
// the catalogue.
func addCatalogFlags(cmd *cobra.Command) {
	cmd.Flags().String("catalog", "", "Path to a catalogue YAML file (default: discovery, then the built-in catalogue)")
	cmd.Flags().String("worker-dir", "", "Directory holding the built-in catalogue's worker scripts")
}

// addEngineFlags registers the flags that tune dispatch.
func addEngineFlags(cmd *cobra.Command) {
	addCatalogFlags(cmd)
	cmd.Flags().Duration("timeout", 0, "Default per-call timeout for tools without timeout_ms")
	cmd.Flags().Int("max-concurrent", 0, "Maximum concurrently executing workers (0 = unlimited)")
	cmd.Flags().String("log-format", "", "Log format on stderr: text | json")
}

// loadConfig reads PETALSTAT_* settings and applies any flags the user set
// explicitly. Flags win over the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}

	flags := cmd.Flags()
	if flags.Changed("catalog") {
		cfg.Catalog, _ = flags.GetString("catalog")
	}
	if flags.Changed("worker-dir") {
		cfg.WorkerDir, _ = flags.GetString("worker-dir")
	}
	if flags.Changed("timeout") {
		cfg.ToolTimeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("max-concurrent") {
		cfg.MaxConcurrent, _ = flags.GetInt("max-concurrent")
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(format))
	}
	if flags.Changed("transport") {
		transport, _ := flags.GetString("transport")
		cfg.Transport = strings.ToLower(strings.TrimSpace(transport))
	}
	if flags.Changed("addr") {
		cfg.HTTPAddr, _ = flags.GetString("addr")
	}
	if flags.Changed("max-body") {
		cfg.MaxBodyBytes, _ = flags.GetInt64("max-body")
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	return cfg, nil
}

// openCatalog loads the configured catalogue, mapping failures to exit codes.
func openCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Open(cfg.Catalog, catalog.Options{WorkerDir: cfg.WorkerDir})
	if err != nil {
		return nil, catalogExitError(err)
	}
	return cat, nil
}

func catalogExitError(err error) error {
	var regErr *tool.RegistryError
	switch {
	case errors.Is(err, os.ErrNotExist):
		return exitError(exitFileNotFound, "%v", err)
	case errors.As(err, &regErr):
		return exitError(exitValidation, "%v", err)
	default:
		return exitError(exitInputParse, "%v", err)
	}
}

// engine is the wired dispatch stack shared by serve and call.
type engine struct {
	catalog    *catalog.Catalog
	dispatcher *dispatch.Dispatcher
	metrics    *server.Metrics
	logger     *slog.Logger
	closers    []func(context.Context) error
}

type engineOptions struct {
	// withMetrics adds the Prometheus observer.
	withMetrics bool
}

func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts engineOptions) (*engine, error) {
	cat, err := openCatalog(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("catalogue loaded", "source", cat.Source, "tools", cat.Registry.Len())

	e := &engine{catalog: cat, logger: logger}

	shutdownTracing, err := petalotel.SetupTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return nil, exitError(exitRuntime, "%v", err)
	}
	e.closers = append(e.closers, shutdownTracing)

	observers, resetObserver, err := petalotel.InstrumentGlobal()
	if err != nil {
		e.Close()
		return nil, exitError(exitRuntime, "%v", err)
	}
	e.closers = append(e.closers, func(context.Context) error {
		resetObserver()
		return nil
	})

	var d *dispatch.Dispatcher
	if opts.withMetrics {
		e.metrics = server.NewMetrics(func() dispatch.Stats { return d.Stats() })
		observers = append(observers, e.metrics)
	}

	d, err = dispatch.New(dispatch.Config{
		Registry: cat.Registry,
		Executor: tool.NewWorkerExecutor(tool.ExecutorConfig{
			MaxOutputBytes: cfg.MaxOutputBytes,
		}),
		DefaultTimeout: cfg.ToolTimeout,
		MaxConcurrent:  cfg.MaxConcurrent,
		Observers:      observers,
		Logger:         logger,
	})
	if err != nil {
		e.Close()
		return nil, exitError(exitValidation, "%v", err)
	}
	e.dispatcher = d
	return e, nil
}

// longestTimeout is the largest per-call deadline any tool can run under.
func (e *engine) longestTimeout(fallback time.Duration) time.Duration {
	longest := fallback
	for _, def := range e.catalog.Registry.List() {
		if t := def.Timeout(fallback); t > longest {
			longest = t
		}
	}
	return longest
}

// Close flushes exporters and detaches observers in reverse order.
func (e *engine) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			e.logger.Warn("shutdown step failed", "error", err)
		}
	}
	e.closers = nil
}

func describeSource(cat *catalog.Catalog) string {
	if cat.Source == catalog.EmbeddedSource {
		return "built-in catalogue"
	}
	return fmt.Sprintf("catalogue %s", cat.Source)
}
