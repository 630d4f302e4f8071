package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	streams "github.com/hugolhafner/go-streams-runtime"
	"github.com/hugolhafner/go-streams-runtime/config"
	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/metrics"
	"github.com/hugolhafner/go-streams-runtime/plugins/zaplogger"
	"github.com/hugolhafner/go-streams-runtime/state/boltstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type options struct {
	configPath  string
	brokers     []string
	input       string
	output      string
	metricsAddr string
	cacheSize   int
	describe    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "wordcount",
		Short: "Count the words of a topic of text lines",
		Long: "wordcount splits every line of the input topic into words and keeps a running count per word " +
			"in a local store backed by a changelog topic. Each new count is written to the output topic.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "wordcount.yaml", "YAML configuration file, missing files are ignored")
	f.StringSliceVar(&opts.brokers, "brokers", nil, "bootstrap servers, overrides the configuration")
	f.StringVar(&opts.input, "input", "wordcount-input", "topic of text lines")
	f.StringVar(&opts.output, "output", "wordcount-output", "topic receiving word counts")
	f.StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "listen address of /metrics and /healthz, empty to disable")
	f.IntVar(&opts.cacheSize, "cache-size", 1000, "entries cached before the count store is flushed, 0 forwards every update")
	f.BoolVar(&opts.describe, "describe", false, "print the topology and exit")

	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadWithDefaults(opts.configPath, map[string]any{"application_id": "wordcount"})
	if err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	l, zl, err := zaplogger.NewProduction(level)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	topo, err := buildTopology(cfg.ApplicationID, opts.input, opts.output, boltstore.Supplier(), opts.cacheSize)
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}
	if opts.describe {
		topo.Describe(os.Stdout)
		return nil
	}

	brokers := cfg.Brokers
	if len(opts.brokers) > 0 {
		brokers = opts.brokers
	}
	supplier := kafka.NewKgoSupplier(kafka.WithBootstrapServers(brokers...), kafka.WithLogger(l))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureRepartitionTopic(ctx, supplier, cfg.ApplicationID, opts.input); err != nil {
		return err
	}

	app, err := streams.NewApplication(supplier, topo, cfg.Options(l)...)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}

	var srv *http.Server
	if opts.metricsAddr != "" {
		srv = newMetricsServer(opts.metricsAddr, app)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error("Metrics server failed", "error", err)
			}
		}()
	}

	l.Info("Starting wordcount", "brokers", brokers, "input", opts.input, "output", opts.output)
	runErr := app.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return runErr
}

// ensureRepartitionTopic creates the topic between the two subtopologies with as many
// partitions as the input
func ensureRepartitionTopic(ctx context.Context, supplier kafka.Supplier, applicationID, input string) error {
	admin, err := supplier.Admin(kafka.ClientConfig{ClientID: applicationID + "-setup"})
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	defer admin.Close()

	counts, err := admin.PartitionCounts(ctx, input)
	if err != nil {
		return fmt.Errorf("describe %s: %w", input, err)
	}

	err = admin.EnsureTopics(
		ctx, map[string]kafka.TopicConfig{
			repartitionTopic(applicationID): {Partitions: counts[input], ReplicationFactor: -1},
		},
	)
	if err != nil {
		return fmt.Errorf("create repartition topic: %w", err)
	}
	return nil
}

func newMetricsServer(addr string, app *streams.Application) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewHealthCollector(app),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc(
		"/healthz", func(w http.ResponseWriter, _ *http.Request) {
			if !app.IsRunning() {
				http.Error(w, "not running", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		},
	)

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
