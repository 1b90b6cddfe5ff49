package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/gridplanner/internal/api"
	"github.com/signalsfoundry/gridplanner/internal/backend"
	"github.com/signalsfoundry/gridplanner/internal/config"
	"github.com/signalsfoundry/gridplanner/internal/events"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/observability"
	"github.com/signalsfoundry/gridplanner/internal/schedule"
	"github.com/signalsfoundry/gridplanner/internal/session"
	"github.com/signalsfoundry/gridplanner/kb"
	"github.com/signalsfoundry/gridplanner/model"
	"github.com/signalsfoundry/gridplanner/timectrl"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Config may not have loaded, so the environment picks the format.
		logging.NewFromEnv().Error(context.Background(), "gridconsole failed", logging.Err(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "gridconsole",
		Short:         "Planning console for rural wireless grids",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("GRIDCONSOLE_CONFIG"), "Path to a YAML or JSON config file")

	root.AddCommand(newServeCmd(&configFile), newSectorsCmd(&configFile))
	return root
}

func newServeCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console API for one planning session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.New()
			for key, flag := range map[string]string{
				"listen":          "listen",
				"metrics_listen":  "metrics-listen",
				"backend.url":     "backend-url",
				"sectors.file":    "sectors",
				"sectors.default": "sector",
				"nats.url":        "nats-url",
			} {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			cfg, err := config.LoadWith(v, *configFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logging.New(cfg.Log.Logging()))
		},
	}
	cmd.Flags().String("listen", ":8080", "HTTP address for the console API")
	cmd.Flags().String("metrics-listen", ":9090", "HTTP address for Prometheus /metrics; empty disables")
	cmd.Flags().String("backend-url", "http://localhost:8000", "Base URL of the planning services")
	cmd.Flags().String("sectors", "", "Sector catalog YAML; empty uses the built-in catalog")
	cmd.Flags().String("sector", "chitkul", "Initial sector id")
	cmd.Flags().String("nats-url", "", "NATS server for session events; empty disables")
	return cmd
}

func newSectorsCmd(configFile *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sectors",
		Short: "List the sectors in the configured catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			catalog, err := kb.LoadSectorsFile(cfg.Sectors.File)
			if err != nil {
				return err
			}
			return printSectors(cmd.OutOrStdout(), catalog.ListSectors(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printSectors(w io.Writer, sectors []model.Sector, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sectors)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTERRAIN\tCENTER")
	for _, s := range sectors {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f,%.4f\n", s.ID, s.Name, s.Terrain, s.Center.Lat, s.Center.Lng)
	}
	return tw.Flush()
}

// serve wires the session to its collaborators and blocks until ctx is
// cancelled.
func serve(ctx context.Context, cfg config.Config, log logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	collector, err := observability.NewConsoleCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsListen, collector, log)

	catalog, err := kb.LoadSectorsFile(cfg.Sectors.File)
	if err != nil {
		return err
	}
	sector, err := pickSector(catalog, cfg.Sectors.Default)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	clock := timectrl.NewTimeController(time.Now(), cfg.Clock.Tick, timectrl.RealTime)
	sched := schedule.NewEventScheduler(clock)
	clock.AddListener(func(time.Time) { sched.RunDue() })
	clockDone := clock.Start(ctx, 0)

	sess := session.New(sector,
		session.Services{Planner: client, Telemetry: client, Rerouter: client},
		sched,
		session.WithConfig(cfg.Session),
		session.WithLogger(log),
		session.WithMetrics(collector),
	)
	defer sess.Close()

	if cfg.NATS.Enabled() {
		nc, err := events.Connect(cfg.NATS.URL, cfg.NATS.ClientName, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		detach := events.NewPublisher(nc, cfg.NATS.SubjectPrefix, log).Attach(sess)
		defer detach()
		log.Info(ctx, "forwarding session events to nats",
			logging.String("url", cfg.NATS.URL),
			logging.String("prefix", cfg.NATS.SubjectPrefix),
		)
	}

	log.Info(ctx, "console ready",
		logging.String("sector", sector.ID),
		logging.String("backend", cfg.Backend.URL),
		logging.Int("sectors", catalog.Len()),
	)

	srv := api.New(sess, catalog,
		api.WithLogger(log),
		api.WithMetrics(collector),
		api.WithAllowedOrigins(cfg.AllowedOrigins...),
	)
	serveErr := srv.Serve(ctx, cfg.Listen)

	log.Info(context.WithoutCancel(ctx), "shutting down console")
	cancel()
	<-clockDone
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return serveErr
}

func pickSector(catalog *kb.SectorCatalog, id string) (model.Sector, error) {
	if s, ok := catalog.GetSector(id); ok {
		return s, nil
	}
	return model.Sector{}, fmt.Errorf("default sector %q not in catalog", id)
}

func serveMetrics(addr string, collector *observability.ConsoleCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
