package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/engine"
	"github.com/teranos/cadence/sym"
	"github.com/teranos/cadence/version"
)

// DaemonCmd runs the engine in the foreground
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Pulse + " Run the scheduling engine",
	Long: sym.Pulse + ` Run the scheduling engine in the foreground.

The daemon will:
- Recover jobs interrupted by a previous run and re-arm every active job
- Fire one-time jobs at their instant and recurring jobs on their cron schedule
- Retry failed runs with exponential backoff
- Pick up jobs created by other cadence commands on each reconcile pass
- Serve Prometheus metrics when metrics.address is set
- Run until interrupted (Ctrl+C), letting running jobs finish`,
	RunE: runDaemon,
}

func init() {
	DaemonCmd.Flags().String("metrics-addr", "", "Serve metrics on this address (overrides metrics.address)")
	DaemonCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "How long running jobs get to finish on shutdown")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = config.Metrics.Address
	}
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	version.RegisterBuildInfo(reg)

	rt, err := openRuntime(ctx, runtimeOptions{registry: reg})
	if err != nil {
		return err
	}
	eng := rt.engine
	log := logger.AddPulseSymbol(logger.ComponentLogger("daemon"))

	if err := eng.Recover(ctx); err != nil {
		// recovery carries on past individual jobs, so keep serving the rest
		log.Errorw("Recovery finished with errors", logger.FieldError, err)
	}
	eng.Start(ctx)

	fmt.Printf("%s cadence daemon started (%s)\n", sym.PulseOpen, version.Get().String())
	fmt.Printf("  Database: %s\n", config.DatabasePath())
	fmt.Printf("  Timezone: %s\n", config.Engine.Timezone)
	fmt.Printf("  Reconcile interval: %ds\n", config.Engine.ReconcileIntervalSeconds)
	if metricsAddr != "" {
		fmt.Printf("  Metrics: http://%s/metrics\n", metricsAddr)
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsHandler(reg, eng),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Infow("Serving metrics", logger.FieldAddress, metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	serveErr := g.Wait()

	fmt.Printf("\n%s Shutting down, waiting up to %s for running jobs...\n", sym.PulseClose, shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		log.Warnw("Shutdown incomplete", logger.FieldError, err)
	}
	fmt.Printf("%s cadence daemon stopped\n", sym.PulseClose)
	return serveErr
}

// metricsHandler serves /metrics and a JSON /healthz with the engine status
func metricsHandler(reg *prometheus.Registry, eng *engine.Engine) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.Status())
	})
	return mux
}
