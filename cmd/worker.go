package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verimail/engine/pkg/batch"
	"github.com/verimail/engine/pkg/verifier"
)

var (
	workerConfigFile  string
	workerMetricsAddr string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the batch verification workers",
	Long: `Drain the batch queues until interrupted. Single-address jobs get the
wide worker pool, bulk uploads the narrow one. SIGINT and SIGTERM stop
the workers at the next address boundary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(workerConfigFile)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if rt.cfg.EnableMetrics {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: workerMetricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					rt.log.Warn("metrics server stopped", zap.Error(err))
				}
			}()
			defer func() {
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutCtx)
			}()
			rt.log.Info("metrics listening", zap.String("addr", workerMetricsAddr))
		}

		exec := batch.NewExecutor(batch.ExecutorDeps{
			Store:         rt.batch,
			Verifier:      rt.engine,
			Usage:         rt.store,
			Credits:       batch.NewUsageCredits(rt.store, rt.cfg.Batch.OwnerAllowance),
			Notify:        batch.NewWebhookNotifier(nil, rt.log),
			Metrics:       rt.metrics,
			Logger:        rt.log,
			Options:       verifier.DefaultOptions(),
			SingleWorkers: rt.cfg.VerificationConcurrency,
			BulkWorkers:   rt.cfg.BulkConcurrency,
			Batch:         rt.cfg.Batch,
			UsageTTLSec:   rt.cfg.Cache.UsageTTLSec,
		})

		fmt.Printf("VeriMail workers running (%d single, %d bulk). Ctrl-C to stop.\n",
			rt.cfg.VerificationConcurrency, rt.cfg.BulkConcurrency)
		rt.log.Info("workers started",
			zap.Int("single", rt.cfg.VerificationConcurrency),
			zap.Int("bulk", rt.cfg.BulkConcurrency))

		exec.Run(ctx)

		rt.log.Info("workers stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().StringVarP(&workerConfigFile, "config", "c", "", "Configuration file path")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
}
