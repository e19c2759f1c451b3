package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pelageech/nocache/config"
	"github.com/pelageech/nocache/fileserver"
	"github.com/pelageech/nocache/metrics"
	"github.com/pelageech/nocache/server"
	"github.com/pelageech/nocache/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	bolt "go.etcd.io/bbolt"
)

const (
	statsDBMode    = 0o600
	statsDBTimeout = time.Second
)

func main() {
	rootCmd, err := newRootCmd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, error) {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "nocache",
		Short:        "Serve a directory over HTTP with caching disabled",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	if err := config.BindFlags(rootCmd, v); err != nil {
		return nil, err
	}

	rootCmd.AddCommand(newStatsCmd())
	return rootCmd, nil
}

// run serves until SIGINT or SIGTERM.
func run(ctx context.Context, cfg *config.ServerConfig, stdout, stderr io.Writer) error {
	logger := cfg.Logger(stderr)

	fsys, err := fileserver.RootFs(cfg.Root)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg, fsys, logger)
	srv.SetOutput(stdout)

	if cfg.MetricsAddress != "" {
		srv.SetMetrics(metrics.NewMetrics(prometheus.NewRegistry()))
	}

	if cfg.StatsDB != "" {
		svc := &stats.Service{}
		svc.SetLogger(logger)
		if err := svc.Connect(cfg.StatsDB, statsDBMode, &bolt.Options{Timeout: statsDBTimeout}); err != nil {
			return err
		}
		defer func() {
			if err := svc.Close(); err != nil {
				logger.Error("Closing stats database", "err", err)
			}
		}()
		srv.SetHitRecorder(svc)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}

func newStatsCmd() *cobra.Command {
	var (
		dbPath string
		reset  bool
	)

	statsCmd := &cobra.Command{
		Use:          "stats",
		Short:        "Print how often each path was served",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(cmd.ErrOrStderr())
			svc := &stats.Service{}
			svc.SetLogger(logger)

			// a running server holds the lock, so this fails after the timeout
			opts := &bolt.Options{Timeout: statsDBTimeout, ReadOnly: !reset}
			if err := svc.Connect(dbPath, statsDBMode, opts); err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					logger.Error("Closing stats database", "err", err)
				}
			}()

			if reset {
				if err := svc.Reset(); err != nil {
					return fmt.Errorf("reset: %w", err)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Stats have been reset.")
				return err
			}

			hits, err := svc.Hits()
			if err != nil {
				return err
			}
			return printHits(cmd.OutOrStdout(), hits)
		},
	}

	f := statsCmd.Flags()
	f.StringVar(&dbPath, "stats-db", "", "Path to the hit counter database")
	f.BoolVar(&reset, "reset", false, "Delete all the records")
	_ = statsCmd.MarkFlagRequired("stats-db")

	return statsCmd
}

func printHits(w io.Writer, hits []stats.Hit) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tHITS\tLAST STATUS\tLAST SERVED")
	for _, hit := range hits {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", hit.Path, hit.Count, hit.LastStatus, hit.LastServed.Format(time.RFC3339))
	}
	return tw.Flush()
}
