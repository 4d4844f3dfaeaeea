package run

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/optimachain/optimachain/config"
	"github.com/optimachain/optimachain/logging"
	"github.com/optimachain/optimachain/metrics"
	"github.com/optimachain/optimachain/network"
	"github.com/optimachain/optimachain/node"
	"github.com/optimachain/optimachain/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	configFlag      = "config"
	shutdownTimeout = 10 * time.Second
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Runs a consensus node",
		RunE:  runFunc,
	}
	c.Flags().String(configFlag, "", "path to the node config file")
	return c
}

func runFunc(c *cobra.Command, _ []string) error {
	path, err := c.Flags().GetString(configFlag)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := store.Open(cfg.Storage, logger)
	if err != nil {
		return err
	}
	st, err := store.NewConsensusStore(db, cfg.Storage.CacheSize, logger)
	if err != nil {
		return errors.Join(err, db.Close())
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Closing store", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	hub := network.NewEventHub(cfg.API.AllowedOrigins, logger)
	defer hub.Close()

	n, err := node.New(cfg, st, m, hub, logger)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return err
	}
	defer n.Stop()

	server := network.NewServer(cfg.API, n, hub, registry, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API listening", zap.String("address", cfg.API.Address))
		return server.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	return g.Wait()
}
