package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	apiserver "github.com/kubev2v/ids-validator/internal/api_server"
	"github.com/kubev2v/ids-validator/internal/config"
	"github.com/kubev2v/ids-validator/internal/pool"
	"github.com/kubev2v/ids-validator/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ServeOptions struct{}

func NewCmdServe() *cobra.Command {
	o := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the validation API and metrics servers.",
		Long:  "Run the validation API and metrics servers. Settings are read from IDS_VALIDATOR_* environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	return cmd
}

func (o *ServeOptions) Run(ctx context.Context, args []string) error {
	logger := zap.S().Named("serve")
	logger.Info("Starting ids-validator service")
	defer logger.Info("ids-validator service stopped")

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}

	logger.Info("Initializing data store")
	db, err := store.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("initializing data store: %w", err)
	}
	s := store.NewStore(db)
	defer s.Close()

	if err := s.Migrate(); err != nil {
		return fmt.Errorf("running migration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	workers := pool.New(pool.WithUnitCount(cfg.Pool.Units), pool.WithBatchSize(cfg.Pool.BatchSize))
	defer workers.Terminate()
	if err := workers.Initialize(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	engineOpts := EngineOptions{
		Chunk:       cfg.Validation.ChunkSize,
		OpaWorkers:  cfg.Validation.OpaWorkers,
		PoliciesDir: cfg.Validation.PoliciesDir,
	}
	engine, err := engineOpts.Engine()
	if err != nil {
		return fmt.Errorf("creating validation engine: %w", err)
	}

	apiListener, err := newListener(cfg.Service.Address)
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}
	server, err := apiserver.New(cfg, s, apiListener, workers, engine)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	metricsListener, err := newListener(cfg.Service.MetricsAddress)
	if err != nil {
		return fmt.Errorf("creating metrics listener: %w", err)
	}
	metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, metricsListener, s)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return server.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return metricsServer.Run(gctx)
	})
	return g.Wait()
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
