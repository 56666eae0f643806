package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goMarketd/internal/di"
	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/journal"
	"github.com/LeJamon/goMarketd/internal/server"
	"github.com/LeJamon/goMarketd/internal/sweep"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synchronization daemon",
	Long: `Start the marketd daemon: the JSON-RPC API, the WebSocket event
stream and the background reconciliation sweep.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	container := di.New()
	provider := di.NewProvider(container, cfg, logger)
	if err := provider.RegisterAll(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idxSvc, err := container.Get(di.ServiceIndex)
	if err != nil {
		return err
	}
	idx := idxSvc.(index.Index)
	if err := idx.Open(ctx); err != nil {
		return err
	}
	defer idx.Close(context.Background())

	jnlSvc, err := container.Get(di.ServiceJournal)
	if err != nil {
		return err
	}
	jnl := jnlSvc.(journal.Journal)
	defer jnl.Close()

	rpcSvc, err := container.Get(di.ServiceRPCServer)
	if err != nil {
		return err
	}
	hubSvc, err := container.Get(di.ServiceEventHub)
	if err != nil {
		return err
	}
	hub := hubSvc.(*server.EventHub)
	defer hub.Close()

	mux := http.NewServeMux()
	mux.Handle("/", rpcSvc.(http.Handler))
	mux.Handle("/rpc", rpcSvc.(http.Handler))
	mux.Handle("/ws", hub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := idx.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","service":"marketd"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","service":"marketd"}`))
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("rpc server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Sweep.Enabled {
		sweeperSvc, err := container.Get(di.ServiceSweeper)
		if err != nil {
			return err
		}
		sweeper := sweeperSvc.(*sweep.Sweeper)
		g.Go(func() error {
			logger.Info().Msg("reconciliation sweep running")
			return sweeper.Run(ctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info().Msg("daemon stopped")
	return err
}
