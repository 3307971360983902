package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/84hero/evm-gamefinder/pkg/config"
	"github.com/84hero/evm-gamefinder/pkg/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	open       opener
	configFile string
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:          "gamefinder",
		Short:        "Find and follow games of the game contract over public RPC endpoints",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "config.yaml", "config file path")

	root.AddCommand(
		c.gamesCmd(),
		c.eventsCmd(),
		c.logsCmd(),
		c.lastCmd(),
		c.monitorCmd(),
		c.watchCmd(),
		c.endpointsCmd(),
	)
	return root
}

// run loads the configuration, opens the app and calls fn with a context
// cancelled on SIGINT or SIGTERM.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	a, err := c.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func setupLogger(cfg config.LogConfig) {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(os.Stderr, level)))
		return
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, true)))
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("Metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "err", err)
		}
	}()
	return srv
}
