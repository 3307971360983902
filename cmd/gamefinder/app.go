package main

import (
	"context"

	"github.com/84hero/evm-gamefinder/pkg/config"
	"github.com/84hero/evm-gamefinder/pkg/finder"
	"github.com/84hero/evm-gamefinder/pkg/monitor"
	"github.com/84hero/evm-gamefinder/pkg/rpc"
	"github.com/84hero/evm-gamefinder/pkg/scanner"
)

// app holds the collaborators every command works with.
type app struct {
	cfg       *config.Config
	chain     monitor.Chain
	fetcher   scanner.LogFetcher
	finder    *finder.Finder
	monitor   *monitor.Monitor
	endpoints func() []rpc.EndpointStatus
	close     func()
}

type opener func(ctx context.Context, cfg *config.Config) (*app, error)

// openApp dials every configured endpoint.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := rpc.NewPool(ctx, cfg.Endpoints, cfg.Health)
	if err != nil {
		return nil, err
	}
	fetcher := scanner.NewFetcher(pool, cfg.Fetch)
	return newApp(cfg, pool, fetcher, pool.Tracker().Snapshot, pool.Close), nil
}

func newApp(cfg *config.Config, chain monitor.Chain, fetcher scanner.LogFetcher, endpoints func() []rpc.EndpointStatus, closeFn func()) *app {
	contract := cfg.ContractAddress()
	return &app{
		cfg:       cfg,
		chain:     chain,
		fetcher:   fetcher,
		finder:    finder.New(chain, fetcher, contract, cfg.Finder),
		monitor:   monitor.New(chain, fetcher, contract, cfg.Monitor),
		endpoints: endpoints,
		close:     closeFn,
	}
}
