package di

import (
	"github.com/rs/zerolog"

	"github.com/LeJamon/goMarketd/internal/config"
	"github.com/LeJamon/goMarketd/internal/index"
	_ "github.com/LeJamon/goMarketd/internal/index/postgres" // register index drivers
	_ "github.com/LeJamon/goMarketd/internal/index/sqlite"
	"github.com/LeJamon/goMarketd/internal/journal"
	_ "github.com/LeJamon/goMarketd/internal/journal/leveldb" // register journal backends
	_ "github.com/LeJamon/goMarketd/internal/journal/pebble"
	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/LeJamon/goMarketd/internal/saga"
	"github.com/LeJamon/goMarketd/internal/server"
	"github.com/LeJamon/goMarketd/internal/sweep"
)

// Provider registers all daemon services in the container.
type Provider struct {
	container *Container
	config    *config.Config
	logger    zerolog.Logger
}

// NewProvider creates a provider over the given container.
func NewProvider(container *Container, cfg *config.Config, logger zerolog.Logger) *Provider {
	return &Provider{
		container: container,
		config:    cfg,
		logger:    logger,
	}
}

// RegisterAll registers every service.
func (p *Provider) RegisterAll() error {
	p.container.Register(ServiceConfig, p.config)
	p.container.Register(ServiceLogger, p.logger)

	p.registerStorageBuilders()
	p.registerSagaBuilders()
	p.registerServerBuilders()
	return nil
}

func (p *Provider) registerStorageBuilders() {
	p.container.RegisterBuilder(ServiceIndex, func(c *Container) (interface{}, error) {
		return index.Open(index.Config{
			Driver:    p.config.Index.Driver,
			DSN:       p.config.Index.DSN,
			CacheSize: p.config.Index.CacheSize,
		})
	})

	p.container.RegisterBuilder(ServiceJournal, func(c *Container) (interface{}, error) {
		return journal.Open(journal.Config{
			Backend:     p.config.Journal.Backend,
			Path:        p.config.Journal.Path,
			Compression: p.config.Journal.Compression,
		})
	})
}

func (p *Provider) registerSagaBuilders() {
	p.container.RegisterBuilder(ServiceGateway, func(c *Container) (interface{}, error) {
		return ledger.NewClient(ledger.ClientConfig{
			Endpoint:       p.config.Ledger.Endpoint,
			RequestTimeout: p.config.Ledger.RequestTimeout,
		}, p.logger), nil
	})

	p.container.RegisterBuilder(ServiceEventHub, func(c *Container) (interface{}, error) {
		return server.NewEventHub(p.logger), nil
	})

	p.container.RegisterBuilder(ServiceCoordinator, func(c *Container) (interface{}, error) {
		gateway, err := c.Get(ServiceGateway)
		if err != nil {
			return nil, err
		}
		idx, err := c.Get(ServiceIndex)
		if err != nil {
			return nil, err
		}
		jnl, err := c.Get(ServiceJournal)
		if err != nil {
			return nil, err
		}
		hub, err := c.Get(ServiceEventHub)
		if err != nil {
			return nil, err
		}
		return saga.New(
			gateway.(ledger.Gateway),
			idx.(index.Index),
			jnl.(journal.Journal),
			saga.Config{
				Namespace:            p.config.Ledger.Namespace,
				PollMaxAttempts:      p.config.Saga.PollMaxAttempts,
				PollBaseDelay:        p.config.Saga.PollBaseDelay,
				WritebackMaxAttempts: p.config.Saga.WritebackMaxAttempts,
				WritebackDelay:       p.config.Saga.WritebackDelay,
			},
			hub.(saga.Notifier),
			p.logger,
		), nil
	})

	p.container.RegisterBuilder(ServiceSweeper, func(c *Container) (interface{}, error) {
		idx, err := c.Get(ServiceIndex)
		if err != nil {
			return nil, err
		}
		coord, err := c.Get(ServiceCoordinator)
		if err != nil {
			return nil, err
		}
		return sweep.New(
			idx.(index.Index),
			coord.(*saga.Coordinator),
			sweep.Config{
				DegradedInterval:  p.config.Sweep.DegradedInterval,
				WritebackInterval: p.config.Sweep.WritebackInterval,
				BatchSize:         p.config.Sweep.BatchSize,
				PendingGrace:      p.config.Sweep.PendingGrace,
			},
			p.logger,
		), nil
	})
}

func (p *Provider) registerServerBuilders() {
	p.container.RegisterBuilder(ServiceRPCServer, func(c *Container) (interface{}, error) {
		coord, err := c.Get(ServiceCoordinator)
		if err != nil {
			return nil, err
		}
		idx, err := c.Get(ServiceIndex)
		if err != nil {
			return nil, err
		}
		jnl, err := c.Get(ServiceJournal)
		if err != nil {
			return nil, err
		}
		return server.New(
			server.Config{
				Addr:           p.config.Server.Addr,
				RequestTimeout: p.config.Server.RequestTimeout,
			},
			coord.(*saga.Coordinator),
			idx.(index.Index),
			jnl.(journal.Journal),
			p.logger,
		), nil
	})
}
