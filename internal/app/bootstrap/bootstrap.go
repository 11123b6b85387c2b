// Package bootstrap is the composition root. Construction and wiring live
// here so context modules stay framework-agnostic.
package bootstrap

import (
	"context"
	"log/slog"
	"strings"

	"steward/contexts/identity"
	identitymemory "steward/contexts/identity/adapters/memory"
	identitypostgres "steward/contexts/identity/adapters/postgres"
	identityqueries "steward/contexts/identity/application/queries"
	"steward/contexts/ordering"
	orderingmemory "steward/contexts/ordering/adapters/memory"
	orderingpostgres "steward/contexts/ordering/adapters/postgres"
	orderingqueries "steward/contexts/ordering/application/queries"
	"steward/internal/platform/config"
	"steward/internal/platform/db"
	"steward/internal/platform/httpserver"
	"steward/internal/platform/messaging"
	"steward/internal/platform/redis"
	"steward/internal/shared/commandbus"
	"steward/internal/shared/inbox"
	"steward/internal/shared/locks"
	"steward/internal/shared/outbox"
)

// core is the wiring shared by both processes: stores, lock provider,
// dispatcher, and registered context modules. With no postgres DSN it falls
// back to the in-memory profile used for local development and tests.
type core struct {
	cfg        config.Config
	logger     *slog.Logger
	postgres   *db.Postgres
	dispatcher *commandbus.Dispatcher
	uow        commandbus.UnitOfWork
	outbox     outbox.Store
	inbox      inbox.Store

	orderingDeps ordering.Dependencies
	identityDeps identity.Dependencies
}

func buildCore(process string) (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", process)

	c := &core{cfg: cfg, logger: logger}

	if strings.TrimSpace(cfg.PostgresDSN) != "" {
		pg, err := db.Connect(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		models := db.OutboxModels()
		models = append(models, db.InboxModels()...)
		models = append(models, orderingpostgres.Models()...)
		models = append(models, identitypostgres.Models()...)
		if err := pg.Migrate(models...); err != nil {
			return nil, err
		}

		orderingRepo := orderingpostgres.NewRepository(pg.DB, logger)
		identityRepo := identitypostgres.NewRepository(pg.DB, logger)

		c.postgres = pg
		c.uow = db.NewUnitOfWork(pg)
		c.outbox = db.NewOutboxStore(pg)
		c.inbox = db.NewInboxStore(pg)
		c.orderingDeps = ordering.Dependencies{
			Orders:      orderingRepo,
			Delivers:    orderingRepo,
			Clock:       orderingpostgres.SystemClock{},
			IDGenerator: orderingpostgres.UUIDGenerator{},
			Logger:      logger,
		}
		c.identityDeps = identity.Dependencies{
			Users:       identityRepo,
			Roles:       identityRepo,
			OrgUnits:    identityRepo,
			Clock:       identitypostgres.SystemClock{},
			IDGenerator: identitypostgres.UUIDGenerator{},
			Logger:      logger,
		}
	} else {
		orderingStore := orderingmemory.NewStore(nil)
		identityStore := identitymemory.NewStore()
		outboxStore := outbox.NewMemoryStore()
		inboxStore := inbox.NewMemoryStore()

		c.uow = commandbus.NewMemoryUnitOfWork(orderingStore, identityStore, outboxStore, inboxStore)
		c.outbox = outboxStore
		c.inbox = inboxStore
		c.orderingDeps = ordering.Dependencies{
			Orders:      orderingStore,
			Delivers:    orderingStore,
			Clock:       orderingStore,
			IDGenerator: orderingStore,
			Logger:      logger,
		}
		c.identityDeps = identity.Dependencies{
			Users:       identityStore,
			Roles:       identityStore,
			OrgUnits:    identityStore,
			Clock:       identityStore,
			IDGenerator: identityStore,
			Logger:      logger,
		}
	}

	var lockProvider locks.Provider
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		client, err := redis.Connect(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		lockProvider = locks.NewRedisProvider(client)
	} else {
		lockProvider = locks.NewMemoryProvider()
	}

	c.dispatcher = commandbus.NewDispatcher(commandbus.Config{
		UnitOfWork:    c.uow,
		Locks:         lockProvider,
		Outbox:        c.outbox,
		SourceService: cfg.ServiceName,
		LockTTL:       cfg.Locks.TTL,
		LockWait:      cfg.Locks.AcquireWait,
		Logger:        logger,
	})
	ordering.Register(c.dispatcher, c.orderingDeps)
	identity.Register(c.dispatcher, c.identityDeps)
	return c, nil
}

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	c, err := buildCore("api")
	if err != nil {
		return nil, err
	}

	server := httpserver.New(httpserver.Dependencies{
		Dispatcher:   c.dispatcher,
		GetOrder:     orderingqueries.GetOrderUseCase{Orders: c.orderingDeps.Orders},
		ListOrders:   orderingqueries.ListOrdersUseCase{Orders: c.orderingDeps.Orders},
		GetUser:      identityqueries.GetUserUseCase{Users: c.identityDeps.Users},
		ListUsers:    identityqueries.ListUsersUseCase{Users: c.identityDeps.Users},
		ListRoles:    identityqueries.ListRolesUseCase{Roles: c.identityDeps.Roles},
		ListOrgUnits: identityqueries.ListOrgUnitsUseCase{OrgUnits: c.identityDeps.OrgUnits},
	}, c.logger, c.cfg.HTTPAddr)

	return &APIApp{
		server:   server,
		postgres: c.postgres,
		logger:   c.logger,
	}, nil
}

func (a *APIApp) Run(_ context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"layer", "platform",
	)
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

// broker is satisfied by both messaging adapters.
type broker interface {
	outbox.Publisher
	inbox.Subscriber
}

type WorkerApp struct {
	postgres *db.Postgres
	relay    outbox.Relay
	consumer *inbox.Consumer
	broker   broker
	closeFn  func() error
	logger   *slog.Logger
}

func BuildWorker() (*WorkerApp, error) {
	c, err := buildCore("worker")
	if err != nil {
		return nil, err
	}

	var (
		b       broker
		closeFn func() error
	)
	switch c.cfg.Broker.Type {
	case "rabbitmq":
		rabbit, err := messaging.NewRabbitMQBroker(c.cfg.Broker.URL, c.cfg.Broker.Exchange, c.logger)
		if err != nil {
			return nil, err
		}
		b = rabbit
		closeFn = rabbit.Close
	default:
		b = messaging.NewMemoryBroker(c.logger)
	}

	consumer := &inbox.Consumer{
		Dispatcher:  c.dispatcher,
		Idempotency: c.inbox,
		UnitOfWork:  c.uow,
		Group:       c.cfg.ServiceName,
		Logger:      c.logger,
	}
	ordering.RegisterConsumers(consumer)

	return &WorkerApp{
		postgres: c.postgres,
		relay: outbox.Relay{
			Store:           c.outbox,
			Publisher:       b,
			BatchSize:       c.cfg.Outbox.BatchSize,
			MaxRetries:      c.cfg.Outbox.MaxRetries,
			InitialBackoff:  c.cfg.Outbox.InitialBackoff,
			PollInterval:    c.cfg.Outbox.PollInterval,
			ClaimStaleAfter: c.cfg.Outbox.ClaimStaleAfter,
			Logger:          c.logger,
		},
		consumer: consumer,
		broker:   b,
		closeFn:  closeFn,
		logger:   c.logger,
	}, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.consumer.Start(ctx, w.broker); err != nil {
		return err
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"layer", "platform",
		"poll_interval", w.relay.PollInterval.String(),
	)
	return w.relay.Run(ctx)
}

func (w *WorkerApp) Close() error {
	if w.closeFn != nil {
		if err := w.closeFn(); err != nil {
			return err
		}
	}
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}
