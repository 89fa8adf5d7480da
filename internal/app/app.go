// Package app assembles the service object graph shared by the API and the
// worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-offers/internal/alerts"
	"github.com/noah-isme/toko-offers/internal/analytics"
	"github.com/noah-isme/toko-offers/internal/audit"
	"github.com/noah-isme/toko-offers/internal/basket"
	"github.com/noah-isme/toko-offers/internal/cache"
	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/config"
	"github.com/noah-isme/toko-offers/internal/db"
	"github.com/noah-isme/toko-offers/internal/events"
	"github.com/noah-isme/toko-offers/internal/health"
	"github.com/noah-isme/toko-offers/internal/lock"
	"github.com/noah-isme/toko-offers/internal/obs"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/partner"
	"github.com/noah-isme/toko-offers/internal/queue"
	"github.com/noah-isme/toko-offers/internal/repo"
	"github.com/noah-isme/toko-offers/internal/resilience"
	"github.com/noah-isme/toko-offers/internal/shipping"
	"github.com/noah-isme/toko-offers/internal/stock"
)

// Deps holds the wired services. DB is nil when the catalogue is served from
// fixtures.
type Deps struct {
	Config *config.Config
	Logger zerolog.Logger

	DB    *pgxpool.Pool
	Redis *redis.Client

	Catalog     catalog.Repository
	Offers      offer.Repository
	AlertStore  alerts.Store
	DeadLetters queue.DeadLetterStore
	AuditStore  audit.Store

	Bus        *events.Bus
	Selector   partner.Selector
	Strategy   *partner.Strategy
	Ledger     *stock.Ledger
	Applicator *offer.Applicator
	Shipping   *shipping.Repository
	Queue      queue.Enqueuer
	Mailer     common.EmailSender

	Baskets   *basket.Service
	Alerts    *alerts.Service
	Analytics *analytics.Service
}

// New connects to Redis (and Postgres for the postgres catalogue source),
// loads the repositories and wires the services and event subscriptions.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Deps, error) {
	d := &Deps{Config: cfg, Logger: logger}

	rdb, err := OpenRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}
	d.Redis = rdb

	var (
		stockStore stock.Store
		eventStore events.EventStore
	)
	switch cfg.CatalogSource {
	case config.SourcePostgres:
		if cfg.MigrationsAuto {
			if err := db.Up(cfg.DatabaseURL, logger); err != nil {
				d.Close()
				return nil, err
			}
		}
		pool, err := OpenPostgres(ctx, cfg.DatabaseURL, "toko-offers")
		if err != nil {
			d.Close()
			return nil, err
		}
		d.DB = pool
		store := repo.NewCatalogStore(pool)
		d.Catalog, stockStore = store, store
		d.Offers = repo.NewOfferStore(pool)
		d.AlertStore = repo.AlertStore{DB: pool}
		d.DeadLetters = repo.DeadLetterStore{DB: pool}
		d.AuditStore = repo.AuditStore{DB: pool}
		eventStore = repo.EventStore{DB: pool}
	default:
		cat, offers, err := LoadFixtures(ctx, cfg.CatalogFixture, cfg.OffersFixture)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Catalog, stockStore = cat, cat
		d.Offers = offers
		d.AlertStore = alerts.NewMemoryStore()
		d.AuditStore = &audit.MemoryStore{}
	}

	d.Selector, err = partner.NewSelector(cfg.Strategy, cfg.StrategyTaxRate)
	if err != nil {
		d.Close()
		return nil, err
	}
	// Background work (stock alerts) has no request or owner to select on.
	d.Strategy = d.Selector.StrategyFor(nil, "")

	methods, err := ShippingMethods(cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Shipping = shipping.NewRepository(methods...)

	d.Bus = &events.Bus{Store: eventStore}
	d.Ledger = &stock.Ledger{
		Store:   stockStore,
		Locker:  lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff, MaxWait: 2 * cfg.LockTTL},
		Bus:     d.Bus,
		LockTTL: cfg.LockTTL,
		Logger:  logger.With().Str("component", "stock").Logger(),
	}
	d.Applicator = &offer.Applicator{Repository: d.Offers, Logger: logger.With().Str("component", "offers").Logger()}
	d.Queue = queue.Enqueuer{R: rdb, Prefix: cfg.QueueRedisPrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.QueueMaxAttempts}

	mailLogger := logger.With().Str("component", "mail").Logger()
	breaker := resilience.NewBreaker("mail", 5, 0.5, 30*time.Second)
	breaker.Logger = mailLogger
	d.Mailer = resilience.GuardedSender{
		Sender:      common.LogEmailSender{Logger: mailLogger, From: cfg.MailFrom},
		Breaker:     breaker,
		MaxAttempts: 3,
		BaseBackoff: 200 * time.Millisecond,
	}

	d.Alerts = &alerts.Service{
		Store:    d.AlertStore,
		Catalog:  d.Catalog,
		Strategy: d.Strategy,
		Queue:    d.Queue,
		Mail:     d.Mailer,
		Logger:   logger.With().Str("component", "alerts").Logger(),
	}
	d.Alerts.Register(d.Bus)

	d.Analytics = &analytics.Service{R: rdb, Logger: logger.With().Str("component", "analytics").Logger()}
	d.Analytics.Subscribe(d.Bus)

	d.Baskets = &basket.Service{
		Store:       basket.NewRedisStore(cache.New(rdb, cfg.BasketTTL)),
		Catalog:     d.Catalog,
		Selector:    d.Selector,
		Applicator:  d.Applicator,
		Stock:       d.Ledger,
		Bus:         d.Bus,
		Shipping:    d.Shipping,
		MaxQuantity: cfg.BasketMaxQuantity,
		Logger:      logger.With().Str("component", "basket").Logger(),
	}
	return d, nil
}

// BackInStockWorker consumes back-in-stock notification tasks.
func (d *Deps) BackInStockWorker() queue.Worker {
	return queue.Worker{
		R:                 d.Redis,
		Prefix:            d.Config.QueueRedisPrefix,
		Kind:              alerts.TaskBackInStock,
		Concurrency:       d.Config.QueueConcurrency,
		VisibilityTimeout: d.Config.QueueVisibilityTimeout,
		RetryBase:         d.Config.QueueBackoffBase,
		RetryJitter:       0.2,
		DeadLetters:       d.DeadLetters,
		Handler:           d.Alerts.HandleBackInStock,
		Logger:            d.Logger.With().Str("component", "worker").Str("kind", alerts.TaskBackInStock).Logger(),
	}
}

// Probes lists the readiness checks for the configured backends.
func (d *Deps) Probes() []health.Probe {
	timeout := d.Config.HealthCheckTimeout
	probes := []health.Probe{{Name: "redis", Timeout: timeout}}
	if d.Redis != nil {
		probes[0].Ping = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	pg := health.Probe{Name: "postgres", Timeout: timeout}
	if d.DB != nil {
		pg.Ping = d.DB.Ping
	}
	return append(probes, pg)
}

// Close releases the connections opened by New.
func (d *Deps) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
}

// OpenPostgres connects a traced pgx pool and pings it.
func OpenPostgres(ctx context.Context, url, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects an instrumented Redis client and pings it.
func OpenRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// LoadFixtures reads the YAML catalogue and the offers that reference it.
func LoadFixtures(ctx context.Context, catalogPath, offersPath string) (*catalog.MemoryStore, *offer.MemoryRepository, error) {
	cf, err := os.Open(catalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalogue fixture: %w", err)
	}
	defer cf.Close()
	cat, err := catalog.LoadFixture(cf)
	if err != nil {
		return nil, nil, err
	}

	of, err := os.Open(offersPath)
	if errors.Is(err, os.ErrNotExist) {
		return cat, offer.NewMemoryRepository(), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open offers fixture: %w", err)
	}
	defer of.Close()
	offers, err := offer.LoadFixture(ctx, of, cat)
	if err != nil {
		return nil, nil, err
	}
	return cat, offers, nil
}

// ShippingMethods builds the offered methods from configuration: weight
// bands when SHIPPING_WEIGHT_BANDS is set, then a flat rate when
// SHIPPING_FLAT_RATE is positive. With neither, shipping is free.
func ShippingMethods(cfg *config.Config) ([]shipping.Method, error) {
	var methods []shipping.Method
	if cfg.ShippingBands != "" {
		bands, err := shipping.ParseBands(cfg.ShippingBands)
		if err != nil {
			return nil, err
		}
		methods = append(methods, shipping.WeightBased{
			MethodCode:    "standard",
			MethodName:    "Standard delivery",
			Bands:         bands,
			DefaultWeight: cfg.ShippingDefaultWeight,
		})
	}
	if cfg.ShippingFlatRate.IsPositive() {
		methods = append(methods, shipping.FixedPrice{
			MethodCode: "flat-rate",
			MethodName: "Flat rate",
			Amount:     cfg.ShippingFlatRate,
		})
	}
	return methods, nil
}
