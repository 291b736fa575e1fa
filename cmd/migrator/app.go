package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/bgross0/data-migrator-sub001/config"
	ledgerrepo "github.com/bgross0/data-migrator-sub001/internal/repositories/ledger"
	quarantinerepo "github.com/bgross0/data-migrator-sub001/internal/repositories/quarantine"
	referencesrepo "github.com/bgross0/data-migrator-sub001/internal/repositories/references"
	runsrepo "github.com/bgross0/data-migrator-sub001/internal/repositories/runs"
	"github.com/bgross0/data-migrator-sub001/pkg/adapter"
	"github.com/bgross0/data-migrator-sub001/pkg/adapter/odoo"
	"github.com/bgross0/data-migrator-sub001/pkg/database"
	"github.com/bgross0/data-migrator-sub001/pkg/events"
	"github.com/bgross0/data-migrator-sub001/pkg/executor"
	"github.com/bgross0/data-migrator-sub001/pkg/kafka"
	"github.com/bgross0/data-migrator-sub001/pkg/ledger"
	"github.com/bgross0/data-migrator-sub001/pkg/lock"
	"github.com/bgross0/data-migrator-sub001/pkg/matching"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
	"github.com/bgross0/data-migrator-sub001/pkg/quarantine"
	"github.com/bgross0/data-migrator-sub001/pkg/references"
	"github.com/bgross0/data-migrator-sub001/pkg/runner"
	"github.com/bgross0/data-migrator-sub001/pkg/specs"
	"github.com/bgross0/data-migrator-sub001/pkg/startup"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
	"github.com/bgross0/data-migrator-sub001/pkg/validation"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath      string
	entityTypesPath string
}

// appOptions select which parts of the stack a command needs.
type appOptions struct {
	// durable commands read state written by earlier processes and need Postgres.
	durable bool
	// dryRun keeps every store in memory and targets a snapshot instead of Odoo.
	dryRun       bool
	snapshotPath string
	// noEngine skips specs and the engine graph (migrate only touches the schema).
	noEngine bool
}

// app holds the wired dependencies of one command invocation.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	startup     *startup.Startup
	db          database.DB
	redis       *redis.Client
	producer    *kafka.Producer
	stopTracing func(context.Context) error
	syncLogger  func()

	specs      []models.EntityTypeSpec
	target     adapter.Adapter
	ledger     ledger.Ledger
	quarantine *quarantine.Service
	runs       runner.Store
	controller *runner.Controller
}

func loadConfig(g *globalOptions) (*config.Config, ectologger.Logger, func(), error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, nil, withCode(exitConfig, err)
	}
	if g.entityTypesPath != "" {
		cfg.EntityTypesPath = g.entityTypesPath
	}
	logger, sync, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, nil, withCode(exitConfig, err)
	}
	return cfg, logger, sync, nil
}

func newApp(ctx context.Context, g *globalOptions, opts appOptions) (*app, error) {
	cfg, logger, sync, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, syncLogger: sync}

	if opts.durable && !cfg.UsesDatabase() {
		return nil, withCode(exitConfig, fmt.Errorf("this command reads persisted state: set DB_HOST"))
	}
	if opts.dryRun && opts.snapshotPath == "" {
		opts.snapshotPath = cfg.TargetSnapshotPath
	}

	a.stopTracing, err = tracing.Init(ctx, tracing.OTLPConfig{
		ServiceName: cfg.AppName,
		Endpoint:    cfg.OTLPEndpoint,
		Protocol:    cfg.OTLPProtocol,
		Insecure:    cfg.OTLPInsecure,
		Timeout:     10 * time.Second,
	})
	if err != nil {
		return nil, withCode(exitConfig, fmt.Errorf("tracing: %w", err))
	}

	a.startup = startup.NewStartup(logger, cfg.StartupMaxAttempts)
	if cfg.UsesDatabase() && !opts.dryRun {
		a.addDatabase()
	}
	if opts.noEngine {
		if err := a.startup.Start(ctx); err != nil {
			return nil, withCode(exitDB, err)
		}
		return a, nil
	}
	if cfg.RedisHost != "" && !opts.dryRun {
		a.addRedis()
	}
	if cfg.KafkaEnabled && !opts.dryRun {
		a.addKafka()
	}
	if err := a.startup.Start(ctx); err != nil {
		a.close(ctx)
		return nil, withCode(exitDB, err)
	}

	if err := a.wire(ctx, opts); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) addDatabase() {
	cfg := a.cfg
	a.startup.AddDependency(startup.Func{
		Name: "postgres",
		OnStart: func(ctx context.Context) error {
			db, err := database.Open(ctx, database.Config{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, a.logger)
			if err != nil {
				return err
			}
			a.db = db
			return nil
		},
		OnStop: func(context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})
	a.startup.AddDependency(startup.Func{
		Name:     "migrations",
		Requires: []string{"postgres"},
		OnStart: func(context.Context) error {
			return database.NewMigrationService(a.logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			}).Migrate(a.db, cfg.DatabaseName)
		},
	})
}

func (a *app) redisConfig() lock.RedisConfig {
	return lock.RedisConfig{
		Host:      a.cfg.RedisHost,
		Port:      a.cfg.RedisPort,
		Password:  a.cfg.RedisPassword,
		DB:        a.cfg.RedisDB,
		KeyPrefix: a.cfg.RedisKeyPrefix,
		TTL:       a.cfg.LockTTL,
		Wait:      a.cfg.LockWait,
	}
}

func (a *app) addRedis() {
	a.startup.AddDependency(startup.Func{
		Name: "redis",
		OnStart: func(ctx context.Context) error {
			rdb, err := lock.NewRedisClient(ctx, a.redisConfig(), a.logger)
			if err != nil {
				return err
			}
			a.redis = rdb
			return nil
		},
		OnStop: func(context.Context) error {
			if a.redis == nil {
				return nil
			}
			return a.redis.Close()
		},
	})
}

func (a *app) addKafka() {
	cfg := a.cfg
	a.startup.AddDependency(startup.Func{
		Name: "kafka",
		OnStart: func(context.Context) error {
			a.producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      cfg.KafkaBrokers,
				Topic:        cfg.KafkaOutputTopic,
				BatchSize:    cfg.KafkaBatchSize,
				BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
				RequiredAcks: cfg.KafkaRequiredAcks,
				Compression:  cfg.KafkaCompression,
			}, a.logger)
			return nil
		},
		OnStop: func(context.Context) error {
			if a.producer == nil {
				return nil
			}
			return a.producer.Close()
		},
	})
}

// wire builds the engine graph on top of the started infrastructure.
func (a *app) wire(ctx context.Context, opts appOptions) error {
	cfg, logger := a.cfg, a.logger

	loaded, err := specs.LoadFile(cfg.EntityTypesPath)
	if err != nil {
		return withCode(exitConfig, err)
	}
	a.specs = loaded

	target, err := a.newTarget(ctx, opts)
	if err != nil {
		return err
	}
	a.target = target

	var emitter *events.Emitter
	if a.producer != nil {
		emitter = events.NewEmitter(a.producer, logger)
	}

	var (
		qstore quarantine.Store
		refs   references.Store
	)
	if a.db != nil {
		a.ledger = ledgerrepo.NewRepository(a.db, logger)
		qstore = quarantinerepo.NewRepository(a.db, logger)
		refs = referencesrepo.NewRepository(a.db, logger)
		a.runs = runsrepo.NewRepository(a.db, logger)
	} else {
		logger.WithContext(ctx).Warn("No database configured: run state lives in memory and is lost on exit")
		a.ledger = ledger.NewMemory()
		qstore = quarantine.NewMemoryStore()
		refs = references.NewMemoryStore()
		a.runs = runner.NewMemoryStore()
	}
	a.quarantine = quarantine.NewService(qstore, models.NewSpecSet(loaded), a.ledger, emitter, logger)
	if err := a.quarantine.SyncDepth(ctx); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("Failed to sync quarantine depth gauge")
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if a.redis != nil {
		locker = lock.NewRedisLocker(a.redis, a.redisConfig(), logger)
	}

	norm := normalizers.Options{DefaultRegion: cfg.DefaultPhoneRegion, DefaultBucketDays: cfg.DefaultBucketDays}
	exec := executor.New(executor.Dependencies{
		Specs: models.NewSpecSet(loaded),
		Engine: matching.NewEngine(logger, matching.NewMemoryIndex(), matching.Config{
			CollisionMargin: cfg.CollisionMargin,
			MaxSuggestions:  cfg.MaxSuggestions,
		}),
		Ledger:     a.ledger,
		Quarantine: a.quarantine,
		Validator: validation.NewSuite(a.ledger, refs, target, validation.Config{
			SampleSize:     cfg.PostLoadSampleSize,
			StrictPostLoad: cfg.StrictPostLoad,
		}, logger),
		Target:     target,
		References: refs,
		Locker:     locker,
		Emitter:    emitter,
	}, executor.Config{
		Workers:        cfg.Workers,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		WriteTimeout:   cfg.WriteTimeout,
		Normalize:      norm,
	}, logger)

	a.controller = runner.New(exec, a.runs, runner.Config{
		BatchTimeout: cfg.BatchTimeout,
		SeedIndex:    cfg.SeedIndexFromTarget,
	}, logger)
	return nil
}

func (a *app) newTarget(ctx context.Context, opts appOptions) (adapter.Adapter, error) {
	if opts.dryRun || a.cfg.TargetAdapter == "memory" {
		mem := adapter.NewMemory()
		if opts.snapshotPath == "" {
			return mem, nil
		}
		f, err := os.Open(opts.snapshotPath)
		if err != nil {
			return nil, withCode(exitUsage, fmt.Errorf("open snapshot: %w", err))
		}
		defer f.Close()
		n, err := mem.LoadSnapshot(f)
		if err != nil {
			return nil, withCode(exitConfig, err)
		}
		a.logger.WithContext(ctx).WithFields(map[string]any{"entities": n, "path": opts.snapshotPath}).Info("Loaded canonical snapshot")
		return mem, nil
	}

	cfg := a.cfg
	return odoo.New(odoo.Config{
		URL:               cfg.OdooURL,
		Database:          cfg.OdooDatabase,
		Username:          cfg.OdooUsername,
		Password:          cfg.OdooPassword,
		Timeout:           cfg.OdooTimeout,
		RequestsPerSecond: cfg.OdooRequestsPerSecond,
		BreakerFailures:   uint32(cfg.OdooBreakerFailures),
		BreakerTimeout:    cfg.OdooBreakerTimeout,
		PageSize:          cfg.OdooPageSize,
	}, &http.Client{}, a.logger), nil
}

func (a *app) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if a.startup != nil {
		if err := a.startup.Stop(ctx); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warn("Failed to stop dependencies")
		}
	}
	if a.stopTracing != nil {
		if err := a.stopTracing(ctx); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warn("Failed to flush traces")
		}
	}
	if a.syncLogger != nil {
		a.syncLogger()
	}
}
