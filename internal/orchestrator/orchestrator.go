// Package orchestrator runs the whole pipeline: it starts a throwaway
// PostgreSQL server, applies a changelog, generates Go sources from the
// resulting schema and registers them with the enclosing build.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andrewkroh/pgsourcegen/internal/build"
	"github.com/andrewkroh/pgsourcegen/internal/changelog"
	"github.com/andrewkroh/pgsourcegen/internal/generator"
	"github.com/andrewkroh/pgsourcegen/internal/introspect"
	"github.com/andrewkroh/pgsourcegen/internal/migrate"
	"github.com/andrewkroh/pgsourcegen/internal/pgcontainer"
)

// Tables of the migration bookkeeping that are never generated.
var bookkeepingTables = []string{"databasechangelog.*"}

// Instance is a running database server.
type Instance interface {
	Handle() pgcontainer.Handle
	Stop(ctx context.Context) error
}

// Launcher starts a database server with an empty database.
type Launcher interface {
	Launch(ctx context.Context, database string) (Instance, error)
}

// Database is an open connection to an Instance.
type Database interface {
	migrate.DB
	Close()
}

// ConnectFunc opens a connection to the server at connString.
type ConnectFunc func(ctx context.Context, connString string) (Database, error)

// Migrator applies a changelog.
type Migrator interface {
	Update(ctx context.Context, db migrate.DB, cl *changelog.Changelog, contexts ...string) (*migrate.Result, error)
}

// ReadSchemaFunc introspects a schema.
type ReadSchemaFunc func(ctx context.Context, q introspect.Querier, filter introspect.Filter) (*introspect.Schema, error)

// Result describes a successful run.
type Result struct {
	OutputDir       string   // Registered source root.
	PackageDir      string   // Directory holding the generated package.
	Files           []string // Generated file names.
	ChangeSets      int      // Changesets executed by the migration.
	SourceRootAdded bool     // False if the source root was already registered.
}

// Orchestrator sequences one run. Nil collaborators are replaced by the
// Docker, pgx and introspection defaults.
type Orchestrator struct {
	Launcher   Launcher
	Connect    ConnectFunc
	Migrator   Migrator
	ReadSchema ReadSchemaFunc
	Logger     *slog.Logger
}

// New returns an Orchestrator with the default collaborators.
func New(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{Logger: logger}
}

// Run executes the pipeline for cfg. The database server is stopped on
// every return path. Errors are *Error values wrapping one of the Err
// categories.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*Result, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, wrap(ErrInvalidConfig, err)
	}

	cl, err := changelog.Load(cfg.ChangelogPath)
	if err != nil {
		return nil, wrap(ErrMigration, err)
	}
	var aug *generator.AugmentConfig
	if cfg.AugmentFile != "" {
		if aug, err = generator.LoadAugmentations(cfg.AugmentFile); err != nil {
			return nil, wrap(ErrGeneration, err)
		}
	}

	launcher := o.Launcher
	if launcher == nil {
		l, err := pgcontainer.NewLauncher(pgcontainer.Options{
			Image:          cfg.Image,
			Platform:       cfg.Platform,
			StartupTimeout: cfg.StartupTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, wrap(ErrContainerStartup, err)
		}
		defer l.Close()
		launcher = dockerLauncher{l}
	}

	logger.Info("starting database", "database", cfg.Schema, "image", cfg.Image)
	inst, err := launcher.Launch(ctx, cfg.Schema)
	if err != nil {
		return nil, wrap(ErrContainerStartup, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if stopErr := inst.Stop(stopCtx); stopErr != nil {
			logger.Warn("failed to stop database", "error", stopErr)
		}
	}()

	connect := o.Connect
	if connect == nil {
		connect = connectPool
	}
	db, err := connect(ctx, inst.Handle().ConnString())
	if err != nil {
		return nil, wrap(ErrConnection, err)
	}
	defer db.Close()

	migrator := o.Migrator
	if migrator == nil {
		migrator = migrate.New(logger)
	}
	mres, err := migrator.Update(ctx, db, cl, cfg.Contexts...)
	if err != nil {
		return nil, wrap(ErrMigration, err)
	}

	readSchema := o.ReadSchema
	if readSchema == nil {
		readSchema = introspect.Read
	}
	schema, err := readSchema(ctx, db, introspect.Filter{
		InputSchema: introspect.DefaultSchema,
		Includes:    []string{".*"},
		Excludes:    bookkeepingTables,
	})
	if err != nil {
		return nil, wrap(ErrGeneration, err)
	}

	outputDir := cfg.OutputPath()
	gen, err := generator.Run(schema, generator.Config{
		PackageName: cfg.PackageName,
		OutputDir:   outputDir,
		Generate:    cfg.Generate,
		Augment:     aug,
	})
	if err != nil {
		return nil, wrap(ErrGeneration, err)
	}
	logger.Info("generated sources", "dir", gen.Dir, "files", len(gen.Files), "tables", len(schema.Tables))

	desc, err := build.Open(cfg.BuildFile, cfg.ProjectDir)
	if err != nil {
		return nil, wrap(ErrSourceRootRegistration, err)
	}
	added, err := desc.AddCompileSourceRoot(outputDir)
	if err != nil {
		return nil, wrap(ErrSourceRootRegistration, err)
	}
	if added {
		if err := desc.Save(); err != nil {
			return nil, wrap(ErrSourceRootRegistration, err)
		}
		logger.Info("registered source root", "dir", outputDir, "build_file", cfg.BuildFile)
	}

	return &Result{
		OutputDir:       outputDir,
		PackageDir:      gen.Dir,
		Files:           gen.Files,
		ChangeSets:      len(mres.Steps),
		SourceRootAdded: added,
	}, nil
}

// dockerLauncher adapts pgcontainer.Launcher to Launcher.
type dockerLauncher struct {
	l *pgcontainer.Launcher
}

func (d dockerLauncher) Launch(ctx context.Context, database string) (Instance, error) {
	c, err := d.l.Launch(ctx, database)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// connectPool opens a connection pool and checks that it can reach the
// server.
func connectPool(ctx context.Context, connString string) (Database, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
