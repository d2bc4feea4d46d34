// Command dorm manages a project's database schema from the command line:
// it writes a starter config, applies pending migration scripts, authors new
// scripts from schema changes, and scaffolds empty scripts.
//
// Go has no module scanning, so record types cannot be discovered at run
// time the way the generate step needs. Projects that want schema-diff
// generation vendor this command and register their models in models.go;
// the stock binary ships with an empty registry and still handles the
// config, ledger and script plumbing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/dormdb/dorm"
	"github.com/dormdb/dorm/config"
	"github.com/dormdb/dorm/logging"
	"github.com/dormdb/dorm/sqlite"
)

// CLI defines the command-line interface for dorm.
var CLI struct {
	Config string `name:"config" short:"c" default:"dorm.yaml" help:"The dorm config file to use."`

	Init     InitCmd     `cmd:"" help:"Write a starter config file."`
	Migrate  MigrateCmd  `cmd:"" help:"Apply pending migration scripts."`
	Generate GenerateCmd `cmd:"" help:"Author a migration script from schema changes."`
	New      NewCmd      `cmd:"" help:"Author an empty migration script stub."`
	Version  VersionCmd  `cmd:"" help:"Print version information."`
}

// InitCmd writes a starter config file.
type InitCmd struct{}

func (c *InitCmd) Run() error {
	if err := config.Default().Write(CLI.Config); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", CLI.Config)
	return nil
}

// MigrateCmd applies every pending migration script in the configured
// directory, in name order.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx context.Context) error {
	env, err := openProject(CLI.Config)
	if err != nil {
		return err
	}
	defer env.close()

	scripts, err := dorm.ScriptsFromFS(os.DirFS(env.cfg.Migrations.Dir), ".")
	if err != nil {
		return err
	}
	if err := env.db.Migrate(ctx, env.cfg.Migrations.GroupName(), scripts); err != nil {
		return err
	}
	env.log.Info("migrations complete", "group", env.cfg.Migrations.GroupName())
	return nil
}

// GenerateCmd diffs the registered models against the live schema and
// authors a script carrying the resulting statements.
type GenerateCmd struct {
	Force bool `help:"Author an empty stub even when there are no schema changes."`
}

func (c *GenerateCmd) Run(ctx context.Context) error {
	env, err := openProject(CLI.Config)
	if err != nil {
		return err
	}
	defer env.close()

	path, err := env.db.Generate(ctx, env.cfg.Migrations.Dir, c.Force)
	if err != nil {
		return err
	}
	if path == "" {
		env.log.Info("no schema changes")
		return nil
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// NewCmd authors an empty migration script stub.
type NewCmd struct{}

func (c *NewCmd) Run() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if err := enterWorkdir(cfg); err != nil {
		return err
	}
	path, err := dorm.WriteScript(cfg.Migrations.Dir, nil)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("dorm %s (sqlite driver: %s)\n", dorm.Version, sqlite.DriverType())
	return nil
}

// projectEnv is everything a command needs once the project is open.
type projectEnv struct {
	cfg   *config.Config
	log   *logging.Logger
	db    *dorm.DB
	close func()
}

// openProject loads the config, opens the database, and binds the registered
// models.
func openProject(configPath string) (*projectEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := enterWorkdir(cfg); err != nil {
		return nil, err
	}

	log := logging.New(cfg.Logging, dorm.Version)

	sdb, err := sqlite.Open(sqlite.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := dorm.New(dorm.NewConn(sdb.DB), dorm.WithLogger(log.Logger))
	for name, model := range models {
		if _, err := db.Bind(name, model); err != nil {
			sdb.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("binding model %s: %w", name, err)
		}
	}

	return &projectEnv{
		cfg: cfg,
		log: log,
		db:  db,
		close: func() {
			sdb.Close() //nolint:errcheck // Shutdown path
		},
	}, nil
}

func enterWorkdir(cfg *config.Config) error {
	if cfg.Workdir == "" || cfg.Workdir == "." {
		return nil
	}
	if err := os.Chdir(cfg.Workdir); err != nil {
		return fmt.Errorf("entering workdir: %w", err)
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kctx := kong.Parse(&CLI,
		kong.Name("dorm"),
		kong.Description("Minimal object-relational mapping over single-file SQLite."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run()
	kctx.FatalIfErrorf(err)
}
