package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/config"
	"github.com/BaSui01/batchflow/internal/migration"
)

// =============================================================================
// 🗄️ 健康报告库迁移命令
// =============================================================================

// errMigrateUsage 参数错误，调用方打印用法
var errMigrateUsage = errors.New("invalid migrate usage")

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	err := migrateCommand(context.Background(), args, os.Stdout, zap.NewNop())
	if errors.Is(err, errMigrateUsage) {
		fmt.Fprintln(os.Stderr, err)
		printMigrateUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// migrateCommand 解析子命令与参数并执行，输出写入 out
func migrateCommand(ctx context.Context, args []string, out io.Writer, logger *zap.Logger) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing subcommand", errMigrateUsage)
	}

	subcommand, rest := args[0], args[1:]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage(out)
		return nil
	}

	// goto/force/steps 的第一个参数是数字
	var number int64
	switch subcommand {
	case "goto", "force", "steps":
		if len(rest) < 1 {
			return fmt.Errorf("%w: %s requires a number", errMigrateUsage, subcommand)
		}
		n, err := strconv.ParseInt(rest[0], 10, 32)
		if err != nil || (subcommand == "goto" && n < 0) || (subcommand == "steps" && n == 0) {
			return fmt.Errorf("%w: invalid number %q", errMigrateUsage, rest[0])
		}
		number, rest = n, rest[1:]
	case "up", "down", "status", "info", "version", "reset":
	default:
		return fmt.Errorf("%w: unknown subcommand %q", errMigrateUsage, subcommand)
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	all := fs.Bool("all", false, "Rollback all migrations (down only)")
	if err := fs.Parse(rest); err != nil {
		return fmt.Errorf("%w: %v", errMigrateUsage, err)
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(out)

	switch subcommand {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		if *all {
			return cli.RunDownAll(ctx)
		}
		return cli.RunDown(ctx)
	case "steps":
		return cli.RunSteps(ctx, int(number))
	case "goto":
		return cli.RunGoto(ctx, uint(number))
	case "force":
		return cli.RunForce(ctx, int(number))
	case "status":
		return cli.RunStatus(ctx)
	case "info":
		return cli.RunInfo(ctx)
	case "version":
		return cli.RunVersion(ctx)
	default: // reset
		return cli.RunReset(ctx)
	}
}

// createMigrator 优先使用 --db-type/--db-url，否则从配置文件与环境变量读取数据库配置
func createMigrator(configPath, dbType, dbURL string, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Health report database migrations

Usage:
  batchflow migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration (--all to rollback everything)
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  status      Show migration status
  info        Show migration summary
  version     Show current migration version
  reset       Rollback all migrations and apply them again
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  batchflow migrate up --config /etc/batchflow/config.yaml
  batchflow migrate status --db-type sqlite --db-url "file:/var/lib/batchflow/health.db?mode=rwc"
  batchflow migrate goto 1
  batchflow migrate down --all`)
}
