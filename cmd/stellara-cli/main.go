// Stellara CLI — администрирование workflows напрямую через PostgreSQL.
//
// Использование:
//
//	stellara [--config FILE] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	workflow  Управление workflows
//	dlq       Dead-letter записи
//	cursor    Курсор монитора ledger
//	migrate   Применение схемы БД
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Stellara/internal/auth"
	"github.com/shaiso/Stellara/internal/cli"
	"github.com/shaiso/Stellara/internal/config"
	"github.com/shaiso/Stellara/internal/orchestrator"
	"github.com/shaiso/Stellara/internal/repo"
	"github.com/shaiso/Stellara/internal/steps"
	"github.com/shaiso/Stellara/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "stellara",
		Short:         "Stellara CLI — ledger-triggered workflow automation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	backendFn := func(ctx context.Context) (*cli.Backend, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}

		pool, err := repo.NewPool(ctx, cfg.Database.URL, 2)
		if err != nil {
			return nil, err
		}
		store := repo.NewPGStore(pool)

		orch := orchestrator.New(orchestrator.Config{
			Store:          store,
			Users:          auth.ContextResolver{},
			DefaultRetry:   cfg.RetryPolicy(),
			KnownStepTypes: steps.DefaultRegistry().Checker(),
			Logger:         telemetry.NewLogger(telemetry.LoggerConfig{
				Component: "cli",
				Level:     slog.LevelWarn,
				Format:    "text",
				Output:    os.Stderr,
			}),
		})

		return &cli.Backend{
			Workflows:   orch,
			DeadLetters: store,
			Cursors:     store,
			Migrate:     func(ctx context.Context) error { return repo.Migrate(ctx, pool) },
			Close:       pool.Close,
		}, nil
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewWorkflowCmd(backendFn, outputFn),
		cli.NewDLQCmd(backendFn, outputFn),
		cli.NewCursorCmd(backendFn, outputFn),
		cli.NewMigrateCmd(backendFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig читает конфигурацию: --config имеет приоритет над $STELLARA_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}

	cfg := config.Default()
	if err := cfg.LoadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
