package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/config"
	"github.com/goran-ethernal/ChainProjector/internal/handlers"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	pkgconfig "github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         ChainProjector v%s             ║
║   Event-to-State Projection Engine        ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath   string
	retractChain string
	retractBlock string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "projector",
	Short: "ChainProjector - blockchain event to state projection",
	Long: `ChainProjector applies decoded blockchain events to a relational store.
It keeps current NFT ownership, aggregates swap volume across chains and
registers contracts discovered through factory events.`,
	Version: version,
	RunE:    runProjector,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available handler kinds",
	Long:  `List the handler kinds that can be assigned to contract groups, with their event signatures.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available handler kinds:")
		for _, kind := range handlers.AllKinds() {
			sig := kind.Signature()
			fmt.Printf("  - %-26s %s  %s\n", kind, sig.Canonical, sig.Topic.Hex())
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the projection schema",
	RunE:  runMigrate,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := jsonschema.Reflect(&pkgconfig.Config{})
		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var retractCmd = &cobra.Command{
	Use:   "retract",
	Short: "Roll a chain's projection back to before a block",
	Long: `Deletes registrations and registered rows from the given block on, rewinds the
chain's cursors and announces the retraction.

Aggregates are not compensated: swap volume added by the retracted blocks stays, and
swaps replayed from the rewound cursors are added again, so a re-mined swap is counted twice.`,
	RunE: runRetract,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	retractCmd.Flags().StringVar(&retractChain, "chain", "", "chain id (decimal or 0x hex)")
	retractCmd.Flags().StringVar(&retractBlock, "from-block", "", "first block to retract (decimal or 0x hex)")
	_ = retractCmd.MarkFlagRequired("chain")
	_ = retractCmd.MarkFlagRequired("from-block")

	rootCmd.AddCommand(listCmd, migrateCmd, schemaCmd, retractCmd)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func runProjector(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := logger.NewComponentLoggerFromConfig(common.ComponentCoordinator, cfg.Logging)

	app, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	log.Info("Starting ChainProjector...")
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("projector failed: %w", err)
	}

	log.Info("ChainProjector stopped successfully")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, dialect, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("Schema is up to date (%d migrations, %s)\n", len(handlers.Migrations()), dialect.Name)
	return nil
}

func runRetract(cmd *cobra.Command, args []string) error {
	chainID, err := common.ParseChainID(retractChain)
	if err != nil {
		return fmt.Errorf("--chain: %w", err)
	}
	fromBlock, err := common.ParseBlockNumber(retractBlock)
	if err != nil {
		return fmt.Errorf("--from-block: %w", err)
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer app.Close()

	retraction, err := app.store.Retract(ctx, chainID, fromBlock)
	if err != nil {
		return err
	}
	if err := app.sink.Retract(ctx, retraction); err != nil {
		return fmt.Errorf("announce retraction: %w", err)
	}

	fmt.Printf("Retracted chain %d from block %d: %d registration(s) withdrawn\n",
		chainID, fromBlock, len(retraction.Requests))
	return nil
}
