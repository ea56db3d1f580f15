package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appMemory "github.com/memvault/backend/internal/application/memory"
	"github.com/memvault/backend/internal/domain/memory"
	"github.com/memvault/backend/internal/infrastructure/config"
	applog "github.com/memvault/backend/internal/infrastructure/log"
	"github.com/memvault/backend/internal/wire"
)

var (
	configPath string

	checkUserID  int64
	checkChatID  int64
	checkSamples bool

	repairFull bool

	syncBatch int
)

var rootCmd = &cobra.Command{
	Use:           "memvault",
	Short:         "Dual-store message memory backend",
	Long:          `memvault keeps a relational message ledger and a vector index mutually consistent, and exposes operator commands for integrity checking, repair and embedding backfill.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Scan both stores and report divergence",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Stop()

		report, err := app.Diagnostic.Scan(cmd.Context(), scanOptions())
		if err != nil {
			return fmt.Errorf("failed to scan stores: %w", err)
		}
		printReport(report)

		stats, err := app.Diagnostic.CategoryStats(checkUserID, checkChatID)
		if err != nil {
			return fmt.Errorf("failed to collect category stats: %w", err)
		}
		printCategoryStats(stats)

		if report.Diverged() {
			return fmt.Errorf("%w: %d entries, run `memvault repair`", memory.ErrDivergenceDetected, report.DivergenceCount())
		}
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair divergence between the two stores",
	Long:  `Scans both stores and repairs every divergence found: orphan vectors are deleted, stale vectors are re-embedded, duplicate links are resolved and missing embeddings are backfilled. With --full the vector collection is dropped and rebuilt from the relational ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Stop()

		before, after, err := app.Diagnostic.Fix(cmd.Context(), nil, repairFull)
		if err != nil {
			return fmt.Errorf("failed to repair stores: %w", err)
		}

		fmt.Printf("repaired %d divergence(s)\n", before.DivergenceCount()-after.DivergenceCount())
		if after.Diverged() {
			return fmt.Errorf("%w: %d entries remain, rerun once the vector store is reachable",
				memory.ErrDivergenceDetected, after.DivergenceCount())
		}
		fmt.Println("stores are consistent")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Backfill embeddings for pending messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Stop()

		synced, err := app.Coordinator.SyncMissingEmbeddings(cmd.Context(), syncBatch)
		if err != nil {
			return fmt.Errorf("failed to sync embeddings: %w", err)
		}
		fmt.Printf("synced %d message(s)\n", synced)
		return nil
	},
}

// initApp 加载配置并装配应用
func initApp(ctx context.Context) (*wire.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	app, err := wire.InitializeApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to start application: %w", err)
	}
	return app, nil
}

func scanOptions() appMemory.ScanOptions {
	return appMemory.ScanOptions{
		UserID:         checkUserID,
		ChatID:         checkChatID,
		IncludeSamples: checkSamples,
	}
}

func printReport(report *memory.IntegrityReport) {
	fmt.Printf("scanned at %s\n", time.Unix(report.GeneratedAt, 0).Format(time.RFC3339))
	fmt.Printf("relational messages: %d\n", report.RelationalCount)
	fmt.Printf("vector records:      %d\n", report.VectorCount)

	if !report.Diverged() {
		fmt.Println("stores are consistent")
		return
	}

	fmt.Printf("divergence detected: %d entries\n", report.DivergenceCount())
	if len(report.MissingEmbedding) > 0 {
		fmt.Printf("  missing embeddings (%d): %v\n", len(report.MissingEmbedding), report.MissingEmbedding)
	}
	if len(report.OrphanVectors) > 0 {
		fmt.Printf("  orphan vectors (%d): %v\n", len(report.OrphanVectors), report.OrphanVectors)
	}
	if len(report.StaleVectors) > 0 {
		fmt.Printf("  stale vectors (%d): %v\n", len(report.StaleVectors), report.StaleVectors)
	}
	if len(report.DuplicateEmbeddingIDs) > 0 {
		fmt.Printf("  duplicate embedding ids (%d): %v\n", len(report.DuplicateEmbeddingIDs), report.DuplicateEmbeddingIDs)
	}

	for _, msg := range report.Samples {
		fmt.Printf("  sample #%d [%s] %s\n", msg.ID, msg.Role, truncate(msg.Content, 60))
	}
}

func printCategoryStats(stats []memory.CategoryStat) {
	if len(stats) == 0 {
		return
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Total > stats[j].Total })
	fmt.Println("categories:")
	for _, s := range stats {
		fmt.Printf("  %-10s %6d message(s), avg importance %.1f\n", s.Category, s.Total, s.AvgImportance)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func main() {
	applog.Init(applog.NewConfigFromEnv())

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (defaults to ~/.memvault/config.yaml)")

	checkCmd.Flags().Int64Var(&checkUserID, "user", 0, "restrict the scan to one user id")
	checkCmd.Flags().Int64Var(&checkChatID, "chat", 0, "restrict the scan to one chat id")
	checkCmd.Flags().BoolVar(&checkSamples, "sample", false, "include recent message samples in the report")

	repairCmd.Flags().BoolVar(&repairFull, "full", false, "drop the vector collection and rebuild it from the ledger")

	syncCmd.Flags().IntVar(&syncBatch, "batch", 100, "maximum number of messages to backfill in one run")

	rootCmd.AddCommand(checkCmd, repairCmd, syncCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
