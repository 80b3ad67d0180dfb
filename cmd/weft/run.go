package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/weft-dev/weft/internal/audit"
	"github.com/weft-dev/weft/internal/cache"
	"github.com/weft-dev/weft/internal/config"
	"github.com/weft-dev/weft/internal/engine"
	"github.com/weft-dev/weft/internal/models"
	"github.com/weft-dev/weft/internal/provider"
	"github.com/weft-dev/weft/internal/queue"
	"github.com/weft-dev/weft/internal/registry"
	"github.com/weft-dev/weft/internal/sandbox/localbox"
	"github.com/weft-dev/weft/internal/selector"
)

var (
	runConfigPath string
	runWorkspace  string
	runPrompt     string
	runChunk      int
)

var runCmd = &cobra.Command{
	Use:   "run <transcript-file>",
	Short: "Execute a recorded action stream against a workspace",
	Long: `Replays a recorded generator transcript through the full pipeline:
incremental parsing, lock checks, and sandboxed execution. Useful for
re-applying a captured turn or exercising a workspace without a backend.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to config file (default ~/.weft/config.yaml)")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "Sandbox workspace directory (default from config)")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "replay recorded stream", "Prompt recorded with the transcript")
	runCmd.Flags().IntVar(&runChunk, "chunk", 0, "Fragment size for replay (0 = default)")
}

func loadRunConfig() (*config.Config, error) {
	if runConfigPath != "" {
		return config.LoadConfig(runConfigPath)
	}
	return config.LoadConfigFromHome()
}

func runReplay(cmd *cobra.Command, args []string) error {
	transcript, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	if runWorkspace != "" {
		cfg.Workspace = runWorkspace
	}

	box, err := localbox.New(cfg.Workspace)
	if err != nil {
		return err
	}
	reg := registry.New(registry.WithWalker(box))
	recorder := audit.NewRecorder(nil)
	q := queue.New(reg, box, recorder,
		queue.WithShellTimeout(cfg.ShellTimeout()),
		queue.WithBuffer(cfg.Queue.Buffer),
	)
	defer q.Shutdown(context.Background())

	// The transcript stands in for the configured backend, so the replay is
	// registered under that backend's name and cache entries key consistently.
	genName := cfg.Generator
	if genName == "" {
		genName = "replay"
	}
	providers := provider.NewRegistry()
	if err := providers.Register(provider.NewReplay(genName, string(transcript), runChunk)); err != nil {
		return err
	}

	responses := cache.New(
		cache.WithTTL(cfg.CacheTTL()),
		cache.WithCapacity(cfg.Cache.Capacity),
		cache.WithThreshold(cfg.Cache.SimilarityThreshold),
	)
	eng := engine.New(selector.New(nil), responses, providers, q, box,
		engine.WithBudget(cfg.Selector.BudgetBytes))

	ec := models.ExecutionContext{ID: "run", Workspace: box.Root()}
	messages := []models.Message{{Role: "user", Content: runPrompt}}

	result, err := eng.RunTurn(cmd.Context(), ec, messages, engine.TurnOptions{Model: genName})
	if result != nil {
		printTurnResult(result)
	}
	return err
}

func printTurnResult(result *engine.TurnResult) {
	if result.Text != "" {
		fmt.Println(result.Text)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}
	for _, r := range result.Results {
		switch r.Status {
		case models.StatusCompleted:
			fmt.Printf("ok      %s\n", r.Action.Summary())
		case models.StatusBlocked:
			fmt.Printf("blocked %s\n", r.Action.Summary())
		default:
			fmt.Printf("failed  %s: %v\n", r.Action.Summary(), r.Err)
		}
	}
}
