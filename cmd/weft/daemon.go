package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weft-dev/weft/internal/audit"
	"github.com/weft-dev/weft/internal/config"
	"github.com/weft-dev/weft/internal/controlplane"
	"github.com/weft-dev/weft/internal/queue"
	"github.com/weft-dev/weft/internal/registry"
	"github.com/weft-dev/weft/internal/sandbox/localbox"
	"github.com/weft-dev/weft/internal/store"
)

var (
	configPath string
	listenAddr string
	dbPath     string
	workspace  string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Weft daemon",
	Long:  `Starts the Weft daemon which hosts the lock registry, event log, and HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default ~/.weft/config.yaml)")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database")
	daemonCmd.Flags().StringVar(&workspace, "workspace", "", "Sandbox workspace directory")
}

func loadDaemonConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromHome()
	}
	if err != nil {
		return nil, err
	}

	// Flags override the file.
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting Weft daemon...")

	cfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	resolvedDB, err := cfg.ResolveDBPath()
	if err != nil {
		return err
	}

	// Initialize store
	s, err := store.New(resolvedDB)
	if err != nil {
		return err
	}

	// Initialize sandbox and lock registry
	box, err := localbox.New(cfg.Workspace)
	if err != nil {
		s.Close()
		return err
	}
	reg := registry.New(registry.WithStore(s), registry.WithWalker(box))
	if err := reg.Restore(); err != nil {
		s.Close()
		return err
	}
	log.Printf("Restored %d locks from %s", len(reg.List("")), resolvedDB)

	// Event recorder and execution queue
	recorder := audit.NewRecorder(s)
	q := queue.New(reg, box, recorder,
		queue.WithShellTimeout(cfg.ShellTimeout()),
		queue.WithBuffer(cfg.Queue.Buffer),
	)

	// Create service and server; the queue executes actions submitted over
	// the API.
	service := controlplane.NewService(reg, s, q)
	server := controlplane.NewServer(service, cfg.Listen)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			q.Shutdown(context.Background())
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Draining execution queue...")
	if err := q.Shutdown(shutdownCtx); err != nil {
		log.Printf("Queue shutdown error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
