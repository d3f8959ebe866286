// ============================================================================
// Dispatcher CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   dispatcher                     # Root command
//   ├── run                        # Start the dispatcher
//   │   └── --config, -c          # Specify config file
//   ├── status                     # Query a running dispatcher over gRPC
//   │   └── --addr                # Dispatcher gRPC address
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml)
//   Configuration items include:
//   - journal: durable update log path and sync behavior
//   - snapshot: snapshot path and interval
//   - cache: cache policy (1=adaptive, 2=always compute, 3=compute once)
//   - gc: job garbage collection settings
//   - grpc: service port
//   - metrics: Prometheus monitoring configuration
//
// run Command:
//   Starts the complete dispatcher, including:
//   1. Load config file
//   2. Create and start the dispatcher service (crash recovery included)
//   3. Start gRPC server
//   4. Start Metrics HTTP server (if enabled)
//   5. Listen for system signals (SIGINT, SIGTERM)
//   6. Gracefully shut down (final snapshot + journal close)
//
//   Examples:
//     ./dispatcher run
//     ./dispatcher run -c custom-config.yaml
//
// status Command:
//   Connects to a running dispatcher and prints cluster status:
//   worker counts, job counts, uptime.
//
//   Examples:
//     ./dispatcher status --addr localhost:50051
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/eth-easl/ml-input-data-service/internal/metrics"
	"github.com/eth-easl/ml-input-data-service/internal/server"
	"github.com/eth-easl/ml-input-data-service/internal/service"
	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Journal struct {
		Path         string `yaml:"path"`
		SyncOnAppend bool   `yaml:"sync_on_append"`
	} `yaml:"journal"`

	Snapshot struct {
		Path            string `yaml:"path"`
		IntervalSeconds int    `yaml:"interval_seconds"`
	} `yaml:"snapshot"`

	Cache struct {
		Policy int `yaml:"policy"` // 1=adaptive, 2=always compute, 3=compute once
	} `yaml:"cache"`

	GC struct {
		IntervalSeconds             int `yaml:"interval_seconds"`
		ClientReleaseTimeoutSeconds int `yaml:"client_release_timeout_seconds"`
	} `yaml:"gc"`

	Workers struct {
		TargetPerJob int64 `yaml:"target_per_job"` // <=0 takes all available
	} `yaml:"workers"`

	GRPC struct {
		Port int `yaml:"port"`
	} `yaml:"grpc"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dispatcher",
		Short: "Control plane for a distributed ML input data service",
		Long: `The dispatcher is the control plane of a dataset-serving cluster:
- Journal-based durability with snapshot recovery
- Worker pool reservation and task scheduling
- Adaptive cache-vs-compute decisions per dataset
- Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the dispatcher",
		Long:  "Start the dispatcher: recover state, serve gRPC, run background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatcher(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "gRPC port (overrides config)")

	return cmd
}

func runDispatcher(portOverride int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("Starting dispatcher with config: %s\n", configFile)

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	svcConfig := service.Config{
		JournalPath:          cfg.Journal.Path,
		SnapshotPath:         cfg.Snapshot.Path,
		SnapshotInterval:     time.Duration(cfg.Snapshot.IntervalSeconds) * time.Second,
		JobGCInterval:        time.Duration(cfg.GC.IntervalSeconds) * time.Second,
		ClientReleaseTimeout: time.Duration(cfg.GC.ClientReleaseTimeoutSeconds) * time.Second,
		CachePolicy:          types.CachePolicy(cfg.Cache.Policy),
		TargetWorkersPerJob:  cfg.Workers.TargetPerJob,
		SyncOnAppend:         cfg.Journal.SyncOnAppend,
	}

	d, err := service.NewDispatcher(svcConfig, collector)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("Starting metrics server on :%d\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	port := cfg.GRPC.Port
	if portOverride != 0 {
		port = portOverride
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		d.Stop()
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	grpcServer := grpc.NewServer()
	server.Register(grpcServer, server.NewServer(d))

	go func() {
		log.Printf("gRPC server listening on :%d\n", port)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("gRPC server failed: %v", err)
		}
	}()

	log.Println("Dispatcher started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("\nReceived shutdown signal, stopping gracefully...")

	grpcServer.GracefulStop()
	d.Stop()

	log.Println("Dispatcher stopped. Goodbye!")
	return nil
}

func buildStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show dispatcher status",
		Long:  "Query a running dispatcher over gRPC and display cluster status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "dispatcher gRPC address")

	return cmd
}

func showStatus(addr string) error {
	client, err := server.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to dispatcher: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.GetStatus(ctx, &server.GetStatusRequest{})
	if err != nil {
		return fmt.Errorf("failed to fetch status: %w", err)
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║           Dispatcher Status                               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("📊 Cluster:")
	fmt.Printf("  ├─ Uptime:            %v\n", resp.Status["uptime"])
	fmt.Printf("  ├─ Workers:           %v\n", resp.Status["workers"])
	fmt.Printf("  ├─ Available Workers: %v\n", resp.Status["available_workers"])
	fmt.Printf("  ├─ Jobs:              %v\n", resp.Status["jobs"])
	fmt.Printf("  └─ Active Jobs:       %v\n", resp.Status["active_jobs"])
	fmt.Println()

	fmt.Println("═══════════════════════════════════════════════════════════")
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}
