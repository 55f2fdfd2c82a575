package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/internal/inbox"
	"github.com/dyluth/warren/internal/monitor"
	"github.com/dyluth/warren/internal/roster"
	"github.com/dyluth/warren/internal/spawn"
	"github.com/dyluth/warren/pkg/board"
	"github.com/redis/go-redis/v9"
)

// The monitor daemon runs containerized next to the team lead. It reads
// warren.yml from the mounted workspace and supervises the team until
// terminated.
func main() {
	// 1. Locate configuration
	configPath := os.Getenv("WARREN_CONFIG")
	if configPath == "" {
		configPath = "/workspace/warren.yml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load warren.yml: %v\n", err)
		os.Exit(1)
	}

	// 2. Open the board store
	var store board.Store
	switch cfg.Store.Backend {
	case config.BackendRedis:
		store, err = board.NewRedisStore(&redis.Options{Addr: cfg.Store.RedisAddr}, cfg.Team)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
			os.Exit(1)
		}
	default:
		store, err = board.NewFileStore(cfg.DataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to open board at %s: %v\n", cfg.DataDir, err)
			os.Exit(1)
		}
	}
	defer store.Close()

	fmt.Printf("Monitor starting for team '%s' with %d agents\n", cfg.Team, len(cfg.Agents))

	// 3. Wire the services
	ib := inbox.New(store)
	g := graph.New(store, cfg.Team,
		graph.WithNotifier(ib),
		graph.WithClaimExpiry(cfg.Monitor.ClaimExpiryOverrides()))
	reg := roster.New(store)

	opts := []monitor.Option{
		monitor.WithPollInterval(cfg.Monitor.PollDuration()),
		monitor.WithProbeWindow(cfg.Monitor.ProbeDuration()),
	}

	// 4. Docker is optional: without it the monitor supervises health but
	// cannot substitute processes.
	ctx := context.Background()
	if cli, err := spawn.NewDockerClient(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Docker not accessible (substitution disabled): %v\n", err)
	} else {
		image := ""
		var command []string
		for _, agent := range cfg.Agents {
			if agent.Image != "" {
				image = agent.Image
				command = agent.Command
				break
			}
		}
		if image == "" {
			fmt.Println("Warning: no agent image in warren.yml, substitution disabled")
			cli.Close()
		} else {
			runner := spawn.NewDockerRunner(cli, image, cfg.DataDir, command)
			opts = append(opts, monitor.WithRunner(runner))
			defer cli.Close()
			fmt.Println("Docker client initialized for agent substitution")
		}
	}

	m := monitor.New(store, g, ib, reg, cfg.Team, opts...)

	// 5. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Run(runCtx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Monitor error: %v\n", runErr)
			os.Exit(1)
		}
	}

	fmt.Println("Monitor stopped")
}
