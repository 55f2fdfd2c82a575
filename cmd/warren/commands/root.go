package commands

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/admission"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/internal/inbox"
	"github.com/dyluth/warren/internal/roster"
	"github.com/dyluth/warren/pkg/board"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - Filesystem-backed coordination for agent fleets",
	Long: `Warren coordinates a team of long-lived worker agents through a shared
board: a task dependency graph, per-agent inboxes, a team roster, and a
risk admission controller, all persisted with atomic writes under
advisory locks.

Every command reads warren.yml for the team, data directory, and store
backend. Run 'warren monitor' next to the team lead to supervise the
fleet.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFileName, "Path to warren.yml")
}

// kernel bundles the coordination services every command works against.
type kernel struct {
	cfg       *config.WarrenConfig
	store     board.Store
	graph     *graph.Graph
	inbox     *inbox.Service
	roster    *roster.Registry
	admission *admission.Controller
}

// openKernel loads warren.yml and wires the store and services.
// Callers must Close the kernel when done.
func openKernel() (*kernel, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var store board.Store
	switch cfg.Store.Backend {
	case config.BackendRedis:
		store, err = board.NewRedisStore(&redis.Options{Addr: cfg.Store.RedisAddr}, cfg.Team)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Store.RedisAddr, err)
		}
	default:
		store, err = board.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening board at %s: %w", cfg.DataDir, err)
		}
	}

	ib := inbox.New(store)
	g := graph.New(store, cfg.Team,
		graph.WithNotifier(ib),
		graph.WithClaimExpiry(cfg.Monitor.ClaimExpiryOverrides()))
	return &kernel{
		cfg:       cfg,
		store:     store,
		graph:     g,
		inbox:     ib,
		roster:    roster.New(store),
		admission: admission.New(store, g, cfg.Team),
	}, nil
}

func (k *kernel) Close() {
	k.store.Close()
}
