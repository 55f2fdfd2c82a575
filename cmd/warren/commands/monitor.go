package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/monitor"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/spawn"
)

var monitorNoDocker bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the team health monitor",
	Long: `Run the health monitor and recovery controller for the configured team.

The monitor sweeps the roster, probes agents that have gone quiet past
their claim expiry, releases the work of confirmed-stalled agents, and
replaces agents that stay silent through two probe windows. It runs until
interrupted.

Agent processes are managed through Docker when available; use
--no-docker for teams whose agents run out-of-band.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorNoDocker, "no-docker", false, "Supervise health only; never terminate or spawn processes")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	opts := []monitor.Option{
		monitor.WithPollInterval(k.cfg.Monitor.PollDuration()),
		monitor.WithProbeWindow(k.cfg.Monitor.ProbeDuration()),
	}

	if !monitorNoDocker {
		runner, err := buildRunner(k)
		if err != nil {
			printer.Warning("Docker not available, process substitution disabled: %v\n", err)
		} else {
			opts = append(opts, monitor.WithRunner(runner))
		}
	}

	m := monitor.New(k.store, k.graph, k.inbox, k.roster, k.cfg.Team, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
	}()

	printer.Info("Monitoring team '%s' (poll: %v, probe window: %v)\n",
		k.cfg.Team, k.cfg.Monitor.PollDuration(), k.cfg.Monitor.ProbeDuration())

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildRunner wires the Docker runner from the first agent image defined in
// warren.yml. Teams without images get health supervision only.
func buildRunner(k *kernel) (spawn.Runner, error) {
	ctx := context.Background()
	cli, err := spawn.NewDockerClient(ctx)
	if err != nil {
		return nil, err
	}

	image := ""
	var command []string
	for _, agent := range k.cfg.Agents {
		if agent.Image != "" {
			image = agent.Image
			command = agent.Command
			break
		}
	}
	if image == "" {
		return nil, fmt.Errorf("no agent image configured in warren.yml")
	}
	return spawn.NewDockerRunner(cli, image, k.cfg.DataDir, command), nil
}
