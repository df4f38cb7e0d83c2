package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sirheads/phoenix-orchestrator/pkg/application"
	"github.com/sirheads/phoenix-orchestrator/pkg/executor"
	"github.com/sirheads/phoenix-orchestrator/pkg/feature"
	"github.com/sirheads/phoenix-orchestrator/pkg/fleet"
	"github.com/sirheads/phoenix-orchestrator/pkg/hostadapter"
	"github.com/sirheads/phoenix-orchestrator/pkg/liveness"
	"github.com/sirheads/phoenix-orchestrator/pkg/log"
	"github.com/sirheads/phoenix-orchestrator/pkg/manifest"
	"github.com/sirheads/phoenix-orchestrator/pkg/metrics"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenix"
	"github.com/sirheads/phoenix-orchestrator/pkg/phoenixerr"
	"github.com/sirheads/phoenix-orchestrator/pkg/reconcile"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "orchestrator",
	Short:   "Phoenix — declarative Proxmox LXC fleet orchestrator",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("orchestrator version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve Prometheus metrics on (unset disables the metrics server)")
	rootCmd.PersistentFlags().String("global-file", "", "Path to the global settings JSON file (default: $PHOENIX_GLOBAL_FILE)")
	rootCmd.PersistentFlags().String("lxc-file", "", "Path to the LXC configs JSON file (default: $PHOENIX_LXC_FILE)")

	cobra.OnInitialize(initLogging, initMetricsServer)

	rootCmd.AddCommand(reconcileCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	if debugEnv() {
		logLevel = "debug"
	}

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func initMetricsServer() {
	addr, _ := rootCmd.PersistentFlags().GetString("metrics-addr")
	if addr == "" {
		return
	}
	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
}

func debugEnv() bool {
	v, _ := strconv.ParseBool(os.Getenv("PHOENIX_DEBUG"))
	return v
}

func dryRunEnv() bool {
	v, _ := strconv.ParseBool(os.Getenv("DRY_RUN"))
	return v
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [CTID]",
	Short: "Reconcile one CTID, or every CTID in the manifest with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		parallel, _ := cmd.Flags().GetInt("parallel")

		if !all && len(args) != 1 {
			return &phoenixerr.ConfigError{Err: errors.New("exactly one CTID is required unless --all is set")}
		}

		globalPath, _ := cmd.Flags().GetString("global-file")
		if globalPath == "" {
			globalPath = os.Getenv("PHOENIX_GLOBAL_FILE")
		}
		lxcPath, _ := cmd.Flags().GetString("lxc-file")
		if lxcPath == "" {
			lxcPath = os.Getenv("PHOENIX_LXC_FILE")
		}
		if globalPath == "" || lxcPath == "" {
			return &phoenixerr.ConfigError{Err: errors.New("manifest paths required: set --global-file/--lxc-file or PHOENIX_GLOBAL_FILE/PHOENIX_LXC_FILE")}
		}

		acc, err := manifest.Load(globalPath, lxcPath)
		if err != nil {
			return err
		}

		rc := phoenix.RunContext{
			Manifest: acc,
			DryRun:   dryRun || dryRunEnv(),
			Parallel: parallel,
		}

		engine := buildEngine(rc)
		ctx, cancel := signalContext()
		defer cancel()

		if all {
			driver := fleet.New(engine)
			summary := driver.RunAll(ctx, rc)
			fmt.Println(summary.String())
			if summary.FatalTemplate != nil {
				return summary.FatalTemplate.Err
			}
			if len(summary.Failed) > 0 {
				return summary.Failed[0].Err
			}
			return nil
		}

		ctid, err := strconv.Atoi(args[0])
		if err != nil {
			return &phoenixerr.ConfigError{Err: fmt.Errorf("invalid CTID %q: %w", args[0], err)}
		}

		result, err := engine.Reconcile(ctx, rc, ctid)
		if err != nil {
			return err
		}
		if result.AlreadySatisfied {
			fmt.Printf("ctid %d already satisfied\n", ctid)
		} else {
			fmt.Printf("ctid %d reconciled\n", ctid)
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Bool("all", false, "Reconcile every CTID declared in the manifest")
	reconcileCmd.Flags().Bool("dry-run", false, "Log mutating commands instead of running them")
	reconcileCmd.Flags().Int("parallel", 0, "Number of independent leaf CTIDs to reconcile concurrently (0 or 1 disables)")
}

// buildEngine wires the Command Executor, Host Adapter, Liveness Prober,
// Feature Registry, and Application Registry into a Reconciliation Engine.
func buildEngine(rc phoenix.RunContext) *reconcile.Engine {
	exec := executor.New(rc.DryRun)
	host := hostadapter.New(exec, rc.DryRun)
	prober := liveness.New(host, host)

	features := feature.NewRegistry()
	features.Register("base_setup", feature.NewBaseSetupHandler(exec, host))
	features.Register("nvidia", feature.NewNvidiaHandler(exec, host, prober))
	features.Register("docker", feature.NewDockerHandler(exec, host, prober))
	features.Register("vllm", feature.NewVLLMHandler(exec, host))

	apps := application.NewRegistry()
	apps.Register("vllm_server", application.NewVLLMServerHandler(exec, host, prober))
	apps.Register("portainer_deploy", application.NewPortainerDeployHandler())

	return reconcile.New(host, prober, features, apps)
}

// signalContext returns a context canceled on SIGINT/SIGTERM, satisfying
// spec.md §5's cancellation contract: stop launching new operations, let
// any in-flight command finish or hit its own timeout, then exit non-zero.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Logger.Warn().Msg("signal received, stopping after in-flight operations")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// exitCodeFor maps the typed error taxonomy to the exit-code table of
// spec.md §6.
func exitCodeFor(err error) int {
	var configErr *phoenixerr.ConfigError
	if errors.As(err, &configErr) {
		return 2
	}
	var prereqErr *phoenixerr.PrerequisiteError
	if errors.As(err, &prereqErr) {
		return 3
	}
	var featureErr *phoenixerr.FeatureError
	if errors.As(err, &featureErr) {
		return 4
	}
	var templateErr *phoenixerr.TemplateError
	if errors.As(err, &templateErr) {
		return 5
	}
	var timeoutErr *phoenixerr.TimeoutError
	if errors.As(err, &timeoutErr) {
		return 6
	}
	var snapshotErr *phoenixerr.SnapshotError
	if errors.As(err, &snapshotErr) {
		return 7
	}
	if errors.Is(err, phoenixerr.ErrSpecMissing) {
		return 2
	}
	return 1
}
