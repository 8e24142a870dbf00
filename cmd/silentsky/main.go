package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/boristopalov/silentsky/internal/client"
	"github.com/boristopalov/silentsky/pkg/agent"
	"github.com/boristopalov/silentsky/pkg/config"
	"github.com/boristopalov/silentsky/pkg/environment"
	"github.com/boristopalov/silentsky/pkg/episode"
	"github.com/boristopalov/silentsky/pkg/experiment"
	"github.com/boristopalov/silentsky/pkg/messaging"
)

// directiveBacklog bounds directives waiting for the next step.
const directiveBacklog = 64

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "silentsky",
		Short:         "Silent Sky runs observatory episodes and bridges them to an external control client.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.LoadConfig(configPath); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			level, err := cfg.Logging.SlogLevel()
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(runCommand(), replayCommand(), watchCommand(), directCommand(), episodesCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCommand() *cobra.Command {
	var (
		bridge, headless bool
		seed             int64
		agentType        string
		strategy         string
		output           string
		format           string
		compress         bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one episode, optionally serving the snapshot and directive endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("bridge") {
				cfg.Bridge.Enabled = bridge
			}
			if headless {
				cfg.Bridge.Enabled = false
			}
			if flags.Changed("seed") {
				cfg.Environment.Seed = &seed
				cfg.Agent.Seed = &seed
			}
			if flags.Changed("agent") {
				cfg.Agent.Type = agentType
			}
			if flags.Changed("strategy") {
				cfg.Agent.Strategy = strategy
			}
			if flags.Changed("format") {
				cfg.Logging.Format = format
			}
			if flags.Changed("compress") {
				cfg.Logging.Compress = compress
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runEpisode(cmd.Context(), output)
		},
	}
	cmd.Flags().BoolVar(&bridge, "bridge", false, "serve the snapshot and directive endpoints")
	cmd.Flags().BoolVar(&headless, "headless", false, "never start the bridge")
	cmd.Flags().Int64Var(&seed, "seed", 0, "environment and agent seed")
	cmd.Flags().StringVar(&agentType, "agent", "", "agent type (heuristic, llm)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "heuristic strategy (greedy, round_robin, hybrid, random)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "episode file name without extension")
	cmd.Flags().StringVar(&format, "format", "", "episode format (json, cbor)")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress the episode file")
	return cmd
}

func runEpisode(parent context.Context, output string) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	logger := slog.Default()
	envCfg := cfg.Environment

	envOpts := []environment.Option{
		environment.WithSectors(envCfg.Sectors),
		environment.WithEpisodeLength(envCfg.EpisodeLength),
		environment.WithInitialBudget(envCfg.InitialBudget),
		environment.WithLogger(logger),
	}
	if envCfg.RewardWeights != nil {
		envOpts = append(envOpts, environment.WithRewardWeights(envCfg.RewardWeights))
	}
	if envCfg.Seed != nil {
		envOpts = append(envOpts, environment.WithSeed(*envCfg.Seed))
	}
	env, err := environment.New(envOpts...)
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}

	a, err := agent.New(ctx, cfg.Agent, agent.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	runnerOpts := []experiment.Option{experiment.WithLogger(logger)}
	if envCfg.Seed != nil {
		runnerOpts = append(runnerOpts, experiment.WithSeed(*envCfg.Seed))
	}

	if cfg.Bridge.Enabled {
		b := messaging.New(cfg.Bridge.MessagingConfig(),
			messaging.WithLogger(logger),
			messaging.WithSettleDelay(cfg.Bridge.SettleDelay),
			messaging.WithPollTimeout(cfg.Bridge.PollTimeout),
			messaging.WithJoinTimeout(cfg.Bridge.JoinTimeout),
		)
		queue := messaging.NewDirectiveQueue(directiveBacklog)
		b.RegisterHandler(queue.Enqueue)
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("failed to start bridge: %w", err)
		}
		defer func() {
			if err := b.Stop(); err != nil {
				logger.Warn("bridge stop", "error", err)
			}
		}()
		runnerOpts = append(runnerOpts, experiment.WithPublisher(b), experiment.WithDirectives(queue))
	}

	runner := experiment.NewRunner(env, a, runnerOpts...)
	ep, runErr := runner.Run(ctx)
	if ep == nil {
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("episode ended early", "error", runErr)
	}

	format, err := episode.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return err
	}
	store := episode.Store{Dir: cfg.Logging.EpisodeDir, Compress: cfg.Logging.Compress}
	rec, err := store.Save(ep, format, output)
	if err != nil {
		return err
	}
	logger.Info("episode saved", "path", rec.Path, "digest", rec.Digest)

	if cfg.Logging.Catalog != "" {
		catalog, err := episode.OpenCatalog(cfg.Logging.Catalog)
		if err != nil {
			return err
		}
		defer catalog.Close()
		if _, err := catalog.Record(context.WithoutCancel(ctx), rec); err != nil {
			return fmt.Errorf("catalog episode: %w", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func replayCommand() *cobra.Command {
	var (
		showSteps  bool
		formatName string
	)
	cmd := &cobra.Command{
		Use:   "replay <episode-file>",
		Short: "Print the summary of a saved episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			format, err := formatFromPath(path)
			if formatName != "" {
				format, err = episode.ParseFormat(formatName)
			}
			if err != nil {
				return err
			}
			ep, err := episode.Store{}.Load(path, format)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "episode %s\n", ep.ID)
			if ep.Seed != nil {
				fmt.Fprintf(out, "seed:         %d\n", *ep.Seed)
			}
			fmt.Fprintf(out, "steps:        %d\n", ep.Steps())
			fmt.Fprintf(out, "total reward: %.2f\n", ep.TotalReward())
			if fs := ep.FinalState; fs != nil {
				fmt.Fprintf(out, "budget:       %.2f\n", fs.Budget)
				fmt.Fprintf(out, "profit:       %.2f (earned %.2f, spent %.2f)\n", fs.Profit, fs.Earnings, fs.Costs)
				fmt.Fprintf(out, "discoveries:  %d/%d\n", fs.EventsDiscovered, fs.EventsTotal)
			}
			if showSteps {
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STEP\tSECTOR\tEXPOSURE\tREWARD")
				for i, t := range ep.Timesteps {
					action := ep.Actions[i]
					fmt.Fprintf(w, "%d\t%d\t%s\t%.2f\n", t, action.Sector, agent.ExposureName(action.ExposureMode), ep.Rewards[i])
				}
				w.Flush()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSteps, "steps", false, "print every step")
	cmd.Flags().StringVar(&formatName, "format", "", "episode format (default from the file extension)")
	return cmd
}

// formatFromPath reads the episode format from a file name such as
// run.cbor or run.json.zst.
func formatFromPath(path string) (episode.Format, error) {
	ext := filepath.Ext(strings.TrimSuffix(path, episode.CompressedSuffix))
	return episode.ParseFormat(strings.TrimPrefix(ext, "."))
}

func watchCommand() *cobra.Command {
	var (
		addr  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the snapshot broadcast of a running episode",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Bridge.MessagingConfig().PublishAddr
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			out := cmd.OutOrStdout()
			seen := 0
			err := client.Subscribe(ctx, addr, func(snap messaging.Snapshot, err error) error {
				if err != nil {
					slog.Warn("bad snapshot", "error", err)
					return nil
				}
				fmt.Fprintf(out, "t=%d budget=%.2f discovered=%d upgrades=%s\n",
					snap.Timestep,
					snap.State.Budget,
					len(snap.State.DiscoveredEvents),
					strings.Join(snap.State.Upgrades, ","),
				)
				seen++
				if count > 0 && seen >= count {
					cancel()
				}
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "snapshot endpoint (default from config)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after n snapshots")
	return cmd
}

func directCommand() *cobra.Command {
	var (
		addr    string
		weights map[string]string
		upgrade string
		raw     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "direct",
		Short: "Send a directive to a running episode",
		Example: `  silentsky direct --weights discovery_value=2,operational_cost=0.5
  silentsky direct --upgrade sensor_quality
  silentsky direct --raw '{"upgrade": "field_of_view"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Bridge.MessagingConfig().RequestAddr
			}

			var payload []byte
			switch {
			case raw != "":
				payload = []byte(raw)
			case len(weights) > 0 || upgrade != "":
				d, err := buildDirective(weights, upgrade)
				if err != nil {
					return err
				}
				if payload, err = messaging.EncodeDirective(d); err != nil {
					return err
				}
			default:
				return errors.New("nothing to send: use --weights, --upgrade or --raw")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			c, err := client.Dial(ctx, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			c.SetTimeout(timeout)

			ack, err := c.SendRaw(ctx, payload)
			if err != nil {
				return err
			}
			if ack.Status != messaging.StatusOK {
				return fmt.Errorf("directive rejected: %s", ack.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "directive endpoint (default from config)")
	cmd.Flags().StringToStringVar(&weights, "weights", nil, "reward weights as name=value pairs")
	cmd.Flags().StringVar(&upgrade, "upgrade", "", "upgrade to purchase")
	cmd.Flags().StringVar(&raw, "raw", "", "send this JSON payload verbatim")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the acknowledgment")
	cmd.MarkFlagsMutuallyExclusive("raw", "weights")
	cmd.MarkFlagsMutuallyExclusive("raw", "upgrade")
	return cmd
}

// buildDirective assembles the directive for the --weights and --upgrade
// flags.
func buildDirective(weights map[string]string, upgrade string) (messaging.Directive, error) {
	d := messaging.Directive{Upgrade: upgrade}
	if len(weights) > 0 {
		d.RewardWeights = make(map[string]float64, len(weights))
		for name, v := range weights {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return messaging.Directive{}, fmt.Errorf("weight %s: %w", name, err)
			}
			d.RewardWeights[name] = f
		}
	}
	return d, nil
}

func episodesCommand() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "List episodes recorded in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if catalogPath == "" {
				catalogPath = cfg.Logging.Catalog
			}
			if catalogPath == "" {
				return errors.New("no catalog configured: set logging.catalog or pass --catalog")
			}
			catalog, err := episode.OpenCatalog(catalogPath)
			if err != nil {
				return err
			}
			defer catalog.Close()

			records, err := catalog.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tSTEPS\tREWARD\tPROFIT\tPATH")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\t%s\n",
					rec.ID,
					rec.CreatedAt.Local().Format(time.DateTime),
					rec.Steps,
					rec.TotalReward,
					rec.Profit,
					rec.Path,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog database (default from config)")
	return cmd
}
