// Command fairing-extract incrementally extracts the Fairing responses
// collection as Singer-style JSON lines on stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/fairing-extract/pkg/checkpoint"
	"github.com/Sternrassler/fairing-extract/pkg/client"
	"github.com/Sternrassler/fairing-extract/pkg/config"
	"github.com/Sternrassler/fairing-extract/pkg/emit"
	"github.com/Sternrassler/fairing-extract/pkg/extract"
	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/Sternrassler/fairing-extract/pkg/logging"
	"github.com/Sternrassler/fairing-extract/pkg/metrics"
	"github.com/Sternrassler/fairing-extract/pkg/pagination"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "fairing-extract",
		Short: "Incremental extractor for the Fairing responses API",
		Long: `fairing-extract reads every survey response at or after a start date,
oldest first, and writes them as Singer RECORD messages. The id of the
last emitted record is checkpointed so the next run resumes after it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newRunCmd(&flags))
	root.AddCommand(newStateCmd(&flags))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fairing-extract v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// setup loads the configuration and configures logging.
func setup(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if flags.logLevel != "" {
		level, err := logging.ParseLevel(flags.logLevel)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Log.Level = string(level)
	}
	lc := cfg.LoggingConfig()
	lc.Output = cmd.ErrOrStderr()
	logging.Setup(lc)
	return cfg, nil
}

// openStore creates the checkpoint store selected by the configuration.
func openStore(ctx context.Context, cfg config.StateConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return checkpoint.NewFileStore(cfg.Dir)
	case config.BackendRedis:
		return checkpoint.OpenRedisStore(ctx, cfg.RedisURL)
	case config.BackendPostgres:
		return checkpoint.NewPostgresStore(ctx, checkpoint.PostgresConfig{DSN: cfg.PostgresDSN})
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

type runFlags struct {
	stateFile   string
	metricsAddr string
	timeout     time.Duration
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract new responses",
		Long: `Extract every response newer than the stored checkpoint, or at or after
start_date when there is none, and write them to stdout.

Example:
  FAIRING_SECRET_TOKEN=... fairing-extract run --config fairing.yaml > responses.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if rf.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, rf.timeout)
				defer cancel()
			}
			return runExtract(ctx, cfg, rf, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&rf.stateFile, "state", "", "Singer state file whose bookmark replaces the stored checkpoint")
	cmd.Flags().StringVar(&rf.metricsAddr, "metrics-addr", "", "Serve /metrics and /health on this address during the run (e.g. :9090)")
	cmd.Flags().DurationVar(&rf.timeout, "timeout", 0, "Abort the run after this duration; the checkpoint keeps the progress made")
	return cmd
}

func runExtract(ctx context.Context, cfg config.Config, rf runFlags, out io.Writer) error {
	if rf.metricsAddr != "" {
		srv := startMetricsServer(rf.metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store, err := openStore(ctx, cfg.State)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	stream := fairing.Responses
	initial, err := store.Load(ctx, stream.Name)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if rf.stateFile != "" {
		id, err := readStateFile(rf.stateFile, stream.Name)
		if err != nil {
			return err
		}
		if initial, err = overrideCheckpoint(ctx, store, initial, id); err != nil {
			return err
		}
	}

	cc := cfg.ClientConfig()
	if cfg.API.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.API.RedisURL)
		if err != nil {
			return fmt.Errorf("parse api redis url: %w", err)
		}
		cc.Redis = redis.NewClient(opts)
		defer cc.Redis.Close()
	}
	c, err := client.New(cc)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	writer := emit.NewWriter(out, stream, emit.Config{StateEvery: cfg.State.StateEvery})
	if err := writer.WriteSchema(); err != nil {
		return err
	}

	pc := pagination.DefaultConfig()
	pc.PageSize = cfg.PageSize
	persister := checkpoint.NewPersister(store, cfg.State.SaveEvery)
	extractor := extract.New(c.Endpoint(stream.Path), writer, extract.Config{
		Stream:     stream,
		StartDate:  cfg.StartBound(),
		Pagination: pc,
	}, writer, persister)

	result, err := extractor.Run(ctx, initial)
	if err != nil {
		saved := initial.LastID
		if s, ok := persister.Saved(); ok {
			saved = s.LastID
		}
		return fmt.Errorf("extraction %s after %d records (checkpoint %d, persisted %d): %w",
			result.Phase, result.Emitted, result.State.LastID, saved, err)
	}
	return nil
}

// overrideCheckpoint replaces the stored cursor with a bookmark from a state
// file. Stores refuse to move a cursor backwards, so the old one is deleted
// first.
func overrideCheckpoint(ctx context.Context, store checkpoint.Store, stored checkpoint.State, id fairing.RecordID) (checkpoint.State, error) {
	if id == stored.LastID {
		return stored, nil
	}
	logger := logging.NewLogger("cli")
	logger.Info().
		Str("stream", stored.Stream).
		Int64("stored", int64(stored.LastID)).
		Int64("state_file", int64(id)).
		Msg("Replacing stored checkpoint with bookmark from state file")

	if err := store.Delete(ctx, stored.Stream); err != nil {
		return stored, fmt.Errorf("reset checkpoint: %w", err)
	}
	next := checkpoint.State{Stream: stored.Stream, LastID: id, UpdatedAt: time.Now().UTC()}
	if !next.HasCursor() {
		return next, nil
	}
	if err := store.Save(ctx, next); err != nil {
		return stored, fmt.Errorf("save bookmark: %w", err)
	}
	return next, nil
}

func readStateFile(path, stream string) (fairing.RecordID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read state file: %w", err)
	}
	// Singer runners pass either the full STATE message or just its value.
	var msg struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &msg); err == nil && msg.Type == emit.TypeState {
		data = msg.Value
	}
	return emit.ParseState(data, stream)
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func newStateCmd(flags *globalFlags) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the stored checkpoint",
	}

	stateCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored checkpoint as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg.State)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			state, err := store.Load(cmd.Context(), fairing.Responses.Name)
			if err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			}
			data, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	var force bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored checkpoint so the next run starts from start_date",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to reset the checkpoint without --force")
			}
			cfg, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg.State)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), fairing.Responses.Name); err != nil {
				return fmt.Errorf("reset checkpoint: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint for %s reset\n", fairing.Responses.Name)
			return nil
		},
	}
	resetCmd.Flags().BoolVar(&force, "force", false, "Confirm the reset")
	stateCmd.AddCommand(resetCmd)

	return stateCmd
}
