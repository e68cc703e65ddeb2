package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/spf13/cobra"
	apihttp "github.com/tailstream/engine/internal/api/http"
	"github.com/tailstream/engine/internal/api/validation"
	"github.com/tailstream/engine/internal/config"
	"github.com/tailstream/engine/internal/logger"
	"github.com/tailstream/engine/internal/metrics"
	"github.com/tailstream/engine/internal/storage"
	"github.com/tailstream/engine/internal/storage/streams"
	"github.com/tailstream/engine/internal/tracing"
	"github.com/tailstream/engine/internal/version"
	"github.com/tailstream/engine/pkg/client"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tailstream",
		Short: "TailStream event stream engine",
		Long:  "TailStream is a per-entity durable event log with live tailing. This CLI runs the server and speaks the wire protocol.",
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newVersionCommand(),
		newCreateCommand(),
		newAppendCommand(),
		newPromptCommand(),
		newTailCommand(),
		newPollCommand(),
		newListCommand(),
		newDeleteCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the stream engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(args)
		},
		// Config flags are parsed by the config package so env and
		// flag handling stay in one place.
		DisableFlagParsing: true,
	}
}

func runServer(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	if err := logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Rotation:   cfg.Logging.Rotation,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log := logger.WithComponent("main")
	log.Info().Str("version", version.Get().Version).Str("data_dir", cfg.Storage.DataDir).Msg("Starting TailStream")

	tracingCfg := tracing.DefaultTracingConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.Endpoint = cfg.Tracing.Endpoint
	tracingCfg.ExporterType = cfg.Tracing.ExporterType
	tracingCfg.Insecure = cfg.Tracing.Insecure
	tracingCfg.SamplingRate = cfg.Tracing.SamplingRate
	tracingCfg.ServiceVersion = version.Get().Version
	tracerProvider, err := tracing.NewProvider(tracingCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	var streamMetrics *metrics.StreamMetrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector()
		streamMetrics = metrics.NewStreamMetrics(collector)
		metricsServer = metrics.NewServer(cfg.Metrics.Addr, collector.Registry())
	}

	store, err := storage.Open(storage.Config{
		DataDir: cfg.Storage.DataDir,
		Streams: streams.Options{
			AppendRetries:    cfg.Storage.AppendRetries,
			SweepInterval:    cfg.Storage.SweepInterval,
			BackfillChunk:    cfg.Streams.BackfillChunk,
			SubscriberBuffer: cfg.Streams.SubscriberBuffer,
		},
	}, streamMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}

	validator, err := validation.NewEventValidator()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build event validator")
	}

	httpServer := apihttp.NewServer(cfg.Server.HTTPAddr, store, validator, streamMetrics, cfg.Streams.HeartbeatInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start storage")
	}
	if metricsServer != nil {
		if err := metricsServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
		}
	}
	if err := httpServer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("TailStream is ready")
	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	if err := store.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Storage shutdown failed")
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown failed")
	}

	return nil
}

// noTimeoutHTTPClient is used for long-lived tail connections where the
// default client timeout would sever the stream.
func noTimeoutHTTPClient() *nethttp.Client {
	return &nethttp.Client{}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}

func apiURL() string {
	if v := os.Getenv("TAILSTREAM_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

func newCreateCommand() *cobra.Command {
	var ttl time.Duration
	var incarnation string
	cmd := &cobra.Command{
		Use:   "create <stream>",
		Short: "Create a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(apiURL())
			opts := []client.CreateOption{}
			if ttl > 0 {
				opts = append(opts, client.WithTTL(ttl))
			}
			if incarnation != "" {
				opts = append(opts, client.WithEventStreamID(incarnation))
			}
			info, err := c.Create(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Stream lifetime (0 = never expires)")
	cmd.Flags().StringVar(&incarnation, "event-stream-id", "", "Stream incarnation identifier")
	return cmd
}

func newAppendCommand() *cobra.Command {
	var expectedSeq string
	cmd := &cobra.Command{
		Use:   "append <stream> <type> [payload-json]",
		Short: "Append an event to a stream",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				payload = json.RawMessage(args[2])
			}
			c := client.NewClient(apiURL())
			opts := []client.AppendOption{}
			if expectedSeq != "" {
				opts = append(opts, client.WithExpectedSeq(expectedSeq))
			}
			var body interface{}
			if payload != nil {
				body = payload
			}
			offset, err := c.Append(cmd.Context(), args[0], args[1], body, opts...)
			if err != nil {
				return err
			}
			fmt.Println("offset:", offset)
			return nil
		},
	}
	cmd.Flags().StringVar(&expectedSeq, "expected-seq", "", "Fail unless the stream watermark matches")
	return cmd
}

func newPromptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <stream> <text>",
		Short: "Append a prompt event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(apiURL())
			offset, err := c.Prompt(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println("offset:", offset)
			return nil
		},
	}
}

func newTailCommand() *cobra.Command {
	var cursor string
	cmd := &cobra.Command{
		Use:     "tail <stream>",
		Aliases: []string{"subscribe"},
		Short:   "Tail a stream live, printing events as they arrive",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := client.NewClient(apiURL(), client.WithHTTPClient(noTimeoutHTTPClient()))
			frames, errs := c.Tail(ctx, args[0], client.WithCursor(cursor))
			for frame := range frames {
				switch frame.Kind {
				case client.FrameData:
					for _, evt := range frame.Events {
						if err := printJSON(evt); err != nil {
							return err
						}
					}
				case client.FrameControl:
					if frame.Control.UpToDate {
						fmt.Fprintf(os.Stderr, "-- up to date (next offset %s)\n", frame.Control.StreamNextOffset)
					}
				case client.FrameDeleted:
					fmt.Fprintln(os.Stderr, "-- stream deleted")
					return nil
				}
			}
			if err := <-errs; err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cursor, "offset", client.CursorStart, "Resume after this offset")
	return cmd
}

func newPollCommand() *cobra.Command {
	var cursor string
	var max int
	cmd := &cobra.Command{
		Use:   "poll <stream>",
		Short: "Read a snapshot of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(apiURL())
			opts := []client.PollOption{client.WithPollCursor(cursor)}
			if max > 0 {
				opts = append(opts, client.WithPollMax(max))
			}
			result, err := c.Poll(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			for _, evt := range result.Events {
				if err := printJSON(evt); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "-- cursor %s, next offset %s, up to date: %v\n",
				result.Cursor, result.NextOffset, result.UpToDate)
			return nil
		},
	}
	cmd.Flags().StringVar(&cursor, "offset", client.CursorStart, "Resume after this offset")
	cmd.Flags().IntVar(&max, "max", 0, "Maximum events to return (0 = all)")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(apiURL())
			infos, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range infos {
				if err := printJSON(info); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <stream>",
		Short: "Delete a stream and all its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(apiURL())
			if err := c.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted:", args[0])
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
