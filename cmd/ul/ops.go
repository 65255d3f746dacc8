package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"uptimeline/internal/app"
	"uptimeline/internal/config"
	"uptimeline/internal/engine"
	"uptimeline/internal/keeper"
	"uptimeline/internal/metrics"
	"uptimeline/internal/relay"
	"uptimeline/internal/repo"
	"uptimeline/internal/server"
	"uptimeline/internal/telemetry"
	uptimelinesdk "uptimeline/sdk/go"
)

func upkeepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upkeep",
		Short: "Probe for due work and perform it once",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether a domain is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				probe, err := e.CheckUpkeep(ctx)
				if err != nil {
					return err
				}
				return printJSON(probe)
			})
		},
	})
	var domainID string
	perform := &cobra.Command{
		Use:   "perform",
		Short: "Open one due cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.PerformUpkeep(ctx, domainID, caller)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	perform.Flags().StringVar(&domainID, "domain", "", "domain to start (default: the one check reports)")
	cmd.AddCommand(perform)
	return cmd
}

func keeperCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keeper",
		Short: "Run the periodic upkeep trigger",
	}
	var (
		remote     string
		apiKey     string
		interval   time.Duration
		maxPerTick int
		once       bool
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Open due cycles on a timer, locally or against a remote node",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			k := keeper.Keeper{
				Identity:   caller,
				Interval:   interval,
				MaxPerTick: maxPerTick,
				Logger:     slog.Default(),
			}
			start := func(ctx context.Context) error {
				if once {
					started, err := k.Tick(ctx)
					if err != nil {
						return err
					}
					return printJSONOrTable(started)
				}
				return k.Run(ctx)
			}
			if remote != "" {
				client := uptimelinesdk.New(remote)
				if apiKey == "" {
					apiKey = os.Getenv("UPTIMELINE_API_KEY")
				}
				client.APIKey = apiKey
				if apiKey == "" {
					client.ActorID = caller
				}
				k.Target = client
				return start(cmd.Context())
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k.Target = e
				if !cmd.Flags().Changed("interval") {
					k.Interval = time.Duration(e.Config.Upkeep.IntervalSeconds) * time.Second
				}
				if !cmd.Flags().Changed("max-per-tick") {
					k.MaxPerTick = e.Config.Upkeep.MaxActionsPerTick
				}
				return start(ctx)
			})
		},
	}
	run.Flags().StringVar(&remote, "remote", "", "API base URL of a remote node")
	run.Flags().StringVar(&apiKey, "api-key", "", "API key for the remote node (default: $UPTIMELINE_API_KEY)")
	run.Flags().DurationVar(&interval, "interval", 120*time.Second, "tick period")
	run.Flags().IntVar(&maxPerTick, "max-per-tick", 10, "cycles opened per tick at most")
	run.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	cmd.AddCommand(run)
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect network config",
		Long:  "Config holds the network rules (minimum stake and interval, validators per cycle, rewards, upkeep) and event sinks. It is stored in the DB and imported from uptimeline.yml explicitly.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored config with a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				loaded *config.Config
				err    error
			)
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
				loaded, err = config.Load(viper.GetString("workspace"))
			} else {
				loaded, err = config.FromFile(file)
			}
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.ImportConfig(ctx, r, loaded); err != nil {
					return err
				}
				fmt.Printf("imported %s for network %s\n", file, loaded.Network.ID)
				return nil
			})
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "", "config file (default: <workspace>/uptimeline.yml)")
	cfg.AddCommand(importCmd)
	var networkID string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default uptimeline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(networkID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&networkID, "network-id", "local", "network id")
	cfg.AddCommand(initCmd)
	return cfg
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Read the event log",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, repo.EventFilter{Type: evtType, EntityKind: entityKind, EntityID: entityID})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (domain, validator, pool)")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.AddCommand(tail)
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, caller, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	cmd.AddCommand(create)

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys of the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := ""
			if !all {
				caller, err := actorID()
				if err != nil {
					return err
				}
				owner = caller
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, owner)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "list keys of every actor")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], ""); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the default caller identity",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "use <actor-id>",
		Short: "Set the default actor for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("actor id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "UPTIMELINE_ACTOR_ID", id); err != nil {
				return err
			}
			fmt.Printf("Set UPTIMELINE_ACTOR_ID=%s in %s/.env\n", id, workspace)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := actorID()
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		addr, basePath   string
		withKeeper       bool
		keeperID         string
		allowActorHeader bool
		devLogin         bool
		otlpEndpoint     string
		otlpInsecure     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with optional keeper and event relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("UPTIMELINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowActorHeader,
				DevLogin:               devLogin,
				Logger:                 slog.Default(),
			}
			if devLogin && authCfg.JWTSecret == "" {
				return fmt.Errorf("--dev-login requires UPTIMELINE_JWT_SECRET")
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("UPTIMELINE_JWT_SECRET is required for bearer auth")
			}
			if otlpEndpoint == "" {
				otlpEndpoint = os.Getenv("UPTIMELINE_OTLP_ENDPOINT")
			}
			shutdownTracing, err := telemetry.Init(cmd.Context(), otlpEndpoint, "uptimeline", version, otlpInsecure)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(ctx)
			}()
			m := metrics.New()
			return openEngine(cmd.Context(), m, func(ctx context.Context, e engine.Engine) error {
				return serve(ctx, e, m, authCfg, addr, basePath, withKeeper, keeperID)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&withKeeper, "keeper", false, "run the upkeep loop in-process")
	cmd.Flags().StringVar(&keeperID, "keeper-id", "keeper", "identity recorded by the in-process keeper")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "mount /auth/dev/login, which issues tokens for any actor (local use)")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP trace endpoint host:port (default: $UPTIMELINE_OTLP_ENDPOINT)")
	cmd.Flags().BoolVar(&otlpInsecure, "otlp-insecure", false, "send traces without TLS")
	return cmd
}

func serve(ctx context.Context, e engine.Engine, m *metrics.Metrics, authCfg server.AuthConfig, addr, basePath string, withKeeper bool, keeperID string) error {
	logger := slog.Default()
	if active, err := e.ActiveValidators(ctx); err == nil {
		m.SetActiveValidators(len(active))
	}
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: basePath,
		Auth:     authCfg,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	sinks, closeSinks, err := relay.SinksFromConfig(e.Config, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving Uptimeline API", "addr", "http://"+addr+basePath, "docs", "/docs", "metrics", "/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if withKeeper {
		k := keeper.Keeper{
			Target:     e,
			Identity:   keeperID,
			Interval:   time.Duration(e.Config.Upkeep.IntervalSeconds) * time.Second,
			MaxPerTick: e.Config.Upkeep.MaxActionsPerTick,
			Logger:     logger.With("component", "keeper"),
		}
		g.Go(func() error { return k.Run(gctx) })
	}
	if len(sinks) > 0 {
		d := &relay.Dispatcher{
			Source:  e.Repo,
			Sinks:   sinks,
			Network: e.Config.Network.ID,
			Logger:  logger.With("component", "relay"),
			Metrics: m,
		}
		g.Go(func() error { return d.Run(gctx) })
	}
	return g.Wait()
}
