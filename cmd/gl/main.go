package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/notify"
	"gigline/internal/repo"
	"gigline/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gl",
		Short: "Gigline CLI",
		Long: `Gigline runs a gig-work marketplace core: employers post missions, workers reserve and
claim them, both sides sign a nonce-protected contract and the employer pays through an
idempotent payment flow driven by provider webhooks.

Every command operates on the workspace given by --workspace (gigline.yml plus the
SQLite store) and acts as --actor-id with --role.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := db.EnsureWorkspace(viper.GetString("workspace"))
			return err
		},
	}
	addPersistentFlags(root)
	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(missionCmd())
	root.AddCommand(contractCmd())
	root.AddCommand(paymentCmd())
	root.AddCommand(webhookCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(logCmd())
	root.AddCommand(apiKeyCmd())
	root.AddCommand(consentCmd())
	root.AddCommand(tokenCmd())
	return root
}

func initConfig() {
	viper.SetEnvPrefix("GIGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-operator", "actor identifier")
	flags.String("role", string(domain.RoleAdmin), "actor role (WORKER, EMPLOYER, ADMIN)")
	flags.String("db-driver", "", "database driver override (sqlite or postgres)")
	flags.String("db-dsn", "", "database DSN override")
	flags.String("log-level", "", "log level override")
	for _, name := range []string{"workspace", "json", "actor-id", "role", "db-driver", "db-dsn", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default gigline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nsqlite store: %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, reservation sweeper and outbound notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				rt.Log.SetFormatter(&logrus.JSONFormatter{})
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				if strings.TrimSpace(cfg.Server.JWTSecret) == "" {
					cfg.Server.JWTSecret = os.Getenv("GIGLINE_JWT_SECRET")
				}
				if strings.TrimSpace(cfg.Server.WebhookSecret) == "" {
					cfg.Server.WebhookSecret = os.Getenv("GIGLINE_WEBHOOK_SECRET")
				}
				if cfg.Server.JWTSecret == "" {
					rt.Log.Warn("no jwt secret configured; only API keys will authenticate")
				}
				limiter, closer, err := app.NewLimiter(ctx, cfg)
				if err != nil {
					return err
				}
				defer closer.Close()

				handler, err := server.New(server.Config{
					Engine:        rt.Engine,
					BasePath:      basePath,
					Auth:          server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, DevLogin: cfg.Server.DevLogin},
					WebhookSecret: cfg.Server.WebhookSecret,
					Limiter:       limiter,
					Log:           rt.Log,
				})
				if err != nil {
					return err
				}

				bgCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go app.RunSweeper(bgCtx, rt.Engine, cfg.Missions.SweepInterval, rt.Log.WithField("component", "sweeper"))
				if len(cfg.Notifications.Webhooks) > 0 {
					dispatcher := notify.New(rt.Engine.Repo, cfg.Notifications.Webhooks, rt.Log.WithField("component", "notify"))
					go dispatcher.Run(bgCtx, 2*time.Second)
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				rt.Log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).Info("serving gigline api (OpenAPI at /openapi.json, docs at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release reservations older than the reservation window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.Engine.ExpireReservations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]int{"released": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d reservation(s)\n", n)
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mission counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				counts, err := rt.Engine.Repo.CountMissionsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), counts)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"Status", "Missions"})
				for _, st := range domain.MissionStatuses {
					tw.AppendRow(table.Row{st, counts[string(st)]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), events)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apiKeyCreateCmd(), apiKeyListCmd(), apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := domain.ParseRole(strings.ToUpper(role))
			if !ok {
				return fmt.Errorf("--role must be WORKER, EMPLOYER or ADMIN")
			}
			if strings.TrimSpace(actorID) == "" {
				return fmt.Errorf("--actor required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				raw, err := newRawKey()
				if err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Role:      r,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
				}
				if err := rt.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				out := map[string]string{"id": key.ID, "actor_id": key.ActorID, "role": string(key.Role), "key": raw}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), out)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id: %s\nkey: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&role, "key-role", string(domain.RoleWorker), "role bound to the key")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				keys, err := rt.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), keys)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func consentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "consent", Short: "Accept or inspect legal terms for the acting actor"}
	cmd.AddCommand(&cobra.Command{
		Use:   "accept [version]",
		Short: "Accept the terms (defaults to the configured version)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
				version := ""
				if len(args) == 1 {
					version = args[0]
				}
				consent, err := rt.Engine.AcceptTerms(ctx, actor, version)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), consent)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether the acting actor accepted the current terms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
				accepted, err := rt.Engine.ConsentStatus(ctx, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"actor_id": actor.ID,
					"version":  rt.Config.Consent.Version,
					"accepted": accepted,
				})
			})
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the acting actor with the configured jwt secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor auth.Actor) error {
				secret := rt.Config.Server.JWTSecret
				if secret == "" {
					secret = os.Getenv("GIGLINE_JWT_SECRET")
				}
				tok, err := server.SignToken(secret, actor.ID, actor.Role, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"), app.Options{
		Driver:   viper.GetString("db-driver"),
		DSN:      viper.GetString("db-dsn"),
		LogLevel: viper.GetString("log-level"),
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withActor(ctx context.Context, fn func(context.Context, *app.Runtime, auth.Actor) error) error {
	actor, err := currentActor()
	if err != nil {
		return err
	}
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt, actor)
	})
}

func currentActor() (auth.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return auth.Actor{}, fmt.Errorf("--actor-id required")
	}
	role, ok := domain.ParseRole(strings.ToUpper(viper.GetString("role")))
	if !ok {
		return auth.Actor{}, fmt.Errorf("--role must be WORKER, EMPLOYER or ADMIN")
	}
	return auth.Actor{ID: id, Role: role}, nil
}

func newRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "gl_" + hex.EncodeToString(buf), nil
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(header)
	return tw
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
