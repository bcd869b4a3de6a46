package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"expertdraw/internal/app"
	"expertdraw/internal/config"
	"expertdraw/internal/domain"
	"expertdraw/internal/repo"
	"expertdraw/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "drawctl",
	Short: "Expert draw console",
	Long: `drawctl runs expert draws for review meetings.
- Draw: an application naming how many primary and backup experts to pick and under which constraints.
- Execute: picks disjoint primaries and backups from the eligible roster; re-executing replaces the previous ledger.
- Replace: promotes a backup into the slot of a primary who declined or could not be reached.
- Contact: records the outcome of calling an expert; with --auto-replace a declined primary is refilled at once.
- Rules: named constraint bundles looked up by category, snapshotted on every execution.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("EXPERTDRAW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier recorded on events")
	flags.String("log-mode", "development", "log encoder: development or production")
	flags.String("log-level", "warn", "log level")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens")
	for _, name := range []string{"workspace", "json", "actor-id", "log-mode", "log-level", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(drawCmd())
	rootCmd.AddCommand(expertCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// exitCode maps domain failures onto distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return 2
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, domain.ErrRuleNotFound):
		return 3
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrInvalidReplacementTarget), errors.Is(err, domain.ErrConflict):
		return 4
	case errors.Is(err, domain.ErrInsufficientCandidates):
		return 5
	case errors.Is(err, domain.ErrTimeout):
		return 6
	}
	return 1
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogMode:   viper.GetString("log-mode"),
		LogLevel:  viper.GetString("log-level"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows with go-pretty unless --json asks for raw output.
func printTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.Render()
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default expertdraw.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	var file string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			load := func() (*config.Config, error) { return config.Load(viper.GetString("workspace")) }
			if file != "" {
				load = func() (*config.Config, error) { return config.FromFile(file) }
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	showCmd.Flags().StringVar(&file, "file", "", "validate and print this file instead of the workspace config")
	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func serveCmd() *cobra.Command {
	var basePath string
	var legacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("EXPERTDRAW_JWT_SECRET is required for bearer auth")
			}
			addr := viper.GetString("addr")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: legacy,
					LegacyRoles:            []string{"viewer"},
					Logger:                 a.Log.With("service", "auth"),
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, a.Engine, a.Log)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving draw API", "addr", addr, "base_path", basePath, "docs", "/docs", "metrics", "/metrics")
				fmt.Printf("Serving expert draw API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without credentials (viewer role)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func tokenCmd() *cobra.Command {
	var roles, perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := server.SignToken(viper.GetString("jwt-secret"), actorID(), roles, perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", []string{"operator"}, "role to embed (repeatable)")
	cmd.Flags().StringSliceVar(&perms, "permission", nil, "explicit permission to embed (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 never expires")
	return cmd
}
