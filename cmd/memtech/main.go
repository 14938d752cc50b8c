package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"memtech/internal/app"
	"memtech/internal/config"
	"memtech/internal/db"
	"memtech/internal/engine"
	"memtech/internal/engine/auth"
	"memtech/internal/onlyoffice"
	"memtech/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "memtech",
	Short: "memtech CLI",
	Long: `memtech drives the writing of technical memos for public tenders.
- Project: one tender response; it owns the required documents (MEMO_TECHNIQUE, SOGED, PAQ, ...).
- Document workflow: DRAFT -> REVIEW_1 -> CORRECTION -> REVIEW_2 -> VALIDATION -> APPROVED.
- Roles: ADMIN assigns and may do anything, WRITER edits, REVIEWER reviews and validates.
- Outline: an RC (règlement de consultation) is turned into a numbered memo outline.
- Library: reusable text blocks that can be inserted into a document.
- Event log: every change is recorded, view it with 'memtech log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MEMTECH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "email of the user the command acts as")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(outlineCmd())
	rootCmd.AddCommand(libraryCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create memtech.yml, the database and a JWT secret in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			envPath := filepath.Join(workspace, ".env")
			existing, err := godotenv.Read(envPath)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if existing[app.JWTSecretEnv] == "" {
				buf := make([]byte, 32)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				if err := setEnvValue(envPath, app.JWTSecretEnv, hex.EncodeToString(buf)); err != nil {
					return err
				}
				fmt.Println("wrote", app.JWTSecretEnv, "to", envPath)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				types, err := rt.Engine.ListDocumentTypes(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("workspace ready: %d document types in catalog\n", len(types))
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
					basePath = cfg.Server.BasePath
				}
				ttl, err := cfg.TokenTTL()
				if err != nil {
					return err
				}
				secret, err := rt.JWTSecret(os.Getenv)
				if err != nil {
					return err
				}
				revoker, err := rt.Revoker(ctx)
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret: secret,
						TokenTTL:  ttl,
						Revoker:   revoker,
						Logger:    rt.Logger,
					},
					OnlyOffice: onlyoffice.Service{Config: cfg.OnlyOffice, Logger: rt.Logger},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving memtech API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect memtech.yml"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Auth.JWTSecret = redact(cfg.Auth.JWTSecret)
			cfg.LLM.APIKey = redact(cfg.LLM.APIKey)
			cfg.Storage.SecretKey = redact(cfg.Storage.SecretKey)
			cfg.OnlyOffice.JWTSecret = redact(cfg.OnlyOffice.JWTSecret)
			return printJSON(cfg)
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate memtech.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]bool{"valid": true})
			}
			fmt.Println("config valid")
			return nil
		},
	})
	return cfgCmd
}

// --- helpers ---

// loadConfig reads memtech.yml and applies MEMTECH_* overrides for secrets and endpoints.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		"jwt-secret":            &cfg.Auth.JWTSecret,
		"redis-url":             &cfg.Redis.URL,
		"llm-api-key":           &cfg.LLM.APIKey,
		"llm-base-url":          &cfg.LLM.BaseURL,
		"storage-access-key":    &cfg.Storage.AccessKey,
		"storage-secret-key":    &cfg.Storage.SecretKey,
		"onlyoffice-jwt-secret": &cfg.OnlyOffice.JWTSecret,
	}
	for key, dst := range overrides {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	return cfg, nil
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, viper.GetString("workspace"), cfg, log.New(os.Stderr, "memtech: ", log.LstdFlags))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

// withActor resolves --as to a user and runs fn on its behalf.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine, auth.Actor) error) error {
	email := strings.TrimSpace(viper.GetString("as"))
	if email == "" {
		return fmt.Errorf("--as (or MEMTECH_AS) is required")
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		u, err := e.Repo.GetUserByEmail(ctx, engine.NormalizeEmail(email))
		if err != nil {
			return err
		}
		if !u.IsActive {
			return fmt.Errorf("user %s is inactive", u.Email)
		}
		return fn(ctx, e, auth.Actor{UserID: u.ID, Role: u.Role})
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
